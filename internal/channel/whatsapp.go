package channel

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/girlcodekenya/slc-whatsapp-chatbot/internal/domain"
	"github.com/girlcodekenya/slc-whatsapp-chatbot/internal/media"
)

const (
	whatsappScheme     = "whatsapp"
	whatsappAPIBase    = "https://graph.facebook.com/v21.0"
	whatsappMaxButtons = 3 // Cloud API limit on reply buttons; larger menus go out as lists
)

// WhatsApp is the webhook-driven WhatsApp Business Cloud API adapter.
type WhatsApp struct {
	cfg    WhatsAppConfig
	bus    domain.MessageBus
	logger *slog.Logger
	client *http.Client
	mux    *http.ServeMux
}

type WhatsAppConfig struct {
	VerifyToken   string
	AppSecret     string
	AccessToken   string
	PhoneNumberID string
	WebhookPath   string
	APIBase       string // override for tests
	Registry      *media.Registry
	Logger        *slog.Logger
}

func NewWhatsApp(cfg WhatsAppConfig) *WhatsApp {
	if cfg.APIBase == "" {
		cfg.APIBase = whatsappAPIBase
	}
	if cfg.WebhookPath == "" {
		cfg.WebhookPath = "/webhook/whatsapp"
	}
	w := &WhatsApp{
		cfg:    cfg,
		logger: cfg.Logger,
		client: &http.Client{Timeout: 30 * time.Second},
	}
	if cfg.Registry != nil {
		cfg.Registry.Register(whatsappScheme, w)
	}
	return w
}

var _ domain.Adapter = (*WhatsApp)(nil)

func (w *WhatsApp) Name() domain.Channel { return domain.ChannelWhatsApp }

// Start registers the outbound handler and mounts the webhook routes. The
// actual HTTP server is owned by the caller (see Handler).
func (w *WhatsApp) Start(ctx context.Context, bus domain.MessageBus) error {
	w.bus = bus

	bus.OnReply(domain.ChannelWhatsApp, func(reply domain.OutboundReply) {
		if err := w.Send(ctx, reply); err != nil {
			w.logger.Error("whatsapp send failed", "err", err, "user", reply.UserID, "kind", reply.Kind)
		}
	})

	w.mux = http.NewServeMux()
	w.mux.HandleFunc("GET "+w.cfg.WebhookPath, w.handleVerification)
	w.mux.HandleFunc("POST "+w.cfg.WebhookPath, w.handleIncoming)

	w.logger.Info("whatsapp channel ready", "webhook", w.cfg.WebhookPath)
	return nil
}

func (w *WhatsApp) Stop() error { return nil }

// Handler returns the webhook handler for mounting on the main HTTP mux.
func (w *WhatsApp) Handler() http.Handler {
	if w.mux == nil {
		return http.NotFoundHandler()
	}
	return w.mux
}

// --- webhook handlers ---

// handleVerification answers the Cloud API subscription challenge.
func (w *WhatsApp) handleVerification(rw http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("hub.mode")
	token := r.URL.Query().Get("hub.verify_token")
	challenge := r.URL.Query().Get("hub.challenge")

	if mode == "subscribe" && token == w.cfg.VerifyToken {
		w.logger.Info("whatsapp webhook verified")
		rw.WriteHeader(http.StatusOK)
		// The Cloud API expects the challenge echoed back verbatim.
		fmt.Fprint(rw, challenge)
		return
	}

	w.logger.Warn("whatsapp webhook verification failed", "mode", mode)
	http.Error(rw, "Forbidden", http.StatusForbidden)
}

// handleIncoming verifies the signature, normalizes every message in the
// batch, and publishes the resulting events. Status updates (sent/delivered/
// read receipts) carry no messages and are acknowledged without an event.
func (w *WhatsApp) handleIncoming(rw http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(rw, "Bad request", http.StatusBadRequest)
		return
	}

	if w.cfg.AppSecret != "" {
		sig := r.Header.Get("X-Hub-Signature-256")
		if !w.verifySignature(body, sig) {
			w.logger.Warn("whatsapp invalid signature")
			http.Error(rw, "Forbidden", http.StatusForbidden)
			return
		}
	}

	var payload waPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		w.logger.Warn("whatsapp bad payload", "err", err)
		http.Error(rw, "Bad request", http.StatusBadRequest)
		return
	}

	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			for _, msg := range change.Value.Messages {
				ev, ok := w.normalize(msg)
				if !ok {
					continue
				}
				w.logger.Info("whatsapp event received", "user", ev.UserID, "kind", ev.Kind)
				w.bus.Publish(ev)
			}
		}
	}

	rw.WriteHeader(http.StatusOK)
}

// normalize maps one Cloud API message to the canonical event model:
// leading-slash text -> command (WhatsApp has no command entities), other
// text -> text, audio/voice -> voice with a whatsapp: media-ID ref, button
// and list replies -> interactive. Unsupported types are dropped.
func (w *WhatsApp) normalize(msg waMessage) (domain.InboundEvent, bool) {
	switch msg.Type {
	case "text":
		if msg.Text == nil {
			return domain.InboundEvent{}, false
		}
		body := strings.TrimSpace(msg.Text.Body)
		if body == "" {
			return domain.InboundEvent{}, false
		}
		if strings.HasPrefix(body, "/") {
			name, arg := splitCommand(body)
			return domain.NewCommandEvent(domain.ChannelWhatsApp, msg.From, msg.ID, name, arg), true
		}
		return domain.NewTextEvent(domain.ChannelWhatsApp, msg.From, msg.ID, body), true

	case "audio", "voice":
		if msg.Audio == nil || msg.Audio.ID == "" {
			return domain.InboundEvent{}, false
		}
		return domain.NewVoiceEvent(domain.ChannelWhatsApp, msg.From, msg.ID,
			media.Ref(whatsappScheme, msg.Audio.ID)), true

	case "interactive":
		if msg.Interactive == nil {
			return domain.InboundEvent{}, false
		}
		var id, title string
		switch {
		case msg.Interactive.ButtonReply != nil:
			id, title = msg.Interactive.ButtonReply.ID, msg.Interactive.ButtonReply.Title
		case msg.Interactive.ListReply != nil:
			id, title = msg.Interactive.ListReply.ID, msg.Interactive.ListReply.Title
		default:
			return domain.InboundEvent{}, false
		}
		if id == "" {
			return domain.InboundEvent{}, false
		}
		return domain.NewInteractiveEvent(domain.ChannelWhatsApp, msg.From, msg.ID, id, title), true

	default:
		w.logger.Debug("whatsapp message type ignored", "type", msg.Type)
		return domain.InboundEvent{}, false
	}
}

// splitCommand parses "/name rest of args" into name and argument.
func splitCommand(body string) (name, arg string) {
	body = strings.TrimPrefix(body, "/")
	if i := strings.IndexByte(body, ' '); i >= 0 {
		return strings.ToLower(body[:i]), strings.TrimSpace(body[i+1:])
	}
	return strings.ToLower(body), ""
}

// verifySignature checks the X-Hub-Signature-256 header.
func (w *WhatsApp) verifySignature(body []byte, signature string) bool {
	if len(signature) < 7 || signature[:7] != "sha256=" {
		return false
	}
	expected := signature[7:]

	mac := hmac.New(sha256.New, []byte(w.cfg.AppSecret))
	mac.Write(body)
	computed := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(computed))
}

// --- outbound ---

// Send serializes one canonical reply into Cloud API calls. WhatsApp cannot
// delete sent messages, so placeholder and supersede markers pass through as
// ordinary messages.
func (w *WhatsApp) Send(ctx context.Context, reply domain.OutboundReply) error {
	switch reply.Kind {
	case domain.PayloadText:
		return w.sendText(ctx, reply)
	case domain.PayloadImage:
		return w.sendImage(ctx, reply)
	case domain.PayloadAudio:
		return w.sendAudio(ctx, reply)
	case domain.PayloadMenu:
		return w.sendMenu(ctx, reply)
	default:
		return fmt.Errorf("unsupported payload kind %q", reply.Kind)
	}
}

func (w *WhatsApp) sendText(ctx context.Context, reply domain.OutboundReply) error {
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                reply.UserID,
		"type":              "text",
		"text":              map[string]string{"body": reply.Body},
	}
	if reply.ReplyToMessageID != "" {
		payload["context"] = map[string]string{"message_id": reply.ReplyToMessageID}
	}
	return w.postMessage(ctx, payload)
}

// sendImage delivers an image reply. url: refs go out by link (the Cloud API
// fetches them); anything else is resolved and uploaded first.
func (w *WhatsApp) sendImage(ctx context.Context, reply domain.OutboundReply) error {
	scheme, rest, err := media.Split(reply.ImageRef)
	if err != nil {
		return err
	}

	image := map[string]string{}
	if reply.Caption != "" {
		image["caption"] = reply.Caption
	}

	if scheme == "url" {
		image["link"] = rest
	} else {
		mediaID, err := w.upload(ctx, reply.ImageRef, "image/png")
		if err != nil {
			return fmt.Errorf("upload image: %w", err)
		}
		image["id"] = mediaID
	}

	return w.postMessage(ctx, map[string]any{
		"messaging_product": "whatsapp",
		"to":                reply.UserID,
		"type":              "image",
		"image":             image,
	})
}

// sendAudio uploads the synthesized audio blob and sends it by media ID.
func (w *WhatsApp) sendAudio(ctx context.Context, reply domain.OutboundReply) error {
	mediaID, err := w.upload(ctx, reply.AudioRef, "audio/mpeg")
	if err != nil {
		return fmt.Errorf("upload audio: %w", err)
	}
	err = w.postMessage(ctx, map[string]any{
		"messaging_product": "whatsapp",
		"to":                reply.UserID,
		"type":              "audio",
		"audio":             map[string]string{"id": mediaID},
	})
	if err != nil {
		return err
	}
	w.cfg.Registry.Release(reply.AudioRef)
	return nil
}

// sendMenu delivers a menu as an interactive message: reply buttons when the
// option count fits the platform cap, a list message otherwise.
func (w *WhatsApp) sendMenu(ctx context.Context, reply domain.OutboundReply) error {
	var interactive map[string]any
	if len(reply.Options) <= whatsappMaxButtons {
		buttons := make([]map[string]any, 0, len(reply.Options))
		for _, opt := range reply.Options {
			buttons = append(buttons, map[string]any{
				"type":  "reply",
				"reply": map[string]string{"id": opt.ID, "title": opt.Label},
			})
		}
		interactive = map[string]any{
			"type":   "button",
			"body":   map[string]string{"text": reply.Body},
			"action": map[string]any{"buttons": buttons},
		}
	} else {
		rows := make([]map[string]string, 0, len(reply.Options))
		for _, opt := range reply.Options {
			rows = append(rows, map[string]string{"id": opt.ID, "title": opt.Label})
		}
		interactive = map[string]any{
			"type": "list",
			"body": map[string]string{"text": reply.Body},
			"action": map[string]any{
				"button":   "Choose an option",
				"sections": []map[string]any{{"rows": rows}},
			},
		}
	}

	return w.postMessage(ctx, map[string]any{
		"messaging_product": "whatsapp",
		"to":                reply.UserID,
		"type":              "interactive",
		"interactive":       interactive,
	})
}

// postMessage POSTs one message payload to the Cloud API.
func (w *WhatsApp) postMessage(ctx context.Context, payload map[string]any) error {
	url := fmt.Sprintf("%s/%s/messages", w.cfg.APIBase, w.cfg.PhoneNumberID)

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+w.cfg.AccessToken)

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("whatsapp API %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// upload resolves a media ref and pushes the blob to the Cloud API media
// endpoint, returning the platform media ID.
func (w *WhatsApp) upload(ctx context.Context, ref, contentType string) (string, error) {
	blob, name, err := w.cfg.Registry.Resolve(ctx, ref)
	if err != nil {
		return "", fmt.Errorf("resolve media ref: %w", err)
	}
	defer blob.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("messaging_product", "whatsapp"); err != nil {
		return "", err
	}
	if err := mw.WriteField("type", contentType); err != nil {
		return "", err
	}
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, blob); err != nil {
		return "", fmt.Errorf("read media blob: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/%s/media", w.cfg.APIBase, w.cfg.PhoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return "", fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+w.cfg.AccessToken)

	resp, err := w.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("whatsapp media API %d: %s", resp.StatusCode, string(respBody))
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode upload response: %w", err)
	}
	if out.ID == "" {
		return "", fmt.Errorf("whatsapp media API returned no ID")
	}
	return out.ID, nil
}

// --- media resolution ---

// Resolve dereferences a whatsapp: ref (a Cloud API media ID): look up the
// download URL, then fetch it with the access token.
func (w *WhatsApp) Resolve(ctx context.Context, ref string) (io.ReadCloser, string, error) {
	scheme, mediaID, err := media.Split(ref)
	if err != nil {
		return nil, "", err
	}
	if scheme != whatsappScheme {
		return nil, "", fmt.Errorf("whatsapp cannot resolve scheme %q", scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/%s", w.cfg.APIBase, mediaID), nil)
	if err != nil {
		return nil, "", fmt.Errorf("build media lookup: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+w.cfg.AccessToken)

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("media lookup: %w", err)
	}
	var meta struct {
		URL      string `json:"url"`
		MimeType string `json:"mime_type"`
	}
	decodeErr := json.NewDecoder(resp.Body).Decode(&meta)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("whatsapp media lookup: status %d", resp.StatusCode)
	}
	if decodeErr != nil || meta.URL == "" {
		return nil, "", fmt.Errorf("whatsapp media lookup: bad response")
	}

	dl, err := http.NewRequestWithContext(ctx, http.MethodGet, meta.URL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build media download: %w", err)
	}
	dl.Header.Set("Authorization", "Bearer "+w.cfg.AccessToken)

	dresp, err := w.client.Do(dl)
	if err != nil {
		return nil, "", fmt.Errorf("media download: %w", err)
	}
	if dresp.StatusCode != http.StatusOK {
		dresp.Body.Close()
		return nil, "", fmt.Errorf("media download: status %d", dresp.StatusCode)
	}

	name := "voice.ogg"
	if strings.Contains(meta.MimeType, "mpeg") {
		name = "voice.mp3"
	}
	return dresp.Body, name, nil
}

// --- Cloud API webhook payload types ---

type waPayload struct {
	Object string    `json:"object"`
	Entry  []waEntry `json:"entry"`
}

type waEntry struct {
	ID      string     `json:"id"`
	Changes []waChange `json:"changes"`
}

type waChange struct {
	Value waValue `json:"value"`
	Field string  `json:"field"`
}

type waValue struct {
	MessagingProduct string      `json:"messaging_product"`
	Messages         []waMessage `json:"messages"`
	Statuses         []waStatus  `json:"statuses"`
}

type waMessage struct {
	From        string         `json:"from"`
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	Text        *waText        `json:"text,omitempty"`
	Audio       *waMedia       `json:"audio,omitempty"`
	Interactive *waInteractive `json:"interactive,omitempty"`
}

type waText struct {
	Body string `json:"body"`
}

type waMedia struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
}

type waInteractive struct {
	Type        string       `json:"type"`
	ButtonReply *waSelection `json:"button_reply,omitempty"`
	ListReply   *waSelection `json:"list_reply,omitempty"`
}

type waSelection struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type waStatus struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}
