// Package channel holds the platform adapters. Each adapter normalizes
// platform updates into canonical inbound events, and serializes canonical
// outbound replies into platform API calls. Adapters are the only code that
// dereferences their own media refs.
package channel

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/girlcodekenya/slc-whatsapp-chatbot/internal/domain"
	"github.com/girlcodekenya/slc-whatsapp-chatbot/internal/media"
)

const (
	telegramScheme         = "telegram"
	telegramMaxMsgLen      = 4000
	telegramMaxSendRetries = 3
)

// Telegram is the long-polling Telegram adapter.
type Telegram struct {
	token     string
	allowFrom []int64 // allowed user IDs (empty = allow all)
	parseMode string

	bot      *tgbotapi.BotAPI
	bus      domain.MessageBus
	registry *media.Registry
	logger   *slog.Logger
	client   *http.Client

	// placeholders tracks, per chat, the message ID of the last placeholder
	// reply so a superseding reply can delete it.
	placeholders   map[string]int
	placeholdersMu sync.Mutex
}

type TelegramConfig struct {
	Token     string
	AllowFrom []string // user IDs as strings
	ParseMode string
	Registry  *media.Registry
	Logger    *slog.Logger
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	var allowed []int64
	for _, s := range cfg.AllowFrom {
		if id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			allowed = append(allowed, id)
		}
	}
	if cfg.ParseMode == "" {
		cfg.ParseMode = "Markdown"
	}
	t := &Telegram{
		token:        cfg.Token,
		allowFrom:    allowed,
		parseMode:    cfg.ParseMode,
		registry:     cfg.Registry,
		logger:       cfg.Logger,
		client:       &http.Client{Timeout: 60 * time.Second},
		placeholders: make(map[string]int),
	}
	if cfg.Registry != nil {
		cfg.Registry.Register(telegramScheme, t)
	}
	return t
}

var _ domain.Adapter = (*Telegram)(nil)

func (t *Telegram) Name() domain.Channel { return domain.ChannelTelegram }

// Start connects to Telegram, registers the outbound handler, and polls for
// updates until the context is cancelled.
func (t *Telegram) Start(ctx context.Context, bus domain.MessageBus) error {
	t.bus = bus

	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.bot = bot
	t.logger.Info("telegram bot connected",
		"username", bot.Self.UserName,
		"id", bot.Self.ID,
	)

	bus.OnReply(domain.ChannelTelegram, func(reply domain.OutboundReply) {
		if err := t.Send(ctx, reply); err != nil {
			t.logger.Error("telegram send failed", "err", err, "user", reply.UserID, "kind", reply.Kind)
		}
	})

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := bot.GetUpdatesChan(u)

	t.logger.Info("telegram polling started")

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram channel stopping")
			bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			t.handleUpdate(update)
		}
	}
}

// Stop is a no-op: the bot stops when Start's context is cancelled, and
// calling StopReceivingUpdates twice panics.
func (t *Telegram) Stop() error { return nil }

// handleUpdate normalizes one update into a canonical event and publishes it.
func (t *Telegram) handleUpdate(update tgbotapi.Update) {
	ev, ok := t.normalize(update)
	if !ok {
		return
	}
	t.logger.Info("telegram event received", "user", ev.UserID, "kind", ev.Kind)

	if chatID, err := strconv.ParseInt(ev.UserID, 10, 64); err == nil {
		typing := tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)
		_, _ = t.bot.Send(typing)
	}

	t.bus.Publish(ev)
}

// normalize maps a Telegram update to the canonical event model:
// callback query -> interactive, /cmd -> command, voice note -> voice with a
// telegram: ref, anything else with text -> text. Updates outside those
// shapes (edits, stickers, joins) are dropped.
func (t *Telegram) normalize(update tgbotapi.Update) (domain.InboundEvent, bool) {
	if cq := update.CallbackQuery; cq != nil {
		if cq.Message == nil || cq.Message.Chat == nil {
			return domain.InboundEvent{}, false
		}
		// Ack so the client stops the spinner.
		_, _ = t.bot.Request(tgbotapi.NewCallback(cq.ID, ""))

		chatID := strconv.FormatInt(cq.Message.Chat.ID, 10)
		label := buttonLabel(cq.Message.ReplyMarkup, cq.Data)
		return domain.NewInteractiveEvent(domain.ChannelTelegram, chatID,
			strconv.Itoa(cq.Message.MessageID), cq.Data, label), true
	}

	msg := update.Message
	if msg == nil || msg.From == nil || msg.Chat == nil {
		return domain.InboundEvent{}, false
	}

	if !t.isAllowed(msg.From.ID) {
		t.logger.Warn("unauthorized telegram user",
			"user_id", msg.From.ID,
			"username", msg.From.UserName,
		)
		return domain.InboundEvent{}, false
	}

	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	messageID := strconv.Itoa(msg.MessageID)

	if msg.Voice != nil {
		return domain.NewVoiceEvent(domain.ChannelTelegram, chatID, messageID,
			media.Ref(telegramScheme, msg.Voice.FileID)), true
	}

	if msg.IsCommand() {
		return domain.NewCommandEvent(domain.ChannelTelegram, chatID, messageID,
			msg.Command(), msg.CommandArguments()), true
	}

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return domain.InboundEvent{}, false
	}
	return domain.NewTextEvent(domain.ChannelTelegram, chatID, messageID, text), true
}

// buttonLabel recovers the display label of the pressed inline button from
// the menu message's own markup. Falls back to the callback data.
func buttonLabel(markup *tgbotapi.InlineKeyboardMarkup, data string) string {
	if markup != nil {
		for _, row := range markup.InlineKeyboard {
			for _, btn := range row {
				if btn.CallbackData != nil && *btn.CallbackData == data {
					return btn.Text
				}
			}
		}
	}
	return data
}

func (t *Telegram) isAllowed(userID int64) bool {
	if len(t.allowFrom) == 0 {
		return true
	}
	for _, id := range t.allowFrom {
		if id == userID {
			return true
		}
	}
	return false
}

// --- outbound ---

// Send serializes one canonical reply into Telegram API calls.
func (t *Telegram) Send(ctx context.Context, reply domain.OutboundReply) error {
	chatID, err := strconv.ParseInt(reply.UserID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid telegram chat ID %q: %w", reply.UserID, err)
	}

	if reply.Ephemeral == domain.EphemeralSupersede {
		t.deletePlaceholder(reply.UserID, chatID)
	}

	switch reply.Kind {
	case domain.PayloadText:
		msgID, err := t.sendText(chatID, reply)
		if err != nil {
			return err
		}
		if reply.Ephemeral == domain.EphemeralPlaceholder {
			t.rememberPlaceholder(reply.UserID, msgID)
		}
		return nil
	case domain.PayloadImage:
		return t.sendImage(ctx, chatID, reply)
	case domain.PayloadAudio:
		return t.sendAudio(ctx, chatID, reply)
	case domain.PayloadMenu:
		return t.sendMenu(chatID, reply)
	default:
		return fmt.Errorf("unsupported payload kind %q", reply.Kind)
	}
}

func (t *Telegram) rememberPlaceholder(userID string, msgID int) {
	t.placeholdersMu.Lock()
	t.placeholders[userID] = msgID
	t.placeholdersMu.Unlock()
}

// deletePlaceholder removes the tracked placeholder message, if any. Delete
// failures are logged and ignored: a stale "generating" bubble is cosmetic.
func (t *Telegram) deletePlaceholder(userID string, chatID int64) {
	t.placeholdersMu.Lock()
	msgID, ok := t.placeholders[userID]
	if ok {
		delete(t.placeholders, userID)
	}
	t.placeholdersMu.Unlock()
	if !ok {
		return
	}
	if _, err := t.bot.Request(tgbotapi.NewDeleteMessage(chatID, msgID)); err != nil {
		t.logger.Warn("telegram placeholder delete failed", "err", err, "chat", chatID)
	}
}

// sendText delivers a text body, chunked to the platform limit, and returns
// the message ID of the first chunk.
func (t *Telegram) sendText(chatID int64, reply domain.OutboundReply) (int, error) {
	replyTo := 0
	if reply.ReplyToMessageID != "" {
		if id, err := strconv.Atoi(reply.ReplyToMessageID); err == nil {
			replyTo = id
		}
	}

	firstID := 0
	for _, chunk := range chunkText(reply.Body, telegramMaxMsgLen) {
		id, err := t.sendChunk(chatID, chunk, replyTo)
		if err != nil {
			return 0, err
		}
		if firstID == 0 {
			firstID = id
		}
		replyTo = 0 // only the first chunk threads
	}
	return firstID, nil
}

// chunkText splits text into pieces of at most maxLen bytes, preferring to
// cut at a newline in the second half of the window. A forced cut backs up to
// a rune boundary so multi-byte characters are never split across chunks.
func chunkText(text string, maxLen int) []string {
	var chunks []string
	for len(text) > maxLen {
		cutAt := strings.LastIndex(text[:maxLen], "\n")
		if cutAt < maxLen/2 {
			cutAt = maxLen
			for cutAt > 0 && !utf8.RuneStart(text[cutAt]) {
				cutAt--
			}
			if cutAt == 0 { // invalid UTF-8, cut at the byte limit
				cutAt = maxLen
			}
		}
		chunks = append(chunks, text[:cutAt])
		text = text[cutAt:]
	}
	if len(text) > 0 {
		chunks = append(chunks, text)
	}
	return chunks
}

// sendChunk sends a single chunk with retry and rate limit handling.
// Strategy: try the configured parse mode first, on parse error fall back to
// plain text, back off on 429.
func (t *Telegram) sendChunk(chatID int64, text string, replyTo int) (int, error) {
	var lastErr error
	for attempt := 0; attempt <= telegramMaxSendRetries; attempt++ {
		msg := tgbotapi.NewMessage(chatID, text)
		if replyTo != 0 {
			msg.ReplyToMessageID = replyTo
		}
		if attempt == 0 && t.parseMode != "" {
			msg.ParseMode = t.parseMode
		}
		// Subsequent attempts go out as plain text.

		sent, err := t.bot.Send(msg)
		if err == nil {
			return sent.MessageID, nil
		}
		lastErr = err
		errStr := err.Error()

		if strings.Contains(errStr, "Too Many Requests") || strings.Contains(errStr, "429") {
			retryAfter := time.Duration(attempt+1) * 3 * time.Second
			t.logger.Warn("telegram rate limited, backing off",
				"retry_after", retryAfter, "attempt", attempt+1,
			)
			time.Sleep(retryAfter)
			continue
		}

		if attempt == 0 && msg.ParseMode != "" && strings.Contains(errStr, "can't parse entities") {
			t.logger.Warn("telegram markdown parse error, retrying as plain text",
				"err", err, "parseMode", t.parseMode,
			)
			continue
		}

		if attempt < telegramMaxSendRetries {
			backoff := time.Duration(attempt+1) * time.Second
			t.logger.Warn("telegram send error, retrying", "err", err, "backoff", backoff)
			time.Sleep(backoff)
			continue
		}
	}
	return 0, fmt.Errorf("telegram send failed after %d attempts: %w", telegramMaxSendRetries+1, lastErr)
}

// sendImage delivers an image reply. url: refs go out by URL (Telegram
// fetches them server-side); anything else is resolved to a blob and uploaded.
func (t *Telegram) sendImage(ctx context.Context, chatID int64, reply domain.OutboundReply) error {
	scheme, rest, err := media.Split(reply.ImageRef)
	if err != nil {
		return err
	}

	var photo tgbotapi.PhotoConfig
	if scheme == "url" {
		photo = tgbotapi.NewPhoto(chatID, tgbotapi.FileURL(rest))
	} else {
		blob, name, err := t.registry.Resolve(ctx, reply.ImageRef)
		if err != nil {
			return fmt.Errorf("resolve image ref: %w", err)
		}
		defer blob.Close()
		photo = tgbotapi.NewPhoto(chatID, tgbotapi.FileReader{Name: name, Reader: blob})
	}
	photo.Caption = reply.Caption

	if _, err := t.bot.Send(photo); err != nil {
		return fmt.Errorf("telegram photo send: %w", err)
	}
	return nil
}

// sendAudio uploads a synthesized voice reply.
func (t *Telegram) sendAudio(ctx context.Context, chatID int64, reply domain.OutboundReply) error {
	blob, name, err := t.registry.Resolve(ctx, reply.AudioRef)
	if err != nil {
		return fmt.Errorf("resolve audio ref: %w", err)
	}
	defer blob.Close()

	voice := tgbotapi.NewVoice(chatID, tgbotapi.FileReader{Name: name, Reader: blob})
	if _, err := t.bot.Send(voice); err != nil {
		return fmt.Errorf("telegram voice send: %w", err)
	}
	t.registry.Release(reply.AudioRef)
	return nil
}

// sendMenu delivers a menu reply as an inline keyboard, one button per row.
func (t *Telegram) sendMenu(chatID int64, reply domain.OutboundReply) error {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(reply.Options))
	for _, opt := range reply.Options {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(opt.Label, opt.ID),
		))
	}

	msg := tgbotapi.NewMessage(chatID, reply.Body)
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram menu send: %w", err)
	}
	return nil
}

// --- media resolution ---

// Resolve dereferences a telegram: ref (a Bot API file ID) to its content.
func (t *Telegram) Resolve(ctx context.Context, ref string) (io.ReadCloser, string, error) {
	scheme, fileID, err := media.Split(ref)
	if err != nil {
		return nil, "", err
	}
	if scheme != telegramScheme {
		return nil, "", fmt.Errorf("telegram cannot resolve scheme %q", scheme)
	}

	file, err := t.bot.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return nil, "", fmt.Errorf("telegram getFile: %w", err)
	}

	url := file.Link(t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build file request: %w", err)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download telegram file: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, "", fmt.Errorf("download telegram file: status %d", resp.StatusCode)
	}

	name := file.FilePath
	if i := strings.LastIndex(name, "/"); i >= 0 && i < len(name)-1 {
		name = name[i+1:]
	}
	if name == "" {
		name = "voice.oga"
	}
	return resp.Body, name, nil
}
