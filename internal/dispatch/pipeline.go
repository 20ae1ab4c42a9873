// Package dispatch is the core of the relay: it classifies canonical inbound
// events, orchestrates the context store and the generative backends, and
// emits canonical outbound replies. It is also the error boundary for every
// backend failure — nothing generative ever propagates past Handle.
package dispatch

import (
	"context"
	"log/slog"
	"strings"

	"github.com/girlcodekenya/slc-whatsapp-chatbot/internal/domain"
	"github.com/girlcodekenya/slc-whatsapp-chatbot/internal/metrics"
)

// imageToken is the reserved token that turns a plain text message into an
// image-generation request.
const imageToken = "/imagine"

// User-visible fixed texts.
const (
	welcomeBody = "Hi! I'm the GirlCode assistant. Ask me anything, send a voice note, " +
		"or use " + imageToken + " to generate an image. What would you like to know?"
	sessionStartedNote = "Session started"
	imagePromptGuide   = "Please describe the image you want, e.g. " + imageToken + " a sunset over Nairobi."
	imageGenerating    = "Generating your image…"
	imageFailedNotice  = "Sorry, I couldn't generate that image right now. Please try again later."
	completionFallback = "Sorry, I'm having trouble responding right now. Please try again in a moment."
	transcribeFailed   = "Sorry, I couldn't make out that voice note. Please try again, or send a text message."
	unknownCommandHelp = "I don't know that command. Try /start, or just send me a message."
)

// Pipeline implements the inbound-event dispatch contract:
// handle(event) -> ordered sequence of outbound replies, delivered through
// the emit callback as they are produced (so placeholders go out before the
// backend work they announce).
type Pipeline struct {
	store       domain.ContextStore
	completer   domain.Completer
	images      domain.ImageSynthesizer
	transcriber domain.Transcriber
	speech      domain.SpeechSynthesizer
	logger      *slog.Logger
}

type PipelineConfig struct {
	Store       domain.ContextStore
	Completer   domain.Completer
	Images      domain.ImageSynthesizer
	Transcriber domain.Transcriber
	Speech      domain.SpeechSynthesizer
	Logger      *slog.Logger
}

func NewPipeline(cfg PipelineConfig) *Pipeline {
	return &Pipeline{
		store:       cfg.Store,
		completer:   cfg.Completer,
		images:      cfg.Images,
		transcriber: cfg.Transcriber,
		speech:      cfg.Speech,
		logger:      cfg.Logger,
	}
}

// Handle classifies one inbound event and emits zero, one, or two replies in
// order. First match wins:
//
//	/start command -> welcome menu
//	/imagine command, or text carrying the reserved token -> image path
//	text -> contextual completion
//	voice -> transcribe, complete, synthesize
//	interactive -> service-info lookup
func (p *Pipeline) Handle(ctx context.Context, ev domain.InboundEvent, emit func(domain.OutboundReply)) {
	switch {
	case ev.Kind == domain.KindCommand && ev.Command == "start":
		p.handleStart(ctx, ev, emit)
	case ev.Kind == domain.KindCommand && ev.Command == "imagine":
		p.handleImagine(ctx, ev, ev.Argument, emit)
	case ev.Kind == domain.KindText && strings.Contains(ev.Text, imageToken):
		p.handleImagine(ctx, ev, stripImageToken(ev.Text), emit)
	case ev.Kind == domain.KindText:
		p.handleText(ctx, ev, ev.Text, emit)
	case ev.Kind == domain.KindVoice:
		p.handleVoice(ctx, ev, emit)
	case ev.Kind == domain.KindInteractive:
		p.handleInteractive(ctx, ev, emit)
	default:
		// Commands outside the known set. No backend calls.
		emit(domain.TextReply(ev.Channel, ev.UserID, unknownCommandHelp))
	}
}

// handleStart emits the fixed welcome menu and records the session start in
// the user's context. No backend calls.
func (p *Pipeline) handleStart(ctx context.Context, ev domain.InboundEvent, emit func(domain.OutboundReply)) {
	p.appendContext(ctx, ev, domain.RoleSystem, sessionStartedNote)
	emit(domain.MenuReply(ev.Channel, ev.UserID, welcomeBody, welcomeOptions))
}

// handleImagine runs the image path: guidance for an empty prompt, otherwise
// a placeholder followed by the image (or a failure notice) superseding it.
func (p *Pipeline) handleImagine(ctx context.Context, ev domain.InboundEvent, prompt string, emit func(domain.OutboundReply)) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		emit(domain.TextReply(ev.Channel, ev.UserID, imagePromptGuide))
		return
	}

	placeholder := domain.TextReply(ev.Channel, ev.UserID, imageGenerating)
	placeholder.Ephemeral = domain.EphemeralPlaceholder
	emit(placeholder)

	refs, err := p.images.Generate(ctx, prompt)
	if err != nil || len(refs) == 0 {
		p.logger.Warn("image generation failed", "user", ev.UserID, "err", err)
		metrics.BackendFailure("image")
		failure := domain.TextReply(ev.Channel, ev.UserID, imageFailedNotice)
		failure.Ephemeral = domain.EphemeralSupersede
		emit(failure)
		return
	}

	reply := domain.ImageReply(ev.Channel, ev.UserID, refs[0], prompt)
	reply.Ephemeral = domain.EphemeralSupersede
	emit(reply)
}

// handleText is the conversational path: record the user turn, complete over
// the full ordered context, record the assistant turn, reply threaded onto
// the inbound message. A completion failure falls back to a notice; the user
// turn stays in history either way.
func (p *Pipeline) handleText(ctx context.Context, ev domain.InboundEvent, body string, emit func(domain.OutboundReply)) {
	p.appendContext(ctx, ev, domain.RoleUser, body)

	response, ok := p.complete(ctx, ev)
	if !ok {
		emit(domain.TextReply(ev.Channel, ev.UserID, completionFallback))
		return
	}

	p.appendContext(ctx, ev, domain.RoleAssistant, response)

	reply := domain.TextReply(ev.Channel, ev.UserID, response)
	reply.ReplyToMessageID = ev.MessageID
	emit(reply)
}

// handleVoice chains transcription -> completion -> synthesis:
//
//	Received -> Transcribing -> Transcribed | TranscriptionFailed
//	Transcribed -> Responding -> Synthesizing -> Synthesized | SynthesisFailed
//
// TranscriptionFailed is terminal with a single failure reply and no
// completion call. SynthesisFailed degrades to the plain-text reply.
func (p *Pipeline) handleVoice(ctx context.Context, ev domain.InboundEvent, emit func(domain.OutboundReply)) {
	transcript, err := p.transcriber.Transcribe(ctx, ev.MediaRef)
	if err != nil {
		p.logger.Warn("transcription failed", "user", ev.UserID, "err", err)
		metrics.BackendFailure("stt")
		emit(domain.TextReply(ev.Channel, ev.UserID, transcribeFailed))
		return
	}

	p.appendContext(ctx, ev, domain.RoleUser, transcript)

	response, ok := p.complete(ctx, ev)
	if !ok {
		emit(domain.TextReply(ev.Channel, ev.UserID, completionFallback))
		return
	}

	p.appendContext(ctx, ev, domain.RoleAssistant, response)

	audioRef, err := p.speech.Synthesize(ctx, response)
	if err != nil {
		p.logger.Warn("speech synthesis failed, sending text instead", "user", ev.UserID, "err", err)
		metrics.BackendFailure("tts")
		reply := domain.TextReply(ev.Channel, ev.UserID, response)
		reply.ReplyToMessageID = ev.MessageID
		emit(reply)
		return
	}

	emit(domain.AudioReply(ev.Channel, ev.UserID, audioRef))
}

// handleInteractive records the selection as a turn and answers with the
// static service-information text for the ID.
func (p *Pipeline) handleInteractive(ctx context.Context, ev domain.InboundEvent, emit func(domain.OutboundReply)) {
	p.appendContext(ctx, ev, domain.RoleUser, "User selected: "+ev.SelectionLabel)

	resolved := resolveSelection(ev.SelectionID)

	p.appendContext(ctx, ev, domain.RoleAssistant, resolved)
	emit(domain.TextReply(ev.Channel, ev.UserID, resolved))
}

// complete reads the user's full context and calls the completion backend.
// Returns ok=false on any failure; the caller owns the fallback reply.
func (p *Pipeline) complete(ctx context.Context, ev domain.InboundEvent) (string, bool) {
	history, err := p.store.Read(ctx, ev.Channel, ev.UserID)
	if err != nil {
		p.logger.Warn("context read failed", "user", ev.UserID, "err", err)
		return "", false
	}

	response, err := p.completer.Complete(ctx, ev.UserID, history)
	if err != nil {
		p.logger.Warn("completion failed", "user", ev.UserID, "err", err)
		metrics.BackendFailure("completion")
		return "", false
	}
	return response, true
}

// appendContext records one turn. A store failure is logged, never fatal to
// the event: the reply the entry records must still go out.
func (p *Pipeline) appendContext(ctx context.Context, ev domain.InboundEvent, role domain.Role, text string) {
	if err := p.store.Append(ctx, ev.Channel, ev.UserID, role, text); err != nil {
		p.logger.Warn("context append failed", "user", ev.UserID, "role", role, "err", err)
	}
}

// stripImageToken removes the first occurrence of the reserved token; the
// remainder (trimmed by the caller) is the prompt.
func stripImageToken(body string) string {
	return strings.Replace(body, imageToken, "", 1)
}
