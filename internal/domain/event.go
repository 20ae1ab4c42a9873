package domain

import "fmt"

// Channel identifies a messaging platform.
type Channel string

const (
	ChannelTelegram Channel = "telegram"
	ChannelWhatsApp Channel = "whatsapp"
)

// EventKind classifies an inbound event. Exactly one variant's fields are
// populated per event; Validate enforces this.
type EventKind string

const (
	KindCommand     EventKind = "command"
	KindText        EventKind = "text"
	KindVoice       EventKind = "voice"
	KindInteractive EventKind = "interactive"
)

// InboundEvent is the canonical, platform-neutral representation of one
// inbound message, produced by a channel adapter's normalizer.
type InboundEvent struct {
	Channel   Channel
	UserID    string // stable sender identifier, unique within the channel
	MessageID string // platform message ID, used for reply threading
	Kind      EventKind

	// Command variant
	Command  string // command name without the leading slash
	Argument string

	// Text variant
	Text string

	// Voice variant. MediaRef is an opaque handle; only the owning channel
	// adapter (via the media resolver registry) can dereference it.
	MediaRef string

	// Interactive variant
	SelectionID    string
	SelectionLabel string
}

func NewCommandEvent(ch Channel, userID, messageID, name, argument string) InboundEvent {
	return InboundEvent{Channel: ch, UserID: userID, MessageID: messageID, Kind: KindCommand, Command: name, Argument: argument}
}

func NewTextEvent(ch Channel, userID, messageID, body string) InboundEvent {
	return InboundEvent{Channel: ch, UserID: userID, MessageID: messageID, Kind: KindText, Text: body}
}

func NewVoiceEvent(ch Channel, userID, messageID, mediaRef string) InboundEvent {
	return InboundEvent{Channel: ch, UserID: userID, MessageID: messageID, Kind: KindVoice, MediaRef: mediaRef}
}

func NewInteractiveEvent(ch Channel, userID, messageID, selectionID, selectionLabel string) InboundEvent {
	return InboundEvent{Channel: ch, UserID: userID, MessageID: messageID, Kind: KindInteractive, SelectionID: selectionID, SelectionLabel: selectionLabel}
}

// Validate checks that the event carries exactly the fields of its variant.
func (e InboundEvent) Validate() error {
	if e.Channel != ChannelTelegram && e.Channel != ChannelWhatsApp {
		return fmt.Errorf("unknown channel %q", e.Channel)
	}
	if e.UserID == "" {
		return fmt.Errorf("event missing user ID")
	}

	switch e.Kind {
	case KindCommand:
		if e.Command == "" {
			return fmt.Errorf("command event missing command name")
		}
		if e.Text != "" || e.MediaRef != "" || e.SelectionID != "" {
			return fmt.Errorf("command event carries foreign variant fields")
		}
	case KindText:
		if e.Text == "" {
			return fmt.Errorf("text event missing body")
		}
		if e.Command != "" || e.MediaRef != "" || e.SelectionID != "" {
			return fmt.Errorf("text event carries foreign variant fields")
		}
	case KindVoice:
		if e.MediaRef == "" {
			return fmt.Errorf("voice event missing media ref")
		}
		if e.Command != "" || e.Text != "" || e.SelectionID != "" {
			return fmt.Errorf("voice event carries foreign variant fields")
		}
	case KindInteractive:
		if e.SelectionID == "" {
			return fmt.Errorf("interactive event missing selection ID")
		}
		if e.Command != "" || e.Text != "" || e.MediaRef != "" {
			return fmt.Errorf("interactive event carries foreign variant fields")
		}
	default:
		return fmt.Errorf("unknown event kind %q", e.Kind)
	}
	return nil
}
