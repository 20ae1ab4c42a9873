package domain

// PayloadKind classifies an outbound reply payload.
type PayloadKind string

const (
	PayloadText  PayloadKind = "text"
	PayloadImage PayloadKind = "image"
	PayloadAudio PayloadKind = "audio"
	PayloadMenu  PayloadKind = "menu"
)

// Ephemeral marks a reply's role in a placeholder/replacement pair.
type Ephemeral string

const (
	// EphemeralNone is a normal, standalone reply.
	EphemeralNone Ephemeral = ""
	// EphemeralPlaceholder is a provisional reply ("generating…") that a
	// later reply in the same event's output sequence will supersede.
	EphemeralPlaceholder Ephemeral = "placeholder"
	// EphemeralSupersede replaces the placeholder sent earlier for this event.
	EphemeralSupersede Ephemeral = "supersede"
)

// MenuOption is one selectable button in a menu reply.
type MenuOption struct {
	ID    string
	Label string
}

// OutboundReply is the canonical reply the dispatch pipeline emits; channel
// adapters serialize it into platform API calls. It is a value object: media
// fields are opaque refs, never open resources.
type OutboundReply struct {
	Channel Channel
	UserID  string
	Kind    PayloadKind

	// Text and Menu payloads
	Body             string
	ReplyToMessageID string // Text only: thread onto the inbound message

	// Image payload
	ImageRef string
	Caption  string

	// Audio payload
	AudioRef string

	// Menu payload
	Options []MenuOption

	Ephemeral Ephemeral
}

func TextReply(ch Channel, userID, body string) OutboundReply {
	return OutboundReply{Channel: ch, UserID: userID, Kind: PayloadText, Body: body}
}

func ImageReply(ch Channel, userID, imageRef, caption string) OutboundReply {
	return OutboundReply{Channel: ch, UserID: userID, Kind: PayloadImage, ImageRef: imageRef, Caption: caption}
}

func AudioReply(ch Channel, userID, audioRef string) OutboundReply {
	return OutboundReply{Channel: ch, UserID: userID, Kind: PayloadAudio, AudioRef: audioRef}
}

func MenuReply(ch Channel, userID, body string, options []MenuOption) OutboundReply {
	return OutboundReply{Channel: ch, UserID: userID, Kind: PayloadMenu, Body: body, Options: options}
}
