package domain

import "context"

// Adapter is the interface for a channel's inbound normalizer and outbound
// sender pair (Telegram, WhatsApp). Start normalizes raw platform payloads
// into InboundEvents published on the bus; Send serializes an OutboundReply
// into the platform's native API call, covering every payload kind including
// menus and service-info replies.
type Adapter interface {
	Name() Channel
	Start(ctx context.Context, bus MessageBus) error
	Stop() error
	Send(ctx context.Context, reply OutboundReply) error
}
