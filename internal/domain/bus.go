package domain

// MessageBus routes canonical events between channel adapters and the
// dispatch pipeline.
type MessageBus interface {
	Publish(ev InboundEvent)
	Subscribe() <-chan InboundEvent
	SendReply(reply OutboundReply)
	OnReply(ch Channel, handler func(OutboundReply))
	Close()
}
