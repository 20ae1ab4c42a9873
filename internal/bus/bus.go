package bus

import (
	"log/slog"
	"sync"
	"time"

	"github.com/girlcodekenya/slc-whatsapp-chatbot/internal/domain"
)

const publishTimeout = 10 * time.Second

// InMemoryBus is a Go-channel based message bus connecting channel adapters
// to the dispatch pipeline in-process.
type InMemoryBus struct {
	inbound  chan domain.InboundEvent
	handlers map[domain.Channel]func(domain.OutboundReply)
	mu       sync.RWMutex
	closed   bool
	logger   *slog.Logger
}

// New creates a new InMemoryBus with the given buffer size.
func New(bufferSize int, logger *slog.Logger) *InMemoryBus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &InMemoryBus{
		inbound:  make(chan domain.InboundEvent, bufferSize),
		handlers: make(map[domain.Channel]func(domain.OutboundReply)),
		logger:   logger,
	}
}

// Publish enqueues an inbound event for the dispatcher. Blocks up to 10
// seconds if the bus is full instead of dropping.
func (b *InMemoryBus) Publish(ev domain.InboundEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		b.logger.Warn("attempted to publish to closed bus")
		return
	}

	select {
	case b.inbound <- ev:
	default:
		b.logger.Warn("inbound bus full, waiting...", "channel", ev.Channel, "user", ev.UserID)
		timer := time.NewTimer(publishTimeout)
		defer timer.Stop()
		select {
		case b.inbound <- ev:
			b.logger.Info("event delivered after wait", "channel", ev.Channel)
		case <-timer.C:
			b.logger.Error("event dropped: bus full for 10s",
				"channel", ev.Channel,
				"user", ev.UserID,
			)
		}
	}
}

func (b *InMemoryBus) Subscribe() <-chan domain.InboundEvent {
	return b.inbound
}

func (b *InMemoryBus) SendReply(reply domain.OutboundReply) {
	b.mu.RLock()
	handler, ok := b.handlers[reply.Channel]
	b.mu.RUnlock()

	if !ok {
		b.logger.Warn("no handler registered for channel",
			"channel", reply.Channel,
		)
		return
	}

	handler(reply)
}

func (b *InMemoryBus) OnReply(ch domain.Channel, handler func(domain.OutboundReply)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[ch] = handler
}

func (b *InMemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.closed {
		b.closed = true
		close(b.inbound)
	}
}
