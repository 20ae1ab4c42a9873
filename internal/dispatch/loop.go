package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/girlcodekenya/slc-whatsapp-chatbot/internal/domain"
	"github.com/girlcodekenya/slc-whatsapp-chatbot/internal/metrics"
)

const defaultConcurrency = 5

// Dispatcher consumes inbound events from the bus and runs them through the
// pipeline with bounded concurrency. One logical worker per event; no
// cross-event ordering guarantee, not even per user.
type Dispatcher struct {
	pipeline    *Pipeline
	bus         domain.MessageBus
	logger      *slog.Logger
	concurrency int
}

type DispatcherConfig struct {
	Pipeline    *Pipeline
	Bus         domain.MessageBus
	Logger      *slog.Logger
	Concurrency int
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	return &Dispatcher{
		pipeline:    cfg.Pipeline,
		bus:         cfg.Bus,
		logger:      cfg.Logger,
		concurrency: cfg.Concurrency,
	}
}

// Run consumes inbound events until the context is cancelled or the bus
// closes.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("dispatcher started", "concurrency", d.concurrency)

	sem := make(chan struct{}, d.concurrency)
	inbound := d.bus.Subscribe()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher stopping")
			return
		case ev, ok := <-inbound:
			if !ok {
				d.logger.Info("inbound channel closed, dispatcher stopping")
				return
			}
			sem <- struct{}{}
			go func(ev domain.InboundEvent) {
				defer func() { <-sem }()
				d.process(ctx, ev)
			}(ev)
		}
	}
}

// process handles a single event. A panic or failure here must never affect
// other events, so everything is contained.
func (d *Dispatcher) process(ctx context.Context, ev domain.InboundEvent) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("event handling panicked", "channel", ev.Channel, "user", ev.UserID, "panic", r)
		}
	}()

	if err := ev.Validate(); err != nil {
		d.logger.Warn("dropping malformed event", "err", err)
		metrics.InvalidEvent()
		return
	}

	d.logger.Info("processing event",
		"channel", ev.Channel,
		"user", ev.UserID,
		"kind", ev.Kind,
	)
	metrics.EventReceived(string(ev.Kind))
	metrics.InFlightEvents.Inc()
	defer metrics.InFlightEvents.Dec()

	start := time.Now()
	d.pipeline.Handle(ctx, ev, func(reply domain.OutboundReply) {
		metrics.ReplySent(string(reply.Kind))
		d.bus.SendReply(reply)
	})
	metrics.EventLatency.Observe(time.Since(start).Seconds())
}
