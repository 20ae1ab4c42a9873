package bus

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/girlcodekenya/slc-whatsapp-chatbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func TestPublishSubscribe(t *testing.T) {
	b := New(10, testLogger())
	defer b.Close()

	ev := domain.NewTextEvent(domain.ChannelTelegram, "u1", "m1", "hello")
	b.Publish(ev)

	select {
	case got := <-b.Subscribe():
		if got.Text != "hello" || got.UserID != "u1" {
			t.Fatalf("unexpected event: %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestSendReplyRoutesToHandler(t *testing.T) {
	b := New(10, testLogger())
	defer b.Close()

	got := make(chan domain.OutboundReply, 1)
	b.OnReply(domain.ChannelWhatsApp, func(r domain.OutboundReply) {
		got <- r
	})

	b.SendReply(domain.TextReply(domain.ChannelWhatsApp, "u2", "hi"))

	select {
	case r := <-got:
		if r.Body != "hi" {
			t.Fatalf("unexpected reply body %q", r.Body)
		}
	case <-time.After(time.Second):
		t.Fatal("reply not routed")
	}
}

func TestSendReplyNoHandler(t *testing.T) {
	b := New(10, testLogger())
	defer b.Close()

	// Must not panic when no handler is registered.
	b.SendReply(domain.TextReply(domain.ChannelTelegram, "u1", "orphan"))
}

func TestPublishAfterClose(t *testing.T) {
	b := New(10, testLogger())
	b.Close()

	// Must not panic on a closed bus.
	b.Publish(domain.NewTextEvent(domain.ChannelTelegram, "u1", "m1", "late"))
}
