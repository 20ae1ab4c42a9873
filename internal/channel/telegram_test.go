package channel

import (
	"strings"
	"testing"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/girlcodekenya/slc-whatsapp-chatbot/internal/domain"
)

func newTestTelegram(allowFrom []string) *Telegram {
	return NewTelegram(TelegramConfig{
		Token:     "test-token",
		AllowFrom: allowFrom,
		Logger:    testChannelLogger(),
	})
}

func tgMessage(userID, chatID int64, msgID int, text string) tgbotapi.Update {
	return tgbotapi.Update{
		Message: &tgbotapi.Message{
			MessageID: msgID,
			From:      &tgbotapi.User{ID: userID},
			Chat:      &tgbotapi.Chat{ID: chatID},
			Text:      text,
		},
	}
}

func TestTelegramNormalizesText(t *testing.T) {
	tg := newTestTelegram(nil)

	ev, ok := tg.normalize(tgMessage(7, 42, 100, "  hello bot  "))
	if !ok {
		t.Fatal("expected an event")
	}
	if ev.Kind != domain.KindText || ev.Text != "hello bot" {
		t.Fatalf("unexpected event %+v", ev)
	}
	if ev.Channel != domain.ChannelTelegram || ev.UserID != "42" || ev.MessageID != "100" {
		t.Fatalf("identity fields wrong: %+v", ev)
	}
	if err := ev.Validate(); err != nil {
		t.Fatalf("normalized event invalid: %v", err)
	}
}

func TestTelegramNormalizesCommand(t *testing.T) {
	tg := newTestTelegram(nil)

	update := tgMessage(7, 42, 101, "/imagine a red fox in snow")
	update.Message.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len("/imagine")}}

	ev, ok := tg.normalize(update)
	if !ok {
		t.Fatal("expected an event")
	}
	if ev.Kind != domain.KindCommand || ev.Command != "imagine" {
		t.Fatalf("unexpected event %+v", ev)
	}
	if ev.Argument != "a red fox in snow" {
		t.Fatalf("unexpected argument %q", ev.Argument)
	}
}

func TestTelegramNormalizesVoice(t *testing.T) {
	tg := newTestTelegram(nil)

	update := tgMessage(7, 42, 102, "")
	update.Message.Voice = &tgbotapi.Voice{FileID: "file-abc", Duration: 3}

	ev, ok := tg.normalize(update)
	if !ok {
		t.Fatal("expected an event")
	}
	if ev.Kind != domain.KindVoice || ev.MediaRef != "telegram:file-abc" {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestTelegramDropsEmptyAndForeignUpdates(t *testing.T) {
	tg := newTestTelegram(nil)

	if _, ok := tg.normalize(tgbotapi.Update{}); ok {
		t.Fatal("empty update must be dropped")
	}
	if _, ok := tg.normalize(tgMessage(7, 42, 103, "   ")); ok {
		t.Fatal("whitespace-only text must be dropped")
	}

	sticker := tgMessage(7, 42, 104, "")
	sticker.Message.Sticker = &tgbotapi.Sticker{FileID: "s1"}
	if _, ok := tg.normalize(sticker); ok {
		t.Fatal("sticker update must be dropped")
	}
}

func TestTelegramAllowListBlocksStrangers(t *testing.T) {
	tg := newTestTelegram([]string{"7", "8"})

	if _, ok := tg.normalize(tgMessage(9, 42, 105, "hi")); ok {
		t.Fatal("user outside the allow list must be dropped")
	}
	if _, ok := tg.normalize(tgMessage(7, 42, 106, "hi")); !ok {
		t.Fatal("allowed user must pass")
	}
}

func TestTelegramEmptyAllowListAllowsAll(t *testing.T) {
	tg := newTestTelegram(nil)
	if _, ok := tg.normalize(tgMessage(999, 42, 107, "hi")); !ok {
		t.Fatal("empty allow list must allow everyone")
	}
}

func TestChunkTextShortPassesThrough(t *testing.T) {
	chunks := chunkText("hello", 4000)
	if len(chunks) != 1 || chunks[0] != "hello" {
		t.Fatalf("got %q", chunks)
	}
	if got := chunkText("", 4000); len(got) != 0 {
		t.Fatalf("empty body must yield no chunks, got %q", got)
	}
}

func TestChunkTextPrefersNewline(t *testing.T) {
	text := strings.Repeat("a", 30) + "\n" + strings.Repeat("b", 30)
	chunks := chunkText(text, 40)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d: %q", len(chunks), chunks)
	}
	if chunks[0] != strings.Repeat("a", 30) {
		t.Fatalf("first chunk should end at the newline, got %q", chunks[0])
	}
	if strings.Join(chunks, "") != text {
		t.Fatal("chunks must reassemble to the original text")
	}
}

func TestChunkTextNeverSplitsRunes(t *testing.T) {
	// Three-byte runes that cannot tile a limit of 40 bytes evenly, so a
	// naive byte cut would land mid-rune.
	text := strings.Repeat("日本語", 20)
	chunks := chunkText(text, 40)

	if strings.Join(chunks, "") != text {
		t.Fatal("chunks must reassemble to the original text")
	}
	for i, c := range chunks {
		if len(c) > 40 {
			t.Fatalf("chunk %d exceeds the limit: %d bytes", i, len(c))
		}
		if !utf8.ValidString(c) {
			t.Fatalf("chunk %d splits a rune: %q", i, c)
		}
	}
}

func TestButtonLabelRecovery(t *testing.T) {
	data := "mentorship"
	markup := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("Our Programs", "programs")),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("Mentorship", "mentorship")),
	)

	if got := buttonLabel(&markup, data); got != "Mentorship" {
		t.Fatalf("expected label from markup, got %q", got)
	}
	if got := buttonLabel(nil, data); got != data {
		t.Fatalf("expected callback-data fallback, got %q", got)
	}
	if got := buttonLabel(&markup, "gone"); got != "gone" {
		t.Fatalf("expected fallback for unknown data, got %q", got)
	}
}
