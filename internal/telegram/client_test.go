package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rewired-gh/skywatch/internal/models"
)

type fakeBot struct {
	mu      sync.Mutex
	sent    []tgbotapi.MessageConfig
	fails   int
	updates chan tgbotapi.Update
}

func (b *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fails > 0 {
		b.fails--
		return tgbotapi.Message{}, errors.New("429 too many requests")
	}
	b.sent = append(b.sent, c.(tgbotapi.MessageConfig))
	return tgbotapi.Message{}, nil
}

func (b *fakeBot) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel { return b.updates }
func (b *fakeBot) StopReceivingUpdates()                                        {}

func (b *fakeBot) messages() []tgbotapi.MessageConfig {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]tgbotapi.MessageConfig(nil), b.sent...)
}

type fakeHandler struct {
	tagged []models.Event
}

func (h *fakeHandler) TagEvent(_ context.Context, label models.Label, intensity models.Intensity, note string) (models.Event, error) {
	ev := models.Event{ID: "ev-1", Timestamp: time.Date(2025, 1, 10, 6, 30, 0, 0, time.UTC), Label: label, Intensity: intensity, Note: note}
	h.tagged = append(h.tagged, ev)
	return ev, nil
}

func (h *fakeHandler) CurrentPrediction() models.Prediction {
	return models.Prediction{
		Dominant: models.ConditionFrost, Confidence: 0.85, Reliable: true,
		Ranked: []models.Candidate{{Condition: models.ConditionFrost, Confidence: 0.85, Detail: "temperature -1.0 °C"}},
	}
}

func (h *fakeHandler) RecentEvents(int) ([]models.Event, error) { return h.tagged, nil }

func TestParseTagArgs(t *testing.T) {
	tests := []struct {
		args      string
		label     models.Label
		intensity models.Intensity
		note      string
		wantErr   bool
	}{
		{"fog", models.LabelFog, "", "", false},
		{"Frost heavy", models.LabelFrost, models.IntensityHeavy, "", false},
		{"thunderstorm moderate hail on the roof", models.LabelThunderstorm, models.IntensityModerate, "hail on the roof", false},
		{"none-of-above quiet night", models.LabelNoneOfAbove, "", "quiet night", false},
		{"", "", "", "", true},
		{"tornado", "", "", "", true},
	}

	for _, tt := range tests {
		label, intensity, note, err := parseTagArgs(tt.args)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseTagArgs(%q) error = %v, wantErr %v", tt.args, err, tt.wantErr)
			continue
		}
		if label != tt.label || intensity != tt.intensity || note != tt.note {
			t.Errorf("parseTagArgs(%q) = %q %q %q, expected %q %q %q",
				tt.args, label, intensity, note, tt.label, tt.intensity, tt.note)
		}
	}
}

func TestEscapeMarkdownV2(t *testing.T) {
	tests := []struct {
		in       string
		expected string
	}{
		{"plain", "plain"},
		{"85.6%", "85\\.6%"},
		{"(-1.5 hPa/h)", "\\(\\-1\\.5 hPa/h\\)"},
		{"none_of_above!", "none\\_of\\_above\\!"},
	}

	for _, tt := range tests {
		if result := escapeMarkdownV2(tt.in); result != tt.expected {
			t.Errorf("escapeMarkdownV2(%q) = %s, expected %s", tt.in, result, tt.expected)
		}
	}
}

func TestFormatPrediction(t *testing.T) {
	p := models.Prediction{
		Timestamp:  time.Date(2025, 6, 1, 14, 5, 0, 0, time.UTC),
		Dominant:   models.ConditionThunderstorm,
		Confidence: 0.864,
		Reliable:   true,
		Ranked: []models.Candidate{
			{Condition: models.ConditionThunderstorm, Confidence: 0.864, Detail: "pressure -16.0 hPa/h"},
			{Condition: models.ConditionDeteriorating, Confidence: 0.45},
		},
	}
	msg := formatPrediction(p)
	for _, want := range []string{"*Thunderstorm likely*", "*86%*", "pressure \\-16\\.0 hPa/h", "2\\. Deteriorating \\(45%\\)"} {
		if !strings.Contains(msg, want) {
			t.Errorf("expected message to contain %q, got:\n%s", want, msg)
		}
	}
}

func TestSendPrediction_Retries(t *testing.T) {
	bot := &fakeBot{fails: 2}
	c, err := newClient(bot, "42", 3, time.Millisecond)
	if err != nil {
		t.Fatalf("newClient failed: %v", err)
	}
	if err := c.SendPrediction(models.Prediction{Dominant: models.ConditionFog, Confidence: 0.7}); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	msgs := bot.messages()
	if len(msgs) != 1 || msgs[0].ChatID != 42 || msgs[0].ParseMode != tgbotapi.ModeMarkdownV2 {
		t.Errorf("unexpected messages: %+v", msgs)
	}

	bot.fails = 5
	if err := c.SendPrediction(models.Prediction{Dominant: models.ConditionFog}); err == nil {
		t.Error("expected error after exhausting retries")
	}
}

func TestNewClient_InvalidChatID(t *testing.T) {
	if _, err := newClient(&fakeBot{}, "not-a-number", 3, time.Second); err == nil {
		t.Error("expected error for invalid chat ID")
	}
}

func TestListenForCommands(t *testing.T) {
	bot := &fakeBot{updates: make(chan tgbotapi.Update, 4)}
	c, _ := newClient(bot, "42", 1, time.Millisecond)
	h := &fakeHandler{}

	command := func(chatID int64, text string) tgbotapi.Update {
		cmdLen := strings.IndexByte(text+" ", ' ')
		return tgbotapi.Update{Message: &tgbotapi.Message{
			MessageID: 7,
			Chat:      &tgbotapi.Chat{ID: chatID},
			Text:      text,
			Entities:  []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: cmdLen}},
		}}
	}
	bot.updates <- command(42, "/tag fog light thick in the valley")
	bot.updates <- command(99, "/tag frost")
	bot.updates <- command(42, "/forecast")
	close(bot.updates)

	c.ListenForCommands(context.Background(), h)

	if len(h.tagged) != 1 {
		t.Fatalf("expected 1 tagged event, got %d", len(h.tagged))
	}
	if ev := h.tagged[0]; ev.Label != models.LabelFog || ev.Intensity != models.IntensityLight || ev.Note != "thick in the valley" {
		t.Errorf("unexpected event: %+v", ev)
	}

	msgs := bot.messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 replies, got %d", len(msgs))
	}
	if !strings.Contains(msgs[0].Text, "Recorded fog") {
		t.Errorf("unexpected tag reply: %q", msgs[0].Text)
	}
	if !strings.Contains(msgs[1].Text, "Frost (85%)") {
		t.Errorf("unexpected forecast reply: %q", msgs[1].Text)
	}
}

func TestSendErrorAndRecovery(t *testing.T) {
	bot := &fakeBot{}
	c, err := newClient(bot, "42", 1, time.Millisecond)
	if err != nil {
		t.Fatalf("newClient: %v", err)
	}
	if err := c.SendError(errors.New("store unavailable")); err != nil {
		t.Fatalf("SendError: %v", err)
	}
	if err := c.SendRecovery(3); err != nil {
		t.Fatalf("SendRecovery: %v", err)
	}
	msgs := bot.messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if !strings.Contains(msgs[0].Text, "store unavailable") {
		t.Errorf("error message missing cause: %q", msgs[0].Text)
	}
	if !strings.Contains(msgs[1].Text, "3 failed") {
		t.Errorf("recovery message missing count: %q", msgs[1].Text)
	}
}
