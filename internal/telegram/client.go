// Package telegram provides a client for sending notifications via Telegram Bot API.
// It formats predictions into human-readable alerts, delivers them with retry
// logic, and accepts ground-truth tags from the configured chat as bot commands.
//
// The client uses MarkdownV2 formatting for outbound alerts and plain text for
// command replies.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rewired-gh/skywatch/internal/logger"
	"github.com/rewired-gh/skywatch/internal/models"
)

// botAPI is the subset of *tgbotapi.BotAPI the client uses.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Handler serves bot commands.
type Handler interface {
	TagEvent(ctx context.Context, label models.Label, intensity models.Intensity, note string) (models.Event, error)
	CurrentPrediction() models.Prediction
	RecentEvents(limit int) ([]models.Event, error)
}

// Client handles Telegram notifications
type Client struct {
	bot            botAPI
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
}

// NewClient creates a new Telegram client
func NewClient(botToken, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	return newClient(bot, chatID, maxRetries, retryDelayBase)
}

func newClient(bot botAPI, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}

	return &Client{
		bot:            bot,
		chatID:         chatIDInt,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}, nil
}

// SendPrediction sends an alert for a prediction.
func (c *Client) SendPrediction(p models.Prediction) error {
	return c.send(formatPrediction(p), tgbotapi.ModeMarkdownV2)
}

// SendCleared announces that previously alerted conditions are no longer dominant.
func (c *Client) SendCleared(conds []models.Condition) error {
	if len(conds) == 0 {
		return nil
	}
	names := make([]string, len(conds))
	for i, cond := range conds {
		names[i] = conditionTitle(cond)
	}
	return c.send(fmt.Sprintf("✅ All clear: %s", strings.Join(names, ", ")), "")
}

// SendError reports a failed cycle. Sent once per failure streak.
func (c *Client) SendError(err error) error {
	return c.send(fmt.Sprintf("⚠️ Skywatch cycle failed: %v", err), "")
}

// SendRecovery reports that cycles succeed again after failures.
func (c *Client) SendRecovery(failures int) error {
	return c.send(fmt.Sprintf("✅ Skywatch recovered after %d failed cycle(s)", failures), "")
}

func (c *Client) send(text, parseMode string) error {
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = parseMode

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		_, err := c.bot.Send(msg)
		if err == nil {
			return nil
		}
		lastErr = err
		time.Sleep(c.retryDelayBase * time.Duration(i+1))
	}

	return fmt.Errorf("failed to send message after %d retries: %w", c.maxRetries, lastErr)
}

// ListenForCommands serves commands from the configured chat until ctx is
// cancelled. Messages from other chats are ignored.
func (c *Client) ListenForCommands(ctx context.Context, h Handler) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := c.bot.GetUpdatesChan(u)
	defer c.bot.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message == nil || !update.Message.IsCommand() || update.Message.Chat.ID != c.chatID {
				continue
			}
			reply := c.handleCommand(ctx, h, update.Message.Command(), update.Message.CommandArguments())
			msg := tgbotapi.NewMessage(c.chatID, reply)
			msg.ReplyToMessageID = update.Message.MessageID
			if _, err := c.bot.Send(msg); err != nil {
				logger.Warn("Failed to reply to /%s: %v", update.Message.Command(), err)
			}
		}
	}
}

const helpText = `Commands:
/tag <label> [light|moderate|heavy] [note] - record what you observed
/forecast - current prediction
/events - last tagged events
Labels: thunderstorm, fog, frost, fire, none_of_above, false_positive`

func (c *Client) handleCommand(ctx context.Context, h Handler, cmd, args string) string {
	switch cmd {
	case "tag":
		label, intensity, note, err := parseTagArgs(args)
		if err != nil {
			return fmt.Sprintf("Could not tag: %v\n\n%s", err, helpText)
		}
		ev, err := h.TagEvent(ctx, label, intensity, note)
		if err != nil {
			logger.Warn("Tag from Telegram rejected: %v", err)
			return fmt.Sprintf("Could not tag: %v", err)
		}
		return fmt.Sprintf("Recorded %s at %s (id %s)", ev.Label, ev.Timestamp.Format("2006-01-02 15:04"), ev.ID)
	case "forecast":
		return formatPlain(h.CurrentPrediction())
	case "events":
		events, err := h.RecentEvents(5)
		if err != nil {
			return fmt.Sprintf("Could not load events: %v", err)
		}
		if len(events) == 0 {
			return "No events tagged yet."
		}
		var b strings.Builder
		for _, ev := range events {
			fmt.Fprintf(&b, "%s  %s", ev.Timestamp.Format("01-02 15:04"), ev.Label)
			if ev.Intensity != "" {
				fmt.Fprintf(&b, " (%s)", ev.Intensity)
			}
			if ev.Note != "" {
				fmt.Fprintf(&b, " - %s", ev.Note)
			}
			b.WriteString("\n")
		}
		return b.String()
	default:
		return helpText
	}
}

// parseTagArgs parses "<label> [intensity] [note...]".
func parseTagArgs(args string) (models.Label, models.Intensity, string, error) {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return "", "", "", fmt.Errorf("%w: label is required", models.ErrInvalidEvent)
	}
	label, err := models.ParseLabel(fields[0])
	if err != nil {
		return "", "", "", err
	}
	rest := fields[1:]
	var intensity models.Intensity
	if len(rest) > 0 {
		switch i := models.Intensity(strings.ToLower(rest[0])); i {
		case models.IntensityLight, models.IntensityModerate, models.IntensityHeavy:
			intensity = i
			rest = rest[1:]
		}
	}
	return label, intensity, strings.Join(rest, " "), nil
}

var conditionEmoji = map[models.Condition]string{
	models.ConditionThunderstorm:  "⛈",
	models.ConditionFog:           "🌫",
	models.ConditionFrost:         "❄️",
	models.ConditionFire:          "🔥",
	models.ConditionDeteriorating: "📉",
	models.ConditionImproving:     "📈",
	models.ConditionWarming:       "🌡",
	models.ConditionCooling:       "🧊",
	models.ConditionMoistening:    "💧",
	models.ConditionDrying:        "🏜",
	models.ConditionNone:          "☀️",
}

func conditionTitle(c models.Condition) string {
	s := strings.ReplaceAll(string(c), "_", " ")
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// formatPrediction formats a prediction as a MarkdownV2 alert.
func formatPrediction(p models.Prediction) string {
	message := fmt.Sprintf("%s *%s likely*\n\n", conditionEmoji[p.Dominant], escapeMarkdownV2(conditionTitle(p.Dominant)))
	message += fmt.Sprintf("📅 %s\n", escapeMarkdownV2(p.Timestamp.Format("2006-01-02 15:04:05")))
	message += fmt.Sprintf("🎯 Confidence: *%s*\n", escapeMarkdownV2(fmt.Sprintf("%.0f%%", p.Confidence*100)))

	if len(p.Ranked) > 0 && p.Ranked[0].Detail != "" {
		message += fmt.Sprintf("🔎 %s\n", escapeMarkdownV2(p.Ranked[0].Detail))
	}
	if len(p.Ranked) > 1 {
		message += "\n"
		for i, c := range p.Ranked[1:] {
			message += fmt.Sprintf("%d\\. %s %s\n", i+2, escapeMarkdownV2(conditionTitle(c.Condition)),
				escapeMarkdownV2(fmt.Sprintf("(%.0f%%)", c.Confidence*100)))
		}
	}
	message += "\nReply with /tag to confirm or correct\\."
	return message
}

// formatPlain formats a prediction for a command reply.
func formatPlain(p models.Prediction) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s (%.0f%%)", conditionEmoji[p.Dominant], conditionTitle(p.Dominant), p.Confidence*100)
	if !p.Reliable {
		b.WriteString(" - not enough data yet")
	}
	for _, c := range p.Ranked {
		fmt.Fprintf(&b, "\n  %s %.0f%%", c.Condition, c.Confidence*100)
		if c.Detail != "" {
			fmt.Fprintf(&b, " - %s", c.Detail)
		}
	}
	if !p.Timestamp.IsZero() {
		fmt.Fprintf(&b, "\nas of %s", p.Timestamp.Format("2006-01-02 15:04"))
	}
	return b.String()
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2
func escapeMarkdownV2(text string) string {
	// Characters that need escaping in MarkdownV2:
	// _ * [ ] ( ) ~ ` > # + - = | { } . !
	var b strings.Builder
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteString("\\")
		}
		b.WriteRune(char)
	}
	return b.String()
}
