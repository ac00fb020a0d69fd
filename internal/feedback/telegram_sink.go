package feedback

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"japagenie/internal/domain"
)

const excerptLen = 200

// Sender is the part of *tgbotapi.BotAPI the sink needs.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramSink posts alerts to a monitoring channel through the bot account.
type TelegramSink struct {
	bot       Sender
	channel   string // "@name" or a numeric chat ID
	parseMode string
}

func NewTelegramSink(bot Sender, channel, parseMode string) *TelegramSink {
	if parseMode == "" {
		parseMode = tgbotapi.ModeMarkdown
	}
	return &TelegramSink{bot: bot, channel: channel, parseMode: parseMode}
}

// Notify sends the alert and returns early when ctx ends. The Send itself
// is not cancellable; the bot's HTTP client timeout bounds it.
func (s *TelegramSink) Notify(ctx context.Context, ev domain.FeedbackEvent) error {
	var msg tgbotapi.MessageConfig
	if id, err := strconv.ParseInt(s.channel, 10, 64); err == nil {
		msg = tgbotapi.NewMessage(id, FormatAlert(ev))
	} else {
		msg = tgbotapi.NewMessageToChannel(s.channel, FormatAlert(ev))
	}
	msg.ParseMode = s.parseMode

	errc := make(chan error, 1)
	go func() {
		_, err := s.bot.Send(msg)
		errc <- err
	}()

	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("send alert to %s: %w", s.channel, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("send alert to %s: %w", s.channel, ctx.Err())
	}
}

// FormatAlert renders the human-readable summary of an event.
func FormatAlert(ev domain.FeedbackEvent) string {
	var sb strings.Builder
	sb.WriteString("🔔 **VISA INTELLIGENCE ALERT**\n\n")
	fmt.Fprintf(&sb, "👤 User: %s\n", ev.SenderName)
	fmt.Fprintf(&sb, "📝 Keywords: %s\n", strings.Join(ev.Keywords, ", "))
	fmt.Fprintf(&sb, "💬 Message: %s...\n\n", excerpt(ev.Text, excerptLen))
	fmt.Fprintf(&sb, "🏷️ Chat: %s\n", ev.ChatTitle)
	fmt.Fprintf(&sb, "🕐 Time: %s", ev.Timestamp.Format("2006-01-02 15:04:05"))
	return sb.String()
}

// excerpt returns at most n runes of s.
func excerpt(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
