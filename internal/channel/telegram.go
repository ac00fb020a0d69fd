package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"japagenie/internal/domain"
)

const (
	telegramMaxMsgLen      = 4000
	telegramMaxSendRetries = 3
	telegramTypingPause    = 500 * time.Millisecond
	telegramRetryBackoff   = time.Second
)

// BotAPI is the part of *tgbotapi.BotAPI the adapter uses.
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Telegram implements domain.Channel for the Telegram Bot API in webhook mode.
type Telegram struct {
	bot         BotAPI
	parseMode   string
	typingPause time.Duration
	backoff     time.Duration
	logger      *slog.Logger
}

type TelegramConfig struct {
	Bot         BotAPI
	ParseMode   string
	TypingPause time.Duration // zero means 0.5s, negative disables the pause
	// RetryBackoff is the per-attempt backoff step; rate limits wait three
	// steps per attempt. Zero means 1s.
	RetryBackoff time.Duration
	Logger       *slog.Logger
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	if cfg.ParseMode == "" {
		cfg.ParseMode = tgbotapi.ModeMarkdown
	}
	if cfg.TypingPause < 0 {
		cfg.TypingPause = 0
	} else if cfg.TypingPause == 0 {
		cfg.TypingPause = telegramTypingPause
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = telegramRetryBackoff
	}
	return &Telegram{
		bot:         cfg.Bot,
		parseMode:   cfg.ParseMode,
		typingPause: cfg.TypingPause,
		backoff:     cfg.RetryBackoff,
		logger:      cfg.Logger,
	}
}

func (t *Telegram) Name() string { return "telegram" }

// ParseUpdate decodes a webhook body. ok is false for updates that carry
// no text message, which are acknowledged and ignored.
func ParseUpdate(body []byte) (msg domain.InboundMessage, ok bool, err error) {
	var update tgbotapi.Update
	if err := json.Unmarshal(body, &update); err != nil {
		return domain.InboundMessage{}, false, fmt.Errorf("decode telegram update: %w", err)
	}
	m := update.Message
	if m == nil || m.Chat == nil {
		return domain.InboundMessage{}, false, nil
	}
	text := strings.TrimSpace(m.Text)
	if text == "" {
		return domain.InboundMessage{}, false, nil
	}

	msg = domain.InboundMessage{
		Channel:   "telegram",
		ChatID:    strconv.FormatInt(m.Chat.ID, 10),
		ChatTitle: m.Chat.Title,
		Kind:      domain.ParseChatKind(m.Chat.Type),
		Text:      text,
		UpdateID:  update.UpdateID,
		Timestamp: time.Unix(int64(m.Date), 0),
	}
	if m.From != nil {
		msg.SenderID = strconv.FormatInt(m.From.ID, 10)
		msg.SenderName = m.From.FirstName
		msg.SenderUsername = m.From.UserName
	}
	return msg, true, nil
}

// SendText shows the typing indicator, pauses briefly and then sends text,
// split into chunks under Telegram's message limit.
func (t *Telegram) SendText(ctx context.Context, chatID string, text string) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat ID: %w", err)
	}

	if _, err := t.bot.Request(tgbotapi.NewChatAction(id, tgbotapi.ChatTyping)); err != nil {
		t.logger.Debug("telegram typing action failed", "chat_id", id, "err", err)
	}
	if err := sleep(ctx, t.typingPause); err != nil {
		return err
	}

	for _, chunk := range splitMessage(text, telegramMaxMsgLen) {
		if err := t.sendChunk(ctx, id, chunk); err != nil {
			return err
		}
	}
	return nil
}

// SendMedia sends a photo or an audio file by URL.
func (t *Telegram) SendMedia(ctx context.Context, chatID string, kind domain.MediaKind, url string) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat ID: %w", err)
	}

	var c tgbotapi.Chattable
	switch kind {
	case domain.MediaImage:
		c = tgbotapi.NewPhoto(id, tgbotapi.FileURL(url))
	case domain.MediaAudio:
		c = tgbotapi.NewAudio(id, tgbotapi.FileURL(url))
	default:
		return fmt.Errorf("unsupported media kind %q", kind)
	}
	if _, err := t.bot.Send(c); err != nil {
		return fmt.Errorf("send %s: %w", kind, err)
	}
	return nil
}

// SetWebhook registers url as the bot's webhook.
func (t *Telegram) SetWebhook(url string) error {
	wh, err := tgbotapi.NewWebhook(url)
	if err != nil {
		return fmt.Errorf("webhook url: %w", err)
	}
	resp, err := t.bot.Request(wh)
	if err != nil {
		return fmt.Errorf("set webhook: %w", err)
	}
	if !resp.Ok {
		return fmt.Errorf("set webhook: %s", resp.Description)
	}
	return nil
}

// sendChunk sends one chunk with retries. A Markdown parse error is retried
// once as plain text; rate limits and other failures back off.
func (t *Telegram) sendChunk(ctx context.Context, chatID int64, text string) error {
	var lastErr error
	plain := false

	for attempt := 0; attempt <= telegramMaxSendRetries; attempt++ {
		msg := tgbotapi.NewMessage(chatID, text)
		msg.DisableWebPagePreview = true
		if !plain {
			msg.ParseMode = t.parseMode
		}

		_, err := t.bot.Send(msg)
		if err == nil {
			return nil
		}
		lastErr = err
		errStr := err.Error()

		switch {
		case !plain && strings.Contains(errStr, "can't parse entities"):
			t.logger.Warn("telegram markdown parse error, retrying as plain text",
				"err", err, "parseMode", t.parseMode)
			plain = true
			continue
		case attempt == telegramMaxSendRetries:
			// Last attempt: return without backing off.
		case strings.Contains(errStr, "Too Many Requests") || strings.Contains(errStr, "429"):
			retryAfter := time.Duration(attempt+1) * 3 * t.backoff
			t.logger.Warn("telegram rate limited, backing off", "retry_after", retryAfter, "attempt", attempt+1)
			if err := sleep(ctx, retryAfter); err != nil {
				return err
			}
		default:
			backoff := time.Duration(attempt+1) * t.backoff
			t.logger.Warn("telegram send error, retrying", "err", err, "backoff", backoff)
			if err := sleep(ctx, backoff); err != nil {
				return err
			}
		}
	}
	return fmt.Errorf("telegram send failed after %d attempts: %w", telegramMaxSendRetries+1, lastErr)
}

// splitMessage cuts text into chunks of at most maxLen bytes, preferring
// newline boundaries.
func splitMessage(text string, maxLen int) []string {
	var chunks []string
	for len(text) > maxLen {
		cutAt := strings.LastIndex(text[:maxLen], "\n")
		if cutAt < maxLen/2 {
			cutAt = maxLen
			for cutAt > 0 && !utf8.RuneStart(text[cutAt]) {
				cutAt--
			}
		}
		chunks = append(chunks, text[:cutAt])
		text = text[cutAt:]
	}
	if text != "" || len(chunks) == 0 {
		chunks = append(chunks, text)
	}
	return chunks
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
