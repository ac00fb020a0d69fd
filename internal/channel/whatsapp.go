package channel

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
	"golang.org/x/time/rate"

	"japagenie/internal/domain"
)

// MessageCreator is the Twilio call the adapter uses. *twilioApi.ApiService
// satisfies it.
type MessageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// NewTwilioAPI returns the messages API for an account.
func NewTwilioAPI(accountSID, authToken string) MessageCreator {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return client.Api
}

// WhatsApp implements domain.Channel for WhatsApp through Twilio.
type WhatsApp struct {
	api     MessageCreator
	from    string
	limiter *rate.Limiter
	logger  *slog.Logger
}

type WhatsAppConfig struct {
	API            MessageCreator // nil disables sending
	From           string         // "whatsapp:+..."
	SendsPerSecond float64
	Burst          int
	Logger         *slog.Logger
}

func NewWhatsApp(cfg WhatsAppConfig) *WhatsApp {
	if cfg.SendsPerSecond <= 0 {
		cfg.SendsPerSecond = 1
	}
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}
	if cfg.API == nil {
		cfg.Logger.Warn("twilio credentials not set, whatsapp replies are disabled")
	}
	return &WhatsApp{
		api:     cfg.API,
		from:    cfg.From,
		limiter: rate.NewLimiter(rate.Limit(cfg.SendsPerSecond), cfg.Burst),
		logger:  cfg.Logger,
	}
}

func (w *WhatsApp) Name() string { return "whatsapp" }

// Enabled reports whether the adapter can send.
func (w *WhatsApp) Enabled() bool { return w.api != nil }

// ParseForm reads Twilio's inbound form. ok is false when From or Body is
// missing.
func ParseForm(r *http.Request) (msg domain.InboundMessage, ok bool) {
	if err := r.ParseForm(); err != nil {
		return domain.InboundMessage{}, false
	}
	from := strings.TrimSpace(r.PostFormValue("From"))
	body := strings.TrimSpace(r.PostFormValue("Body"))
	if from == "" || body == "" {
		return domain.InboundMessage{}, false
	}
	return domain.InboundMessage{
		Channel:    "whatsapp",
		ChatID:     from,
		Kind:       domain.KindPrivate,
		SenderID:   from,
		SenderName: r.PostFormValue("ProfileName"),
		Text:       body,
		Timestamp:  time.Now(),
	}, true
}

func (w *WhatsApp) SendText(ctx context.Context, chatID string, text string) error {
	params := &twilioApi.CreateMessageParams{}
	params.SetBody(text)
	return w.send(ctx, chatID, params)
}

// SendMedia sends a media-only message; WhatsApp renders images inline and
// audio as a playable clip.
func (w *WhatsApp) SendMedia(ctx context.Context, chatID string, kind domain.MediaKind, url string) error {
	switch kind {
	case domain.MediaImage, domain.MediaAudio:
	default:
		return fmt.Errorf("unsupported media kind %q", kind)
	}
	params := &twilioApi.CreateMessageParams{}
	params.SetMediaUrl([]string{url})
	return w.send(ctx, chatID, params)
}

func (w *WhatsApp) send(ctx context.Context, to string, params *twilioApi.CreateMessageParams) error {
	if w.api == nil {
		return nil
	}
	if err := w.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("whatsapp rate limit: %w", err)
	}

	params.SetTo(to)
	params.SetFrom(w.from)
	resp, err := w.api.CreateMessage(params)
	if err != nil {
		return fmt.Errorf("twilio create message: %w", err)
	}
	if resp != nil && resp.Sid != nil {
		w.logger.Debug("whatsapp message queued", "to", to, "sid", *resp.Sid)
	}
	return nil
}
