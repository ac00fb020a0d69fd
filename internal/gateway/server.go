package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"japagenie/internal/bus"
	"japagenie/internal/catalog"
	"japagenie/internal/channel"
	"japagenie/internal/domain"
	"japagenie/internal/metrics"
)

const maxWebhookBody = 1 << 20

// FeedbackCounter reports how many feedback events were logged.
type FeedbackCounter interface {
	Count() int
}

// ChainLister reports running retry chains.
type ChainLister interface {
	Active() []domain.RetryChain
}

// Server accepts provider webhooks and serves health, stats and metrics.
type Server struct {
	addr        string
	bus         *bus.InMemoryBus
	bot         catalog.BotInfo
	feedback    FeedbackCounter
	chains      ChainLister
	metricsPath string
	logger      *slog.Logger
	now         func() time.Time
	server      *http.Server
}

type ServerConfig struct {
	Addr        string
	Bus         *bus.InMemoryBus
	Bot         catalog.BotInfo
	Feedback    FeedbackCounter // optional
	Chains      ChainLister     // optional
	MetricsPath string          // empty disables /metrics
	Logger      *slog.Logger
}

func NewServer(cfg ServerConfig) *Server {
	return &Server{
		addr:        cfg.Addr,
		bus:         cfg.Bus,
		bot:         cfg.Bot,
		feedback:    cfg.Feedback,
		chains:      cfg.Chains,
		metricsPath: cfg.MetricsPath,
		logger:      cfg.Logger,
		now:         time.Now,
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/webhook", s.handleTelegram)
	mux.HandleFunc("POST /api/whatsapp", s.handleWhatsApp)
	mux.HandleFunc("GET /{$}", s.handleHealth)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	if s.metricsPath != "" {
		mux.HandleFunc("GET "+s.metricsPath, metrics.Collector.Handler())
	}
	return mux
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("http server starting", "addr", s.addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("http server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}
}

// handleTelegram always acknowledges so Telegram does not redeliver.
func (s *Server) handleTelegram(rw http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		s.logger.Warn("telegram webhook read failed", "err", err)
	} else if msg, ok, err := channel.ParseUpdate(body); err != nil {
		s.logger.Warn("telegram webhook ignored", "err", err)
	} else if ok {
		s.publish(msg)
	}
	writeJSON(rw, map[string]bool{"ok": true})
}

func (s *Server) handleWhatsApp(rw http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(rw, r.Body, maxWebhookBody)
	if msg, ok := channel.ParseForm(r); ok {
		s.publish(msg)
	} else {
		s.logger.Debug("whatsapp webhook without From/Body ignored")
	}
	writeJSON(rw, map[string]string{"status": "received"})
}

func (s *Server) publish(msg domain.InboundMessage) {
	if !s.bus.Publish(msg) {
		metrics.BusDropped.Inc()
	}
}

func (s *Server) handleHealth(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, map[string]string{
		"status":    "healthy",
		"service":   s.bot.Service,
		"version":   s.bot.Version,
		"bot_name":  s.bot.Name,
		"timestamp": s.now().Format(time.RFC3339),
	})
}

type statsResponse struct {
	Status            string `json:"status"`
	ConversationsSeen int    `json:"visa_conversations_logged"`
	LastUpdated       string `json:"last_updated"`
	Bot               string `json:"bot"`
	Version           string `json:"version"`
	ActiveRetryChains int    `json:"active_retry_chains"`
}

func (s *Server) handleStats(rw http.ResponseWriter, r *http.Request) {
	resp := statsResponse{
		Status:      "online",
		LastUpdated: s.now().Format(time.RFC3339),
		Bot:         s.bot.Name,
		Version:     s.bot.Version,
	}
	if s.feedback != nil {
		resp.ConversationsSeen = s.feedback.Count()
	}
	if s.chains != nil {
		resp.ActiveRetryChains = len(s.chains.Active())
	}
	writeJSON(rw, resp)
}

func writeJSON(rw http.ResponseWriter, v any) {
	rw.Header().Set("Content-Type", "application/json")
	json.NewEncoder(rw).Encode(v)
}
