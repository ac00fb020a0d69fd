// Package feedback records topic-bearing conversations: an alert to the
// monitoring channel and a line in the local JSONL log.
package feedback

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"japagenie/internal/domain"
	"japagenie/internal/metrics"
)

// Sink receives a formatted alert for each event.
type Sink interface {
	Notify(ctx context.Context, ev domain.FeedbackEvent) error
}

// DefaultAlertTimeout bounds a single alert delivery.
const DefaultAlertTimeout = 5 * time.Second

// Relay fans a feedback event out to the sink and the log. Neither effect
// can fail or hold up the caller: alerts are sent in the background.
type Relay struct {
	sink    Sink
	log     *Log
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time

	wg sync.WaitGroup // in-flight alerts
}

type RelayConfig struct {
	Sink         Sink // nil disables alerts
	Log          *Log // nil disables the local log
	AlertTimeout time.Duration
	Logger       *slog.Logger
}

func NewRelay(cfg RelayConfig) *Relay {
	if cfg.AlertTimeout <= 0 {
		cfg.AlertTimeout = DefaultAlertTimeout
	}
	return &Relay{
		sink:    cfg.Sink,
		log:     cfg.Log,
		timeout: cfg.AlertTimeout,
		logger:  cfg.Logger,
		now:     time.Now,
	}
}

// Observe builds the event for msg and relays it.
func (r *Relay) Observe(ctx context.Context, msg domain.InboundMessage, keywords domain.TopicMatch) {
	r.Relay(ctx, domain.NewFeedbackEvent(msg, keywords, r.now()))
}

// Relay performs both effects independently. The alert is dispatched in the
// background under its own timeout; the log append is local and synchronous.
// Failures are logged and counted.
func (r *Relay) Relay(ctx context.Context, ev domain.FeedbackEvent) {
	if r.sink != nil {
		// The alert outlives the message that triggered it.
		actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			defer cancel()
			r.alert(actx, ev)
		}()
	}

	if r.log != nil {
		if err := r.log.Append(ev); err != nil {
			metrics.RelayFailures("log").Inc()
			r.logger.Error("feedback log append failed", "path", r.log.Path(), "err", err)
		}
	}
}

func (r *Relay) alert(ctx context.Context, ev domain.FeedbackEvent) {
	if err := r.sink.Notify(ctx, ev); err != nil {
		metrics.RelayFailures("sink").Inc()
		r.logger.Warn("feedback alert failed", "chat_id", ev.ChatID, "err", err)
		return
	}
	r.logger.Info("feedback sent to channel", "keywords", len(ev.Keywords))
}

// Wait blocks until every in-flight alert has finished or timed out.
func (r *Relay) Wait() {
	r.wg.Wait()
}

// Count returns the number of logged events.
func (r *Relay) Count() int {
	if r.log == nil {
		return 0
	}
	return r.log.Count()
}
