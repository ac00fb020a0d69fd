// Package delivery turns a user query into a delivered multi-part answer.
// Queries that time out are acknowledged with a fallback notice and retried
// in the background until the backend answers or the process shuts down.
package delivery

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"japagenie/internal/bus"
	"japagenie/internal/catalog"
	"japagenie/internal/domain"
	"japagenie/internal/metrics"
)

// DefaultRetryInterval is the wait between background re-attempts.
const DefaultRetryInterval = 120 * time.Second

// Querier is the backend call the orchestrator drives.
type Querier interface {
	Query(ctx context.Context, text string) (*domain.OrchestrationResult, error)
}

// Emitter receives retry-chain lifecycle events.
type Emitter interface {
	Emit(ev bus.Event)
}

type Config struct {
	Querier       Querier
	Notices       catalog.Notices
	RetryInterval time.Duration
	Events        Emitter // optional
	Logger        *slog.Logger
}

// Orchestrator runs the query, deliver and retry state machine. Retry chains
// are bound to the context given to New.
type Orchestrator struct {
	querier  Querier
	notices  catalog.Notices
	interval time.Duration
	events   Emitter
	logger   *slog.Logger

	root   context.Context
	wg     sync.WaitGroup
	mu     sync.Mutex
	chains map[string]*domain.RetryChain
}

func New(ctx context.Context, cfg Config) *Orchestrator {
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = DefaultRetryInterval
	}
	return &Orchestrator{
		querier:  cfg.Querier,
		notices:  cfg.Notices,
		interval: cfg.RetryInterval,
		events:   cfg.Events,
		logger:   cfg.Logger,
		root:     ctx,
		chains:   make(map[string]*domain.RetryChain),
	}
}

// Handle queries the backend for text and delivers the answer to chatID on
// ch. It returns once the initial attempt has been resolved; a timed-out
// query continues in a background retry chain.
func (o *Orchestrator) Handle(ctx context.Context, ch domain.Channel, chatID, text string) {
	res, err := o.querier.Query(ctx, text)
	switch {
	case err == nil:
		o.deliver(ctx, ch, chatID, res)

	case errors.Is(err, domain.ErrBackendTimeout):
		o.logger.Warn("backend timed out, starting retry chain",
			"channel", ch.Name(), "chat_id", chatID)
		o.notify(ctx, ch, chatID, o.notices.Fallback)
		o.startChain(ch, chatID, text)

	default:
		o.logger.Error("backend query failed",
			"channel", ch.Name(), "chat_id", chatID, "err", err)
		o.notify(ctx, ch, chatID, o.notices.Failure)
	}
}

// Active returns a snapshot of the running retry chains, oldest first.
func (o *Orchestrator) Active() []domain.RetryChain {
	o.mu.Lock()
	out := make([]domain.RetryChain, 0, len(o.chains))
	for _, c := range o.chains {
		out = append(out, *c)
	}
	o.mu.Unlock()

	slices.SortFunc(out, func(a, b domain.RetryChain) int {
		return a.StartedAt.Compare(b.StartedAt)
	})
	return out
}

// Wait blocks until every retry chain has ended.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func (o *Orchestrator) startChain(ch domain.Channel, chatID, text string) {
	now := time.Now()
	chain := &domain.RetryChain{
		ID:          uuid.NewString(),
		Channel:     ch.Name(),
		Destination: chatID,
		Query:       text,
		StartedAt:   now,
		NextAttempt: now.Add(o.interval),
	}

	o.mu.Lock()
	o.chains[chain.ID] = chain
	o.mu.Unlock()

	metrics.RetryChains.Inc()
	metrics.ActiveChains.Inc()
	o.emit(bus.EventChainStarted, *chain, nil)

	o.wg.Add(1)
	go o.runChain(ch, chain)
}

func (o *Orchestrator) runChain(ch domain.Channel, chain *domain.RetryChain) {
	defer o.wg.Done()
	defer func() {
		o.mu.Lock()
		delete(o.chains, chain.ID)
		o.mu.Unlock()
		metrics.ActiveChains.Dec()
	}()

	log := o.logger.With("chain_id", chain.ID, "channel", chain.Channel, "chat_id", chain.Destination)
	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	for {
		select {
		case <-o.root.Done():
			log.Info("retry chain stopped", "attempts", o.snapshot(chain).Attempts)
			o.emit(bus.EventChainStopped, o.snapshot(chain), o.root.Err())
			return
		case <-ticker.C:
		}

		o.mu.Lock()
		chain.Attempts++
		chain.NextAttempt = time.Now().Add(o.interval)
		o.mu.Unlock()
		metrics.RetryAttempts.Inc()

		res, err := o.querier.Query(o.root, chain.Query)
		if err != nil {
			log.Warn("retry attempt failed", "attempt", o.snapshot(chain).Attempts, "err", err)
			o.emit(bus.EventChainAttempt, o.snapshot(chain), err)
			continue
		}

		o.deliver(o.root, ch, chain.Destination, res)
		log.Info("retry chain delivered", "attempts", o.snapshot(chain).Attempts)
		o.emit(bus.EventChainDone, o.snapshot(chain), nil)
		return
	}
}

// deliver sends the present parts in order: text, image, audio. A failed
// part is logged and the remaining parts are still attempted.
func (o *Orchestrator) deliver(ctx context.Context, ch domain.Channel, chatID string, res *domain.OrchestrationResult) {
	if res == nil || res.Empty() {
		o.logger.Warn("backend returned an empty answer", "channel", ch.Name(), "chat_id", chatID)
		return
	}

	if res.Text != "" {
		o.record(ch, chatID, "text", ch.SendText(ctx, chatID, res.Text))
	}
	if res.ImageURL != "" {
		o.record(ch, chatID, string(domain.MediaImage), ch.SendMedia(ctx, chatID, domain.MediaImage, res.ImageURL))
	}
	if res.AudioURL != "" {
		o.record(ch, chatID, string(domain.MediaAudio), ch.SendMedia(ctx, chatID, domain.MediaAudio, res.AudioURL))
	}
}

const partNotice = "notice"

func (o *Orchestrator) record(ch domain.Channel, chatID, part string, err error) {
	if err != nil {
		metrics.SendFailures(ch.Name(), part).Inc()
		o.logger.Error("delivery failed", "channel", ch.Name(), "chat_id", chatID, "part", part, "err", err)
		return
	}
	metrics.Delivered(ch.Name(), part).Inc()
}

// notify sends a fallback or failure notice. Notices are counted apart from
// answer parts.
func (o *Orchestrator) notify(ctx context.Context, ch domain.Channel, chatID, text string) {
	if text == "" {
		return
	}
	o.record(ch, chatID, partNotice, ch.SendText(ctx, chatID, text))
}

func (o *Orchestrator) snapshot(chain *domain.RetryChain) domain.RetryChain {
	o.mu.Lock()
	defer o.mu.Unlock()
	return *chain
}

func (o *Orchestrator) emit(typ string, chain domain.RetryChain, err error) {
	if o.events == nil {
		return
	}
	ev := bus.Event{
		Type:        typ,
		ChainID:     chain.ID,
		Channel:     chain.Channel,
		Destination: chain.Destination,
		Query:       chain.Query,
		Attempt:     chain.Attempts,
	}
	if err != nil {
		ev.Err = err.Error()
	}
	o.events.Emit(ev)
}
