// Package conversation decides whether the bot joins a non-command
// conversation and composes a human-sounding reply when it does.
package conversation

import (
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"japagenie/internal/catalog"
	"japagenie/internal/domain"
)

// Rand is the random source used by the engine. *rand.Rand satisfies it;
// tests pass a seeded one to make decisions reproducible.
type Rand interface {
	Float64() float64
	IntN(n int) int
}

// Engine applies the response policy. Safe for concurrent use.
type Engine struct {
	cfg catalog.Conversation

	mu  sync.Mutex // guards rnd, which need not be goroutine-safe
	rnd Rand
}

// NewEngine creates an engine. A nil rnd uses a time-seeded source.
func NewEngine(cfg catalog.Conversation, rnd Rand) *Engine {
	if rnd == nil {
		seed := uint64(time.Now().UnixNano())
		rnd = rand.New(rand.NewPCG(seed, seed>>1|1))
	}
	return &Engine{cfg: cfg, rnd: rnd}
}

// Decide runs the full policy: ShouldRespond followed by Compose.
// Callers that need the human-like pause between the two call them separately.
func (e *Engine) Decide(text string, kind domain.ChatKind, topicDetected bool) domain.ResponseDecision {
	if !e.ShouldRespond(text, kind, topicDetected) {
		return domain.ResponseDecision{}
	}
	return domain.ResponseDecision{Respond: true, Text: e.Compose(topicDetected)}
}

// ShouldRespond draws against the response probability for the message.
// Short messages and commands are never answered.
func (e *Engine) ShouldRespond(text string, kind domain.ChatKind, topicDetected bool) bool {
	text = strings.TrimSpace(text)
	if len(strings.Fields(text)) < e.cfg.MinTokens {
		return false
	}
	if strings.HasPrefix(text, domain.CommandPrefix) {
		return false
	}

	rate := e.responseRate(text, kind, topicDetected)

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rnd.Float64() < rate
}

// responseRate returns the probability of answering, boosted for questions
// and topic matches and capped at RateCap.
func (e *Engine) responseRate(text string, kind domain.ChatKind, topicDetected bool) float64 {
	rate, ok := e.cfg.ResponseRates[string(kind)]
	if !ok {
		rate = e.cfg.DefaultRate
	}
	if topicDetected || e.isQuestion(text) {
		rate = min(rate*e.cfg.Boost, e.cfg.RateCap)
	}
	return rate
}

func (e *Engine) isQuestion(text string) bool {
	lower := strings.ToLower(text)
	for _, w := range e.cfg.QuestionWords {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

// Compose picks a template from the topic or general pool, applies one
// variation and occasionally prepends a thinking prefix.
func (e *Engine) Compose(topicDetected bool) string {
	pool := e.cfg.Templates.General
	if topicDetected {
		pool = e.cfg.Templates.Topic
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	reply := pool[e.rnd.IntN(len(pool))]
	reply = e.cfg.Variations[e.rnd.IntN(len(e.cfg.Variations))].Apply(reply)

	if e.rnd.Float64() < e.cfg.ThinkerChance {
		reply = e.cfg.Thinkers[e.rnd.IntN(len(e.cfg.Thinkers))] + reply
	}
	return reply
}

// HumanDelay returns how long to pause before replying, uniform in the
// configured range.
func (e *Engine) HumanDelay() time.Duration {
	span := e.cfg.Delay.Max - e.cfg.Delay.Min
	if span <= 0 {
		return e.cfg.Delay.Min
	}
	e.mu.Lock()
	f := e.rnd.Float64()
	e.mu.Unlock()
	return e.cfg.Delay.Min + time.Duration(f*float64(span))
}
