// Package gateway wires inbound messages from the bus through topic
// detection, command routing, the conversation engine and backend delivery,
// and serves the webhook and status endpoints.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"

	"japagenie/internal/bus"
	"japagenie/internal/catalog"
	"japagenie/internal/command"
	"japagenie/internal/conversation"
	"japagenie/internal/domain"
	"japagenie/internal/feedback"
	"japagenie/internal/metrics"
	"japagenie/internal/topic"
)

const defaultConcurrency = 20

// Deliverer answers a message with a backend-computed reply.
// *delivery.Orchestrator satisfies it.
type Deliverer interface {
	Handle(ctx context.Context, ch domain.Channel, chatID, text string)
}

// Observer records topic matches. *feedback.Relay satisfies it.
type Observer interface {
	Observe(ctx context.Context, msg domain.InboundMessage, keywords domain.TopicMatch)
}

// Pipeline handles one canonical inbound message at a time.
type Pipeline struct {
	tables   atomic.Pointer[catalogTables]
	relay    Observer
	delivery Deliverer
	channels map[string]domain.Channel
	logger   *slog.Logger
}

type PipelineConfig struct {
	Detector *topic.Detector
	Engine   *conversation.Engine
	Router   *command.Router
	Relay    Observer  // nil skips feedback
	Delivery Deliverer // required when WhatsApp is set
	Telegram domain.Channel
	WhatsApp domain.Channel
	Logger   *slog.Logger
}

var _ Observer = (*feedback.Relay)(nil)

// catalogTables are the catalog-derived components, swapped together on reload.
type catalogTables struct {
	detector *topic.Detector
	engine   *conversation.Engine
	router   *command.Router
}

func NewPipeline(cfg PipelineConfig) *Pipeline {
	channels := make(map[string]domain.Channel, 2)
	if cfg.Telegram != nil {
		channels[cfg.Telegram.Name()] = cfg.Telegram
	}
	if cfg.WhatsApp != nil {
		channels[cfg.WhatsApp.Name()] = cfg.WhatsApp
	}
	p := &Pipeline{
		relay:    cfg.Relay,
		delivery: cfg.Delivery,
		channels: channels,
		logger:   cfg.Logger,
	}
	p.tables.Store(&catalogTables{detector: cfg.Detector, engine: cfg.Engine, router: cfg.Router})
	return p
}

// Reload swaps in the vocabulary, response policy and command texts of cat.
// Messages already in flight finish with the tables they started with.
func (p *Pipeline) Reload(cat *catalog.Catalog) {
	p.tables.Store(&catalogTables{
		detector: topic.NewDetector(cat.Topics),
		engine:   conversation.NewEngine(cat.Conversation, nil),
		router:   command.NewRouter(cat),
	})
}

// Handle runs the pipeline for msg. Failures are logged; nothing is returned
// because the provider has already been acknowledged.
func (p *Pipeline) Handle(ctx context.Context, msg domain.InboundMessage) {
	ch, ok := p.channels[msg.Channel]
	if !ok {
		p.logger.Warn("message for unconfigured channel", "channel", msg.Channel)
		return
	}
	metrics.MessagesReceived(msg.Channel).Inc()

	p.logger.Info("message received",
		"channel", msg.Channel,
		"chat_id", msg.ChatID,
		"kind", msg.Kind,
		"sender", msg.SenderID,
		"content_len", len(msg.Text),
	)

	t := p.tables.Load()
	keywords := t.detector.Detect(msg.Text)
	if keywords.Matched() {
		metrics.TopicsDetected.Inc()
		p.logger.Info("topic detected", "chat_id", msg.ChatID, "keywords", keywords)
		if p.relay != nil {
			p.relay.Observe(ctx, msg, keywords)
		}
	}

	switch msg.Channel {
	case "whatsapp":
		p.handleWhatsApp(ctx, t, ch, msg)
	default:
		p.handleConversation(ctx, t, ch, msg, keywords.Matched())
	}
}

// handleConversation answers commands locally and otherwise lets the
// conversation engine decide whether to chime in.
func (p *Pipeline) handleConversation(ctx context.Context, t *catalogTables, ch domain.Channel, msg domain.InboundMessage, topicDetected bool) {
	if msg.IsCommand() {
		p.handleCommand(ctx, t.router, ch, msg)
		return
	}

	if !t.engine.ShouldRespond(msg.Text, msg.Kind, topicDetected) {
		return
	}
	if err := wait(ctx, t.engine.HumanDelay()); err != nil {
		return
	}

	reply := t.engine.Compose(topicDetected)
	if err := ch.SendText(ctx, msg.ChatID, reply); err != nil {
		metrics.SendFailures(ch.Name(), "text").Inc()
		p.logger.Error("conversation reply failed", "channel", ch.Name(), "chat_id", msg.ChatID, "err", err)
		return
	}
	metrics.ConversationReplies.Inc()
	p.logger.Info("conversation reply sent", "chat_id", msg.ChatID, "topic", topicDetected)
}

func (p *Pipeline) handleCommand(ctx context.Context, router *command.Router, ch domain.Channel, msg domain.InboundMessage) {
	cmd := command.Parse(msg.Text)
	if cmd == nil {
		return
	}
	metrics.CommandsTotal.Inc()

	reply, ok := router.DispatchFor(msg.Channel, msg.Text)
	if !ok {
		metrics.UnknownCommands.Inc()
		reply = router.UnknownReply(cmd.Name)
	}
	if err := ch.SendText(ctx, msg.ChatID, reply); err != nil {
		metrics.SendFailures(ch.Name(), "text").Inc()
		p.logger.Error("command reply failed", "command", cmd.Name, "chat_id", msg.ChatID, "err", err)
	}
}

// handleWhatsApp answers known commands locally and sends everything else,
// unknown slash-text included, to the backend.
func (p *Pipeline) handleWhatsApp(ctx context.Context, t *catalogTables, ch domain.Channel, msg domain.InboundMessage) {
	if e, ok := ch.(interface{ Enabled() bool }); ok && !e.Enabled() {
		p.logger.Debug("whatsapp disabled, message ignored", "chat_id", msg.ChatID)
		return
	}

	if msg.IsCommand() {
		if reply, ok := t.router.DispatchFor(msg.Channel, msg.Text); ok {
			metrics.CommandsTotal.Inc()
			if err := ch.SendText(ctx, msg.ChatID, reply); err != nil {
				metrics.SendFailures(ch.Name(), "text").Inc()
				p.logger.Error("command reply failed", "chat_id", msg.ChatID, "err", err)
			}
			return
		}
	}

	if p.delivery == nil {
		p.logger.Error("no backend configured for whatsapp", "chat_id", msg.ChatID)
		return
	}
	p.delivery.Handle(ctx, ch, msg.ChatID, msg.Text)
}

// Dispatcher consumes the inbound bus and runs the pipeline for each
// message with bounded concurrency.
type Dispatcher struct {
	bus         *bus.InMemoryBus
	pipeline    *Pipeline
	concurrency int
	logger      *slog.Logger
}

type DispatcherConfig struct {
	Bus         *bus.InMemoryBus
	Pipeline    *Pipeline
	Concurrency int // max messages handled at once (default 20)
	Logger      *slog.Logger
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	return &Dispatcher{
		bus:         cfg.Bus,
		pipeline:    cfg.Pipeline,
		concurrency: cfg.Concurrency,
		logger:      cfg.Logger,
	}
}

// Run blocks until ctx is cancelled or the bus is closed, then waits for
// in-flight messages to finish.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("dispatcher started", "concurrency", d.concurrency)

	sem := make(chan struct{}, d.concurrency)
	inbound := d.bus.Subscribe()
	defer func() {
		for range d.concurrency {
			sem <- struct{}{}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher stopping")
			return
		case msg, ok := <-inbound:
			if !ok {
				d.logger.Info("inbound bus closed, dispatcher stopping")
				return
			}
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			go func(m domain.InboundMessage) {
				defer func() { <-sem }()
				d.handle(ctx, m)
			}(msg)
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, msg domain.InboundMessage) {
	defer func() {
		if r := recover(); r != nil {
			metrics.HandlerPanics.Inc()
			d.logger.Error("panic while handling message",
				"channel", msg.Channel,
				"chat_id", msg.ChatID,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
		}
	}()
	d.pipeline.Handle(ctx, msg)
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
