package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"japagenie/internal/bus"
	"japagenie/internal/catalog"
	"japagenie/internal/channel"
	"japagenie/internal/command"
	"japagenie/internal/config"
	"japagenie/internal/conversation"
	"japagenie/internal/delivery"
	"japagenie/internal/feedback"
	"japagenie/internal/gateway"
	"japagenie/internal/orchestrator"
	"japagenie/internal/store"
	"japagenie/internal/topic"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout = 10 * time.Second
	// telegramHTTPTimeout bounds every Bot API call, replies and alerts alike.
	telegramHTTPTimeout = 15 * time.Second
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the webhook gateway",
		Long:  "Serves the Telegram and WhatsApp webhooks, health and stats endpoints. Press Ctrl+C to stop.",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, closeLog, err := newLogger(cfg.General)
	if err != nil {
		return err
	}
	defer closeLog()
	logger = log

	cat, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	logger.Info(fmt.Sprintf("%s v%s starting up", cat.Bot.Name, cat.Bot.Version))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	messageBus := bus.New(cfg.General.BusBuffer, logger)
	events := bus.NewEventBus(logger)

	if cfg.Journal.Enabled {
		journal, err := store.NewJournal(cfg.Journal.DBPath, logger)
		if err != nil {
			return fmt.Errorf("retry journal: %w", err)
		}
		defer journal.Close()
		if n, err := journal.AbandonOpen(ctx); err != nil {
			logger.Warn("cannot close out previous retry chains", "err", err)
		} else if n > 0 {
			logger.Warn("retry chains from a previous run were abandoned", "count", n)
		}
		journal.Attach(events)
	}

	var bot *tgbotapi.BotAPI
	tg := cfg.Channels.Telegram
	if tg.Token != "" {
		bot, err = newBot(tg.Token)
		if err != nil {
			return fmt.Errorf("telegram bot: %w", err)
		}
		logger.Info("telegram bot authorized", "username", bot.Self.UserName)
	} else {
		logger.Warn("telegram token not set, telegram replies and alerts are disabled")
	}

	relay := newRelay(cfg, bot)

	backend := orchestrator.NewClient(orchestrator.ClientConfig{
		URL:     cfg.Orchestrator.URL,
		Timeout: cfg.Orchestrator.Timeout(),
		Logger:  logger,
	})
	deliverer := delivery.New(ctx, delivery.Config{
		Querier:       backend,
		Notices:       cat.Notices,
		RetryInterval: cfg.Orchestrator.RetryInterval(),
		Events:        events,
		Logger:        logger,
	})

	pcfg := gateway.PipelineConfig{
		Detector: topic.NewDetector(cat.Topics),
		Engine:   conversation.NewEngine(cat.Conversation, nil),
		Router:   command.NewRouter(cat),
		Relay:    relay,
		Delivery: deliverer,
		Logger:   logger,
	}
	if tg.Enabled && bot != nil {
		pcfg.Telegram = channel.NewTelegram(channel.TelegramConfig{
			Bot:       bot,
			ParseMode: tg.ParseMode,
			Logger:    logger,
		})
	}
	if wa := cfg.Channels.WhatsApp; wa.Enabled {
		var api channel.MessageCreator
		if wa.AccountSID != "" && wa.AuthToken != "" {
			api = channel.NewTwilioAPI(wa.AccountSID, wa.AuthToken)
		}
		pcfg.WhatsApp = channel.NewWhatsApp(channel.WhatsAppConfig{
			API:            api,
			From:           wa.Number,
			SendsPerSecond: wa.SendsPerSecond,
			Burst:          wa.Burst,
			Logger:         logger,
		})
	}
	pipeline := gateway.NewPipeline(pcfg)

	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Endpoint
	}
	server := gateway.NewServer(gateway.ServerConfig{
		Addr:        cfg.Server.Addr(),
		Bus:         messageBus,
		Bot:         cat.Bot,
		Feedback:    relay,
		Chains:      deliverer,
		MetricsPath: metricsPath,
		Logger:      logger,
	})
	dispatcher := gateway.NewDispatcher(gateway.DispatcherConfig{
		Bus:         messageBus,
		Pipeline:    pipeline,
		Concurrency: cfg.General.MaxConcurrentMessages,
		Logger:      logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Start(gctx) })
	g.Go(func() error {
		dispatcher.Run(gctx)
		return nil
	})
	if cfg.Catalog.Path != "" {
		g.Go(func() error {
			if err := catalog.Watch(gctx, cfg.Catalog.Path, logger, pipeline.Reload); err != nil {
				logger.Warn("catalog hot reload disabled", "err", err)
			}
			return nil
		})
	}

	logger.Info("gateway started. Press Ctrl+C to stop.", "addr", cfg.Server.Addr())
	err = g.Wait()
	stop()

	logger.Info("shutting down gateway...")
	messageBus.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		deliverer.Wait()
		relay.Wait()
	}()
	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-time.After(shutdownTimeout):
		logger.Warn("shutdown timed out, forcing exit")
		if err == nil {
			err = fmt.Errorf("shutdown timed out")
		}
	}
	return err
}

// newBot authorizes the bot with a bounded HTTP client. The library default
// client never times out.
func newBot(token string) (*tgbotapi.BotAPI, error) {
	return tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint,
		&http.Client{Timeout: telegramHTTPTimeout})
}

// newRelay builds the feedback relay. The alert sink needs the bot; the log
// works without it.
func newRelay(cfg *config.Config, bot *tgbotapi.BotAPI) *feedback.Relay {
	rc := feedback.RelayConfig{Logger: logger}
	if cfg.Feedback.Enabled {
		rc.Log = feedback.NewLog(cfg.Feedback.LogPath)
	}
	tg := cfg.Channels.Telegram
	if bot != nil && tg.FeedbackChannel != "" {
		rc.Sink = feedback.NewTelegramSink(bot, tg.FeedbackChannel, tg.ParseMode)
	}
	return feedback.NewRelay(rc)
}
