package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"relaybot/internal/bus"
	"relaybot/internal/channel"
	"relaybot/internal/config"
	"relaybot/internal/domain"
	"relaybot/internal/locale"
	"relaybot/internal/metrics"
	"relaybot/internal/provider"
	"relaybot/internal/relay"
	"relaybot/internal/usage"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

// app is the wired relay: bus, handler, loop and the optional operator sinks.
type app struct {
	logger   *slog.Logger
	events   *bus.EventBus
	bus      *bus.InMemoryBus
	loop     *relay.Loop
	ledger   *usage.Ledger
	registry *prometheus.Registry
	running  chan struct{}
}

func newFactory(cfg *config.Config, logger *slog.Logger) *provider.Factory {
	return provider.NewFactory(cfg.Inference, logger)
}

func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	catalog, err := locale.Open(cfg.General.LocaleFile, cfg.General.Locale)
	if err != nil {
		return nil, fmt.Errorf("locale: %w", err)
	}
	prov, err := newFactory(cfg, logger).Provider()
	if err != nil {
		return nil, fmt.Errorf("provider: %w", err)
	}

	a := &app{
		logger: logger,
		events: bus.NewEventBus(logger),
		bus:    bus.New(cfg.General.BusBuffer, logger),
	}

	if cfg.Metrics.Enabled {
		a.registry = prometheus.NewRegistry()
		a.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		collector, err := metrics.New(a.registry)
		if err != nil {
			return nil, fmt.Errorf("metrics: %w", err)
		}
		collector.Subscribe(a.events)
	}

	if cfg.Usage.Enabled {
		ledger, err := usage.Open(cfg.Usage.DBPath, logger)
		if err != nil {
			return nil, fmt.Errorf("usage ledger: %w", err)
		}
		ledger.Subscribe(a.events)
		a.ledger = ledger
	}

	handler := relay.NewHandler(relay.HandlerConfig{
		Provider: prov,
		Settings: relay.Settings{
			Model:               cfg.Inference.Model,
			SystemPrompt:        cfg.Inference.SystemPrompt,
			IncludeSystemPrompt: cfg.Inference.IncludeSystemPrompt,
			BotName:             cfg.General.BotName,
		},
		Catalog: catalog,
		Events:  a.events,
		Logger:  logger,
	})
	a.loop = relay.NewLoop(relay.LoopConfig{
		Bus:    a.bus,
		Router: relay.NewRouter(handler, a.events, logger),
		Logger: logger,
	})

	logger.Info("relay ready",
		"provider", prov.Name(),
		"model", cfg.Inference.Model,
		"deployment", cfg.Inference.Deployment,
		"locale", catalog.Language(),
	)
	return a, nil
}

// run starts the relay loop in the background.
func (a *app) run(ctx context.Context) {
	a.running = make(chan struct{})
	go func() {
		defer close(a.running)
		a.loop.Run(ctx)
	}()
}

// close drains in-flight turns and releases the ledger.
func (a *app) close() {
	a.bus.Close()
	if a.running != nil {
		<-a.running
	}
	a.loop.Wait()
	if a.ledger != nil {
		if err := a.ledger.Close(); err != nil {
			a.logger.Warn("close usage ledger", "err", err)
		}
	}
}

// buildChannels returns the network channels enabled in cfg.
func buildChannels(cfg *config.Config, logger *slog.Logger) []domain.Channel {
	var chs []domain.Channel
	c := cfg.Channels

	if c.BotFramework.Enabled {
		chs = append(chs, channel.NewBotFramework(channel.BotFrameworkConfig{
			Host:        c.BotFramework.Host,
			Port:        c.BotFramework.Port,
			Path:        c.BotFramework.Path,
			AppID:       c.BotFramework.AppID,
			AppPassword: c.BotFramework.AppPassword,
			TenantID:    c.BotFramework.TenantID,
			Logger:      logger,
		}))
	}
	if c.Telegram.Enabled && c.Telegram.Token != "" {
		chs = append(chs, channel.NewTelegram(channel.TelegramConfig{
			Token:     c.Telegram.Token,
			AllowFrom: c.Telegram.AllowFrom,
			ParseMode: c.Telegram.ParseMode,
			Logger:    logger,
		}))
	}
	if c.Discord.Enabled && c.Discord.Token != "" {
		chs = append(chs, channel.NewDiscord(channel.DiscordConfig{
			Token:            c.Discord.Token,
			GuildID:          c.Discord.GuildID,
			WelcomeChannelID: c.Discord.WelcomeChannelID,
			Logger:           logger,
		}))
	}
	if c.Slack.Enabled && c.Slack.BotToken != "" && c.Slack.AppToken != "" {
		chs = append(chs, channel.NewSlack(channel.SlackConfig{
			BotToken: c.Slack.BotToken,
			AppToken: c.Slack.AppToken,
			Logger:   logger,
		}))
	}
	if c.WebSocket.Enabled {
		chs = append(chs, channel.NewWebSocketChannel(channel.WSConfig{
			Port:   c.WebSocket.Port,
			Path:   c.WebSocket.Path,
			Logger: logger,
		}))
	}
	if c.Webhook.Enabled {
		chs = append(chs, channel.NewWebhook(channel.WebhookConfig{
			Port:              c.Webhook.Port,
			Path:              c.Webhook.Path,
			Secret:            c.Webhook.Secret,
			AllowedReplyHosts: c.Webhook.AllowedReplyHosts,
			Logger:            logger,
		}))
	}
	return chs
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "serve",
		Aliases: []string{"gateway"},
		Short:   "Start all enabled channels and the relay loop",
		Long:    "Starts every enabled channel, the relay loop and, when configured, the metrics endpoint. Press Ctrl+C to stop.",
		RunE:    runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, closer, err := loadConfig()
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}

	channels := buildChannels(cfg, logger)
	if len(channels) == 0 {
		a.close()
		return errors.New("no channels enabled")
	}

	a.run(ctx)

	if a.registry != nil {
		go func() {
			h := metrics.Handler(a.registry, cfg.Metrics.Endpoint)
			if err := metrics.Serve(ctx, cfg.Metrics.Port, h, logger); err != nil {
				logger.Error("metrics endpoint error", "err", err)
			}
		}()
	}

	for _, ch := range channels {
		go func(ch domain.Channel) {
			if err := ch.Start(ctx, a.bus); err != nil {
				logger.Error("channel error", "channel", ch.Name(), "err", err)
			}
		}(ch)
		logger.Info("channel enabled", "channel", ch.Name())
	}

	logger.Info("relaybot started. Press Ctrl+C to stop.")

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, ch := range channels {
			if err := ch.Stop(); err != nil {
				logger.Warn("channel stop", "channel", ch.Name(), "err", err)
			}
		}
		a.close()
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
		return nil
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timed out, forcing exit")
		return errors.New("shutdown timed out")
	}
}

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat in the terminal",
		RunE:  runChat,
	}
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, logger, closer, err := loadConfig()
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	a.run(ctx)

	cli := channel.NewCLI(channel.CLIConfig{
		BotName: cfg.General.BotName,
		Logger:  logger,
		In:      cmd.InOrStdin(),
		Out:     cmd.OutOrStdout(),
	})
	return cli.Start(ctx, a.bus)
}
