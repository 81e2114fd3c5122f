package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/rekkusuri/Discord-Chat-Forwarder/internal/config"
	"github.com/rekkusuri/Discord-Chat-Forwarder/internal/exporter"
	"github.com/rekkusuri/Discord-Chat-Forwarder/internal/forward"
	"github.com/rekkusuri/Discord-Chat-Forwarder/internal/logger"
	"github.com/rekkusuri/Discord-Chat-Forwarder/internal/scheduler"
	"github.com/rekkusuri/Discord-Chat-Forwarder/internal/state"
	"github.com/rekkusuri/Discord-Chat-Forwarder/internal/webhook"
)

func main() {
	// 1. Load config
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// 2. Initialize logger
	if err := logger.Init(cfg.LogLevel, cfg.LogFile); err != nil {
		panic("failed to init logger: " + err.Error())
	}
	log := logger.Get()
	log.Info().Msg("starting relay")

	// 3. Setup context with graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info().Msg("received shutdown signal")
		cancel()
	}()

	channels, err := cfg.Resolve()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to resolve channels")
	}

	exp := exporter.NewCLIExporter(cfg.ExporterPath, cfg.BotToken, log)

	// One channel at a time: reply threading depends on strict source order.
	for _, ch := range channels {
		if ctx.Err() != nil {
			break
		}
		if err := runChannel(ctx, cfg, exp, ch, log); err != nil {
			log.Error().Err(err).Str("channel", ch.ID).Msg("channel run failed")
		}
	}

	log.Info().Msg("relay done")
}

func runChannel(ctx context.Context, cfg *config.Config, exp exporter.Exporter, ch config.Channel, log *logger.Logger) error {
	stateDir := filepath.Join(cfg.StateDir, ch.ID)
	exportDir := filepath.Join(cfg.ExportRoot, ch.ID)
	if err := os.MkdirAll(exportDir, 0755); err != nil {
		return err
	}

	progress, err := state.LoadProgress(filepath.Join(stateDir, "progress.json"), log)
	if err != nil {
		return err
	}
	dedupe, err := state.LoadDedupe(filepath.Join(stateDir, "state.json"), log)
	if err != nil {
		return err
	}
	identity, err := state.LoadIdentity(filepath.Join(stateDir, "id_map.json"), log)
	if err != nil {
		return err
	}

	client, err := webhook.NewClient(webhook.Config{
		WebhookURL: ch.Webhook,
		Limiter:    webhook.NewRateLimiter(cfg.WebhookRPS, 1),
		Log:        log,
	})
	if err != nil {
		return err
	}

	fwd := forward.New(client, client, dedupe, identity, forward.Options{
		SegmentLimit:                  cfg.SegmentLimit,
		AttachmentCap:                 cfg.AttachmentCap(),
		MaxFilesPerPost:               cfg.MaxFilesPerPost,
		MarkProcessedOnPartialFailure: cfg.MarkPartial,
		FlushEachMessage:              cfg.FlushEachMsg,
		DryRun:                        cfg.DryRun,
	}, log)

	sched := scheduler.New(exp, fwd, progress, scheduler.Options{
		ChannelID:    ch.ID,
		ExportDir:    exportDir,
		Window:       cfg.Window(),
		Overlap:      cfg.Overlap(),
		SafetyMargin: cfg.SafetyMargin(),
		Retention:    cfg.Retention,
		DryRun:       cfg.DryRun,
	}, log)

	res, err := sched.Run(ctx)
	if err != nil {
		return err
	}

	evt := log.Info().
		Str("channel", ch.ID).
		Int("windows", res.WindowsProcessed).
		Int("forwarded", res.Forwarded)
	if res.CaughtUp {
		evt.Msg("channel caught up")
	} else {
		evt.Msg("channel run aborted, remaining windows retry next invocation")
	}
	return nil
}
