package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/art-volia/tg-analyzer/config"
	"github.com/art-volia/tg-analyzer/db"
	"github.com/art-volia/tg-analyzer/events"
	"github.com/art-volia/tg-analyzer/heartbeat"
	"github.com/art-volia/tg-analyzer/ingest"
	"github.com/art-volia/tg-analyzer/internal/logutil"
	"github.com/art-volia/tg-analyzer/internal/telegramclient"
	"github.com/art-volia/tg-analyzer/pacing"
	"github.com/art-volia/tg-analyzer/procguard"
	"github.com/art-volia/tg-analyzer/store"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start one collection pass over the configured chats",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := runWorker(cmd.Context()); err != nil {
				_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				return err
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
}

func runWorker(ctx context.Context) error {
	logger, err := logutil.LoggerFromViper()
	if err != nil {
		return err
	}

	cfg, err := config.FromViper()
	if err != nil {
		return fmt.Errorf("configuration: %w", err)
	}

	guard, err := procguard.Acquire(cfg.PIDPath(), procguard.Options{}, cfg.HeartbeatPath())
	if err != nil {
		return err
	}
	defer guard.Release()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	gdb, err := db.Open(cfg.DB)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	if cfg.DB.AutoMigrate {
		if err := db.AutoMigrate(gdb); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	st := store.New(gdb)

	acc, err := st.GetOrCreateAccount(ctx, cfg.Telegram.SessionName)
	if err != nil {
		return err
	}

	heart := heartbeat.NewReporter(cfg.HeartbeatPath(), cfg.Telegram.SessionName, heartbeat.Options{
		RunID:  uuid.NewString(),
		Logger: logger,
	})

	pacer := pacing.NewPolicy(pacing.PolicyConfig{
		BatchSize:           cfg.BatchSize,
		PauseBetweenBatches: cfg.PauseBetweenBatches,
		PauseBetweenChats:   cfg.PauseBetweenChats,
		MicroPauseEveryN:    cfg.MicroPauseEveryN,
		MicroPauseMS:        cfg.MicroPauseMS,
	})

	var notifier ingest.Notifier
	if cfg.Events.Enabled() {
		pub, err := events.New(cfg.Events.URL, cfg.Events.Exchange, logger)
		if err != nil {
			// Progress events are best-effort, like the heartbeat.
			logger.Warn("events_disabled", "error", err.Error())
		} else {
			defer pub.Close()
			notifier = &eventNotifier{pub: pub, session: cfg.Telegram.SessionName}
		}
	}

	if cfg.UseTakeout {
		logger.Warn("takeout_unsupported", "detail", "bulk-export sessions are not wired for this client; collecting on the regular session")
	}

	client := telegramclient.New(telegramclient.Options{
		APIID:       cfg.Telegram.APIID,
		APIHash:     cfg.Telegram.APIHash,
		SessionDir:  cfg.Telegram.SessionDir,
		SessionName: cfg.Telegram.SessionName,
		Logger:      logger,
	})

	engine := ingest.NewEngine(client, st, st, pacer, heart, notifier, logger, ingest.Options{
		Chats:          cfg.Chats,
		IncludeDialogs: cfg.IncludeDialogs,
	})

	logger.Info("worker_starting", "session", cfg.Telegram.SessionName, "chats", len(cfg.Chats), "include_dialogs", cfg.IncludeDialogs)
	return client.Run(ctx, func(ctx context.Context) error {
		return engine.Run(ctx, acc.ID)
	})
}

type eventNotifier struct {
	pub     events.Publisher
	session string
}

func (n *eventNotifier) BatchPersisted(ctx context.Context, chatID, saved int64, mode string) error {
	return n.pub.Publish(ctx, events.KeyBatchPersisted, events.Envelope{
		Meta: events.Meta{Kind: events.KeyBatchPersisted, Source: events.Source},
		Data: events.BatchPersisted{ChatID: chatID, Saved: saved, Mode: mode},
	})
}

func (n *eventNotifier) RunFinished(ctx context.Context, directPeers int) error {
	return n.pub.Publish(ctx, events.KeyRunFinished, events.Envelope{
		Meta: events.Meta{Kind: events.KeyRunFinished, Source: events.Source},
		Data: events.RunFinished{Session: n.session, DirectPeers: directPeers},
	})
}
