package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rewired-gh/stakesync/internal/cache"
	"github.com/rewired-gh/stakesync/internal/config"
	"github.com/rewired-gh/stakesync/internal/ingest"
	"github.com/rewired-gh/stakesync/internal/logger"
	"github.com/rewired-gh/stakesync/internal/matcher"
	"github.com/rewired-gh/stakesync/internal/notify"
	"github.com/rewired-gh/stakesync/internal/remote"
	"github.com/rewired-gh/stakesync/internal/stake"
	"github.com/rewired-gh/stakesync/internal/storage"
	"github.com/rewired-gh/stakesync/internal/store"
	"github.com/rewired-gh/stakesync/internal/syncer"
	"github.com/rewired-gh/stakesync/internal/table"
)

var configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Configuration loaded from %s", *configPath)

	persister, err := storage.New(cfg.Storage.DBPath)
	if err != nil {
		logger.Fatal("Failed to initialize storage: %v", err)
	}
	defer func() {
		if err := persister.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}()

	var sinks []notify.Sink
	if cfg.Telegram.Enabled {
		tg, err := notify.NewTelegramSink(cfg.Telegram.BotToken, cfg.Telegram.ChatID,
			cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase)
		if err != nil {
			logger.Fatal("Failed to initialize Telegram sink: %v", err)
		}
		sinks = append(sinks, tg)
		logger.Info("Telegram notification sink enabled")
	}
	surface := notify.NewSurface(sinks...)

	st := store.New(persister, store.DefaultPolicy())
	recordCache := cache.New()
	engine := stake.NewEngine(st, recordCache)
	reconciler := table.NewReconciler(st, recordCache, engine, matcher.DefaultLayout())

	// Reconciler banner conditions double as notifications.
	st.AddEffect([]string{store.PathActiveBanner}, func(s *store.Store, _ string) {
		banner, ok := s.Get(store.PathActiveBanner).(map[string]interface{})
		if !ok {
			return
		}
		if msg, ok := banner["message"].(string); ok && msg != "" {
			surface.Push(notify.KindBanner, "Row matching: %s", msg)
		}
	})

	if err := st.Init(); err != nil {
		logger.Fatal("Failed to initialize state store: %v", err)
	}

	client := remote.NewClient(cfg.Remote)
	var sync *syncer.Reconciler
	var feed *remote.Feed
	if cfg.Sync.Enabled {
		feed = remote.NewFeed(cfg.Remote.RealtimeURL, cfg.Remote.APIKey, cfg.Remote.HeartbeatEvery)
		sync = syncer.New(st, client, feed, surface, cfg.Sync)
		logger.Info("Sync reconciler ready (debounce: %v); waiting for login", cfg.Sync.Debounce)
	} else {
		logger.Info("Remote sync disabled")
	}

	server := ingest.New(cfg.Ingest, st, recordCache, engine, reconciler, sync, surface, client)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, cleaning up...")
		if sync != nil {
			sync.Stop()
		}
		if feed != nil {
			feed.Close()
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown failed: %v", err)
		}
	}()

	if err := server.Start(); err != nil {
		logger.Fatal("Server failed: %v", err)
	}
	logger.Info("Service stopped")
}
