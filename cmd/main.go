package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"sensor-gateway/internal/alert"
	"sensor-gateway/internal/api"
	"sensor-gateway/internal/config"
	"sensor-gateway/internal/db"
	"sensor-gateway/internal/dispatch"
	"sensor-gateway/internal/gateway"
	"sensor-gateway/internal/logging"
	"sensor-gateway/internal/providers"
	"sensor-gateway/internal/registry"
	"sensor-gateway/internal/router"
	"sensor-gateway/internal/store"
	"sensor-gateway/internal/telemetry"
)

const shutdownGrace = 10 * time.Second

func main() {
	// Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Logging.Dir, cfg.Logging.Level)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer logger.Close()

	// Alert rules: an invalid rule set must keep the process from starting.
	rules, err := config.LoadRules(cfg.Rules.Path)
	if err != nil {
		logger.Errorf("Rule set rejected: %v", err)
		log.Fatalf("Rule set rejected: %v", err)
	}
	evaluator, err := alert.New(rules, logger)
	if err != nil {
		logger.Errorf("Rule set rejected: %v", err)
		log.Fatalf("Rule set rejected: %v", err)
	}
	logger.Infof("Loaded %d alert rules", len(rules))

	st := store.New(cfg.Store.StalenessThreshold, logger)
	reg := registry.New(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Optional subscription persistence
	if cfg.DB.DSN != "" {
		dbConn, err := db.New(cfg.DB.DSN)
		if err != nil {
			logger.Errorf("DB connect failed: %v", err)
			log.Fatalf("DB connect failed: %v", err)
		}
		defer dbConn.Close()
		if err := dbConn.Init(ctx); err != nil {
			logger.Errorf("DB init failed: %v", err)
			log.Fatalf("DB init failed: %v", err)
		}
		if err := reg.WithStore(ctx, dbConn); err != nil {
			logger.Errorf("Subscription load failed: %v", err)
			log.Fatalf("Subscription load failed: %v", err)
		}
	}

	// Telemetry source
	var src telemetry.Source
	switch cfg.Telemetry.Source {
	case config.SourceKafka:
		src = telemetry.NewKafkaSource(cfg, logger)
	default:
		src = telemetry.NewMQTTSource(cfg, logger)
	}
	poller := telemetry.NewHubPoller(cfg, logger)

	// Chat platform, command router, dispatcher
	rt := router.New(st, reg, poller, src, logger)
	tg, err := providers.NewTelegram(cfg, rt, logger)
	if err != nil {
		logger.Errorf("Telegram init failed: %v", err)
		log.Fatalf("Telegram init failed: %v", err)
	}
	disp := dispatch.New(tg, reg, cfg, logger)
	tg.SetDispatcher(disp)

	stream := api.NewAlertStream(logger)
	disp.OnAlert(stream.Broadcast)

	var wg sync.WaitGroup
	disp.Start(ctx, &wg)

	gw := gateway.New(src, poller, st, evaluator, disp, cfg, logger)
	rt.SetIngest(gw.Ingest)
	gw.Start(ctx, &wg)

	wg.Add(1)
	go func() {
		defer wg.Done()
		tg.Run(ctx)
	}()

	// Start API server
	h := api.NewHandler(st, reg, src, stream, logger)
	r := api.NewRouter(h, logger)
	go func() {
		logger.Infof("API started on %s", cfg.API.Port)
		if err := r.Run(cfg.API.Port); err != nil {
			logger.Errorf("API run failed: %v", err)
		}
	}()

	// Handle graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	logger.Infof("Shutting down...")
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownGrace):
		logger.Errorf("Shutdown grace period exceeded, exiting anyway")
	}
	logger.Infof("Gateway stopped")
}
