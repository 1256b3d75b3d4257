// Command dubforged runs the dubbing daemon: it owns the job store, the
// scheduler, and the HTTP API, and processes jobs until terminated.
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"dubforge/internal/config"
	"dubforge/internal/daemon"
	"dubforge/internal/jobstore"
	"dubforge/internal/logging"
	"dubforge/internal/scheduler"
	"dubforge/internal/stageclient"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, _, _, err := config.Load("")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("prepare directories: %v", err)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	store, err := jobstore.Open(cfg)
	if err != nil {
		logger.Error("open job store", logging.Error(err))
		return
	}

	invoker := stageclient.New(cfg.StageServices,
		stageclient.WithConfidenceFloor(cfg.Retry.LowConfidenceFloor))
	sched := scheduler.NewManager(cfg, store, invoker, logger)

	d, err := daemon.New(cfg, store, sched, logger)
	if err != nil {
		logger.Error("create daemon", logging.Error(err))
		store.Close()
		return
	}
	defer d.Close()

	if err := d.Start(ctx); err != nil {
		logger.Error("daemon start", logging.Error(err))
		return
	}

	<-ctx.Done()
	d.Stop()
}
