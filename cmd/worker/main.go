package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/qs3c/gen_go_server/config"
	"github.com/qs3c/gen_go_server/internal/app"
	"github.com/qs3c/gen_go_server/internal/logger"
	"github.com/qs3c/gen_go_server/internal/worker"
)

var configPath = flag.String("config", "config.yaml", "path to config file")

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.Setup(cfg.Log)

	a, err := app.New(cfg)
	if err != nil {
		log.Fatalf("Failed to init: %v", err)
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	recoverer := worker.NewRecoverer(a.GenRepo, a.Queue, cfg)
	go recoverer.Start(ctx)

	processor := worker.NewProcessor(a.Generation, a.Queue, cfg)
	pool := worker.NewPool(a.Queue, processor, cfg)

	log.WithFields(log.Fields{
		"queue":       cfg.Queue.BillingQueue,
		"max_workers": cfg.Queue.MaxWorkers,
	}).Info("worker started")

	pool.Run(ctx)
	log.Info("worker shutdown complete")
}
