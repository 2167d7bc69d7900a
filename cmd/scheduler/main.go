package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/qs3c/gen_go_server/config"
	"github.com/qs3c/gen_go_server/internal/app"
	"github.com/qs3c/gen_go_server/internal/logger"
	"github.com/qs3c/gen_go_server/internal/pkg/cron"
)

var (
	configPath = flag.String("config", "config.yaml", "path to config file")
	runNow     = flag.Bool("run-now", false, "run one reset and expiry sweep, then exit")
)

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

	cronService := cron.NewService(a.Ledger)

	if *runNow {
		if err := cronService.RunNow(); err != nil {
			log.Errorf("Ledger sweep failed: %v", err)
			return
		}
		return
	}

	cronService.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down scheduler...")
	cronService.Stop()
}
