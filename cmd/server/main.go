package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/qs3c/gen_go_server/config"
	"github.com/qs3c/gen_go_server/internal/api"
	"github.com/qs3c/gen_go_server/internal/api/handler"
	"github.com/qs3c/gen_go_server/internal/app"
	"github.com/qs3c/gen_go_server/internal/database"
	"github.com/qs3c/gen_go_server/internal/logger"
	"github.com/qs3c/gen_go_server/internal/pkg/pubsub"
	"github.com/qs3c/gen_go_server/internal/pkg/ws"
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

	if err := database.AutoMigrate(a.DB); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 进度消息可能来自 worker 进程，统一经 Redis 转发到本机连接
	wsHub := ws.NewHub()
	subscriber := pubsub.NewSubscriber(a.Redis)
	go func() {
		err := subscriber.Subscribe(ctx, func(msg *pubsub.ProgressMessage) {
			if !wsHub.IsOnline(msg.AccountID) {
				return
			}
			if err := wsHub.SendToAccount(msg.AccountID, &ws.Message{Type: msg.Type, Data: msg}); err != nil {
				log.WithError(err).WithField("request_id", msg.RequestID).Warn("forward progress failed")
			}
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			log.WithError(err).Error("progress subscription stopped")
		}
	}()

	router := api.NewRouter(
		handler.NewGenerationHandler(a.Generation),
		handler.NewAccountHandler(a.Ledger),
		handler.NewProvidersHandler(a.Health),
		handler.NewWebSocketHandler(wsHub, cfg.JWT.Secret, cfg.CORS.AllowedOrigins),
		a.Ledger,
		cfg,
	)

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router.Setup(),
	}

	go func() {
		log.WithField("addr", srv.Addr).Info("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("server shutdown failed")
	}
}
