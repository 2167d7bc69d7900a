package app

import (
	"fmt"

	"github.com/go-redis/redis/v8"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/qs3c/gen_go_server/config"
	"github.com/qs3c/gen_go_server/internal/database"
	"github.com/qs3c/gen_go_server/internal/pkg/aiclient"
	"github.com/qs3c/gen_go_server/internal/pkg/lock"
	"github.com/qs3c/gen_go_server/internal/pkg/oss"
	"github.com/qs3c/gen_go_server/internal/pkg/provider"
	"github.com/qs3c/gen_go_server/internal/pkg/pubsub"
	"github.com/qs3c/gen_go_server/internal/pkg/queue"
	"github.com/qs3c/gen_go_server/internal/repository"
	"github.com/qs3c/gen_go_server/internal/service"
)

// App 各进程共用的依赖
type App struct {
	Config     *config.Config
	DB         *gorm.DB
	Redis      *redis.Client
	Queue      *queue.Queue
	Publisher  *pubsub.Publisher
	GenRepo    *repository.GenerationRepository
	Ledger     *service.LedgerService
	Health     *service.HealthTracker
	Generation *service.GenerationService
}

// New 连接数据库与 Redis 并组装服务
func New(cfg *config.Config) (*App, error) {
	db, err := database.NewDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	log.WithField("driver", cfg.Database.Driver).Info("database connected")

	rdb, err := database.NewRedis(&cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	log.Info("redis connected")

	return Wire(cfg, db, rdb)
}

// Wire 在已有连接上组装服务
func Wire(cfg *config.Config, db *gorm.DB, rdb *redis.Client) (*App, error) {
	providers, err := provider.NewClients(cfg.Providers)
	if err != nil {
		return nil, fmt.Errorf("init providers: %w", err)
	}
	providerSet := make(service.ProviderSet, len(providers))
	for id, c := range providers {
		providerSet[id] = c
	}

	if cfg.OpenAI.APIKey == "" {
		log.Warn("openai api key not configured, moderation will fail closed")
	}
	ai := aiclient.NewClient(&cfg.OpenAI)

	// OSS 可选
	var archiver service.ArtifactArchiver
	if cfg.OSS.Endpoint != "" && cfg.OSS.AccessKeyID != "" {
		ossClient, err := oss.NewClient(&cfg.OSS)
		if err != nil {
			log.WithError(err).Warn("init oss client failed, manifests will not be archived")
		} else {
			archiver = ossClient
			log.Info("oss client initialized")
		}
	}

	a := &App{
		Config:    cfg,
		DB:        db,
		Redis:     rdb,
		Queue:     queue.NewQueue(rdb, cfg.Queue.BillingQueue),
		Publisher: pubsub.NewPublisher(rdb),
		GenRepo:   repository.NewGenerationRepository(db),
	}

	a.Ledger = service.NewLedgerService(db, repository.NewAccountRepository(db), repository.NewLedgerRepository(db),
		lock.NewLocker(rdb, "ledger"), cfg)
	a.Health = service.NewHealthTracker(rdb, repository.NewHealthRepository(db), cfg)
	a.Generation = service.NewGenerationService(
		a.GenRepo,
		a.Ledger,
		service.NewSimilarityCache(repository.NewCacheRepository(db), ai, rdb, cfg),
		service.NewProviderRouter(a.Health, cfg),
		a.Health,
		ai,
		providerSet,
		archiver,
		a.Publisher,
		a.Queue,
		lock.NewLocker(rdb, "gen"),
		cfg,
	)

	return a, nil
}

// Close 释放连接
func (a *App) Close() {
	if err := a.Redis.Close(); err != nil {
		log.WithError(err).Warn("close redis failed")
	}
	if sqlDB, err := a.DB.DB(); err == nil {
		sqlDB.Close()
	}
}
