package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/qs3c/gen_go_server/config"
	"github.com/qs3c/gen_go_server/internal/model"
)

const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// NewDB 按配置的 driver 打开数据库连接
func NewDB(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	dialector, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", cfg.Driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	sqlDB.SetConnMaxLifetime(time.Hour)

	return db, nil
}

func dialectorFor(cfg *config.DatabaseConfig) (gorm.Dialector, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" {
		driver = DriverMySQL
	}

	switch driver {
	case DriverMySQL:
		dsn := cfg.DSN
		if dsn == "" {
			dsn = fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
				cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database)
		}
		return mysql.Open(dsn), nil
	case DriverPostgres:
		dsn := cfg.DSN
		if dsn == "" {
			dsn = fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable TimeZone=UTC",
				cfg.Host, cfg.Port, cfg.Username, cfg.Password, cfg.Database)
		}
		return postgres.Open(dsn), nil
	case DriverSQLite:
		dsn := cfg.DSN
		if dsn == "" {
			dsn = cfg.Database
		}
		if dsn == "" {
			return nil, fmt.Errorf("sqlite requires database.dsn or database.database")
		}
		return sqlite.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}
}

// AutoMigrate 迁移核心表
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(Models()...)
}

// Models 返回需要迁移的全部模型
func Models() []interface{} {
	return []interface{}{
		&model.Account{},
		&model.BonusGrant{},
		&model.LedgerEntry{},
		&model.GenerationRequest{},
		&model.CacheEntry{},
		&model.ProviderHealthRecord{},
	}
}

// NewRedis 创建 Redis 客户端并检测连通性
func NewRedis(cfg *config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return client, nil
}
