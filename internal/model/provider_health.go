package model

import (
	"time"
)

// Provider 健康状态
const (
	HealthHealthy  = "HEALTHY"
	HealthDegraded = "DEGRADED"
	HealthDown     = "DOWN"
)

// ProviderHealthRecord 健康状态快照；实时数据在 Redis，这里只在状态变化时覆盖写入
type ProviderHealthRecord struct {
	ID                  int64      `gorm:"primaryKey" json:"id"`
	Provider            string     `gorm:"size:64;not null;uniqueIndex:ux_provider_capability,priority:1" json:"provider"`
	Capability          string     `gorm:"size:32;not null;uniqueIndex:ux_provider_capability,priority:2" json:"capability"`
	State               string     `gorm:"size:16;not null" json:"state"`
	Successes           int64      `json:"successes"`
	Failures            int64      `json:"failures"`
	ConsecutiveFailures int64      `json:"consecutive_failures"`
	DownSince           *time.Time `json:"down_since,omitempty"`
	LastCheckedAt       time.Time  `json:"last_checked_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

func (ProviderHealthRecord) TableName() string {
	return "provider_health_records"
}
