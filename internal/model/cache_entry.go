package model

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// CacheEntry 相似度缓存条目，除 HitCount 外写入后不再修改
type CacheEntry struct {
	ID               int64          `gorm:"primaryKey" json:"id"`
	Capability       string         `gorm:"size:32;not null;index:idx_cache_scope,priority:1;index:idx_cache_exact,priority:1" json:"capability"`
	ParamsHash       string         `gorm:"size:64;not null;index:idx_cache_scope,priority:2;index:idx_cache_exact,priority:2" json:"params_hash"`
	PromptHash       string         `gorm:"size:64;not null;index:idx_cache_exact,priority:3" json:"prompt_hash"`
	NormalizedPrompt string         `gorm:"type:text" json:"normalized_prompt"`
	Embedding        datatypes.JSON `json:"-"`
	ArtifactRef      string         `gorm:"size:1000;not null" json:"artifact_ref"`
	SourceRequestID  *int64         `json:"source_request_id,omitempty"`
	HitCount         int64          `gorm:"not null;default:0" json:"hit_count"`
	CreatedAt        time.Time      `gorm:"index" json:"created_at"`
}

func (CacheEntry) TableName() string {
	return "cache_entries"
}

func (e *CacheEntry) Vector() ([]float32, error) {
	if len(e.Embedding) == 0 {
		return nil, nil
	}
	var vec []float32
	if err := json.Unmarshal(e.Embedding, &vec); err != nil {
		return nil, err
	}
	return vec, nil
}

func (e *CacheEntry) SetVector(vec []float32) error {
	data, err := json.Marshal(vec)
	if err != nil {
		return err
	}
	e.Embedding = datatypes.JSON(data)
	return nil
}
