package repository

import (
	"gorm.io/gorm"

	"github.com/qs3c/gen_go_server/internal/model"
)

type CacheRepository struct {
	db *gorm.DB
}

func NewCacheRepository(db *gorm.DB) *CacheRepository {
	return &CacheRepository{db: db}
}

func (r *CacheRepository) Create(entry *model.CacheEntry) error {
	return r.db.Create(entry).Error
}

func (r *CacheRepository) GetByID(id int64) (*model.CacheEntry, error) {
	var entry model.CacheEntry
	err := r.db.Where("id = ?", id).First(&entry).Error
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// FindExact 同能力、同参数、同提示词指纹的最新一条
func (r *CacheRepository) FindExact(capability, paramsHash, promptHash string) (*model.CacheEntry, error) {
	var entry model.CacheEntry
	err := r.db.Where("capability = ? AND params_hash = ? AND prompt_hash = ?", capability, paramsHash, promptHash).
		Order("id DESC").
		First(&entry).Error
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// ListCandidates 同能力同参数下 ID 小于 beforeID 的一批条目，最新的在前；beforeID 为 0 从最新开始
func (r *CacheRepository) ListCandidates(capability, paramsHash string, beforeID int64, limit int) ([]*model.CacheEntry, error) {
	var entries []*model.CacheEntry
	query := r.db.Where("capability = ? AND params_hash = ?", capability, paramsHash)
	if beforeID > 0 {
		query = query.Where("id < ?", beforeID)
	}
	err := query.Order("id DESC").Limit(limit).Find(&entries).Error
	return entries, err
}

func (r *CacheRepository) IncrementHits(id int64) error {
	return r.db.Model(&model.CacheEntry{}).Where("id = ?", id).
		Update("hit_count", gorm.Expr("hit_count + 1")).Error
}

func (r *CacheRepository) Count(capability string) (int64, error) {
	var count int64
	err := r.db.Model(&model.CacheEntry{}).Where("capability = ?", capability).Count(&count).Error
	return count, err
}
