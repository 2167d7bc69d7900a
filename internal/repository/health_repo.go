package repository

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/qs3c/gen_go_server/internal/model"
)

type HealthRepository struct {
	db *gorm.DB
}

func NewHealthRepository(db *gorm.DB) *HealthRepository {
	return &HealthRepository{db: db}
}

// Upsert 以 (provider, capability) 为键覆盖最新观测
func (r *HealthRepository) Upsert(record *model.ProviderHealthRecord) error {
	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "provider"}, {Name: "capability"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"state", "successes", "failures", "consecutive_failures",
			"down_since", "last_checked_at", "updated_at",
		}),
	}).Create(record).Error
}

func (r *HealthRepository) Get(provider, capability string) (*model.ProviderHealthRecord, error) {
	var record model.ProviderHealthRecord
	err := r.db.Where("provider = ? AND capability = ?", provider, capability).First(&record).Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *HealthRepository) List() ([]*model.ProviderHealthRecord, error) {
	var records []*model.ProviderHealthRecord
	err := r.db.Order("capability ASC, provider ASC").Find(&records).Error
	return records, err
}
