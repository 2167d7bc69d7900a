package repository

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/qs3c/gen_go_server/internal/model"
)

type GenerationRepository struct {
	db *gorm.DB
}

func NewGenerationRepository(db *gorm.DB) *GenerationRepository {
	return &GenerationRepository{db: db}
}

// CreateIfAbsent 按 (account_id, idempotency_key) 插入，已存在时返回 false
func (r *GenerationRepository) CreateIfAbsent(req *model.GenerationRequest) (bool, error) {
	result := r.db.Clauses(clause.OnConflict{DoNothing: true}).Create(req)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *GenerationRepository) GetByID(id int64) (*model.GenerationRequest, error) {
	var req model.GenerationRequest
	err := r.db.Where("id = ?", id).First(&req).Error
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *GenerationRepository) GetByIdempotencyKey(accountID int64, key string) (*model.GenerationRequest, error) {
	var req model.GenerationRequest
	err := r.db.Where("account_id = ? AND idempotency_key = ?", accountID, key).First(&req).Error
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// Save 持久化整条记录（每次状态迁移后调用）
func (r *GenerationRepository) Save(req *model.GenerationRequest) error {
	return r.db.Save(req).Error
}

func (r *GenerationRepository) TransitionFrom(id int64, from string, fields map[string]interface{}) (bool, error) {
	result := r.db.Model(&model.GenerationRequest{}).
		Where("id = ? AND state = ?", id, from).
		Updates(fields)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ListStale 列出长时间未推进的在途请求
func (r *GenerationRepository) ListStale(before time.Time, limit int) ([]*model.GenerationRequest, error) {
	var reqs []*model.GenerationRequest
	err := r.db.Where("state NOT IN ?", []string{model.StateDone, model.StateFailed}).
		Where("updated_at < ?", before).
		Order("updated_at ASC").
		Limit(limit).
		Find(&reqs).Error
	return reqs, err
}

// ListUnbilled 列出已生成但未扣费的请求
func (r *GenerationRepository) ListUnbilled(limit int) ([]*model.GenerationRequest, error) {
	var reqs []*model.GenerationRequest
	err := r.db.Where("state = ? AND billing_status = ?", model.StateFailed, model.BillingUnbilled).
		Order("id ASC").
		Limit(limit).
		Find(&reqs).Error
	return reqs, err
}

func (r *GenerationRepository) ListByAccount(accountID int64, page, pageSize int) ([]*model.GenerationRequest, int64, error) {
	var reqs []*model.GenerationRequest
	var total int64

	query := r.db.Model(&model.GenerationRequest{}).Where("account_id = ?", accountID)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	err := query.Order("id DESC").Offset(offset).Limit(pageSize).Find(&reqs).Error
	return reqs, total, err
}
