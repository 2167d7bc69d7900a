package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/gen_go_server/internal/model"
)

type LedgerRepository struct {
	db *gorm.DB
}

func NewLedgerRepository(db *gorm.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// WithTx 返回绑定到事务的仓库
func (r *LedgerRepository) WithTx(tx *gorm.DB) *LedgerRepository {
	return &LedgerRepository{db: tx}
}

func (r *LedgerRepository) Create(entry *model.LedgerEntry) error {
	return r.db.Create(entry).Error
}

func (r *LedgerRepository) GetByID(id int64) (*model.LedgerEntry, error) {
	var entry model.LedgerEntry
	err := r.db.Where("id = ?", id).First(&entry).Error
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// ListByAccount 分页获取流水（新的在前）
func (r *LedgerRepository) ListByAccount(accountID int64, page, pageSize int) ([]*model.LedgerEntry, int64, error) {
	var entries []*model.LedgerEntry
	var total int64

	query := r.db.Model(&model.LedgerEntry{}).Where("account_id = ?", accountID)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	err := query.Order("id DESC").Offset(offset).Limit(pageSize).Find(&entries).Error
	return entries, total, err
}

// ListForReplay 按创建顺序返回账户全部流水
func (r *LedgerRepository) ListForReplay(accountID int64) ([]*model.LedgerEntry, error) {
	var entries []*model.LedgerEntry
	err := r.db.Where("account_id = ?", accountID).Order("id ASC").Find(&entries).Error
	return entries, err
}

func (r *LedgerRepository) ListByRequest(requestID int64) ([]*model.LedgerEntry, error) {
	var entries []*model.LedgerEntry
	err := r.db.Where("request_id = ?", requestID).Order("id ASC").Find(&entries).Error
	return entries, err
}

// GetRefundOf 查询某条流水的冲正记录
func (r *LedgerRepository) GetRefundOf(entryID int64) (*model.LedgerEntry, error) {
	var entry model.LedgerEntry
	err := r.db.Where("refund_of = ?", entryID).First(&entry).Error
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *LedgerRepository) CountByKind(accountID int64, kind string) (int64, error) {
	var count int64
	err := r.db.Model(&model.LedgerEntry{}).
		Where("account_id = ? AND kind = ?", accountID, kind).
		Count(&count).Error
	return count, err
}

func (r *LedgerRepository) CreateGrant(grant *model.BonusGrant) error {
	return r.db.Create(grant).Error
}

func (r *LedgerRepository) GetGrant(id int64) (*model.BonusGrant, error) {
	var grant model.BonusGrant
	err := r.db.Where("id = ?", id).First(&grant).Error
	if err != nil {
		return nil, err
	}
	return &grant, nil
}

// ListOpenGrants 返回仍有余量的赠送（含已过期但未清算的），按到期时间升序
func (r *LedgerRepository) ListOpenGrants(accountID int64) ([]*model.BonusGrant, error) {
	var grants []*model.BonusGrant
	err := r.db.Where("account_id = ? AND remaining > 0", accountID).
		Order("expires_at ASC, id ASC").
		Find(&grants).Error
	return grants, err
}

func (r *LedgerRepository) SetGrantRemaining(id, remaining int64) error {
	return r.db.Model(&model.BonusGrant{}).Where("id = ?", id).Update("remaining", remaining).Error
}

// ListAccountsWithExpiredGrants 列出存在待清算过期赠送的账户
func (r *LedgerRepository) ListAccountsWithExpiredGrants(now time.Time, limit int) ([]int64, error) {
	var ids []int64
	err := r.db.Model(&model.BonusGrant{}).
		Where("remaining > 0 AND expires_at <= ?", now).
		Distinct().
		Limit(limit).
		Pluck("account_id", &ids).Error
	return ids, err
}
