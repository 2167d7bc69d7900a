package repository

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/gen_go_server/internal/model"
)

type AccountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// WithTx 返回绑定到事务的仓库
func (r *AccountRepository) WithTx(tx *gorm.DB) *AccountRepository {
	return &AccountRepository{db: tx}
}

func (r *AccountRepository) Create(account *model.Account) error {
	return r.db.Create(account).Error
}

func (r *AccountRepository) GetByID(id int64) (*model.Account, error) {
	var account model.Account
	err := r.db.Where("id = ?", id).First(&account).Error
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *AccountRepository) UpdateFields(id int64, fields map[string]interface{}) error {
	return r.db.Model(&model.Account{}).Where("id = ?", id).Updates(fields).Error
}

// ErrStaleBalances 余额在读取后已被其他写入修改
var ErrStaleBalances = errors.New("account balances changed since read")

// SetBalances 以读取时的余额为条件写回三个池，条件不满足返回 ErrStaleBalances
func (r *AccountRepository) SetBalances(account *model.Account, read model.Balances) error {
	if account.Balances() == read {
		return nil
	}
	result := r.db.Model(&model.Account{}).
		Where("id = ? AND bonus = ? AND subscription = ? AND purchased = ?",
			account.ID, read.Bonus, read.Subscription, read.Purchased).
		Updates(map[string]interface{}{
			"bonus":        account.Bonus,
			"subscription": account.Subscription,
			"purchased":    account.Purchased,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStaleBalances
	}
	return nil
}

// SetSubscription 写入订阅余额与下次重置时间，同样以读取时的订阅余额为条件
func (r *AccountRepository) SetSubscription(account *model.Account, readSubscription int64) error {
	result := r.db.Model(&model.Account{}).
		Where("id = ? AND subscription = ?", account.ID, readSubscription).
		Updates(map[string]interface{}{
			"subscription":          account.Subscription,
			"subscription_reset_at": account.SubscriptionResetAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStaleBalances
	}
	return nil
}

// ListDueForReset 按 ID 游标分页列出需要周重置的账户
func (r *AccountRepository) ListDueForReset(now time.Time, afterID int64, limit int) ([]*model.Account, error) {
	var accounts []*model.Account
	err := r.db.Where("id > ?", afterID).
		Where("(subscription_reset_at IS NULL OR subscription_reset_at <= ?)", now).
		Order("id ASC").
		Limit(limit).
		Find(&accounts).Error
	return accounts, err
}
