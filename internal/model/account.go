package model

import (
	"time"
)

// 额度池
const (
	PoolBonus        = "bonus"
	PoolSubscription = "subscription"
	PoolPurchased    = "purchased"
)

type Account struct {
	ID                  int64      `gorm:"primaryKey" json:"id"`
	Plan                string     `gorm:"size:20;not null;default:free" json:"plan"`
	Bonus               int64      `gorm:"not null;default:0" json:"bonus"`
	Subscription        int64      `gorm:"not null;default:0" json:"subscription"`
	SubscriptionResetAt *time.Time `gorm:"index" json:"subscription_reset_at,omitempty"`
	Purchased           int64      `gorm:"not null;default:0" json:"purchased"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

func (Account) TableName() string {
	return "accounts"
}

// Total 三个池之和
func (a *Account) Total() int64 {
	return a.Bonus + a.Subscription + a.Purchased
}

// Balances 三个池余额的快照
type Balances struct {
	Bonus        int64
	Subscription int64
	Purchased    int64
}

func (a *Account) Balances() Balances {
	return Balances{Bonus: a.Bonus, Subscription: a.Subscription, Purchased: a.Purchased}
}

// PoolBalance 返回指定池的余额
func (a *Account) PoolBalance(pool string) int64 {
	switch pool {
	case PoolBonus:
		return a.Bonus
	case PoolSubscription:
		return a.Subscription
	case PoolPurchased:
		return a.Purchased
	default:
		return 0
	}
}

// BonusGrant 一笔赠送额度，按到期时间先后消耗
type BonusGrant struct {
	ID        int64     `gorm:"primaryKey" json:"id"`
	AccountID int64     `gorm:"not null;index:idx_bonus_account_expiry,priority:1" json:"account_id"`
	Amount    int64     `gorm:"not null" json:"amount"`
	Remaining int64     `gorm:"not null" json:"remaining"`
	ExpiresAt time.Time `gorm:"not null;index:idx_bonus_account_expiry,priority:2" json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

func (BonusGrant) TableName() string {
	return "bonus_grants"
}
