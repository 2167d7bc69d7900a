package model

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// 流水类型
const (
	KindGeneration  = "generation"
	KindWeeklyReset = "weekly_reset"
	KindPurchase    = "purchase"
	KindRefund      = "refund"
	KindBonusGrant  = "bonus_grant"
	KindBonusExpiry = "bonus_expiry"
)

// LedgerEntry 只追加的账本流水，按 ID 顺序重放可还原各池余额
type LedgerEntry struct {
	ID           int64          `gorm:"primaryKey" json:"id"`
	AccountID    int64          `gorm:"not null;index" json:"account_id"`
	Amount       int64          `gorm:"not null" json:"amount"`
	Pool         string         `gorm:"size:20;not null" json:"pool"`
	BalanceAfter int64          `gorm:"not null" json:"balance_after"`
	Kind         string         `gorm:"size:20;not null;index" json:"kind"`
	RequestID    *int64         `gorm:"index" json:"request_id,omitempty"`
	RefundOf     *int64         `gorm:"uniqueIndex" json:"refund_of,omitempty"`
	BonusGrantID *int64         `json:"bonus_grant_id,omitempty"`
	Allocations  datatypes.JSON `json:"allocations,omitempty"`
	Memo         string         `gorm:"size:200" json:"memo,omitempty"`
	CreatedAt    time.Time      `gorm:"index" json:"created_at"`
}

func (LedgerEntry) TableName() string {
	return "ledger_entries"
}

// BonusAllocation 一次 bonus 扣减落在哪笔赠送上
type BonusAllocation struct {
	GrantID int64 `json:"grant_id"`
	Amount  int64 `json:"amount"`
}

func (e *LedgerEntry) BonusAllocations() ([]BonusAllocation, error) {
	if len(e.Allocations) == 0 {
		return nil, nil
	}
	var allocs []BonusAllocation
	if err := json.Unmarshal(e.Allocations, &allocs); err != nil {
		return nil, err
	}
	return allocs, nil
}

func (e *LedgerEntry) SetBonusAllocations(allocs []BonusAllocation) error {
	if len(allocs) == 0 {
		e.Allocations = nil
		return nil
	}
	data, err := json.Marshal(allocs)
	if err != nil {
		return err
	}
	e.Allocations = datatypes.JSON(data)
	return nil
}
