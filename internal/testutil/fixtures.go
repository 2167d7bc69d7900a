package testutil

import (
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/gen_go_server/internal/model"
)

// TestAccount 创建测试账户，bonus 需通过 TestBonusGrant 单独写入
func TestAccount(t *testing.T, db *gorm.DB, opts ...func(*model.Account)) *model.Account {
	t.Helper()

	account := &model.Account{
		Plan: "free",
	}

	for _, opt := range opts {
		opt(account)
	}

	if err := db.Create(account).Error; err != nil {
		t.Fatalf("Failed to create test account: %v", err)
	}

	return account
}

// WithPlan 设置套餐
func WithPlan(plan string) func(*model.Account) {
	return func(a *model.Account) {
		a.Plan = plan
	}
}

// WithSubscription 设置订阅池余额
func WithSubscription(amount int64) func(*model.Account) {
	return func(a *model.Account) {
		a.Subscription = amount
	}
}

// WithPurchased 设置购买池余额
func WithPurchased(amount int64) func(*model.Account) {
	return func(a *model.Account) {
		a.Purchased = amount
	}
}

// WithResetAt 设置下次订阅重置时间
func WithResetAt(at time.Time) func(*model.Account) {
	return func(a *model.Account) {
		a.SubscriptionResetAt = &at
	}
}

// TestBonusGrant 为账户直接写入一笔赠送额度，并同步 accounts.bonus
func TestBonusGrant(t *testing.T, db *gorm.DB, accountID, amount int64, expiresAt time.Time) *model.BonusGrant {
	t.Helper()

	grant := &model.BonusGrant{
		AccountID: accountID,
		Amount:    amount,
		Remaining: amount,
		ExpiresAt: expiresAt,
	}
	if err := db.Create(grant).Error; err != nil {
		t.Fatalf("Failed to create bonus grant: %v", err)
	}

	if expiresAt.After(time.Now()) {
		err := db.Model(&model.Account{}).Where("id = ?", accountID).
			Update("bonus", gorm.Expr("bonus + ?", amount)).Error
		if err != nil {
			t.Fatalf("Failed to update account bonus: %v", err)
		}
	}

	return grant
}

// TestGenerationRequest 创建生成请求
func TestGenerationRequest(t *testing.T, db *gorm.DB, accountID int64, key, state string, opts ...func(*model.GenerationRequest)) *model.GenerationRequest {
	t.Helper()

	req := &model.GenerationRequest{
		AccountID:        accountID,
		IdempotencyKey:   key,
		Capability:       "image",
		Prompt:           "A red fox in the snow",
		NormalizedPrompt: "a red fox in the snow",
		State:            state,
		BillingStatus:    model.BillingNone,
	}

	for _, opt := range opts {
		opt(req)
	}

	if err := db.Create(req).Error; err != nil {
		t.Fatalf("Failed to create generation request: %v", err)
	}

	return req
}
