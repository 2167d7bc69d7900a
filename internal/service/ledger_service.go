package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/qs3c/gen_go_server/config"
	"github.com/qs3c/gen_go_server/internal/model"
	"github.com/qs3c/gen_go_server/internal/model/dto"
	"github.com/qs3c/gen_go_server/internal/pkg/lock"
	"github.com/qs3c/gen_go_server/internal/repository"
)

// CostTable 计费类型到积分价格
type CostTable map[string]int64

// DebitResult 一次扣费的结果，每个被扣减的池对应一条流水
type DebitResult struct {
	Cost    int64
	Entries []*model.LedgerEntry
}

// EntryIDs 扣费流水 ID 列表
func (r *DebitResult) EntryIDs() []int64 {
	ids := make([]int64, 0, len(r.Entries))
	for _, e := range r.Entries {
		ids = append(ids, e.ID)
	}
	return ids
}

// LedgerService 分层积分账本：bonus → subscription → purchased
type LedgerService struct {
	db          *gorm.DB
	accountRepo *repository.AccountRepository
	ledgerRepo  *repository.LedgerRepository
	locker      *lock.Locker
	cfg         config.LedgerConfig
	now         func() time.Time
}

func NewLedgerService(
	db *gorm.DB,
	accountRepo *repository.AccountRepository,
	ledgerRepo *repository.LedgerRepository,
	locker *lock.Locker,
	cfg *config.Config,
) *LedgerService {
	return &LedgerService{
		db:          db,
		accountRepo: accountRepo,
		ledgerRepo:  ledgerRepo,
		locker:      locker,
		cfg:         cfg.Ledger,
		now:         time.Now,
	}
}

// withAccountLock 同一账户的流水写入串行化
func (s *LedgerService) withAccountLock(ctx context.Context, accountID int64, fn func() error) error {
	lk, err := s.locker.Acquire(ctx, fmt.Sprintf("account:%d", accountID), s.cfg.LockTTL, s.cfg.LockWait)
	if err != nil {
		if errors.Is(err, lock.ErrLockTimeout) {
			return ErrConcurrencyTimeout
		}
		return fmt.Errorf("acquire account lock: %w", err)
	}
	defer func() {
		// 用独立 ctx，调用方取消时也要释放
		if err := lk.Release(context.Background()); err != nil {
			log.WithError(err).WithField("account_id", accountID).Warn("release account lock failed")
		}
	}()

	err = fn()
	if errors.Is(err, repository.ErrStaleBalances) {
		// 锁已过期且被其他写入者抢先，本次事务已回滚
		log.WithField("account_id", accountID).Warn("account lock lost before commit, balances changed")
		return fmt.Errorf("%w: %v", ErrConcurrencyTimeout, err)
	}
	return err
}

func (s *LedgerService) loadAccount(accounts *repository.AccountRepository, accountID int64) (*model.Account, error) {
	account, err := accounts.GetByID(accountID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return account, nil
}

// CheckAndDebit 在账户锁内检查总余额并按池顺序扣减
func (s *LedgerService) CheckAndDebit(ctx context.Context, accountID int64, costTable CostTable, serviceType string, requestID *int64) (*DebitResult, error) {
	cost, ok := costTable[serviceType]
	if !ok {
		return nil, ErrUnknownServiceType
	}
	if cost < 0 {
		return nil, ErrInvalidAmount
	}
	if cost == 0 {
		return &DebitResult{}, nil
	}

	result := &DebitResult{Cost: cost}
	insufficient := false
	replayed := false

	err := s.withAccountLock(ctx, accountID, func() error {
		return s.db.Transaction(func(tx *gorm.DB) error {
			accounts := s.accountRepo.WithTx(tx)
			ledger := s.ledgerRepo.WithTx(tx)
			now := s.now()

			account, err := s.loadAccount(accounts, accountID)
			if err != nil {
				return err
			}
			read := account.Balances()

			// 同一请求已有未冲正的扣费时直接返回原流水
			if requestID != nil {
				existing, err := s.outstandingDebits(ledger, *requestID)
				if err != nil {
					return err
				}
				if len(existing) > 0 {
					replayed = true
					result.Entries = existing
					result.Cost = 0
					for _, e := range existing {
						result.Cost -= e.Amount
					}
					return nil
				}
			}

			if _, err := s.expireGrants(ledger, account, now); err != nil {
				return err
			}

			// 余额不足时仍提交过期清算
			if account.Total() < cost {
				insufficient = true
				return accounts.SetBalances(account, read)
			}

			remaining := cost

			if remaining > 0 && account.Bonus > 0 {
				entry, taken, err := s.debitBonus(ledger, account, remaining, now, requestID)
				if err != nil {
					return err
				}
				if entry != nil {
					remaining -= taken
					result.Entries = append(result.Entries, entry)
				}
			}

			for _, pool := range []string{model.PoolSubscription, model.PoolPurchased} {
				if remaining == 0 {
					break
				}
				available := account.PoolBalance(pool)
				if available <= 0 {
					continue
				}
				take := min64(available, remaining)
				setPool(account, pool, available-take)
				remaining -= take

				entry := &model.LedgerEntry{
					AccountID:    accountID,
					Amount:       -take,
					Pool:         pool,
					BalanceAfter: account.PoolBalance(pool),
					Kind:         model.KindGeneration,
					RequestID:    requestID,
				}
				if err := ledger.Create(entry); err != nil {
					return err
				}
				result.Entries = append(result.Entries, entry)
			}

			if remaining != 0 {
				// 账户 bonus 与赠送明细不一致
				return fmt.Errorf("ledger: %d credits left after debit of account %d", remaining, accountID)
			}

			return accounts.SetBalances(account, read)
		})
	})
	if err != nil {
		return nil, err
	}
	if insufficient {
		return nil, ErrInsufficientCredits
	}
	if replayed {
		log.WithFields(log.Fields{
			"account_id": accountID,
			"request_id": *requestID,
			"cost":       result.Cost,
		}).Info("request already debited, reusing entries")
		return result, nil
	}

	log.WithFields(log.Fields{
		"account_id": accountID,
		"cost":       cost,
		"entries":    len(result.Entries),
	}).Info("credits debited")
	return result, nil
}

// outstandingDebits 请求名下尚未冲正的扣费流水
func (s *LedgerService) outstandingDebits(ledger *repository.LedgerRepository, requestID int64) ([]*model.LedgerEntry, error) {
	entries, err := ledger.ListByRequest(requestID)
	if err != nil {
		return nil, err
	}

	refunded := make(map[int64]bool)
	for _, e := range entries {
		if e.Kind == model.KindRefund && e.RefundOf != nil {
			refunded[*e.RefundOf] = true
		}
	}

	var debits []*model.LedgerEntry
	for _, e := range entries {
		if e.Kind == model.KindGeneration && e.Amount < 0 && !refunded[e.ID] {
			debits = append(debits, e)
		}
	}
	return debits, nil
}

// debitBonus 先到期的赠送先扣，合并为一条 bonus 流水
func (s *LedgerService) debitBonus(ledger *repository.LedgerRepository, account *model.Account, want int64, now time.Time, requestID *int64) (*model.LedgerEntry, int64, error) {
	grants, err := ledger.ListOpenGrants(account.ID)
	if err != nil {
		return nil, 0, err
	}

	var allocs []model.BonusAllocation
	var taken int64
	for _, g := range grants {
		if taken == want || taken == account.Bonus {
			break
		}
		if !g.ExpiresAt.After(now) {
			continue
		}
		take := min64(g.Remaining, min64(want-taken, account.Bonus-taken))
		if take <= 0 {
			continue
		}
		if err := ledger.SetGrantRemaining(g.ID, g.Remaining-take); err != nil {
			return nil, 0, err
		}
		allocs = append(allocs, model.BonusAllocation{GrantID: g.ID, Amount: take})
		taken += take
	}
	if taken == 0 {
		return nil, 0, nil
	}

	account.Bonus -= taken
	entry := &model.LedgerEntry{
		AccountID:    account.ID,
		Amount:       -taken,
		Pool:         model.PoolBonus,
		BalanceAfter: account.Bonus,
		Kind:         model.KindGeneration,
		RequestID:    requestID,
	}
	if err := entry.SetBonusAllocations(allocs); err != nil {
		return nil, 0, err
	}
	if err := ledger.Create(entry); err != nil {
		return nil, 0, err
	}
	return entry, taken, nil
}

// expireGrants 清算已过期赠送的剩余额度，每笔写一条 bonus_expiry 流水
func (s *LedgerService) expireGrants(ledger *repository.LedgerRepository, account *model.Account, now time.Time) ([]*model.LedgerEntry, error) {
	grants, err := ledger.ListOpenGrants(account.ID)
	if err != nil {
		return nil, err
	}

	var entries []*model.LedgerEntry
	for _, g := range grants {
		if g.ExpiresAt.After(now) {
			continue
		}
		amount := min64(g.Remaining, account.Bonus)
		account.Bonus -= amount

		grantID := g.ID
		entry := &model.LedgerEntry{
			AccountID:    account.ID,
			Amount:       -amount,
			Pool:         model.PoolBonus,
			BalanceAfter: account.Bonus,
			Kind:         model.KindBonusExpiry,
			BonusGrantID: &grantID,
		}
		if err := ledger.Create(entry); err != nil {
			return nil, err
		}
		if err := ledger.SetGrantRemaining(g.ID, 0); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Refund 写一条等额反向流水，bonus 扣费按原分配退回各笔赠送
func (s *LedgerService) Refund(ctx context.Context, entryID int64) (*model.LedgerEntry, error) {
	original, err := s.ledgerRepo.GetByID(entryID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEntryNotFound
		}
		return nil, err
	}
	if original.Amount >= 0 || original.Kind != model.KindGeneration {
		return nil, ErrNotDebit
	}

	var refund *model.LedgerEntry
	err = s.withAccountLock(ctx, original.AccountID, func() error {
		return s.db.Transaction(func(tx *gorm.DB) error {
			accounts := s.accountRepo.WithTx(tx)
			ledger := s.ledgerRepo.WithTx(tx)
			now := s.now()

			if _, err := ledger.GetRefundOf(entryID); err == nil {
				return ErrAlreadyRefunded
			} else if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}

			account, err := s.loadAccount(accounts, original.AccountID)
			if err != nil {
				return err
			}
			read := account.Balances()

			amount := -original.Amount
			if original.Pool == model.PoolBonus {
				allocs, err := original.BonusAllocations()
				if err != nil {
					return err
				}
				for _, a := range allocs {
					grant, err := ledger.GetGrant(a.GrantID)
					if err != nil {
						return err
					}
					if err := ledger.SetGrantRemaining(grant.ID, grant.Remaining+a.Amount); err != nil {
						return err
					}
				}
			}
			setPool(account, original.Pool, account.PoolBalance(original.Pool)+amount)

			refundOf := original.ID
			refund = &model.LedgerEntry{
				AccountID:    account.ID,
				Amount:       amount,
				Pool:         original.Pool,
				BalanceAfter: account.PoolBalance(original.Pool),
				Kind:         model.KindRefund,
				RequestID:    original.RequestID,
				RefundOf:     &refundOf,
				Allocations:  original.Allocations,
			}
			if err := ledger.Create(refund); err != nil {
				return err
			}

			// 退回到已过期赠送上的额度立即清算
			if _, err := s.expireGrants(ledger, account, now); err != nil {
				return err
			}
			return accounts.SetBalances(account, read)
		})
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"account_id": original.AccountID,
		"entry_id":   entryID,
		"amount":     refund.Amount,
	}).Info("ledger entry refunded")
	return refund, nil
}

// RefundAll 冲正一组扣费流水，已冲正的跳过
func (s *LedgerService) RefundAll(ctx context.Context, entryIDs []int64) error {
	var errs []error
	for _, id := range entryIDs {
		if _, err := s.Refund(ctx, id); err != nil && !errors.Is(err, ErrAlreadyRefunded) {
			errs = append(errs, fmt.Errorf("refund entry %d: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// WeeklyReset 订阅池重置为套餐周额度（不累积），流水记录差额
func (s *LedgerService) WeeklyReset(ctx context.Context, accountID int64, plan string) (*model.LedgerEntry, error) {
	var entry *model.LedgerEntry
	err := s.withAccountLock(ctx, accountID, func() error {
		return s.db.Transaction(func(tx *gorm.DB) error {
			accounts := s.accountRepo.WithTx(tx)
			ledger := s.ledgerRepo.WithTx(tx)
			now := s.now()

			account, err := s.loadAccount(accounts, accountID)
			if err != nil {
				return err
			}
			read := account.Balances()
			if plan == "" {
				plan = account.Plan
			}
			planCfg, err := s.plan(plan)
			if err != nil {
				return err
			}

			entry, err = s.resetSubscription(ledger, account, planCfg.WeeklyCredits, now)
			if err != nil {
				return err
			}
			if plan != account.Plan {
				if err := accounts.UpdateFields(accountID, map[string]interface{}{"plan": plan}); err != nil {
					return err
				}
			}
			return accounts.SetSubscription(account, read.Subscription)
		})
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *LedgerService) resetSubscription(ledger *repository.LedgerRepository, account *model.Account, weekly int64, now time.Time) (*model.LedgerEntry, error) {
	delta := weekly - account.Subscription
	account.Subscription = weekly
	next := NextResetAt(now, s.ResetWeekday())
	account.SubscriptionResetAt = &next

	entry := &model.LedgerEntry{
		AccountID:    account.ID,
		Amount:       delta,
		Pool:         model.PoolSubscription,
		BalanceAfter: weekly,
		Kind:         model.KindWeeklyReset,
	}
	if err := ledger.Create(entry); err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *LedgerService) plan(name string) (config.PlanConfig, error) {
	if p, ok := s.cfg.Plans[name]; ok {
		return p, nil
	}
	return config.PlanConfig{}, fmt.Errorf("%w: %s", ErrUnknownPlan, name)
}

// ResetWeekday 周边界所在的星期，配置无法识别时为周一
func (s *LedgerService) ResetWeekday() time.Weekday {
	days := map[string]time.Weekday{
		"sunday":    time.Sunday,
		"monday":    time.Monday,
		"tuesday":   time.Tuesday,
		"wednesday": time.Wednesday,
		"thursday":  time.Thursday,
		"friday":    time.Friday,
		"saturday":  time.Saturday,
	}
	if d, ok := days[strings.ToLower(s.cfg.ResetWeekday)]; ok {
		return d
	}
	return time.Monday
}

// NextResetAt 严格晚于 now 的下一个周边界（UTC 0 点），以 now 的时区返回
func NextResetAt(now time.Time, weekday time.Weekday) time.Time {
	utc := now.UTC()
	midnight := time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC)
	days := (int(weekday) - int(midnight.Weekday()) + 7) % 7
	next := midnight.AddDate(0, 0, days)
	if !next.After(utc) {
		next = next.AddDate(0, 0, 7)
	}
	return next.In(now.Location())
}

// OpenAccount 开户并发放首周订阅额度
func (s *LedgerService) OpenAccount(ctx context.Context, plan string) (*model.Account, error) {
	if plan == "" {
		plan = s.cfg.DefaultPlan
	}
	planCfg, err := s.plan(plan)
	if err != nil {
		return nil, err
	}

	account := &model.Account{Plan: plan}
	err = s.db.Transaction(func(tx *gorm.DB) error {
		accounts := s.accountRepo.WithTx(tx)
		if err := accounts.Create(account); err != nil {
			return err
		}
		if _, err := s.resetSubscription(s.ledgerRepo.WithTx(tx), account, planCfg.WeeklyCredits, s.now()); err != nil {
			return err
		}
		return accounts.SetSubscription(account, 0)
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{"account_id": account.ID, "plan": plan}).Info("account opened")
	return account, nil
}

// GrantBonus 发放一笔有到期时间的赠送
func (s *LedgerService) GrantBonus(ctx context.Context, accountID, amount int64, expiresAt time.Time) (*model.BonusGrant, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if !expiresAt.After(s.now()) {
		return nil, ErrInvalidExpiry
	}

	var grant *model.BonusGrant
	err := s.withAccountLock(ctx, accountID, func() error {
		return s.db.Transaction(func(tx *gorm.DB) error {
			accounts := s.accountRepo.WithTx(tx)
			ledger := s.ledgerRepo.WithTx(tx)

			account, err := s.loadAccount(accounts, accountID)
			if err != nil {
				return err
			}
			read := account.Balances()
			if _, err := s.expireGrants(ledger, account, s.now()); err != nil {
				return err
			}

			grant = &model.BonusGrant{
				AccountID: accountID,
				Amount:    amount,
				Remaining: amount,
				ExpiresAt: expiresAt,
			}
			if err := ledger.CreateGrant(grant); err != nil {
				return err
			}

			account.Bonus += amount
			grantID := grant.ID
			entry := &model.LedgerEntry{
				AccountID:    accountID,
				Amount:       amount,
				Pool:         model.PoolBonus,
				BalanceAfter: account.Bonus,
				Kind:         model.KindBonusGrant,
				BonusGrantID: &grantID,
			}
			if err := ledger.Create(entry); err != nil {
				return err
			}
			return accounts.SetBalances(account, read)
		})
	})
	if err != nil {
		return nil, err
	}
	return grant, nil
}

// Purchase 充值到购买池
func (s *LedgerService) Purchase(ctx context.Context, accountID, amount int64, memo string) (*model.LedgerEntry, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	var entry *model.LedgerEntry
	err := s.withAccountLock(ctx, accountID, func() error {
		return s.db.Transaction(func(tx *gorm.DB) error {
			accounts := s.accountRepo.WithTx(tx)
			ledger := s.ledgerRepo.WithTx(tx)

			account, err := s.loadAccount(accounts, accountID)
			if err != nil {
				return err
			}
			read := account.Balances()

			account.Purchased += amount
			entry = &model.LedgerEntry{
				AccountID:    accountID,
				Amount:       amount,
				Pool:         model.PoolPurchased,
				BalanceAfter: account.Purchased,
				Kind:         model.KindPurchase,
				Memo:         memo,
			}
			if err := ledger.Create(entry); err != nil {
				return err
			}
			return accounts.SetBalances(account, read)
		})
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// GetBalance 不加锁读取，已过期未清算的赠送不计入
func (s *LedgerService) GetBalance(ctx context.Context, accountID int64) (*dto.Balance, error) {
	account, err := s.loadAccount(s.accountRepo, accountID)
	if err != nil {
		return nil, err
	}
	grants, err := s.ledgerRepo.ListOpenGrants(accountID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	var bonus int64
	for _, g := range grants {
		if g.ExpiresAt.After(now) {
			bonus += g.Remaining
		}
	}
	bonus = min64(bonus, account.Bonus)

	return &dto.Balance{
		Bonus:        bonus,
		Subscription: account.Subscription,
		Purchased:    account.Purchased,
		Total:        bonus + account.Subscription + account.Purchased,
	}, nil
}

// ResetDueSubscriptions 按 ID 游标分批重置到期账户，单个账户失败不影响其他账户
func (s *LedgerService) ResetDueSubscriptions(ctx context.Context) (int, error) {
	batch := s.cfg.ResetBatch
	if batch <= 0 {
		batch = 200
	}
	now := s.now()

	var afterID int64
	var errs []error
	reset := 0
	for {
		accounts, err := s.accountRepo.ListDueForReset(now, afterID, batch)
		if err != nil {
			return reset, err
		}
		for _, account := range accounts {
			if err := ctx.Err(); err != nil {
				return reset, err
			}
			if _, err := s.WeeklyReset(ctx, account.ID, ""); err != nil {
				errs = append(errs, fmt.Errorf("account %d: %w", account.ID, err))
				continue
			}
			reset++
		}
		if len(accounts) < batch {
			break
		}
		afterID = accounts[len(accounts)-1].ID
	}

	log.WithFields(log.Fields{"reset": reset, "failed": len(errs)}).Info("weekly subscription reset finished")
	return reset, errors.Join(errs...)
}

// ExpireBonuses 清算所有账户的过期赠送
func (s *LedgerService) ExpireBonuses(ctx context.Context) (int, error) {
	batch := s.cfg.ResetBatch
	if batch <= 0 {
		batch = 200
	}

	var errs []error
	failed := map[int64]bool{}
	expired := 0
	for {
		ids, err := s.ledgerRepo.ListAccountsWithExpiredGrants(s.now(), batch+len(failed))
		if err != nil {
			return expired, err
		}

		progressed := false
		for _, id := range ids {
			if failed[id] {
				continue
			}
			n, err := s.expireAccount(ctx, id)
			if err != nil {
				failed[id] = true
				errs = append(errs, fmt.Errorf("account %d: %w", id, err))
				continue
			}
			expired += n
			progressed = true
		}
		if !progressed {
			break
		}
	}
	return expired, errors.Join(errs...)
}

func (s *LedgerService) expireAccount(ctx context.Context, accountID int64) (int, error) {
	count := 0
	err := s.withAccountLock(ctx, accountID, func() error {
		return s.db.Transaction(func(tx *gorm.DB) error {
			accounts := s.accountRepo.WithTx(tx)
			account, err := s.loadAccount(accounts, accountID)
			if err != nil {
				return err
			}
			read := account.Balances()
			entries, err := s.expireGrants(s.ledgerRepo.WithTx(tx), account, s.now())
			if err != nil {
				return err
			}
			count = len(entries)
			return accounts.SetBalances(account, read)
		})
	})
	return count, err
}

// Replay 按 ID 顺序累加流水得到各池余额
func (s *LedgerService) Replay(ctx context.Context, accountID int64) (*dto.Balance, error) {
	entries, err := s.ledgerRepo.ListForReplay(accountID)
	if err != nil {
		return nil, err
	}

	balance := &dto.Balance{}
	for _, e := range entries {
		switch e.Pool {
		case model.PoolBonus:
			balance.Bonus += e.Amount
		case model.PoolSubscription:
			balance.Subscription += e.Amount
		case model.PoolPurchased:
			balance.Purchased += e.Amount
		}
	}
	balance.Total = balance.Bonus + balance.Subscription + balance.Purchased
	return balance, nil
}

// VerifyReplay 重放结果必须与账户当前余额一致
func (s *LedgerService) VerifyReplay(ctx context.Context, accountID int64) error {
	replayed, err := s.Replay(ctx, accountID)
	if err != nil {
		return err
	}
	account, err := s.loadAccount(s.accountRepo, accountID)
	if err != nil {
		return err
	}

	if replayed.Bonus != account.Bonus || replayed.Subscription != account.Subscription || replayed.Purchased != account.Purchased {
		return fmt.Errorf("%w: account %d replay bonus=%d subscription=%d purchased=%d, stored bonus=%d subscription=%d purchased=%d",
			ErrLedgerMismatch, accountID,
			replayed.Bonus, replayed.Subscription, replayed.Purchased,
			account.Bonus, account.Subscription, account.Purchased)
	}
	return nil
}

// ListEntries 分页查询流水
func (s *LedgerService) ListEntries(ctx context.Context, accountID int64, page, pageSize int) ([]*dto.LedgerEntryItem, int64, error) {
	entries, total, err := s.ledgerRepo.ListByAccount(accountID, page, pageSize)
	if err != nil {
		return nil, 0, err
	}

	items := make([]*dto.LedgerEntryItem, 0, len(entries))
	for _, e := range entries {
		items = append(items, &dto.LedgerEntryItem{
			ID:           e.ID,
			Amount:       e.Amount,
			Pool:         e.Pool,
			BalanceAfter: e.BalanceAfter,
			Kind:         e.Kind,
			RequestID:    e.RequestID,
			RefundOf:     e.RefundOf,
			CreatedAt:    e.CreatedAt.Format(time.RFC3339),
		})
	}
	return items, total, nil
}

func setPool(account *model.Account, pool string, value int64) {
	switch pool {
	case model.PoolBonus:
		account.Bonus = value
	case model.PoolSubscription:
		account.Subscription = value
	case model.PoolPurchased:
		account.Purchased = value
	}
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
