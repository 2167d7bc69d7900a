package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/qs3c/gen_go_server/config"
	"github.com/qs3c/gen_go_server/internal/model"
	"github.com/qs3c/gen_go_server/internal/model/dto"
	"github.com/qs3c/gen_go_server/internal/pkg/lock"
	"github.com/qs3c/gen_go_server/internal/pkg/queue"
	"github.com/qs3c/gen_go_server/internal/repository"
	"github.com/qs3c/gen_go_server/internal/testutil"
)

type generationFixture struct {
	svc        *GenerationService
	db         *gorm.DB
	client     *redis.Client
	cfg        *config.Config
	ledger     *LedgerService
	ledgerRepo *repository.LedgerRepository
	health     *HealthTracker
	moderator  *fakeModerator
	embedder   *fakeEmbedder
	archiver   *fakeArchiver
	publisher  *fakePublisher
	jobs       *fakeEnqueuer
	primary    *fakeProvider
	backup     *fakeProvider
	paid       *fakeProvider
}

func setupGenerationService(t *testing.T, mutate ...func(*config.Config)) (*generationFixture, func()) {
	t.Helper()

	db := testutil.SetupTestDB(t)
	client, _, redisCleanup := testutil.SetupTestRedis(t)

	cfg := testConfig()
	for _, m := range mutate {
		m(cfg)
	}

	f := &generationFixture{
		db:        db,
		client:    client,
		cfg:       cfg,
		moderator: &fakeModerator{},
		embedder:  newFakeEmbedder(),
		archiver:  &fakeArchiver{},
		publisher: &fakePublisher{},
		jobs:      &fakeEnqueuer{},
		primary:   &fakeProvider{id: "primary"},
		backup:    &fakeProvider{id: "backup"},
		paid:      &fakeProvider{id: "paid"},
	}

	f.ledgerRepo = repository.NewLedgerRepository(db)
	f.ledger = NewLedgerService(db, repository.NewAccountRepository(db), f.ledgerRepo, lock.NewLocker(client, "ledger"), cfg)
	f.health = NewHealthTracker(client, repository.NewHealthRepository(db), cfg)
	cache := NewSimilarityCache(repository.NewCacheRepository(db), f.embedder, client, cfg)

	f.svc = NewGenerationService(
		repository.NewGenerationRepository(db),
		f.ledger,
		cache,
		NewProviderRouter(f.health, cfg),
		f.health,
		f.moderator,
		ProviderSet{"primary": f.primary, "backup": f.backup, "paid": f.paid},
		f.archiver,
		f.publisher,
		f.jobs,
		lock.NewLocker(client, "gen"),
		cfg,
	)

	cleanup := func() {
		redisCleanup()
		testutil.CleanupTestDB(t, db)
	}
	return f, cleanup
}

func (f *generationFixture) submit(t *testing.T, accountID int64, key, prompt string) (*dto.GenerationResult, error) {
	t.Helper()
	return f.svc.Submit(context.Background(), &SubmitInput{
		AccountID:      accountID,
		IdempotencyKey: key,
		Capability:     "image",
		Prompt:         prompt,
	})
}

func (f *generationFixture) debitCount(t *testing.T, accountID int64) int64 {
	t.Helper()
	n, err := f.ledgerRepo.CountByKind(accountID, model.KindGeneration)
	require.NoError(t, err)
	return n
}

func TestGenerationService_Submit_Success(t *testing.T) {
	f, cleanup := setupGenerationService(t)
	defer cleanup()

	account, err := f.ledger.OpenAccount(context.Background(), "free")
	require.NoError(t, err)

	result, err := f.submit(t, account.ID, "k1", "A red fox in the snow")
	require.NoError(t, err)

	assert.Equal(t, model.StateDone, result.State)
	assert.Equal(t, "primary", result.Provider)
	assert.Equal(t, "art://primary", result.ArtifactRef)
	assert.Equal(t, int64(10), result.Cost)
	assert.Equal(t, model.BillingBilled, result.BillingStatus)
	assert.False(t, result.CacheHit)
	assert.NotEmpty(t, result.ArchiveURL)

	assert.Equal(t, []string{
		model.StateReceived,
		model.StateModerated,
		model.StateCacheChecked,
		model.StateRouted,
		model.StateGenerating,
		model.StateSuccess,
		model.StateCharged,
		model.StateCached,
		model.StateDone,
	}, f.publisher.States(result.RequestID))

	balance, err := f.ledger.GetBalance(context.Background(), account.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(40), balance.Total)
	assert.Equal(t, int64(1), f.debitCount(t, account.ID))

	entries, err := f.ledgerRepo.ListByRequest(result.RequestID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(-10), entries[0].Amount)

	var cached int64
	require.NoError(t, f.db.Model(&model.CacheEntry{}).Count(&cached).Error)
	assert.Equal(t, int64(1), cached)
	assert.Contains(t, f.archiver.uploads, result.RequestID)
}

func TestGenerationService_Submit_ConcurrentSameKey(t *testing.T) {
	f, cleanup := setupGenerationService(t)
	defer cleanup()

	account := testutil.TestAccount(t, f.db, testutil.WithPurchased(100))

	const n = 50
	results := make([]*dto.GenerationResult, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.submit(t, account.ID, "same-key", "a lighthouse at dusk")
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, *results[0], *results[i])
	}
	assert.Equal(t, model.StateDone, results[0].State)
	assert.Equal(t, 1, f.primary.Calls())
	assert.Equal(t, int64(1), f.debitCount(t, account.ID))
	assert.Equal(t, int64(90), reloadAccount(t, f.db, account.ID).Purchased)

	// 顺序重复提交同样返回已存储的结果
	again, err := f.submit(t, account.ID, "same-key", "a lighthouse at dusk")
	require.NoError(t, err)
	assert.Equal(t, *results[0], *again)
	assert.Equal(t, 1, f.primary.Calls())
}

func TestGenerationService_Submit_CacheHitIsFree(t *testing.T) {
	f, cleanup := setupGenerationService(t)
	defer cleanup()

	f.embedder.vectors["a blue whale"] = []float32{1, 0, 0}
	account := testutil.TestAccount(t, f.db, testutil.WithSubscription(50))

	first, err := f.submit(t, account.ID, "k1", "a red fox")
	require.NoError(t, err)
	require.Equal(t, model.StateDone, first.State)

	hit, err := f.submit(t, account.ID, "k2", "  A RED   fox ")
	require.NoError(t, err)
	assert.Equal(t, model.StateDone, hit.State)
	assert.True(t, hit.CacheHit)
	assert.Equal(t, int64(0), hit.Cost)
	assert.Equal(t, model.BillingFree, hit.BillingStatus)
	assert.Equal(t, first.ArtifactRef, hit.ArtifactRef)
	assert.Equal(t, []string{
		model.StateReceived,
		model.StateModerated,
		model.StateCacheChecked,
		model.StateCacheHit,
		model.StateDone,
	}, f.publisher.States(hit.RequestID))

	assert.Equal(t, 1, f.primary.Calls())
	assert.Equal(t, int64(1), f.debitCount(t, account.ID))
	assert.Equal(t, int64(40), reloadAccount(t, f.db, account.ID).Subscription)

	// 不相似的 prompt 仍然走生成
	miss, err := f.submit(t, account.ID, "k3", "a blue whale")
	require.NoError(t, err)
	assert.False(t, miss.CacheHit)
	assert.Equal(t, 2, f.primary.Calls())
}

func TestGenerationService_Submit_CacheHitBeyondScanBatch(t *testing.T) {
	f, cleanup := setupGenerationService(t, func(cfg *config.Config) {
		cfg.Cache.MaxCandidates = 2
	})
	defer cleanup()

	f.embedder.vectors["a red fox"] = []float32{1, 0, 0}
	f.embedder.vectors["a blue whale"] = []float32{0, 1, 0}
	f.embedder.vectors["a green owl"] = []float32{0, 0.6, 0.8}
	f.embedder.vectors["a gray wolf"] = []float32{0, 0, 1}
	account := testutil.TestAccount(t, f.db, testutil.WithSubscription(100))

	for i, prompt := range []string{"a red fox", "a blue whale", "a green owl", "a gray wolf"} {
		result, err := f.submit(t, account.ID, fmt.Sprintf("k%d", i), prompt)
		require.NoError(t, err)
		require.False(t, result.CacheHit, prompt)
	}
	require.Equal(t, 4, f.primary.Calls())

	hit, err := f.submit(t, account.ID, "again", "a red fox")
	require.NoError(t, err)
	assert.True(t, hit.CacheHit)
	assert.Equal(t, int64(0), hit.Cost)
	assert.Equal(t, 4, f.primary.Calls())
	assert.Equal(t, int64(4), f.debitCount(t, account.ID))
}

func TestGenerationService_Resume_FromCacheChecked(t *testing.T) {
	f, cleanup := setupGenerationService(t)
	defer cleanup()
	ctx := context.Background()

	account := testutil.TestAccount(t, f.db, testutil.WithSubscription(50))
	first, err := f.submit(t, account.ID, "k1", "a red fox")
	require.NoError(t, err)

	entryID := int64(1)
	stale := testutil.TestGenerationRequest(t, f.db, account.ID, "stale", model.StateCacheChecked, func(r *model.GenerationRequest) {
		r.CacheHit = true
		r.CacheEntryID = &entryID
		r.ArtifactRef = first.ArtifactRef
		r.BillingStatus = model.BillingFree
	})

	result, err := f.svc.Resume(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateDone, result.State)
	assert.True(t, result.CacheHit)
	assert.Equal(t, 1, f.primary.Calls())
	assert.Equal(t, int64(1), f.debitCount(t, account.ID))
}

func TestGenerationService_Submit_FailoverToBackup(t *testing.T) {
	f, cleanup := setupGenerationService(t)
	defer cleanup()

	f.primary.script = []error{errFake}
	account := testutil.TestAccount(t, f.db, testutil.WithSubscription(50))

	result, err := f.submit(t, account.ID, "k1", "a red fox")
	require.NoError(t, err)
	assert.Equal(t, model.StateDone, result.State)
	assert.Equal(t, "backup", result.Provider)
	assert.Equal(t, int64(10), result.Cost)
	assert.Contains(t, f.publisher.States(result.RequestID), model.StateRetry)

	detail, err := f.svc.Get(context.Background(), account.ID, result.RequestID)
	require.NoError(t, err)
	attempts, ok := detail.Attempts.([]model.AttemptRecord)
	require.True(t, ok)
	require.Len(t, attempts, 2)
	assert.Equal(t, "failure", attempts[0].Outcome)
	assert.Equal(t, "success", attempts[1].Outcome)

	snap, err := f.health.Snapshot(context.Background(), "primary", "image")
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.Failures)
}

func TestGenerationService_Submit_SkipsDownProvider(t *testing.T) {
	f, cleanup := setupGenerationService(t)
	defer cleanup()

	markDown(t, f.health, "primary")
	account := testutil.TestAccount(t, f.db, testutil.WithSubscription(50))

	result, err := f.submit(t, account.ID, "k1", "a red fox")
	require.NoError(t, err)
	assert.Equal(t, "backup", result.Provider)
	assert.Equal(t, 0, f.primary.Calls())
}

func TestGenerationService_Submit_ProbeRecoversDownProvider(t *testing.T) {
	f, cleanup := setupGenerationService(t)
	defer cleanup()

	markDown(t, f.health, "primary")
	f.health.now = func() time.Time { return time.Now().Add(time.Minute) }
	f.backup.script = []error{errors.New("backup unavailable")}
	account := testutil.TestAccount(t, f.db, testutil.WithSubscription(50))

	result, err := f.submit(t, account.ID, "k1", "a red fox")
	require.NoError(t, err)
	assert.Equal(t, "primary", result.Provider)

	state, err := f.health.State(context.Background(), "primary", "image")
	require.NoError(t, err)
	assert.Equal(t, model.HealthHealthy, state)
}

func TestGenerationService_Resume_CallerCancelled(t *testing.T) {
	f, cleanup := setupGenerationService(t, func(cfg *config.Config) {
		cfg.Orchestrator.ProviderTimeout = 2 * time.Second
	})
	defer cleanup()

	f.primary.delay = 5 * time.Second
	account := testutil.TestAccount(t, f.db, testutil.WithSubscription(50))
	stale := testutil.TestGenerationRequest(t, f.db, account.ID, "stale", model.StateModerated)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	_, err := f.svc.Resume(ctx, stale.ID)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// 调用方放弃不记为 provider 失败
	snap, err := f.health.Snapshot(context.Background(), "primary", "image")
	require.NoError(t, err)
	assert.Equal(t, int64(0), snap.Failures)
	assert.Equal(t, int64(0), snap.ConsecutiveFailures)

	var row model.GenerationRequest
	require.NoError(t, f.db.First(&row, stale.ID).Error)
	assert.Equal(t, model.StateGenerating, row.State)
	attempts, err := row.AttemptLog()
	require.NoError(t, err)
	assert.Empty(t, attempts)

	f.primary.mu.Lock()
	f.primary.delay = 0
	f.primary.mu.Unlock()

	result, err := f.svc.Resume(context.Background(), stale.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateDone, result.State)
	assert.Equal(t, "primary", result.Provider)
	assert.Equal(t, 2, f.primary.Calls())
}

func TestGenerationService_Submit_ProviderTimeout(t *testing.T) {
	f, cleanup := setupGenerationService(t)
	defer cleanup()

	f.primary.delay = 2 * time.Second
	account := testutil.TestAccount(t, f.db, testutil.WithSubscription(50))

	start := time.Now()
	result, err := f.submit(t, account.ID, "k1", "a red fox")
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, "backup", result.Provider)

	detail, err := f.svc.Get(context.Background(), account.ID, result.RequestID)
	require.NoError(t, err)
	attempts := detail.Attempts.([]model.AttemptRecord)
	assert.Equal(t, "timeout", attempts[0].Outcome)
}

func TestGenerationService_Submit_EscalatesToFallback(t *testing.T) {
	f, cleanup := setupGenerationService(t)
	defer cleanup()

	f.primary.script = []error{errFake}
	f.backup.script = []error{errFake}
	account := testutil.TestAccount(t, f.db, testutil.WithSubscription(50))

	result, err := f.submit(t, account.ID, "k1", "a red fox")
	require.NoError(t, err)
	assert.Equal(t, model.StateDone, result.State)
	assert.Equal(t, "paid", result.Provider)
	assert.Equal(t, int64(15), result.Cost)
	assert.Equal(t, int64(35), reloadAccount(t, f.db, account.ID).Subscription)
}

func TestGenerationService_Submit_AllProvidersExhausted(t *testing.T) {
	tests := []struct {
		name     string
		escalate bool
		calls    int
	}{
		{name: "escalation disabled", escalate: false, calls: 0},
		{name: "fallback fails too", escalate: true, calls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, cleanup := setupGenerationService(t, func(cfg *config.Config) {
				cfg.Orchestrator.EscalateOnExhaustion = tt.escalate
			})
			defer cleanup()

			f.primary.script = []error{errFake}
			f.backup.script = []error{errFake}
			f.paid.script = []error{errFake}
			account := testutil.TestAccount(t, f.db, testutil.WithSubscription(50))

			result, err := f.submit(t, account.ID, "k1", "a red fox")
			assert.ErrorIs(t, err, ErrAllProvidersExhausted)
			require.NotNil(t, result)
			assert.Equal(t, model.StateFailed, result.State)
			assert.Equal(t, model.ReasonAllProvidersExhausted, result.FailureReason)
			assert.Equal(t, tt.calls, f.paid.Calls())
			assert.Equal(t, int64(0), f.debitCount(t, account.ID))
			assert.Contains(t, f.publisher.States(result.RequestID), model.StateAllFailed)
		})
	}
}

func TestGenerationService_Submit_EveryProviderDown(t *testing.T) {
	f, cleanup := setupGenerationService(t)
	defer cleanup()

	// 刚进入 DOWN，冷却期内没有探测机会
	markDown(t, f.health, "primary")
	markDown(t, f.health, "backup")
	markDown(t, f.health, "paid")
	account := testutil.TestAccount(t, f.db, testutil.WithSubscription(50))

	result, err := f.submit(t, account.ID, "k1", "a red fox")
	assert.ErrorIs(t, err, ErrAllProvidersExhausted)
	assert.Equal(t, model.StateFailed, result.State)
	assert.Equal(t, 0, f.primary.Calls()+f.backup.Calls()+f.paid.Calls())
}

func TestGenerationService_Submit_Moderation(t *testing.T) {
	t.Run("rejected", func(t *testing.T) {
		f, cleanup := setupGenerationService(t)
		defer cleanup()

		f.moderator.result = &dto.ModerationResult{Allowed: false, Reason: "content flagged: violence", Category: "violence"}
		account := testutil.TestAccount(t, f.db, testutil.WithSubscription(50))

		result, err := f.submit(t, account.ID, "k1", "something violent")
		assert.ErrorIs(t, err, ErrModerationRejected)
		assert.Equal(t, model.StateFailed, result.State)
		assert.Equal(t, model.ReasonModerationRejected, result.FailureReason)
		assert.Equal(t, "violence", result.ModerationCategory)
		assert.Equal(t, 0, f.primary.Calls())
		assert.Equal(t, 0, f.embedder.Calls())

		// 重复提交不会重新审核或执行
		f.moderator.result = nil
		again, err := f.submit(t, account.ID, "k1", "something violent")
		assert.ErrorIs(t, err, ErrModerationRejected)
		assert.Equal(t, result.RequestID, again.RequestID)
		assert.Equal(t, 0, f.primary.Calls())
	})

	t.Run("unavailable", func(t *testing.T) {
		f, cleanup := setupGenerationService(t)
		defer cleanup()

		f.moderator.err = errFake
		account := testutil.TestAccount(t, f.db, testutil.WithSubscription(50))

		result, err := f.submit(t, account.ID, "k1", "a red fox")
		assert.ErrorIs(t, err, ErrModerationUnavailable)
		assert.Equal(t, model.ReasonModerationUnavailable, result.FailureReason)
		assert.Equal(t, 0, f.primary.Calls())
	})
}

func TestGenerationService_Submit_InsufficientThenTopUp(t *testing.T) {
	f, cleanup := setupGenerationService(t)
	defer cleanup()
	ctx := context.Background()

	account := testutil.TestAccount(t, f.db, testutil.WithPurchased(5))

	result, err := f.submit(t, account.ID, "k1", "a red fox")
	assert.ErrorIs(t, err, ErrInsufficientCredits)
	assert.Equal(t, model.StateFailed, result.State)
	assert.Empty(t, result.ArtifactRef)
	assert.Equal(t, 0, f.primary.Calls())

	_, err = f.ledger.Purchase(ctx, account.ID, 20, "top-up")
	require.NoError(t, err)

	result, err = f.submit(t, account.ID, "k1", "a red fox")
	require.NoError(t, err)
	assert.Equal(t, model.StateDone, result.State)
	assert.Equal(t, 1, f.primary.Calls())
	assert.Equal(t, int64(15), reloadAccount(t, f.db, account.ID).Purchased)
}

func TestGenerationService_UnbilledArtifact(t *testing.T) {
	f, cleanup := setupGenerationService(t)
	defer cleanup()
	ctx := context.Background()

	// 预检按最便宜的不限量候选通过，升级到兜底后扣费失败
	f.primary.script = []error{errFake}
	f.backup.script = []error{errFake}
	account := testutil.TestAccount(t, f.db, testutil.WithPurchased(12))

	result, err := f.submit(t, account.ID, "k1", "a red fox")
	assert.ErrorIs(t, err, ErrInsufficientCredits)
	assert.Equal(t, model.StateFailed, result.State)
	assert.Equal(t, model.BillingUnbilled, result.BillingStatus)
	assert.Equal(t, "art://paid", result.ArtifactRef)
	assert.Equal(t, int64(15), result.Cost)

	jobs := f.jobs.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, queue.JobBillingRetry, jobs[0].Type)
	assert.Equal(t, result.RequestID, jobs[0].RequestID)

	_, err = f.svc.RetryBilling(ctx, account.ID, result.RequestID)
	assert.ErrorIs(t, err, ErrInsufficientCredits)
	assert.Len(t, f.jobs.Jobs(), 1)

	_, err = f.ledger.Purchase(ctx, account.ID, 10, "top-up")
	require.NoError(t, err)

	billed, err := f.svc.RetryBilling(ctx, account.ID, result.RequestID)
	require.NoError(t, err)
	assert.Equal(t, model.StateDone, billed.State)
	assert.Equal(t, model.BillingBilled, billed.BillingStatus)
	assert.Equal(t, "art://paid", billed.ArtifactRef)
	assert.Equal(t, 1, f.paid.Calls())
	assert.Equal(t, int64(7), reloadAccount(t, f.db, account.ID).Purchased)

	_, err = f.svc.RetryBilling(ctx, account.ID, result.RequestID)
	assert.ErrorIs(t, err, ErrNotBillable)

	again, err := f.submit(t, account.ID, "k1", "a red fox")
	require.NoError(t, err)
	assert.Equal(t, *billed, *again)
}

func TestGenerationService_ResubmitRebillsWithoutRegenerating(t *testing.T) {
	f, cleanup := setupGenerationService(t, func(cfg *config.Config) {
		cfg.Ledger.LockWait = 100 * time.Millisecond
	})
	defer cleanup()
	ctx := context.Background()

	account := testutil.TestAccount(t, f.db, testutil.WithSubscription(50))

	held, err := lock.NewLocker(f.client, "ledger").Acquire(ctx, fmt.Sprintf("account:%d", account.ID), time.Minute, time.Second)
	require.NoError(t, err)

	result, err := f.submit(t, account.ID, "k1", "a red fox")
	assert.ErrorIs(t, err, ErrConcurrencyTimeout)
	assert.Equal(t, model.ReasonConcurrencyTimeout, result.FailureReason)
	assert.Equal(t, model.BillingUnbilled, result.BillingStatus)

	require.NoError(t, held.Release(ctx))

	result, err = f.submit(t, account.ID, "k1", "a red fox")
	require.NoError(t, err)
	assert.Equal(t, model.StateDone, result.State)
	assert.Equal(t, 1, f.primary.Calls())
	assert.Equal(t, int64(40), reloadAccount(t, f.db, account.ID).Subscription)
}

func TestGenerationService_RefundsWhenChargedNotPersisted(t *testing.T) {
	f, cleanup := setupGenerationService(t)
	defer cleanup()
	ctx := context.Background()

	account, err := f.ledger.OpenAccount(ctx, "free")
	require.NoError(t, err)

	errDisk := errors.New("disk full")
	err = f.db.Callback().Update().Before("gorm:update").Register("test:fail_charged", func(db *gorm.DB) {
		if req, ok := db.Statement.Dest.(*model.GenerationRequest); ok && req.State == model.StateCharged {
			db.AddError(errDisk)
		}
	})
	require.NoError(t, err)

	_, err = f.submit(t, account.ID, "k1", "a red fox")
	assert.ErrorIs(t, err, errDisk)

	assert.Equal(t, int64(50), reloadAccount(t, f.db, account.ID).Subscription)
	refunds, err := f.ledgerRepo.CountByKind(account.ID, model.KindRefund)
	require.NoError(t, err)
	assert.Equal(t, int64(1), refunds)
	require.NoError(t, f.ledger.VerifyReplay(ctx, account.ID))
}

func TestGenerationService_Resume(t *testing.T) {
	f, cleanup := setupGenerationService(t)
	defer cleanup()
	ctx := context.Background()

	account := testutil.TestAccount(t, f.db, testutil.WithSubscription(50))
	stale := testutil.TestGenerationRequest(t, f.db, account.ID, "stale", model.StateModerated)

	result, err := f.svc.Resume(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateDone, result.State)
	assert.Equal(t, "primary", result.Provider)

	// 终态请求直接返回
	result, err = f.svc.Resume(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateDone, result.State)
	assert.Equal(t, 1, f.primary.Calls())
}

func TestGenerationService_Resume_AfterCommittedDebit(t *testing.T) {
	f, cleanup := setupGenerationService(t)
	defer cleanup()
	ctx := context.Background()

	account, err := f.ledger.OpenAccount(ctx, "free")
	require.NoError(t, err)

	result, err := f.submit(t, account.ID, "k1", "a red fox")
	require.NoError(t, err)
	require.Equal(t, model.StateDone, result.State)

	// 扣费已提交但 CHARGED 未落库
	err = f.db.Model(&model.GenerationRequest{}).Where("id = ?", result.RequestID).
		Updates(map[string]interface{}{"state": model.StateSuccess, "billing_status": model.BillingNone}).Error
	require.NoError(t, err)

	resumed, err := f.svc.Resume(ctx, result.RequestID)
	require.NoError(t, err)
	assert.Equal(t, model.StateDone, resumed.State)
	assert.Equal(t, model.BillingBilled, resumed.BillingStatus)
	assert.Equal(t, int64(10), resumed.Cost)

	assert.Equal(t, int64(1), f.debitCount(t, account.ID))
	assert.Equal(t, int64(40), reloadAccount(t, f.db, account.ID).Subscription)
	assert.Equal(t, 1, f.primary.Calls())
	require.NoError(t, f.ledger.VerifyReplay(ctx, account.ID))
}

func TestGenerationService_Resume_AbandonsOldRequest(t *testing.T) {
	f, cleanup := setupGenerationService(t)
	defer cleanup()

	account := testutil.TestAccount(t, f.db, testutil.WithSubscription(50))
	old := testutil.TestGenerationRequest(t, f.db, account.ID, "old", model.StateRouted, func(r *model.GenerationRequest) {
		r.CreatedAt = time.Now().Add(-2 * time.Hour)
	})

	result, err := f.svc.Resume(context.Background(), old.ID)
	assert.ErrorIs(t, err, ErrRequestAbandoned)
	assert.Equal(t, model.StateFailed, result.State)
	assert.Equal(t, model.ReasonAbandoned, result.FailureReason)
	assert.Equal(t, 0, f.primary.Calls())
}

func TestGenerationService_Resume_LockHeld(t *testing.T) {
	f, cleanup := setupGenerationService(t)
	defer cleanup()
	ctx := context.Background()

	account := testutil.TestAccount(t, f.db)
	req := testutil.TestGenerationRequest(t, f.db, account.ID, "busy", model.StateGenerating)

	held, ok, err := lock.NewLocker(f.client, "gen").TryAcquire(ctx, fmt.Sprintf("run:%d", req.ID), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	defer held.Release(ctx)

	_, err = f.svc.Resume(ctx, req.ID)
	assert.ErrorIs(t, err, ErrRequestInProgress)
}

func TestGenerationService_Submit_WaitsForInFlight(t *testing.T) {
	f, cleanup := setupGenerationService(t)
	defer cleanup()
	ctx := context.Background()

	account := testutil.TestAccount(t, f.db)
	req := testutil.TestGenerationRequest(t, f.db, account.ID, "k1", model.StateGenerating)

	held, ok, err := lock.NewLocker(f.client, "gen").TryAcquire(ctx, fmt.Sprintf("run:%d", req.ID), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	defer held.Release(ctx)

	go func() {
		time.Sleep(100 * time.Millisecond)
		f.db.Model(&model.GenerationRequest{}).Where("id = ?", req.ID).Updates(map[string]interface{}{
			"state":        model.StateDone,
			"artifact_ref": "art://elsewhere",
		})
	}()

	result, err := f.submit(t, account.ID, "k1", "A red fox in the snow")
	require.NoError(t, err)
	assert.Equal(t, model.StateDone, result.State)
	assert.Equal(t, "art://elsewhere", result.ArtifactRef)
	assert.Equal(t, 0, f.primary.Calls())
}

func TestGenerationService_Submit_InFlightTimeout(t *testing.T) {
	f, cleanup := setupGenerationService(t, func(cfg *config.Config) {
		cfg.Orchestrator.InFlightWait = 100 * time.Millisecond
	})
	defer cleanup()
	ctx := context.Background()

	account := testutil.TestAccount(t, f.db)
	req := testutil.TestGenerationRequest(t, f.db, account.ID, "k1", model.StateGenerating)

	held, ok, err := lock.NewLocker(f.client, "gen").TryAcquire(ctx, fmt.Sprintf("run:%d", req.ID), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	defer held.Release(ctx)

	_, err = f.submit(t, account.ID, "k1", "A red fox in the snow")
	assert.ErrorIs(t, err, ErrRequestInProgress)
}

func TestGenerationService_Submit_UnknownCapability(t *testing.T) {
	f, cleanup := setupGenerationService(t)
	defer cleanup()

	_, err := f.svc.Submit(context.Background(), &SubmitInput{AccountID: 1, Capability: "avatar", Prompt: "x"})
	assert.ErrorIs(t, err, ErrUnknownCapability)
}

func TestGenerationService_GetAndList(t *testing.T) {
	f, cleanup := setupGenerationService(t)
	defer cleanup()
	ctx := context.Background()

	account := testutil.TestAccount(t, f.db, testutil.WithSubscription(50))
	other := testutil.TestAccount(t, f.db)

	result, err := f.submit(t, account.ID, "", "a red fox")
	require.NoError(t, err)
	assert.NotEmpty(t, result.IdempotencyKey)

	_, err = f.svc.Get(ctx, other.ID, result.RequestID)
	assert.ErrorIs(t, err, ErrRequestNotFound)

	_, err = f.svc.Get(ctx, account.ID, 9999)
	assert.ErrorIs(t, err, ErrRequestNotFound)

	items, total, err := f.svc.List(ctx, account.ID, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, items, 1)
	assert.Equal(t, result.RequestID, items[0].RequestID)
}
