package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/qs3c/gen_go_server/config"
	"github.com/qs3c/gen_go_server/internal/api/middleware"
	"github.com/qs3c/gen_go_server/internal/model/dto"
	"github.com/qs3c/gen_go_server/internal/pkg/lock"
	"github.com/qs3c/gen_go_server/internal/pkg/response"
	"github.com/qs3c/gen_go_server/internal/repository"
	"github.com/qs3c/gen_go_server/internal/service"
	"github.com/qs3c/gen_go_server/internal/testutil"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testJWTSecret = "test-secret-key"

func performRequest(r http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	var reqBody *bytes.Buffer
	if body != nil {
		jsonBytes, _ := json.Marshal(body)
		reqBody = bytes.NewBuffer(jsonBytes)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func parseResponse(t *testing.T, w *httptest.ResponseRecorder) response.Response {
	var resp response.Response
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	require.NoError(t, err)
	return resp
}

// decodeData 把 resp.Data 转成具体类型
func decodeData(t *testing.T, resp response.Response, out interface{}) {
	t.Helper()
	raw, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, out))
}

func mockAuth(accountID int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.AccountIDKey, accountID)
		c.Next()
	}
}

type stubModerator struct {
	blocked string
}

func (m *stubModerator) Check(ctx context.Context, prompt string) (*dto.ModerationResult, error) {
	if m.blocked != "" && prompt == m.blocked {
		return &dto.ModerationResult{Allowed: false, Category: "violence", Reason: "blocked"}, nil
	}
	return &dto.ModerationResult{Allowed: true}, nil
}

type stubEmbedder struct{}

func (stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, errors.New("embedding disabled")
}

type stubProvider struct {
	mu    sync.Mutex
	fail  bool
	calls int
}

func (p *stubProvider) Generate(ctx context.Context, capability, prompt string, params map[string]interface{}) (*dto.GenerationOutput, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.fail {
		return nil, errors.New("backend error")
	}
	return &dto.GenerationOutput{ArtifactRef: "art://stub"}, nil
}

type handlerFixture struct {
	db         *gorm.DB
	cfg        *config.Config
	ledger     *service.LedgerService
	health     *service.HealthTracker
	generation *service.GenerationService
	moderator  *stubModerator
	provider   *stubProvider
}

func setupHandlerFixture(t *testing.T) (*handlerFixture, func()) {
	t.Helper()

	db := testutil.SetupTestDB(t)
	client, _, redisCleanup := testutil.SetupTestRedis(t)

	cfg := &config.Config{
		JWT: config.JWTConfig{Secret: testJWTSecret, ExpireHours: 24},
		Health: config.HealthConfig{
			Window:               time.Minute,
			Bucket:               10 * time.Second,
			MinSamples:           10,
			FailureRateThreshold: 0.5,
			ConsecutiveFailures:  3,
			Cooldown:             time.Minute,
			ProbeTTL:             time.Minute,
		},
		Cache: config.CacheConfig{Enabled: true, SimilarityThreshold: 0.9, MaxCandidates: 10, EmbeddingTTL: time.Hour},
		Ledger: config.LedgerConfig{
			LockWait:     time.Second,
			LockTTL:      5 * time.Second,
			ResetWeekday: "monday",
			DefaultPlan:  "free",
			Plans:        map[string]config.PlanConfig{"free": {WeeklyCredits: 30}},
		},
		Orchestrator: config.OrchestratorConfig{
			ProviderTimeout: time.Second,
			InFlightWait:    time.Second,
			InFlightPoll:    10 * time.Millisecond,
			RunLockTTL:      time.Minute,
			AbandonAfter:    time.Hour,
		},
		Capabilities: map[string]config.CapabilityConfig{
			"image": {
				Cost:      10,
				Providers: []config.CapabilityProviderSlot{{ID: "stub", Tier: service.TierUnlimited, Priority: 1}},
			},
		},
	}

	f := &handlerFixture{
		db:        db,
		cfg:       cfg,
		moderator: &stubModerator{},
		provider:  &stubProvider{},
	}
	f.ledger = service.NewLedgerService(db, repository.NewAccountRepository(db), repository.NewLedgerRepository(db),
		lock.NewLocker(client, "ledger"), cfg)
	f.health = service.NewHealthTracker(client, repository.NewHealthRepository(db), cfg)
	f.generation = service.NewGenerationService(
		repository.NewGenerationRepository(db),
		f.ledger,
		service.NewSimilarityCache(repository.NewCacheRepository(db), stubEmbedder{}, client, cfg),
		service.NewProviderRouter(f.health, cfg),
		f.health,
		f.moderator,
		service.ProviderSet{"stub": f.provider},
		nil,
		nil,
		nil,
		lock.NewLocker(client, "gen"),
		cfg,
	)

	cleanup := func() {
		redisCleanup()
		testutil.CleanupTestDB(t, db)
	}
	return f, cleanup
}
