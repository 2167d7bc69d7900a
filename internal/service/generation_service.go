package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/qs3c/gen_go_server/config"
	"github.com/qs3c/gen_go_server/internal/model"
	"github.com/qs3c/gen_go_server/internal/model/dto"
	"github.com/qs3c/gen_go_server/internal/pkg/lock"
	"github.com/qs3c/gen_go_server/internal/pkg/pubsub"
	"github.com/qs3c/gen_go_server/internal/pkg/queue"
	"github.com/qs3c/gen_go_server/internal/repository"
)

// SubmitInput 一次生成提交
type SubmitInput struct {
	AccountID      int64
	IdempotencyKey string
	Capability     string
	Prompt         string
	Params         map[string]interface{}
}

// runMode 拿到运行锁后如何处理已有记录
type runMode int

const (
	runContinue runMode = iota // 从持久化状态继续
	runRebill                  // FAILED 且未扣费：重新扣费，不重新生成
	runRestart                 // FAILED 余额不足且没有产物：从头执行
	runResume                  // 恢复任务：超龄且无产物时放弃
)

// GenerationService 生成请求状态机，每次状态迁移先落库再进入下一步
type GenerationService struct {
	genRepo   *repository.GenerationRepository
	ledger    *LedgerService
	cache     *SimilarityCache
	router    *ProviderRouter
	health    *HealthTracker
	moderator ModerationService
	providers ProviderSet
	archiver  ArtifactArchiver
	publisher ProgressPublisher
	jobs      JobEnqueuer
	locker    *lock.Locker
	cfg       *config.Config

	group singleflight.Group
	now   func() time.Time
}

func NewGenerationService(
	genRepo *repository.GenerationRepository,
	ledger *LedgerService,
	cache *SimilarityCache,
	router *ProviderRouter,
	health *HealthTracker,
	moderator ModerationService,
	providers ProviderSet,
	archiver ArtifactArchiver,
	publisher ProgressPublisher,
	jobs JobEnqueuer,
	locker *lock.Locker,
	cfg *config.Config,
) *GenerationService {
	return &GenerationService{
		genRepo:   genRepo,
		ledger:    ledger,
		cache:     cache,
		router:    router,
		health:    health,
		moderator: moderator,
		providers: providers,
		archiver:  archiver,
		publisher: publisher,
		jobs:      jobs,
		locker:    locker,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Submit 提交生成请求。同一账户同一幂等键只执行一次，重复提交返回同一结果。
// 请求以 FAILED 结束时同时返回结果和对应的哨兵错误。
func (s *GenerationService) Submit(ctx context.Context, in *SubmitInput) (*dto.GenerationResult, error) {
	if _, ok := s.cfg.Capabilities[in.Capability]; !ok {
		return nil, ErrUnknownCapability
	}
	if in.IdempotencyKey == "" {
		in.IdempotencyKey = uuid.NewString()
	}

	// 调用方断开后请求仍需推进到终态
	runCtx := context.WithoutCancel(ctx)
	key := fmt.Sprintf("%d:%s", in.AccountID, in.IdempotencyKey)
	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		return s.submit(runCtx, in)
	})
	if err != nil {
		return nil, err
	}

	req := v.(*model.GenerationRequest)
	return buildResult(req), failureError(req)
}

func (s *GenerationService) submit(ctx context.Context, in *SubmitInput) (*model.GenerationRequest, error) {
	req := &model.GenerationRequest{
		AccountID:        in.AccountID,
		IdempotencyKey:   in.IdempotencyKey,
		Capability:       in.Capability,
		Prompt:           in.Prompt,
		NormalizedPrompt: NormalizePrompt(in.Prompt),
		State:            model.StateReceived,
		BillingStatus:    model.BillingNone,
	}
	if len(in.Params) > 0 {
		data, err := json.Marshal(in.Params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		req.Params = datatypes.JSON(data)
	}

	created, err := s.genRepo.CreateIfAbsent(req)
	if err != nil {
		return nil, fmt.Errorf("create generation request: %w", err)
	}
	if created {
		log.WithFields(log.Fields{
			"request_id": req.ID,
			"account_id": req.AccountID,
			"capability": req.Capability,
		}).Info("generation request received")
		s.publish(ctx, req)
		return s.run(ctx, req.ID, runContinue, true)
	}

	existing, err := s.genRepo.GetByIdempotencyKey(in.AccountID, in.IdempotencyKey)
	if err != nil {
		return nil, fmt.Errorf("load existing request: %w", err)
	}

	switch {
	case isUnbilled(existing):
		return s.run(ctx, existing.ID, runRebill, true)
	case isRestartable(existing):
		return s.run(ctx, existing.ID, runRestart, true)
	case model.IsTerminal(existing.State):
		return existing, nil
	default:
		return s.run(ctx, existing.ID, runContinue, true)
	}
}

// RetryBilling 对已生成但未扣费的请求重新扣费
func (s *GenerationService) RetryBilling(ctx context.Context, accountID, requestID int64) (*dto.GenerationResult, error) {
	req, err := s.load(requestID)
	if err != nil {
		return nil, err
	}
	if accountID != 0 && req.AccountID != accountID {
		return nil, ErrRequestNotFound
	}
	if !isUnbilled(req) {
		return nil, ErrNotBillable
	}

	req, err = s.run(context.WithoutCancel(ctx), requestID, runRebill, false)
	if err != nil {
		return nil, err
	}
	return buildResult(req), failureError(req)
}

// Resume 恢复长时间未推进的在途请求；运行锁被占用时返回 ErrRequestInProgress
func (s *GenerationService) Resume(ctx context.Context, requestID int64) (*dto.GenerationResult, error) {
	req, err := s.run(ctx, requestID, runResume, false)
	if err != nil {
		return nil, err
	}
	return buildResult(req), failureError(req)
}

// Get 查询请求详情
func (s *GenerationService) Get(ctx context.Context, accountID, requestID int64) (*dto.GenerationDetail, error) {
	req, err := s.load(requestID)
	if err != nil {
		return nil, err
	}
	if req.AccountID != accountID {
		return nil, ErrRequestNotFound
	}

	detail := &dto.GenerationDetail{
		GenerationResult: *buildResult(req),
		CreatedAt:        req.CreatedAt.Format(time.RFC3339),
		UpdatedAt:        req.UpdatedAt.Format(time.RFC3339),
	}
	if attempts, err := req.AttemptLog(); err == nil && len(attempts) > 0 {
		detail.Attempts = attempts
	}
	return detail, nil
}

// List 分页查询账户的生成请求
func (s *GenerationService) List(ctx context.Context, accountID int64, page, pageSize int) ([]*dto.GenerationResult, int64, error) {
	reqs, total, err := s.genRepo.ListByAccount(accountID, page, pageSize)
	if err != nil {
		return nil, 0, err
	}

	items := make([]*dto.GenerationResult, len(reqs))
	for i, r := range reqs {
		items[i] = buildResult(r)
	}
	return items, total, nil
}

func (s *GenerationService) load(requestID int64) (*model.GenerationRequest, error) {
	req, err := s.genRepo.GetByID(requestID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRequestNotFound
		}
		return nil, err
	}
	return req, nil
}

// run 持有运行锁推进状态机直到终态。锁被其他执行者持有时，wait 为真则等待其完成。
func (s *GenerationService) run(ctx context.Context, requestID int64, mode runMode, wait bool) (*model.GenerationRequest, error) {
	lk, ok, err := s.locker.TryAcquire(ctx, fmt.Sprintf("run:%d", requestID), s.cfg.Orchestrator.RunLockTTL)
	if err != nil {
		return nil, err
	}
	if !ok {
		if !wait {
			return nil, ErrRequestInProgress
		}
		return s.awaitTerminal(ctx, requestID)
	}
	defer func() {
		if err := lk.Release(context.Background()); err != nil && !errors.Is(err, lock.ErrLockLost) {
			log.WithError(err).WithField("request_id", requestID).Warn("release run lock failed")
		}
	}()

	// 锁内重新读取，其他执行者可能已推进
	req, err := s.load(requestID)
	if err != nil {
		return nil, err
	}

	exec := &execution{req: req, enqueueBilling: mode != runRebill}
	switch mode {
	case runRebill:
		if !isUnbilled(req) {
			return req, nil
		}
		req.FailureReason = ""
		req.FailureDetail = ""
		req.CompletedAt = nil
		req.BillingAttempts++
		if err := s.advance(ctx, req, model.StateSuccess); err != nil {
			return nil, err
		}
	case runRestart:
		if !isRestartable(req) {
			return req, nil
		}
		resetForRestart(req)
		if err := s.advance(ctx, req, model.StateReceived); err != nil {
			return nil, err
		}
	case runResume:
		if model.IsTerminal(req.State) {
			return req, nil
		}
		if req.ArtifactRef == "" && s.now().Sub(req.CreatedAt) > s.cfg.Orchestrator.AbandonAfter {
			log.WithFields(log.Fields{"request_id": req.ID, "state": req.State}).Warn("abandoning stale generation request")
			s.releaseUnused(ctx, req)
			return req, s.fail(ctx, req, model.ReasonAbandoned, "")
		}
	}

	for !model.IsTerminal(req.State) {
		if err := lk.Extend(ctx, s.cfg.Orchestrator.RunLockTTL); err != nil {
			return nil, fmt.Errorf("extend run lock: %w", err)
		}
		if err := s.step(ctx, exec); err != nil {
			return nil, err
		}
	}
	return req, nil
}

// awaitTerminal 轮询等待其他执行者把请求推进到终态
func (s *GenerationService) awaitTerminal(ctx context.Context, requestID int64) (*model.GenerationRequest, error) {
	deadline := time.NewTimer(s.cfg.Orchestrator.InFlightWait)
	defer deadline.Stop()
	ticker := time.NewTicker(s.cfg.Orchestrator.InFlightPoll)
	defer ticker.Stop()

	for {
		req, err := s.load(requestID)
		if err != nil {
			return nil, err
		}
		if model.IsTerminal(req.State) {
			return req, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, ErrRequestInProgress
		case <-ticker.C:
		}
	}
}

// execution 单次执行期间不落库的中间数据
type execution struct {
	req            *model.GenerationRequest
	embedding      []float32
	enqueueBilling bool
}

// step 执行当前状态对应的一步并迁移到下一状态
func (s *GenerationService) step(ctx context.Context, exec *execution) error {
	req := exec.req

	switch req.State {
	case model.StateReceived:
		return s.moderate(ctx, req)

	case model.StateModerated:
		return s.lookupCache(ctx, exec)

	case model.StateCacheHit, model.StateCached:
		return s.advance(ctx, req, model.StateDone)

	case model.StateCacheChecked:
		if req.CacheHit {
			return s.advance(ctx, req, model.StateCacheHit)
		}
		return s.route(ctx, req)

	case model.StateRouted:
		return s.startAttempt(ctx, req)

	case model.StateGenerating:
		return s.generate(ctx, req)

	case model.StateRetry:
		req.AttemptIndex++
		return s.startAttempt(ctx, req)

	case model.StateSuccess:
		return s.charge(ctx, exec)

	case model.StateCharged:
		return s.insertCache(ctx, exec)

	case model.StateAllFailed:
		return s.fail(ctx, req, model.ReasonAllProvidersExhausted, "")

	default:
		return fmt.Errorf("generation request %d in unexpected state %s", req.ID, req.State)
	}
}

func (s *GenerationService) moderate(ctx context.Context, req *model.GenerationRequest) error {
	result, err := s.moderator.Check(ctx, req.Prompt)
	if err != nil {
		log.WithError(err).WithField("request_id", req.ID).Error("moderation check failed")
		return s.fail(ctx, req, model.ReasonModerationUnavailable, err.Error())
	}
	if !result.Allowed {
		req.ModerationCategory = result.Category
		return s.fail(ctx, req, model.ReasonModerationRejected, result.Reason)
	}
	return s.advance(ctx, req, model.StateModerated)
}

func (s *GenerationService) lookupCache(ctx context.Context, exec *execution) error {
	req := exec.req
	params, err := req.ParamMap()
	if err != nil {
		return err
	}

	hit, err := s.cache.Lookup(ctx, req.Capability, req.NormalizedPrompt, params)
	if err != nil {
		return err
	}
	exec.embedding = hit.Embedding

	if hit.Entry == nil {
		return s.advance(ctx, req, model.StateCacheChecked)
	}

	// 命中信息随 CACHE_CHECKED 一起落库，恢复时据此直接走 CACHE_HIT
	entryID := hit.Entry.ID
	req.CacheHit = true
	req.CacheEntryID = &entryID
	req.ArtifactRef = hit.Entry.ArtifactRef
	req.Cost = 0
	req.BillingStatus = model.BillingFree
	log.WithFields(log.Fields{
		"request_id": req.ID,
		"cache_id":   entryID,
		"score":      hit.Score,
	}).Info("served from similarity cache")
	if err := s.advance(ctx, req, model.StateCacheChecked); err != nil {
		return err
	}
	return s.advance(ctx, req, model.StateCacheHit)
}

// route 取候选列表并做不加锁的余额预检
func (s *GenerationService) route(ctx context.Context, req *model.GenerationRequest) error {
	route, err := s.router.Route(ctx, req.Capability)
	if err != nil {
		return err
	}
	if len(route.Candidates) == 0 {
		return s.advance(ctx, req, model.StateAllFailed)
	}

	req.Tier = route.Tier
	req.AttemptIndex = 0
	if err := req.SetCandidates(route.Candidates); err != nil {
		return err
	}

	balance, err := s.ledger.GetBalance(ctx, req.AccountID)
	if err != nil {
		s.router.ReleaseProbes(ctx, req.Capability, route.Candidates)
		return err
	}
	cheapest := route.Candidates[0].Cost
	for _, c := range route.Candidates[1:] {
		if c.Cost < cheapest {
			cheapest = c.Cost
		}
	}
	if balance.Total < cheapest {
		s.router.ReleaseProbes(ctx, req.Capability, route.Candidates)
		return s.fail(ctx, req, model.ReasonInsufficientCredits,
			fmt.Sprintf("balance %d below cheapest candidate cost %d", balance.Total, cheapest))
	}

	return s.advance(ctx, req, model.StateRouted)
}

func (s *GenerationService) startAttempt(ctx context.Context, req *model.GenerationRequest) error {
	candidates, err := req.CandidateList()
	if err != nil {
		return err
	}
	if req.AttemptIndex >= len(candidates) {
		return s.advance(ctx, req, model.StateAllFailed)
	}

	req.Provider = candidates[req.AttemptIndex].Provider
	return s.advance(ctx, req, model.StateGenerating)
}

// generate 调用当前候选；失败时换下一个，不限量层耗尽后最多升级一次到兜底层
func (s *GenerationService) generate(ctx context.Context, req *model.GenerationRequest) error {
	candidates, err := req.CandidateList()
	if err != nil {
		return err
	}
	if req.AttemptIndex >= len(candidates) {
		return s.advance(ctx, req, model.StateAllFailed)
	}
	candidate := candidates[req.AttemptIndex]

	params, err := req.ParamMap()
	if err != nil {
		return err
	}

	start := s.now()
	out, callErr := s.callProvider(ctx, candidate.Provider, req, params)
	if ctxErr := ctx.Err(); callErr != nil && ctxErr != nil && errors.Is(callErr, ctxErr) {
		// 调用方放弃不算 provider 失败，请求停在 GENERATING 等待恢复
		if candidate.IsProbe() {
			s.router.ReleaseProbes(context.WithoutCancel(ctx), req.Capability, []model.RouteCandidate{candidate})
		}
		return callErr
	}
	record := model.AttemptRecord{
		Provider:  candidate.Provider,
		Outcome:   "success",
		ElapsedMs: s.now().Sub(start).Milliseconds(),
		At:        start,
	}

	outcome := OutcomeSuccess
	if callErr != nil {
		outcome = OutcomeFailure
		record.Outcome = "failure"
		if errors.Is(callErr, ErrProviderTimeout) {
			record.Outcome = "timeout"
		}
		record.Error = callErr.Error()
	}
	if err := req.AppendAttempt(record); err != nil {
		return err
	}

	if _, ok := s.providers[candidate.Provider]; ok {
		var err error
		if candidate.IsProbe() {
			_, err = s.health.ReportProbe(ctx, candidate.Provider, req.Capability, candidate.ProbeToken, outcome)
		} else {
			_, err = s.health.Report(ctx, candidate.Provider, req.Capability, outcome)
		}
		if err != nil {
			log.WithError(err).WithField("provider", candidate.Provider).Warn("report provider health failed")
		}
	}

	if callErr == nil {
		req.ArtifactRef = out.ArtifactRef
		req.ProviderCost = out.Cost
		req.Cost = candidate.Cost
		log.WithFields(log.Fields{
			"request_id": req.ID,
			"provider":   candidate.Provider,
			"elapsed_ms": record.ElapsedMs,
		}).Info("provider generation succeeded")
		return s.advance(ctx, req, model.StateSuccess)
	}

	log.WithError(callErr).WithFields(log.Fields{
		"request_id": req.ID,
		"provider":   candidate.Provider,
		"attempt":    req.AttemptIndex,
	}).Warn("provider attempt failed")

	if req.AttemptIndex+1 < len(candidates) {
		return s.advance(ctx, req, model.StateRetry)
	}

	if s.shouldEscalate(candidates) {
		fallback, err := s.router.Fallback(ctx, req.Capability)
		if err != nil {
			return err
		}
		if len(fallback) > 0 {
			log.WithFields(log.Fields{
				"request_id": req.ID,
				"capability": req.Capability,
			}).Warn("unlimited tier exhausted, escalating to fallback tier")
			req.Tier = TierFallback
			if err := req.SetCandidates(append(candidates, fallback...)); err != nil {
				return err
			}
			return s.advance(ctx, req, model.StateRetry)
		}
	}

	return s.advance(ctx, req, model.StateAllFailed)
}

func (s *GenerationService) shouldEscalate(candidates []model.RouteCandidate) bool {
	if !s.cfg.Orchestrator.EscalateOnExhaustion {
		return false
	}
	for _, c := range candidates {
		if c.Tier != TierUnlimited {
			return false
		}
	}
	return true
}

type providerResult struct {
	out *dto.GenerationOutput
	err error
}

// callProvider 超时即视为失败并放弃等待，不中止远端任务
func (s *GenerationService) callProvider(ctx context.Context, providerID string, req *model.GenerationRequest, params map[string]interface{}) (*dto.GenerationOutput, error) {
	client, ok := s.providers[providerID]
	if !ok {
		return nil, fmt.Errorf("%w: provider %s not configured", ErrProviderError, providerID)
	}

	timeout := s.cfg.Orchestrator.ProviderTimeout
	done := make(chan providerResult, 1)
	go func() {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		out, err := client.Generate(callCtx, req.Capability, req.Prompt, params)
		done <- providerResult{out: out, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-done:
		if r.err != nil {
			if errors.Is(r.err, context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: %s", ErrProviderTimeout, providerID)
			}
			return nil, fmt.Errorf("%w: %v", ErrProviderError, r.err)
		}
		if r.out == nil || r.out.ArtifactRef == "" {
			return nil, fmt.Errorf("%w: empty artifact from %s", ErrProviderError, providerID)
		}
		return r.out, nil
	case <-timer.C:
		return nil, fmt.Errorf("%w: %s after %s", ErrProviderTimeout, providerID, timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// charge 生成成功后才扣费；扣费失败保留产物并标记未扣费
func (s *GenerationService) charge(ctx context.Context, exec *execution) error {
	req := exec.req
	s.releaseUnused(ctx, req)
	s.archive(req)

	result, err := s.ledger.CheckAndDebit(ctx, req.AccountID, CostTable{req.Capability: req.Cost}, req.Capability, &req.ID)
	if err != nil {
		reason := ""
		switch {
		case errors.Is(err, ErrInsufficientCredits):
			reason = model.ReasonInsufficientCredits
		case errors.Is(err, ErrConcurrencyTimeout):
			reason = model.ReasonConcurrencyTimeout
		default:
			return fmt.Errorf("debit request %d: %w", req.ID, err)
		}

		req.BillingStatus = model.BillingUnbilled
		log.WithFields(log.Fields{
			"request_id": req.ID,
			"account_id": req.AccountID,
			"reason":     reason,
		}).Warn("artifact generated but not billed")
		if err := s.fail(ctx, req, reason, err.Error()); err != nil {
			return err
		}
		if exec.enqueueBilling {
			s.enqueue(ctx, req, queue.JobBillingRetry)
		}
		return nil
	}

	if err := req.SetEntryIDs(result.EntryIDs()); err != nil {
		return err
	}
	req.BillingStatus = model.BillingBilled
	if err := s.advance(ctx, req, model.StateCharged); err != nil {
		// 扣费已生效但状态未落库，冲正后由调用方重试
		if refundErr := s.ledger.RefundAll(context.Background(), result.EntryIDs()); refundErr != nil {
			log.WithError(refundErr).WithField("request_id", req.ID).Error("refund after persist failure failed")
			return errors.Join(err, refundErr)
		}
		req.BillingStatus = model.BillingNone
		req.LedgerEntryIDs = nil
		return err
	}
	return nil
}

func (s *GenerationService) insertCache(ctx context.Context, exec *execution) error {
	req := exec.req
	params, err := req.ParamMap()
	if err != nil {
		return err
	}

	sourceID := req.ID
	entry, err := s.cache.Insert(ctx, req.Capability, req.NormalizedPrompt, params, req.ArtifactRef, &sourceID, exec.embedding)
	if err != nil {
		// 缓存只是优化，写入失败不影响结果
		log.WithError(err).WithField("request_id", req.ID).Warn("insert similarity cache failed")
	} else {
		entryID := entry.ID
		req.CacheEntryID = &entryID
	}
	return s.advance(ctx, req, model.StateCached)
}

// archive 产物清单归档到 OSS，失败只记录日志
func (s *GenerationService) archive(req *model.GenerationRequest) {
	if s.archiver == nil || req.ArchiveURL != "" {
		return
	}

	manifest := map[string]interface{}{
		"request_id":   req.ID,
		"account_id":   req.AccountID,
		"capability":   req.Capability,
		"provider":     req.Provider,
		"artifact_ref": req.ArtifactRef,
		"prompt":       req.NormalizedPrompt,
		"params":       req.Params,
		"attempts":     req.Attempts,
		"generated_at": s.now().Format(time.RFC3339),
	}
	data, err := json.Marshal(manifest)
	if err != nil {
		log.WithError(err).WithField("request_id", req.ID).Warn("marshal manifest failed")
		return
	}

	url, err := s.archiver.UploadManifest(req.ID, data)
	if err != nil {
		log.WithError(err).WithField("request_id", req.ID).Warn("archive manifest failed")
		return
	}
	req.ArchiveURL = url
}

// releaseUnused 归还未被调用的探测候选
func (s *GenerationService) releaseUnused(ctx context.Context, req *model.GenerationRequest) {
	candidates, err := req.CandidateList()
	if err != nil || len(candidates) == 0 {
		return
	}
	start := req.AttemptIndex + 1
	if req.State == model.StateCacheChecked || req.State == model.StateRouted {
		start = req.AttemptIndex
	}
	if start < len(candidates) {
		s.router.ReleaseProbes(ctx, req.Capability, candidates[start:])
	}
}

func (s *GenerationService) fail(ctx context.Context, req *model.GenerationRequest, reason, detail string) error {
	req.FailureReason = reason
	req.FailureDetail = detail
	log.WithFields(log.Fields{
		"request_id": req.ID,
		"account_id": req.AccountID,
		"reason":     reason,
	}).Warn("generation request failed")
	return s.advance(ctx, req, model.StateFailed)
}

// advance 迁移状态并落库，然后推送进度
func (s *GenerationService) advance(ctx context.Context, req *model.GenerationRequest, state string) error {
	req.State = state
	if model.IsTerminal(state) {
		now := s.now()
		req.CompletedAt = &now
	}
	if err := s.genRepo.Save(req); err != nil {
		return fmt.Errorf("persist state %s: %w", state, err)
	}
	s.publish(ctx, req)
	return nil
}

func (s *GenerationService) publish(ctx context.Context, req *model.GenerationRequest) {
	if s.publisher == nil {
		return
	}
	msg := &pubsub.ProgressMessage{
		AccountID:     req.AccountID,
		RequestID:     req.ID,
		State:         req.State,
		Provider:      req.Provider,
		FailureReason: req.FailureReason,
	}
	if model.IsTerminal(req.State) {
		msg.ArtifactRef = req.ArtifactRef
	}
	if err := s.publisher.PublishProgress(ctx, msg); err != nil {
		log.WithError(err).WithField("request_id", req.ID).Warn("publish progress failed")
	}
}

func (s *GenerationService) enqueue(ctx context.Context, req *model.GenerationRequest, jobType string) {
	if s.jobs == nil {
		return
	}
	err := s.jobs.Push(ctx, &queue.JobMessage{
		Type:      jobType,
		RequestID: req.ID,
		AccountID: req.AccountID,
	})
	if err != nil {
		log.WithError(err).WithFields(log.Fields{
			"request_id": req.ID,
			"job":        jobType,
		}).Error("enqueue job failed")
	}
}

// isUnbilled 已有产物但扣费失败
func isUnbilled(req *model.GenerationRequest) bool {
	return req.State == model.StateFailed && req.BillingStatus == model.BillingUnbilled && req.ArtifactRef != ""
}

// isRestartable 预检余额不足、尚未生成任何产物
func isRestartable(req *model.GenerationRequest) bool {
	return req.State == model.StateFailed && req.FailureReason == model.ReasonInsufficientCredits && req.ArtifactRef == ""
}

func resetForRestart(req *model.GenerationRequest) {
	req.FailureReason = ""
	req.FailureDetail = ""
	req.Tier = ""
	req.Candidates = nil
	req.AttemptIndex = 0
	req.Provider = ""
	req.Cost = 0
	req.BillingStatus = model.BillingNone
	req.CompletedAt = nil
}

// failureError FAILED 原因对应的哨兵错误
func failureError(req *model.GenerationRequest) error {
	if req.State != model.StateFailed {
		return nil
	}
	switch req.FailureReason {
	case model.ReasonModerationRejected:
		return ErrModerationRejected
	case model.ReasonModerationUnavailable:
		return ErrModerationUnavailable
	case model.ReasonInsufficientCredits:
		return ErrInsufficientCredits
	case model.ReasonConcurrencyTimeout:
		return ErrConcurrencyTimeout
	case model.ReasonAllProvidersExhausted:
		return ErrAllProvidersExhausted
	case model.ReasonAbandoned:
		return ErrRequestAbandoned
	default:
		return fmt.Errorf("generation failed: %s", req.FailureReason)
	}
}

func buildResult(req *model.GenerationRequest) *dto.GenerationResult {
	return &dto.GenerationResult{
		RequestID:          req.ID,
		IdempotencyKey:     req.IdempotencyKey,
		Capability:         req.Capability,
		State:              req.State,
		FailureReason:      req.FailureReason,
		ModerationCategory: req.ModerationCategory,
		Provider:           req.Provider,
		ArtifactRef:        req.ArtifactRef,
		ArchiveURL:         req.ArchiveURL,
		Cost:               req.Cost,
		BillingStatus:      req.BillingStatus,
		CacheHit:           req.CacheHit,
	}
}
