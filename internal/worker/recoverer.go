package worker

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/qs3c/gen_go_server/config"
	"github.com/qs3c/gen_go_server/internal/pkg/queue"
	"github.com/qs3c/gen_go_server/internal/repository"
)

// Enqueuer 投递任务
type Enqueuer interface {
	Push(ctx context.Context, msg *queue.JobMessage) error
}

// Recoverer 周期扫描长时间未推进的在途请求并投递恢复任务。
// 启动时额外补投一次未扣费请求，弥补进程崩溃丢失的补扣任务。
type Recoverer struct {
	genRepo *repository.GenerationRepository
	jobs    Enqueuer
	cfg     *config.Config
	now     func() time.Time
}

func NewRecoverer(genRepo *repository.GenerationRepository, jobs Enqueuer, cfg *config.Config) *Recoverer {
	return &Recoverer{
		genRepo: genRepo,
		jobs:    jobs,
		cfg:     cfg,
		now:     time.Now,
	}
}

// Start 启动后台扫描循环
func (r *Recoverer) Start(ctx context.Context) {
	r.RequeueUnbilled(ctx)
	r.RecoverStale(ctx)

	every := r.cfg.Queue.RecoverEvery
	if every <= 0 {
		every = time.Minute
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("recoverer stopped")
			return
		case <-ticker.C:
			r.RecoverStale(ctx)
		}
	}
}

// RecoverStale 返回投递的恢复任务数
func (r *Recoverer) RecoverStale(ctx context.Context) int {
	before := r.now().Add(-r.cfg.Orchestrator.StaleAfter)
	reqs, err := r.genRepo.ListStale(before, r.batch())
	if err != nil {
		log.WithError(err).Warn("recoverer: list stale requests failed")
		return 0
	}

	pushed := 0
	for _, req := range reqs {
		err := r.jobs.Push(ctx, &queue.JobMessage{
			Type:      queue.JobResume,
			RequestID: req.ID,
			AccountID: req.AccountID,
		})
		if err != nil {
			log.WithError(err).WithField("request_id", req.ID).Warn("recoverer: enqueue resume failed")
			continue
		}
		pushed++
	}
	if pushed > 0 {
		log.WithField("count", pushed).Info("recoverer: stale requests enqueued")
	}
	return pushed
}

// RequeueUnbilled 返回投递的补扣任务数
func (r *Recoverer) RequeueUnbilled(ctx context.Context) int {
	reqs, err := r.genRepo.ListUnbilled(r.batch())
	if err != nil {
		log.WithError(err).Warn("recoverer: list unbilled requests failed")
		return 0
	}

	pushed := 0
	for _, req := range reqs {
		err := r.jobs.Push(ctx, &queue.JobMessage{
			Type:      queue.JobBillingRetry,
			RequestID: req.ID,
			AccountID: req.AccountID,
		})
		if err != nil {
			log.WithError(err).WithField("request_id", req.ID).Warn("recoverer: enqueue billing retry failed")
			continue
		}
		pushed++
	}
	if pushed > 0 {
		log.WithField("count", pushed).Info("recoverer: unbilled requests enqueued")
	}
	return pushed
}

func (r *Recoverer) batch() int {
	if r.cfg.Queue.RecoverBatch > 0 {
		return r.cfg.Queue.RecoverBatch
	}
	return 100
}
