package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/qs3c/gen_go_server/config"
	"github.com/qs3c/gen_go_server/internal/model/dto"
	"github.com/qs3c/gen_go_server/internal/pkg/queue"
	"github.com/qs3c/gen_go_server/internal/service"
)

const maxBackoff = time.Hour

// GenerationRunner 任务对应的编排操作
type GenerationRunner interface {
	RetryBilling(ctx context.Context, accountID, requestID int64) (*dto.GenerationResult, error)
	Resume(ctx context.Context, requestID int64) (*dto.GenerationResult, error)
}

// JobQueue 处理失败后的重投与死信
type JobQueue interface {
	PushDelayed(ctx context.Context, msg *queue.JobMessage, delay time.Duration) error
	PushDead(ctx context.Context, msg *queue.JobMessage) error
}

// Processor 任务处理器
type Processor struct {
	runner GenerationRunner
	queue  JobQueue
	cfg    config.QueueConfig
}

func NewProcessor(runner GenerationRunner, jobQueue JobQueue, cfg *config.Config) *Processor {
	return &Processor{
		runner: runner,
		queue:  jobQueue,
		cfg:    cfg.Queue,
	}
}

// Process 执行一条任务；需要重试时按指数退避重新入队，超过次数进入死信
func (p *Processor) Process(ctx context.Context, msg *queue.JobMessage) error {
	logger := log.WithFields(log.Fields{
		"type":       msg.Type,
		"request_id": msg.RequestID,
		"attempt":    msg.Attempt,
	})

	var err error
	switch msg.Type {
	case queue.JobBillingRetry:
		_, err = p.runner.RetryBilling(ctx, msg.AccountID, msg.RequestID)
	case queue.JobResume:
		_, err = p.runner.Resume(ctx, msg.RequestID)
	default:
		msg.LastError = "unknown job type"
		logger.Warn("unknown job type, moving to dead letter")
		return p.queue.PushDead(ctx, msg)
	}

	if err == nil || settled(msg.Type, err) {
		logger.WithError(err).Info("job settled")
		return nil
	}

	return p.retry(ctx, msg, err)
}

func (p *Processor) retry(ctx context.Context, msg *queue.JobMessage, cause error) error {
	msg.Attempt++
	msg.LastError = cause.Error()

	logger := log.WithFields(log.Fields{
		"type":       msg.Type,
		"request_id": msg.RequestID,
		"attempt":    msg.Attempt,
	}).WithError(cause)

	if p.cfg.MaxAttempts > 0 && msg.Attempt >= p.cfg.MaxAttempts {
		logger.Warn("job exhausted retries, moving to dead letter")
		if err := p.queue.PushDead(ctx, msg); err != nil {
			return fmt.Errorf("push dead letter: %w", err)
		}
		return cause
	}

	delay := Backoff(p.cfg.RetryBackoff, msg.Attempt)
	logger.WithField("delay", delay).Info("job rescheduled")
	if err := p.queue.PushDelayed(ctx, msg, delay); err != nil {
		return fmt.Errorf("reschedule job: %w", err)
	}
	return cause
}

// settled 请求已到达不需要再处理的状态
func settled(jobType string, err error) bool {
	switch {
	case errors.Is(err, service.ErrRequestNotFound),
		errors.Is(err, service.ErrNotBillable):
		return true
	case errors.Is(err, service.ErrInsufficientCredits),
		errors.Is(err, service.ErrConcurrencyTimeout),
		errors.Is(err, service.ErrRequestInProgress):
		return false
	}

	// 恢复任务推进到 FAILED 终态也算完成
	if jobType == queue.JobResume {
		return errors.Is(err, service.ErrModerationRejected) ||
			errors.Is(err, service.ErrModerationUnavailable) ||
			errors.Is(err, service.ErrAllProvidersExhausted) ||
			errors.Is(err, service.ErrRequestAbandoned)
	}
	return false
}

// Backoff base * 2^(attempt-1)，上限一小时
func Backoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if attempt < 1 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxBackoff {
			return maxBackoff
		}
	}
	return delay
}
