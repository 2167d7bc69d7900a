package worker

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/qs3c/gen_go_server/config"
	"github.com/qs3c/gen_go_server/internal/pkg/queue"
)

// Source 阻塞式取任务，并能把到期的延迟任务放回队列
type Source interface {
	Pop(ctx context.Context, timeout time.Duration) (*queue.JobMessage, error)
	PromoteDue(ctx context.Context, limit int) (int, error)
}

// Pool 固定数量的消费协程加一个延迟任务搬运协程
type Pool struct {
	source    Source
	processor *Processor
	cfg       config.QueueConfig
}

func NewPool(source Source, processor *Processor, cfg *config.Config) *Pool {
	return &Pool{
		source:    source,
		processor: processor,
		cfg:       cfg.Queue,
	}
}

// Run 阻塞直到 ctx 取消且所有协程退出
func (p *Pool) Run(ctx context.Context) {
	workers := p.cfg.MaxWorkers
	if workers < 1 {
		workers = 1
	}

	var wg sync.WaitGroup
	wg.Add(workers + 1)

	go func() {
		defer wg.Done()
		p.promote(ctx)
	}()

	for i := 0; i < workers; i++ {
		go func(workerID int) {
			defer wg.Done()
			p.consume(ctx, workerID)
		}(i)
	}

	log.WithField("workers", workers).Info("worker pool started")
	wg.Wait()
	log.Info("worker pool stopped")
}

func (p *Pool) consume(ctx context.Context, workerID int) {
	popTimeout := p.cfg.PopTimeout
	if popTimeout <= 0 {
		popTimeout = 5 * time.Second
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msg, err := p.source.Pop(ctx, popTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.WithError(err).WithField("worker", workerID).Warn("pop job failed")
			// 避免 Redis 不可用时空转
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if msg == nil {
			continue
		}

		if err := p.processor.Process(ctx, msg); err != nil {
			log.WithError(err).WithFields(log.Fields{
				"worker":     workerID,
				"type":       msg.Type,
				"request_id": msg.RequestID,
			}).Warn("job failed")
		}
	}
}

func (p *Pool) promote(ctx context.Context) {
	every := p.cfg.PromoteEvery
	if every <= 0 {
		every = time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := p.source.PromoteDue(ctx, 100); err != nil {
				if ctx.Err() == nil {
					log.WithError(err).Warn("promote delayed jobs failed")
				}
			} else if n > 0 {
				log.WithField("count", n).Debug("delayed jobs promoted")
			}
		}
	}
}
