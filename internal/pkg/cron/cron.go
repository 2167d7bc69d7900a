package cron

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/qs3c/gen_go_server/internal/service"
)

// Ledger 定时任务依赖的账本操作
type Ledger interface {
	ResetDueSubscriptions(ctx context.Context) (int, error)
	ExpireBonuses(ctx context.Context) (int, error)
	ResetWeekday() time.Weekday
}

type Service struct {
	ledger        Ledger
	sweepEvery    time.Duration
	untilBoundary func() time.Duration
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
}

func NewService(ledger Ledger) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		ledger:     ledger,
		sweepEvery: time.Hour,
		ctx:        ctx,
		cancel:     cancel,
	}
	s.untilBoundary = func() time.Duration {
		now := time.Now()
		return service.NextResetAt(now, ledger.ResetWeekday()).Sub(now)
	}
	return s
}

// Start 启动定时任务
func (s *Service) Start() {
	s.wg.Add(2)
	go s.runWeeklyReset()
	go s.runHourlySweep()
	log.WithField("reset_weekday", s.ledger.ResetWeekday().String()).Info("cron service started (weekly reset + bonus expiry)")
}

// Stop 停止定时任务并等待正在执行的一轮结束
func (s *Service) Stop() {
	s.cancel()
	s.wg.Wait()
	log.Info("cron service stopped")
}

// runWeeklyReset 在每个周边界重置订阅额度
func (s *Service) runWeeklyReset() {
	defer s.wg.Done()

	timer := time.NewTimer(s.untilBoundary())
	defer timer.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-timer.C:
			s.resetSubscriptions()
			timer.Reset(s.untilBoundary())
		}
	}
}

// runHourlySweep 清算过期赠送，并补跑错过周边界的账户
func (s *Service) runHourlySweep() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.expireBonuses()
			s.resetSubscriptions()
		}
	}
}

func (s *Service) resetSubscriptions() error {
	start := time.Now()
	n, err := s.ledger.ResetDueSubscriptions(s.ctx)
	entry := log.WithFields(log.Fields{"reset": n, "elapsed": time.Since(start).String()})
	if err != nil {
		entry.WithError(err).Error("subscription reset finished with errors")
		return err
	}
	if n > 0 {
		entry.Info("subscriptions reset")
	}
	return nil
}

func (s *Service) expireBonuses() error {
	n, err := s.ledger.ExpireBonuses(s.ctx)
	if err != nil {
		log.WithError(err).WithField("expired", n).Error("bonus expiry finished with errors")
		return err
	}
	if n > 0 {
		log.WithField("expired", n).Info("expired bonus grants swept")
	}
	return nil
}

// RunNow 立即执行一轮重置与清算（用于手动触发）
func (s *Service) RunNow() error {
	log.Info("manual ledger sweep triggered")
	return errors.Join(s.resetSubscriptions(), s.expireBonuses())
}
