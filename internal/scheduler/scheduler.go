// Package scheduler 按固定间隔发布 fetch → classify → notify 触发消息
package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	mqcontracts "github.com/elie-6/AI-Email-Parsing-API/contracts/mq"
	"github.com/elie-6/AI-Email-Parsing-API/pkg/trace"
)

// Publisher *mq.Publisher 满足该接口
type Publisher interface {
	PublishWithContext(ctx context.Context, routingKey string, payload any) error
}

type Scheduler struct {
	publisher Publisher
	interval  time.Duration
	logger    *zap.Logger
}

func New(publisher Publisher, interval time.Duration, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		publisher: publisher,
		interval:  interval,
		logger:    logger,
	}
}

// Run 启动时立即触发一轮，之后每个 interval 触发一轮，直到 ctx 结束。
// interval <= 0 时不调度，只等待 ctx 结束。
func (s *Scheduler) Run(ctx context.Context) error {
	if s.interval <= 0 {
		s.logger.Info("Scheduler disabled")
		<-ctx.Done()
		return nil
	}

	s.logger.Info("Scheduler started", zap.Duration("interval", s.interval))
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler stopped")
			return nil
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if err := s.Tick(ctx); err != nil {
		s.logger.Error("Scheduled trigger failed", zap.Error(err))
	}
}

// Tick 发布一轮触发。三个阶段通过存储状态衔接，任何一个发布失败都会停止本轮。
func (s *Scheduler) Tick(ctx context.Context) error {
	ctx, traceID := trace.Ensure(ctx)

	steps := []struct {
		key     string
		payload any
	}{
		{mqcontracts.RoutingKeyFetch, mqcontracts.FetchTriggerPayload{}},
		{mqcontracts.RoutingKeyClassify, mqcontracts.ClassifyTriggerPayload{}},
		{mqcontracts.RoutingKeyNotify, mqcontracts.NotifyTriggerPayload{}},
	}
	for _, step := range steps {
		if err := s.publisher.PublishWithContext(ctx, step.key, step.payload); err != nil {
			return fmt.Errorf("publish %s: %w", step.key, err)
		}
	}

	s.logger.Debug("Scheduled triggers published", zap.String("trace_id", traceID))
	return nil
}
