package notify

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/elie-6/AI-Email-Parsing-API/internal/model"
	"github.com/elie-6/AI-Email-Parsing-API/internal/store"
	"github.com/elie-6/AI-Email-Parsing-API/pkg/logger"
	"github.com/elie-6/AI-Email-Parsing-API/pkg/metrics"
)

// DispatchResult 一次 DispatchPending 的统计
type DispatchResult struct {
	Sent    int
	Failed  int
	Skipped int
}

type Option func(*Dispatcher)

// WithRateLimit 限制每秒发送数，<= 0 表示不限制
func WithRateLimit(perSecond float64) Option {
	return func(d *Dispatcher) {
		if perSecond > 0 {
			d.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

// WithClock 替换时钟，用于测试
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

type Dispatcher struct {
	notifications store.NotificationStore
	channel       Channel
	limiter       *rate.Limiter
	now           func() time.Time
	logger        *zap.Logger
}

func NewDispatcher(notifications store.NotificationStore, channel Channel, logger *zap.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		notifications: notifications,
		channel:       channel,
		limiter:       rate.NewLimiter(rate.Inf, 1),
		now:           time.Now,
		logger:        logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// DispatchPending 为每个已完成且没有通知记录的 item 至多发送一次通知。
// 记录在发送前写入；已经存在记录的 item 不会再次尝试，即使记录停留在 pending。
func (d *Dispatcher) DispatchPending(ctx context.Context) (DispatchResult, error) {
	var res DispatchResult
	log := logger.WithTrace(ctx, d.logger)

	candidates, err := d.notifications.ListNotificationCandidates(ctx)
	if err != nil {
		return res, fmt.Errorf("list notification candidates: %w", err)
	}

	for i := range candidates {
		if err := ctx.Err(); err != nil {
			log.Info("Dispatch interrupted", zap.Int("remaining", len(candidates)-i))
			return res, err
		}

		c := &candidates[i]
		clog := log.With(
			zap.Int64("item_id", c.Item.ID),
			zap.Int64("tenant_id", c.TenantID),
		)

		if c.Destination == "" {
			clog.Warn("Tenant has no notification destination, skipping")
			metrics.IncrementNotification("skipped")
			res.Skipped++
			continue
		}

		// 先等配额再写记录，避免取消后留下没有发送的 pending 记录
		if err := d.limiter.Wait(ctx); err != nil {
			return res, err
		}

		status, err := d.dispatchOne(ctx, clog, c)
		if err != nil {
			return res, err
		}
		metrics.IncrementNotification(status)
		switch status {
		case string(model.NotificationSent):
			res.Sent++
		case string(model.NotificationFailed):
			res.Failed++
		default:
			res.Skipped++
		}
	}

	log.Info("Dispatch completed",
		zap.Int("candidates", len(candidates)),
		zap.Int("sent", res.Sent),
		zap.Int("failed", res.Failed),
		zap.Int("skipped", res.Skipped),
	)
	return res, nil
}

func (d *Dispatcher) dispatchOne(ctx context.Context, log *zap.Logger, c *model.NotificationCandidate) (string, error) {
	rec := &model.NotificationRecord{
		ItemID:   c.Item.ID,
		TenantID: c.TenantID,
		Channel:  d.channel.Name(),
		SentTo:   c.Destination,
	}
	created, err := d.notifications.CreatePendingNotification(ctx, rec)
	if err != nil {
		return "", fmt.Errorf("create notification for item %d: %w", c.Item.ID, err)
	}
	if !created {
		log.Debug("Notification already recorded, skipping")
		return "skipped", nil
	}

	subject, body := Render(c)
	sendErr := d.channel.Send(ctx, c.Destination, subject, body)

	status, errMsg := model.NotificationSent, ""
	if sendErr != nil {
		status, errMsg = model.NotificationFailed, sendErr.Error()
	}
	if err := d.notifications.FinishNotification(context.WithoutCancel(ctx), rec.ID, status, errMsg); err != nil {
		return "", fmt.Errorf("finish notification %d: %w", rec.ID, err)
	}

	if sendErr != nil {
		log.Error("Notification delivery failed",
			zap.Int64("notification_id", rec.ID),
			zap.String("sent_to", c.Destination),
			zap.Error(sendErr),
		)
	} else {
		log.Info("Notification sent",
			zap.Int64("notification_id", rec.ID),
			zap.String("sent_to", c.Destination),
		)
	}
	return string(status), nil
}

// ListStalePending 返回创建超过 olderThan 仍为 pending 的记录，需要人工核对
func (d *Dispatcher) ListStalePending(ctx context.Context, olderThan time.Duration) ([]model.NotificationRecord, error) {
	recs, err := d.notifications.ListStalePending(ctx, d.now().Add(-olderThan))
	if err != nil {
		return nil, fmt.Errorf("list stale notifications: %w", err)
	}
	return recs, nil
}
