package mqhandler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	mqcontracts "github.com/elie-6/AI-Email-Parsing-API/contracts/mq"
	"github.com/elie-6/AI-Email-Parsing-API/internal/classify"
	"github.com/elie-6/AI-Email-Parsing-API/internal/credential"
	"github.com/elie-6/AI-Email-Parsing-API/internal/ingest"
	"github.com/elie-6/AI-Email-Parsing-API/internal/notify"
	"github.com/elie-6/AI-Email-Parsing-API/pkg/lock"
	"github.com/elie-6/AI-Email-Parsing-API/pkg/logger"
	"github.com/elie-6/AI-Email-Parsing-API/pkg/mq"
)

// ClassifyLockName 分类批次的运行锁，同一时刻只允许一个 runner
const ClassifyLockName = "pipeline:classify"

// Stages 三个阶段的入口，*pipeline.Pipeline 满足该接口
type Stages interface {
	FetchAccount(ctx context.Context, accountID int64, limit int) (int, error)
	FetchAll(ctx context.Context, limit int) ([]ingest.AccountReport, error)
	Classify(ctx context.Context, limit int) (classify.BatchResult, error)
	Dispatch(ctx context.Context) (notify.DispatchResult, error)
	Requeue(ctx context.Context, ids []int64) (int, error)
}

// TriggerHandler 消费 pipeline.* 触发消息。
// 返回 nil 表示 ack；包装 mq.ErrPoison 的错误进入死信队列；其余错误重新入队。
type TriggerHandler struct {
	stages Stages
	locker lock.Locker
	logger *zap.Logger
}

func NewTriggerHandler(stages Stages, locker lock.Locker, logger *zap.Logger) *TriggerHandler {
	return &TriggerHandler{
		stages: stages,
		locker: locker,
		logger: logger,
	}
}

func decode(raw json.RawMessage, out any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %v", mq.ErrPoison, err)
	}
	return nil
}

// HandleFetch 拉取单个账号或全部激活账号
func (h *TriggerHandler) HandleFetch(ctx context.Context, raw json.RawMessage) error {
	log := logger.WithTrace(ctx, h.logger)

	var p mqcontracts.FetchTriggerPayload
	if err := decode(raw, &p); err != nil {
		log.Error("Failed to unmarshal fetch trigger", zap.Error(err))
		return err
	}

	if p.AccountID == 0 {
		reports, err := h.stages.FetchAll(ctx, p.Limit)
		if err != nil {
			log.Error("Fetch all accounts failed", zap.Error(err))
			return err
		}
		inserted, failed := 0, 0
		for _, r := range reports {
			inserted += r.Inserted
			if r.Err != nil {
				failed++
			}
		}
		log.Info("Fetch completed",
			zap.Int("accounts", len(reports)),
			zap.Int("failed_accounts", failed),
			zap.Int("inserted", inserted),
		)
		return nil
	}

	n, err := h.stages.FetchAccount(ctx, p.AccountID, p.Limit)
	switch {
	case err == nil:
		log.Info("Fetch completed", zap.Int64("account_id", p.AccountID), zap.Int("inserted", n))
		return nil
	case errors.Is(err, credential.ErrAccountNotFound),
		errors.Is(err, credential.ErrAccountInactive),
		errors.Is(err, credential.ErrCredentialInvalid),
		errors.Is(err, ingest.ErrSourceUnavailable):
		// 重投不会改变结果，等下一次调度
		log.Warn("Fetch skipped",
			zap.Int64("account_id", p.AccountID),
			zap.Int("inserted", n),
			zap.Bool("deactivated", errors.Is(err, credential.ErrAccountDeactivated)),
			zap.Error(err),
		)
		return nil
	default:
		log.Error("Fetch failed", zap.Int64("account_id", p.AccountID), zap.Error(err))
		return err
	}
}

// HandleClassify 在运行锁保护下处理一批 pending item；锁被占用时直接 ack
func (h *TriggerHandler) HandleClassify(ctx context.Context, raw json.RawMessage) error {
	log := logger.WithTrace(ctx, h.logger)

	var p mqcontracts.ClassifyTriggerPayload
	if err := decode(raw, &p); err != nil {
		log.Error("Failed to unmarshal classify trigger", zap.Error(err))
		return err
	}

	handle, err := h.locker.TryAcquire(ctx, ClassifyLockName)
	if err != nil {
		log.Error("Failed to acquire classify lock", zap.Error(err))
		return err
	}
	if handle == nil {
		log.Info("Classification already running, trigger skipped")
		return nil
	}
	defer func() {
		if err := handle.Release(context.WithoutCancel(ctx)); err != nil {
			log.Warn("Failed to release classify lock", zap.Error(err))
		}
	}()

	res, err := h.stages.Classify(ctx, p.Limit)
	if err != nil {
		log.Error("Classification batch aborted",
			zap.Int("succeeded", res.Succeeded),
			zap.Int("failed", res.Failed),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func (h *TriggerHandler) HandleNotify(ctx context.Context, raw json.RawMessage) error {
	log := logger.WithTrace(ctx, h.logger)

	var p mqcontracts.NotifyTriggerPayload
	if err := decode(raw, &p); err != nil {
		log.Error("Failed to unmarshal notify trigger", zap.Error(err))
		return err
	}

	res, err := h.stages.Dispatch(ctx)
	if err != nil {
		log.Error("Dispatch aborted", zap.Int("sent", res.Sent), zap.Error(err))
		return err
	}
	return nil
}

// HandleRequeue 把指定的 failed item 放回 pending
func (h *TriggerHandler) HandleRequeue(ctx context.Context, raw json.RawMessage) error {
	log := logger.WithTrace(ctx, h.logger)

	var p mqcontracts.RequeuePayload
	if err := decode(raw, &p); err != nil {
		log.Error("Failed to unmarshal requeue payload", zap.Error(err))
		return err
	}
	if len(p.ItemIDs) == 0 {
		log.Error("Requeue payload without item ids")
		return fmt.Errorf("%w: requeue payload without item_ids", mq.ErrPoison)
	}

	if _, err := h.stages.Requeue(ctx, p.ItemIDs); err != nil {
		log.Error("Requeue failed", zap.Error(err))
		return err
	}
	return nil
}

// Routes routing key 到 handler 的映射，供 worker 创建消费者
func (h *TriggerHandler) Routes() map[string]mq.MessageHandler {
	return map[string]mq.MessageHandler{
		mqcontracts.RoutingKeyFetch:    h.HandleFetch,
		mqcontracts.RoutingKeyClassify: h.HandleClassify,
		mqcontracts.RoutingKeyNotify:   h.HandleNotify,
		mqcontracts.RoutingKeyRequeue:  h.HandleRequeue,
	}
}
