// Package classify 驱动 pending → processing → {done, spam, failed} 状态机
package classify

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/elie-6/AI-Email-Parsing-API/internal/classifier"
	"github.com/elie-6/AI-Email-Parsing-API/internal/model"
	"github.com/elie-6/AI-Email-Parsing-API/internal/store"
	"github.com/elie-6/AI-Email-Parsing-API/pkg/logger"
	"github.com/elie-6/AI-Email-Parsing-API/pkg/metrics"
	"github.com/elie-6/AI-Email-Parsing-API/pkg/retry"
)

// DefaultBatchSize 单批最多处理的 item 数
const DefaultBatchSize = 10

// BatchResult 一次 RunBatch 的统计。Succeeded 包含 done 和 spam。
type BatchResult struct {
	Succeeded int
	Failed    int
	Spam      int
	Skipped   int
}

type Pipeline struct {
	items      store.ItemStore
	classifier classifier.Classifier
	policy     retry.Policy
	logger     *zap.Logger
}

func NewPipeline(items store.ItemStore, c classifier.Classifier, policy retry.Policy, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		items:      items,
		classifier: c,
		policy:     policy,
		logger:     logger,
	}
}

// RunBatch 按 received_at 升序处理最多 limit 条 pending item。
// 单条失败不影响其他条目；存储写入失败会中止整批并返回错误。
func (p *Pipeline) RunBatch(ctx context.Context, limit int) (BatchResult, error) {
	var res BatchResult
	if limit <= 0 {
		limit = DefaultBatchSize
	}
	log := logger.WithTrace(ctx, p.logger)

	items, err := p.items.ListPendingItems(ctx, limit)
	if err != nil {
		return res, fmt.Errorf("list pending items: %w", err)
	}

	for i := range items {
		if err := ctx.Err(); err != nil {
			log.Info("Batch interrupted", zap.Int("remaining", len(items)-i))
			return res, err
		}

		status, err := p.processItem(ctx, log, &items[i])
		if err != nil {
			return res, err
		}
		switch status {
		case model.ItemDone:
			res.Succeeded++
		case model.ItemSpam:
			res.Succeeded++
			res.Spam++
		case model.ItemFailed:
			res.Failed++
		default:
			res.Skipped++
		}
	}

	log.Info("Batch completed",
		zap.Int("selected", len(items)),
		zap.Int("succeeded", res.Succeeded),
		zap.Int("spam", res.Spam),
		zap.Int("failed", res.Failed),
		zap.Int("skipped", res.Skipped),
	)
	return res, nil
}

// processItem 返回 item 的终态；没有抢到或被并发修改时返回空状态
func (p *Pipeline) processItem(ctx context.Context, log *zap.Logger, item *model.Item) (model.ItemStatus, error) {
	log = log.With(zap.Int64("item_id", item.ID), zap.String("external_id", item.ExternalID))

	claimed, err := p.items.ClaimItem(ctx, item.ID)
	if err != nil {
		return "", fmt.Errorf("claim item %d: %w", item.ID, err)
	}
	if !claimed {
		log.Debug("Item already claimed, skipping")
		return "", nil
	}

	raw, err := p.classify(ctx, log, item)
	if err != nil && ctx.Err() != nil && !retry.IsExhausted(err) {
		// 被取消：放回 pending，交给下一次运行
		if _, relErr := p.items.ReleaseItem(context.WithoutCancel(ctx), item.ID); relErr != nil {
			return "", fmt.Errorf("release item %d: %w", item.ID, relErr)
		}
		return "", ctx.Err()
	}

	status := model.ItemFailed
	var result *model.ClassificationResult
	switch {
	case err != nil:
		log.Warn("Classification failed", zap.Bool("retries_exhausted", retry.IsExhausted(err)), zap.Error(err))
	default:
		parsed, perr := Parse(raw)
		switch {
		case perr != nil:
			log.Warn("Classifier output unusable", zap.Error(perr), zap.Int("output_len", len(raw)))
		case parsed.IsSpam():
			status = model.ItemSpam
		default:
			status = model.ItemDone
			result = &model.ClassificationResult{
				ItemID:            item.ID,
				Category:          parsed.Category,
				Intent:            parsed.Intent,
				Urgency:           parsed.Urgency,
				ExtractedEntities: parsed.ExtractedEntities,
				Summary:           parsed.Summary,
				Confidence:        parsed.Confidence,
				ModelVersion:      p.classifier.Version(),
			}
		}
	}

	// 已经拿到结果的 item 总是写完，取消只在条目之间生效
	ok, err := p.items.CompleteItem(context.WithoutCancel(ctx), item.ID, status, p.classifier.Version(), result)
	if err != nil {
		return "", fmt.Errorf("complete item %d: %w", item.ID, err)
	}
	if !ok {
		log.Warn("Item left processing concurrently, result discarded", zap.String("status", string(status)))
		return "", nil
	}

	metrics.IncrementItemsClassified(string(status))
	log.Info("Item classified", zap.String("status", string(status)))
	return status, nil
}

func (p *Pipeline) classify(ctx context.Context, log *zap.Logger, item *model.Item) (string, error) {
	prompt := BuildPrompt(item.Subject, item.Preview)

	var raw string
	err := retry.Do(ctx, p.policy, func(ctx context.Context, attempt int) error {
		out, err := p.classifier.Classify(ctx, prompt)
		if err != nil {
			log.Debug("Classifier attempt failed", zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		raw = out
		return nil
	}, func(err error) bool {
		return errors.Is(err, classifier.ErrTransient)
	})
	return raw, err
}

// Requeue 把 failed item 显式放回 pending，其他状态不受影响
func (p *Pipeline) Requeue(ctx context.Context, ids []int64) (int, error) {
	n, err := p.items.RequeueFailed(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("requeue items: %w", err)
	}
	logger.WithTrace(ctx, p.logger).Info("Failed items requeued",
		zap.Int("requested", len(ids)),
		zap.Int("requeued", n),
	)
	return n, nil
}
