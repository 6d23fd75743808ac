// Package pipeline 持有三个阶段的组件实例，是触发层唯一的入口
package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/elie-6/AI-Email-Parsing-API/internal/classifier"
	"github.com/elie-6/AI-Email-Parsing-API/internal/classify"
	"github.com/elie-6/AI-Email-Parsing-API/internal/credential"
	"github.com/elie-6/AI-Email-Parsing-API/internal/ingest"
	"github.com/elie-6/AI-Email-Parsing-API/internal/mailsource"
	"github.com/elie-6/AI-Email-Parsing-API/internal/model"
	"github.com/elie-6/AI-Email-Parsing-API/internal/notify"
	"github.com/elie-6/AI-Email-Parsing-API/internal/store"
	"github.com/elie-6/AI-Email-Parsing-API/pkg/retry"
)

// Settings 每次运行的默认规模和重试策略
type Settings struct {
	FetchLimit     int
	BatchSize      int
	Retry          retry.Policy
	SendRatePerSec float64
	StaleAfter     time.Duration
}

// Deps 构造 Pipeline 所需的外部依赖。Validator 和 Alerts 可以为空。
type Deps struct {
	Store      store.Store
	Refresher  credential.Refresher
	Validator  credential.Validator
	Source     mailsource.Source
	Classifier classifier.Classifier
	Channel    notify.Channel
	Alerts     credential.AlertSink
	Logger     *zap.Logger
	Settings   Settings
}

type Pipeline struct {
	store      store.Store
	fetcher    *ingest.Fetcher
	classify   *classify.Pipeline
	dispatcher *notify.Dispatcher
	settings   Settings
	logger     *zap.Logger
}

func New(d Deps) *Pipeline {
	if d.Settings.Retry.MaxAttempts <= 0 {
		d.Settings.Retry = retry.DefaultPolicy()
	}

	opts := []credential.Option{credential.WithRetryPolicy(d.Settings.Retry)}
	if d.Validator != nil {
		opts = append(opts, credential.WithValidator(d.Validator))
	}
	if d.Alerts != nil {
		opts = append(opts, credential.WithAlertSink(d.Alerts))
	}
	creds := credential.NewManager(d.Store, d.Refresher, d.Logger.Named("credential"), opts...)

	return &Pipeline{
		store:      d.Store,
		fetcher:    ingest.NewFetcher(creds, d.Source, d.Store, d.Store, d.Logger.Named("ingest")),
		classify:   classify.NewPipeline(d.Store, d.Classifier, d.Settings.Retry, d.Logger.Named("classify")),
		dispatcher: notify.NewDispatcher(d.Store, d.Channel, d.Logger.Named("notify"), notify.WithRateLimit(d.Settings.SendRatePerSec)),
		settings:   d.Settings,
		logger:     d.Logger,
	}
}

// FetchAccount 拉取单个账号的新邮件，limit <= 0 时使用配置值
func (p *Pipeline) FetchAccount(ctx context.Context, accountID int64, limit int) (int, error) {
	return p.fetcher.FetchNew(ctx, accountID, p.fetchLimit(limit))
}

// FetchAll 拉取所有激活账号
func (p *Pipeline) FetchAll(ctx context.Context, limit int) ([]ingest.AccountReport, error) {
	return p.fetcher.FetchAllActive(ctx, p.fetchLimit(limit))
}

// Classify 处理一批 pending item，limit <= 0 时使用配置值
func (p *Pipeline) Classify(ctx context.Context, limit int) (classify.BatchResult, error) {
	if limit <= 0 {
		limit = p.settings.BatchSize
	}
	return p.classify.RunBatch(ctx, limit)
}

func (p *Pipeline) Dispatch(ctx context.Context) (notify.DispatchResult, error) {
	return p.dispatcher.DispatchPending(ctx)
}

func (p *Pipeline) Requeue(ctx context.Context, ids []int64) (int, error) {
	return p.classify.Requeue(ctx, ids)
}

// StalePending olderThan <= 0 时使用配置的 StaleAfter
func (p *Pipeline) StalePending(ctx context.Context, olderThan time.Duration) ([]model.NotificationRecord, error) {
	if olderThan <= 0 {
		olderThan = p.settings.StaleAfter
	}
	return p.dispatcher.ListStalePending(ctx, olderThan)
}

func (p *Pipeline) Ping(ctx context.Context) error {
	return p.store.Ping(ctx)
}

func (p *Pipeline) Close() error {
	if err := p.store.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	p.logger.Info("Pipeline closed")
	return nil
}

func (p *Pipeline) fetchLimit(limit int) int {
	if limit > 0 {
		return limit
	}
	if p.settings.FetchLimit > 0 {
		return p.settings.FetchLimit
	}
	return ingest.DefaultLimit
}
