// Package ingest 把外部邮箱的未读邮件拉取为 pending item
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/elie-6/AI-Email-Parsing-API/internal/mailsource"
	"github.com/elie-6/AI-Email-Parsing-API/internal/model"
	"github.com/elie-6/AI-Email-Parsing-API/internal/store"
	"github.com/elie-6/AI-Email-Parsing-API/pkg/logger"
	"github.com/elie-6/AI-Email-Parsing-API/pkg/metrics"
)

// DefaultLimit 单次拉取的默认条数
const DefaultLimit = 10

// ErrSourceUnavailable 拉取过程中邮箱服务失败，已插入的 item 保留
var ErrSourceUnavailable = errors.New("mail source unavailable")

// Credentials 由 credential.Manager 实现
type Credentials interface {
	Obtain(ctx context.Context, accountID int64) (*oauth2.Token, error)
	ForceRefresh(ctx context.Context, accountID int64) (*oauth2.Token, error)
}

type Fetcher struct {
	creds    Credentials
	source   mailsource.Source
	items    store.ItemStore
	accounts store.AccountStore
	now      func() time.Time
	logger   *zap.Logger
}

func NewFetcher(creds Credentials, source mailsource.Source, items store.ItemStore, accounts store.AccountStore, logger *zap.Logger) *Fetcher {
	return &Fetcher{
		creds:    creds,
		source:   source,
		items:    items,
		accounts: accounts,
		now:      time.Now,
		logger:   logger,
	}
}

// FetchNew 拉取一个账号的未读邮件并插入为 pending，返回新插入的数量。
// 已存在的 external_id 直接跳过，不拉取详情也不更新。
func (f *Fetcher) FetchNew(ctx context.Context, accountID int64, limit int) (int, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	log := logger.WithTrace(ctx, f.logger).With(zap.Int64("account_id", accountID))

	tok, err := f.creds.Obtain(ctx, accountID)
	if err != nil {
		return 0, err
	}

	refs, err := f.source.ListUnread(ctx, tok, limit)
	if errors.Is(err, mailsource.ErrUnauthorized) {
		log.Warn("Mail source rejected token, forcing refresh")
		tok, err = f.creds.ForceRefresh(ctx, accountID)
		if err != nil {
			return 0, err
		}
		refs, err = f.source.ListUnread(ctx, tok, limit)
	}
	if err != nil {
		return 0, fmt.Errorf("account %d: list unread: %w: %w", accountID, ErrSourceUnavailable, err)
	}

	inserted := 0
	for _, ref := range refs {
		exists, err := f.items.ItemExists(ctx, ref.ID)
		if err != nil {
			return inserted, fmt.Errorf("account %d: %w", accountID, err)
		}
		if exists {
			metrics.IncrementItemsIngested("duplicate")
			continue
		}

		detail, err := f.source.GetDetail(ctx, tok, ref)
		if err != nil {
			log.Warn("Fetch aborted, message detail unavailable",
				zap.String("external_id", ref.ID),
				zap.Int("inserted", inserted),
				zap.Error(err),
			)
			return inserted, fmt.Errorf("account %d: get %s: %w: %w", accountID, ref.ID, ErrSourceUnavailable, err)
		}

		item := f.toItem(accountID, ref, detail)
		ok, err := f.items.InsertItemIfAbsent(ctx, item)
		if err != nil {
			return inserted, fmt.Errorf("account %d: %w", accountID, err)
		}
		if !ok {
			// 并发的另一次拉取先插入了
			metrics.IncrementItemsIngested("duplicate")
			continue
		}
		inserted++
		metrics.IncrementItemsIngested("inserted")
		log.Debug("Item stored", zap.String("external_id", ref.ID), zap.Int64("item_id", item.ID))
	}

	if err := f.accounts.MarkFetched(ctx, accountID, f.now().UTC()); err != nil {
		return inserted, fmt.Errorf("account %d: mark fetched: %w", accountID, err)
	}

	log.Info("Fetch completed", zap.Int("listed", len(refs)), zap.Int("inserted", inserted))
	return inserted, nil
}

func (f *Fetcher) toItem(accountID int64, ref mailsource.MessageRef, d *mailsource.MessageDetail) *model.Item {
	threadID := d.ThreadID
	if threadID == "" {
		threadID = ref.ThreadID
	}
	receivedAt := d.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = f.now().UTC()
	}
	return &model.Item{
		AccountID:  accountID,
		ExternalID: ref.ID,
		ThreadID:   threadID,
		Sender:     d.From,
		Subject:    d.Subject,
		Preview:    d.Snippet,
		ReceivedAt: receivedAt,
		Status:     model.ItemPending,
	}
}

// AccountReport 单个账号的拉取结果
type AccountReport struct {
	AccountID int64
	Inserted  int
	Err       error
}

// FetchAllActive 依次拉取所有激活账号，单个账号失败不影响其他账号
func (f *Fetcher) FetchAllActive(ctx context.Context, limit int) ([]AccountReport, error) {
	accounts, err := f.accounts.ListActiveAccounts(ctx)
	if err != nil {
		return nil, err
	}

	reports := make([]AccountReport, 0, len(accounts))
	for _, acc := range accounts {
		if ctx.Err() != nil {
			break
		}
		n, err := f.FetchNew(ctx, acc.ID, limit)
		if err != nil {
			f.logger.Error("Account fetch failed",
				zap.Int64("account_id", acc.ID),
				zap.Int("inserted", n),
				zap.Error(err),
			)
		}
		reports = append(reports, AccountReport{AccountID: acc.ID, Inserted: n, Err: err})
	}
	return reports, ctx.Err()
}
