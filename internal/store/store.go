// Package store 定义流水线的持久化契约。postgres 和 sqlite 两个子包提供同构实现，
// 存储是唯一的事实来源，各阶段只通过它通信。
package store

import (
	"context"
	"errors"
	"time"

	"github.com/elie-6/AI-Email-Parsing-API/internal/model"
)

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("store: not found")

// TenantStore 租户
type TenantStore interface {
	CreateTenant(ctx context.Context, t *model.Tenant) (int64, error)
	GetTenant(ctx context.Context, id int64) (*model.Tenant, error)
}

// AccountStore 账号与凭证
type AccountStore interface {
	CreateAccount(ctx context.Context, a *model.Account) (int64, error)
	GetAccount(ctx context.Context, id int64) (*model.Account, error)
	ListActiveAccounts(ctx context.Context) ([]model.Account, error)
	// UpdateCredential 刷新成功后立即写回
	UpdateCredential(ctx context.Context, id int64, credential []byte) error
	// Deactivate 不可逆，账号不会被删除
	Deactivate(ctx context.Context, id int64, reason string) error
	MarkFetched(ctx context.Context, id int64, at time.Time) error
}

// ItemStore 邮件与分类结果
type ItemStore interface {
	ItemExists(ctx context.Context, externalID string) (bool, error)
	// InsertItemIfAbsent external_id 冲突时不做任何事并返回 false
	InsertItemIfAbsent(ctx context.Context, item *model.Item) (bool, error)
	GetItem(ctx context.Context, id int64) (*model.Item, error)
	GetItemByExternalID(ctx context.Context, externalID string) (*model.Item, error)
	ListItemsByStatus(ctx context.Context, status model.ItemStatus) ([]model.Item, error)
	// ListPendingItems 按 received_at 升序
	ListPendingItems(ctx context.Context, limit int) ([]model.Item, error)
	// ClaimItem pending → processing 的条件更新，没有抢到返回 false
	ClaimItem(ctx context.Context, id int64) (bool, error)
	// ReleaseItem processing → pending，用于处理中途被取消的 item
	ReleaseItem(ctx context.Context, id int64) (bool, error)
	// CompleteItem 在一个事务里写入终态和（仅 done 时）分类结果，
	// 条件是 item 仍处于 processing；否则返回 false 且不写任何东西
	CompleteItem(ctx context.Context, id int64, status model.ItemStatus, parseVersion string, result *model.ClassificationResult) (bool, error)
	GetResult(ctx context.Context, itemID int64) (*model.ClassificationResult, error)
	// RequeueFailed failed → pending，返回实际移动的数量
	RequeueFailed(ctx context.Context, ids []int64) (int, error)
}

// NotificationStore 通知记录
type NotificationStore interface {
	// ListNotificationCandidates 状态为 done 且没有通知记录的 item
	ListNotificationCandidates(ctx context.Context) ([]model.NotificationCandidate, error)
	// CreatePendingNotification item_id 冲突时返回 false
	CreatePendingNotification(ctx context.Context, rec *model.NotificationRecord) (bool, error)
	FinishNotification(ctx context.Context, id int64, status model.NotificationStatus, errMsg string) error
	GetNotificationByItem(ctx context.Context, itemID int64) (*model.NotificationRecord, error)
	ListStalePending(ctx context.Context, createdBefore time.Time) ([]model.NotificationRecord, error)
}

// Store 全部持久化能力
type Store interface {
	TenantStore
	AccountStore
	ItemStore
	NotificationStore

	Ping(ctx context.Context) error
	Close() error
}
