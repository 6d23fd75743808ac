// Package storetest 为组件测试提供内存 SQLite 存储和数据构造函数
package storetest

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/elie-6/AI-Email-Parsing-API/internal/model"
	"github.com/elie-6/AI-Email-Parsing-API/internal/store"
	"github.com/elie-6/AI-Email-Parsing-API/internal/store/sqlite"
)

// NewStore creates an in-memory store with all migrations applied.
// It is closed automatically when the test completes.
func NewStore(t *testing.T) *sqlite.Store {
	t.Helper()

	s, err := sqlite.Open(":memory:")
	require.NoError(t, err, "creating test store")

	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing test store: %v", err)
		}
	})
	return s
}

// Token 编码一个 OAuth2 token 作为账号凭证
func Token(t *testing.T, tok *oauth2.Token) []byte {
	t.Helper()
	b, err := json.Marshal(tok)
	require.NoError(t, err)
	return b
}

// ValidToken 一小时后过期的 token
func ValidToken(t *testing.T) []byte {
	return Token(t, &oauth2.Token{
		AccessToken:  "access-valid",
		TokenType:    "Bearer",
		RefreshToken: "refresh-1",
		Expiry:       time.Now().Add(time.Hour),
	})
}

// ExpiredToken 已过期但带 refresh token
func ExpiredToken(t *testing.T) []byte {
	return Token(t, &oauth2.Token{
		AccessToken:  "access-expired",
		TokenType:    "Bearer",
		RefreshToken: "refresh-1",
		Expiry:       time.Now().Add(-time.Hour),
	})
}

// SeedTenant 创建租户
func SeedTenant(t *testing.T, s store.Store, name, email string) int64 {
	t.Helper()
	id, err := s.CreateTenant(context.Background(), &model.Tenant{
		Name:              name,
		NotificationEmail: email,
		IsActive:          true,
	})
	require.NoError(t, err)
	return id
}

// SeedAccount 创建一个激活账号
func SeedAccount(t *testing.T, s store.Store, tenantID int64, credential []byte) int64 {
	t.Helper()
	id, err := s.CreateAccount(context.Background(), &model.Account{
		TenantID:   tenantID,
		Address:    fmt.Sprintf("inbox-%d@example.com", time.Now().UnixNano()),
		Credential: credential,
		IsActive:   true,
	})
	require.NoError(t, err)
	return id
}

// SeedItem 插入一条 pending item
func SeedItem(t *testing.T, s store.Store, accountID int64, externalID, subject string, receivedAt time.Time) *model.Item {
	t.Helper()
	item := &model.Item{
		AccountID:  accountID,
		ExternalID: externalID,
		Sender:     "Alice <alice@example.com>",
		Subject:    subject,
		Preview:    "preview of " + subject,
		ReceivedAt: receivedAt,
	}
	inserted, err := s.InsertItemIfAbsent(context.Background(), item)
	require.NoError(t, err)
	require.True(t, inserted, "item %s already exists", externalID)
	return item
}

// SeedDoneItem 插入一条已完成分类的 item
func SeedDoneItem(t *testing.T, s store.Store, accountID int64, externalID, subject string, receivedAt time.Time) *model.Item {
	t.Helper()
	ctx := context.Background()
	item := SeedItem(t, s, accountID, externalID, subject, receivedAt)

	claimed, err := s.ClaimItem(ctx, item.ID)
	require.NoError(t, err)
	require.True(t, claimed)

	ok, err := s.CompleteItem(ctx, item.ID, model.ItemDone, "test-model", &model.ClassificationResult{
		Category:          "lead",
		Intent:            "purchase",
		Urgency:           "high",
		ExtractedEntities: json.RawMessage(`{"budget":"10k"}`),
		Summary:           "Wants a quote",
		Confidence:        80,
		ModelVersion:      "test-model",
	})
	require.NoError(t, err)
	require.True(t, ok)
	item.Status = model.ItemDone
	return item
}
