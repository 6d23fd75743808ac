package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elie-6/AI-Email-Parsing-API/internal/model"
	"github.com/elie-6/AI-Email-Parsing-API/internal/store"
)

var base = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// RunContract 对一个存储实现跑完整的行为用例。open 每次返回一个空库。
func RunContract(t *testing.T, open func(t *testing.T) store.Store) {
	cases := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"Tenant", testTenant},
		{"AccountLifecycle", testAccountLifecycle},
		{"GetAccount_NotFound", testGetAccount_NotFound},
		{"InsertItemIfAbsent_IsIdempotent", testInsertItemIfAbsent_IsIdempotent},
		{"ListPendingItems_OldestFirst", testListPendingItems_OldestFirst},
		{"ClaimAndComplete", testClaimAndComplete},
		{"ReleaseItem", testReleaseItem},
		{"CompleteItem_SpamHasNoResult", testCompleteItem_SpamHasNoResult},
		{"CompleteItem_RejectsInvalidInput", testCompleteItem_RejectsInvalidInput},
		{"RequeueFailed_OnlyMovesFailed", testRequeueFailed_OnlyMovesFailed},
		{"NotificationCandidatesAndRecords", testNotificationCandidatesAndRecords},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.fn(t, open(t))
		})
	}
}

func testTenant(t *testing.T, s store.Store) {
	ctx := context.Background()
	id := SeedTenant(t, s, "Acme", "ops@acme.test")

	tenant, err := s.GetTenant(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, tenant.ID)
	assert.Equal(t, "Acme", tenant.Name)
	assert.Equal(t, "ops@acme.test", tenant.NotificationEmail)
	assert.True(t, tenant.IsActive)
	assert.False(t, tenant.CreatedAt.IsZero())

	_, err = s.GetTenant(ctx, id+1000)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testAccountLifecycle(t *testing.T, s store.Store) {
	ctx := context.Background()

	tenantID := SeedTenant(t, s, "Acme", "ops@acme.test")
	accountID := SeedAccount(t, s, tenantID, []byte(`{"access_token":"a"}`))

	acc, err := s.GetAccount(ctx, accountID)
	require.NoError(t, err)
	assert.True(t, acc.IsActive)
	assert.Nil(t, acc.LastFetchedAt)
	assert.JSONEq(t, `{"access_token":"a"}`, string(acc.Credential))

	require.NoError(t, s.UpdateCredential(ctx, accountID, []byte(`{"access_token":"b"}`)))
	require.NoError(t, s.MarkFetched(ctx, accountID, base))

	acc, err = s.GetAccount(ctx, accountID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"access_token":"b"}`, string(acc.Credential))
	require.NotNil(t, acc.LastFetchedAt)
	assert.True(t, base.Equal(*acc.LastFetchedAt))

	require.NoError(t, s.Deactivate(ctx, accountID, "refresh failed"))
	acc, err = s.GetAccount(ctx, accountID)
	require.NoError(t, err)
	assert.False(t, acc.IsActive)
	assert.Equal(t, "refresh failed", acc.DeactivatedReason)

	active, err := s.ListActiveAccounts(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func testGetAccount_NotFound(t *testing.T, s store.Store) {
	_, err := s.GetAccount(context.Background(), 42)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, s.Deactivate(context.Background(), 42, "x"), store.ErrNotFound)
}

func testInsertItemIfAbsent_IsIdempotent(t *testing.T, s store.Store) {
	ctx := context.Background()
	accountID := SeedAccount(t, s, SeedTenant(t, s, "Acme", ""), []byte(`{}`))

	first := &model.Item{AccountID: accountID, ExternalID: "m-1", Subject: "hello", ReceivedAt: base}
	inserted, err := s.InsertItemIfAbsent(ctx, first)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.NotZero(t, first.ID)

	dup := &model.Item{AccountID: accountID, ExternalID: "m-1", Subject: "changed", ReceivedAt: base}
	inserted, err = s.InsertItemIfAbsent(ctx, dup)
	require.NoError(t, err)
	assert.False(t, inserted)

	got, err := s.GetItemByExternalID(ctx, "m-1")
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Subject)
	assert.Equal(t, model.ItemPending, got.Status)

	exists, err := s.ItemExists(ctx, "m-1")
	require.NoError(t, err)
	assert.True(t, exists)
}

func testListPendingItems_OldestFirst(t *testing.T, s store.Store) {
	ctx := context.Background()
	accountID := SeedAccount(t, s, SeedTenant(t, s, "Acme", ""), []byte(`{}`))

	SeedItem(t, s, accountID, "late", "late", base.Add(2*time.Hour))
	SeedItem(t, s, accountID, "early", "early", base)
	SeedItem(t, s, accountID, "mid", "mid", base.Add(time.Hour))

	items, err := s.ListPendingItems(ctx, 2)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "early", items[0].ExternalID)
	assert.Equal(t, "mid", items[1].ExternalID)
}

func testClaimAndComplete(t *testing.T, s store.Store) {
	ctx := context.Background()
	accountID := SeedAccount(t, s, SeedTenant(t, s, "Acme", ""), []byte(`{}`))
	item := SeedItem(t, s, accountID, "m-1", "hello", base)

	claimed, err := s.ClaimItem(ctx, item.ID)
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = s.ClaimItem(ctx, item.ID)
	require.NoError(t, err)
	assert.False(t, claimed, "second claim must lose")

	ok, err := s.CompleteItem(ctx, item.ID, model.ItemDone, "gpt-test", &model.ClassificationResult{
		Category: "lead", Confidence: 90, ModelVersion: "gpt-test",
	})
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ItemDone, got.Status)
	assert.Equal(t, "gpt-test", got.ParseVersion)

	res, err := s.GetResult(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, "lead", res.Category)
	assert.JSONEq(t, `{}`, string(res.ExtractedEntities))

	// 终态不能再被改写
	ok, err = s.CompleteItem(ctx, item.ID, model.ItemFailed, "gpt-test", nil)
	require.NoError(t, err)
	assert.False(t, ok)
	got, err = s.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ItemDone, got.Status)
}

func testReleaseItem(t *testing.T, s store.Store) {
	ctx := context.Background()
	accountID := SeedAccount(t, s, SeedTenant(t, s, "Acme", ""), []byte(`{}`))
	item := SeedItem(t, s, accountID, "m-1", "hello", base)

	released, err := s.ReleaseItem(ctx, item.ID)
	require.NoError(t, err)
	assert.False(t, released, "pending items are not released")

	_, err = s.ClaimItem(ctx, item.ID)
	require.NoError(t, err)
	released, err = s.ReleaseItem(ctx, item.ID)
	require.NoError(t, err)
	assert.True(t, released)

	pending, err := s.ListItemsByStatus(ctx, model.ItemPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, item.ID, pending[0].ID)
}

func testCompleteItem_SpamHasNoResult(t *testing.T, s store.Store) {
	ctx := context.Background()
	accountID := SeedAccount(t, s, SeedTenant(t, s, "Acme", ""), []byte(`{}`))
	item := SeedItem(t, s, accountID, "m-1", "buy now", base)

	_, err := s.ClaimItem(ctx, item.ID)
	require.NoError(t, err)
	ok, err := s.CompleteItem(ctx, item.ID, model.ItemSpam, "v1", nil)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = s.GetResult(ctx, item.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testCompleteItem_RejectsInvalidInput(t *testing.T, s store.Store) {
	ctx := context.Background()

	_, err := s.CompleteItem(ctx, 1, model.ItemProcessing, "v1", nil)
	assert.Error(t, err)
	_, err = s.CompleteItem(ctx, 1, model.ItemDone, "v1", nil)
	assert.Error(t, err)
}

func testRequeueFailed_OnlyMovesFailed(t *testing.T, s store.Store) {
	ctx := context.Background()
	accountID := SeedAccount(t, s, SeedTenant(t, s, "Acme", ""), []byte(`{}`))
	failed := SeedItem(t, s, accountID, "f", "f", base)
	done := SeedDoneItem(t, s, accountID, "d", "d", base)

	_, err := s.ClaimItem(ctx, failed.ID)
	require.NoError(t, err)
	_, err = s.CompleteItem(ctx, failed.ID, model.ItemFailed, "v1", nil)
	require.NoError(t, err)

	n, err := s.RequeueFailed(ctx, []int64{failed.ID, done.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.GetItem(ctx, failed.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ItemPending, got.Status)
	got, err = s.GetItem(ctx, done.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ItemDone, got.Status)
}

func testNotificationCandidatesAndRecords(t *testing.T, s store.Store) {
	ctx := context.Background()
	tenantID := SeedTenant(t, s, "Acme", "ops@acme.test")
	accountID := SeedAccount(t, s, tenantID, []byte(`{}`))
	done := SeedDoneItem(t, s, accountID, "d", "Quote request", base)
	SeedItem(t, s, accountID, "p", "still pending", base)

	candidates, err := s.ListNotificationCandidates(ctx)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	c := candidates[0]
	assert.Equal(t, done.ID, c.Item.ID)
	assert.Equal(t, "Acme", c.TenantName)
	assert.Equal(t, "ops@acme.test", c.Destination)
	assert.Equal(t, tenantID, c.TenantID)
	assert.Equal(t, "lead", c.Result.Category)
	assert.JSONEq(t, `{"budget":"10k"}`, string(c.Result.ExtractedEntities))

	rec := &model.NotificationRecord{ItemID: done.ID, TenantID: tenantID, Channel: "email", SentTo: c.Destination}
	created, err := s.CreatePendingNotification(ctx, rec)
	require.NoError(t, err)
	assert.True(t, created)

	again, err := s.CreatePendingNotification(ctx, &model.NotificationRecord{ItemID: done.ID, TenantID: tenantID, Channel: "email"})
	require.NoError(t, err)
	assert.False(t, again)

	candidates, err = s.ListNotificationCandidates(ctx)
	require.NoError(t, err)
	assert.Empty(t, candidates)

	stale, err := s.ListStalePending(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, rec.ID, stale[0].ID)

	require.NoError(t, s.FinishNotification(ctx, rec.ID, model.NotificationFailed, "smtp down"))
	got, err := s.GetNotificationByItem(ctx, done.ID)
	require.NoError(t, err)
	assert.Equal(t, model.NotificationFailed, got.Status)
	assert.Equal(t, "smtp down", got.ErrorMessage)

	stale, err = s.ListStalePending(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, stale)
}
