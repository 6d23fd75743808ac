package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	mqcontracts "github.com/elie-6/AI-Email-Parsing-API/contracts/mq"
	"github.com/elie-6/AI-Email-Parsing-API/internal/model"
)

type fakePublisher struct {
	connected bool
	err       error
	keys      []string
	payloads  []any
}

func (p *fakePublisher) PublishWithContext(ctx context.Context, routingKey string, payload any) error {
	if p.err != nil {
		return p.err
	}
	p.keys = append(p.keys, routingKey)
	p.payloads = append(p.payloads, payload)
	return nil
}

func (p *fakePublisher) IsConnected() bool { return p.connected }

type fakeNotifications struct {
	recs      []model.NotificationRecord
	olderThan time.Duration
}

func (f *fakeNotifications) StalePending(ctx context.Context, olderThan time.Duration) ([]model.NotificationRecord, error) {
	f.olderThan = olderThan
	return f.recs, nil
}

func newTestRouter(pub *fakePublisher, notes *fakeNotifications, dbErr error) *Router {
	gin.SetMode(gin.TestMode)
	return NewRouter(Deps{
		DB:            func(ctx context.Context) error { return dbErr },
		Publisher:     pub,
		Notifications: notes,
	}, zap.NewNop())
}

func do(r *Router, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	r.Engine.ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	r := newTestRouter(&fakePublisher{connected: true}, &fakeNotifications{}, nil)
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/healthz", "").Code)
}

func TestReadyz(t *testing.T) {
	t.Run("ready", func(t *testing.T) {
		r := newTestRouter(&fakePublisher{connected: true}, &fakeNotifications{}, nil)
		assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/readyz", "").Code)
	})
	t.Run("database down", func(t *testing.T) {
		r := newTestRouter(&fakePublisher{connected: true}, &fakeNotifications{}, errors.New("connection refused"))
		assert.Equal(t, http.StatusServiceUnavailable, do(r, http.MethodGet, "/readyz", "").Code)
	})
	t.Run("mq disconnected", func(t *testing.T) {
		r := newTestRouter(&fakePublisher{connected: false}, &fakeNotifications{}, nil)
		assert.Equal(t, http.StatusServiceUnavailable, do(r, http.MethodGet, "/readyz", "").Code)
	})
}

func TestMetrics(t *testing.T) {
	r := newTestRouter(&fakePublisher{connected: true}, &fakeNotifications{}, nil)
	w := do(r, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestTrigger_PublishesStage(t *testing.T) {
	pub := &fakePublisher{connected: true}
	r := newTestRouter(pub, &fakeNotifications{}, nil)

	w := do(r, http.MethodPost, "/ops/trigger/fetch", `{"account_id": 12, "limit": 5}`)
	require.Equal(t, http.StatusAccepted, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "pipeline.fetch", resp["routing_key"])
	assert.NotEmpty(t, resp["trace_id"])

	require.Equal(t, []string{"pipeline.fetch"}, pub.keys)
	assert.Equal(t, &mqcontracts.FetchTriggerPayload{AccountID: 12, Limit: 5}, pub.payloads[0])
}

func TestTrigger_EmptyBodyIsAllowed(t *testing.T) {
	pub := &fakePublisher{connected: true}
	r := newTestRouter(pub, &fakeNotifications{}, nil)

	assert.Equal(t, http.StatusAccepted, do(r, http.MethodPost, "/ops/trigger/classify", "").Code)
	assert.Equal(t, []string{"pipeline.classify"}, pub.keys)
}

func TestTrigger_Rejections(t *testing.T) {
	tests := []struct {
		name string
		path string
		body string
		code int
	}{
		{"unknown stage", "/ops/trigger/reindex", "", http.StatusNotFound},
		{"bad json", "/ops/trigger/fetch", `{"account_id": "x"}`, http.StatusBadRequest},
		{"requeue without ids", "/ops/trigger/requeue", `{}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &fakePublisher{connected: true}
			r := newTestRouter(pub, &fakeNotifications{}, nil)
			assert.Equal(t, tt.code, do(r, http.MethodPost, tt.path, tt.body).Code)
			assert.Empty(t, pub.keys)
		})
	}
}

func TestTrigger_PublishFailure(t *testing.T) {
	pub := &fakePublisher{connected: true, err: errors.New("channel closed")}
	r := newTestRouter(pub, &fakeNotifications{}, nil)
	assert.Equal(t, http.StatusServiceUnavailable, do(r, http.MethodPost, "/ops/trigger/notify", "").Code)
}

func TestStaleNotifications(t *testing.T) {
	created := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	notes := &fakeNotifications{recs: []model.NotificationRecord{
		{ID: 3, ItemID: 30, TenantID: 1, Channel: "email", SentTo: "ops@acme.test", Status: model.NotificationPending, CreatedAt: created},
	}}
	r := newTestRouter(&fakePublisher{connected: true}, notes, nil)

	w := do(r, http.MethodGet, "/ops/notifications/stale?older_than=30m", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 30*time.Minute, notes.olderThan)

	var resp struct {
		Count         int              `json:"count"`
		Notifications []map[string]any `json:"notifications"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)
	assert.Equal(t, float64(30), resp.Notifications[0]["item_id"])
	assert.Equal(t, "2026-06-01T08:00:00Z", resp.Notifications[0]["created_at"])

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/ops/notifications/stale?older_than=soon", "").Code)
}
