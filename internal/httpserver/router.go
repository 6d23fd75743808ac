// Package httpserver 运维 HTTP 接口：健康检查、指标、手动触发和待核对通知
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	mqcontracts "github.com/elie-6/AI-Email-Parsing-API/contracts/mq"
	"github.com/elie-6/AI-Email-Parsing-API/internal/model"
	"github.com/elie-6/AI-Email-Parsing-API/pkg/trace"
)

const checkTimeout = 2 * time.Second

// Publisher *mq.Publisher 满足该接口
type Publisher interface {
	PublishWithContext(ctx context.Context, routingKey string, payload any) error
	IsConnected() bool
}

// Notifications 查询停留在 pending 的通知记录
type Notifications interface {
	StalePending(ctx context.Context, olderThan time.Duration) ([]model.NotificationRecord, error)
}

// Deps Redis 为空时不注册对应的就绪检查
type Deps struct {
	DB            func(ctx context.Context) error
	Redis         func(ctx context.Context) error
	Publisher     Publisher
	Notifications Notifications
}

type Router struct {
	Engine *gin.Engine
}

func NewRouter(deps Deps, logger *zap.Logger) *Router {
	r := gin.Default()

	health := healthcheck.NewHandler()
	health.AddReadinessCheck("database", healthcheck.Timeout(ctxCheck(deps.DB), checkTimeout))
	health.AddReadinessCheck("mq", func() error {
		if !deps.Publisher.IsConnected() {
			return errors.New("mq publisher disconnected")
		}
		return nil
	})
	if deps.Redis != nil {
		health.AddReadinessCheck("redis", healthcheck.Timeout(ctxCheck(deps.Redis), checkTimeout))
	}

	r.GET("/healthz", gin.WrapF(health.LiveEndpoint))
	r.HEAD("/healthz", gin.WrapF(health.LiveEndpoint))
	r.GET("/readyz", gin.WrapF(health.ReadyEndpoint))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	ops := &opsHandler{deps: deps, logger: logger}
	g := r.Group("/ops")
	{
		g.POST("/trigger/:stage", ops.trigger)
		g.GET("/notifications/stale", ops.stale)
	}

	return &Router{Engine: r}
}

func ctxCheck(fn func(ctx context.Context) error) healthcheck.Check {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
		defer cancel()
		return fn(ctx)
	}
}

type opsHandler struct {
	deps   Deps
	logger *zap.Logger
}

var stageKeys = map[string]string{
	"fetch":    mqcontracts.RoutingKeyFetch,
	"classify": mqcontracts.RoutingKeyClassify,
	"notify":   mqcontracts.RoutingKeyNotify,
	"requeue":  mqcontracts.RoutingKeyRequeue,
}

// trigger 校验请求体后发布到对应的 routing key，由 worker 异步执行
func (h *opsHandler) trigger(c *gin.Context) {
	stage := c.Param("stage")
	key, ok := stageKeys[stage]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown stage: " + stage})
		return
	}

	payload, err := decodeTrigger(stage, c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, traceID := trace.Ensure(c.Request.Context())
	if err := h.deps.Publisher.PublishWithContext(ctx, key, payload); err != nil {
		h.logger.Error("Failed to publish trigger",
			zap.String("routing_key", key),
			zap.String("trace_id", traceID),
			zap.Error(err),
		)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "failed to publish trigger"})
		return
	}

	h.logger.Info("Trigger published", zap.String("routing_key", key), zap.String("trace_id", traceID))
	c.JSON(http.StatusAccepted, gin.H{"routing_key": key, "trace_id": traceID})
}

func decodeTrigger(stage string, body io.Reader) (any, error) {
	var payload any
	switch stage {
	case "fetch":
		payload = &mqcontracts.FetchTriggerPayload{}
	case "classify":
		payload = &mqcontracts.ClassifyTriggerPayload{}
	case "notify":
		payload = &mqcontracts.NotifyTriggerPayload{}
	case "requeue":
		payload = &mqcontracts.RequeuePayload{}
	}

	if err := json.NewDecoder(body).Decode(payload); err != nil && !errors.Is(err, io.EOF) {
		return nil, errors.New("invalid json body")
	}
	if p, ok := payload.(*mqcontracts.RequeuePayload); ok && len(p.ItemIDs) == 0 {
		return nil, errors.New("item_ids is required")
	}
	return payload, nil
}

// stale older_than 为 Go duration，缺省使用配置值
func (h *opsHandler) stale(c *gin.Context) {
	var olderThan time.Duration
	if v := c.Query("older_than"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid older_than"})
			return
		}
		olderThan = d
	}

	recs, err := h.deps.Notifications.StalePending(c.Request.Context(), olderThan)
	if err != nil {
		h.logger.Error("Failed to list stale notifications", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list notifications"})
		return
	}

	out := make([]gin.H, 0, len(recs))
	for _, rec := range recs {
		out = append(out, gin.H{
			"id":         rec.ID,
			"item_id":    rec.ItemID,
			"tenant_id":  rec.TenantID,
			"channel":    rec.Channel,
			"sent_to":    rec.SentTo,
			"created_at": rec.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, gin.H{"count": len(out), "notifications": out})
}
