package mq

// 触发各阶段的 routing key
const (
	RoutingKeyFetch    = "pipeline.fetch"
	RoutingKeyClassify = "pipeline.classify"
	RoutingKeyNotify   = "pipeline.notify"
	RoutingKeyRequeue  = "pipeline.requeue"

	RoutingKeyAccountDeactivated = "account.deactivated"
)

// FetchTriggerPayload AccountID 为 0 时拉取所有激活账号
type FetchTriggerPayload struct {
	AccountID int64 `json:"account_id,omitempty"`
	Limit     int   `json:"limit,omitempty"`
}

type ClassifyTriggerPayload struct {
	Limit int `json:"limit,omitempty"`
}

type NotifyTriggerPayload struct{}

type RequeuePayload struct {
	ItemIDs []int64 `json:"item_ids"`
}

// AccountDeactivatedPayload 刷新耗尽导致账号停用，供告警消费
type AccountDeactivatedPayload struct {
	AccountID     int64  `json:"account_id"`
	Reason        string `json:"reason"`
	DeactivatedAt string `json:"deactivated_at"` // RFC3339
}
