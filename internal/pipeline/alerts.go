package pipeline

import (
	"context"
	"time"

	mqcontracts "github.com/elie-6/AI-Email-Parsing-API/contracts/mq"
)

// Publisher 发布 JSON 事件，*mq.Publisher 满足该接口
type Publisher interface {
	PublishWithContext(ctx context.Context, routingKey string, payload any) error
}

// MQAlerts 把账号停用发布为 account.deactivated 事件
type MQAlerts struct {
	pub Publisher
	now func() time.Time
}

func NewMQAlerts(pub Publisher) *MQAlerts {
	return &MQAlerts{pub: pub, now: time.Now}
}

func (a *MQAlerts) AccountDeactivated(ctx context.Context, accountID int64, reason string) error {
	return a.pub.PublishWithContext(ctx, mqcontracts.RoutingKeyAccountDeactivated, mqcontracts.AccountDeactivatedPayload{
		AccountID:     accountID,
		Reason:        reason,
		DeactivatedAt: a.now().UTC().Format(time.RFC3339),
	})
}
