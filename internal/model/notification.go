package model

import "time"

type NotificationStatus string

const (
	NotificationPending NotificationStatus = "pending"
	NotificationSent    NotificationStatus = "sent"
	NotificationFailed  NotificationStatus = "failed"
)

// NotificationRecord 每个 item 至多一条
type NotificationRecord struct {
	ID           int64
	ItemID       int64
	TenantID     int64
	Channel      string
	Status       NotificationStatus
	SentTo       string
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NotificationCandidate 已完成分类且还没有通知记录的 item，连同通知所需的上下文
type NotificationCandidate struct {
	Item        Item
	Result      ClassificationResult
	AccountID   int64
	TenantID    int64
	TenantName  string
	Destination string
}
