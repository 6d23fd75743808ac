package model

import (
	"encoding/json"
	"time"
)

// ItemStatus 邮件处理状态：pending → processing → {done, spam, failed}
type ItemStatus string

const (
	ItemPending    ItemStatus = "pending"
	ItemProcessing ItemStatus = "processing"
	ItemDone       ItemStatus = "done"
	ItemSpam       ItemStatus = "spam"
	ItemFailed     ItemStatus = "failed"
)

// IsTerminal done/spam/failed 不会再被 RunBatch 修改
func (s ItemStatus) IsTerminal() bool {
	return s == ItemDone || s == ItemSpam || s == ItemFailed
}

// Item 一封拉取到的邮件
type Item struct {
	ID           int64
	AccountID    int64
	ExternalID   string
	ThreadID     string
	Sender       string
	Subject      string
	Preview      string
	ReceivedAt   time.Time
	Status       ItemStatus
	ParseVersion string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ClassificationResult 分类结果，当且仅当 item 状态为 done 时存在，写入后不再修改
type ClassificationResult struct {
	ID                int64
	ItemID            int64
	Category          string
	Intent            string
	Urgency           string
	ExtractedEntities json.RawMessage
	Summary           string
	Confidence        int
	ModelVersion      string
	CreatedAt         time.Time
}
