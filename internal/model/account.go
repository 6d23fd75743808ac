package model

import "time"

// Tenant 账号的所有者，也是通知的接收方
type Tenant struct {
	ID                int64
	Name              string
	NotificationEmail string // 为空表示没有通知目的地
	IsActive          bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Account 一个外部邮箱账号及其凭证。停用后不会被删除，也不会再被拉取。
type Account struct {
	ID                int64
	TenantID          int64
	Address           string
	Credential        []byte // JSON 编码的 OAuth2 token
	IsActive          bool
	LastFetchedAt     *time.Time
	DeactivatedReason string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
