// Package mailsource 定义外部邮箱的读取契约和 Gmail 实现
package mailsource

import (
	"context"
	"errors"
	"time"

	"golang.org/x/oauth2"
)

var (
	// ErrUnauthorized token 被拒绝，调用方可以强制刷新后重试一次
	ErrUnauthorized = errors.New("mail source: unauthorized")
	// ErrUnavailable 网络、限流或服务端故障
	ErrUnavailable = errors.New("mail source: unavailable")
)

// MessageRef 列表接口返回的消息引用
type MessageRef struct {
	ID       string
	ThreadID string
}

// MessageDetail 单封邮件的元数据
type MessageDetail struct {
	ID         string
	ThreadID   string
	From       string
	Subject    string
	Snippet    string
	ReceivedAt time.Time // 为零值时由调用方补当前时间
}

// Source 按账号读取未读邮件
type Source interface {
	// ListUnread 返回收件箱中的未读邮件，顺序与服务端一致
	ListUnread(ctx context.Context, tok *oauth2.Token, max int) ([]MessageRef, error)
	GetDetail(ctx context.Context, tok *oauth2.Token, ref MessageRef) (*MessageDetail, error)
}
