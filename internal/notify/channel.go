// Package notify 把已完成分类的 item 通知给所属租户
package notify

import "context"

// Channel 外部投递通道。Send 返回的任何错误都视为本次投递失败。
type Channel interface {
	Send(ctx context.Context, to, subject, body string) error
	// Name 写入通知记录的 channel 字段
	Name() string
}
