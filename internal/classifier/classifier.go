// Package classifier 调用外部 AI 分类服务，返回模型的原始文本
package classifier

import (
	"context"
	"errors"
)

// ErrTransient 网络、超时、限流或服务端错误，值得重试
var ErrTransient = errors.New("classifier: transient failure")

// Classifier 对一段 prompt 返回模型原始输出
type Classifier interface {
	Classify(ctx context.Context, prompt string) (string, error)
	// Version 写入分类结果的模型版本标记
	Version() string
}
