package retry

import (
	"context"
	"errors"
	"net"
	"net/url"
	"strings"
)

// IsTransient 判断错误是否属于网络/服务端抖动，值得重试
// Returns true for network errors, timeouts, HTTP 429 and 5xx.
func IsTransient(err error) bool {
	ok, _ := Classify(err)
	return ok
}

// Classify 返回 (是否可重试, 错误类型)
func Classify(err error) (bool, string) {
	if err == nil {
		return false, ""
	}

	// Context 取消 - 不可重试
	if errors.Is(err, context.Canceled) {
		return false, "context_canceled"
	}
	// Context timeout - 可重试
	if errors.Is(err, context.DeadlineExceeded) {
		return true, "timeout"
	}

	// Network errors - 可重试
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return true, "network_timeout"
		}
		return true, "network_error"
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return true, "network_timeout"
		}
		return true, "network_error"
	}

	var sc interface{ StatusCode() int }
	if errors.As(err, &sc) {
		if IsTransientStatus(sc.StatusCode()) {
			return true, "http_status"
		}
		return false, "http_status"
	}

	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "status code: 429"),
		strings.Contains(errStr, "status code: 5"),
		strings.Contains(errStr, "too many requests"),
		strings.Contains(errStr, "rate limit"):
		return true, "provider_overloaded"
	case strings.Contains(errStr, "connection reset"),
		strings.Contains(errStr, "connection refused"),
		strings.Contains(errStr, "broken pipe"),
		strings.Contains(errStr, "eof"),
		strings.Contains(errStr, "timeout"):
		return true, "connection_error"
	}

	// 默认：未知错误，保守处理 - 不重试
	return false, "unknown_error"
}

// IsTransientStatus 429 和 5xx 视为可重试
func IsTransientStatus(code int) bool {
	return code == 429 || (code >= 500 && code <= 599)
}
