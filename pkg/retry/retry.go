package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	// DefaultMaxAttempts 默认最大尝试次数
	DefaultMaxAttempts = 3
	// DefaultDelay 默认两次尝试之间的固定间隔
	DefaultDelay = 2 * time.Second
)

// SleepFunc 等待 d，context 结束时提前返回错误
type SleepFunc func(ctx context.Context, d time.Duration) error

// Policy 固定间隔的有界重试策略（不做指数退避）
type Policy struct {
	MaxAttempts int
	Delay       time.Duration
	// Sleep 为空时使用真实定时器，测试中可注入
	Sleep SleepFunc
}

// DefaultPolicy 返回默认策略：3 次尝试，间隔 2 秒
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: DefaultMaxAttempts, Delay: DefaultDelay}
}

// ExhaustedError 所有尝试都以可重试错误结束
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// IsExhausted 判断错误是否来自重试耗尽
func IsExhausted(err error) bool {
	var ex *ExhaustedError
	return errors.As(err, &ex)
}

// Do 执行 fn 直到成功、遇到不可重试错误或尝试次数耗尽。
// retryable 为空时所有错误都视为可重试。两次尝试之间等待 Policy.Delay。
func Do(ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) error, retryable func(error) bool) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return fmt.Errorf("retry aborted after %d attempts: %w (last error: %v)", attempt-1, err, lastErr)
			}
			return err
		}

		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			return nil
		}
		if retryable != nil && !retryable(lastErr) {
			return lastErr
		}
		if attempt == attempts {
			break
		}

		if err := sleep(ctx, p.Delay); err != nil {
			return fmt.Errorf("retry aborted after %d attempts: %w (last error: %v)", attempt, err, lastErr)
		}
	}

	return &ExhaustedError{Attempts: attempts, Err: lastErr}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
