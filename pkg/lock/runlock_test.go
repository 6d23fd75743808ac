package lock

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func runKeepAlive(ctx context.Context, interval time.Duration, extend func(context.Context) error) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		keepAlive(ctx, interval, extend, zap.NewNop())
	}()
	return done
}

func TestKeepAlive_ExtendsUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	done := runKeepAlive(ctx, 5*time.Millisecond, func(context.Context) error {
		calls.Add(1)
		return nil
	})

	assert.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()
	assert.Eventually(t, func() bool {
		select {
		case <-done:
			return true
		default:
			return false
		}
	}, time.Second, time.Millisecond)

	stopped := calls.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, stopped, calls.Load(), "no extension after cancel")
}

func TestKeepAlive_StopsWhenLockLost(t *testing.T) {
	var calls atomic.Int32
	done := runKeepAlive(context.Background(), 5*time.Millisecond, func(context.Context) error {
		calls.Add(1)
		return ErrNotHeld
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("keepAlive did not stop after losing the lock")
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestKeepAlive_SurvivesTransientErrors(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var calls atomic.Int32
	done := runKeepAlive(ctx, 5*time.Millisecond, func(context.Context) error {
		if calls.Add(1) == 1 {
			return errors.New("connection reset")
		}
		return nil
	})

	assert.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()
	<-done
}

func TestKeepAlive_DisabledWithoutInterval(t *testing.T) {
	done := runKeepAlive(context.Background(), 0, func(context.Context) error {
		t.Error("extend must not be called")
		return nil
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("keepAlive should return immediately")
	}
}

func TestKey(t *testing.T) {
	assert.Equal(t, "lock:pipeline:classify", Key("pipeline:classify"))
}
