package mailsource

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/elie-6/AI-Email-Parsing-API/pkg/circuitbreaker"
)

// Guarded 用熔断器包装 Source。打开时直接返回 ErrUnavailable；
// 401 属于账号凭证问题，不计入失败。
type Guarded struct {
	next Source
	cb   *circuitbreaker.CircuitBreaker
}

func NewGuarded(next Source, cfg circuitbreaker.Config, logger *zap.Logger) *Guarded {
	cb := circuitbreaker.New(cfg,
		circuitbreaker.WithFailurePredicate(func(err error) bool {
			return !errors.Is(err, ErrUnauthorized)
		}),
		circuitbreaker.WithStateChange(func(from, to circuitbreaker.State) {
			logger.Warn("Mail source circuit breaker state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		}),
	)
	return &Guarded{next: next, cb: cb}
}

func (g *Guarded) ListUnread(ctx context.Context, tok *oauth2.Token, max int) ([]MessageRef, error) {
	var refs []MessageRef
	err := g.cb.Execute(ctx, func(ctx context.Context) error {
		var err error
		refs, err = g.next.ListUnread(ctx, tok, max)
		return err
	})
	return refs, wrapOpen(err)
}

func (g *Guarded) GetDetail(ctx context.Context, tok *oauth2.Token, ref MessageRef) (*MessageDetail, error) {
	var detail *MessageDetail
	err := g.cb.Execute(ctx, func(ctx context.Context) error {
		var err error
		detail, err = g.next.GetDetail(ctx, tok, ref)
		return err
	})
	return detail, wrapOpen(err)
}

// State 当前熔断状态
func (g *Guarded) State() circuitbreaker.State {
	return g.cb.State()
}

func wrapOpen(err error) error {
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return err
}
