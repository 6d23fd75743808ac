// Package credential 管理账号 OAuth2 凭证的生命周期：解码、过期刷新、写回和停用。
package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/elie-6/AI-Email-Parsing-API/internal/model"
	"github.com/elie-6/AI-Email-Parsing-API/internal/store"
	"github.com/elie-6/AI-Email-Parsing-API/pkg/logger"
	"github.com/elie-6/AI-Email-Parsing-API/pkg/metrics"
	"github.com/elie-6/AI-Email-Parsing-API/pkg/retry"
)

var (
	ErrAccountNotFound   = errors.New("account not found")
	ErrAccountInactive   = errors.New("account inactive")
	ErrCredentialInvalid = errors.New("credential invalid or revoked")
	// ErrAccountDeactivated 刷新重试耗尽，账号已被停用；总是与 ErrCredentialInvalid 一起返回
	ErrAccountDeactivated = errors.New("account deactivated after refresh failures")
)

// Refresher 用 refresh token 换取新的 token
type Refresher interface {
	Refresh(ctx context.Context, tok *oauth2.Token) (*oauth2.Token, error)
}

// Validator 刷新后确认 token 未被吊销。返回 false 表示已吊销。
type Validator interface {
	Validate(ctx context.Context, tok *oauth2.Token) (bool, error)
}

// AlertSink 接收账号停用事件
type AlertSink interface {
	AccountDeactivated(ctx context.Context, accountID int64, reason string) error
}

// Option Manager 可选项
type Option func(*Manager)

func WithValidator(v Validator) Option {
	return func(m *Manager) { m.validator = v }
}

func WithAlertSink(a AlertSink) Option {
	return func(m *Manager) { m.alerts = a }
}

func WithRetryPolicy(p retry.Policy) Option {
	return func(m *Manager) { m.policy = p }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// Manager 是唯一可以刷新凭证和停用账号的组件
type Manager struct {
	accounts  store.AccountStore
	refresher Refresher
	validator Validator
	alerts    AlertSink
	policy    retry.Policy
	now       func() time.Time
	logger    *zap.Logger
}

func NewManager(accounts store.AccountStore, refresher Refresher, logger *zap.Logger, opts ...Option) *Manager {
	m := &Manager{
		accounts:  accounts,
		refresher: refresher,
		policy:    retry.DefaultPolicy(),
		now:       time.Now,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Obtain 返回账号当前可用的 token，过期时按重试策略刷新并写回
func (m *Manager) Obtain(ctx context.Context, accountID int64) (*oauth2.Token, error) {
	acc, tok, err := m.load(ctx, accountID)
	if err != nil {
		return nil, err
	}

	if !m.expired(tok) {
		return tok, nil
	}
	if tok.RefreshToken == "" {
		return nil, fmt.Errorf("account %d: token expired without refresh token: %w", accountID, ErrCredentialInvalid)
	}
	return m.refresh(ctx, acc, tok)
}

// ForceRefresh 不管是否过期都走一次刷新流程，用于下游返回 401 的情况
func (m *Manager) ForceRefresh(ctx context.Context, accountID int64) (*oauth2.Token, error) {
	acc, tok, err := m.load(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if tok.RefreshToken == "" {
		return nil, fmt.Errorf("account %d: no refresh token: %w", accountID, ErrCredentialInvalid)
	}
	return m.refresh(ctx, acc, tok)
}

func (m *Manager) load(ctx context.Context, accountID int64) (*model.Account, *oauth2.Token, error) {
	acc, err := m.accounts.GetAccount(ctx, accountID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, fmt.Errorf("account %d: %w", accountID, ErrAccountNotFound)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load account %d: %w", accountID, err)
	}
	if !acc.IsActive {
		return nil, nil, fmt.Errorf("account %d: %w", accountID, ErrAccountInactive)
	}

	tok, err := Decode(acc.Credential)
	if err != nil {
		return nil, nil, fmt.Errorf("account %d: %v: %w", accountID, err, ErrCredentialInvalid)
	}
	return acc, tok, nil
}

func (m *Manager) expired(tok *oauth2.Token) bool {
	if tok.AccessToken == "" {
		return true
	}
	return !tok.Expiry.IsZero() && !tok.Expiry.After(m.now())
}

func (m *Manager) refresh(ctx context.Context, acc *model.Account, old *oauth2.Token) (*oauth2.Token, error) {
	log := logger.WithTrace(ctx, m.logger).With(zap.Int64("account_id", acc.ID))

	var fresh *oauth2.Token
	err := retry.Do(ctx, m.policy, func(ctx context.Context, attempt int) error {
		tok, err := m.refresher.Refresh(ctx, old)
		if err != nil {
			metrics.IncrementCredentialRefresh("error")
			log.Warn("Credential refresh attempt failed", zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		fresh = tok
		return nil
	}, func(err error) bool {
		return !errors.Is(err, context.Canceled)
	})

	if err != nil {
		if !retry.IsExhausted(err) {
			// 被取消，不算凭证问题
			return nil, fmt.Errorf("refresh account %d: %w", acc.ID, err)
		}
		return nil, m.deactivate(ctx, log, acc.ID, err)
	}

	if fresh.RefreshToken == "" {
		fresh.RefreshToken = old.RefreshToken
	}
	encoded, err := Encode(fresh)
	if err != nil {
		return nil, fmt.Errorf("encode refreshed token for account %d: %w", acc.ID, err)
	}
	if err := m.accounts.UpdateCredential(ctx, acc.ID, encoded); err != nil {
		return nil, fmt.Errorf("persist refreshed token for account %d: %w", acc.ID, err)
	}
	metrics.IncrementCredentialRefresh("success")
	log.Info("Credential refreshed", zap.Time("expiry", fresh.Expiry))

	if fresh.AccessToken == "" {
		return nil, fmt.Errorf("account %d: refresh returned empty access token: %w", acc.ID, ErrCredentialInvalid)
	}
	if m.validator != nil {
		valid, err := m.validator.Validate(ctx, fresh)
		switch {
		case err != nil:
			log.Warn("Token validation unavailable, continuing", zap.Error(err))
		case !valid:
			log.Warn("Refreshed token rejected by provider")
			return nil, fmt.Errorf("account %d: token revoked: %w", acc.ID, ErrCredentialInvalid)
		}
	}
	return fresh, nil
}

func (m *Manager) deactivate(ctx context.Context, log *zap.Logger, accountID int64, cause error) error {
	reason := fmt.Sprintf("credential refresh failed: %v", cause)
	if err := m.accounts.Deactivate(ctx, accountID, reason); err != nil {
		return fmt.Errorf("deactivate account %d after refresh failure (%v): %w", accountID, cause, err)
	}
	metrics.IncrementAccountDeactivated()
	log.Error("Account deactivated after credential refresh failures", zap.Error(cause))

	if m.alerts != nil {
		if err := m.alerts.AccountDeactivated(ctx, accountID, reason); err != nil {
			log.Error("Failed to emit deactivation alert", zap.Error(err))
		}
	}
	return fmt.Errorf("account %d: %w: %w", accountID, ErrCredentialInvalid, ErrAccountDeactivated)
}

// Decode 解析存储的凭证
func Decode(blob []byte) (*oauth2.Token, error) {
	if len(blob) == 0 {
		return nil, errors.New("empty credential")
	}
	var tok oauth2.Token
	if err := json.Unmarshal(blob, &tok); err != nil {
		return nil, fmt.Errorf("decode credential: %w", err)
	}
	return &tok, nil
}

// Encode 序列化凭证用于存储
func Encode(tok *oauth2.Token) ([]byte, error) {
	return json.Marshal(tok)
}
