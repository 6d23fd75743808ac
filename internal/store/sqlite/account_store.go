package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/elie-6/AI-Email-Parsing-API/internal/model"
	"github.com/elie-6/AI-Email-Parsing-API/internal/store"
)

type tenantRow struct {
	ID                int64     `db:"id"`
	Name              string    `db:"name"`
	NotificationEmail string    `db:"notification_email"`
	IsActive          bool      `db:"is_active"`
	CreatedAt         time.Time `db:"created_at"`
	UpdatedAt         time.Time `db:"updated_at"`
}

type accountRow struct {
	ID                int64        `db:"id"`
	TenantID          int64        `db:"tenant_id"`
	Address           string       `db:"address"`
	Credential        []byte       `db:"credential"`
	IsActive          bool         `db:"is_active"`
	LastFetchedAt     sql.NullTime `db:"last_fetched_at"`
	DeactivatedReason string       `db:"deactivated_reason"`
	CreatedAt         time.Time    `db:"created_at"`
	UpdatedAt         time.Time    `db:"updated_at"`
}

func (r accountRow) toModel() model.Account {
	a := model.Account{
		ID:                r.ID,
		TenantID:          r.TenantID,
		Address:           r.Address,
		Credential:        r.Credential,
		IsActive:          r.IsActive,
		DeactivatedReason: r.DeactivatedReason,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
	if r.LastFetchedAt.Valid {
		t := r.LastFetchedAt.Time
		a.LastFetchedAt = &t
	}
	return a
}

const accountColumns = `id, tenant_id, address, credential, is_active, last_fetched_at,
	deactivated_reason, created_at, updated_at`

func (s *Store) CreateTenant(ctx context.Context, t *model.Tenant) (int64, error) {
	ts := now()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO tenants (name, notification_email, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		t.Name, t.NotificationEmail, t.IsActive, ts, ts,
	)
	if err != nil {
		return 0, fmt.Errorf("creating tenant: %w", err)
	}
	return res.LastInsertId()
}

func (s *Store) GetTenant(ctx context.Context, id int64) (*model.Tenant, error) {
	var r tenantRow
	err := s.db.GetContext(ctx, &r, `
		SELECT id, name, notification_email, is_active, created_at, updated_at
		FROM tenants WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting tenant %d: %w", id, err)
	}
	return &model.Tenant{
		ID:                r.ID,
		Name:              r.Name,
		NotificationEmail: r.NotificationEmail,
		IsActive:          r.IsActive,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}, nil
}

func (s *Store) CreateAccount(ctx context.Context, a *model.Account) (int64, error) {
	ts := now()
	var lastFetched interface{}
	if a.LastFetchedAt != nil {
		lastFetched = a.LastFetchedAt.UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (tenant_id, address, credential, is_active, last_fetched_at,
			deactivated_reason, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.TenantID, a.Address, a.Credential, a.IsActive, lastFetched,
		a.DeactivatedReason, ts, ts,
	)
	if err != nil {
		return 0, fmt.Errorf("creating account: %w", err)
	}
	return res.LastInsertId()
}

func (s *Store) GetAccount(ctx context.Context, id int64) (*model.Account, error) {
	var r accountRow
	err := s.db.GetContext(ctx, &r, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting account %d: %w", id, err)
	}
	a := r.toModel()
	return &a, nil
}

func (s *Store) ListActiveAccounts(ctx context.Context) ([]model.Account, error) {
	var rows []accountRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT `+accountColumns+` FROM accounts WHERE is_active = 1 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing active accounts: %w", err)
	}
	accounts := make([]model.Account, 0, len(rows))
	for _, r := range rows {
		accounts = append(accounts, r.toModel())
	}
	return accounts, nil
}

func (s *Store) UpdateCredential(ctx context.Context, id int64, credential []byte) error {
	return s.execOne(ctx, "updating credential", id,
		`UPDATE accounts SET credential = ?, updated_at = ? WHERE id = ?`,
		credential, now(), id)
}

func (s *Store) Deactivate(ctx context.Context, id int64, reason string) error {
	return s.execOne(ctx, "deactivating account", id,
		`UPDATE accounts SET is_active = 0, deactivated_reason = ?, updated_at = ? WHERE id = ?`,
		reason, now(), id)
}

func (s *Store) MarkFetched(ctx context.Context, id int64, at time.Time) error {
	return s.execOne(ctx, "marking account fetched", id,
		`UPDATE accounts SET last_fetched_at = ?, updated_at = ? WHERE id = ?`,
		at.UTC(), now(), id)
}

// execOne 执行一条按 id 更新的语句，没有命中行时返回 ErrNotFound
func (s *Store) execOne(ctx context.Context, op string, id int64, query string, args ...interface{}) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s %d: %w", op, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s %d: %w", op, id, err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}
