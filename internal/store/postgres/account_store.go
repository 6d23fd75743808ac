package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/elie-6/AI-Email-Parsing-API/internal/model"
	"github.com/elie-6/AI-Email-Parsing-API/internal/store"
)

// CreateTenant inserts a tenant and returns its id.
func (s *Store) CreateTenant(ctx context.Context, t *model.Tenant) (int64, error) {
	query := `
        INSERT INTO tenants (name, notification_email, is_active)
        VALUES ($1, $2, $3)
        RETURNING id
    `
	var id int64
	if err := s.db.QueryRow(ctx, query, t.Name, t.NotificationEmail, t.IsActive).Scan(&id); err != nil {
		return 0, fmt.Errorf("creating tenant: %w", err)
	}
	return id, nil
}

// GetTenant returns a tenant by id.
func (s *Store) GetTenant(ctx context.Context, id int64) (*model.Tenant, error) {
	query := `
        SELECT id, name, notification_email, is_active, created_at, updated_at
        FROM tenants
        WHERE id = $1
    `
	var t model.Tenant
	err := s.db.QueryRow(ctx, query, id).Scan(
		&t.ID,
		&t.Name,
		&t.NotificationEmail,
		&t.IsActive,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting tenant %d: %w", id, err)
	}
	return &t, nil
}

const accountColumns = `id, tenant_id, address, credential, is_active, last_fetched_at,
        deactivated_reason, created_at, updated_at`

func scanAccount(row pgx.Row) (*model.Account, error) {
	var a model.Account
	err := row.Scan(
		&a.ID,
		&a.TenantID,
		&a.Address,
		&a.Credential,
		&a.IsActive,
		&a.LastFetchedAt,
		&a.DeactivatedReason,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// CreateAccount inserts an account and returns its id.
func (s *Store) CreateAccount(ctx context.Context, a *model.Account) (int64, error) {
	query := `
        INSERT INTO accounts (tenant_id, address, credential, is_active, last_fetched_at, deactivated_reason)
        VALUES ($1, $2, $3, $4, $5, $6)
        RETURNING id
    `
	var id int64
	err := s.db.QueryRow(ctx, query,
		a.TenantID, a.Address, a.Credential, a.IsActive, a.LastFetchedAt, a.DeactivatedReason,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("creating account: %w", err)
	}
	return id, nil
}

// GetAccount returns an account by id.
func (s *Store) GetAccount(ctx context.Context, id int64) (*model.Account, error) {
	a, err := scanAccount(s.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting account %d: %w", id, err)
	}
	return a, nil
}

// ListActiveAccounts returns every account still allowed to ingest.
func (s *Store) ListActiveAccounts(ctx context.Context) ([]model.Account, error) {
	rows, err := s.db.Query(ctx, `SELECT `+accountColumns+` FROM accounts WHERE is_active ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing active accounts: %w", err)
	}
	defer rows.Close()

	var out []model.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning account: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (s *Store) UpdateCredential(ctx context.Context, id int64, credential []byte) error {
	return s.execOne(ctx, "updating credential", id,
		`UPDATE accounts SET credential = $1, updated_at = NOW() WHERE id = $2`, credential, id)
}

func (s *Store) Deactivate(ctx context.Context, id int64, reason string) error {
	return s.execOne(ctx, "deactivating account", id,
		`UPDATE accounts SET is_active = FALSE, deactivated_reason = $1, updated_at = NOW() WHERE id = $2`, reason, id)
}

func (s *Store) MarkFetched(ctx context.Context, id int64, at time.Time) error {
	return s.execOne(ctx, "marking account fetched", id,
		`UPDATE accounts SET last_fetched_at = $1, updated_at = NOW() WHERE id = $2`, at, id)
}

func (s *Store) execOne(ctx context.Context, op string, id int64, query string, args ...any) error {
	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s %d: %w", op, id, err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}
