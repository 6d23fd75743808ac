// Package postgres 基于 pgxpool 的存储实现
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/elie-6/AI-Email-Parsing-API/internal/store"
)

var _ store.Store = (*Store)(nil)

type Store struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// New 包装连接池并执行迁移
func New(ctx context.Context, db *pgxpool.Pool, logger *zap.Logger) (*Store, error) {
	s := &Store{db: db, logger: logger}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("creating schema_version: %w", err)
	}

	var current int
	if err := s.db.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&current); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := s.db.Begin(ctx)
		if err != nil {
			return fmt.Errorf("beginning migration v%d: %w", m.version, err)
		}
		if _, err := tx.Exec(ctx, m.sql); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO schema_version (version) VALUES ($1)`, m.version); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("recording migration v%d: %w", m.version, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("committing migration v%d: %w", m.version, err)
		}
		s.logger.Info("Applied migration", zap.Int("version", m.version))
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (s *Store) Close() error {
	s.db.Close()
	return nil
}

type migration struct {
	version int
	sql     string
}

var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS tenants (
	id                 BIGSERIAL PRIMARY KEY,
	name               TEXT NOT NULL,
	notification_email TEXT NOT NULL DEFAULT '',
	is_active          BOOLEAN NOT NULL DEFAULT TRUE,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS accounts (
	id                 BIGSERIAL PRIMARY KEY,
	tenant_id          BIGINT NOT NULL REFERENCES tenants(id),
	address            TEXT NOT NULL,
	credential         BYTEA NOT NULL,
	is_active          BOOLEAN NOT NULL DEFAULT TRUE,
	last_fetched_at    TIMESTAMPTZ,
	deactivated_reason TEXT NOT NULL DEFAULT '',
	created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS items (
	id            BIGSERIAL PRIMARY KEY,
	account_id    BIGINT NOT NULL REFERENCES accounts(id),
	external_id   TEXT NOT NULL UNIQUE,
	thread_id     TEXT NOT NULL DEFAULT '',
	sender        TEXT NOT NULL DEFAULT '',
	subject       TEXT NOT NULL DEFAULT '',
	preview       TEXT NOT NULL DEFAULT '',
	received_at   TIMESTAMPTZ NOT NULL,
	status        TEXT NOT NULL DEFAULT 'pending'
		CHECK (status IN ('pending', 'processing', 'done', 'spam', 'failed')),
	parse_version TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_items_status_received ON items(status, received_at);

CREATE TABLE IF NOT EXISTS classification_results (
	id                 BIGSERIAL PRIMARY KEY,
	item_id            BIGINT NOT NULL UNIQUE REFERENCES items(id),
	category           TEXT NOT NULL,
	intent             TEXT NOT NULL DEFAULT '',
	urgency            TEXT NOT NULL DEFAULT '',
	extracted_entities JSONB NOT NULL DEFAULT '{}'::jsonb,
	summary            TEXT NOT NULL DEFAULT '',
	confidence         INTEGER NOT NULL DEFAULT 90 CHECK (confidence BETWEEN 0 AND 100),
	model_version      TEXT NOT NULL DEFAULT '',
	created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS notifications (
	id            BIGSERIAL PRIMARY KEY,
	item_id       BIGINT NOT NULL UNIQUE REFERENCES items(id),
	tenant_id     BIGINT NOT NULL REFERENCES tenants(id),
	channel       TEXT NOT NULL,
	status        TEXT NOT NULL CHECK (status IN ('pending', 'sent', 'failed')),
	sent_to       TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_notifications_status ON notifications(status, created_at);
`,
	},
}
