package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/elie-6/AI-Email-Parsing-API/internal/model"
	"github.com/elie-6/AI-Email-Parsing-API/internal/store"
)

const itemColumns = `id, account_id, external_id, thread_id, sender, subject, preview,
        received_at, status, parse_version, created_at, updated_at`

func scanItem(row pgx.Row) (*model.Item, error) {
	var it model.Item
	var status string
	err := row.Scan(
		&it.ID,
		&it.AccountID,
		&it.ExternalID,
		&it.ThreadID,
		&it.Sender,
		&it.Subject,
		&it.Preview,
		&it.ReceivedAt,
		&status,
		&it.ParseVersion,
		&it.CreatedAt,
		&it.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	it.Status = model.ItemStatus(status)
	return &it, nil
}

func (s *Store) ItemExists(ctx context.Context, externalID string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM items WHERE external_id = $1)`, externalID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking item %s: %w", externalID, err)
	}
	return exists, nil
}

// InsertItemIfAbsent 并发拉取同一封邮件时只有一个插入成功
func (s *Store) InsertItemIfAbsent(ctx context.Context, item *model.Item) (bool, error) {
	status := item.Status
	if status == "" {
		status = model.ItemPending
	}
	query := `
        INSERT INTO items (account_id, external_id, thread_id, sender, subject, preview, received_at, status)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        ON CONFLICT (external_id) DO NOTHING
        RETURNING id
    `
	var id int64
	err := s.db.QueryRow(ctx, query,
		item.AccountID, item.ExternalID, item.ThreadID, item.Sender, item.Subject, item.Preview,
		item.ReceivedAt, string(status),
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("inserting item %s: %w", item.ExternalID, err)
	}
	item.ID = id
	item.Status = status
	return true, nil
}

func (s *Store) GetItem(ctx context.Context, id int64) (*model.Item, error) {
	return s.getItem(ctx, `SELECT `+itemColumns+` FROM items WHERE id = $1`, id)
}

func (s *Store) GetItemByExternalID(ctx context.Context, externalID string) (*model.Item, error) {
	return s.getItem(ctx, `SELECT `+itemColumns+` FROM items WHERE external_id = $1`, externalID)
}

func (s *Store) getItem(ctx context.Context, query string, arg any) (*model.Item, error) {
	it, err := scanItem(s.db.QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting item %v: %w", arg, err)
	}
	return it, nil
}

func (s *Store) ListItemsByStatus(ctx context.Context, status model.ItemStatus) ([]model.Item, error) {
	return s.queryItems(ctx, `SELECT `+itemColumns+` FROM items WHERE status = $1 ORDER BY received_at, id`, string(status))
}

func (s *Store) ListPendingItems(ctx context.Context, limit int) ([]model.Item, error) {
	return s.queryItems(ctx, `SELECT `+itemColumns+` FROM items WHERE status = 'pending'
        ORDER BY received_at, id LIMIT $1`, limit)
}

func (s *Store) queryItems(ctx context.Context, query string, args ...any) ([]model.Item, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing items: %w", err)
	}
	defer rows.Close()

	var out []model.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning item: %w", err)
		}
		out = append(out, *it)
	}
	return out, rows.Err()
}

func (s *Store) ClaimItem(ctx context.Context, id int64) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE items SET status = 'processing', updated_at = NOW() WHERE id = $1 AND status = 'pending'`, id)
	if err != nil {
		return false, fmt.Errorf("claiming item %d: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) ReleaseItem(ctx context.Context, id int64) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE items SET status = 'pending', updated_at = NOW() WHERE id = $1 AND status = 'processing'`, id)
	if err != nil {
		return false, fmt.Errorf("releasing item %d: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) CompleteItem(ctx context.Context, id int64, status model.ItemStatus, parseVersion string, result *model.ClassificationResult) (bool, error) {
	if !status.IsTerminal() {
		return false, fmt.Errorf("completing item %d: %q is not a terminal status", id, status)
	}
	if status == model.ItemDone && result == nil {
		return false, fmt.Errorf("completing item %d: done requires a classification result", id)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`UPDATE items SET status = $1, parse_version = $2, updated_at = NOW() WHERE id = $3 AND status = 'processing'`,
		string(status), parseVersion, id)
	if err != nil {
		return false, fmt.Errorf("updating item %d status: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	if status == model.ItemDone {
		entities := []byte(result.ExtractedEntities)
		if len(entities) == 0 {
			entities = []byte("{}")
		}
		err = tx.QueryRow(ctx, `
            INSERT INTO classification_results (item_id, category, intent, urgency, extracted_entities,
                summary, confidence, model_version)
            VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7, $8)
            RETURNING id, created_at
        `,
			id, result.Category, result.Intent, result.Urgency, string(entities),
			result.Summary, result.Confidence, result.ModelVersion,
		).Scan(&result.ID, &result.CreatedAt)
		if err != nil {
			return false, fmt.Errorf("inserting result for item %d: %w", id, err)
		}
		result.ItemID = id
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("committing item %d: %w", id, err)
	}
	return true, nil
}

func (s *Store) GetResult(ctx context.Context, itemID int64) (*model.ClassificationResult, error) {
	query := `
        SELECT id, item_id, category, intent, urgency, extracted_entities, summary,
            confidence, model_version, created_at
        FROM classification_results
        WHERE item_id = $1
    `
	var r model.ClassificationResult
	var entities []byte
	err := s.db.QueryRow(ctx, query, itemID).Scan(
		&r.ID,
		&r.ItemID,
		&r.Category,
		&r.Intent,
		&r.Urgency,
		&entities,
		&r.Summary,
		&r.Confidence,
		&r.ModelVersion,
		&r.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting result for item %d: %w", itemID, err)
	}
	r.ExtractedEntities = entities
	return &r, nil
}

func (s *Store) RequeueFailed(ctx context.Context, ids []int64) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE items SET status = 'pending', updated_at = NOW() WHERE status = 'failed' AND id = ANY($1)`, ids)
	if err != nil {
		return 0, fmt.Errorf("requeueing items: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
