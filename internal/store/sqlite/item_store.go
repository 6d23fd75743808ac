package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/elie-6/AI-Email-Parsing-API/internal/model"
	"github.com/elie-6/AI-Email-Parsing-API/internal/store"
)

type itemRow struct {
	ID           int64     `db:"id"`
	AccountID    int64     `db:"account_id"`
	ExternalID   string    `db:"external_id"`
	ThreadID     string    `db:"thread_id"`
	Sender       string    `db:"sender"`
	Subject      string    `db:"subject"`
	Preview      string    `db:"preview"`
	ReceivedAt   time.Time `db:"received_at"`
	Status       string    `db:"status"`
	ParseVersion string    `db:"parse_version"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

func (r itemRow) toModel() model.Item {
	return model.Item{
		ID:           r.ID,
		AccountID:    r.AccountID,
		ExternalID:   r.ExternalID,
		ThreadID:     r.ThreadID,
		Sender:       r.Sender,
		Subject:      r.Subject,
		Preview:      r.Preview,
		ReceivedAt:   r.ReceivedAt,
		Status:       model.ItemStatus(r.Status),
		ParseVersion: r.ParseVersion,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

type resultRow struct {
	ID                int64     `db:"id"`
	ItemID            int64     `db:"item_id"`
	Category          string    `db:"category"`
	Intent            string    `db:"intent"`
	Urgency           string    `db:"urgency"`
	ExtractedEntities []byte    `db:"extracted_entities"`
	Summary           string    `db:"summary"`
	Confidence        int       `db:"confidence"`
	ModelVersion      string    `db:"model_version"`
	CreatedAt         time.Time `db:"created_at"`
}

func (r resultRow) toModel() model.ClassificationResult {
	return model.ClassificationResult{
		ID:                r.ID,
		ItemID:            r.ItemID,
		Category:          r.Category,
		Intent:            r.Intent,
		Urgency:           r.Urgency,
		ExtractedEntities: r.ExtractedEntities,
		Summary:           r.Summary,
		Confidence:        r.Confidence,
		ModelVersion:      r.ModelVersion,
		CreatedAt:         r.CreatedAt,
	}
}

const itemColumns = `id, account_id, external_id, thread_id, sender, subject, preview,
	received_at, status, parse_version, created_at, updated_at`

func (s *Store) ItemExists(ctx context.Context, externalID string) (bool, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM items WHERE external_id = ?`, externalID); err != nil {
		return false, fmt.Errorf("checking item %s: %w", externalID, err)
	}
	return n > 0, nil
}

func (s *Store) InsertItemIfAbsent(ctx context.Context, item *model.Item) (bool, error) {
	ts := now()
	status := item.Status
	if status == "" {
		status = model.ItemPending
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO items (account_id, external_id, thread_id, sender, subject, preview,
			received_at, status, parse_version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, '', ?, ?)
		ON CONFLICT(external_id) DO NOTHING`,
		item.AccountID, item.ExternalID, item.ThreadID, item.Sender, item.Subject, item.Preview,
		item.ReceivedAt.UTC(), string(status), ts, ts,
	)
	if err != nil {
		return false, fmt.Errorf("inserting item %s: %w", item.ExternalID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("inserting item %s: %w", item.ExternalID, err)
	}
	if n == 0 {
		return false, nil
	}
	if id, err := res.LastInsertId(); err == nil {
		item.ID = id
	}
	item.Status = status
	return true, nil
}

func (s *Store) GetItem(ctx context.Context, id int64) (*model.Item, error) {
	return s.getItem(ctx, `SELECT `+itemColumns+` FROM items WHERE id = ?`, id)
}

func (s *Store) GetItemByExternalID(ctx context.Context, externalID string) (*model.Item, error) {
	return s.getItem(ctx, `SELECT `+itemColumns+` FROM items WHERE external_id = ?`, externalID)
}

func (s *Store) getItem(ctx context.Context, query string, arg interface{}) (*model.Item, error) {
	var r itemRow
	err := s.db.GetContext(ctx, &r, query, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting item %v: %w", arg, err)
	}
	item := r.toModel()
	return &item, nil
}

func (s *Store) ListItemsByStatus(ctx context.Context, status model.ItemStatus) ([]model.Item, error) {
	return s.selectItems(ctx, `SELECT `+itemColumns+` FROM items WHERE status = ? ORDER BY received_at, id`, string(status))
}

func (s *Store) ListPendingItems(ctx context.Context, limit int) ([]model.Item, error) {
	return s.selectItems(ctx, `SELECT `+itemColumns+` FROM items WHERE status = 'pending'
		ORDER BY received_at, id LIMIT ?`, limit)
}

func (s *Store) selectItems(ctx context.Context, query string, args ...interface{}) ([]model.Item, error) {
	var rows []itemRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("listing items: %w", err)
	}
	items := make([]model.Item, 0, len(rows))
	for _, r := range rows {
		items = append(items, r.toModel())
	}
	return items, nil
}

func (s *Store) ClaimItem(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE items SET status = 'processing', updated_at = ? WHERE id = ? AND status = 'pending'`,
		now(), id)
	if err != nil {
		return false, fmt.Errorf("claiming item %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claiming item %d: %w", id, err)
	}
	return n == 1, nil
}

func (s *Store) ReleaseItem(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE items SET status = 'pending', updated_at = ? WHERE id = ? AND status = 'processing'`,
		now(), id)
	if err != nil {
		return false, fmt.Errorf("releasing item %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("releasing item %d: %w", id, err)
	}
	return n == 1, nil
}

func (s *Store) CompleteItem(ctx context.Context, id int64, status model.ItemStatus, parseVersion string, result *model.ClassificationResult) (bool, error) {
	if !status.IsTerminal() {
		return false, fmt.Errorf("completing item %d: %q is not a terminal status", id, status)
	}
	if status == model.ItemDone && result == nil {
		return false, fmt.Errorf("completing item %d: done requires a classification result", id)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	ts := now()
	res, err := tx.ExecContext(ctx,
		`UPDATE items SET status = ?, parse_version = ?, updated_at = ? WHERE id = ? AND status = 'processing'`,
		string(status), parseVersion, ts, id)
	if err != nil {
		return false, fmt.Errorf("updating item %d status: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("updating item %d status: %w", id, err)
	}
	if n == 0 {
		return false, nil
	}

	if status == model.ItemDone {
		if err := insertResult(ctx, tx, id, result, ts); err != nil {
			return false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing item %d: %w", id, err)
	}
	return true, nil
}

func insertResult(ctx context.Context, tx *sqlx.Tx, itemID int64, r *model.ClassificationResult, ts time.Time) error {
	entities := []byte(r.ExtractedEntities)
	if len(entities) == 0 {
		entities = []byte("{}")
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO classification_results (item_id, category, intent, urgency, extracted_entities,
			summary, confidence, model_version, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		itemID, r.Category, r.Intent, r.Urgency, string(entities),
		r.Summary, r.Confidence, r.ModelVersion, ts,
	)
	if err != nil {
		return fmt.Errorf("inserting result for item %d: %w", itemID, err)
	}
	if id, err := res.LastInsertId(); err == nil {
		r.ID = id
	}
	r.ItemID = itemID
	r.CreatedAt = ts
	return nil
}

func (s *Store) GetResult(ctx context.Context, itemID int64) (*model.ClassificationResult, error) {
	var r resultRow
	err := s.db.GetContext(ctx, &r, `
		SELECT id, item_id, category, intent, urgency, extracted_entities, summary,
			confidence, model_version, created_at
		FROM classification_results WHERE item_id = ?`, itemID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting result for item %d: %w", itemID, err)
	}
	result := r.toModel()
	return &result, nil
}

func (s *Store) RequeueFailed(ctx context.Context, ids []int64) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query, args, err := sqlx.In(
		`UPDATE items SET status = 'pending', updated_at = ? WHERE status = 'failed' AND id IN (?)`,
		now(), ids)
	if err != nil {
		return 0, fmt.Errorf("building requeue query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return 0, fmt.Errorf("requeueing items: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("requeueing items: %w", err)
	}
	return int(n), nil
}
