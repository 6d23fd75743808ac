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

type notificationRow struct {
	ID           int64     `db:"id"`
	ItemID       int64     `db:"item_id"`
	TenantID     int64     `db:"tenant_id"`
	Channel      string    `db:"channel"`
	Status       string    `db:"status"`
	SentTo       string    `db:"sent_to"`
	ErrorMessage string    `db:"error_message"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

func (r notificationRow) toModel() model.NotificationRecord {
	return model.NotificationRecord{
		ID:           r.ID,
		ItemID:       r.ItemID,
		TenantID:     r.TenantID,
		Channel:      r.Channel,
		Status:       model.NotificationStatus(r.Status),
		SentTo:       r.SentTo,
		ErrorMessage: r.ErrorMessage,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

type candidateRow struct {
	itemRow
	ResultID          int64     `db:"result_id"`
	Category          string    `db:"category"`
	Intent            string    `db:"intent"`
	Urgency           string    `db:"urgency"`
	ExtractedEntities []byte    `db:"extracted_entities"`
	Summary           string    `db:"summary"`
	Confidence        int       `db:"confidence"`
	ModelVersion      string    `db:"model_version"`
	ResultCreatedAt   time.Time `db:"result_created_at"`
	TenantID          int64     `db:"tenant_id"`
	TenantName        string    `db:"tenant_name"`
	Destination       string    `db:"notification_email"`
}

const notificationColumns = `id, item_id, tenant_id, channel, status, sent_to, error_message, created_at, updated_at`

func (s *Store) ListNotificationCandidates(ctx context.Context) ([]model.NotificationCandidate, error) {
	var rows []candidateRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT i.id, i.account_id, i.external_id, i.thread_id, i.sender, i.subject, i.preview,
			i.received_at, i.status, i.parse_version, i.created_at, i.updated_at,
			r.id AS result_id, r.category, r.intent, r.urgency, r.extracted_entities, r.summary,
			r.confidence, r.model_version, r.created_at AS result_created_at,
			a.tenant_id, t.name AS tenant_name, t.notification_email
		FROM items i
		JOIN classification_results r ON r.item_id = i.id
		JOIN accounts a ON a.id = i.account_id
		JOIN tenants t ON t.id = a.tenant_id
		LEFT JOIN notifications n ON n.item_id = i.id
		WHERE i.status = 'done' AND n.id IS NULL
		ORDER BY i.received_at, i.id`)
	if err != nil {
		return nil, fmt.Errorf("listing notification candidates: %w", err)
	}

	out := make([]model.NotificationCandidate, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.NotificationCandidate{
			Item: r.itemRow.toModel(),
			Result: model.ClassificationResult{
				ID:                r.ResultID,
				ItemID:            r.itemRow.ID,
				Category:          r.Category,
				Intent:            r.Intent,
				Urgency:           r.Urgency,
				ExtractedEntities: r.ExtractedEntities,
				Summary:           r.Summary,
				Confidence:        r.Confidence,
				ModelVersion:      r.ModelVersion,
				CreatedAt:         r.ResultCreatedAt,
			},
			AccountID:   r.itemRow.AccountID,
			TenantID:    r.TenantID,
			TenantName:  r.TenantName,
			Destination: r.Destination,
		})
	}
	return out, nil
}

func (s *Store) CreatePendingNotification(ctx context.Context, rec *model.NotificationRecord) (bool, error) {
	ts := now()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (item_id, tenant_id, channel, status, sent_to, error_message, created_at, updated_at)
		VALUES (?, ?, ?, 'pending', ?, '', ?, ?)
		ON CONFLICT(item_id) DO NOTHING`,
		rec.ItemID, rec.TenantID, rec.Channel, rec.SentTo, ts, ts,
	)
	if err != nil {
		return false, fmt.Errorf("creating notification for item %d: %w", rec.ItemID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("creating notification for item %d: %w", rec.ItemID, err)
	}
	if n == 0 {
		return false, nil
	}
	if id, err := res.LastInsertId(); err == nil {
		rec.ID = id
	}
	rec.Status = model.NotificationPending
	rec.CreatedAt = ts
	rec.UpdatedAt = ts
	return true, nil
}

func (s *Store) FinishNotification(ctx context.Context, id int64, status model.NotificationStatus, errMsg string) error {
	return s.execOne(ctx, "finishing notification", id,
		`UPDATE notifications SET status = ?, error_message = ?, updated_at = ? WHERE id = ?`,
		string(status), errMsg, now(), id)
}

func (s *Store) GetNotificationByItem(ctx context.Context, itemID int64) (*model.NotificationRecord, error) {
	var r notificationRow
	err := s.db.GetContext(ctx, &r, `SELECT `+notificationColumns+` FROM notifications WHERE item_id = ?`, itemID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting notification for item %d: %w", itemID, err)
	}
	rec := r.toModel()
	return &rec, nil
}

func (s *Store) ListStalePending(ctx context.Context, createdBefore time.Time) ([]model.NotificationRecord, error) {
	var rows []notificationRow
	err := s.db.SelectContext(ctx, &rows, `SELECT `+notificationColumns+` FROM notifications
		WHERE status = 'pending' AND created_at < ? ORDER BY created_at, id`, createdBefore.UTC())
	if err != nil {
		return nil, fmt.Errorf("listing stale notifications: %w", err)
	}
	out := make([]model.NotificationRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}
