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

const notificationColumns = `id, item_id, tenant_id, channel, status, sent_to, error_message, created_at, updated_at`

func scanNotification(row pgx.Row) (*model.NotificationRecord, error) {
	var n model.NotificationRecord
	var status string
	err := row.Scan(
		&n.ID,
		&n.ItemID,
		&n.TenantID,
		&n.Channel,
		&status,
		&n.SentTo,
		&n.ErrorMessage,
		&n.CreatedAt,
		&n.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	n.Status = model.NotificationStatus(status)
	return &n, nil
}

// ListNotificationCandidates 一次 join 取出 item、结果、租户和通知目的地
func (s *Store) ListNotificationCandidates(ctx context.Context) ([]model.NotificationCandidate, error) {
	query := `
        SELECT
            i.id, i.account_id, i.external_id, i.thread_id, i.sender, i.subject, i.preview,
            i.received_at, i.status, i.parse_version, i.created_at, i.updated_at,
            r.id, r.category, r.intent, r.urgency, r.extracted_entities, r.summary,
            r.confidence, r.model_version, r.created_at,
            a.tenant_id, t.name, t.notification_email
        FROM items i
        JOIN classification_results r ON r.item_id = i.id
        JOIN accounts a ON a.id = i.account_id
        JOIN tenants t ON t.id = a.tenant_id
        LEFT JOIN notifications n ON n.item_id = i.id
        WHERE i.status = 'done' AND n.id IS NULL
        ORDER BY i.received_at, i.id
    `
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing notification candidates: %w", err)
	}
	defer rows.Close()

	var out []model.NotificationCandidate
	for rows.Next() {
		var c model.NotificationCandidate
		var status string
		var entities []byte
		err := rows.Scan(
			&c.Item.ID, &c.Item.AccountID, &c.Item.ExternalID, &c.Item.ThreadID, &c.Item.Sender,
			&c.Item.Subject, &c.Item.Preview, &c.Item.ReceivedAt, &status, &c.Item.ParseVersion,
			&c.Item.CreatedAt, &c.Item.UpdatedAt,
			&c.Result.ID, &c.Result.Category, &c.Result.Intent, &c.Result.Urgency, &entities,
			&c.Result.Summary, &c.Result.Confidence, &c.Result.ModelVersion, &c.Result.CreatedAt,
			&c.TenantID, &c.TenantName, &c.Destination,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning notification candidate: %w", err)
		}
		c.Item.Status = model.ItemStatus(status)
		c.Result.ItemID = c.Item.ID
		c.Result.ExtractedEntities = entities
		c.AccountID = c.Item.AccountID
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) CreatePendingNotification(ctx context.Context, rec *model.NotificationRecord) (bool, error) {
	query := `
        INSERT INTO notifications (item_id, tenant_id, channel, status, sent_to)
        VALUES ($1, $2, $3, 'pending', $4)
        ON CONFLICT (item_id) DO NOTHING
        RETURNING id, created_at, updated_at
    `
	err := s.db.QueryRow(ctx, query, rec.ItemID, rec.TenantID, rec.Channel, rec.SentTo).
		Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("creating notification for item %d: %w", rec.ItemID, err)
	}
	rec.Status = model.NotificationPending
	return true, nil
}

func (s *Store) FinishNotification(ctx context.Context, id int64, status model.NotificationStatus, errMsg string) error {
	return s.execOne(ctx, "finishing notification", id,
		`UPDATE notifications SET status = $1, error_message = $2, updated_at = NOW() WHERE id = $3`,
		string(status), errMsg, id)
}

func (s *Store) GetNotificationByItem(ctx context.Context, itemID int64) (*model.NotificationRecord, error) {
	n, err := scanNotification(s.db.QueryRow(ctx,
		`SELECT `+notificationColumns+` FROM notifications WHERE item_id = $1`, itemID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting notification for item %d: %w", itemID, err)
	}
	return n, nil
}

func (s *Store) ListStalePending(ctx context.Context, createdBefore time.Time) ([]model.NotificationRecord, error) {
	rows, err := s.db.Query(ctx, `SELECT `+notificationColumns+` FROM notifications
        WHERE status = 'pending' AND created_at < $1 ORDER BY created_at, id`, createdBefore)
	if err != nil {
		return nil, fmt.Errorf("listing stale notifications: %w", err)
	}
	defer rows.Close()

	var out []model.NotificationRecord
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning notification: %w", err)
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}
