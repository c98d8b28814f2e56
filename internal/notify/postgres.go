package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/communitydesk/casetrack/internal/shared/database"
	"github.com/communitydesk/casetrack/internal/shared/errors"
	"github.com/communitydesk/casetrack/internal/shared/metrics"
	"github.com/google/uuid"
)

// PostgresRepository stores notifications and delivery outcomes.
type PostgresRepository struct {
	db *database.DB
}

func NewPostgresRepository(db *database.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Insert(ctx context.Context, n *Notification) error {
	start := time.Now()
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	n.IsActive = true

	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO notifications (id, user_id, case_id, type, priority, title, body, metadata, actor_id, action, is_read, is_active, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, false, true, $11, $12)`,
		n.ID, n.UserID, n.CaseID, string(n.Type), string(n.Priority), n.Title, n.Body, n.Metadata, n.ActorID, n.Action, n.ExpiresAt, n.CreatedAt,
	)
	metrics.RecordDBQuery("notification_insert", time.Since(start))
	if err != nil {
		return errors.Persistence(err, fmt.Sprintf("inserting notification for user %d", n.UserID))
	}
	metrics.RecordNotification(string(n.Type))
	return nil
}

func (r *PostgresRepository) ListByUser(ctx context.Context, userID int64, unreadOnly bool, limit, offset int) ([]Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	q := `
		SELECT id, user_id, case_id, type, priority, title, body, metadata, actor_id, action, is_read, read_at, is_active, expires_at, created_at
		FROM notifications
		WHERE user_id = $1 AND is_active
		  AND (expires_at IS NULL OR expires_at > now())`
	if unreadOnly {
		q += ` AND NOT is_read`
	}
	q += ` ORDER BY created_at DESC LIMIT $2 OFFSET $3`

	start := time.Now()
	rows, err := r.db.Pool.Query(ctx, q, userID, limit, offset)
	metrics.RecordDBQuery("notification_list", time.Since(start))
	if err != nil {
		return nil, errors.Persistence(err, fmt.Sprintf("listing notifications for user %d", userID))
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		var n Notification
		var typ, prio string
		if err := rows.Scan(&n.ID, &n.UserID, &n.CaseID, &typ, &prio, &n.Title, &n.Body, &n.Metadata, &n.ActorID, &n.Action, &n.IsRead, &n.ReadAt, &n.IsActive, &n.ExpiresAt, &n.CreatedAt); err != nil {
			return nil, errors.Persistence(err, "scanning notification")
		}
		n.Type = Type(typ)
		n.Priority = Priority(prio)
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Persistence(err, "iterating notifications")
	}
	return out, nil
}

func (r *PostgresRepository) CountUnread(ctx context.Context, userID int64) (int64, error) {
	start := time.Now()
	var count int64
	err := r.db.Pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM notifications
		WHERE user_id = $1 AND is_active AND NOT is_read
		  AND (expires_at IS NULL OR expires_at > now())`,
		userID,
	).Scan(&count)
	metrics.RecordDBQuery("notification_count_unread", time.Since(start))
	if err != nil {
		return 0, errors.Persistence(err, fmt.Sprintf("counting unread notifications for user %d", userID))
	}
	return count, nil
}

func (r *PostgresRepository) MarkRead(ctx context.Context, id uuid.UUID, userID int64) error {
	start := time.Now()
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE notifications SET is_read = true, read_at = now()
		WHERE id = $1 AND user_id = $2 AND is_active`,
		id, userID,
	)
	metrics.RecordDBQuery("notification_mark_read", time.Since(start))
	if err != nil {
		return errors.Persistence(err, "marking notification read")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("notification", id.String())
	}
	return nil
}

func (r *PostgresRepository) MarkAllRead(ctx context.Context, userID int64) (int64, error) {
	start := time.Now()
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE notifications SET is_read = true, read_at = now()
		WHERE user_id = $1 AND is_active AND NOT is_read`,
		userID,
	)
	metrics.RecordDBQuery("notification_mark_all_read", time.Since(start))
	if err != nil {
		return 0, errors.Persistence(err, "marking notifications read")
	}
	return tag.RowsAffected(), nil
}

func (r *PostgresRepository) Deactivate(ctx context.Context, id uuid.UUID, userID int64) error {
	start := time.Now()
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE notifications SET is_active = false
		WHERE id = $1 AND user_id = $2 AND is_active`,
		id, userID,
	)
	metrics.RecordDBQuery("notification_deactivate", time.Since(start))
	if err != nil {
		return errors.Persistence(err, "deactivating notification")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("notification", id.String())
	}
	return nil
}

// RecordDelivery upserts the outcome of a delivery attempt. A retry on
// the same channel replaces the previous outcome instead of adding a
// second row.
func (r *PostgresRepository) RecordDelivery(ctx context.Context, d *Delivery) error {
	start := time.Now()
	if d.AttemptedAt.IsZero() {
		d.AttemptedAt = time.Now().UTC()
	}
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO notification_deliveries (notification_id, channel, sent, error, attempted_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (notification_id, channel)
		DO UPDATE SET sent = EXCLUDED.sent, error = EXCLUDED.error, attempted_at = EXCLUDED.attempted_at`,
		d.NotificationID, d.Channel, d.Sent, d.Error, d.AttemptedAt,
	)
	metrics.RecordDBQuery("delivery_record", time.Since(start))
	if err != nil {
		return errors.Persistence(err, "recording delivery outcome")
	}
	metrics.RecordDelivery(d.Channel, d.Sent)
	return nil
}
