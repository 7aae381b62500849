package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// InAppNotification is one row on a user's in-app feed.
type InAppNotification struct {
	ID        string
	UserID    string
	Kind      string
	Title     string
	Body      string
	RefID     *string
	ReadAt    *time.Time
	CreatedAt time.Time
}

// InAppStore persists in-app notifications.
type InAppStore interface {
	Insert(ctx context.Context, n InAppNotification) error
}

// InAppRepository is the pgx-backed store.
type InAppRepository struct {
	pool *pgxpool.Pool
}

func NewInAppRepository(pool *pgxpool.Pool) *InAppRepository {
	return &InAppRepository{pool: pool}
}

func (r *InAppRepository) Insert(ctx context.Context, n InAppNotification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if _, err := r.pool.Exec(ctx, `
        INSERT INTO notifications (id, user_id, kind, title, body, ref_id)
        VALUES ($1,$2,$3,$4,$5,$6)
    `, n.ID, n.UserID, n.Kind, n.Title, n.Body, n.RefID); err != nil {
		return fmt.Errorf("notify: insert notification: %w", err)
	}
	return nil
}

// ListUnread returns the newest unread rows for a user's feed.
func (r *InAppRepository) ListUnread(ctx context.Context, userID string, limit int) ([]InAppNotification, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := r.pool.Query(ctx, `
        SELECT id, user_id, kind, title, body, ref_id, read_at, created_at
        FROM notifications
        WHERE user_id=$1 AND read_at IS NULL
        ORDER BY created_at DESC
        LIMIT $2
    `, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("notify: list unread: %w", err)
	}
	defer rows.Close()

	items := []InAppNotification{}
	for rows.Next() {
		var n InAppNotification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Kind, &n.Title, &n.Body, &n.RefID, &n.ReadAt, &n.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, n)
	}
	return items, rows.Err()
}

// MarkRead is idempotent: a read row keeps its original read_at.
func (r *InAppRepository) MarkRead(ctx context.Context, id string) error {
	if _, err := r.pool.Exec(ctx, `
        UPDATE notifications SET read_at=COALESCE(read_at, now()) WHERE id=$1
    `, id); err != nil {
		return fmt.Errorf("notify: mark read: %w", err)
	}
	return nil
}
