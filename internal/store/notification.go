// ABOUTME: Store methods for user notifications: idempotent issue, lookups for eligibility, user listing.
// ABOUTME: IssueNotification holds the insert open while mail is sent so a failed send leaves no row.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// NotificationType classifies a notification.
type NotificationType string

const (
	NotificationGeneral            NotificationType = "GM"
	NotificationUpcomingExpiration NotificationType = "RE"
	NotificationPastExpiration     NotificationType = "RD"
)

// NotificationTypes lists every type in display order.
var NotificationTypes = []NotificationType{
	NotificationGeneral,
	NotificationUpcomingExpiration,
	NotificationPastExpiration,
}

// Label returns the human-readable name of t.
func (t NotificationType) Label() string {
	switch t {
	case NotificationGeneral:
		return "General Message"
	case NotificationUpcomingExpiration:
		return "Upcoming Request Expiration"
	case NotificationPastExpiration:
		return "Request Expired"
	}
	return string(t)
}

// Valid reports whether t is a known type.
func (t NotificationType) Valid() bool {
	for _, v := range NotificationTypes {
		if v == t {
			return true
		}
	}
	return false
}

// Notification is a persisted notice sent to a user.
type Notification struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	Type         NotificationType
	Subject      string
	Message      string
	Metadata     json.RawMessage
	RequestID    *uuid.UUID
	Threshold    *int
	DaysToExpire *int
	Read         bool
	CreatedAt    time.Time
}

// CreateNotificationParams holds the fields of a new notification row.
type CreateNotificationParams struct {
	UserID       uuid.UUID
	Type         NotificationType
	Subject      string
	Message      string
	Metadata     map[string]any
	RequestID    *uuid.UUID
	Threshold    *int
	DaysToExpire *int
}

// NotificationQuery selects notifications for existence checks.
type NotificationQuery struct {
	UserID    uuid.UUID
	Type      NotificationType
	RequestID *uuid.UUID
	// MaxDaysToExpire, when set, matches only rows with days_to_expire <= the value.
	MaxDaysToExpire *int
}

// ListNotificationsParams filters a user's notification listing.
type ListNotificationsParams struct {
	Read   *bool
	Type   NotificationType
	Limit  int
	Offset int
}

const notificationColumns = `
    id, user_id, notification_type, subject, message, COALESCE(metadata, '{}'::jsonb),
    request_id, threshold, days_to_expire, read, created_at`

func scanNotification(row pgx.Row) (*Notification, error) {
	var (
		n                       Notification
		typ                     string
		metadata                []byte
		threshold, daysToExpire *int32
	)
	if err := row.Scan(&n.ID, &n.UserID, &typ, &n.Subject, &n.Message, &metadata,
		&n.RequestID, &threshold, &daysToExpire, &n.Read, &n.CreatedAt); err != nil {
		return nil, err
	}
	n.Type = NotificationType(typ)
	n.Metadata = json.RawMessage(metadata)
	n.Threshold = intPtr(threshold)
	n.DaysToExpire = intPtr(daysToExpire)
	return &n, nil
}

// IssueNotification inserts a notification and, inside the same transaction,
// calls deliver with the new row. The row commits only if deliver returns nil.
//
// The insert is keyed on (user, type, request, threshold). When another row
// already holds the key, deliver is not called and (nil, nil) is returned.
// A nil deliver just inserts.
func (s *Store) IssueNotification(
	ctx context.Context,
	p CreateNotificationParams,
	deliver func(context.Context, *Notification) error,
) (*Notification, error) {
	var metadata any
	if p.Metadata != nil {
		b, err := json.Marshal(p.Metadata)
		if err != nil {
			return nil, fmt.Errorf("marshal notification metadata: %w", err)
		}
		metadata = string(b)
	}

	var issued *Notification
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
INSERT INTO notifications
    (user_id, notification_type, subject, message, metadata, request_id, threshold, days_to_expire)
VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7, $8)
ON CONFLICT DO NOTHING
RETURNING`+notificationColumns,
			p.UserID, string(p.Type), p.Subject, p.Message, metadata,
			p.RequestID, p.Threshold, p.DaysToExpire)
		n, err := scanNotification(row)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("insert notification: %w", err)
		}
		if deliver != nil {
			if err := deliver(ctx, n); err != nil {
				return err
			}
		}
		issued = n
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("issue notification: %w", err)
	}
	return issued, nil
}

// NotificationExists reports whether any notification matches q.
func (s *Store) NotificationExists(ctx context.Context, q NotificationQuery) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
SELECT EXISTS (
    SELECT 1 FROM notifications
    WHERE user_id = $1
      AND notification_type = $2
      AND ($3::uuid IS NULL OR request_id = $3)
      AND ($4::integer IS NULL OR days_to_expire <= $4)
)`, q.UserID, string(q.Type), q.RequestID, q.MaxDaysToExpire).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("notification exists: %w", err)
	}
	return exists, nil
}

// ListNotifications returns userID's notifications, newest first.
func (s *Store) ListNotifications(ctx context.Context, userID uuid.UUID, p ListNotificationsParams) ([]Notification, error) {
	var typ any
	if p.Type != "" {
		typ = string(p.Type)
	}
	limit := p.Limit
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx, `
SELECT`+notificationColumns+`
FROM notifications
WHERE user_id = $1
  AND ($2::boolean IS NULL OR read = $2)
  AND ($3::text IS NULL OR notification_type = $3)
ORDER BY created_at DESC, id DESC
LIMIT $4 OFFSET $5`, userID, p.Read, typ, limit, p.Offset)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

// GetNotification returns notification id if it belongs to userID, or nil.
func (s *Store) GetNotification(ctx context.Context, userID, id uuid.UUID) (*Notification, error) {
	n, err := scanNotification(s.pool.QueryRow(ctx, `
SELECT`+notificationColumns+`
FROM notifications
WHERE id = $1 AND user_id = $2`, id, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get notification %s: %w", id, err)
	}
	return n, nil
}

// SetNotificationRead updates the read flag and returns the row, or nil when
// userID owns no such notification.
func (s *Store) SetNotificationRead(ctx context.Context, userID, id uuid.UUID, read bool) (*Notification, error) {
	n, err := scanNotification(s.pool.QueryRow(ctx, `
UPDATE notifications SET read = $3
WHERE id = $1 AND user_id = $2
RETURNING`+notificationColumns, id, userID, read))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("set notification read %s: %w", id, err)
	}
	return n, nil
}
