// ABOUTME: Store methods for per-user notification preferences.
// ABOUTME: Reads are get-or-create so every user has a row with the default thresholds.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// DefaultExpiryThresholds are the day offsets assigned to new preference rows.
var DefaultExpiryThresholds = []int{30, 14}

// ErrNegativeThreshold is returned when a threshold below zero is submitted.
var ErrNegativeThreshold = errors.New("expiry thresholds must be non-negative")

// Preference is a user's notification settings.
type Preference struct {
	UserID                  uuid.UUID
	RequestExpiryThresholds []int
	NotifyOnExpiration      bool
}

// UpdatePreferenceParams carries a partial update. Thresholds are written only
// when SetThresholds is true; a nil NotifyOnExpiration is left unchanged.
type UpdatePreferenceParams struct {
	RequestExpiryThresholds []int
	SetThresholds           bool
	NotifyOnExpiration      *bool
}

const preferenceColumns = `user_id, request_expiry_thresholds, notify_on_expiration`

// GetPreference returns the preference row for userID, creating it with the
// defaults if it does not exist yet.
func (s *Store) GetPreference(ctx context.Context, userID uuid.UUID) (*Preference, error) {
	var (
		p          Preference
		thresholds []int32
	)
	// DO UPDATE with a no-op assignment makes RETURNING yield the existing row.
	err := s.pool.QueryRow(ctx, `
INSERT INTO notification_preferences (user_id)
VALUES ($1)
ON CONFLICT (user_id) DO UPDATE SET user_id = EXCLUDED.user_id
RETURNING `+preferenceColumns, userID).
		Scan(&p.UserID, &thresholds, &p.NotifyOnExpiration)
	if err != nil {
		return nil, fmt.Errorf("get preference %s: %w", userID, err)
	}
	p.RequestExpiryThresholds = fromInt32s(thresholds)
	return &p, nil
}

// UpdatePreference applies a partial update, creating the row first if needed.
func (s *Store) UpdatePreference(ctx context.Context, userID uuid.UUID, u UpdatePreferenceParams) (*Preference, error) {
	var thresholds any
	if u.SetThresholds {
		for _, t := range u.RequestExpiryThresholds {
			if t < 0 {
				return nil, ErrNegativeThreshold
			}
		}
		thresholds = toInt32s(u.RequestExpiryThresholds)
	}
	var notify any
	if u.NotifyOnExpiration != nil {
		notify = *u.NotifyOnExpiration
	}

	var (
		p   Preference
		out []int32
	)
	err := s.pool.QueryRow(ctx, `
INSERT INTO notification_preferences (user_id, request_expiry_thresholds, notify_on_expiration)
VALUES ($1, COALESCE($2::integer[], '{30,14}'), COALESCE($3::boolean, true))
ON CONFLICT (user_id) DO UPDATE SET
    request_expiry_thresholds = COALESCE($2::integer[], notification_preferences.request_expiry_thresholds),
    notify_on_expiration      = COALESCE($3::boolean, notification_preferences.notify_on_expiration)
RETURNING `+preferenceColumns, userID, thresholds, notify).
		Scan(&p.UserID, &out, &p.NotifyOnExpiration)
	if err != nil {
		return nil, fmt.Errorf("update preference %s: %w", userID, err)
	}
	p.RequestExpiryThresholds = fromInt32s(out)
	return &p, nil
}

func toInt32s(in []int) []int32 {
	out := make([]int32, len(in))
	for i, v := range in {
		out[i] = int32(v) //nolint:gosec // G115: thresholds are small day counts
	}
	return out
}

func fromInt32s(in []int32) []int {
	out := make([]int, len(in))
	for i, v := range in {
		out[i] = int(v)
	}
	return out
}
