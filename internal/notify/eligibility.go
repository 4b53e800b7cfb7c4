// ABOUTME: Decides whether a user should receive an upcoming- or past-expiration notice for a request.
// ABOUTME: Pure date/threshold rules plus one existence lookup against issued notifications.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/keystone-hpc/keystone/internal/store"
)

// NotificationLookup answers whether a matching notification was already issued.
type NotificationLookup interface {
	NotificationExists(ctx context.Context, q store.NotificationQuery) (bool, error)
}

// ExpirationThreshold returns the smallest threshold that is >= daysUntilExpire.
// ok is false when thresholds is empty or every threshold is smaller.
func ExpirationThreshold(thresholds []int, daysUntilExpire int) (threshold int, ok bool) {
	for _, t := range thresholds {
		if t >= daysUntilExpire && (!ok || t < threshold) {
			threshold, ok = t, true
		}
	}
	return threshold, ok
}

// Evaluator applies the notification eligibility rules. The zero value is
// not usable; construct with NewEvaluator.
type Evaluator struct {
	lookup NotificationLookup
	now    func() time.Time
}

// NewEvaluator returns an Evaluator that reads issued notifications from lookup.
// now defaults to time.Now when nil.
func NewEvaluator(lookup NotificationLookup, now func() time.Time) *Evaluator {
	if now == nil {
		now = time.Now
	}
	return &Evaluator{lookup: lookup, now: now}
}

// Today returns the evaluator's current calendar date at midnight UTC.
func (e *Evaluator) Today() time.Time {
	return civilDate(e.now())
}

// ShouldNotifyUpcomingExpiration reports whether user should be warned that
// req is about to expire. A nil pref never notifies.
func (e *Evaluator) ShouldNotifyUpcomingExpiration(
	ctx context.Context,
	user store.User,
	pref *store.Preference,
	req store.AllocationRequest,
) (bool, error) {
	skip := func(reason string) (bool, error) {
		slog.DebugContext(ctx, "skipping upcoming expiration notice",
			"request_id", req.ID, "user", user.Username, "reason", reason)
		return false, nil
	}

	if req.Expire == nil {
		return skip("request does not expire")
	}
	today := e.Today()
	expire := civilDate(*req.Expire)
	if !expire.After(today) {
		return skip("request has already expired")
	}
	if pref == nil {
		return skip("no notification preference")
	}

	days := daysBetween(today, expire)
	threshold, ok := ExpirationThreshold(pref.RequestExpiryThresholds, days)
	if !ok {
		return skip("no notification threshold has been hit yet")
	}

	// Accounts created inside the threshold window would otherwise be
	// notified the moment they are linked to a near-expiry request.
	cutoff := today.AddDate(0, 0, -threshold)
	if !civilDate(user.DateJoined).Before(cutoff) {
		return skip("user account created after notification threshold")
	}
	if req.Active != nil && !civilDate(*req.Active).Before(cutoff) {
		return skip("request activated after notification threshold")
	}

	reqID := req.ID
	exists, err := e.lookup.NotificationExists(ctx, store.NotificationQuery{
		UserID:          user.ID,
		Type:            store.NotificationUpcomingExpiration,
		RequestID:       &reqID,
		MaxDaysToExpire: &threshold,
	})
	if err != nil {
		return false, err
	}
	if exists {
		return skip("notification already sent for threshold")
	}
	return true, nil
}

// ShouldNotifyPastExpiration reports whether user should be told that req
// has expired. A nil pref never notifies.
func (e *Evaluator) ShouldNotifyPastExpiration(
	ctx context.Context,
	user store.User,
	pref *store.Preference,
	req store.AllocationRequest,
) (bool, error) {
	reqID := req.ID
	exists, err := e.lookup.NotificationExists(ctx, store.NotificationQuery{
		UserID:    user.ID,
		Type:      store.NotificationPastExpiration,
		RequestID: &reqID,
	})
	if err != nil {
		return false, err
	}
	if exists {
		slog.DebugContext(ctx, "skipping past expiration notice",
			"request_id", req.ID, "user", user.Username, "reason", "notification already sent")
		return false, nil
	}
	if pref == nil {
		return false, nil
	}
	return pref.NotifyOnExpiration, nil
}

// civilDate truncates t to its calendar date, expressed as midnight UTC.
func civilDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// daysBetween returns the whole days from a to b; both must be civil dates.
func daysBetween(a, b time.Time) int {
	return int(b.Sub(a).Hours() / 24)
}
