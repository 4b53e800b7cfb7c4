// ABOUTME: Daily sweeps that warn team members before an approved allocation expires and after it has.
// ABOUTME: Per-pair failures are logged and counted; only listing failures abort a sweep.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/keystone-hpc/keystone/internal/store"
)

// Sweep names, used as metric labels and job queue names.
const (
	SweepUpcoming = "notify_upcoming_expirations"
	SweepPast     = "notify_past_expirations"
)

// ExpirationStore is the read side the sweeps need.
type ExpirationStore interface {
	ListApprovedRequestsExpiringAfter(ctx context.Context, day time.Time) ([]store.AllocationRequest, error)
	ListApprovedRequestsExpiredBetween(ctx context.Context, after, through time.Time) ([]store.AllocationRequest, error)
	ListActiveTeamMembers(ctx context.Context, teamID uuid.UUID) ([]store.User, error)
	ListAllocations(ctx context.Context, requestID uuid.UUID) ([]store.Allocation, error)
	GetPreference(ctx context.Context, userID uuid.UUID) (*store.Preference, error)
}

// MessageSender delivers a rendered Message; Dispatcher implements it.
type MessageSender interface {
	Send(ctx context.Context, msg Message) (bool, error)
}

// SweepResult summarizes one sweep run.
type SweepResult struct {
	Requests  int
	Evaluated int
	Sent      int
	Skipped   int
	// Failed counts pairs whose evaluation, render or send returned an error.
	Failed int
	// Retryable counts the subset of Failed that may succeed on a later run.
	Retryable int
}

// ExpirationJob runs the expiration sweeps.
type ExpirationJob struct {
	store          ExpirationStore
	eval           *Evaluator
	sender         MessageSender
	pastWindowDays int
}

// NewExpirationJob creates an ExpirationJob. Requests that expired within
// the last pastWindowDays days receive a past-expiration notice.
func NewExpirationJob(s ExpirationStore, eval *Evaluator, sender MessageSender, pastWindowDays int) *ExpirationJob {
	if pastWindowDays <= 0 {
		pastWindowDays = 3
	}
	return &ExpirationJob{store: s, eval: eval, sender: sender, pastWindowDays: pastWindowDays}
}

// NotifyUpcoming warns every active member of every approved, unexpired
// request whose next threshold has been reached.
func (j *ExpirationJob) NotifyUpcoming(ctx context.Context) (SweepResult, error) {
	today := j.eval.Today()
	reqs, err := j.store.ListApprovedRequestsExpiringAfter(ctx, today)
	if err != nil {
		return SweepResult{}, fmt.Errorf("notify upcoming: %w", err)
	}

	res := SweepResult{Requests: len(reqs)}
	for _, req := range reqs {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		j.forEachMember(ctx, SweepUpcoming, req, &res, func(user store.User, pref *store.Preference) (Message, bool, error) {
			ok, err := j.eval.ShouldNotifyUpcomingExpiration(ctx, user, pref, req)
			if err != nil || !ok {
				return Message{}, false, err
			}
			allocs, err := j.store.ListAllocations(ctx, req.ID)
			if err != nil {
				return Message{}, false, err
			}
			days := daysBetween(today, civilDate(*req.Expire))
			threshold, _ := ExpirationThreshold(pref.RequestExpiryThresholds, days)
			reqID := req.ID
			return Message{
				User:     user,
				Type:     store.NotificationUpcomingExpiration,
				Subject:  fmt.Sprintf("Your HPC allocation #%s is expiring soon", req.ID),
				Template: TemplateUpcomingExpiration,
				Context:  UpcomingExpirationContext(user, req, allocs, days),
				Metadata: map[string]any{
					"request_id":     req.ID.String(),
					"days_to_expire": days,
				},
				RequestID:    &reqID,
				Threshold:    &threshold,
				DaysToExpire: &days,
			}, true, nil
		})
	}
	logSweep(ctx, SweepUpcoming, res)
	return res, nil
}

// NotifyPast tells every active member of every approved request that
// expired within the past window, unless they opted out.
func (j *ExpirationJob) NotifyPast(ctx context.Context) (SweepResult, error) {
	today := j.eval.Today()
	reqs, err := j.store.ListApprovedRequestsExpiredBetween(ctx, today.AddDate(0, 0, -j.pastWindowDays), today)
	if err != nil {
		return SweepResult{}, fmt.Errorf("notify past: %w", err)
	}

	res := SweepResult{Requests: len(reqs)}
	for _, req := range reqs {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		j.forEachMember(ctx, SweepPast, req, &res, func(user store.User, pref *store.Preference) (Message, bool, error) {
			ok, err := j.eval.ShouldNotifyPastExpiration(ctx, user, pref, req)
			if err != nil || !ok {
				return Message{}, false, err
			}
			allocs, err := j.store.ListAllocations(ctx, req.ID)
			if err != nil {
				return Message{}, false, err
			}
			reqID := req.ID
			return Message{
				User:      user,
				Type:      store.NotificationPastExpiration,
				Subject:   fmt.Sprintf("Your HPC allocation #%s has expired", req.ID),
				Template:  TemplatePastExpiration,
				Context:   PastExpirationContext(user, req, allocs),
				Metadata:  map[string]any{"request_id": req.ID.String()},
				RequestID: &reqID,
			}, true, nil
		})
	}
	logSweep(ctx, SweepPast, res)
	return res, nil
}

// forEachMember evaluates build for every active member of req's team and
// sends the resulting message.
func (j *ExpirationJob) forEachMember(
	ctx context.Context,
	sweep string,
	req store.AllocationRequest,
	res *SweepResult,
	build func(store.User, *store.Preference) (Message, bool, error),
) {
	members, err := j.store.ListActiveTeamMembers(ctx, req.TeamID)
	if err != nil {
		slog.ErrorContext(ctx, "list team members failed",
			"sweep", sweep, "request_id", req.ID, "team_id", req.TeamID, "error", err)
		res.Failed++
		res.Retryable++
		sweepCandidates.WithLabelValues(sweep, "error").Inc()
		return
	}

	for _, user := range members {
		res.Evaluated++
		outcome, err := j.notifyOne(ctx, user, build)
		sweepCandidates.WithLabelValues(sweep, outcome).Inc()
		switch outcome {
		case "sent":
			res.Sent++
		case "skipped", "duplicate":
			res.Skipped++
		case "error":
			res.Failed++
			if !IsTemplateError(err) {
				res.Retryable++
			}
			slog.ErrorContext(ctx, "expiration notice failed",
				"sweep", sweep, "request_id", req.ID, "user_id", user.ID, "error", err)
		}
	}
}

func (j *ExpirationJob) notifyOne(
	ctx context.Context,
	user store.User,
	build func(store.User, *store.Preference) (Message, bool, error),
) (string, error) {
	pref, err := j.store.GetPreference(ctx, user.ID)
	if err != nil {
		return "error", err
	}
	msg, ok, err := build(user, pref)
	if err != nil {
		return "error", err
	}
	if !ok {
		return "skipped", nil
	}
	sent, err := j.sender.Send(ctx, msg)
	if err != nil {
		return "error", err
	}
	if !sent {
		return "duplicate", nil
	}
	return "sent", nil
}

func logSweep(ctx context.Context, sweep string, res SweepResult) {
	slog.InfoContext(ctx, "expiration sweep complete",
		"sweep", sweep,
		"requests", res.Requests,
		"evaluated", res.Evaluated,
		"sent", res.Sent,
		"skipped", res.Skipped,
		"failed", res.Failed,
	)
}

// ErrSweepIncomplete is returned by RunSweep when some notices failed with
// errors worth retrying.
var ErrSweepIncomplete = errors.New("expiration sweep incomplete")

// RunSweep runs the named sweep and converts retryable per-pair failures
// into an error so the job queue schedules another attempt. Notices already
// sent are skipped on retry by the idempotency key.
func (j *ExpirationJob) RunSweep(ctx context.Context, sweep string) error {
	var (
		res SweepResult
		err error
	)
	switch sweep {
	case SweepUpcoming:
		res, err = j.NotifyUpcoming(ctx)
	case SweepPast:
		res, err = j.NotifyPast(ctx)
	default:
		return fmt.Errorf("unknown sweep %q", sweep)
	}
	if err != nil {
		return err
	}
	if res.Retryable > 0 {
		return fmt.Errorf("%w: %d of %d notices failed", ErrSweepIncomplete, res.Retryable, res.Evaluated)
	}
	return nil
}

// UpcomingExpirationContext builds the template context for an
// upcoming-expiration notice.
func UpcomingExpirationContext(user store.User, req store.AllocationRequest, allocs []store.Allocation, daysLeft int) map[string]any {
	ctx := requestContext(user, req)
	ctx["req_days_left"] = daysLeft
	rows := make([]map[string]any, len(allocs))
	for i, a := range allocs {
		rows[i] = map[string]any{
			"alloc_cluster":   a.ClusterName,
			"alloc_requested": a.Requested,
			"alloc_awarded":   intOrZero(a.Awarded),
		}
	}
	ctx["allocations"] = rows
	return ctx
}

// PastExpirationContext builds the template context for a past-expiration notice.
func PastExpirationContext(user store.User, req store.AllocationRequest, allocs []store.Allocation) map[string]any {
	ctx := requestContext(user, req)
	rows := make([]map[string]any, len(allocs))
	for i, a := range allocs {
		rows[i] = map[string]any{
			"alloc_cluster":   a.ClusterName,
			"alloc_requested": a.Requested,
			"alloc_awarded":   intOrZero(a.Awarded),
			"alloc_final":     intOrZero(a.Final),
		}
	}
	ctx["allocations"] = rows
	return ctx
}

func requestContext(user store.User, req store.AllocationRequest) map[string]any {
	return map[string]any{
		"user_name":     user.Username,
		"user_first":    user.FirstName,
		"user_last":     user.LastName,
		"req_id":        req.ID.String(),
		"req_title":     req.Title,
		"req_team":      req.TeamName,
		"req_active":    dateOrNA(req.Active),
		"req_expire":    dateOrNA(req.Expire),
		"req_submitted": req.Submitted.Format(time.DateOnly),
	}
}

func dateOrNA(t *time.Time) string {
	if t == nil {
		return "N/A"
	}
	return t.Format(time.DateOnly)
}

func intOrZero(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}
