// ABOUTME: Read-only queries over portal entities: users, team membership, allocation requests.
// ABOUTME: These tables belong to the wider portal; the notification sweeps only read them.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Allocation request status codes.
const (
	RequestPending  = "PD"
	RequestApproved = "AP"
	RequestDeclined = "DC"
	RequestChanges  = "CR"
)

// User is the subset of a portal account the notification service needs.
type User struct {
	ID         uuid.UUID
	Username   string
	Email      string
	FirstName  string
	LastName   string
	IsActive   bool
	DateJoined time.Time
}

// AllocationRequest is a read-only view of an allocation request and its owning team.
// Submitted, Active and Expire are calendar dates (midnight UTC).
type AllocationRequest struct {
	ID        uuid.UUID
	Title     string
	TeamID    uuid.UUID
	TeamName  string
	Status    string
	Submitted time.Time
	Active    *time.Time
	Expire    *time.Time
}

// Allocation is one cluster allocation attached to a request.
type Allocation struct {
	ClusterName string
	Requested   int
	Awarded     *int
	Final       *int
}

const requestColumns = `
    r.id, r.title, r.team_id, t.name, r.status, r.submitted, r.active, r.expire`

func scanRequests(rows pgx.Rows) ([]AllocationRequest, error) {
	defer rows.Close()
	var out []AllocationRequest
	for rows.Next() {
		var r AllocationRequest
		if err := rows.Scan(&r.ID, &r.Title, &r.TeamID, &r.TeamName, &r.Status,
			&r.Submitted, &r.Active, &r.Expire); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListApprovedRequestsExpiringAfter returns approved requests whose expiration
// date is strictly after day.
func (s *Store) ListApprovedRequestsExpiringAfter(ctx context.Context, day time.Time) ([]AllocationRequest, error) {
	rows, err := s.pool.Query(ctx, `
SELECT`+requestColumns+`
FROM allocation_requests r
JOIN teams t ON t.id = r.team_id
WHERE r.status = $1 AND r.expire > $2
ORDER BY r.expire, r.id`, RequestApproved, dateOnly(day))
	if err != nil {
		return nil, fmt.Errorf("list requests expiring after %s: %w", day.Format(time.DateOnly), err)
	}
	out, err := scanRequests(rows)
	if err != nil {
		return nil, fmt.Errorf("scan requests: %w", err)
	}
	return out, nil
}

// ListApprovedRequestsExpiredBetween returns approved requests with
// after < expire <= through.
func (s *Store) ListApprovedRequestsExpiredBetween(ctx context.Context, after, through time.Time) ([]AllocationRequest, error) {
	rows, err := s.pool.Query(ctx, `
SELECT`+requestColumns+`
FROM allocation_requests r
JOIN teams t ON t.id = r.team_id
WHERE r.status = $1 AND r.expire > $2 AND r.expire <= $3
ORDER BY r.expire, r.id`, RequestApproved, dateOnly(after), dateOnly(through))
	if err != nil {
		return nil, fmt.Errorf("list requests expired between: %w", err)
	}
	out, err := scanRequests(rows)
	if err != nil {
		return nil, fmt.Errorf("scan requests: %w", err)
	}
	return out, nil
}

// ListActiveTeamMembers returns every active user belonging to teamID.
func (s *Store) ListActiveTeamMembers(ctx context.Context, teamID uuid.UUID) ([]User, error) {
	rows, err := s.pool.Query(ctx, `
SELECT u.id, u.username, u.email, u.first_name, u.last_name, u.is_active, u.date_joined
FROM team_members m
JOIN users u ON u.id = m.user_id
WHERE m.team_id = $1 AND u.is_active
ORDER BY u.username`, teamID)
	if err != nil {
		return nil, fmt.Errorf("list team members: %w", err)
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Username, &u.Email, &u.FirstName, &u.LastName, &u.IsActive, &u.DateJoined); err != nil {
			return nil, fmt.Errorf("scan team member: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// ListAllocations returns the cluster allocations attached to requestID.
func (s *Store) ListAllocations(ctx context.Context, requestID uuid.UUID) ([]Allocation, error) {
	rows, err := s.pool.Query(ctx, `
SELECT c.name, a.requested, a.awarded, a.final
FROM allocations a
JOIN clusters c ON c.id = a.cluster_id
WHERE a.request_id = $1
ORDER BY c.name`, requestID)
	if err != nil {
		return nil, fmt.Errorf("list allocations: %w", err)
	}
	defer rows.Close()

	var out []Allocation
	for rows.Next() {
		var (
			a              Allocation
			requested      int32
			awarded, final *int32
		)
		if err := rows.Scan(&a.ClusterName, &requested, &awarded, &final); err != nil {
			return nil, fmt.Errorf("scan allocation: %w", err)
		}
		a.Requested = int(requested)
		a.Awarded = intPtr(awarded)
		a.Final = intPtr(final)
		out = append(out, a)
	}
	return out, rows.Err()
}

// GetUser returns the user with the given ID, or nil if none exists.
func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	var u User
	err := s.pool.QueryRow(ctx, `
SELECT id, username, email, first_name, last_name, is_active, date_joined
FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Username, &u.Email, &u.FirstName, &u.LastName, &u.IsActive, &u.DateJoined)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}
	return &u, nil
}

// dateOnly strips the clock from t so it binds cleanly to a date column.
func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func intPtr(v *int32) *int {
	if v == nil {
		return nil
	}
	n := int(*v)
	return &n
}
