// ABOUTME: Fixture inserts for portal tables (users, teams, requests, allocations).
// ABOUTME: Production code never writes these; tests need them to drive the sweeps and API.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/keystone-hpc/keystone/internal/store"
)

// Day returns midnight UTC on the given date.
func Day(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// CreateUser inserts an active user and returns it.
func (db *TestDB) CreateUser(t *testing.T, username string, joined time.Time) store.User {
	t.Helper()
	u := store.User{
		Username:   username,
		Email:      username + "@example.com",
		FirstName:  "First " + username,
		LastName:   "Last " + username,
		IsActive:   true,
		DateJoined: joined,
	}
	err := db.Pool().QueryRow(context.Background(), `
INSERT INTO users (username, email, first_name, last_name, is_active, date_joined)
VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		u.Username, u.Email, u.FirstName, u.LastName, u.IsActive, u.DateJoined).Scan(&u.ID)
	if err != nil {
		t.Fatalf("insert user %s: %v", username, err)
	}
	return u
}

// DeactivateUser clears the is_active flag.
func (db *TestDB) DeactivateUser(t *testing.T, id uuid.UUID) {
	t.Helper()
	if _, err := db.Pool().Exec(context.Background(),
		`UPDATE users SET is_active = false WHERE id = $1`, id); err != nil {
		t.Fatalf("deactivate user: %v", err)
	}
}

// CreateTeam inserts a team and adds members with the "member" role.
func (db *TestDB) CreateTeam(t *testing.T, name string, members ...store.User) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	var id uuid.UUID
	if err := db.Pool().QueryRow(ctx,
		`INSERT INTO teams (name) VALUES ($1) RETURNING id`, name).Scan(&id); err != nil {
		t.Fatalf("insert team %s: %v", name, err)
	}
	for _, m := range members {
		if _, err := db.Pool().Exec(ctx,
			`INSERT INTO team_members (team_id, user_id) VALUES ($1, $2)`, id, m.ID); err != nil {
			t.Fatalf("insert team member: %v", err)
		}
	}
	return id
}

// RequestFixture describes an allocation request row.
type RequestFixture struct {
	Title     string
	TeamID    uuid.UUID
	Status    string
	Submitted time.Time
	Active    *time.Time
	Expire    *time.Time
}

// CreateRequest inserts an allocation request. Status defaults to approved.
func (db *TestDB) CreateRequest(t *testing.T, f RequestFixture) uuid.UUID {
	t.Helper()
	if f.Status == "" {
		f.Status = store.RequestApproved
	}
	if f.Submitted.IsZero() {
		f.Submitted = Day(2020, time.January, 1)
	}
	var id uuid.UUID
	err := db.Pool().QueryRow(context.Background(), `
INSERT INTO allocation_requests (title, team_id, status, submitted, active, expire)
VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		f.Title, f.TeamID, f.Status, f.Submitted, f.Active, f.Expire).Scan(&id)
	if err != nil {
		t.Fatalf("insert request %s: %v", f.Title, err)
	}
	return id
}

// CreateAllocation attaches an allocation on clusterName to requestID,
// creating the cluster if needed.
func (db *TestDB) CreateAllocation(t *testing.T, requestID uuid.UUID, clusterName string, requested int, awarded, final *int) {
	t.Helper()
	ctx := context.Background()
	var clusterID uuid.UUID
	err := db.Pool().QueryRow(ctx, `
INSERT INTO clusters (name) VALUES ($1)
ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
RETURNING id`, clusterName).Scan(&clusterID)
	if err != nil {
		t.Fatalf("insert cluster %s: %v", clusterName, err)
	}
	if _, err := db.Pool().Exec(ctx, `
INSERT INTO allocations (request_id, cluster_id, requested, awarded, final)
VALUES ($1, $2, $3, $4, $5)`, requestID, clusterID, requested, awarded, final); err != nil {
		t.Fatalf("insert allocation: %v", err)
	}
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T { return &v }
