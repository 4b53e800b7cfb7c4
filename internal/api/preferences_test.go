// ABOUTME: Integration tests for the preference endpoints: defaults, partial update, validation.
// ABOUTME: Uses real Postgres via testutil.NewTestDB and the full srv.Handler() stack.
package api

import (
	"encoding/json"
	"net/http"
	"slices"
	"testing"

	"github.com/keystone-hpc/keystone/internal/testutil"
)

func decodePreference(t *testing.T, resp *http.Response) PreferenceBody {
	t.Helper()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var p PreferenceBody
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return p
}

func TestPreferences(t *testing.T) {
	t.Parallel()
	ts, db := newTestServer(t)
	alice := db.CreateUser(t, "alice", testutil.Day(2020, 1, 1))
	tok := tokenFor(t, alice.ID)

	p := decodePreference(t, doJSON(t, ts, http.MethodGet, "/api/v1/preferences", tok, ""))
	if !slices.Equal(p.RequestExpiryThresholds, []int{30, 14}) || !p.NotifyOnExpiration {
		t.Errorf("defaults = %+v", p)
	}

	p = decodePreference(t, doJSON(t, ts, http.MethodPatch, "/api/v1/preferences", tok,
		`{"request_expiry_thresholds":[60,7]}`))
	if !slices.Equal(p.RequestExpiryThresholds, []int{60, 7}) || !p.NotifyOnExpiration {
		t.Errorf("after threshold update = %+v", p)
	}

	p = decodePreference(t, doJSON(t, ts, http.MethodPatch, "/api/v1/preferences", tok,
		`{"notify_on_expiration":false}`))
	if !slices.Equal(p.RequestExpiryThresholds, []int{60, 7}) || p.NotifyOnExpiration {
		t.Errorf("after flag update = %+v", p)
	}

	p = decodePreference(t, doJSON(t, ts, http.MethodPatch, "/api/v1/preferences", tok,
		`{"request_expiry_thresholds":[]}`))
	if len(p.RequestExpiryThresholds) != 0 {
		t.Errorf("cleared thresholds = %v", p.RequestExpiryThresholds)
	}

	resp := doJSON(t, ts, http.MethodPatch, "/api/v1/preferences", tok, `{"request_expiry_thresholds":[14,-1]}`)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("negative threshold status = %d, want 422", resp.StatusCode)
	}

	p = decodePreference(t, doJSON(t, ts, http.MethodGet, "/api/v1/preferences", tok, ""))
	if len(p.RequestExpiryThresholds) != 0 || p.NotifyOnExpiration {
		t.Errorf("rejected update changed state: %+v", p)
	}
}
