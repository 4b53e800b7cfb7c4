package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/keystone-hpc/keystone/internal/store"
)

// registerPreferenceRoutes wires the caller's notification preference endpoints.
//
//	GET   /preferences
//	PATCH /preferences
func registerPreferenceRoutes(api huma.API, srv *Server) {
	authed := huma.Middlewares{srv.requireUser(api)}
	security := []map[string][]string{{bearerScheme: {}}}

	huma.Register(api, huma.Operation{
		OperationID: "get-preferences",
		Method:      http.MethodGet,
		Path:        "/preferences",
		Summary:     "Get notification preferences",
		Description: "Returns the caller's preferences, creating the defaults on first access.",
		Tags:        []string{"Preferences"},
		Security:    security,
		Middlewares: authed,
	}, srv.getPreferencesHandler)

	huma.Register(api, huma.Operation{
		OperationID: "update-preferences",
		Method:      http.MethodPatch,
		Path:        "/preferences",
		Summary:     "Update notification preferences",
		Description: "Omitted fields keep their current value.",
		Tags:        []string{"Preferences"},
		Security:    security,
		Middlewares: authed,
	}, srv.updatePreferencesHandler)
}

// PreferenceBody is the API representation of a notification preference.
type PreferenceBody struct {
	RequestExpiryThresholds []int `json:"request_expiry_thresholds" doc:"Days before expiration at which to warn"`
	NotifyOnExpiration      bool  `json:"notify_on_expiration" doc:"Send a notice once a request has expired"`
}

// PreferenceOutput wraps a preference.
type PreferenceOutput struct {
	Body PreferenceBody
}

func preferenceToOutput(p *store.Preference) *PreferenceOutput {
	thresholds := p.RequestExpiryThresholds
	if thresholds == nil {
		thresholds = []int{} // never return null for arrays in JSON
	}
	return &PreferenceOutput{Body: PreferenceBody{
		RequestExpiryThresholds: thresholds,
		NotifyOnExpiration:      p.NotifyOnExpiration,
	}}
}

func (srv *Server) getPreferencesHandler(ctx context.Context, _ *struct{}) (*PreferenceOutput, error) {
	userID, ok := userIDFrom(ctx)
	if !ok {
		return nil, huma.Error401Unauthorized("authentication required")
	}
	p, err := srv.store.GetPreference(ctx, userID)
	if err != nil {
		slog.ErrorContext(ctx, "get preferences", "user_id", userID, "error", err)
		return nil, huma.Error500InternalServerError("internal error")
	}
	return preferenceToOutput(p), nil
}

// UpdatePreferencesInput is a partial preference update.
type UpdatePreferencesInput struct {
	Body struct {
		RequestExpiryThresholds []int `json:"request_expiry_thresholds,omitempty" maxItems:"10"`
		NotifyOnExpiration      *bool `json:"notify_on_expiration,omitempty"`
	}
}

func (srv *Server) updatePreferencesHandler(ctx context.Context, input *UpdatePreferencesInput) (*PreferenceOutput, error) {
	userID, ok := userIDFrom(ctx)
	if !ok {
		return nil, huma.Error401Unauthorized("authentication required")
	}

	p, err := srv.store.UpdatePreference(ctx, userID, store.UpdatePreferenceParams{
		RequestExpiryThresholds: input.Body.RequestExpiryThresholds,
		SetThresholds:           input.Body.RequestExpiryThresholds != nil,
		NotifyOnExpiration:      input.Body.NotifyOnExpiration,
	})
	if errors.Is(err, store.ErrNegativeThreshold) {
		return nil, huma.Error422UnprocessableEntity(err.Error())
	}
	if err != nil {
		slog.ErrorContext(ctx, "update preferences", "user_id", userID, "error", err)
		return nil, huma.Error500InternalServerError("internal error")
	}
	return preferenceToOutput(p), nil
}
