// ABOUTME: Request context key types and constants for the api package.
// ABOUTME: Used by the auth middleware to inject the caller and by handlers to read it.
package api

import (
	"context"

	"github.com/google/uuid"
)

type contextKey int

const (
	ctxUserID contextKey = iota // uuid.UUID: authenticated user
)

// userIDFrom returns the authenticated user injected by requireUser.
func userIDFrom(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(ctxUserID).(uuid.UUID)
	return id, ok
}
