package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/keystone-hpc/keystone/internal/store"
)

// registerNotificationRoutes wires the notification endpoints. Every route
// except the type listing is scoped to the authenticated user.
//
//	GET   /notifications
//	GET   /notifications/{id}
//	PATCH /notifications/{id}
//	GET   /notification-types
func registerNotificationRoutes(api huma.API, srv *Server) {
	authed := huma.Middlewares{srv.requireUser(api)}
	security := []map[string][]string{{bearerScheme: {}}}

	huma.Register(api, huma.Operation{
		OperationID: "list-notifications",
		Method:      http.MethodGet,
		Path:        "/notifications",
		Summary:     "List notifications",
		Description: "Returns the caller's notifications, newest first.",
		Tags:        []string{"Notifications"},
		Security:    security,
		Middlewares: authed,
	}, srv.listNotificationsHandler)

	huma.Register(api, huma.Operation{
		OperationID: "get-notification",
		Method:      http.MethodGet,
		Path:        "/notifications/{id}",
		Summary:     "Get notification",
		Tags:        []string{"Notifications"},
		Security:    security,
		Middlewares: authed,
	}, srv.getNotificationHandler)

	huma.Register(api, huma.Operation{
		OperationID: "update-notification",
		Method:      http.MethodPatch,
		Path:        "/notifications/{id}",
		Summary:     "Mark notification read or unread",
		Description: "Only the read flag can be changed.",
		Tags:        []string{"Notifications"},
		Security:    security,
		Middlewares: authed,
	}, srv.updateNotificationHandler)

	huma.Register(api, huma.Operation{
		OperationID: "list-notification-types",
		Method:      http.MethodGet,
		Path:        "/notification-types",
		Summary:     "List notification types",
		Tags:        []string{"Notifications"},
	}, listNotificationTypesHandler)
}

// ── Response types ────────────────────────────────────────────────────────────

// NotificationItem is the API representation of a notification.
type NotificationItem struct {
	ID           string         `json:"id"`
	Type         string         `json:"notification_type" enum:"GM,RE,RD"`
	Subject      string         `json:"subject"`
	Message      string         `json:"message" doc:"Sanitized HTML body"`
	Metadata     map[string]any `json:"metadata"`
	RequestID    *string        `json:"request_id,omitempty"`
	Threshold    *int           `json:"threshold,omitempty"`
	DaysToExpire *int           `json:"days_to_expire,omitempty"`
	Read         bool           `json:"read"`
	CreatedAt    string         `json:"created_at"` // RFC3339
}

func notificationToItem(n *store.Notification) NotificationItem {
	item := NotificationItem{
		ID:           n.ID.String(),
		Type:         string(n.Type),
		Subject:      n.Subject,
		Message:      n.Message,
		Threshold:    n.Threshold,
		DaysToExpire: n.DaysToExpire,
		Read:         n.Read,
		CreatedAt:    n.CreatedAt.UTC().Format(time.RFC3339),
	}
	if n.RequestID != nil {
		s := n.RequestID.String()
		item.RequestID = &s
	}
	if err := json.Unmarshal(n.Metadata, &item.Metadata); err != nil || item.Metadata == nil {
		item.Metadata = map[string]any{}
	}
	return item
}

// ── GET /notifications ────────────────────────────────────────────────────────

// ListNotificationsInput defines query parameters for the notification list.
type ListNotificationsInput struct {
	Read   string `query:"read" enum:"true,false" doc:"Filter by read state"`
	Type   string `query:"notification_type" enum:"GM,RE,RD" doc:"Filter by notification type"`
	Limit  int    `query:"limit" minimum:"1" maximum:"100" default:"50" doc:"Page size (max 100)"`
	Offset int    `query:"offset" minimum:"0" default:"0" doc:"Rows to skip"`
}

// ListNotificationsOutput is the response for GET /notifications.
type ListNotificationsOutput struct {
	Body struct {
		Items []NotificationItem `json:"items"`
	}
}

func (srv *Server) listNotificationsHandler(ctx context.Context, input *ListNotificationsInput) (*ListNotificationsOutput, error) {
	userID, ok := userIDFrom(ctx)
	if !ok {
		return nil, huma.Error401Unauthorized("authentication required")
	}

	p := store.ListNotificationsParams{
		Type:   store.NotificationType(input.Type),
		Limit:  input.Limit,
		Offset: input.Offset,
	}
	if input.Read != "" {
		read, err := strconv.ParseBool(input.Read)
		if err != nil {
			return nil, huma.Error400BadRequest("invalid read filter")
		}
		p.Read = &read
	}

	rows, err := srv.store.ListNotifications(ctx, userID, p)
	if err != nil {
		slog.ErrorContext(ctx, "list notifications", "user_id", userID, "error", err)
		return nil, huma.Error500InternalServerError("internal error")
	}

	out := &ListNotificationsOutput{}
	out.Body.Items = make([]NotificationItem, 0, len(rows))
	for i := range rows {
		out.Body.Items = append(out.Body.Items, notificationToItem(&rows[i]))
	}
	return out, nil
}

// ── GET /notifications/{id} ───────────────────────────────────────────────────

// NotificationPathInput identifies a notification by ID.
type NotificationPathInput struct {
	ID string `path:"id" doc:"Notification UUID"`
}

// NotificationOutput wraps a single notification.
type NotificationOutput struct {
	Body NotificationItem
}

func (srv *Server) getNotificationHandler(ctx context.Context, input *NotificationPathInput) (*NotificationOutput, error) {
	userID, ok := userIDFrom(ctx)
	if !ok {
		return nil, huma.Error401Unauthorized("authentication required")
	}
	id, err := uuid.Parse(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid notification id")
	}

	n, err := srv.store.GetNotification(ctx, userID, id)
	if err != nil {
		slog.ErrorContext(ctx, "get notification", "notification_id", id, "error", err)
		return nil, huma.Error500InternalServerError("internal error")
	}
	if n == nil {
		return nil, huma.Error404NotFound("notification not found")
	}
	return &NotificationOutput{Body: notificationToItem(n)}, nil
}

// ── PATCH /notifications/{id} ─────────────────────────────────────────────────

// UpdateNotificationInput carries the read flag. Unknown fields are rejected.
type UpdateNotificationInput struct {
	ID   string `path:"id" doc:"Notification UUID"`
	Body struct {
		Read bool `json:"read" required:"true" doc:"New read state"`
	}
}

func (srv *Server) updateNotificationHandler(ctx context.Context, input *UpdateNotificationInput) (*NotificationOutput, error) {
	userID, ok := userIDFrom(ctx)
	if !ok {
		return nil, huma.Error401Unauthorized("authentication required")
	}
	id, err := uuid.Parse(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid notification id")
	}

	n, err := srv.store.SetNotificationRead(ctx, userID, id, input.Body.Read)
	if err != nil {
		slog.ErrorContext(ctx, "update notification", "notification_id", id, "error", err)
		return nil, huma.Error500InternalServerError("internal error")
	}
	if n == nil {
		return nil, huma.Error404NotFound("notification not found")
	}
	return &NotificationOutput{Body: notificationToItem(n)}, nil
}

// ── GET /notification-types ───────────────────────────────────────────────────

// NotificationTypeItem is one selectable notification type.
type NotificationTypeItem struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// NotificationTypesOutput lists every notification type.
type NotificationTypesOutput struct {
	Body []NotificationTypeItem
}

func listNotificationTypesHandler(_ context.Context, _ *struct{}) (*NotificationTypesOutput, error) {
	out := &NotificationTypesOutput{Body: make([]NotificationTypeItem, 0, len(store.NotificationTypes))}
	for _, t := range store.NotificationTypes {
		out.Body = append(out.Body, NotificationTypeItem{Value: string(t), Label: t.Label()})
	}
	return out, nil
}
