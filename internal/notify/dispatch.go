// ABOUTME: Dispatcher renders a template, records the notification and mails it in one transaction.
// ABOUTME: The idempotency key makes repeated or concurrent dispatches of the same notice a no-op.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/keystone-hpc/keystone/internal/store"
)

// NotificationIssuer persists a notification and runs deliver before committing.
type NotificationIssuer interface {
	IssueNotification(
		ctx context.Context,
		p store.CreateNotificationParams,
		deliver func(context.Context, *store.Notification) error,
	) (*store.Notification, error)
}

// Message is one templated notice for one user.
type Message struct {
	User     store.User
	Type     store.NotificationType
	Subject  string
	Template string
	Context  map[string]any
	Metadata map[string]any

	// Idempotency key parts beyond user and type. RequestID nil disables the key.
	RequestID    *uuid.UUID
	Threshold    *int
	DaysToExpire *int
}

// Dispatcher delivers Messages.
type Dispatcher struct {
	issuer  NotificationIssuer
	mailer  Mailer
	loader  *TemplateLoader
	limiter *rate.Limiter
}

// NewDispatcher creates a Dispatcher. A nil limiter disables throttling.
func NewDispatcher(issuer NotificationIssuer, mailer Mailer, loader *TemplateLoader, limiter *rate.Limiter) *Dispatcher {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 0)
	}
	return &Dispatcher{issuer: issuer, mailer: mailer, loader: loader, limiter: limiter}
}

// Send renders msg, inserts the notification row and mails it. The row
// commits only if the mail was accepted. It returns false with a nil error
// when an identical notice was already issued.
func (d *Dispatcher) Send(ctx context.Context, msg Message) (bool, error) {
	typ := string(msg.Type)

	tmpl, err := d.loader.GetTemplate(msg.Template)
	if err != nil {
		notificationsFailed.WithLabelValues(typ, "render").Inc()
		return false, err
	}
	html, text, err := FormatTemplate(tmpl, msg.Context)
	if err != nil {
		notificationsFailed.WithLabelValues(typ, "render").Inc()
		return false, err
	}

	subject := sanitizeSubject(msg.Subject)
	n, err := d.issuer.IssueNotification(ctx, store.CreateNotificationParams{
		UserID:       msg.User.ID,
		Type:         msg.Type,
		Subject:      subject,
		Message:      html,
		Metadata:     msg.Metadata,
		RequestID:    msg.RequestID,
		Threshold:    msg.Threshold,
		DaysToExpire: msg.DaysToExpire,
	}, func(ctx context.Context, _ *store.Notification) error {
		if err := d.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("mail rate limit: %w", err)
		}
		return d.mailer.Send(ctx, Email{
			To:      []string{msg.User.Email},
			Subject: subject,
			HTML:    html,
			Text:    text,
		})
	})
	if err != nil {
		notificationsFailed.WithLabelValues(typ, "send").Inc()
		return false, err
	}
	if n == nil {
		notificationsDuplicate.WithLabelValues(typ).Inc()
		slog.DebugContext(ctx, "notification already issued",
			"user_id", msg.User.ID, "type", typ, "request_id", msg.RequestID)
		return false, nil
	}

	notificationsSent.WithLabelValues(typ).Inc()
	slog.InfoContext(ctx, "notification sent",
		"notification_id", n.ID, "user_id", msg.User.ID, "type", typ)
	return true, nil
}

// IsTemplateError reports whether err is a rendering failure that will
// recur on retry with the same inputs.
func IsTemplateError(err error) bool {
	return errors.Is(err, ErrTemplateNotFound) ||
		errors.Is(err, ErrTemplatePermission) ||
		errors.Is(err, ErrUndefinedVariable) ||
		errors.Is(err, ErrEmptyTemplate) ||
		errors.Is(err, ErrSandboxViolation)
}
