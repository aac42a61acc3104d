// Package audit records security-relevant events: logins, authorization
// denials, role and permission mutations. Events are written best-effort; an
// audit failure never fails the request that produced it.
package audit

import (
	"context"
	"net/http"
	"time"

	"github.com/bizkhata/bizkhata/pkg/contextkeys"
)

// EventType categorizes an audit event.
type EventType string

const (
	// Authentication events
	EventTypeAuthLogin       EventType = "auth.login"
	EventTypeAuthLogout      EventType = "auth.logout"
	EventTypeAuthLoginFailed EventType = "auth.login_failed"

	// Authorization events
	EventTypeAuthzAccessDenied EventType = "authz.access_denied"
	EventTypeAuthzRoleChange   EventType = "authz.role_change"

	// Role mutation events
	EventTypeRoleCreate      EventType = "role.create"
	EventTypeRoleUpdate      EventType = "role.update"
	EventTypeRoleDelete      EventType = "role.delete"
	EventTypeRoleForceDelete EventType = "role.force_delete"
	EventTypePermissionSync  EventType = "role.permission_sync"

	// User and area events
	EventTypeUserCreate      EventType = "user.create"
	EventTypeUserUpdate      EventType = "user.update"
	EventTypeUserDelete      EventType = "user.delete"
	EventTypeAreaCreate      EventType = "area.create"
	EventTypeAreaAssign      EventType = "area.assign"
	EventTypeAreaUnassign    EventType = "area.unassign"
	EventTypeTenantProvision EventType = "tenant.provision"
)

// EventStatus is the outcome of an event.
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// ResourceType identifies what kind of resource an event concerns.
type ResourceType string

const (
	ResourceTypeRole       ResourceType = "role"
	ResourceTypeUser       ResourceType = "user"
	ResourceTypeArea       ResourceType = "area"
	ResourceTypeTenant     ResourceType = "tenant"
	ResourceTypePermission ResourceType = "permission"
	ResourceTypeSession    ResourceType = "session"
)

// Event is a single audit log entry.
type Event struct {
	ID        int64       `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	UserID   *int64 `json:"user_id,omitempty"`
	TenantID *int64 `json:"tenant_id,omitempty"`

	ResourceType ResourceType `json:"resource_type,omitempty"`
	ResourceID   string       `json:"resource_id,omitempty"`

	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	Method    string `json:"method,omitempty"`
	Path      string `json:"path,omitempty"`

	Message  string                 `json:"message,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Logger is the interface for audit sinks.
type Logger interface {
	// Log records a fully-formed event.
	Log(ctx context.Context, event *Event) error

	// LogAuthentication records a login/logout outcome.
	LogAuthentication(ctx context.Context, eventType EventType, userID *int64, tenantID *int64, status EventStatus, message string) error

	// LogDenial records an authorization denial for a request.
	LogDenial(ctx context.Context, r *http.Request, userID *int64, tenantID *int64, message string) error

	// LogMutation records a role/user/area mutation.
	LogMutation(ctx context.Context, eventType EventType, userID *int64, tenantID *int64, resourceType ResourceType, resourceID string, message string) error

	// Close flushes and releases the sink.
	Close() error
}

// WithLogger adds an audit logger to the context.
func WithLogger(ctx context.Context, logger Logger) context.Context {
	return contextkeys.WithAuditLogger(ctx, logger)
}

// FromContext retrieves the audit logger from context, or a no-op sink.
func FromContext(ctx context.Context) Logger {
	if logger, ok := ctx.Value(contextkeys.AuditLoggerKey).(Logger); ok {
		return logger
	}
	return &noOpLogger{}
}

type noOpLogger struct{}

func (l *noOpLogger) Log(ctx context.Context, event *Event) error { return nil }

func (l *noOpLogger) LogAuthentication(ctx context.Context, eventType EventType, userID *int64, tenantID *int64, status EventStatus, message string) error {
	return nil
}

func (l *noOpLogger) LogDenial(ctx context.Context, r *http.Request, userID *int64, tenantID *int64, message string) error {
	return nil
}

func (l *noOpLogger) LogMutation(ctx context.Context, eventType EventType, userID *int64, tenantID *int64, resourceType ResourceType, resourceID string, message string) error {
	return nil
}

func (l *noOpLogger) Close() error { return nil }

// NopLogger returns a Logger that discards all events.
func NopLogger() Logger { return &noOpLogger{} }
