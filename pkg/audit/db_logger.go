package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/bizkhata/bizkhata/pkg/contextkeys"
)

// DBLogger writes audit events to the audit_logs table. The table itself is
// owned by the migration set.
type DBLogger struct {
	db *sql.DB
}

// NewDBLogger creates a database-backed audit logger.
func NewDBLogger(db *sql.DB) (*DBLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	return &DBLogger{db: db}, nil
}

// Log inserts an event row.
func (l *DBLogger) Log(ctx context.Context, event *Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.RequestID == "" {
		event.RequestID = contextkeys.GetRequestID(ctx)
	}

	var metadataJSON []byte
	if event.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}

	err := l.db.QueryRowContext(ctx, `
		INSERT INTO audit_logs (
			timestamp, event_type, status,
			user_id, tenant_id,
			resource_type, resource_id,
			ip_address, user_agent, request_id, method, path,
			message, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id
	`,
		event.Timestamp, event.EventType, event.Status,
		event.UserID, event.TenantID,
		nullIfEmpty(string(event.ResourceType)), nullIfEmpty(event.ResourceID),
		nullIfEmpty(event.IPAddress), nullIfEmpty(event.UserAgent), nullIfEmpty(event.RequestID),
		nullIfEmpty(event.Method), nullIfEmpty(event.Path),
		nullIfEmpty(event.Message), metadataJSON,
	).Scan(&event.ID)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// LogAuthentication records a login/logout outcome.
func (l *DBLogger) LogAuthentication(ctx context.Context, eventType EventType, userID *int64, tenantID *int64, status EventStatus, message string) error {
	return l.Log(ctx, &Event{
		EventType:    eventType,
		Status:       status,
		UserID:       userID,
		TenantID:     tenantID,
		ResourceType: ResourceTypeSession,
		Message:      message,
	})
}

// LogDenial records an authorization denial with the request context attached.
func (l *DBLogger) LogDenial(ctx context.Context, r *http.Request, userID *int64, tenantID *int64, message string) error {
	event := &Event{
		EventType: EventTypeAuthzAccessDenied,
		Status:    EventStatusDenied,
		UserID:    userID,
		TenantID:  tenantID,
		Message:   message,
	}
	if r != nil {
		event.IPAddress = clientIP(r)
		event.UserAgent = r.UserAgent()
		event.Method = r.Method
		event.Path = r.URL.Path
	}
	return l.Log(ctx, event)
}

// LogMutation records a role/user/area mutation.
func (l *DBLogger) LogMutation(ctx context.Context, eventType EventType, userID *int64, tenantID *int64, resourceType ResourceType, resourceID string, message string) error {
	return l.Log(ctx, &Event{
		EventType:    eventType,
		Status:       EventStatusSuccess,
		UserID:       userID,
		TenantID:     tenantID,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Message:      message,
	})
}

// Close is a no-op; the caller owns the database handle.
func (l *DBLogger) Close() error { return nil }

// clientIP extracts the originating client address, preferring proxy headers.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	if real := r.Header.Get("X-Real-IP"); real != "" {
		return real
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
