package auth

import (
	"context"
	"time"
)

// EventType names a security-relevant auth occurrence.
type EventType string

// Auth event types.
const (
	EventRegistered      EventType = "registered"
	EventLogin           EventType = "login"
	EventLoginFailed     EventType = "login_failed"
	EventRefresh         EventType = "refresh"
	EventRefreshReuse    EventType = "refresh_reuse"
	EventLogout          EventType = "logout"
	EventPasswordChanged EventType = "password_changed"
	EventDeactivated     EventType = "deactivated"
	EventReactivated     EventType = "reactivated"
	EventSessionRevoked  EventType = "session_revoked"
)

// Event describes one auth occurrence. It never carries token material.
type Event struct {
	Type      EventType
	UserID    string
	SessionID string
	IP        string
	Details   map[string]any
	At        time.Time
}

// EventSink receives auth events. Implementations must not block auth flows
// for long and must swallow their own failures.
type EventSink interface {
	Emit(ctx context.Context, e Event)
}

// NopSink discards events.
type NopSink struct{}

// Emit implements EventSink.
func (NopSink) Emit(context.Context, Event) {}
