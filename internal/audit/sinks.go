package audit

import (
	"context"
	"time"

	"github.com/nerrad567/dispatch-auth/internal/auth"
	"github.com/nerrad567/dispatch-auth/internal/infrastructure/influxdb"
	"github.com/nerrad567/dispatch-auth/internal/infrastructure/logging"
	"github.com/nerrad567/dispatch-auth/internal/infrastructure/mqtt"
)

// EventPublisher is the subset of the MQTT client used by MQTTSink.
type EventPublisher interface {
	PublishJSON(topic string, v any) error
	Topics() mqtt.Topics
}

// EventMessage is the JSON payload published for each auth event.
type EventMessage struct {
	Type      string         `json:"type"`
	UserID    string         `json:"userId,omitempty"`
	SessionID string         `json:"sessionId,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// MQTTSink publishes auth events to <prefix>/events/<type>. Subscribers use
// session_revoked, password_changed and deactivated to drop cached sessions.
// Publishing blocks until the broker acknowledges, so wrap it in an Async.
type MQTTSink struct {
	pub    EventPublisher
	logger *logging.Logger
}

// NewMQTTSink creates an MQTTSink.
func NewMQTTSink(pub EventPublisher, logger *logging.Logger) *MQTTSink {
	if logger == nil {
		logger = logging.Discard()
	}
	return &MQTTSink{pub: pub, logger: logger}
}

// Emit implements auth.EventSink.
func (s *MQTTSink) Emit(_ context.Context, e auth.Event) {
	msg := EventMessage{
		Type:      string(e.Type),
		UserID:    e.UserID,
		SessionID: e.SessionID,
		Details:   publicDetails(e.Details),
		Timestamp: e.At.UTC(),
	}
	topic := s.pub.Topics().AuthEvent(string(e.Type))
	if err := s.pub.PublishJSON(topic, msg); err != nil {
		s.logger.Warn("publishing auth event failed",
			"topic", topic,
			"error", err,
		)
	}
}

// publicDetails drops attributes that identify a person before broadcast.
func publicDetails(details map[string]any) map[string]any {
	if len(details) == 0 {
		return nil
	}
	out := make(map[string]any, len(details))
	for k, v := range details {
		if k == "email" {
			continue
		}
		out[k] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// ActivityWriter is the subset of the InfluxDB client used by InfluxSink.
type ActivityWriter interface {
	WriteAuthActivity(a influxdb.AuthActivity)
}

// InfluxSink records one auth_activity point per event. Writes are batched
// by the client, so Emit never blocks.
type InfluxSink struct {
	w ActivityWriter
}

// NewInfluxSink creates an InfluxSink.
func NewInfluxSink(w ActivityWriter) *InfluxSink {
	return &InfluxSink{w: w}
}

// Emit implements auth.EventSink.
func (s *InfluxSink) Emit(_ context.Context, e auth.Event) {
	a := influxdb.AuthActivity{
		Event:   string(e.Type),
		Outcome: Outcome(e.Type),
		UserID:  e.UserID,
		At:      e.At,
	}
	if role, ok := e.Details["role"].(string); ok {
		a.Role = role
	}
	s.w.WriteAuthActivity(a)
}

// Outcome classifies an event type as "success" or "failure".
func Outcome(t auth.EventType) string {
	switch t {
	case auth.EventLoginFailed, auth.EventRefreshReuse:
		return "failure"
	default:
		return "success"
	}
}
