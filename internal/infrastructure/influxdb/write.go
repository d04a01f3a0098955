package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// AuthActivityMeasurement is the measurement auth events are written to.
const AuthActivityMeasurement = "auth_activity"

// AuthActivity describes one auth event as a time-series point.
// Tags stay low cardinality; the user ID is a field, not a tag.
type AuthActivity struct {
	Event   string
	Outcome string // "success" or "failure"
	Role    string
	UserID  string
	At      time.Time
}

// WriteAuthActivity records one auth event. The write is non-blocking;
// points are batched and sent asynchronously.
func (c *Client) WriteAuthActivity(a AuthActivity) {
	if !c.IsConnected() {
		return
	}
	c.writer.WritePoint(authActivityPoint(a))
}

func authActivityPoint(a AuthActivity) *write.Point {
	tags := map[string]string{"event": a.Event}
	if a.Outcome != "" {
		tags["outcome"] = a.Outcome
	}
	if a.Role != "" {
		tags["role"] = a.Role
	}

	fields := map[string]any{"count": 1}
	if a.UserID != "" {
		fields["user_id"] = a.UserID
	}

	at := a.At
	if at.IsZero() {
		at = time.Now()
	}
	return write.NewPoint(AuthActivityMeasurement, tags, fields, at)
}
