package mqtt

import (
	"encoding/json"
	"time"
)

const (
	statusOnline  = "online"
	statusOffline = "offline"

	reasonShutdown   = "shutdown"
	reasonUnexpected = "unexpected_disconnect"
)

// statusMessage is the retained payload on <prefix>/status.
type statusMessage struct {
	Status    string `json:"status"`
	ClientID  string `json:"client_id"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

func statusPayload(clientID, status, reason string) []byte {
	// Only string fields, so Marshal cannot fail.
	b, _ := json.Marshal(statusMessage{
		Status:    status,
		ClientID:  clientID,
		Reason:    reason,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	return b
}

// publishStatus is fire-and-forget; a lost status update is corrected by the
// next connect or by the broker's last will.
func (c *Client) publishStatus(status, reason string) {
	token := c.paho.Publish(c.topics.Status(), 1, true, statusPayload(c.cfg.Broker.ClientID, status, reason))
	token.WaitTimeout(publishTimeout)
}
