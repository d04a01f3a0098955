package mqtt

import "strings"

// DefaultTopicPrefix is used when the configured prefix is empty.
const DefaultTopicPrefix = "dispatch/auth"

// Topics builds the MQTT topics the auth service publishes to.
//
//	topics := mqtt.NewTopics("dispatch/auth")
//	topics.AuthEvent("logout") // "dispatch/auth/events/logout"
type Topics struct {
	prefix string
}

// NewTopics creates a topic builder rooted at prefix.
func NewTopics(prefix string) Topics {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{prefix: prefix}
}

// Prefix returns the root of the topic tree.
func (t Topics) Prefix() string {
	return t.prefix
}

// AuthEvent returns the topic for one auth event type.
//
// Example: dispatch/auth/events/password_changed
func (t Topics) AuthEvent(eventType string) string {
	return t.prefix + "/events/" + eventType
}

// AllAuthEvents returns a wildcard matching every auth event.
func (t Topics) AllAuthEvents() string {
	return t.prefix + "/events/+"
}

// Status returns the retained online/offline status topic.
func (t Topics) Status() string {
	return t.prefix + "/status"
}
