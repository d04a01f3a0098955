// Package mqtt publishes auth events to an MQTT broker.
//
// Dashboards and sibling services subscribe to <prefix>/events/+ to learn
// about logouts, password changes and deactivations as they happen, for
// example to drop a revoked user's live connections. The retained topic
// <prefix>/status says whether the auth service is up; the broker flips it
// to offline through the last will if the process dies.
//
// Payloads never contain tokens, hashes or passwords. Enable cfg.Broker.TLS
// outside local development.
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.PublishJSON(client.Topics().AuthEvent("logout"), payload)
package mqtt
