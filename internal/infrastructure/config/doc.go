// Package config loads dispatchd settings from a YAML file, layers
// DISPATCH_* environment variables over it and validates the result.
//
// Secrets (the JWT key, MQTT password, InfluxDB token) are expected to come
// from the environment rather than the file.
package config
