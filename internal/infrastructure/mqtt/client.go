package mqtt

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/dispatch-auth/internal/infrastructure/config"
)

// Sentinel errors. Check with errors.Is.
var (
	ErrNotConnected     = errors.New("mqtt: not connected to broker")
	ErrConnectionFailed = errors.New("mqtt: broker connection failed")
	ErrPublishFailed    = errors.New("mqtt: publish failed")
	ErrInvalidTopic     = errors.New("mqtt: empty topic")
	ErrInvalidQoS       = errors.New("mqtt: qos must be 0, 1 or 2")
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
	keepAlive      = 30 * time.Second
	// quiesceMillis lets in-flight publishes finish on Close.
	quiesceMillis = 250
)

// Logger is satisfied by *logging.Logger and *slog.Logger.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Client publishes auth events and keeps a retained online/offline status
// on <prefix>/status. All methods are safe for concurrent use.
type Client struct {
	paho      pahomqtt.Client
	cfg       config.MQTTConfig
	topics    Topics
	connected atomic.Bool

	mu           sync.RWMutex
	logger       Logger
	onConnect    func()
	onDisconnect func(err error)
}

// Connect dials the broker and waits up to 10 seconds for the first
// connection. After that paho reconnects on its own with backoff between
// cfg.Reconnect.InitialDelay and MaxDelay.
func Connect(cfg config.MQTTConfig) (*Client, error) {
	c := &Client{cfg: cfg, topics: NewTopics(cfg.TopicPrefix)}
	c.paho = pahomqtt.NewClient(c.options())

	token := c.paho.Connect()
	if !token.WaitTimeout(connectTimeout) {
		c.paho.Disconnect(0)
		return nil, fmt.Errorf("%w: no answer from %s within %v", ErrConnectionFailed, c.brokerURL(), connectTimeout)
	}
	if err := token.Error(); err != nil {
		c.paho.Disconnect(0)
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// The connect handler runs on paho's goroutine and may not have fired yet.
	c.connected.Store(true)
	return c, nil
}

func (c *Client) brokerURL() string {
	scheme := "tcp"
	if c.cfg.Broker.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.cfg.Broker.Host, c.cfg.Broker.Port)
}

// options builds the paho options, including the last will that marks the
// service offline if it dies without calling Close.
func (c *Client) options() *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions().
		AddBroker(c.brokerURL()).
		SetClientID(c.cfg.Broker.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(time.Duration(c.cfg.Reconnect.InitialDelay) * time.Second).
		SetMaxReconnectInterval(time.Duration(c.cfg.Reconnect.MaxDelay) * time.Second).
		SetConnectTimeout(connectTimeout).
		SetKeepAlive(keepAlive).
		SetOnConnectHandler(func(pahomqtt.Client) { c.handleConnect() }).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.handleConnectionLost(err) }).
		SetReconnectingHandler(func(pahomqtt.Client, *pahomqtt.ClientOptions) {
			if log := c.getLogger(); log != nil {
				log.Info("mqtt reconnecting", "broker", c.brokerURL())
			}
		})

	if c.cfg.Auth.Username != "" {
		opts.SetUsername(c.cfg.Auth.Username)
		opts.SetPassword(c.cfg.Auth.Password)
	}
	if c.cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	will := statusPayload(c.cfg.Broker.ClientID, statusOffline, reasonUnexpected)
	opts.SetBinaryWill(c.topics.Status(), will, 1, true)
	return opts
}

// Topics returns the topic builder for this client's prefix.
func (c *Client) Topics() Topics {
	return c.topics
}

func (c *Client) handleConnect() {
	c.connected.Store(true)
	c.publishStatus(statusOnline, "")

	c.mu.RLock()
	cb := c.onConnect
	c.mu.RUnlock()
	if cb != nil {
		cb()
	}
}

func (c *Client) handleConnectionLost(err error) {
	c.connected.Store(false)
	if log := c.getLogger(); log != nil {
		log.Warn("mqtt connection lost", "error", err)
	}

	c.mu.RLock()
	cb := c.onDisconnect
	c.mu.RUnlock()
	if cb != nil {
		cb(err)
	}
}

// Close publishes a graceful offline status and disconnects. It is safe on
// a nil or never-connected client.
func (c *Client) Close() error {
	if c == nil || c.paho == nil {
		return nil
	}
	if c.IsConnected() {
		c.publishStatus(statusOffline, reasonShutdown)
	}
	c.paho.Disconnect(quiesceMillis)
	c.connected.Store(false)
	return nil
}

// HealthCheck reports ErrNotConnected while the broker is unreachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected returns the last known connection state.
func (c *Client) IsConnected() bool {
	return c.paho != nil && c.connected.Load() && c.paho.IsConnected()
}

// SetOnConnect sets a callback run on the first connect and every reconnect.
func (c *Client) SetOnConnect(fn func()) {
	c.mu.Lock()
	c.onConnect = fn
	c.mu.Unlock()
}

// SetOnDisconnect sets a callback run when the connection drops.
func (c *Client) SetOnDisconnect(fn func(err error)) {
	c.mu.Lock()
	c.onDisconnect = fn
	c.mu.Unlock()
}

// SetLogger sets the logger for connection events.
func (c *Client) SetLogger(logger Logger) {
	c.mu.Lock()
	c.logger = logger
	c.mu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.logger
}
