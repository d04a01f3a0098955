package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/dispatch-auth/internal/infrastructure/config"
)

const testBrokerAddr = "127.0.0.1:1883"

// testConfig returns a valid MQTT configuration for testing.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Enabled: true,
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "dispatch-auth-test",
		},
		QoS:         1,
		TopicPrefix: "dispatch-test/auth",
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

// skipIfNoBroker skips the test unless a broker is listening on testBrokerAddr.
func skipIfNoBroker(t *testing.T) {
	t.Helper()
	conn, err := net.DialTimeout("tcp", testBrokerAddr, 500*time.Millisecond)
	if err != nil {
		t.Skip("MQTT broker not available, skipping integration test")
	}
	conn.Close()
}

// =============================================================================
// Topics Tests
// =============================================================================

func TestTopics(t *testing.T) {
	tests := []struct {
		name     string
		got      string
		expected string
	}{
		{"AuthEvent", NewTopics("dispatch/auth").AuthEvent("logout"), "dispatch/auth/events/logout"},
		{"AllAuthEvents", NewTopics("dispatch/auth").AllAuthEvents(), "dispatch/auth/events/+"},
		{"Status", NewTopics("dispatch/auth").Status(), "dispatch/auth/status"},
		{"trailing slash trimmed", NewTopics("ops/auth/").AuthEvent("login"), "ops/auth/events/login"},
		{"empty prefix uses default", NewTopics("").Status(), DefaultTopicPrefix + "/status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("got %q, want %q", tt.got, tt.expected)
			}
		})
	}
}

func TestStatusPayload(t *testing.T) {
	var msg statusMessage
	if err := json.Unmarshal(statusPayload("svc-1", statusOffline, reasonShutdown), &msg); err != nil {
		t.Fatalf("status payload is not JSON: %v", err)
	}
	if msg.Status != "offline" || msg.ClientID != "svc-1" || msg.Reason != "shutdown" {
		t.Errorf("status message = %+v", msg)
	}
	if _, err := time.Parse(time.RFC3339, msg.Timestamp); err != nil {
		t.Errorf("timestamp %q is not RFC3339: %v", msg.Timestamp, err)
	}

	online := string(statusPayload("svc-1", statusOnline, ""))
	if strings.Contains(online, "reason") {
		t.Errorf("online payload should omit reason: %s", online)
	}
}

func TestClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.TLS = true
	cfg.Auth.Username = "svc"
	cfg.Auth.Password = "pw"

	c := &Client{cfg: cfg, topics: NewTopics(cfg.TopicPrefix)}
	opts := c.options()
	if len(opts.Servers) != 1 || opts.Servers[0].String() != "ssl://127.0.0.1:1883" {
		t.Errorf("Servers = %v, want ssl://127.0.0.1:1883", opts.Servers)
	}
	if opts.Username != "svc" {
		t.Errorf("Username = %q, want svc", opts.Username)
	}
	if opts.TLSConfig == nil {
		t.Error("TLSConfig should be set when TLS is enabled")
	}
	if !opts.AutoReconnect {
		t.Error("AutoReconnect should be enabled")
	}
	if !opts.WillEnabled || opts.WillTopic != "dispatch-test/auth/status" || !opts.WillRetained {
		t.Errorf("will = enabled %v topic %q retained %v", opts.WillEnabled, opts.WillTopic, opts.WillRetained)
	}
}

// =============================================================================
// Client Tests (no broker)
// =============================================================================

func TestCloseNil(t *testing.T) {
	client := &Client{}
	if err := client.Close(); err != nil {
		t.Errorf("Close() on empty client error = %v, want nil", err)
	}
}

func TestPublishValidation(t *testing.T) {
	client := &Client{cfg: testConfig(), topics: NewTopics("x")}

	if err := client.Publish("", []byte("{}"), 1, false); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Publish(empty topic) error = %v, want ErrInvalidTopic", err)
	}
	if err := client.Publish("t", []byte("{}"), 3, false); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("Publish(qos 3) error = %v, want ErrInvalidQoS", err)
	}
	big := make([]byte, maxPayloadSize+1)
	if err := client.Publish("t", big, 1, false); !errors.Is(err, ErrPublishFailed) {
		t.Errorf("Publish(oversized) error = %v, want ErrPublishFailed", err)
	}
	if err := client.Publish("t", []byte("{}"), 1, false); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish(disconnected) error = %v, want ErrNotConnected", err)
	}
	if err := client.PublishJSON("t", map[string]any{"bad": make(chan int)}); !errors.Is(err, ErrPublishFailed) {
		t.Errorf("PublishJSON(unencodable) error = %v, want ErrPublishFailed", err)
	}
}

func TestHealthCheckDisconnected(t *testing.T) {
	client := &Client{}
	if err := client.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := client.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck(cancelled) error = %v, want context.Canceled", err)
	}
}

// =============================================================================
// Broker Tests
// =============================================================================

func TestConnectAndClose(t *testing.T) {
	skipIfNoBroker(t)

	client, err := Connect(testConfig())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if !client.IsConnected() {
		t.Error("IsConnected() = false, want true")
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close(), want false")
	}
}

func TestPublishJSONRoundtrip(t *testing.T) {
	skipIfNoBroker(t)

	cfg := testConfig()
	client, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	// A plain paho subscriber stands in for a dashboard.
	subOpts := pahomqtt.NewClientOptions().AddBroker("tcp://" + testBrokerAddr).SetClientID("dispatch-auth-test-sub")
	sub := pahomqtt.NewClient(subOpts)
	if tok := sub.Connect(); !tok.WaitTimeout(5*time.Second) || tok.Error() != nil {
		t.Fatalf("subscriber connect failed: %v", tok.Error())
	}
	defer sub.Disconnect(100)

	var mu sync.Mutex
	received := make(chan string, 1)
	topic := client.Topics().AuthEvent("logout")
	tok := sub.Subscribe(client.Topics().AllAuthEvents(), 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		mu.Lock()
		defer mu.Unlock()
		if msg.Topic() == topic {
			select {
			case received <- string(msg.Payload()):
			default:
			}
		}
	})
	if !tok.WaitTimeout(5*time.Second) || tok.Error() != nil {
		t.Fatalf("subscribe failed: %v", tok.Error())
	}

	if err := client.PublishJSON(topic, map[string]string{"user_id": "usr-1"}); err != nil {
		t.Fatalf("PublishJSON() error = %v", err)
	}

	select {
	case payload := <-received:
		if !strings.Contains(payload, `"user_id":"usr-1"`) {
			t.Errorf("payload = %s", payload)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for published event")
	}
}
