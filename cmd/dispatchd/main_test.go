package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/dispatch-auth/internal/audit"
	"github.com/nerrad567/dispatch-auth/internal/auth"
	"github.com/nerrad567/dispatch-auth/internal/infrastructure/database"
	"github.com/nerrad567/dispatch-auth/internal/infrastructure/logging"
)

const testSecret = "test-secret-key-at-least-32-characters-long"

// writeTestConfig writes a minimal config with MQTT and InfluxDB disabled.
func writeTestConfig(t *testing.T, dbPath string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
database:
  path: "` + dbPath + `"
  wal_mode: true
  busy_timeout: 5
api:
  host: "127.0.0.1"
  port: 18089
  timeouts:
    read: 5
    write: 5
    idle: 5
logging:
  level: error
  format: text
  output: stdout
security:
  jwt:
    secret: "` + testSecret + `"
  sessions:
    purge_interval: 0
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

// execute runs the root command with args and returns its stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestGetConfigPath_Default(t *testing.T) {
	t.Setenv("DISPATCH_CONFIG", "")

	if path := getConfigPath(); path != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", path, defaultConfigPath)
	}
}

func TestGetConfigPath_EnvOverride(t *testing.T) {
	expected := "/custom/path/config.yaml"
	t.Setenv("DISPATCH_CONFIG", expected)

	if path := getConfigPath(); path != expected {
		t.Errorf("getConfigPath() = %q, want %q", path, expected)
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version error = %v", err)
	}
	if !strings.Contains(out, "dispatchd "+version) {
		t.Errorf("version output = %q", out)
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx, "/nonexistent/path/config.yaml"); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

func TestRun_StartupAndShutdown(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "serve.db")
	configPath := writeTestConfig(t, dbPath)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := run(ctx, configPath); err != nil {
		t.Fatalf("run() error = %v", err)
	}

	// The admin account was seeded on the empty database.
	db, err := database.Open(context.Background(), database.Config{Path: dbPath, WALMode: true, BusyTimeout: 5})
	if err != nil {
		t.Fatalf("reopening db: %v", err)
	}
	defer db.Close()
	n, err := auth.NewUserRepository(db.DB).Count(context.Background())
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != 1 {
		t.Errorf("users after first boot = %d, want 1 seeded admin", n)
	}
}

func TestMigrateCommands(t *testing.T) {
	configPath := writeTestConfig(t, filepath.Join(t.TempDir(), "migrate.db"))

	if _, err := execute(t, "--config", configPath, "migrate", "up"); err != nil {
		t.Fatalf("migrate up error = %v", err)
	}

	out, err := execute(t, "--config", configPath, "migrate", "status")
	if err != nil {
		t.Fatalf("migrate status error = %v", err)
	}
	if !strings.Contains(out, "VERSION") || strings.Contains(out, "pending") {
		t.Errorf("status after up should list only applied migrations:\n%s", out)
	}

	if _, err := execute(t, "--config", configPath, "migrate", "down"); err != nil {
		t.Fatalf("migrate down error = %v", err)
	}
	out, err = execute(t, "--config", configPath, "migrate", "status")
	if err != nil {
		t.Fatalf("migrate status error = %v", err)
	}
	if strings.Count(out, "pending") != 1 {
		t.Errorf("status after down should show one pending migration:\n%s", out)
	}
}

func TestSessionsPurgeCommand(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "purge.db")
	configPath := writeTestConfig(t, dbPath)

	out, err := execute(t, "--config", configPath, "sessions", "purge")
	if err != nil {
		t.Fatalf("sessions purge error = %v", err)
	}
	if !strings.Contains(out, "purged 0 expired sessions") {
		t.Errorf("purge output = %q", out)
	}
}

func TestStartJanitor_Disabled(t *testing.T) {
	stop := startJanitor(context.Background(), nil, 0, logging.Discard())
	stop()
}

func TestBuildEventSinks_FlushesAuditOnStop(t *testing.T) {
	db, err := database.Open(context.Background(), database.Config{
		Path:        filepath.Join(t.TempDir(), "events.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("opening db: %v", err)
	}
	defer db.Close()
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrating: %v", err)
	}

	recorder := audit.NewRecorder(audit.NewSQLiteRepository(db.DB), logging.Discard())
	sink, stop := buildEventSinks(context.Background(), recorder, nil, nil, logging.Discard())
	sink.Emit(context.Background(), auth.Event{Type: auth.EventLogin, UserID: "usr-1", At: time.Now()})
	stop()

	res, err := recorder.List(context.Background(), audit.Filter{Action: string(auth.EventLogin)})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Total != 1 {
		t.Errorf("audit entries after stop = %d, want 1", res.Total)
	}
}
