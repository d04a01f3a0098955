package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/dispatch-auth/internal/api"
	"github.com/nerrad567/dispatch-auth/internal/audit"
	"github.com/nerrad567/dispatch-auth/internal/auth"
	"github.com/nerrad567/dispatch-auth/internal/infrastructure/config"
	"github.com/nerrad567/dispatch-auth/internal/infrastructure/database"
	"github.com/nerrad567/dispatch-auth/internal/infrastructure/influxdb"
	"github.com/nerrad567/dispatch-auth/internal/infrastructure/logging"
	"github.com/nerrad567/dispatch-auth/internal/infrastructure/mqtt"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the authentication API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts.configPath)
		},
	}
}

// run starts every component, blocks until ctx is cancelled, then shuts
// down in reverse order.
func run(ctx context.Context, configPath string) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting dispatch-auth",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, log, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	log.Info("configuration loaded",
		"path", configPath,
		"level", cfg.Logging.Level,
		"rotate_refresh_tokens", cfg.Security.Sessions.RotateRefreshTokens,
		"reuse_grace", cfg.ReuseGrace(),
	)

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	if _, seedErr := auth.SeedAdmin(ctx, auth.NewUserRepository(db.DB), cfg.Security.SeedAdminEmail, log.Logger); seedErr != nil {
		return fmt.Errorf("seeding admin: %w", seedErr)
	}

	checks := map[string]api.HealthChecker{"database": db}

	mqttClient, err := connectMQTT(cfg, log)
	if err != nil {
		return err
	}
	if mqttClient != nil {
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		checks["mqtt"] = mqttClient
	}

	influxClient, err := connectInfluxDB(cfg, log)
	if err != nil {
		return err
	}
	if influxClient != nil {
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		checks["influxdb"] = influxClient
	}

	recorder := audit.NewRecorder(audit.NewSQLiteRepository(db.DB), log)
	events, stopEvents := buildEventSinks(ctx, recorder, mqttClient, influxClient, log)
	// Registered after the client closers so queued events flush while
	// MQTT and InfluxDB are still connected.
	defer stopEvents()

	manager := newManager(cfg, db, events, log)

	stopJanitor := startJanitor(ctx, manager, cfg.PurgeInterval(), log)
	defer stopJanitor()

	server, err := api.New(api.Deps{
		Config:  cfg.API,
		Logger:  log,
		Manager: manager,
		Audit:   recorder,
		Checks:  checks,
		Version: version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error stopping API server", "error", closeErr)
		}
	}()

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order: API server, janitor, event
	// queues, InfluxDB, MQTT, database.
	return nil
}

// connectMQTT returns nil when MQTT is disabled.
func connectMQTT(cfg *config.Config, log *logging.Logger) (*mqtt.Client, error) {
	if !cfg.MQTT.Enabled {
		log.Info("MQTT disabled")
		return nil, nil
	}

	client, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	client.SetLogger(log)
	client.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
		"topic_prefix", client.Topics().Prefix(),
	)
	return client, nil
}

// connectInfluxDB returns nil when InfluxDB is disabled.
func connectInfluxDB(cfg *config.Config, log *logging.Logger) (*influxdb.Client, error) {
	client, err := influxdb.Connect(cfg.InfluxDB)
	if errors.Is(err, influxdb.ErrDisabled) {
		log.Info("InfluxDB disabled")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to InfluxDB: %w", err)
	}
	client.SetOnError(func(err error) {
		log.Error("InfluxDB write error", "error", err)
	})
	log.Info("InfluxDB connected",
		"url", cfg.InfluxDB.URL,
		"org", cfg.InfluxDB.Org,
		"bucket", cfg.InfluxDB.Bucket,
	)
	return client, nil
}

// buildEventSinks fans session events out to the audit trail and, when
// connected, to MQTT and InfluxDB. The returned func flushes the queues.
func buildEventSinks(ctx context.Context, recorder *audit.Recorder, mqttClient *mqtt.Client, influxClient *influxdb.Client, log *logging.Logger) (auth.EventSink, func()) {
	queues := []*audit.Async{
		audit.NewAsync("audit", recorder, audit.DefaultQueueSize, log),
	}
	if mqttClient != nil {
		queues = append(queues, audit.NewAsync("mqtt", audit.NewMQTTSink(mqttClient, log), audit.DefaultQueueSize, log))
	}

	sinks := make([]auth.EventSink, 0, len(queues)+1)
	for _, q := range queues {
		q.Start(context.WithoutCancel(ctx))
		sinks = append(sinks, q)
	}
	// The InfluxDB write API is already non-blocking and batched.
	if influxClient != nil {
		sinks = append(sinks, audit.NewInfluxSink(influxClient))
	}

	stop := func() {
		for _, q := range queues {
			q.Close()
		}
	}
	return audit.NewFanout(log, sinks...), stop
}

// startJanitor purges expired sessions every interval until ctx is
// cancelled or the returned stop func is called. A non-positive interval
// disables it.
func startJanitor(ctx context.Context, manager *auth.Manager, interval time.Duration, log *logging.Logger) func() {
	if interval <= 0 {
		log.Info("session janitor disabled")
		return func() {}
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := manager.PurgeExpired(ctx); err != nil && ctx.Err() == nil {
					log.Warn("session purge failed", "error", err)
				}
			}
		}
	}()
	log.Info("session janitor started", "interval", interval)

	return func() {
		cancel()
		<-done
	}
}
