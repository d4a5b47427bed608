// Package main is the entry point for the mqtt-access service.
//
// mqtt-access keeps MQTT broker authorization in line with the credentials
// it stores. On start it loads configuration, opens and migrates the
// credential database, connects to the configured broker control plane
// (Mosquitto dynamic security or the EMQX management API), optionally
// bootstraps the global writer credential, and then re-synchronises every
// stored credential on a fixed interval until it receives SIGINT or SIGTERM.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nerrad567/mqtt-access/internal/audit"
	"github.com/nerrad567/mqtt-access/internal/broker"
	"github.com/nerrad567/mqtt-access/internal/broker/dynsec"
	"github.com/nerrad567/mqtt-access/internal/broker/emqx"
	"github.com/nerrad567/mqtt-access/internal/credential"
	"github.com/nerrad567/mqtt-access/internal/infrastructure/config"
	"github.com/nerrad567/mqtt-access/internal/infrastructure/database"
	"github.com/nerrad567/mqtt-access/internal/infrastructure/logging"
	"github.com/nerrad567/mqtt-access/internal/infrastructure/mqtt"
	_ "github.com/nerrad567/mqtt-access/migrations" // registers the embedded schema
)

// Version information (set at build time via ldflags).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run wires the service together and blocks until ctx is cancelled.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting mqtt-access",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "backend", cfg.Broker.Backend)

	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()

	if err := migrate(ctx, db, log); err != nil {
		return err
	}
	log.Info("database ready", "path", cfg.Database.Path)

	be, err := buildBackend(cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := be.close(); closeErr != nil {
			log.Error("error closing broker connection", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, db, be); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	svc := credential.NewService(credential.NewSQLiteStore(db.DB), be.admin, credential.ServiceConfig{
		SyncConcurrency:   cfg.Sync.Concurrency,
		SyncRatePerSecond: cfg.Sync.RatePerSecond,
	})
	svc.SetLogger(log)
	svc.SetAuditor(audit.NewSQLiteRepository(db.DB))

	if userID := cfg.Credentials.GlobalWriterUserID; userID != "" {
		cred, created, ensureErr := svc.EnsureGlobalWriteCredential(ctx, userID)
		if ensureErr != nil {
			return fmt.Errorf("ensuring global write credential: %w", ensureErr)
		}
		log.Info("global write credential ready",
			"credential_id", cred.ID,
			"username", cred.Username,
			"created", created,
		)
	}

	if cfg.Sync.OnStartup {
		report, syncErr := svc.SyncAll(ctx)
		if syncErr != nil {
			return fmt.Errorf("startup sync: %w", syncErr)
		}
		if report.Failed() > 0 {
			log.Warn("startup sync finished with failures",
				"failed", report.Failed(),
				"error", report.Err(),
			)
		}
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	if err := svc.RunPeriodicSync(ctx, cfg.Sync.Interval); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("periodic sync: %w", err)
	}
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	log.Info("mqtt-access stopped")
	return nil
}

func getConfigPath() string {
	if path := os.Getenv("MQTTACCESS_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// backend is the broker control plane selected by configuration.
type backend struct {
	admin broker.AdminPort
	// health is nil when the backend has no persistent connection to check.
	health func(ctx context.Context) error
	close  func() error
}

// migrate applies pending migrations and logs the resulting schema state.
func migrate(ctx context.Context, db *database.DB, log *logging.Logger) error {
	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	applied, pending, err := db.MigrationStatus(ctx)
	if err != nil {
		return fmt.Errorf("reading migration status: %w", err)
	}
	latest := ""
	if len(applied) > 0 {
		latest = applied[len(applied)-1].Version
	}
	log.Info("database schema", "applied", len(applied), "pending", len(pending), "latest", latest)
	return nil
}

// controlConn is the part of *mqtt.Client the mosquitto health check needs.
type controlConn interface {
	HealthCheck(ctx context.Context) error
	HasSubscription(topic string) bool
}

// controlPlaneHealth fails when the MQTT connection is down or the dynsec
// response subscription is no longer tracked.
func controlPlaneHealth(conn controlConn, responseTopic string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if err := conn.HealthCheck(ctx); err != nil {
			return err
		}
		if !conn.HasSubscription(responseTopic) {
			return fmt.Errorf("not subscribed to %s", responseTopic)
		}
		return nil
	}
}

func healthCheck(ctx context.Context, db *database.DB, be *backend) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if be.health != nil {
		if err := be.health(ctx); err != nil {
			return fmt.Errorf("broker: %w", err)
		}
	}
	return nil
}

// buildBackend connects the AdminPort for the configured backend.
func buildBackend(cfg *config.Config, log *logging.Logger) (*backend, error) {
	switch cfg.Broker.Backend {
	case config.BackendMosquitto:
		mqttClient, err := mqtt.Connect(cfg.MQTT)
		if err != nil {
			return nil, fmt.Errorf("connecting to MQTT broker: %w", err)
		}
		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})

		client, err := dynsec.New(mqttClient, dynsec.Config{
			ControlTopic:    cfg.Broker.Mosquitto.ControlTopic,
			ResponseTopic:   cfg.Broker.Mosquitto.ResponseTopic,
			ResponseTimeout: cfg.Broker.Mosquitto.ResponseTimeout,
		})
		if err != nil {
			mqttClient.Close() //nolint:errcheck // already failing
			return nil, fmt.Errorf("starting dynamic security client: %w", err)
		}
		client.SetLogger(log)

		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"control_topic", cfg.Broker.Mosquitto.ControlTopic,
		)
		return &backend{
			admin:  dynsec.NewAdmin(client),
			health: controlPlaneHealth(mqttClient, client.ResponseTopic()),
			close: func() error {
				log.Info("closing MQTT connection")
				return mqttClient.Close()
			},
		}, nil

	case config.BackendEMQX:
		client, err := emqx.New(cfg.Broker.EMQX)
		if err != nil {
			return nil, fmt.Errorf("creating EMQX client: %w", err)
		}
		client.SetLogger(log)
		log.Info("EMQX management API configured", "url", cfg.Broker.EMQX.URL)
		return &backend{admin: client, close: func() error { return nil }}, nil

	default:
		return nil, fmt.Errorf("unknown broker backend %q", cfg.Broker.Backend)
	}
}
