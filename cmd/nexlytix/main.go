// Nexlytix Core - secure telemetry ingestion.
//
// nexlytix subscribes to device telemetry over MQTT, gates every message
// through identity, integrity, replay and range checks, stores accepted
// readings in a time-series database and serves them over a read-only API.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/nerrad567/nexlytix-core/internal/api"
	"github.com/nerrad567/nexlytix-core/internal/audit"
	"github.com/nerrad567/nexlytix-core/internal/infrastructure/config"
	"github.com/nerrad567/nexlytix-core/internal/infrastructure/database"
	"github.com/nerrad567/nexlytix-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/nexlytix-core/internal/infrastructure/logging"
	"github.com/nerrad567/nexlytix-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/nexlytix-core/internal/infrastructure/tsdb"
	"github.com/nerrad567/nexlytix-core/internal/ingest"
	"github.com/nerrad567/nexlytix-core/internal/metrics"
	_ "github.com/nerrad567/nexlytix-core/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const defaultConfigPath = "configs/config.yaml"

// recorderCloseTimeout bounds the final flush of the rejection audit queue.
const recorderCloseTimeout = 5 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// store is a time-series backend: the pipeline writes to it, the API reads
// from it.
type store interface {
	ingest.Writer
	api.ReadingQuerier
	HealthCheck(ctx context.Context) error
	Close() error
}

// run wires every component and blocks until ctx is cancelled.
func run(ctx context.Context, args []string, stdout io.Writer) error {
	flags := pflag.NewFlagSet("nexlytix", pflag.ContinueOnError)
	configFlag := flags.StringP("config", "c", "", "path to config.yaml (env NEXLYTIX_CONFIG)")
	showVersion := flags.Bool("version", false, "print version and exit")
	if err := flags.Parse(args); err != nil {
		return err
	}

	if *showVersion {
		fmt.Fprintf(stdout, "nexlytix %s (commit %s, built %s)\n", version, commit, date)
		return nil
	}

	log := logging.Default()

	// A missing .env is normal outside development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn("could not load .env file", "error", err)
	}

	configPath := getConfigPath(*configFlag)
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("starting Nexlytix Core",
		"version", version,
		"commit", commit,
		"build_date", date,
		"config", configPath,
	)

	m := metrics.New()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing time-series store")
		if closeErr := st.Close(); closeErr != nil {
			log.Error("error closing store", "error", closeErr)
		}
	}()
	log.Info("time-series store connected", "backend", cfg.Store.Backend)

	var (
		recorder   ingest.Recorder
		rejections audit.Repository
		auditDB    api.HealthChecker
	)
	if cfg.Audit.Enabled {
		db, dbErr := database.Open(database.Config{
			Path:        cfg.Audit.Database.Path,
			WALMode:     cfg.Audit.Database.WALMode,
			BusyTimeout: cfg.Audit.Database.BusyTimeout,
		})
		if dbErr != nil {
			return fmt.Errorf("opening audit database: %w", dbErr)
		}
		defer func() {
			log.Info("closing audit database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing audit database", "error", closeErr)
			}
		}()
		if migrateErr := db.Migrate(ctx); migrateErr != nil {
			return fmt.Errorf("running migrations: %w", migrateErr)
		}

		repo := audit.NewSQLiteRepository(db.DB)
		rec := audit.NewRecorder(repo, audit.RecorderOptions{Logger: log})
		// Runs before the database is closed.
		defer func() {
			closeCtx, closeCancel := context.WithTimeout(context.Background(), recorderCloseTimeout)
			defer closeCancel()
			if closeErr := rec.Close(closeCtx); closeErr != nil {
				log.Warn("rejection audit queue not fully flushed", "error", closeErr)
			}
		}()
		m.TrackAuditDrops(rec.Dropped)

		recorder, rejections, auditDB = rec, repo, db
		log.Info("rejection audit enabled", "path", cfg.Audit.Database.Path)
	}

	mode := ingest.SignatureMode(cfg.Security.SignatureMode)
	if mode == ingest.SignatureOptional {
		log.Warn("signature verification is optional; unsigned payloads are accepted")
	}

	guard := ingest.NewReplayGuard(cfg.Replay.Shards)
	m.TrackReplayDevices(guard)

	pipeline, err := ingest.NewPipeline(ingest.Options{
		Verifier:     ingest.NewVerifier(cfg.Security.HMACSecret, mode),
		Replay:       guard,
		Writer:       st,
		WriteTimeout: cfg.GetStoreWriteTimeout(),
		Logger:       log.With("component", "pipeline"),
		Observer:     m,
		Recorder:     recorder,
	})
	if err != nil {
		return fmt.Errorf("creating pipeline: %w", err)
	}

	listener, err := ingest.NewListener(ingest.ListenerOptions{
		Dial:         dialer(cfg.MQTT, log.With("component", "mqtt")),
		Handler:      pipeline,
		Topic:        cfg.MQTT.Topic(),
		QoS:          byte(cfg.MQTT.QoS), //nolint:gosec // validated to 0..2
		RestartDelay: time.Duration(cfg.MQTT.Reconnect.RestartDelay) * time.Second,
		DrainTimeout: time.Duration(cfg.MQTT.DrainTimeout) * time.Second,
		Logger:       log.With("component", "listener"),
		Observer:     m,
	})
	if err != nil {
		return fmt.Errorf("creating listener: %w", err)
	}

	server, err := api.New(api.Deps{
		Config:        cfg.API,
		Security:      cfg.Security,
		Logger:        log.With("component", "api"),
		Readings:      st,
		Rejections:    rejections,
		Store:         st,
		Audit:         auditDB,
		ListenerState: listener.State,
		Metrics:       m.Handler(),
		Version:       version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	log.Info("initialisation complete, consuming telemetry", "topic", cfg.MQTT.Topic())

	// Blocks until shutdown; the listener drains in-flight messages before
	// returning so the deferred closes below never cut off a write.
	if err := listener.Run(ctx); err != nil {
		return fmt.Errorf("listener: %w", err)
	}

	log.Info("shutdown signal received, cleaning up")
	return nil
}

// getConfigPath resolves the config file: the --config flag, then
// NEXLYTIX_CONFIG, then configs/config.yaml. An absent default file means
// "defaults plus environment" and yields "".
func getConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if path := os.Getenv("NEXLYTIX_CONFIG"); path != "" {
		return path
	}
	if _, err := os.Stat(defaultConfigPath); err != nil {
		return ""
	}
	return defaultConfigPath
}

// openStore connects the configured time-series backend.
func openStore(ctx context.Context, cfg *config.Config) (store, error) {
	switch cfg.Store.Backend {
	case config.StoreVictoriaMetrics:
		c, err := tsdb.Connect(ctx, cfg.TSDB)
		if err != nil {
			return nil, fmt.Errorf("connecting to VictoriaMetrics: %w", err)
		}
		return c, nil
	default:
		c, err := influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			return nil, fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		return c, nil
	}
}

// dialer returns a DialFunc that opens a fresh broker connection per
// listener session.
func dialer(cfg config.MQTTConfig, log *logging.Logger) ingest.DialFunc {
	return func(ctx context.Context) (ingest.Session, error) {
		c, err := mqtt.Connect(ctx, cfg)
		if err != nil {
			return nil, err
		}
		c.SetLogger(log)
		return c, nil
	}
}
