package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/softbus/internal/api"
	"github.com/nerrad567/softbus/internal/audit"
	"github.com/nerrad567/softbus/internal/bus"
	"github.com/nerrad567/softbus/internal/device"
	"github.com/nerrad567/softbus/internal/drivers"
	"github.com/nerrad567/softbus/internal/infrastructure/config"
	"github.com/nerrad567/softbus/internal/infrastructure/database"
	"github.com/nerrad567/softbus/internal/infrastructure/influxdb"
	"github.com/nerrad567/softbus/internal/infrastructure/logging"
	"github.com/nerrad567/softbus/internal/infrastructure/mqtt"
	"github.com/nerrad567/softbus/internal/provision"
	"github.com/nerrad567/softbus/internal/transport/mqttbridge"
	"github.com/nerrad567/softbus/internal/transport/multicast"
	"github.com/nerrad567/softbus/migrations"
)

const (
	// healthCheckTimeout bounds the startup health check.
	healthCheckTimeout = 5 * time.Second

	defaultQueueSampleInterval = 10 * time.Second
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bus daemon",
		Long: `Run the bus daemon until interrupted.

serve loads the configuration, restores persisted devices and groups, seeds
the ones declared in the config file, connects the optional MQTT bridge or
multicast transport, and exposes the HTTP API.

Example:
  softbus serve --config configs/config.yaml
  SOFTBUS_CONFIG=/etc/softbus/config.yaml softbus serve`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), rootOpts.configPath())
		},
	}
}

// runServe is the daemon lifecycle, separated from the command for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - configPath: Path to the YAML configuration file
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func runServe(ctx context.Context, configPath string) error { //nolint:gocognit,gocyclo,funlen // linear startup sequence
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting softbus",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	health := make(map[string]api.HealthChecker)

	// Open database (optional)
	var db *database.DB
	if cfg.Database.Enabled {
		db, err = database.Open(database.ConfigFrom(cfg.Database))
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		log.Info("database connected", "path", cfg.Database.Path)

		applied, migrateErr := db.Migrate(ctx, migrations.FS)
		if migrateErr != nil {
			return fmt.Errorf("running migrations: %w", migrateErr)
		}
		log.Info("database migrations complete", "applied", applied)
		health["database"] = db
	} else {
		log.Info("database disabled, definitions will not persist")
	}

	// Registries and engine
	devices := device.NewRegistry(device.Limits{
		MaxDevices:      cfg.Bus.MaxDevices,
		MaxGroups:       cfg.Bus.MaxGroups,
		MaxGroupMembers: cfg.Bus.MaxGroupMembers,
		QueueLength:     cfg.Bus.QueueLength,
		QueueBytes:      cfg.Bus.QueueBytes,
	})
	devices.SetLogger(log.Component("device"))
	groups := device.NewGroupRegistry(devices)
	groups.SetLogger(log.Component("group"))

	engine := bus.NewEngine(devices, groups, bus.Options{
		Logger:      log.Component("bus"),
		SyncTimeout: cfg.SyncTimeout(),
	})
	defer func() {
		log.Info("unregistering devices", "devices", devices.Count())
		if closeErr := devices.Close(context.WithoutCancel(ctx)); closeErr != nil {
			log.Error("error closing device registry", "error", closeErr)
		}
	}()
	defer func() {
		log.Info("closing dispatch engine")
		if closeErr := engine.Close(); closeErr != nil {
			log.Error("error closing dispatch engine", "error", closeErr)
		}
	}()

	// The transport inbox is registered before provisioning so no
	// configured device can take its name. It is never persisted.
	if cfg.Multicast.Enabled || cfg.MQTT.Bridge.Enabled {
		inbox, inboxErr := drivers.New(drivers.KindEcho, nil)
		if inboxErr != nil {
			return fmt.Errorf("creating transport inbox: %w", inboxErr)
		}
		if _, regErr := devices.Register(ctx, bus.MulticastTarget, device.TypeOther, inbox); regErr != nil {
			return fmt.Errorf("registering transport inbox: %w", regErr)
		}
	}

	// Provision: restore what was persisted, then seed the config file.
	provOpts := provision.Options{Logger: log.Component("provision")}
	if db != nil {
		provOpts.Store = device.NewSQLiteStore(db.DB)
	}
	prov := provision.New(devices, groups, provOpts)
	if restoreErr := prov.Restore(ctx); restoreErr != nil {
		log.Warn("some stored definitions could not be restored", "error", restoreErr)
	}
	if seedErr := prov.Seed(ctx, cfg); seedErr != nil {
		return fmt.Errorf("provisioning from config: %w", seedErr)
	}
	log.Info("bus provisioned",
		"devices", devices.Count(),
		"groups", groups.Count(),
	)

	// Connect to InfluxDB (optional)
	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(cfg.InfluxDB)
		if influxErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", influxErr)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		engine.AddObserver(dispatchMetrics{w: influxClient})
		go sampleQueues(ctx, devices, influxClient, queueSampleInterval(cfg.InfluxDB))
		health["influxdb"] = influxClient
	} else {
		log.Info("InfluxDB disabled")
	}

	// Dispatch log (requires the database)
	var dispatchLog audit.Repository
	if cfg.Audit.Enabled && db != nil {
		repo := audit.NewSQLiteRepository(db.DB)
		recorder := audit.NewRecorder(repo, cfg.Audit.BufferSize, log.Component("audit"))
		recorder.Start(ctx)
		defer func() {
			log.Info("flushing dispatch log", "dropped", recorder.Dropped())
			if closeErr := recorder.Close(); closeErr != nil {
				log.Error("error closing dispatch log", "error", closeErr)
			}
		}()
		engine.AddObserver(recorder)
		dispatchLog = repo
	} else {
		log.Info("dispatch log disabled")
	}

	// Connect to MQTT broker (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
		mqttClient.SetLogger(log.Component("mqtt"))
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		health["mqtt"] = mqttClient
	} else {
		log.Info("MQTT disabled")
	}

	// Group transport: the MQTT bridge wins over multicast when both are on.
	transport, err := startTransport(ctx, cfg, mqttClient, engine, log)
	if err != nil {
		return err
	}
	if transport != nil {
		engine.SetTransport(transport)
		// Closed here, ahead of the MQTT client; the engine's own close
		// of the transport later is a no-op.
		defer func() {
			log.Info("closing group transport")
			if closeErr := transport.Close(); closeErr != nil {
				log.Error("error closing group transport", "error", closeErr)
			}
		}()
	}

	// HTTP API
	var server *api.Server
	if cfg.API.Enabled {
		server, err = api.New(api.Deps{
			Config:      cfg.API,
			WS:          cfg.WebSocket,
			Logger:      log.Component("api"),
			Engine:      engine,
			Provisioner: prov,
			DispatchLog: dispatchLog,
			Health:      health,
			Version:     version,
		})
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		if startErr := server.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			log.Info("stopping API server")
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error stopping API server", "error", closeErr)
			}
		}()
		log.Info("API server listening", "addr", server.Addr().String())
	} else {
		log.Info("API server disabled")
	}

	// Verify all connections are healthy
	if err := healthCheck(ctx, health); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred closes run in reverse order:
	// API, transport, MQTT, dispatch log, InfluxDB, engine, devices, database.

	log.Info("softbus stopped")
	return nil
}

// queueSampleInterval matches queue sampling to the InfluxDB flush interval.
func queueSampleInterval(cfg config.InfluxDBConfig) time.Duration {
	if cfg.FlushInterval <= 0 {
		return defaultQueueSampleInterval
	}
	return time.Duration(cfg.FlushInterval) * time.Second
}

// startTransport opens the configured group transport, or returns nil when
// none is enabled.
//
// Parameters:
//   - ctx: Context bounding the transport's receive loop
//   - cfg: Application configuration
//   - mqttClient: Connected MQTT client (nil if MQTT is disabled)
//   - engine: Engine that receives inbound traffic
//   - log: Logger instance
//
// Returns:
//   - bus.Transport: Running transport, or nil
//   - error: If the enabled transport fails to start
func startTransport(ctx context.Context, cfg *config.Config, mqttClient *mqtt.Client, engine *bus.Engine, log *logging.Logger) (bus.Transport, error) {
	switch {
	case cfg.MQTT.Bridge.Enabled && mqttClient != nil:
		bridge := mqttbridge.New(mqttClient, cfg.MQTT, engine, log.Component("mqttbridge"))
		if err := bridge.Start(ctx); err != nil {
			return nil, fmt.Errorf("starting MQTT bridge: %w", err)
		}
		log.Info("MQTT bridge started",
			"topic_prefix", cfg.MQTT.Bridge.TopicPrefix,
			"source", bridge.Source(),
		)
		if cfg.Multicast.Enabled {
			log.Warn("multicast transport ignored while the MQTT bridge is enabled")
		}
		return bridge, nil

	case cfg.Multicast.Enabled:
		t, err := multicast.Open(ctx, cfg.Multicast, engine, log.Component("multicast"))
		if err != nil {
			return nil, fmt.Errorf("opening multicast transport: %w", err)
		}
		log.Info("multicast transport started",
			"group", t.Addr().String(),
			"interface", cfg.Multicast.Interface,
		)
		return t, nil

	default:
		log.Info("no group transport, group sends are delivered locally")
		return nil, nil
	}
}

// healthCheck verifies every registered component is healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - checks: Components keyed by name
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, checks map[string]api.HealthChecker) error {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	for _, name := range []string{"database", "mqtt", "influxdb"} {
		check, ok := checks[name]
		if !ok {
			continue
		}
		if err := check.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}
