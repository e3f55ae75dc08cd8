// EasyWallbox bridge
//
// Connects a Free2Move EasyWallbox charging station over Bluetooth Low
// Energy and exposes it on an MQTT broker with Home Assistant discovery,
// an HTTP dashboard API and Prometheus metrics.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/easywallbox-bridge/migrations"

	"github.com/nerrad567/easywallbox-bridge/internal/api"
	"github.com/nerrad567/easywallbox-bridge/internal/ble"
	"github.com/nerrad567/easywallbox-bridge/internal/bridges/wallbox"
	"github.com/nerrad567/easywallbox-bridge/internal/homeassistant"
	"github.com/nerrad567/easywallbox-bridge/internal/infrastructure/config"
	"github.com/nerrad567/easywallbox-bridge/internal/infrastructure/database"
	"github.com/nerrad567/easywallbox-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/easywallbox-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/easywallbox-bridge/internal/infrastructure/mqtt"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires every component and blocks until ctx is cancelled or the
// connection manager fails. Deferred closes run in reverse order.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting EasyWallbox bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"wallbox", cfg.Wallbox.Address,
		"topic_base", cfg.MQTT.TopicBase,
	)

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := wallbox.NewMetrics(registry)
	if err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}

	// State snapshot store (optional)
	var db *database.DB
	var store wallbox.StateStore
	if cfg.Database.Enabled {
		db, err = openDatabase(ctx, cfg.Database)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		store = database.NewStateRepository(db)
		log.Info("state store ready", "path", cfg.Database.Path)
	} else {
		log.Info("state store disabled")
	}

	// Telemetry (optional)
	var influxClient *influxdb.Client
	var telemetry wallbox.Telemetry
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		telemetry = influxClient
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Broker
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log.Component("mqtt"))
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", mqttClient.ClientID(),
	)

	// Wallbox link
	link, err := ble.NewLink(ble.Options{
		AdapterID: cfg.Wallbox.Adapter,
		Logger:    log.Component("ble"),
	})
	if err != nil {
		return fmt.Errorf("enabling bluetooth: %w", err)
	}

	connMgr, err := wallbox.NewConnectionManager(wallbox.ConnectionOptions{
		Link:           link,
		Address:        cfg.Wallbox.Address,
		PIN:            cfg.Wallbox.PIN,
		AuthSettle:     cfg.Wallbox.AuthSettle,
		PollInterval:   cfg.Wallbox.PollInterval,
		ReconnectDelay: cfg.Wallbox.ReconnectDelay,
		ConnectTimeout: cfg.Wallbox.ScanTimeout,
		Logger:         log.Component("wallbox"),
		Metrics:        metrics,
	})
	if err != nil {
		return fmt.Errorf("creating connection manager: %w", err)
	}

	// Dashboard discovery (optional)
	var discovery wallbox.DiscoveryPublisher
	if cfg.Discovery.Enabled {
		d, discErr := homeassistant.NewDiscovery(homeassistant.Options{
			Prefix:    cfg.Discovery.Prefix,
			NodeID:    cfg.Discovery.NodeID,
			TopicBase: cfg.MQTT.TopicBase,
			DeviceID:  cfg.Wallbox.Address,
			Version:   version,
			QoS:       byte(cfg.MQTT.QoS),
			Publisher: mqttClient,
			Logger:    log.Component("homeassistant"),
		})
		if discErr != nil {
			return fmt.Errorf("creating discovery publisher: %w", discErr)
		}
		discovery = d
	}

	// hub is assigned before coordinator.Start, so the hook never races it.
	var hub *api.Hub
	coordinator, err := wallbox.NewCoordinator(wallbox.CoordinatorOptions{
		TopicBase:        cfg.MQTT.TopicBase,
		QoS:              byte(cfg.MQTT.QoS),
		DeviceID:         cfg.Wallbox.Address,
		MQTT:             &mqttBridgeAdapter{client: mqttClient},
		Link:             connMgr,
		Store:            store,
		Telemetry:        telemetry,
		Discovery:        discovery,
		RefreshOnConnect: cfg.Wallbox.RefreshOnConnect,
		PollInterval:     cfg.Wallbox.PollInterval,
		OnStatusChange: func(st wallbox.Status) {
			if hub != nil {
				hub.BroadcastStatus(st)
			}
		},
		Logger:  log.Component("wallbox"),
		Metrics: metrics,
	})
	if err != nil {
		return fmt.Errorf("creating coordinator: %w", err)
	}

	var server *api.Server
	if cfg.API.Enabled {
		server, err = api.New(api.Deps{
			Config:     cfg.API,
			WS:         cfg.WebSocket,
			Logger:     log.Component("api"),
			Controller: coordinator,
			Gatherer:   registry,
			Version:    version,
		})
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		hub = server.Hub()
	}

	mqttClient.SetOnConnect(func() {
		log.Info("MQTT connected, republishing availability")
		coordinator.OnMQTTConnect()
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	if err := coordinator.Start(ctx); err != nil {
		return fmt.Errorf("starting coordinator: %w", err)
	}
	defer coordinator.Stop()

	health := wallbox.NewHealthReporter(wallbox.HealthReporterConfig{
		BridgeID:  mqttClient.ClientID(),
		Version:   version,
		TopicBase: cfg.MQTT.TopicBase,
		Interval:  cfg.Health.Interval,
		Publisher: mqttClient,
		Link:      connMgr,
		Queue:     coordinator.Queue(),
	})
	health.SetLogger(log.Component("health"))
	if err := health.PublishStarting(); err != nil {
		log.Warn("failed to publish starting health", "error", err)
	}
	health.Start(ctx)
	defer health.Stop()

	if server != nil {
		if err := server.Start(ctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("initialisation complete", "wallbox", cfg.Wallbox.Address)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return connMgr.Start(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		connMgr.Stop()
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("wallbox link: %w", err)
	}

	log.Info("EasyWallbox bridge stopped")
	return nil
}

// getConfigPath returns EASYWALLBOX_CONFIG or the default path.
func getConfigPath() string {
	if path := os.Getenv("EASYWALLBOX_CONFIG"); path != "" {
		return path
	}
	return config.DefaultPath
}

// openDatabase opens SQLite and applies the embedded migrations.
func openDatabase(ctx context.Context, cfg config.DatabaseConfig) (*database.DB, error) {
	db, err := database.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	migrations.Register()
	if err := db.Migrate(ctx); err != nil {
		db.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return db, nil
}

// healthCheck verifies the infrastructure connections. db and influxClient
// may be nil when disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}

	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}

// mqttBridgeAdapter adapts the infrastructure MQTT client to
// wallbox.MQTTClient. Infrastructure handlers return an error; wallbox
// handlers do not.
type mqttBridgeAdapter struct {
	client *mqtt.Client
}

func (a *mqttBridgeAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

func (a *mqttBridgeAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	return a.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

func (a *mqttBridgeAdapter) Unsubscribe(topic string) error {
	return a.client.Unsubscribe(topic)
}

func (a *mqttBridgeAdapter) IsConnected() bool {
	return a.client.IsConnected()
}
