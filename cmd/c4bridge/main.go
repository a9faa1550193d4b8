// Gray Logic Control4 Bridge
//
// Bridges a Control4 Director's thermostats, fans and contact sensors onto
// the Gray Logic MQTT bus. Device state is seeded from director snapshots,
// kept current from the director push stream, and published as normalized
// state messages; commands from MQTT or the HTTP API are translated back
// into director calls.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	_ "github.com/nerrad567/gray-logic-control4/migrations"

	"github.com/nerrad567/gray-logic-control4/internal/api"
	"github.com/nerrad567/gray-logic-control4/internal/audit"
	"github.com/nerrad567/gray-logic-control4/internal/bridges/control4"
	"github.com/nerrad567/gray-logic-control4/internal/device"
	"github.com/nerrad567/gray-logic-control4/internal/director"
	"github.com/nerrad567/gray-logic-control4/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-control4/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-control4/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-control4/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-control4/internal/infrastructure/mqtt"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application body, separated from main for testability.
// It returns nil on clean shutdown.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting Control4 bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if !cfg.Protocols.Control4.Enabled {
		return errors.New("protocols.control4.enabled is false; nothing to run")
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", configPath, "level", cfg.Logging.Level)

	bridgeCfg, err := control4.LoadConfig(cfg.Protocols.Control4.ConfigFile)
	if err != nil {
		return fmt.Errorf("loading Control4 config: %w", err)
	}
	log.Info("Control4 config loaded",
		"path", cfg.Protocols.Control4.ConfigFile,
		"devices", len(bridgeCfg.Devices),
		"director", bridgeCfg.Director.String(),
	)

	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	history := device.NewSQLiteStateHistoryRepository(db.DB)
	log.Info("database ready", "path", cfg.Database.Path)

	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	mqttClient.SetLogger(log)
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
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	var telemetry control4.TelemetryWriter
	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(ctx, cfg.InfluxDB)
		if influxErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", influxErr)
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

	dirCfg := bridgeCfg.DirectorConfig()
	tokens, err := director.NewTokenSource(dirCfg)
	if err != nil {
		return fmt.Errorf("director credentials: %w", err)
	}
	dirClient, err := director.NewClient(dirCfg, tokens, log)
	if err != nil {
		return fmt.Errorf("creating director client: %w", err)
	}
	stream, err := director.NewStream(dirCfg, tokens, log)
	if err != nil {
		return fmt.Errorf("creating director stream: %w", err)
	}

	bridge, err := control4.NewBridge(control4.BridgeOptions{
		Config:     bridgeCfg,
		MQTTClient: &mqttBridgeAdapter{client: mqttClient},
		Hub:        &hubAdapter{client: dirClient},
		Push:       &pushAdapter{stream: stream},
		Stream:     stream,
		History:    history,
		Telemetry:  telemetry,
		Version:    version,
		Logger:     log,
	})
	if err != nil {
		return fmt.Errorf("creating Control4 bridge: %w", err)
	}

	// Devices are seeded before the stream connects; a reconnect means
	// pushes may have been missed, so every device is re-read.
	stream.SetOnConnect(func(reconnect bool) {
		if reconnect {
			bridge.RequestResync()
		}
	})

	if err := bridge.Start(ctx); err != nil {
		return fmt.Errorf("starting Control4 bridge: %w", err)
	}
	defer func() {
		log.Info("stopping Control4 bridge")
		bridge.Stop()
	}()
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected, republishing state")
		bridge.RequestResync()
	})
	log.Info("Control4 bridge started", "devices", len(bridge.Devices()))

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		control4.NewMetricsCollector(bridge),
	)

	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer, err = api.New(api.Deps{
			Config:   cfg.API,
			Security: cfg.Security,
			Logger:   log,
			Bridge:   bridge,
			History:  history,
			Audit:    audit.NewSQLiteRepository(db.DB),
			MQTT:     mqttClient,
			DB:       db.DB,
			Gatherer: registry,
			Version:  version,
		})
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		if err := apiServer.Start(ctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		defer func() {
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("HTTP API disabled")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return stream.Run(gctx)
	})
	g.Go(func() error {
		pruneHistory(gctx, history, cfg.GetRetention(), cfg.GetPruneInterval(), log)
		return nil
	})

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	if err := g.Wait(); err != nil {
		log.Error("background task failed", "error", err)
	}

	log.Info("Control4 bridge stopped")
	return nil
}

// getConfigPath returns GRAYLOGIC_CONFIG if set, otherwise the default.
func getConfigPath() string {
	if path := os.Getenv("GRAYLOGIC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// historyPruner is the part of the history repository the prune loop uses.
type historyPruner interface {
	PruneHistory(ctx context.Context, retention time.Duration) (int64, error)
}

// pruneHistory removes rows older than retention every interval until ctx
// is cancelled. A zero retention keeps history forever.
func pruneHistory(ctx context.Context, repo historyPruner, retention, interval time.Duration, log *logging.Logger) {
	if retention <= 0 {
		log.Info("state history retention disabled")
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		pruned, err := repo.PruneHistory(ctx, retention)
		switch {
		case err != nil && ctx.Err() == nil:
			log.Error("pruning state history", "error", err)
		case pruned > 0:
			log.Info("pruned state history", "rows", pruned)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// mqttBridgeAdapter adapts the infrastructure MQTT client to the bridge's
// MQTTClient interface. Infrastructure handlers return an error; bridge
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

func (a *mqttBridgeAdapter) IsConnected() bool {
	return a.client.IsConnected()
}

// directorClient is the director REST surface the hub adapter wraps.
type directorClient interface {
	ItemVariables(ctx context.Context, itemID int) (map[string]any, error)
	Thermostat(itemID int) *director.Thermostat
	Fan(itemID int) *director.Fan
}

// hubAdapter exposes the director client as a control4.Hub.
type hubAdapter struct {
	client directorClient
}

func (h *hubAdapter) ItemVariables(ctx context.Context, itemID int) (map[string]any, error) {
	return h.client.ItemVariables(ctx, itemID)
}

func (h *hubAdapter) ClimateCommands(itemID int) control4.ClimateCommander {
	return h.client.Thermostat(itemID)
}

func (h *hubAdapter) FanCommands(itemID int) control4.FanCommander {
	return h.client.Fan(itemID)
}

// eventSource is the director stream surface the push adapter wraps.
type eventSource interface {
	Subscribe(itemID int, h director.Handler) (unsubscribe func())
}

// pushAdapter converts director events into bridge push messages.
type pushAdapter struct {
	stream eventSource
}

func (p *pushAdapter) Subscribe(itemID int, handler func(control4.PushMessage)) func() {
	return p.stream.Subscribe(itemID, func(ev director.Event) {
		handler(pushMessage(ev))
	})
}

// pushMessage maps a director event onto a bridge push message.
func pushMessage(ev director.Event) control4.PushMessage {
	if ev.Disconnect {
		return control4.DisconnectMessage()
	}
	return control4.PushMessage{
		EventName: ev.Name,
		DeviceID:  ev.ItemID,
		Time:      ev.Time,
		Data:      ev.Data,
	}
}
