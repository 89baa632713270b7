// Vigil - alarm controller coordination service
//
// Vigil bridges physical alarm controllers on the MQTT device bus with
// operators on the chat bus. It tracks controller state, correlates
// commands with replies, drives the bengala deterrent flow, runs arm
// and disarm schedules, and serves a small ops API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/vigil-core/internal/api"
	"github.com/nerrad567/vigil-core/internal/audit"
	"github.com/nerrad567/vigil-core/internal/bengala"
	"github.com/nerrad567/vigil-core/internal/chat"
	"github.com/nerrad567/vigil-core/internal/correlation"
	"github.com/nerrad567/vigil-core/internal/device"
	"github.com/nerrad567/vigil-core/internal/dispatch"
	"github.com/nerrad567/vigil-core/internal/enroll"
	"github.com/nerrad567/vigil-core/internal/guard"
	"github.com/nerrad567/vigil-core/internal/infrastructure/config"
	"github.com/nerrad567/vigil-core/internal/infrastructure/database"
	"github.com/nerrad567/vigil-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/vigil-core/internal/infrastructure/logging"
	"github.com/nerrad567/vigil-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/vigil-core/internal/ingest"
	"github.com/nerrad567/vigil-core/internal/notify"
	"github.com/nerrad567/vigil-core/internal/operator"
	"github.com/nerrad567/vigil-core/internal/pending"
	"github.com/nerrad567/vigil-core/internal/schedule"
	"github.com/nerrad567/vigil-core/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// pendingSweepInterval is how often expired prompts are reaped.
const pendingSweepInterval = 30 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for
// testability. Returning an error allows main to handle exit codes
// consistently.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Vigil",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
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

	db, err := database.Open(database.Config{
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
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx, migrations.Files()); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	applied, err := db.Applied(ctx)
	if err != nil {
		return fmt.Errorf("reading migration state: %w", err)
	}
	log.Info("database migrations complete", "applied", len(applied))

	// Repositories share the one SQLite handle
	deviceRepo := device.NewSQLiteRepository(db.DB)
	operatorRepo := operator.NewSQLiteRepository(db.DB)
	scheduleRepo := schedule.NewSQLiteRepository(db.DB)
	enrollRepo := enroll.NewSQLiteRepository(db.DB)
	auditRepo := audit.NewSQLiteRepository(db.DB)

	// Seed configured admins so a fresh deployment can issue invites.
	seeded, err := operator.SeedAdmins(ctx, operatorRepo, cfg.Chat.AdminChatIDs)
	if err != nil {
		return fmt.Errorf("seeding admin operators: %w", err)
	}
	if seeded > 0 {
		log.Info("admin operators seeded", "count", seeded)
	}

	// Device registry: cached state over the repository
	modeSyncGrace := time.Duration(cfg.Bengala.ModeSyncGraceSeconds) * time.Second
	registry := device.NewRegistry(deviceRepo, modeSyncGrace)
	registry.SetLogger(log)
	if refreshErr := registry.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading device registry: %w", refreshErr)
	}
	log.Info("device registry initialised", "devices", registry.GetStats().CachedDevices)

	// Connect to MQTT broker
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
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
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
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Connect to the chat bus
	chatClient, err := chat.New(cfg.Chat)
	if err != nil {
		return fmt.Errorf("connecting to chat: %w", err)
	}
	chatClient.SetLogger(log)
	log.Info("chat connected", "bot", chatClient.Username())

	// Anti-flood guard and pending prompt store
	antiFlood := guard.New(
		time.Duration(cfg.Guard.CooldownSeconds)*time.Second,
		time.Duration(cfg.Guard.DedupWindowSeconds)*time.Second,
		cfg.Guard.DedupHistory,
	)
	pendings := pending.NewStore()
	go pendings.Run(ctx, pendingSweepInterval)

	// Command correlation over the MQTT bus
	qos := byte(cfg.MQTT.QoS)
	tracker := correlation.NewTracker(mqttClient, qos)
	tracker.SetLogger(log)

	// Ops API server; created before the notifier so audit events can
	// reach its WebSocket feed.
	var apiServer *api.Server
	var broadcaster notify.Broadcaster
	if cfg.API.Enabled {
		apiServer, err = api.New(api.Deps{
			Config:    cfg.API,
			WS:        cfg.WebSocket,
			Security:  cfg.Security,
			Logger:    log,
			Registry:  registry,
			AuditRepo: auditRepo,
			Influx:    influxClient,
			Version:   version,
		})
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		broadcaster = apiServer.Hub()
	} else {
		log.Info("ops API disabled")
	}

	var mailer notify.AlarmMailer
	if cfg.Mail.Enabled {
		m := notify.NewMailer(cfg.Mail)
		m.SetLogger(log)
		mailer = m
		log.Info("alarm mail enabled", "host", cfg.Mail.Host)
	}

	notifier := notify.NewService(chatClient, antiFlood, auditRepo, broadcaster, mailer, operatorRepo)
	notifier.SetLogger(log)

	// Bengala deterrent coordinator
	coordinator := bengala.NewCoordinator(registry, operatorRepo, tracker, deviceRepo, pendings, notifier, bengala.Config{
		ConfirmExpiry:    time.Duration(cfg.Bengala.ConfirmExpirySeconds) * time.Second,
		ReminderInterval: time.Duration(cfg.Bengala.ReminderIntervalSeconds) * time.Second,
		SendTimeout:      time.Duration(cfg.Correlation.WaitSeconds) * time.Second,
	})
	coordinator.SetLogger(log)

	// Operator enrollment
	enrollment := enroll.NewService(enrollRepo, operatorRepo, chatClient.Username())
	enrollment.SetLogger(log)

	// Arm/disarm scheduler
	wait := time.Duration(cfg.Correlation.WaitSeconds) * time.Second
	extendedWait := time.Duration(cfg.Correlation.ExtendedWaitSeconds) * time.Second
	actions := &scheduledActions{
		commander: tracker,
		devices:   registry,
		notifier:  notifier,
		wait:      wait,
	}
	scheduler := schedule.NewScheduler(scheduleRepo, actions, notifier, tracker, registry,
		time.Duration(cfg.Scheduler.TickSeconds)*time.Second, wait)
	scheduler.SetLogger(log)
	go scheduler.Run(ctx)

	// Offline detection
	monitor := device.NewMonitor(registry,
		time.Duration(cfg.Devices.OfflineAfterSeconds)*time.Second,
		func(d device.Device) {
			notifier.Record(ctx, "went_offline", "system", d.ID, "")
			notifier.NotifyDevice(ctx, d.ID, fmt.Sprintf("📴 %s went quiet - no telemetry.", d.Name))
		})
	monitor.SetLogger(log)
	go monitor.Run(ctx)

	// Device bus bridge: events, telemetry, replies, queue replay
	bridge := ingest.New(mqttClient, registry, tracker, coordinator, tracker, deviceRepo, scheduler, notifier, ingest.Config{
		QoS:          qos,
		ReplayMaxAge: time.Duration(cfg.Devices.OfflineQueueMaxAgeHours) * time.Hour,
		ReplayWait:   wait,
	})
	bridge.SetLogger(log)
	if influxClient != nil {
		bridge.SetHistory(influxClient)
	}
	if startErr := bridge.Start(ctx); startErr != nil {
		return fmt.Errorf("starting device bus bridge: %w", startErr)
	}

	// Chat command dispatcher
	dispatcher := dispatch.New(registry, operatorRepo, tracker, coordinator, enrollment, scheduler, pendings, antiFlood, notifier, chatClient, dispatch.Config{
		Wait:         wait,
		ExtendedWait: extendedWait,
		ConfirmTTL:   time.Duration(cfg.Bengala.ConfirmExpirySeconds) * time.Second,
		SelectionTTL: time.Duration(cfg.Bengala.ConfirmExpirySeconds) * time.Second,
	})
	dispatcher.SetLogger(log)

	go func() {
		for upd := range chatClient.Updates(ctx) {
			switch {
			case upd.Message != nil:
				dispatcher.HandleMessage(ctx, *upd.Message)
			case upd.Callback != nil:
				chatClient.AckCallback(upd.Callback.ID)
				dispatcher.HandleCallback(ctx, *upd.Callback)
			}
		}
	}()
	log.Info("chat dispatcher started")

	if apiServer != nil {
		if startErr := apiServer.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			log.Info("stopping API server")
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. API server (if enabled)
	// 2. InfluxDB (if enabled)
	// 3. MQTT
	// 4. Database

	log.Info("Vigil stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses VIGIL_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("VIGIL_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
// influxClient may be nil when disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
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

// scheduledActions executes scheduler-initiated arm and disarm
// transitions. They run as the system actor and skip the per-operator
// cooldown; the controller still confirms every transition.
type scheduledActions struct {
	commander *correlation.Tracker
	devices   *device.Registry
	notifier  *notify.Service
	wait      time.Duration
}

// Arm implements schedule.Actions.
func (a *scheduledActions) Arm(ctx context.Context, deviceID string) error {
	return a.transition(ctx, deviceID, true)
}

// Disarm implements schedule.Actions.
func (a *scheduledActions) Disarm(ctx context.Context, deviceID string) error {
	return a.transition(ctx, deviceID, false)
}

func (a *scheduledActions) transition(ctx context.Context, deviceID string, armed bool) error {
	kind, recorded := "disarm", "disarmed"
	if armed {
		kind, recorded = "arm", "armed"
	}

	results, err := a.commander.Send(ctx, []string{deviceID}, kind, nil, a.wait)
	if err != nil {
		return err
	}
	res := results[0]
	if res.Err != nil {
		return fmt.Errorf("controller unresponsive: %w", res.Err)
	}
	if !res.Reply.OK() {
		return fmt.Errorf("controller refused: %s", res.Reply.Detail)
	}

	if err := a.devices.SetArmed(ctx, deviceID, armed); err != nil {
		return fmt.Errorf("recording armed state: %w", err)
	}
	a.notifier.Record(ctx, recorded, operator.SystemActorID, deviceID, "scheduled")
	return nil
}
