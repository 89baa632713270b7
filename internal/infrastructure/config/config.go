package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Vigil Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site        SiteConfig        `yaml:"site"`
	Database    DatabaseConfig    `yaml:"database"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	Chat        ChatConfig        `yaml:"chat"`
	API         APIConfig         `yaml:"api"`
	WebSocket   WebSocketConfig   `yaml:"websocket"`
	InfluxDB    InfluxDBConfig    `yaml:"influxdb"`
	Mail        MailConfig        `yaml:"mail"`
	Logging     LoggingConfig     `yaml:"logging"`
	Guard       GuardConfig       `yaml:"guard"`
	Correlation CorrelationConfig `yaml:"correlation"`
	Bengala     BengalaConfig     `yaml:"bengala"`
	Scheduler   SchedulerConfig   `yaml:"scheduler"`
	Devices     DevicesConfig     `yaml:"devices"`
	Security    SecurityConfig    `yaml:"security"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// ChatConfig contains chat-transport (Telegram) settings.
type ChatConfig struct {
	// Token is the bot API token. Always override via VIGIL_CHAT_TOKEN.
	Token string `yaml:"token"`

	// BotUsername is used to build invite deep links (t.me/{username}?start=CODE).
	BotUsername string `yaml:"bot_username"`

	// AdminChatIDs are operator identities bootstrapped with the admin role.
	AdminChatIDs []int64 `yaml:"admin_chat_ids"`

	// PollTimeout is the long-poll timeout in seconds.
	PollTimeout int `yaml:"poll_timeout"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// WebSocketConfig contains WebSocket event feed settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings for telemetry history.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// MailConfig contains SMTP settings for alarm alert emails.
// Disabled by default; chat remains the primary notification channel.
type MailConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Host     string   `yaml:"host"`
	Port     int      `yaml:"port"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	From     string   `yaml:"from"`
	To       []string `yaml:"to"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// GuardConfig contains anti-flood settings.
type GuardConfig struct {
	// CooldownSeconds is the minimum gap between accepted invocations of
	// the same gated command by the same operator.
	CooldownSeconds int `yaml:"cooldown_seconds"`

	// DedupWindowSeconds is the trailing window for suppressing exact
	// duplicate outbound messages to the same recipient.
	DedupWindowSeconds int `yaml:"dedup_window_seconds"`

	// DedupHistory is the number of recent (recipient, text) pairs kept.
	DedupHistory int `yaml:"dedup_history"`
}

// CorrelationConfig contains device request/reply timing settings.
type CorrelationConfig struct {
	// WaitSeconds is the default time to wait for a device reply.
	WaitSeconds int `yaml:"wait_seconds"`

	// ExtendedWaitSeconds applies to heavier operations (manual trigger,
	// config push).
	ExtendedWaitSeconds int `yaml:"extended_wait_seconds"`
}

// BengalaConfig contains deterrent coordinator settings.
type BengalaConfig struct {
	// ConfirmExpirySeconds is how long an ask-mode confirmation stays open.
	ConfirmExpirySeconds int `yaml:"confirm_expiry_seconds"`

	// ReminderIntervalSeconds is the gap between reminder notifications
	// while a confirmation is open and the alarm remains active.
	ReminderIntervalSeconds int `yaml:"reminder_interval_seconds"`

	// ModeSyncGraceSeconds protects a locally changed mode from being
	// overwritten by stale telemetry that has not yet caught up.
	ModeSyncGraceSeconds int `yaml:"mode_sync_grace_seconds"`
}

// SchedulerConfig contains automatic arm/disarm settings.
type SchedulerConfig struct {
	// TickSeconds is the evaluation resolution. Schedules match on whole
	// minutes, so values above 60 will skip transitions.
	TickSeconds int `yaml:"tick_seconds"`
}

// DevicesConfig contains device liveness and offline queue settings.
type DevicesConfig struct {
	// OfflineAfterSeconds marks a device stale after this long without telemetry.
	OfflineAfterSeconds int `yaml:"offline_after_seconds"`

	// OfflineQueueMaxAgeHours discards queued config commands older than this.
	OfflineQueueMaxAgeHours int `yaml:"offline_queue_max_age_hours"`
}

// SecurityConfig contains ops API security settings.
type SecurityConfig struct {
	JWT   JWTConfig        `yaml:"jwt"`
	Admin AdminCredsConfig `yaml:"admin"`
}

// JWTConfig contains JWT token settings.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"`
}

// AdminCredsConfig contains the ops API login credentials.
type AdminCredsConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: VIGIL_SECTION_KEY
// For example: VIGIL_DATABASE_PATH, VIGIL_CHAT_TOKEN
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:       "site-001",
			Name:     "Vigil",
			Timezone: "UTC",
		},
		Database: DatabaseConfig{
			Path:        "./data/vigil.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "vigil-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		Chat: ChatConfig{
			PollTimeout: 30,
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/api/events/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Guard: GuardConfig{
			CooldownSeconds:    8,
			DedupWindowSeconds: 15,
			DedupHistory:       32,
		},
		Correlation: CorrelationConfig{
			WaitSeconds:         5,
			ExtendedWaitSeconds: 7,
		},
		Bengala: BengalaConfig{
			ConfirmExpirySeconds:    120,
			ReminderIntervalSeconds: 30,
			ModeSyncGraceSeconds:    300,
		},
		Scheduler: SchedulerConfig{
			TickSeconds: 60,
		},
		Devices: DevicesConfig{
			OfflineAfterSeconds:     90,
			OfflineQueueMaxAgeHours: 24,
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 15,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: VIGIL_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("VIGIL_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("VIGIL_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("VIGIL_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("VIGIL_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Chat - bot token (IMPORTANT: always override in production)
	if v := os.Getenv("VIGIL_CHAT_TOKEN"); v != "" {
		cfg.Chat.Token = v
	}

	// API
	if v := os.Getenv("VIGIL_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("VIGIL_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Mail
	if v := os.Getenv("VIGIL_MAIL_PASSWORD"); v != "" {
		cfg.Mail.Password = v
	}

	// Security - JWT secret (IMPORTANT: always override in production)
	if v := os.Getenv("VIGIL_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration for errors and security issues.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.Chat.Token == "" {
		errs = append(errs, "chat.token is required (set VIGIL_CHAT_TOKEN environment variable)")
	}

	if c.API.Enabled {
		if c.API.Port < 1 || c.API.Port > 65535 {
			errs = append(errs, "api.port must be between 1 and 65535")
		}

		// The ops API controls physical security devices; an empty or weak
		// secret would allow forged tokens.
		const minJWTSecretLength = 32
		if c.Security.JWT.Secret == "" {
			errs = append(errs, "security.jwt.secret is required (set VIGIL_JWT_SECRET environment variable)")
		} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
			errs = append(errs, "security.jwt.secret must be at least 32 characters")
		}
	}

	if c.Guard.CooldownSeconds < 0 {
		errs = append(errs, "guard.cooldown_seconds must not be negative")
	}

	if c.Correlation.WaitSeconds < 1 {
		errs = append(errs, "correlation.wait_seconds must be at least 1")
	}
	if c.Correlation.ExtendedWaitSeconds < c.Correlation.WaitSeconds {
		errs = append(errs, "correlation.extended_wait_seconds must not be below correlation.wait_seconds")
	}

	if c.Scheduler.TickSeconds < 1 || c.Scheduler.TickSeconds > 60 {
		errs = append(errs, "scheduler.tick_seconds must be between 1 and 60")
	}

	if c.Mail.Enabled {
		if c.Mail.Host == "" {
			errs = append(errs, "mail.host is required when mail is enabled")
		}
		if len(c.Mail.To) == 0 {
			errs = append(errs, "mail.to must list at least one recipient when mail is enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// GetCooldown returns the anti-flood cooldown window as a Duration.
func (c *Config) GetCooldown() time.Duration {
	return time.Duration(c.Guard.CooldownSeconds) * time.Second
}

// GetDedupWindow returns the outbound de-duplication window as a Duration.
func (c *Config) GetDedupWindow() time.Duration {
	return time.Duration(c.Guard.DedupWindowSeconds) * time.Second
}

// GetCorrelationWait returns the default device reply wait as a Duration.
func (c *Config) GetCorrelationWait() time.Duration {
	return time.Duration(c.Correlation.WaitSeconds) * time.Second
}

// GetExtendedCorrelationWait returns the heavy-operation reply wait as a Duration.
func (c *Config) GetExtendedCorrelationWait() time.Duration {
	return time.Duration(c.Correlation.ExtendedWaitSeconds) * time.Second
}

// GetConfirmExpiry returns the bengala confirmation expiry as a Duration.
func (c *Config) GetConfirmExpiry() time.Duration {
	return time.Duration(c.Bengala.ConfirmExpirySeconds) * time.Second
}

// GetReminderInterval returns the bengala reminder interval as a Duration.
func (c *Config) GetReminderInterval() time.Duration {
	return time.Duration(c.Bengala.ReminderIntervalSeconds) * time.Second
}

// GetModeSyncGrace returns the bengala mode telemetry grace as a Duration.
func (c *Config) GetModeSyncGrace() time.Duration {
	return time.Duration(c.Bengala.ModeSyncGraceSeconds) * time.Second
}

// GetSchedulerTick returns the scheduler evaluation interval as a Duration.
func (c *Config) GetSchedulerTick() time.Duration {
	return time.Duration(c.Scheduler.TickSeconds) * time.Second
}

// GetOfflineAfter returns the device liveness window as a Duration.
func (c *Config) GetOfflineAfter() time.Duration {
	return time.Duration(c.Devices.OfflineAfterSeconds) * time.Second
}

// GetOfflineQueueMaxAge returns the offline command queue retention as a Duration.
func (c *Config) GetOfflineQueueMaxAge() time.Duration {
	return time.Duration(c.Devices.OfflineQueueMaxAgeHours) * time.Hour
}
