// Package config loads secmon configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cast"
)

// EnvProduction is the APP_ENV value that enables strict validation.
const EnvProduction = "production"

// Store drivers.
const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

type Config struct {
	App          AppConfig
	Server       ServerConfig
	Database     DatabaseConfig
	Redis        RedisConfig
	Log          LogConfig
	Monitor      MonitorConfig
	Queue        QueueConfig
	Report       ReportConfig
	AlertForward AlertForwardConfig
	Tracing      TracingConfig
	CORS         CORSConfig
	RateLimit    RateLimitConfig
}

type AppConfig struct {
	Name  string
	Env   string // development, staging or production
	Debug bool
}

type ServerConfig struct {
	Host string
	Port int

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	// MaxBodySize caps request bodies, in bytes.
	MaxBodySize int64
}

// DatabaseConfig selects the store. Connection fields apply to postgres only.
type DatabaseConfig struct {
	Driver string

	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	AutoMigrate     bool

	// SeedTenants are registered as active tenants by the memory store.
	SeedTenants []string
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int

	PoolSize     int
	MinIdleConns int
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	TLSEnabled    bool
	TLSSkipVerify bool

	// JobTTL bounds how long finished scan jobs stay queryable.
	JobTTL        time.Duration
	ScoreCacheTTL time.Duration
	// EventChannel is the pub/sub channel relaying notifier events between instances.
	EventChannel string
}

type LogConfig struct {
	Level          string
	Format         string
	SkipHealthLogs bool
}

// MonitorConfig sets the cadence and tuning of the background cycles.
type MonitorConfig struct {
	Enabled bool

	CheckInterval            time.Duration
	MetricsInterval          time.Duration
	PassiveDiscoveryInterval time.Duration
	DailyReportCron          string

	StaleAssetAge   time.Duration
	CheckAssetLimit int

	DetectorProfile   string
	DetectorSeed      uint64
	ThreatProbability float64

	ScanMaxDuration time.Duration
	NotifierBuffer  int
}

// QueueConfig controls the asynq worker running daily reports.
type QueueConfig struct {
	Enabled     bool
	Concurrency int
}

// ReportConfig archives daily reports to S3. Empty keys fall back to the
// default AWS credential chain.
type ReportConfig struct {
	S3Enabled bool
	Bucket    string
	Region    string
	Prefix    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

type AlertForwardConfig struct {
	Enabled     bool
	Provider    string // slack or webhook
	WebhookURL  string
	Secret      string // signs generic webhook bodies when set
	MinSeverity string
	PerMinute   int
}

type TracingConfig struct {
	Enabled     bool
	Endpoint    string
	Insecure    bool
	SampleRatio float64
}

type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
	MaxAge         int
}

// RateLimitConfig throttles scan starts per tenant.
type RateLimitConfig struct {
	Enabled         bool
	RequestsPerSec  float64
	Burst           int
	CleanupInterval time.Duration
}

// Load reads the environment and validates the result.
func Load() (*Config, error) {
	return load(os.LookupEnv)
}

func load(lookup func(string) (string, bool)) (*Config, error) {
	e := &env{lookup: lookup}

	cfg := &Config{}
	cfg.App = AppConfig{
		Name:  e.str("APP_NAME", "secmon"),
		Env:   e.str("APP_ENV", "development"),
		Debug: e.boolean("APP_DEBUG", false),
	}
	cfg.Server = ServerConfig{
		Host:            e.str("SERVER_HOST", "0.0.0.0"),
		Port:            e.integer("SERVER_PORT", 8080),
		ReadTimeout:     e.duration("SERVER_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    e.duration("SERVER_WRITE_TIMEOUT", 15*time.Second),
		ShutdownTimeout: e.duration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
		MaxBodySize:     int64(e.integer("SERVER_MAX_BODY_SIZE", 1<<20)),
	}
	cfg.Database = DatabaseConfig{
		Driver:          e.str("STORE_DRIVER", StoreDriverPostgres),
		Host:            e.str("DB_HOST", "localhost"),
		Port:            e.integer("DB_PORT", 5432),
		User:            e.str("DB_USER", "secmon"),
		Password:        e.str("DB_PASSWORD", "secret"),
		Name:            e.str("DB_NAME", "secmon"),
		SSLMode:         e.str("DB_SSLMODE", "disable"),
		MaxOpenConns:    e.integer("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    e.integer("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: e.duration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		AutoMigrate:     e.boolean("DB_AUTO_MIGRATE", true),
		SeedTenants:     e.list("STORE_SEED_TENANTS", nil),
	}
	cfg.Redis = RedisConfig{
		Enabled:       e.boolean("REDIS_ENABLED", true),
		Host:          e.str("REDIS_HOST", "localhost"),
		Port:          e.integer("REDIS_PORT", 6379),
		Password:      e.str("REDIS_PASSWORD", ""),
		DB:            e.integer("REDIS_DB", 0),
		PoolSize:      e.integer("REDIS_POOL_SIZE", 10),
		MinIdleConns:  e.integer("REDIS_MIN_IDLE_CONNS", 2),
		MaxRetries:    e.integer("REDIS_MAX_RETRIES", 3),
		DialTimeout:   e.duration("REDIS_DIAL_TIMEOUT", 5*time.Second),
		ReadTimeout:   e.duration("REDIS_READ_TIMEOUT", 3*time.Second),
		WriteTimeout:  e.duration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		TLSEnabled:    e.boolean("REDIS_TLS_ENABLED", false),
		TLSSkipVerify: e.boolean("REDIS_TLS_SKIP_VERIFY", false),
		JobTTL:        e.duration("REDIS_SCAN_JOB_TTL", 24*time.Hour),
		ScoreCacheTTL: e.duration("REDIS_SCORE_CACHE_TTL", 24*time.Hour),
		EventChannel:  e.str("REDIS_EVENT_CHANNEL", "secmon:events"),
	}
	cfg.Log = LogConfig{
		Level:          e.str("LOG_LEVEL", "info"),
		Format:         e.str("LOG_FORMAT", "json"),
		SkipHealthLogs: e.boolean("LOG_SKIP_HEALTH", true),
	}
	cfg.Monitor = MonitorConfig{
		Enabled:                  e.boolean("MONITOR_ENABLED", true),
		CheckInterval:            e.duration("MONITOR_CHECK_INTERVAL", 5*time.Minute),
		MetricsInterval:          e.duration("MONITOR_METRICS_INTERVAL", 30*time.Second),
		PassiveDiscoveryInterval: e.duration("MONITOR_PASSIVE_DISCOVERY_INTERVAL", time.Hour),
		DailyReportCron:          e.str("MONITOR_DAILY_REPORT_CRON", "0 8 * * *"),
		StaleAssetAge:            e.duration("MONITOR_STALE_ASSET_AGE", 7*24*time.Hour),
		CheckAssetLimit:          e.integer("MONITOR_CHECK_ASSET_LIMIT", 5),
		DetectorProfile:          e.str("MONITOR_DETECTOR_PROFILE", ""),
		DetectorSeed:             e.unsigned("MONITOR_DETECTOR_SEED", 0),
		ThreatProbability:        e.float("MONITOR_THREAT_PROBABILITY", 0.05),
		ScanMaxDuration:          e.duration("SCAN_MAX_DURATION", 10*time.Minute),
		NotifierBuffer:           e.integer("NOTIFIER_BUFFER", 256),
	}
	cfg.Queue = QueueConfig{
		Enabled:     e.boolean("QUEUE_ENABLED", true),
		Concurrency: e.integer("QUEUE_CONCURRENCY", 2),
	}
	cfg.Report = ReportConfig{
		S3Enabled: e.boolean("REPORT_S3_ENABLED", false),
		Bucket:    e.str("REPORT_S3_BUCKET", ""),
		Region:    e.str("REPORT_S3_REGION", "us-east-1"),
		Prefix:    e.str("REPORT_S3_PREFIX", "daily-reports"),
		Endpoint:  e.str("REPORT_S3_ENDPOINT", ""),
		AccessKey: e.str("REPORT_S3_ACCESS_KEY", ""),
		SecretKey: e.str("REPORT_S3_SECRET_KEY", ""),
	}
	cfg.AlertForward = AlertForwardConfig{
		Enabled:     e.boolean("ALERT_FORWARD_ENABLED", false),
		Provider:    e.str("ALERT_FORWARD_PROVIDER", "slack"),
		WebhookURL:  e.str("ALERT_FORWARD_WEBHOOK_URL", ""),
		Secret:      e.str("ALERT_FORWARD_SECRET", ""),
		MinSeverity: strings.ToLower(e.str("ALERT_FORWARD_MIN_SEVERITY", "high")),
		PerMinute:   e.integer("ALERT_FORWARD_PER_MINUTE", 30),
	}
	cfg.Tracing = TracingConfig{
		Enabled:     e.boolean("OTEL_ENABLED", false),
		Endpoint:    e.str("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318"),
		Insecure:    e.boolean("OTEL_EXPORTER_OTLP_INSECURE", true),
		SampleRatio: e.float("OTEL_SAMPLE_RATIO", 1.0),
	}
	cfg.CORS = CORSConfig{
		AllowedOrigins: e.list("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		AllowedMethods: e.list("CORS_ALLOWED_METHODS", []string{"GET", "POST", "OPTIONS"}),
		AllowedHeaders: e.list("CORS_ALLOWED_HEADERS", []string{"Accept", "Content-Type", "X-Request-ID", "X-Tenant-ID"}),
		MaxAge:         e.integer("CORS_MAX_AGE", 86400),
	}
	cfg.RateLimit = RateLimitConfig{
		Enabled:         e.boolean("RATE_LIMIT_ENABLED", true),
		RequestsPerSec:  e.float("RATE_LIMIT_RPS", 2),
		Burst:           e.integer("RATE_LIMIT_BURST", 5),
		CleanupInterval: e.duration("RATE_LIMIT_CLEANUP", time.Minute),
	}

	if err := errors.Join(e.errs...); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate reports the first problem found. Production adds stricter rules.
func (c *Config) Validate() error {
	checks := []func() error{
		c.validateServer,
		c.validateStore,
		c.validateLog,
		c.validateMonitor,
		c.validateDependencies,
		c.validateAlertForward,
	}
	if c.IsProduction() {
		checks = append(checks, c.validateProduction)
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT out of range: %d", c.Server.Port)
	}
	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerSec <= 0 || c.RateLimit.Burst <= 0) {
		return errors.New("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive when rate limiting is enabled")
	}
	return nil
}

func (c *Config) validateStore() error {
	switch c.Database.Driver {
	case StoreDriverMemory:
		return nil
	case StoreDriverPostgres:
		if c.Database.Host == "" {
			return errors.New("DB_HOST is required for the postgres store")
		}
		return nil
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q, want postgres or memory", c.Database.Driver)
	}
}

func (c *Config) validateLog() error {
	if !slices.Contains([]string{"debug", "info", "warn", "error"}, strings.ToLower(c.Log.Level)) {
		return fmt.Errorf("unknown LOG_LEVEL %q", c.Log.Level)
	}
	if !slices.Contains([]string{"", "json", "text"}, strings.ToLower(c.Log.Format)) {
		return fmt.Errorf("unknown LOG_FORMAT %q, want json or text", c.Log.Format)
	}
	return nil
}

func (c *Config) validateMonitor() error {
	m := c.Monitor
	switch {
	case m.CheckInterval <= 0, m.MetricsInterval <= 0, m.PassiveDiscoveryInterval <= 0:
		return errors.New("monitor intervals must be positive")
	case m.ScanMaxDuration <= 0:
		return errors.New("SCAN_MAX_DURATION must be positive")
	case m.CheckAssetLimit < 1:
		return fmt.Errorf("MONITOR_CHECK_ASSET_LIMIT must be at least 1, got %d", m.CheckAssetLimit)
	case m.NotifierBuffer < 1:
		return fmt.Errorf("NOTIFIER_BUFFER must be at least 1, got %d", m.NotifierBuffer)
	case m.ThreatProbability < 0 || m.ThreatProbability > 1:
		return fmt.Errorf("MONITOR_THREAT_PROBABILITY must be within [0, 1], got %g", m.ThreatProbability)
	}
	if _, err := cron.ParseStandard(m.DailyReportCron); err != nil {
		return fmt.Errorf("MONITOR_DAILY_REPORT_CRON %q: %w", m.DailyReportCron, err)
	}
	return nil
}

// validateDependencies checks features that need another component enabled.
func (c *Config) validateDependencies() error {
	if c.Queue.Enabled && !c.Redis.Enabled {
		return errors.New("QUEUE_ENABLED requires REDIS_ENABLED")
	}
	if c.Report.S3Enabled && c.Report.Bucket == "" {
		return errors.New("REPORT_S3_ENABLED requires REPORT_S3_BUCKET")
	}
	if r := c.Tracing.SampleRatio; r < 0 || r > 1 {
		return fmt.Errorf("OTEL_SAMPLE_RATIO must be within [0, 1], got %g", r)
	}
	return nil
}

func (c *Config) validateAlertForward() error {
	f := c.AlertForward
	if !f.Enabled {
		return nil
	}
	if f.Provider != "slack" && f.Provider != "webhook" {
		return fmt.Errorf("unknown ALERT_FORWARD_PROVIDER %q, want slack or webhook", f.Provider)
	}
	if f.WebhookURL == "" {
		return errors.New("ALERT_FORWARD_ENABLED requires ALERT_FORWARD_WEBHOOK_URL")
	}
	if !slices.Contains([]string{"low", "medium", "high", "critical"}, f.MinSeverity) {
		return fmt.Errorf("unknown ALERT_FORWARD_MIN_SEVERITY %q", f.MinSeverity)
	}
	if f.PerMinute <= 0 {
		return errors.New("ALERT_FORWARD_PER_MINUTE must be positive")
	}
	return nil
}

func (c *Config) validateProduction() error {
	switch {
	case c.App.Debug:
		return errors.New("APP_DEBUG is not allowed in production")
	case c.Database.Driver != StoreDriverPostgres:
		return errors.New("the memory store is not allowed in production")
	case c.Database.SSLMode == "disable":
		return errors.New("DB_SSLMODE=disable is not allowed in production")
	case c.Redis.Enabled && c.Redis.Password == "":
		return errors.New("REDIS_PASSWORD is required in production")
	case slices.Contains(c.CORS.AllowedOrigins, "*"):
		return errors.New("wildcard CORS origin is not allowed in production")
	}
	return nil
}

// DSN is the lib/pq connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

func (c *RedisConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c *Config) IsDevelopment() bool { return c.App.Env == "development" }

func (c *Config) IsProduction() bool { return c.App.Env == EnvProduction }

// env reads typed values. Unset or empty variables yield the default; values
// that do not parse are collected in errs.
type env struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (e *env) raw(key string) (string, bool) {
	v, ok := e.lookup(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (e *env) str(key, def string) string {
	if v, ok := e.raw(key); ok {
		return v
	}
	return def
}

// parse converts the variable with conv, recording a parse failure.
func parse[T any](e *env, key string, def T, conv func(any) (T, error)) T {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	out, err := conv(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s=%q: %w", key, v, err))
		return def
	}
	return out
}

func (e *env) integer(key string, def int) int {
	return parse(e, key, def, cast.ToIntE)
}

func (e *env) unsigned(key string, def uint64) uint64 {
	return parse(e, key, def, cast.ToUint64E)
}

func (e *env) float(key string, def float64) float64 {
	return parse(e, key, def, cast.ToFloat64E)
}

func (e *env) boolean(key string, def bool) bool {
	return parse(e, key, def, cast.ToBoolE)
}

func (e *env) duration(key string, def time.Duration) time.Duration {
	return parse(e, key, def, cast.ToDurationE)
}

// list splits a comma-separated value, dropping blank items.
func (e *env) list(key string, def []string) []string {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	var out []string
	for item := range strings.SplitSeq(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
