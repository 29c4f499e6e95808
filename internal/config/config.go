// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/interviewd/internal/domain"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	LogLevel    string

	Store      StoreConfig
	Capability CapabilityConfig
	HTTP       HTTPConfig
	AuditLog   AuditLogConfig
	Tracing    TracingConfig

	RedisURL       string
	LockTTL        time.Duration
	NATSURL        string
	QuestionSetDir string
	WatchSets      bool

	OpenSettings  domain.Settings
	FixedSettings domain.Settings
	Attributes    []string
	OpenIntro     string
	MaxSteps      int
	ReplayWindow  time.Duration
}

// StoreConfig selects and tunes the checkpoint backend.
type StoreConfig struct {
	Driver string // sqlite, postgres or memory
	Path   string // sqlite file
	DSN    string // postgres
	// MaxConns is the number of backend connections advances may hold.
	MaxConns int
	// Headroom is reserved for the sweeper and readers.
	Headroom int
	// BackendLimit is the most connections the backend accepts.
	BackendLimit  int
	OpTimeout     time.Duration
	SessionTTL    time.Duration
	SweepInterval time.Duration
	PendingTTL    time.Duration
}

// CapabilityConfig points at the extraction service.
type CapabilityConfig struct {
	Addr           string
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
	CallTimeout    time.Duration
	PrefillWorkers int
	CacheTTL       time.Duration
}

// HTTPConfig tunes the API handlers.
type HTTPConfig struct {
	MaxRequestBodySize int64
	KeepaliveInterval  time.Duration
	RetryDelay         time.Duration
	RateLimit          int
	RateWindow         time.Duration
	ShutdownTimeout    time.Duration
}

// AuditLogConfig controls NDJSON turn logging.
type AuditLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
	MaxSizeMB     int
	MaxBackups    int
	MaxAgeDays    int
}

// TracingConfig controls OpenTelemetry export.
type TracingConfig struct {
	Enabled     bool
	Endpoint    string
	ServiceName string
}

var defaultAttributes = []string{"duration", "depth", "autonomy", "scale", "constraints", "production_vs_prototype"}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("AUDIT_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		Store: StoreConfig{
			Driver:        strings.ToLower(getEnv("STORE_DRIVER", "sqlite")),
			Path:          getEnv("DB_PATH", "./data/interviews.db"),
			DSN:           getEnv("DATABASE_URL", ""),
			MaxConns:      getEnvInt("STORE_MAX_CONNS", 8),
			Headroom:      getEnvInt("STORE_HEADROOM", 2),
			BackendLimit:  getEnvInt("STORE_BACKEND_LIMIT", 16),
			OpTimeout:     getEnvDuration("STORE_OP_TIMEOUT", 15*time.Second),
			SessionTTL:    getEnvDuration("SESSION_TTL", 7*24*time.Hour),
			SweepInterval: getEnvDuration("SWEEP_INTERVAL", time.Hour),
			PendingTTL:    getEnvDuration("PENDING_TTL", 30*time.Minute),
		},
		Capability: CapabilityConfig{
			Addr:           getEnv("CAPABILITY_ADDR", "localhost:50051"),
			ConnectTimeout: getEnvDuration("CAPABILITY_CONNECT_TIMEOUT", 5*time.Second),
			RequestTimeout: getEnvDuration("CAPABILITY_REQUEST_TIMEOUT", 45*time.Second),
			CallTimeout:    getEnvDuration("CAPABILITY_CALL_TIMEOUT", 30*time.Second),
			PrefillWorkers: getEnvInt("PREFILL_WORKERS", 4),
			CacheTTL:       getEnvDuration("PREFILL_CACHE_TTL", time.Hour),
		},
		HTTP: HTTPConfig{
			MaxRequestBodySize: int64(getEnvInt("MAX_REQUEST_BODY_BYTES", 1<<20)),
			KeepaliveInterval:  getEnvDuration("SSE_KEEPALIVE_INTERVAL", 10*time.Second),
			RetryDelay:         getEnvDuration("SSE_RETRY_DELAY", 5*time.Second),
			RateLimit:          getEnvInt("RATE_LIMIT", 30),
			RateWindow:         getEnvDuration("RATE_WINDOW", time.Minute),
			ShutdownTimeout:    getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		AuditLog: AuditLogConfig{
			Enabled:       getEnvBool("AUDIT_LOG_ENABLED", true),
			Dir:           getEnv("AUDIT_LOG_DIR", "./data/logs/interviews"),
			GlobalEnabled: getEnvBool("AUDIT_LOG_GLOBAL_ENABLED", false),
			GlobalPath:    getEnv("AUDIT_LOG_GLOBAL_PATH", "./data/logs/interviews/all.ndjson"),
			QueueSize:     queueSize,
			MaxSizeMB:     getEnvInt("AUDIT_LOG_MAX_SIZE_MB", 100),
			MaxBackups:    getEnvInt("AUDIT_LOG_MAX_BACKUPS", 5),
			MaxAgeDays:    getEnvInt("AUDIT_LOG_MAX_AGE_DAYS", 30),
		},
		Tracing: TracingConfig{
			Enabled:     getEnvBool("OTEL_ENABLED", false),
			Endpoint:    getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			ServiceName: getEnv("OTEL_SERVICE_NAME", "interviewd"),
		},
		RedisURL:       getEnv("REDIS_URL", ""),
		LockTTL:        getEnvDuration("LOCK_TTL", 2*time.Minute),
		NATSURL:        getEnv("NATS_URL", ""),
		QuestionSetDir: getEnv("QUESTION_SET_DIR", "./question_sets"),
		WatchSets:      getEnvBool("QUESTION_SET_WATCH", true),
		OpenSettings:   settingsFromEnv("OPEN", domain.ModeOpenEnded),
		FixedSettings:  settingsFromEnv("FIXED", domain.ModeFixed),
		Attributes:     getEnvList("DISCOVERY_ATTRIBUTES", defaultAttributes),
		OpenIntro:      getEnv("OPEN_INTRO", ""),
		MaxSteps:       getEnvInt("GRAPH_MAX_STEPS", 64),
		ReplayWindow:   getEnvDuration("REPLAY_WINDOW", 2*time.Minute),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// settingsFromEnv overlays <PREFIX>_* variables on the mode defaults.
func settingsFromEnv(prefix string, mode domain.Mode) domain.Settings {
	s := domain.DefaultSettings(mode)
	s.MinCompleteness = getEnvFloat(prefix+"_MIN_COMPLETENESS", s.MinCompleteness)
	s.MaxProbes = getEnvInt(prefix+"_MAX_PROBES", s.MaxProbes)
	s.DisengageAfter = getEnvInt("DISENGAGE_AFTER", s.DisengageAfter)
	s.PrefillConfidence = getEnvFloat("PREFILL_CONFIDENCE", s.PrefillConfidence)
	return s
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	switch c.Store.Driver {
	case "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("DB_PATH cannot be empty")
		}
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres driver")
		}
	case "memory":
	default:
		return fmt.Errorf("STORE_DRIVER %q is not one of sqlite, postgres, memory", c.Store.Driver)
	}
	if c.Store.MaxConns <= 0 {
		return fmt.Errorf("STORE_MAX_CONNS must be > 0")
	}
	if c.Store.Headroom < 0 {
		return fmt.Errorf("STORE_HEADROOM must be >= 0")
	}
	if c.Store.MaxConns+c.Store.Headroom > c.Store.BackendLimit {
		return fmt.Errorf("STORE_MAX_CONNS (%d) + STORE_HEADROOM (%d) exceeds STORE_BACKEND_LIMIT (%d)",
			c.Store.MaxConns, c.Store.Headroom, c.Store.BackendLimit)
	}
	if c.Store.OpTimeout <= 0 {
		return fmt.Errorf("STORE_OP_TIMEOUT must be > 0")
	}
	if c.Capability.Addr == "" {
		return fmt.Errorf("CAPABILITY_ADDR cannot be empty")
	}
	if c.Capability.PrefillWorkers <= 0 {
		return fmt.Errorf("PREFILL_WORKERS must be > 0")
	}
	if c.HTTP.KeepaliveInterval <= 0 {
		return fmt.Errorf("SSE_KEEPALIVE_INTERVAL must be > 0")
	}
	if c.HTTP.RateLimit <= 0 {
		return fmt.Errorf("RATE_LIMIT must be > 0")
	}
	if c.AuditLog.Dir == "" {
		return fmt.Errorf("AUDIT_LOG_DIR cannot be empty")
	}
	if c.AuditLog.GlobalPath == "" {
		return fmt.Errorf("AUDIT_LOG_GLOBAL_PATH cannot be empty")
	}
	if c.AuditLog.QueueSize <= 0 {
		return fmt.Errorf("AUDIT_LOG_QUEUE_SIZE must be > 0")
	}
	if len(c.Attributes) == 0 {
		return fmt.Errorf("DISCOVERY_ATTRIBUTES cannot be empty")
	}
	if err := c.OpenSettings.Validate(); err != nil {
		return fmt.Errorf("open-ended settings: %w", err)
	}
	if err := c.FixedSettings.Validate(); err != nil {
		return fmt.Errorf("fixed settings: %w", err)
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AllowedOrigins returns the CORS and WebSocket origin list.
func (c *Config) AllowedOrigins() []string {
	if c.IsDevelopment() {
		return []string{"*"}
	}
	return []string{c.FrontendURL}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
