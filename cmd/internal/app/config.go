package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"batepapo/cmd/internal/realtime"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StoreMongo    = "mongo"
	StorePostgres = "postgres"
)

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	MaxBodyBytes      int64

	// Store is one of StoreMemory, StoreMongo or StorePostgres. When left
	// empty, LoadConfig infers it from whichever URL is set.
	Store string

	MongoURI string
	MongoDB  string

	DatabaseURL string
	DBSchema    string
	DBMaxConns  int32
	DBMinConns  int32

	ReaperInterval    time.Duration
	InactivityTimeout time.Duration

	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int

	// RateLimitRPS <= 0 disables per-client rate limiting.
	RateLimitRPS   float64
	RateLimitBurst int

	MetricsEnabled bool

	// If true:
	// - /readyz returns 503 unless a database backend is configured and reachable.
	ReadinessRequireDB bool

	WSOriginRequired     bool
	WSAllowedOrigins     []string
	WSInsecureSkipVerify bool
	WSSendQueueSize      int
	WSReadIdleTimeout    time.Duration
	WSRateEvents         int
	WSRateWindow         time.Duration
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	cfg := Config{
		HTTPAddr:  EnvString("CHAT_HTTP_ADDR", "0.0.0.0:5000"),
		LogLevel:  EnvString("CHAT_LOG_LEVEL", "info"),
		LogFormat: strings.ToLower(EnvString("CHAT_LOG_FORMAT", "json")),

		ReadHeaderTimeout: EnvDuration("CHAT_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("CHAT_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("CHAT_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("CHAT_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("CHAT_HTTP_MAX_HEADER_BYTES", 1<<20),
		MaxBodyBytes:   int64(EnvInt("CHAT_MAX_BODY_BYTES", 16<<10)),

		Store: strings.ToLower(EnvString("CHAT_STORE", "")),

		MongoURI: EnvString("CHAT_MONGODB_URI", EnvString("MONGODB_URI", "")),
		MongoDB:  EnvString("CHAT_MONGODB_DB", "chat_uol"),

		DatabaseURL: EnvString("CHAT_DATABASE_URL", ""),
		DBSchema:    EnvString("CHAT_DB_SCHEMA", "chat"),
		DBMaxConns:  EnvInt32("CHAT_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("CHAT_DB_MIN_CONNS", 0),

		ReaperInterval:    EnvDuration("CHAT_REAPER_INTERVAL", 15*time.Second),
		InactivityTimeout: EnvDuration("CHAT_INACTIVITY_TIMEOUT", 15*time.Second),

		CORSAllowedOrigins:   EnvCSV("CHAT_CORS_ALLOWED_ORIGINS", []string{"*"}),
		CORSAllowCredentials: EnvBool("CHAT_CORS_ALLOW_CREDENTIALS", false),
		CORSMaxAgeSeconds:    EnvInt("CHAT_CORS_MAX_AGE_SECONDS", 600),

		RateLimitRPS:   EnvFloat("CHAT_RATE_LIMIT_RPS", 20),
		RateLimitBurst: EnvInt("CHAT_RATE_LIMIT_BURST", 40),

		MetricsEnabled:     EnvBool("CHAT_METRICS_ENABLED", true),
		ReadinessRequireDB: EnvBool("CHAT_READINESS_REQUIRE_DB", false),

		WSOriginRequired:     EnvBool("CHAT_WS_ORIGIN_REQUIRED", false),
		WSInsecureSkipVerify: EnvBool("CHAT_WS_INSECURE_SKIP_VERIFY", false),
		WSSendQueueSize:      EnvInt("CHAT_WS_SEND_QUEUE", 64),
		WSReadIdleTimeout:    EnvDuration("CHAT_WS_READ_IDLE_TIMEOUT", 0),
		WSRateEvents:         EnvInt("CHAT_WS_RATE_EVENTS", 30),
		WSRateWindow:         EnvDuration("CHAT_WS_RATE_WINDOW", 10*time.Second),
	}
	cfg.WSAllowedOrigins = EnvCSV("CHAT_WS_ALLOWED_ORIGINS", cfg.CORSAllowedOrigins)

	if cfg.Store == "" {
		cfg.Store = inferStore(cfg)
	}
	return cfg
}

func inferStore(cfg Config) string {
	switch {
	case cfg.MongoURI != "":
		return StoreMongo
	case cfg.DatabaseURL != "":
		return StorePostgres
	default:
		return StoreMemory
	}
}

// Validate rejects configurations the server cannot start with.
func (c Config) Validate() error {
	var errs []error

	switch c.Store {
	case StoreMemory:
	case StoreMongo:
		if c.MongoURI == "" {
			errs = append(errs, errors.New("CHAT_STORE=mongo requires CHAT_MONGODB_URI"))
		}
		if strings.TrimSpace(c.MongoDB) == "" {
			errs = append(errs, errors.New("CHAT_MONGODB_DB must not be empty"))
		}
	case StorePostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("CHAT_STORE=postgres requires CHAT_DATABASE_URL"))
		}
		if c.DBMaxConns > 0 && c.DBMinConns > c.DBMaxConns {
			errs = append(errs, fmt.Errorf("CHAT_DB_MIN_CONNS (%d) exceeds CHAT_DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown CHAT_STORE %q (want memory, mongo or postgres)", c.Store))
	}

	switch c.LogFormat {
	case "", "json", "pretty":
	default:
		errs = append(errs, fmt.Errorf("unknown CHAT_LOG_FORMAT %q (want json or pretty)", c.LogFormat))
	}

	if c.ReadinessRequireDB && c.Store == StoreMemory {
		errs = append(errs, errors.New("CHAT_READINESS_REQUIRE_DB=true needs a database store"))
	}
	if c.CORSAllowCredentials && containsWildcard(c.CORSAllowedOrigins) {
		errs = append(errs, errors.New("CHAT_CORS_ALLOW_CREDENTIALS=true cannot be combined with origin *"))
	}
	return errors.Join(errs...)
}

// GatewayConfig derives the live feed policy.
func (c Config) GatewayConfig() realtime.GatewayConfig {
	g := realtime.DefaultGatewayConfig()
	g.OriginRequired = c.WSOriginRequired
	if len(c.WSAllowedOrigins) > 0 {
		g.AllowedOrigins = c.WSAllowedOrigins
	}
	g.InsecureSkipVerify = c.WSInsecureSkipVerify
	g.ReadIdleTimeout = c.WSReadIdleTimeout
	if c.WSSendQueueSize > 0 {
		g.SendQueueSize = c.WSSendQueueSize
	}
	if c.WSRateEvents > 0 {
		g.RateEvents = c.WSRateEvents
	}
	if c.WSRateWindow > 0 {
		g.RateWindow = c.WSRateWindow
	}
	return g
}

func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if strings.TrimSpace(o) == "*" {
			return true
		}
	}
	return false
}
