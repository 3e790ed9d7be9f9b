package core

import (
	"fmt"
	"strings"
	"time"
)

const (
	ManifestModeLegacy = "legacy"
	ManifestModeConfig = "config"

	QueueBackendMemory = "memory"
	QueueBackendAsynq  = "asynq"
	QueueBackendGoJob  = "gojob"

	ExecutorModeLocal = "local"
	ExecutorModeHTTP  = "http"
)

type ManifestConfig struct {
	Mode          string `koanf:"mode" mapstructure:"mode"`
	RoutesJSON    string `koanf:"routes_json" mapstructure:"routes_json"`
	SchedulesJSON string `koanf:"schedules_json" mapstructure:"schedules_json"`
}

type EnablementConfig struct {
	EnabledRoutes     []string `koanf:"enabled_routes" mapstructure:"enabled_routes"`
	DisabledRoutes    []string `koanf:"disabled_routes" mapstructure:"disabled_routes"`
	EnabledSchedules  []string `koanf:"enabled_schedules" mapstructure:"enabled_schedules"`
	DisabledSchedules []string `koanf:"disabled_schedules" mapstructure:"disabled_schedules"`
}

type AuthConfig struct {
	Token           string `koanf:"token" mapstructure:"token"`
	HMACSecret      string `koanf:"hmac_secret" mapstructure:"hmac_secret"`
	MaxSkewSeconds  int    `koanf:"max_skew_seconds" mapstructure:"max_skew_seconds"`
	TokenHeader     string `koanf:"token_header" mapstructure:"token_header"`
	SignatureHeader string `koanf:"signature_header" mapstructure:"signature_header"`
	TimestampHeader string `koanf:"timestamp_header" mapstructure:"timestamp_header"`
}

func (c AuthConfig) MaxSkew() time.Duration {
	return time.Duration(c.MaxSkewSeconds) * time.Second
}

type RouteRateLimit struct {
	RequestsPerMinute int `koanf:"requests_per_minute" mapstructure:"requests_per_minute"`
	Burst             int `koanf:"burst" mapstructure:"burst"`
}

type RateLimitConfig struct {
	RequestsPerMinute int                       `koanf:"requests_per_minute" mapstructure:"requests_per_minute"`
	Burst             int                       `koanf:"burst" mapstructure:"burst"`
	Routes            map[string]RouteRateLimit `koanf:"routes" mapstructure:"routes"`
	RedisAddr         string                    `koanf:"redis_addr" mapstructure:"redis_addr"`
}

type SyncConfig struct {
	TimeoutMS int `koanf:"timeout_ms" mapstructure:"timeout_ms"`
}

func (c SyncConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

type QueueConfig struct {
	Backend       string `koanf:"backend" mapstructure:"backend"`
	RedisAddr     string `koanf:"redis_addr" mapstructure:"redis_addr"`
	RedisPassword string `koanf:"redis_password" mapstructure:"redis_password"`
	RedisDB       int    `koanf:"redis_db" mapstructure:"redis_db"`
	MaxAttempts   int    `koanf:"max_attempts" mapstructure:"max_attempts"`
	Concurrency   int    `koanf:"concurrency" mapstructure:"concurrency"`
}

type ExecutorConfig struct {
	Mode      string `koanf:"mode" mapstructure:"mode"`
	URL       string `koanf:"url" mapstructure:"url"`
	Token     string `koanf:"token" mapstructure:"token"`
	TimeoutMS int    `koanf:"timeout_ms" mapstructure:"timeout_ms"`
}

func (c ExecutorConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

type StoreConfig struct {
	Driver string `koanf:"driver" mapstructure:"driver"`
	DSN    string `koanf:"dsn" mapstructure:"dsn"`
	Debug  bool   `koanf:"debug" mapstructure:"debug"`
}

// HTTPConfig.TrustProxyHeaders takes the client address from
// X-Forwarded-For or X-Real-IP. Enable it only behind a proxy that overwrites
// those headers; otherwise callers can pick their own rate limit bucket.
type HTTPConfig struct {
	Addr              string `koanf:"addr" mapstructure:"addr"`
	TrustProxyHeaders bool   `koanf:"trust_proxy_headers" mapstructure:"trust_proxy_headers"`
}

// Config is resolved once and handed to components by value. Use Clone
// before retaining slices or maps.
type Config struct {
	ServiceName      string           `koanf:"service_name" mapstructure:"service_name"`
	DefaultWorkspace string           `koanf:"default_workspace" mapstructure:"default_workspace"`
	Manifest         ManifestConfig   `koanf:"manifest" mapstructure:"manifest"`
	Enablement       EnablementConfig `koanf:"enablement" mapstructure:"enablement"`
	Auth             AuthConfig       `koanf:"auth" mapstructure:"auth"`
	RateLimit        RateLimitConfig  `koanf:"rate_limit" mapstructure:"rate_limit"`
	Sync             SyncConfig       `koanf:"sync" mapstructure:"sync"`
	Queue            QueueConfig      `koanf:"queue" mapstructure:"queue"`
	Executor         ExecutorConfig   `koanf:"executor" mapstructure:"executor"`
	Store            StoreConfig      `koanf:"store" mapstructure:"store"`
	HTTP             HTTPConfig       `koanf:"http" mapstructure:"http"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName:      "dispatch",
		DefaultWorkspace: DefaultWorkspaceID,
		Manifest: ManifestConfig{
			Mode: ManifestModeLegacy,
		},
		Auth: AuthConfig{
			MaxSkewSeconds:  300,
			TokenHeader:     "X-Dispatch-Token",
			SignatureHeader: "X-Dispatch-Signature",
			TimestampHeader: "X-Dispatch-Timestamp",
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 120,
			Burst:             0,
			Routes:            map[string]RouteRateLimit{},
		},
		Sync: SyncConfig{
			TimeoutMS: 25000,
		},
		Queue: QueueConfig{
			Backend:     QueueBackendMemory,
			MaxAttempts: 5,
			Concurrency: 4,
		},
		Executor: ExecutorConfig{
			Mode:      ExecutorModeLocal,
			TimeoutMS: 30000,
		},
		Store: StoreConfig{
			Driver: "sqlite3",
			DSN:    "file:dispatch.db?cache=shared&_foreign_keys=on",
		},
		HTTP: HTTPConfig{
			Addr: ":8080",
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	switch strings.TrimSpace(strings.ToLower(c.Manifest.Mode)) {
	case "", ManifestModeLegacy, ManifestModeConfig:
	default:
		return fmt.Errorf("core: unsupported manifest mode %q", c.Manifest.Mode)
	}
	if c.Auth.MaxSkewSeconds < 0 {
		return fmt.Errorf("core: auth.max_skew_seconds must not be negative")
	}
	if c.RateLimit.RequestsPerMinute < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("core: rate_limit values must not be negative")
	}
	for path, limit := range c.RateLimit.Routes {
		if limit.RequestsPerMinute < 0 || limit.Burst < 0 {
			return fmt.Errorf("core: rate_limit.routes[%s] values must not be negative", path)
		}
	}
	if c.Sync.TimeoutMS < 0 {
		return fmt.Errorf("core: sync.timeout_ms must not be negative")
	}
	switch strings.TrimSpace(strings.ToLower(c.Queue.Backend)) {
	case "", QueueBackendMemory, QueueBackendAsynq, QueueBackendGoJob:
	default:
		return fmt.Errorf("core: unsupported queue backend %q", c.Queue.Backend)
	}
	switch strings.TrimSpace(strings.ToLower(c.Executor.Mode)) {
	case "", ExecutorModeLocal:
	case ExecutorModeHTTP:
		if strings.TrimSpace(c.Executor.URL) == "" {
			return fmt.Errorf("core: executor.url is required in http mode")
		}
	default:
		return fmt.Errorf("core: unsupported executor mode %q", c.Executor.Mode)
	}
	return nil
}

// ManifestMode reports the normalized mode, defaulting to legacy.
func (c Config) ManifestMode() string {
	mode := strings.TrimSpace(strings.ToLower(c.Manifest.Mode))
	if mode == "" {
		return ManifestModeLegacy
	}
	return mode
}

func (c Config) Clone() Config {
	out := c
	out.Enablement = EnablementConfig{
		EnabledRoutes:     append([]string(nil), c.Enablement.EnabledRoutes...),
		DisabledRoutes:    append([]string(nil), c.Enablement.DisabledRoutes...),
		EnabledSchedules:  append([]string(nil), c.Enablement.EnabledSchedules...),
		DisabledSchedules: append([]string(nil), c.Enablement.DisabledSchedules...),
	}
	out.RateLimit.Routes = make(map[string]RouteRateLimit, len(c.RateLimit.Routes))
	for path, limit := range c.RateLimit.Routes {
		out.RateLimit.Routes[path] = limit
	}
	return out
}
