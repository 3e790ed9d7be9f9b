package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-config/cfgx"
	goerrors "github.com/goliatone/go-errors"
	opts "github.com/goliatone/go-options"
)

type ErrorMapper func(err error) *goerrors.Error

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

// LoadConfig resolves defaults, the loader output and runtime overrides into
// one validated Config.
func LoadConfig(ctx context.Context, loader RawConfigLoader, runtime Config) (Config, error) {
	defaults := DefaultConfig()
	loaded, err := NewCfgxConfigProvider(loader).Load(ctx, defaults)
	if err != nil {
		return Config{}, err
	}
	return GoOptionsResolver{}.Resolve(defaults, loaded, runtime)
}

type StaticRawConfigLoader struct {
	Values map[string]any
}

func (l StaticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = StaticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			configToLayerMap(defaults, true),
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			configToLayerMap(loaded, false),
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			configToLayerMap(runtime, false),
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved.Clone(), nil
}

// configToLayerMap emits only the non-zero fields unless includeZero is set,
// so that empty runtime overrides do not mask loaded values.
func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	setString := func(section map[string]any, key string, value string) {
		if includeZero || strings.TrimSpace(value) != "" {
			section[key] = value
		}
	}
	setInt := func(section map[string]any, key string, value int) {
		if includeZero || value != 0 {
			section[key] = value
		}
	}
	setList := func(section map[string]any, key string, values []string) {
		if includeZero || len(values) > 0 {
			section[key] = append([]string(nil), values...)
		}
	}
	nested := func(key string, section map[string]any) {
		if len(section) > 0 {
			layer[key] = section
		}
	}

	setString(layer, "service_name", cfg.ServiceName)
	setString(layer, "default_workspace", cfg.DefaultWorkspace)

	manifest := map[string]any{}
	setString(manifest, "mode", cfg.Manifest.Mode)
	setString(manifest, "routes_json", cfg.Manifest.RoutesJSON)
	setString(manifest, "schedules_json", cfg.Manifest.SchedulesJSON)
	nested("manifest", manifest)

	enablement := map[string]any{}
	setList(enablement, "enabled_routes", cfg.Enablement.EnabledRoutes)
	setList(enablement, "disabled_routes", cfg.Enablement.DisabledRoutes)
	setList(enablement, "enabled_schedules", cfg.Enablement.EnabledSchedules)
	setList(enablement, "disabled_schedules", cfg.Enablement.DisabledSchedules)
	nested("enablement", enablement)

	auth := map[string]any{}
	setString(auth, "token", cfg.Auth.Token)
	setString(auth, "hmac_secret", cfg.Auth.HMACSecret)
	setInt(auth, "max_skew_seconds", cfg.Auth.MaxSkewSeconds)
	setString(auth, "token_header", cfg.Auth.TokenHeader)
	setString(auth, "signature_header", cfg.Auth.SignatureHeader)
	setString(auth, "timestamp_header", cfg.Auth.TimestampHeader)
	nested("auth", auth)

	rateLimit := map[string]any{}
	setInt(rateLimit, "requests_per_minute", cfg.RateLimit.RequestsPerMinute)
	setInt(rateLimit, "burst", cfg.RateLimit.Burst)
	setString(rateLimit, "redis_addr", cfg.RateLimit.RedisAddr)
	if includeZero || len(cfg.RateLimit.Routes) > 0 {
		routes := make(map[string]any, len(cfg.RateLimit.Routes))
		for path, limit := range cfg.RateLimit.Routes {
			routes[path] = map[string]any{
				"requests_per_minute": limit.RequestsPerMinute,
				"burst":               limit.Burst,
			}
		}
		rateLimit["routes"] = routes
	}
	nested("rate_limit", rateLimit)

	syncSection := map[string]any{}
	setInt(syncSection, "timeout_ms", cfg.Sync.TimeoutMS)
	nested("sync", syncSection)

	queueSection := map[string]any{}
	setString(queueSection, "backend", cfg.Queue.Backend)
	setString(queueSection, "redis_addr", cfg.Queue.RedisAddr)
	setString(queueSection, "redis_password", cfg.Queue.RedisPassword)
	setInt(queueSection, "redis_db", cfg.Queue.RedisDB)
	setInt(queueSection, "max_attempts", cfg.Queue.MaxAttempts)
	setInt(queueSection, "concurrency", cfg.Queue.Concurrency)
	nested("queue", queueSection)

	executorSection := map[string]any{}
	setString(executorSection, "mode", cfg.Executor.Mode)
	setString(executorSection, "url", cfg.Executor.URL)
	setString(executorSection, "token", cfg.Executor.Token)
	setInt(executorSection, "timeout_ms", cfg.Executor.TimeoutMS)
	nested("executor", executorSection)

	storeSection := map[string]any{}
	setString(storeSection, "driver", cfg.Store.Driver)
	setString(storeSection, "dsn", cfg.Store.DSN)
	if includeZero || cfg.Store.Debug {
		storeSection["debug"] = cfg.Store.Debug
	}
	nested("store", storeSection)

	httpSection := map[string]any{}
	setString(httpSection, "addr", cfg.HTTP.Addr)
	if includeZero || cfg.HTTP.TrustProxyHeaders {
		httpSection["trust_proxy_headers"] = cfg.HTTP.TrustProxyHeaders
	}
	nested("http", httpSection)

	return layer
}
