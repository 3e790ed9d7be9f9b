package core

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

type envKind int

const (
	envString envKind = iota
	envInt
	envBool
	envList
	envJSONMap
)

type envBinding struct {
	key  string
	kind envKind
	envs []string
}

// envBindings lists every config key readable from the environment. The
// unprefixed names are accepted for compatibility with existing deployments.
var envBindings = []envBinding{
	{key: "service_name", kind: envString, envs: []string{"DISPATCH_SERVICE_NAME"}},
	{key: "default_workspace", kind: envString, envs: []string{"DISPATCH_DEFAULT_WORKSPACE", "DEFAULT_WORKSPACE_ID"}},
	{key: "manifest.mode", kind: envString, envs: []string{"DISPATCH_MANIFEST_MODE", "MANIFEST_MODE"}},
	{key: "manifest.routes_json", kind: envString, envs: []string{"DISPATCH_MANIFEST_ROUTES_JSON", "MANIFEST_ROUTES_JSON"}},
	{key: "manifest.schedules_json", kind: envString, envs: []string{"DISPATCH_MANIFEST_SCHEDULES_JSON", "MANIFEST_SCHEDULES_JSON"}},
	{key: "enablement.enabled_routes", kind: envList, envs: []string{"DISPATCH_ENABLED_ROUTES", "ENABLED_ROUTES"}},
	{key: "enablement.disabled_routes", kind: envList, envs: []string{"DISPATCH_DISABLED_ROUTES", "DISABLED_ROUTES"}},
	{key: "enablement.enabled_schedules", kind: envList, envs: []string{"DISPATCH_ENABLED_SCHEDULES", "ENABLED_SCHEDULES"}},
	{key: "enablement.disabled_schedules", kind: envList, envs: []string{"DISPATCH_DISABLED_SCHEDULES", "DISABLED_SCHEDULES"}},
	{key: "auth.token", kind: envString, envs: []string{"DISPATCH_AUTH_TOKEN", "WEBHOOK_TOKEN"}},
	{key: "auth.hmac_secret", kind: envString, envs: []string{"DISPATCH_AUTH_HMAC_SECRET", "WEBHOOK_HMAC_SECRET"}},
	{key: "auth.max_skew_seconds", kind: envInt, envs: []string{"DISPATCH_AUTH_MAX_SKEW_SECONDS", "WEBHOOK_MAX_SKEW_SECONDS"}},
	{key: "auth.token_header", kind: envString, envs: []string{"DISPATCH_AUTH_TOKEN_HEADER"}},
	{key: "auth.signature_header", kind: envString, envs: []string{"DISPATCH_AUTH_SIGNATURE_HEADER"}},
	{key: "auth.timestamp_header", kind: envString, envs: []string{"DISPATCH_AUTH_TIMESTAMP_HEADER"}},
	{key: "rate_limit.requests_per_minute", kind: envInt, envs: []string{"DISPATCH_RATE_LIMIT_RPM", "RATE_LIMIT_PER_MINUTE"}},
	{key: "rate_limit.burst", kind: envInt, envs: []string{"DISPATCH_RATE_LIMIT_BURST", "RATE_LIMIT_BURST"}},
	{key: "rate_limit.routes", kind: envJSONMap, envs: []string{"DISPATCH_RATE_LIMIT_ROUTES_JSON", "RATE_LIMIT_ROUTES_JSON"}},
	{key: "rate_limit.redis_addr", kind: envString, envs: []string{"DISPATCH_RATE_LIMIT_REDIS_ADDR"}},
	{key: "sync.timeout_ms", kind: envInt, envs: []string{"DISPATCH_SYNC_TIMEOUT_MS"}},
	{key: "queue.backend", kind: envString, envs: []string{"DISPATCH_QUEUE_BACKEND"}},
	{key: "queue.redis_addr", kind: envString, envs: []string{"DISPATCH_QUEUE_REDIS_ADDR"}},
	{key: "queue.redis_password", kind: envString, envs: []string{"DISPATCH_QUEUE_REDIS_PASSWORD"}},
	{key: "queue.redis_db", kind: envInt, envs: []string{"DISPATCH_QUEUE_REDIS_DB"}},
	{key: "queue.max_attempts", kind: envInt, envs: []string{"DISPATCH_QUEUE_MAX_ATTEMPTS"}},
	{key: "queue.concurrency", kind: envInt, envs: []string{"DISPATCH_QUEUE_CONCURRENCY"}},
	{key: "executor.mode", kind: envString, envs: []string{"DISPATCH_EXECUTOR_MODE"}},
	{key: "executor.url", kind: envString, envs: []string{"DISPATCH_EXECUTOR_URL"}},
	{key: "executor.token", kind: envString, envs: []string{"DISPATCH_EXECUTOR_TOKEN"}},
	{key: "executor.timeout_ms", kind: envInt, envs: []string{"DISPATCH_EXECUTOR_TIMEOUT_MS"}},
	{key: "store.driver", kind: envString, envs: []string{"DISPATCH_STORE_DRIVER"}},
	{key: "store.dsn", kind: envString, envs: []string{"DISPATCH_STORE_DSN", "DATABASE_URL"}},
	{key: "store.debug", kind: envBool, envs: []string{"DISPATCH_STORE_DEBUG"}},
	{key: "http.addr", kind: envString, envs: []string{"DISPATCH_HTTP_ADDR"}},
	{key: "http.trust_proxy_headers", kind: envBool, envs: []string{"DISPATCH_HTTP_TRUST_PROXY_HEADERS"}},
}

// ViperConfigLoader reads an optional config file plus environment variables
// into the nested raw map consumed by cfgx.
type ViperConfigLoader struct {
	ConfigFile string
	viper      *viper.Viper
}

func NewViperConfigLoader(configFile string) *ViperConfigLoader {
	return &ViperConfigLoader{ConfigFile: strings.TrimSpace(configFile), viper: viper.New()}
}

func (l *ViperConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if l == nil {
		return map[string]any{}, nil
	}
	v := l.viper
	if v == nil {
		v = viper.New()
	}
	raw := map[string]any{}
	if l.ConfigFile != "" {
		v.SetConfigFile(l.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("core: read config file %q: %w", l.ConfigFile, err)
		}
		raw = v.AllSettings()
	}
	for _, binding := range envBindings {
		args := append([]string{binding.key}, binding.envs...)
		if err := v.BindEnv(args...); err != nil {
			return nil, fmt.Errorf("core: bind env for %s: %w", binding.key, err)
		}
		if !v.IsSet(binding.key) {
			continue
		}
		value, err := decodeEnvValue(binding, v.GetString(binding.key))
		if err != nil {
			return nil, err
		}
		if value == nil {
			continue
		}
		setNested(raw, binding.key, value)
	}
	return raw, nil
}

func decodeEnvValue(binding envBinding, value string) (any, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	switch binding.kind {
	case envInt:
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("core: %s must be an integer: %w", binding.key, err)
		}
		return parsed, nil
	case envBool:
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return nil, fmt.Errorf("core: %s must be a boolean: %w", binding.key, err)
		}
		return parsed, nil
	case envList:
		return SplitList(value), nil
	case envJSONMap:
		decoded := map[string]any{}
		if err := json.Unmarshal([]byte(value), &decoded); err != nil {
			return nil, fmt.Errorf("core: %s must be a JSON object: %w", binding.key, err)
		}
		return decoded, nil
	default:
		return value, nil
	}
}

// SplitList splits a comma or whitespace separated list, dropping blanks.
func SplitList(value string) []string {
	fields := strings.FieldsFunc(value, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\n' || r == '\t'
	})
	out := make([]string, 0, len(fields))
	for _, field := range fields {
		if trimmed := strings.TrimSpace(field); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func setNested(target map[string]any, dottedKey string, value any) {
	parts := strings.Split(dottedKey, ".")
	current := target
	for _, part := range parts[:len(parts)-1] {
		next, ok := current[part].(map[string]any)
		if !ok {
			next = map[string]any{}
			current[part] = next
		}
		current = next
	}
	current[parts[len(parts)-1]] = value
}
