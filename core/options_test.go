package core

import (
	"context"
	"testing"
)

func TestLoadConfig_LayersLoadedAndRuntimeValues(t *testing.T) {
	loader := StaticRawConfigLoader{Values: map[string]any{
		"default_workspace": "acme",
		"auth": map[string]any{
			"token": "secret-token",
		},
		"enablement": map[string]any{
			"disabled_routes": []string{"github_issue"},
		},
	}}
	runtime := Config{
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 10,
			Routes: map[string]RouteRateLimit{
				"webhook_echo": {RequestsPerMinute: 2, Burst: 1},
			},
		},
	}

	cfg, err := LoadConfig(context.Background(), loader, runtime)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.DefaultWorkspace != "acme" {
		t.Fatalf("expected loaded workspace, got %q", cfg.DefaultWorkspace)
	}
	if cfg.Auth.Token != "secret-token" {
		t.Fatalf("expected loaded token")
	}
	if cfg.Auth.MaxSkewSeconds != 300 {
		t.Fatalf("expected default skew to survive, got %d", cfg.Auth.MaxSkewSeconds)
	}
	if cfg.RateLimit.RequestsPerMinute != 10 {
		t.Fatalf("expected runtime rate limit override, got %d", cfg.RateLimit.RequestsPerMinute)
	}
	if cfg.RateLimit.Routes["webhook_echo"].Burst != 1 {
		t.Fatalf("expected per-route override, got %#v", cfg.RateLimit.Routes)
	}
	if len(cfg.Enablement.DisabledRoutes) != 1 || cfg.Enablement.DisabledRoutes[0] != "github_issue" {
		t.Fatalf("expected disabled routes, got %#v", cfg.Enablement.DisabledRoutes)
	}
	if cfg.ManifestMode() != ManifestModeLegacy {
		t.Fatalf("expected legacy manifest mode by default, got %q", cfg.ManifestMode())
	}
}

func TestLoadConfig_RejectsUnknownManifestMode(t *testing.T) {
	loader := StaticRawConfigLoader{Values: map[string]any{
		"manifest": map[string]any{"mode": "dynamic"},
	}}
	if _, err := LoadConfig(context.Background(), loader, Config{}); err == nil {
		t.Fatalf("expected validation error for unknown manifest mode")
	}
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{name: "defaults", mutate: func(*Config) {}, ok: true},
		{name: "missing service name", mutate: func(c *Config) { c.ServiceName = " " }},
		{name: "negative skew", mutate: func(c *Config) { c.Auth.MaxSkewSeconds = -1 }},
		{name: "negative route burst", mutate: func(c *Config) {
			c.RateLimit.Routes = map[string]RouteRateLimit{"x": {Burst: -1}}
		}},
		{name: "unknown queue backend", mutate: func(c *Config) { c.Queue.Backend = "sqs" }},
		{name: "http executor without url", mutate: func(c *Config) { c.Executor.Mode = ExecutorModeHTTP }},
		{name: "http executor with url", mutate: func(c *Config) {
			c.Executor.Mode = ExecutorModeHTTP
			c.Executor.URL = "http://127.0.0.1:8080/internal/execute"
		}, ok: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.ok && err != nil {
				t.Fatalf("expected valid config, got %v", err)
			}
			if !tc.ok && err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestConfigClone_IsolatesSlicesAndMaps(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enablement.EnabledRoutes = []string{"a"}
	cfg.RateLimit.Routes = map[string]RouteRateLimit{"a": {RequestsPerMinute: 1}}

	cloned := cfg.Clone()
	cloned.Enablement.EnabledRoutes[0] = "b"
	cloned.RateLimit.Routes["a"] = RouteRateLimit{RequestsPerMinute: 99}

	if cfg.Enablement.EnabledRoutes[0] != "a" {
		t.Fatalf("clone leaked slice mutation")
	}
	if cfg.RateLimit.Routes["a"].RequestsPerMinute != 1 {
		t.Fatalf("clone leaked map mutation")
	}
}

func TestViperConfigLoader_ReadsLegacyEnvNames(t *testing.T) {
	t.Setenv("ENABLED_ROUTES", "webhook_echo, slack_notify")
	t.Setenv("MANIFEST_MODE", "config")
	t.Setenv("DISPATCH_AUTH_MAX_SKEW_SECONDS", "60")
	t.Setenv("RATE_LIMIT_ROUTES_JSON", `{"webhook_echo":{"requests_per_minute":3,"burst":2}}`)
	t.Setenv("DISPATCH_HTTP_TRUST_PROXY_HEADERS", "true")

	raw, err := NewViperConfigLoader("").LoadRaw(context.Background())
	if err != nil {
		t.Fatalf("load raw: %v", err)
	}
	enablement, ok := raw["enablement"].(map[string]any)
	if !ok {
		t.Fatalf("expected enablement section, got %#v", raw)
	}
	routes, ok := enablement["enabled_routes"].([]string)
	if !ok || len(routes) != 2 || routes[1] != "slack_notify" {
		t.Fatalf("expected split route list, got %#v", enablement["enabled_routes"])
	}
	auth := raw["auth"].(map[string]any)
	if auth["max_skew_seconds"] != 60 {
		t.Fatalf("expected integer skew, got %#v", auth["max_skew_seconds"])
	}
	manifest := raw["manifest"].(map[string]any)
	if manifest["mode"] != "config" {
		t.Fatalf("expected manifest mode, got %#v", manifest["mode"])
	}
	rateLimit := raw["rate_limit"].(map[string]any)
	if _, ok := rateLimit["routes"].(map[string]any)["webhook_echo"]; !ok {
		t.Fatalf("expected decoded per-route limits, got %#v", rateLimit["routes"])
	}
	if raw["http"].(map[string]any)["trust_proxy_headers"] != true {
		t.Fatalf("expected trusted proxy flag, got %#v", raw["http"])
	}
}

func TestSplitList(t *testing.T) {
	got := SplitList(" a,b ,, c\nd ")
	want := []string{"a", "b", "c", "d"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}
