package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const validJSON = `{
  "feishu": {"app_id": "cli_x", "app_secret": "sec"},
  "backends": [
    {"kind": "edgekv", "endpoint": "https://kv.example.com/token", "credential": "tok", "enabled": true},
    {"kind": "gitfile", "endpoint": "acme/relay/token.json", "credential": "ghp_x", "enabled": true}
  ],
  "publish": {"policy": "first_success", "retry_backoff": "3s"},
  "pipeline": {"enabled": true, "schedule": "@every 10m"},
  "logging": {"level": "info", "console": true, "file": {"enabled": false, "path": ""}}
}`

func TestParseJSON(t *testing.T) {
	path := writeConfig(t, "config.json", validJSON)
	m := NewConfigManager(path)

	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Feishu.AppID != "cli_x" {
		t.Fatalf("AppID = %q", cfg.Feishu.AppID)
	}
	if len(cfg.Backends) != 2 || cfg.Backends[0].Kind != "edgekv" {
		t.Fatalf("Backends = %+v", cfg.Backends)
	}
	if m.Get() != cfg {
		t.Fatal("Get must return the committed config")
	}
}

func TestParseYAMLCoercion(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
feishu:
  app_id: cli_y
  app_secret: sec
backends:
  - kind: serverless
    endpoint: https://fn.example.com/token
    enabled: true
publish:
  policy: all
pipeline:
  enabled: false
logging:
  level: debug
  console: true
  file:
    enabled: false
    path: ""
`)
	cfg, err := NewConfigManager(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Feishu.AppID != "cli_y" || cfg.Publish.Policy != "all" {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestParseRejectsUnknownField(t *testing.T) {
	path := writeConfig(t, "config.json", `{"feishu": {"app_id": "x", "app_secret": "y"}, "surprise": 1}`)
	if _, err := NewConfigManager(path).Parse(); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	path := writeConfig(t, "config.json", `{"feishu": {"app_id": "x", "app_secret": "y"}}{"extra": true}`)
	if _, err := NewConfigManager(path).Parse(); err == nil {
		t.Fatal("expected error for trailing data")
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Feishu: FeishuConfig{AppID: "cli_x", AppSecret: "sec"},
			Backends: []BackendConfig{
				{Kind: "edgekv", Endpoint: "https://kv", Credential: "t", Enabled: true},
			},
			Pipeline: PipelineConfig{Enabled: true, Schedule: "@every 10m"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "missing app id", mutate: func(c *Config) { c.Feishu.AppID = "" }, wantErr: "app_id"},
		{name: "missing secret", mutate: func(c *Config) { c.Feishu.AppSecret = "" }, wantErr: "app_secret"},
		{name: "bad policy", mutate: func(c *Config) { c.Publish.Policy = "most" }, wantErr: "publish.policy"},
		{name: "bad duration", mutate: func(c *Config) { c.Publish.RetryBackoff = "soon" }, wantErr: "retry_backoff"},
		{name: "unknown backend kind", mutate: func(c *Config) { c.Backends[0].Kind = "carrier" }, wantErr: "kind"},
		{name: "edgekv without credential", mutate: func(c *Config) { c.Backends[0].Credential = "" }, wantErr: "credential"},
		{name: "enabled backend without endpoint", mutate: func(c *Config) { c.Backends[0].Endpoint = "" }, wantErr: "endpoint"},
		{name: "pipeline without schedule", mutate: func(c *Config) { c.Pipeline.Schedule = "" }, wantErr: "schedule"},
		{name: "pipeline without backends", mutate: func(c *Config) { c.Backends[0].Enabled = false }, wantErr: "no backend"},
		{name: "bad timezone", mutate: func(c *Config) { c.Pipeline.Timezone = "Mars/Olympus" }, wantErr: "timezone"},
		{
			name: "disabled pipeline tolerates no backends",
			mutate: func(c *Config) {
				c.Backends = nil
				c.Pipeline.Enabled = false
			},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := Validate(cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("FEISHU_APP_SECRET", "env-secret")
	t.Setenv("RELAY_CREDENTIALS", "edgekv:env-tok,gitfile:ghp_env")

	cfg := &Config{
		Feishu: FeishuConfig{AppID: "cli_x", AppSecret: "file-secret"},
		Backends: []BackendConfig{
			{Kind: "edgekv", Credential: "file-tok"},
			{Kind: "serverless"},
			{Kind: "gitfile"},
		},
	}
	if err := ApplyEnv(cfg); err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if cfg.Feishu.AppSecret != "env-secret" {
		t.Fatalf("AppSecret = %q, want env override", cfg.Feishu.AppSecret)
	}
	if cfg.Backends[0].Credential != "env-tok" {
		t.Fatalf("edgekv credential = %q", cfg.Backends[0].Credential)
	}
	if cfg.Backends[1].Credential != "" {
		t.Fatalf("serverless credential = %q, want untouched", cfg.Backends[1].Credential)
	}
	if cfg.Backends[2].Credential != "ghp_env" {
		t.Fatalf("gitfile credential = %q", cfg.Backends[2].Credential)
	}
}

func TestApplyEnvLeavesFileValues(t *testing.T) {
	t.Setenv("FEISHU_APP_SECRET", "")
	cfg := &Config{Feishu: FeishuConfig{AppSecret: "file-secret"}}
	if err := ApplyEnv(cfg); err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if cfg.Feishu.AppSecret != "file-secret" {
		t.Fatalf("AppSecret = %q, want file value kept", cfg.Feishu.AppSecret)
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationField("x", "3s"); err != nil || d.Seconds() != 3 {
		t.Fatalf("got %v %v", d, err)
	}
	if d, err := ParseDurationField("x", " "); err != nil || d != 0 {
		t.Fatalf("blank: got %v %v", d, err)
	}
	if _, err := ParseDurationField("x", "-1s"); err == nil {
		t.Fatal("negative duration accepted")
	}
	if _, err := ParseDurationField("x", "five"); err == nil {
		t.Fatal("garbage duration accepted")
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{
		Feishu:  FeishuConfig{AppID: "a", AppSecret: "s"},
		Logging: LoggingConfig{Level: "info"},
	}
	newCfg := &Config{
		Feishu:  FeishuConfig{AppID: "a", AppSecret: "s2"},
		Logging: LoggingConfig{Level: "debug"},
		Backends: []BackendConfig{
			{Kind: "edgekv", Enabled: true},
		},
	}

	changed, _ := SummarizeConfigChange(oldCfg, newCfg)
	want := []string{"backends", "feishu", "logging"}
	if len(changed) != len(want) {
		t.Fatalf("changed = %v, want %v", changed, want)
	}
	for i := range want {
		if changed[i] != want[i] {
			t.Fatalf("changed = %v, want %v", changed, want)
		}
	}

	same, _ := SummarizeConfigChange(newCfg, newCfg)
	if len(same) != 0 {
		t.Fatalf("identical configs reported changes: %v", same)
	}
}

func TestSubscribePublish(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", validJSON)
	m := NewConfigManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	next := &Config{Feishu: FeishuConfig{AppID: "new"}}
	m.Commit(next)
	m.publish(next)

	select {
	case got := <-ch:
		if got.Feishu.AppID != "new" {
			t.Fatalf("AppID = %q", got.Feishu.AppID)
		}
	default:
		t.Fatal("no config delivered to subscriber")
	}
}
