package config

import (
	"strings"

	"github.com/caarlos0/env/v11"
)

// envOverrides mirrors the secret-bearing config fields so they can come
// from the environment instead of the config file. Empty variables leave
// the file values untouched.
type envOverrides struct {
	AppID      string `env:"FEISHU_APP_ID"`
	AppSecret  string `env:"FEISHU_APP_SECRET"`
	WebhookURL string `env:"FEISHU_WEBHOOK_URL"`
	ProxyURL   string `env:"DEFAULT_PROXY"`

	// BackendCredentials maps backend kind to credential, e.g.
	// RELAY_CREDENTIALS="edgekv:tok1,gitfile:ghp_x".
	BackendCredentials string `env:"RELAY_CREDENTIALS"`
}

// ApplyEnv overlays environment variables onto cfg. Environment wins over
// the file for secrets so config files can be committed without them.
func ApplyEnv(cfg *Config) error {
	var ov envOverrides
	if err := env.Parse(&ov); err != nil {
		return err
	}

	if ov.AppID != "" {
		cfg.Feishu.AppID = ov.AppID
	}
	if ov.AppSecret != "" {
		cfg.Feishu.AppSecret = ov.AppSecret
	}
	if ov.WebhookURL != "" {
		cfg.Feishu.WebhookURL = ov.WebhookURL
	}
	if ov.ProxyURL != "" {
		cfg.Pipeline.ProxyURL = ov.ProxyURL
	}

	if ov.BackendCredentials != "" {
		creds := map[string]string{}
		for _, pair := range strings.Split(ov.BackendCredentials, ",") {
			kind, cred, ok := strings.Cut(strings.TrimSpace(pair), ":")
			if ok && kind != "" && cred != "" {
				creds[strings.ToLower(kind)] = cred
			}
		}
		for i := range cfg.Backends {
			if cred, ok := creds[strings.ToLower(strings.TrimSpace(cfg.Backends[i].Kind))]; ok {
				cfg.Backends[i].Credential = cred
			}
		}
	}
	return nil
}
