package config

type Config struct {
	Feishu    FeishuConfig    `json:"feishu"`
	Backends  []BackendConfig `json:"backends"`
	Publish   PublishConfig   `json:"publish"`
	Pipeline  PipelineConfig  `json:"pipeline"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	RelayHTTP RelayHTTPConfig `json:"relay_http,omitempty"`
	Notify    NotifyConfig    `json:"notify,omitempty"`
}

// FeishuConfig holds the chat platform credentials. AppSecret and
// WebhookURL may be overridden from the environment (see ApplyEnv).
type FeishuConfig struct {
	AppID      string `json:"app_id"`
	AppSecret  string `json:"app_secret"`
	WebhookURL string `json:"webhook_url"`
	// BaseURL overrides the platform API endpoint, mainly for tests.
	BaseURL string `json:"base_url,omitempty"`
}

// BackendConfig describes one distribution backend. Order in the list is
// publish priority order.
type BackendConfig struct {
	Kind       string `json:"kind"` // edgekv | serverless | gitfile | disabled
	Endpoint   string `json:"endpoint"`
	Credential string `json:"credential,omitempty"`
	Enabled    bool   `json:"enabled"`
}

// PublishConfig bounds the distribution cycle.
//
// All durations are Go duration strings (e.g. "3s", "10s", "5m").
type PublishConfig struct {
	// Policy is "first_success" (default) or "all".
	Policy string `json:"policy,omitempty"`
	// RetryMax is extra attempts per backend after the first failure.
	// Zero or omitted applies the default single retry; -1 disables it.
	RetryMax     int    `json:"retry_max,omitempty"`
	RetryBackoff string `json:"retry_backoff,omitempty"`
	PutTimeout   string `json:"put_timeout,omitempty"`
	// SafetyMargin is the refresh lead time before token expiry.
	SafetyMargin string `json:"safety_margin,omitempty"`
}

// PipelineConfig controls the scheduled fetch/distribute loop.
type PipelineConfig struct {
	Enabled bool `json:"enabled"`
	// Schedule is a cron spec or "@every <duration>".
	Schedule string `json:"schedule,omitempty"`
	// Timezone for cron evaluation, e.g. "Asia/Shanghai".
	Timezone string `json:"timezone,omitempty"`

	// Keywords overrides the important-item marker list.
	Keywords []string `json:"keywords,omitempty"`

	ProxyURL string `json:"proxy_url,omitempty"`
	// FeedBaseURL overrides the telegraph endpoint, mainly for tests.
	FeedBaseURL string `json:"feed_base_url,omitempty"`

	RequestTimeout string `json:"request_timeout,omitempty"`
	RetryMax       int    `json:"retry_max,omitempty"`
	RetryDelay     string `json:"retry_delay,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./clsrelay_store" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	Retention   string `json:"retention,omitempty"`    // Go duration string
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// RelayHTTPConfig controls the local token endpoint.
type RelayHTTPConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:8787"
}

// NotifyConfig controls the chat status sink.
type NotifyConfig struct {
	Enabled     bool   `json:"enabled"`
	ReportType  string `json:"report_type,omitempty"`
	MinInterval string `json:"min_interval,omitempty"` // Go duration string
}
