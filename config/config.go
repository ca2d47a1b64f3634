package config

// Config represents the core tabwatch configuration
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Server   ServerConfig   `mapstructure:"server"`
	Browser  BrowserConfig  `mapstructure:"browser"`
	Watch    WatchConfig    `mapstructure:"watch"`
	Delivery DeliveryConfig `mapstructure:"delivery"`
}

// DatabaseConfig configures the SQLite database
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// ServerConfig configures the tabwatch HTTP API server
type ServerConfig struct {
	Port           *int     `mapstructure:"port"` // nil = default 8780
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// BrowserConfig configures the DevTools connection and readiness policy
type BrowserConfig struct {
	DevToolsURL    string `mapstructure:"devtools_url"`     // ws:// endpoint of a running browser
	LenientLoading bool   `mapstructure:"lenient_loading"`  // treat a still-loading page as ready after the grace period
	SettleDelayMS  int    `mapstructure:"settle_delay_ms"`  // pause after readiness before acting on the page
	PollIntervalMS int    `mapstructure:"poll_interval_ms"` // polling cadence for page condition checks
}

// WatchConfig configures watch execution and retry policy
type WatchConfig struct {
	MaxRetries                  int `mapstructure:"max_retries"`                    // full-cycle retries after the first attempt
	ReadinessTimeoutBaseSeconds int `mapstructure:"readiness_timeout_base_seconds"` // attempt 0 readiness budget
	ReadinessTimeoutStepSeconds int `mapstructure:"readiness_timeout_step_seconds"` // added per retry attempt
	StepRetries                 int `mapstructure:"step_retries"`                   // per page-action step
	StepBackoffMS               int `mapstructure:"step_backoff_ms"`                // linear backoff base between step retries
	IndicatorTimeoutSeconds     int `mapstructure:"indicator_timeout_seconds"`      // loading-indicator wait budget per phase
	TickerIntervalSeconds       int `mapstructure:"ticker_interval_seconds"`        // how often to check for due watches

	RefreshSelector   string `mapstructure:"refresh_selector"`   // element clicked to refresh page content, optional
	IndicatorSelector string `mapstructure:"indicator_selector"` // loading indicator awaited after the refresh, optional
}

// DeliveryConfig configures the outbound capture delivery endpoint
type DeliveryConfig struct {
	APIURL         string `mapstructure:"api_url"` // base URL, e.g. https://api.telegram.org/bot<token>
	ChatID         string `mapstructure:"chat_id"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	Retries        int    `mapstructure:"retries"`
	BackoffSeconds int    `mapstructure:"backoff_seconds"` // multiplicative backoff base
	RatePerMinute  int    `mapstructure:"rate_per_minute"` // outbound request rate cap
}

// Server port constants
const (
	DefaultServerPort = 8780
)

// DefaultDirPermissions is used when creating the ~/.tabwatch directory
const DefaultDirPermissions = 0755
