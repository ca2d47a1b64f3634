package config

import (
	"github.com/spf13/viper"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.path", "tabwatch.db")

	// Server defaults
	v.SetDefault("server.port", DefaultServerPort)
	v.SetDefault("server.allowed_origins", []string{
		"http://localhost",
		"https://localhost",
		"http://127.0.0.1",
		"https://127.0.0.1",
	})

	// Browser defaults
	v.SetDefault("browser.devtools_url", "ws://localhost:9222")
	v.SetDefault("browser.lenient_loading", true) // slow pages still get captured
	v.SetDefault("browser.settle_delay_ms", 1500)
	v.SetDefault("browser.poll_interval_ms", 250)

	// Watch execution defaults
	v.SetDefault("watch.max_retries", 2)
	v.SetDefault("watch.readiness_timeout_base_seconds", 30)
	v.SetDefault("watch.readiness_timeout_step_seconds", 15) // each retry waits longer
	v.SetDefault("watch.step_retries", 2)
	v.SetDefault("watch.step_backoff_ms", 500)
	v.SetDefault("watch.indicator_timeout_seconds", 20)
	v.SetDefault("watch.ticker_interval_seconds", 1)

	// Delivery defaults
	v.SetDefault("delivery.timeout_seconds", 30)
	v.SetDefault("delivery.retries", 3)
	v.SetDefault("delivery.backoff_seconds", 2)
	v.SetDefault("delivery.rate_per_minute", 20)
}

// BindSensitiveEnvVars explicitly binds sensitive configuration to environment variables
func BindSensitiveEnvVars(v *viper.Viper) {
	v.BindEnv("delivery.api_url", "TABWATCH_DELIVERY_API_URL")
	v.BindEnv("delivery.chat_id", "TABWATCH_DELIVERY_CHAT_ID")
}
