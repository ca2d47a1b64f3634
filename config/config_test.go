package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetDefaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	assert.Equal(t, "tabwatch.db", v.GetString("database.path"))
	assert.Equal(t, DefaultServerPort, v.GetInt("server.port"))
	assert.Equal(t, "ws://localhost:9222", v.GetString("browser.devtools_url"))
	assert.True(t, v.GetBool("browser.lenient_loading"))
	assert.Equal(t, 2, v.GetInt("watch.max_retries"))
	assert.Equal(t, 30, v.GetInt("watch.readiness_timeout_base_seconds"))
	assert.Equal(t, 3, v.GetInt("delivery.retries"))
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "tabwatch.toml")

	content := `
[database]
path = "/tmp/custom.db"

[browser]
devtools_url = "ws://10.0.0.5:9222"
lenient_loading = false

[watch]
max_retries = 5
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0644))

	cfg, err := LoadFromFile(configPath)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/custom.db", cfg.Database.Path)
	assert.Equal(t, "ws://10.0.0.5:9222", cfg.Browser.DevToolsURL)
	assert.False(t, cfg.Browser.LenientLoading)
	assert.Equal(t, 5, cfg.Watch.MaxRetries)

	// Values not present in the file fall back to defaults
	assert.Equal(t, 2, cfg.Watch.StepRetries)
	assert.Equal(t, 30, cfg.Delivery.TimeoutSeconds)
}

func TestLoadFromFileMissing(t *testing.T) {
	_, err := LoadFromFile("/nonexistent/tabwatch.toml")
	assert.Error(t, err)
}

func TestUnmarshalIntoStruct(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	require.NoError(t, v.Unmarshal(&cfg))

	require.NotNil(t, cfg.Server.Port)
	assert.Equal(t, DefaultServerPort, *cfg.Server.Port)
	assert.Equal(t, 1500, cfg.Browser.SettleDelayMS)
	assert.Equal(t, 20, cfg.Delivery.RatePerMinute)
}
