package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("APP_ENV", "development")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5*time.Minute, cfg.Monitor.CheckInterval)
	assert.Equal(t, 30*time.Second, cfg.Monitor.MetricsInterval)
	assert.Equal(t, "0 8 * * *", cfg.Monitor.DailyReportCron)
	assert.Equal(t, 7*24*time.Hour, cfg.Monitor.StaleAssetAge)
	assert.Equal(t, 10*time.Minute, cfg.Monitor.ScanMaxDuration)
	assert.Equal(t, 5, cfg.Monitor.CheckAssetLimit)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr())
	assert.True(t, cfg.IsDevelopment())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("MONITOR_CHECK_INTERVAL", "1m")
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example,")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, time.Minute, cfg.Monitor.CheckInterval)
	assert.Equal(t, StoreDriverMemory, cfg.Database.Driver)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORS.AllowedOrigins)
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"bad cron", map[string]string{"MONITOR_DAILY_REPORT_CRON": "every morning"}},
		{"bad store", map[string]string{"STORE_DRIVER": "sqlite"}},
		{"bad log level", map[string]string{"LOG_LEVEL": "verbose"}},
		{"queue without redis", map[string]string{"REDIS_ENABLED": "false", "QUEUE_ENABLED": "true"}},
		{"s3 without bucket", map[string]string{"REPORT_S3_ENABLED": "true"}},
		{"threat probability", map[string]string{"MONITOR_THREAT_PROBABILITY": "1.5"}},
		{"rate limit rps", map[string]string{"RATE_LIMIT_RPS": "0"}},
		{"forward without url", map[string]string{"ALERT_FORWARD_ENABLED": "true"}},
		{"forward provider", map[string]string{
			"ALERT_FORWARD_ENABLED":     "true",
			"ALERT_FORWARD_PROVIDER":    "pager",
			"ALERT_FORWARD_WEBHOOK_URL": "https://hooks.example.com/x",
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestValidate_Production(t *testing.T) {
	t.Setenv("APP_ENV", EnvProduction)
	t.Setenv("STORE_DRIVER", "memory")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "memory store")
}

func TestLoad_MalformedValuesAreReported(t *testing.T) {
	vars := map[string]string{
		"SERVER_PORT":            "eighty",
		"MONITOR_CHECK_INTERVAL": "soon",
		"STORE_DRIVER":           "memory",
	}
	_, err := load(func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SERVER_PORT")
	assert.Contains(t, err.Error(), "MONITOR_CHECK_INTERVAL")
}

func TestLoad_BlankValuesUseDefaults(t *testing.T) {
	vars := map[string]string{
		"SERVER_PORT":        "  ",
		"STORE_SEED_TENANTS": " , ",
		"STORE_DRIVER":       "memory",
	}
	cfg, err := load(func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	})
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Empty(t, cfg.Database.SeedTenants)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
}
