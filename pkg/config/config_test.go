package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func TestDefaults(t *testing.T) {
	v := viper.New()
	setDefaults(v)

	cfg := fromViper(v)

	assert.Equal(t, EnvDevelopment, cfg.Env)
	assert.Equal(t, StoreDriverSQLite, cfg.Store.Driver)
	assert.Equal(t, 2, cfg.Ledger.LowLessonThreshold)
	assert.Equal(t, "tr", cfg.Ledger.Locale)
	assert.Equal(t, 5, cfg.Auth.MaxAttempts)
	assert.Equal(t, 15*time.Minute, cfg.Auth.AttemptWindow)
	assert.Equal(t, 5*time.Minute, cfg.Dashboard.CacheTTL)
	assert.Nil(t, cfg.CORS.AllowedOrigins)
}

func TestOverrides(t *testing.T) {
	v := viper.New()
	setDefaults(v)
	v.Set("STORE_DRIVER", "Postgres")
	v.Set("LEDGER_LOW_LESSON_THRESHOLD", 0)
	v.Set("DASHBOARD_CACHE_TTL", "not-a-duration")
	v.Set("ALLOWED_ORIGINS", "https://a.example, ,https://b.example")

	cfg := fromViper(v)

	assert.Equal(t, StoreDriverPostgres, cfg.Store.Driver)
	assert.Equal(t, 2, cfg.Ledger.LowLessonThreshold)
	assert.Equal(t, 5*time.Minute, cfg.Dashboard.CacheTTL)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORS.AllowedOrigins)
}
