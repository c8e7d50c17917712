package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allKeys = []string{
	"TELEGRAM_TOKEN", "DATABASE_DRIVER", "DATABASE_URL", "REPORT_INTERVAL_HOURS", "BRIEFING_TIME",
	"PURGE_INTERVAL_MINUTES", "TICK_INTERVAL", "PARENT_PIN", "JWT_SECRET", "HTTP_ADDR",
	"SNAPSHOT_BACKEND", "REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB", "AI_API_KEY", "AI_MODEL",
	"AI_ENDPOINT", "S3_BUCKET", "S3_ENDPOINT", "S3_REGION", "S3_ACCESS_KEY_ID",
	"S3_SECRET_ACCESS_KEY", "MASTERY_COURSE",
}

// clearEnv unsets every config key for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range allKeys {
		if old, ok := os.LookupEnv(key); ok {
			require.NoError(t, os.Unsetenv(key))
			t.Cleanup(func() { _ = os.Setenv(key, old) })
		} else {
			t.Cleanup(func() { _ = os.Unsetenv(key) })
		}
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.DatabaseDriver)
	assert.Equal(t, "edu_tracker.db", cfg.DatabaseURL)
	assert.Zero(t, cfg.ReportInterval)
	assert.Equal(t, "08:00", cfg.BriefingTime)
	assert.Equal(t, 30*time.Minute, cfg.PurgeInterval)
	assert.Equal(t, time.Second, cfg.TickInterval)
	assert.Equal(t, "1234", cfg.ParentPIN)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, BackendDB, cfg.SnapshotBackend)
	assert.Equal(t, "Matematik", cfg.MasteryCourse)
	assert.Error(t, cfg.RequireTelegram())
}

func TestLoadFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("TELEGRAM_TOKEN", " token ")
	t.Setenv("DATABASE_DRIVER", "MySQL")
	t.Setenv("REPORT_INTERVAL_HOURS", "5")
	t.Setenv("TICK_INTERVAL", "250ms")
	t.Setenv("SNAPSHOT_BACKEND", "redis")
	t.Setenv("REDIS_DB", "3")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "token", cfg.TelegramToken)
	assert.Equal(t, "mysql", cfg.DatabaseDriver)
	assert.Equal(t, 5*time.Hour, cfg.ReportInterval)
	assert.Equal(t, 250*time.Millisecond, cfg.TickInterval)
	assert.Equal(t, BackendRedis, cfg.SnapshotBackend)
	assert.Equal(t, 3, cfg.RedisDB)
	assert.NoError(t, cfg.RequireTelegram())
}

func TestLoadReadsEnvFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("JWT_SECRET=s3cret\nS3_BUCKET=family\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.JWTSecret)
	assert.Equal(t, "family", cfg.S3Bucket)

	_, err = Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.NoError(t, err)
}

func TestLoadRejectsBadValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("SNAPSHOT_BACKEND", "etcd")
	_, err := Load("")
	assert.Error(t, err)

	t.Setenv("SNAPSHOT_BACKEND", "db")
	t.Setenv("BRIEFING_TIME", "25:99")
	_, err = Load("")
	assert.Error(t, err)
}
