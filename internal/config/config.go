package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config keeps runtime settings for the bot, the API and background jobs.
type Config struct {
	TelegramToken string

	DatabaseDriver string
	DatabaseURL    string

	ReportInterval time.Duration
	BriefingTime   string
	PurgeInterval  time.Duration
	TickInterval   time.Duration

	ParentPIN string
	JWTSecret string
	HTTPAddr  string

	SnapshotBackend string
	RedisAddr       string
	RedisPassword   string
	RedisDB         int

	AIKey      string
	AIModel    string
	AIEndpoint string

	S3Bucket          string
	S3Endpoint        string
	S3Region          string
	S3AccessKeyID     string
	S3SecretAccessKey string

	MasteryCourse string
}

const (
	BackendDB     = "db"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Load reads an optional .env file and then environment variables with sane
// defaults. A missing env file is not an error.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return Config{}, fmt.Errorf("load %s: %w", envFile, err)
			}
		} else if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("stat %s: %w", envFile, err)
		}
	}

	v := viper.New()
	v.SetTypeByDefaultValue(true)
	v.SetDefault("DATABASE_DRIVER", "sqlite")
	v.SetDefault("DATABASE_URL", "edu_tracker.db")
	v.SetDefault("REPORT_INTERVAL_HOURS", 0)
	v.SetDefault("BRIEFING_TIME", "08:00")
	v.SetDefault("PURGE_INTERVAL_MINUTES", 30)
	v.SetDefault("TICK_INTERVAL", time.Second)
	v.SetDefault("PARENT_PIN", "1234")
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("SNAPSHOT_BACKEND", BackendDB)
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("AI_MODEL", "")
	v.SetDefault("S3_REGION", "auto")
	v.SetDefault("MASTERY_COURSE", "Matematik")
	for _, key := range []string{
		"TELEGRAM_TOKEN", "JWT_SECRET", "REDIS_PASSWORD", "AI_API_KEY", "AI_ENDPOINT",
		"S3_BUCKET", "S3_ENDPOINT", "S3_ACCESS_KEY_ID", "S3_SECRET_ACCESS_KEY",
	} {
		v.SetDefault(key, "")
	}
	v.AutomaticEnv()

	cfg := Config{
		TelegramToken:     str(v, "TELEGRAM_TOKEN"),
		DatabaseDriver:    strings.ToLower(str(v, "DATABASE_DRIVER")),
		DatabaseURL:       str(v, "DATABASE_URL"),
		ReportInterval:    time.Duration(v.GetInt("REPORT_INTERVAL_HOURS")) * time.Hour,
		BriefingTime:      str(v, "BRIEFING_TIME"),
		PurgeInterval:     time.Duration(v.GetInt("PURGE_INTERVAL_MINUTES")) * time.Minute,
		TickInterval:      v.GetDuration("TICK_INTERVAL"),
		ParentPIN:         str(v, "PARENT_PIN"),
		JWTSecret:         str(v, "JWT_SECRET"),
		HTTPAddr:          str(v, "HTTP_ADDR"),
		SnapshotBackend:   strings.ToLower(str(v, "SNAPSHOT_BACKEND")),
		RedisAddr:         str(v, "REDIS_ADDR"),
		RedisPassword:     str(v, "REDIS_PASSWORD"),
		RedisDB:           v.GetInt("REDIS_DB"),
		AIKey:             str(v, "AI_API_KEY"),
		AIModel:           str(v, "AI_MODEL"),
		AIEndpoint:        str(v, "AI_ENDPOINT"),
		S3Bucket:          str(v, "S3_BUCKET"),
		S3Endpoint:        str(v, "S3_ENDPOINT"),
		S3Region:          str(v, "S3_REGION"),
		S3AccessKeyID:     str(v, "S3_ACCESS_KEY_ID"),
		S3SecretAccessKey: str(v, "S3_SECRET_ACCESS_KEY"),
		MasteryCourse:     str(v, "MASTERY_COURSE"),
	}

	if cfg.ReportInterval < 0 {
		cfg.ReportInterval = 0
	}
	if cfg.PurgeInterval <= 0 {
		cfg.PurgeInterval = 30 * time.Minute
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}

	switch cfg.SnapshotBackend {
	case BackendDB, BackendRedis, BackendMemory:
	default:
		return cfg, fmt.Errorf("unknown SNAPSHOT_BACKEND %q", cfg.SnapshotBackend)
	}
	if _, err := time.Parse("15:04", cfg.BriefingTime); err != nil {
		return cfg, fmt.Errorf("parse BRIEFING_TIME %q: %w", cfg.BriefingTime, err)
	}
	if cfg.ParentPIN == "" {
		return cfg, fmt.Errorf("PARENT_PIN must not be empty")
	}

	return cfg, nil
}

// RequireTelegram reports a missing bot token. Only serve needs it.
func (c Config) RequireTelegram() error {
	if c.TelegramToken == "" {
		return fmt.Errorf("TELEGRAM_TOKEN is required")
	}
	return nil
}

func str(v *viper.Viper, key string) string {
	return strings.TrimSpace(v.GetString(key))
}
