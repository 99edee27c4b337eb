package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StorageDriverPostgres = "postgres"
	StorageDriverMemory   = "memory"
)

// AppConfig holds all configuration for the application
type AppConfig struct {
	StorageDriver         string
	DatabaseURL           string
	HTTPAddr              string
	JWTSecret             string
	DownloadSigningSecret string
	PublicBaseURL         string
	RedisURL              string // empty = in-process cache
	BusinessCacheTTL      time.Duration
	TelegramToken         string // empty = notifications are logged and skipped
	AdminTelegramIDs      []int64
	WorkerID              string
	ServiceFeeRate        float64
	PaymentTermsDays      int
	BatchLeaseTTL         time.Duration
	OutboxMaxAttempts     int
	LogLevel              string
	Environment           string
	CronSpecWeeklyCycle   string
	CronSpecCycleExpiry   string
	CronSpecOverdueSweep  string
	CronSpecOutbox        string
	CronSpecLeaseReclaim  string
}

// Load reads configuration from environment variables and .env file (if present).
func Load() (*AppConfig, error) {
	// godotenv.Load will not override existing env variables.
	_ = godotenv.Load()

	cfg := &AppConfig{}
	var err error

	cfg.StorageDriver = strings.ToLower(envOr("STORAGE_DRIVER", StorageDriverPostgres))
	switch cfg.StorageDriver {
	case StorageDriverPostgres:
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is not set")
		}
	case StorageDriverMemory:
	default:
		return nil, fmt.Errorf("invalid STORAGE_DRIVER %q: want postgres or memory", cfg.StorageDriver)
	}

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is not set")
	}
	cfg.DownloadSigningSecret = envOr("DOWNLOAD_SIGNING_SECRET", cfg.JWTSecret)

	cfg.HTTPAddr = envOr("HTTP_ADDR", ":8080")
	cfg.PublicBaseURL = strings.TrimRight(envOr("PUBLIC_BASE_URL", "http://localhost:8080"), "/")
	cfg.RedisURL = os.Getenv("REDIS_URL")
	cfg.TelegramToken = os.Getenv("TELEGRAM_TOKEN")

	if cfg.BusinessCacheTTL, err = envDuration("BUSINESS_CACHE_TTL", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.BatchLeaseTTL, err = envDuration("BATCH_LEASE_TTL", 5*time.Minute); err != nil {
		return nil, err
	}

	if ids := os.Getenv("ADMIN_TELEGRAM_IDS"); ids != "" {
		for _, raw := range strings.Split(ids, ",") {
			id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid ADMIN_TELEGRAM_IDS entry %q: %w", raw, err)
			}
			cfg.AdminTelegramIDs = append(cfg.AdminTelegramIDs, id)
		}
	}

	hostname, _ := os.Hostname()
	cfg.WorkerID = envOr("WORKER_ID", hostname)
	if cfg.WorkerID == "" {
		cfg.WorkerID = "worker"
	}

	cfg.ServiceFeeRate = 0.20
	if v := os.Getenv("SERVICE_FEE_RATE"); v != "" {
		cfg.ServiceFeeRate, err = strconv.ParseFloat(v, 64)
		if err != nil || cfg.ServiceFeeRate < 0 || cfg.ServiceFeeRate > 1 {
			return nil, fmt.Errorf("invalid SERVICE_FEE_RATE %q: want a fraction between 0 and 1", v)
		}
	}
	if cfg.PaymentTermsDays, err = envInt("PAYMENT_TERMS_DAYS", 14); err != nil {
		return nil, err
	}
	if cfg.OutboxMaxAttempts, err = envInt("OUTBOX_MAX_ATTEMPTS", 8); err != nil {
		return nil, err
	}

	cfg.LogLevel = strings.ToLower(envOr("LOG_LEVEL", "info"))
	cfg.Environment = strings.ToLower(envOr("ENVIRONMENT", "development"))

	cfg.CronSpecWeeklyCycle = envOr("CRON_SPEC_WEEKLY_CYCLE", "0 6 * * 1")  // 06:00 every Monday
	cfg.CronSpecCycleExpiry = envOr("CRON_SPEC_CYCLE_EXPIRY", "15 * * * *") // hourly
	cfg.CronSpecOverdueSweep = envOr("CRON_SPEC_OVERDUE_SWEEP", "0 7 * * *")
	cfg.CronSpecOutbox = envOr("CRON_SPEC_OUTBOX", "* * * * *")
	cfg.CronSpecLeaseReclaim = envOr("CRON_SPEC_LEASE_RECLAIM", "*/5 * * * *")

	return cfg, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s %q: want a positive integer", key, v)
	}
	return n, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s %q: want a positive duration like 5m", key, v)
	}
	return d, nil
}
