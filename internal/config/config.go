package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL          string
	DBMaxOpenConns       int
	BriefingQueryTimeout time.Duration

	// Feed state service
	FeedStateBaseURL string
	FeedStateToken   string
	FeedStateTimeout time.Duration

	// Reconcile
	ReconcileBatchSize   int
	ReconcileMaxInFlight int

	// Page cache
	RedisURL               string
	PageCacheTTL           time.Duration
	PageCacheRevalidateURL string
	RevalidateSecret       string
	RevalidateTimeout      time.Duration
	PageWarmInterval       time.Duration

	// Labels
	LabelCatalogTTL time.Duration

	// Operator auth
	OperatorJWTSecret string

	// Rate Limit
	RateLimitGeneral  int
	RateLimitMutation int

	// Logging
	LogLevel string

	// Server
	ServerPort string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.FeedStateBaseURL = os.Getenv("FEEDSTATE_BASE_URL")
	if cfg.FeedStateBaseURL == "" {
		missing = append(missing, "FEEDSTATE_BASE_URL")
	}

	cfg.OperatorJWTSecret = os.Getenv("OPERATOR_JWT_SECRET")
	if cfg.OperatorJWTSecret == "" {
		missing = append(missing, "OPERATOR_JWT_SECRET")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.DBMaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", 10)
	cfg.BriefingQueryTimeout = getEnvDuration("BRIEFING_QUERY_TIMEOUT", 10*time.Second)
	cfg.FeedStateToken = getEnvString("FEEDSTATE_TOKEN", "")
	cfg.FeedStateTimeout = getEnvDuration("FEEDSTATE_TIMEOUT", 15*time.Second)
	cfg.ReconcileBatchSize = getEnvInt("RECONCILE_BATCH_SIZE", 50)
	cfg.ReconcileMaxInFlight = getEnvInt("RECONCILE_MAX_IN_FLIGHT", 3)
	cfg.RedisURL = getEnvString("REDIS_URL", "redis://localhost:6379/0")
	cfg.PageCacheTTL = getEnvDuration("PAGE_CACHE_TTL", time.Hour)
	cfg.PageCacheRevalidateURL = getEnvString("PAGE_CACHE_REVALIDATE_URL", "")
	cfg.RevalidateSecret = getEnvString("REVALIDATE_SECRET", "")
	cfg.RevalidateTimeout = getEnvDuration("REVALIDATE_TIMEOUT", 5*time.Second)
	cfg.PageWarmInterval = getEnvDuration("PAGE_WARM_INTERVAL", 15*time.Minute)
	cfg.LabelCatalogTTL = getEnvDuration("LABEL_CATALOG_TTL", 10*time.Minute)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitMutation = getEnvInt("RATE_LIMIT_MUTATION", 30)
	cfg.LogLevel = strings.ToLower(getEnvString("LOG_LEVEL", "info"))
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	if cfg.ReconcileBatchSize > 50 {
		return nil, fmt.Errorf("RECONCILE_BATCH_SIZE must be at most 50: %d", cfg.ReconcileBatchSize)
	}

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
