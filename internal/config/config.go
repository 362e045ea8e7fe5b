package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	SQLitePath            string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	TenantID              string
	DefaultBranchID       string
	AuthSecret            string
	AccessTokenTTLMinutes int
	VATRate               decimal.Decimal
	CreditTermDays        int
	SyncPollSeconds       int
	LogLevel              string
	LogFormat             string
	CheckoutWriteTimeout  time.Duration
	CacheTTLSeconds       int
}

func Load() Config {
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	tokenTTL, err := strconv.Atoi(getEnv("ACCESS_TOKEN_TTL_MINUTES", "480"))
	if err != nil || tokenTTL < 1 {
		tokenTTL = 480
	}
	vatRate, err := decimal.NewFromString(getEnv("VAT_RATE", "0.16"))
	if err != nil || vatRate.IsNegative() || vatRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		vatRate = decimal.RequireFromString("0.16")
	}
	termDays, err := strconv.Atoi(getEnv("CREDIT_TERM_DAYS", "30"))
	if err != nil || termDays < 1 {
		termDays = 30
	}
	pollSeconds, err := strconv.Atoi(getEnv("SYNC_POLL_SECONDS", "10"))
	if err != nil || pollSeconds < 1 {
		pollSeconds = 10
	}
	writeTimeout, err := strconv.Atoi(getEnv("CHECKOUT_WRITE_TIMEOUT_SECONDS", "0"))
	if err != nil || writeTimeout < 0 {
		writeTimeout = 0
	}
	cacheTTL, err := strconv.Atoi(getEnv("CACHE_TTL_SECONDS", "3"))
	if err != nil || cacheTTL < 0 {
		cacheTTL = 3
	}

	cfg := Config{
		Port:                  getEnv("PORT", "8080"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		SQLitePath:            os.Getenv("SQLITE_PATH"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               redisDB,
		TenantID:              getEnv("DEFAULT_TENANT_ID", "demo-duka"),
		DefaultBranchID:       getEnv("DEFAULT_BRANCH_ID", "uon"),
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: tokenTTL,
		VATRate:               vatRate,
		CreditTermDays:        termDays,
		SyncPollSeconds:       pollSeconds,
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		LogFormat:             getEnv("LOG_FORMAT", "json"),
		CheckoutWriteTimeout:  time.Duration(writeTimeout) * time.Second,
		CacheTTLSeconds:       cacheTTL,
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) SyncPollInterval() time.Duration {
	return time.Duration(c.SyncPollSeconds) * time.Second
}

func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}
