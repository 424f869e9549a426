package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// AppConfig 汇总运行服务所需的基础配置。
type AppConfig struct {
	ListenAddr          string
	Port                string
	DatabaseDriver      string
	DatabasePath        string
	DatabaseURL         string
	GinMode             string
	LogMode             string
	JWTSecret           string
	TokenTTL            time.Duration
	CORSOrigins         []string
	RedisAddr           string
	RedisPassword       string
	StatsCacheTTL       time.Duration
	RateLimitRPS        float64
	RateLimitBurst      int
	OverviewConcurrency int
	ScoringConfigPath   string
	Timezone            string
	SuperRootUserName   string
	SuperRootPassword   string
	OtelEnabled         bool
	OtelEndpoint        string
	OtelInsecure        bool
}

// Load 从环境变量读取应用配置，并为缺失项提供安全的默认值。
func Load() AppConfig {
	port := getEnv("PORT", "8080")

	listenAddr := strings.TrimSpace(os.Getenv("LISTEN_ADDR"))
	if listenAddr == "" {
		listenAddr = fmt.Sprintf(":%s", port)
	}

	return AppConfig{
		ListenAddr:          listenAddr,
		Port:                port,
		DatabaseDriver:      strings.ToLower(getEnv("DATABASE_DRIVER", "sqlite")),
		DatabasePath:        getEnv("DATABASE_PATH", "habito.db"),
		DatabaseURL:         getEnv("DATABASE_URL", ""),
		GinMode:             getEnv("GIN_MODE", "release"),
		LogMode:             getEnv("LOG_MODE", "production"),
		JWTSecret:           getEnv("JWT_SECRET", "habito-dev-secret"),
		TokenTTL:            getDuration("TOKEN_TTL", 24*time.Hour),
		CORSOrigins:         splitList(getEnv("CORS_ORIGINS", "http://localhost:5173")),
		RedisAddr:           getEnv("REDIS_ADDR", ""),
		RedisPassword:       getEnv("REDIS_PASSWORD", ""),
		StatsCacheTTL:       getDuration("STATS_CACHE_TTL", 5*time.Minute),
		RateLimitRPS:        getFloat("RATE_LIMIT_RPS", 20),
		RateLimitBurst:      getInt("RATE_LIMIT_BURST", 40),
		OverviewConcurrency: getInt("OVERVIEW_CONCURRENCY", 8),
		ScoringConfigPath:   getEnv("SCORING_CONFIG", ""),
		Timezone:            getEnv("APP_TIMEZONE", "UTC"),
		SuperRootUserName:   getEnv("SUPER_ROOT_USER_NAME", ""),
		SuperRootPassword:   getEnv("SUPER_ROOT_PASSWORD", ""),
		OtelEnabled:         getBool("OTEL_ENABLED"),
		OtelEndpoint:        getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OtelInsecure:        getBool("OTEL_EXPORTER_OTLP_INSECURE"),
	}
}

// Location 解析业务时区，非法时回退到 UTC
func (c AppConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func getEnv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func getInt(key string, fallback int) int {
	value, err := strconv.Atoi(getEnv(key, ""))
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}

func getFloat(key string, fallback float64) float64 {
	value, err := strconv.ParseFloat(getEnv(key, ""), 64)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}

func getDuration(key string, fallback time.Duration) time.Duration {
	value, err := time.ParseDuration(getEnv(key, ""))
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}

func getBool(key string) bool {
	switch strings.ToLower(getEnv(key, "")) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
