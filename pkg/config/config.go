package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database     DatabaseConfig
	Redis        RedisConfig
	JWT          JWTConfig
	CORS         CORSConfig
	Log          LogConfig
	Cache        CacheConfig
	Storage      StorageConfig
	Receipts     ReceiptsConfig
	Auth         AuthConfig
	Subscription SubscriptionConfig
	Enrollment   EnrollmentConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	PoolSize int
	Timeout  time.Duration
}

type JWTConfig struct {
	Secret            string
	Expiration        time.Duration
	RefreshExpiration time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// CacheConfig controls the Redis backed course summary cache.
type CacheConfig struct {
	Enabled   bool
	CourseTTL time.Duration
	KeyPrefix string
}

// StorageConfig controls where uploaded proofs, generated receipts and exports live.
type StorageConfig struct {
	UploadDir        string
	ReceiptsDir      string
	ExportDir        string
	ExportTTL        time.Duration
	ExportCleanup    time.Duration
	SignedURLSecret  string
	SignedURLTTL     time.Duration
	MaxFileSizeBytes int64
	AllowedMIMEs     []string
}

// ReceiptsConfig tunes the receipt generation worker.
type ReceiptsConfig struct {
	WorkerConcurrency int
	WorkerRetries     int
}

// AuthConfig governs login rules and password recovery.
type AuthConfig struct {
	SubscriptionGate bool
	ResetTokenTTL    time.Duration
	ResetOTPTTL      time.Duration
}

// SubscriptionConfig identifies the school operating this installation.
type SubscriptionConfig struct {
	SchoolName string
}

// EnrollmentConfig toggles prerequisite enforcement at submission time.
type EnrollmentConfig struct {
	EnforcePrerequisites bool
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
		PoolSize: v.GetInt("REDIS_POOL_SIZE"),
		Timeout:  parseDuration(v.GetString("REDIS_TIMEOUT"), 500*time.Millisecond),
	}

	cfg.JWT = JWTConfig{
		Secret:            v.GetString("JWT_SECRET"),
		Expiration:        parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
		RefreshExpiration: parseDuration(v.GetString("REFRESH_TOKEN_EXPIRATION"), 7*24*time.Hour),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Cache = CacheConfig{
		Enabled:   v.GetBool("ENABLE_CACHE"),
		CourseTTL: parseDuration(v.GetString("COURSE_CACHE_TTL"), 5*time.Minute),
		KeyPrefix: v.GetString("CACHE_KEY_PREFIX"),
	}

	maxUpload := v.GetInt64("UPLOAD_MAX_FILE_SIZE")
	if maxUpload <= 0 {
		maxUpload = 5 * 1024 * 1024
	}
	cfg.Storage = StorageConfig{
		UploadDir:        v.GetString("UPLOAD_DIR"),
		ReceiptsDir:      v.GetString("RECEIPTS_DIR"),
		ExportDir:        v.GetString("EXPORT_DIR"),
		ExportTTL:        parseDuration(v.GetString("EXPORT_TTL"), 24*time.Hour),
		ExportCleanup:    parseDuration(v.GetString("EXPORT_CLEANUP_INTERVAL"), time.Hour),
		SignedURLSecret:  v.GetString("SIGNED_URL_SECRET"),
		SignedURLTTL:     parseDuration(v.GetString("SIGNED_URL_TTL"), 30*time.Minute),
		MaxFileSizeBytes: maxUpload,
		AllowedMIMEs:     splitAndTrim(v.GetString("UPLOAD_ALLOWED_MIME_TYPES")),
	}

	cfg.Receipts = ReceiptsConfig{
		WorkerConcurrency: v.GetInt("RECEIPTS_WORKER_CONCURRENCY"),
		WorkerRetries:     v.GetInt("RECEIPTS_WORKER_RETRIES"),
	}

	cfg.Auth = AuthConfig{
		SubscriptionGate: v.GetBool("ENABLE_SUBSCRIPTION_GATE"),
		ResetTokenTTL:    parseDuration(v.GetString("RESET_TOKEN_TTL"), 24*time.Hour),
		ResetOTPTTL:      parseDuration(v.GetString("RESET_OTP_TTL"), 15*time.Minute),
	}

	cfg.Subscription = SubscriptionConfig{
		SchoolName: v.GetString("SCHOOL_NAME"),
	}

	cfg.Enrollment = EnrollmentConfig{
		EnforcePrerequisites: v.GetBool("ENFORCE_PREREQUISITES"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "siga")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_POOL_SIZE", 10)
	v.SetDefault("REDIS_TIMEOUT", "500ms")

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")
	v.SetDefault("REFRESH_TOKEN_EXPIRATION", "168h")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("ENABLE_CACHE", true)
	v.SetDefault("COURSE_CACHE_TTL", "5m")
	v.SetDefault("CACHE_KEY_PREFIX", "siga")

	v.SetDefault("UPLOAD_DIR", "./uploads")
	v.SetDefault("RECEIPTS_DIR", "./receipts")
	v.SetDefault("EXPORT_DIR", "./exports")
	v.SetDefault("EXPORT_TTL", "24h")
	v.SetDefault("EXPORT_CLEANUP_INTERVAL", "1h")
	v.SetDefault("SIGNED_URL_SECRET", "dev_storage_secret")
	v.SetDefault("SIGNED_URL_TTL", "30m")
	v.SetDefault("UPLOAD_MAX_FILE_SIZE", 5*1024*1024)
	v.SetDefault("UPLOAD_ALLOWED_MIME_TYPES", "application/pdf,image/jpeg,image/png")

	v.SetDefault("RECEIPTS_WORKER_CONCURRENCY", 1)
	v.SetDefault("RECEIPTS_WORKER_RETRIES", 3)

	v.SetDefault("ENABLE_SUBSCRIPTION_GATE", true)
	v.SetDefault("RESET_TOKEN_TTL", "24h")
	v.SetDefault("RESET_OTP_TTL", "15m")

	v.SetDefault("SCHOOL_NAME", "")
	v.SetDefault("ENFORCE_PREREQUISITES", true)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
