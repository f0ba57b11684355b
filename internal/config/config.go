package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	DB        DBConfig
	MinIO     MinIOConfig
	JWT       JWTConfig
	Server    ServerConfig
	Crypto    CryptoConfig
	Providers map[string]ProviderCredentials
	Usage     UsageConfig
	Device    DeviceConfig
}

type DBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type JWTConfig struct {
	Secret string
}

type ServerConfig struct {
	Port        string
	BaseURL     string
	FrontendURL string
}

type CryptoConfig struct {
	TokenEncryptionKey string
}

// ProviderCredentials is one provider's OAuth app registration.
type ProviderCredentials struct {
	ClientID     string
	ClientSecret string
}

type UsageConfig struct {
	ExportInterval time.Duration
}

type DeviceConfig struct {
	CodeTTL      time.Duration
	PollInterval time.Duration
}

var providerNames = []string{
	"google",
	"microsoft",
	"slack",
	"notion",
	"linear",
	"github",
	"spotify",
	"strava",
	"youtube",
}

func Load() *Config {
	return &Config{
		DB: DBConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "patchin"),
			Password: getEnv("DB_PASSWORD", "patchin_secret"),
			Name:     getEnv("DB_NAME", "patchin"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		MinIO: MinIOConfig{
			Endpoint:  getEnv("MINIO_ENDPOINT", ""),
			AccessKey: getEnv("MINIO_ACCESS_KEY", ""),
			SecretKey: getEnv("MINIO_SECRET_KEY", ""),
			Bucket:    getEnv("MINIO_BUCKET", "patchin-usage"),
			UseSSL:    getEnvAsBool("MINIO_USE_SSL", false),
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", "change-me-in-production"),
		},
		Server: ServerConfig{
			Port:        getEnv("SERVER_PORT", "8080"),
			BaseURL:     getEnv("BASE_URL", "http://localhost:8080"),
			FrontendURL: getEnv("FRONTEND_URL", "http://localhost:3000"),
		},
		Crypto: CryptoConfig{
			TokenEncryptionKey: getEnv("TOKEN_ENCRYPTION_KEY", ""),
		},
		Providers: loadProviders(),
		Usage: UsageConfig{
			ExportInterval: getEnvAsDuration("USAGE_EXPORT_INTERVAL", 1*time.Hour),
		},
		Device: DeviceConfig{
			CodeTTL:      getEnvAsDuration("DEVICE_CODE_TTL", 15*time.Minute),
			PollInterval: getEnvAsDuration("DEVICE_POLL_INTERVAL", 5*time.Second),
		},
	}
}

func loadProviders() map[string]ProviderCredentials {
	creds := make(map[string]ProviderCredentials, len(providerNames))
	for _, name := range providerNames {
		prefix := strings.ToUpper(name)
		creds[name] = ProviderCredentials{
			ClientID:     getEnv(prefix+"_CLIENT_ID", ""),
			ClientSecret: getEnv(prefix+"_CLIENT_SECRET", ""),
		}
	}
	return creds
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := time.ParseDuration(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.ParseBool(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}
