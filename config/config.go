package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ServerPort int
	Env        string
	// PublicURL is the externally reachable base URL used in reset links.
	PublicURL string

	Database  DatabaseConfig
	Auth      AuthConfig
	Storage   StorageConfig
	MQ        MQConfig
	Mail      MailConfig
	Log       LogConfig
	RateLimit RateLimitConfig
}

type DatabaseConfig struct {
	// Driver is either "postgres" or "sqlite".
	Driver   string
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	UseSSL   bool
	// SQLitePath is the database file used when Driver is "sqlite".
	SQLitePath string
}

type AuthConfig struct {
	JWTSecret          string
	TokenTTL           time.Duration
	BcryptCost         int
	ResetTokenLifetime time.Duration
}

type StorageConfig struct {
	// Backend is one of "local", "minio", "gcs" or "s3".
	Backend string
	// Prefix is prepended to every object key, so environments can share a bucket.
	Prefix    string
	LocalPath string
	Minio     MinioConfig
	GCS       GCSConfig
	S3        S3Config
}

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type GCSConfig struct {
	Bucket          string
	ProjectID       string
	CredentialsFile string
}

type S3Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
}

type MQConfig struct {
	// Backend is one of "none", "memory", "rabbitmq" or "pubsub".
	Backend  string
	RabbitMQ RabbitMQConfig
	PubSub   PubSubConfig
}

type RabbitMQConfig struct {
	URL             string
	QueueDurable    bool
	QueueAutoDelete bool
	PrefetchCount   int
}

type PubSubConfig struct {
	ProjectID          string
	CredentialsFile    string
	SubscriptionSuffix string
}

type MailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type LogConfig struct {
	Level  string
	Format string
}

type RateLimitConfig struct {
	Requests int
	Window   time.Duration
	Burst    int
}

func LoadConfig() Config {
	if os.Getenv("ENV") == "dev" {
		godotenv.Load()
	}

	env := getEnv("ENV", "dev")

	dbConfig := DatabaseConfig{
		Driver:     getEnv("DB_TYPE", "postgres"),
		Host:       getEnv("DB_HOST", "localhost"),
		Port:       getEnvInt("DB_PORT", 5432),
		User:       getEnv("DB_USER", "stockroom"),
		Password:   getEnv("DB_PASSWORD", "password"),
		DBName:     getEnv("DB_NAME", "stockroom"),
		UseSSL:     getEnvBool("DB_SSL", false),
		SQLitePath: getEnv("DB_SQLITE_PATH", "stockroom.db"),
	}

	authConfig := AuthConfig{
		JWTSecret:          strings.TrimSpace(getEnv("JWT_SECRET", "")),
		TokenTTL:           getEnvDuration("AUTH_DURATION", 24*time.Hour),
		BcryptCost:         getEnvInt("BCRYPT_COST", 10),
		ResetTokenLifetime: time.Duration(getEnvInt("RESET_TOKEN_LIFETIME_HOURS", 72)) * time.Hour,
	}

	storageConfig := StorageConfig{
		Backend:   getEnv("STORAGE_BACKEND", "local"),
		Prefix:    getEnv("STORAGE_PREFIX", env),
		LocalPath: getEnv("IMAGES_PATH", "data/images"),
		Minio: MinioConfig{
			Endpoint:  getEnv("MINIO_ENDPOINT", ""),
			AccessKey: getEnv("MINIO_ACCESS_KEY", ""),
			SecretKey: getEnv("MINIO_SECRET_KEY", ""),
			Bucket:    getEnv("MINIO_BUCKET", "stockroom"),
			UseSSL:    getEnvBool("MINIO_USE_SSL", false),
		},
		GCS: GCSConfig{
			Bucket:          getEnv("GCS_BUCKET", ""),
			ProjectID:       getEnv("GCP_PROJECT_ID", ""),
			CredentialsFile: getEnv("GOOGLE_APPLICATION_CREDENTIALS", ""),
		},
		S3: S3Config{
			Endpoint:  getEnv("S3_ENDPOINT", ""),
			Region:    getEnv("S3_REGION", "us-east-1"),
			AccessKey: getEnv("S3_ACCESS_KEY", ""),
			SecretKey: getEnv("S3_SECRET_KEY", ""),
			Bucket:    getEnv("S3_BUCKET", ""),
		},
	}

	mqConfig := MQConfig{
		Backend: getEnv("MQ_BACKEND", "none"),
		RabbitMQ: RabbitMQConfig{
			URL:             getEnv("RABBITMQ_URL", ""),
			QueueDurable:    getEnvBool("RABBITMQ_QUEUE_DURABLE", true),
			QueueAutoDelete: getEnvBool("RABBITMQ_QUEUE_AUTO_DELETE", false),
			PrefetchCount:   getEnvInt("RABBITMQ_PREFETCH", 10),
		},
		PubSub: PubSubConfig{
			ProjectID:          getEnv("GCP_PROJECT_ID", ""),
			CredentialsFile:    getEnv("GOOGLE_APPLICATION_CREDENTIALS", ""),
			SubscriptionSuffix: getEnv("PUBSUB_SUBSCRIPTION_SUFFIX", "-sub"),
		},
	}

	mailConfig := MailConfig{
		Host:     getEnv("SMTP_HOST", ""),
		Port:     getEnvInt("SMTP_PORT", 587),
		Username: getEnv("SMTP_USERNAME", ""),
		Password: getEnv("SMTP_PASSWORD", ""),
		From:     getEnv("MAIL_FROM", "no-reply@stockroom.local"),
	}

	return Config{
		ServerPort: getEnvInt("SERVER_PORT", 8080),
		Env:        env,
		PublicURL:  strings.TrimRight(getEnv("PUBLIC_URL", "http://localhost:8080"), "/"),
		Database:   dbConfig,
		Auth:       authConfig,
		Storage:    storageConfig,
		MQ:         mqConfig,
		Mail:       mailConfig,
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		RateLimit: RateLimitConfig{
			Requests: getEnvInt("RATELIMIT_REQUESTS", 10),
			Window:   getEnvDuration("RATELIMIT_WINDOW", time.Minute),
			Burst:    getEnvInt("RATELIMIT_BURST", 10),
		},
	}
}

// Validate reports configuration that must stop the process from starting.
func (c Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported DB_TYPE %q", c.Database.Driver)
	}
	if c.Auth.TokenTTL <= 0 {
		return errors.New("AUTH_DURATION must be positive")
	}
	if c.Auth.ResetTokenLifetime <= 0 {
		return errors.New("RESET_TOKEN_LIFETIME_HOURS must be positive")
	}
	return nil
}

// IsProduction reports whether the process runs with ENV=production.
func (c Config) IsProduction() bool {
	return c.Env == "production" || c.Env == "prod"
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if valueStr, exists := os.LookupEnv(key); exists {
		var value int
		fmt.Sscanf(valueStr, "%d", &value)
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if valueStr, exists := os.LookupEnv(key); exists {
		switch strings.ToLower(strings.TrimSpace(valueStr)) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go duration strings ("24h") or a bare number of seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	valueStr = strings.TrimSpace(valueStr)
	if d, err := time.ParseDuration(valueStr); err == nil {
		return d
	}
	var seconds int
	if _, err := fmt.Sscanf(valueStr, "%d", &seconds); err == nil {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}
