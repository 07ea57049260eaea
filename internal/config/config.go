// internal/config/config.go

package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	Environment string
	Server      ServerConfig
	Database    DatabaseConfig
	NATS        NATSConfig
	Queue       QueueConfig
	Kafka       KafkaConfig
	Redis       RedisConfig
	Spark       SparkConfig
	Sweep       SweepConfig
	RateLimit   RateLimitConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	CorsOrigins     []string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Database     string
	MaxOpenConns int
	SSLMode      string
	EnsureSchema bool
}

// DSN returns the connection string for pgxpool
func (d DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:     d.Database,
		RawQuery: "sslmode=" + url.QueryEscape(d.SSLMode),
	}
	return u.String()
}

// NATSConfig holds NATS configuration. UserSubjectPrefix scopes per-user
// notification subjects.
type NATSConfig struct {
	URL               string
	MaxReconnects     int
	ReconnectWait     time.Duration
	ConnectTimeout    time.Duration
	UserSubjectPrefix string
}

// QueueConfig holds location ingestion queue configuration
type QueueConfig struct {
	Enabled     bool
	Stream      string
	Subject     string
	Durable     string
	Workers     int
	MaxAttempts int
	BackoffBase time.Duration
	AckWait     time.Duration
	JobTimeout  time.Duration
}

// KafkaConfig holds the optional Kafka event bus configuration
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// Enabled reports whether a Kafka bus should be attached
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

// RedisConfig holds the optional sweep lock configuration
type RedisConfig struct {
	URL string
}

// SparkConfig holds spark detection and matching parameters
type SparkConfig struct {
	MaxDistanceMeters         float64
	Lookback                  time.Duration
	HardDedupWindow           time.Duration
	ProximityCooldown         time.Duration
	ManualCooldown            time.Duration
	InterestCooldown          time.Duration
	ProximityExpiry           time.Duration
	ManualExpiry              time.Duration
	InterestExpiry            time.Duration
	MinSharedInterests        int
	InterestStrengthThreshold int
	ProximityStrength         int
	ManualStrength            int
	MaxMessageLength          int
}

// SweepConfig holds periodic task intervals
type SweepConfig struct {
	InterestInterval   time.Duration
	ExpirationInterval time.Duration
	CleanupInterval    time.Duration
	LocationRetention  time.Duration
}

// RateLimitConfig holds location update throttling
type RateLimitConfig struct {
	LocationsPerSecond float64
	Burst              int
	IdleTTL            time.Duration
}

// Load loads configuration from environment variables
func Load() (Config, error) {
	config := Config{
		Environment: getEnv("APP_ENV", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getEnvAsInt("SERVER_PORT", 8080),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 10*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			CorsOrigins:     getEnvAsSlice("SERVER_CORS_ORIGINS", []string{"*"}),
		},
		Database: DatabaseConfig{
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnvAsInt("DB_PORT", 5432),
			User:         getEnv("DB_USER", "postgres"),
			Password:     getEnv("DB_PASSWORD", "postgres"),
			Database:     getEnv("DB_NAME", "spark"),
			MaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			SSLMode:      getEnv("DB_SSL_MODE", "disable"),
			EnsureSchema: getEnvAsBool("DB_ENSURE_SCHEMA", true),
		},
		NATS: NATSConfig{
			URL:               getEnv("NATS_URL", "nats://localhost:4222"),
			MaxReconnects:     getEnvAsInt("NATS_MAX_RECONNECTS", 10),
			ReconnectWait:     getEnvAsDuration("NATS_RECONNECT_WAIT", 1*time.Second),
			ConnectTimeout:    getEnvAsDuration("NATS_CONNECT_TIMEOUT", 2*time.Second),
			UserSubjectPrefix: getEnv("NATS_USER_SUBJECT_PREFIX", "users"),
		},
		Queue: QueueConfig{
			Enabled:     getEnvAsBool("QUEUE_ENABLED", true),
			Stream:      getEnv("QUEUE_STREAM", "SPARK_LOCATIONS"),
			Subject:     getEnv("QUEUE_SUBJECT", "spark.jobs.location"),
			Durable:     getEnv("QUEUE_DURABLE", "proximity-workers"),
			Workers:     getEnvAsInt("QUEUE_WORKERS", 4),
			MaxAttempts: getEnvAsInt("QUEUE_MAX_ATTEMPTS", 3),
			BackoffBase: getEnvAsDuration("QUEUE_BACKOFF_BASE", 2*time.Second),
			AckWait:     getEnvAsDuration("QUEUE_ACK_WAIT", 30*time.Second),
			JobTimeout:  getEnvAsDuration("QUEUE_JOB_TIMEOUT", 20*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers: getEnvAsSlice("KAFKA_BROKERS", nil),
			Topic:   getEnv("KAFKA_TOPIC", "spark-events"),
		},
		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", ""),
		},
		Spark: SparkConfig{
			MaxDistanceMeters:         getEnvAsFloat("SPARK_MAX_DISTANCE_M", 100),
			Lookback:                  getEnvAsDuration("SPARK_LOOKBACK", 3*time.Hour),
			HardDedupWindow:           getEnvAsDuration("SPARK_HARD_DEDUP_WINDOW", 60*time.Second),
			ProximityCooldown:         getEnvAsDuration("SPARK_PROXIMITY_COOLDOWN", 5*time.Minute),
			ManualCooldown:            getEnvAsDuration("SPARK_MANUAL_COOLDOWN", 72*time.Hour),
			InterestCooldown:          getEnvAsDuration("SPARK_INTEREST_COOLDOWN", 72*time.Hour),
			ProximityExpiry:           getEnvAsDuration("SPARK_PROXIMITY_EXPIRY", 48*time.Hour),
			ManualExpiry:              getEnvAsDuration("SPARK_MANUAL_EXPIRY", 72*time.Hour),
			InterestExpiry:            getEnvAsDuration("SPARK_INTEREST_EXPIRY", 72*time.Hour),
			MinSharedInterests:        getEnvAsInt("SPARK_MIN_SHARED_INTERESTS", 3),
			InterestStrengthThreshold: getEnvAsInt("SPARK_INTEREST_STRENGTH_THRESHOLD", 50),
			ProximityStrength:         getEnvAsInt("SPARK_PROXIMITY_STRENGTH", 80),
			ManualStrength:            getEnvAsInt("SPARK_MANUAL_STRENGTH", 80),
			MaxMessageLength:          getEnvAsInt("SPARK_MAX_MESSAGE_LENGTH", 500),
		},
		Sweep: SweepConfig{
			InterestInterval:   getEnvAsDuration("SWEEP_INTEREST_INTERVAL", 1*time.Hour),
			ExpirationInterval: getEnvAsDuration("SWEEP_EXPIRATION_INTERVAL", 3*time.Hour),
			CleanupInterval:    getEnvAsDuration("SWEEP_CLEANUP_INTERVAL", 1*time.Hour),
			LocationRetention:  getEnvAsDuration("SWEEP_LOCATION_RETENTION", 24*time.Hour),
		},
		RateLimit: RateLimitConfig{
			LocationsPerSecond: getEnvAsFloat("RATE_LIMIT_LOCATIONS_PER_SECOND", 1),
			Burst:              getEnvAsInt("RATE_LIMIT_BURST", 5),
			IdleTTL:            getEnvAsDuration("RATE_LIMIT_IDLE_TTL", 10*time.Minute),
		},
	}

	return config, validate(config)
}

// validate checks if config is valid
func validate(config Config) error {
	var problems []string

	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		problems = append(problems, "SERVER_PORT must be between 1 and 65535")
	}
	if config.Spark.MaxDistanceMeters <= 0 {
		problems = append(problems, "SPARK_MAX_DISTANCE_M must be positive")
	}
	if config.Spark.Lookback <= 0 {
		problems = append(problems, "SPARK_LOOKBACK must be positive")
	}
	if config.Spark.HardDedupWindow <= 0 {
		problems = append(problems, "SPARK_HARD_DEDUP_WINDOW must be positive")
	}
	if config.Spark.ProximityExpiry <= 0 || config.Spark.ManualExpiry <= 0 || config.Spark.InterestExpiry <= 0 {
		problems = append(problems, "spark expiry durations must be positive")
	}
	if config.Spark.MinSharedInterests < 1 {
		problems = append(problems, "SPARK_MIN_SHARED_INTERESTS must be at least 1")
	}
	if config.Queue.Enabled && config.Queue.Workers <= 0 {
		problems = append(problems, "QUEUE_WORKERS must be positive")
	}
	if config.Queue.MaxAttempts <= 0 {
		problems = append(problems, "QUEUE_MAX_ATTEMPTS must be positive")
	}
	if config.Sweep.InterestInterval <= 0 || config.Sweep.ExpirationInterval <= 0 || config.Sweep.CleanupInterval <= 0 {
		problems = append(problems, "sweep intervals must be positive")
	}
	if config.Sweep.LocationRetention < config.Spark.Lookback {
		problems = append(problems, "SWEEP_LOCATION_RETENTION must not be shorter than SPARK_LOOKBACK")
	}
	if config.RateLimit.LocationsPerSecond <= 0 || config.RateLimit.Burst <= 0 {
		problems = append(problems, "rate limit must be positive")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
