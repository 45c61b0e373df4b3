package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"

	ProjectionAsync  = "async"
	ProjectionInline = "inline"
)

type Config struct {
	AppPort string
	AppMode string
	LogMode string

	StoreDriver string
	DBHost      string
	DBUser      string
	DBPassword  string
	DBName      string
	DBPort      string
	DBSSLMode   string
	DBMaxConns  int

	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int
	EventStream   string

	// EventStreamMaxLen caps the stream length; older entries are trimmed.
	EventStreamMaxLen int64
	ConsumerName      string

	ProjectionMode    string
	CommandMaxRetries int
	CommandBackoff    time.Duration
	IdempotencyTTL    time.Duration
	// ReadModelCacheTTL of zero disables the Redis read-model cache.
	ReadModelCacheTTL time.Duration

	OutboxBatchSize  int
	OutboxInterval   time.Duration
	OutboxMaxRetries int

	// OutboxClaimTimeout is how long a PROCESSING row stays claimed before
	// another batch may publish it again.
	OutboxClaimTimeout time.Duration

	S3Region    string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
	S3Endpoint  string
}

func LoadConfig() *Config {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	return &Config{
		AppPort:            getEnv("APP_PORT", "8080"),
		AppMode:            getEnv("APP_MODE", "debug"),
		LogMode:            getEnv("LOG_MODE", "development"),
		StoreDriver:        getEnv("STORE_DRIVER", StoreDriverPostgres),
		DBHost:             getEnv("DB_HOST", "localhost"),
		DBUser:             getEnv("DB_USER", "postgres"),
		DBPassword:         getEnv("DB_PASSWORD", "postgres"),
		DBName:             getEnv("DB_NAME", "incident_ledger"),
		DBPort:             getEnv("DB_PORT", "5432"),
		DBSSLMode:          getEnv("DB_SSLMODE", "disable"),
		DBMaxConns:         getEnvAsInt("DB_MAX_CONNS", 20),
		RedisHost:          getEnv("REDIS_HOST", "localhost"),
		RedisPort:          getEnv("REDIS_PORT", "6379"),
		RedisPassword:      getEnv("REDIS_PASSWORD", ""),
		RedisDB:            getEnvAsInt("REDIS_DB", 0),
		EventStream:        getEnv("EVENT_STREAM", "stream:incident:events"),
		EventStreamMaxLen:  int64(getEnvAsInt("EVENT_STREAM_MAXLEN", 100000)),
		ConsumerName:       getEnv("CONSUMER_NAME", hostname()),
		ProjectionMode:     getEnv("PROJECTION_MODE", ProjectionAsync),
		CommandMaxRetries:  getEnvAsInt("COMMAND_MAX_RETRIES", 3),
		CommandBackoff:     getEnvAsDuration("COMMAND_BACKOFF", 10*time.Millisecond),
		IdempotencyTTL:     getEnvAsDuration("IDEMPOTENCY_TTL", 24*time.Hour),
		ReadModelCacheTTL:  getEnvAsDuration("READ_MODEL_CACHE_TTL", 30*time.Second),
		OutboxBatchSize:    getEnvAsInt("OUTBOX_BATCH_SIZE", 100),
		OutboxInterval:     getEnvAsDuration("OUTBOX_INTERVAL", 500*time.Millisecond),
		OutboxMaxRetries:   getEnvAsInt("OUTBOX_MAX_RETRIES", 10),
		OutboxClaimTimeout: getEnvAsDuration("OUTBOX_CLAIM_TIMEOUT", 30*time.Second),
		S3Region:           getEnv("S3_REGION", ""),
		S3Bucket:           getEnv("S3_BUCKET", ""),
		S3AccessKey:        getEnv("S3_ACCESS_KEY", ""),
		S3SecretKey:        getEnv("S3_SECRET_KEY", ""),
		S3Endpoint:         getEnv("S3_ENDPOINT", ""),
	}
}

// DatabaseURL renders the pgx connection string.
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s&pool_max_conns=%d",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode, c.DBMaxConns)
}

// RedisAddr returns host:port for the redis client.
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}

// ArchiveEnabled reports whether closed incidents should be exported to S3.
func (c *Config) ArchiveEnabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// InlineProjection reports whether commands update the read model directly.
// The memory store has no outbox, so it always projects inline.
func (c *Config) InlineProjection() bool {
	return c.ProjectionMode == ProjectionInline || c.StoreDriver == StoreDriverMemory
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return "incident-ledger"
	}
	return name
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return fallback
}
