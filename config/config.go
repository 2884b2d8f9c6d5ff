package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Storage and messaging backend names.
const (
	BackendNone     = "none"
	BackendMinio    = "minio"
	BackendGCS      = "gcs"
	BackendRabbitMQ = "rabbitmq"
	BackendPubSub   = "pubsub"
)

type Config struct {
	ServerPort        int
	WorkerMetricsPort int
	Log               LogConfig
	Database          DatabaseConfig
	Auth              AuthConfig
	OpenAI            OpenAIConfig
	Redis             RedisConfig
	Storage           StorageConfig
	MQ                MQConfig
}

type LogConfig struct {
	Level  string
	Format string
}

// DatabaseConfig locates Postgres and sizes the connection pool.
// ConnectAttempts bounds how many pings Open tries before giving up.
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	UseSSL          bool
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectAttempts int
}

// AuthConfig holds the token signing secret and password hashing cost.
// The secret must be stable across restarts, otherwise every issued token
// is invalidated on boot.
type AuthConfig struct {
	JWTSecret        string
	TokenTTL         time.Duration
	BcryptWorkFactor int
}

type OpenAIConfig struct {
	APIKey         string
	BaseURL        string
	Timeout        time.Duration
	Model          string
	ChallengeModel string
}

type RedisConfig struct {
	Addr                string
	Password            string
	DB                  int
	LeaderboardCacheTTL time.Duration
	GenerationPerMinute int
}

// Enabled reports whether a Redis address was configured.
func (c RedisConfig) Enabled() bool {
	return strings.TrimSpace(c.Addr) != ""
}

type StorageConfig struct {
	Backend       string
	PhotoMaxBytes int64
	Minio         MinioConfig
	GCS           GCSConfig
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

// MQConfig selects the event broker. Channel names are published under
// TopicPrefix, and a delivery is dropped after MaxDeliveries failed attempts.
type MQConfig struct {
	Backend       string
	TopicPrefix   string
	MaxDeliveries int
	RabbitMQ      RabbitMQConfig
	PubSub        PubSubConfig
}

type RabbitMQConfig struct {
	URL             string
	PrefetchCount   int
	QueueDurable    bool
	QueueAutoDelete bool
}

type PubSubConfig struct {
	ProjectID          string
	CredentialsFile    string
	SubscriptionSuffix string
	MaxOutstanding     int
	AckDeadline        time.Duration
}

func LoadConfig() Config {
	if os.Getenv("ENV") == "dev" {
		godotenv.Load()
	}

	dbConfig := DatabaseConfig{
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     getEnvInt("DB_PORT", 5432),
		User:     getEnv("DB_USER", "brainforce"),
		Password: getEnv("DB_PASSWORD", "password"),
		DBName:   getEnv("DB_NAME", "brainforce_db"),
		UseSSL:   getEnvBool("DB_USE_SSL", false),

		MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
		ConnectAttempts: getEnvInt("DB_CONNECT_ATTEMPTS", 5),
	}

	return Config{
		ServerPort:        getEnvInt("SERVER_PORT", 8080),
		WorkerMetricsPort: getEnvInt("WORKER_METRICS_PORT", 9091),
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "text"),
		},
		Database: dbConfig,
		Auth: AuthConfig{
			JWTSecret:        strings.TrimSpace(getEnv("JWT_SECRET", "")),
			TokenTTL:         getEnvDuration("JWT_TTL", time.Hour),
			BcryptWorkFactor: getEnvInt("BCRYPT_WORK_FACTOR", 13),
		},
		OpenAI: OpenAIConfig{
			APIKey:         strings.TrimSpace(getEnv("OPENAI_API_KEY", "")),
			BaseURL:        getEnv("OPENAI_BASE_URL", ""),
			Timeout:        getEnvDuration("OPENAI_TIMEOUT", 30*time.Second),
			Model:          getEnv("OPENAI_MODEL", "gpt-3.5-turbo"),
			ChallengeModel: getEnv("OPENAI_CHALLENGE_MODEL", "gpt-4"),
		},
		Redis: RedisConfig{
			Addr:                getEnv("REDIS_ADDR", ""),
			Password:            getEnv("REDIS_PASSWORD", ""),
			DB:                  getEnvInt("REDIS_DB", 0),
			LeaderboardCacheTTL: getEnvDuration("LEADERBOARD_CACHE_TTL", 30*time.Second),
			GenerationPerMinute: getEnvInt("GENERATION_RATE_LIMIT", 20),
		},
		Storage: StorageConfig{
			Backend:       strings.ToLower(getEnv("STORAGE_BACKEND", BackendNone)),
			PhotoMaxBytes: int64(getEnvInt("PHOTO_MAX_BYTES", 5<<20)),
			Minio: MinioConfig{
				Endpoint:  getEnv("MINIO_ENDPOINT", "localhost:9000"),
				AccessKey: getEnv("MINIO_ACCESS_KEY", ""),
				SecretKey: getEnv("MINIO_SECRET_KEY", ""),
				Bucket:    getEnv("MINIO_BUCKET", "brainforce"),
				UseSSL:    getEnvBool("MINIO_USE_SSL", false),
			},
			GCS: GCSConfig{
				Bucket:          getEnv("GCS_BUCKET", ""),
				ProjectID:       getEnv("GCS_PROJECT_ID", ""),
				CredentialsFile: getEnv("GCS_CREDENTIALS_FILE", ""),
			},
		},
		MQ: MQConfig{
			Backend:       strings.ToLower(getEnv("MQ_BACKEND", BackendNone)),
			TopicPrefix:   getEnv("MQ_TOPIC_PREFIX", "brainforce"),
			MaxDeliveries: getEnvInt("MQ_MAX_DELIVERIES", 5),
			RabbitMQ: RabbitMQConfig{
				URL:             getEnv("RABBITMQ_URL", ""),
				PrefetchCount:   getEnvInt("RABBITMQ_PREFETCH", 10),
				QueueDurable:    getEnvBool("RABBITMQ_QUEUE_DURABLE", true),
				QueueAutoDelete: getEnvBool("RABBITMQ_QUEUE_AUTO_DELETE", false),
			},
			PubSub: PubSubConfig{
				ProjectID:          getEnv("PUBSUB_PROJECT_ID", ""),
				CredentialsFile:    getEnv("PUBSUB_CREDENTIALS_FILE", ""),
				SubscriptionSuffix: getEnv("PUBSUB_SUBSCRIPTION_SUFFIX", "-sub"),
				MaxOutstanding:     getEnvInt("PUBSUB_MAX_OUTSTANDING", 10),
				AckDeadline:        getEnvDuration("PUBSUB_ACK_DEADLINE", 30*time.Second),
			},
		},
	}
}

// Validate checks the values required by the API server.
func (c Config) Validate() error {
	errs := c.backendErrors()
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.Auth.TokenTTL <= 0 {
		errs = append(errs, errors.New("JWT_TTL must be positive"))
	}
	if c.OpenAI.APIKey == "" {
		errs = append(errs, errors.New("OPENAI_API_KEY is required"))
	}
	if c.OpenAI.Timeout <= 0 {
		errs = append(errs, errors.New("OPENAI_TIMEOUT must be positive"))
	}
	return errors.Join(errs...)
}

// ValidateWorker checks the values required by the event worker.
func (c Config) ValidateWorker() error {
	errs := c.backendErrors()
	if c.MQ.Backend == BackendNone {
		errs = append(errs, errors.New("MQ_BACKEND must name a broker to run the worker"))
	}
	return errors.Join(errs...)
}

func (c Config) backendErrors() []error {
	var errs []error
	switch c.Storage.Backend {
	case BackendNone, BackendMinio, BackendGCS:
	default:
		errs = append(errs, fmt.Errorf("unknown STORAGE_BACKEND %q", c.Storage.Backend))
	}
	switch c.MQ.Backend {
	case BackendNone, BackendRabbitMQ, BackendPubSub:
	default:
		errs = append(errs, fmt.Errorf("unknown MQ_BACKEND %q", c.MQ.Backend))
	}
	return errs
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
		if _, err := fmt.Sscanf(valueStr, "%d", &value); err != nil {
			return defaultValue
		}
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if valueStr, exists := os.LookupEnv(key); exists {
		value, err := strconv.ParseBool(strings.TrimSpace(valueStr))
		if err != nil {
			return defaultValue
		}
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if valueStr, exists := os.LookupEnv(key); exists {
		value, err := time.ParseDuration(strings.TrimSpace(valueStr))
		if err != nil {
			return defaultValue
		}
		return value
	}
	return defaultValue
}
