package bootstrap

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

type Config struct {
	ServiceID string
	LogLevel  slog.Level

	HTTPPort int
	GRPCPort int

	StoreDriver string
	DatabaseURL string
	MaxDBConns  int32
	AutoMigrate bool

	RedisURL    string
	AuthGRPCURL string

	JWTPublicKeyPEM string
	JWTIssuer       string
	JWTAudience     string

	KafkaBrokers       []string
	KafkaConsumerGroup string
	KafkaInboundTopics []string
	KafkaDLQTopic      string
	KafkaTopicByEvent  map[string]string
	KafkaMinBytes      int
	KafkaMaxBytes      int
	KafkaMaxWait       time.Duration
	KafkaReadTimeout   time.Duration
	KafkaStartOffset   string

	OutboxPollInterval   time.Duration
	OutboxBatchSize      int
	ConsumerPollInterval time.Duration
	RecallSchedule       string
	RecallBatchSize      int

	IdempotencyTTL time.Duration
	EventDedupTTL  time.Duration

	EncryptionSecret string
	FileStorageRoot  string
	MaxUploadBytes   int64

	RateLimitPerMinute int
	RateLimitBurst     int
}

type configFile struct {
	Service struct {
		ID       string `yaml:"id"`
		HTTPPort int    `yaml:"http_port"`
		GRPCPort int    `yaml:"grpc_port"`
		LogLevel string `yaml:"log_level"`
	} `yaml:"service"`
	Store struct {
		Driver      string `yaml:"driver"`
		PostgresURL string `yaml:"postgres_url"`
		MaxConns    int32  `yaml:"max_conns"`
		AutoMigrate *bool  `yaml:"auto_migrate"`
	} `yaml:"store"`
	Dependencies struct {
		RedisURL           string            `yaml:"redis_url"`
		AuthGRPCURL        string            `yaml:"auth_grpc_url"`
		KafkaBrokers       []string          `yaml:"kafka_brokers"`
		KafkaConsumerGroup string            `yaml:"kafka_consumer_group"`
		KafkaInboundTopics []string          `yaml:"kafka_inbound_topics"`
		KafkaDLQTopic      string            `yaml:"kafka_dlq_topic"`
		KafkaTopics        map[string]string `yaml:"kafka_topics"`
		KafkaMinBytes      int               `yaml:"kafka_min_bytes"`
		KafkaMaxBytes      int               `yaml:"kafka_max_bytes"`
		KafkaMaxWaitMS     int               `yaml:"kafka_max_wait_ms"`
		KafkaReadTimeoutMS int               `yaml:"kafka_read_timeout_ms"`
		KafkaStartOffset   string            `yaml:"kafka_start_offset"`
	} `yaml:"dependencies"`
	Auth struct {
		JWTPublicKeyFile string `yaml:"jwt_public_key_file"`
		JWTIssuer        string `yaml:"jwt_issuer"`
		JWTAudience      string `yaml:"jwt_audience"`
	} `yaml:"auth"`
	Workers struct {
		RecallSchedule  string `yaml:"recall_schedule"`
		RecallBatchSize int    `yaml:"recall_batch_size"`
		OutboxBatchSize int    `yaml:"outbox_batch_size"`
	} `yaml:"workers"`
	Storage struct {
		Root           string `yaml:"root"`
		MaxUploadBytes int64  `yaml:"max_upload_bytes"`
	} `yaml:"storage"`
	RateLimit struct {
		PerMinute int `yaml:"per_minute"`
		Burst     int `yaml:"burst"`
	} `yaml:"rate_limit"`
}

// LoadConfig reads defaults, then the YAML file at path when it exists, then
// environment variables. A .env file in the working directory is loaded
// into the environment first without overriding variables already set.
func LoadConfig(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		ServiceID:            "clinic-episode-service",
		LogLevel:             slog.LevelInfo,
		HTTPPort:             8080,
		GRPCPort:             9090,
		StoreDriver:          StoreDriverPostgres,
		MaxDBConns:           20,
		AutoMigrate:          true,
		KafkaConsumerGroup:   "clinic-episode-service",
		KafkaInboundTopics:   []string{"clinic.scheduling", "clinic.consents", "clinic.billing"},
		KafkaDLQTopic:        "clinic.dlq",
		KafkaMinBytes:        1,
		KafkaMaxBytes:        10e6,
		KafkaMaxWait:         500 * time.Millisecond,
		KafkaReadTimeout:     250 * time.Millisecond,
		KafkaStartOffset:     "earliest",
		OutboxPollInterval:   2 * time.Second,
		OutboxBatchSize:      100,
		ConsumerPollInterval: 2 * time.Second,
		RecallSchedule:       "@hourly",
		RecallBatchSize:      100,
		IdempotencyTTL:       7 * 24 * time.Hour,
		EventDedupTTL:        7 * 24 * time.Hour,
		FileStorageRoot:      "var/documents",
		MaxUploadBytes:       10 << 20,
		RateLimitPerMinute:   600,
		RateLimitBurst:       60,
	}
	var jwtKeyFile string

	raw, err := os.ReadFile(path)
	if err == nil {
		var f configFile
		if unmarshalErr := yaml.Unmarshal(raw, &f); unmarshalErr != nil {
			return Config{}, fmt.Errorf("parse config file: %w", unmarshalErr)
		}
		if f.Service.ID != "" {
			cfg.ServiceID = f.Service.ID
		}
		if f.Service.HTTPPort > 0 {
			cfg.HTTPPort = f.Service.HTTPPort
		}
		if f.Service.GRPCPort > 0 {
			cfg.GRPCPort = f.Service.GRPCPort
		}
		if f.Service.LogLevel != "" {
			cfg.LogLevel = parseLevel(f.Service.LogLevel, cfg.LogLevel)
		}
		if f.Store.Driver != "" {
			cfg.StoreDriver = f.Store.Driver
		}
		if f.Store.PostgresURL != "" {
			cfg.DatabaseURL = f.Store.PostgresURL
		}
		if f.Store.MaxConns > 0 {
			cfg.MaxDBConns = f.Store.MaxConns
		}
		if f.Store.AutoMigrate != nil {
			cfg.AutoMigrate = *f.Store.AutoMigrate
		}
		cfg.RedisURL = f.Dependencies.RedisURL
		cfg.AuthGRPCURL = f.Dependencies.AuthGRPCURL
		if len(f.Dependencies.KafkaBrokers) > 0 {
			cfg.KafkaBrokers = trimNonEmpty(f.Dependencies.KafkaBrokers)
		}
		if f.Dependencies.KafkaConsumerGroup != "" {
			cfg.KafkaConsumerGroup = f.Dependencies.KafkaConsumerGroup
		}
		if len(f.Dependencies.KafkaInboundTopics) > 0 {
			cfg.KafkaInboundTopics = trimNonEmpty(f.Dependencies.KafkaInboundTopics)
		}
		if f.Dependencies.KafkaDLQTopic != "" {
			cfg.KafkaDLQTopic = f.Dependencies.KafkaDLQTopic
		}
		if len(f.Dependencies.KafkaTopics) > 0 {
			cfg.KafkaTopicByEvent = f.Dependencies.KafkaTopics
		}
		if f.Dependencies.KafkaMinBytes > 0 {
			cfg.KafkaMinBytes = f.Dependencies.KafkaMinBytes
		}
		if f.Dependencies.KafkaMaxBytes > 0 {
			cfg.KafkaMaxBytes = f.Dependencies.KafkaMaxBytes
		}
		if f.Dependencies.KafkaMaxWaitMS > 0 {
			cfg.KafkaMaxWait = time.Duration(f.Dependencies.KafkaMaxWaitMS) * time.Millisecond
		}
		if f.Dependencies.KafkaReadTimeoutMS > 0 {
			cfg.KafkaReadTimeout = time.Duration(f.Dependencies.KafkaReadTimeoutMS) * time.Millisecond
		}
		if f.Dependencies.KafkaStartOffset != "" {
			cfg.KafkaStartOffset = f.Dependencies.KafkaStartOffset
		}
		jwtKeyFile = f.Auth.JWTPublicKeyFile
		cfg.JWTIssuer = f.Auth.JWTIssuer
		cfg.JWTAudience = f.Auth.JWTAudience
		if f.Workers.RecallSchedule != "" {
			cfg.RecallSchedule = f.Workers.RecallSchedule
		}
		if f.Workers.RecallBatchSize > 0 {
			cfg.RecallBatchSize = f.Workers.RecallBatchSize
		}
		if f.Workers.OutboxBatchSize > 0 {
			cfg.OutboxBatchSize = f.Workers.OutboxBatchSize
		}
		if f.Storage.Root != "" {
			cfg.FileStorageRoot = f.Storage.Root
		}
		if f.Storage.MaxUploadBytes > 0 {
			cfg.MaxUploadBytes = f.Storage.MaxUploadBytes
		}
		if f.RateLimit.PerMinute > 0 {
			cfg.RateLimitPerMinute = f.RateLimit.PerMinute
		}
		if f.RateLimit.Burst > 0 {
			cfg.RateLimitBurst = f.RateLimit.Burst
		}
	} else if !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg.ServiceID = envOrDefault("SERVICE_ID", cfg.ServiceID)
	cfg.LogLevel = parseLevel(os.Getenv("LOG_LEVEL"), cfg.LogLevel)
	cfg.HTTPPort = envInt("HTTP_PORT", cfg.HTTPPort)
	cfg.GRPCPort = envInt("GRPC_PORT", cfg.GRPCPort)
	cfg.StoreDriver = strings.ToLower(envOrDefault("STORE_DRIVER", cfg.StoreDriver))
	cfg.DatabaseURL = envOrDefault("DB_URL", envOrDefault("POSTGRES_URL", cfg.DatabaseURL))
	cfg.MaxDBConns = int32(envInt("DB_MAX_CONNS", int(cfg.MaxDBConns)))
	cfg.AutoMigrate = envBool("DB_AUTO_MIGRATE", cfg.AutoMigrate)
	cfg.RedisURL = envOrDefault("REDIS_URL", cfg.RedisURL)
	cfg.AuthGRPCURL = envOrDefault("AUTH_GRPC_URL", cfg.AuthGRPCURL)
	jwtKeyFile = envOrDefault("JWT_PUBLIC_KEY_FILE", jwtKeyFile)
	cfg.JWTPublicKeyPEM = os.Getenv("JWT_PUBLIC_KEY_PEM")
	cfg.JWTIssuer = envOrDefault("JWT_ISSUER", cfg.JWTIssuer)
	cfg.JWTAudience = envOrDefault("JWT_AUDIENCE", cfg.JWTAudience)
	cfg.KafkaBrokers = envCSV("KAFKA_BROKERS", cfg.KafkaBrokers)
	cfg.KafkaConsumerGroup = envOrDefault("KAFKA_CONSUMER_GROUP", cfg.KafkaConsumerGroup)
	cfg.KafkaInboundTopics = envCSV("KAFKA_INBOUND_TOPICS", cfg.KafkaInboundTopics)
	cfg.KafkaDLQTopic = envOrDefault("KAFKA_DLQ_TOPIC", cfg.KafkaDLQTopic)
	cfg.KafkaMinBytes = envInt("KAFKA_MIN_BYTES", cfg.KafkaMinBytes)
	cfg.KafkaMaxBytes = envInt("KAFKA_MAX_BYTES", cfg.KafkaMaxBytes)
	cfg.KafkaMaxWait = time.Duration(envInt("KAFKA_MAX_WAIT_MS", int(cfg.KafkaMaxWait.Milliseconds()))) * time.Millisecond
	cfg.KafkaReadTimeout = time.Duration(envInt("KAFKA_READ_TIMEOUT_MS", int(cfg.KafkaReadTimeout.Milliseconds()))) * time.Millisecond
	cfg.KafkaStartOffset = strings.ToLower(envOrDefault("KAFKA_START_OFFSET", cfg.KafkaStartOffset))
	cfg.OutboxPollInterval = time.Duration(envInt("OUTBOX_POLL_SECONDS", int(cfg.OutboxPollInterval.Seconds()))) * time.Second
	cfg.OutboxBatchSize = envInt("OUTBOX_BATCH_SIZE", cfg.OutboxBatchSize)
	cfg.ConsumerPollInterval = time.Duration(envInt("CONSUMER_POLL_SECONDS", int(cfg.ConsumerPollInterval.Seconds()))) * time.Second
	cfg.RecallSchedule = envOrDefault("RECALL_SCHEDULE", cfg.RecallSchedule)
	cfg.RecallBatchSize = envInt("RECALL_BATCH_SIZE", cfg.RecallBatchSize)
	cfg.IdempotencyTTL = time.Duration(envInt("IDEMPOTENCY_TTL_HOURS", int(cfg.IdempotencyTTL.Hours()))) * time.Hour
	cfg.EventDedupTTL = time.Duration(envInt("EVENT_DEDUP_TTL_HOURS", int(cfg.EventDedupTTL.Hours()))) * time.Hour
	cfg.EncryptionSecret = envOrDefault("ENCRYPTION_SECRET", cfg.EncryptionSecret)
	cfg.FileStorageRoot = envOrDefault("FILE_STORAGE_ROOT", cfg.FileStorageRoot)
	cfg.MaxUploadBytes = int64(envInt("MAX_UPLOAD_BYTES", int(cfg.MaxUploadBytes)))
	cfg.RateLimitPerMinute = envInt("RATE_LIMIT_PER_MINUTE", cfg.RateLimitPerMinute)
	cfg.RateLimitBurst = envInt("RATE_LIMIT_BURST", cfg.RateLimitBurst)

	if cfg.JWTPublicKeyPEM == "" && jwtKeyFile != "" {
		pem, readErr := os.ReadFile(jwtKeyFile)
		if readErr != nil {
			return Config{}, fmt.Errorf("read jwt public key: %w", readErr)
		}
		cfg.JWTPublicKeyPEM = string(pem)
	}

	switch cfg.StoreDriver {
	case StoreDriverPostgres:
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("missing DB_URL/POSTGRES_URL")
		}
	case StoreDriverMemory:
	default:
		return Config{}, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}
	if cfg.EncryptionSecret != "" && len(cfg.EncryptionSecret) < 16 {
		return Config{}, fmt.Errorf("ENCRYPTION_SECRET must be at least 16 bytes")
	}
	return cfg, nil
}

func parseLevel(raw string, fallback slog.Level) slog.Level {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(raw)); err != nil {
		return fallback
	}
	return level
}

func envOrDefault(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}

func envInt(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func envBool(name string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	switch strings.ToLower(raw) {
	case "1", "true", "yes":
		return true
	case "0", "false", "no":
		return false
	default:
		return fallback
	}
}

func envCSV(name string, fallback []string) []string {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	return trimNonEmpty(strings.Split(raw, ","))
}

func trimNonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
