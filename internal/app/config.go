package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Драйверы хранилища.
const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// Брокеры для публикации outbox.
const (
	BrokerNone     = "none"
	BrokerKafka    = "kafka"
	BrokerRabbitMQ = "rabbitmq"
)

// EnvPrefix задаёт префикс переменных окружения сервиса.
const EnvPrefix = "MARKET"

// Config описывает настройки запуска приложения.
type Config struct {
	HTTPAddr    string `mapstructure:"HTTP_ADDR"`
	GRPCAddr    string `mapstructure:"GRPC_ADDR"`
	MetricsAddr string `mapstructure:"METRICS_ADDR"`
	LogLevel    string `mapstructure:"LOG_LEVEL"`
	LogFormat   string `mapstructure:"LOG_FORMAT"`
	Environment string `mapstructure:"ENVIRONMENT"`

	StorageDriver       string `mapstructure:"STORAGE_DRIVER"`
	PostgresDSN         string `mapstructure:"POSTGRES_DSN"`
	PostgresAutoMigrate bool   `mapstructure:"POSTGRES_AUTO_MIGRATE"`

	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	Broker           string `mapstructure:"BROKER"`
	KafkaBrokers     string `mapstructure:"KAFKA_BROKERS"`
	KafkaTopic       string `mapstructure:"KAFKA_TOPIC"`
	KafkaDLQTopic    string `mapstructure:"KAFKA_DLQ_TOPIC"`
	RabbitMQURL      string `mapstructure:"RABBITMQ_URL"`
	RabbitMQExchange string `mapstructure:"RABBITMQ_EXCHANGE"`

	SettlementTimeout time.Duration `mapstructure:"SETTLEMENT_TIMEOUT"`

	RateLimitRPS   float64 `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `mapstructure:"RATE_LIMIT_BURST"`

	OutboxPollInterval time.Duration `mapstructure:"OUTBOX_POLL_INTERVAL"`
	OutboxBatchSize    int           `mapstructure:"OUTBOX_BATCH_SIZE"`
	OutboxMaxAttempts  int           `mapstructure:"OUTBOX_MAX_ATTEMPTS"`
	OutboxRetryDelay   time.Duration `mapstructure:"OUTBOX_RETRY_DELAY"`
	OutboxMaxAge       time.Duration `mapstructure:"OUTBOX_MAX_AGE"`

	IdempotencyCleanupInterval  time.Duration `mapstructure:"IDEMPOTENCY_CLEANUP_INTERVAL"`
	IdempotencyCleanupBatchSize int           `mapstructure:"IDEMPOTENCY_CLEANUP_BATCH_SIZE"`

	OTLPEndpoint    string  `mapstructure:"OTLP_ENDPOINT"`
	TraceSampleRate float64 `mapstructure:"TRACE_SAMPLE_RATE"`

	ShutdownTimeout time.Duration `mapstructure:"SHUTDOWN_TIMEOUT"`
}

// DefaultConfig возвращает настройки для локального запуска без внешних зависимостей.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:    ":8080",
		GRPCAddr:    ":50051",
		MetricsAddr: ":9090",
		LogLevel:    "info",
		LogFormat:   "text",
		Environment: "local",

		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,

		Broker:           BrokerNone,
		KafkaTopic:       "bazaar.market.events",
		KafkaDLQTopic:    "bazaar.dlq",
		RabbitMQExchange: "bazaar.market",

		SettlementTimeout: 5 * time.Second,

		RateLimitRPS:   50,
		RateLimitBurst: 100,

		OutboxPollInterval: time.Second,
		OutboxBatchSize:    100,
		OutboxMaxAttempts:  3,
		OutboxRetryDelay:   100 * time.Millisecond,
		OutboxMaxAge:       5 * time.Minute,

		IdempotencyCleanupInterval:  time.Minute,
		IdempotencyCleanupBatchSize: 500,

		TraceSampleRate: 1,

		ShutdownTimeout: 5 * time.Second,
	}
}

// LoadConfig читает настройки из переменных окружения MARKET_* и,
// если он есть, из файла .env в каталоге path.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	bindDefaults(v, cfg)

	if path != "" {
		v.AddConfigPath(path)
		v.SetConfigName(".env")
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// bindDefaults регистрирует ключи в viper: без этого AutomaticEnv не попадёт в Unmarshal.
func bindDefaults(v *viper.Viper, cfg Config) {
	defaults := map[string]any{
		"HTTP_ADDR":                      cfg.HTTPAddr,
		"GRPC_ADDR":                      cfg.GRPCAddr,
		"METRICS_ADDR":                   cfg.MetricsAddr,
		"LOG_LEVEL":                      cfg.LogLevel,
		"LOG_FORMAT":                     cfg.LogFormat,
		"ENVIRONMENT":                    cfg.Environment,
		"STORAGE_DRIVER":                 cfg.StorageDriver,
		"POSTGRES_DSN":                   cfg.PostgresDSN,
		"POSTGRES_AUTO_MIGRATE":          cfg.PostgresAutoMigrate,
		"REDIS_ADDR":                     cfg.RedisAddr,
		"REDIS_PASSWORD":                 cfg.RedisPassword,
		"REDIS_DB":                       cfg.RedisDB,
		"BROKER":                         cfg.Broker,
		"KAFKA_BROKERS":                  cfg.KafkaBrokers,
		"KAFKA_TOPIC":                    cfg.KafkaTopic,
		"KAFKA_DLQ_TOPIC":                cfg.KafkaDLQTopic,
		"RABBITMQ_URL":                   cfg.RabbitMQURL,
		"RABBITMQ_EXCHANGE":              cfg.RabbitMQExchange,
		"SETTLEMENT_TIMEOUT":             cfg.SettlementTimeout,
		"RATE_LIMIT_RPS":                 cfg.RateLimitRPS,
		"RATE_LIMIT_BURST":               cfg.RateLimitBurst,
		"OUTBOX_POLL_INTERVAL":           cfg.OutboxPollInterval,
		"OUTBOX_BATCH_SIZE":              cfg.OutboxBatchSize,
		"OUTBOX_MAX_ATTEMPTS":            cfg.OutboxMaxAttempts,
		"OUTBOX_RETRY_DELAY":             cfg.OutboxRetryDelay,
		"OUTBOX_MAX_AGE":                 cfg.OutboxMaxAge,
		"IDEMPOTENCY_CLEANUP_INTERVAL":   cfg.IdempotencyCleanupInterval,
		"IDEMPOTENCY_CLEANUP_BATCH_SIZE": cfg.IdempotencyCleanupBatchSize,
		"OTLP_ENDPOINT":                  cfg.OTLPEndpoint,
		"TRACE_SAMPLE_RATE":              cfg.TraceSampleRate,
		"SHUTDOWN_TIMEOUT":               cfg.ShutdownTimeout,
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
}

// Validate проверяет согласованность настроек.
func (c Config) Validate() error {
	var errs []error

	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			errs = append(errs, errors.New("POSTGRES_DSN is required for postgres storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage driver %q", c.StorageDriver))
	}

	switch c.Broker {
	case BrokerNone:
	case BrokerKafka:
		if len(c.KafkaBrokerList()) == 0 {
			errs = append(errs, errors.New("KAFKA_BROKERS is required for kafka broker"))
		}
	case BrokerRabbitMQ:
		if strings.TrimSpace(c.RabbitMQURL) == "" {
			errs = append(errs, errors.New("RABBITMQ_URL is required for rabbitmq broker"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported broker %q", c.Broker))
	}

	if c.SettlementTimeout <= 0 {
		errs = append(errs, errors.New("SETTLEMENT_TIMEOUT must be positive"))
	}
	if c.TraceSampleRate < 0 || c.TraceSampleRate > 1 {
		errs = append(errs, errors.New("TRACE_SAMPLE_RATE must be within [0, 1]"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// KafkaBrokerList разбирает KAFKA_BROKERS через запятую.
func (c Config) KafkaBrokerList() []string {
	var brokers []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
