package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
	MaxConns int
}

type KafkaConfig struct {
	Brokers            []string
	ConsumerGroup      string
	RequestTopic       string
	NotificationTopic  string
	ProgressTopic      string
	SASLMechanism      string
	SASLUsername       string
	SASLPassword       string
	TLS                bool
	CAFile             string
	CertFile           string
	KeyFile            string
	ProgressIntervalMS int
}

type CalculationConfig struct {
	PDModelPath   string // local path or s3://bucket/key; empty scores every loan at the default PD
	AWSRegion     string
	PageSize      int
	Workers       int // 0 selects max(1, GOMAXPROCS-1)
	LGDPolicy     string
	NotifyTimeout time.Duration
}

type Config struct {
	HTTPPort       int
	DB             DatabaseConfig
	Kafka          KafkaConfig
	Calculation    CalculationConfig
	LogLevel       string
	LogFormat      string
	OTLPEndpoint   string
	MigrationsPath string
	ServiceName    string
}

// LGD policies understood by LGDPolicy.
const (
	LGDPolicyUnsecured  = "unsecured"
	LGDPolicyCollateral = "collateral"
)

func (c Config) Validate() error {
	var errs []error
	if c.DB.Password == "" {
		errs = append(errs, errors.New("DB_PASSWORD environment variable is required"))
	}
	if c.Calculation.PageSize < 1 {
		errs = append(errs, fmt.Errorf("PAGE_SIZE must be positive, got %d", c.Calculation.PageSize))
	}
	if c.Calculation.Workers < 0 {
		errs = append(errs, fmt.Errorf("WORKERS must not be negative, got %d", c.Calculation.Workers))
	}
	switch c.Calculation.LGDPolicy {
	case LGDPolicyUnsecured, LGDPolicyCollateral:
	default:
		errs = append(errs, fmt.Errorf("LGD_POLICY must be %q or %q, got %q",
			LGDPolicyUnsecured, LGDPolicyCollateral, c.Calculation.LGDPolicy))
	}
	if len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("KAFKA_BROKERS must list at least one broker"))
	}
	return errors.Join(errs...)
}

func Load() Config {
	return Config{
		HTTPPort: getEnvInt("HTTP_PORT", 8095),
		DB: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "bib"),
			Password: getEnv("DB_PASSWORD", ""),
			Name:     getEnv("DB_NAME", "bib_impairment"),
			SSLMode:  getEnv("DB_SSLMODE", "require"),
			MaxConns: getEnvInt("DB_MAX_CONNS", 10),
		},
		Kafka: KafkaConfig{
			Brokers:            getEnvList("KAFKA_BROKERS", "localhost:9092"),
			ConsumerGroup:      getEnv("KAFKA_CONSUMER_GROUP", "impairment-engine"),
			RequestTopic:       getEnv("KAFKA_REQUEST_TOPIC", "impairment.calculation.requests"),
			NotificationTopic:  getEnv("KAFKA_NOTIFICATION_TOPIC", "impairment.calculation.events"),
			ProgressTopic:      getEnv("KAFKA_PROGRESS_TOPIC", "impairment.calculation.progress"),
			SASLMechanism:      getEnv("KAFKA_SASL_MECHANISM", ""),
			SASLUsername:       getEnv("KAFKA_SASL_USERNAME", ""),
			SASLPassword:       getEnv("KAFKA_SASL_PASSWORD", ""),
			TLS:                getEnvBool("KAFKA_TLS", false),
			CAFile:             getEnv("KAFKA_CA_FILE", ""),
			CertFile:           getEnv("KAFKA_CERT_FILE", ""),
			KeyFile:            getEnv("KAFKA_KEY_FILE", ""),
			ProgressIntervalMS: getEnvInt("KAFKA_PROGRESS_INTERVAL_MS", 1000),
		},
		Calculation: CalculationConfig{
			PDModelPath:   getEnv("PD_MODEL_PATH", ""),
			AWSRegion:     getEnv("AWS_REGION", ""),
			PageSize:      getEnvInt("PAGE_SIZE", 500),
			Workers:       getEnvInt("WORKERS", 0),
			LGDPolicy:     getEnv("LGD_POLICY", LGDPolicyUnsecured),
			NotifyTimeout: time.Duration(getEnvInt("NOTIFY_TIMEOUT_MS", 5000)) * time.Millisecond,
		},
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFormat:      getEnv("LOG_FORMAT", "json"),
		OTLPEndpoint:   getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		MigrationsPath: getEnv("MIGRATIONS_PATH", "file://internal/infrastructure/postgres/migrations"),
		ServiceName:    "impairment-engine",
	}
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvList(key, fallback string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, fallback), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
