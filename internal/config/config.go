package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Backend del event store: "sqlite" o "postgres"
	StoreBackend string
	SQLitePath   string
	PostgresDSN  string

	RedisAddr      string
	DedupTTL       time.Duration
	UseKafka       bool
	KafkaBrokers   []string
	ServiceName    string // campo "source" de los eventos publicados
	ClickHouseAddr string
	ClickHouseDB   string

	// Outbox externo en MongoDB (de servicios que escriben ahí); vacío lo
	// desactiva
	MongoURI string
	MongoDB  string

	// Relayer del outbox
	OutboxPeriod      time.Duration
	OutboxLimit       int
	OutboxMaxAttempts int
	OutboxLease       time.Duration

	// Coordinador de sagas
	SagaPeriod        time.Duration
	SagaMaxAttempts   int
	EnrollmentWindow  time.Duration // plazo para confirmar una matrícula
	HTTPPort          string
	CommandMaxRetries int // reintentos ante conflicto de concurrencia
}

func LoadConfig() *Config {
	getEnv := func(key, fallback string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		return fallback
	}

	getDuration := func(key string, fallback time.Duration) time.Duration {
		if v := os.Getenv(key); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				return d
			}
		}
		return fallback
	}

	getInt := func(key string, fallback int) int {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				return n
			}
		}
		return fallback
	}

	kafkaBrokers := strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ",")

	return &Config{
		StoreBackend: getEnv("STORE_BACKEND", "sqlite"),
		SQLitePath:   getEnv("SQLITE_PATH", "./eduflow.db"),
		PostgresDSN:  getEnv("POSTGRES_DSN", ""),

		RedisAddr:      getEnv("REDIS_ADDR", "localhost:6379"),
		DedupTTL:       getDuration("DEDUP_TTL", 24*time.Hour),
		UseKafka:       getEnv("USE_KAFKA", "false") == "true",
		KafkaBrokers:   kafkaBrokers,
		ServiceName:    getEnv("SERVICE_NAME", "eduflow"),
		ClickHouseAddr: getEnv("CLICKHOUSE_ADDR", ""),
		ClickHouseDB:   getEnv("CLICKHOUSE_DB", "eduflow"),

		MongoURI: getEnv("MONGO_URI", ""),
		MongoDB:  getEnv("MONGO_DB", "eduflow"),

		OutboxPeriod:      getDuration("OUTBOX_PERIOD", 1*time.Second),
		OutboxLimit:       getInt("OUTBOX_LIMIT", 20),
		OutboxMaxAttempts: getInt("OUTBOX_MAX_ATTEMPTS", 8),
		OutboxLease:       getDuration("OUTBOX_LEASE", 30*time.Second),

		SagaPeriod:        getDuration("SAGA_PERIOD", 2*time.Second),
		SagaMaxAttempts:   getInt("SAGA_MAX_ATTEMPTS", 5),
		EnrollmentWindow:  getDuration("ENROLLMENT_WINDOW", 48*time.Hour),
		HTTPPort:          getEnv("HTTP_PORT", "8080"),
		CommandMaxRetries: getInt("COMMAND_MAX_RETRIES", 3),
	}
}
