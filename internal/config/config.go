package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	StorageMySQL  = "mysql"
	StorageMemory = "memory"
)

const (
	defaultHTTPAddr   = ":8080"
	defaultGRPCAddr   = ":50051"
	defaultMySQLDSN   = "root:root@tcp(localhost:3306)/stockflow?parseTime=true"
	defaultRedisAddr  = "localhost:6379"
	defaultMaxRetries = 5
	ShutdownTimeout   = 5 * time.Second
)

type Config struct {
	HTTPAddr         string
	GRPCAddr         string
	Storage          string
	MySQLDSN         string
	RedisAddr        string
	KafkaBrokers     []string
	OtelEndpoint     string
	LogFormat        string
	LedgerMaxRetries int
}

// Load reads the configuration from the environment. Unset variables fall
// back to local development defaults; Kafka and tracing stay off unless set.
func Load() (*Config, error) {
	cfg := &Config{
		HTTPAddr:     getenv("HTTP_ADDR", defaultHTTPAddr),
		GRPCAddr:     getenv("GRPC_ADDR", defaultGRPCAddr),
		Storage:      getenv("STORAGE", StorageMySQL),
		MySQLDSN:     getenv("MYSQL_DSN", defaultMySQLDSN),
		RedisAddr:    getenv("REDIS_ADDR", defaultRedisAddr),
		OtelEndpoint: os.Getenv("OTEL_ENDPOINT"),
		LogFormat:    getenv("LOG_FORMAT", "json"),
	}

	for _, b := range strings.Split(os.Getenv("KAFKA_BROKERS"), ",") {
		if b = strings.TrimSpace(b); b != "" {
			cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
		}
	}

	cfg.LedgerMaxRetries = defaultMaxRetries
	if v := os.Getenv("LEDGER_MAX_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("LEDGER_MAX_RETRIES must be a positive integer, got %q", v)
		}
		cfg.LedgerMaxRetries = n
	}

	if cfg.Storage != StorageMySQL && cfg.Storage != StorageMemory {
		return nil, fmt.Errorf("STORAGE must be %q or %q, got %q", StorageMySQL, StorageMemory, cfg.Storage)
	}
	if cfg.LogFormat != "json" && cfg.LogFormat != "console" {
		return nil, fmt.Errorf("LOG_FORMAT must be json or console, got %q", cfg.LogFormat)
	}

	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
