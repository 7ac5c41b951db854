package config

import (
	"fmt"
	"os"
	"strings"
)

const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	HTTPAddr      string
	StorageDriver string
	SQLitePath    string
	PostgresDSN   string
	RedisAddr     string
	KafkaBrokers  []string
	KafkaTopic    string
	LogLevel      string
	LogFormat     string
	OtelEndpoint  string
	ServiceName   string
}

func Load() Config {
	return Config{
		HTTPAddr:      getenv("HTTP_ADDR", ":9091"),
		StorageDriver: strings.ToLower(getenv("STORAGE_DRIVER", DriverMemory)),
		SQLitePath:    getenv("SQLITE_PATH", "acmeshop.db"),
		PostgresDSN:   getenv("POSTGRES_DSN", ""),
		RedisAddr:     getenv("REDIS_ADDR", ""),
		KafkaBrokers:  splitCSV(getenv("KAFKA_BROKERS", "")),
		KafkaTopic:    getenv("KAFKA_TOPIC", "orders.placed"),
		LogLevel:      getenv("LOG_LEVEL", "info"),
		LogFormat:     getenv("LOG_FORMAT", "json"),
		OtelEndpoint:  getenv("OTEL_ENDPOINT", ""),
		ServiceName:   getenv("SERVICE_NAME", "acmeshop"),
	}
}

// Validate проверяет согласованность настроек до старта
func (c Config) Validate() error {
	switch c.StorageDriver {
	case DriverMemory, DriverSQLite:
	case DriverPostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("POSTGRES_DSN is required for storage driver %q", c.StorageDriver)
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.StorageDriver)
	}
	if c.StorageDriver == DriverSQLite && c.SQLitePath == "" {
		return fmt.Errorf("SQLITE_PATH is required for storage driver %q", c.StorageDriver)
	}
	if c.HTTPAddr == "" {
		return fmt.Errorf("HTTP_ADDR is empty")
	}
	if len(c.KafkaBrokers) > 0 && c.KafkaTopic == "" {
		return fmt.Errorf("KAFKA_TOPIC is required when KAFKA_BROKERS is set")
	}
	return nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
