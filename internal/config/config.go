package config

import (
	"log/slog"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/tahwil/tahwil-ledger/internal/models"
)

type Config struct {
	HTTPAddr     string
	PostgresDSN  string
	RedisAddr    string
	KafkaBrokers []string
	JWTSecret    string

	// DefaultRate is applied when no commission rate is configured for a
	// transfer type and currency.
	DefaultRate models.Rate
	// AdminUserID receives pool withdrawals on its personal balance.
	AdminUserID int32
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		slog.Warn("failed to load .env file, using default values", "error", err)
	}

	cfg := &Config{
		HTTPAddr:     os.Getenv("HTTP_ADDR"),
		PostgresDSN:  os.Getenv("POSTGRES_DSN"),
		RedisAddr:    os.Getenv("REDIS_ADDR"),
		KafkaBrokers: []string{os.Getenv("KAFKA_BROKER")},
		JWTSecret:    os.Getenv("JWT_SECRET"),
	}

	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}
	if cfg.PostgresDSN == "" {
		cfg.PostgresDSN = "host=localhost user=postgres password=postgres dbname=ledger sslmode=disable"
	}
	if cfg.RedisAddr == "" {
		cfg.RedisAddr = "localhost:6379"
	}
	if len(cfg.KafkaBrokers) == 1 && cfg.KafkaBrokers[0] == "" {
		cfg.KafkaBrokers = []string{"localhost:9092"}
	}
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "supersecret"
	}

	cfg.DefaultRate = models.Rate{Kind: models.RatePercentage, Value: decimal.NewFromFloat(0.01)}
	if kind := os.Getenv("DEFAULT_COMMISSION_KIND"); kind != "" {
		cfg.DefaultRate.Kind = models.RateKind(kind)
	}
	if value := os.Getenv("DEFAULT_COMMISSION_VALUE"); value != "" {
		if v, err := decimal.NewFromString(value); err == nil {
			cfg.DefaultRate.Value = v
		} else {
			slog.Warn("invalid DEFAULT_COMMISSION_VALUE, keeping default", "value", value)
		}
	}

	cfg.AdminUserID = 1
	if raw := os.Getenv("ADMIN_USER_ID"); raw != "" {
		if id, err := strconv.ParseInt(raw, 10, 32); err == nil {
			cfg.AdminUserID = int32(id)
		} else {
			slog.Warn("invalid ADMIN_USER_ID, keeping default", "value", raw)
		}
	}

	slog.Info("config loaded", "http_addr", cfg.HTTPAddr, "redis_addr", cfg.RedisAddr, "kafka_brokers", cfg.KafkaBrokers)
	return cfg
}
