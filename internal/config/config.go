package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
)

type Config struct {
	Port               string
	DatabaseURL        string
	RedisAddr          string
	NATSURL            string
	NATSSubject        string
	AMQPURL            string
	AMQPQueue          string
	EventSink          string
	SwapDailyLimit     int
	QuotaTimezone      *time.Location
	AvgServiceMinutes  int
	QueueCapacity      int
	AllowSwaps         bool
	SwapConsent        string
	SwapProposalTTL    time.Duration
	CallGrace          time.Duration
	SweepInterval      time.Duration
	PersistInterval    time.Duration
	IdempotencyTTL     time.Duration
	EventBuffer        int
	RateLimitPerMinute int
	RateLimitBurst     int
	Locations          []string
	OTLPEndpoint       string
	OTLPInsecure       bool
	LogLevel           slog.Level
}

// LoadEnvFile loads variables from path without overriding the environment.
// With an empty path an optional .env in the working directory is used.
func LoadEnvFile(path string) error {
	if path != "" {
		return godotenv.Load(path)
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func Load() Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	return Config{
		Port:               port,
		DatabaseURL:        os.Getenv("DB_DSN"),
		RedisAddr:          os.Getenv("REDIS_ADDR"),
		NATSURL:            os.Getenv("NATS_URL"),
		NATSSubject:        readString("NATS_SUBJECT_PREFIX", "queue"),
		AMQPURL:            os.Getenv("AMQP_URL"),
		AMQPQueue:          readString("AMQP_QUEUE", "queue.notifications"),
		EventSink:          readString("EVENT_SINK", "log"),
		SwapDailyLimit:     readInt("SWAP_DAILY_LIMIT", 8),
		QuotaTimezone:      readLocation("QUOTA_TIMEZONE"),
		AvgServiceMinutes:  readInt("AVG_SERVICE_MINUTES", 5),
		QueueCapacity:      readInt("QUEUE_CAPACITY", 0),
		AllowSwaps:         readBool("ALLOW_SWAPS", true),
		SwapConsent:        readString("SWAP_CONSENT", "auto"),
		SwapProposalTTL:    readDurationSeconds("SWAP_PROPOSAL_TTL_SECONDS", 120),
		CallGrace:          readDurationSeconds("CALL_GRACE_SECONDS", 60),
		SweepInterval:      readDurationSeconds("SWEEP_INTERVAL_SECONDS", 5),
		PersistInterval:    readDurationSeconds("PERSIST_INTERVAL_SECONDS", 2),
		IdempotencyTTL:     readDurationSeconds("IDEMPOTENCY_TTL_SECONDS", 86400),
		EventBuffer:        readInt("EVENT_BUFFER", 256),
		RateLimitPerMinute: readInt("RATE_LIMIT_PER_MIN", 120),
		RateLimitBurst:     readInt("RATE_LIMIT_BURST", 30),
		Locations:          readList("LOCATIONS"),
		OTLPEndpoint:       os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTLPInsecure:       readBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		LogLevel:           readLevel("LOG_LEVEL"),
	}
}

func readString(key, fallback string) string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	return raw
}

func readDurationSeconds(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func readBool(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return value
}

func readList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func readLocation(key string) *time.Location {
	raw := os.Getenv(key)
	if raw == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(raw)
	if err != nil {
		return time.UTC
	}
	return loc
}

func readLevel(key string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(readString(key, "info"))); err != nil {
		return slog.LevelInfo
	}
	return level
}
