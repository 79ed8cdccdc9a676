package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port         string
	RealtimePort string
	AppEnv       string

	StoreDriver  string
	DatabaseURL  string
	AutoMigrate  bool
	StoreTimeout time.Duration
	// MemoryStaff seeds the staff directory of the memory store, user id to
	// health center id.
	MemoryStaff map[string]string

	JoinMaxRetries      int
	AllowJoinWhenPaused bool

	JWTSecret string

	RealtimeURL          string
	RealtimePublishToken string
	BroadcastWorkers     int
	BroadcastBuffer      int
	BroadcastTimeout     time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisChannel  string

	// AllowedOrigins restricts browser origins on the realtime socket
	// endpoints. Empty accepts any origin.
	AllowedOrigins []string

	RateLimitPerMinute int
	RateLimitBurst     int
}

// Load reads an optional .env file and then the process environment.
// Variables already set in the environment win over the file.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, err
	}

	return Config{
		Port:         readString("PORT", "8080"),
		RealtimePort: readString("REALTIME_PORT", "8085"),
		AppEnv:       readString("APP_ENV", "production"),

		StoreDriver:  readString("STORE_DRIVER", "postgres"),
		DatabaseURL:  os.Getenv("DB_DSN"),
		AutoMigrate:  readBool("AUTO_MIGRATE", true),
		StoreTimeout: readDurationSeconds("STORE_TIMEOUT_SECONDS", 5),
		MemoryStaff:  readPairs("MEMORY_STAFF"),

		JoinMaxRetries:      readInt("JOIN_MAX_RETRIES", 5),
		AllowJoinWhenPaused: readBool("ALLOW_JOIN_WHEN_PAUSED", false),

		JWTSecret: os.Getenv("JWT_SECRET"),

		RealtimeURL:          os.Getenv("REALTIME_URL"),
		RealtimePublishToken: os.Getenv("REALTIME_PUBLISH_TOKEN"),
		BroadcastWorkers:     readInt("BROADCAST_WORKERS", 4),
		BroadcastBuffer:      readInt("BROADCAST_BUFFER", 256),
		BroadcastTimeout:     readDurationSeconds("BROADCAST_TIMEOUT_SECONDS", 3),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       readInt("REDIS_DB", 0),
		RedisChannel:  readString("REDIS_CHANNEL", "afriqueue:realtime"),

		AllowedOrigins: readList("ALLOWED_ORIGINS"),

		RateLimitPerMinute: readInt("RATE_LIMIT_PER_MIN", 120),
		RateLimitBurst:     readInt("RATE_LIMIT_BURST", 30),
	}, nil
}

func (c Config) Validate() error {
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	switch c.StoreDriver {
	case "postgres":
		if c.DatabaseURL == "" {
			return errors.New("DB_DSN is required for the postgres store")
		}
	case "memory":
	default:
		return errors.New("STORE_DRIVER must be postgres or memory")
	}
	return nil
}

// ValidateRealtime checks the keys the realtime service depends on. Outside
// development the publish endpoint must be protected by a token.
func (c Config) ValidateRealtime() error {
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.RealtimePublishToken == "" && c.AppEnv != "development" {
		return errors.New("REALTIME_PUBLISH_TOKEN is required outside development")
	}
	return nil
}

func readString(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
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

// readPairs parses "key:value,key:value". Malformed entries are skipped.
func readPairs(key string) map[string]string {
	pairs := make(map[string]string)
	for _, entry := range strings.Split(os.Getenv(key), ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(entry), ":")
		if !ok || k == "" || v == "" {
			continue
		}
		pairs[k] = v
	}
	return pairs
}

func readList(key string) []string {
	var values []string
	for _, entry := range strings.Split(os.Getenv(key), ",") {
		if entry = strings.TrimSpace(entry); entry != "" {
			values = append(values, entry)
		}
	}
	return values
}
