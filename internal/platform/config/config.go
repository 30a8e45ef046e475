package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the process configuration, read once at startup.
type Config struct {
	Port      string
	LogLevel  string
	LogFormat string

	WatchEnabled    bool
	MaxPlaylistSize int
	TickInterval    time.Duration
	StateTTL        time.Duration
	FetchTimeout    time.Duration

	// Store selects the durable store: "memory", "sqlite" or "redis".
	Store      string
	SQLitePath string
	RedisAddr  string
	// Relay selects the cross-process relay: "none" or "redis".
	Relay        string
	RelayChannel string

	YouTubeAPIKey string
	RawWhitelist  []string
	FFprobePath   string
}

// Load reads .env files (".env" when no paths are given) into the process
// environment and returns the resulting Config. A missing .env file is not
// an error; system env and defaults still apply.
func Load(paths ...string) Config {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	_ = godotenv.Load(paths...)
	return FromEnv()
}

// FromEnv builds a Config from the current environment.
func FromEnv() Config {
	return Config{
		Port:      GetEnv("PORT", "8080"),
		LogLevel:  GetEnv("LOG_LEVEL", "info"),
		LogFormat: GetEnv("LOG_FORMAT", "json"),

		WatchEnabled:    GetEnvBool("WATCH_ENABLED", true),
		MaxPlaylistSize: GetEnvInt("WATCH_MAX_PLAYLIST_SIZE", 50),
		TickInterval:    GetEnvDuration("WATCH_TICK_INTERVAL", time.Second),
		StateTTL:        GetEnvDuration("WATCH_STATE_TTL", 24*time.Hour),
		FetchTimeout:    GetEnvDuration("WATCH_FETCH_TIMEOUT", 10*time.Second),

		Store:        strings.ToLower(GetEnv("WATCH_STORE", "memory")),
		SQLitePath:   GetEnv("WATCH_SQLITE_PATH", "data/watchsync.db"),
		RedisAddr:    GetEnv("REDIS_ADDR", "localhost:6379"),
		Relay:        strings.ToLower(GetEnv("WATCH_RELAY", "none")),
		RelayChannel: GetEnv("WATCH_RELAY_CHANNEL", "watchsync:relay"),

		YouTubeAPIKey: GetEnv("YOUTUBE_API_KEY", ""),
		RawWhitelist:  GetEnvList("WATCH_RAW_WHITELIST"),
		FFprobePath:   GetEnv("FFPROBE_PATH", "ffprobe"),
	}
}

// GetEnv returns the value of the environment variable named by key, or fallback
// if the variable is unset or empty.
func GetEnv(key, fallback string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return fallback
}

// GetEnvInt returns the integer value of key, or fallback if unset or invalid.
func GetEnvInt(key string, fallback int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return fallback
}

// GetEnvBool accepts the forms strconv.ParseBool does ("1", "true", "FALSE", ...).
func GetEnvBool(key string, fallback bool) bool {
	if s := os.Getenv(key); s != "" {
		if b, err := strconv.ParseBool(s); err == nil {
			return b
		}
	}
	return fallback
}

// GetEnvDuration reads plain integers as seconds and anything else as a Go
// duration such as "1500ms".
func GetEnvDuration(key string, fallback time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return fallback
	}
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return fallback
}

// GetEnvList splits a comma-separated variable, dropping empty entries.
func GetEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
