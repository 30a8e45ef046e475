package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFromEnv_defaults(t *testing.T) {
	for _, k := range []string{"PORT", "WATCH_ENABLED", "WATCH_STORE", "WATCH_TICK_INTERVAL", "WATCH_RAW_WHITELIST"} {
		t.Setenv(k, "")
	}
	c := FromEnv()
	if c.Port != "8080" || !c.WatchEnabled || c.Store != "memory" || c.TickInterval != time.Second {
		t.Errorf("unexpected defaults %+v", c)
	}
	if c.RawWhitelist != nil {
		t.Errorf("expected no whitelist, got %v", c.RawWhitelist)
	}
}

func TestFromEnv_overrides(t *testing.T) {
	t.Setenv("WATCH_ENABLED", "false")
	t.Setenv("WATCH_STORE", "SQLite")
	t.Setenv("WATCH_TICK_INTERVAL", "500ms")
	t.Setenv("WATCH_STATE_TTL", "60")
	t.Setenv("WATCH_MAX_PLAYLIST_SIZE", "7")
	t.Setenv("WATCH_RAW_WHITELIST", "https://a.example/, ,https://b.example/")

	c := FromEnv()
	if c.WatchEnabled {
		t.Error("expected watch disabled")
	}
	if c.Store != "sqlite" {
		t.Errorf("expected lower-cased store, got %q", c.Store)
	}
	if c.TickInterval != 500*time.Millisecond {
		t.Errorf("expected 500ms tick, got %v", c.TickInterval)
	}
	if c.StateTTL != time.Minute {
		t.Errorf("expected integer TTL read as seconds, got %v", c.StateTTL)
	}
	if c.MaxPlaylistSize != 7 {
		t.Errorf("expected max playlist 7, got %d", c.MaxPlaylistSize)
	}
	if len(c.RawWhitelist) != 2 || c.RawWhitelist[1] != "https://b.example/" {
		t.Errorf("unexpected whitelist %v", c.RawWhitelist)
	}
}

func TestGetEnv_invalid_values_fall_back(t *testing.T) {
	t.Setenv("X_INT", "abc")
	t.Setenv("X_BOOL", "maybe")
	t.Setenv("X_DUR", "soon")
	if GetEnvInt("X_INT", 3) != 3 {
		t.Error("invalid int should fall back")
	}
	if !GetEnvBool("X_BOOL", true) {
		t.Error("invalid bool should fall back")
	}
	if GetEnvDuration("X_DUR", time.Second) != time.Second {
		t.Error("invalid duration should fall back")
	}
}

func TestLoad_reads_env_file(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(path, []byte("YOUTUBE_API_KEY=from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("YOUTUBE_API_KEY", "")
	os.Unsetenv("YOUTUBE_API_KEY")

	c := Load(path)
	if c.YouTubeAPIKey != "from-file" {
		t.Errorf("expected key from env file, got %q", c.YouTubeAPIKey)
	}
}
