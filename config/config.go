// Package config loads runtime configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Defaults applied when the environment does not override them.
const (
	DefaultDataDir         = "./data"
	DefaultIntervalSeconds = 180
)

// Config holds everything the process needs to run.
type Config struct {
	BotToken               string
	TargetURL              string
	DataDir                string
	DBPath                 string
	DefaultIntervalSeconds int
	ScreenshotOnSlots      bool
	Headless               bool
	MockTelegram           bool
	Admins                 []int64
}

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first if present; real environment variables win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		BotToken:               os.Getenv("TG_BOT_TOKEN"),
		TargetURL:              os.Getenv("TARGET_URL"),
		DataDir:                envOr("DATA_DIR", DefaultDataDir),
		DefaultIntervalSeconds: intEnv("DEFAULT_INTERVAL_SECONDS", DefaultIntervalSeconds),
		ScreenshotOnSlots:      boolEnv("SCREENSHOT_ON_SLOTS", true),
		Headless:               boolEnv("HEADLESS", true),
		MockTelegram:           boolEnv("MOCK_TELEGRAM", false),
	}
	cfg.DBPath = envOr("DB_PATH", filepath.Join(cfg.DataDir, "citawatch.sqlite3"))

	if cfg.TargetURL == "" {
		return nil, fmt.Errorf("TARGET_URL is required")
	}
	u, err := url.Parse(cfg.TargetURL)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return nil, fmt.Errorf("TARGET_URL must be an absolute URL, got %q", cfg.TargetURL)
	}

	if cfg.BotToken == "" && !cfg.MockTelegram {
		return nil, fmt.Errorf("TG_BOT_TOKEN is required (or set MOCK_TELEGRAM=true)")
	}

	admins, err := ParseAdmins(os.Getenv("TG_ADMIN_IDS"))
	if err != nil {
		return nil, err
	}
	cfg.Admins = admins

	return cfg, nil
}

// ParseAdmins parses a comma-separated list of Telegram user ids.
func ParseAdmins(raw string) ([]int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	ids := make([]int64, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("TG_ADMIN_IDS: invalid id %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// EnsureDirs creates the data directory tree used by the browser profile
// and screenshot dumps.
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{
		c.DataDir,
		filepath.Join(c.DataDir, "screenshots"),
		filepath.Join(c.DataDir, "profile"),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func intEnv(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func boolEnv(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
