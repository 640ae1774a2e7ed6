// ABOUTME: Configuration loader for the portalctl session client
// ABOUTME: Loads settings from an optional .env file and environment variables with defaults

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store backends
const (
	StoreFile   = "file"
	StoreBolt   = "bolt"
	StoreMemory = "memory"
)

type Config struct {
	// Backend API
	APIURL      string
	APIPrefix   string
	HTTPTimeout time.Duration
	AllProxy    string // ssh+socks5://user@host:port?private-key=/path (optional)

	// Session state
	StateDir string
	Store    string // file, bolt, memory (default: file)

	// Refresh coordinator
	RefreshInterval time.Duration // poll interval (default 60s)
	RefreshMargin   time.Duration // refresh when expiry is this close (default 60s)

	// Current-user cache
	UserCacheTTL time.Duration // 0 = cached until invalidated

	// Observability
	MetricsAddr string
	LogLevel    string
	LogFormat   string
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first; variables already set in the environment win.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{
		APIURL:      EnsureScheme(getEnv("PORTAL_API_URL", "http://localhost:8000")),
		APIPrefix:   normalizePrefix(getEnv("PORTAL_API_PREFIX", "/api/v1")),
		HTTPTimeout: time.Duration(getEnvInt("PORTAL_HTTP_TIMEOUT_SEC", 30)) * time.Second,
		AllProxy:    os.Getenv("PORTAL_ALL_PROXY"),

		StateDir: getEnv("PORTAL_STATE_DIR", DefaultStateDir()),
		Store:    strings.ToLower(getEnv("PORTAL_STORE", StoreFile)),

		RefreshInterval: time.Duration(getEnvInt("PORTAL_REFRESH_INTERVAL_SEC", 60)) * time.Second,
		RefreshMargin:   time.Duration(getEnvInt("PORTAL_REFRESH_MARGIN_SEC", 60)) * time.Second,

		UserCacheTTL: time.Duration(getEnvInt("PORTAL_USER_CACHE_TTL_SEC", 0)) * time.Second,

		MetricsAddr: os.Getenv("PORTAL_METRICS_ADDR"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFormat:   getEnv("LOG_FORMAT", "text"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges. Called by Load and again after flag overrides.
func (c *Config) Validate() error {
	switch c.Store {
	case StoreFile, StoreBolt, StoreMemory:
	default:
		return fmt.Errorf("PORTAL_STORE must be one of file, bolt, memory, got %q", c.Store)
	}

	if c.Store != StoreMemory && c.StateDir == "" {
		return fmt.Errorf("PORTAL_STATE_DIR is required for the %s store", c.Store)
	}

	for _, d := range []struct {
		name  string
		value time.Duration
	}{
		{"PORTAL_REFRESH_INTERVAL_SEC", c.RefreshInterval},
		{"PORTAL_REFRESH_MARGIN_SEC", c.RefreshMargin},
		{"PORTAL_HTTP_TIMEOUT_SEC", c.HTTPTimeout},
	} {
		if d.value < time.Second || d.value > 24*time.Hour {
			return fmt.Errorf("%s must be between 1 and 86400, got %d", d.name, int(d.value/time.Second))
		}
	}

	if c.UserCacheTTL < 0 {
		return fmt.Errorf("PORTAL_USER_CACHE_TTL_SEC must not be negative")
	}

	if c.AllProxy != "" && !strings.HasPrefix(c.AllProxy, "ssh+socks5://") && !strings.HasPrefix(c.AllProxy, "socks5://") {
		return fmt.Errorf("PORTAL_ALL_PROXY must use the ssh+socks5:// or socks5:// scheme")
	}

	return nil
}

// BaseURL returns the API URL joined with the route prefix.
func (c *Config) BaseURL() string {
	return strings.TrimRight(c.APIURL, "/") + c.APIPrefix
}

// DefaultStateDir returns the default state directory following the XDG spec
func DefaultStateDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "portalctl")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "portalctl")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// EnsureScheme adds http:// prefix if the URL has no scheme
func EnsureScheme(url string) string {
	if url == "" {
		return url
	}
	if !strings.Contains(url, "://") {
		return "http://" + url
	}
	return url
}

// normalizePrefix makes sure the prefix starts with a slash and has none trailing
func normalizePrefix(prefix string) string {
	prefix = strings.TrimRight(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return ""
	}
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	return prefix
}
