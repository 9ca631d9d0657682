// Package config handles TOML configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/camera-relay/config.toml",
	"configs/config.toml",
}

// reservedRoutes are path prefixes owned by the relay; metrics.path may not shadow them.
var reservedRoutes = []string{"/api/ai", "/healthz", "/proxy/status"}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config   string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host     string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port     int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	LogLevel string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Camera  CameraConfig  `toml:"camera"`
	CORS    CORSConfig    `toml:"cors"`
	Log     LogConfig     `toml:"log"`
	Metrics MetricsConfig `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string          `toml:"host"`
	Port         int             `toml:"port"` // 0 means "use default" (8000); TOML cannot distinguish 0 from unset
	BodyMaxBytes int64           `toml:"body_max_bytes"`
	RateLimit    RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// CameraConfig holds upstream camera connection settings.
type CameraConfig struct {
	StreamTimeoutSeconds   int      `toml:"stream_timeout_seconds"`
	SnapshotTimeoutSeconds int      `toml:"snapshot_timeout_seconds"`
	IdleTimeoutSeconds     int      `toml:"idle_timeout_seconds"`
	SnapshotMaxBytes       int64    `toml:"snapshot_max_bytes"`
	IdleConnections        int      `toml:"idle_connections"`
	InsecureSkipVerify     bool     `toml:"insecure_skip_verify"`
	AllowedHosts           []string `toml:"allowed_hosts"` // hostnames or CIDRs; empty allows any host
}

// StreamTimeout bounds the wait for a stream response head.
func (c *CameraConfig) StreamTimeout() time.Duration {
	return time.Duration(c.StreamTimeoutSeconds) * time.Second
}

// SnapshotTimeout bounds a whole snapshot exchange.
func (c *CameraConfig) SnapshotTimeout() time.Duration {
	return time.Duration(c.SnapshotTimeoutSeconds) * time.Second
}

// IdleTimeout is how long an established stream may go without upstream bytes.
func (c *CameraConfig) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutSeconds) * time.Second
}

// CORSConfig holds cross-origin settings for the relay endpoints.
type CORSConfig struct {
	AllowOrigins []string `toml:"allow_origins"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Load reads the TOML config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/camera-relay/config.toml then configs/config.toml.
func Load(cli *CLI) (*Config, error) {
	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path == "" {
		return nil, fmt.Errorf("config: no config file found (searched %v)", configSearchPaths)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.filePath = path
	cfg.applyCLI(cli)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

func (c *Config) validate() error {
	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}
	if c.Camera.StreamTimeoutSeconds < 0 {
		return fmt.Errorf("camera.stream_timeout_seconds must be non-negative; got %d", c.Camera.StreamTimeoutSeconds)
	}
	if c.Camera.SnapshotTimeoutSeconds < 0 {
		return fmt.Errorf("camera.snapshot_timeout_seconds must be non-negative; got %d", c.Camera.SnapshotTimeoutSeconds)
	}
	if c.Camera.IdleTimeoutSeconds < 0 {
		return fmt.Errorf("camera.idle_timeout_seconds must be non-negative; got %d", c.Camera.IdleTimeoutSeconds)
	}
	if c.Camera.SnapshotMaxBytes < 0 {
		return fmt.Errorf("camera.snapshot_max_bytes must be non-negative; got %d", c.Camera.SnapshotMaxBytes)
	}
	if c.Camera.IdleConnections < 0 {
		return fmt.Errorf("camera.idle_connections must be non-negative; got %d", c.Camera.IdleConnections)
	}

	for _, h := range c.Camera.AllowedHosts {
		h = strings.TrimSpace(h)
		if h == "" {
			return fmt.Errorf("camera.allowed_hosts must not contain empty entries")
		}
		if strings.Contains(h, "/") {
			if _, err := netip.ParsePrefix(h); err != nil {
				return fmt.Errorf("camera.allowed_hosts entry %q is not a valid CIDR: %w", h, err)
			}
		}
	}

	// Log fields.
	level := strings.ToLower(c.Log.Level)
	switch level {
	case "debug", "info", "warn", "error", "":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	format := strings.ToLower(c.Log.Format)
	switch format {
	case "json", "text", "":
		// valid
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		for _, reserved := range reservedRoutes {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields (Port, timeouts, etc.), zero means "unset" because TOML
// cannot distinguish between an explicit 0 and an omitted key.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 64 * 1024 // relay endpoints are GET-only
	}
	if c.Camera.StreamTimeoutSeconds == 0 {
		c.Camera.StreamTimeoutSeconds = 15
	}
	if c.Camera.SnapshotTimeoutSeconds == 0 {
		c.Camera.SnapshotTimeoutSeconds = 5
	}
	if c.Camera.IdleTimeoutSeconds == 0 {
		c.Camera.IdleTimeoutSeconds = 30
	}
	if c.Camera.SnapshotMaxBytes == 0 {
		c.Camera.SnapshotMaxBytes = 8 * 1024 * 1024 // 8 MB
	}
	if c.Camera.IdleConnections == 0 {
		c.Camera.IdleConnections = 16
	}
	if len(c.CORS.AllowOrigins) == 0 {
		c.CORS.AllowOrigins = []string{"*"}
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// WarnPermissions logs a warning if the config file is writable by group or others.
// The file carries the camera host allowlist, so anyone able to edit it can
// point the relay at arbitrary hosts.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o022 != 0 {
		logger.Warn("config file is writable by group/others; consider chmod 644",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}
