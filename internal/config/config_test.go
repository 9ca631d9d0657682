package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

// cliWithPath returns a CLI struct pointing at the given config file.
func cliWithPath(path string) *CLI {
	return &CLI{Config: path}
}

// writeConfig writes data to a config.toml in a fresh temp dir and returns its path.
func writeConfig(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
[server]
host = "127.0.0.1"
port = 9000
body_max_bytes = 4096

[camera]
stream_timeout_seconds = 20
snapshot_timeout_seconds = 3
idle_timeout_seconds = 45
snapshot_max_bytes = 1048576
idle_connections = 4
insecure_skip_verify = true
allowed_hosts = ["192.168.0.0/16", "cam.local"]

[cors]
allow_origins = ["https://daycare.example"]

[log]
level = "debug"
format = "text"
`)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 9000)
	}
	if got := cfg.Camera.StreamTimeout(); got != 20*time.Second {
		t.Errorf("Camera.StreamTimeout() = %v, want %v", got, 20*time.Second)
	}
	if got := cfg.Camera.SnapshotTimeout(); got != 3*time.Second {
		t.Errorf("Camera.SnapshotTimeout() = %v, want %v", got, 3*time.Second)
	}
	if got := cfg.Camera.IdleTimeout(); got != 45*time.Second {
		t.Errorf("Camera.IdleTimeout() = %v, want %v", got, 45*time.Second)
	}
	if !cfg.Camera.InsecureSkipVerify {
		t.Error("Camera.InsecureSkipVerify = false, want true")
	}
	if len(cfg.Camera.AllowedHosts) != 2 {
		t.Errorf("len(Camera.AllowedHosts) = %d, want 2", len(cfg.Camera.AllowedHosts))
	}
	if len(cfg.CORS.AllowOrigins) != 1 || cfg.CORS.AllowOrigins[0] != "https://daycare.example" {
		t.Errorf("CORS.AllowOrigins = %v, want [https://daycare.example]", cfg.CORS.AllowOrigins)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}
	if cfg.Log.Format != "text" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "text")
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "# empty\n")

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("default Server.Host = %q, want %q", cfg.Server.Host, "0.0.0.0")
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("default Server.Port = %d, want %d", cfg.Server.Port, 8000)
	}
	if cfg.Camera.StreamTimeoutSeconds != 15 {
		t.Errorf("default Camera.StreamTimeoutSeconds = %d, want 15", cfg.Camera.StreamTimeoutSeconds)
	}
	if cfg.Camera.SnapshotTimeoutSeconds != 5 {
		t.Errorf("default Camera.SnapshotTimeoutSeconds = %d, want 5", cfg.Camera.SnapshotTimeoutSeconds)
	}
	if cfg.Camera.IdleTimeoutSeconds != 30 {
		t.Errorf("default Camera.IdleTimeoutSeconds = %d, want 30", cfg.Camera.IdleTimeoutSeconds)
	}
	if cfg.Camera.SnapshotMaxBytes != 8*1024*1024 {
		t.Errorf("default Camera.SnapshotMaxBytes = %d, want %d", cfg.Camera.SnapshotMaxBytes, 8*1024*1024)
	}
	if len(cfg.CORS.AllowOrigins) != 1 || cfg.CORS.AllowOrigins[0] != "*" {
		t.Errorf("default CORS.AllowOrigins = %v, want [*]", cfg.CORS.AllowOrigins)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("default Log.Level = %q, want %q", cfg.Log.Level, "info")
	}
	if cfg.Log.Format != "json" {
		t.Errorf("default Log.Format = %q, want %q", cfg.Log.Format, "json")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(cliWithPath("/nonexistent/config.toml"))
	if err == nil {
		t.Fatal("Load() expected error for missing file, got nil")
	}
}

func TestLoad_CLIOverrides(t *testing.T) {
	path := writeConfig(t, `
[server]
host = "0.0.0.0"
port = 8000

[log]
level = "info"
`)

	cli := &CLI{
		Config:   path,
		Host:     "127.0.0.1",
		Port:     3000,
		LogLevel: "debug",
	}

	cfg, err := Load(cli)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want %q (CLI override)", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 3000 {
		t.Errorf("Server.Port = %d, want %d (CLI override)", cfg.Server.Port, 3000)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q (CLI override)", cfg.Log.Level, "debug")
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr string
	}{
		{"negative port", "[server]\nport = -1\n", "server.port"},
		{"negative body_max_bytes", "[server]\nbody_max_bytes = -1\n", "server.body_max_bytes"},
		{"negative stream timeout", "[camera]\nstream_timeout_seconds = -5\n", "camera.stream_timeout_seconds"},
		{"negative snapshot timeout", "[camera]\nsnapshot_timeout_seconds = -1\n", "camera.snapshot_timeout_seconds"},
		{"negative idle timeout", "[camera]\nidle_timeout_seconds = -1\n", "camera.idle_timeout_seconds"},
		{"negative snapshot size", "[camera]\nsnapshot_max_bytes = -1\n", "camera.snapshot_max_bytes"},
		{"bad CIDR", "[camera]\nallowed_hosts = [\"10.0.0.0/99\"]\n", "allowed_hosts"},
		{"CIDR bits with leading zero", "[camera]\nallowed_hosts = [\"10.0.0.0/08\"]\n", "allowed_hosts"},
		{"CIDR with zone", "[camera]\nallowed_hosts = [\"fe80::%eth0/64\"]\n", "allowed_hosts"},
		{"empty host entry", "[camera]\nallowed_hosts = [\" \"]\n", "allowed_hosts"},
		{"bad log level", "[log]\nlevel = \"verbose\"\n", "log.level"},
		{"bad log format", "[log]\nformat = \"xml\"\n", "log.format"},
		{"rate limit zero rps", "[server.rate_limit]\nenabled = true\nrequests_per_second = 0\n", "requests_per_second"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(cliWithPath(writeConfig(t, tt.data)))
			if err == nil {
				t.Fatalf("Load() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_RateLimitConfig_Enabled(t *testing.T) {
	path := writeConfig(t, `
[server.rate_limit]
enabled = true
requests_per_second = 50.0
`)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.Server.RateLimit.Enabled {
		t.Error("expected RateLimit.Enabled = true")
	}
	if cfg.Server.RateLimit.RequestsPerSecond != 50.0 {
		t.Errorf("RateLimit.RequestsPerSecond = %v, want 50.0", cfg.Server.RateLimit.RequestsPerSecond)
	}
}

func TestWarnPermissions_Loose(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits not meaningful on Windows")
	}
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("# test"), 0o666); err != nil {
		t.Fatal(err)
	}
	// WriteFile is subject to umask; force the mode.
	if err := os.Chmod(path, 0o666); err != nil {
		t.Fatal(err)
	}

	cfg := &Config{filePath: path}
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	cfg.WarnPermissions(logger)

	if !strings.Contains(buf.String(), "writable by group/others") {
		t.Errorf("expected permission warning, got: %q", buf.String())
	}
}

func TestWarnPermissions_Strict(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits not meaningful on Windows")
	}
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("# test"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := &Config{filePath: path}
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	cfg.WarnPermissions(logger)

	if buf.Len() != 0 {
		t.Errorf("expected no warning for 0644 file, got: %q", buf.String())
	}
}

func TestFindConfigInPaths_Priority(t *testing.T) {
	path1 := writeConfig(t, "# first\n")
	path2 := writeConfig(t, "# second\n")

	if got := findConfigInPaths([]string{"/nonexistent/a.toml", path1, path2}); got != path1 {
		t.Errorf("findConfigInPaths() = %q, want first match %q", got, path1)
	}
	if got := findConfigInPaths([]string{"/nonexistent/a.toml"}); got != "" {
		t.Errorf("findConfigInPaths() = %q, want empty", got)
	}
}

func TestLoad_MetricsPath(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		wantErr string
	}{
		{"valid custom", "/custom-metrics", ""},
		{"no leading slash", "metrics", "metrics.path"},
		{"relay prefix", "/api/ai", "conflicts"},
		{"relay sub", "/api/ai/metrics", "conflicts"},
		{"healthz", "/healthz", "conflicts"},
		{"proxy/status", "/proxy/status", "conflicts"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(cliWithPath(writeConfig(t, "[metrics]\nenabled = true\npath = \""+tt.path+"\"\n")))
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Load() error = %v", err)
				}
				if cfg.Metrics.Path != tt.path {
					t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, tt.path)
				}
				return
			}
			if err == nil {
				t.Fatalf("Load() expected error for metrics.path=%q, got nil", tt.path)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_MetricsDisabledSkipsPathValidation(t *testing.T) {
	path := writeConfig(t, "[metrics]\nenabled = false\npath = \"bad-no-slash\"\n")

	if _, err := Load(cliWithPath(path)); err != nil {
		t.Fatalf("Load() error = %v; disabled metrics should skip path validation", err)
	}
}

func TestServerConfig_Addr(t *testing.T) {
	sc := &ServerConfig{Host: "127.0.0.1", Port: 3000}
	want := "127.0.0.1:3000"
	if got := sc.Addr(); got != want {
		t.Errorf("Addr() = %q, want %q", got, want)
	}
}
