// Package config handles TOML configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"golang.org/x/net/http/httpguts"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/obscurity-proxy/config.toml",
	"configs/config.toml",
}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config       string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host         string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port         int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	Prefix       string `kong:"help='Secret path prefix, without the leading slash (overrides config).',env='OBSCURITY_PREFIX'"`
	HeaderName   string `kong:"help='Header injected into forwarded requests (overrides config).',env='UPSTREAM_HEADER_NAME'"`
	HeaderValue  string `kong:"help='Value of the injected header (overrides config).',env='UPSTREAM_HEADER_VALUE'"`
	UpstreamHost string `kong:"help='Upstream host[:port], no scheme (overrides config).',env='UPSTREAM_HOST'"`
	LogLevel     string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Obscurity ObscurityConfig `toml:"obscurity"`
	Upstream  UpstreamConfig  `toml:"upstream"`
	Admin     AdminConfig     `toml:"admin"`
	Log       LogConfig       `toml:"log"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds proxy listener settings.
type ServerConfig struct {
	Host      string          `toml:"host"`
	Port      int             `toml:"port"` // 0 means "use default" (8000)
	RateLimit RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// ObscurityConfig holds the secret prefix and the header injected into
// every forwarded request.
type ObscurityConfig struct {
	Prefix      string `toml:"prefix"`
	HeaderName  string `toml:"header_name"`
	HeaderValue string `toml:"header_value"`
}

// UpstreamConfig holds upstream connection settings.
type UpstreamConfig struct {
	Host            string `toml:"host"`
	TimeoutSeconds  int    `toml:"timeout_seconds"` // 0 disables the client timeout
	IdleConnections int    `toml:"idle_connections"`
}

// AdminConfig holds the health and metrics listener settings. It is kept
// off the proxy listener so that every unmatched path there stays static.
type AdminConfig struct {
	Enabled     bool   `toml:"enabled"`
	Host        string `toml:"host"`
	Port        int    `toml:"port"`
	MetricsPath string `toml:"metrics_path"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Load reads the TOML config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/obscurity-proxy/config.toml then configs/config.toml. If none exists
// the configuration comes from flags and environment alone.
func Load(cli *CLI) (*Config, error) {
	var cfg Config

	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg.filePath = path
	}

	cfg.applyCLI(cli)
	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
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
	if cli.Prefix != "" {
		c.Obscurity.Prefix = cli.Prefix
	}
	if cli.HeaderName != "" {
		c.Obscurity.HeaderName = cli.HeaderName
	}
	if cli.HeaderValue != "" {
		c.Obscurity.HeaderValue = cli.HeaderValue
	}
	if cli.UpstreamHost != "" {
		c.Upstream.Host = cli.UpstreamHost
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

func (c *Config) validate() error {
	if err := c.Obscurity.validate(); err != nil {
		return err
	}
	if err := validateUpstreamHost(c.Upstream.Host); err != nil {
		return err
	}

	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Admin.Port < 0 || c.Admin.Port > 65535 {
		return fmt.Errorf("admin.port must be 0–65535; got %d", c.Admin.Port)
	}
	if c.Upstream.TimeoutSeconds < 0 {
		return fmt.Errorf("upstream.timeout_seconds must be non-negative; got %d", c.Upstream.TimeoutSeconds)
	}
	if c.Upstream.IdleConnections < 0 {
		return fmt.Errorf("upstream.idle_connections must be non-negative; got %d", c.Upstream.IdleConnections)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}

	if c.Admin.Enabled {
		if c.Admin.Addr() == c.Server.Addr() {
			return fmt.Errorf("admin listener %s must differ from the proxy listener", c.Admin.Addr())
		}
		if c.Admin.MetricsPath[0] != '/' {
			return fmt.Errorf("admin.metrics_path must start with '/'; got %q", c.Admin.MetricsPath)
		}
		for _, reserved := range []string{"/healthz", "/proxy/status"} {
			if c.Admin.MetricsPath == reserved {
				return fmt.Errorf("admin.metrics_path %q conflicts with reserved route %q", c.Admin.MetricsPath, reserved)
			}
		}
	}

	// Log fields.
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
		// valid
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	return nil
}

func (o *ObscurityConfig) validate() error {
	if o.Prefix == "" {
		return fmt.Errorf("obscurity.prefix is required")
	}
	if strings.HasPrefix(o.Prefix, "/") {
		return fmt.Errorf("obscurity.prefix must not start with '/'; the separator is added automatically")
	}
	if strings.ContainsAny(o.Prefix, "?#") {
		return fmt.Errorf("obscurity.prefix must be a path segment; got %q", o.Prefix)
	}
	if o.HeaderName == "" {
		return fmt.Errorf("obscurity.header_name is required")
	}
	if !httpguts.ValidHeaderFieldName(o.HeaderName) {
		return fmt.Errorf("obscurity.header_name %q is not a valid HTTP header name", o.HeaderName)
	}
	if !httpguts.ValidHeaderFieldValue(o.HeaderValue) {
		return fmt.Errorf("obscurity.header_value contains characters not allowed in an HTTP header")
	}
	return nil
}

// validateUpstreamHost accepts host or host:port with no scheme, path or query.
func validateUpstreamHost(host string) error {
	if host == "" {
		return fmt.Errorf("upstream.host is required")
	}
	if strings.Contains(host, "://") {
		return fmt.Errorf("upstream.host must not include a scheme; got %q", host)
	}
	u, err := url.Parse("http://" + host)
	if err != nil {
		return fmt.Errorf("upstream.host is not a valid host: %w", err)
	}
	if u.Host != host || u.User != nil {
		return fmt.Errorf("upstream.host must be host[:port] only; got %q", host)
	}
	if p := u.Port(); p != "" {
		if _, err := net.LookupPort("tcp", p); err != nil {
			return fmt.Errorf("upstream.host has an invalid port: %w", err)
		}
	}
	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields, zero means "unset" because TOML cannot distinguish
// between an explicit 0 and an omitted key. The upstream timeout is the
// exception: zero means no timeout.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
	}
	if c.Admin.Host == "" {
		c.Admin.Host = "127.0.0.1"
	}
	if c.Admin.Port == 0 {
		c.Admin.Port = 9090
	}
	if c.Admin.MetricsPath == "" {
		c.Admin.MetricsPath = "/metrics"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
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
	return net.JoinHostPort(c.Host, fmt.Sprint(c.Port))
}

// Addr returns the admin listen address as host:port.
func (c *AdminConfig) Addr() string {
	return net.JoinHostPort(c.Host, fmt.Sprint(c.Port))
}

// WarnPermissions logs a warning if the config file is readable by group or others.
// The file carries the prefix and the injected header value.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("config file is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}
