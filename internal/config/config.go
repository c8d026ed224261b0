// Package config loads gateway configuration.
//
// DESIGN: Configuration is layered, later sources win:
//   - Defaults():       Named constants from defaults.go
//   - YAML file:        Optional, ${VAR} and ${VAR:-default} expanded before parsing
//   - .env file:        Loaded into the process environment (missing file is fine)
//   - LITEPROXY_* vars: Deployment overrides for the common knobs
//
// Validate() runs last and rejects anything the gateway cannot start with.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variable overrides.
const (
	EnvPort        = "LITEPROXY_PORT"
	EnvUpstreamURL = "LITEPROXY_UPSTREAM_URL"
	EnvLogLevel    = "LITEPROXY_LOG_LEVEL"
	EnvBridgePort  = "LITEPROXY_BRIDGE_PORT"
	EnvStaticDir   = "LITEPROXY_STATIC_DIR"
)

// Config is the complete gateway configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Upstream   UpstreamConfig   `yaml:"upstream"`
	Cache      CacheConfig      `yaml:"cache"`
	Bridge     BridgeConfig     `yaml:"bridge"`
	Compat     CompatConfig     `yaml:"compat"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

// ServerConfig configures the inbound HTTP listener.
type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	StaticDir    string        `yaml:"static_dir"`   // Served at / when set
	CORSOrigins  []string      `yaml:"cors_origins"` // Empty disables CORS headers
}

// UpstreamConfig configures the outbound REST client.
type UpstreamConfig struct {
	BaseURL        string        `yaml:"base_url"`
	Timeout        time.Duration `yaml:"timeout"`
	UserAgent      string        `yaml:"user_agent"`
	Locale         string        `yaml:"locale"`
	AcceptLanguage string        `yaml:"accept_language"`
}

// CacheConfig configures the user and channel reference caches.
type CacheConfig struct {
	Size int `yaml:"size"`
}

// BridgeConfig configures the TCP <-> websocket gateway bridge.
type BridgeConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Port           int           `yaml:"port"`
	DialTimeout    time.Duration `yaml:"dial_timeout"`
	MaxMessageSize int64         `yaml:"max_message_size"`
	MaxLineSize    int           `yaml:"max_line_size"`
	AllowedHosts   []string      `yaml:"allowed_hosts"` // Empty allows any host
}

// CompatConfig toggles byte-compatible reproductions of legacy output quirks.
type CompatConfig struct {
	// LegacyMemberAvatar writes a member's nick into "avatar" and lets the real
	// avatar overwrite it, instead of emitting separate "nick" and "avatar" fields.
	LegacyMemberAvatar bool `yaml:"legacy_member_avatar"`
}

// MonitoringConfig configures logging and telemetry.
type MonitoringConfig struct {
	LogLevel      string `yaml:"log_level"`      // debug, info, warn, error
	LogFormat     string `yaml:"log_format"`     // json, console, auto
	LogOutput     string `yaml:"log_output"`     // stdout, stderr, or file path
	TelemetryPath string `yaml:"telemetry_path"` // JSONL request log, empty disables
}

// Defaults returns a configuration populated from defaults.go.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         DefaultPort,
			ReadTimeout:  DefaultReadTimeout,
			WriteTimeout: DefaultServerWriteTimeout,
		},
		Upstream: UpstreamConfig{
			BaseURL:        DefaultUpstreamURL,
			Timeout:        DefaultUpstreamTimeout,
			UserAgent:      DefaultUserAgent,
			Locale:         DefaultLocale,
			AcceptLanguage: DefaultAcceptLanguage,
		},
		Cache: CacheConfig{Size: DefaultCacheSize},
		Bridge: BridgeConfig{
			Enabled:        true,
			Port:           DefaultBridgePort,
			DialTimeout:    DefaultBridgeDialTimeout,
			MaxMessageSize: DefaultBridgeMaxMessage,
			MaxLineSize:    DefaultBridgeMaxLine,
			AllowedHosts:   []string{DefaultBridgeAllowedHost},
		},
		Monitoring: MonitoringConfig{
			LogLevel:  "info",
			LogFormat: "auto",
			LogOutput: "stderr",
		},
	}
}

// Load reads the optional .env and YAML files, applies environment overrides and validates.
// An empty path means defaults plus environment only.
func Load(path string) (*Config, error) {
	// .env is optional; a missing file is not an error.
	_ = godotenv.Load()

	if path == "" {
		cfg := Defaults()
		cfg.applyEnv()
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes parses YAML over the defaults, applies environment overrides and validates.
func LoadFromBytes(data []byte) (*Config, error) {
	cfg := Defaults()
	expanded := expandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the gateway cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be in 1..65535, got %d", c.Server.Port))
	}

	u, err := url.Parse(c.Upstream.BaseURL)
	switch {
	case c.Upstream.BaseURL == "":
		errs = append(errs, errors.New("upstream.base_url is required"))
	case err != nil:
		errs = append(errs, fmt.Errorf("upstream.base_url is invalid: %w", err))
	case u.Scheme != "http" && u.Scheme != "https":
		errs = append(errs, fmt.Errorf("upstream.base_url must be http(s), got %q", u.Scheme))
	case u.Host == "":
		errs = append(errs, errors.New("upstream.base_url has no host"))
	}

	if c.Upstream.Timeout < 0 {
		errs = append(errs, fmt.Errorf("upstream.timeout must be >= 0, got %s", c.Upstream.Timeout))
	}

	if c.Cache.Size < 1 {
		errs = append(errs, fmt.Errorf("cache.size must be >= 1, got %d", c.Cache.Size))
	}

	if c.Bridge.Enabled {
		if c.Bridge.Port < 1 || c.Bridge.Port > 65535 {
			errs = append(errs, fmt.Errorf("bridge.port must be in 1..65535, got %d", c.Bridge.Port))
		}
		if c.Bridge.Port == c.Server.Port {
			errs = append(errs, fmt.Errorf("bridge.port must differ from server.port (%d)", c.Server.Port))
		}
	}

	return errors.Join(errs...)
}

// UpstreamHost returns the host of the upstream base URL.
func (c *Config) UpstreamHost() string {
	u, err := url.Parse(c.Upstream.BaseURL)
	if err != nil {
		return ""
	}
	return u.Host
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvPort); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv(EnvUpstreamURL); v != "" {
		c.Upstream.BaseURL = strings.TrimSuffix(v, "/")
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Monitoring.LogLevel = v
	}
	if v := os.Getenv(EnvBridgePort); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Bridge.Port = port
		}
	}
	if v := os.Getenv(EnvStaticDir); v != "" {
		c.Server.StaticDir = v
	}
	c.Upstream.BaseURL = strings.TrimSuffix(c.Upstream.BaseURL, "/")
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// expandEnv replaces ${VAR} and ${VAR:-default}. Unset variables without a default become empty.
func expandEnv(s string) string {
	return envRef.ReplaceAllStringFunc(s, func(ref string) string {
		m := envRef.FindStringSubmatch(ref)
		if v, ok := os.LookupEnv(m[1]); ok && v != "" {
			return v
		}
		return m[2]
	})
}
