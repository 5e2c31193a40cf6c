package core

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the gateway. It supports three-layer
// configuration priority:
//  1. Default values (lowest priority)
//  2. Optional YAML file
//  3. Environment variables (highest priority)
//
// Environment variables use the BLOXGATE_ prefix.
type Config struct {
	// Core configuration
	ServiceName string `json:"service_name" yaml:"service_name" env:"BLOXGATE_SERVICE_NAME"`

	Server     ServerConfig     `json:"server" yaml:"server"`
	Upstream   UpstreamConfig   `json:"upstream" yaml:"upstream"`
	Resilience ResilienceConfig `json:"resilience" yaml:"resilience"`
	Cache      CacheConfig      `json:"cache" yaml:"cache"`
	Session    SessionConfig    `json:"session" yaml:"session"`
	Telemetry  TelemetryConfig  `json:"telemetry" yaml:"telemetry"`
	Logging    LoggingConfig    `json:"logging" yaml:"logging"`
}

// ServerConfig contains the two listener configurations. The RPC listener
// serves /mcp and /sse; the admin listener serves health and metrics.
type ServerConfig struct {
	Host            string        `json:"host" yaml:"host" env:"BLOXGATE_HOST"`
	RPCPort         int           `json:"rpc_port" yaml:"rpc_port" env:"BLOXGATE_RPC_PORT"`
	AdminPort       int           `json:"admin_port" yaml:"admin_port" env:"BLOXGATE_ADMIN_PORT"`
	ReadTimeout     time.Duration `json:"read_timeout" yaml:"read_timeout" env:"BLOXGATE_HTTP_READ_TIMEOUT"`
	WriteTimeout    time.Duration `json:"write_timeout" yaml:"write_timeout" env:"BLOXGATE_HTTP_WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout" env:"BLOXGATE_SHUTDOWN_TIMEOUT"`
}

// UpstreamConfig contains the remote SaaS connection settings.
type UpstreamConfig struct {
	BaseURL        string        `json:"base_url" yaml:"base_url" env:"BLOXGATE_UPSTREAM_URL"`
	APIKey         string        `json:"-" yaml:"api_key" env:"BLOXGATE_API_KEY"`
	ConnectTimeout time.Duration `json:"connect_timeout" yaml:"connect_timeout" env:"BLOXGATE_CONNECT_TIMEOUT"`
	ReadTimeout    time.Duration `json:"read_timeout" yaml:"read_timeout" env:"BLOXGATE_UPSTREAM_READ_TIMEOUT"`
}

// ResilienceConfig contains circuit breaker and retry settings applied to
// every upstream call.
type ResilienceConfig struct {
	CallTimeout      time.Duration `json:"call_timeout" yaml:"call_timeout" env:"BLOXGATE_CALL_TIMEOUT"`
	BreakerThreshold int           `json:"breaker_threshold" yaml:"breaker_threshold" env:"BLOXGATE_BREAKER_THRESHOLD"`
	BreakerReset     time.Duration `json:"breaker_reset" yaml:"breaker_reset" env:"BLOXGATE_BREAKER_RESET"`
	RetryMaxAttempts int           `json:"retry_max_attempts" yaml:"retry_max_attempts" env:"BLOXGATE_RETRY_MAX_ATTEMPTS"`
	RetryBaseDelay   time.Duration `json:"retry_base_delay" yaml:"retry_base_delay" env:"BLOXGATE_RETRY_BASE_DELAY"`
	RetryMaxDelay    time.Duration `json:"retry_max_delay" yaml:"retry_max_delay" env:"BLOXGATE_RETRY_MAX_DELAY"`
}

// CacheConfig controls the read-tool response cache. When RedisURL is set the
// cache uses Redis; otherwise an in-memory LRU per tool.
type CacheConfig struct {
	Enabled        bool          `json:"enabled" yaml:"enabled" env:"BLOXGATE_CACHE_ENABLED"`
	TTL            time.Duration `json:"ttl" yaml:"ttl" env:"BLOXGATE_CACHE_TTL"`
	MaxEntries     int           `json:"max_entries" yaml:"max_entries" env:"BLOXGATE_CACHE_MAX_ENTRIES"`
	RedisURL       string        `json:"redis_url" yaml:"redis_url" env:"BLOXGATE_CACHE_REDIS_URL"`
	RedisKeyPrefix string        `json:"redis_key_prefix" yaml:"redis_key_prefix" env:"BLOXGATE_CACHE_REDIS_PREFIX"`
}

// SessionConfig controls RPC session lifecycle.
type SessionConfig struct {
	IdleTimeout   time.Duration `json:"idle_timeout" yaml:"idle_timeout" env:"BLOXGATE_SESSION_IDLE_TIMEOUT"`
	OutboundQueue int           `json:"outbound_queue" yaml:"outbound_queue" env:"BLOXGATE_SESSION_QUEUE"`
}

// TelemetryConfig controls tracing export. Metrics are always collected;
// tracing is exported only when an OTLP endpoint is configured.
type TelemetryConfig struct {
	Enabled      bool   `json:"enabled" yaml:"enabled" env:"BLOXGATE_TELEMETRY_ENABLED"`
	OTLPEndpoint string `json:"otlp_endpoint" yaml:"otlp_endpoint" env:"BLOXGATE_OTLP_ENDPOINT,OTEL_EXPORTER_OTLP_ENDPOINT"`
	StdoutTrace  bool   `json:"stdout_trace" yaml:"stdout_trace" env:"BLOXGATE_STDOUT_TRACE"`
}

// LoggingConfig controls structured log output.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level" env:"BLOXGATE_LOG_LEVEL"`
	Format string `json:"format" yaml:"format" env:"BLOXGATE_LOG_FORMAT"`
}

// DefaultConfig returns a config with production defaults applied.
func DefaultConfig() *Config {
	return &Config{
		ServiceName: "bloxgate",
		Server: ServerConfig{
			Host:            "0.0.0.0",
			RPCPort:         8000,
			AdminPort:       8001,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    0, // streaming responses must not be cut off
			ShutdownTimeout: 10 * time.Second,
		},
		Upstream: UpstreamConfig{
			BaseURL:        "https://csp.infoblox.com",
			ConnectTimeout: 5 * time.Second,
			ReadTimeout:    30 * time.Second,
		},
		Resilience: ResilienceConfig{
			CallTimeout:      30 * time.Second,
			BreakerThreshold: 5,
			BreakerReset:     60 * time.Second,
			RetryMaxAttempts: 12,
			RetryBaseDelay:   5 * time.Second,
			RetryMaxDelay:    30 * time.Second,
		},
		Cache: CacheConfig{
			Enabled:        true,
			TTL:            300 * time.Second,
			MaxEntries:     1000,
			RedisKeyPrefix: "bloxgate:cache:",
		},
		Session: SessionConfig{
			IdleTimeout:   5 * time.Minute,
			OutboundQueue: 64,
		},
		Telemetry: TelemetryConfig{
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "json",
		},
	}
}

// NewConfig builds the effective configuration: defaults, then the optional
// file named by BLOXGATE_CONFIG_FILE, then environment overrides.
func NewConfig() (*Config, error) {
	cfg := DefaultConfig()
	if path := os.Getenv("BLOXGATE_CONFIG_FILE"); path != "" {
		if err := cfg.LoadFromFile(path); err != nil {
			return nil, err
		}
	}
	cfg.LoadFromEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile merges settings from a YAML file over the current values.
func (c *Config) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// LoadFromEnv applies BLOXGATE_* environment variables over the current
// values. Unset variables leave the existing value in place.
func (c *Config) LoadFromEnv() {
	setString(&c.ServiceName, "BLOXGATE_SERVICE_NAME")

	setString(&c.Server.Host, "BLOXGATE_HOST")
	setInt(&c.Server.RPCPort, "BLOXGATE_RPC_PORT")
	setInt(&c.Server.AdminPort, "BLOXGATE_ADMIN_PORT")
	setDuration(&c.Server.ReadTimeout, "BLOXGATE_HTTP_READ_TIMEOUT")
	setDuration(&c.Server.WriteTimeout, "BLOXGATE_HTTP_WRITE_TIMEOUT")
	setDuration(&c.Server.ShutdownTimeout, "BLOXGATE_SHUTDOWN_TIMEOUT")

	setString(&c.Upstream.BaseURL, "BLOXGATE_UPSTREAM_URL")
	setString(&c.Upstream.APIKey, "BLOXGATE_API_KEY")
	setDuration(&c.Upstream.ConnectTimeout, "BLOXGATE_CONNECT_TIMEOUT")
	setDuration(&c.Upstream.ReadTimeout, "BLOXGATE_UPSTREAM_READ_TIMEOUT")

	setDuration(&c.Resilience.CallTimeout, "BLOXGATE_CALL_TIMEOUT")
	setInt(&c.Resilience.BreakerThreshold, "BLOXGATE_BREAKER_THRESHOLD")
	setDuration(&c.Resilience.BreakerReset, "BLOXGATE_BREAKER_RESET")
	setInt(&c.Resilience.RetryMaxAttempts, "BLOXGATE_RETRY_MAX_ATTEMPTS")
	setDuration(&c.Resilience.RetryBaseDelay, "BLOXGATE_RETRY_BASE_DELAY")
	setDuration(&c.Resilience.RetryMaxDelay, "BLOXGATE_RETRY_MAX_DELAY")

	setBool(&c.Cache.Enabled, "BLOXGATE_CACHE_ENABLED")
	setDuration(&c.Cache.TTL, "BLOXGATE_CACHE_TTL")
	setInt(&c.Cache.MaxEntries, "BLOXGATE_CACHE_MAX_ENTRIES")
	setString(&c.Cache.RedisURL, "BLOXGATE_CACHE_REDIS_URL")
	setString(&c.Cache.RedisKeyPrefix, "BLOXGATE_CACHE_REDIS_PREFIX")

	setDuration(&c.Session.IdleTimeout, "BLOXGATE_SESSION_IDLE_TIMEOUT")
	setInt(&c.Session.OutboundQueue, "BLOXGATE_SESSION_QUEUE")

	setBool(&c.Telemetry.Enabled, "BLOXGATE_TELEMETRY_ENABLED")
	setString(&c.Telemetry.OTLPEndpoint, "BLOXGATE_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT")
	setBool(&c.Telemetry.StdoutTrace, "BLOXGATE_STDOUT_TRACE")

	setString(&c.Logging.Level, "BLOXGATE_LOG_LEVEL")
	setString(&c.Logging.Format, "BLOXGATE_LOG_FORMAT")
}

// Validate checks the configuration for errors that would prevent startup.
func (c *Config) Validate() error {
	var errs []string

	if c.Upstream.APIKey == "" {
		errs = append(errs, "BLOXGATE_API_KEY is required")
	}
	if c.Upstream.BaseURL == "" {
		errs = append(errs, "upstream base URL must not be empty")
	} else if !strings.HasPrefix(c.Upstream.BaseURL, "http://") && !strings.HasPrefix(c.Upstream.BaseURL, "https://") {
		errs = append(errs, fmt.Sprintf("upstream base URL %q must start with http:// or https://", c.Upstream.BaseURL))
	}
	if c.Server.RPCPort < 1 || c.Server.RPCPort > 65535 {
		errs = append(errs, fmt.Sprintf("invalid rpc port: %d", c.Server.RPCPort))
	}
	if c.Server.AdminPort < 1 || c.Server.AdminPort > 65535 {
		errs = append(errs, fmt.Sprintf("invalid admin port: %d", c.Server.AdminPort))
	}
	if c.Server.RPCPort == c.Server.AdminPort {
		errs = append(errs, "rpc port and admin port must differ")
	}
	if c.Resilience.BreakerThreshold < 1 {
		errs = append(errs, "breaker threshold must be at least 1")
	}
	if c.Resilience.RetryMaxAttempts < 1 {
		errs = append(errs, "retry max attempts must be at least 1")
	}
	if c.Cache.TTL < 0 {
		errs = append(errs, "cache TTL must not be negative")
	}
	if c.Cache.MaxEntries < 1 {
		errs = append(errs, "cache max entries must be at least 1")
	}
	if c.Session.OutboundQueue < 1 {
		errs = append(errs, "session outbound queue must be at least 1")
	}
	if _, ok := logLevels[strings.ToUpper(c.Logging.Level)]; !ok {
		errs = append(errs, fmt.Sprintf("unknown log level %q", c.Logging.Level))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfiguration, strings.Join(errs, "; "))
	}
	return nil
}

// Redacted returns a copy safe for logging. The API key is masked down to a
// short suffix so operators can tell keys apart without exposing them.
func (c *Config) Redacted() Config {
	out := *c
	if n := len(out.Upstream.APIKey); n > 4 {
		out.Upstream.APIKey = "..." + out.Upstream.APIKey[n-4:]
	} else if n > 0 {
		out.Upstream.APIKey = "****"
	}
	return out
}

func setString(dst *string, keys ...string) {
	for _, key := range keys {
		if v := os.Getenv(key); v != "" {
			*dst = v
			return
		}
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

// setDuration accepts Go duration strings and bare integers (seconds).
func setDuration(dst *time.Duration, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if d, err := time.ParseDuration(v); err == nil {
		*dst = d
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = time.Duration(n) * time.Second
	}
}
