package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Upstream  UpstreamConfig  `yaml:"upstream"`
	Auth      AuthConfig      `yaml:"auth"`
	Cache     CacheConfig     `yaml:"cache"`
	Alerts    AlertsConfig    `yaml:"alerts"`
	Dashboard DashboardConfig `yaml:"dashboard"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig represents the server configuration
type ServerConfig struct {
	Addr             string     `yaml:"addr"`
	RequestTimeout   string     `yaml:"request_timeout"`
	MaxWSConnections int        `yaml:"max_ws_connections"`
	CORS             CORSConfig `yaml:"cors"`
}

// CORSConfig represents the CORS configuration
type CORSConfig struct {
	AllowOrigins []string `yaml:"allow_origins"`
	AllowMethods []string `yaml:"allow_methods"`
}

// UpstreamConfig describes the telemetry REST API
type UpstreamConfig struct {
	BaseURL       string  `yaml:"base_url"`
	DevicesPath   string  `yaml:"devices_path"`
	TelemetryPath string  `yaml:"telemetry_path"` // "{device}" is replaced with the device ID
	Timeout       string  `yaml:"timeout"`
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`
}

// AuthConfig represents upstream authentication
type AuthConfig struct {
	Mode         string   `yaml:"mode"` // none, bearer or oauth2
	Token        string   `yaml:"token"`
	Issuer       string   `yaml:"issuer"`
	TokenURL     string   `yaml:"token_url"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	Scopes       []string `yaml:"scopes"`
}

// CacheConfig represents raw payload caching
type CacheConfig struct {
	Backend       string `yaml:"backend"` // none, memory or redis
	TTL           string `yaml:"ttl"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	KeyPrefix     string `yaml:"key_prefix"`
}

// AlertsConfig represents where deviation alerts go
type AlertsConfig struct {
	Sink        string `yaml:"sink"` // none, log or mqtt
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
}

// DashboardConfig represents the initial dashboard selection and refresh cadence
type DashboardConfig struct {
	DefaultDevice string `yaml:"default_device"`
	Window        string `yaml:"window"`
	MinHour       int    `yaml:"min_hour"`
	MaxHour       int    `yaml:"max_hour"`
	PollInterval  string `yaml:"poll_interval"`
	Timezone      string `yaml:"timezone"`
}

// LoggingConfig represents the logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// Load loads the configuration from environment variables and defaults. When
// VW_CONFIG is set the YAML file it names is loaded first.
func Load() (*Config, error) {
	return loadWithDefaults(getEnv("VW_CONFIG", ""))
}

// LoadFromFile loads configuration from a YAML file, with environment variable overrides
func LoadFromFile(configPath string) (*Config, error) {
	return loadWithDefaults(configPath)
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:             "0.0.0.0:8080",
			RequestTimeout:   "30s",
			MaxWSConnections: 100,
			CORS: CORSConfig{
				AllowOrigins: []string{"*"},
				AllowMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
			},
		},
		Upstream: UpstreamConfig{
			BaseURL:       "http://localhost:9000/api",
			DevicesPath:   "/devices",
			TelemetryPath: "/devices/{device}/telemetry",
			Timeout:       "10s",
			RatePerSecond: 5,
			Burst:         10,
		},
		Auth: AuthConfig{
			Mode: "none",
		},
		Cache: CacheConfig{
			Backend:   "memory",
			TTL:       "60s",
			RedisAddr: "localhost:6379",
			KeyPrefix: "voltwatch:",
		},
		Alerts: AlertsConfig{
			Sink:        "log",
			ClientID:    "voltwatch",
			TopicPrefix: "voltwatch/alerts",
		},
		Dashboard: DashboardConfig{
			Window:       "24h",
			MinHour:      0,
			MaxHour:      23,
			PollInterval: "1m",
			Timezone:     "Local",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// loadWithDefaults loads configuration with defaults, optionally from a file
func loadWithDefaults(configPath string) (*Config, error) {
	cfg := defaults()

	// If a config file path is provided, it replaces the defaults it sets
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from file %s: %w", configPath, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal YAML from %s: %w", configPath, err)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

// applyEnv overrides cfg with any environment variables that are set
func applyEnv(cfg *Config) {
	cfg.Server.Addr = getEnv("VW_SERVER_ADDR", cfg.Server.Addr)
	cfg.Server.RequestTimeout = getEnv("VW_REQUEST_TIMEOUT", cfg.Server.RequestTimeout)
	cfg.Server.MaxWSConnections = getEnvInt("VW_MAX_WS_CONNECTIONS", cfg.Server.MaxWSConnections)
	cfg.Server.CORS.AllowOrigins = getEnvStringSlice("VW_CORS_ALLOW_ORIGINS", cfg.Server.CORS.AllowOrigins)

	cfg.Upstream.BaseURL = getEnv("VW_UPSTREAM_URL", cfg.Upstream.BaseURL)
	cfg.Upstream.DevicesPath = getEnv("VW_UPSTREAM_DEVICES_PATH", cfg.Upstream.DevicesPath)
	cfg.Upstream.TelemetryPath = getEnv("VW_UPSTREAM_TELEMETRY_PATH", cfg.Upstream.TelemetryPath)
	cfg.Upstream.Timeout = getEnv("VW_UPSTREAM_TIMEOUT", cfg.Upstream.Timeout)
	cfg.Upstream.RatePerSecond = getEnvFloat("VW_UPSTREAM_RATE", cfg.Upstream.RatePerSecond)
	cfg.Upstream.Burst = getEnvInt("VW_UPSTREAM_BURST", cfg.Upstream.Burst)

	cfg.Auth.Mode = getEnv("VW_AUTH_MODE", cfg.Auth.Mode)
	cfg.Auth.Token = getEnv("VW_AUTH_TOKEN", cfg.Auth.Token)
	cfg.Auth.Issuer = getEnv("VW_OIDC_ISSUER", cfg.Auth.Issuer)
	cfg.Auth.TokenURL = getEnv("VW_OAUTH_TOKEN_URL", cfg.Auth.TokenURL)
	cfg.Auth.ClientID = getEnv("VW_OAUTH_CLIENT_ID", cfg.Auth.ClientID)
	cfg.Auth.ClientSecret = getEnv("VW_OAUTH_CLIENT_SECRET", cfg.Auth.ClientSecret)
	cfg.Auth.Scopes = getEnvStringSlice("VW_OAUTH_SCOPES", cfg.Auth.Scopes)

	cfg.Cache.Backend = getEnv("VW_CACHE_BACKEND", cfg.Cache.Backend)
	cfg.Cache.TTL = getEnv("VW_CACHE_TTL", cfg.Cache.TTL)
	cfg.Cache.RedisAddr = getEnv("VW_REDIS_ADDR", cfg.Cache.RedisAddr)
	cfg.Cache.RedisPassword = getEnv("VW_REDIS_PASSWORD", cfg.Cache.RedisPassword)
	cfg.Cache.RedisDB = getEnvInt("VW_REDIS_DB", cfg.Cache.RedisDB)

	cfg.Alerts.Sink = getEnv("VW_ALERTS_SINK", cfg.Alerts.Sink)
	cfg.Alerts.Broker = getEnv("VW_MQTT_BROKER", cfg.Alerts.Broker)
	cfg.Alerts.ClientID = getEnv("VW_MQTT_CLIENT_ID", cfg.Alerts.ClientID)
	cfg.Alerts.Username = getEnv("VW_MQTT_USERNAME", cfg.Alerts.Username)
	cfg.Alerts.Password = getEnv("VW_MQTT_PASSWORD", cfg.Alerts.Password)
	cfg.Alerts.TopicPrefix = getEnv("VW_MQTT_TOPIC_PREFIX", cfg.Alerts.TopicPrefix)

	cfg.Dashboard.DefaultDevice = getEnv("VW_DEFAULT_DEVICE", cfg.Dashboard.DefaultDevice)
	cfg.Dashboard.Window = getEnv("VW_WINDOW", cfg.Dashboard.Window)
	cfg.Dashboard.MinHour = getEnvInt("VW_MIN_HOUR", cfg.Dashboard.MinHour)
	cfg.Dashboard.MaxHour = getEnvInt("VW_MAX_HOUR", cfg.Dashboard.MaxHour)
	cfg.Dashboard.PollInterval = getEnv("VW_POLL_INTERVAL", cfg.Dashboard.PollInterval)
	cfg.Dashboard.Timezone = getEnv("VW_TIMEZONE", cfg.Dashboard.Timezone)

	cfg.Logging.Level = getEnv("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getEnv("VW_LOG_FORMAT", cfg.Logging.Format)
	cfg.Logging.File = getEnv("VW_LOG_FILE", cfg.Logging.File)

	// Override port if PORT env var is set
	if port := getEnv("PORT", ""); port != "" {
		cfg.Server.Addr = "0.0.0.0:" + port
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		var result []string
		for _, part := range parts {
			trimmed := strings.TrimSpace(part)
			if trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return defaultValue
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server address cannot be empty")
	}
	if _, err := url.ParseRequestURI(c.Upstream.BaseURL); err != nil {
		return fmt.Errorf("upstream base URL is invalid: %w", err)
	}
	if !strings.Contains(c.Upstream.TelemetryPath, "{device}") {
		return fmt.Errorf("upstream telemetry path must contain {device}")
	}
	if c.Upstream.RatePerSecond <= 0 {
		return fmt.Errorf("upstream rate must be positive")
	}

	switch c.Auth.Mode {
	case "none":
	case "bearer":
		if c.Auth.Token == "" {
			return fmt.Errorf("auth token is required when auth mode is 'bearer'")
		}
	case "oauth2":
		if c.Auth.ClientID == "" {
			return fmt.Errorf("OAuth2 client ID is required when auth mode is 'oauth2'")
		}
		if c.Auth.TokenURL == "" && c.Auth.Issuer == "" {
			return fmt.Errorf("OAuth2 token URL or OIDC issuer is required when auth mode is 'oauth2'")
		}
	default:
		return fmt.Errorf("auth mode must be 'none', 'bearer', or 'oauth2'")
	}

	switch c.Cache.Backend {
	case "none", "memory":
	case "redis":
		if c.Cache.RedisAddr == "" {
			return fmt.Errorf("redis address is required when cache backend is 'redis'")
		}
	default:
		return fmt.Errorf("cache backend must be 'none', 'memory', or 'redis'")
	}

	switch c.Alerts.Sink {
	case "none", "log":
	case "mqtt":
		if c.Alerts.Broker == "" {
			return fmt.Errorf("MQTT broker is required when alerts sink is 'mqtt'")
		}
	default:
		return fmt.Errorf("alerts sink must be 'none', 'log', or 'mqtt'")
	}

	d := c.Dashboard
	if d.MinHour < 0 || d.MaxHour > 23 || d.MinHour > d.MaxHour {
		return fmt.Errorf("hour range %d-%d is invalid", d.MinHour, d.MaxHour)
	}
	if _, err := c.Location(); err != nil {
		return err
	}

	durations := map[string]string{
		"server.request_timeout":  c.Server.RequestTimeout,
		"upstream.timeout":        c.Upstream.Timeout,
		"cache.ttl":               c.Cache.TTL,
		"dashboard.window":        d.Window,
		"dashboard.poll_interval": d.PollInterval,
	}
	for name, value := range durations {
		if dur, err := time.ParseDuration(value); err != nil || dur <= 0 {
			return fmt.Errorf("%s must be a positive duration, got %q", name, value)
		}
	}

	return nil
}

// Location returns the time zone hour filtering and labels use
func (c *Config) Location() (*time.Location, error) {
	if c.Dashboard.Timezone == "" || c.Dashboard.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Dashboard.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Dashboard.Timezone, err)
	}
	return loc, nil
}

// Duration parses a duration field that Validate has already checked
func Duration(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
