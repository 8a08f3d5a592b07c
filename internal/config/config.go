package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port           int
	DBPath         string
	CredentialsDir string
	LogLevel       string
	LogFormat      string
	// Upstream gateway
	GatewayURL   string
	GatewayToken string
	// Auth
	JWTSecret  string
	CORSOrigin string
	// Reconnect policy
	ReconnectInitialDelay time.Duration
	ReconnectMaxDelay     time.Duration
	ReconnectMultiplier   float64
	ReconnectMaxAttempts  int
	ReconnectJitter       bool
	PairingTimeout        time.Duration
	// Events
	EventBuffer int
	// Startup
	RestoreOnStart bool
}

// Load builds the configuration from defaults, an optional config file and
// the environment, in that order. A .env file in the working directory is
// loaded first without overriding variables that are already set. The file
// path falls back to WAGATE_CONFIG when path is empty.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := defaults()

	if path == "" {
		path = os.Getenv("WAGATE_CONFIG")
	}
	if path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Port:                  8742,
		DBPath:                "/data/wagate.db",
		CredentialsDir:        "/data/credentials",
		LogLevel:              "info",
		LogFormat:             "json",
		GatewayURL:            "ws://localhost:8900/connect",
		CORSOrigin:            "*",
		ReconnectInitialDelay: time.Second,
		ReconnectMaxDelay:     2 * time.Minute,
		ReconnectMultiplier:   2,
		ReconnectMaxAttempts:  10,
		ReconnectJitter:       true,
		PairingTimeout:        3 * time.Minute,
		EventBuffer:           32,
		RestoreOnStart:        true,
	}
}

func applyEnv(c *Config) {
	c.Port = envInt("PORT", c.Port)
	c.DBPath = envStr("WAGATE_DB_PATH", c.DBPath)
	c.CredentialsDir = envStr("WAGATE_CREDENTIALS_DIR", c.CredentialsDir)
	c.LogLevel = envStr("LOG_LEVEL", c.LogLevel)
	c.LogFormat = envStr("LOG_FORMAT", c.LogFormat)
	c.GatewayURL = envStr("WAGATE_GATEWAY_URL", c.GatewayURL)
	c.GatewayToken = envStr("WAGATE_GATEWAY_TOKEN", c.GatewayToken)
	c.JWTSecret = envStr("JWT_SECRET", c.JWTSecret)
	c.CORSOrigin = envStr("CORS_ORIGIN", c.CORSOrigin)
	c.ReconnectInitialDelay = envDuration("RECONNECT_INITIAL_DELAY", c.ReconnectInitialDelay)
	c.ReconnectMaxDelay = envDuration("RECONNECT_MAX_DELAY", c.ReconnectMaxDelay)
	c.ReconnectMultiplier = envFloat("RECONNECT_MULTIPLIER", c.ReconnectMultiplier)
	c.ReconnectMaxAttempts = envInt("RECONNECT_MAX_ATTEMPTS", c.ReconnectMaxAttempts)
	c.ReconnectJitter = envBool("RECONNECT_JITTER", c.ReconnectJitter)
	c.PairingTimeout = envDuration("PAIRING_TIMEOUT", c.PairingTimeout)
	c.EventBuffer = envInt("EVENT_BUFFER", c.EventBuffer)
	c.RestoreOnStart = envBool("RESTORE_ON_START", c.RestoreOnStart)
}

func (c *Config) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port)
	}
	if c.DBPath == "" {
		return fmt.Errorf("WAGATE_DB_PATH must not be empty")
	}
	if c.CredentialsDir == "" {
		return fmt.Errorf("WAGATE_CREDENTIALS_DIR must not be empty")
	}
	u, err := url.Parse(c.GatewayURL)
	if err != nil || c.GatewayURL == "" {
		return fmt.Errorf("WAGATE_GATEWAY_URL must be a valid URL, got %q", c.GatewayURL)
	}
	switch u.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return fmt.Errorf("WAGATE_GATEWAY_URL must use ws, wss, http or https, got %q", u.Scheme)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error, got %q", c.LogLevel)
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("LOG_FORMAT must be json or text, got %q", c.LogFormat)
	}
	if c.ReconnectInitialDelay <= 0 {
		return fmt.Errorf("RECONNECT_INITIAL_DELAY must be positive, got %s", c.ReconnectInitialDelay)
	}
	if c.ReconnectMaxDelay < c.ReconnectInitialDelay {
		return fmt.Errorf("RECONNECT_MAX_DELAY must be at least RECONNECT_INITIAL_DELAY, got %s", c.ReconnectMaxDelay)
	}
	if c.ReconnectMultiplier < 1 {
		return fmt.Errorf("RECONNECT_MULTIPLIER must be at least 1, got %f", c.ReconnectMultiplier)
	}
	if c.ReconnectMaxAttempts < 0 {
		return fmt.Errorf("RECONNECT_MAX_ATTEMPTS must not be negative, got %d", c.ReconnectMaxAttempts)
	}
	if c.PairingTimeout < 0 {
		return fmt.Errorf("PAIRING_TIMEOUT must not be negative, got %s", c.PairingTimeout)
	}
	if c.EventBuffer < 1 {
		return fmt.Errorf("EVENT_BUFFER must be positive, got %d", c.EventBuffer)
	}
	return nil
}

// CORSOrigins splits CORSOrigin on commas.
func (c *Config) CORSOrigins() []string {
	var out []string
	for _, o := range strings.Split(c.CORSOrigin, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

// fileConfig mirrors Config for YAML and TOML files. Unset keys keep their
// defaults.
type fileConfig struct {
	Port           int    `yaml:"port" toml:"port"`
	DBPath         string `yaml:"db_path" toml:"db_path"`
	CredentialsDir string `yaml:"credentials_dir" toml:"credentials_dir"`
	LogLevel       string `yaml:"log_level" toml:"log_level"`
	LogFormat      string `yaml:"log_format" toml:"log_format"`
	Gateway        struct {
		URL   string `yaml:"url" toml:"url"`
		Token string `yaml:"token" toml:"token"`
	} `yaml:"gateway" toml:"gateway"`
	JWTSecret  string `yaml:"jwt_secret" toml:"jwt_secret"`
	CORSOrigin string `yaml:"cors_origin" toml:"cors_origin"`
	Reconnect  struct {
		InitialDelay Duration `yaml:"initial_delay" toml:"initial_delay"`
		MaxDelay     Duration `yaml:"max_delay" toml:"max_delay"`
		Multiplier   float64  `yaml:"multiplier" toml:"multiplier"`
		MaxAttempts  *int     `yaml:"max_attempts" toml:"max_attempts"`
		Jitter       *bool    `yaml:"jitter" toml:"jitter"`
	} `yaml:"reconnect" toml:"reconnect"`
	PairingTimeout *Duration `yaml:"pairing_timeout" toml:"pairing_timeout"`
	EventBuffer    int       `yaml:"event_buffer" toml:"event_buffer"`
	RestoreOnStart *bool     `yaml:"restore_on_start" toml:"restore_on_start"`
}

func loadFile(path string, c *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), &fc); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		return fmt.Errorf("unsupported config file extension %q", ext)
	}

	fc.apply(c)
	return nil
}

func (fc *fileConfig) apply(c *Config) {
	setStr := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	if fc.Port != 0 {
		c.Port = fc.Port
	}
	setStr(&c.DBPath, fc.DBPath)
	setStr(&c.CredentialsDir, fc.CredentialsDir)
	setStr(&c.LogLevel, fc.LogLevel)
	setStr(&c.LogFormat, fc.LogFormat)
	setStr(&c.GatewayURL, fc.Gateway.URL)
	setStr(&c.GatewayToken, fc.Gateway.Token)
	setStr(&c.JWTSecret, fc.JWTSecret)
	setStr(&c.CORSOrigin, fc.CORSOrigin)

	if fc.Reconnect.InitialDelay != 0 {
		c.ReconnectInitialDelay = time.Duration(fc.Reconnect.InitialDelay)
	}
	if fc.Reconnect.MaxDelay != 0 {
		c.ReconnectMaxDelay = time.Duration(fc.Reconnect.MaxDelay)
	}
	if fc.Reconnect.Multiplier != 0 {
		c.ReconnectMultiplier = fc.Reconnect.Multiplier
	}
	if fc.Reconnect.MaxAttempts != nil {
		c.ReconnectMaxAttempts = *fc.Reconnect.MaxAttempts
	}
	if fc.Reconnect.Jitter != nil {
		c.ReconnectJitter = *fc.Reconnect.Jitter
	}
	if fc.PairingTimeout != nil {
		c.PairingTimeout = time.Duration(*fc.PairingTimeout)
	}
	if fc.EventBuffer != 0 {
		c.EventBuffer = fc.EventBuffer
	}
	if fc.RestoreOnStart != nil {
		c.RestoreOnStart = *fc.RestoreOnStart
	}
}

// Duration decodes Go duration strings such as "90s" from config files.
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.UnmarshalText([]byte(node.Value))
}
