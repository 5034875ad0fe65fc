package shared

import (
	_ "embed"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

//go:embed config.example.toml
var exampleConf []byte

const (
	ProviderSpotify = "spotify"
	ProviderYandex  = "yandex"
)

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Remote RemoteConfig `toml:"remote"`
	HTTP   HTTPConfig   `toml:"http"`
	Retry  RetryConfig  `toml:"retry"`
	Store  StoreConfig  `toml:"store"`
	Run    RunConfig    `toml:"run"`
	Log    LogConfig    `toml:"log"`
}

// RemoteConfig selects the music service and how to reach it.
type RemoteConfig struct {
	Provider string `toml:"provider"`
	TokenEnv string `toml:"token_env"`
	Proxy    string `toml:"proxy"`
	BaseURL  string `toml:"base_url"`
}

// HTTPConfig contains transport limits shared by all providers.
type HTTPConfig struct {
	RequestTimeout time.Duration `toml:"request_timeout"`
	RateLimit      float64       `toml:"rate_limit"`
	Concurrency    int           `toml:"concurrency"`
}

// RetryConfig controls the bounded exponential backoff for transient failures.
type RetryConfig struct {
	MaxAttempts  int           `toml:"max_attempts"`
	InitialDelay time.Duration `toml:"initial_delay"`
	MaxDelay     time.Duration `toml:"max_delay"`
	Multiplier   float64       `toml:"multiplier"`
}

// StoreConfig contains snapshot storage settings.
type StoreConfig struct {
	DataDir string `toml:"data_dir"`
	Keep    int    `toml:"keep"`
}

// RunConfig bounds a single refresh invocation.
type RunConfig struct {
	Timeout time.Duration `toml:"timeout"`
	Likes   bool          `toml:"likes"`
}

// LogConfig contains logger settings.
type LogConfig struct {
	Level      string `toml:"level"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
}

// LoadConfig reads a TOML configuration file and layers it over [DefaultConfig],
// so keys missing from the file keep their defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("%w: failed to parse config: %v", ErrInvalidConfig, err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// LoadConfigOrDefault loads path when it exists and falls back to [DefaultConfig] otherwise.
func LoadConfigOrDefault(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	return LoadConfig(path)
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks value ranges that would otherwise fail deep inside a run.
func (c *Config) Validate() error {
	switch c.Remote.Provider {
	case ProviderSpotify, ProviderYandex:
	default:
		return fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, c.Remote.Provider)
	}
	if c.Remote.TokenEnv == "" {
		return fmt.Errorf("%w: remote.token_env must be set", ErrInvalidConfig)
	}
	if _, err := c.Remote.ProxyURL(); err != nil {
		return err
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("%w: retry.max_attempts must be at least 1", ErrInvalidConfig)
	}
	if c.Retry.Multiplier < 1 {
		return fmt.Errorf("%w: retry.multiplier must be at least 1", ErrInvalidConfig)
	}
	if c.HTTP.RequestTimeout <= 0 || c.Run.Timeout <= 0 {
		return fmt.Errorf("%w: timeouts must be positive", ErrInvalidConfig)
	}
	if c.HTTP.Concurrency < 1 {
		return fmt.Errorf("%w: http.concurrency must be at least 1", ErrInvalidConfig)
	}
	if c.Store.DataDir == "" {
		return fmt.Errorf("%w: store.data_dir must be set", ErrInvalidConfig)
	}
	if c.Store.Keep < 0 {
		return fmt.Errorf("%w: store.keep cannot be negative", ErrInvalidConfig)
	}
	return nil
}

// ProxyURL parses the configured proxy. A bare host:port is treated as an HTTP proxy.
// Returns nil when no proxy is configured.
func (r RemoteConfig) ProxyURL() (*url.URL, error) {
	proxy := strings.TrimSpace(r.Proxy)
	if proxy == "" {
		return nil, nil
	}
	if !strings.Contains(proxy, "://") {
		proxy = "http://" + proxy
	}

	u, err := url.Parse(proxy)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("%w: invalid proxy %q", ErrInvalidConfig, r.Proxy)
	}
	return u, nil
}

// LoadEnv loads variables from .env files without overriding values already set in the environment.
// Missing files are ignored.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}

	var existing []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return nil
	}

	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("%w: failed to load env file: %v", ErrInvalidConfig, err)
	}
	return nil
}
