package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"lendpool/crypto"
)

const defaultListen = ":8480"

// Storage backends accepted for data_dir.
const (
	BackendLevelDB = "leveldb"
	BackendBolt    = "bolt"
)

// Config captures the runtime settings for the lending service daemon.
type Config struct {
	ListenAddress string          `yaml:"listen"`
	Environment   string          `yaml:"environment"`
	DataDir       string          `yaml:"data_dir"`
	Backend       string          `yaml:"backend"`
	GenesisFile   string          `yaml:"genesis"`
	TLS           TLSConfig       `yaml:"tls"`
	Auth          AuthConfig      `yaml:"auth"`
	RateLimit     RateLimitConfig `yaml:"rate_limit"`
	Faucet        FaucetConfig    `yaml:"faucet"`
	Journal       JournalConfig   `yaml:"journal"`
	Logging       LoggingConfig   `yaml:"logging"`
	Telemetry     TelemetryConfig `yaml:"telemetry"`
}

// TLSConfig describes the TLS material for the HTTP server.
type TLSConfig struct {
	CertPath      string `yaml:"cert"`
	KeyPath       string `yaml:"key"`
	AllowInsecure bool   `yaml:"allow_insecure"`
}

// AuthConfig lists the authenticators accepted by the service. Every
// authenticated request resolves to a caller address.
type AuthConfig struct {
	APITokens []TokenBinding `yaml:"api_tokens"`
	JWT       JWTConfig      `yaml:"jwt"`
}

// TokenBinding maps a static API token to the address it acts for.
type TokenBinding struct {
	Token   string `yaml:"token"`
	Address string `yaml:"address"`
}

// JWTConfig enables HS256 bearer tokens whose subject is the caller address.
type JWTConfig struct {
	HMACSecret string        `yaml:"hmac_secret"`
	Issuer     string        `yaml:"issuer"`
	Audience   string        `yaml:"audience"`
	ClockSkew  time.Duration `yaml:"clock_skew"`
}

// Enabled reports whether JWT validation is configured.
func (cfg JWTConfig) Enabled() bool { return cfg.HMACSecret != "" }

// RateLimitConfig bounds requests per client.
type RateLimitConfig struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	Burst             int     `yaml:"burst"`
}

// FaucetConfig controls the development-only funding endpoint.
type FaucetConfig struct {
	Enabled   bool   `yaml:"enabled"`
	MaxAmount string `yaml:"max_amount"`
}

// JournalConfig selects the SQL event journal. An empty DSN disables it.
type JournalConfig struct {
	DSN string `yaml:"dsn"`
}

// LoggingConfig mirrors logging.Options.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// TelemetryConfig configures the OTLP exporters.
type TelemetryConfig struct {
	Endpoint string `yaml:"endpoint"`
	Insecure bool   `yaml:"insecure"`
	Headers  string `yaml:"headers"`
	Traces   bool   `yaml:"traces"`
	Metrics  bool   `yaml:"metrics"`
}

// Load reads the YAML configuration from disk and validates the result.
func Load(path string) (Config, error) {
	cfg := Config{
		ListenAddress: defaultListen,
	}
	if path == "" {
		return cfg, fmt.Errorf("config path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) normalize() {
	if cfg == nil {
		return
	}
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = defaultListen
	}
	cfg.Environment = strings.TrimSpace(cfg.Environment)
	cfg.DataDir = strings.TrimSpace(cfg.DataDir)
	cfg.Backend = strings.ToLower(strings.TrimSpace(cfg.Backend))
	if cfg.Backend == "" {
		cfg.Backend = BackendLevelDB
	}
	cfg.GenesisFile = strings.TrimSpace(cfg.GenesisFile)
	cfg.TLS.CertPath = strings.TrimSpace(cfg.TLS.CertPath)
	cfg.TLS.KeyPath = strings.TrimSpace(cfg.TLS.KeyPath)
	cfg.Auth.normalize()
	if cfg.RateLimit.RequestsPerMinute == 0 {
		cfg.RateLimit.RequestsPerMinute = 120
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = 20
	}
	cfg.Faucet.MaxAmount = strings.TrimSpace(cfg.Faucet.MaxAmount)
	cfg.Journal.DSN = strings.TrimSpace(cfg.Journal.DSN)
}

func (cfg *Config) validate() error {
	if cfg == nil {
		return fmt.Errorf("configuration is missing")
	}
	if cfg.Backend != BackendLevelDB && cfg.Backend != BackendBolt {
		return fmt.Errorf("backend: unsupported storage backend %q", cfg.Backend)
	}
	if err := cfg.TLS.validate(); err != nil {
		return fmt.Errorf("tls: %w", err)
	}
	if err := cfg.Auth.validate(); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	if cfg.RateLimit.RequestsPerMinute < 0 {
		return fmt.Errorf("rate_limit: requests_per_minute must be non-negative")
	}
	if cfg.Faucet.Enabled && strings.EqualFold(cfg.Environment, "production") {
		return fmt.Errorf("faucet: cannot be enabled in production")
	}
	return nil
}

func (cfg TLSConfig) validate() error {
	hasCert := cfg.CertPath != ""
	hasKey := cfg.KeyPath != ""
	if hasCert != hasKey {
		return fmt.Errorf("cert and key must either both be provided or both be empty")
	}
	if !cfg.AllowInsecure && !hasCert {
		return fmt.Errorf("cert and key are required unless allow_insecure=true")
	}
	return nil
}

// Enabled reports whether the server should terminate TLS itself.
func (cfg TLSConfig) Enabled() bool { return cfg.CertPath != "" }

func (cfg *AuthConfig) normalize() {
	if cfg == nil {
		return
	}
	tokens := make([]TokenBinding, 0, len(cfg.APITokens))
	for _, binding := range cfg.APITokens {
		binding.Token = strings.TrimSpace(binding.Token)
		binding.Address = strings.TrimSpace(binding.Address)
		if binding.Token == "" {
			continue
		}
		tokens = append(tokens, binding)
	}
	cfg.APITokens = tokens
	cfg.JWT.HMACSecret = strings.TrimSpace(cfg.JWT.HMACSecret)
	if cfg.JWT.ClockSkew <= 0 {
		cfg.JWT.ClockSkew = 2 * time.Minute
	}
}

func (cfg AuthConfig) validate() error {
	if len(cfg.APITokens) == 0 && !cfg.JWT.Enabled() {
		return fmt.Errorf("at least one api token or a jwt secret must be configured")
	}
	for i, binding := range cfg.APITokens {
		if _, err := crypto.DecodeAddress(binding.Address); err != nil {
			return fmt.Errorf("api_tokens[%d]: %w", i, err)
		}
	}
	return nil
}
