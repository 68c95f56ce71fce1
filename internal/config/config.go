// Package config handles application configuration from environment variables
// or a YAML file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Backend types understood by the storage factories.
const (
	TypeLocal = "local"
	TypeS3    = "s3"
	TypeGCS   = "gcs"
)

// Selection strategies.
const (
	StrategyPrimary     = "primary"
	StrategyFailover    = "failover"
	StrategyRoundRobin  = "round_robin"
	StrategyLoadBalance = "load_balance"
)

const (
	defaultStrategy            = StrategyFailover
	defaultHealthCheckInterval = 30 * time.Second
	defaultFailoverTimeout     = 10 * time.Second
)

// Config holds all application configuration.
type Config struct {
	// Strategy picks the provider for each operation.
	Strategy string

	// HealthCheckInterval is the period of the background probe loop.
	HealthCheckInterval time.Duration

	// FailoverTimeout bounds a single provider call or probe.
	FailoverTimeout time.Duration

	// Providers lists every configured backend, enabled or not.
	Providers []ProviderConfig

	// ObjectKeyPrefix namespaces generated object keys.
	ObjectKeyPrefix string

	// MetricsPort enables the HTTP server when non-zero.
	MetricsPort int
}

// ProviderConfig describes one storage backend.
type ProviderConfig struct {
	// Name identifies the provider in logs, metrics and the health registry.
	Name string `yaml:"name"`

	// Type selects the factory. Defaults to Name.
	Type string `yaml:"type"`

	Enabled  bool `yaml:"enabled"`
	Priority int  `yaml:"priority"`

	// Settings carries backend-specific options, e.g. base_path or bucket.
	Settings map[string]string `yaml:"config"`
}

// fileConfig is the on-disk YAML layout.
type fileConfig struct {
	Strategy              string           `yaml:"strategy"`
	HealthCheckIntervalMs int              `yaml:"health_check_interval_ms"`
	FailoverTimeoutMs     int              `yaml:"failover_timeout_ms"`
	ObjectKeyPrefix       string           `yaml:"object_key_prefix"`
	MetricsPort           int              `yaml:"metrics_port"`
	Providers             []ProviderConfig `yaml:"providers"`
}

// Load reads configuration from STORAGE_CONFIG_FILE when set, otherwise from
// environment variables.
func Load() (*Config, error) {
	if path := os.Getenv("STORAGE_CONFIG_FILE"); path != "" {
		return LoadFile(path)
	}

	cfg := &Config{
		Strategy:            getEnvString("STORAGE_STRATEGY", defaultStrategy),
		HealthCheckInterval: getEnvMillis("HEALTH_CHECK_INTERVAL_MS", defaultHealthCheckInterval),
		FailoverTimeout:     getEnvMillis("FAILOVER_TIMEOUT_MS", defaultFailoverTimeout),
		ObjectKeyPrefix:     os.Getenv("OBJECT_KEY_PREFIX"),
		MetricsPort:         getEnvInt("METRICS_PORT", 0),
	}

	names := splitList(os.Getenv("STORAGE_PROVIDERS"))
	for i, name := range names {
		cfg.Providers = append(cfg.Providers, providerFromEnv(name, i))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFile reads configuration from a YAML file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML document into a validated Config.
func Parse(data []byte) (*Config, error) {
	var fc fileConfig
	if err := yaml.UnmarshalStrict(data, &fc); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg := &Config{
		Strategy:            fc.Strategy,
		HealthCheckInterval: time.Duration(fc.HealthCheckIntervalMs) * time.Millisecond,
		FailoverTimeout:     time.Duration(fc.FailoverTimeoutMs) * time.Millisecond,
		ObjectKeyPrefix:     fc.ObjectKeyPrefix,
		MetricsPort:         fc.MetricsPort,
		Providers:           fc.Providers,
	}
	if cfg.Strategy == "" {
		cfg.Strategy = defaultStrategy
	}
	if fc.HealthCheckIntervalMs == 0 {
		cfg.HealthCheckInterval = defaultHealthCheckInterval
	}
	if fc.FailoverTimeoutMs == 0 {
		cfg.FailoverTimeout = defaultFailoverTimeout
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the global settings. Per-provider problems are reported by
// ProviderConfig.Validate so that one bad entry does not stop the process.
func (c *Config) Validate() error {
	switch c.Strategy {
	case StrategyPrimary, StrategyFailover, StrategyRoundRobin, StrategyLoadBalance:
	default:
		return fmt.Errorf("invalid STORAGE_STRATEGY: %s (must be one of primary, failover, round_robin, load_balance)", c.Strategy)
	}

	if c.HealthCheckInterval <= 0 {
		return fmt.Errorf("HEALTH_CHECK_INTERVAL_MS must be positive")
	}

	if c.FailoverTimeout <= 0 {
		return fmt.Errorf("FAILOVER_TIMEOUT_MS must be positive")
	}

	if len(c.Providers) == 0 {
		return fmt.Errorf("STORAGE_PROVIDERS is required")
	}

	seen := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("provider name is required")
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate provider name: %s", p.Name)
		}
		seen[p.Name] = true
	}

	if c.MetricsPort < 0 {
		return fmt.Errorf("METRICS_PORT must be non-negative")
	}

	return nil
}

// EnabledProviders returns the enabled entries in configuration order.
func (c *Config) EnabledProviders() []ProviderConfig {
	var out []ProviderConfig
	for _, p := range c.Providers {
		if p.Enabled {
			out = append(out, p)
		}
	}
	return out
}

// BackendType returns the factory name for this provider.
func (p ProviderConfig) BackendType() string {
	if p.Type != "" {
		return p.Type
	}
	return p.Name
}

// Setting returns a backend-specific option or "".
func (p ProviderConfig) Setting(key string) string {
	return p.Settings[key]
}

// Validate checks that the backend-specific settings are complete.
func (p ProviderConfig) Validate() error {
	switch p.BackendType() {
	case TypeLocal:
		return p.validateLocal()
	case TypeS3:
		return p.validateS3()
	case TypeGCS:
		return p.validateGCS()
	default:
		return fmt.Errorf("unsupported provider type: %s", p.BackendType())
	}
}

func (p ProviderConfig) validateLocal() error {
	if p.Setting("base_path") == "" {
		return fmt.Errorf("base_path is required for local storage")
	}
	return nil
}

func (p ProviderConfig) validateS3() error {
	if p.Setting("bucket") == "" {
		return fmt.Errorf("bucket is required for S3 storage")
	}
	if p.Setting("region") == "" && p.Setting("endpoint") == "" {
		return fmt.Errorf("region is required for S3 storage (unless endpoint is set)")
	}
	if (p.Setting("access_key_id") == "") != (p.Setting("secret_access_key") == "") {
		return fmt.Errorf("access_key_id and secret_access_key must be set together for S3 storage")
	}
	return nil
}

func (p ProviderConfig) validateGCS() error {
	if p.Setting("bucket") == "" {
		return fmt.Errorf("bucket is required for GCS storage")
	}
	if p.Setting("project_id") == "" {
		return fmt.Errorf("project_id is required for GCS storage")
	}
	return nil
}

// providerFromEnv builds a provider entry from <NAME>_* variables. The
// position in STORAGE_PROVIDERS is the default priority.
func providerFromEnv(name string, position int) ProviderConfig {
	envPrefix := strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
	pc := ProviderConfig{
		Name:     name,
		Type:     getEnvString(envPrefix+"_TYPE", name),
		Enabled:  getEnvBool(envPrefix+"_ENABLED", true),
		Priority: getEnvInt(envPrefix+"_PRIORITY", position+1),
		Settings: make(map[string]string),
	}

	set := func(key, envKey string) {
		if v := os.Getenv(envKey); v != "" {
			pc.Settings[key] = v
		}
	}

	switch pc.BackendType() {
	case TypeLocal:
		set("base_path", "LOCAL_BASE_PATH")
		set("public_base_url", "LOCAL_PUBLIC_BASE_URL")
	case TypeS3:
		set("bucket", "S3_BUCKET")
		set("region", "S3_REGION")
		set("endpoint", "S3_ENDPOINT")
		set("access_key_id", "AWS_ACCESS_KEY_ID")
		set("secret_access_key", "AWS_SECRET_ACCESS_KEY")
		set("prefix", "S3_PREFIX")
		set("public_base_url", "S3_PUBLIC_BASE_URL")
	case TypeGCS:
		set("bucket", "GCS_BUCKET")
		set("project_id", "GOOGLE_PROJECT_ID")
		set("service_account_json", "GOOGLE_SERVICE_ACCOUNT_JSON")
		set("prefix", "GCS_PREFIX")
	}

	return pc
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnvString gets a string from environment variable with a default value.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer from environment variable with a default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

// getEnvMillis reads a millisecond count into a Duration.
func getEnvMillis(key string, defaultValue time.Duration) time.Duration {
	ms := getEnvInt(key, -1)
	if ms < 0 {
		return defaultValue
	}
	return time.Duration(ms) * time.Millisecond
}

// getEnvBool gets a boolean from environment variable with a default value.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
