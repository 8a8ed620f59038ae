package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// DefaultModelName is served when neither the file nor the environment names a model.
const DefaultModelName = "noshow-prediction-model"

// Defaults applied by SetDefaults.
const (
	DefaultAddr                   = ":8080"
	DefaultRegistryURI            = "./registry"
	DefaultLogLevel               = "info"
	DefaultLogFormat              = "json"
	DefaultReloadTimeoutSeconds   = 120
	DefaultFetchTimeoutSeconds    = 30
	DefaultMaxBodyBytes           = 1 << 20
	DefaultShutdownTimeoutSeconds = 15
	DefaultServiceName            = "noshowd"
)

// Config holds runtime parameters for the service.
// Zero values mean "unspecified" and are replaced by SetDefaults.
type Config struct {
	Addr                   string   `json:"addr" yaml:"addr" toml:"addr"`
	ModelName              string   `json:"model_name" yaml:"model_name" toml:"model_name"`
	RegistryURI            string   `json:"registry_uri" yaml:"registry_uri" toml:"registry_uri"`
	RegistryPrefix         string   `json:"registry_prefix" yaml:"registry_prefix" toml:"registry_prefix"`
	RegistryToken          string   `json:"registry_token" yaml:"registry_token" toml:"registry_token"`
	ArtifactBaseDir        string   `json:"artifact_base_dir" yaml:"artifact_base_dir" toml:"artifact_base_dir"`
	LogLevel               string   `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogFormat              string   `json:"log_format" yaml:"log_format" toml:"log_format"`
	ReloadTimeoutSeconds   int      `json:"reload_timeout_seconds" yaml:"reload_timeout_seconds" toml:"reload_timeout_seconds"`
	FetchTimeoutSeconds    int      `json:"fetch_timeout_seconds" yaml:"fetch_timeout_seconds" toml:"fetch_timeout_seconds"`
	PollIntervalSeconds    int      `json:"poll_interval_seconds" yaml:"poll_interval_seconds" toml:"poll_interval_seconds"`
	Notify                 bool     `json:"notify" yaml:"notify" toml:"notify"`
	MaxBodyBytes           int64    `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes"`
	ReloadToken            string   `json:"reload_token" yaml:"reload_token" toml:"reload_token"`
	ShutdownTimeoutSeconds int      `json:"shutdown_timeout_seconds" yaml:"shutdown_timeout_seconds" toml:"shutdown_timeout_seconds"`
	CORSEnabled            bool     `json:"cors_enabled" yaml:"cors_enabled" toml:"cors_enabled"`
	CORSAllowedOrigins     []string `json:"cors_allowed_origins" yaml:"cors_allowed_origins" toml:"cors_allowed_origins"`
	OTLPEndpoint           string   `json:"otlp_endpoint" yaml:"otlp_endpoint" toml:"otlp_endpoint"`
	ServiceName            string   `json:"service_name" yaml:"service_name" toml:"service_name"`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}

// SetDefaults fills unspecified fields. Poll interval stays 0 (disabled)
// unless set.
func (c *Config) SetDefaults() {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.ModelName == "" {
		c.ModelName = DefaultModelName
	}
	if c.RegistryURI == "" {
		c.RegistryURI = DefaultRegistryURI
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.LogFormat == "" {
		c.LogFormat = DefaultLogFormat
	}
	if c.ReloadTimeoutSeconds <= 0 {
		c.ReloadTimeoutSeconds = DefaultReloadTimeoutSeconds
	}
	if c.FetchTimeoutSeconds <= 0 {
		c.FetchTimeoutSeconds = DefaultFetchTimeoutSeconds
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if c.ShutdownTimeoutSeconds <= 0 {
		c.ShutdownTimeoutSeconds = DefaultShutdownTimeoutSeconds
	}
	if c.ServiceName == "" {
		c.ServiceName = DefaultServiceName
	}
}

// Validate rejects combinations SetDefaults cannot repair.
func (c Config) Validate() error {
	if c.PollIntervalSeconds < 0 {
		return fmt.Errorf("poll_interval_seconds must not be negative")
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "json", "console":
	default:
		return fmt.Errorf("unsupported log_format %q", c.LogFormat)
	}
	return nil
}

func (c Config) ReloadTimeout() time.Duration {
	return time.Duration(c.ReloadTimeoutSeconds) * time.Second
}

func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSeconds) * time.Second
}

func (c Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}
