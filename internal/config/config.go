package config

import (
	"fmt"
	"strings"
)

// DefaultPrompt is the prompt sent to the model when the client supplies none.
const DefaultPrompt = "<image>\n<|grounding|>Convert the document to markdown."

// Config represents the complete configuration for the ocrstudio application.
// It supports loading from configuration files, environment variables, and
// command-line flags.
type Config struct {
	// Global settings
	LogLevel string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	Verbose  bool   `mapstructure:"verbose" yaml:"verbose" json:"verbose"`

	// Server configuration (for serve command)
	Server ServerConfig `mapstructure:"server" yaml:"server" json:"server"`

	// Model service configuration
	Model ModelConfig `mapstructure:"model" yaml:"model" json:"model"`

	// History store configuration
	History HistoryConfig `mapstructure:"history" yaml:"history" json:"history"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host            string `mapstructure:"host" yaml:"host" json:"host"`
	Port            int    `mapstructure:"port" yaml:"port" json:"port"`
	CORSOrigin      string `mapstructure:"cors_origin" yaml:"cors_origin" json:"cors_origin"`
	MaxUploadMB     int    `mapstructure:"max_upload_mb" yaml:"max_upload_mb" json:"max_upload_mb"`
	TimeoutSec      int    `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// ModelConfig contains settings for the external OCR model service.
type ModelConfig struct {
	Endpoint          string `mapstructure:"endpoint" yaml:"endpoint" json:"endpoint"`
	DefaultPrompt     string `mapstructure:"default_prompt" yaml:"default_prompt" json:"default_prompt"`
	RequestTimeoutSec int    `mapstructure:"request_timeout_sec" yaml:"request_timeout_sec" json:"request_timeout_sec"`
	MaxAttempts       int    `mapstructure:"max_attempts" yaml:"max_attempts" json:"max_attempts"`
}

// HistoryConfig contains settings for the on-disk run history.
type HistoryConfig struct {
	Dir        string `mapstructure:"dir" yaml:"dir" json:"dir"`
	MaxEntries int    `mapstructure:"max_entries" yaml:"max_entries" json:"max_entries"`
}

// DefaultConfig returns a configuration populated with defaults matching the
// local demo deployment.
func DefaultConfig() Config {
	return Config{
		LogLevel: "info",
		Verbose:  false,
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8000,
			CORSOrigin:      "*",
			MaxUploadMB:     15,
			TimeoutSec:      300,
			ShutdownTimeout: 10,
		},
		Model: ModelConfig{
			Endpoint:          "http://localhost:9000/infer",
			DefaultPrompt:     DefaultPrompt,
			RequestTimeoutSec: 300,
			MaxAttempts:       3,
		},
		History: HistoryConfig{
			Dir:        "runs",
			MaxEntries: 50,
		},
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	var errs []string

	switch c.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("invalid log_level: %s", c.LogLevel))
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("invalid server.port: %d (must be between 1 and 65535)", c.Server.Port))
	}
	if c.Server.MaxUploadMB < 1 {
		errs = append(errs, fmt.Sprintf("invalid server.max_upload_mb: %d (must be positive)", c.Server.MaxUploadMB))
	}
	if c.Server.TimeoutSec < 1 {
		errs = append(errs, fmt.Sprintf("invalid server.timeout_sec: %d (must be positive)", c.Server.TimeoutSec))
	}

	if c.Model.Endpoint == "" {
		errs = append(errs, "model.endpoint must not be empty")
	}
	if c.Model.MaxAttempts < 1 {
		errs = append(errs, fmt.Sprintf("invalid model.max_attempts: %d (must be positive)", c.Model.MaxAttempts))
	}

	if c.History.Dir == "" {
		errs = append(errs, "history.dir must not be empty")
	}
	if c.History.MaxEntries < 1 {
		errs = append(errs, fmt.Sprintf("invalid history.max_entries: %d (must be positive)", c.History.MaxEntries))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return nil
}

// MaxUploadBytes returns the upload size limit in bytes.
func (c *ServerConfig) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) * 1024 * 1024
}
