// Package config provides configuration loading and structs for the
// anonymization service.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug   bool          `yaml:"debug"`
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Transit TransitConfig `yaml:"transit"`
	Breaker BreakerConfig `yaml:"breaker"`
	Ingest  IngestConfig  `yaml:"ingest"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds the document database path.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// TransitConfig holds settings for the external encrypt/decrypt service.
// The auth token is never read from the file: it comes from the
// TRANSIT_TOKEN environment variable (see Load).
type TransitConfig struct {
	Address        string `yaml:"address"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	Token          string `yaml:"-"`
}

// Timeout returns the transit request timeout as a duration.
func (t *TransitConfig) Timeout() time.Duration {
	return time.Duration(t.TimeoutSeconds) * time.Second
}

// BreakerConfig holds circuit breaker settings for the transit client.
type BreakerConfig struct {
	FailureThreshold    int `yaml:"failure_threshold"`
	ResetTimeoutSeconds int `yaml:"reset_timeout_seconds"`
	HalfOpenMax         int `yaml:"half_open_max"`
}

// ResetTimeout returns the breaker cool-down as a duration.
func (b *BreakerConfig) ResetTimeout() time.Duration {
	return time.Duration(b.ResetTimeoutSeconds) * time.Second
}

// IngestConfig holds drop-directory ingest settings.
type IngestConfig struct {
	Directories   []string `yaml:"directories"`
	AutoAnonymize bool     `yaml:"auto_anonymize"`
}

// Load reads and parses the config file at path, expands paths, applies
// defaults, and pulls the transit token from the environment. Returns an
// error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	for i := range cfg.Ingest.Directories {
		cfg.Ingest.Directories[i] = expandPath(cfg.Ingest.Directories[i], configDir)
	}
	cfg.Transit.Token = os.Getenv("TRANSIT_TOKEN")

	return &cfg, nil
}

// expandPath converts a path to absolute. Paths starting with "./" are
// relative to configDir; other relative paths are relative to the home
// directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
