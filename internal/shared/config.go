package shared

import (
	_ "embed"
	"fmt"
	"os"
	"slices"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

//go:embed config.example.toml
var exampleConf []byte

// ConfigEnvVar names the environment variable consulted for the config path
// when the --config flag is not provided.
const ConfigEnvVar = "PIPEDECK_CONFIG"

// TokenEnvVar names the environment variable that overrides the operator token.
const TokenEnvVar = "PIPEDECK_TOKEN"

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Server   ServerConfig             `toml:"server"`
	Projects []string                 `toml:"projects"`
	Compute  map[string]ComputeConfig `toml:"compute"`
	Database DatabaseConfig           `toml:"database"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host         string `toml:"host"`
	Port         int    `toml:"port"`
	Token        string `toml:"token"`
	PollInterval int    `toml:"poll_interval"`
}

// ComputeConfig describes one compute package: a named group of settings
// substituted into per-sample submission scripts.
type ComputeConfig struct {
	Submitter   string `toml:"submitter"`
	Partition   string `toml:"partition"`
	MemoryLimit string `toml:"memory_limit"`
	Cores       int    `toml:"cores"`
}

// DatabaseConfig contains run history database settings.
type DatabaseConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read config file: %v", ErrMissingConfig, err)
	}

	var config Config
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("%w: failed to parse config: %v", ErrInvalidConfig, err)
	}

	config.applyEnv()
	return &config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	config.applyEnv()
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

// LoadDotenv loads a .env file from the working directory if one exists.
// Missing files are not an error; a present but unparseable one is.
func LoadDotenv() error {
	if _, err := os.Stat(".env"); err != nil {
		return nil
	}
	return godotenv.Load()
}

// applyEnv layers environment overrides onto file-sourced values.
func (c *Config) applyEnv() {
	if token := os.Getenv(TokenEnvVar); token != "" {
		c.Server.Token = token
	}
}

// DefaultComputePackage is the compute package assumed when the operator has
// not picked one in preferences.
const DefaultComputePackage = "default"

// ComputePackageNames lists the configured compute packages: the default
// package first, then the rest sorted by name.
func (c *Config) ComputePackageNames() []string {
	names := []string{DefaultComputePackage}
	extra := make([]string, 0, len(c.Compute))
	for name := range c.Compute {
		if name != DefaultComputePackage {
			extra = append(extra, name)
		}
	}
	slices.Sort(extra)
	return append(names, extra...)
}

// ComputePackage returns the named compute package settings. The default
// package resolves to local execution when the config does not redefine it.
func (c *Config) ComputePackage(name string) (ComputeConfig, error) {
	if pkg, ok := c.Compute[name]; ok {
		return pkg, nil
	}
	if name == DefaultComputePackage {
		return ComputeConfig{Submitter: "local", Cores: 1}, nil
	}
	return ComputeConfig{}, fmt.Errorf("%w: compute package %q", ErrNotFound, name)
}
