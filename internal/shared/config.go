package shared

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the harness configuration loaded from a TOML file.
type Config struct {
	API      APIConfig      `toml:"api"`
	Admin    AdminConfig    `toml:"admin"`
	Database DatabaseConfig `toml:"database"`
}

// APIConfig locates the services under test.
type APIConfig struct {
	// ServerURL is the base URL of the recordings API.
	ServerURL string `toml:"server_url"`
	// ProcessingURL is the base URL of the file-processing service.
	ProcessingURL string `toml:"processing_url"`
	// RequestsPerSecond is the client-side rate limit applied to all
	// outgoing calls. Zero disables throttling.
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// AdminConfig holds the superuser credentials and the default group used when
// a scenario does not create its own.
type AdminConfig struct {
	Username     string `toml:"username"`
	Password     string `toml:"password"`
	Email        string `toml:"email"`
	DefaultGroup string `toml:"default_group"`
}

// DatabaseConfig configures the local sqlite run log.
type DatabaseConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// LoadConfig reads and parses a TOML configuration file from the specified
// path, then applies FIELDTEST_* environment overrides. A .env file in the
// working directory is loaded first if present.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMissingConfig, err)
	}

	var config Config
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	config.applyEnv()
	return &config, nil
}

// DefaultConfig returns a Config parsed from the embedded example config,
// with environment overrides applied.
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

// applyEnv overlays FIELDTEST_* environment variables onto the config so CI
// can point one config file at different deployments.
func (c *Config) applyEnv() {
	// Missing .env is the common case outside CI.
	_ = godotenv.Load()

	if v := os.Getenv("FIELDTEST_SERVER_URL"); v != "" {
		c.API.ServerURL = v
	}
	if v := os.Getenv("FIELDTEST_PROCESSING_URL"); v != "" {
		c.API.ProcessingURL = v
	}
	if v := os.Getenv("FIELDTEST_ADMIN_USERNAME"); v != "" {
		c.Admin.Username = v
	}
	if v := os.Getenv("FIELDTEST_ADMIN_PASSWORD"); v != "" {
		c.Admin.Password = v
	}
	if v := os.Getenv("FIELDTEST_RPS"); v != "" {
		if rps, err := strconv.ParseFloat(v, 64); err == nil {
			c.API.RequestsPerSecond = rps
		}
	}
}
