package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Storage StorageConfig `mapstructure:"storage"`
	Central CentralConfig `mapstructure:"central"`
	Radio   RadioConfig   `mapstructure:"radio"`
	MDNS    MDNSConfig    `mapstructure:"mdns"`
	Log     LogConfig     `mapstructure:"log"`
}

type ServerConfig struct {
	Port            int      `mapstructure:"port"`
	ListenAddresses []string `mapstructure:"listen_addresses"`
}

type StorageConfig struct {
	Path string `mapstructure:"path"`
}

// CentralConfig carries the central-manager options: the connection attempt
// timeout and the default scan parameters.
type CentralConfig struct {
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	AllowDuplicates bool          `mapstructure:"allow_duplicates"`
	ServiceFilter   []string      `mapstructure:"service_filter"`
}

// RadioBackend names for RadioConfig.Backend.
const (
	RadioBackendSim    = "sim"
	RadioBackendTinyGo = "tinygo"
)

type RadioConfig struct {
	Backend string `mapstructure:"backend"`
}

type MDNSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Hostname string `mapstructure:"hostname"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ServiceFilterUUIDs parses the configured scan service filter.
func (c CentralConfig) ServiceFilterUUIDs() ([]uuid.UUID, error) {
	out := make([]uuid.UUID, 0, len(c.ServiceFilter))
	for _, raw := range c.ServiceFilter {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid service filter entry %q: %w", raw, err)
		}
		out = append(out, id)
	}
	return out, nil
}

func Load(cmd *cobra.Command) (*Config, error) {
	v := viper.New()

	// Load environment file if specified
	envFile, _ := cmd.Flags().GetString("env-file")
	if envFile != "" {
		if err := loadEnvFile(envFile); err != nil {
			return nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	} else if _, err := os.Stat(".env"); err == nil {
		// Best effort; a broken local .env should not stop the daemon
		_ = loadEnvFile(".env")
	}

	setDefaults(v)

	// Read from config file
	configFile, _ := cmd.Flags().GetString("config")
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}

		v.AddConfigPath(filepath.Join(home, ".ble_central"))
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName("config")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Environment variables
	v.SetEnvPrefix("BLECENTRAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := bindFlags(cmd, v); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Set default storage path if not provided
	if cfg.Storage.Path == "" {
		pwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current working directory: %w", err)
		}
		cfg.Storage.Path = filepath.Join(pwd, ".ble_central")
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 5680)
	v.SetDefault("central.connect_timeout", "10s")
	v.SetDefault("central.allow_duplicates", false)
	v.SetDefault("radio.backend", RadioBackendSim)
	v.SetDefault("mdns.enabled", true)
	v.SetDefault("mdns.hostname", getDefaultHostname())
	v.SetDefault("log.level", "debug")
	v.SetDefault("log.format", "console")
}

func bindFlags(cmd *cobra.Command, v *viper.Viper) error {
	flags := map[string]string{
		"port":             "server.port",
		"listen":           "server.listen_addresses",
		"storage-path":     "storage.path",
		"connect-timeout":  "central.connect_timeout",
		"allow-duplicates": "central.allow_duplicates",
		"service-filter":   "central.service_filter",
		"radio-backend":    "radio.backend",
		"mdns-enabled":     "mdns.enabled",
		"mdns-hostname":    "mdns.hostname",
		"log-level":        "log.level",
		"log-format":       "log.format",
	}

	for flag, key := range flags {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return fmt.Errorf("failed to bind flag %s: %w", flag, err)
		}
	}

	return nil
}

func validate(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", cfg.Server.Port)
	}

	if cfg.Central.ConnectTimeout <= 0 {
		return fmt.Errorf("invalid connect timeout: %s", cfg.Central.ConnectTimeout)
	}

	switch cfg.Radio.Backend {
	case RadioBackendSim, RadioBackendTinyGo:
	default:
		return fmt.Errorf("invalid radio backend: %s", cfg.Radio.Backend)
	}

	if _, err := cfg.Central.ServiceFilterUUIDs(); err != nil {
		return err
	}

	return nil
}

func getDefaultHostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "ble-central"
	}
	return hostname
}
