package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var (
	configData Config
	v          *viper.Viper
	bindings   = map[string]*pflag.Flag{}
)

// BindFlag registers a command-line flag that overrides key once Initialize runs.
func BindFlag(key string, flag *pflag.Flag) {
	if flag != nil {
		bindings[key] = flag
	}
}

// Config holds all configuration settings.
type Config struct {
	// Device connection: local runs an in-process chip, remote dials a serve instance.
	Device struct {
		Mode    string
		Address string
	}
	Driver struct {
		Timeout time.Duration
	}
	Examples struct {
		ExclusiveInit bool `mapstructure:"exclusive_init"`
	}
	Shell struct {
		WaitInterval  time.Duration `mapstructure:"wait_interval"`
		SelftestDelay time.Duration `mapstructure:"selftest_delay"`
	}
	// Software chip configuration
	Chip struct {
		SecDecay time.Duration `mapstructure:"sec_decay"`
		// Image keeps the local chip's objects in the datastore between runs.
		Image bool
	}
	Datastore struct {
		Path string
	}
	// Server configuration
	Server struct {
		Host string
		Port int
	}
	Inspect struct {
		Address string
	}
	// Logging configuration
	Log struct {
		Level  string
		Format string
	}
}

// Initialize sets up the configuration system.
func Initialize() error {
	return InitializeFrom("")
}

// InitializeFrom is Initialize with an explicit config file; empty uses the search paths.
func InitializeFrom(file string) error {
	v = viper.New()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")           // name of config file (without extension)
		v.SetConfigType("yaml")             // config file type
		v.AddConfigPath(".")                // optionally look for config in working directory
		v.AddConfigPath("$HOME/.go_optiga") // look for config in .go_optiga directory in home
		v.AddConfigPath("/etc/go_optiga/")  // path to look for the config file in
	}

	setDefaults(v)
	for key, flag := range bindings {
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("bind flag %s: %w", key, err)
		}
	}

	// Environment variables
	v.SetEnvPrefix("GOOPTIGA") // prefix for env vars
	v.AutomaticEnv()           // read in environment variables that match
	v.SetEnvKeyReplacer(       // replace dots with underscores in env vars
		strings.NewReplacer(".", "_"),
	)

	if file == "" {
		if err := ensureConfig(); err != nil {
			return fmt.Errorf("error creating config file: %w", err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		// It's okay if we can't find a config file, we'll use defaults
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err := v.Unmarshal(&configData); err != nil {
		return fmt.Errorf("unable to decode into config struct: %w", err)
	}

	return nil
}

// setDefaults sets default values for all configuration options.
func setDefaults(v *viper.Viper) {
	v.SetDefault("device.mode", "local")
	v.SetDefault("device.address", "localhost:1600")

	v.SetDefault("driver.timeout", 5*time.Second)
	v.SetDefault("examples.exclusive_init", true)

	v.SetDefault("shell.wait_interval", 2*time.Second)
	v.SetDefault("shell.selftest_delay", 2*time.Second)

	v.SetDefault("chip.sec_decay", 100*time.Millisecond)
	v.SetDefault("chip.image", false)

	v.SetDefault("datastore.path", filepath.Join(homeDir(), "datastore.yaml"))

	// Server defaults
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 1600)
	v.SetDefault("inspect.address", "")

	// Logging defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "human")
}

func homeDir() string {
	return filepath.Join(os.Getenv("HOME"), ".go_optiga")
}

// ensureConfig creates a default config file if none exists.
func ensureConfig() error {
	dir := homeDir()
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	configFile := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		defaultConfig := `# GO OPTIGA Configuration File
device:
  mode: local
  address: localhost:1600

driver:
  timeout: 5s

examples:
  exclusive_init: true

shell:
  wait_interval: 2s
  selftest_delay: 2s

chip:
  sec_decay: 100ms
  image: false

server:
  host: localhost
  port: 1600

inspect:
  address: ""

log:
  level: info
  format: human
`
		if err := os.WriteFile(configFile, []byte(defaultConfig), 0o644); err != nil {
			return err
		}
	}

	return nil
}

// Get returns the current configuration.
func Get() *Config {
	return &configData
}

// GetViper returns the viper instance.
func GetViper() *viper.Viper {
	return v
}
