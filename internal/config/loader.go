package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. RWRK_WORKERS=64.
const EnvPrefix = "RWRK"

// envKeys are the settings that may also come from RWRK_* variables.
var envKeys = []string{
	"url",
	"total_tasks",
	"timeout",
	"workers",
	"log_level",
	"pool_max_idle_per_host",
	"pool_idle_timeout",
	"request_timeout",
	"history_file",
	"tracing.endpoint",
	"tracing.protocol",
	"tracing.service_name",
	"tracing.sample_rate",
	"tracing.insecure",
}

// Loader handles loading configuration from files, environment and command-line arguments.
type Loader struct{}

// ErrHelpRequested is returned when the user requests help via --help flag.
var ErrHelpRequested = errors.New("help requested")

// NewLoader creates a new configuration Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load parses command-line arguments, RWRK_* environment variables and an
// optional configuration file to produce a Config. Precedence is
// flags > environment > file > defaults.
func (Loader) Load(args []string) (*Config, error) {
	cmd := newFlagCommand()
	if err := cmd.Flags().Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
		return nil, err
	}

	flagSet := cmd.Flags()
	if helpFlag := flagSet.Lookup("help"); helpFlag != nil {
		if wantsHelp, err := strconv.ParseBool(helpFlag.Value.String()); err == nil && wantsHelp {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
	}

	configPath := flagSet.Lookup("config").Value.String()
	if len(args) == 0 && configPath == "" {
		displayHelp(cmd)
		return nil, ErrHelpRequested
	}

	cfgViper := viper.New()
	cfgViper.SetEnvPrefix(EnvPrefix)
	cfgViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, key := range envKeys {
		if err := cfgViper.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	if configPath != "" {
		cfgViper.SetConfigFile(configPath)
		if err := cfgViper.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	cfg := &Config{
		Total:           DefaultTotal,
		Timeout:         DefaultTimeout,
		Workers:         DefaultWorkers(),
		LogLevel:        DefaultLogLevel,
		PoolIdleTimeout: DefaultPoolIdleTimeout,
		RaceInFlight:    true,
		ConfigFile:      configPath,
		Tracing:         TracingConfig{SampleRate: 1.0},
	}

	if err := decodeSettings(cfg, cfgViper.AllSettings()); err != nil {
		return nil, fmt.Errorf("config settings: %w", err)
	}
	if err := applyFlagOverrides(cfg, flagSet); err != nil {
		return nil, err
	}

	cfg.normalize()
	return cfg, nil
}

// normalize tidies free-form strings and fills defaults derived from other settings.
func (c *Config) normalize() {
	c.TargetURL = strings.TrimSpace(c.TargetURL)
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.HistoryFile = strings.TrimSpace(c.HistoryFile)
	c.Tracing.Endpoint = strings.TrimSpace(c.Tracing.Endpoint)
	c.Tracing.Protocol = strings.ToLower(strings.TrimSpace(c.Tracing.Protocol))
	c.Tracing.ServiceName = strings.TrimSpace(c.Tracing.ServiceName)
	if c.PoolMaxIdlePerHost == 0 {
		c.PoolMaxIdlePerHost = c.Workers * 2
	}
}
