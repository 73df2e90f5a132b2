// Package config resolves gordo CLI settings from command line flags,
// GORDO_ prefixed environment variables and an optional gordo.yaml file.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variables, e.g. GORDO_PROJECT
const EnvPrefix = "GORDO"

// Config holds gordo CLI settings, keys follow flag names
type Config struct {
	LogLevel string `mapstructure:"log-level"`
	LogFile  string `mapstructure:"log-file"`

	// client settings
	Project       string   `mapstructure:"project"`
	Targets       []string `mapstructure:"target"`
	Host          string   `mapstructure:"host"`
	Port          int      `mapstructure:"port"`
	Scheme        string   `mapstructure:"scheme"`
	GordoVersion  string   `mapstructure:"gordo-version"`
	Revision      string   `mapstructure:"revision"`
	BaseURL       string   `mapstructure:"base-url"`
	Metadata      []string `mapstructure:"metadata"`
	SessionConfig string   `mapstructure:"session-config"`
	BatchSize     int      `mapstructure:"batch-size"`
	Parallelism   int      `mapstructure:"parallelism"`
	CacheURI      string   `mapstructure:"cache-uri"`

	// command settings
	OutputFile              string `mapstructure:"output-file"`
	OutputDir               string `mapstructure:"output-dir"`
	DataProvider            string `mapstructure:"data-provider"`
	ForwardResampledSensors bool   `mapstructure:"forward-resampled-sensors"`
	NRetries                int    `mapstructure:"n-retries"`
	Anomaly                 bool   `mapstructure:"anomaly"`
	NoAnomaly               bool   `mapstructure:"no-anomaly"`
}

// Load builds configuration with the following priority: changed flags,
// environment variables, configuration file, flag defaults. Empty configFile
// means optional gordo.yaml in the current directory or $HOME/.gordo.
func Load(configFile string, flags ...*pflag.FlagSet) (*Config, error) {
	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("gordo")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".gordo"))
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	for _, fs := range flags {
		if err := v.BindPFlags(fs); err != nil {
			return nil, errors.Wrap(err, "unable to bind flags")
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || configFile != "" {
			return nil, errors.Wrap(err, "failed to read config file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log-level", "info")
	v.SetDefault("anomaly", true)
}
