package config

import (
	"bytes"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/clamor-chat/clamor/globals"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	defaultHistoryLimit    = 50
	defaultHistoryMaxLimit = 200
	defaultStoreTimeout    = 5 * time.Second
	defaultAccessCacheSize = 1024
)

// Config is the global configuration object which is filled via the
// configuration file, environment (CLAMOR_ prefix) and bound flags.
type Config struct {
	OIDCConfigs       []OIDCConfig      `mapstructure:"oidc"`
	StaticTokens      map[string]string `mapstructure:"static_tokens"` // credential -> user id, development only
	PersistenceConfig PersistenceConfig `mapstructure:"persistence"`
	LimitsConfig      LimitsConfig      `mapstructure:"limits"`
	FilterConfigs     []FilterConfig    `mapstructure:"filter"`
	LogLevel          string            `mapstructure:"log_level"`
}

// An OIDCConfig object configures an OpenID Connect provider used to verify
// identity assertions. Clients present an ID token plus the provider name.
type OIDCConfig struct {
	Name        string `mapstructure:"name"`
	ClientId    string `mapstructure:"client_id"`
	ProviderUrl string `mapstructure:"provider_url"` // f.e. "https://accounts.google.com"
}

// PersistenceConfig selects the storage backend. Supported types: "sqlite",
// "postgres" (both via gorm) and "buntdb".
type PersistenceConfig struct {
	Type string `mapstructure:"type"`
	DSN  string `mapstructure:"dsn"`
}

// LimitsConfig bounds message history reads, store calls and the channel
// resolution cache.
type LimitsConfig struct {
	HistoryLimit    int           `mapstructure:"history_limit"`
	HistoryMaxLimit int           `mapstructure:"history_max_limit"`
	StoreTimeout    time.Duration `mapstructure:"store_timeout"`
	AccessCacheSize int           `mapstructure:"access_cache_size"`
}

// A FilterConfig attaches an expr expression to a push event kind. The
// expression is evaluated per receiving client, delivery is suppressed when
// it yields false.
type FilterConfig struct {
	Event      string `mapstructure:"event"`
	Expression string `mapstructure:"expression"`
}

func GetFlagSet() *pflag.FlagSet {
	flagSet := pflag.NewFlagSet("configuration", pflag.ContinueOnError)
	flagSet.String("log-level", "", "log level (TRACE, DEBUG, INFO, WARN, ERROR)")
	return flagSet
}

// wordSepNormalizeFunc allows for normalization of the flag names (which use - as a separator)
func wordSepNormalizeFunc(f *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.Replace(name, "-", "_", -1))
}

// ReadConfiguration reads and parses the configuration located at configPath,
// which can either point to a single TOML file or to a directory, in which
// case all *.toml files in this directory are concatenated.
func ReadConfiguration(configPath string, flagSet *pflag.FlagSet) (*Config, error) {
	cfg := Config{}
	flagSet.SetNormalizeFunc(wordSepNormalizeFunc)
	viper.SetDefault("log_level", "INFO")
	viper.SetDefault("limits.history_limit", defaultHistoryLimit)
	viper.SetDefault("limits.history_max_limit", defaultHistoryMaxLimit)
	viper.SetDefault("limits.store_timeout", defaultStoreTimeout)
	viper.SetDefault("limits.access_cache_size", defaultAccessCacheSize)
	err := viper.BindPFlags(flagSet)
	if err != nil {
		globals.AppLogger.Error("could not bind flags (ignored)", "error", err)
	}
	viper.SetEnvPrefix("CLAMOR")
	viper.AutomaticEnv()
	if configPath != "" {
		fi, err := os.Stat(configPath)
		if err != nil {
			return nil, err
		}
		contents := make([]byte, 0)
		files := []string{configPath}
		if fi.IsDir() {
			files, err = filepath.Glob(filepath.Join(configPath, "*.toml"))
			if err != nil {
				return nil, err
			}
		}
		for _, configFile := range files {
			fileContents, err := ioutil.ReadFile(configFile)
			if err != nil {
				return nil, err
			}
			contents = append(contents, fileContents...)
			contents = append(contents, '\n')
		}
		viper.SetConfigType("toml")
		err = viper.ReadConfig(bytes.NewBuffer(contents))
		if err != nil {
			globals.AppLogger.Error("could not read config", "error", err)
		}
	}
	err = viper.Unmarshal(&cfg)
	if err != nil {
		globals.AppLogger.Error("could not unmarshal config", "error", err)
	}
	return &cfg, nil
}
