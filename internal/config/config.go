// Package config loads the broker's runtime configuration, mirroring the
// teacher's am package: Viper-backed, env-prefixed, defaults-first.
package config

import (
	"strings"

	"github.com/spf13/viper"

	"github.com/grantmcdermott/jgd/errors"
)

// Config is the broker's fully-resolved runtime configuration. Precedence,
// highest to lowest: CLI flags > config file > environment variables >
// defaults (§10.3), the same order am.initViper documents.
type Config struct {
	HTTPBind        string `mapstructure:"http_bind"`
	Transport       string `mapstructure:"transport"`
	TCPPort         int    `mapstructure:"tcp_port"`
	SocketPath      string `mapstructure:"socket_path"`
	WebDir          string `mapstructure:"web_dir"`
	Verbosity       int    `mapstructure:"verbosity"`
	JSONLogs        bool   `mapstructure:"json_logs"`
	DiscoveryEnable bool   `mapstructure:"discovery_enable"`
}

const envPrefix = "JGD"

var globalViper *viper.Viper

// Load builds a Viper instance from defaults, an optional config file, and
// environment variables, then unmarshals it into a Config. CLI flags are
// applied by the caller afterward via ApplyFlags, since cobra flag values aren't
// known until command execution.
func Load(configPath string) (*Config, error) {
	v := initViper(configPath)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	return &cfg, nil
}

// GetViper returns the package's cached Viper instance, initializing it
// with no config file if it hasn't been built yet.
func GetViper() *viper.Viper {
	if globalViper != nil {
		return globalViper
	}
	return initViper("")
}

// Reset clears the cached Viper instance. Exists for test isolation.
func Reset() {
	globalViper = nil
}

func initViper(configPath string) *viper.Viper {
	v := viper.New()

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configPath != "" {
		// A missing or unreadable config file is not an error: env vars
		// and defaults still apply, matching am.mergeConfigFiles's
		// best-effort merge of each candidate location. File values are
		// installed as overrides so they rank above environment variables.
		fileV := viper.New()
		fileV.SetConfigFile(configPath)
		if err := fileV.ReadInConfig(); err == nil {
			for _, key := range fileV.AllKeys() {
				v.Set(key, fileV.Get(key))
			}
		}
	}

	globalViper = v
	return v
}

// setDefaults installs the broker's baked-in defaults before any
// file/env overlay is applied.
func setDefaults(v *viper.Viper) {
	v.SetDefault("http_bind", "127.0.0.1:0")
	v.SetDefault("transport", defaultTransport())
	v.SetDefault("tcp_port", 0)
	v.SetDefault("socket_path", "")
	v.SetDefault("web_dir", "")
	v.SetDefault("verbosity", 0)
	v.SetDefault("json_logs", false)
	v.SetDefault("discovery_enable", true)
}

// ApplyFlags overlays explicitly-set CLI flag values onto cfg, the highest
// rung of the precedence order.
func ApplyFlags(cfg *Config, flags FlagOverrides) {
	if flags.SocketPath != nil {
		cfg.SocketPath = *flags.SocketPath
		cfg.Transport = "unix"
	}
	if flags.HTTPBind != nil {
		cfg.HTTPBind = *flags.HTTPBind
	}
	if flags.TCPPort != nil {
		cfg.Transport = "tcp"
		cfg.TCPPort = *flags.TCPPort
	}
	if flags.WebDir != nil {
		cfg.WebDir = *flags.WebDir
	}
	if flags.Verbosity != nil {
		cfg.Verbosity = *flags.Verbosity
	}
	if flags.JSONLogs != nil {
		cfg.JSONLogs = *flags.JSONLogs
	}
}

// FlagOverrides carries only the flags the user explicitly set (nil means
// "not provided, defer to config/env/defaults").
type FlagOverrides struct {
	SocketPath *string
	HTTPBind   *string
	TCPPort    *int
	WebDir     *string
	Verbosity  *int
	JSONLogs   *bool
}
