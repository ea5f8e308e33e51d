// Package config loads and validates the server's configuration
// document, generalizing the teacher's flat key/value checkAndParseConfig
// idiom onto a nested YAML document read through viper, with CLI flags
// via pflag able to override any key.
package config

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds a server's full configuration, superseding the teacher's
// flat Config struct with the nested sections SPEC_FULL.md's §6 external
// interfaces table requires (limits, listeners, opers, S2S links).
type Config struct {
	ListenHost string `mapstructure:"listen-host"`
	ListenPort string `mapstructure:"listen-port"`
	ServerName string `mapstructure:"server-name"`
	ServerInfo string `mapstructure:"server-info"`
	Version    string `mapstructure:"version"`
	Network    string `mapstructure:"network"`
	MOTD       string `mapstructure:"motd"`

	TS6SID string `mapstructure:"ts6-sid"`

	Limits Limits `mapstructure:"limits"`

	WakeupTime time.Duration `mapstructure:"wakeup-time"`
	PingTime   time.Duration `mapstructure:"ping-time"`
	DeadTime   time.Duration `mapstructure:"dead-time"`

	Opers map[string]string `mapstructure:"opers"`

	Links map[string]LinkConfig `mapstructure:"links"`

	CloakSecret string `mapstructure:"cloak-secret"`
	CloakSuffix string `mapstructure:"cloak-suffix"`

	MetricsListenAddr string `mapstructure:"metrics-listen-addr"`
}

// Limits holds the bounds named in §6's limits table.
type Limits struct {
	MaxNickLength       int           `mapstructure:"max-nick-length"`
	MaxChannelLength    int           `mapstructure:"max-channel-length"`
	MaxTopicLength      int           `mapstructure:"max-topic-length"`
	MaxChannels         int           `mapstructure:"max-channels"`
	MaxTargets          int           `mapstructure:"max-targets"`
	PingTimeout         time.Duration `mapstructure:"ping-timeout"`
	RegistrationTimeout time.Duration `mapstructure:"registration-timeout"`
}

// LinkConfig describes one configured peer server link.
type LinkConfig struct {
	Hostname    string `mapstructure:"hostname"`
	Port        string `mapstructure:"port"`
	SendPass    string `mapstructure:"send-password"`
	ReceivePass string `mapstructure:"receive-password"`
	TLS         bool   `mapstructure:"tls"`
	AutoConnect bool   `mapstructure:"auto-connect"`
}

var requiredKeys = []string{
	"listen-host",
	"listen-port",
	"server-name",
	"server-info",
	"version",
	"motd",
	"ts6-sid",
}

// Flags registers the CLI flags that can override configuration file
// values, mirroring the teacher's args.go -conf flag but generalized to
// one flag per overridable top-level key.
func Flags(fs *pflag.FlagSet) {
	fs.String("config", "", "path to the configuration file")
	fs.String("listen-host", "", "override listen-host")
	fs.String("listen-port", "", "override listen-port")
	fs.String("server-name", "", "override server-name")
}

// Load reads the configuration document at path (YAML) through viper,
// applies any flag overrides bound to fs, validates required keys are
// present per the teacher's checkAndParseConfig idiom, and returns the
// populated Config.
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrap(err, "reading configuration file")
	}

	if fs != nil {
		if err := v.BindPFlags(fs); err != nil {
			return nil, errors.Wrap(err, "binding flags")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshalling configuration")
	}

	if err := validate(v, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("limits.max-nick-length", 30)
	v.SetDefault("limits.max-channel-length", 50)
	v.SetDefault("limits.max-topic-length", 390)
	v.SetDefault("limits.max-channels", 50)
	v.SetDefault("limits.max-targets", 4)
	v.SetDefault("limits.ping-timeout", 90*time.Second)
	v.SetDefault("limits.registration-timeout", 60*time.Second)
	v.SetDefault("wakeup-time", 10*time.Second)
	v.SetDefault("ping-time", 90*time.Second)
	v.SetDefault("dead-time", 180*time.Second)
	v.SetDefault("cloak-suffix", "cloaked")
}

func validate(v *viper.Viper, cfg *Config) error {
	for _, key := range requiredKeys {
		if !v.IsSet(key) || v.GetString(key) == "" {
			return fmt.Errorf("missing required configuration key: %s", key)
		}
	}
	if len(cfg.TS6SID) != 3 {
		return fmt.Errorf("ts6-sid must be exactly 3 characters, got %q", cfg.TS6SID)
	}
	return nil
}
