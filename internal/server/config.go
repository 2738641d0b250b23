package server

import (
	"errors"
	"fmt"

	"github.com/spf13/viper"

	"github.com/sekia-ai/gleanrelay/internal/secrets"
	"github.com/sekia-ai/gleanrelay/pkg/protocol"
	"github.com/sekia-ai/gleanrelay/pkg/sockpath"
)

// Config is the top-level daemon configuration.
type Config struct {
	Glean    GleanConfig    `mapstructure:"glean"`
	Server   ServerConfig   `mapstructure:"server"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Log      LogConfig      `mapstructure:"log"`
	Security SecurityConfig `mapstructure:"security"`
	Reload   ReloadConfig   `mapstructure:"config"`

	// File is the config file that was read, empty when running on
	// defaults and environment only.
	File string `mapstructure:"-"`
}

// GleanConfig is the identity stamped on every record.
type GleanConfig struct {
	ApplicationID     string `mapstructure:"application_id"`
	AppDisplayVersion string `mapstructure:"app_display_version"`
	Channel           string `mapstructure:"channel"`
}

// ServerConfig holds control socket settings.
type ServerConfig struct {
	Socket string `mapstructure:"socket"`
}

// NATSConfig selects the embedded server or an external one.
type NATSConfig struct {
	Embedded bool   `mapstructure:"embedded"`
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Token    string `mapstructure:"token"`
	Subject  string `mapstructure:"subject"`
}

// MetricsConfig holds the Prometheus listener. Empty Listen disables it.
type MetricsConfig struct {
	Listen string `mapstructure:"listen"`
}

// LogConfig controls diagnostic logging on stderr.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SecurityConfig holds application-level security settings.
type SecurityConfig struct {
	EventSecret string `mapstructure:"event_secret"`
}

// ReloadConfig controls watching the config file for identity changes.
type ReloadConfig struct {
	Watch bool `mapstructure:"watch"`
}

// Identity returns the reload view of the glean identity.
func (g GleanConfig) Identity() protocol.ReloadResponse {
	return protocol.ReloadResponse{
		ApplicationID:     g.ApplicationID,
		AppDisplayVersion: g.AppDisplayVersion,
		Channel:           g.Channel,
	}
}

// LoadConfig reads configuration from file and env. An explicit cfgFile must
// exist; otherwise the search path is optional.
func LoadConfig(cfgFile string) (Config, error) {
	v := viper.New()

	v.SetDefault("glean.channel", "local")
	v.SetDefault("server.socket", sockpath.DefaultSocketPath())
	v.SetDefault("nats.embedded", true)
	v.SetDefault("nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("nats.subject", protocol.SubjectAllEvents)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("config.watch", true)

	v.SetConfigType("toml")

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("gleanrelay")
		v.AddConfigPath("/etc/gleanrelay")
		v.AddConfigPath("$HOME/.config/gleanrelay")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("GLEANRELAY")
	v.AutomaticEnv()

	v.BindEnv("glean.application_id", "GLEANRELAY_APPLICATION_ID")
	v.BindEnv("glean.app_display_version", "GLEANRELAY_APP_DISPLAY_VERSION")
	v.BindEnv("glean.channel", "GLEANRELAY_CHANNEL")
	v.BindEnv("nats.token", "GLEANRELAY_NATS_TOKEN")
	v.BindEnv("security.event_secret", "GLEANRELAY_EVENT_SECRET")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	if err := secrets.DecryptConfig(v); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}
	cfg.File = v.ConfigFileUsed()

	if cfg.Glean.ApplicationID == "" {
		return cfg, errors.New("glean.application_id is required")
	}
	if !cfg.NATS.Embedded && cfg.NATS.URL == "" {
		return cfg, errors.New("nats.url is required when nats.embedded is false")
	}
	return cfg, nil
}
