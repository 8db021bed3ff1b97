// Package config loads roomserver and videoroom settings with viper.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config is the roomserver configuration.
type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	LogLevel   string        `mapstructure:"log_level"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	// Secret signs the session cookies.
	Secret string `mapstructure:"secret"`

	AppID       string   `mapstructure:"app_id"`
	TokenSecret string   `mapstructure:"token_secret"`
	ICEServers  []string `mapstructure:"ice_servers"`

	MessagesPerSecond float64       `mapstructure:"messages_per_second"`
	MessageBurst      int           `mapstructure:"message_burst"`
	JoinLimit         int           `mapstructure:"join_limit"`
	JoinInterval      time.Duration `mapstructure:"join_interval"`
}

func configEnv() string {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return env
}

// Load reads config/config.<CONFIG_ENV>.yaml (dev by default). ROOMSERVER_*
// environment variables override file values.
func Load() (*Config, error) {
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", configEnv()))
}

// LoadFile is Load with an explicit file. A missing file is not an error.
func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)
	v.SetEnvPrefix("ROOMSERVER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("read_limit", 65536)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("secret", "")
	v.SetDefault("app_id", "")
	v.SetDefault("token_secret", "")
	v.SetDefault("ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("messages_per_second", 20)
	v.SetDefault("message_burst", 40)
	v.SetDefault("join_limit", 5)
	v.SetDefault("join_interval", "1m")

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.TokenSecret == "" {
		return nil, fmt.Errorf("token_secret is required")
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Str("app_id", cfg.AppID).Msg("server config")
	return &cfg, nil
}
