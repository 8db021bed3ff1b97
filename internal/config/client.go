package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var ErrMissingJoinConfig = errors.New("app_id and token are required")

// ClientConfig is the videoroom client configuration. The join parameters
// come from deployment configuration only.
type ClientConfig struct {
	AppID     string `mapstructure:"app_id"`
	Token     string `mapstructure:"token"`
	Channel   string `mapstructure:"channel"`
	UID       string `mapstructure:"uid"`
	Name      string `mapstructure:"name"`
	ServerURL string `mapstructure:"server_url"`

	Mode         string        `mapstructure:"mode"`
	Codec        string        `mapstructure:"codec"`
	StateTimeout time.Duration `mapstructure:"state_timeout"`
	ICEServers   []string      `mapstructure:"ice_servers"`

	LogLevel string `mapstructure:"log_level"`
	LogFile  string `mapstructure:"log_file"`

	VideoFile  string `mapstructure:"video_file"`
	AudioFile  string `mapstructure:"audio_file"`
	ScreenFile string `mapstructure:"screen_file"`
}

// ClientFlags defines the command line flags of videoroom.
func ClientFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("videoroom", pflag.ContinueOnError)
	fs.String("config", "", "config file (default config/client.<CONFIG_ENV>.yaml)")
	fs.String("channel", "", "channel to join")
	fs.String("server", "", "roomserver signaling url")
	fs.String("log-file", "", "write logs to this file")
	fs.String("log-level", "", "log level")
	fs.String("codec", "", "video codec: vp8, vp9 or h264")
	fs.String("name", "", "display name")
	return fs
}

// LoadClient parses args, reads the config file and applies VIDEOROOM_*
// environment overrides. Flags win over both.
func LoadClient(args []string) (*ClientConfig, error) {
	fs := ClientFlags()
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigType("yaml")
	fileName, _ := fs.GetString("config")
	if fileName == "" {
		fileName = fmt.Sprintf("config/client.%s.yaml", configEnv())
	}
	v.SetConfigFile(fileName)
	v.SetEnvPrefix("VIDEOROOM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("app_id", "")
	v.SetDefault("token", "")
	v.SetDefault("channel", "Test-Channel")
	v.SetDefault("uid", "")
	v.SetDefault("name", "")
	v.SetDefault("server_url", "ws://localhost:8080/api/ws/signal")
	v.SetDefault("mode", "rtc")
	v.SetDefault("codec", "vp8")
	v.SetDefault("state_timeout", "10s")
	v.SetDefault("ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("log_level", "info")
	v.SetDefault("log_file", "videoroom.log")
	v.SetDefault("video_file", "")
	v.SetDefault("audio_file", "")
	v.SetDefault("screen_file", "")

	for key, flag := range map[string]string{
		"channel":    "channel",
		"server_url": "server",
		"log_file":   "log-file",
		"log_level":  "log-level",
		"codec":      "codec",
		"name":       "name",
	} {
		if err := v.BindPFlag(key, fs.Lookup(flag)); err != nil {
			return nil, fmt.Errorf("bind flag %s: %w", flag, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("client config file not found, using defaults")
	}

	var cfg ClientConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.AppID == "" || cfg.Token == "" {
		return nil, ErrMissingJoinConfig
	}
	switch cfg.Codec {
	case "vp8", "vp9", "h264":
	default:
		return nil, fmt.Errorf("unsupported codec %q", cfg.Codec)
	}
	return &cfg, nil
}
