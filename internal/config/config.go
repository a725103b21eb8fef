package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode        string        `mapstructure:"mode"`
	Port        int           `mapstructure:"port"`
	ReadLimit   int64         `mapstructure:"read_limit"`
	PingPeriod  time.Duration `mapstructure:"ping_period"`
	Secret      string        `mapstructure:"secret"`
	StoreDriver string        `mapstructure:"store_driver"`
	StoreDSN    string        `mapstructure:"store_dsn"`
	LogLevel    string        `mapstructure:"log_level"`

	// to-device messages per sender per interval; 0 disables the limit
	ToDeviceLimit    int           `mapstructure:"to_device_limit"`
	ToDeviceInterval time.Duration `mapstructure:"to_device_interval"`

	ServerURL  string   `mapstructure:"server_url"`
	ICEServers []string `mapstructure:"ice_servers"`

	Presence  PresenceConfig  `mapstructure:"presence"`
	Signaling SignalingConfig `mapstructure:"signaling"`
	Peer      PeerConfig      `mapstructure:"peer"`
	Channel   ChannelConfig   `mapstructure:"channel"`
}

type PresenceConfig struct {
	Timeout         time.Duration `mapstructure:"timeout"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

type SignalingConfig struct {
	ReplayWindow time.Duration `mapstructure:"replay_window"`
}

type PeerConfig struct {
	CandidateBatchWindow time.Duration `mapstructure:"candidate_batch_window"`
	StatsInterval        time.Duration `mapstructure:"stats_interval"`
	ChannelLabel         string        `mapstructure:"channel_label"`
}

type ChannelConfig struct {
	VisibilityTimeout time.Duration `mapstructure:"visibility_timeout"`
}

// Level parses LogLevel, falling back to info.
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || c.LogLevel == "" {
		return zerolog.InfoLevel
	}
	return lvl
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("read_limit", 65536)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("secret", "board-dev-secret")
	v.SetDefault("store_driver", "memory")
	v.SetDefault("store_dsn", "file:board.db?_busy_timeout=5000")
	v.SetDefault("log_level", "info")
	v.SetDefault("to_device_limit", 200)
	v.SetDefault("to_device_interval", "1s")

	v.SetDefault("server_url", "ws://localhost:8080/api/ws")
	v.SetDefault("ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("presence.timeout", "60s")
	v.SetDefault("presence.cleanup_interval", "10s")
	v.SetDefault("signaling.replay_window", "10s")
	v.SetDefault("peer.candidate_batch_window", "500ms")
	v.SetDefault("peer.stats_interval", "1s")
	v.SetDefault("peer.channel_label", "whiteboard-v1")
	v.SetDefault("channel.visibility_timeout", "30s")
}

// Load reads config/config.<CONFIG_ENV>.yaml (dev by default). BOARD_*
// environment variables override file values, with dots in keys written as
// underscores (BOARD_PEER_STATS_INTERVAL).
func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

// LoadFile is Load with an explicit path. A missing file is not an error.
func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)
	v.SetEnvPrefix("BOARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.StoreDriver != "memory" && cfg.StoreDriver != "sqlite" {
		return nil, fmt.Errorf("unknown store_driver %q", cfg.StoreDriver)
	}
	log.Debug().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Str("store", cfg.StoreDriver).Msg("config")
	return &cfg, nil
}
