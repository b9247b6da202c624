package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dkeye/voicecall/internal/domain"
	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Mode     string `mapstructure:"mode"`
	Port     int    `mapstructure:"port"`
	Secret   string `mapstructure:"secret"`
	LogLevel string `mapstructure:"log_level"`
	SelfID   string `mapstructure:"self_id"`

	Gateway       GatewayConfig      `mapstructure:"gateway"`
	Relay         RelayConfig        `mapstructure:"relay"`
	Call          CallConfig         `mapstructure:"call"`
	ICEServers    []ICEServer        `mapstructure:"ice_servers"`
	Notifications NotificationConfig `mapstructure:"notifications"`
}

type GatewayConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type RelayConfig struct {
	URL          string        `mapstructure:"url"`
	PingPeriod   time.Duration `mapstructure:"ping_period"`
	ReadLimit    int64         `mapstructure:"read_limit"`
	ReconnectMin time.Duration `mapstructure:"reconnect_min"`
	ReconnectMax time.Duration `mapstructure:"reconnect_max"`
}

type CallConfig struct {
	RingOutTimeout time.Duration `mapstructure:"ring_out_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type ICEServer struct {
	URLs       []string `mapstructure:"urls"`
	Username   string   `mapstructure:"username"`
	Credential string   `mapstructure:"credential"`
}

type NotificationConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	SoundEnabled  bool `mapstructure:"sound_enabled"`
	SoundVolume   int  `mapstructure:"sound_volume"`
	DesktopAlerts bool `mapstructure:"desktop_alerts"`
	Nudge         bool `mapstructure:"nudge"`
}

// Source is one config file plus environment overrides.
type Source struct {
	v    *viper.Viper
	file string

	mu    sync.Mutex
	found bool
}

// DefaultFile is config/config.<CONFIG_ENV>.yaml, env defaulting to dev.
func DefaultFile() string {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return fmt.Sprintf("config/config.%s.yaml", env)
}

func Load() (*Config, error) {
	return OpenFile(DefaultFile()).Load()
}

func OpenFile(fileName string) *Source {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("VOICECALL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("secret", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("self_id", "")

	v.SetDefault("gateway.base_url", "")
	v.SetDefault("gateway.token", "")
	v.SetDefault("gateway.timeout", "10s")

	v.SetDefault("relay.url", "")
	v.SetDefault("relay.ping_period", "54s")
	v.SetDefault("relay.read_limit", 32768)
	v.SetDefault("relay.reconnect_min", "500ms")
	v.SetDefault("relay.reconnect_max", "30s")

	v.SetDefault("call.ring_out_timeout", "60s")
	v.SetDefault("call.request_timeout", "10s")

	v.SetDefault("ice_servers", []map[string]any{
		{"urls": []string{"stun:stun.l.google.com:19302"}},
	})

	v.SetDefault("notifications.enabled", true)
	v.SetDefault("notifications.sound_enabled", true)
	v.SetDefault("notifications.sound_volume", 80)
	v.SetDefault("notifications.desktop_alerts", true)
	v.SetDefault("notifications.nudge", true)

	return &Source{v: v, file: fileName}
}

// Load reads the file if present. A missing file leaves defaults and env.
func (s *Source) Load() (*Config, error) {
	logger := log.With().Str("module", "config").Str("file", s.file).Logger()
	s.mu.Lock()
	if err := s.v.ReadInConfig(); err != nil {
		s.found = false
		logger.Warn().Err(err).Msg("config file not read, using defaults")
	} else {
		s.found = true
		logger.Info().Msg("loaded config")
	}
	s.mu.Unlock()

	cfg, err := s.decode()
	if err != nil {
		return nil, err
	}
	if cfg.Secret == "" {
		cfg.Secret = uuid.NewString()
		logger.Warn().Msg("no secret configured, sessions last for this run only")
	}
	logger.Info().
		Str("mode", cfg.Mode).
		Int("port", cfg.Port).
		Str("self_id", cfg.SelfID).
		Str("gateway", cfg.Gateway.BaseURL).
		Str("relay", cfg.Relay.URL).
		Msg("config ready")
	return cfg, nil
}

func (s *Source) decode() (*Config, error) {
	var cfg Config
	if err := s.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Watch calls onChange with each valid rewrite of the file. Invalid
// rewrites are logged and skipped.
func (s *Source) Watch(onChange func(*Config)) {
	s.mu.Lock()
	found := s.found
	s.mu.Unlock()
	if !found {
		log.Warn().Str("module", "config").Str("file", s.file).Msg("no config file to watch")
		return
	}
	s.v.OnConfigChange(func(e fsnotify.Event) {
		logger := log.With().Str("module", "config").Str("file", e.Name).Str("op", e.Op.String()).Logger()
		cfg, err := s.decode()
		if err != nil {
			logger.Warn().Err(err).Msg("config change ignored")
			return
		}
		logger.Info().Msg("config reloaded")
		onChange(cfg)
	})
	s.v.WatchConfig()
}

func (c *Config) validate() error {
	if _, err := domain.ParseUserID(c.SelfID); err != nil {
		return fmt.Errorf("%w: self_id: %w", ErrInvalidConfig, err)
	}
	if c.Gateway.BaseURL == "" {
		return fmt.Errorf("%w: gateway.base_url is required", ErrInvalidConfig)
	}
	base, err := url.Parse(c.Gateway.BaseURL)
	if err != nil || base.Host == "" {
		return fmt.Errorf("%w: gateway.base_url %q", ErrInvalidConfig, c.Gateway.BaseURL)
	}
	if c.Relay.URL == "" {
		c.Relay.URL = relayURLFor(base)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d", ErrInvalidConfig, c.Port)
	}
	if c.Call.RingOutTimeout <= 0 || c.Call.RequestTimeout <= 0 {
		return fmt.Errorf("%w: call timeouts must be positive", ErrInvalidConfig)
	}
	return nil
}

// relayURLFor derives the event stream endpoint from the gateway base URL.
func relayURLFor(base *url.URL) string {
	u := *base
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String()
}
