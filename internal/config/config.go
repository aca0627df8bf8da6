package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const EnvPrefix = "BOARDLY"

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	StaticPath string        `mapstructure:"static_path"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`

	Log        LogConfig       `mapstructure:"log"`
	Session    SessionConfig   `mapstructure:"session"`
	Broadcast  BroadcastConfig `mapstructure:"broadcast"`
	JoinRate   RateConfig      `mapstructure:"join_rate"`
	ICEServers []ICEServer     `mapstructure:"ice_servers"`
	Store      StoreConfig     `mapstructure:"store"`
	Deepgram   DeepgramConfig  `mapstructure:"deepgram"`
	AMQP       AMQPConfig      `mapstructure:"amqp"`
	Rollbar    RollbarConfig   `mapstructure:"rollbar"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type SessionConfig struct {
	Timeout       time.Duration `mapstructure:"timeout"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	EvictionGrace time.Duration `mapstructure:"eviction_grace"`
}

type BroadcastConfig struct {
	Grace       time.Duration `mapstructure:"grace"`
	StatusDelay time.Duration `mapstructure:"status_delay"`
}

type RateConfig struct {
	Limit    int           `mapstructure:"limit"`
	Interval time.Duration `mapstructure:"interval"`
}

type ICEServer struct {
	URLs       []string `mapstructure:"urls"`
	Username   string   `mapstructure:"username"`
	Credential string   `mapstructure:"credential"`
}

// StoreConfig selects the room store: memory, postgres or bolt.
type StoreConfig struct {
	Driver  string        `mapstructure:"driver"`
	DSN     string        `mapstructure:"dsn"`
	Path    string        `mapstructure:"path"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type DeepgramConfig struct {
	APIKey    string        `mapstructure:"api_key"`
	URL       string        `mapstructure:"url"`
	Model     string        `mapstructure:"model"`
	Language  string        `mapstructure:"language"`
	KeepAlive time.Duration `mapstructure:"keepalive"`
}

type AMQPConfig struct {
	URL      string `mapstructure:"url"`
	Exchange string `mapstructure:"exchange"`
}

type RollbarConfig struct {
	Token       string `mapstructure:"token"`
	Environment string `mapstructure:"environment"`
}

// flagKeys maps command line flags to config keys.
var flagKeys = map[string]string{
	"port":      "port",
	"mode":      "mode",
	"log-level": "log.level",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 65536)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("secret", "")

	v.SetDefault("log.level", "info")

	v.SetDefault("session.timeout", "30m")
	v.SetDefault("session.sweep_interval", "5m")
	v.SetDefault("session.eviction_grace", "200ms")
	v.SetDefault("broadcast.grace", "5s")
	v.SetDefault("broadcast.status_delay", "1s")
	v.SetDefault("join_rate.limit", 20)
	v.SetDefault("join_rate.interval", "10s")

	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.path", "./data/rooms.db")
	v.SetDefault("store.timeout", "3s")

	v.SetDefault("deepgram.api_key", "")
	v.SetDefault("deepgram.url", "wss://api.deepgram.com/v1/listen")
	v.SetDefault("deepgram.model", "nova-3")
	v.SetDefault("deepgram.language", "en-US")
	v.SetDefault("deepgram.keepalive", "8s")

	v.SetDefault("amqp.url", "")
	v.SetDefault("amqp.exchange", "boardly.sessions")

	v.SetDefault("rollbar.token", "")
	v.SetDefault("rollbar.environment", "")
}

// Env returns the config environment: the --config-env flag, then
// CONFIG_ENV, then "dev".
func Env(flags *pflag.FlagSet) string {
	if flags != nil {
		if f := flags.Lookup("config-env"); f != nil && f.Changed {
			return f.Value.String()
		}
	}
	if env := os.Getenv("CONFIG_ENV"); env != "" {
		return env
	}
	return "dev"
}

// Load reads config/.env.<env>, config/config.<env>.yaml, BOARDLY_*
// variables and flags, later sources winning.
func Load(flags *pflag.FlagSet) (*Config, error) {
	env := Env(flags)

	envFile := fmt.Sprintf("config/.env.%s", env)
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	fileName := fmt.Sprintf("config/config.%s.yaml", env)
	v.SetConfigFile(fileName)
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("env", env).Str("mode", cfg.Mode).Int("port", cfg.Port).
		Str("store", cfg.Store.Driver).Msg("config ready")
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	switch c.Mode {
	case "debug", "release", "test":
	default:
		return fmt.Errorf("invalid mode %q", c.Mode)
	}
	switch c.Store.Driver {
	case "memory":
	case "postgres":
		if c.Store.DSN == "" {
			return errors.New("store.dsn is required for the postgres store")
		}
	case "bolt":
		if c.Store.Path == "" {
			return errors.New("store.path is required for the bolt store")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Session.Timeout <= 0 {
		return errors.New("session.timeout must be positive")
	}
	return nil
}
