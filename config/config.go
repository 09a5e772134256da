package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/nightlife-social/livechat/globals"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	PersistenceSQLite   = "sqlite"
	PersistencePostgres = "postgres"
	PersistenceBuntDB   = "buntdb"

	RateLimitMemory = "memory"
	RateLimitRedis  = "redis"

	envPrefix = "LIVECHAT"
)

// Config is the global configuration object which is filled from defaults, the configuration file(s), the
// environment (LIVECHAT_*) and command-line flags.
type Config struct {
	LogLevel          string            `mapstructure:"log_level"`
	Addr              string            `mapstructure:"addr"`
	TransportConfig   TransportConfig   `mapstructure:"transport"`
	ReconnectConfig   ReconnectConfig   `mapstructure:"reconnect"`
	RateLimitConfig   RateLimitConfig   `mapstructure:"rate_limit"`
	TypingConfig      TypingConfig      `mapstructure:"typing"`
	HistoryConfig     HistoryConfig     `mapstructure:"history"`
	PersistenceConfig PersistenceConfig `mapstructure:"persistence"`
	AuthConfig        AuthConfig        `mapstructure:"auth"`
	ModerationConfig  ModerationConfig  `mapstructure:"moderation"`
	ShardConfig       ShardConfig       `mapstructure:"shard"`
}

// TransportConfig configures the websocket endpoint and its keepalive.
type TransportConfig struct {
	Path              string        `mapstructure:"path"`
	AllowedTransports []string      `mapstructure:"allowed_transports"`
	AllowedOrigins    []string      `mapstructure:"allowed_origins"`
	PingInterval      time.Duration `mapstructure:"ping_interval"`
	PongWait          time.Duration `mapstructure:"pong_wait"`
	WriteWait         time.Duration `mapstructure:"write_wait"`
	MaxMessageSize    int64         `mapstructure:"max_message_size"`
	SendBufferSize    int           `mapstructure:"send_buffer_size"`
}

// ReconnectConfig is handed to clients on connect; the server itself never reconnects.
type ReconnectConfig struct {
	Attempts int           `mapstructure:"attempts"`
	MinDelay time.Duration `mapstructure:"min_delay"`
	MaxDelay time.Duration `mapstructure:"max_delay"`
}

type RateLimitPolicyConfig struct {
	MaxMessages int           `mapstructure:"max_messages"`
	Window      time.Duration `mapstructure:"window"`
}

// RateLimitConfig selects the limiter backend and the per-role quotas.
type RateLimitConfig struct {
	Backend   string                `mapstructure:"backend"`
	RedisAddr string                `mapstructure:"redis_addr"`
	SweepSpec string                `mapstructure:"sweep_spec"`
	Default   RateLimitPolicyConfig `mapstructure:"default"`
	DJ        RateLimitPolicyConfig `mapstructure:"dj"`
	Admin     RateLimitPolicyConfig `mapstructure:"admin"`
}

type TypingConfig struct {
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
}

// HistoryConfig bounds the page size of the history read path.
type HistoryConfig struct {
	DefaultLimit int `mapstructure:"default_limit"`
	MaxLimit     int `mapstructure:"max_limit"`
}

// PersistenceConfig selects the message/user store. Type is one of sqlite, postgres or buntdb, the DSN is
// passed to the driver (a file name for sqlite and buntdb, ":memory:" works for both).
type PersistenceConfig struct {
	Type string `mapstructure:"type"`
	DSN  string `mapstructure:"dsn"`
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
	Issuer string `mapstructure:"issuer"`
}

// An OIDCConfig object configures an OpenID Connect provider that is used to authenticate users. Users provide
// an ID token and the name of the provider, the authentication is then performed via verification of the token.
type OIDCConfig struct {
	Name        string `mapstructure:"name"`
	ClientId    string `mapstructure:"client_id"`
	ProviderUrl string `mapstructure:"provider_url"` // f.e. "https://accounts.google.com"
}

type AuthConfig struct {
	JWT             JWTConfig    `mapstructure:"jwt"`
	OIDCConfigs     []OIDCConfig `mapstructure:"oidc"`
	CacheSize       int          `mapstructure:"cache_size"`
	DefaultProvider string       `mapstructure:"default_provider"`
}

// ModerationConfig holds the expression deciding whether an actor may mute a target.
type ModerationConfig struct {
	Policy string `mapstructure:"policy"`
}

type ShardConfig struct {
	LockPath string `mapstructure:"lock_path"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "INFO")
	v.SetDefault("addr", ":8000")
	v.SetDefault("transport.path", "/api/socketio")
	v.SetDefault("transport.allowed_transports", []string{"websocket"})
	v.SetDefault("transport.allowed_origins", []string{"*"})
	v.SetDefault("transport.ping_interval", "50s")
	v.SetDefault("transport.pong_wait", "60s")
	v.SetDefault("transport.write_wait", "10s")
	v.SetDefault("transport.max_message_size", 8192)
	v.SetDefault("transport.send_buffer_size", 256)
	v.SetDefault("reconnect.attempts", 10)
	v.SetDefault("reconnect.min_delay", "1s")
	v.SetDefault("reconnect.max_delay", "5s")
	v.SetDefault("rate_limit.backend", RateLimitMemory)
	v.SetDefault("rate_limit.redis_addr", "localhost:6379")
	v.SetDefault("rate_limit.sweep_spec", "@every 1m")
	v.SetDefault("rate_limit.default.max_messages", 5)
	v.SetDefault("rate_limit.default.window", "5s")
	v.SetDefault("rate_limit.dj.max_messages", 10)
	v.SetDefault("rate_limit.dj.window", "5s")
	v.SetDefault("rate_limit.admin.max_messages", 20)
	v.SetDefault("rate_limit.admin.window", "5s")
	v.SetDefault("typing.idle_timeout", "4s")
	v.SetDefault("history.default_limit", 50)
	v.SetDefault("history.max_limit", 200)
	v.SetDefault("persistence.type", PersistenceSQLite)
	v.SetDefault("persistence.dsn", "livechat.db")
	v.SetDefault("auth.cache_size", 1024)
	v.SetDefault("auth.default_provider", "jwt")
	v.SetDefault("auth.jwt.issuer", "livechat")
}

// Default returns the configuration without any file, environment or flags applied.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg := Config{}
	if err := unmarshal(v, &cfg); err != nil {
		panic(err)
	}
	return &cfg
}

func GetFlagSet() *pflag.FlagSet {
	flagSet := pflag.NewFlagSet("configuration", pflag.ContinueOnError)
	flagSet.SetNormalizeFunc(wordSepNormalizeFunc)
	flagSet.String("addr", "", "address to listen on, f.e. :8000")
	flagSet.String("log-level", "", "log level (TRACE, DEBUG, INFO, WARN, ERROR)")
	return flagSet
}

// wordSepNormalizeFunc allows for normalization of the flag names (which use - as a separator)
func wordSepNormalizeFunc(f *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.Replace(name, "-", "_", -1))
}

// ReadConfiguration reads and parses the configuration located at configPath, which can either point to a single TOML
// file or to a directory, in which case all *.toml files in this directory are concatenated. It returns a Config
// object.
func ReadConfiguration(configPath string, flagSet *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	if flagSet != nil {
		flagSet.SetNormalizeFunc(wordSepNormalizeFunc)
		flagSet.VisitAll(func(f *pflag.Flag) {
			// only flags explicitly set override the file
			if f.Changed {
				if err := v.BindPFlag(f.Name, f); err != nil {
					globals.AppLogger.Error("could not bind flag (ignored)", "flag", f.Name, "error", err)
				}
			}
		})
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
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
			fileContents, err := os.ReadFile(configFile)
			if err != nil {
				return nil, err
			}
			contents = append(contents, fileContents...)
			contents = append(contents, '\n')
		}
		v.SetConfigType("toml")
		if err := v.ReadConfig(bytes.NewBuffer(contents)); err != nil {
			return nil, fmt.Errorf("could not read config: %w", err)
		}
	}
	cfg := Config{}
	if err := unmarshal(v, &cfg); err != nil {
		return nil, fmt.Errorf("could not unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	globals.AppLogger.Debug("config", "all", v.AllSettings())
	return &cfg, nil
}

func unmarshal(v *viper.Viper, cfg *Config) error {
	return v.Unmarshal(cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)))
}

// Validate rejects settings the chat core cannot run with.
func (c *Config) Validate() error {
	for name, p := range map[string]RateLimitPolicyConfig{
		"default": c.RateLimitConfig.Default,
		"dj":      c.RateLimitConfig.DJ,
		"admin":   c.RateLimitConfig.Admin,
	} {
		if p.MaxMessages <= 0 || p.Window <= 0 {
			return fmt.Errorf("rate_limit.%s: max_messages and window must be positive", name)
		}
	}
	switch c.RateLimitConfig.Backend {
	case RateLimitMemory, RateLimitRedis:
	default:
		return fmt.Errorf("rate_limit.backend: unknown backend %q", c.RateLimitConfig.Backend)
	}
	switch c.PersistenceConfig.Type {
	case PersistenceSQLite, PersistencePostgres, PersistenceBuntDB:
	default:
		return fmt.Errorf("persistence.type: unknown type %q", c.PersistenceConfig.Type)
	}
	if c.TypingConfig.IdleTimeout <= 0 {
		return fmt.Errorf("typing.idle_timeout must be positive")
	}
	if c.HistoryConfig.DefaultLimit <= 0 || c.HistoryConfig.MaxLimit < c.HistoryConfig.DefaultLimit {
		return fmt.Errorf("history: need 0 < default_limit <= max_limit")
	}
	if !strings.HasPrefix(c.TransportConfig.Path, "/") {
		return fmt.Errorf("transport.path must start with /")
	}
	if c.TransportConfig.SendBufferSize <= 0 {
		return fmt.Errorf("transport.send_buffer_size must be positive")
	}
	return nil
}
