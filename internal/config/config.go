// Package config loads service configuration from an optional YAML file,
// an optional .env file and BETS_-prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"
	_ "time/tzdata" // wager.timezone must resolve in minimal images

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Cron     CronConfig     `mapstructure:"cron"`
	Wager    WagerConfig    `mapstructure:"wager"`
	Seed     SeedConfig     `mapstructure:"seed"`
}

type AppConfig struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigin   string        `mapstructure:"allowed_origin"`
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
}

// DatabaseConfig selects the PostgreSQL store. An empty URL means the
// in-memory store.
type DatabaseConfig struct {
	URL          string `mapstructure:"url"`
	MaxConns     int32  `mapstructure:"max_conns"`
	EnsureSchema bool   `mapstructure:"ensure_schema"`
}

type RedisConfig struct {
	URL      string        `mapstructure:"url"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
	Channel  string        `mapstructure:"channel"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type CronConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Rollover string `mapstructure:"rollover"`
}

type WagerConfig struct {
	StartingBalance  int64         `mapstructure:"starting_balance"`
	DailyBonus       int64         `mapstructure:"daily_bonus"`
	DefaultAvatar    string        `mapstructure:"default_avatar"`
	AllowSelfResolve bool          `mapstructure:"allow_self_resolve"`
	PayoutsEnabled   bool          `mapstructure:"payouts_enabled"`
	StoreTimeout     time.Duration `mapstructure:"store_timeout"`
	Timezone         string        `mapstructure:"timezone"`
}

type SeedConfig struct {
	Enabled bool       `mapstructure:"enabled"`
	Prize   string     `mapstructure:"prize"`
	Users   []SeedUser `mapstructure:"users"`
}

type SeedUser struct {
	Name   string `mapstructure:"name"`
	Avatar string `mapstructure:"avatar"`
}

// Load reads configuration. path may be empty, in which case only defaults,
// .env and the environment are used.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("BETS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unprefixed names the deployment already exports.
	_ = v.BindEnv("server.port", "BETS_SERVER_PORT", "PORT")
	_ = v.BindEnv("database.url", "BETS_DATABASE_URL", "DATABASE_URL")
	_ = v.BindEnv("redis.url", "BETS_REDIS_URL", "REDIS_URL")

	v.SetDefault("app.name", "bet-engine")
	v.SetDefault("app.env", "dev")
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("server.request_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "5s")
	v.SetDefault("server.allowed_origin", "*")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "json")
	v.SetDefault("log.development", false)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)
	v.SetDefault("database.url", "")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.ensure_schema", true)
	v.SetDefault("redis.url", "")
	v.SetDefault("redis.cache_ttl", "30s")
	v.SetDefault("redis.channel", "bets:changes")
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "bet-events")
	v.SetDefault("cron.enabled", true)
	v.SetDefault("cron.rollover", "0 */5 * * * *")
	v.SetDefault("wager.starting_balance", 100)
	v.SetDefault("wager.daily_bonus", 0)
	v.SetDefault("wager.default_avatar", "👤")
	v.SetDefault("wager.allow_self_resolve", false)
	v.SetDefault("wager.payouts_enabled", true)
	v.SetDefault("wager.store_timeout", "2s")
	v.SetDefault("wager.timezone", "UTC")
	v.SetDefault("seed.enabled", true)
	v.SetDefault("seed.prize", "Una caguama bien fría 🍺")
	v.SetDefault("seed.users", []map[string]any{
		{"name": "Eduardo", "avatar": "😎"},
		{"name": "Sofia", "avatar": "👩‍🎤"},
		{"name": "Diego", "avatar": "🧢"},
		{"name": "Ana", "avatar": "🌺"},
	})

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail at first use.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port == "" {
		errs = append(errs, errors.New("server.port is required"))
	}
	if c.Wager.StartingBalance < 0 {
		errs = append(errs, fmt.Errorf("wager.starting_balance must be >= 0, got %d", c.Wager.StartingBalance))
	}
	if c.Wager.DailyBonus < 0 {
		errs = append(errs, fmt.Errorf("wager.daily_bonus must be >= 0, got %d", c.Wager.DailyBonus))
	}
	if c.Wager.StoreTimeout <= 0 {
		errs = append(errs, errors.New("wager.store_timeout must be positive"))
	}
	if _, err := time.LoadLocation(c.Wager.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("wager.timezone: %w", err))
	}
	if c.Cron.Enabled && c.Cron.Rollover == "" {
		errs = append(errs, errors.New("cron.rollover is required when cron is enabled"))
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		errs = append(errs, errors.New("kafka.topic is required when brokers are set"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Location returns the time zone periods and daily bonuses are computed in.
func (c WagerConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
