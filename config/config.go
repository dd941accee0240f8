// Package config loads greetme settings from defaults, an optional YAML file,
// a .env file and GREETME_ environment variables, in increasing order of
// precedence. Command line flags bound to the same viper instance win over
// all of them.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/luca-patrignani/greetme/api"
	"github.com/luca-patrignani/greetme/ledger"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

const (
	EnvPrefix  = "GREETME"
	configName = "greetme"
)

type Config struct {
	API       APIConfig       `mapstructure:"api"`
	Store     StoreConfig     `mapstructure:"store"`
	Reward    RewardConfig    `mapstructure:"reward"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Log       LogConfig       `mapstructure:"log"`
	KeyFile   string          `mapstructure:"key_file"`
}

type APIConfig struct {
	// Addr is where serve listens.
	Addr string `mapstructure:"addr"`
	// URL is the server the client commands talk to.
	URL             string        `mapstructure:"url"`
	RateLimit       float64       `mapstructure:"rate_limit"`
	Burst           int           `mapstructure:"burst"`
	MaxTextLength   int           `mapstructure:"max_text_length"`
	MaxPageSize     int           `mapstructure:"max_page_size"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	TLS             bool          `mapstructure:"tls"`
	Insecure        bool          `mapstructure:"insecure"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StoreConfig selects the persistence backend. An empty driver keeps the
// ledger in memory.
type StoreConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type RewardConfig struct {
	PrizeAmount    string        `mapstructure:"prize_amount"`
	InitialBalance string        `mapstructure:"initial_balance"`
	Cooldown       time.Duration `mapstructure:"cooldown"`
	WinPercent     uint8         `mapstructure:"win_percent"`
	Seed           uint64        `mapstructure:"seed"`
}

type DiscoveryConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Name      string `mapstructure:"name"`
	Host      string `mapstructure:"host"`
	StartPort uint16 `mapstructure:"start_port"`
	EndPort   uint16 `mapstructure:"end_port"`
	Attempts  uint   `mapstructure:"attempts"`
}

// RedisConfig enables event publishing when Addr is set.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

func setDefaults(v *viper.Viper) {
	apiDefaults := api.DefaultConfig()
	rewardDefaults := ledger.DefaultRewardConfig()

	v.SetDefault("api.addr", apiDefaults.Addr)
	v.SetDefault("api.url", "http://"+apiDefaults.Addr)
	v.SetDefault("api.rate_limit", apiDefaults.RateLimit)
	v.SetDefault("api.burst", apiDefaults.Burst)
	v.SetDefault("api.max_text_length", apiDefaults.MaxTextLength)
	v.SetDefault("api.max_page_size", apiDefaults.MaxPageSize)
	v.SetDefault("api.allowed_origins", []string{})
	v.SetDefault("api.tls", false)
	v.SetDefault("api.insecure", false)
	v.SetDefault("api.shutdown_timeout", apiDefaults.ShutdownTimeout)

	v.SetDefault("store.driver", "")
	v.SetDefault("store.dsn", "")

	v.SetDefault("reward.prize_amount", rewardDefaults.PrizeAmount.String())
	v.SetDefault("reward.initial_balance", rewardDefaults.InitialBalance.String())
	v.SetDefault("reward.cooldown", rewardDefaults.CooldownPeriod)
	v.SetDefault("reward.win_percent", rewardDefaults.WinProbabilityPercent)
	v.SetDefault("reward.seed", rewardDefaults.Seed)

	v.SetDefault("discovery.enabled", false)
	v.SetDefault("discovery.name", "greetme")
	v.SetDefault("discovery.host", "localhost")
	v.SetDefault("discovery.start_port", 9000)
	v.SetDefault("discovery.end_port", 9010)
	v.SetDefault("discovery.attempts", 1)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.channel", "greetme:events")

	v.SetDefault("log.level", "info")
	v.SetDefault("key_file", "greetme-key.json")
}

// Load fills v and decodes it. When path is empty a greetme.yaml is looked up
// in the working directory and in $HOME/.greetme; a missing file is not an
// error.
func Load(v *viper.Viper, path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to read .env: %w", err)
	}

	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.greetme")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("viper failed to read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	return c, nil
}

// Ledger converts the reward section into a validated ledger configuration.
func (r RewardConfig) Ledger() (ledger.RewardConfig, error) {
	prize, err := decimal.NewFromString(r.PrizeAmount)
	if err != nil {
		return ledger.RewardConfig{}, fmt.Errorf("reward.prize_amount: %w", err)
	}
	balance, err := decimal.NewFromString(r.InitialBalance)
	if err != nil {
		return ledger.RewardConfig{}, fmt.Errorf("reward.initial_balance: %w", err)
	}
	cfg := ledger.RewardConfig{
		PrizeAmount:           prize,
		InitialBalance:        balance,
		CooldownPeriod:        r.Cooldown,
		WinProbabilityPercent: r.WinPercent,
		Seed:                  r.Seed,
	}
	return cfg, cfg.Validate()
}

// Server converts the api section into a server configuration.
func (a APIConfig) Server() api.Config {
	return api.Config{
		Addr:            a.Addr,
		RateLimit:       a.RateLimit,
		Burst:           a.Burst,
		MaxTextLength:   a.MaxTextLength,
		MaxPageSize:     a.MaxPageSize,
		AllowedOrigins:  a.AllowedOrigins,
		TLS:             a.TLS,
		ShutdownTimeout: a.ShutdownTimeout,
	}
}

// SlogLevel parses the configured level, falling back to info.
func (l LogConfig) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo
	}
	return level
}
