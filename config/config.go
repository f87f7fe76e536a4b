// Package config loads service configuration from a YAML file plus
// PROMOFLASH_-prefixed environment overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds everything the promoflashd binary needs to wire the services.
type Config struct {
	// Redis connection.
	Redis struct {
		Addrs    []string `yaml:"addrs" mapstructure:"addrs"`
		Password string   `yaml:"password" mapstructure:"password"`
		DB       int      `yaml:"db" mapstructure:"db"`
	} `yaml:"redis" mapstructure:"redis"`

	// DatabaseDSN is the gorm DSN for the durable store.
	DatabaseDSN string `yaml:"databaseDSN" mapstructure:"databaseDSN"`

	Cache struct {
		NullTTL        time.Duration `yaml:"nullTTL" mapstructure:"nullTTL"`
		RebuildWorkers int           `yaml:"rebuildWorkers" mapstructure:"rebuildWorkers"`
		RebuildBacklog int           `yaml:"rebuildBacklog" mapstructure:"rebuildBacklog"`
		TTLJitter      float64       `yaml:"ttlJitter" mapstructure:"ttlJitter"`
	} `yaml:"cache" mapstructure:"cache"`

	Seckill struct {
		QueueSize      int           `yaml:"queueSize" mapstructure:"queueSize"`
		OrderLockTTL   time.Duration `yaml:"orderLockTTL" mapstructure:"orderLockTTL"`
		PersistTimeout time.Duration `yaml:"persistTimeout" mapstructure:"persistTimeout"`
	} `yaml:"seckill" mapstructure:"seckill"`

	// PrewarmShopIDs lists hot shops whose logical-expiry envelopes are
	// seeded at startup, before traffic reaches the hot read path.
	PrewarmShopIDs []int64 `yaml:"prewarmShopIDs" mapstructure:"prewarmShopIDs"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"logLevel" mapstructure:"logLevel"`
}

// Load reads the config file at path (optional: pass "" for defaults and env
// only) and applies environment overrides such as PROMOFLASH_REDIS_ADDRS and
// PROMOFLASH_DATABASEDSN.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PROMOFLASH")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("redis.addrs", []string{"127.0.0.1:6379"})
	v.SetDefault("databaseDSN", "file:promoflash.db?_fk=1")
	v.SetDefault("cache.nullTTL", 2*time.Minute)
	v.SetDefault("cache.rebuildWorkers", 10)
	v.SetDefault("cache.rebuildBacklog", 64)
	v.SetDefault("cache.ttlJitter", 0.1)
	v.SetDefault("seckill.queueSize", 1024)
	v.SetDefault("seckill.orderLockTTL", 20*time.Minute)
	v.SetDefault("seckill.persistTimeout", 10*time.Second)
	v.SetDefault("logLevel", "info")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %q: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if len(cfg.Redis.Addrs) == 0 {
		return nil, fmt.Errorf("config: at least one redis address is required")
	}
	return &cfg, nil
}
