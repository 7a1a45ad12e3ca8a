package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Cfg 全局可访问的配置实例
var Cfg *Config

// LoadConfig 从文件加载配置并填充到 Cfg，环境变量 PARLEY_* 覆盖文件配置
func LoadConfig() error {
	// .env 只用于本地开发，不存在时忽略
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.SetEnvPrefix("PARLEY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return err
	}

	Cfg = &cfg
	return nil
}

// Default 未加载配置文件时使用，例如测试
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 7350)
	v.SetDefault("server.mode", "release")
	v.SetDefault("remote.backend", BackendMemory)
	v.SetDefault("remote.timeout", 15*time.Second)
	v.SetDefault("session.secret", "parley-dev-secret")
	v.SetDefault("session.ttl", 72*time.Hour)
	v.SetDefault("database.max_idle", 5)
	v.SetDefault("database.max_open", 20)
	v.SetDefault("database.max_lifetime", 30)
	v.SetDefault("mongo.database", "parley")
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("kafka.topic", "parley-realtime")
	v.SetDefault("kafka.group_prefix", "parleyd")
	v.SetDefault("kafka.consumer.session_timeout", 10)
	v.SetDefault("kafka.consumer.heartbeat_interval", 3)
	v.SetDefault("sync.page_size", 25)
	v.SetDefault("sync.fresh_window", 15*time.Minute)
	v.SetDefault("sync.receipt_debounce", 300*time.Millisecond)
	v.SetDefault("sync.typing_ttl", 5*time.Second)
	v.SetDefault("sync.typing_interval", 2*time.Second)
	v.SetDefault("sync.reconcile_spec", "0 */5 * * * *")
	v.SetDefault("sync.orphan_sweep_spec", "0 0 * * * *")
	v.SetDefault("media.max_edge", 2048)
	v.SetDefault("media.quality", 80)
	v.SetDefault("media.thumb_edge", 320)
	v.SetDefault("media.upload_prefix", "chat")
	v.SetDefault("link_preview.timeout", 5*time.Second)
	v.SetDefault("link_preview.max_links", 3)
}

func (c *Config) validate() error {
	switch c.Remote.Backend {
	case BackendMemory:
	case BackendDB:
		if c.DB.DSN == "" || c.Mongo.URL == "" {
			return errors.New("db backend requires database.dsn and mongo.url")
		}
	case BackendHTTP:
		if c.Remote.BaseURL == "" {
			return errors.New("http backend requires remote.base_url")
		}
	default:
		return fmt.Errorf("unknown remote backend %q", c.Remote.Backend)
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		return errors.New("kafka.topic is required when kafka.brokers is set")
	}
	if c.Sync.PageSize <= 0 {
		return errors.New("sync.page_size must be positive")
	}
	return nil
}
