package config

import "time"

const (
	BackendMemory = "memory"
	BackendDB     = "db"
	BackendHTTP   = "http"
)

// Config 配置主体
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Remote      RemoteConfig      `mapstructure:"remote"`
	Session     SessionConfig     `mapstructure:"session"`
	DB          DBConfig          `mapstructure:"database"`
	Mongo       MongoConfig       `mapstructure:"mongo"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Kafka       KafkaConfig       `mapstructure:"kafka"`
	MinIO       MinIOConfig       `mapstructure:"minio"`
	Sync        SyncConfig        `mapstructure:"sync"`
	Media       MediaConfig       `mapstructure:"media"`
	LinkPreview LinkPreviewConfig `mapstructure:"link_preview"`
	LibPath     LibPathConfig     `mapstructure:"lib_path"`
	Logstash    LogstashConfig    `mapstructure:"logstash"`
}

// ServerConfig 本地桥接服务
type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// RemoteConfig 远端数据源，memory | db | http
type RemoteConfig struct {
	Backend string        `mapstructure:"backend"`
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type SessionConfig struct {
	Secret string        `mapstructure:"secret"`
	TTL    time.Duration `mapstructure:"ttl"`
}

// DBConfig 数据库配置
type DBConfig struct {
	DSN         string `mapstructure:"dsn"`
	MaxIdle     int    `mapstructure:"max_idle"`
	MaxOpen     int    `mapstructure:"max_open"`
	MaxLifetime int    `mapstructure:"max_lifetime"`
}

type MongoConfig struct {
	URL      string `mapstructure:"url"`
	Database string `mapstructure:"database"`
}

// RedisConfig 为空时推送通道退化为进程内实现
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// KafkaConfig 配置了 brokers 时推送通道优先走 Kafka
type KafkaConfig struct {
	Brokers     []string       `mapstructure:"brokers"`
	Topic       string         `mapstructure:"topic"`
	GroupPrefix string         `mapstructure:"group_prefix"`
	Sasl        SaslConfig     `mapstructure:"sasl"`
	Consumer    ConsumerConfig `mapstructure:"consumer"`
}

type SaslConfig struct {
	Enable   bool   `mapstructure:"enable"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type ConsumerConfig struct {
	SessionTimeout    int `mapstructure:"session_timeout"`
	HeartbeatInterval int `mapstructure:"heartbeat_interval"`
}

// MinIOConfig MinIO配置
type MinIOConfig struct {
	InternalEndpoint string `mapstructure:"internal_endpoint"`
	ExternalEndpoint string `mapstructure:"external_endpoint"`
	AccessKey        string `mapstructure:"access_key"`
	SecretKey        string `mapstructure:"secret_key"`
	MainBucket       string `mapstructure:"main_bucket"`
	InternalUseSSL   bool   `mapstructure:"internal_use_ssl"`
	ExternalUseSSL   bool   `mapstructure:"external_use_ssl"`
}

// SyncConfig 同步引擎参数
type SyncConfig struct {
	PageSize        int           `mapstructure:"page_size"`
	FreshWindow     time.Duration `mapstructure:"fresh_window"`
	ReceiptDebounce time.Duration `mapstructure:"receipt_debounce"`
	TypingTTL       time.Duration `mapstructure:"typing_ttl"`
	TypingInterval  time.Duration `mapstructure:"typing_interval"`
	ReconcileSpec   string        `mapstructure:"reconcile_spec"`
	OrphanSweepSpec string        `mapstructure:"orphan_sweep_spec"`
}

// MediaConfig 上传前的压缩参数
type MediaConfig struct {
	MaxEdge      int    `mapstructure:"max_edge"`
	Quality      int    `mapstructure:"quality"`
	ThumbEdge    int    `mapstructure:"thumb_edge"`
	UploadPrefix string `mapstructure:"upload_prefix"`
}

type LinkPreviewConfig struct {
	Timeout  time.Duration `mapstructure:"timeout"`
	MaxLinks int           `mapstructure:"max_links"`
	Proxy    string        `mapstructure:"proxy"`
}

// LibPathConfig 库路径
type LibPathConfig struct {
	FFmpeg string `mapstructure:"ffmpeg"`
}

type LogstashConfig struct {
	Address string `mapstructure:"address"`
	Index   string `mapstructure:"index"`
}
