package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

//go:embed defaults.yaml
var defaults []byte

// EnvPrefix prefixes every environment override, e.g. LIFECYCLE_MYSQL_DSN.
const EnvPrefix = "LIFECYCLE"

// ---- Root ----

type Config struct {
	HTTP       HTTPConfig      `mapstructure:"http"`
	Log        LogConfig       `mapstructure:"log"`
	Metrics    MetricsConfig   `mapstructure:"metrics"`
	MySQL      DatabaseConfig  `mapstructure:"mysql"`
	ClickHouse DatabaseConfig  `mapstructure:"clickhouse"`
	Redis      RedisConfig     `mapstructure:"redis"`
	Broker     BrokerConfig    `mapstructure:"broker"`
	Relay      RelayConfig     `mapstructure:"relay"`
	Consumer   ConsumerConfig  `mapstructure:"consumer"`
	RateLimit  RateLimitConfig `mapstructure:"rate_limit"`
	Directory  DirectoryConfig `mapstructure:"directory"`
}

// ---- Leaf structs ----

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Level    string `mapstructure:"level"`
	Encoding string `mapstructure:"encoding"` // json | console
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"` // workers only; serve exposes /metrics on http.addr
}

type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idletime"`
	PingTimeout     time.Duration `mapstructure:"ping_timeout"`
}

func (c DatabaseConfig) Enabled() bool { return strings.TrimSpace(c.DSN) != "" }

type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	WakeChannel string        `mapstructure:"wake_channel"`
}

func (c RedisConfig) Enabled() bool { return strings.TrimSpace(c.Addr) != "" }

type BrokerConfig struct {
	Driver   string         `mapstructure:"driver"` // kafka | rabbitmq
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	RabbitMQ RabbitMQConfig `mapstructure:"rabbitmq"`
}

type KafkaConfig struct {
	Brokers        []string      `mapstructure:"brokers"`
	Topic          string        `mapstructure:"topic"`
	GroupID        string        `mapstructure:"group_id"`
	MinBytes       int           `mapstructure:"min_bytes"`
	MaxBytes       int           `mapstructure:"max_bytes"`
	CommitInterval int           `mapstructure:"commit_interval_ms"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
}

type RabbitMQConfig struct {
	URL           string `mapstructure:"url"`
	Exchange      string `mapstructure:"exchange"`
	Queue         string `mapstructure:"queue"`
	PrefetchCount int    `mapstructure:"prefetch_count"`
}

type BreakerConfig struct {
	FailThreshold int           `mapstructure:"fail_threshold"`
	OpenFor       time.Duration `mapstructure:"open_for"`
}

type BackoffConfig struct {
	Base   time.Duration `mapstructure:"base"`
	Factor float64       `mapstructure:"factor"`
	Cap    time.Duration `mapstructure:"cap"`
}

type RelayConfig struct {
	Workers        int           `mapstructure:"workers"`
	BatchSize      int           `mapstructure:"batch_size"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	PublishTimeout time.Duration `mapstructure:"publish_timeout"`
	ClaimLease     time.Duration `mapstructure:"claim_lease"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	Backoff        BackoffConfig `mapstructure:"backoff"`
	Breaker        BreakerConfig `mapstructure:"breaker"`
}

type ConsumerConfig struct {
	Workers          int           `mapstructure:"workers"`
	RetryMaxInterval time.Duration `mapstructure:"retry_max_interval"`
	AuditBatchSize   int           `mapstructure:"audit_batch_size"`
	AuditBatchWait   time.Duration `mapstructure:"audit_batch_wait"`
}

type RateLimitConfig struct {
	RPS int `mapstructure:"rps"`
}

type DirectoryConfig struct {
	BaseURL string        `mapstructure:"base_url"` // empty disables the employee check
	Timeout time.Duration `mapstructure:"timeout"`
	Breaker BreakerConfig `mapstructure:"breaker"`
}

// Load reads embedded defaults, merges user YAML (if the file exists), and applies env overrides (LIFECYCLE_*).
func Load(path string) (Config, error) {
	v := viper.New()

	// embedded defaults
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return Config{}, fmt.Errorf("read defaults: %w", err)
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.MergeInConfig(); err != nil {
				return Config{}, fmt.Errorf("merge %s: %w", path, err)
			}
		}
	}

	// env override (LIFECYCLE_*), nested keys use "_" (LIFECYCLE_RELAY_MAX_ATTEMPTS)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Broker.Driver {
	case "kafka", "rabbitmq":
	default:
		return fmt.Errorf("config: unknown broker.driver %q", c.Broker.Driver)
	}
	if c.Relay.MaxAttempts < 1 {
		return fmt.Errorf("config: relay.max_attempts must be >= 1")
	}
	if c.Relay.Backoff.Factor < 1 {
		return fmt.Errorf("config: relay.backoff.factor must be >= 1")
	}
	// a lease that can expire mid-publish lets another worker resend the row
	if c.Relay.ClaimLease > 0 && c.Relay.ClaimLease <= c.Relay.PublishTimeout {
		return fmt.Errorf("config: relay.claim_lease (%s) must exceed relay.publish_timeout (%s)",
			c.Relay.ClaimLease, c.Relay.PublishTimeout)
	}
	return nil
}
