package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 应用配置
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Log         LogConfig         `mapstructure:"log"`
	Dispatcher  DispatcherConfig  `mapstructure:"dispatcher"`
	Events      EventsConfig      `mapstructure:"events"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Tracing     TracingConfig     `mapstructure:"tracing"`
	Sentry      SentryConfig      `mapstructure:"sentry"`
	Credentials CredentialsConfig `mapstructure:"credentials"`
	Publishers  PublishersConfig  `mapstructure:"publishers"`
}

type ServerConfig struct {
	Addr         string        `mapstructure:"addr" validate:"required"`
	Mode         string        `mapstructure:"mode" validate:"oneof=debug release test"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	Driver       string `mapstructure:"driver" validate:"oneof=postgres sqlite"`
	DSN          string `mapstructure:"dsn" validate:"required"`
	MaxOpenConns int    `mapstructure:"max_open_conns" validate:"gte=0"`
	MaxIdleConns int    `mapstructure:"max_idle_conns" validate:"gte=0"`
	AutoMigrate  bool   `mapstructure:"auto_migrate"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format" validate:"oneof=json console"`
}

// DispatcherConfig 调度器参数
type DispatcherConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	PollInterval   time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
	BatchLimit     int           `mapstructure:"batch_limit" validate:"gt=0"`
	Workers        int           `mapstructure:"workers" validate:"gt=0"`
	MaxAttempts    int           `mapstructure:"max_attempts" validate:"gt=0"`
	BackoffBase    time.Duration `mapstructure:"backoff_base" validate:"gt=0"`
	BackoffMax     time.Duration `mapstructure:"backoff_max" validate:"gtefield=BackoffBase"`
	PublishTimeout time.Duration `mapstructure:"publish_timeout" validate:"gt=0"`
	// StuckTimeout 必须大于 PublishTimeout
	StuckTimeout   time.Duration `mapstructure:"stuck_timeout" validate:"gt=0,gtfield=PublishTimeout"`
	WatchdogSpec   string        `mapstructure:"watchdog_spec" validate:"required"`
	HorizonDays    int           `mapstructure:"horizon_days" validate:"gt=0"`
}

type EventsConfig struct {
	RelayInterval time.Duration `mapstructure:"relay_interval" validate:"gt=0"`
	ClaimLimit    int           `mapstructure:"claim_limit" validate:"gt=0"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	Stream        string        `mapstructure:"stream"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret" validate:"required,min=16"`
	Issuer    string `mapstructure:"issuer"`
}

type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint" validate:"required_if=Enabled true"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio" validate:"gte=0,lte=1"`
}

type SentryConfig struct {
	DSN         string `mapstructure:"dsn"`
	Environment string `mapstructure:"environment"`
}

type CredentialsConfig struct {
	// SecretKey 32 字节十六进制，用于解密 OAuth token
	SecretKey string `mapstructure:"secret_key" validate:"required,len=64,hexadecimal"`
}

type PublishersConfig struct {
	RatePerSecond float64           `mapstructure:"rate_per_second" validate:"gt=0"`
	Burst         int               `mapstructure:"burst" validate:"gt=0"`
	Webhooks      map[string]string `mapstructure:"webhooks"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("dispatcher.enabled", true)
	v.SetDefault("dispatcher.poll_interval", 5*time.Second)
	v.SetDefault("dispatcher.batch_limit", 100)
	v.SetDefault("dispatcher.workers", 8)
	v.SetDefault("dispatcher.max_attempts", 5)
	v.SetDefault("dispatcher.backoff_base", 30*time.Second)
	v.SetDefault("dispatcher.backoff_max", time.Hour)
	v.SetDefault("dispatcher.publish_timeout", 15*time.Second)
	v.SetDefault("dispatcher.stuck_timeout", 10*time.Minute)
	v.SetDefault("dispatcher.watchdog_spec", "@every 1m")
	v.SetDefault("dispatcher.horizon_days", 90)

	v.SetDefault("events.relay_interval", time.Second)
	v.SetDefault("events.claim_limit", 128)
	v.SetDefault("events.stream", "schedule-events")

	v.SetDefault("auth.issuer", "publish-scheduler")

	v.SetDefault("tracing.service_name", "publish-scheduler")
	v.SetDefault("tracing.sample_ratio", 1.0)

	v.SetDefault("sentry.environment", "development")

	v.SetDefault("publishers.rate_per_second", 5.0)
	v.SetDefault("publishers.burst", 10)
}

// Load 读取配置：.env -> config.yaml -> PS_* 环境变量
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if file := os.Getenv("CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("PS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// 无默认值的键需要显式绑定，Unmarshal 才能读取到环境变量
	for _, key := range []string{"database.dsn", "auth.jwt_secret", "credentials.secret_key", "events.redis_addr", "tracing.endpoint", "sentry.dsn"} {
		_ = v.BindEnv(key)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 校验配置字段
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
