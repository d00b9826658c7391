// Package config loads service settings from an optional YAML file, IDGATE_*
// environment variables and built-in defaults, in that order of precedence
// (environment wins).
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	// FileName is the config file base name searched for without --config.
	FileName = "idgate"
	// EnvPrefix prefixes every environment override, e.g. IDGATE_SERVER_ADDR.
	EnvPrefix = "IDGATE"
)

// OTP store backends.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Inference InferenceConfig `mapstructure:"inference"`
	OTP       OTPConfig       `mapstructure:"otp"`
	Mail      MailConfig      `mapstructure:"mail"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	Namespace string `mapstructure:"namespace"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Audience  string `mapstructure:"audience"`
}

type InferenceConfig struct {
	Addr           string        `mapstructure:"addr"`
	DialTimeout    time.Duration `mapstructure:"dial_timeout"`
	MaxConcurrency int           `mapstructure:"max_concurrency"`
	MatchThreshold float64       `mapstructure:"match_threshold"`
	Annotate       bool          `mapstructure:"annotate"`
	// EmbedderModel switches face embedding to a local ONNX model.
	EmbedderModel string `mapstructure:"embedder_model"`
	// ONNXLibrary is the path to the onnxruntime shared library.
	ONNXLibrary string `mapstructure:"onnx_library"`
}

type OTPConfig struct {
	Store string `mapstructure:"store"`
}

// MailConfig enables SMTP delivery when Host is set; otherwise messages are
// only logged.
type MailConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	From        string `mapstructure:"from"`
	Domain      string `mapstructure:"domain"`
	Institution string `mapstructure:"institution"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{Addr: ":8080", ShutdownTimeout: 15 * time.Second},
		Log:    LogConfig{Level: "info"},
		Database: DatabaseConfig{
			DSN:             "host=postgres user=postgres password=postgres dbname=idgate port=5432 sslmode=disable",
			MaxIdleConns:    5,
			MaxOpenConns:    10,
			ConnMaxLifetime: time.Hour,
		},
		Redis: RedisConfig{Addr: "redis:6379", Namespace: "idgate"},
		Auth:  AuthConfig{JWTSecret: "dev-secret"},
		Inference: InferenceConfig{
			Addr:           "inference:50051",
			DialTimeout:    5 * time.Second,
			MaxConcurrency: 4,
			MatchThreshold: 0.6,
			Annotate:       true,
		},
		OTP:  OTPConfig{Store: StoreMemory},
		Mail: MailConfig{Port: 587, Institution: "University"},
	}
}

// Load reads the configuration. An empty path searches for idgate.yaml in
// the working directory and /etc/idgate; a missing file is not an error then.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(FileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/idgate")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)

	v.SetDefault("log.level", d.Log.Level)

	v.SetDefault("database.dsn", d.Database.DSN)
	v.SetDefault("database.max_idle_conns", d.Database.MaxIdleConns)
	v.SetDefault("database.max_open_conns", d.Database.MaxOpenConns)
	v.SetDefault("database.conn_max_lifetime", d.Database.ConnMaxLifetime)

	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("redis.namespace", d.Redis.Namespace)

	v.SetDefault("auth.jwt_secret", d.Auth.JWTSecret)
	v.SetDefault("auth.audience", d.Auth.Audience)

	v.SetDefault("inference.addr", d.Inference.Addr)
	v.SetDefault("inference.dial_timeout", d.Inference.DialTimeout)
	v.SetDefault("inference.max_concurrency", d.Inference.MaxConcurrency)
	v.SetDefault("inference.match_threshold", d.Inference.MatchThreshold)
	v.SetDefault("inference.annotate", d.Inference.Annotate)
	v.SetDefault("inference.embedder_model", d.Inference.EmbedderModel)
	v.SetDefault("inference.onnx_library", d.Inference.ONNXLibrary)

	v.SetDefault("otp.store", d.OTP.Store)

	v.SetDefault("mail.host", d.Mail.Host)
	v.SetDefault("mail.port", d.Mail.Port)
	v.SetDefault("mail.username", d.Mail.Username)
	v.SetDefault("mail.password", d.Mail.Password)
	v.SetDefault("mail.from", d.Mail.From)
	v.SetDefault("mail.domain", d.Mail.Domain)
	v.SetDefault("mail.institution", d.Mail.Institution)
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn is required"))
	}
	if c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis.addr is required"))
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required"))
	}
	if c.Inference.Addr == "" {
		errs = append(errs, errors.New("inference.addr is required"))
	}
	if c.Inference.MaxConcurrency < 1 {
		errs = append(errs, fmt.Errorf("inference.max_concurrency must be at least 1, got %d", c.Inference.MaxConcurrency))
	}
	if c.Inference.MatchThreshold <= -1 || c.Inference.MatchThreshold >= 1 {
		errs = append(errs, fmt.Errorf("inference.match_threshold must be in (-1, 1), got %v", c.Inference.MatchThreshold))
	}
	switch c.OTP.Store {
	case StoreMemory, StoreRedis:
	default:
		errs = append(errs, fmt.Errorf("otp.store must be %q or %q, got %q", StoreMemory, StoreRedis, c.OTP.Store))
	}
	if c.Mail.Host != "" {
		if c.Mail.Domain == "" {
			errs = append(errs, errors.New("mail.domain is required when mail.host is set"))
		}
		if c.Mail.Port <= 0 {
			errs = append(errs, fmt.Errorf("mail.port must be positive, got %d", c.Mail.Port))
		}
	}
	return errors.Join(errs...)
}
