package config

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const EnvPrefix = "FORMRELAY"

type HTTPConfig struct {
	Address        string        `mapstructure:"address" validate:"required,hostname_port"`
	MaxConnections int           `mapstructure:"max_connections" validate:"min=0"`
	MaxBodyBytes   int64         `mapstructure:"max_body_bytes" validate:"min=1,max=65507"`
	ProxyProtocol  bool          `mapstructure:"proxy_protocol"`
	CORSOrigins    []string      `mapstructure:"cors_origins"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout" validate:"min=0"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout" validate:"min=0"`
}

type IngestConfig struct {
	Address    string `mapstructure:"address" validate:"required,hostname_port"`
	BufferSize int    `mapstructure:"buffer_size" validate:"min=1,max=65535"`
	KeyPolicy  string `mapstructure:"key_policy" validate:"oneof=overwrite suffix"`
}

type RelayConfig struct {
	Address string `mapstructure:"address" validate:"omitempty,hostname_port"`
}

type StaticConfig struct {
	Root    string `mapstructure:"root" validate:"required"`
	Index   string `mapstructure:"index" validate:"required"`
	Message string `mapstructure:"message" validate:"required"`
	Error   string `mapstructure:"error" validate:"required"`
}

type StoreConfig struct {
	Path      string `mapstructure:"path" validate:"required"`
	Format    string `mapstructure:"format" validate:"oneof=json jsonl"`
	OnCorrupt string `mapstructure:"on_corrupt" validate:"oneof=fail reset"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=trace debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=console json"`
}

type Config struct {
	HTTP            HTTPConfig    `mapstructure:"http"`
	Ingest          IngestConfig  `mapstructure:"ingest"`
	Relay           RelayConfig   `mapstructure:"relay"`
	Static          StaticConfig  `mapstructure:"static"`
	Store           StoreConfig   `mapstructure:"store"`
	Log             LogConfig     `mapstructure:"log"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"min=0"`
}

// SetDefaults registers every key so environment variables can override
// keys that appear in no config file.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("http.address", ":3003")
	v.SetDefault("http.max_connections", 1)
	v.SetDefault("http.max_body_bytes", 65507)
	v.SetDefault("http.proxy_protocol", false)
	v.SetDefault("http.cors_origins", []string{})
	v.SetDefault("http.read_timeout", 10*time.Second)
	v.SetDefault("http.write_timeout", 10*time.Second)
	v.SetDefault("ingest.address", "127.0.0.1:5005")
	v.SetDefault("ingest.buffer_size", 65507)
	v.SetDefault("ingest.key_policy", "overwrite")
	v.SetDefault("relay.address", "")
	v.SetDefault("static.root", "front-init")
	v.SetDefault("static.index", "index.html")
	v.SetDefault("static.message", "message.html")
	v.SetDefault("static.error", "error.html")
	v.SetDefault("store.path", "storage/data.json")
	v.SetDefault("store.format", "json")
	v.SetDefault("store.on_corrupt", "fail")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("shutdown_timeout", 5*time.Second)
}

// New returns a viper instance with defaults, env binding and, if file is
// set, that config file. Without a file it looks for formrelay.* in the
// working directory and tolerates its absence.
func New(file string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("formrelay")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || file != "" {
			return nil, errors.Wrap(err, "could not read config")
		}
	}
	return v, nil
}

// Load decodes and validates the configuration held by v.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "could not decode config")
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	if int64(cfg.Ingest.BufferSize) < cfg.HTTP.MaxBodyBytes {
		return nil, errors.Errorf("invalid config: ingest.buffer_size %d is smaller than http.max_body_bytes %d",
			cfg.Ingest.BufferSize, cfg.HTTP.MaxBodyBytes)
	}
	return cfg, nil
}
