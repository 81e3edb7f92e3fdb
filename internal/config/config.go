package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	DB     string       `yaml:"db" mapstructure:"db"`
	Server ServerConfig `yaml:"server" mapstructure:"server"`
	Sink   SinkConfig   `yaml:"sink" mapstructure:"sink"`
	Vitals VitalsConfig `yaml:"vitals" mapstructure:"vitals"`
	Log    LogConfig    `yaml:"log" mapstructure:"log"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port           int    `yaml:"port" mapstructure:"port"`
	AdminToken     string `yaml:"admin_token" mapstructure:"admin_token"`
	RateLimitRPS   int    `yaml:"rate_limit_rps" mapstructure:"rate_limit_rps"`
	RateLimitBurst int    `yaml:"rate_limit_burst" mapstructure:"rate_limit_burst"`
}

// SinkConfig configures the outbound analytics forwarder.
type SinkConfig struct {
	URL         string `yaml:"url" mapstructure:"url"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// VitalsConfig configures the telemetry aggregator.
type VitalsConfig struct {
	DigestIntervalSecs int `yaml:"digest_interval_secs" mapstructure:"digest_interval_secs"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SPLITPULSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("db", "./splitpulse.db")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.rate_limit_rps", 50)
	v.SetDefault("server.rate_limit_burst", 100)
	v.SetDefault("sink.timeout_secs", 10)
	v.SetDefault("vitals.digest_interval_secs", 60)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
