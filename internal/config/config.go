package config

import (
	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

type Config struct {
	HttpServerPort uint16 `env:"HTTP_SERVER_PORT" envDefault:"8085" validate:"min=1000,max=65535"`

	// Empty host disables the cross-instance relay entirely.
	RedisHost string `env:"REDIS_HOST" envDefault:""`
	RedisPort uint16 `env:"REDIS_PORT" envDefault:"6379" validate:"min=1000,max=65535"`

	HistoryLimit       int `env:"HISTORY_LIMIT"        envDefault:"100" validate:"min=1,max=1000"`
	GraceWindowSeconds int `env:"GRACE_WINDOW_SECONDS" envDefault:"15"  validate:"min=1,max=300"`

	PingPeriodSeconds       int `env:"PING_PERIOD_SECONDS"        envDefault:"25" validate:"min=1,max=300"`
	MobilePingPeriodSeconds int `env:"MOBILE_PING_PERIOD_SECONDS" envDefault:"10" validate:"min=1,max=300"`
}

func LoadConfig() (*Config, error) {
	// Load environment variables from .env file
	err := godotenv.Load(".env")
	if err != nil {
		zap.L().Debug(".env file not found", zap.Error(err))
	}

	cfg := &Config{}
	// Parse config from environment variables
	if err = env.Parse(cfg); err != nil {
		zap.L().Error("config_load_failed", zap.Error(err))
		return nil, err
	}

	// Validate the config
	validate := validator.New()
	err = validate.Struct(cfg)
	if err != nil {
		zap.L().Error("config_validation_failed", zap.Error(err))
		return nil, err
	}
	return cfg, nil
}
