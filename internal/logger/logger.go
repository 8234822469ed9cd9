package logger

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Additional-Code/pharmadesk/internal/config"
)

// Module exposes a configured Zap logger to the Fx container.
var Module = fx.Provide(New)

// New builds the application logger and routes the standard library logger
// (used by goose and kafka-go internals) through it until the app stops.
func New(lc fx.Lifecycle, cfg config.Config) (*zap.Logger, error) {
	logger, err := Build(cfg.Observability)
	if err != nil {
		return nil, err
	}
	restore := zap.RedirectStdLog(logger.Named("stdlog"))

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			restore()
			_ = logger.Sync()
			return nil
		},
	})
	return logger, nil
}

// Build returns a logger for obs. Encoding "console" gives a colored
// development logger; anything else is production JSON.
func Build(obs config.Observability, opts ...zap.Option) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if obs.LogLevel != "" {
		parsed, err := zapcore.ParseLevel(obs.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("invalid OBS_LOG_LEVEL: %w", err)
		}
		level = parsed
	}

	var zapCfg zap.Config
	if obs.LogEncoding == "console" {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout(time.RFC3339)
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zapCfg = zap.NewProductionConfig()
		zapCfg.Encoding = "json"
		zapCfg.EncoderConfig.TimeKey = "ts"
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout(time.RFC3339Nano)
		zapCfg.EncoderConfig.EncodeDuration = zapcore.StringDurationEncoder
		zapCfg.EncoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := zapCfg.Build(opts...)
	if err != nil {
		return nil, err
	}
	return logger.With(
		zap.String("service", obs.ServiceName),
		zap.String("environment", obs.Environment),
	), nil
}
