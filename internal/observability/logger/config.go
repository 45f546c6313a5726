package logger

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config configura el logger.
type Config struct {
	// Env: "dev" (consola, default), "prod"/"staging" (JSON) o "test" (nop).
	Env string
	// Level: debug|info|warn|error. Default info.
	Level string
	// StationID identifica la estación ITS en cada línea. Opcional.
	StationID string
	Version   string
}

func build(cfg Config) *zap.Logger {
	env := strings.ToLower(strings.TrimSpace(cfg.Env))
	if env == "test" {
		return zap.NewNop()
	}

	var zcfg zap.Config
	opts := []zap.Option{zap.AddCaller()}
	switch env {
	case "prod", "staging":
		zcfg = zap.NewProductionConfig()
		zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	default:
		zcfg = zap.NewDevelopmentConfig()
		zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zcfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
		zcfg.DisableStacktrace = true
	}
	zcfg.Level = zap.NewAtomicLevelAt(parseLevel(cfg.Level))
	zcfg.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	l, err := zcfg.Build(opts...)
	if err != nil {
		l, _ = zap.NewProduction()
	}
	return l.With(baseFields(cfg)...)
}

func baseFields(cfg Config) []zap.Field {
	fields := []zap.Field{zap.String("service", "its-security")}
	if cfg.StationID != "" {
		fields = append(fields, zap.String("station_id", cfg.StationID))
	}
	if cfg.Version != "" {
		fields = append(fields, zap.String("version", cfg.Version))
	}
	return fields
}

func parseLevel(lvl string) zapcore.Level {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(lvl)))); err != nil {
		if strings.EqualFold(strings.TrimSpace(lvl), "warning") {
			return zapcore.WarnLevel
		}
		return zapcore.InfoLevel
	}
	return l
}
