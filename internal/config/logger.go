package config

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger returns a JSON logger on stdout tagged with svc=appID. An
// unknown level falls back to info and is reported once.
func NewLogger(appID, level string) *zap.SugaredLogger {
	atom := zap.NewAtomicLevel()

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	log := zap.New(zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderCfg),
		zapcore.Lock(os.Stdout),
		atom,
	))

	atom.SetLevel(zap.InfoLevel)
	if level != "" {
		if err := atom.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
			log.Error("invalid log level, using info", zap.String("level", level))
		}
	}

	return log.Sugar().With("svc", appID)
}
