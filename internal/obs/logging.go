// Package obs carries aegish's ambient observability stack: structured
// logging and the in-process metrics registry. Neither component reads the
// security config snapshot; both bootstrap before it is loaded.
package obs

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// NewLogger builds the process logger. Level comes from AEGISH_LOG_LEVEL,
// encoder from AEGISH_ENV ("prod" selects JSON + file-only; anything else
// selects console + file). Both are read once, here, before the immutable
// config snapshot exists — they are process bootstrap, not security policy.
func NewLogger(logPath string) (*zap.Logger, error) {
	level := parseLevel(strings.ToLower(os.Getenv("AEGISH_LOG_LEVEL")))

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	env := strings.ToLower(os.Getenv("AEGISH_ENV"))
	var encoder zapcore.Encoder
	if env == "prod" {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	if logPath == "" {
		logPath = "aegish.log"
	}
	rotator := &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
		Compress:   true,
	}

	var writeSyncer zapcore.WriteSyncer
	if env == "prod" {
		writeSyncer = zapcore.AddSync(rotator)
	} else {
		writeSyncer = zapcore.NewMultiWriteSyncer(zapcore.AddSync(os.Stderr), zapcore.AddSync(rotator))
	}

	core := zapcore.NewCore(encoder, writeSyncer, level)
	return zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)), nil
}

func parseLevel(s string) zapcore.Level {
	switch s {
	case "debug":
		return zap.DebugLevel
	case "warn":
		return zap.WarnLevel
	case "error":
		return zap.ErrorLevel
	case "dpanic":
		return zap.DPanicLevel
	case "panic":
		return zap.PanicLevel
	case "fatal":
		return zap.FatalLevel
	default:
		return zap.InfoLevel
	}
}
