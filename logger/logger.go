package logger

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log is the process logger used by bootstrap code. Components get a *zap.Logger injected.
var Log = zap.NewNop()

// Level backs every logger built by New, so SetLevel retunes them all at runtime.
var Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)

// New builds a zap logger for the given level. format "json" switches to the JSON encoder,
// anything else keeps the coloured console encoder.
func New(level, format string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.Set(strings.ToLower(strings.TrimSpace(level))); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	encCfg := zapcore.EncoderConfig{
		TimeKey:       "ts",
		LevelKey:      "level",
		NameKey:       "logger",
		CallerKey:     "caller",
		MessageKey:    "msg",
		StacktraceKey: "stack",
		LineEnding:    zapcore.DefaultLineEnding,
		EncodeTime:    zapcore.ISO8601TimeEncoder,
		EncodeLevel:   zapcore.CapitalColorLevelEncoder,
		EncodeCaller:  zapcore.ShortCallerEncoder,
	}

	var enc zapcore.Encoder
	if strings.EqualFold(format, "json") {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeTime = colorTime
		enc = zapcore.NewConsoleEncoder(encCfg)
	}

	Level.SetLevel(lvl)
	core := zapcore.NewCore(enc, zapcore.AddSync(os.Stdout), Level)
	return zap.New(core, zap.AddCaller()), nil
}

func colorTime(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(color.GreenString(t.Format("2006-01-02T15:04:05.000")))
}

// SetLevel changes the level of every logger built by New.
func SetLevel(level string) error {
	var lvl zapcore.Level
	if err := lvl.Set(strings.ToLower(strings.TrimSpace(level))); err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	Level.SetLevel(lvl)
	return nil
}

// SetDefault replaces Log. nil is ignored.
func SetDefault(l *zap.Logger) {
	if l != nil {
		Log = l
	}
}

// 快捷方法
func Info(msg string, fields ...zap.Field) { Log.Info(msg, fields...) }
func Infof(format string, args ...interface{}) {
	Log.Info(fmt.Sprintf(format, args...))
}
func Warn(msg string, fields ...zap.Field) { Log.Warn(msg, fields...) }
func Warnf(format string, args ...interface{}) {
	Log.Warn(fmt.Sprintf(format, args...))
}
func Error(msg string, fields ...zap.Field) { Log.Error(msg, fields...) }

func Errorf(format string, args ...interface{}) {
	Log.Error(fmt.Sprintf(format, args...))
}

func Debug(msg string, fields ...zap.Field) { Log.Debug(msg, fields...) }
