// Package logger configures the global zap logger used by the CLI.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
)

// Init installs a console logger writing to stderr at the given level.
func Init(level string) {
	InitFile(os.Stderr, level)
}

// InitFile installs a console logger writing to f, coloring levels only
// when f is a terminal.
func InitFile(f *os.File, level string) {
	InitWriter(f, level, term.IsTerminal(int(f.Fd())))
}

// InitWriter installs a console logger writing to w. Colored levels are
// only worth it on a terminal.
func InitWriter(w io.Writer, level string, color bool) {
	simpleTimeEncoder := func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.Format("15:04:05"))
	}

	levelEncoder := zapcore.CapitalLevelEncoder
	if color {
		levelEncoder = zapcore.CapitalColorLevelEncoder
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		MessageKey:     "msg",
		StacktraceKey:  zapcore.OmitKey,
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    levelEncoder,
		EncodeTime:     simpleTimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
	}
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.Lock(zapcore.AddSync(w)),
		Level(level),
	)
	zap.ReplaceGlobals(zap.New(core))
}

// Level maps a config log level to a zap level. Unknown names mean info.
func Level(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Sync flushes buffered log entries.
func Sync() error {
	return zap.L().Sync()
}
