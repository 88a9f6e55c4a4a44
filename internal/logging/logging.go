// Package logging builds the zap logger shared by every resendgate
// component.
//
// Records go to two places: the console at the configured level (debug with
// --verbose) and, when a directory is given, a validation_log_<ts>.log file
// that always receives debug output. The file is written through lumberjack
// so very large batches rotate instead of growing without bound.
package logging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures New.
type Options struct {
	// Level is the console level: debug, info, warn or error.
	Level string

	// Verbose forces the console to debug.
	Verbose bool

	// Console receives human-oriented output. Defaults to os.Stderr.
	Console io.Writer

	// Dir, when set, receives the log file.
	Dir string

	// Now stamps the log file name. Defaults to time.Now.
	Now func() time.Time
}

// Logger is a zap logger plus the file it writes to, if any.
type Logger struct {
	*zap.Logger

	// FilePath is the log file, or empty when logging to the console only.
	FilePath string

	file *lumberjack.Logger
}

// New builds the logger.
func New(opts Options) (*Logger, error) {
	console := opts.Console
	if console == nil {
		console = os.Stderr
	}
	level := ParseLevel(opts.Level)
	if opts.Verbose {
		level = zapcore.DebugLevel
	}

	consoleCfg := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		MessageKey:     "msg",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05"),
		EncodeDuration: zapcore.StringDurationEncoder,
	}
	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(consoleCfg), zapcore.Lock(zapcore.AddSync(console)), level),
	}

	l := &Logger{}
	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		now := time.Now
		if opts.Now != nil {
			now = opts.Now
		}
		l.FilePath = filepath.Join(opts.Dir, FileName(now()))
		l.file = &lumberjack.Logger{
			Filename:   l.FilePath,
			MaxSize:    50,
			MaxBackups: 3,
		}

		fileCfg := zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		}
		cores = append(cores,
			zapcore.NewCore(zapcore.NewConsoleEncoder(fileCfg), zapcore.AddSync(l.file), zapcore.DebugLevel))
	}

	l.Logger = zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	return l, nil
}

// FileName is the log file name for a run started at t.
func FileName(t time.Time) string {
	return fmt.Sprintf("validation_log_%s.log", t.Format("20060102_150405"))
}

// ParseLevel maps a level name onto a zap level, defaulting to info.
func ParseLevel(level string) zapcore.Level {
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

// Close flushes buffered records and closes the log file.
func (l *Logger) Close() error {
	err := l.Sync()
	if isIgnorableSyncError(err) {
		err = nil
	}
	if l.file != nil {
		err = errors.Join(err, l.file.Close())
	}
	return err
}

// isIgnorableSyncError reports errors from syncing a terminal or pipe,
// which cannot be fsynced.
func isIgnorableSyncError(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, syscall.EINVAL) ||
		errors.Is(err, syscall.ENOTTY) ||
		errors.Is(err, syscall.EBADF) ||
		strings.Contains(err.Error(), "inappropriate ioctl for device")
}
