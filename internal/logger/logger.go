package logger

import (
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger handles structured logging with optional file output
type Logger struct {
	*zap.Logger
	Verbose bool
}

// Options configures a Logger.
type Options struct {
	Verbose bool
	// FilePath, when set, receives a JSON copy of every entry.
	FilePath string
	// Quiet sends only warnings and errors to the console, on stderr, so
	// command output on stdout stays clean.
	Quiet bool
}

// New creates a new Logger instance writing to stdout
func New(verbose bool) *Logger {
	l, err := NewWithOptions(Options{Verbose: verbose})
	if err != nil {
		// Only a file sink can fail, and none was requested.
		panic(err)
	}
	return l
}

// NewWithOptions builds a Logger. Console output is human readable; the
// optional file sink is JSON and always records debug entries.
func NewWithOptions(opts Options) (*Logger, error) {
	consoleLevel := zapcore.InfoLevel
	console := zapcore.Lock(os.Stdout)
	switch {
	case opts.Verbose:
		consoleLevel = zapcore.DebugLevel
	case opts.Quiet:
		consoleLevel = zapcore.WarnLevel
		console = zapcore.Lock(os.Stderr)
	}

	consoleCfg := zap.NewDevelopmentEncoderConfig()
	consoleCfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
	consoleCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(consoleCfg), console, consoleLevel),
	}

	if opts.FilePath != "" {
		f, err := os.OpenFile(opts.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		fileCfg := zap.NewProductionEncoderConfig()
		fileCfg.TimeKey = "timestamp"
		fileCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(fileCfg), zapcore.AddSync(f), zapcore.DebugLevel))
	}

	z := zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(1))
	return &Logger{Logger: z, Verbose: opts.Verbose}, nil
}

// Nop returns a Logger that discards everything.
func Nop() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

// Info logs informational messages
func (l *Logger) Info(msg string, fields ...any) {
	l.Logger.Info(msg, toZapFields(fields)...)
}

// Debug logs detailed messages
func (l *Logger) Debug(msg string, fields ...any) {
	l.Logger.Debug(msg, toZapFields(fields)...)
}

// Warn logs warning messages
func (l *Logger) Warn(msg string, fields ...any) {
	l.Logger.Warn(msg, toZapFields(fields)...)
}

// Error logs error messages with the causing error attached.
func (l *Logger) Error(msg string, err error, fields ...any) {
	zf := toZapFields(fields)
	if err != nil {
		zf = append(zf, zap.Error(err))
	}
	l.Logger.Error(msg, zf...)
}

// With returns a child logger carrying the given key/value pairs.
func (l *Logger) With(fields ...any) *Logger {
	return &Logger{Logger: l.Logger.With(toZapFields(fields)...), Verbose: l.Verbose}
}

// Named adds a sub-scope to the logger's name.
func (l *Logger) Named(name string) *Logger {
	return &Logger{Logger: l.Logger.Named(name), Verbose: l.Verbose}
}

// Close flushes buffered entries.
func (l *Logger) Close() error {
	err := l.Logger.Sync()
	// stdout cannot be fsynced on most platforms
	if err != nil && isIgnorableSyncError(err) {
		return nil
	}
	return err
}

func isIgnorableSyncError(err error) bool {
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return pathErr.Path == "/dev/stdout" || pathErr.Path == "/dev/stderr"
	}
	return false
}

// toZapFields converts alternating key/value pairs into zap fields.
func toZapFields(kv []any) []zap.Field {
	fields := make([]zap.Field, 0, len(kv)/2)
	for i := 0; i < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kv[i])
		}
		if i+1 >= len(kv) {
			fields = append(fields, zap.String(key, "MISSING"))
			break
		}
		fields = append(fields, zap.Any(key, kv[i+1]))
	}
	return fields
}
