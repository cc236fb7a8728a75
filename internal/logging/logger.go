// Package logging provides config-driven categorized logging for threadex.
// Console output goes to stderr; in debug mode a JSON log file is also
// written under the configured log directory.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/system
type Category string

const (
	CategoryBoot       Category = "boot"       // Startup, config, shutdown
	CategoryBrowser    Category = "browser"    // Chrome launch, CDP events, login
	CategoryCorrelator Category = "correlator" // Thread payload correlation
	CategoryDiscovery  Category = "discovery"  // Library scroll and extraction
	CategoryExport     Category = "export"     // Per-item orchestration
	CategoryStore      Category = "store"      // Done file, thread files, index
	CategoryConvert    Category = "convert"    // Post-export converter
)

// Config mirrors config.LoggingConfig to avoid an import cycle.
type Config struct {
	Level      string
	JSONFormat bool
	DebugMode  bool
	Dir        string
	Categories map[string]bool
}

// Logger is a category-scoped logger.
type Logger struct {
	category Category
	base     *zap.Logger
	sugar    *zap.SugaredLogger
}

var (
	mu      sync.RWMutex
	root    = zap.NewNop()
	cfg     Config
	loggers = make(map[Category]*Logger)
	logFile *os.File
	level   = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

// ParseLevel maps a config level string to a zap level. Unknown values map
// to info.
func ParseLevel(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Initialize builds the root logger. Call once at startup.
func Initialize(c Config) error {
	level.SetLevel(ParseLevel(c.Level))

	var encoder zapcore.Encoder
	if c.JSONFormat {
		encoder = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	} else {
		ec := zap.NewDevelopmentEncoderConfig()
		ec.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		encoder = zapcore.NewConsoleEncoder(ec)
	}
	cores := []zapcore.Core{zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), level)}

	var file *os.File
	if c.DebugMode && c.Dir != "" {
		if err := os.MkdirAll(c.Dir, 0755); err != nil {
			return fmt.Errorf("failed to create logs directory: %w", err)
		}
		name := fmt.Sprintf("%s_threadex.log", time.Now().Format("2006-01-02"))
		f, err := os.OpenFile(filepath.Join(c.Dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		file = f
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
			zapcore.AddSync(f),
			zapcore.DebugLevel,
		))
	}

	install(zap.New(zapcore.NewTee(cores...)), c, file)

	Get(CategoryBoot).Debug("logging initialized (level=%s, debug_mode=%v)", level.Level(), c.DebugMode)
	return nil
}

// InitializeWithLogger installs a caller-built zap logger, e.g. an observer
// core in tests.
func InitializeWithLogger(l *zap.Logger, c Config) {
	install(l, c, nil)
}

func install(l *zap.Logger, c Config, file *os.File) {
	mu.Lock()
	defer mu.Unlock()
	if logFile != nil {
		_ = logFile.Close()
	}
	root = l
	cfg = c
	logFile = file
	loggers = make(map[Category]*Logger)
}

// categoryEnabledLocked reports whether category logs; unlisted categories do.
func categoryEnabledLocked(category Category) bool {
	if cfg.Categories == nil {
		return true
	}
	enabled, exists := cfg.Categories[string(category)]
	if !exists {
		return true
	}
	return enabled
}

// Get returns (or creates) a logger for the given category.
// Disabled categories get a no-op logger.
func Get(category Category) *Logger {
	mu.RLock()
	if l, ok := loggers[category]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}

	base := zap.NewNop()
	if categoryEnabledLocked(category) {
		base = root.Named(string(category))
	}
	l := &Logger{category: category, base: base, sugar: base.Sugar()}
	loggers[category] = l
	return l
}

// Debug logs a debug message.
func (l *Logger) Debug(format string, args ...interface{}) {
	l.sugar.Debugf(format, args...)
}

// Info logs an informational message.
func (l *Logger) Info(format string, args ...interface{}) {
	l.sugar.Infof(format, args...)
}

// Warn logs a warning message.
func (l *Logger) Warn(format string, args ...interface{}) {
	l.sugar.Warnf(format, args...)
}

// Error logs an error message.
func (l *Logger) Error(format string, args ...interface{}) {
	l.sugar.Errorf(format, args...)
}

// With returns a child logger carrying structured fields.
func (l *Logger) With(fields ...zap.Field) *Logger {
	base := l.base.With(fields...)
	return &Logger{category: l.category, base: base, sugar: base.Sugar()}
}

// CloseAll flushes the root logger and closes the log file (call at shutdown).
func CloseAll() {
	mu.Lock()
	defer mu.Unlock()
	_ = root.Sync()
	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}
	loggers = make(map[Category]*Logger)
}

// Boot logs to the boot category
func Boot(format string, args ...interface{}) {
	Get(CategoryBoot).Info(format, args...)
}

// BootWarn logs a warning to the boot category
func BootWarn(format string, args ...interface{}) {
	Get(CategoryBoot).Warn(format, args...)
}
