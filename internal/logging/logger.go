// Package logging provides categorized structured logging for trustaudit.
// Every logger is a zap logger carrying a "category" field so the collector,
// the audit loop, and the store can be filtered independently.
// Until Initialize (or SetBase) is called every logger is a no-op.
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

// Category represents a log category/subsystem.
type Category string

const (
	CategoryBoot        Category = "boot"        // Startup and wiring
	CategoryStore       Category = "store"       // Evidence/audit persistence
	CategoryRateLimit   Category = "ratelimit"   // Token bucket waits
	CategorySources     Category = "sources"     // Fetchers and parsers
	CategoryCollect     Category = "collect"     // Collection orchestrator
	CategoryUsage       Category = "usage"       // Cost ledger
	CategoryReasoning   Category = "reasoning"   // Reasoning service transport
	CategoryAudit       Category = "audit"       // Audit loop state machine
	CategoryInvestigate Category = "investigate" // Ad hoc searches
	CategoryEnforce     Category = "enforce"     // Score enforcement
)

// Config configures the logging backend.
type Config struct {
	Level  string `yaml:"level" json:"level"`   // debug, info, warn, error
	Format string `yaml:"format" json:"format"` // json, console
	File   string `yaml:"file" json:"file"`     // optional extra output path
	// Categories disables individual categories when set to false.
	Categories map[string]bool `yaml:"categories,omitempty" json:"categories,omitempty"`
}

// Logger is a category-scoped logger with printf-style helpers.
type Logger struct {
	category Category
	sugar    *zap.SugaredLogger
}

var (
	mu       sync.RWMutex
	base     = zap.NewNop()
	disabled = map[Category]bool{}
	loggers  = map[Category]*Logger{}
)

// Initialize builds the zap backend from cfg and installs it.
func Initialize(cfg Config) error {
	var zcfg zap.Config
	if strings.EqualFold(cfg.Format, "console") {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}

	level := zapcore.InfoLevel
	if cfg.Level != "" {
		parsed, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		level = parsed
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)

	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
		zcfg.OutputPaths = append(zcfg.OutputPaths, cfg.File)
	}

	logger, err := zcfg.Build()
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}

	off := make(map[Category]bool)
	for name, enabled := range cfg.Categories {
		if !enabled {
			off[Category(name)] = true
		}
	}

	install(logger, off)
	Get(CategoryBoot).Info("logging initialized (level=%s format=%s)", level, zcfg.Encoding)
	return nil
}

// SetBase installs an already-built zap logger. Used by the CLI and tests.
func SetBase(logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	install(logger, nil)
}

func install(logger *zap.Logger, off map[Category]bool) {
	mu.Lock()
	defer mu.Unlock()
	base = logger
	if off == nil {
		off = map[Category]bool{}
	}
	disabled = off
	loggers = map[Category]*Logger{}
}

// Base returns the underlying zap logger.
func Base() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

// Sync flushes buffered entries.
func Sync() {
	_ = Base().Sync()
}

// IsCategoryEnabled returns whether a specific category is enabled.
func IsCategoryEnabled(category Category) bool {
	mu.RLock()
	defer mu.RUnlock()
	return !disabled[category]
}

// Get returns (or creates) the logger for the given category.
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

	zl := base
	if disabled[category] {
		zl = zap.NewNop()
	}
	l := &Logger{
		category: category,
		sugar:    zl.With(zap.String("category", string(category))).Sugar(),
	}
	loggers[category] = l
	return l
}

// Debug logs a debug message.
func (l *Logger) Debug(format string, args ...any) { l.sugar.Debugf(format, args...) }

// Info logs an informational message.
func (l *Logger) Info(format string, args ...any) { l.sugar.Infof(format, args...) }

// Warn logs a warning.
func (l *Logger) Warn(format string, args ...any) { l.sugar.Warnf(format, args...) }

// Error logs an error.
func (l *Logger) Error(format string, args ...any) { l.sugar.Errorf(format, args...) }

// With returns a child logger carrying the given key/value pairs.
func (l *Logger) With(keysAndValues ...any) *Logger {
	return &Logger{category: l.category, sugar: l.sugar.With(keysAndValues...)}
}

// Zap exposes the structured logger for callers that want typed fields.
func (l *Logger) Zap() *zap.Logger {
	return l.sugar.Desugar()
}

// Timer measures an operation and logs its duration on Stop.
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer starts timing op under category.
func StartTimer(category Category, op string) *Timer {
	return &Timer{category: category, op: op, start: time.Now()}
}

// Stop logs the elapsed time at debug level and returns it.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Zap().Debug("operation timed",
		zap.String("op", t.op),
		zap.Duration("elapsed", elapsed))
	return elapsed
}

// =============================================================================
// CONVENIENCE FUNCTIONS - Quick logging without getting a logger first
// =============================================================================

// Boot logs to the boot category
func Boot(format string, args ...any) { Get(CategoryBoot).Info(format, args...) }

// Store logs to the store category
func Store(format string, args ...any) { Get(CategoryStore).Info(format, args...) }

// StoreDebug logs debug to the store category
func StoreDebug(format string, args ...any) { Get(CategoryStore).Debug(format, args...) }

// RateLimitDebug logs debug to the ratelimit category
func RateLimitDebug(format string, args ...any) { Get(CategoryRateLimit).Debug(format, args...) }

// Sources logs to the sources category
func Sources(format string, args ...any) { Get(CategorySources).Info(format, args...) }

// SourcesDebug logs debug to the sources category
func SourcesDebug(format string, args ...any) { Get(CategorySources).Debug(format, args...) }

// Collect logs to the collect category
func Collect(format string, args ...any) { Get(CategoryCollect).Info(format, args...) }

// CollectDebug logs debug to the collect category
func CollectDebug(format string, args ...any) { Get(CategoryCollect).Debug(format, args...) }

// CollectWarn logs a warning to the collect category
func CollectWarn(format string, args ...any) { Get(CategoryCollect).Warn(format, args...) }

// UsageDebug logs debug to the usage category
func UsageDebug(format string, args ...any) { Get(CategoryUsage).Debug(format, args...) }

// Reasoning logs to the reasoning category
func Reasoning(format string, args ...any) { Get(CategoryReasoning).Info(format, args...) }

// ReasoningDebug logs debug to the reasoning category
func ReasoningDebug(format string, args ...any) { Get(CategoryReasoning).Debug(format, args...) }

// Audit logs to the audit category
func Audit(format string, args ...any) { Get(CategoryAudit).Info(format, args...) }

// AuditDebug logs debug to the audit category
func AuditDebug(format string, args ...any) { Get(CategoryAudit).Debug(format, args...) }

// AuditWarn logs a warning to the audit category
func AuditWarn(format string, args ...any) { Get(CategoryAudit).Warn(format, args...) }

// Investigate logs to the investigate category
func Investigate(format string, args ...any) { Get(CategoryInvestigate).Info(format, args...) }

// EnforceDebug logs debug to the enforce category
func EnforceDebug(format string, args ...any) { Get(CategoryEnforce).Debug(format, args...) }
