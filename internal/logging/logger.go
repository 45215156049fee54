// Package logging provides config-driven categorized file-based logging for
// Arcadia Forge. Logs are written to .arcadia/logs/ with separate files per
// category. Logging is controlled by the logging section of
// .arcadia/config.yaml - when debug_mode is false, no logs are written.
package logging

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Category represents a log category/subsystem.
type Category string

const (
	CategoryBoot       Category = "boot"       // Startup/initialization
	CategorySupervisor Category = "supervisor" // Session lifecycle state machine
	CategoryStore      Category = "store"      // SQLite store operations
	CategoryEvents     Category = "events"     // Event log sink
	CategorySecurity   Category = "security"   // Command allowlist gate
	CategoryAutonomy   Category = "autonomy"   // Autonomy level decisions
	CategoryRisk       Category = "risk"       // Risk classification
	CategoryCheckpoint Category = "checkpoint" // VCS checkpoints and rollback
	CategoryMemory     Category = "memory"     // Hot/Warm/Cold tiers
	CategoryFeatures   Category = "features"   // Feature registry and salience
	CategoryHooks      Category = "hooks"      // Per-tool-call pipeline
	CategoryHuman      Category = "human"      // Injection points, escalation
	CategoryTools      Category = "tools"      // Tool execution
	CategoryBudget     Category = "budget"     // Token/USD accounting
	CategoryBrowser    Category = "browser"    // Evidence capture
	CategoryRuntime    Category = "runtime"    // LLM runtime adapter
	CategoryFailure    Category = "failure"    // Post-session failure analysis
)

// Log levels.
const (
	LevelDebug = 0
	LevelInfo  = 1
	LevelWarn  = 2
	LevelError = 3
)

// loggingConfig mirrors the logging section of .arcadia/config.yaml.
// Duplicated here (rather than importing internal/config) to avoid a
// circular import.
type loggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories"`
	Level      string          `yaml:"level"`
}

type configFile struct {
	Logging loggingConfig `yaml:"logging"`
}

// Logger wraps a standard logger with category and file output.
type Logger struct {
	category Category
	logger   *log.Logger
	file     *os.File
}

var (
	loggers   = make(map[Category]*Logger)
	loggersMu sync.RWMutex
	logsDir   string
	workspace string
	config    loggingConfig
	configMu  sync.RWMutex
	logLevel  int
)

// Initialize sets up the logging directory and loads config.
// Should be called once at startup with the project directory.
func Initialize(ws string) error {
	if ws == "" {
		return fmt.Errorf("workspace path required")
	}

	workspace = ws
	logsDir = filepath.Join(workspace, ".arcadia", "logs")

	if err := loadConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "[logging] Warning: could not load config: %v\n", err)
		config.DebugMode = false
	}

	if !config.DebugMode {
		return nil // Silent no-op in production mode
	}

	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	boot := Get(CategoryBoot)
	boot.Info("=== Arcadia Forge logging initialized ===")
	boot.Info("Workspace: %s", workspace)
	boot.Info("Log level: %s", config.Level)
	return nil
}

// loadConfig reads the logging config from .arcadia/config.yaml.
func loadConfig() error {
	configMu.Lock()
	defer configMu.Unlock()

	configPath := filepath.Join(workspace, ".arcadia", "config.yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// No config = production mode (no logging)
			config.DebugMode = false
			return nil
		}
		return err
	}

	var cf configFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	config = cf.Logging

	switch config.Level {
	case "debug":
		logLevel = LevelDebug
	case "warn", "warning":
		logLevel = LevelWarn
	case "error":
		logLevel = LevelError
	default:
		logLevel = LevelInfo
	}
	return nil
}

// IsDebugMode returns whether debug logging is enabled.
func IsDebugMode() bool {
	configMu.RLock()
	defer configMu.RUnlock()
	return config.DebugMode
}

// IsCategoryEnabled returns whether a specific category is enabled.
func IsCategoryEnabled(category Category) bool {
	configMu.RLock()
	defer configMu.RUnlock()

	if !config.DebugMode {
		return false
	}
	if config.Categories == nil {
		return true // All enabled by default in debug mode
	}
	enabled, exists := config.Categories[string(category)]
	if !exists {
		return true
	}
	return enabled
}

// Get returns (or creates) a logger for the given category.
// Returns a no-op logger if debug mode or the category is disabled.
func Get(category Category) *Logger {
	if !IsCategoryEnabled(category) {
		return &Logger{category: category}
	}
	if logsDir == "" {
		return &Logger{category: category}
	}

	loggersMu.RLock()
	if l, ok := loggers[category]; ok {
		loggersMu.RUnlock()
		return l
	}
	loggersMu.RUnlock()

	loggersMu.Lock()
	defer loggersMu.Unlock()

	if l, ok := loggers[category]; ok {
		return l
	}

	// Date prefix for easy rotation.
	date := time.Now().Format("2006-01-02")
	logPath := filepath.Join(logsDir, fmt.Sprintf("%s_%s.log", date, category))

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[logging] Warning: could not open log file %s: %v\n", logPath, err)
		return &Logger{category: category}
	}

	l := &Logger{
		category: category,
		file:     file,
		logger:   log.New(file, "", log.Ldate|log.Ltime|log.Lmicroseconds),
	}
	loggers[category] = l
	return l
}

// Debug logs a debug message (only if level <= debug).
func (l *Logger) Debug(format string, args ...any) {
	if l.logger == nil || logLevel > LevelDebug {
		return
	}
	l.logger.Printf("[DEBUG] %s", fmt.Sprintf(format, args...))
}

// Info logs an informational message (only if level <= info).
func (l *Logger) Info(format string, args ...any) {
	if l.logger == nil || logLevel > LevelInfo {
		return
	}
	l.logger.Printf("[INFO] %s", fmt.Sprintf(format, args...))
}

// Warn logs a warning message (only if level <= warn).
func (l *Logger) Warn(format string, args ...any) {
	if l.logger == nil || logLevel > LevelWarn {
		return
	}
	l.logger.Printf("[WARN] %s", fmt.Sprintf(format, args...))
}

// Error logs an error message (always logged if logger exists).
func (l *Logger) Error(format string, args ...any) {
	if l.logger == nil {
		return
	}
	l.logger.Printf("[ERROR] %s", fmt.Sprintf(format, args...))
}

// CloseAll closes all open log files (call at shutdown).
func CloseAll() {
	loggersMu.Lock()
	defer loggersMu.Unlock()

	for _, l := range loggers {
		if l.file != nil {
			l.file.Close()
		}
	}
	loggers = make(map[Category]*Logger)
}

// =============================================================================
// CONVENIENCE FUNCTIONS - Quick logging without getting a logger first
// These are no-ops if the category is disabled
// =============================================================================

// Supervisor logs to the supervisor category.
func Supervisor(format string, args ...any) {
	Get(CategorySupervisor).Info(format, args...)
}

// SupervisorDebug logs debug to the supervisor category.
func SupervisorDebug(format string, args ...any) {
	Get(CategorySupervisor).Debug(format, args...)
}

// SupervisorError logs error to the supervisor category.
func SupervisorError(format string, args ...any) {
	Get(CategorySupervisor).Error(format, args...)
}

// Store logs to the store category.
func Store(format string, args ...any) {
	Get(CategoryStore).Info(format, args...)
}

// StoreDebug logs debug to the store category.
func StoreDebug(format string, args ...any) {
	Get(CategoryStore).Debug(format, args...)
}

// StoreError logs error to the store category.
func StoreError(format string, args ...any) {
	Get(CategoryStore).Error(format, args...)
}

// Events logs to the events category.
func Events(format string, args ...any) {
	Get(CategoryEvents).Info(format, args...)
}

// EventsDebug logs debug to the events category.
func EventsDebug(format string, args ...any) {
	Get(CategoryEvents).Debug(format, args...)
}

// Security logs to the security category.
func Security(format string, args ...any) {
	Get(CategorySecurity).Info(format, args...)
}

// Autonomy logs to the autonomy category.
func Autonomy(format string, args ...any) {
	Get(CategoryAutonomy).Info(format, args...)
}

// Risk logs to the risk category.
func Risk(format string, args ...any) {
	Get(CategoryRisk).Info(format, args...)
}

// Checkpoint logs to the checkpoint category.
func Checkpoint(format string, args ...any) {
	Get(CategoryCheckpoint).Info(format, args...)
}

// Memory logs to the memory category.
func Memory(format string, args ...any) {
	Get(CategoryMemory).Info(format, args...)
}

// Features logs to the features category.
func Features(format string, args ...any) {
	Get(CategoryFeatures).Info(format, args...)
}

// Hooks logs to the hooks category.
func Hooks(format string, args ...any) {
	Get(CategoryHooks).Info(format, args...)
}

// HooksDebug logs debug to the hooks category.
func HooksDebug(format string, args ...any) {
	Get(CategoryHooks).Debug(format, args...)
}

// Human logs to the human category.
func Human(format string, args ...any) {
	Get(CategoryHuman).Info(format, args...)
}

// Tools logs to the tools category.
func Tools(format string, args ...any) {
	Get(CategoryTools).Info(format, args...)
}

// ToolsDebug logs debug to the tools category.
func ToolsDebug(format string, args ...any) {
	Get(CategoryTools).Debug(format, args...)
}

// Budget logs to the budget category.
func Budget(format string, args ...any) {
	Get(CategoryBudget).Info(format, args...)
}

// Browser logs to the browser category.
func Browser(format string, args ...any) {
	Get(CategoryBrowser).Info(format, args...)
}

// Runtime logs to the runtime category.
func Runtime(format string, args ...any) {
	Get(CategoryRuntime).Info(format, args...)
}

// Failure logs to the failure category.
func Failure(format string, args ...any) {
	Get(CategoryFailure).Info(format, args...)
}

// =============================================================================
// TIMING HELPERS - For performance logging
// =============================================================================

// Timer helps measure operation duration.
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation.
func StartTimer(category Category, operation string) *Timer {
	return &Timer{category: category, op: operation, start: time.Now()}
}

// Stop ends the timer and logs the duration at debug level.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithThreshold logs a warning if duration exceeds threshold.
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(t.category).Warn("%s took %v (threshold: %v)", t.op, elapsed, threshold)
	} else {
		Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	}
	return elapsed
}
