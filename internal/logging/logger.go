// Package logging provides config-driven categorized file-based logging
// for the morphological parser subsystem. Logs are written to
// <root>/.oldparser/logs/ with one file per category. Logging is gated by
// debug_mode in the parser config; when false, no files are opened and
// logging calls are no-ops.
package logging

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Category identifies a logging subsystem.
type Category string

const (
	CategoryObject     Category = "object"
	CategoryPhonology  Category = "phonology"
	CategoryMorphology Category = "morphology"
	CategoryLM         Category = "language_model"
	CategoryCache      Category = "cache"
	CategoryParser     Category = "parser"
	CategoryReplicate  Category = "replicate"
	CategoryToolkit    Category = "toolkit"
	CategoryCLI        Category = "cli"
)

// Config mirrors the relevant subset of config.Config to avoid an import
// cycle between internal/config and internal/logging.
type Config struct {
	DebugMode  bool
	Categories map[string]bool
	JSONFormat bool
	Root       string
}

// logEntry is a single structured log line, written when JSONFormat is set.
type logEntry struct {
	Timestamp int64  `json:"ts"`
	Category  string `json:"cat"`
	Level     string `json:"lvl"`
	Message   string `json:"msg"`
}

var (
	mu      sync.Mutex
	cfg     Config
	loggers = map[Category]*log.Logger{}
	files   = map[Category]*os.File{}
)

// Configure installs the active logging configuration. Safe to call more
// than once; a later call replaces the earlier configuration and closes any
// previously opened log files.
func Configure(c Config) {
	mu.Lock()
	defer mu.Unlock()
	for _, f := range files {
		f.Close()
	}
	loggers = map[Category]*log.Logger{}
	files = map[Category]*os.File{}
	cfg = c
}

func enabled(cat Category) bool {
	if !cfg.DebugMode {
		return false
	}
	if cfg.Categories == nil {
		return true
	}
	v, ok := cfg.Categories[string(cat)]
	return !ok || v
}

func loggerFor(cat Category) *log.Logger {
	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[cat]; ok {
		return l
	}
	root := cfg.Root
	if root == "" {
		root = "."
	}
	dir := filepath.Join(root, ".oldparser", "logs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil
	}
	path := filepath.Join(dir, string(cat)+".log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil
	}
	files[cat] = f
	l := log.New(f, "", 0)
	loggers[cat] = l
	return l
}

func write(cat Category, level, format string, args ...interface{}) {
	if !enabled(cat) {
		return
	}
	l := loggerFor(cat)
	if l == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if cfg.JSONFormat {
		b, err := json.Marshal(logEntry{
			Timestamp: time.Now().UnixMilli(),
			Category:  string(cat),
			Level:     level,
			Message:   msg,
		})
		if err != nil {
			return
		}
		l.Println(string(b))
		return
	}
	l.Printf("[%s] %s: %s", level, cat, msg)
}

// Debug logs a debug-level line for cat.
func Debug(cat Category, format string, args ...interface{}) { write(cat, "debug", format, args...) }

// Info logs an info-level line for cat.
func Info(cat Category, format string, args ...interface{}) { write(cat, "info", format, args...) }

// Warn logs a warn-level line for cat.
func Warn(cat Category, format string, args ...interface{}) { write(cat, "warn", format, args...) }

// Error logs an error-level line for cat.
func Error(cat Category, format string, args ...interface{}) { write(cat, "error", format, args...) }

// Timer measures and logs the duration of an operation on Stop.
type Timer struct {
	cat   Category
	label string
	start time.Time
}

// StartTimer begins timing an operation under cat, labeled label.
func StartTimer(cat Category, label string) *Timer {
	return &Timer{cat: cat, label: label, start: time.Now()}
}

// Stop logs the elapsed time since StartTimer.
func (t *Timer) Stop() {
	if t == nil {
		return
	}
	write(t.cat, "debug", "%s took %s", t.label, time.Since(t.start))
}
