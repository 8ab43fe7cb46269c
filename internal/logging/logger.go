// Package logging provides config-driven categorized logging for flowctl.
// Each subsystem logs to its own file under the configured log directory;
// categories can be toggled individually and the whole package is a silent
// no-op until Initialize is called with debug mode enabled.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/subsystem.
type Category string

const (
	CategoryPipeline Category = "pipeline" // phase state model, auto-advance
	CategoryDispatch Category = "dispatch" // transition command dispatch
	CategoryStream   Category = "stream"   // event stream reconciliation
	CategoryPager    Category = "pager"    // pagination window manager
	CategoryJournal  Category = "journal"  // sqlite event journal
	CategoryAPI      Category = "api"      // REST adapter, event sources
	CategoryConfig   Category = "config"   // configuration loading
	CategoryMonitor  Category = "monitor"  // live monitor TUI
)

// Options controls Initialize.
type Options struct {
	Dir        string          // log directory, created on demand
	Level      string          // debug|info|warn|error (default info)
	Categories map[string]bool // nil means all categories enabled
	Enabled    bool            // master switch; false keeps everything nop
}

var (
	mu      sync.RWMutex
	opts    Options
	level   zapcore.Level
	loggers = make(map[Category]*zap.SugaredLogger)
	nop     = zap.NewNop().Sugar()
)

// Initialize configures the package. Safe to call once at startup; callers
// before (or without) initialization get nop loggers.
func Initialize(o Options) error {
	mu.Lock()
	defer mu.Unlock()

	if !o.Enabled {
		opts = o
		loggers = make(map[Category]*zap.SugaredLogger)
		return nil
	}
	if o.Dir == "" {
		return fmt.Errorf("logging: directory required")
	}
	if err := os.MkdirAll(o.Dir, 0o755); err != nil {
		return fmt.Errorf("logging: create directory: %w", err)
	}

	lvl, err := zapcore.ParseLevel(o.Level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}

	opts = o
	level = lvl
	loggers = make(map[Category]*zap.SugaredLogger)
	return nil
}

// Shutdown flushes all category loggers.
func Shutdown() {
	mu.RLock()
	defer mu.RUnlock()
	for _, l := range loggers {
		_ = l.Sync()
	}
}

func categoryEnabled(cat Category) bool {
	if !opts.Enabled {
		return false
	}
	if opts.Categories == nil {
		return true
	}
	return opts.Categories[string(cat)]
}

// Get returns the logger for a category. Disabled categories return a nop
// logger so call sites never need to guard.
func Get(cat Category) *zap.SugaredLogger {
	mu.RLock()
	if l, ok := loggers[cat]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[cat]; ok {
		return l
	}
	if !categoryEnabled(cat) {
		loggers[cat] = nop
		return nop
	}
	l, err := build(cat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[logging] %s: %v\n", cat, err)
		loggers[cat] = nop
		return nop
	}
	loggers[cat] = l
	return l
}

func build(cat Category) (*zap.SugaredLogger, error) {
	path := filepath.Join(opts.Dir, string(cat)+".log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(f), level)
	return zap.New(core).Named(string(cat)).Sugar(), nil
}

// Per-category convenience helpers, matching how call sites read:
// logging.Pipeline("campaign %s ...", id).

func Pipeline(format string, args ...interface{})      { Get(CategoryPipeline).Infof(format, args...) }
func PipelineDebug(format string, args ...interface{}) { Get(CategoryPipeline).Debugf(format, args...) }
func Dispatch(format string, args ...interface{})      { Get(CategoryDispatch).Infof(format, args...) }
func DispatchDebug(format string, args ...interface{}) { Get(CategoryDispatch).Debugf(format, args...) }
func Stream(format string, args ...interface{})        { Get(CategoryStream).Infof(format, args...) }
func StreamDebug(format string, args ...interface{})   { Get(CategoryStream).Debugf(format, args...) }
func Pager(format string, args ...interface{})         { Get(CategoryPager).Infof(format, args...) }
func PagerDebug(format string, args ...interface{})    { Get(CategoryPager).Debugf(format, args...) }
func Journal(format string, args ...interface{})       { Get(CategoryJournal).Infof(format, args...) }
func JournalDebug(format string, args ...interface{})  { Get(CategoryJournal).Debugf(format, args...) }
func API(format string, args ...interface{})           { Get(CategoryAPI).Infof(format, args...) }
func APIDebug(format string, args ...interface{})      { Get(CategoryAPI).Debugf(format, args...) }
