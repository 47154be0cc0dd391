// Package config loads runtime settings from the environment and lets
// sub-commands override them with flags.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/xyproto/env/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/justincjohnson/lumen"
)

// Environment variables read by Load.
const (
	EnvSchedulers = "LUMEN_SCHEDULERS"
	EnvMinHeap    = "LUMEN_MIN_HEAP"
	EnvMaxHeap    = "LUMEN_MAX_HEAP"
	EnvInit       = "LUMEN_INIT"
	EnvLogLevel   = "LUMEN_LOG_LEVEL"
	EnvDebug      = "LUMEN_DEBUG"
	EnvHistory    = "LUMEN_HISTORY"
)

const historyFile = ".lumen_history"

// Config holds everything needed to build a runtime.
type Config struct {
	Schedulers  int
	MinHeapSize int
	MaxHeapSize int // 0 means unbounded
	InitMFA     lumen.MFA
	LogLevel    zapcore.Level
	Debug       bool
	HistoryFile string
}

// Load reads the environment. Unset variables keep their defaults.
func Load() (*Config, error) {
	// env caches the environment on first use; refresh it so every Load sees
	// the current values
	env.Load()
	c := &Config{
		Schedulers:  env.Int(EnvSchedulers, runtime.NumCPU()),
		MinHeapSize: env.Int(EnvMinHeap, lumen.MinHeapSize),
		MaxHeapSize: env.Int(EnvMaxHeap, 0),
		Debug:       env.Bool(EnvDebug),
		HistoryFile: env.Str(EnvHistory, defaultHistory()),
	}

	mfa, err := lumen.ParseMFA(env.Str(EnvInit, lumen.DefaultInitMFA.String()))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", EnvInit, err)
	}
	c.InitMFA = mfa

	level := env.Str(EnvLogLevel, "info")
	if c.Debug {
		level = "debug"
	}
	if c.LogLevel, err = zapcore.ParseLevel(level); err != nil {
		return nil, fmt.Errorf("%s: %w", EnvLogLevel, err)
	}
	return c, nil
}

// RegisterFlags binds the overridable settings to fs, using the loaded values
// as defaults.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.Schedulers, "schedulers", c.Schedulers, "number of schedulers (one per OS thread)")
	fs.IntVar(&c.MinHeapSize, "heap", c.MinHeapSize, "minimum init heap size in words")
	fs.Var((*mfaValue)(&c.InitMFA), "init", "init entry point as module:function/arity")
	fs.Var(&c.LogLevel, "log-level", "log level (debug, info, warn, error)")
}

// Validate reports every setting that cannot be used.
func (c *Config) Validate() error {
	var errs []error
	if c.Schedulers < 1 {
		errs = append(errs, fmt.Errorf("schedulers must be at least 1, got %d", c.Schedulers))
	}
	if c.MinHeapSize < 0 {
		errs = append(errs, fmt.Errorf("min heap size must not be negative, got %d", c.MinHeapSize))
	}
	if c.MaxHeapSize < 0 {
		errs = append(errs, fmt.Errorf("max heap size must not be negative, got %d", c.MaxHeapSize))
	}
	if c.MaxHeapSize > 0 && lumen.NextHeapSize(c.MinHeapSize) > c.MaxHeapSize {
		errs = append(errs, fmt.Errorf("min heap size %d does not fit under max heap size %d", c.MinHeapSize, c.MaxHeapSize))
	}
	if c.InitMFA.Module == "" || c.InitMFA.Function == "" {
		errs = append(errs, errors.New("init entry point must name a module and a function"))
	}
	return errors.Join(errs...)
}

// Logger builds the process logger: development output in debug mode,
// console-encoded production output otherwise.
func (c *Config) Logger() (*zap.Logger, error) {
	var zc zap.Config
	if c.Debug {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
		zc.Encoding = "console"
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	zc.Level = zap.NewAtomicLevelAt(c.LogLevel)
	return zc.Build()
}

func defaultHistory() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return historyFile
	}
	return filepath.Join(home, historyFile)
}

type mfaValue lumen.MFA

func (m *mfaValue) String() string { return lumen.MFA(*m).String() }

func (m *mfaValue) Set(s string) error {
	mfa, err := lumen.ParseMFA(s)
	if err != nil {
		return err
	}
	*m = mfaValue(mfa)
	return nil
}
