// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package torch

import (
	"fmt"
	"os"
	"strconv"

	"github.com/born-ml/torchbind/internal/native"
)

// Environment variables read by ConfigFromEnv.
const (
	EnvLibrary  = "TORCHBIND_LIBRARY"
	EnvSeed     = "TORCHBIND_SEED"
	EnvLogLevel = "TORCHBIND_LOG_LEVEL"
)

// Config holds runtime configuration.
type Config struct {
	// LibraryPath is the shared library to load.
	// Empty selects the in-process reference engine.
	LibraryPath string

	// Seed is passed to the engine generator when HasSeed is set.
	Seed    int64
	HasSeed bool

	// Logger receives structured logs. Defaults to NoopLogger.
	Logger *Logger

	library native.Library
}

// Option configures a Runtime.
type Option func(*Config)

// WithLibrary loads the engine from the shared library at path.
func WithLibrary(path string) Option {
	return func(c *Config) {
		c.LibraryPath = path
	}
}

// WithLibraryInstance uses an already opened engine library.
// It takes precedence over WithLibrary. The runtime takes ownership of lib.
func WithLibraryInstance(lib native.Library) Option {
	return func(c *Config) {
		c.library = lib
	}
}

// WithSeed seeds the engine generator right after loading.
func WithSeed(seed int64) Option {
	return func(c *Config) {
		c.Seed = seed
		c.HasSeed = true
	}
}

// WithLogger sets the logger.
func WithLogger(l *Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

func applyOptions(opts []Option) Config {
	cfg := Config{
		Logger: NoopLogger(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = NoopLogger()
	}
	return cfg
}

// ConfigFromEnv returns options taken from the environment:
// TORCHBIND_LIBRARY selects the shared library, TORCHBIND_SEED seeds the
// generator and TORCHBIND_LOG_LEVEL enables a text logger on stderr.
// Unset variables contribute nothing.
func ConfigFromEnv() ([]Option, error) {
	var opts []Option
	if path := os.Getenv(EnvLibrary); path != "" {
		opts = append(opts, WithLibrary(path))
	}
	if s := os.Getenv(EnvSeed); s != "" {
		seed, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("torch: %s: %w", EnvSeed, err)
		}
		opts = append(opts, WithSeed(seed))
	}
	if s := os.Getenv(EnvLogLevel); s != "" {
		level, err := ParseLevel(s)
		if err != nil {
			return nil, fmt.Errorf("torch: %s: %w", EnvLogLevel, err)
		}
		opts = append(opts, WithLogger(NewTextLogger(level)))
	}
	return opts, nil
}
