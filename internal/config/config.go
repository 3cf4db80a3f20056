// Package config loads the server configuration from the environment and
// optimization run files from YAML.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"

	"github.com/DickShmiggleTM/qux-95-genesis-core-sub001/internal/errors"
	"github.com/DickShmiggleTM/qux-95-genesis-core-sub001/internal/logging"
	"github.com/DickShmiggleTM/qux-95-genesis-core-sub001/internal/optimization/engine"
)

type Config struct {
	Environment string `env:"ENV" envDefault:"development"`
	HTTP        struct {
		Port            int           `env:"HTTP_PORT" envDefault:"8080"`
		ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
		WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
		IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
		ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"30s"`
		RequestTimeout  time.Duration `env:"HTTP_REQUEST_TIMEOUT" envDefault:"60s"`
	}
	Logging struct {
		Level  string `env:"LOG_LEVEL"`
		Format string `env:"LOG_FORMAT" envDefault:"json"`
		Output string `env:"LOG_OUTPUT" envDefault:"stderr"`
	}
	Optimization struct {
		DefaultMethod string  `env:"OPT_DEFAULT_METHOD" envDefault:"sgd"`
		MaxIterations int     `env:"OPT_MAX_ITERATIONS" envDefault:"1000"`
		Tolerance     float64 `env:"OPT_TOLERANCE" envDefault:"1e-6"`
		LearningRate  float64 `env:"OPT_LEARNING_RATE" envDefault:"0.01"`
		LBFGSHistory  int     `env:"OPT_LBFGS_HISTORY" envDefault:"10"`
		// WorkerCount bounds the runs executing at once.
		WorkerCount int `env:"OPT_WORKER_COUNT" envDefault:"10"`
		// StepLogLimit caps the steps kept per context, 0 keeps all.
		StepLogLimit int `env:"OPT_STEP_LOG_LIMIT" envDefault:"0"`
	}
}

func Load() (*Config, error) {
	cfg := &Config{}

	// Parse environment variables
	if err := env.Parse(cfg); err != nil {
		return nil, errors.Wrap(err, "parse environment").WithOperation("load").WithComponent("config")
	}

	// Set default logging level based on environment
	if cfg.Logging.Level == "" {
		if cfg.Environment == "development" {
			cfg.Logging.Level = "debug"
		} else {
			cfg.Logging.Level = "info"
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	fail := func(format string, args ...interface{}) error {
		return errors.Errorf(format, args...).WithOperation("validate").WithComponent("config")
	}

	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fail("HTTP_PORT %d out of range", c.HTTP.Port)
	}
	if _, err := logging.ParseFormat(c.Logging.Format); err != nil {
		return fail("LOG_FORMAT: %v", err)
	}
	o := c.Optimization
	switch {
	case o.WorkerCount <= 0:
		return fail("OPT_WORKER_COUNT must be positive, got %d", o.WorkerCount)
	case o.MaxIterations <= 0:
		return fail("OPT_MAX_ITERATIONS must be positive, got %d", o.MaxIterations)
	case o.Tolerance <= 0:
		return fail("OPT_TOLERANCE must be positive, got %g", o.Tolerance)
	case o.LearningRate <= 0:
		return fail("OPT_LEARNING_RATE must be positive, got %g", o.LearningRate)
	case o.LBFGSHistory <= 0:
		return fail("OPT_LBFGS_HISTORY must be positive, got %d", o.LBFGSHistory)
	case o.StepLogLimit < 0:
		return fail("OPT_STEP_LOG_LIMIT must not be negative, got %d", o.StepLogLimit)
	}
	return nil
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.HTTP.Port)
}

// LoggingConfig converts the LOG_* settings for logging.NewLogger.
func (c *Config) LoggingConfig() *logging.Config {
	return &logging.Config{
		Level:  c.Logging.Level,
		Format: c.Logging.Format,
		Output: c.Logging.Output,
	}
}

// EngineDefaults converts the OPT_* settings into engine defaults.
func (c *Config) EngineDefaults() engine.Defaults {
	o := c.Optimization
	return engine.Defaults{
		Method:        strings.ToLower(o.DefaultMethod),
		MaxIterations: o.MaxIterations,
		Tolerance:     o.Tolerance,
		LearningRate:  o.LearningRate,
		LBFGSHistory:  o.LBFGSHistory,
		StepLogLimit:  o.StepLogLimit,
	}
}

// GetEnv returns the value of the environment variable or the default value
func GetEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// GetEnvAsInt returns the value of the environment variable as int or the default value
func GetEnvAsInt(key string, defaultValue int) int {
	valueStr := GetEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}
