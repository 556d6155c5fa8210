// Copyright (C) 2025 Smartalk (dev@smartalk.online)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package backoffice

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/smartalk-online/backoffice/services/backoffice/telemetry"
)

// Config configures the back office service. Values come from an
// optional YAML file, overridden by SMARTALK_* environment variables.
type Config struct {
	// ListenAddr is the HTTP bind address.
	// Default: ":8080"
	ListenAddr string `yaml:"listen_addr"`

	// DataDir is the Badger database directory. Ignored when InMemory
	// is set.
	// Default: ~/.smartalk/backoffice
	DataDir string `yaml:"data_dir"`

	// InMemory runs the store without persistence. For tests and local
	// experiments only.
	InMemory bool `yaml:"in_memory"`

	// HeadCoach receives the placeholder report cards seeded for new
	// reporting windows.
	// Default: "JJ"
	HeadCoach string `yaml:"head_coach"`

	// LogLevel is one of debug, info, warn, error.
	// Default: "info"
	LogLevel string `yaml:"log_level"`

	// LogJSON switches log output to JSON records.
	LogJSON bool `yaml:"log_json"`

	// Debug enables Gin debug mode and request logging.
	Debug bool `yaml:"debug"`

	// ShutdownGraceSeconds is how long in-flight requests get to finish
	// on SIGTERM.
	// Default: 10
	ShutdownGraceSeconds int `yaml:"shutdown_grace_seconds"`

	// Telemetry configures trace export.
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// ShutdownGrace returns the shutdown grace as a duration.
func (c Config) ShutdownGrace() time.Duration {
	return time.Duration(c.ShutdownGraceSeconds) * time.Second
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	dataDir := "backoffice-data"
	if home, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(home, ".smartalk", "backoffice")
	}
	return Config{
		ListenAddr:           ":8080",
		DataDir:              dataDir,
		HeadCoach:            "JJ",
		LogLevel:             "info",
		ShutdownGraceSeconds: 10,
		Telemetry:            telemetry.DefaultConfig(),
	}
}

// LoadConfig builds a Config from defaults, the YAML file at path (if
// path is non-empty and the file exists), and environment overrides,
// in that order.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// fall through to env overrides
		case err != nil:
			return cfg, fmt.Errorf("failed to read config file %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		}
	}

	cfg.ListenAddr = getEnvString("SMARTALK_LISTEN_ADDR", cfg.ListenAddr)
	cfg.DataDir = getEnvString("SMARTALK_DATA_DIR", cfg.DataDir)
	cfg.InMemory = getEnvBool("SMARTALK_IN_MEMORY", cfg.InMemory)
	cfg.HeadCoach = getEnvString("SMARTALK_HEAD_COACH", cfg.HeadCoach)
	cfg.LogLevel = getEnvString("SMARTALK_LOG_LEVEL", cfg.LogLevel)
	cfg.LogJSON = getEnvBool("SMARTALK_LOG_JSON", cfg.LogJSON)
	cfg.Debug = getEnvBool("SMARTALK_DEBUG", cfg.Debug)
	cfg.ShutdownGraceSeconds = getEnvInt("SMARTALK_SHUTDOWN_GRACE_SECONDS", cfg.ShutdownGraceSeconds)

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if boolVal, err := strconv.ParseBool(val); err == nil {
			return boolVal
		}
	}
	return defaultVal
}
