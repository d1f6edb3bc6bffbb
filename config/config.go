// Package config holds the engine's runtime configuration. Values come from
// the environment, optionally seeded from a .env file.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

const (
	defaultLogLevel        = "info"
	defaultKillGracePeriod = 5 * time.Second
)

type Config struct {
	// WorkdirRoot is the directory under which session working directories
	// are created. Empty means the system temp dir.
	WorkdirRoot string

	// LogLevel is a logrus level name.
	LogLevel string

	// KillGracePeriod is how long a terminated process tree has between
	// SIGTERM and SIGKILL.
	KillGracePeriod time.Duration
}

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first if present; real environment variables win.
func Load() *Config {
	if err := godotenv.Load(); err == nil {
		log.Debug("Loaded configuration overrides from .env")
	}

	cfg := &Config{
		WorkdirRoot:     os.Getenv("JOBFORGE_WORKDIR_ROOT"),
		LogLevel:        defaultLogLevel,
		KillGracePeriod: defaultKillGracePeriod,
	}
	if lvl := os.Getenv("JOBFORGE_LOG_LEVEL"); lvl != "" {
		cfg.LogLevel = lvl
	}
	if grace := os.Getenv("JOBFORGE_KILL_GRACE_SECONDS"); grace != "" {
		if secs, err := strconv.Atoi(grace); err == nil && secs >= 0 {
			cfg.KillGracePeriod = time.Duration(secs) * time.Second
		} else {
			log.Warnf("Ignoring invalid JOBFORGE_KILL_GRACE_SECONDS=%q", grace)
		}
	}
	return cfg
}
