package app

import (
	"errors"
	"os"
	"path/filepath"
)

// DefaultStateDir is created next to the pipeline to hold its state file.
const DefaultStateDir = ".remotebox"

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	PipelinePath string // .hcl file or directory
	StatePath    string // sqlite state file

	LogFormat       string
	LogLevel        string
	HealthcheckPort int
	// WorkerCount overrides the pipeline's settings block when positive.
	WorkerCount int
	// EventsURL, when set, names a socket.io server that receives node
	// transitions during `up`.
	EventsURL string
}

// NewConfig validates cfg and fills in defaults.
func NewConfig(cfg Config) (*Config, error) {
	if cfg.PipelinePath == "" {
		return nil, errors.New("PipelinePath is a required configuration field and cannot be empty")
	}
	if cfg.StatePath == "" {
		dir := cfg.PipelinePath
		if info, err := os.Stat(dir); err == nil && !info.IsDir() {
			dir = filepath.Dir(dir)
		}
		cfg.StatePath = filepath.Join(dir, DefaultStateDir, "state.db")
	}
	if cfg.HealthcheckPort < 0 {
		return nil, errors.New("healthcheck port cannot be negative")
	}
	return &cfg, nil
}
