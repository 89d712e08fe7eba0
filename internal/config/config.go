// Package config holds the defaults for the rtk server and CLI.
package config

import (
	"fmt"
	"time"
)

// ServerConfig holds configuration for the rtk API server.
type ServerConfig struct {
	Addr      string // Listen address (default ":8080")
	LogLevel  string // Log level: debug, info, warn, error
	LogFormat string // Log format: text, json
	DBPath    string // SQLite database path (default ~/.rtk/rtk.db, ":memory:" for testing)

	// Run bounds every scenario executed through POST /runs.
	Run RunConfig
	// MaxBodyBytes caps the size of an uploaded scenario.
	MaxBodyBytes int64
}

// RunConfig bounds a single scenario execution.
type RunConfig struct {
	// Timeout is the wall-clock budget of one run.
	Timeout time.Duration
	// MaxTicks caps the scenario's own tick budget; 0 leaves it alone.
	MaxTicks uint64
	// Realtime allows scenarios to pace ticks against the wall clock.
	Realtime bool
	// MaxTasks and MaxMutexes cap the kernel tables a scenario may ask
	// for; 0 leaves them alone.
	MaxTasks   uint32
	MaxMutexes uint32
}

// DefaultServerConfig returns sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:         ":8080",
		LogLevel:     "info",
		LogFormat:    "text",
		Run:          DefaultRunConfig(),
		MaxBodyBytes: 1 << 20,
	}
}

// DefaultRunConfig returns the limits used by the server. The CLI runs
// scenarios without a tick cap.
func DefaultRunConfig() RunConfig {
	return RunConfig{
		Timeout:    30 * time.Second,
		MaxTicks:   600_000,
		MaxTasks:   256,
		MaxMutexes: 256,
	}
}

// Apply clamps a scenario's tick budget and pacing to the configured limits.
// A zero budget means unlimited and is replaced by the cap.
func (c RunConfig) Apply(maxTicks uint64, realtime bool) (uint64, bool) {
	if c.MaxTicks > 0 && (maxTicks == 0 || maxTicks > c.MaxTicks) {
		maxTicks = c.MaxTicks
	}
	return maxTicks, realtime && c.Realtime
}

// CheckTables rejects kernel table sizes above the configured caps.
func (c RunConfig) CheckTables(maxTasks, maxMutexes uint32) error {
	if c.MaxTasks > 0 && maxTasks > c.MaxTasks {
		return fmt.Errorf("max_tasks %d exceeds the server limit of %d", maxTasks, c.MaxTasks)
	}
	if c.MaxMutexes > 0 && maxMutexes > c.MaxMutexes {
		return fmt.Errorf("max_mutexes %d exceeds the server limit of %d", maxMutexes, c.MaxMutexes)
	}
	return nil
}
