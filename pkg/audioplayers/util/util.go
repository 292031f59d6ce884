package util

import (
	"fmt"
	"math"
	"os"
	"os/signal"
	"syscall"
)

// EnsureDirExists creates the given directory path if it doesn't already exist.
func EnsureDirExists(path string) error {
	if err := os.MkdirAll(path, os.ModePerm); err != nil {
		return fmt.Errorf("ensure directory exists (%s): %w", path, err)
	}
	return nil
}

// FileExists checks if a file exists and is not a directory.
func FileExists(filename string) bool {
	info, err := os.Stat(filename)
	return !os.IsNotExist(err) && !info.IsDir()
}

// SetupCloseHandler creates a listener on a new goroutine that will notify
// the program if it receives an interrupt signal from the OS.
func SetupCloseHandler() chan os.Signal {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	return c
}

// ClampScalar confines the given value to the [0.0, 1.0] range.
// Used for normalizing audio volume levels.
func ClampScalar(v float64) float64 {
	return math.Max(0.0, math.Min(1.0, v))
}

// SanitizeScalar replaces NaN values with zero. Media backends report
// unknown durations as NaN, which must never propagate outward.
func SanitizeScalar(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return v
}
