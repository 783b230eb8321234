// Package fileready implements the File-Ready Gate: it waits for a file
// the Rip Driver produced to stop changing before handing it to the Match
// Worker Pool, using size-stability polling rather than trusting the
// ripper's own exit status.
package fileready

import (
	"context"
	"fmt"
	"os"
	"time"
)

// DefaultReadyFraction is the minimum observed/expected size ratio before a
// file is considered ready.
const DefaultReadyFraction = 0.85

const (
	defaultPollInterval    = 5 * time.Second
	defaultStabilityChecks = 2
	defaultTimeout         = 5 * time.Minute
)

// Progress is emitted during the wait with stage "waiting_for_file".
type Progress struct {
	Percent float64 // size/expected*100, capped at 99
}

// Options configures a Wait call; zero values fall back to spec defaults.
type Options struct {
	PollInterval    time.Duration
	StabilityChecks int
	ReadyFraction   float64
	Timeout         time.Duration
	OnProgress      func(Progress)
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = defaultPollInterval
	}
	if o.StabilityChecks <= 0 {
		o.StabilityChecks = defaultStabilityChecks
	}
	if o.ReadyFraction <= 0 {
		o.ReadyFraction = DefaultReadyFraction
	}
	return o
}

// Wait polls path until it is ready: unchanged for StabilityChecks
// consecutive polls, at least ReadyFraction of expectedBytes, and openable
// for reading. It returns an error (not ready) on timeout or read failure.
func Wait(ctx context.Context, path string, expectedBytes int64, opts Options) error {
	opts = opts.withDefaults()
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = sizeDerivedTimeout(expectedBytes)
	}

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(opts.PollInterval)
	defer ticker.Stop()

	var lastSize int64 = -1
	var stableCount int

	for {
		info, err := os.Stat(path)
		if err == nil {
			size := info.Size()
			if size == lastSize {
				stableCount++
			} else {
				stableCount = 0
			}
			lastSize = size

			if opts.OnProgress != nil && expectedBytes > 0 {
				percent := float64(size) / float64(expectedBytes) * 100
				if percent > 99 {
					percent = 99
				}
				opts.OnProgress(Progress{Percent: percent})
			}

			if stableCount >= opts.StabilityChecks && sufficientSize(size, expectedBytes, opts.ReadyFraction) {
				if err := probeReadable(path); err == nil {
					return nil
				}
			}
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("fileready: %s not ready after %s", path, timeout)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func sufficientSize(size, expected int64, fraction float64) bool {
	if expected <= 0 {
		return size > 0
	}
	return float64(size) >= float64(expected)*fraction
}

func probeReadable(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	return f.Close()
}

// sizeDerivedTimeout implements max(default_timeout, expected_size_MiB * 2s).
func sizeDerivedTimeout(expectedBytes int64) time.Duration {
	const mib = 1024 * 1024
	sizeBased := time.Duration(expectedBytes/mib) * 2 * time.Second
	if sizeBased > defaultTimeout {
		return sizeBased
	}
	return defaultTimeout
}
