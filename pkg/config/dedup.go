package config

import "time"

// DedupConfig controls idempotency-based job reuse.
type DedupConfig struct {
	// SuccessFreshWindow is the span after DONE_SUCCESS within which a
	// duplicate submit returns the cached result.
	SuccessFreshWindow time.Duration `yaml:"success_fresh_window"`

	// RunningMaxAge is the span after which a RUNNING/PENDING record with
	// no heartbeat is considered stuck and reclaimed.
	RunningMaxAge time.Duration `yaml:"running_max_age"`
}

// DefaultDedupConfig returns dedup defaults for the given environment.
// Development keeps the running TTL short so stuck local jobs clear fast.
func DefaultDedupConfig(production bool) *DedupConfig {
	runningMaxAge := 90 * time.Second
	if production {
		runningMaxAge = 300 * time.Second
	}
	return &DedupConfig{
		SuccessFreshWindow: 5 * time.Second,
		RunningMaxAge:      runningMaxAge,
	}
}

func (c *DedupConfig) applyEnv() {
	c.SuccessFreshWindow = envMillis("DEDUP_SUCCESS_FRESH_WINDOW_MS", c.SuccessFreshWindow)
	c.RunningMaxAge = envMillis("DEDUP_RUNNING_MAX_AGE_MS", c.RunningMaxAge)
}
