// Package logging configures the process-wide slog handler and provides
// helpers for duration-based level elevation and debug sampling.
package logging

import (
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"time"
)

// Setup installs the default slog handler. format is "text" or "json";
// level is one of "debug", "info", "warn", "error" (unknown values fall
// back to info).
func Setup(level, format string) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// Timed logs a completed operation at debug level, elevating to info with
// slow=true when the duration exceeds threshold. Attrs are appended after
// the duration_ms attribute.
func Timed(log *slog.Logger, msg string, duration, threshold time.Duration, attrs ...any) {
	base := append([]any{"duration_ms", duration.Milliseconds()}, attrs...)
	if threshold > 0 && duration > threshold {
		log.Info(msg, append(base, "slow", true)...)
		return
	}
	log.Debug(msg, base...)
}

// Sampler passes every Nth call. Used to keep high-frequency debug events
// (progress publishes, cache hits) from flooding the log stream.
type Sampler struct {
	every uint64
	count atomic.Uint64
}

// NewSampler creates a sampler that admits one in every n calls. n <= 1
// admits everything.
func NewSampler(n int) *Sampler {
	if n < 1 {
		n = 1
	}
	return &Sampler{every: uint64(n)}
}

// Allow reports whether this occurrence should be logged.
func (s *Sampler) Allow() bool {
	return s.count.Add(1)%s.every == 1 || s.every == 1
}
