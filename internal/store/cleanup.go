package store

import (
	"math"
	"runtime"
	"runtime/debug"

	"github.com/dustin/go-humanize"
)

// memSampler reports the process memory in use and the budget it is measured against.
type memSampler func() (used, budget uint64)

// runtimeSampler measures memory obtained from the OS minus what was returned.
// The budget is the runtime memory limit when one is set, else fallback.
func runtimeSampler(fallback uint64) memSampler {
	return func() (uint64, uint64) {
		var m runtime.MemStats
		runtime.ReadMemStats(&m)
		used := m.Sys - m.HeapReleased
		budget := fallback
		if limit := debug.SetMemoryLimit(-1); limit > 0 && limit < math.MaxInt64 {
			budget = uint64(limit)
		}
		return used, budget
	}
}

// maybeCleanup runs at most once per cleanup interval. When memory use is above
// the threshold it forces a collection and drops idle pooled connections.
func (s *Store) maybeCleanup() {
	s.cleanupMu.Lock()
	now := s.now()
	if now.Sub(s.lastCleanup) < s.opts.CleanupInterval {
		s.cleanupMu.Unlock()
		return
	}
	s.lastCleanup = now
	s.cleanupMu.Unlock()

	used, budget := s.sample()
	if budget == 0 {
		return
	}
	percent := float64(used) / float64(budget) * 100
	if percent < s.opts.MemoryThreshold {
		return
	}

	s.logger.Warn("memory above threshold, cleaning up",
		"used", humanize.IBytes(used),
		"budget", humanize.IBytes(budget),
		"percent", percent,
	)
	runtime.GC()
	debug.FreeOSMemory()

	if db, err := s.handle(); err == nil {
		if sqlDB, err := db.DB(); err == nil {
			idle := s.opts.PoolSize
			if db.Dialector.Name() == DriverSQLite {
				idle = 1
			}
			sqlDB.SetMaxIdleConns(0)
			sqlDB.SetMaxIdleConns(idle)
		}
	}

	after, _ := s.sample()
	s.logger.Info("cleanup finished", "used", humanize.IBytes(after))
	if s.opts.OnCleanup != nil {
		s.opts.OnCleanup(percent)
	}
}
