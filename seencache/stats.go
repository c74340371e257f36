package seencache

import (
	"sync"
	"sync/atomic"
	"time"
)

// Statistics tracks cache behavior over time.
type Statistics struct {
	hits        atomic.Int64
	misses      atomic.Int64
	adds        atomic.Int64
	touches     atomic.Int64
	deletes     atomic.Int64
	evictions   atomic.Int64
	expirations atomic.Int64

	mu          sync.RWMutex
	startTime   time.Time
	currentSize int64
}

// NewStatistics creates a statistics tracker.
func NewStatistics() *Statistics {
	return &Statistics{startTime: time.Now()}
}

// Hit records a lookup that found a live token.
func (s *Statistics) Hit() { s.hits.Add(1) }

// Miss records a lookup that found nothing.
func (s *Statistics) Miss() { s.misses.Add(1) }

// Add records the insertion of a previously unseen token.
func (s *Statistics) Add() { s.adds.Add(1) }

// Touch records a re-add of an already live token.
func (s *Statistics) Touch() { s.touches.Add(1) }

// Delete records an explicit removal.
func (s *Statistics) Delete() { s.deletes.Add(1) }

// Eviction records a removal forced by the size cap.
func (s *Statistics) Eviction() { s.evictions.Add(1) }

// Expiration records a removal caused by age.
func (s *Statistics) Expiration() { s.expirations.Add(1) }

// UpdateSize records the current entry count.
func (s *Statistics) UpdateSize(size int64) {
	s.mu.Lock()
	s.currentSize = size
	s.mu.Unlock()
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Hits        int64
	Misses      int64
	Adds        int64
	Touches     int64
	Deletes     int64
	Evictions   int64
	Expirations int64
	Size        int64
	Uptime      time.Duration
}

// Snapshot returns the current counter values.
func (s *Statistics) Snapshot() Snapshot {
	s.mu.RLock()
	size := s.currentSize
	start := s.startTime
	s.mu.RUnlock()

	return Snapshot{
		Hits:        s.hits.Load(),
		Misses:      s.misses.Load(),
		Adds:        s.adds.Load(),
		Touches:     s.touches.Load(),
		Deletes:     s.deletes.Load(),
		Evictions:   s.evictions.Load(),
		Expirations: s.expirations.Load(),
		Size:        size,
		Uptime:      time.Since(start),
	}
}

// HitRate returns the fraction of lookups that hit, or 0 when no lookups
// have happened.
func (s *Statistics) HitRate() float64 {
	hits := s.hits.Load()
	total := hits + s.misses.Load()
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}
