package engine

import (
	"parkguard/internal/bounded"
)

// DedupeCache remembers the most recent frame indexes of one task. It is
// bounded FIFO so a long stream keeps a fixed footprint.
type DedupeCache struct {
	seen bounded.Map[int64, struct{}]
}

func NewDedupeCache(capacity int) *DedupeCache {
	if capacity <= 0 {
		capacity = 256
	}
	return &DedupeCache{seen: bounded.NewFIFO[int64, struct{}](capacity, nil)}
}

// Seen reports whether index was already observed and records it otherwise.
func (d *DedupeCache) Seen(index int64) bool {
	if _, ok := d.seen.Get(index); ok {
		return true
	}
	d.seen.Put(index, struct{}{})
	return false
}

func (d *DedupeCache) Len() int { return d.seen.Len() }
