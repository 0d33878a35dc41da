// Package cache stores computed decisions keyed by input fingerprint. It is
// only an optimization: a cold or failing cache changes cost, never answers.
package cache

import (
	"context"
	"time"

	"irrigation-backend/internal/models"
)

// Cache is implemented by Memory and Redis
type Cache interface {
	Get(ctx context.Context, f Fingerprint) (models.Decision, bool)
	Put(ctx context.Context, f Fingerprint, d models.Decision, ttl time.Duration)
	InvalidatePlant(ctx context.Context, plantID int) int
	InvalidateAll(ctx context.Context) int
	Stats() Stats
	Len() int
}

// Stats are cumulative counters since construction
type Stats struct {
	Hits      uint64  `json:"hits"`
	Misses    uint64  `json:"misses"`
	Sets      uint64  `json:"sets"`
	Deletes   uint64  `json:"deletes"`
	Evictions uint64  `json:"evictions"`
	HitRate   float64 `json:"hit_rate"`
}

func hitRate(hits, misses uint64) float64 {
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}
