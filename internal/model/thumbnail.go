package model

import "time"

// ThumbnailRequest is one entry in the Thumbnail Queue (C10). FileName is
// the dedup key within a single Queue instance.
type ThumbnailRequest struct {
	FileName   string
	Priority   int
	EnqueuedAt time.Time
	RetryCount int
}

// ConcurrencyProfile is the per-backend throttle the Thumbnail Queue reads
// from the active context (§4.10 table).
type ConcurrencyProfile struct {
	MaxConcurrent      int
	InterRequestDelay  time.Duration
}

// ProfileFor returns the concurrency profile for a backend's modelKind; an
// unknown kind falls back to the legacy profile.
func ProfileFor(kind ModelKind) ConcurrencyProfile {
	switch kind {
	case ModelAdventurer5M, ModelAdventurer5MPro, ModelAD5X:
		return ConcurrencyProfile{MaxConcurrent: 3, InterRequestDelay: 50 * time.Millisecond}
	default:
		return ConcurrencyProfile{MaxConcurrent: 1, InterRequestDelay: 100 * time.Millisecond}
	}
}

// ThumbnailStats mirrors §4.10's stats block.
type ThumbnailStats struct {
	Completed     int
	Failed        int
	Cancelled     int
	TotalProcessMs int64
}

// AverageProcessMs implements stats.averageProcessMs.
func (s ThumbnailStats) AverageProcessMs() float64 {
	n := s.Completed + s.Failed
	if n == 0 {
		return 0
	}
	return float64(s.TotalProcessMs) / float64(n)
}
