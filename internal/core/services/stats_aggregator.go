package services

import (
	"time"

	"liveorch/internal/core/domain"
)

// fps is left untouched until more than fpsWarmupMs of transport time has
// elapsed.
const fpsWarmupMs = 1000

// StatsAggregator folds cumulative transport counters into StreamStats.
// It is not safe for concurrent use; the owning protocol serializes access.
type StatsAggregator struct {
	stats domain.StreamStats
}

// NewStatsAggregator returns an aggregator with zeroed counters.
func NewStatsAggregator() *StatsAggregator {
	return &StatsAggregator{}
}

// Reset clears every counter and stamps the session start.
func (a *StatsAggregator) Reset(startedAt time.Time) {
	a.stats = domain.StreamStats{StartedAt: startedAt}
}

// Update folds cumulative engine counters into the stats. Frame rate is
// only recomputed once at least a second has elapsed.
func (a *StatsAggregator) Update(c domain.TransportCounters) {
	a.stats.BytesSent = c.BytesSent
	a.stats.FramesSent = c.FramesSent
	a.stats.AudioFramesSent = c.AudioFrames
	a.stats.VideoFramesSent = c.VideoFrames
	a.stats.DroppedFrames = c.DroppedFrames
	a.stats.ElapsedMs = c.ElapsedMs

	if kbps, ok := domain.BitrateKbps(c.BytesSent, c.ElapsedMs); ok {
		a.stats.Bitrate = kbps
	}
	if c.ElapsedMs > fpsWarmupMs {
		a.stats.FPS = float64(c.FramesSent) * 1000 / float64(c.ElapsedMs)
	}
}

func (a *StatsAggregator) IncrementRetry() {
	a.stats.RetryCount++
}

// MarkEnded freezes the running time. Later calls keep the first end time.
func (a *StatsAggregator) MarkEnded(endedAt time.Time) {
	if a.stats.StartedAt.IsZero() || !a.stats.EndedAt.IsZero() {
		return
	}
	a.stats.EndedAt = endedAt
}

// Snapshot returns a copy of the current stats.
func (a *StatsAggregator) Snapshot() domain.StreamStats {
	return a.stats
}
