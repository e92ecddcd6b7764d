package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBitrateKbps(t *testing.T) {
	kbps, ok := BitrateKbps(125000, 1000)
	assert.True(t, ok)
	assert.Equal(t, 1000.0, kbps)

	_, ok = BitrateKbps(125000, 0)
	assert.False(t, ok)
}

func TestStreamStats_DropRate(t *testing.T) {
	assert.Equal(t, 0.0, StreamStats{DroppedFrames: 3}.DropRate())
	assert.InDelta(t, 5.0, StreamStats{FramesSent: 200, DroppedFrames: 10}.DropRate(), 1e-9)
}

func TestStreamStats_AverageBitrate(t *testing.T) {
	s := StreamStats{BytesSent: 250000, ElapsedMs: 4000}
	assert.Equal(t, 500.0, s.AverageBitrate())
	assert.Equal(t, 0.0, StreamStats{BytesSent: 10}.AverageBitrate())
}

func TestStreamStats_RunningTime(t *testing.T) {
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, int64(0), StreamStats{}.RunningTimeAt(start))

	s := StreamStats{StartedAt: start}
	assert.Equal(t, int64(90), s.RunningTimeAt(start.Add(90*time.Second+400*time.Millisecond)))

	s.EndedAt = start.Add(42 * time.Second)
	assert.Equal(t, int64(42), s.RunningTimeAt(start.Add(time.Hour)))
	assert.Equal(t, int64(42), s.RunningTime())
}
