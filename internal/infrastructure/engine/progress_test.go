package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgressParser_EmitsOnBlockEnd(t *testing.T) {
	var p progressParser
	lines := []string{
		"frame=150",
		"fps=30.00",
		"bitrate=2500.1kbits/s",
		"total_size=1562500",
		"out_time_us=5000000",
		"dup_frames=0",
		"drop_frames=3",
		"speed=1.00x",
	}
	for _, line := range lines {
		_, done := p.Feed(line)
		require.False(t, done, line)
	}

	counters, done := p.Feed("progress=continue")
	require.True(t, done)
	assert.Equal(t, int64(150), counters.FramesSent)
	assert.Equal(t, int64(150), counters.VideoFrames)
	assert.Equal(t, int64(1562500), counters.BytesSent)
	assert.Equal(t, int64(3), counters.DroppedFrames)
	assert.Equal(t, int64(5000), counters.ElapsedMs)
}

func TestProgressParser_KeepsValuesAcrossBlocks(t *testing.T) {
	var p progressParser
	p.Feed("frame=10")
	p.Feed("total_size=1000")
	p.Feed("progress=continue")

	p.Feed("frame=20")
	p.Feed("total_size=N/A")
	counters, done := p.Feed("progress=end")
	require.True(t, done)
	assert.Equal(t, int64(20), counters.FramesSent)
	assert.Equal(t, int64(1000), counters.BytesSent)
}

func TestProgressParser_IgnoresNoise(t *testing.T) {
	var p progressParser
	_, done := p.Feed("not a progress line")
	assert.False(t, done)
	_, done = p.Feed("out_time_us=-9223372036854775807")
	assert.False(t, done)
	counters, _ := p.Feed("progress=continue")
	assert.Zero(t, counters.ElapsedMs)
}
