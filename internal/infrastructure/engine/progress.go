package engine

import (
	"strconv"
	"strings"

	"liveorch/internal/core/domain"
)

// progressParser accumulates one -progress block at a time. Each block
// ends with a progress=continue or progress=end line.
type progressParser struct {
	current domain.TransportCounters
}

// Feed consumes one line and returns the counters once a block is
// complete. Malformed values leave the previous value in place.
func (p *progressParser) Feed(line string) (domain.TransportCounters, bool) {
	key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
	if !ok {
		return domain.TransportCounters{}, false
	}
	value = strings.TrimSpace(value)

	switch key {
	case "frame":
		if n, ok := parseCount(value); ok {
			p.current.FramesSent = n
			p.current.VideoFrames = n
		}
	case "total_size":
		if n, ok := parseCount(value); ok {
			p.current.BytesSent = n
		}
	case "drop_frames":
		if n, ok := parseCount(value); ok {
			p.current.DroppedFrames = n
		}
	case "out_time_us":
		if n, ok := parseCount(value); ok {
			p.current.ElapsedMs = n / 1000
		}
	case "progress":
		return p.current, true
	}
	return domain.TransportCounters{}, false
}

// parseCount accepts non-negative integers; ffmpeg writes N/A before the
// first packet is muxed.
func parseCount(v string) (int64, bool) {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
