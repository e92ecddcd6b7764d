package domain

import "time"

// TransportCounters are the cumulative values reported by the transport engine.
type TransportCounters struct {
	BytesSent     int64 `json:"bytes_sent"`
	FramesSent    int64 `json:"frames_sent"`
	AudioFrames   int64 `json:"audio_frames"`
	VideoFrames   int64 `json:"video_frames"`
	DroppedFrames int64 `json:"dropped_frames"`
	ElapsedMs     int64 `json:"elapsed_ms"`
}

// StreamStats is a snapshot of one session's counters and derived rates.
// Bitrate is in kbps.
type StreamStats struct {
	BytesSent       int64     `json:"bytes_sent"`
	FramesSent      int64     `json:"frames_sent"`
	AudioFramesSent int64     `json:"audio_frames_sent"`
	VideoFramesSent int64     `json:"video_frames_sent"`
	DroppedFrames   int64     `json:"dropped_frames"`
	RetryCount      int       `json:"retry_count"`
	ElapsedMs       int64     `json:"elapsed_ms"`
	Bitrate         float64   `json:"bitrate_kbps"`
	FPS             float64   `json:"fps"`
	StartedAt       time.Time `json:"started_at"`
	EndedAt         time.Time `json:"ended_at"`
}

// BitrateKbps converts cumulative bytes over elapsed milliseconds to kbps.
// ok is false when no time has elapsed.
func BitrateKbps(bytesSent, elapsedMs int64) (kbps float64, ok bool) {
	if elapsedMs <= 0 {
		return 0, false
	}
	return float64(bytesSent) * 8 / 1000 / (float64(elapsedMs) / 1000), true
}

func (s StreamStats) AverageBitrate() float64 {
	kbps, _ := BitrateKbps(s.BytesSent, s.ElapsedMs)
	return kbps
}

// DropRate is the percentage of dropped frames.
func (s StreamStats) DropRate() float64 {
	if s.FramesSent == 0 {
		return 0
	}
	return float64(s.DroppedFrames) / float64(s.FramesSent) * 100
}

// RunningTime returns whole seconds since the session started. Once the
// session has ended the value is frozen at its end time.
func (s StreamStats) RunningTime() int64 {
	return s.RunningTimeAt(time.Now())
}

func (s StreamStats) RunningTimeAt(now time.Time) int64 {
	if s.StartedAt.IsZero() {
		return 0
	}
	end := now
	if !s.EndedAt.IsZero() {
		end = s.EndedAt
	}
	secs := int64(end.Sub(s.StartedAt) / time.Second)
	if secs < 0 {
		return 0
	}
	return secs
}
