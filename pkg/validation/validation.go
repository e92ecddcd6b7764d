package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var (
	// StreamKeyRegex accepts the characters ingest services hand out in keys.
	StreamKeyRegex = regexp.MustCompile(`^[a-zA-Z0-9_\-?=&.]+$`)

	OperatorIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

var ingestSchemes = map[string]bool{
	"rtmp":  true,
	"rtmps": true,
	"srt":   true,
	"http":  true,
	"https": true,
}

var sampleRates = map[int]bool{
	8000:  true,
	16000: true,
	22050: true,
	32000: true,
	44100: true,
	48000: true,
}

// ValidateStreamKey validates a stream key
func ValidateStreamKey(key string) error {
	if key == "" {
		return fmt.Errorf("stream key is required")
	}
	if len(key) > 512 {
		return fmt.Errorf("stream key is too long (max 512 characters)")
	}
	if !StreamKeyRegex.MatchString(key) {
		return fmt.Errorf("stream key contains invalid characters")
	}
	return nil
}

// ValidateIngestURL checks the base URL the stream key is appended to.
func ValidateIngestURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("base URL is required")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if !ingestSchemes[strings.ToLower(u.Scheme)] {
		return fmt.Errorf("unsupported ingest scheme %q (must be rtmp, rtmps, srt, http or https)", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("base URL must have a host")
	}
	return nil
}

// ValidateOperatorID validates operator ID format
func ValidateOperatorID(id string) error {
	if id == "" {
		return fmt.Errorf("operator ID is required")
	}
	if len(id) > 64 {
		return fmt.Errorf("operator ID is too long (max 64 characters)")
	}
	if !OperatorIDRegex.MatchString(id) {
		return fmt.Errorf("invalid operator ID format")
	}
	return nil
}

// ValidateSessionID validates a session record ID
func ValidateSessionID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("invalid session ID: %w", err)
	}
	return nil
}

// ValidateResolution validates video dimensions
func ValidateResolution(width, height int) error {
	if width < 160 || height < 120 {
		return fmt.Errorf("resolution %dx%d is too small (min 160x120)", width, height)
	}
	if width > 16384 || height > 16384 {
		return fmt.Errorf("resolution %dx%d is too large (max 16384 per side)", width, height)
	}
	return nil
}

// ValidateBitrate validates a bitrate in kbps
func ValidateBitrate(kbps int) error {
	if kbps < 64 {
		return fmt.Errorf("bitrate must be at least 64 kbps")
	}
	if kbps > 100000 {
		return fmt.Errorf("bitrate is too high (max 100000 kbps)")
	}
	return nil
}

// ValidateFPS validates a frame rate
func ValidateFPS(fps int) error {
	if fps < 1 || fps > 120 {
		return fmt.Errorf("fps must be within [1, 120], got %d", fps)
	}
	return nil
}

// ValidateAudio validates sample rate, channel count and bitrate
func ValidateAudio(sampleRate, channels, kbps int) error {
	if !sampleRates[sampleRate] {
		return fmt.Errorf("unsupported sample rate %d", sampleRate)
	}
	if channels < 1 || channels > 2 {
		return fmt.Errorf("channels must be 1 or 2, got %d", channels)
	}
	if kbps < 8 || kbps > 512 {
		return fmt.Errorf("audio bitrate must be within [8, 512] kbps, got %d", kbps)
	}
	return nil
}

// ValidateLimit validates a page size
func ValidateLimit(limit, maxLimit int) error {
	if limit < 1 {
		return fmt.Errorf("limit must be at least 1")
	}
	if limit > maxLimit {
		return fmt.Errorf("limit is too high (max %d)", maxLimit)
	}
	return nil
}
