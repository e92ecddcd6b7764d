package domain

import (
	"fmt"
	"strings"
	"time"
)

type VideoConfig struct {
	Width   int    `json:"width" yaml:"width"`
	Height  int    `json:"height" yaml:"height"`
	Bitrate int    `json:"bitrate_kbps" yaml:"bitrate_kbps"`
	FPS     int    `json:"fps" yaml:"fps"`
	Codec   string `json:"codec" yaml:"codec"`
	Preset  string `json:"preset" yaml:"preset"`
	Profile string `json:"profile" yaml:"profile"`
	// Level is stored as major*10+minor, e.g. 41 for 4.1.
	Level   int `json:"level" yaml:"level"`
	GOPSize int `json:"gop_size" yaml:"gop_size"`
}

// LevelString renders the encoder level in dotted form ("3.0", "4.1").
func (v VideoConfig) LevelString() string {
	return fmt.Sprintf("%d.%d", v.Level/10, v.Level%10)
}

type AudioConfig struct {
	SampleRate int    `json:"sample_rate" yaml:"sample_rate"`
	Channels   int    `json:"channels" yaml:"channels"`
	Bitrate    int    `json:"bitrate_kbps" yaml:"bitrate_kbps"`
	Codec      string `json:"codec" yaml:"codec"`
	Profile    int    `json:"profile" yaml:"profile"`
}

type NetworkPolicy struct {
	Timeout         time.Duration `json:"timeout" yaml:"timeout"`
	RetryCount      int           `json:"retry_count" yaml:"retry_count"`
	AdaptiveBitrate bool          `json:"adaptive_bitrate" yaml:"adaptive_bitrate"`
	BufferSize      time.Duration `json:"buffer_size" yaml:"buffer_size"`
	LowLatency      bool          `json:"low_latency" yaml:"low_latency"`
}

type Destination struct {
	StreamKey string `json:"stream_key"`
	BaseURL   string `json:"base_url"`
}

// URL joins the base URL and the stream key without inserting a separator.
func (d Destination) URL() string {
	return d.BaseURL + d.StreamKey
}

func (d Destination) IsComplete() bool {
	return d.StreamKey != "" && d.BaseURL != ""
}

type AdvancedOptions struct {
	HardwareAcceleration bool   `json:"hardware_acceleration" yaml:"hardware_acceleration"`
	AudioFilter          bool   `json:"audio_filter" yaml:"audio_filter"`
	VideoFilter          bool   `json:"video_filter" yaml:"video_filter"`
	CustomOptions        string `json:"custom_options" yaml:"custom_options"`
}

// StreamConfig is the full parameter set for one upload session. All fields
// are plain values so Copy yields a fully independent duplicate.
type StreamConfig struct {
	Video       VideoConfig     `json:"video"`
	Audio       AudioConfig     `json:"audio"`
	Network     NetworkPolicy   `json:"network"`
	Destination Destination     `json:"destination"`
	Variant     ProtocolVariant `json:"variant"`
	Advanced    AdvancedOptions `json:"advanced"`
}

func DefaultStreamConfig() *StreamConfig {
	return &StreamConfig{
		Video: VideoConfig{
			Width:   1920,
			Height:  1080,
			Bitrate: 2500,
			FPS:     30,
			Codec:   "libx264",
			Preset:  "ultrafast",
			Profile: "baseline",
			Level:   30,
			GOPSize: 60,
		},
		Audio: AudioConfig{
			SampleRate: 44100,
			Channels:   2,
			Bitrate:    128,
			Codec:      "aac",
			Profile:    1,
		},
		Network: NetworkPolicy{
			Timeout:         10 * time.Second,
			RetryCount:      3,
			AdaptiveBitrate: true,
			BufferSize:      5000 * time.Millisecond,
			LowLatency:      true,
		},
		Variant: VariantOKB,
		Advanced: AdvancedOptions{
			HardwareAcceleration: true,
		},
	}
}

// NewStreamConfigFromPreset returns the defaults with preset applied.
func NewStreamConfigFromPreset(preset QualityPreset) *StreamConfig {
	cfg := DefaultStreamConfig()
	cfg.ApplyPreset(preset)
	return cfg
}

// ApplyPreset sets resolution, bitrate and frame rate for the tier and, for
// every tier except custom, the encoder tuning from the tier table.
func (c *StreamConfig) ApplyPreset(preset QualityPreset) {
	tier, ok := presetTable[preset]
	if !ok {
		return
	}
	c.Video.Width = tier.width
	c.Video.Height = tier.height
	c.Video.Bitrate = tier.bitrate
	c.Video.FPS = tier.fps

	tuning, ok := tuningTable[preset]
	if !ok {
		return
	}
	c.Video.Preset = tuning.encoderPreset
	c.Video.Profile = tuning.profile
	c.Video.Level = tuning.level
	c.Audio.Bitrate = tuning.audioBitrate
	c.Advanced.HardwareAcceleration = tuning.hardwareAcceleration
}

// IsValid reports whether the configuration can be used to start a session.
func (c *StreamConfig) IsValid() bool {
	return c.Validate() == nil
}

// Validate returns the first violated constraint wrapped in ErrInvalidConfig.
func (c *StreamConfig) Validate() error {
	switch {
	case c.Destination.StreamKey == "":
		return fmt.Errorf("%w: stream key is empty", ErrInvalidConfig)
	case c.Destination.BaseURL == "":
		return fmt.Errorf("%w: base url is empty", ErrInvalidConfig)
	}

	positive := []struct {
		name  string
		value int
	}{
		{"video width", c.Video.Width},
		{"video height", c.Video.Height},
		{"video bitrate", c.Video.Bitrate},
		{"video fps", c.Video.FPS},
		{"audio sample rate", c.Audio.SampleRate},
		{"audio channels", c.Audio.Channels},
		{"audio bitrate", c.Audio.Bitrate},
	}
	for _, field := range positive {
		if field.value <= 0 {
			return fmt.Errorf("%w: %s must be > 0, got %d", ErrInvalidConfig, field.name, field.value)
		}
	}
	return nil
}

func (c *StreamConfig) Summary() string {
	return fmt.Sprintf("video %dx%d, %dkbps, %dfps | audio %dHz, %d ch, %dkbps | protocol %s",
		c.Video.Width, c.Video.Height, c.Video.Bitrate, c.Video.FPS,
		c.Audio.SampleRate, c.Audio.Channels, c.Audio.Bitrate,
		c.Variant,
	)
}

func (c *StreamConfig) Copy() *StreamConfig {
	dup := *c
	return &dup
}

// AspectRatio falls back to 16:9 when height is not set.
func (c *StreamConfig) AspectRatio() float64 {
	if c.Video.Height <= 0 {
		return 16.0 / 9.0
	}
	return float64(c.Video.Width) / float64(c.Video.Height)
}

func (c *StreamConfig) DestinationURL() string {
	return c.Destination.URL()
}

// CustomArgs splits the free-form engine options on whitespace.
func (c *StreamConfig) CustomArgs() []string {
	return strings.Fields(c.Advanced.CustomOptions)
}
