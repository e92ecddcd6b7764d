package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *StreamConfig {
	cfg := DefaultStreamConfig()
	cfg.Destination = Destination{StreamKey: "abcd-efgh", BaseURL: "rtmp://ingest.example.com/live/"}
	return cfg
}

func TestStreamConfig_IsValid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*StreamConfig)
		want   bool
	}{
		{name: "complete", mutate: func(*StreamConfig) {}, want: true},
		{name: "empty stream key", mutate: func(c *StreamConfig) { c.Destination.StreamKey = "" }},
		{name: "empty base url", mutate: func(c *StreamConfig) { c.Destination.BaseURL = "" }},
		{name: "zero width", mutate: func(c *StreamConfig) { c.Video.Width = 0 }},
		{name: "negative height", mutate: func(c *StreamConfig) { c.Video.Height = -1 }},
		{name: "zero video bitrate", mutate: func(c *StreamConfig) { c.Video.Bitrate = 0 }},
		{name: "zero fps", mutate: func(c *StreamConfig) { c.Video.FPS = 0 }},
		{name: "zero sample rate", mutate: func(c *StreamConfig) { c.Audio.SampleRate = 0 }},
		{name: "zero channels", mutate: func(c *StreamConfig) { c.Audio.Channels = 0 }},
		{name: "negative audio bitrate", mutate: func(c *StreamConfig) { c.Audio.Bitrate = -64 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			assert.Equal(t, tt.want, cfg.IsValid())
			if !tt.want {
				assert.True(t, errors.Is(cfg.Validate(), ErrInvalidConfig))
			}
		})
	}
}

func TestStreamConfig_DefaultsNeedDestination(t *testing.T) {
	cfg := DefaultStreamConfig()
	assert.False(t, cfg.IsValid())
	assert.Equal(t, VariantOKB, cfg.Variant)
}

func TestStreamConfig_ApplyPreset(t *testing.T) {
	tests := []struct {
		preset      QualityPreset
		width       int
		height      int
		bitrate     int
		fps         int
		encPreset   string
		profile     string
		level       int
		audio       int
		hardwareAcc bool
	}{
		{PresetUltraLow, 640, 480, 500, 15, "ultrafast", "baseline", 30, 64, false},
		{PresetLow, 854, 480, 800, 24, "ultrafast", "baseline", 30, 64, false},
		{PresetMedium, 1280, 720, 1500, 30, "veryfast", "main", 31, 96, true},
		{PresetHigh, 1920, 1080, 2500, 30, "fast", "high", 41, 128, true},
		{PresetUltraHigh, 2560, 1440, 4000, 30, "fast", "high", 41, 128, true},
	}

	for _, tt := range tests {
		t.Run(tt.preset.String(), func(t *testing.T) {
			cfg := NewStreamConfigFromPreset(tt.preset)
			assert.Equal(t, tt.width, cfg.Video.Width)
			assert.Equal(t, tt.height, cfg.Video.Height)
			assert.Equal(t, tt.bitrate, cfg.Video.Bitrate)
			assert.Equal(t, tt.fps, cfg.Video.FPS)
			assert.Equal(t, tt.encPreset, cfg.Video.Preset)
			assert.Equal(t, tt.profile, cfg.Video.Profile)
			assert.Equal(t, tt.level, cfg.Video.Level)
			assert.Equal(t, tt.audio, cfg.Audio.Bitrate)
			assert.Equal(t, tt.hardwareAcc, cfg.Advanced.HardwareAcceleration)
		})
	}
}

func TestStreamConfig_ApplyCustomPresetKeepsValues(t *testing.T) {
	cfg := validConfig()
	cfg.Video.Width, cfg.Video.Height, cfg.Video.Bitrate = 1000, 500, 1234
	before := *cfg

	cfg.ApplyPreset(PresetCustom)

	assert.Equal(t, before, *cfg)
}

func TestStreamConfig_CopyIsIndependent(t *testing.T) {
	cfg := validConfig()
	dup := cfg.Copy()

	dup.Video.Width = 640
	dup.Destination.StreamKey = "other"
	dup.Network.LowLatency = false

	assert.Equal(t, 1920, cfg.Video.Width)
	assert.Equal(t, "abcd-efgh", cfg.Destination.StreamKey)
	assert.True(t, cfg.Network.LowLatency)
}

func TestStreamConfig_Summary(t *testing.T) {
	cfg := validConfig()
	assert.Equal(t,
		"video 1920x1080, 2500kbps, 30fps | audio 44100Hz, 2 ch, 128kbps | protocol OKB",
		cfg.Summary(),
	)
}

func TestStreamConfig_Derived(t *testing.T) {
	cfg := validConfig()
	assert.Equal(t, "rtmp://ingest.example.com/live/abcd-efgh", cfg.DestinationURL())
	assert.InDelta(t, 16.0/9.0, cfg.AspectRatio(), 1e-9)
	assert.Equal(t, "3.0", cfg.Video.LevelString())

	cfg.Video.Height = 0
	assert.InDelta(t, 16.0/9.0, cfg.AspectRatio(), 1e-9)

	cfg.Advanced.CustomOptions = "  -x264-params  keyint=60 "
	assert.Equal(t, []string{"-x264-params", "keyint=60"}, cfg.CustomArgs())
}

func TestParseQualityPreset(t *testing.T) {
	p, err := ParseQualityPreset("Ultra-High")
	require.NoError(t, err)
	assert.Equal(t, PresetUltraHigh, p)

	_, err = ParseQualityPreset("4k")
	assert.Error(t, err)
}
