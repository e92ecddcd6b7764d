package services

import (
	"testing"

	"liveorch/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func testStreamConfig() *domain.StreamConfig {
	cfg := domain.DefaultStreamConfig()
	cfg.Destination = domain.Destination{StreamKey: "key-123", BaseURL: "rtmp://ingest.example.com/live/"}
	return cfg
}

func TestFlatStrategy_Build(t *testing.T) {
	cfg := testStreamConfig()
	cfg.Advanced.CustomOptions = "-threads 2"

	desc, err := NewFlatStrategy(domain.VariantOKB).Build(cfg)
	require.NoError(t, err)

	assert.Equal(t, domain.VariantOKB, desc.Variant)
	assert.Equal(t, "rtmp://ingest.example.com/live/key-123", desc.DestinationURL)
	assert.Len(t, desc.InputsOf(domain.SourceCamera), 1)
	assert.Len(t, desc.InputsOf(domain.SourceMicrophone), 1)
	assert.Empty(t, desc.Stages)

	assert.Equal(t, "flv", desc.Container.Format)
	assert.True(t, desc.Container.Live)
	assert.Equal(t, 5000, desc.Container.BufferMs)

	assert.Equal(t, 2500, desc.Encode.BitrateKbps)
	assert.Equal(t, 2500, desc.Encode.MaxRateKbps)
	assert.Equal(t, 5000, desc.Encode.BufferSizeKbps)
	assert.Equal(t, "zerolatency", desc.Encode.Tune)
	assert.Equal(t, "3.0", desc.Encode.Level)
	assert.Equal(t, 60, desc.Encode.KeyframeInterval)
	assert.Equal(t, 128, desc.Audio.BitrateKbps)
	assert.Equal(t, []string{"-threads", "2"}, desc.ExtraArgs)
}

func TestFlatStrategy_Containers(t *testing.T) {
	cfg := testStreamConfig()
	cfg.Network.LowLatency = false

	atf, err := NewFlatStrategy(domain.VariantATF).Build(cfg)
	require.NoError(t, err)
	assert.Equal(t, "mp4", atf.Container.Format)
	assert.Contains(t, atf.Container.Flags["movflags"], "frag_keyframe")
	assert.Empty(t, atf.Encode.Tune)

	ats, err := NewFlatStrategy(domain.VariantATS).Build(cfg)
	require.NoError(t, err)
	assert.Equal(t, "mpegts", ats.Container.Format)
}

func TestFlatStrategy_DescriptorsDoNotShareFlags(t *testing.T) {
	strategy := NewFlatStrategy(domain.VariantATS)

	first, err := strategy.Build(testStreamConfig())
	require.NoError(t, err)
	first.Container.Flags["mpegts_flags"] = "changed"

	second, err := strategy.Build(testStreamConfig())
	require.NoError(t, err)
	assert.Equal(t, "resend_headers", second.Container.Flags["mpegts_flags"])
}

func TestFlatStrategy_BuildRejectsInvalidConfig(t *testing.T) {
	cfg := testStreamConfig()
	cfg.Destination.StreamKey = ""

	_, err := NewFlatStrategy(domain.VariantOKB).Build(cfg)
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestVRStrategy_Panoramic(t *testing.T) {
	cfg := testStreamConfig()
	cfg.Video.Width, cfg.Video.Height = 3840, 1080
	s := NewVRStrategy(cfg, zaptest.NewLogger(t).Sugar())

	desc, err := s.Build(cfg)
	require.NoError(t, err)

	assert.Len(t, desc.InputsOf(domain.SourceCamera), 2)
	require.Len(t, desc.Stages, 2)
	assert.Equal(t, "[0:v][1:v]hstack=inputs=2[panorama]", desc.Stages[0].String())
	assert.Equal(t, "[panorama]v360=input=flat:output=equirect:interpolation=cubic[vrout]", desc.Stages[1].String())
	assert.Equal(t, "vrout", desc.VideoOutput)
	assert.Equal(t, 2*domain.ResolutionTierLow, desc.Encode.Width)
	assert.Equal(t, domain.ResolutionTierLow, desc.Encode.Height)
	assert.Equal(t, "1", desc.Metadata["spherical-video"])
	assert.Equal(t, 60, desc.Encode.KeyframeInterval)
	assert.Equal(t, 30, desc.Encode.MinKeyframeInterval)
}

func TestVRStrategy_StereoAndMono(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()

	stereo := testStreamConfig()
	desc, err := NewVRStrategy(stereo, logger).Build(stereo)
	require.NoError(t, err)
	require.Len(t, desc.Stages, 3)
	assert.Equal(t, "[0:v]scale=2048:4096[left]", desc.Stages[0].String())
	assert.Equal(t, "[left][right]hstack=inputs=2[vrout]", desc.Stages[2].String())
	assert.Equal(t, "left_right", desc.Metadata["stereo_mode"])

	mono := testStreamConfig()
	mono.Video.Width, mono.Video.Height = 1440, 1080
	desc, err = NewVRStrategy(mono, logger).Build(mono)
	require.NoError(t, err)
	require.Len(t, desc.Stages, 1)
	assert.Equal(t, "[0:v]scale=2048:2048[vrout]", desc.Stages[0].String())
	assert.Len(t, desc.InputsOf(domain.SourceCamera), 1)
}

func TestVRStrategy_Overrides(t *testing.T) {
	cfg := testStreamConfig()
	cfg.Video.Width, cfg.Video.Height = 1440, 1080
	s := NewVRStrategy(cfg, zaptest.NewLogger(t).Sugar())

	require.NoError(t, s.SetMode(domain.GeometryPanoramic))
	require.NoError(t, s.SetResolution(3000))
	require.NoError(t, s.SetProjection(domain.ProjectionEquiangular))

	desc, err := s.Build(cfg)
	require.NoError(t, err)
	assert.Equal(t, 6000, desc.Encode.Width)
	assert.Contains(t, desc.Stages[1].Options, "output=eac")

	assert.ErrorIs(t, s.SetResolution(512), domain.ErrInvalidGeometry)
	assert.ErrorIs(t, s.SetResolution(20000), domain.ErrInvalidGeometry)
	assert.ErrorIs(t, s.SetMode(domain.GeometryMode(9)), domain.ErrInvalidGeometry)
	assert.Equal(t, 3000, s.Geometry().Resolution)

	s.Reconfigure(cfg)
	g := s.Geometry()
	assert.Equal(t, domain.GeometryMonoscopic, g.Mode)
	assert.Equal(t, domain.ResolutionTierLow, g.Resolution)
	assert.Equal(t, domain.ProjectionEquiangular, g.Projection, "projection survives reconfigure")
}

func TestVRStrategy_Narrate(t *testing.T) {
	cfg := testStreamConfig()
	cfg.Video.Width, cfg.Video.Height = 3840, 1080
	s := NewVRStrategy(cfg, zaptest.NewLogger(t).Sugar())

	msg := s.Narrate(domain.StreamStats{Bitrate: 1500, FPS: 29.97}, 12)
	assert.Equal(t, "VR Panorama 360 | bitrate 1500.0kbps, fps 30.0fps, duration 12s", msg)
}
