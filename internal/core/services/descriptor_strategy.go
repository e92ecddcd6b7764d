package services

import (
	"fmt"
	"maps"
	"sync"

	"liveorch/internal/core/domain"

	"go.uber.org/zap"
)

// DescriptorStrategy holds the variant-specific part of a protocol: how a
// configuration becomes a transport descriptor and how status is narrated.
type DescriptorStrategy interface {
	Build(cfg *domain.StreamConfig) (*domain.TransportDescriptor, error)
	// Reconfigure is called whenever the protocol receives a new config,
	// inside or outside a session.
	Reconfigure(cfg *domain.StreamConfig)
	Narrate(stats domain.StreamStats, runningSeconds int64) string
}

func narrateStats(stats domain.StreamStats, runningSeconds int64) string {
	return fmt.Sprintf("bitrate %.1fkbps, fps %.1ffps, duration %ds", stats.Bitrate, stats.FPS, runningSeconds)
}

// FlatStrategy encodes a single camera as-is. Variants differ only in the
// container used towards the ingest server.
type FlatStrategy struct {
	variant   domain.ProtocolVariant
	container domain.ContainerParams
}

// NewFlatStrategy returns the flat-video strategy for OKB, ATF or ATS.
func NewFlatStrategy(variant domain.ProtocolVariant) *FlatStrategy {
	return &FlatStrategy{
		variant:   variant,
		container: containerFor(variant),
	}
}

func containerFor(variant domain.ProtocolVariant) domain.ContainerParams {
	switch variant {
	case domain.VariantATF:
		return domain.ContainerParams{
			Format: "mp4",
			Live:   true,
			Flags:  map[string]string{"movflags": "frag_keyframe+empty_moov+default_base_moof"},
		}
	case domain.VariantATS:
		return domain.ContainerParams{
			Format: "mpegts",
			Live:   true,
			Flags:  map[string]string{"mpegts_flags": "resend_headers"},
		}
	default:
		return domain.ContainerParams{Format: "flv", Live: true}
	}
}

func (s *FlatStrategy) Build(cfg *domain.StreamConfig) (*domain.TransportDescriptor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	container := s.container
	container.Flags = maps.Clone(s.container.Flags)
	container.BufferMs = int(cfg.Network.BufferSize.Milliseconds())

	encode := domain.EncodeParams{
		Codec:                cfg.Video.Codec,
		Preset:               cfg.Video.Preset,
		Profile:              cfg.Video.Profile,
		Level:                cfg.Video.LevelString(),
		Width:                cfg.Video.Width,
		Height:               cfg.Video.Height,
		BitrateKbps:          cfg.Video.Bitrate,
		MaxRateKbps:          cfg.Video.Bitrate,
		BufferSizeKbps:       cfg.Video.Bitrate * 2,
		FPS:                  cfg.Video.FPS,
		GOP:                  cfg.Video.GOPSize,
		KeyframeInterval:     cfg.Video.GOPSize,
		HardwareAcceleration: cfg.Advanced.HardwareAcceleration,
	}
	if cfg.Network.LowLatency {
		encode.Tune = "zerolatency"
	}

	return &domain.TransportDescriptor{
		Variant: s.variant,
		Inputs: []domain.InputSource{
			{Kind: domain.SourceCamera, ID: "0", Index: 0},
			{Kind: domain.SourceMicrophone, ID: "0", Index: 1},
		},
		Encode:         encode,
		Audio:          audioParams(cfg),
		Container:      container,
		DestinationURL: cfg.DestinationURL(),
		ExtraArgs:      cfg.CustomArgs(),
	}, nil
}

func (s *FlatStrategy) Reconfigure(*domain.StreamConfig) {}

func (s *FlatStrategy) Narrate(stats domain.StreamStats, runningSeconds int64) string {
	return narrateStats(stats, runningSeconds)
}

func audioParams(cfg *domain.StreamConfig) domain.AudioParams {
	return domain.AudioParams{
		Codec:       cfg.Audio.Codec,
		BitrateKbps: cfg.Audio.Bitrate,
		SampleRate:  cfg.Audio.SampleRate,
		Channels:    cfg.Audio.Channels,
	}
}

// VRStrategy resolves a capture geometry from the configured dimensions and
// builds multi-camera stacking and projection stages from it. Manual mode
// and resolution overrides last until the next Reconfigure; the projection
// is independent of dimensions and persists.
type VRStrategy struct {
	logger *zap.SugaredLogger

	mu                 sync.RWMutex
	resolved           domain.Geometry
	projection         domain.Projection
	modeOverride       *domain.GeometryMode
	resolutionOverride int
}

// NewVRStrategy resolves geometry from cfg.
func NewVRStrategy(cfg *domain.StreamConfig, logger *zap.SugaredLogger) *VRStrategy {
	s := &VRStrategy{logger: logger}
	s.Reconfigure(cfg)
	return s
}

// Reconfigure re-resolves geometry and drops the mode and resolution
// overrides. The projection is kept.
func (s *VRStrategy) Reconfigure(cfg *domain.StreamConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resolved = ResolveGeometry(cfg.Video.Width, cfg.Video.Height, s.projection)
	s.modeOverride = nil
	s.resolutionOverride = 0
	s.logger.Debugw("vr geometry resolved",
		"mode", s.resolved.Mode,
		"resolution", s.resolved.Resolution,
		"projection", s.resolved.Projection,
	)
}

// Geometry returns the geometry the next session will use.
func (s *VRStrategy) Geometry() domain.Geometry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.applyOverridesLocked(s.resolved)
}

func (s *VRStrategy) applyOverridesLocked(g domain.Geometry) domain.Geometry {
	g.Projection = s.projection
	if s.modeOverride != nil {
		g.Mode = *s.modeOverride
	}
	if s.resolutionOverride != 0 {
		g.Resolution = s.resolutionOverride
	}
	return g
}

// SetMode overrides the geometry mode until the next Reconfigure.
func (s *VRStrategy) SetMode(mode domain.GeometryMode) error {
	if !mode.Valid() {
		s.logger.Warnw("ignoring invalid vr mode", "mode", int(mode))
		return fmt.Errorf("%w: mode %d", domain.ErrInvalidGeometry, int(mode))
	}
	s.mu.Lock()
	s.modeOverride = &mode
	s.mu.Unlock()
	return nil
}

// SetProjection sets the projection used by later descriptors.
func (s *VRStrategy) SetProjection(projection domain.Projection) error {
	if !projection.Valid() {
		s.logger.Warnw("ignoring invalid vr projection", "projection", int(projection))
		return fmt.Errorf("%w: projection %d", domain.ErrInvalidGeometry, int(projection))
	}
	s.mu.Lock()
	s.projection = projection
	s.mu.Unlock()
	return nil
}

// SetResolution overrides the resolution tier until the next Reconfigure.
func (s *VRStrategy) SetResolution(resolution int) error {
	if resolution < domain.MinVRResolution || resolution > domain.MaxVRResolution {
		s.logger.Warnw("ignoring out of range vr resolution", "resolution", resolution)
		return fmt.Errorf("%w: resolution %d outside [%d, %d]",
			domain.ErrInvalidGeometry, resolution, domain.MinVRResolution, domain.MaxVRResolution)
	}
	s.mu.Lock()
	s.resolutionOverride = resolution
	s.mu.Unlock()
	return nil
}

func (s *VRStrategy) Build(cfg *domain.StreamConfig) (*domain.TransportDescriptor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	geometry := s.applyOverridesLocked(ResolveGeometry(cfg.Video.Width, cfg.Video.Height, s.projection))
	s.mu.RUnlock()
	res := geometry.Resolution

	desc := &domain.TransportDescriptor{
		Variant:     domain.VariantVR,
		VideoOutput: "vrout",
		Audio:       audioParams(cfg),
		Container: domain.ContainerParams{
			Format:   "flv",
			Live:     true,
			BufferMs: int(cfg.Network.BufferSize.Milliseconds()),
		},
		Metadata: map[string]string{
			"spherical-video": "1",
			"projection":      geometry.Projection.String(),
		},
		DestinationURL: cfg.DestinationURL(),
		ExtraArgs:      cfg.CustomArgs(),
	}

	switch geometry.Mode {
	case domain.GeometryPanoramic:
		desc.Stages = []domain.ProcessingStage{
			{Filter: "hstack", Options: "inputs=2", Inputs: []string{"0:v", "1:v"}, Output: "panorama"},
			{
				Filter:  "v360",
				Options: "input=flat:output=" + geometry.Projection.FilterName() + ":interpolation=cubic",
				Inputs:  []string{"panorama"},
				Output:  "vrout",
			},
		}
	case domain.GeometryStereoscopic:
		half := fmt.Sprintf("%d:%d", res/2, res)
		desc.Stages = []domain.ProcessingStage{
			{Filter: "scale", Options: half, Inputs: []string{"0:v"}, Output: "left"},
			{Filter: "scale", Options: half, Inputs: []string{"1:v"}, Output: "right"},
			{Filter: "hstack", Options: "inputs=2", Inputs: []string{"left", "right"}, Output: "vrout"},
		}
		desc.Metadata["stereo_mode"] = "left_right"
	default:
		desc.Stages = []domain.ProcessingStage{
			{Filter: "scale", Options: fmt.Sprintf("%d:%d", res, res), Inputs: []string{"0:v"}, Output: "vrout"},
		}
	}

	if geometry.Mode.DualSource() {
		desc.Inputs = []domain.InputSource{
			{Kind: domain.SourceCamera, ID: "0", Index: 0},
			{Kind: domain.SourceCamera, ID: "1", Index: 1},
			{Kind: domain.SourceMicrophone, ID: "0", Index: 2},
		}
	} else {
		desc.Inputs = []domain.InputSource{
			{Kind: domain.SourceCamera, ID: "0", Index: 0},
			{Kind: domain.SourceMicrophone, ID: "0", Index: 1},
		}
	}

	width, height := geometry.OutputSize()
	fps := cfg.Video.FPS
	desc.Encode = domain.EncodeParams{
		Codec:                cfg.Video.Codec,
		Preset:               "ultrafast",
		Tune:                 "zerolatency",
		Profile:              "high",
		Level:                "4.1",
		Width:                width,
		Height:               height,
		BitrateKbps:          cfg.Video.Bitrate,
		MaxRateKbps:          cfg.Video.Bitrate,
		BufferSizeKbps:       cfg.Video.Bitrate * 2,
		FPS:                  fps,
		GOP:                  fps * 2,
		KeyframeInterval:     fps * 2,
		MinKeyframeInterval:  fps,
		HardwareAcceleration: cfg.Advanced.HardwareAcceleration,
	}
	return desc, nil
}

func (s *VRStrategy) Narrate(stats domain.StreamStats, runningSeconds int64) string {
	return fmt.Sprintf("VR %s | %s", s.Geometry().Mode.Label(), narrateStats(stats, runningSeconds))
}
