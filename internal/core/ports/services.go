package ports

import (
	"context"

	"liveorch/internal/core/domain"
)

// EngineHandle identifies one in-flight engine invocation. Events is closed
// after the terminal event has been delivered.
type EngineHandle struct {
	ID     string
	Events <-chan domain.TransportEvent
}

// TransportEngine runs the media pipeline described by a descriptor.
// Invoke returns as soon as the pipeline is dispatched; Cancel is best
// effort and idempotent.
type TransportEngine interface {
	Invoke(ctx context.Context, descriptor *domain.TransportDescriptor) (*EngineHandle, error)
	Cancel(handle *EngineHandle) error
}

// StreamingProtocol is the lifecycle shared by every protocol variant.
// No method blocks on the transport; outcomes arrive on the events channel
// passed to Start.
type StreamingProtocol interface {
	Variant() domain.ProtocolVariant
	Start(cfg *domain.StreamConfig, events chan<- domain.ProtocolEvent)
	Stop()
	Pause()
	Resume()
	SetConfig(cfg *domain.StreamConfig)
	Status() domain.SessionStatus
	Stats() domain.StreamStats
	Release()
}

// GeometryControl exposes manual overrides on geometry-aware variants.
type GeometryControl interface {
	Geometry() domain.Geometry
	SetMode(mode domain.GeometryMode) error
	SetProjection(projection domain.Projection) error
	SetResolution(resolution int) error
}

// IdentityService issues credentials and looks up the stream destination.
type IdentityService interface {
	IsAuthenticated(ctx context.Context) bool
	AcquireCredential(ctx context.Context) (*domain.Credential, error)
	FetchDestination(ctx context.Context, accessToken string) (*domain.Destination, error)
}

// NetworkProbe measures the current uplink throughput.
type NetworkProbe interface {
	MeasureUplink(ctx context.Context) (kbps int, err error)
}

// SessionController is the orchestrator surface used by transports such as
// the HTTP API.
type SessionController interface {
	SelectVariant(variant domain.ProtocolVariant) bool
	CurrentVariant() domain.ProtocolVariant
	Variants() []domain.ProtocolVariant
	Start(streamKey, baseURL string)
	Stop()
	Pause()
	Resume()
	Status() domain.SessionStatus
	Stats() domain.StreamStats
	IsStreaming() bool
	Config() *domain.StreamConfig
	UpdateConfig(cfg *domain.StreamConfig)
	UpdateVideoQuality(width, height, bitrateKbps, fps int)
	UpdateAudioQuality(sampleRate, channels, bitrateKbps int)
	UpdateNetworkPolicy(policy domain.NetworkPolicy)
	ApplyPreset(preset domain.QualityPreset)
	AdjustForNetwork(speedKbps int) domain.NetworkAdjustment
	GeometryControl() (GeometryControl, bool)
}
