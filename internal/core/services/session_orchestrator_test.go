package services

import (
	"context"
	"sync"
	"testing"

	"liveorch/internal/core/domain"
	"liveorch/internal/core/ports"
	"liveorch/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const (
	testStreamKey = "key-123"
	testBaseURL   = "rtmp://ingest.example.com/live/"
)

type orchestratorFixture struct {
	orch     *SessionOrchestrator
	engine   *testutil.FakeEngine
	listener *testutil.RecordingListener
	observer *testutil.RecordingObserver
}

func newOrchestratorFixture(t *testing.T) *orchestratorFixture {
	t.Helper()
	logger := zaptest.NewLogger(t).Sugar()
	engine := testutil.NewFakeEngine()
	cfg := domain.DefaultStreamConfig()
	listener := &testutil.RecordingListener{}
	observer := &testutil.RecordingObserver{}

	orch := NewSessionOrchestrator(NewProtocolRegistry(engine, cfg, logger), cfg, listener, logger)
	orch.AddObserver(observer)
	t.Cleanup(orch.Release)

	return &orchestratorFixture{orch: orch, engine: engine, listener: listener, observer: observer}
}

func (f *orchestratorFixture) waitStatus(t *testing.T, want domain.SessionStatus) {
	t.Helper()
	require.Eventually(t, func() bool { return f.orch.Status() == want }, waitFor, pollIn,
		"status never became %s", want)
}

func (f *orchestratorFixture) startStreaming(t *testing.T) *testutil.Invocation {
	t.Helper()
	f.orch.Start(testStreamKey, testBaseURL)
	inv := f.engine.Last()
	require.NotNil(t, inv)
	inv.LogLine("Connection established")
	inv.LogLine("Streaming started")
	f.waitStatus(t, domain.StatusStreaming)
	return inv
}

func containsText(lines []string, text string) bool {
	for _, l := range lines {
		if l == text {
			return true
		}
	}
	return false
}

type memorySessions struct {
	mu      sync.Mutex
	records []*domain.SessionRecord
}

func (m *memorySessions) Save(_ context.Context, r *domain.SessionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, r)
	return nil
}

func (m *memorySessions) GetByID(_ context.Context, id string) (*domain.SessionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, domain.ErrSessionNotFound
}

func (m *memorySessions) List(_ context.Context, limit int) ([]*domain.SessionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*domain.SessionRecord(nil), m.records...), nil
}

func (m *memorySessions) all() []*domain.SessionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*domain.SessionRecord(nil), m.records...)
}

var _ ports.SessionRepository = (*memorySessions)(nil)

func TestSessionOrchestrator_Defaults(t *testing.T) {
	f := newOrchestratorFixture(t)

	assert.Equal(t, domain.VariantOKB, f.orch.CurrentVariant())
	assert.Equal(t, domain.AllVariants(), f.orch.Variants())
	assert.Equal(t, domain.StatusIdle, f.orch.Status())
	assert.False(t, f.orch.IsStreaming())

	control, ok := f.orch.GeometryControl()
	require.True(t, ok)
	assert.Equal(t, domain.GeometryStereoscopic, control.Geometry().Mode)
}

func TestSessionOrchestrator_SelectVariant(t *testing.T) {
	f := newOrchestratorFixture(t)

	assert.True(t, f.orch.SelectVariant(domain.VariantVR))
	assert.Equal(t, domain.VariantVR, f.orch.CurrentVariant())
	assert.Equal(t, domain.VariantVR, f.orch.Config().Variant)
	require.Eventually(t, func() bool {
		return containsText(f.listener.Statuses(), "[VR] protocol switched to VR (VR 360)")
	}, waitFor, pollIn)

	assert.False(t, f.orch.SelectVariant(domain.ProtocolVariant("RTP")))
	assert.Equal(t, domain.VariantVR, f.orch.CurrentVariant())
}

func TestSessionOrchestrator_SelectVariantRejectedWhileActive(t *testing.T) {
	f := newOrchestratorFixture(t)

	f.orch.Start(testStreamKey, testBaseURL)
	assert.Equal(t, domain.StatusConnecting, f.orch.Status())
	assert.False(t, f.orch.SelectVariant(domain.VariantATS))
	assert.Equal(t, domain.VariantOKB, f.orch.CurrentVariant())

	inv := f.engine.Last()
	inv.LogLine("Streaming started")
	f.waitStatus(t, domain.StatusStreaming)
	assert.False(t, f.orch.SelectVariant(domain.VariantATS))

	f.orch.Stop()
	assert.Equal(t, domain.StatusDisconnected, f.orch.Status())
	assert.True(t, f.orch.SelectVariant(domain.VariantATS))
}

func TestSessionOrchestrator_StartUsesSnapshot(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.orch.UpdateVideoQuality(1280, 720, 1500, 30)

	inv := f.startStreaming(t)

	assert.Equal(t, "rtmp://ingest.example.com/live/key-123", inv.Descriptor.DestinationURL)
	assert.Equal(t, 1500, inv.Descriptor.Encode.BitrateKbps)
	assert.True(t, f.orch.IsStreaming())

	f.orch.UpdateVideoQuality(640, 480, 500, 15)
	assert.Equal(t, 1500, inv.Descriptor.Encode.BitrateKbps, "descriptor is immutable once dispatched")
	assert.Equal(t, 500, f.orch.Config().Video.Bitrate)
}

func TestSessionOrchestrator_InvalidConfigReported(t *testing.T) {
	f := newOrchestratorFixture(t)

	f.orch.Start("", testBaseURL)

	assert.Equal(t, domain.StatusIdle, f.orch.Status())
	assert.Empty(t, f.engine.Invocations())
	require.Eventually(t, func() bool { return len(f.listener.Errors()) == 1 }, waitFor, pollIn)
	assert.Contains(t, f.listener.Errors()[0], "[OKB] invalid stream configuration")
}

func TestSessionOrchestrator_InvalidStartKeepsDestination(t *testing.T) {
	f := newOrchestratorFixture(t)

	f.orch.Start("", testBaseURL)

	assert.Empty(t, f.orch.Config().Destination.StreamKey)
	assert.Empty(t, f.orch.Config().Destination.BaseURL)
}

func TestSessionOrchestrator_StartWhileStreamingKeepsConfig(t *testing.T) {
	f := newOrchestratorFixture(t)
	inv := f.startStreaming(t)

	f.orch.Start("other-key", "rtmp://elsewhere.example.com/live/")
	f.orch.Start("", "")

	assert.Len(t, f.engine.Invocations(), 1)
	assert.Equal(t, domain.StatusStreaming, f.orch.Status())
	assert.Equal(t, "rtmp://ingest.example.com/live/key-123", inv.Descriptor.DestinationURL)
	assert.Equal(t, "rtmp://ingest.example.com/live/key-123", f.orch.Config().DestinationURL())
}

func TestSessionOrchestrator_LifecycleRepublished(t *testing.T) {
	f := newOrchestratorFixture(t)
	sessions := &memorySessions{}
	f.orch.SetSessionRepository(sessions)

	inv := f.startStreaming(t)
	f.orch.Pause()
	assert.Equal(t, domain.StatusPaused, f.orch.Status())
	f.orch.Resume()
	assert.Equal(t, domain.StatusStreaming, f.orch.Status())

	inv.Counters(domain.TransportCounters{BytesSent: 250000, FramesSent: 60, ElapsedMs: 2000})
	require.Eventually(t, func() bool { return f.orch.Stats().FramesSent == 60 }, waitFor, pollIn)
	f.orch.Stop()

	require.Eventually(t, func() bool { return len(sessions.all()) == 1 }, waitFor, pollIn)
	statuses := f.listener.Statuses()
	for _, want := range []string{
		"[OKB] connecting to ingest.example.com",
		"[OKB] connected",
		"[OKB] streaming started",
		"[OKB] paused",
		"[OKB] resumed",
		"[OKB] stopped",
	} {
		assert.True(t, containsText(statuses, want), "missing %q in %v", want, statuses)
	}

	record := sessions.all()[0]
	assert.NotEmpty(t, record.ID)
	assert.Equal(t, domain.VariantOKB, record.Variant)
	assert.Equal(t, "ingest.example.com", record.DestinationHost)
	assert.Equal(t, domain.StatusDisconnected, record.FinalStatus)
	assert.Equal(t, int64(60), record.Stats.FramesSent)
	assert.Empty(t, record.Error)

	assert.NotEmpty(t, f.observer.Events())
}

func TestSessionOrchestrator_TransportFailureReported(t *testing.T) {
	f := newOrchestratorFixture(t)
	sessions := &memorySessions{}
	f.orch.SetSessionRepository(sessions)

	inv := f.startStreaming(t)
	inv.Finish(domain.OutcomeFailed, "Connection refused")

	f.waitStatus(t, domain.StatusError)
	require.Eventually(t, func() bool { return len(f.listener.Errors()) == 1 }, waitFor, pollIn)
	assert.Contains(t, f.listener.Errors()[0], "Connection refused")

	require.Eventually(t, func() bool { return len(sessions.all()) == 1 }, waitFor, pollIn)
	assert.Equal(t, domain.StatusError, sessions.all()[0].FinalStatus)
	assert.Contains(t, sessions.all()[0].Error, "Connection refused")

	f.orch.Start(testStreamKey, testBaseURL)
	assert.Equal(t, domain.StatusConnecting, f.orch.Status())
}

func TestSessionOrchestrator_ConfigurationSurface(t *testing.T) {
	f := newOrchestratorFixture(t)

	f.orch.UpdateAudioQuality(48000, 1, 96)
	f.orch.UpdateNetworkPolicy(domain.NetworkPolicy{AdaptiveBitrate: true, RetryCount: 1})
	cfg := f.orch.Config()
	assert.Equal(t, 48000, cfg.Audio.SampleRate)
	assert.Equal(t, 1, cfg.Audio.Channels)
	assert.Equal(t, 1, cfg.Network.RetryCount)

	f.orch.ApplyPreset(domain.PresetMedium)
	assert.Equal(t, 1280, f.orch.Config().Video.Width)

	adj := f.orch.AdjustForNetwork(500)
	assert.True(t, adj.Changed())
	cfg = f.orch.Config()
	assert.Equal(t, 800, cfg.Video.Bitrate)
	assert.Equal(t, 24, cfg.Video.FPS)
	assert.Equal(t, 720, cfg.Video.Height)
	assert.Equal(t, 40, cfg.Audio.Bitrate)

	cfg.Video.Width = 3840
	assert.Equal(t, 1280, f.orch.Config().Video.Width, "Config returns a copy")

	require.Eventually(t, func() bool {
		return containsText(f.listener.Statuses(), "[OKB] audio quality updated: 48000Hz, 1 ch, 96kbps")
	}, waitFor, pollIn)
}

func TestSessionOrchestrator_UpdateConfigReresolvesGeometry(t *testing.T) {
	f := newOrchestratorFixture(t)
	cfg := f.orch.Config()
	cfg.Video.Width, cfg.Video.Height = 3840, 1080
	cfg.Variant = domain.VariantATF

	f.orch.UpdateConfig(cfg)

	assert.Equal(t, domain.VariantOKB, f.orch.Config().Variant, "variant only changes through SelectVariant")
	control, ok := f.orch.GeometryControl()
	require.True(t, ok)
	assert.Equal(t, domain.GeometryPanoramic, control.Geometry().Mode)
}

func TestSessionOrchestrator_ReleaseStopsActiveSession(t *testing.T) {
	f := newOrchestratorFixture(t)
	inv := f.startStreaming(t)

	f.orch.Release()

	assert.True(t, inv.Cancelled())
	assert.True(t, containsText(f.listener.Statuses(), "[OKB] stopped"))
	assert.Equal(t, domain.StatusDisconnected, f.orch.Status())
	assert.Empty(t, f.orch.Variants())

	assert.NotPanics(t, func() {
		f.orch.Release()
		f.orch.Start(testStreamKey, testBaseURL)
		f.orch.Stop()
	})
	assert.Len(t, f.engine.Invocations(), 1)
	assert.False(t, f.orch.SelectVariant(domain.VariantVR))
}

type panickingProtocol struct {
	releasedProtocol
}

func (panickingProtocol) Pause() { panic("encoder crashed") }

func TestSessionOrchestrator_PanicBecomesErrorNotification(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()
	listener := &testutil.RecordingListener{}
	registry := map[domain.ProtocolVariant]ports.StreamingProtocol{
		domain.VariantOKB: panickingProtocol{releasedProtocol{variant: domain.VariantOKB}},
	}
	orch := NewSessionOrchestrator(registry, domain.DefaultStreamConfig(), listener, logger)
	t.Cleanup(orch.Release)

	assert.NotPanics(t, orch.Pause)
	require.Eventually(t, func() bool { return len(listener.Errors()) == 1 }, waitFor, pollIn)
	assert.Equal(t, "[OKB] pause failed: encoder crashed", listener.Errors()[0])
}
