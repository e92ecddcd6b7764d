package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"liveorch/internal/core/domain"
	"liveorch/internal/core/ports"
	"liveorch/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const (
	waitFor = 2 * time.Second
	pollIn  = 5 * time.Millisecond
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestMachine(t *testing.T) (*ProtocolMachine, *testutil.FakeEngine, *testutil.EventSink) {
	t.Helper()
	engine := testutil.NewFakeEngine()
	m := NewFlatProtocol(domain.VariantOKB, engine, testStreamConfig(), zaptest.NewLogger(t).Sugar())
	sink := testutil.NewEventSink()
	t.Cleanup(m.Release)
	return m, engine, sink
}

func waitStatus(t *testing.T, m *ProtocolMachine, want domain.SessionStatus) {
	t.Helper()
	require.Eventually(t, func() bool { return m.Status() == want }, waitFor, pollIn,
		"status never became %s", want)
}

func TestProtocolMachine_EndToEnd(t *testing.T) {
	m, engine, sink := newTestMachine(t)
	clock := newFakeClock()
	m.now = clock.Now

	m.Start(testStreamConfig(), sink.C)
	assert.Equal(t, domain.StatusConnecting, m.Status())
	inv := engine.Last()
	require.NotNil(t, inv)

	inv.LogLine("Connection established to rtmp://ingest.example.com")
	waitStatus(t, m, domain.StatusConnected)
	inv.LogLine("Streaming started")
	waitStatus(t, m, domain.StatusStreaming)

	for i := int64(1); i <= 3; i++ {
		inv.Counters(domain.TransportCounters{
			BytesSent:   125000 * i,
			FramesSent:  30 * i,
			AudioFrames: 10 * i,
			VideoFrames: 20 * i,
			ElapsedMs:   1000 * i,
		})
	}
	require.Eventually(t, func() bool { return m.Stats().ElapsedMs == 3000 }, waitFor, pollIn)

	clock.Advance(3 * time.Second)
	inv.Finish(domain.OutcomeSuccess, "")
	waitStatus(t, m, domain.StatusDisconnected)

	require.Eventually(t, func() bool { return len(sink.Statuses()) == 4 }, waitFor, pollIn)
	assert.Equal(t, []domain.SessionStatus{
		domain.StatusConnecting,
		domain.StatusConnected,
		domain.StatusStreaming,
		domain.StatusDisconnected,
	}, sink.Statuses())

	stats := m.Stats()
	assert.Equal(t, 1000.0, stats.Bitrate)
	assert.Equal(t, 30.0, stats.FPS)
	assert.Equal(t, int64(3), stats.RunningTime())

	clock.Advance(time.Minute)
	assert.Equal(t, stats, m.Stats())
	assert.Equal(t, int64(3), m.Stats().RunningTime())
}

func TestProtocolMachine_PauseWhileIdleIsNoop(t *testing.T) {
	m, _, sink := newTestMachine(t)

	m.Pause()
	m.Resume()

	assert.Equal(t, domain.StatusIdle, m.Status())
	assert.Never(t, func() bool { return len(sink.Events()) > 0 }, 50*time.Millisecond, pollIn)
}

func TestProtocolMachine_PauseAndResume(t *testing.T) {
	m, engine, sink := newTestMachine(t)
	m.Start(testStreamConfig(), sink.C)
	inv := engine.Last()
	inv.LogLine("Streaming started")
	waitStatus(t, m, domain.StatusStreaming)

	m.Pause()
	assert.Equal(t, domain.StatusPaused, m.Status())
	assert.False(t, inv.Cancelled(), "pause keeps the transport running")

	m.Pause()
	m.Resume()
	assert.Equal(t, domain.StatusStreaming, m.Status())

	require.Eventually(t, func() bool { return len(sink.Statuses()) == 4 }, waitFor, pollIn)
	assert.Equal(t, []domain.SessionStatus{
		domain.StatusConnecting,
		domain.StatusStreaming,
		domain.StatusPaused,
		domain.StatusStreaming,
	}, sink.Statuses())
}

func TestProtocolMachine_NarrationStopsWhilePaused(t *testing.T) {
	m, engine, sink := newTestMachine(t)
	m.SetTickInterval(10 * time.Millisecond)
	m.Start(testStreamConfig(), sink.C)
	engine.Last().LogLine("Streaming started")

	require.Eventually(t, func() bool { return sink.Count(domain.ProtocolNarration) >= 2 }, waitFor, pollIn)
	for _, ev := range sink.Events() {
		if ev.Kind == domain.ProtocolNarration {
			assert.Contains(t, ev.Message, "bitrate")
		}
	}

	m.Pause()
	time.Sleep(30 * time.Millisecond)
	paused := sink.Count(domain.ProtocolNarration)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, paused, sink.Count(domain.ProtocolNarration))
}

func TestProtocolMachine_StopCancelsEngine(t *testing.T) {
	m, engine, sink := newTestMachine(t)
	m.Start(testStreamConfig(), sink.C)
	inv := engine.Last()
	inv.LogLine("Connection established")
	waitStatus(t, m, domain.StatusConnected)

	m.Stop()

	assert.Equal(t, domain.StatusDisconnected, m.Status())
	assert.True(t, inv.Cancelled())
	assert.Equal(t, 1, engine.CancelCount())
	assert.False(t, m.Stats().EndedAt.IsZero())

	// the trailing cancelled terminal must not produce a second stop
	require.Eventually(t, func() bool { return sink.Count(domain.ProtocolStopped) == 1 }, waitFor, pollIn)
	assert.Never(t, func() bool { return sink.Count(domain.ProtocolStopped) > 1 }, 50*time.Millisecond, pollIn)

	m.Stop()
	assert.Equal(t, 1, engine.CancelCount())
}

func TestProtocolMachine_StartRejectedWhileActive(t *testing.T) {
	m, engine, sink := newTestMachine(t)
	m.Start(testStreamConfig(), sink.C)
	m.Start(testStreamConfig(), sink.C)
	assert.Len(t, engine.Invocations(), 1)

	engine.Last().LogLine("Streaming started")
	waitStatus(t, m, domain.StatusStreaming)
	m.Start(testStreamConfig(), sink.C)
	assert.Len(t, engine.Invocations(), 1)
}

func TestProtocolMachine_DispatchFailure(t *testing.T) {
	m, engine, sink := newTestMachine(t)
	engine.InvokeErr = errors.New("exec: ffmpeg: not found")

	m.Start(testStreamConfig(), sink.C)

	assert.Equal(t, domain.StatusError, m.Status())
	assert.Empty(t, engine.Invocations())
	require.Eventually(t, func() bool { return sink.Count(domain.ProtocolError) == 1 }, waitFor, pollIn)
	events := sink.Events()
	assert.Contains(t, events[len(events)-1].Message, "ffmpeg: not found")

	engine.InvokeErr = nil
	m.Start(testStreamConfig(), sink.C)
	assert.Equal(t, domain.StatusConnecting, m.Status())
	assert.Len(t, engine.Invocations(), 1)
}

func TestProtocolMachine_InvalidConfigFailsBuild(t *testing.T) {
	m, engine, sink := newTestMachine(t)
	cfg := testStreamConfig()
	cfg.Video.FPS = 0

	m.Start(cfg, sink.C)

	assert.Equal(t, domain.StatusError, m.Status())
	assert.Empty(t, engine.Invocations())
}

func TestProtocolMachine_ConnectionLost(t *testing.T) {
	m, engine, sink := newTestMachine(t)
	m.Start(testStreamConfig(), sink.C)
	inv := engine.Last()
	inv.LogLine("Streaming started")
	waitStatus(t, m, domain.StatusStreaming)

	inv.LogLine("Connection lost: broken pipe")

	waitStatus(t, m, domain.StatusError)
	require.Eventually(t, inv.Cancelled, waitFor, pollIn)
	require.Eventually(t, func() bool { return sink.Count(domain.ProtocolError) == 1 }, waitFor, pollIn)
}

func TestProtocolMachine_TerminalFailureCarriesDiagnostic(t *testing.T) {
	m, engine, sink := newTestMachine(t)
	m.Start(testStreamConfig(), sink.C)

	engine.Last().Finish(domain.OutcomeFailed, "rtmp://ingest.example.com: I/O error")

	waitStatus(t, m, domain.StatusError)
	require.Eventually(t, func() bool { return sink.Count(domain.ProtocolError) == 1 }, waitFor, pollIn)
	var msg string
	for _, ev := range sink.Events() {
		if ev.Kind == domain.ProtocolError {
			msg = ev.Message
		}
	}
	assert.Contains(t, msg, "I/O error")

	m.Stop()
	assert.Equal(t, domain.StatusDisconnected, m.Status())
}

func TestProtocolMachine_StreamClosedWithoutTerminal(t *testing.T) {
	m, engine, sink := newTestMachine(t)
	m.Start(testStreamConfig(), sink.C)

	engine.Last().Close()

	waitStatus(t, m, domain.StatusError)
}

func TestProtocolMachine_ReleaseTwice(t *testing.T) {
	m, engine, sink := newTestMachine(t)
	m.Start(testStreamConfig(), sink.C)
	engine.Last().LogLine("Streaming started")
	waitStatus(t, m, domain.StatusStreaming)

	assert.NotPanics(t, func() {
		m.Release()
		m.Release()
	})

	assert.Equal(t, domain.StatusDisconnected, m.Status())
	require.Eventually(t, func() bool { return sink.Count(domain.ProtocolStopped) == 1 }, waitFor, pollIn)
	assert.Never(t, func() bool { return sink.Count(domain.ProtocolStopped) > 1 }, 50*time.Millisecond, pollIn)

	m.Start(testStreamConfig(), sink.C)
	assert.Len(t, engine.Invocations(), 1, "released protocol ignores start")
}

func TestVRProtocol_OverridesUsedOnStart(t *testing.T) {
	engine := testutil.NewFakeEngine()
	cfg := testStreamConfig()
	cfg.Video.Width, cfg.Video.Height = 1440, 1080
	p := NewVRProtocol(engine, cfg, zaptest.NewLogger(t).Sugar())
	t.Cleanup(p.Release)
	sink := testutil.NewEventSink()

	require.NoError(t, p.SetMode(domain.GeometryStereoscopic))
	p.Start(cfg, sink.C)

	inv := engine.Last()
	require.NotNil(t, inv)
	assert.Len(t, inv.Descriptor.InputsOf(domain.SourceCamera), 2)
	assert.Equal(t, domain.GeometryStereoscopic, p.Geometry().Mode)

	p.Stop()
	p.SetConfig(cfg)
	assert.Equal(t, domain.GeometryMonoscopic, p.Geometry().Mode)
}

// eagerEngine reports progress before Invoke returns, so the pump races the
// connecting transition.
type eagerEngine struct {
	*testutil.FakeEngine
}

func (e eagerEngine) Invoke(ctx context.Context, desc *domain.TransportDescriptor) (*ports.EngineHandle, error) {
	handle, err := e.FakeEngine.Invoke(ctx, desc)
	if err != nil {
		return nil, err
	}
	inv := e.Last()
	inv.LogLine("Connection established")
	inv.LogLine("Streaming started")
	return handle, nil
}

func TestProtocolMachine_EventsKeepTransitionOrder(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()
	for i := 0; i < 50; i++ {
		m := NewFlatProtocol(domain.VariantOKB, eagerEngine{testutil.NewFakeEngine()}, testStreamConfig(), logger)
		sink := testutil.NewEventSink()

		m.Start(testStreamConfig(), sink.C)
		waitStatus(t, m, domain.StatusStreaming)
		m.Stop()
		m.Release()

		require.Eventually(t, func() bool { return len(sink.Statuses()) == 4 }, waitFor, pollIn)
		require.Equal(t, []domain.SessionStatus{
			domain.StatusConnecting,
			domain.StatusConnected,
			domain.StatusStreaming,
			domain.StatusDisconnected,
		}, sink.Statuses())
	}
}
