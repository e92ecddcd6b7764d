package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"liveorch/internal/core/domain"
	"liveorch/internal/core/ports"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	orchestratorEventBuffer = 256
	sessionSaveTimeout      = 5 * time.Second
)

// SessionOrchestrator owns the shared configuration and the registry of
// protocol instances, routes lifecycle calls to the selected one and
// republishes every protocol event to the status listener from a single
// fan-in goroutine.
type SessionOrchestrator struct {
	logger   *zap.SugaredLogger
	listener ports.StatusListener
	now      func() time.Time

	mu        sync.RWMutex
	registry  map[domain.ProtocolVariant]ports.StreamingProtocol
	current   domain.ProtocolVariant
	cfg       *domain.StreamConfig
	ladder    domain.BitrateLadder
	observers []ports.SessionObserver
	sessions  ports.SessionRepository
	// inFlight holds the history record of each running session by variant.
	inFlight map[domain.ProtocolVariant]*domain.SessionRecord
	released bool

	events chan domain.ProtocolEvent
	quit   chan struct{}
	done   chan struct{}
}

var _ ports.SessionController = (*SessionOrchestrator)(nil)

// NewSessionOrchestrator takes ownership of cfg and the protocol registry
// and starts the event fan-in. Release must be called to stop it.
func NewSessionOrchestrator(
	registry map[domain.ProtocolVariant]ports.StreamingProtocol,
	cfg *domain.StreamConfig,
	listener ports.StatusListener,
	logger *zap.SugaredLogger,
) *SessionOrchestrator {
	if listener == nil {
		listener = NoopListener{}
	}
	if cfg == nil {
		cfg = domain.DefaultStreamConfig()
	}
	current := domain.BaselineVariant
	if _, ok := registry[cfg.Variant]; ok {
		current = cfg.Variant
	}

	o := &SessionOrchestrator{
		logger:   logger,
		listener: listener,
		now:      time.Now,
		registry: registry,
		current:  current,
		cfg:      cfg.Copy(),
		ladder:   domain.DefaultBitrateLadder,
		inFlight: make(map[domain.ProtocolVariant]*domain.SessionRecord),
		events:   make(chan domain.ProtocolEvent, orchestratorEventBuffer),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	o.cfg.Variant = current
	o.pushConfigLocked()

	go o.fanIn()
	return o
}

// AddObserver registers an observer that sees every event before the listener.
func (o *SessionOrchestrator) AddObserver(observer ports.SessionObserver) {
	o.mu.Lock()
	o.observers = append(o.observers, observer)
	o.mu.Unlock()
}

// SetSessionRepository enables session history. Records are written when a
// session stops or fails.
func (o *SessionOrchestrator) SetSessionRepository(repo ports.SessionRepository) {
	o.mu.Lock()
	o.sessions = repo
	o.mu.Unlock()
}

// SetBitrateLadder replaces the ladder used by AdjustForNetwork. An empty
// ladder is ignored.
func (o *SessionOrchestrator) SetBitrateLadder(ladder domain.BitrateLadder) {
	if len(ladder) == 0 {
		return
	}
	o.mu.Lock()
	o.ladder = ladder
	o.mu.Unlock()
}

// SelectVariant switches the protocol used by the next Start. It is
// rejected while any instance holds an active session.
func (o *SessionOrchestrator) SelectVariant(variant domain.ProtocolVariant) bool {
	o.mu.Lock()
	if o.released {
		o.mu.Unlock()
		o.logger.Warnw("variant selection ignored, orchestrator released", "variant", variant)
		return false
	}
	if _, ok := o.registry[variant]; !ok {
		o.mu.Unlock()
		o.logger.Warnw("variant selection rejected, unknown variant", "variant", variant)
		return false
	}
	for v, p := range o.registry {
		if status := p.Status(); status.IsActive() {
			o.mu.Unlock()
			o.logger.Warnw("variant selection rejected, session active",
				"requested", variant,
				"active_variant", v,
				"status", status,
			)
			return false
		}
	}
	previous := o.current
	o.current = variant
	o.cfg.Variant = variant
	o.pushConfigLocked()
	status := o.protocolLocked().Status()
	o.mu.Unlock()

	o.logger.Infow("protocol variant selected", "from", previous, "to", variant)
	o.narrate(variant, status, fmt.Sprintf("protocol switched to %s (%s)", variant, variant.DisplayName()))
	return true
}

func (o *SessionOrchestrator) CurrentVariant() domain.ProtocolVariant {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.current
}

// Variants lists registered variants in their canonical order.
func (o *SessionOrchestrator) Variants() []domain.ProtocolVariant {
	o.mu.RLock()
	defer o.mu.RUnlock()
	variants := make([]domain.ProtocolVariant, 0, len(o.registry))
	for _, v := range domain.AllVariants() {
		if _, ok := o.registry[v]; ok {
			variants = append(variants, v)
		}
	}
	return variants
}

// Start records the destination and starts a session on the selected
// variant with a snapshot of the configuration. Invalid configurations are
// reported to the listener and never reach the protocol. A rejected start
// leaves the configuration untouched.
func (o *SessionOrchestrator) Start(streamKey, baseURL string) {
	o.mu.Lock()
	if o.released {
		o.mu.Unlock()
		o.logger.Warnw("start ignored, orchestrator released")
		return
	}
	variant := o.current
	protocol := o.protocolLocked()
	if status := protocol.Status(); !status.AcceptsStart() {
		o.mu.Unlock()
		o.logger.Warnw("start ignored, session active", "variant", variant, "status", status)
		return
	}

	snapshot := o.cfg.Copy()
	snapshot.Destination = domain.Destination{StreamKey: streamKey, BaseURL: baseURL}
	if err := snapshot.Validate(); err != nil {
		o.mu.Unlock()
		o.logger.Warnw("start rejected", "variant", variant, "error", err)
		o.report(variant, protocol.Status(), err)
		return
	}

	o.cfg.Destination = snapshot.Destination
	o.pushConfigLocked()
	o.inFlight[variant] = &domain.SessionRecord{
		ID:              uuid.New().String(),
		Variant:         variant,
		DestinationHost: domain.HostOf(snapshot.DestinationURL()),
		ConfigSummary:   snapshot.Summary(),
		StartedAt:       o.now(),
	}
	o.mu.Unlock()

	o.logger.Infow("starting session", "variant", variant, "config", snapshot.Summary())
	o.guard(variant, protocol, "start", func() { protocol.Start(snapshot, o.events) })
}

// Stop, Pause and Resume act on the selected variant. Transitions the
// status does not allow are logged and ignored.
func (o *SessionOrchestrator) Stop() {
	o.delegate("stop", func(p ports.StreamingProtocol) { p.Stop() })
}

func (o *SessionOrchestrator) Pause() {
	o.delegate("pause", func(p ports.StreamingProtocol) { p.Pause() })
}

func (o *SessionOrchestrator) Resume() {
	o.delegate("resume", func(p ports.StreamingProtocol) { p.Resume() })
}

func (o *SessionOrchestrator) delegate(op string, fn func(ports.StreamingProtocol)) {
	o.mu.RLock()
	if o.released {
		o.mu.RUnlock()
		o.logger.Warnw(op+" ignored, orchestrator released")
		return
	}
	variant := o.current
	protocol := o.protocolLocked()
	o.mu.RUnlock()

	o.guard(variant, protocol, op, func() { fn(protocol) })
}

// guard turns a panic inside a protocol call into an error notification.
func (o *SessionOrchestrator) guard(variant domain.ProtocolVariant, protocol ports.StreamingProtocol, op string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Errorw("protocol call panicked", "variant", variant, "operation", op, "panic", r)
			o.report(variant, protocol.Status(), fmt.Errorf("%s failed: %v", op, r))
		}
	}()
	fn()
}

// Status returns the selected variant's status.
func (o *SessionOrchestrator) Status() domain.SessionStatus {
	return o.currentProtocol().Status()
}

func (o *SessionOrchestrator) Stats() domain.StreamStats {
	return o.currentProtocol().Stats()
}

// IsStreaming reports whether the selected variant has an active session.
func (o *SessionOrchestrator) IsStreaming() bool {
	return o.Status() == domain.StatusStreaming
}

func (o *SessionOrchestrator) currentProtocol() ports.StreamingProtocol {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.protocolLocked()
}

// protocolLocked returns the selected instance, or a stand-in that reports
// Disconnected once the registry has been cleared.
func (o *SessionOrchestrator) protocolLocked() ports.StreamingProtocol {
	if p, ok := o.registry[o.current]; ok {
		return p
	}
	return releasedProtocol{variant: o.current}
}

// GeometryControl returns the manual geometry overrides of the VR instance.
func (o *SessionOrchestrator) GeometryControl() (ports.GeometryControl, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	control, ok := o.registry[domain.VariantVR].(ports.GeometryControl)
	return control, ok
}

// Config returns a copy of the shared configuration.
func (o *SessionOrchestrator) Config() *domain.StreamConfig {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.cfg.Copy()
}

// UpdateConfig replaces the whole configuration. The selected variant is
// kept; change it with SelectVariant.
func (o *SessionOrchestrator) UpdateConfig(cfg *domain.StreamConfig) {
	if cfg == nil {
		return
	}
	o.mu.Lock()
	o.cfg = cfg.Copy()
	o.cfg.Variant = o.current
	o.pushConfigLocked()
	variant, summary := o.current, o.cfg.Summary()
	o.mu.Unlock()

	o.narrate(variant, o.Status(), "configuration updated: "+summary)
}

// UpdateVideoQuality replaces the video parameters. Instances receive a
// copy; a running session keeps its start snapshot.
func (o *SessionOrchestrator) UpdateVideoQuality(width, height, bitrateKbps, fps int) {
	o.mu.Lock()
	o.cfg.Video.Width = width
	o.cfg.Video.Height = height
	o.cfg.Video.Bitrate = bitrateKbps
	o.cfg.Video.FPS = fps
	o.pushConfigLocked()
	variant := o.current
	o.mu.Unlock()

	o.logger.Infow("video quality updated", "width", width, "height", height, "bitrate_kbps", bitrateKbps, "fps", fps)
	o.narrate(variant, o.Status(), fmt.Sprintf("video quality updated: %dx%d, %dkbps, %dfps", width, height, bitrateKbps, fps))
}

// UpdateAudioQuality replaces the audio parameters.
func (o *SessionOrchestrator) UpdateAudioQuality(sampleRate, channels, bitrateKbps int) {
	o.mu.Lock()
	o.cfg.Audio.SampleRate = sampleRate
	o.cfg.Audio.Channels = channels
	o.cfg.Audio.Bitrate = bitrateKbps
	o.pushConfigLocked()
	variant := o.current
	o.mu.Unlock()

	o.logger.Infow("audio quality updated", "sample_rate", sampleRate, "channels", channels, "bitrate_kbps", bitrateKbps)
	o.narrate(variant, o.Status(), fmt.Sprintf("audio quality updated: %dHz, %d ch, %dkbps", sampleRate, channels, bitrateKbps))
}

// UpdateNetworkPolicy replaces the network policy.
func (o *SessionOrchestrator) UpdateNetworkPolicy(policy domain.NetworkPolicy) {
	o.mu.Lock()
	o.cfg.Network = policy
	o.pushConfigLocked()
	variant := o.current
	o.mu.Unlock()

	o.logger.Infow("network policy updated",
		"timeout", policy.Timeout,
		"retry_count", policy.RetryCount,
		"adaptive_bitrate", policy.AdaptiveBitrate,
		"buffer_size", policy.BufferSize,
		"low_latency", policy.LowLatency,
	)
	o.narrate(variant, o.Status(), fmt.Sprintf(
		"network policy updated: timeout %s, retries %d, adaptive %t, buffer %dms, low latency %t",
		policy.Timeout, policy.RetryCount, policy.AdaptiveBitrate, policy.BufferSize.Milliseconds(), policy.LowLatency,
	))
}

// ApplyPreset applies a quality preset to the shared configuration.
func (o *SessionOrchestrator) ApplyPreset(preset domain.QualityPreset) {
	o.mu.Lock()
	o.cfg.ApplyPreset(preset)
	o.pushConfigLocked()
	variant, summary := o.current, o.cfg.Summary()
	o.mu.Unlock()

	o.narrate(variant, o.Status(), fmt.Sprintf("preset %s applied: %s", preset.DisplayName(), summary))
}

// AdjustForNetwork clamps the shared configuration to the ladder band for
// speedKbps. Instances only see the result when something changed.
func (o *SessionOrchestrator) AdjustForNetwork(speedKbps int) domain.NetworkAdjustment {
	o.mu.Lock()
	adj := o.cfg.AdjustForNetworkWith(o.ladder, speedKbps)
	if !adj.Changed() {
		o.mu.Unlock()
		return adj
	}
	o.pushConfigLocked()
	variant := o.current
	o.mu.Unlock()

	o.logger.Infow("configuration adjusted for network",
		"speed_kbps", speedKbps,
		"band", adj.Band,
		"bitrate_kbps", adj.After.Bitrate,
		"fps", adj.After.FPS,
		"height", adj.After.Height,
	)
	o.narrate(variant, o.Status(), fmt.Sprintf("adjusted for %dkbps uplink (%s): %dkbps, %dfps, height %d",
		speedKbps, adj.Band, adj.After.Bitrate, adj.After.FPS, adj.After.Height))
	return adj
}

// pushConfigLocked hands every instance its own copy of the configuration.
func (o *SessionOrchestrator) pushConfigLocked() {
	for _, p := range o.registry {
		p.SetConfig(o.cfg.Copy())
	}
}

// Release stops any active session, releases every instance and waits for
// the fan-in goroutine to deliver the remaining events.
func (o *SessionOrchestrator) Release() {
	o.mu.Lock()
	if o.released {
		o.mu.Unlock()
		return
	}
	o.released = true
	protocols := make([]ports.StreamingProtocol, 0, len(o.registry))
	for _, p := range o.registry {
		protocols = append(protocols, p)
	}
	o.mu.Unlock()

	for _, p := range protocols {
		p.Release()
	}
	close(o.quit)
	<-o.done

	o.mu.Lock()
	o.registry = make(map[domain.ProtocolVariant]ports.StreamingProtocol)
	o.mu.Unlock()
	o.logger.Infow("orchestrator released")
}

func (o *SessionOrchestrator) narrate(variant domain.ProtocolVariant, status domain.SessionStatus, message string) {
	o.enqueue(domain.ProtocolEvent{
		Variant: variant,
		Kind:    domain.ProtocolNarration,
		Status:  status,
		Message: message,
		At:      o.now(),
	})
}

func (o *SessionOrchestrator) report(variant domain.ProtocolVariant, status domain.SessionStatus, err error) {
	o.enqueue(domain.ProtocolEvent{
		Variant: variant,
		Kind:    domain.ProtocolError,
		Status:  status,
		Message: err.Error(),
		At:      o.now(),
	})
}

func (o *SessionOrchestrator) enqueue(ev domain.ProtocolEvent) {
	select {
	case o.events <- ev:
	case <-o.quit:
	}
}

// fanIn is the only goroutine that talks to observers and the listener.
func (o *SessionOrchestrator) fanIn() {
	defer close(o.done)
	for {
		select {
		case ev := <-o.events:
			o.dispatch(ev)
		case <-o.quit:
			for {
				select {
				case ev := <-o.events:
					o.dispatch(ev)
				default:
					return
				}
			}
		}
	}
}

func (o *SessionOrchestrator) dispatch(ev domain.ProtocolEvent) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Errorw("event dispatch panicked", "variant", ev.Variant, "kind", ev.Kind, "panic", r)
		}
	}()

	o.mu.RLock()
	observers := o.observers
	o.mu.RUnlock()
	for _, observer := range observers {
		observer.ObserveEvent(ev)
	}

	text := fmt.Sprintf("[%s] %s", ev.Variant, ev.Message)
	if ev.Kind == domain.ProtocolError {
		o.listener.OnError(text)
	} else {
		o.listener.OnStatusChanged(text)
	}

	if ev.Terminal() {
		o.closeSession(ev)
	}
}

// closeSession completes the in-flight record for a terminal event and
// saves it.
func (o *SessionOrchestrator) closeSession(ev domain.ProtocolEvent) {
	o.mu.Lock()
	record, ok := o.inFlight[ev.Variant]
	delete(o.inFlight, ev.Variant)
	repo := o.sessions
	o.mu.Unlock()
	if !ok {
		return
	}

	record.FinalStatus = ev.Status
	record.Stats = ev.Stats
	record.EndedAt = ev.At
	if ev.Kind == domain.ProtocolError {
		record.Error = ev.Message
	}
	if repo == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), sessionSaveTimeout)
	defer cancel()
	if err := repo.Save(ctx, record); err != nil {
		o.logger.Warnw("failed to save session record", "session_id", record.ID, "error", err)
	}
}

// releasedProtocol stands in for a missing instance.
type releasedProtocol struct {
	variant domain.ProtocolVariant
}

func (p releasedProtocol) Variant() domain.ProtocolVariant { return p.variant }

func (releasedProtocol) Start(*domain.StreamConfig, chan<- domain.ProtocolEvent) {}

func (releasedProtocol) Stop() {}

func (releasedProtocol) Pause() {}

func (releasedProtocol) Resume() {}

func (releasedProtocol) SetConfig(*domain.StreamConfig) {}

func (releasedProtocol) Status() domain.SessionStatus { return domain.StatusDisconnected }

func (releasedProtocol) Stats() domain.StreamStats { return domain.StreamStats{} }

func (releasedProtocol) Release() {}
