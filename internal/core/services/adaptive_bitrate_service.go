package services

import (
	"context"
	"sync"
	"time"

	"liveorch/internal/core/domain"
	"liveorch/internal/core/ports"

	"go.uber.org/zap"
)

const maxAdjustmentHistory = 100

// NetworkAdjuster applies a measured uplink speed to a configuration.
type NetworkAdjuster interface {
	AdjustForNetwork(speedKbps int) domain.NetworkAdjustment
}

// AdjustmentRecorder is notified of every adjustment the loop applies.
type AdjustmentRecorder interface {
	RecordNetworkAdjustment(adj domain.NetworkAdjustment)
}

// AdaptiveBitrateService periodically measures the uplink and clamps the
// session configuration to the matching ladder band.
type AdaptiveBitrateService struct {
	qualityService *QualityService
	adjuster       NetworkAdjuster
	recorder       AdjustmentRecorder
	logger         *zap.SugaredLogger
	now            func() time.Time

	mu             sync.RWMutex
	currentBand    string
	lastBandChange time.Time
	history        []AdjustmentSnapshot
	monitoring     bool

	checkInterval             time.Duration
	minTimeBetweenAdjustments time.Duration
	hysteresisFactor          float64
}

// AdjustmentSnapshot records one adjustment that changed the configuration.
type AdjustmentSnapshot struct {
	Band       string                   `json:"band"`
	Timestamp  time.Time                `json:"timestamp"`
	Adjustment domain.NetworkAdjustment `json:"adjustment"`
}

// NewAdaptiveBitrateService creates a new adaptive bitrate service
func NewAdaptiveBitrateService(
	qualityService *QualityService,
	adjuster NetworkAdjuster,
	logger *zap.SugaredLogger,
) *AdaptiveBitrateService {
	return &AdaptiveBitrateService{
		qualityService:            qualityService,
		adjuster:                  adjuster,
		logger:                    logger,
		now:                       time.Now,
		checkInterval:             5 * time.Second,
		minTimeBetweenAdjustments: 10 * time.Second,
		hysteresisFactor:          0.15,
	}
}

// SetRecorder sets the recorder notified of every applied adjustment.
func (a *AdaptiveBitrateService) SetRecorder(recorder AdjustmentRecorder) {
	a.mu.Lock()
	a.recorder = recorder
	a.mu.Unlock()
}

// StartMonitoring measures the uplink every check interval until ctx is done.
// A second call while monitoring is running is ignored.
func (a *AdaptiveBitrateService) StartMonitoring(ctx context.Context, probe ports.NetworkProbe) {
	a.mu.Lock()
	if a.monitoring {
		a.mu.Unlock()
		return
	}
	a.monitoring = true
	interval := a.checkInterval
	a.mu.Unlock()

	go a.monitor(ctx, probe, interval)
}

func (a *AdaptiveBitrateService) monitor(ctx context.Context, probe ports.NetworkProbe, interval time.Duration) {
	defer func() {
		a.mu.Lock()
		a.monitoring = false
		a.mu.Unlock()
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.CheckAndAdjust(ctx, probe); err != nil {
				a.logger.Warnw("uplink probe failed", "error", err)
			}
		}
	}
}

// CheckAndAdjust takes one uplink measurement and applies the result.
func (a *AdaptiveBitrateService) CheckAndAdjust(ctx context.Context, probe ports.NetworkProbe) (domain.NetworkAdjustment, error) {
	speed, err := probe.MeasureUplink(ctx)
	if err != nil {
		return domain.NetworkAdjustment{}, err
	}
	return a.Apply(speed), nil
}

// Apply clamps the configuration to the band for speedKbps. Caps only ever
// go down, so they are applied on every sample; hysteresis and the minimum
// spacing only decide when the reported band moves.
func (a *AdaptiveBitrateService) Apply(speedKbps int) domain.NetworkAdjustment {
	now := a.now()
	target := a.qualityService.DetermineBand(speedKbps)

	adj := a.adjuster.AdjustForNetwork(speedKbps)
	if !adj.Applied {
		return adj
	}

	a.mu.Lock()
	previous := a.currentBand
	next := a.nextBandLocked(target.Name, speedKbps, now)
	if next != previous {
		a.currentBand = next
		a.lastBandChange = now
	}
	if adj.Changed() {
		a.history = append(a.history, AdjustmentSnapshot{Band: target.Name, Timestamp: now, Adjustment: adj})
		if len(a.history) > maxAdjustmentHistory {
			a.history = a.history[len(a.history)-maxAdjustmentHistory:]
		}
	}
	recorder := a.recorder
	a.mu.Unlock()

	switch {
	case next != previous:
		a.logger.Infow("uplink band changed",
			"from", previous,
			"to", next,
			"speed_kbps", speedKbps,
		)
	case next != target.Name:
		a.logger.Debugw("band change held back",
			"current", previous,
			"target", target.Name,
			"speed_kbps", speedKbps,
		)
	}

	if recorder != nil {
		recorder.RecordNetworkAdjustment(adj)
	}
	return adj
}

// nextBandLocked is called with mu held.
func (a *AdaptiveBitrateService) nextBandLocked(target string, speedKbps int, now time.Time) string {
	current := a.currentBand
	switch {
	case current == "" || target == current:
		return target
	case a.qualityService.ShouldDowngrade(current, speedKbps, a.hysteresisFactor):
		return target
	case a.qualityService.ShouldUpgrade(current, speedKbps):
		if !a.lastBandChange.IsZero() && now.Sub(a.lastBandChange) < a.minTimeBetweenAdjustments {
			return current
		}
		return target
	}
	return current
}

func (a *AdaptiveBitrateService) CurrentBand() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.currentBand
}

// History returns the most recent adjustments, oldest first.
func (a *AdaptiveBitrateService) History() []AdjustmentSnapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	history := make([]AdjustmentSnapshot, len(a.history))
	copy(history, a.history)
	return history
}

// SetCheckInterval takes effect on the next StartMonitoring.
func (a *AdaptiveBitrateService) SetCheckInterval(interval time.Duration) {
	if interval <= 0 {
		return
	}
	a.mu.Lock()
	a.checkInterval = interval
	a.mu.Unlock()
}

// SetMinTimeBetweenAdjustments sets how long the band must hold before an
// upgrade is reported.
func (a *AdaptiveBitrateService) SetMinTimeBetweenAdjustments(d time.Duration) {
	a.mu.Lock()
	a.minTimeBetweenAdjustments = d
	a.mu.Unlock()
}

// SetHysteresisFactor clamps factor to [0, 1].
func (a *AdaptiveBitrateService) SetHysteresisFactor(factor float64) {
	a.mu.Lock()
	a.hysteresisFactor = max(0, min(factor, 1.0))
	a.mu.Unlock()
}
