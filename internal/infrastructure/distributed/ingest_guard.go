package distributed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"liveorch/internal/core/domain"
	"liveorch/internal/core/ports"
	"liveorch/pkg/distributed"

	"go.uber.org/zap"
)

// ErrDestinationBusy means another instance is publishing to the same
// ingest URL.
var ErrDestinationBusy = domain.ErrDestinationBusy

const releaseTimeout = 5 * time.Second

type lease interface {
	Key() string
	AcquiredAt() time.Time
	Release(ctx context.Context) error
}

type leaser interface {
	TryAcquire(ctx context.Context, name string) (lease, bool, error)
	Holder(ctx context.Context, name string) (string, error)
}

type managerLeaser struct {
	*distributed.LeaseManager
}

func (m managerLeaser) TryAcquire(ctx context.Context, name string) (lease, bool, error) {
	l, ok, err := m.LeaseManager.TryAcquire(ctx, name)
	if l == nil {
		return nil, ok, err
	}
	return l, ok, err
}

// IngestGuard keeps at most one instance publishing to a destination. The
// lease is claimed before a start and released when the session's terminal
// event is observed.
type IngestGuard struct {
	leases leaser
	logger *zap.SugaredLogger

	mu   sync.Mutex
	name string
	held lease
}

var _ ports.SessionObserver = (*IngestGuard)(nil)

// NewIngestGuard creates a guard over Redis leases.
func NewIngestGuard(leases *distributed.LeaseManager, logger *zap.SugaredLogger) *IngestGuard {
	return newIngestGuard(managerLeaser{leases}, logger)
}

func newIngestGuard(leases leaser, logger *zap.SugaredLogger) *IngestGuard {
	return &IngestGuard{leases: leases, logger: logger}
}

// leaseName hashes the URL so the stream key never lands in Redis.
func leaseName(destinationURL string) string {
	sum := sha256.Sum256([]byte(destinationURL))
	return hex.EncodeToString(sum[:])
}

// Claim takes the lease for destinationURL. A lease this instance already
// holds for the same URL is kept; one for another URL is released first.
func (g *IngestGuard) Claim(ctx context.Context, destinationURL string) error {
	name := leaseName(destinationURL)

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.held != nil {
		if g.name == name {
			return nil
		}
		g.releaseLocked(ctx)
	}

	held, ok, err := g.leases.TryAcquire(ctx, name)
	if err != nil {
		return err
	}
	if !ok {
		holder, _ := g.leases.Holder(ctx, name)
		g.logger.Warnw("destination claimed by another instance",
			"destination_host", domain.HostOf(destinationURL),
			"holder", holder,
		)
		return ErrDestinationBusy
	}
	g.name, g.held = name, held
	return nil
}

// ObserveEvent releases the lease when the session it was claimed for ends.
// A terminal event older than the lease belongs to an earlier session.
func (g *IngestGuard) ObserveEvent(event domain.ProtocolEvent) {
	if !event.Terminal() {
		return
	}
	g.mu.Lock()
	held := g.held
	if held == nil || event.At.Before(held.AcquiredAt()) {
		g.mu.Unlock()
		return
	}
	g.name, g.held = "", nil
	g.mu.Unlock()

	go g.release(held)
}

// Close gives the lease back on shutdown.
func (g *IngestGuard) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.held != nil {
		ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()
		g.releaseLocked(ctx)
	}
}

func (g *IngestGuard) releaseLocked(ctx context.Context) {
	if err := g.held.Release(ctx); err != nil {
		g.logger.Warnw("failed to release ingest lease", "key", g.held.Key(), "error", err)
	}
	g.name, g.held = "", nil
}

func (g *IngestGuard) release(held lease) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	if err := held.Release(ctx); err != nil {
		g.logger.Warnw("failed to release ingest lease", "key", held.Key(), "error", err)
	}
}
