package memory

import (
	"context"
	"fmt"
	"sync"

	"liveorch/internal/core/domain"
	"liveorch/internal/core/ports"
)

// MemorySessionRepository keeps records in save order.
type MemorySessionRepository struct {
	sessions map[string]*domain.SessionRecord
	order    []string
	mu       sync.RWMutex
}

func NewMemorySessionRepository() ports.SessionRepository {
	return &MemorySessionRepository{
		sessions: make(map[string]*domain.SessionRecord),
	}
}

func (r *MemorySessionRepository) Save(ctx context.Context, record *domain.SessionRecord) error {
	if record == nil || record.ID == "" {
		return fmt.Errorf("session record must have an id")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[record.ID]; !exists {
		r.order = append(r.order, record.ID)
	}
	dup := *record
	r.sessions[record.ID] = &dup
	return nil
}

func (r *MemorySessionRepository) GetByID(ctx context.Context, id string) (*domain.SessionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, exists := r.sessions[id]
	if !exists {
		return nil, domain.ErrSessionNotFound
	}
	dup := *record
	return &dup, nil
}

func (r *MemorySessionRepository) List(ctx context.Context, limit int) ([]*domain.SessionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 || limit > len(r.order) {
		limit = len(r.order)
	}
	records := make([]*domain.SessionRecord, 0, limit)
	for i := len(r.order) - 1; i >= 0 && len(records) < limit; i-- {
		dup := *r.sessions[r.order[i]]
		records = append(records, &dup)
	}
	return records, nil
}
