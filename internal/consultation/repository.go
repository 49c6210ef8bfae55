package consultation

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Consultation, error)
	Save(ctx context.Context, c *Consultation) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// memoryRepo keeps consultations for the lifetime of the process. Callers
// mutate the returned pointer under its own lock.
type memoryRepo struct {
	mu    sync.RWMutex
	items map[uuid.UUID]*Consultation
}

func NewRepository() Repository {
	return &memoryRepo{items: make(map[uuid.UUID]*Consultation)}
}

func (r *memoryRepo) GetByID(_ context.Context, id uuid.UUID) (*Consultation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.items[id]
	if !ok {
		return nil, ErrConsultationNotFound
	}
	return c, nil
}

func (r *memoryRepo) Save(_ context.Context, c *Consultation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.items[c.ID] = c
	return nil
}

func (r *memoryRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.items[id]; !ok {
		return ErrConsultationNotFound
	}
	delete(r.items, id)
	return nil
}
