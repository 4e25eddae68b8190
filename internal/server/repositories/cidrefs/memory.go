package cidrefs

import (
	"context"
	"sync"
)

type MemoryRepository struct {
	mu     sync.Mutex
	counts map[string]int64
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{counts: map[string]int64{}}
}

func (r *MemoryRepository) Increase(_ context.Context, cid string, delta int64) error {
	if err := checkDelta(delta); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts[cid] += delta
	return nil
}

func (r *MemoryRepository) Decrease(_ context.Context, cid string, delta int64) (bool, error) {
	if err := checkDelta(delta); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.counts[cid]
	if !ok {
		return true, nil
	}
	if n <= delta {
		delete(r.counts, cid)
		return true, nil
	}
	r.counts[cid] = n - delta
	return false, nil
}

func (r *MemoryRepository) Count(_ context.Context, cid string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[cid], nil
}
