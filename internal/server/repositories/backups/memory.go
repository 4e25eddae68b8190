package backups

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/hivenode/internal/server/models"
)

type MemoryRepository struct {
	mu   sync.Mutex
	rows map[string]models.Backup
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{rows: map[string]models.Backup{}}
}

func (r *MemoryRepository) Get(_ context.Context, userDID string) (*models.Backup, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.rows[userDID]
	if !ok {
		return nil, notFound(userDID)
	}
	return &b, nil
}

func (r *MemoryRepository) Start(_ context.Context, b *models.Backup, force bool) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ts := time.Now().Unix()
	row, ok := r.rows[b.UserDID]
	if ok && row.State == models.BackupStateProcess && !force {
		return false, nil
	}
	created := ts
	if ok {
		created = row.CreatedAt
	}
	row = *b
	row.State, row.ProgressMsg = models.BackupStateProcess, "0"
	row.CreatedAt = created
	row.UpdatedAt = ts
	r.rows[b.UserDID] = row
	return true, nil
}

func (r *MemoryRepository) UpdateState(_ context.Context, userDID, state, progressMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.rows[userDID]
	if !ok {
		return notFound(userDID)
	}
	b.State, b.ProgressMsg, b.UpdatedAt = state, progressMsg, time.Now().Unix()
	r.rows[userDID] = b
	return nil
}

func (r *MemoryRepository) ListByState(_ context.Context, state string) ([]models.Backup, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Backup
	for _, b := range r.rows {
		if b.State == state {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserDID < out[j].UserDID })
	return out, nil
}

func (r *MemoryRepository) Delete(_ context.Context, userDID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rows, userDID)
	return nil
}
