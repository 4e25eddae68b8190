package vaults

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrijs2005/hivenode/internal/common"
	"github.com/dmitrijs2005/hivenode/internal/server/models"
)

// MemoryRepository keeps vault rows in process memory.
type MemoryRepository struct {
	mu   sync.Mutex
	rows map[string]models.Vault
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{rows: map[string]models.Vault{}}
}

func (r *MemoryRepository) Create(_ context.Context, v *models.Vault) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[v.UserDID]; ok {
		return common.AlreadyExists("vault of %s already exists", v.UserDID)
	}
	row := *v
	row.CreatedAt = time.Now().Unix()
	row.UpdatedAt = row.CreatedAt
	r.rows[v.UserDID] = row
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, userDID string) (*models.Vault, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[userDID]
	if !ok {
		return nil, notFound(userDID)
	}
	return &row, nil
}

func (r *MemoryRepository) mutate(userDID string, fn func(v *models.Vault)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[userDID]
	if !ok {
		return notFound(userDID)
	}
	fn(&row)
	row.UpdatedAt = time.Now().Unix()
	r.rows[userDID] = row
	return nil
}

func (r *MemoryRepository) Update(_ context.Context, v *models.Vault) error {
	return r.mutate(v.UserDID, func(row *models.Vault) {
		row.PlanName = v.PlanName
		row.QuotaBytes = v.QuotaBytes
		row.StartedAt = v.StartedAt
		row.EndsAt = v.EndsAt
		row.State = v.State
		row.CreatedFromPromotion = v.CreatedFromPromotion
	})
}

func (r *MemoryRepository) SetState(_ context.Context, userDID, state string) error {
	return r.mutate(userDID, func(row *models.Vault) { row.State = state })
}

func (r *MemoryRepository) AddFilesUsed(_ context.Context, userDID string, delta int64) error {
	return r.mutate(userDID, func(row *models.Vault) {
		row.FilesUsedBytes = max(row.FilesUsedBytes+delta, 0)
	})
}

func (r *MemoryRepository) SetFilesUsed(_ context.Context, userDID string, n int64) error {
	return r.mutate(userDID, func(row *models.Vault) { row.FilesUsedBytes = n })
}

func (r *MemoryRepository) SetDBUsed(_ context.Context, userDID string, n int64) error {
	return r.mutate(userDID, func(row *models.Vault) { row.DBUsedBytes = n })
}

func (r *MemoryRepository) TouchAccess(_ context.Context, userDID string, at int64) error {
	return r.mutate(userDID, func(row *models.Vault) { row.LastAccessAt = at })
}

func (r *MemoryRepository) Delete(_ context.Context, userDID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[userDID]; !ok {
		return notFound(userDID)
	}
	delete(r.rows, userDID)
	return nil
}

func (r *MemoryRepository) CountActive(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, row := range r.rows {
		if row.State != models.VaultStateRemoved {
			n++
		}
	}
	return n, nil
}
