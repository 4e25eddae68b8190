package applications

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/hivenode/internal/server/models"
)

type key struct{ user, app string }

type MemoryRepository struct {
	mu   sync.Mutex
	rows map[key]models.Application
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{rows: map[key]models.Application{}}
}

func (r *MemoryRepository) Ensure(_ context.Context, app *models.Application) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key{app.UserDID, app.AppDID}
	if _, ok := r.rows[k]; ok {
		return false, nil
	}
	r.rows[k] = models.Application{
		UserDID:      app.UserDID,
		AppDID:       app.AppDID,
		DatabaseName: app.DatabaseName,
		State:        app.State,
		CreatedAt:    time.Now().Unix(),
	}
	return true, nil
}

func (r *MemoryRepository) Get(_ context.Context, userDID, appDID string) (*models.Application, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.rows[key{userDID, appDID}]
	if !ok {
		return nil, notFound(userDID, appDID)
	}
	return &a, nil
}

func (r *MemoryRepository) List(_ context.Context, userDID string) ([]models.Application, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Application
	for k, a := range r.rows {
		if k.user == userDID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AppDID < out[j].AppDID })
	return out, nil
}

func (r *MemoryRepository) RecordAccess(_ context.Context, userDID, appDID string, count, amount, at int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key{userDID, appDID}
	a, ok := r.rows[k]
	if !ok {
		return notFound(userDID, appDID)
	}
	a.AccessCount += count
	a.AccessAmount += amount
	a.AccessLastAt = at
	r.rows[k] = a
	return nil
}

func (r *MemoryRepository) DeleteAll(_ context.Context, userDID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k := range r.rows {
		if k.user == userDID {
			delete(r.rows, k)
		}
	}
	return nil
}
