package backupservices

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/hivenode/internal/common"
	"github.com/dmitrijs2005/hivenode/internal/server/models"
)

type MemoryRepository struct {
	mu   sync.Mutex
	rows map[string]models.BackupService
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{rows: map[string]models.BackupService{}}
}

func (r *MemoryRepository) mutate(userDID string, fn func(s *models.BackupService)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.rows[userDID]
	if !ok {
		return notFound(userDID)
	}
	fn(&s)
	s.UpdatedAt = time.Now().Unix()
	r.rows[userDID] = s
	return nil
}

func (r *MemoryRepository) Create(_ context.Context, s *models.BackupService) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[s.UserDID]; ok {
		return common.AlreadyExists("backup service of %s already exists", s.UserDID)
	}
	ts := time.Now().Unix()
	r.rows[s.UserDID] = models.BackupService{
		UserDID:    s.UserDID,
		PlanName:   s.PlanName,
		QuotaBytes: s.QuotaBytes,
		StartedAt:  s.StartedAt,
		EndsAt:     s.EndsAt,
		State:      models.BackupStateStop,
		CreatedAt:  ts,
		UpdatedAt:  ts,
	}
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, userDID string) (*models.BackupService, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.rows[userDID]
	if !ok {
		return nil, notFound(userDID)
	}
	return &s, nil
}

func (r *MemoryRepository) UpdatePlan(_ context.Context, userDID, plan string, quota, startedAt, endsAt int64) error {
	return r.mutate(userDID, func(s *models.BackupService) {
		s.PlanName, s.QuotaBytes, s.StartedAt, s.EndsAt = plan, quota, startedAt, endsAt
	})
}

func (r *MemoryRepository) StartRequest(_ context.Context, req *models.BackupService, force bool) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.rows[req.UserDID]
	if !ok || (s.State == models.BackupStateProcess && !force) {
		return false, nil
	}
	s.Action, s.State, s.ProgressMsg = req.Action, req.State, req.ProgressMsg
	s.ReqCID, s.ReqSHA256, s.ReqSize, s.ReqPublicKey = req.ReqCID, req.ReqSHA256, req.ReqSize, req.ReqPublicKey
	s.UpdatedAt = time.Now().Unix()
	r.rows[req.UserDID] = s
	return true, nil
}

func (r *MemoryRepository) UpdateState(_ context.Context, userDID, state, progressMsg string) error {
	return r.mutate(userDID, func(s *models.BackupService) {
		s.State, s.ProgressMsg = state, progressMsg
	})
}

func (r *MemoryRepository) Complete(_ context.Context, userDID, reqCID string, used int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.rows[userDID]
	if !ok || s.ReqCID != reqCID || s.HeldCID == reqCID {
		return requestNotFound(userDID, reqCID)
	}
	s.HeldCID, s.HeldSHA256, s.HeldSize, s.HeldPublicKey = s.ReqCID, s.ReqSHA256, s.ReqSize, s.ReqPublicKey
	s.UsedBytes, s.State, s.ProgressMsg = used, models.BackupStateSuccess, "100"
	s.UpdatedAt = time.Now().Unix()
	r.rows[userDID] = s
	return nil
}

func (r *MemoryRepository) ListByState(_ context.Context, state string) ([]models.BackupService, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.BackupService
	for _, s := range r.rows {
		if s.State == state {
			out = append(out, s)
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
