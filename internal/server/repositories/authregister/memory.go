package authregister

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrijs2005/hivenode/internal/common"
	"github.com/dmitrijs2005/hivenode/internal/server/models"
)

type MemoryRepository struct {
	mu   sync.Mutex
	rows map[string]models.AuthRegister // by app instance did
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{rows: map[string]models.AuthRegister{}}
}

func (r *MemoryRepository) SaveNonce(_ context.Context, appInstanceDID, nonce string, expiresAt int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for did, row := range r.rows {
		if row.Nonce == nonce && did != appInstanceDID {
			return common.AlreadyExists("nonce already in use")
		}
	}
	ts := time.Now().Unix()
	row, ok := r.rows[appInstanceDID]
	if !ok {
		row = models.AuthRegister{AppInstanceDID: appInstanceDID, CreatedAt: ts}
	}
	row.Nonce = nonce
	row.NonceExpiresAt = expiresAt
	row.UpdatedAt = ts
	r.rows[appInstanceDID] = row
	return nil
}

func (r *MemoryRepository) GetByNonce(_ context.Context, nonce string) (*models.AuthRegister, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.Nonce == nonce {
			return &row, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r *MemoryRepository) SaveToken(_ context.Context, appInstanceDID, userDID, appDID, token string, expiresAt int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[appInstanceDID]
	if !ok {
		return common.ErrorNotFound
	}
	row.UserDID, row.AppDID, row.Token, row.TokenExpiresAt = userDID, appDID, token, expiresAt
	row.UpdatedAt = time.Now().Unix()
	r.rows[appInstanceDID] = row
	return nil
}

func (r *MemoryRepository) PurgeExpired(_ context.Context, now int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for did, row := range r.rows {
		if row.NonceExpiresAt < now && row.TokenExpiresAt < now {
			delete(r.rows, did)
			n++
		}
	}
	return n, nil
}
