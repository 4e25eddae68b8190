// Package apps maps every (user, app) pair of a vault to its own document
// database and keeps per-app access statistics.
package apps

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"sync"
	"time"

	"github.com/dmitrijs2005/hivenode/internal/logging"
	"github.com/dmitrijs2005/hivenode/internal/server/models"
	"github.com/dmitrijs2005/hivenode/internal/server/repositories/repomanager"
)

type Service struct {
	m      repomanager.RepositoryManager
	prefix string
	log    logging.Logger

	// known caches pairs already ensured by this process.
	known sync.Map
}

func NewService(m repomanager.RepositoryManager, prefix string, log logging.Logger) *Service {
	return &Service{m: m, prefix: prefix, log: log.With("module", "apps")}
}

// DatabaseName derives the document database of a (user, app) pair.
func (s *Service) DatabaseName(userDID, appDID string) string {
	sum := md5.Sum([]byte(userDID + "_" + appDID))
	return s.prefix + hex.EncodeToString(sum[:])
}

type pair struct{ user, app string }

// Ensure registers the pair on first use.
func (s *Service) Ensure(ctx context.Context, userDID, appDID string) error {
	k := pair{userDID, appDID}
	if _, ok := s.known.Load(k); ok {
		return nil
	}
	created, err := s.m.Applications(s.m.DB()).Ensure(ctx, &models.Application{
		UserDID:      userDID,
		AppDID:       appDID,
		DatabaseName: s.DatabaseName(userDID, appDID),
		State:        models.AppStateNormal,
	})
	if err != nil {
		return err
	}
	if created {
		s.log.Info(ctx, "application registered", "user_did", userDID, "app_did", appDID)
	}
	s.known.Store(k, struct{}{})
	return nil
}

func (s *Service) List(ctx context.Context, userDID string) ([]models.Application, error) {
	return s.m.Applications(s.m.DB()).List(ctx, userDID)
}

func (s *Service) AppDIDs(ctx context.Context, userDID string) ([]string, error) {
	list, err := s.List(ctx, userDID)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(list))
	for i, a := range list {
		out[i] = a.AppDID
	}
	return out, nil
}

func (s *Service) DatabaseNames(ctx context.Context, userDID string) ([]string, error) {
	list, err := s.List(ctx, userDID)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(list))
	for i, a := range list {
		out[i] = a.DatabaseName
	}
	return out, nil
}

// RecordAccess adds count requests and amount bytes to the pair's
// statistics.
func (s *Service) RecordAccess(ctx context.Context, userDID, appDID string, count, amount int64) error {
	return s.m.Applications(s.m.DB()).RecordAccess(ctx, userDID, appDID, count, amount, time.Now().Unix())
}

// DeleteAll forgets every application of the user.
func (s *Service) DeleteAll(ctx context.Context, userDID string) error {
	if err := s.m.Applications(s.m.DB()).DeleteAll(ctx, userDID); err != nil {
		return err
	}
	s.known.Range(func(k, _ any) bool {
		if k.(pair).user == userDID {
			s.known.Delete(k)
		}
		return true
	})
	return nil
}
