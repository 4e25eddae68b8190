// Package cidref keeps the node-wide reference count of every pinned CID
// and unpins content once nothing refers to it.
package cidref

import (
	"context"

	"github.com/dmitrijs2005/hivenode/internal/dbx"
	"github.com/dmitrijs2005/hivenode/internal/logging"
	"github.com/dmitrijs2005/hivenode/internal/server/repositories/repomanager"
)

// Unpinner releases content from the object network.
type Unpinner interface {
	Unpin(ctx context.Context, cid string) error
}

type Service struct {
	m       repomanager.RepositoryManager
	objects Unpinner
	log     logging.Logger
}

func NewService(m repomanager.RepositoryManager, objects Unpinner, log logging.Logger) *Service {
	return &Service{m: m, objects: objects, log: log.With("module", "cidref")}
}

func (s *Service) Increase(ctx context.Context, cid string, delta int64) error {
	return s.m.CidRefs(s.m.DB()).Increase(ctx, cid, delta)
}

// Decrease drops delta references and unpins cid when none remain. An
// unpin failure is logged: the row is already gone and the content is
// merely orphaned.
func (s *Service) Decrease(ctx context.Context, cid string, delta int64) (bool, error) {
	removed, err := s.m.CidRefs(s.m.DB()).Decrease(ctx, cid, delta)
	if err != nil {
		return false, err
	}
	if removed {
		if err := s.objects.Unpin(ctx, cid); err != nil {
			s.log.Warn(ctx, "unpin failed", "cid", cid, "error", err)
		}
	}
	return removed, nil
}

// Replace moves one reference from oldCID to newCID inside a transaction,
// unpinning oldCID after commit if it lost its last reference.
func (s *Service) Replace(ctx context.Context, oldCID, newCID string) (bool, error) {
	var removed bool
	err := s.m.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.m.CidRefs(tx)
		if err := repo.Increase(ctx, newCID, 1); err != nil {
			return err
		}
		var err error
		removed, err = repo.Decrease(ctx, oldCID, 1)
		return err
	})
	if err != nil {
		return false, err
	}
	if removed {
		if err := s.objects.Unpin(ctx, oldCID); err != nil {
			s.log.Warn(ctx, "unpin failed", "cid", oldCID, "error", err)
		}
	}
	return removed, nil
}

// Ref is a number of references to one cid.
type Ref struct {
	CID   string
	Count int64
}

// Swap takes the add references and drops the drop references in one
// transaction, together with whatever then writes through tx. Cids that
// lost their last reference are unpinned after commit.
func (s *Service) Swap(ctx context.Context, add, drop []Ref, then func(ctx context.Context, tx dbx.DBTX) error) error {
	var removed []string
	err := s.m.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		removed = removed[:0]
		if then != nil {
			if err := then(ctx, tx); err != nil {
				return err
			}
		}
		repo := s.m.CidRefs(tx)
		for _, r := range add {
			if err := repo.Increase(ctx, r.CID, r.Count); err != nil {
				return err
			}
		}
		for _, r := range drop {
			gone, err := repo.Decrease(ctx, r.CID, r.Count)
			if err != nil {
				return err
			}
			if gone {
				removed = append(removed, r.CID)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, cid := range removed {
		if err := s.objects.Unpin(ctx, cid); err != nil {
			s.log.Warn(ctx, "unpin failed", "cid", cid, "error", err)
		}
	}
	return nil
}

// Release unpins cid when nothing references it, undoing a pin whose
// reference was never taken. It reports whether cid was unpinned.
func (s *Service) Release(ctx context.Context, cid string) bool {
	n, err := s.Count(ctx, cid)
	if err != nil {
		s.log.Warn(ctx, "release: count failed", "cid", cid, "error", err)
		return false
	}
	if n > 0 {
		return false
	}
	if err := s.objects.Unpin(ctx, cid); err != nil {
		s.log.Warn(ctx, "unpin failed", "cid", cid, "error", err)
		return false
	}
	return true
}

func (s *Service) Count(ctx context.Context, cid string) (int64, error) {
	return s.m.CidRefs(s.m.DB()).Count(ctx, cid)
}
