// Package vault is the registry of vault subscriptions: plans, lifecycle
// state and the storage counters checked before every write.
package vault

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrijs2005/hivenode/internal/common"
	"github.com/dmitrijs2005/hivenode/internal/logging"
	"github.com/dmitrijs2005/hivenode/internal/server/apps"
	"github.com/dmitrijs2005/hivenode/internal/server/config"
	"github.com/dmitrijs2005/hivenode/internal/server/models"
	"github.com/dmitrijs2005/hivenode/internal/server/repositories/repomanager"
)

// DatabaseSizer reports the storage taken by one document database.
type DatabaseSizer interface {
	DatabaseSize(ctx context.Context, db string) (int64, error)
}

// Purger drops everything a user owns outside the registry: file
// references, app databases, application rows and local files.
type Purger interface {
	PurgeUser(ctx context.Context, userDID string) error
}

var now = func() int64 { return time.Now().Unix() }

type Service struct {
	m            repomanager.RepositoryManager
	plans        *config.Plans
	apps         *apps.Service
	sizes        DatabaseSizer
	enforceQuota bool
	log          logging.Logger

	purger Purger
}

func NewService(m repomanager.RepositoryManager, plans *config.Plans, a *apps.Service, sizes DatabaseSizer, enforceQuota bool, log logging.Logger) *Service {
	return &Service{
		m:            m,
		plans:        plans,
		apps:         a,
		sizes:        sizes,
		enforceQuota: enforceQuota,
		log:          log.With("module", "vault"),
	}
}

// SetPurger installs the hook used by forced removal. The file service
// depends on this registry, so it is wired after construction.
func (s *Service) SetPurger(p Purger) { s.purger = p }

func notFound(userDID string) error {
	return common.NotFound(common.CodeVaultNotFound, "vault of %s not found", userDID)
}

// Get returns a live vault. A paid plan past its end is downgraded to the
// free plan first; usage is not checked against the new quota here.
func (s *Service) Get(ctx context.Context, userDID string) (*models.Vault, error) {
	repo := s.m.Vaults(s.m.DB())
	v, err := repo.Get(ctx, userDID)
	if err != nil {
		return nil, err
	}
	if v.State == models.VaultStateRemoved {
		return nil, notFound(userDID)
	}

	ts := now()
	if !v.Expired(ts) {
		return v, nil
	}
	if plan, err := s.plans.VaultPlan(v.PlanName); err == nil && plan.IsFree() {
		return v, nil
	}
	free := s.plans.FreeVaultPlan()
	old := v.PlanName
	v.PlanName = free.Name
	v.QuotaBytes = int64(free.MaxStorage)
	v.StartedAt = ts
	v.EndsAt = free.EndsAt(ts)
	if err := repo.Update(ctx, v); err != nil {
		return nil, err
	}
	s.log.Info(ctx, "vault downgraded", "user_did", userDID, "from_plan", old, "to_plan", free.Name)
	return v, nil
}

// CheckWritePermission returns the vault unless it is frozen. Writes that
// only release storage need no more than this.
func (s *Service) CheckWritePermission(ctx context.Context, userDID string) (*models.Vault, error) {
	v, err := s.Get(ctx, userDID)
	if err != nil {
		return nil, err
	}
	if v.State == models.VaultStateFrozen {
		return nil, common.VaultFrozen()
	}
	return v, nil
}

// CheckWrite returns the vault if it accepts writes: running and, when
// quota is enforced, not full.
func (s *Service) CheckWrite(ctx context.Context, userDID string) (*models.Vault, error) {
	v, err := s.CheckWritePermission(ctx, userDID)
	if err != nil {
		return nil, err
	}
	if s.enforceQuota && v.UsedBytes() >= v.QuotaBytes {
		return nil, common.InsufficientStorage("vault storage is full")
	}
	return v, nil
}

// CheckQuota fails when adding extra bytes to v would exceed its quota.
func (s *Service) CheckQuota(v *models.Vault, extra int64) error {
	if s.enforceQuota && extra > 0 && v.UsedBytes()+extra > v.QuotaBytes {
		return common.InsufficientStorage("not enough storage: %d bytes needed, %d free", extra, v.QuotaBytes-v.UsedBytes())
	}
	return nil
}

// Subscribe creates a free-plan vault, or resurrects a removed one.
func (s *Service) Subscribe(ctx context.Context, userDID string) (*models.Vault, error) {
	repo := s.m.Vaults(s.m.DB())
	v, err := repo.Get(ctx, userDID)
	switch {
	case err == nil && v.State == models.VaultStateRemoved:
		if err := repo.SetState(ctx, userDID, models.VaultStateRunning); err != nil {
			return nil, err
		}
		s.log.Info(ctx, "vault resurrected", "user_did", userDID)
		return s.Get(ctx, userDID)
	case err == nil:
		return nil, common.AlreadyExists("vault of %s already exists", userDID)
	case !errors.Is(err, common.ErrorNotFound):
		return nil, err
	}
	return s.create(ctx, userDID, false)
}

// CreateForPromotion creates a free-plan vault marked as promoted from a
// backup. A removed vault row is replaced.
func (s *Service) CreateForPromotion(ctx context.Context, userDID string) (*models.Vault, error) {
	repo := s.m.Vaults(s.m.DB())
	v, err := repo.Get(ctx, userDID)
	switch {
	case err == nil && v.State != models.VaultStateRemoved:
		return nil, common.AlreadyExists("vault of %s already exists", userDID)
	case err == nil:
		if err := repo.Delete(ctx, userDID); err != nil {
			return nil, err
		}
	case !errors.Is(err, common.ErrorNotFound):
		return nil, err
	}
	return s.create(ctx, userDID, true)
}

func (s *Service) create(ctx context.Context, userDID string, promoted bool) (*models.Vault, error) {
	free := s.plans.FreeVaultPlan()
	ts := now()
	v := &models.Vault{
		UserDID:              userDID,
		PlanName:             free.Name,
		QuotaBytes:           int64(free.MaxStorage),
		StartedAt:            ts,
		EndsAt:               free.EndsAt(ts),
		State:                models.VaultStateRunning,
		CreatedFromPromotion: promoted,
	}
	if err := s.m.Vaults(s.m.DB()).Create(ctx, v); err != nil {
		return nil, err
	}
	s.log.Info(ctx, "vault created", "user_did", userDID, "plan", v.PlanName, "promoted", promoted)
	return s.m.Vaults(s.m.DB()).Get(ctx, userDID)
}

// Unsubscribe marks the vault removed, keeping its data for a later
// resubscription. With force everything the user owns is deleted.
func (s *Service) Unsubscribe(ctx context.Context, userDID string, force bool) error {
	repo := s.m.Vaults(s.m.DB())
	v, err := repo.Get(ctx, userDID)
	if err != nil {
		return err
	}
	if !force {
		if v.State == models.VaultStateRemoved {
			return notFound(userDID)
		}
		if err := repo.SetState(ctx, userDID, models.VaultStateRemoved); err != nil {
			return err
		}
		s.log.Info(ctx, "vault removed", "user_did", userDID)
		return nil
	}

	if s.purger != nil {
		if err := s.purger.PurgeUser(ctx, userDID); err != nil {
			return err
		}
	}
	if err := repo.Delete(ctx, userDID); err != nil {
		return err
	}
	s.log.Info(ctx, "vault deleted", "user_did", userDID)
	return nil
}

// Activate switches a vault between running and frozen.
func (s *Service) Activate(ctx context.Context, userDID string, active bool) error {
	if _, err := s.Get(ctx, userDID); err != nil {
		return err
	}
	state := models.VaultStateFrozen
	if active {
		state = models.VaultStateRunning
	}
	return s.m.Vaults(s.m.DB()).SetState(ctx, userDID, state)
}

// UpgradePlan moves the vault to the named plan starting now.
func (s *Service) UpgradePlan(ctx context.Context, userDID, planName string) (*models.Vault, error) {
	plan, err := s.plans.VaultPlan(planName)
	if err != nil {
		return nil, err
	}
	v, err := s.Get(ctx, userDID)
	if err != nil {
		return nil, err
	}
	ts := now()
	v.PlanName = plan.Name
	v.QuotaBytes = int64(plan.MaxStorage)
	v.StartedAt = ts
	v.EndsAt = plan.EndsAt(ts)
	if err := s.m.Vaults(s.m.DB()).Update(ctx, v); err != nil {
		return nil, err
	}
	return v, nil
}

func (s *Service) AddFilesUsed(ctx context.Context, userDID string, delta int64) error {
	if delta == 0 {
		return nil
	}
	return s.m.Vaults(s.m.DB()).AddFilesUsed(ctx, userDID, delta)
}

func (s *Service) SetFilesUsed(ctx context.Context, userDID string, n int64) error {
	return s.m.Vaults(s.m.DB()).SetFilesUsed(ctx, userDID, n)
}

func (s *Service) SetDBUsed(ctx context.Context, userDID string, n int64) error {
	return s.m.Vaults(s.m.DB()).SetDBUsed(ctx, userDID, n)
}

// RecomputeDBUsed sums the sizes of the user's app databases into the
// database counter.
func (s *Service) RecomputeDBUsed(ctx context.Context, userDID string) (int64, error) {
	names, err := s.apps.DatabaseNames(ctx, userDID)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, name := range names {
		n, err := s.sizes.DatabaseSize(ctx, name)
		if err != nil {
			return 0, err
		}
		total += n
	}
	if err := s.SetDBUsed(ctx, userDID, total); err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Service) TouchAccess(ctx context.Context, userDID string) error {
	return s.m.Vaults(s.m.DB()).TouchAccess(ctx, userDID, now())
}

// CountActive counts vaults that are not removed.
func (s *Service) CountActive(ctx context.Context) (int64, error) {
	return s.m.Vaults(s.m.DB()).CountActive(ctx)
}

// Info is the vault as reported to its owner.
type Info struct {
	ServiceDID   string `json:"service_did,omitempty"`
	PricingPlan  string `json:"pricing_plan"`
	StorageQuota int64  `json:"storage_quota"`
	StorageUsed  int64  `json:"storage_used"`
	FilesUsed    int64  `json:"files_used"`
	DatabaseUsed int64  `json:"database_used"`
	StartTime    int64  `json:"start_time"`
	EndTime      int64  `json:"end_time"`
	State        string `json:"state"`
	AppCount     int    `json:"app_count"`
	Created      int64  `json:"created"`
	Updated      int64  `json:"updated"`
}

// Info describes a live vault.
func (s *Service) Info(ctx context.Context, userDID string) (*Info, error) {
	v, err := s.Get(ctx, userDID)
	if err != nil {
		return nil, err
	}
	list, err := s.apps.List(ctx, userDID)
	if err != nil {
		return nil, err
	}
	return &Info{
		PricingPlan:  v.PlanName,
		StorageQuota: v.QuotaBytes,
		StorageUsed:  v.UsedBytes(),
		FilesUsed:    v.FilesUsedBytes,
		DatabaseUsed: v.DBUsedBytes,
		StartTime:    v.StartedAt,
		EndTime:      v.EndsAt,
		State:        v.State,
		AppCount:     len(list),
		Created:      v.CreatedAt,
		Updated:      v.UpdatedAt,
	}, nil
}
