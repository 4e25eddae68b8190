package backup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/hivenode/internal/common"
	"github.com/dmitrijs2005/hivenode/internal/cryptox"
	"github.com/dmitrijs2005/hivenode/internal/dbx"
	"github.com/dmitrijs2005/hivenode/internal/server/cidref"
	"github.com/dmitrijs2005/hivenode/internal/server/models"
)

func backupNotFound(userDID string) error {
	return common.NotFound(common.CodeBackupNotFound, "backup service of %s not found", userDID)
}

// ServiceInfo is a backup subscription as reported to its owner.
type ServiceInfo struct {
	ServiceDID   string `json:"service_did"`
	PricingPlan  string `json:"pricing_plan"`
	StorageQuota int64  `json:"storage_quota"`
	StorageUsed  int64  `json:"storage_used"`
	StartTime    int64  `json:"start_time"`
	EndTime      int64  `json:"end_time"`
	Created      int64  `json:"created"`
	Updated      int64  `json:"updated"`
}

func (s *Service) info(row *models.BackupService) *ServiceInfo {
	return &ServiceInfo{
		ServiceDID:   s.node.DID(),
		PricingPlan:  row.PlanName,
		StorageQuota: row.QuotaBytes,
		StorageUsed:  row.UsedBytes,
		StartTime:    row.StartedAt,
		EndTime:      row.EndsAt,
		Created:      row.CreatedAt,
		Updated:      row.UpdatedAt,
	}
}

func (s *Service) getService(ctx context.Context, userDID string) (*models.BackupService, error) {
	row, err := s.m.BackupServices(s.m.DB()).Get(ctx, userDID)
	if errors.Is(err, common.ErrorNotFound) {
		return nil, backupNotFound(userDID)
	}
	return row, err
}

// Subscribe creates a free backup subscription for userDID on this node.
func (s *Service) Subscribe(ctx context.Context, userDID string) (*ServiceInfo, error) {
	free := s.plans.FreeBackupPlan()
	ts := time.Now().Unix()
	err := s.m.BackupServices(s.m.DB()).Create(ctx, &models.BackupService{
		UserDID:    userDID,
		PlanName:   free.Name,
		QuotaBytes: int64(free.MaxStorage),
		StartedAt:  ts,
		EndsAt:     free.EndsAt(ts),
	})
	if err != nil {
		return nil, err
	}
	s.log.Info(ctx, "backup service created", "user_did", userDID, "plan", free.Name)
	return s.Info(ctx, userDID)
}

func (s *Service) Info(ctx context.Context, userDID string) (*ServiceInfo, error) {
	row, err := s.getService(ctx, userDID)
	if err != nil {
		return nil, err
	}
	return s.info(row), nil
}

// UpgradePlan moves the backup subscription to the named plan.
func (s *Service) UpgradePlan(ctx context.Context, userDID, planName string) (*ServiceInfo, error) {
	plan, err := s.plans.BackupPlan(planName)
	if err != nil {
		return nil, err
	}
	if _, err := s.getService(ctx, userDID); err != nil {
		return nil, err
	}
	ts := time.Now().Unix()
	if err := s.m.BackupServices(s.m.DB()).UpdatePlan(ctx, userDID, plan.Name, int64(plan.MaxStorage), ts, plan.EndsAt(ts)); err != nil {
		return nil, err
	}
	return s.Info(ctx, userDID)
}

// Unsubscribe deletes the backup subscription and releases what it holds.
func (s *Service) Unsubscribe(ctx context.Context, userDID string) error {
	row, err := s.getService(ctx, userDID)
	if err != nil {
		return err
	}
	if row.State == models.BackupStateProcess {
		return common.BackupInProcess("a backup of %s is running", userDID)
	}
	held := s.openHeld(ctx, row)
	err = s.refs.Swap(ctx, nil, fileRefs(held), func(ctx context.Context, tx dbx.DBTX) error {
		return s.m.BackupServices(tx).Delete(ctx, userDID)
	})
	if err != nil {
		return err
	}
	if row.HeldCID != "" {
		s.unpinBlobs(ctx, heldOf(row), held, nil)
	}
	if row.ReqCID != "" && row.ReqCID != row.HeldCID {
		s.discard(ctx, descriptorOf(row))
	}
	s.log.Info(ctx, "backup service deleted", "user_did", userDID)
	return nil
}

func descriptorOf(row *models.BackupService) *Descriptor {
	return &Descriptor{CID: row.ReqCID, SHA256: row.ReqSHA256, Size: row.ReqSize, PublicKey: row.ReqPublicKey}
}

func heldOf(row *models.BackupService) *Descriptor {
	return &Descriptor{CID: row.HeldCID, SHA256: row.HeldSHA256, Size: row.HeldSize, PublicKey: row.HeldPublicKey}
}

func fileRefs(m *Manifest) []cidref.Ref {
	if m == nil {
		return nil
	}
	refs := make([]cidref.Ref, 0, len(m.Files))
	for _, f := range m.Files {
		refs = append(refs, cidref.Ref{CID: f.CID, Count: f.Count})
	}
	return refs
}

// ServerState reports the last request received for userDID, with this
// node's box key so the client can seal manifests to it.
func (s *Service) ServerState(ctx context.Context, userDID string) (*StateInfo, error) {
	row, err := s.getService(ctx, userDID)
	if err != nil {
		return nil, err
	}
	st := stateOf(row.Action, row.State, row.ProgressMsg)
	st.PublicKey = s.node.Box.PublicKeyString()
	return st, nil
}

// AcceptBackup anchors the manifest announced by req and starts pinning
// what it references.
func (s *Service) AcceptBackup(ctx context.Context, userDID string, req *PushRequest) error {
	if _, err := cryptox.DecodeKey(req.PublicKey); err != nil {
		return common.InvalidParameter("public_key: %v", err)
	}
	row, err := s.getService(ctx, userDID)
	if err != nil {
		return err
	}
	if row.State == models.BackupStateProcess && !req.IsForce {
		return common.BackupInProcess("a backup of %s is running", userDID)
	}

	if err := s.objects.Pin(ctx, req.CID); err != nil {
		return fmt.Errorf("pin manifest %s: %w", req.CID, err)
	}
	started, err := s.m.BackupServices(s.m.DB()).StartRequest(ctx, &models.BackupService{
		UserDID:      userDID,
		Action:       models.BackupActionBackup,
		State:        models.BackupStateProcess,
		ProgressMsg:  "50",
		ReqCID:       req.CID,
		ReqSHA256:    req.SHA256,
		ReqSize:      req.Size,
		ReqPublicKey: req.PublicKey,
	}, req.IsForce)
	if err != nil || !started {
		if req.CID != row.ReqCID && req.CID != row.HeldCID {
			s.unpin(ctx, "manifest", req.CID)
		}
	}
	if err != nil {
		return err
	}
	if !started {
		return common.BackupInProcess("a backup of %s is running", userDID)
	}
	s.log.Info(ctx, "backup request accepted", "user_did", userDID, "cid", req.CID)
	s.observe(RoleServer, models.BackupActionBackup, models.BackupStateProcess)
	s.runServer(userDID, &Descriptor{CID: req.CID, SHA256: req.SHA256, Size: req.Size, PublicKey: req.PublicKey})
	return nil
}

// runServer spawns the executor of the request req. On failure the row is
// marked failed, unless a newer request has replaced req, and whatever req
// pinned that nothing references is unpinned.
func (s *Service) runServer(userDID string, req *Descriptor) {
	fail := func(ctx context.Context, msg string) error {
		repo := s.m.BackupServices(s.m.DB())
		row, err := repo.Get(ctx, userDID)
		if err != nil {
			return err
		}
		if row.HeldCID == req.CID {
			return nil
		}
		if row.ReqCID == req.CID {
			if err := repo.UpdateState(ctx, userDID, models.BackupStateFailed, msg); err != nil {
				return err
			}
		}
		s.discard(ctx, req)
		return nil
	}
	s.spawn(RoleServer, models.BackupActionBackup, userDID, func(ctx context.Context) error {
		return s.serveBackup(ctx, userDID, req)
	}, fail)
}

// openStored opens the manifest of d, which was sealed to this node.
func (s *Service) openStored(ctx context.Context, d *Descriptor) (*Manifest, error) {
	sender, err := cryptox.DecodeKey(d.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("sender public key: %w", err)
	}
	sealed, err := fetchSealed(ctx, s.objects, d)
	if err != nil {
		return nil, err
	}
	return OpenManifest(sealed, s.node.Box, sender)
}

// openHeld opens the held manifest of row, or returns nil when there is
// none. An unreadable manifest is logged and its references stay taken.
func (s *Service) openHeld(ctx context.Context, row *models.BackupService) *Manifest {
	if row.HeldCID == "" {
		return nil
	}
	m, err := s.openStored(ctx, heldOf(row))
	if err != nil {
		s.log.Warn(ctx, "open held manifest", "user_did", row.UserDID, "cid", row.HeldCID, "error", err)
		return nil
	}
	return m
}

// serveBackup pins everything the manifest of req references, then takes
// its file references, drops those of the held manifest and marks req held
// in one transaction. Running it again after a crash is safe: pins are
// idempotent and the references move only with the commit.
func (s *Service) serveBackup(ctx context.Context, userDID string, req *Descriptor) error {
	repo := s.m.BackupServices(s.m.DB())
	row, err := repo.Get(ctx, userDID)
	if err != nil {
		return err
	}
	if row.ReqCID != req.CID {
		return common.BackupInProcess("backup request %s was replaced by %s", req.CID, row.ReqCID)
	}
	m, err := s.openStored(ctx, req)
	if err != nil {
		return err
	}
	if m.UserDID != userDID {
		return common.InvalidParameter("manifest belongs to %s", m.UserDID)
	}
	if m.BackupSize > row.QuotaBytes {
		return common.InsufficientStorage("backup of %d bytes exceeds the backup quota of %d", m.BackupSize, row.QuotaBytes)
	}

	s.pins.RLock()
	defer s.pins.RUnlock()
	for _, e := range m.Databases {
		if err := s.objects.Pin(ctx, e.CID); err != nil {
			return fmt.Errorf("pin database %s: %w", e.AppDID, err)
		}
	}
	if err := repo.UpdateState(ctx, userDID, models.BackupStateProcess, "70"); err != nil {
		return err
	}
	for _, f := range m.Files {
		if err := s.objects.Pin(ctx, f.CID); err != nil {
			return fmt.Errorf("pin file %s: %w", f.CID, err)
		}
	}

	if row.HeldCID == req.CID {
		// the same manifest again: its references are already taken
		if err := repo.UpdateState(ctx, userDID, models.BackupStateSuccess, "100"); err != nil {
			return err
		}
		s.observe(RoleServer, models.BackupActionBackup, models.BackupStateSuccess)
		return nil
	}
	held := s.openHeld(ctx, row)
	err = s.refs.Swap(ctx, fileRefs(m), fileRefs(held), func(ctx context.Context, tx dbx.DBTX) error {
		return s.m.BackupServices(tx).Complete(ctx, userDID, req.CID, m.BackupSize)
	})
	if err != nil {
		return err
	}
	s.observe(RoleServer, models.BackupActionBackup, models.BackupStateSuccess)
	s.log.Info(ctx, "backup stored", "user_did", userDID, "cid", req.CID, "size", m.BackupSize)

	if row.HeldCID != "" {
		s.unpinBlobs(ctx, heldOf(row), held, m)
	}
	return nil
}

func (s *Service) unpin(ctx context.Context, kind, cid string) {
	if err := s.objects.Unpin(ctx, cid); err != nil {
		s.log.Warn(ctx, "unpin "+kind, "cid", cid, "error", err)
	}
}

// unpinBlobs unpins the manifest d and the database blobs of m, its opened
// form, except blobs keep also lists. m may be nil. A leftover pin only
// wastes space, so failures are logged.
func (s *Service) unpinBlobs(ctx context.Context, d *Descriptor, m, keep *Manifest) {
	kept := map[string]bool{}
	if keep != nil {
		for _, e := range keep.Databases {
			kept[e.CID] = true
		}
	}
	if m != nil {
		for _, e := range m.Databases {
			if !kept[e.CID] {
				s.unpin(ctx, "database blob", e.CID)
			}
		}
	}
	s.unpin(ctx, "manifest", d.CID)
}

// discard unpins what an unfinished request pinned: its manifest, its
// database blobs and every file blob that no reference holds.
func (s *Service) discard(ctx context.Context, req *Descriptor) {
	s.pins.Lock()
	defer s.pins.Unlock()
	m, err := s.openStored(ctx, req)
	if err != nil {
		s.log.Warn(ctx, "open discarded manifest", "cid", req.CID, "error", err)
		m = nil
	}
	if m != nil {
		for _, f := range m.Files {
			n, err := s.refs.Count(ctx, f.CID)
			if err != nil || n > 0 {
				continue
			}
			s.unpin(ctx, "file", f.CID)
		}
	}
	s.unpinBlobs(ctx, req, m, nil)
}

// lastBackup returns the row of a successful backup of userDID.
func (s *Service) lastBackup(ctx context.Context, userDID string) (*models.BackupService, error) {
	row, err := s.getService(ctx, userDID)
	if err != nil {
		return nil, err
	}
	if row.Action != models.BackupActionBackup || row.State != models.BackupStateSuccess || row.HeldCID == "" {
		return nil, common.NotFound(common.CodeBackupNotFound, "no successful backup of %s", userDID)
	}
	return row, nil
}

// ResealForRestore re-seals the last manifest of userDID to the restoring
// node's publicKey and describes the result.
func (s *Service) ResealForRestore(ctx context.Context, userDID, publicKey string) (*Descriptor, error) {
	client, err := cryptox.DecodeKey(publicKey)
	if err != nil {
		return nil, common.InvalidParameter("public_key: %v", err)
	}
	row, err := s.lastBackup(ctx, userDID)
	if err != nil {
		return nil, err
	}
	m, err := s.openStored(ctx, heldOf(row))
	if err != nil {
		return nil, err
	}
	sealed, err := SealManifest(m, s.node.Box, client)
	if err != nil {
		return nil, err
	}
	return storeSealed(ctx, s.objects, sealed, s.node.Box.PublicKeyString())
}
