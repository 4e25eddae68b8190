package backup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/dmitrijs2005/hivenode/internal/common"
	"github.com/dmitrijs2005/hivenode/internal/cryptox"
	"github.com/dmitrijs2005/hivenode/internal/did"
	"github.com/dmitrijs2005/hivenode/internal/filex"
	"github.com/dmitrijs2005/hivenode/internal/objectstore"
	"github.com/dmitrijs2005/hivenode/internal/server/files"
	"github.com/dmitrijs2005/hivenode/internal/server/models"
)

const maxPollFailures = 3

// checkCredential verifies a backup credential the user issued to this
// node.
func (s *Service) checkCredential(ctx context.Context, userDID string, raw json.RawMessage) (*did.Credential, error) {
	if len(raw) == 0 {
		return nil, common.InvalidParameter("credential is required")
	}
	cred, err := did.ParseCredential(raw)
	if err != nil {
		return nil, common.DIDError("%v", err)
	}
	if !cred.HasType(did.TypeBackupCredential) {
		return nil, common.DIDError("not a %s", did.TypeBackupCredential)
	}
	if cred.Issuer != userDID {
		return nil, common.DIDError("credential issued by %s, not the vault owner", cred.Issuer)
	}
	if cred.SubjectID() != s.node.DID() {
		return nil, common.DIDError("credential subject %s is not this node", cred.SubjectID())
	}
	if cred.SubjectString("targetHost") == "" {
		return nil, common.DIDError("credential carries no targetHost")
	}
	if err := cred.Verify(ctx, s.resolver, time.Now()); err != nil {
		return nil, common.DIDError("credential: %v", err)
	}
	return cred, nil
}

// StartBackup begins copying the vault of userDID to the node named in
// the credential.
func (s *Service) StartBackup(ctx context.Context, userDID string, credential json.RawMessage, force bool) error {
	return s.start(ctx, userDID, models.BackupActionBackup, credential, force)
}

// StartRestore begins replacing the vault of userDID with its last backup
// on the node named in the credential.
func (s *Service) StartRestore(ctx context.Context, userDID string, credential json.RawMessage, force bool) error {
	return s.start(ctx, userDID, models.BackupActionRestore, credential, force)
}

func (s *Service) start(ctx context.Context, userDID, action string, credential json.RawMessage, force bool) error {
	if _, err := s.vaults.Get(ctx, userDID); err != nil {
		return err
	}
	cred, err := s.checkCredential(ctx, userDID, credential)
	if err != nil {
		return err
	}
	host, targetDID := cred.SubjectString("targetHost"), cred.SubjectString("targetDID")

	repo := s.m.Backups(s.m.DB())
	if !force {
		local, err := repo.Get(ctx, userDID)
		if err != nil && !errors.Is(err, common.ErrorNotFound) {
			return err
		}
		if local != nil && local.State == models.BackupStateProcess {
			return common.BackupInProcess("a %s of this vault is running", local.Action)
		}
	}

	token, err := s.signIn(ctx, host, targetDID, cred)
	if err != nil {
		return err
	}
	remote, err := s.connect(host, token).state(ctx)
	if err != nil {
		return err
	}
	if !force && remote.Result == models.BackupStateProcess {
		return common.BackupInProcess("the backup node is processing a %s", remote.State)
	}
	if action == models.BackupActionRestore &&
		(remote.State != models.BackupActionBackup || remote.Result != models.BackupStateSuccess) {
		return common.NotFound(common.CodeBackupNotFound, "no successful backup on the backup node")
	}

	row := &models.Backup{
		UserDID:     userDID,
		Action:      action,
		State:       models.BackupStateProcess,
		ProgressMsg: "0",
		TargetHost:  host,
		TargetDID:   targetDID,
		TargetToken: token,
	}
	started, err := repo.Start(ctx, row, force)
	if err != nil {
		return err
	}
	if !started {
		return common.BackupInProcess("a backup or restore of this vault is running")
	}
	s.log.Info(ctx, "backup client started", "user_did", userDID, "action", action, "target_host", host)
	s.runClient(row, force)
	return nil
}

// runClient spawns the executor of row.
func (s *Service) runClient(row *models.Backup, force bool) {
	fail := func(ctx context.Context, msg string) error {
		return s.m.Backups(s.m.DB()).UpdateState(ctx, row.UserDID, models.BackupStateFailed, msg)
	}
	s.spawn(RoleClient, row.Action, row.UserDID, func(ctx context.Context) error {
		if row.Action == models.BackupActionRestore {
			return s.runRestore(ctx, row)
		}
		return s.runBackup(ctx, row, force)
	}, fail)
}

// ClientState reports the last backup or restore of userDID.
func (s *Service) ClientState(ctx context.Context, userDID string) (*StateInfo, error) {
	row, err := s.m.Backups(s.m.DB()).Get(ctx, userDID)
	if errors.Is(err, common.ErrorNotFound) {
		return stateOf("", "", ""), nil
	}
	if err != nil {
		return nil, err
	}
	return stateOf(row.Action, row.State, row.ProgressMsg), nil
}

func (s *Service) clientProgress(ctx context.Context, row *models.Backup, pct int) error {
	if err := s.m.Backups(s.m.DB()).UpdateState(ctx, row.UserDID, models.BackupStateProcess, strconv.Itoa(pct)); err != nil {
		return err
	}
	if pct == 0 {
		s.observe(RoleClient, row.Action, models.BackupStateProcess)
	}
	return nil
}

func (s *Service) runBackup(ctx context.Context, row *models.Backup, force bool) error {
	if err := s.clientProgress(ctx, row, 0); err != nil {
		return err
	}
	p := s.connect(row.TargetHost, row.TargetToken)
	remote, err := p.state(ctx)
	if err != nil {
		return err
	}
	serverKey, err := cryptox.DecodeKey(remote.PublicKey)
	if err != nil {
		return fmt.Errorf("backup node public key: %w", err)
	}

	progress := func(pct int) error { return s.clientProgress(ctx, row, pct) }
	desc, staged, err := s.snapshot(ctx, row.UserDID, serverKey, progress)
	// the backup node holds its own pins once it has succeeded
	defer s.unpinAll(context.WithoutCancel(ctx), staged)
	if err != nil {
		return err
	}

	err = p.push(ctx, &PushRequest{
		CID:       desc.CID,
		SHA256:    desc.SHA256,
		Size:      desc.Size,
		IsForce:   force,
		PublicKey: desc.PublicKey,
	})
	if err != nil {
		return err
	}
	if err := s.clientProgress(ctx, row, 50); err != nil {
		return err
	}
	if err := s.follow(ctx, row, p); err != nil {
		return err
	}
	return s.clientDone(ctx, row)
}

func (s *Service) unpinAll(ctx context.Context, cids []string) {
	for _, cid := range cids {
		if err := s.objects.Unpin(ctx, cid); err != nil {
			s.log.Warn(ctx, "unpin staged blob", "cid", cid, "error", err)
		}
	}
}

// snapshot dumps every app database of userDID, collects its file
// references and stores a manifest sealed to serverKey. staged lists the
// blobs added on the way.
func (s *Service) snapshot(ctx context.Context, userDID string, serverKey [32]byte, progress func(pct int) error) (desc *Descriptor, staged []string, err error) {
	key, err := cryptox.NewSymmetricKey()
	if err != nil {
		return nil, nil, err
	}
	defer key.Wipe()
	list, err := s.apps.List(ctx, userDID)
	if err != nil {
		return nil, nil, err
	}
	m := &Manifest{
		Version:    ManifestVersion,
		Databases:  []DatabaseEntry{},
		Files:      []FileEntry{},
		UserDID:    userDID,
		CreateTime: time.Now().Unix(),
	}
	m.Encryption.SecretKey, m.Encryption.Nonce = key.Encoded()

	for i, a := range list {
		sub := key.Derive(a.AppDID)
		e, err := s.dumpDatabase(ctx, a.DatabaseName, sub)
		sub.Wipe()
		if err != nil {
			return nil, staged, fmt.Errorf("dump %s: %w", a.AppDID, err)
		}
		e.AppDID = a.AppDID
		m.Databases = append(m.Databases, *e)
		m.BackupSize += e.Size
		staged = append(staged, e.CID)
		if err := progress(15 * (i + 1) / len(list)); err != nil {
			return nil, staged, err
		}
	}

	refs, err := s.files.FileRefs(ctx, userDID)
	if err != nil {
		return nil, staged, err
	}
	for _, r := range refs {
		m.Files = append(m.Files, FileEntry{CID: r.CID, SHA256: r.SHA256, Size: r.Size, Count: r.Count})
		m.BackupSize += r.Size
	}
	filesUsed, err := s.files.RecomputeUsed(ctx, userDID)
	if err != nil {
		return nil, staged, err
	}
	dbUsed, err := s.vaults.RecomputeDBUsed(ctx, userDID)
	if err != nil {
		return nil, staged, err
	}
	m.VaultSize = filesUsed + dbUsed
	if err := progress(25); err != nil {
		return nil, staged, err
	}

	sealed, err := SealManifest(m, s.node.Box, serverKey)
	if err != nil {
		return nil, staged, err
	}
	desc, err = storeSealed(ctx, s.objects, sealed, s.node.Box.PublicKeyString())
	if err != nil {
		return nil, staged, err
	}
	staged = append(staged, desc.CID)
	return desc, staged, progress(35)
}

// follow mirrors the backup node's progress until it settles.
func (s *Service) follow(ctx context.Context, row *models.Backup, p *peer) error {
	t := time.NewTicker(s.opts.PollInterval)
	defer t.Stop()
	failures := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
		st, err := p.state(ctx)
		if err != nil {
			failures++
			if failures >= maxPollFailures {
				return fmt.Errorf("poll backup node: %w", err)
			}
			s.log.Warn(ctx, "poll backup node", "user_did", row.UserDID, "error", err)
			continue
		}
		failures = 0
		switch st.Result {
		case models.BackupStateSuccess:
			return nil
		case models.BackupStateFailed:
			return fmt.Errorf("backup node: %s", st.Message)
		case models.BackupStateProcess:
			if err := s.m.Backups(s.m.DB()).UpdateState(ctx, row.UserDID, models.BackupStateProcess, st.Message); err != nil {
				return err
			}
		}
	}
}

func (s *Service) clientDone(ctx context.Context, row *models.Backup) error {
	if err := s.m.Backups(s.m.DB()).UpdateState(ctx, row.UserDID, models.BackupStateSuccess, "100"); err != nil {
		return err
	}
	s.observe(RoleClient, row.Action, models.BackupStateSuccess)
	s.log.Info(ctx, "backup client finished", "user_did", row.UserDID, "action", row.Action)
	return nil
}

// dumpDatabase exports db, encrypts the dump with key and adds it to the
// object network.
func (s *Service) dumpDatabase(ctx context.Context, db string, key *cryptox.SymmetricKey) (*DatabaseEntry, error) {
	if err := filex.EnsureDir(s.tmpDir); err != nil {
		return nil, err
	}
	plain, cleanPlain, err := filex.TempFile(s.tmpDir, "dump-")
	if err != nil {
		return nil, err
	}
	defer cleanPlain()
	if err := s.docs.Dump(ctx, db, plain); err != nil {
		return nil, err
	}
	if _, err := plain.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	enc, cleanEnc, err := filex.TempFile(s.tmpDir, "dump-enc-")
	if err != nil {
		return nil, err
	}
	defer cleanEnc()
	h := sha256.New()
	size, err := cryptox.EncryptStream(io.MultiWriter(enc, h), plain, key)
	if err != nil {
		return nil, err
	}
	if _, err := enc.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	cid, err := s.objects.Add(ctx, enc)
	if err != nil {
		return nil, err
	}
	return &DatabaseEntry{Name: db, CID: cid, SHA256: hex.EncodeToString(h.Sum(nil)), Size: size}, nil
}

// importDatabase replaces the app database of e with the dump it points
// to.
func (s *Service) importDatabase(ctx context.Context, userDID string, e DatabaseEntry, base *cryptox.SymmetricKey) error {
	if err := s.apps.Ensure(ctx, userDID, e.AppDID); err != nil {
		return err
	}
	if err := filex.EnsureDir(s.tmpDir); err != nil {
		return err
	}
	rc, err := s.objects.Get(ctx, e.CID, objectstore.Expect{SHA256: e.SHA256, Size: e.Size})
	if err != nil {
		return fmt.Errorf("get dump %s: %w", e.CID, err)
	}
	defer rc.Close()

	plain, clean, err := filex.TempFile(s.tmpDir, "restore-")
	if err != nil {
		return err
	}
	defer clean()
	sub := base.Derive(e.AppDID)
	defer sub.Wipe()
	if err := cryptox.DecryptStream(plain, rc, sub); err != nil {
		return fmt.Errorf("decrypt dump %s: %w", e.CID, err)
	}
	if _, err := plain.Seek(0, io.SeekStart); err != nil {
		return err
	}
	return s.docs.Restore(ctx, s.apps.DatabaseName(userDID, e.AppDID), plain)
}

// importManifest loads every database of m into the vault of userDID and
// takes m's file references on this node.
func (s *Service) importManifest(ctx context.Context, userDID string, m *Manifest, pin bool, progress func(pct int) error) error {
	key, err := m.key()
	if err != nil {
		return err
	}
	var previous []files.FileRef
	for _, e := range m.Databases {
		refs, err := s.files.AppFileRefs(ctx, userDID, e.AppDID)
		if err != nil {
			return err
		}
		previous = append(previous, refs...)
	}
	for _, e := range m.Databases {
		if err := s.importDatabase(ctx, userDID, e, key); err != nil {
			return err
		}
	}
	if err := progress(60); err != nil {
		return err
	}

	for _, f := range m.Files {
		if pin {
			if err := s.objects.Pin(ctx, f.CID); err != nil {
				return fmt.Errorf("pin %s: %w", f.CID, err)
			}
		}
		if err := s.refs.Increase(ctx, f.CID, f.Count); err != nil {
			return err
		}
	}
	// references of the rows the import replaced
	for _, r := range previous {
		if _, err := s.refs.Decrease(ctx, r.CID, r.Count); err != nil {
			return err
		}
	}
	if err := progress(80); err != nil {
		return err
	}

	filesUsed, err := s.files.RecomputeUsed(ctx, userDID)
	if err != nil {
		return err
	}
	return s.vaults.SetDBUsed(ctx, userDID, max(0, m.VaultSize-filesUsed))
}

func (s *Service) runRestore(ctx context.Context, row *models.Backup) error {
	if err := s.clientProgress(ctx, row, 0); err != nil {
		return err
	}
	p := s.connect(row.TargetHost, row.TargetToken)
	desc, err := p.restore(ctx, s.node.Box.PublicKeyString())
	if err != nil {
		return err
	}
	serverKey, err := cryptox.DecodeKey(desc.PublicKey)
	if err != nil {
		return fmt.Errorf("backup node public key: %w", err)
	}
	sealed, err := fetchSealed(ctx, s.objects, desc)
	if err != nil {
		return err
	}
	m, err := OpenManifest(sealed, s.node.Box, serverKey)
	if err != nil {
		return err
	}
	if m.UserDID != row.UserDID {
		return common.InvalidParameter("manifest belongs to %s", m.UserDID)
	}
	v, err := s.vaults.Get(ctx, row.UserDID)
	if err != nil {
		return err
	}
	if m.VaultSize > v.QuotaBytes {
		return common.InsufficientStorage("backup of %d bytes exceeds the vault quota of %d", m.VaultSize, v.QuotaBytes)
	}
	if err := s.clientProgress(ctx, row, 40); err != nil {
		return err
	}

	progress := func(pct int) error { return s.clientProgress(ctx, row, pct) }
	if err := s.importManifest(ctx, row.UserDID, m, true, progress); err != nil {
		return err
	}
	return s.clientDone(ctx, row)
}
