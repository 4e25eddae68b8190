// Package files maps the logical paths of every (user, app) pair to content
// pinned on the object network. Metadata rows live in the app's own
// database; bytes are cached per user under the data directory.
package files

import (
	"context"
	"errors"
	"io"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/dmitrijs2005/hivenode/internal/common"
	"github.com/dmitrijs2005/hivenode/internal/did"
	"github.com/dmitrijs2005/hivenode/internal/docstore"
	"github.com/dmitrijs2005/hivenode/internal/filex"
	"github.com/dmitrijs2005/hivenode/internal/logging"
	"github.com/dmitrijs2005/hivenode/internal/objectstore"
	"github.com/dmitrijs2005/hivenode/internal/server/apps"
	"github.com/dmitrijs2005/hivenode/internal/server/cidref"
	"github.com/dmitrijs2005/hivenode/internal/server/database"
	"github.com/dmitrijs2005/hivenode/internal/server/vault"
)

const (
	CollectionFiles     = database.CollectionFiles
	CollectionAnonymous = database.CollectionAnonymous
)

// Objects is the part of the object network client the file service uses.
type Objects interface {
	Add(ctx context.Context, r io.Reader) (string, error)
	FetchFile(ctx context.Context, cid string, exp objectstore.Expect, dst string) error
}

var now = func() int64 { return time.Now().Unix() }

// Metadata is one file row.
type Metadata struct {
	Path          string
	SHA256        string
	Size          int64
	CID           string
	IsEncrypted   bool
	EncryptMethod string
	Created       int64
	Modified      int64
}

// ModTime is Modified as a time.
func (m *Metadata) ModTime() time.Time { return time.Unix(m.Modified, 0) }

// ETag is the strong validator of the content.
func (m *Metadata) ETag() string { return `"sha256:` + m.SHA256 + `"` }

type UploadOptions struct {
	IsEncrypted   bool
	EncryptMethod string
	Public        bool
}

type Service struct {
	docs    docstore.Store
	apps    *apps.Service
	vaults  *vault.Service
	refs    *cidref.Service
	objects Objects
	dataDir string
	tmpDir  string
	log     logging.Logger
}

func NewService(docs docstore.Store, a *apps.Service, v *vault.Service, refs *cidref.Service, objects Objects, dataDir string, log logging.Logger) *Service {
	return &Service{
		docs:    docs,
		apps:    a,
		vaults:  v,
		refs:    refs,
		objects: objects,
		dataDir: dataDir,
		tmpDir:  filepath.Join(dataDir, "tmp"),
		log:     log.With("module", "files"),
	}
}

// CleanPath normalizes a logical file path. The root is "".
func CleanPath(p string) (string, error) {
	p = strings.Trim(strings.TrimSpace(p), "/")
	if p == "" {
		return "", nil
	}
	c := path.Clean(p)
	if c == "." || c == ".." || strings.HasPrefix(c, "../") {
		return "", common.InvalidParameter("invalid path %q", p)
	}
	return c, nil
}

func cleanFilePath(p string) (string, error) {
	c, err := CleanPath(p)
	if err != nil {
		return "", err
	}
	if c == "" {
		return "", common.InvalidParameter("file path is required")
	}
	return c, nil
}

func fileNotFound(p string) error {
	return common.NotFound(common.CodeFileNotFound, "file %q not found", p)
}

func (s *Service) userDir(userDID string) (string, error) {
	msid, err := did.MethodSpecificID(userDID)
	if err != nil {
		return "", common.InvalidParameter("invalid user did %q", userDID)
	}
	return filepath.Join(s.dataDir, msid), nil
}

func (s *Service) cachePath(userDID, cid string) (string, error) {
	dir, err := s.userDir(userDID)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "cache", cid), nil
}

func (s *Service) legacyPath(userDID, appDID, p string) (string, error) {
	dir, err := s.userDir(userDID)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, appDID, "files", filepath.FromSlash(p)), nil
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case float64:
		return int64(n)
	case int:
		return int64(n)
	}
	return 0
}

func fromDocument(d docstore.Document) *Metadata {
	m := &Metadata{
		Size:     toInt64(d["size"]),
		Created:  toInt64(d[docstore.CreatedField]),
		Modified: toInt64(d[docstore.ModifiedField]),
	}
	m.Path, _ = d["path"].(string)
	m.SHA256, _ = d["sha256"].(string)
	m.CID, _ = d["cid"].(string)
	m.IsEncrypted, _ = d["is_encrypt"].(bool)
	m.EncryptMethod, _ = d["encrypt_method"].(string)
	return m
}

func (m *Metadata) document() docstore.Document {
	return docstore.Document{
		"path":                 m.Path,
		"sha256":               m.SHA256,
		"size":                 m.Size,
		"cid":                  m.CID,
		"is_encrypt":           m.IsEncrypted,
		"encrypt_method":       m.EncryptMethod,
		docstore.CreatedField:  m.Created,
		docstore.ModifiedField: m.Modified,
	}
}

// find returns the row at p or nil.
func (s *Service) find(ctx context.Context, db, p string) (*Metadata, error) {
	d, err := s.docs.FindOne(ctx, db, CollectionFiles, docstore.Document{"path": p}, docstore.FindOptions{})
	if errors.Is(err, docstore.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return fromDocument(d), nil
}

func (s *Service) mustFind(ctx context.Context, db, p string) (*Metadata, error) {
	m, err := s.find(ctx, db, p)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fileNotFound(p)
	}
	return m, nil
}

// Upload stores r at p, replacing any previous content. The quota is
// checked against the staged size before anything is pinned.
func (s *Service) Upload(ctx context.Context, userDID, appDID, p string, r io.Reader, opts UploadOptions) (*Metadata, error) {
	p, err := cleanFilePath(p)
	if err != nil {
		return nil, err
	}
	v, err := s.vaults.CheckWrite(ctx, userDID)
	if err != nil {
		return nil, err
	}

	f, cleanup, err := filex.TempFile(s.tmpDir, "upload-")
	if err != nil {
		return nil, err
	}
	defer cleanup()
	sha, size, err := filex.CopyHashed(f, r)
	if err != nil {
		return nil, common.InvalidParameter("read upload: %v", err)
	}

	db := s.apps.DatabaseName(userDID, appDID)
	old, err := s.find(ctx, db, p)
	if err != nil {
		return nil, err
	}
	var oldSize int64
	if old != nil {
		oldSize = old.Size
	}
	if err := s.vaults.CheckQuota(v, size-oldSize); err != nil {
		return nil, err
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	cid, err := s.objects.Add(ctx, f)
	if err != nil {
		return nil, common.Internal(err, "add %s to object network", p)
	}
	// unpin the new content again if the upload fails before it is referenced
	release := func() {
		if old != nil && old.CID == cid {
			return
		}
		if s.refs.Release(ctx, cid) {
			s.dropCache(ctx, userDID, cid)
		}
	}
	if err := f.Close(); err != nil {
		release()
		return nil, err
	}
	cache, err := s.cachePath(userDID, cid)
	if err != nil {
		release()
		return nil, err
	}
	if !filex.Exists(cache) {
		if err := filex.MoveFile(f.Name(), cache); err != nil {
			release()
			return nil, err
		}
	}

	ts := now()
	_, err = s.docs.UpdateOne(ctx, db, CollectionFiles, docstore.Document{"path": p}, docstore.Document{
		"$set": docstore.Document{
			"sha256":               sha,
			"size":                 size,
			"cid":                  cid,
			"is_encrypt":           opts.IsEncrypted,
			"encrypt_method":       opts.EncryptMethod,
			docstore.ModifiedField: ts,
		},
		"$setOnInsert": docstore.Document{docstore.CreatedField: ts},
	}, docstore.UpdateOptions{Upsert: true})
	if err != nil {
		release()
		return nil, err
	}

	switch {
	case old == nil || old.CID == "":
		err = s.refs.Increase(ctx, cid, 1)
	case old.CID != cid:
		var removed bool
		removed, err = s.refs.Replace(ctx, old.CID, cid)
		if err == nil && removed {
			s.dropCache(ctx, userDID, old.CID)
		}
	}
	if err != nil {
		s.restoreRow(ctx, db, p, old)
		release()
		return nil, err
	}
	if err := s.vaults.AddFilesUsed(ctx, userDID, size-oldSize); err != nil {
		return nil, err
	}

	if opts.Public {
		_, err = s.docs.UpdateOne(ctx, db, CollectionAnonymous, docstore.Document{"name": p}, docstore.Document{
			"$set": docstore.Document{"cid": cid, "sha256": sha, "size": size},
		}, docstore.UpdateOptions{Upsert: true})
	} else {
		_, err = s.docs.DeleteOne(ctx, db, CollectionAnonymous, docstore.Document{"name": p})
	}
	if err != nil {
		return nil, err
	}

	s.log.Debug(ctx, "file uploaded", "user_did", userDID, "app_did", appDID, "path", p, "cid", cid, "size", size)
	m := &Metadata{Path: p, SHA256: sha, Size: size, CID: cid, IsEncrypted: opts.IsEncrypted,
		EncryptMethod: opts.EncryptMethod, Modified: ts, Created: ts}
	if old != nil {
		m.Created = old.Created
	}
	return m, nil
}

// restoreRow puts the row at p back to old, or removes it when there was
// none.
func (s *Service) restoreRow(ctx context.Context, db, p string, old *Metadata) {
	var err error
	if old == nil {
		_, err = s.docs.DeleteOne(ctx, db, CollectionFiles, docstore.Document{"path": p})
	} else {
		_, err = s.docs.UpdateOne(ctx, db, CollectionFiles, docstore.Document{"path": p}, docstore.Document{
			"$set": docstore.Document{
				"sha256":               old.SHA256,
				"size":                 old.Size,
				"cid":                  old.CID,
				"is_encrypt":           old.IsEncrypted,
				"encrypt_method":       old.EncryptMethod,
				docstore.ModifiedField: old.Modified,
			},
		}, docstore.UpdateOptions{})
	}
	if err != nil {
		s.log.Warn(ctx, "restore file row failed", "path", p, "error", err)
	}
}

func (s *Service) dropCache(ctx context.Context, userDID, cid string) {
	cache, err := s.cachePath(userDID, cid)
	if err != nil {
		return
	}
	if err := filex.RemoveIfExists(cache); err != nil {
		s.log.Warn(ctx, "remove cache failed", "cid", cid, "error", err)
	}
}

// Open returns the metadata and content of the file at p. The caller
// closes the file.
func (s *Service) Open(ctx context.Context, userDID, appDID, p string) (*Metadata, *os.File, error) {
	p, err := cleanFilePath(p)
	if err != nil {
		return nil, nil, err
	}
	if _, err := s.vaults.Get(ctx, userDID); err != nil {
		return nil, nil, err
	}
	m, err := s.mustFind(ctx, s.apps.DatabaseName(userDID, appDID), p)
	if err != nil {
		return nil, nil, err
	}
	f, err := s.openContent(ctx, userDID, appDID, m)
	if err != nil {
		return nil, nil, err
	}
	return m, f, nil
}

func (s *Service) openContent(ctx context.Context, userDID, appDID string, m *Metadata) (*os.File, error) {
	if m.CID == "" {
		legacy, err := s.legacyPath(userDID, appDID, m.Path)
		if err != nil {
			return nil, err
		}
		f, err := os.Open(legacy)
		if errors.Is(err, os.ErrNotExist) {
			return nil, fileNotFound(m.Path)
		}
		return f, err
	}

	cache, err := s.cachePath(userDID, m.CID)
	if err != nil {
		return nil, err
	}
	if !filex.Exists(cache) {
		err := s.objects.FetchFile(ctx, m.CID, objectstore.Expect{SHA256: m.SHA256, Size: m.Size}, cache)
		if err != nil {
			return nil, common.Internal(err, "fetch %s", m.CID)
		}
	}
	return os.Open(cache)
}

// OpenAnonymous opens a file the owner published by its CID.
func (s *Service) OpenAnonymous(ctx context.Context, ownerDID, appDID, cid string) (*Metadata, *os.File, error) {
	if _, err := s.vaults.Get(ctx, ownerDID); err != nil {
		return nil, nil, err
	}
	db := s.apps.DatabaseName(ownerDID, appDID)
	d, err := s.docs.FindOne(ctx, db, CollectionAnonymous, docstore.Document{"cid": cid}, docstore.FindOptions{})
	if errors.Is(err, docstore.ErrNoDocuments) {
		return nil, nil, fileNotFound(cid)
	}
	if err != nil {
		return nil, nil, err
	}
	name, _ := d["name"].(string)
	m, err := s.mustFind(ctx, db, name)
	if err != nil {
		return nil, nil, err
	}
	f, err := s.openContent(ctx, ownerDID, appDID, m)
	if err != nil {
		return nil, nil, err
	}
	return m, f, nil
}

// PublicCID returns the CID under which the file at p is published, or
// "" when it is not public.
func (s *Service) PublicCID(ctx context.Context, userDID, appDID, p string) (string, error) {
	p, err := cleanFilePath(p)
	if err != nil {
		return "", err
	}
	db := s.apps.DatabaseName(userDID, appDID)
	d, err := s.docs.FindOne(ctx, db, CollectionAnonymous, docstore.Document{"name": p}, docstore.FindOptions{})
	if errors.Is(err, docstore.ErrNoDocuments) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	cid, _ := d["cid"].(string)
	return cid, nil
}

// Delete removes the file at p. A missing file is an error only when
// checkExist is set.
func (s *Service) Delete(ctx context.Context, userDID, appDID, p string, checkExist bool) error {
	p, err := cleanFilePath(p)
	if err != nil {
		return err
	}
	if _, err := s.vaults.CheckWritePermission(ctx, userDID); err != nil {
		return err
	}
	db := s.apps.DatabaseName(userDID, appDID)
	m, err := s.find(ctx, db, p)
	if err != nil {
		return err
	}
	if m == nil {
		if checkExist {
			return fileNotFound(p)
		}
		return nil
	}

	if _, err := s.docs.DeleteOne(ctx, db, CollectionFiles, docstore.Document{"path": p}); err != nil {
		return err
	}
	if _, err := s.docs.DeleteOne(ctx, db, CollectionAnonymous, docstore.Document{"name": p}); err != nil {
		return err
	}
	if m.CID != "" {
		removed, err := s.refs.Decrease(ctx, m.CID, 1)
		if err != nil {
			return err
		}
		if removed {
			s.dropCache(ctx, userDID, m.CID)
		}
	} else if legacy, err := s.legacyPath(userDID, appDID, p); err == nil {
		_ = filex.RemoveIfExists(legacy)
	}
	return s.vaults.AddFilesUsed(ctx, userDID, -m.Size)
}

// Move renames src to dst without touching the content.
func (s *Service) Move(ctx context.Context, userDID, appDID, src, dst string) (*Metadata, error) {
	src, dst, err := cleanPair(src, dst)
	if err != nil {
		return nil, err
	}
	if _, err := s.vaults.CheckWritePermission(ctx, userDID); err != nil {
		return nil, err
	}
	db := s.apps.DatabaseName(userDID, appDID)
	m, err := s.mustFind(ctx, db, src)
	if err != nil {
		return nil, err
	}
	if err := s.checkFree(ctx, db, dst); err != nil {
		return nil, err
	}

	if m.CID == "" {
		from, err := s.legacyPath(userDID, appDID, src)
		if err != nil {
			return nil, err
		}
		to, err := s.legacyPath(userDID, appDID, dst)
		if err != nil {
			return nil, err
		}
		if err := filex.MoveFile(from, to); err != nil {
			return nil, err
		}
	}

	ts := now()
	_, err = s.docs.UpdateOne(ctx, db, CollectionFiles, docstore.Document{"path": src}, docstore.Document{
		"$set": docstore.Document{"path": dst, docstore.ModifiedField: ts},
	}, docstore.UpdateOptions{})
	if err != nil {
		return nil, err
	}
	_, err = s.docs.UpdateOne(ctx, db, CollectionAnonymous, docstore.Document{"name": src}, docstore.Document{
		"$set": docstore.Document{"name": dst},
	}, docstore.UpdateOptions{})
	if err != nil {
		return nil, err
	}
	m.Path, m.Modified = dst, ts
	return m, nil
}

// Copy duplicates the row at src to dst. Both rows share one CID.
func (s *Service) Copy(ctx context.Context, userDID, appDID, src, dst string) (*Metadata, error) {
	src, dst, err := cleanPair(src, dst)
	if err != nil {
		return nil, err
	}
	v, err := s.vaults.CheckWrite(ctx, userDID)
	if err != nil {
		return nil, err
	}
	db := s.apps.DatabaseName(userDID, appDID)
	m, err := s.mustFind(ctx, db, src)
	if err != nil {
		return nil, err
	}
	if err := s.checkFree(ctx, db, dst); err != nil {
		return nil, err
	}
	if err := s.vaults.CheckQuota(v, m.Size); err != nil {
		return nil, err
	}
	if m.CID == "" {
		if err := s.materialize(ctx, userDID, appDID, db, m); err != nil {
			return nil, err
		}
	}

	cp := *m
	cp.Path = dst
	cp.Created, cp.Modified = now(), now()
	if _, err := s.docs.InsertOne(ctx, db, CollectionFiles, cp.document(), docstore.InsertOptions{}); err != nil {
		return nil, err
	}
	if err := s.refs.Increase(ctx, cp.CID, 1); err != nil {
		return nil, err
	}
	if err := s.vaults.AddFilesUsed(ctx, userDID, cp.Size); err != nil {
		return nil, err
	}
	return &cp, nil
}

func cleanPair(src, dst string) (string, string, error) {
	src, err := cleanFilePath(src)
	if err != nil {
		return "", "", err
	}
	dst, err = cleanFilePath(dst)
	if err != nil {
		return "", "", err
	}
	if src == dst {
		return "", "", common.InvalidParameter("source and destination are the same")
	}
	return src, dst, nil
}

func (s *Service) checkFree(ctx context.Context, db, p string) error {
	m, err := s.find(ctx, db, p)
	if err != nil {
		return err
	}
	if m != nil {
		return common.AlreadyExists("file %q already exists", p)
	}
	return nil
}

// materialize pins a legacy file and records its CID in the row. The file
// takes its first reference here.
func (s *Service) materialize(ctx context.Context, userDID, appDID, db string, m *Metadata) error {
	legacy, err := s.legacyPath(userDID, appDID, m.Path)
	if err != nil {
		return err
	}
	f, err := os.Open(legacy)
	if errors.Is(err, os.ErrNotExist) {
		return fileNotFound(m.Path)
	}
	if err != nil {
		return err
	}
	defer f.Close()

	cid, err := s.objects.Add(ctx, f)
	if err != nil {
		return common.Internal(err, "add %s to object network", m.Path)
	}
	_, err = s.docs.UpdateOne(ctx, db, CollectionFiles, docstore.Document{"path": m.Path}, docstore.Document{
		"$set": docstore.Document{"cid": cid},
	}, docstore.UpdateOptions{})
	if err != nil {
		return err
	}
	if err := s.refs.Increase(ctx, cid, 1); err != nil {
		return err
	}
	s.log.Info(ctx, "legacy file pinned", "user_did", userDID, "path", m.Path, "cid", cid)
	m.CID = cid
	return nil
}

// List returns the files under dir, the root when dir is empty.
func (s *Service) List(ctx context.Context, userDID, appDID, dir string) ([]*Metadata, error) {
	dir, err := CleanPath(dir)
	if err != nil {
		return nil, err
	}
	if _, err := s.vaults.Get(ctx, userDID); err != nil {
		return nil, err
	}
	filter := docstore.Document{}
	if dir != "" {
		filter["path"] = docstore.Document{"$regex": "^" + regexp.QuoteMeta(dir) + "/"}
	}
	docs, err := s.docs.Find(ctx, s.apps.DatabaseName(userDID, appDID), CollectionFiles, filter,
		docstore.FindOptions{Sort: docstore.SortSpec{{Key: "path", Dir: 1}}})
	if err != nil {
		return nil, err
	}
	if dir != "" && len(docs) == 0 {
		return nil, common.NotFound(common.CodeFileNotFound, "folder %q not found", dir)
	}
	out := make([]*Metadata, len(docs))
	for i, d := range docs {
		out[i] = fromDocument(d)
	}
	return out, nil
}

// Properties returns the row at p. Hashes are read from the same row.
func (s *Service) Properties(ctx context.Context, userDID, appDID, p string) (*Metadata, error) {
	p, err := cleanFilePath(p)
	if err != nil {
		return nil, err
	}
	if _, err := s.vaults.Get(ctx, userDID); err != nil {
		return nil, err
	}
	return s.mustFind(ctx, s.apps.DatabaseName(userDID, appDID), p)
}

// FileRef is one distinct CID of a vault with the number of rows using it.
type FileRef struct {
	CID    string `json:"cid"`
	SHA256 string `json:"sha256"`
	Size   int64  `json:"size"`
	Count  int64  `json:"count"`
}

// FileRefs collapses the file rows of every app of the user by CID,
// pinning legacy files on the way. The result is ordered by CID.
func (s *Service) FileRefs(ctx context.Context, userDID string) ([]FileRef, error) {
	dids, err := s.apps.AppDIDs(ctx, userDID)
	if err != nil {
		return nil, err
	}
	byCID := map[string]*FileRef{}
	for _, appDID := range dids {
		if err := s.collectRefs(ctx, userDID, appDID, byCID); err != nil {
			return nil, err
		}
	}
	return sortedRefs(byCID), nil
}

// AppFileRefs is FileRefs restricted to one app.
func (s *Service) AppFileRefs(ctx context.Context, userDID, appDID string) ([]FileRef, error) {
	byCID := map[string]*FileRef{}
	if err := s.collectRefs(ctx, userDID, appDID, byCID); err != nil {
		return nil, err
	}
	return sortedRefs(byCID), nil
}

func (s *Service) collectRefs(ctx context.Context, userDID, appDID string, byCID map[string]*FileRef) error {
	db := s.apps.DatabaseName(userDID, appDID)
	docs, err := s.docs.Find(ctx, db, CollectionFiles, nil, docstore.FindOptions{})
	if err != nil {
		return err
	}
	for _, d := range docs {
		m := fromDocument(d)
		if m.CID == "" {
			if err := s.materialize(ctx, userDID, appDID, db, m); err != nil {
				return err
			}
		}
		if r, ok := byCID[m.CID]; ok {
			r.Count++
			continue
		}
		byCID[m.CID] = &FileRef{CID: m.CID, SHA256: m.SHA256, Size: m.Size, Count: 1}
	}
	return nil
}

func sortedRefs(byCID map[string]*FileRef) []FileRef {
	out := make([]FileRef, 0, len(byCID))
	for _, r := range byCID {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CID < out[j].CID })
	return out
}

// RecomputeUsed sums the sizes of every file row of the user into the
// vault's files counter.
func (s *Service) RecomputeUsed(ctx context.Context, userDID string) (int64, error) {
	names, err := s.apps.DatabaseNames(ctx, userDID)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, db := range names {
		docs, err := s.docs.Find(ctx, db, CollectionFiles, nil, docstore.FindOptions{
			Projection: docstore.Document{"size": int64(1)},
		})
		if err != nil {
			return 0, err
		}
		for _, d := range docs {
			total += toInt64(d["size"])
		}
	}
	if err := s.vaults.SetFilesUsed(ctx, userDID, total); err != nil {
		return 0, err
	}
	return total, nil
}

// PurgeUser releases the file references of every app of the user, drops
// the app databases and removes the user's directory.
func (s *Service) PurgeUser(ctx context.Context, userDID string) error {
	list, err := s.apps.List(ctx, userDID)
	if err != nil {
		return err
	}
	for _, a := range list {
		docs, err := s.docs.Find(ctx, a.DatabaseName, CollectionFiles, nil, docstore.FindOptions{})
		if err != nil {
			return err
		}
		for _, d := range docs {
			if cid, _ := d["cid"].(string); cid != "" {
				if _, err := s.refs.Decrease(ctx, cid, 1); err != nil {
					return err
				}
			}
		}
		if err := s.docs.DropDatabase(ctx, a.DatabaseName); err != nil {
			return err
		}
	}
	if err := s.apps.DeleteAll(ctx, userDID); err != nil {
		return err
	}
	if dir, err := s.userDir(userDID); err == nil {
		if err := os.RemoveAll(dir); err != nil {
			return err
		}
	}
	s.log.Info(ctx, "user purged", "user_did", userDID, "apps", len(list))
	return nil
}
