package backup

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/dmitrijs2005/hivenode/internal/common"
	"github.com/dmitrijs2005/hivenode/internal/cryptox"
	"github.com/dmitrijs2005/hivenode/internal/objectstore"
)

// ManifestVersion is written into every manifest. Readers accept any minor
// revision of the same major.
const ManifestVersion = "1.0"

const maxManifestSize = 64 << 20

type DatabaseEntry struct {
	AppDID string `json:"app_did"`
	Name   string `json:"name"`
	CID    string `json:"cid"`
	SHA256 string `json:"sha256"`
	Size   int64  `json:"size"`
}

// FileEntry is one distinct file CID and the references this backup holds
// on it.
type FileEntry struct {
	CID    string `json:"cid"`
	SHA256 string `json:"sha256"`
	Size   int64  `json:"size"`
	Count  int64  `json:"count"`
}

// Encryption is the base key of the database dumps. Each dump is encrypted
// with a key derived from it and the app DID.
type Encryption struct {
	SecretKey string `json:"secret_key"`
	Nonce     string `json:"nonce"`
}

// Manifest is the root document of a backup.
type Manifest struct {
	Version    string          `json:"version"`
	Databases  []DatabaseEntry `json:"databases"`
	Files      []FileEntry     `json:"files"`
	UserDID    string          `json:"user_did"`
	VaultSize  int64           `json:"vault_size"`
	BackupSize int64           `json:"backup_size"`
	CreateTime int64           `json:"create_time"`
	Encryption Encryption      `json:"encryption"`
}

// Descriptor locates a sealed manifest. PublicKey is the box key of the node
// that sealed it.
type Descriptor struct {
	CID       string `json:"cid"`
	SHA256    string `json:"sha256"`
	Size      int64  `json:"size"`
	PublicKey string `json:"public_key"`
}

func (m *Manifest) key() (*cryptox.SymmetricKey, error) {
	return cryptox.ParseSymmetricKey(m.Encryption.SecretKey, m.Encryption.Nonce)
}

func checkVersion(v string) error {
	major, _, _ := strings.Cut(v, ".")
	want, _, _ := strings.Cut(ManifestVersion, ".")
	if major != want {
		return common.InvalidParameter("unsupported manifest version %q", v)
	}
	return nil
}

// SealManifest encodes m and seals it from ours to theirs.
func SealManifest(m *Manifest, ours *cryptox.BoxKeyPair, theirs [32]byte) ([]byte, error) {
	plain, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	return cryptox.NewCipher(ours, theirs).Seal(plain)
}

// OpenManifest reverses SealManifest. theirs is the sender's public key.
func OpenManifest(sealed []byte, ours *cryptox.BoxKeyPair, theirs [32]byte) (*Manifest, error) {
	plain, err := cryptox.NewCipher(ours, theirs).Open(sealed)
	if err != nil {
		return nil, common.InvalidParameter("open manifest: %v", err)
	}
	var m Manifest
	if err := json.Unmarshal(plain, &m); err != nil {
		return nil, common.InvalidParameter("decode manifest: %v", err)
	}
	if err := checkVersion(m.Version); err != nil {
		return nil, err
	}
	return &m, nil
}

// storeSealed adds sealed to the object network and describes it.
func storeSealed(ctx context.Context, objects Objects, sealed []byte, publicKey string) (*Descriptor, error) {
	cid, err := objects.Add(ctx, bytes.NewReader(sealed))
	if err != nil {
		return nil, fmt.Errorf("add manifest: %w", err)
	}
	sum := sha256.Sum256(sealed)
	return &Descriptor{
		CID:       cid,
		SHA256:    hex.EncodeToString(sum[:]),
		Size:      int64(len(sealed)),
		PublicKey: publicKey,
	}, nil
}

// fetchSealed reads the manifest behind d, verifying its hash and size.
func fetchSealed(ctx context.Context, objects Objects, d *Descriptor) ([]byte, error) {
	if d.Size > maxManifestSize {
		return nil, common.InvalidParameter("manifest of %d bytes is too large", d.Size)
	}
	rc, err := objects.Get(ctx, d.CID, objectstore.Expect{SHA256: d.SHA256, Size: d.Size})
	if err != nil {
		return nil, fmt.Errorf("get manifest %s: %w", d.CID, err)
	}
	defer rc.Close()
	b, err := io.ReadAll(io.LimitReader(rc, maxManifestSize+1))
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", d.CID, err)
	}
	return b, nil
}
