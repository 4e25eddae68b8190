package did

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"

	"github.com/dmitrijs2005/hivenode/internal/cryptox"
	"github.com/dmitrijs2005/hivenode/internal/filex"
)

const nodeKeyFile = "node.key"

// Identity is the node's own DID: its signing key, the curve25519 key used
// to seal backup manifests, and its self-signed document.
type Identity struct {
	Key      *KeyPair
	Box      *cryptox.BoxKeyPair
	Document *Document
}

// LoadOrCreateIdentity reads <dir>/node.key, generating and persisting a
// fresh seed on first start.
func LoadOrCreateIdentity(dir string) (*Identity, error) {
	if err := filex.EnsureDir(dir); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, nodeKeyFile)

	var kp *KeyPair
	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		seed, derr := base58.Decode(strings.TrimSpace(string(raw)))
		if derr != nil {
			return nil, fmt.Errorf("decode %s: %w", path, derr)
		}
		if kp, err = KeyPairFromSeed(seed); err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
		if kp, err = GenerateKeyPair(); err != nil {
			return nil, err
		}
		if err := os.WriteFile(path, []byte(base58.Encode(kp.Seed())+"\n"), 0o600); err != nil {
			return nil, fmt.Errorf("write %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	return NewIdentity(kp)
}

// NewIdentity derives the box key and document of kp.
func NewIdentity(kp *KeyPair) (*Identity, error) {
	bx, err := cryptox.DeriveBoxKeyPair(kp.Seed())
	if err != nil {
		return nil, err
	}
	doc, err := NewDocument(kp, time.Time{}, time.Now())
	if err != nil {
		return nil, err
	}
	return &Identity{Key: kp, Box: bx, Document: doc}, nil
}

func (id *Identity) DID() string { return id.Key.DID() }

// IssueCredential issues a credential signed by the node.
func (id *Identity) IssueCredential(types []string, subject map[string]any, validFor time.Duration) (*Credential, error) {
	now := time.Now()
	var expires time.Time
	if validFor > 0 {
		expires = now.Add(validFor)
	}
	return IssueCredential(id.Key, "urn:uuid:"+uuid.NewString(), types, subject, now, expires)
}
