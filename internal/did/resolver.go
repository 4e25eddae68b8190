package did

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/hivenode/internal/filex"
	"github.com/dmitrijs2005/hivenode/internal/netx"
)

// ErrNotResolved is returned when no resolver knows a DID.
var ErrNotResolved = errors.New("did not resolvable")

// Resolver maps a DID to its document.
type Resolver interface {
	Resolve(ctx context.Context, id string) (*Document, error)
}

// KeyResolver resolves did:key identifiers without any I/O.
type KeyResolver struct{}

func (KeyResolver) Resolve(_ context.Context, id string) (*Document, error) {
	if !IsKeyDID(id) {
		return nil, ErrNotResolved
	}
	return KeyDocument(id)
}

// Store keeps DID documents on disk under <dir>/docs/<msid>.json.
type Store struct {
	dir string
	mu  sync.RWMutex
}

func NewStore(dir string) *Store {
	return &Store{dir: filepath.Join(dir, "docs")}
}

func (s *Store) path(id string) (string, error) {
	msid, err := MethodSpecificID(StripFragment(id))
	if err != nil {
		return "", err
	}
	// msids may carry ':' for some methods
	name := strings.NewReplacer(":", "_", "/", "_").Replace(msid)
	return filepath.Join(s.dir, name+".json"), nil
}

// SaveDocument persists doc keyed by its method-specific id.
func (s *Store) SaveDocument(doc *Document) error {
	p, err := s.path(doc.ID)
	if err != nil {
		return err
	}
	raw, err := doc.Raw()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := filex.EnsureDir(s.dir); err != nil {
		return err
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("write did document: %w", err)
	}
	return os.Rename(tmp, p)
}

// LoadDocument returns the stored document for id, or ErrNotResolved.
func (s *Store) LoadDocument(id string) (*Document, error) {
	p, err := s.path(id)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	raw, err := os.ReadFile(p)
	s.mu.RUnlock()
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotResolved
	}
	if err != nil {
		return nil, fmt.Errorf("read did document: %w", err)
	}
	return ParseDocument(raw)
}

func (s *Store) Resolve(_ context.Context, id string) (*Document, error) {
	return s.LoadDocument(id)
}

// HTTPResolver asks a universal resolver: GET {base}/1.0/identifiers/{did}.
type HTTPResolver struct {
	client *netx.Client
}

func NewHTTPResolver(baseURL string, timeout time.Duration) *HTTPResolver {
	return &HTTPResolver{client: netx.NewClient(baseURL, timeout)}
}

func (r *HTTPResolver) Resolve(ctx context.Context, id string) (*Document, error) {
	var body json.RawMessage
	err := r.client.DoJSON(ctx, http.MethodGet, "/1.0/identifiers/"+url.PathEscape(StripFragment(id)), nil, &body)
	if err != nil {
		var re *netx.RemoteError
		if errors.As(err, &re) && re.Status == http.StatusNotFound {
			return nil, ErrNotResolved
		}
		return nil, fmt.Errorf("resolve %s: %w", id, err)
	}

	// Universal resolvers wrap the document in a resolution result.
	var wrapped struct {
		DIDDocument json.RawMessage `json:"didDocument"`
	}
	if json.Unmarshal(body, &wrapped) == nil && len(wrapped.DIDDocument) > 0 {
		body = wrapped.DIDDocument
	}
	return ParseDocument(body)
}

// Chain tries each resolver in order and returns the first hit.
type Chain []Resolver

func (c Chain) Resolve(ctx context.Context, id string) (*Document, error) {
	for _, r := range c {
		if r == nil {
			continue
		}
		doc, err := r.Resolve(ctx, id)
		if errors.Is(err, ErrNotResolved) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if doc.ID != StripFragment(id) {
			return nil, fmt.Errorf("%w: resolved %s for %s", ErrInvalidDID, doc.ID, id)
		}
		return doc, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNotResolved, id)
}
