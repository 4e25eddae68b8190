// Package objectstore is the node's view of the content-addressed object
// network. A Backend speaks to one concrete network (a kubo daemon, an S3
// bucket, or an in-process map); Client layers integrity checks, read
// retries and pin semantics on top.
package objectstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/dmitrijs2005/hivenode/internal/filex"
)

var (
	ErrNotFound   = errors.New("object not found")
	ErrNotPinned  = errors.New("object not pinned")
	ErrIntegrity  = errors.New("object integrity check failed")
	ErrInvalidCID = errors.New("invalid cid")
)

// Backend is one object network.
type Backend interface {
	// Add stores and pins the content of r and returns its CID.
	Add(ctx context.Context, r io.Reader) (string, error)
	// Cat streams the content of cid from anywhere in the network.
	Cat(ctx context.Context, cid string) (io.ReadCloser, error)
	// Pin anchors content that is already stored locally.
	Pin(ctx context.Context, cid string) error
	Unpin(ctx context.Context, cid string) error
	// Pinned reports whether this node pins cid.
	Pinned(ctx context.Context, cid string) (bool, error)
}

// Expect describes what the caller knows about an object. Zero values are
// not checked.
type Expect struct {
	SHA256 string
	Size   int64
}

// Observer is told about every operation and its outcome.
type Observer func(op string, err error)

// Client is safe for concurrent use.
type Client struct {
	backend Backend
	observe Observer
	retries uint64
	backoff time.Duration
	tempDir string
}

type Option func(*Client)

func WithObserver(o Observer) Option { return func(c *Client) { c.observe = o } }

// WithRetry sets how many times reads are retried and the initial backoff.
func WithRetry(retries uint64, backoff time.Duration) Option {
	return func(c *Client) { c.retries, c.backoff = retries, backoff }
}

// WithTempDir sets where Pin and FetchFile stage content.
func WithTempDir(dir string) Option { return func(c *Client) { c.tempDir = dir } }

func NewClient(b Backend, opts ...Option) *Client {
	c := &Client{
		backend: b,
		observe: func(string, error) {},
		retries: 3,
		backoff: 200 * time.Millisecond,
		tempDir: os.TempDir(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	b := retry.WithMaxRetries(c.retries, retry.NewExponential(c.backoff))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidCID) ||
			errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return retry.RetryableError(err)
	})
}

// Add stores r. Writes are not retried.
func (c *Client) Add(ctx context.Context, r io.Reader) (cid string, err error) {
	defer func() { c.observe("add", err) }()
	return c.backend.Add(ctx, r)
}

// Get opens cid for reading. When exp is set the returned reader fails with
// ErrIntegrity at EOF if the content does not match.
func (c *Client) Get(ctx context.Context, cid string, exp Expect) (rc io.ReadCloser, err error) {
	defer func() { c.observe("get", err) }()
	if err := ValidateCID(cid); err != nil {
		return nil, err
	}
	err = c.withRetry(ctx, func(ctx context.Context) error {
		var err error
		rc, err = c.backend.Cat(ctx, cid)
		return err
	})
	if err != nil {
		return nil, err
	}
	return newVerifier(rc, exp), nil
}

// FetchFile downloads cid to dst, verifying exp. The whole download is
// retried, and dst is only created once the content checked out.
func (c *Client) FetchFile(ctx context.Context, cid string, exp Expect, dst string) (err error) {
	defer func() { c.observe("fetch", err) }()
	if err := ValidateCID(cid); err != nil {
		return err
	}
	if err := filex.EnsureDir(filepath.Dir(dst)); err != nil {
		return err
	}
	return c.withRetry(ctx, func(ctx context.Context) error {
		f, cleanup, err := filex.TempFile(c.tempDir, "fetch-")
		if err != nil {
			return err
		}
		defer cleanup()

		rc, err := c.backend.Cat(ctx, cid)
		if err != nil {
			return err
		}
		defer rc.Close()

		if _, err := io.Copy(f, newVerifier(rc, exp)); err != nil {
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		return filex.MoveFile(f.Name(), dst)
	})
}

// Pin makes cid local. A node cannot ask the network to pin on its behalf,
// so content that is not already pinned here is fetched and added again.
func (c *Client) Pin(ctx context.Context, cid string) (err error) {
	defer func() { c.observe("pin", err) }()
	if err := ValidateCID(cid); err != nil {
		return err
	}
	pinned, err := c.pinned(ctx, cid)
	if err != nil {
		return err
	}
	if pinned {
		return nil
	}

	f, cleanup, err := filex.TempFile(c.tempDir, "pin-")
	if err != nil {
		return err
	}
	defer cleanup()

	err = c.withRetry(ctx, func(ctx context.Context) error {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return err
		}
		if err := f.Truncate(0); err != nil {
			return err
		}
		rc, err := c.backend.Cat(ctx, cid)
		if err != nil {
			return err
		}
		defer rc.Close()
		_, err = io.Copy(f, rc)
		return err
	})
	if err != nil {
		return fmt.Errorf("pin %s: %w", cid, err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}

	added, err := c.backend.Add(ctx, f)
	if err != nil {
		return fmt.Errorf("pin %s: %w", cid, err)
	}
	if added != cid {
		// Chunking parameters differ from the original writer's; the
		// blocks are local now, so pin the original root directly.
		return c.backend.Pin(ctx, cid)
	}
	return nil
}

// Unpin releases cid. Unknown or already unpinned content is not an error.
func (c *Client) Unpin(ctx context.Context, cid string) (err error) {
	defer func() { c.observe("unpin", err) }()
	if err := ValidateCID(cid); err != nil {
		return err
	}
	err = c.backend.Unpin(ctx, cid)
	if errors.Is(err, ErrNotPinned) || errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

// Exists reports whether this node pins cid.
func (c *Client) Exists(ctx context.Context, cid string) (ok bool, err error) {
	defer func() { c.observe("exists", err) }()
	if err := ValidateCID(cid); err != nil {
		return false, err
	}
	return c.pinned(ctx, cid)
}

func (c *Client) pinned(ctx context.Context, cid string) (bool, error) {
	var ok bool
	err := c.withRetry(ctx, func(ctx context.Context) error {
		var err error
		ok, err = c.backend.Pinned(ctx, cid)
		return err
	})
	return ok, err
}

type verifier struct {
	rc   io.ReadCloser
	h    hash.Hash
	n    int64
	exp  Expect
	done bool
}

func newVerifier(rc io.ReadCloser, exp Expect) io.ReadCloser {
	if exp.SHA256 == "" && exp.Size == 0 {
		return rc
	}
	return &verifier{rc: rc, h: sha256.New(), exp: exp}
}

func (v *verifier) Read(p []byte) (int, error) {
	n, err := v.rc.Read(p)
	v.h.Write(p[:n])
	v.n += int64(n)
	if v.exp.Size > 0 && v.n > v.exp.Size {
		return n, fmt.Errorf("%w: more than %d bytes", ErrIntegrity, v.exp.Size)
	}
	if err == io.EOF && !v.done {
		v.done = true
		if v.exp.Size > 0 && v.n != v.exp.Size {
			return n, fmt.Errorf("%w: size %d, want %d", ErrIntegrity, v.n, v.exp.Size)
		}
		if v.exp.SHA256 != "" {
			if got := hex.EncodeToString(v.h.Sum(nil)); got != v.exp.SHA256 {
				return n, fmt.Errorf("%w: sha256 %s, want %s", ErrIntegrity, got, v.exp.SHA256)
			}
		}
	}
	return n, err
}

func (v *verifier) Close() error { return v.rc.Close() }
