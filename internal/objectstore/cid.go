package objectstore

import (
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// rawCID returns the CIDv1 (raw codec, sha2-256) of a finished sha256 digest.
func rawCID(digest []byte) (string, error) {
	mh, err := multihash.Encode(digest, multihash.SHA2_256)
	if err != nil {
		return "", fmt.Errorf("encode multihash: %w", err)
	}
	return cid.NewCidV1(cid.Raw, mh).String(), nil
}

// ComputeCID hashes r and returns its raw-codec CIDv1.
func ComputeCID(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return rawCID(h.Sum(nil))
}

// ValidateCID rejects strings that are not CIDs. Path segments and object
// keys are built from CIDs, so everything coming from a peer goes through
// here first.
func ValidateCID(s string) error {
	if _, err := cid.Decode(s); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidCID, s)
	}
	return nil
}
