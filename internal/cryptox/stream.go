package cryptox

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/nacl/secretbox"

	"github.com/dmitrijs2005/hivenode/internal/common"
)

// ChunkSize is the plaintext size of one stream chunk.
const ChunkSize = 64 * 1024

const (
	chunkMore byte = 0
	chunkLast byte = 1
)

// ErrTruncated means the stream ended before its final chunk.
var ErrTruncated = errors.New("encrypted stream truncated")

// SymmetricKey is a secretbox key with the base nonce of a stream.
type SymmetricKey struct {
	Key   [32]byte
	Nonce [24]byte
}

// NewSymmetricKey draws a fresh random key and nonce.
func NewSymmetricKey() (*SymmetricKey, error) {
	k := &SymmetricKey{}
	if _, err := rand.Read(k.Key[:]); err != nil {
		return nil, err
	}
	if _, err := rand.Read(k.Nonce[:]); err != nil {
		return nil, err
	}
	return k, nil
}

// ParseSymmetricKey decodes the base58 key and nonce pair.
func ParseSymmetricKey(key, nonce string) (*SymmetricKey, error) {
	k := &SymmetricKey{}
	kb, err := base58.Decode(key)
	if err != nil || len(kb) != len(k.Key) {
		return nil, fmt.Errorf("invalid secret key")
	}
	nb, err := base58.Decode(nonce)
	if err != nil || len(nb) != len(k.Nonce) {
		return nil, fmt.Errorf("invalid nonce")
	}
	copy(k.Key[:], kb)
	copy(k.Nonce[:], nb)
	return k, nil
}

// Encoded returns the base58 key and nonce.
func (k *SymmetricKey) Encoded() (key, nonce string) {
	return base58.Encode(k.Key[:]), base58.Encode(k.Nonce[:])
}

// Derive returns a subkey bound to label, so one envelope can protect
// several streams without reusing a (key, nonce) pair.
func (k *SymmetricKey) Derive(label string) *SymmetricKey {
	mac := hmac.New(sha256.New, k.Key[:])
	mac.Write([]byte(label))
	d := &SymmetricKey{Nonce: k.Nonce}
	copy(d.Key[:], mac.Sum(nil))
	return d
}

// Wipe zeroes the key material.
func (k *SymmetricKey) Wipe() {
	common.WipeByteArray(k.Key[:])
	common.WipeByteArray(k.Nonce[:])
}

func (k *SymmetricKey) chunkNonce(counter uint64) *[24]byte {
	n := k.Nonce
	c := binary.BigEndian.Uint64(n[16:]) ^ counter
	binary.BigEndian.PutUint64(n[16:], c)
	return &n
}

// EncryptStream reads src to EOF and writes length-prefixed secretbox chunks
// to dst. The last chunk is flagged so truncation is detected on decrypt.
func EncryptStream(dst io.Writer, src io.Reader, key *SymmetricKey) (int64, error) {
	plain := make([]byte, ChunkSize+1)
	var (
		counter uint64
		written int64
	)

	for {
		n, err := io.ReadFull(src, plain[1:])
		last := false
		switch {
		case err == io.EOF || errors.Is(err, io.ErrUnexpectedEOF):
			last = true
		case err != nil:
			return written, err
		}

		plain[0] = chunkMore
		if last {
			plain[0] = chunkLast
		}

		sealed := secretbox.Seal(nil, plain[:n+1], key.chunkNonce(counter), &key.Key)
		var hdr [4]byte
		binary.BigEndian.PutUint32(hdr[:], uint32(len(sealed)))
		if _, err := dst.Write(hdr[:]); err != nil {
			return written, err
		}
		if _, err := dst.Write(sealed); err != nil {
			return written, err
		}
		written += int64(len(hdr) + len(sealed))
		counter++

		if last {
			return written, nil
		}
	}
}

// DecryptStream reverses EncryptStream.
func DecryptStream(dst io.Writer, src io.Reader, key *SymmetricKey) error {
	var (
		hdr     [4]byte
		counter uint64
	)
	maxSealed := ChunkSize + 1 + secretbox.Overhead

	for {
		if _, err := io.ReadFull(src, hdr[:]); err != nil {
			if err == io.EOF || errors.Is(err, io.ErrUnexpectedEOF) {
				return ErrTruncated
			}
			return err
		}
		size := int(binary.BigEndian.Uint32(hdr[:]))
		if size < secretbox.Overhead+1 || size > maxSealed {
			return ErrDecrypt
		}

		sealed := make([]byte, size)
		if _, err := io.ReadFull(src, sealed); err != nil {
			return ErrTruncated
		}
		plain, ok := secretbox.Open(nil, sealed, key.chunkNonce(counter), &key.Key)
		if !ok {
			return ErrDecrypt
		}
		counter++

		if _, err := dst.Write(plain[1:]); err != nil {
			return err
		}
		if plain[0] == chunkLast {
			return nil
		}
	}
}
