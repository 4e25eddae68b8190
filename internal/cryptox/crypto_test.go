package cryptox

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCipher_SealOpenBetweenTwoParties(t *testing.T) {
	alice, err := GenerateBoxKeyPair()
	require.NoError(t, err)
	bob, err := GenerateBoxKeyPair()
	require.NoError(t, err)

	sealed, err := NewCipher(alice, bob.Public).Seal([]byte("manifest"))
	require.NoError(t, err)

	plain, err := NewCipher(bob, alice.Public).Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, []byte("manifest"), plain)

	eve, err := GenerateBoxKeyPair()
	require.NoError(t, err)
	_, err = NewCipher(eve, alice.Public).Open(sealed)
	assert.ErrorIs(t, err, ErrDecrypt)

	_, err = NewCipher(bob, alice.Public).Open([]byte("short"))
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestDeriveBoxKeyPair_Deterministic(t *testing.T) {
	seed := make([]byte, ed25519.SeedSize)
	_, err := rand.Read(seed)
	require.NoError(t, err)

	a, err := DeriveBoxKeyPair(seed)
	require.NoError(t, err)
	b, err := DeriveBoxKeyPair(seed)
	require.NoError(t, err)
	assert.Equal(t, a.Public, b.Public)

	decoded, err := DecodeKey(a.PublicKeyString())
	require.NoError(t, err)
	assert.Equal(t, a.Public, decoded)

	_, err = DecodeKey("3mJr7AoUXx2Wqd")
	assert.Error(t, err)
	_, err = DecodeKey("0OIl")
	assert.Error(t, err)
}

func TestStream_RoundTripSizes(t *testing.T) {
	key, err := NewSymmetricKey()
	require.NoError(t, err)

	for _, size := range []int{0, 1, ChunkSize - 1, ChunkSize, ChunkSize + 1, 3*ChunkSize + 17} {
		plain := make([]byte, size)
		_, err := rand.Read(plain)
		require.NoError(t, err)

		var enc bytes.Buffer
		n, err := EncryptStream(&enc, bytes.NewReader(plain), key)
		require.NoError(t, err)
		assert.Equal(t, int64(enc.Len()), n)

		var dec bytes.Buffer
		require.NoError(t, DecryptStream(&dec, bytes.NewReader(enc.Bytes()), key))
		assert.True(t, bytes.Equal(plain, dec.Bytes()), "size %d", size)
	}
}

func TestStream_DetectsTruncationAndWrongKey(t *testing.T) {
	key, err := NewSymmetricKey()
	require.NoError(t, err)
	plain := bytes.Repeat([]byte("x"), 2*ChunkSize+5)

	var enc bytes.Buffer
	_, err = EncryptStream(&enc, bytes.NewReader(plain), key)
	require.NoError(t, err)

	firstChunk := 4 + ChunkSize + 1 + 16
	err = DecryptStream(&bytes.Buffer{}, bytes.NewReader(enc.Bytes()[:firstChunk]), key)
	assert.ErrorIs(t, err, ErrTruncated)

	other, err := NewSymmetricKey()
	require.NoError(t, err)
	err = DecryptStream(&bytes.Buffer{}, bytes.NewReader(enc.Bytes()), other)
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestSymmetricKey_EncodeParseDerive(t *testing.T) {
	key, err := NewSymmetricKey()
	require.NoError(t, err)

	k, n := key.Encoded()
	parsed, err := ParseSymmetricKey(k, n)
	require.NoError(t, err)
	assert.Equal(t, key, parsed)

	a := key.Derive("db-a")
	b := key.Derive("db-b")
	assert.NotEqual(t, a.Key, b.Key)
	assert.Equal(t, a.Key, key.Derive("db-a").Key)

	_, err = ParseSymmetricKey("abc", n)
	assert.Error(t, err)
	_, err = ParseSymmetricKey(k, "abc")
	assert.Error(t, err)

	a.Wipe()
	assert.Equal(t, SymmetricKey{}, *a)
}
