// internal/vaultcrypt/hybrid_test.go
package vaultcrypt

import (
	"bytes"
	"crypto/rsa"
	"encoding/hex"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RSA-4096 generation is slow; share pairs across the package's tests.
var (
	keyOnce sync.Once
	key1    *rsa.PrivateKey
	key2    *rsa.PrivateKey
)

func testKeys(t *testing.T) (*rsa.PrivateKey, *rsa.PrivateKey) {
	t.Helper()
	keyOnce.Do(func() {
		var err error
		if key1, err = GenerateKeyPair(); err != nil {
			t.Fatalf("generating key 1: %v", err)
		}
		if key2, err = GenerateKeyPair(); err != nil {
			t.Fatalf("generating key 2: %v", err)
		}
	})
	return key1, key2
}

func keyMapFor(t *testing.T, privs ...*rsa.PrivateKey) PrivateKeyMap {
	t.Helper()
	m := PrivateKeyMap{}
	for _, priv := range privs {
		require.NoError(t, m.Add(priv))
	}
	return m
}

func TestBufferRoundTrip(t *testing.T) {
	priv, _ := testKeys(t)
	keys := keyMapFor(t, priv)
	for _, size := range []int{0, 1, 15, 16, 17, 1024, 70000} {
		data := bytes.Repeat([]byte{0xA7}, size)
		ct, err := EncryptBuffer(&priv.PublicKey, data)
		require.NoError(t, err)
		require.Greater(t, len(ct), headedPrelude, "size %d", size)

		pt, err := DecryptBuffer(ct, keys)
		require.NoError(t, err)
		assert.Equal(t, data, pt, "size %d", size)
	}
}

func TestHeaderLayout(t *testing.T) {
	priv, _ := testKeys(t)
	ct, err := EncryptBuffer(&priv.PublicKey, []byte("hello"))
	require.NoError(t, err)

	assert.Equal(t, []byte("ENC1"), ct[:4])
	assert.Equal(t, byte(1), ct[4]) // version 1, little-endian
	assert.Equal(t, []byte{0, 0, 0}, ct[5:8])
	assert.Equal(t, []byte("A2CB"), ct[8:12])
	hash, err := HashPublicKey(&priv.PublicKey)
	require.NoError(t, err)
	assert.Equal(t, hash[:], ct[12:44])
	// header + wrapped key + iv + one padded block
	assert.Equal(t, HeaderSize+WrappedKeySize+IVSize+16, len(ct))
}

func TestLegacyFallbackToDefaultKey(t *testing.T) {
	priv, _ := testKeys(t)
	ct, err := EncryptBuffer(&priv.PublicKey, []byte("legacy payload"))
	require.NoError(t, err)
	legacy := ct[HeaderSize:] // a legacy encoder wrote no header

	_, err = DecryptBuffer(legacy, keyMapFor(t, priv))
	require.Error(t, err, "legacy payload needs the default key")

	keys := keyMapFor(t, priv)
	keys[DefaultKeyName] = priv
	pt, err := DecryptBuffer(legacy, keys)
	require.NoError(t, err)
	assert.Equal(t, []byte("legacy payload"), pt)
}

func TestKeyRotation(t *testing.T) {
	priv1, priv2 := testKeys(t)
	b1, err := EncryptBuffer(&priv1.PublicKey, []byte("first epoch"))
	require.NoError(t, err)
	b2, err := EncryptBuffer(&priv2.PublicKey, []byte("second epoch"))
	require.NoError(t, err)

	keys := keyMapFor(t, priv1, priv2)
	pt1, err := DecryptBuffer(b1, keys)
	require.NoError(t, err)
	assert.Equal(t, []byte("first epoch"), pt1)
	pt2, err := DecryptBuffer(b2, keys)
	require.NoError(t, err)
	assert.Equal(t, []byte("second epoch"), pt2)

	// Without priv2, b1 still decrypts and b2 fails with the key hash.
	only1 := keyMapFor(t, priv1)
	_, err = DecryptBuffer(b1, only1)
	require.NoError(t, err)
	_, err = DecryptBuffer(b2, only1)
	var noKey *NoKeyError
	require.ErrorAs(t, err, &noKey)
	hash2, err := HashPublicKey(&priv2.PublicKey)
	require.NoError(t, err)
	assert.Equal(t, hex.EncodeToString(hash2[:]), noKey.KeyHash)
}

func TestUnsupportedVersionFallsBackToDefault(t *testing.T) {
	priv, _ := testKeys(t)
	ct, err := EncryptBuffer(&priv.PublicKey, []byte("future format"))
	require.NoError(t, err)
	ct[4] = 99 // bump the version field

	_, err = DecryptBuffer(ct, keyMapFor(t, priv))
	require.ErrorIs(t, err, ErrFormatVersion)

	keys := keyMapFor(t, priv)
	keys[DefaultKeyName] = priv
	pt, err := DecryptBuffer(ct, keys)
	require.NoError(t, err)
	assert.Equal(t, []byte("future format"), pt)
}

func TestDecryptTruncated(t *testing.T) {
	priv, _ := testKeys(t)
	keys := keyMapFor(t, priv)
	keys[DefaultKeyName] = priv
	_, err := DecryptBuffer([]byte("ENC1"), keys)
	require.Error(t, err)
	_, err = DecryptBuffer(make([]byte, 100), keys)
	require.Error(t, err)
}

func TestHashPublicKeyIdentifiesKeys(t *testing.T) {
	priv1, priv2 := testKeys(t)
	h1, err := HashPublicKey(&priv1.PublicKey)
	require.NoError(t, err)
	h2, err := HashPublicKey(&priv2.PublicKey)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
	again, err := HashPublicKey(&priv1.PublicKey)
	require.NoError(t, err)
	assert.Equal(t, h1, again)
}
