// internal/vaultcrypt/hybrid.go
package vaultcrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"fmt"
	"io"
)

// EncryptBuffer hybrid-encrypts data for pub: a random session key and
// IV feed AES-256-CBC, the session key is wrapped with RSA-OAEP, and
// the result is header(44) || wrappedKey(512) || iv(16) || ciphertext.
func EncryptBuffer(pub *rsa.PublicKey, data []byte) ([]byte, error) {
	prelude, mode, err := newSession(pub)
	if err != nil {
		return nil, err
	}
	padded := pkcs7Pad(data)
	ct := make([]byte, len(padded))
	mode.CryptBlocks(ct, padded)
	return append(prelude, ct...), nil
}

// DecryptBuffer reverses EncryptBuffer. Headerless data is treated as
// the legacy format and decrypted with the "default" key; a headed file
// with an unsupported version or type also falls back to "default"
// when present.
func DecryptBuffer(data []byte, keys PrivateKeyMap) ([]byte, error) {
	priv, payload, err := selectKey(data, keys)
	if err != nil {
		return nil, err
	}
	mode, rest, err := openSession(priv, payload)
	if err != nil {
		return nil, err
	}
	if len(rest) == 0 || len(rest)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("encrypted payload is not block-aligned: %d bytes", len(rest))
	}
	pt := make([]byte, len(rest))
	mode.CryptBlocks(pt, rest)
	return pkcs7Unpad(pt)
}

// newSession draws a session key and IV from the CSPRNG and returns the
// wire prelude (header + wrapped key + IV) and the CBC encrypter.
func newSession(pub *rsa.PublicKey) ([]byte, cipher.BlockMode, error) {
	key := make([]byte, SessionKeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, nil, err
	}
	iv := make([]byte, IVSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, nil, err
	}
	wrapped, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, key, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("wrapping session key: %w", err)
	}
	if len(wrapped) != WrappedKeySize {
		return nil, nil, fmt.Errorf("wrapped key is %d bytes, want %d", len(wrapped), WrappedKeySize)
	}
	keyHash, err := HashPublicKey(pub)
	if err != nil {
		return nil, nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, err
	}
	prelude := make([]byte, 0, headedPrelude)
	prelude = append(prelude, encodeHeader(keyHash)...)
	prelude = append(prelude, wrapped...)
	prelude = append(prelude, iv...)
	return prelude, cipher.NewCBCEncrypter(block, iv), nil
}

// selectKey picks the decryption key for data and returns the legacy
// payload (wrapped key onward).
func selectKey(data []byte, keys PrivateKeyMap) (*rsa.PrivateKey, []byte, error) {
	if !hasHeaderTag(data) {
		priv := keys[DefaultKeyName]
		if priv == nil {
			return nil, nil, &NoKeyError{KeyHash: DefaultKeyName}
		}
		return priv, data, nil
	}
	h, err := parseHeader(data)
	if err != nil {
		return nil, nil, err
	}
	payload := data[HeaderSize:]
	if h.supported() {
		if priv := keys[h.keyHashHex()]; priv != nil {
			return priv, payload, nil
		}
		return nil, nil, &NoKeyError{KeyHash: h.keyHashHex()}
	}
	// Unsupported version or type: try the default key rather than
	// refusing outright.
	if priv := keys[DefaultKeyName]; priv != nil {
		return priv, payload, nil
	}
	return nil, nil, fmt.Errorf("%w: version %d type %q", ErrFormatVersion, h.version, h.encType)
}

// openSession unwraps the session key and IV from a legacy payload and
// returns the CBC decrypter plus the remaining ciphertext.
func openSession(priv *rsa.PrivateKey, payload []byte) (cipher.BlockMode, []byte, error) {
	if len(payload) < legacyPrelude {
		return nil, nil, fmt.Errorf("encrypted payload truncated: %d bytes", len(payload))
	}
	key, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, payload[:WrappedKeySize], nil)
	if err != nil {
		return nil, nil, fmt.Errorf("unwrapping session key: %w", err)
	}
	iv := payload[WrappedKeySize:legacyPrelude]
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, err
	}
	return cipher.NewCBCDecrypter(block, iv), payload[legacyPrelude:], nil
}

func pkcs7Pad(data []byte) []byte {
	padLen := aes.BlockSize - len(data)%aes.BlockSize
	padded := make([]byte, len(data)+padLen)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(padLen)
	}
	return padded
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("invalid padded length %d", len(data))
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > aes.BlockSize || padLen > len(data) {
		return nil, fmt.Errorf("invalid padding")
	}
	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, fmt.Errorf("invalid padding")
		}
	}
	return data[:len(data)-padLen], nil
}
