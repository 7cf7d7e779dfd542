// internal/vaultcrypt/keys.go
package vaultcrypt

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"os"
)

const rsaKeyBits = 4096

// DefaultKeyName is the map slot used to decrypt legacy payloads that
// carry no key-identifying header.
const DefaultKeyName = "default"

// PrivateKeyMap holds decryption keys by public-key hash (hex), plus
// the optional "default" slot. A database encrypted across several key
// rotations needs one entry per key.
type PrivateKeyMap map[string]*rsa.PrivateKey

// Add registers a key under the hash of its public half.
func (m PrivateKeyMap) Add(priv *rsa.PrivateKey) error {
	hash, err := HashPublicKey(&priv.PublicKey)
	if err != nil {
		return err
	}
	m[hex.EncodeToString(hash[:])] = priv
	return nil
}

// HashPublicKey identifies a public key: SHA-256 over its SPKI DER
// encoding. The hex form is both the header field and the map key.
func HashPublicKey(pub *rsa.PublicKey) ([32]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return [32]byte{}, fmt.Errorf("marshalling public key: %w", err)
	}
	return sha256.Sum256(der), nil
}

func GenerateKeyPair() (*rsa.PrivateKey, error) {
	priv, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return nil, fmt.Errorf("generating key pair: %w", err)
	}
	return priv, nil
}

// SaveKeyPair writes the private key as PKCS#8 PEM to path and the
// public key as SPKI PEM to path+".pub".
func SaveKeyPair(path string, priv *rsa.PrivateKey) error {
	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return fmt.Errorf("marshalling private key: %w", err)
	}
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER})
	if err := os.WriteFile(path, privPEM, 0o600); err != nil {
		return fmt.Errorf("saving private key: %w", err)
	}

	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return fmt.Errorf("marshalling public key: %w", err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	if err := os.WriteFile(path+".pub", pubPEM, 0o644); err != nil {
		return fmt.Errorf("saving public key: %w", err)
	}
	return nil
}

func LoadPrivateKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in %s", path)
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing private key %s: %w", path, err)
	}
	priv, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%s is not an RSA private key", path)
	}
	return priv, nil
}

func LoadPublicKey(path string) (*rsa.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in %s", path)
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing public key %s: %w", path, err)
	}
	pub, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%s is not an RSA public key", path)
	}
	return pub, nil
}

// LoadKeyPair loads the pair at path / path+".pub". With generate set, a
// missing private key yields a fresh pair, and a missing public key alone
// is rewritten from the existing private key; without it, either file
// missing is ErrKeyMissing.
func LoadKeyPair(path string, generate bool) (*rsa.PrivateKey, error) {
	priv, err := LoadPrivateKey(path)
	if err == nil {
		if _, pubErr := LoadPublicKey(path + ".pub"); pubErr == nil {
			return priv, nil
		} else if !errors.Is(pubErr, fs.ErrNotExist) {
			return nil, pubErr
		}
		// Private present, public missing: rewrite both halves.
		if generate {
			if err := SaveKeyPair(path, priv); err != nil {
				return nil, err
			}
			return priv, nil
		}
		return nil, fmt.Errorf("%w: %s.pub", ErrKeyMissing, path)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	if !generate {
		return nil, fmt.Errorf("%w: %s", ErrKeyMissing, path)
	}
	priv, err = GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	if err := SaveKeyPair(path, priv); err != nil {
		return nil, err
	}
	return priv, nil
}
