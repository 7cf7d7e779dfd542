// internal/vaultcrypt/stream.go
package vaultcrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rsa"
	"fmt"
)

// Encryptor is an incremental cipher state machine: Update consumes a
// chunk and returns the bytes ready to emit, Finalize flushes the
// padded tail. It never holds more than one partial block plus the wire
// prelude.
type Encryptor struct {
	prelude []byte // header + wrapped key + IV, emitted with the first output
	mode    cipher.BlockMode
	partial []byte
	done    bool
}

func NewEncryptor(pub *rsa.PublicKey) (*Encryptor, error) {
	prelude, mode, err := newSession(pub)
	if err != nil {
		return nil, err
	}
	return &Encryptor{prelude: prelude, mode: mode}, nil
}

func (e *Encryptor) Update(chunk []byte) ([]byte, error) {
	if e.done {
		return nil, fmt.Errorf("encryptor already finalized")
	}
	e.partial = append(e.partial, chunk...)
	n := len(e.partial) - len(e.partial)%aes.BlockSize
	out := e.takePrelude()
	if n > 0 {
		ct := make([]byte, n)
		e.mode.CryptBlocks(ct, e.partial[:n])
		e.partial = append(e.partial[:0], e.partial[n:]...)
		out = append(out, ct...)
	}
	return out, nil
}

func (e *Encryptor) Finalize() ([]byte, error) {
	if e.done {
		return nil, fmt.Errorf("encryptor already finalized")
	}
	e.done = true
	padded := pkcs7Pad(e.partial)
	ct := make([]byte, len(padded))
	e.mode.CryptBlocks(ct, padded)
	e.partial = nil
	return append(e.takePrelude(), ct...), nil
}

func (e *Encryptor) takePrelude() []byte {
	p := e.prelude
	e.prelude = nil
	return p
}

// Decryptor buffers incoming bytes only until the format is decided —
// at most one header window (~572 bytes) — then streams blocks through
// the cipher, withholding one block so Finalize can strip the padding.
type Decryptor struct {
	keys    PrivateKeyMap
	pending []byte // bytes accumulated before the cipher exists
	mode    cipher.BlockMode
	hold    []byte // trailing ciphertext not yet decryptable
	done    bool
}

func NewDecryptor(keys PrivateKeyMap) *Decryptor {
	return &Decryptor{keys: keys}
}

func (d *Decryptor) Update(chunk []byte) ([]byte, error) {
	if d.done {
		return nil, fmt.Errorf("decryptor already finalized")
	}
	if d.mode == nil {
		d.pending = append(d.pending, chunk...)
		need := legacyPrelude
		if len(d.pending) < 4 {
			return nil, nil
		}
		if hasHeaderTag(d.pending) {
			need = headedPrelude
		}
		if len(d.pending) < need {
			return nil, nil
		}
		priv, payload, err := selectKey(d.pending, d.keys)
		if err != nil {
			return nil, err
		}
		mode, rest, err := openSession(priv, payload)
		if err != nil {
			return nil, err
		}
		d.mode = mode
		d.pending = nil
		return d.consume(rest), nil
	}
	return d.consume(chunk), nil
}

// consume decrypts every complete block except the final one, which is
// withheld for padding removal.
func (d *Decryptor) consume(chunk []byte) []byte {
	d.hold = append(d.hold, chunk...)
	avail := len(d.hold)
	if avail <= aes.BlockSize {
		return nil
	}
	n := avail - aes.BlockSize - (avail-aes.BlockSize)%aes.BlockSize
	if n <= 0 {
		return nil
	}
	pt := make([]byte, n)
	d.mode.CryptBlocks(pt, d.hold[:n])
	d.hold = append(d.hold[:0], d.hold[n:]...)
	return pt
}

func (d *Decryptor) Finalize() ([]byte, error) {
	if d.done {
		return nil, fmt.Errorf("decryptor already finalized")
	}
	d.done = true
	if d.mode == nil {
		return nil, fmt.Errorf("encrypted stream truncated: %d bytes", len(d.pending))
	}
	if len(d.hold) == 0 || len(d.hold)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("encrypted stream is not block-aligned: %d trailing bytes", len(d.hold))
	}
	pt := make([]byte, len(d.hold))
	d.mode.CryptBlocks(pt, d.hold)
	d.hold = nil
	return pkcs7Unpad(pt)
}
