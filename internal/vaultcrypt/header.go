// internal/vaultcrypt/header.go
package vaultcrypt

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// Encrypted files written today carry a self-describing 44-byte header:
//
//	bytes  0..4   ASCII tag "ENC1"
//	bytes  4..8   u32 little-endian format version (current = 1)
//	bytes  8..12  ASCII encryption type, space-padded ("A2CB" =
//	              AES-256-CBC with an RSA-wrapped session key)
//	bytes 12..44  SHA-256 of the encrypting public key in SPKI DER form
//
// The payload that follows is identical to the legacy headerless
// format: wrapped key (512) || IV (16) || AES-256-CBC ciphertext.
const (
	HeaderSize = 44

	headerTag      = "ENC1"
	FormatVersion  = 1
	EncryptionType = "A2CB"

	WrappedKeySize = 512 // RSA-4096 OAEP output
	IVSize         = 16
	SessionKeySize = 32

	// Bytes needed before a decryptor can instantiate its cipher.
	legacyPrelude = WrappedKeySize + IVSize
	headedPrelude = HeaderSize + legacyPrelude
)

var (
	// ErrKeyMissing marks a required key pair that is neither on disk
	// nor allowed to be generated.
	ErrKeyMissing = errors.New("key pair missing")

	// ErrFormatVersion marks an encrypted file with an unsupported
	// version or type and no fallback key to try.
	ErrFormatVersion = errors.New("unsupported encryption format")
)

// NoKeyError reports that the key identified by the file header is not
// in the reader's key map.
type NoKeyError struct {
	KeyHash string
}

func (e *NoKeyError) Error() string {
	return fmt.Sprintf("no private key for %s", e.KeyHash)
}

type header struct {
	version uint32
	encType string
	keyHash [32]byte
}

func (h *header) keyHashHex() string {
	return hex.EncodeToString(h.keyHash[:])
}

func (h *header) supported() bool {
	return h.version == FormatVersion && h.encType == EncryptionType
}

func encodeHeader(keyHash [32]byte) []byte {
	buf := make([]byte, HeaderSize)
	copy(buf[0:4], headerTag)
	binary.LittleEndian.PutUint32(buf[4:8], FormatVersion)
	copy(buf[8:12], fmt.Sprintf("%-4s", EncryptionType))
	copy(buf[12:44], keyHash[:])
	return buf
}

// hasHeaderTag decides between the headed and legacy formats from the
// first four bytes.
func hasHeaderTag(data []byte) bool {
	return len(data) >= 4 && bytes.Equal(data[:4], []byte(headerTag))
}

func parseHeader(data []byte) (*header, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("encrypted file truncated: %d header bytes", len(data))
	}
	if !hasHeaderTag(data) {
		return nil, fmt.Errorf("missing %s tag", headerTag)
	}
	h := &header{
		version: binary.LittleEndian.Uint32(data[4:8]),
		encType: strings.TrimRight(string(data[8:12]), " "),
	}
	copy(h.keyHash[:], data[12:44])
	return h, nil
}
