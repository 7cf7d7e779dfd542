// cmd/generate_keypair.go
package cmd

import (
	"flag"
	"fmt"

	"media-vault/internal/vaultcrypt"
)

// GenerateKeyPair creates an RSA-4096 pair: PKCS#8 private key at
// -path, SPKI public key at -path.pub.
func GenerateKeyPair() error {
	path := flag.String("path", "", "output path for the private key")
	flag.Parse()

	if *path == "" {
		return fmt.Errorf("generate-keypair: -path is required")
	}
	priv, err := vaultcrypt.GenerateKeyPair()
	if err != nil {
		return err
	}
	if err := vaultcrypt.SaveKeyPair(*path, priv); err != nil {
		return err
	}
	hash, err := vaultcrypt.HashPublicKey(&priv.PublicKey)
	if err != nil {
		return err
	}
	fmt.Printf("wrote %s and %s.pub (key hash %x)\n", *path, *path, hash)
	return nil
}
