// cmd/helpers.go
package cmd

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"

	"media-vault/internal/client"
	"media-vault/internal/config"
	"media-vault/internal/engine"
	"media-vault/internal/logging"
	"media-vault/internal/vaultcrypt"
)

// errPartial marks a run that finished but aggregated per-file
// failures; it maps to exit code 1 rather than the engine-fatal 2.
var errPartial = errors.New("completed with per-file failures")

// ExitCode maps an error to the CLI contract: 0 success, 1 per-file
// failures, 2 engine-fatal (lock held, key missing, format version).
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var noKey *vaultcrypt.NoKeyError
	if errors.Is(err, engine.ErrLockHeld) ||
		errors.Is(err, engine.ErrLockLost) ||
		errors.Is(err, vaultcrypt.ErrKeyMissing) ||
		errors.Is(err, vaultcrypt.ErrFormatVersion) ||
		errors.As(err, &noKey) {
		return 2
	}
	return 1
}

// openEngine wires a database entry from the config into a running
// engine: backend client, key map, encryption and lock lifecycle.
func openEngine(ctx context.Context, cfg *config.Config, dbID string, readonly bool, log logging.Logger) (*engine.Engine, error) {
	db := cfg.Database(dbID)
	if db == nil {
		return nil, fmt.Errorf("database %q not in config", dbID)
	}

	var s3c *client.S3
	if strings.HasPrefix(db.Location, "s3:") {
		s3cfg := cfg.S3Client(db.S3ClientID)
		if s3cfg == nil {
			s3cfg = config.S3ClientFromEnv()
		}
		var err error
		s3c, err = client.NewS3(ctx, s3cfg.Endpoint, s3cfg.Region, s3cfg.AccessKey.Get(), s3cfg.SecretKey.Get())
		if err != nil {
			return nil, err
		}
	}

	keys := vaultcrypt.PrivateKeyMap{}
	var pub *rsa.PublicKey
	for _, k := range cfg.Keys {
		priv, err := vaultcrypt.LoadKeyPair(k.Path.Get(), k.Generate)
		if err != nil {
			return nil, fmt.Errorf("key %s: %w", k.ID, err)
		}
		if err := keys.Add(priv); err != nil {
			return nil, err
		}
		if k.Default {
			keys[vaultcrypt.DefaultKeyName] = priv
		}
		if k.ID == db.KeyID {
			pub = &priv.PublicKey
		}
	}
	if db.KeyID != "" && pub == nil {
		return nil, fmt.Errorf("%w: key %q not in config", vaultcrypt.ErrKeyMissing, db.KeyID)
	}

	return engine.Open(ctx, engine.Options{
		Location:  db.Location,
		Readonly:  readonly || db.Readonly,
		S3:        s3c,
		PublicKey: pub,
		Keys:      keys,
		Log:       log,
	})
}

func newLogger(cfg *config.Config) logging.Logger {
	return logging.New(cfg.LogLevel)
}
