// internal/config/config_test.go
package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMultiSourceString(t *testing.T) {
	assert.Equal(t, "literal", MultiSourceString{Data: "literal"}.Get())

	t.Setenv("MV_TEST_SECRET", "from-env")
	assert.Equal(t, "from-env", MultiSourceString{EnvVar: "MV_TEST_SECRET"}.Get())
	assert.Equal(t, "literal", MultiSourceString{Data: "literal", EnvVar: "MV_TEST_SECRET"}.Get())
	assert.Equal(t, "", MultiSourceString{}.Get())
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "main.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level: debug
databases:
  - id: local
    location: fs:/var/db/photos
    key_id: primary
  - id: cloud
    location: s3:my-bucket/photos
    s3_client_id: minio
    readonly: true
s3_clients:
  - id: minio
    endpoint: http://localhost:9000
    region: us-east-1
    access_key:
      env_var: AWS_ACCESS_KEY_ID
    secret_key:
      env_var: AWS_SECRET_ACCESS_KEY
keys:
  - id: primary
    path:
      data: /var/keys/vault.key
    default: true
    generate: true
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)

	db := cfg.Database("cloud")
	require.NotNil(t, db)
	assert.True(t, db.Readonly)
	assert.Equal(t, "s3:my-bucket/photos", db.Location)
	assert.Nil(t, cfg.Database("absent"))

	s3c := cfg.S3Client("minio")
	require.NotNil(t, s3c)
	assert.Equal(t, "http://localhost:9000", s3c.Endpoint)

	key := cfg.Key("primary")
	require.NotNil(t, key)
	assert.True(t, key.Default)
	assert.True(t, key.Generate)
	assert.Equal(t, "/var/keys/vault.key", key.Path.Get())
}
