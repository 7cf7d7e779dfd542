// internal/config/config.go
package config

type Config struct {
	LogLevel  string           `yaml:"log_level"`
	Databases []ConfigDatabase `yaml:"databases"`
	S3Clients []ConfigS3Client `yaml:"s3_clients"`
	Keys      []ConfigKey      `yaml:"keys"`
}

// ConfigDatabase describes one asset database root.
type ConfigDatabase struct {
	ID         string `yaml:"id"`
	Location   string `yaml:"location"` // fs:<path> or s3:<bucket>/<prefix>
	Readonly   bool   `yaml:"readonly"`
	KeyID      string `yaml:"key_id"`       // encryption key, empty = plaintext database
	S3ClientID string `yaml:"s3_client_id"` // for s3: locations; unknown or empty falls back to the AWS environment variables
}

// ConfigKey points at an RSA key pair on disk. The private key lives at
// `path`, the public key at `path.pub`.
type ConfigKey struct {
	ID       string            `yaml:"id"`
	Path     MultiSourceString `yaml:"path"`
	Default  bool              `yaml:"default"`  // used for legacy payloads with no header
	Generate bool              `yaml:"generate"` // generate the pair if missing
}

func (cfg *Config) Database(id string) *ConfigDatabase {
	for i := range cfg.Databases {
		if cfg.Databases[i].ID == id {
			return &cfg.Databases[i]
		}
	}
	return nil
}

func (cfg *Config) Key(id string) *ConfigKey {
	for i := range cfg.Keys {
		if cfg.Keys[i].ID == id {
			return &cfg.Keys[i]
		}
	}
	return nil
}
