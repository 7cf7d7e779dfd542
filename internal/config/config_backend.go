// internal/config/config_backend.go
package config

import "os"

type ConfigS3Client struct {
	ID        string            `yaml:"id"`
	Endpoint  string            `yaml:"endpoint"`
	Region    string            `yaml:"region"`
	AccessKey MultiSourceString `yaml:"access_key"`
	SecretKey MultiSourceString `yaml:"secret_key"`
}

func (cfg *Config) S3Client(id string) *ConfigS3Client {
	for i := range cfg.S3Clients {
		if cfg.S3Clients[i].ID == id {
			return &cfg.S3Clients[i]
		}
	}
	return nil
}

// S3ClientFromEnv builds client settings from the standard AWS variables.
// Explicit config entries take precedence over this.
func S3ClientFromEnv() *ConfigS3Client {
	region := os.Getenv("AWS_DEFAULT_REGION")
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	return &ConfigS3Client{
		ID:        "env",
		Endpoint:  os.Getenv("AWS_ENDPOINT"),
		Region:    region,
		AccessKey: MultiSourceString{EnvVar: "AWS_ACCESS_KEY_ID"},
		SecretKey: MultiSourceString{EnvVar: "AWS_SECRET_ACCESS_KEY"},
	}
}
