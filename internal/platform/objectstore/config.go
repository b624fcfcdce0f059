// Package objectstore constructs the MinIO client backing the artifact store.
package objectstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ameen-91/exray/internal/platform/env"
)

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
	Bucket    string
}

func ConfigFromEnv() (Config, error) {
	useSSL, err := env.Bool("EXRAY_MINIO_USE_SSL", false)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Endpoint:  env.String("EXRAY_MINIO_ENDPOINT", "127.0.0.1:9000"),
		AccessKey: env.String("EXRAY_MINIO_ACCESS_KEY", "admin"),
		SecretKey: env.String("EXRAY_MINIO_SECRET_KEY", "password"),
		Region:    env.String("EXRAY_MINIO_REGION", "us-east-1"),
		UseSSL:    useSSL,
		Bucket:    env.String("EXRAY_MINIO_BUCKET", "inputs"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("endpoint is required")
	}
	if strings.TrimSpace(c.AccessKey) == "" {
		return errors.New("access key is required")
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("secret key is required")
	}
	if strings.TrimSpace(c.Bucket) == "" {
		return errors.New("bucket is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", c.Endpoint)
	}
	return nil
}
