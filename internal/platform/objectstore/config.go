package objectstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/animus-labs/launchpad/internal/platform/env"
)

type Config struct {
	Enabled        bool
	Endpoint       string
	AccessKey      string
	SecretKey      string
	Region         string
	UseSSL         bool
	BucketRendered string
}

func ConfigFromEnv() (Config, error) {
	enabled, err := env.Bool("LAUNCHPAD_MINIO_ENABLED", false)
	if err != nil {
		return Config{}, err
	}
	useSSL, err := env.Bool("LAUNCHPAD_MINIO_USE_SSL", false)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Enabled:        enabled,
		Endpoint:       env.String("LAUNCHPAD_MINIO_ENDPOINT", "localhost:9000"),
		AccessKey:      env.String("LAUNCHPAD_MINIO_ACCESS_KEY", "launchpad"),
		SecretKey:      env.String("LAUNCHPAD_MINIO_SECRET_KEY", "launchpadminio"),
		Region:         env.String("LAUNCHPAD_MINIO_REGION", "us-east-1"),
		UseSSL:         useSSL,
		BucketRendered: env.String("LAUNCHPAD_MINIO_BUCKET_RENDERED", "rendered-templates"),
	}
	if !cfg.Enabled {
		return cfg, nil
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
	if strings.TrimSpace(c.Region) == "" {
		return errors.New("region is required")
	}
	if strings.TrimSpace(c.BucketRendered) == "" {
		return errors.New("rendered bucket is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", c.Endpoint)
	}
	return nil
}
