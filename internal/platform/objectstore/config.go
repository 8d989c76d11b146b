package objectstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mlboard-labs/mlboard-go/internal/platform/env"
)

type Config struct {
	Endpoint     string
	AccessKey    string
	SecretKey    string
	Region       string
	UseSSL       bool
	BucketModels string
}

func ConfigFromEnv() (Config, error) {
	useSSL, err := env.Bool("MLBOARD_MINIO_USE_SSL", false)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Endpoint:     env.String("MLBOARD_MINIO_ENDPOINT", "localhost:9000"),
		AccessKey:    env.String("MLBOARD_MINIO_ACCESS_KEY", "mlboard"),
		SecretKey:    env.String("MLBOARD_MINIO_SECRET_KEY", "mlboardminio"),
		Region:       env.String("MLBOARD_MINIO_REGION", "us-east-1"),
		UseSSL:       useSSL,
		BucketModels: env.String("MLBOARD_MINIO_BUCKET_MODELS", "models"),
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
	if strings.TrimSpace(c.BucketModels) == "" {
		return errors.New("models bucket is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", c.Endpoint)
	}
	return nil
}
