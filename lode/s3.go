package lode

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/justapithecus/lode/lode"
	lodes3 "github.com/justapithecus/lode/lode/s3"
)

// S3Config selects an S3 or S3-compatible bucket.
type S3Config struct {
	Bucket string
	Prefix string
	// Region falls back to the SDK default chain when empty.
	Region string
	// Endpoint overrides the AWS endpoint (MinIO, R2).
	Endpoint string
	// UsePathStyle puts the bucket in the path; most compatible providers need it.
	UsePathStyle bool
}

// Validate reports a missing bucket.
func (c S3Config) Validate() error {
	if c.Bucket == "" {
		return errors.New("s3 bucket is required")
	}
	return nil
}

// ParseS3Path splits "bucket/prefix" or "bucket".
func ParseS3Path(path string) (bucket, prefix string) {
	bucket, prefix, _ = strings.Cut(path, "/")
	return bucket, strings.Trim(prefix, "/")
}

// NewS3Factory builds a store factory on the SDK's default credential chain.
func NewS3Factory(ctx context.Context, cfg S3Config) (lode.StoreFactory, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var loadOpts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(cfg.Region))
	}
	awsConfig, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, WrapInitError(fmt.Errorf("load aws config: %w", err), cfg.Bucket)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = &cfg.Endpoint
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return func() (lode.Store, error) {
		return lodes3.New(client, lodes3.Config{Bucket: cfg.Bucket, Prefix: cfg.Prefix})
	}, nil
}

// NewS3Store opens the dataset in an S3 bucket.
func NewS3Store(ctx context.Context, dataset string, cfg S3Config) (*Store, error) {
	factory, err := NewS3Factory(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewStore(dataset, factory, "s3")
}
