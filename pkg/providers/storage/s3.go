package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/inkforge/orchestrator/pkg/orcherr"
	"github.com/inkforge/orchestrator/pkg/providers"
)

// S3Store is the production providers.ObjectStore, used for cover images
// and any other artifact too large for a Checkpoint's payload column.
type S3Store struct {
	client *s3.Client
	bucket string
}

// NewS3Store loads the default AWS config chain (env vars, shared config
// file, instance role) for region and builds a store bound to bucket.
func NewS3Store(ctx context.Context, bucket, region string) (*S3Store, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("storage: load aws config: %w", err)
	}
	return &S3Store{client: s3.NewFromConfig(cfg), bucket: bucket}, nil
}

var _ providers.ObjectStore = (*S3Store)(nil)

func (s *S3Store) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &s.bucket,
		Key:         &key,
		Body:        bytes.NewReader(data),
		ContentType: &contentType,
	})
	if err != nil {
		return "", orcherr.Classify(orcherr.Transient, fmt.Errorf("storage: put %s: %w", key, err))
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

func (s *S3Store) Get(ctx context.Context, location string) ([]byte, error) {
	bucket, key, err := parseS3Location(location)
	if err != nil {
		return nil, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &bucket, Key: &key})
	if err != nil {
		return nil, orcherr.Classify(orcherr.Transient, fmt.Errorf("storage: get %s: %w", location, err))
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", location, err)
	}
	return data, nil
}

func parseS3Location(location string) (bucket, key string, err error) {
	const prefix = "s3://"
	if len(location) <= len(prefix) || location[:len(prefix)] != prefix {
		return "", "", fmt.Errorf("storage: location %q is not an s3:// reference", location)
	}
	rest := location[len(prefix):]
	for i := 0; i < len(rest); i++ {
		if rest[i] == '/' {
			return rest[:i], rest[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("storage: location %q has no key component", location)
}
