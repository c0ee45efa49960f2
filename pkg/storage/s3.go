package storage

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

// S3Storage implements ObjectStorage against an S3-compatible backend
type S3Storage struct {
	client *s3.S3
}

// NewS3Storage builds an S3-backed ObjectStorage. Credentials come from
// the environment or instance profile. endpoint may be empty for AWS
// proper, or point at a compatible service (MinIO etc.).
func NewS3Storage(region, endpoint string) (*S3Storage, error) {
	cfg := &aws.Config{
		Region: aws.String(region),
	}
	if endpoint != "" {
		cfg.Endpoint = aws.String(endpoint)
		cfg.S3ForcePathStyle = aws.Bool(true)
	}

	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return &S3Storage{client: s3.New(sess)}, nil
}

// Delete removes the object from S3
func (s *S3Storage) Delete(ctx context.Context, bucket, path string) error {
	_, err := s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		return fmt.Errorf("failed to delete s3://%s/%s: %w", bucket, path, err)
	}
	return nil
}
