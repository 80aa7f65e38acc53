package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/vidfriends/streamgate/internal/models"
)

// ObjectStoreConfig describes the bucket holding ingested media.
type ObjectStoreConfig struct {
	Bucket   string
	Region   string
	Endpoint string
	// Expires bounds the lifetime of every presigned URL.
	Expires time.Duration
}

// ObjectPresigner is the subset of *s3.PresignClient the presigner needs.
type ObjectPresigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

var _ ObjectPresigner = (*s3.PresignClient)(nil)

// S3Presigner resolves a source identifier, treated as an object key, to a
// presigned GET URL.
type S3Presigner struct {
	client  ObjectPresigner
	bucket  string
	expires time.Duration
}

// NewS3Presigner configures a presigner targeting the provided object store.
func NewS3Presigner(ctx context.Context, cfg ObjectStoreConfig) (*S3Presigner, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("s3 presigner: bucket is required")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
		if endpoint := strings.TrimSpace(cfg.Endpoint); endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	return NewS3PresignerFromClient(s3.NewPresignClient(client), cfg.Bucket, cfg.Expires), nil
}

// NewS3PresignerFromClient wraps an existing presign client.
func NewS3PresignerFromClient(client ObjectPresigner, bucket string, expires time.Duration) *S3Presigner {
	if expires <= 0 {
		expires = 15 * time.Minute
	}
	return &S3Presigner{client: client, bucket: bucket, expires: expires}
}

// Resolve implements videos.Resolver.
func (p *S3Presigner) Resolve(ctx context.Context, sourceID string) (models.Resolution, error) {
	key := strings.TrimLeft(strings.TrimSpace(sourceID), "/")
	if key == "" {
		return models.Resolution{}, errors.New("s3 presigner: empty key")
	}

	req, err := p.client.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(p.expires))
	if err != nil {
		return models.Resolution{}, fmt.Errorf("s3 presign %s: %w", key, err)
	}

	return models.Resolution{URL: req.URL, Headers: req.SignedHeader.Clone()}, nil
}
