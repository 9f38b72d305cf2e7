package artifact

import (
	"bytes"
	"context"
	"fmt"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Config holds configuration for S3-compatible storage.
type S3Config struct {
	Endpoint  string // host:port, e.g. "localhost:9000"
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
	// Prefix is prepended to every object key.
	Prefix string
}

// S3Sink uploads rank content to S3-compatible object storage under the key
// <prefix>/<session ID>/rank_<rank>.zip.
type S3Sink struct {
	client *minio.Client
	bucket string
	region string
	prefix string
}

// NewS3Sink creates a new S3Sink with the given configuration.
func NewS3Sink(cfg S3Config) (*S3Sink, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: endpoint %q: %w", ErrStore, cfg.Endpoint, err)
	}
	return &S3Sink{
		client: client,
		bucket: cfg.Bucket,
		region: cfg.Region,
		prefix: cfg.Prefix,
	}, nil
}

// EnsureBucket ensures the bucket exists, creating it if necessary.
func (s *S3Sink) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("%w: bucket %q: %w", ErrStore, s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
		return fmt.Errorf("%w: cannot create bucket %q: %w", ErrStore, s.bucket, err)
	}
	return nil
}

// Key returns the object key for the given session and rank.
func (s *S3Sink) Key(sessionID string, rank int) string {
	return path.Join(s.prefix, sessionID, DefaultRankPath(rank))
}

// Put uploads content as the object for the given session and rank.
func (s *S3Sink) Put(ctx context.Context, sessionID string, rank int, content []byte) error {
	key := s.Key(sessionID, rank)
	opts := minio.PutObjectOptions{
		ContentType:  "application/zip",
		UserMetadata: map[string]string{"session": sessionID, "rank": fmt.Sprint(rank)},
	}
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(content), int64(len(content)), opts)
	if err != nil {
		return fmt.Errorf("%w: cannot upload %q: %w", ErrStore, key, err)
	}
	return nil
}
