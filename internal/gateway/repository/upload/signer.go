// Package upload produces the URLs upload documents are served from.
package upload

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Signer returns a URL a browser can fetch filename of collection from.
type Signer interface {
	URL(ctx context.Context, collection, filename string) (string, error)
}

const DefaultExpiry = time.Hour

type S3Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	Expiry    time.Duration
}

type S3Signer struct {
	client     *minio.Client
	bucketName string
	region     string
	expiry     time.Duration
	initOnce   sync.Once
	initErr    error
}

var _ Signer = (*S3Signer)(nil)

func NewS3Signer(cfg S3Config) (*S3Signer, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("s3 endpoint is required")
	}
	access := strings.TrimSpace(cfg.AccessKey)
	secret := strings.TrimSpace(cfg.SecretKey)
	if access == "" || secret == "" {
		return nil, fmt.Errorf("s3 access key and secret key are required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}
	expiry := cfg.Expiry
	if expiry <= 0 {
		expiry = DefaultExpiry
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(access, secret, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("init s3 client: %w", err)
	}
	return &S3Signer{
		client:     client,
		bucketName: bucket,
		region:     region,
		expiry:     expiry,
	}, nil
}

// EnsureBucket creates the media bucket on first use.
func (s *S3Signer) EnsureBucket(ctx context.Context) error {
	s.initOnce.Do(func() {
		exists, err := s.client.BucketExists(ctx, s.bucketName)
		if err != nil {
			s.initErr = err
			return
		}
		if exists {
			return
		}
		s.initErr = s.client.MakeBucket(ctx, s.bucketName, minio.MakeBucketOptions{Region: s.region})
	})
	return s.initErr
}

func (s *S3Signer) URL(ctx context.Context, collection, filename string) (string, error) {
	key, err := objectKey(collection, filename)
	if err != nil {
		return "", err
	}
	u, err := s.client.PresignedGetObject(ctx, s.bucketName, key, s.expiry, nil)
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return u.String(), nil
}

// StaticSigner serves uploads from a fixed public prefix.
type StaticSigner struct {
	base string
}

var _ Signer = StaticSigner{}

func NewStaticSigner(base string) StaticSigner {
	return StaticSigner{base: strings.TrimRight(strings.TrimSpace(base), "/")}
}

func (s StaticSigner) URL(_ context.Context, collection, filename string) (string, error) {
	key, err := objectKey(collection, filename)
	if err != nil {
		return "", err
	}
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return s.base + "/" + strings.Join(parts, "/"), nil
}

func objectKey(collection, filename string) (string, error) {
	collection = strings.ToLower(strings.TrimSpace(collection))
	filename = strings.TrimLeft(strings.TrimSpace(filename), "/")
	if collection == "" {
		return "", fmt.Errorf("collection is required")
	}
	if filename == "" {
		return "", fmt.Errorf("filename is required")
	}
	return collection + "/" + filename, nil
}
