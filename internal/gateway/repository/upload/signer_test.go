package upload

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticSigner(t *testing.T) {
	s := NewStaticSigner("http://localhost:8081/media/")
	got, err := s.URL(context.Background(), "Media", "/hero image.png")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8081/media/media/hero%20image.png", got)

	_, err = s.URL(context.Background(), "media", "")
	assert.Error(t, err)
}

func TestS3SignerPresignsWithoutNetwork(t *testing.T) {
	s, err := NewS3Signer(S3Config{
		Endpoint:  "localhost:9000",
		Region:    "us-east-1",
		AccessKey: "minio",
		SecretKey: "minio123",
		Bucket:    "media",
		Expiry:    10 * time.Minute,
	})
	require.NoError(t, err)

	raw, err := s.URL(context.Background(), "media", "a/b.png")
	require.NoError(t, err)
	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "http", u.Scheme)
	assert.Equal(t, "localhost:9000", u.Host)
	assert.Equal(t, "/media/media/a/b.png", u.Path)
	assert.Equal(t, "600", u.Query().Get("X-Amz-Expires"))
	assert.NotEmpty(t, u.Query().Get("X-Amz-Signature"))
}

func TestNewS3SignerValidatesConfig(t *testing.T) {
	_, err := NewS3Signer(S3Config{AccessKey: "a", SecretKey: "b", Bucket: "c"})
	assert.Error(t, err)
	_, err = NewS3Signer(S3Config{Endpoint: "localhost:9000", Bucket: "c"})
	assert.Error(t, err)
	_, err = NewS3Signer(S3Config{Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "b"})
	assert.Error(t, err)
}
