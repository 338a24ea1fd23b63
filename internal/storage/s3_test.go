package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewS3BackendRequiresBucket(t *testing.T) {
	_, err := NewS3Backend(context.Background(), S3Config{})
	require.Error(t, err)
}

func TestNewS3BackendBuildsClientWithStaticCredentials(t *testing.T) {
	b, err := NewS3Backend(context.Background(), S3Config{
		Bucket:    "ci-artifacts",
		Region:    "us-east-1",
		Endpoint:  "https://s3.example.com",
		AccessKey: "AKIAEXAMPLE",
		SecretKey: "secret",
	})
	require.NoError(t, err)
	require.NotNil(t, b)
	require.Equal(t, "btdt/entries/key", b.key("/btdt/entries/key"))
}

func TestS3BackendKeyPrefixing(t *testing.T) {
	b := &S3Backend{cfg: S3Config{KeyPrefix: "prefix"}}
	require.Equal(t, "prefix/a/b", b.key("a/b"))

	b2 := &S3Backend{}
	require.Equal(t, "a/b", b2.key("/a/b"))
}
