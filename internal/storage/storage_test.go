package storage

import (
	"context"
	"testing"

	"github.com/natours/apiserver/config"
	"github.com/stretchr/testify/require"
)

func TestOpenDisabledAndUnknown(t *testing.T) {
	_, err := Open(context.Background(), config.StorageConfig{})
	require.ErrorIs(t, err, ErrDisabled)

	_, err = Open(context.Background(), config.StorageConfig{Backend: "ftp"})
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrDisabled)
}

func TestNewMinioClientValidatesConfig(t *testing.T) {
	cases := map[string]config.MinioConfig{
		"missing endpoint": {AccessKey: "a", SecretKey: "s", Bucket: "b"},
		"missing keys":     {Endpoint: "localhost:9000", Bucket: "b"},
		"missing bucket":   {Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "s"},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewMinioClient(cfg)
			require.Error(t, err)
		})
	}

	client, err := NewMinioClient(config.MinioConfig{
		Endpoint:  "localhost:9000",
		AccessKey: "a",
		SecretKey: "s",
		Bucket:    "natours",
	})
	require.NoError(t, err)
	require.Equal(t, "natours", client.Bucket())
	require.NoError(t, client.Close())
}

func TestNewGCSClientRequiresBucket(t *testing.T) {
	_, err := NewGCSClient(context.Background(), config.GCSConfig{})
	require.Error(t, err)
}
