package objectstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient_MissingKeyFile(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "missing-key.json")

	client, err := NewClient(context.Background(), "snapshots", keyPath, nil)
	require.Error(t, err)
	assert.Nil(t, client)
	assert.Contains(t, err.Error(), "service account key not found")
}

func TestNewClient_RequiresBucket(t *testing.T) {
	client, err := NewClient(context.Background(), "", "", nil)
	require.Error(t, err)
	assert.Nil(t, client)
}
