package backup

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManifest_WriteRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), ManifestName)

	want := &Manifest{
		Version:       manifestVersion,
		Timestamp:     time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC),
		Host:          "host01",
		User:          "deploy",
		ServiceStatus: "n8n running\ntraefik running",
		Contents:      []string{"flowkeeper_20260823_120000_data.tar.gz", ".env"},
	}
	require.NoError(t, WriteManifest(path, want))

	got, err := ReadManifest(path)
	require.NoError(t, err)
	assert.Equal(t, want.Host, got.Host)
	assert.Equal(t, want.User, got.User)
	assert.Equal(t, want.Contents, got.Contents)
	assert.True(t, want.Timestamp.Equal(got.Timestamp))
}

func TestReadManifest_Missing(t *testing.T) {
	_, err := ReadManifest(filepath.Join(t.TempDir(), ManifestName))
	require.Error(t, err)
}
