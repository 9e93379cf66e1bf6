package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"filippo.io/age"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/tbuchert/flowkeeper/internal/archive"
	"gitlab.com/tbuchert/flowkeeper/internal/config"
)

type fakeCompose struct {
	available bool
	running   bool
	status    string
}

func (f *fakeCompose) Version(context.Context) (string, error) {
	if !f.available {
		return "", fmt.Errorf("docker compose is not available")
	}
	return "2.29.0", nil
}
func (f *fakeCompose) Up(context.Context) error               { return nil }
func (f *fakeCompose) Stop(context.Context) error             { return nil }
func (f *fakeCompose) Pull(context.Context) error             { return nil }
func (f *fakeCompose) Status(context.Context) (string, error) { return f.status, nil }
func (f *fakeCompose) Running(context.Context, string) (bool, error) {
	return f.running, nil
}
func (f *fakeCompose) Exec(context.Context, string, ...string) ([]byte, error) {
	return nil, nil
}
func (f *fakeCompose) CopyFrom(context.Context, string, string, string) error { return nil }
func (f *fakeCompose) CopyTo(context.Context, string, string, string) error   { return nil }
func (f *fakeCompose) CreateNetwork(context.Context, string) error            { return nil }
func (f *fakeCompose) PruneImages(context.Context) error                      { return nil }

type fakeExporter struct {
	workflowErr   error
	credentialErr error
}

func (f *fakeExporter) ExportWorkflows(_ context.Context, hostPath string) error {
	if f.workflowErr != nil {
		return f.workflowErr
	}
	return os.WriteFile(hostPath, []byte(`[{"name":"wf"}]`), 0o600)
}

func (f *fakeExporter) ExportCredentials(_ context.Context, hostPath string, _ []age.Recipient) (string, error) {
	if f.credentialErr != nil {
		return "", f.credentialErr
	}
	return hostPath, os.WriteFile(hostPath, []byte(`{"ct":"x"}`), 0o600)
}

func testConfig(root string) config.Config {
	return config.Config{
		Compose: config.ComposeConfig{File: "docker-compose.yml", Service: "n8n", Proxy: "traefik"},
		Paths: config.PathsConfig{
			Root: root, Data: "data", Certs: "certs",
			Backups: "backups", EnvFile: ".env",
		},
		Backup: config.BackupConfig{Prefix: "flowkeeper", Keep: 7, AsideKeep: 3},
	}
}

func newCoordinator(t *testing.T, root string, cc *fakeCompose) *Coordinator {
	t.Helper()
	return &Coordinator{
		Config:  testConfig(root),
		Compose: cc,
		Porter:  &fakeExporter{},
		Logger:  zerolog.Nop(),
		Now:     func() time.Time { return time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC) },
	}
}

func seedDeployment(t *testing.T, root string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "data", "nodes"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "data", "database.sqlite"), []byte("db"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "data", "nodes", "custom.js"), []byte("js"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "certs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "certs", "acme.json"), []byte("{}"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".env"), []byte("N8N_HOST=example.com\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(root, "docker-compose.yml"), []byte("services: {}\n"), 0o644))
}

func TestRun_FullBackupRoundTrip(t *testing.T) {
	root := t.TempDir()
	seedDeployment(t, root)

	coord := newCoordinator(t, root, &fakeCompose{available: true, running: true, status: "n8n running"})
	archivePath, err := coord.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "backups", "flowkeeper_20260823_120000.tar.gz"), archivePath)

	// staging directory must be gone, only the artifact survives
	entries, err := os.ReadDir(filepath.Join(root, "backups"))
	require.NoError(t, err)
	require.Len(t, entries, 1)

	// unpack and verify the inner layout
	extracted := t.TempDir()
	require.NoError(t, archive.ExtractFile(archivePath, extracted))
	inner, err := archive.SingleDir(extracted)
	require.NoError(t, err)
	assert.Equal(t, "flowkeeper_20260823_120000", filepath.Base(inner))

	for _, name := range []string{
		"flowkeeper_20260823_120000_data.tar.gz",
		"flowkeeper_20260823_120000_certs.tar.gz",
		".env",
		"docker-compose.yml",
		"workflows/workflows.json",
		"credentials/credentials.json",
		ManifestName,
	} {
		_, err := os.Stat(filepath.Join(inner, name))
		assert.NoError(t, err, name)
	}

	// data sub-archive reproduces the original tree
	dataDir := t.TempDir()
	require.NoError(t, archive.ExtractFile(filepath.Join(inner, "flowkeeper_20260823_120000_data.tar.gz"), dataDir))
	content, err := os.ReadFile(filepath.Join(dataDir, "nodes", "custom.js"))
	require.NoError(t, err)
	assert.Equal(t, "js", string(content))

	manifest, err := ReadManifest(filepath.Join(inner, ManifestName))
	require.NoError(t, err)
	assert.Equal(t, manifestVersion, manifest.Version)
	assert.Equal(t, "n8n running", manifest.ServiceStatus)
	assert.Contains(t, manifest.Contents, "flowkeeper_20260823_120000_data.tar.gz")
	assert.Contains(t, manifest.Contents, "workflows/workflows.json")
}

func TestRun_NoDataDirStillSucceeds(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, ".env"), []byte("X=1\n"), 0o600))

	coord := newCoordinator(t, root, &fakeCompose{available: true})
	archivePath, err := coord.Run(context.Background())
	require.NoError(t, err)

	extracted := t.TempDir()
	require.NoError(t, archive.ExtractFile(archivePath, extracted))
	inner, err := archive.SingleDir(extracted)
	require.NoError(t, err)

	manifest, err := ReadManifest(filepath.Join(inner, ManifestName))
	require.NoError(t, err)
	assert.NotContains(t, manifest.Contents, "flowkeeper_20260823_120000_data.tar.gz")
	assert.Contains(t, manifest.Contents, ".env")
}

func TestRun_ServiceDownSkipsExports(t *testing.T) {
	root := t.TempDir()
	seedDeployment(t, root)

	coord := newCoordinator(t, root, &fakeCompose{available: true, running: false})
	archivePath, err := coord.Run(context.Background())
	require.NoError(t, err)

	extracted := t.TempDir()
	require.NoError(t, archive.ExtractFile(archivePath, extracted))
	inner, err := archive.SingleDir(extracted)
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(inner, "workflows"))
	assert.True(t, os.IsNotExist(err))
}

func TestRun_ExportFailureIsAdvisory(t *testing.T) {
	root := t.TempDir()
	seedDeployment(t, root)

	coord := newCoordinator(t, root, &fakeCompose{available: true, running: true})
	coord.Porter = &fakeExporter{workflowErr: fmt.Errorf("command not found")}

	archivePath, err := coord.Run(context.Background())
	require.NoError(t, err)

	extracted := t.TempDir()
	require.NoError(t, archive.ExtractFile(archivePath, extracted))
	inner, err := archive.SingleDir(extracted)
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(inner, "workflows"))
	assert.True(t, os.IsNotExist(err))
	// credentials export still ran
	_, err = os.Stat(filepath.Join(inner, "credentials", "credentials.json"))
	assert.NoError(t, err)
}

func TestRun_ComposeUnavailableIsFatal(t *testing.T) {
	root := t.TempDir()
	seedDeployment(t, root)

	coord := newCoordinator(t, root, &fakeCompose{available: false})
	_, err := coord.Run(context.Background())
	require.Error(t, err)

	// nothing was created
	_, statErr := os.Stat(filepath.Join(root, "backups"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestRun_SameSecondCollisionGetsSuffix(t *testing.T) {
	root := t.TempDir()
	seedDeployment(t, root)

	coord := newCoordinator(t, root, &fakeCompose{available: true})
	first, err := coord.Run(context.Background())
	require.NoError(t, err)
	second, err := coord.Run(context.Background())
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.Contains(t, second, "flowkeeper_20260823_120000_2.tar.gz")
}

func TestPruneRetention(t *testing.T) {
	dir := t.TempDir()
	var names []string
	for i := 0; i < 10; i++ {
		name := fmt.Sprintf("flowkeeper_202608%02d_120000.tar.gz", i+1)
		names = append(names, name)
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}
	// unrelated files are never touched
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	removed, err := PruneRetention(dir, "flowkeeper", 7)
	require.NoError(t, err)
	assert.Len(t, removed, 3)

	remaining, err := filepath.Glob(filepath.Join(dir, "flowkeeper_*.tar.gz"))
	require.NoError(t, err)
	assert.Len(t, remaining, 7)

	// the oldest three are the ones that went away
	for _, old := range names[:3] {
		assert.NotContains(t, remaining, filepath.Join(dir, old))
	}
	_, err = os.Stat(filepath.Join(dir, "notes.txt"))
	assert.NoError(t, err)
}

func TestPruneRetention_UnderLimitNoop(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "flowkeeper_20260801_120000.tar.gz"), []byte("x"), 0o644))

	removed, err := PruneRetention(dir, "flowkeeper", 7)
	require.NoError(t, err)
	assert.Empty(t, removed)
}
