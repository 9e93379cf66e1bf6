package setup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/tbuchert/flowkeeper/internal/config"
)

type fakeCompose struct {
	available bool
	networks  []string
	pulled    bool
}

func (f *fakeCompose) Version(context.Context) (string, error) {
	if !f.available {
		return "", fmt.Errorf("docker compose is not available")
	}
	return "2.29.0", nil
}
func (f *fakeCompose) Up(context.Context) error   { return nil }
func (f *fakeCompose) Stop(context.Context) error { return nil }
func (f *fakeCompose) Pull(context.Context) error {
	f.pulled = true
	return nil
}
func (f *fakeCompose) Status(context.Context) (string, error)        { return "", nil }
func (f *fakeCompose) Running(context.Context, string) (bool, error) { return false, nil }
func (f *fakeCompose) Exec(context.Context, string, ...string) ([]byte, error) {
	return nil, nil
}
func (f *fakeCompose) CopyFrom(context.Context, string, string, string) error { return nil }
func (f *fakeCompose) CopyTo(context.Context, string, string, string) error   { return nil }
func (f *fakeCompose) CreateNetwork(_ context.Context, name string) error {
	f.networks = append(f.networks, name)
	return nil
}
func (f *fakeCompose) PruneImages(context.Context) error { return nil }

func testConfig(root string) config.Config {
	return config.Config{
		Compose: config.ComposeConfig{File: "docker-compose.yml", Service: "n8n", Network: "proxy"},
		Paths: config.PathsConfig{
			Root: root, Data: "data", Certs: "certs",
			Backups: "backups", EnvFile: ".env",
		},
	}
}

func TestRun_Bootstrap(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, ".env.example"), []byte("N8N_HOST=\n"), 0o644))

	cc := &fakeCompose{available: true}
	coord := &Coordinator{Config: testConfig(root), Compose: cc, Logger: zerolog.Nop()}

	report, err := coord.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Warnings())

	for _, dir := range []string{"data", "certs", "backups"} {
		info, err := os.Stat(filepath.Join(root, dir))
		require.NoError(t, err, dir)
		assert.True(t, info.IsDir())
	}
	assert.Equal(t, []string{"proxy"}, cc.networks)
	assert.True(t, cc.pulled)

	env, err := os.ReadFile(filepath.Join(root, ".env"))
	require.NoError(t, err)
	assert.Equal(t, "N8N_HOST=\n", string(env))
}

func TestRun_ExistingEnvFileUntouched(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, ".env"), []byte("KEEP=me\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".env.example"), []byte("N8N_HOST=\n"), 0o644))

	coord := &Coordinator{Config: testConfig(root), Compose: &fakeCompose{available: true}, Logger: zerolog.Nop()}
	_, err := coord.Run(context.Background())
	require.NoError(t, err)

	env, err := os.ReadFile(filepath.Join(root, ".env"))
	require.NoError(t, err)
	assert.Equal(t, "KEEP=me\n", string(env))
}

func TestRun_MissingEngineIsFatal(t *testing.T) {
	coord := &Coordinator{Config: testConfig(t.TempDir()), Compose: &fakeCompose{}, Logger: zerolog.Nop()}
	_, err := coord.Run(context.Background())
	require.Error(t, err)
}

func TestRun_MissingTemplateIsAdvisory(t *testing.T) {
	root := t.TempDir()
	coord := &Coordinator{Config: testConfig(root), Compose: &fakeCompose{available: true}, Logger: zerolog.Nop()}

	report, err := coord.Run(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, report.Warnings(), 1)
}
