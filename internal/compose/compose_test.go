package compose

import (
	"context"
	"testing"

	"github.com/go-errors/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	name string
	args []string
}

func fakeCLI(output string, err error) (*CLI, *[]call) {
	calls := &[]call{}
	cli := NewCLI("docker-compose.yml", "n8n", zerolog.Nop())
	cli.run = func(_ context.Context, name string, args ...string) ([]byte, error) {
		*calls = append(*calls, call{name: name, args: args})
		return []byte(output), err
	}
	return cli, calls
}

func TestCLI_ComposeArgs(t *testing.T) {
	cli, calls := fakeCLI("", nil)
	require.NoError(t, cli.Up(context.Background()))

	require.Len(t, *calls, 1)
	assert.Equal(t, "docker", (*calls)[0].name)
	assert.Equal(t, []string{"compose", "-f", "docker-compose.yml", "-p", "n8n", "up", "-d"}, (*calls)[0].args)
}

func TestCLI_NoProject(t *testing.T) {
	cli, calls := fakeCLI("", nil)
	cli.Project = ""
	require.NoError(t, cli.Stop(context.Background()))

	assert.Equal(t, []string{"compose", "-f", "docker-compose.yml", "stop"}, (*calls)[0].args)
}

func TestCLI_VersionUnavailable(t *testing.T) {
	cli, _ := fakeCLI("", errors.Errorf("exec: docker: not found"))

	_, err := cli.Version(context.Background())
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestCLI_Running(t *testing.T) {
	cli, _ := fakeCLI("n8n\ntraefik\n", nil)

	running, err := cli.Running(context.Background(), "n8n")
	require.NoError(t, err)
	assert.True(t, running)

	running, err = cli.Running(context.Background(), "postgres")
	require.NoError(t, err)
	assert.False(t, running)
}

func TestCLI_ExecWiresService(t *testing.T) {
	cli, calls := fakeCLI("1.64.0", nil)

	out, err := cli.Exec(context.Background(), "n8n", "n8n", "--version")
	require.NoError(t, err)
	assert.Equal(t, "1.64.0", string(out))
	assert.Equal(t, []string{
		"compose", "-f", "docker-compose.yml", "-p", "n8n",
		"exec", "-T", "n8n", "n8n", "--version",
	}, (*calls)[0].args)
}

func TestCLI_CreateNetworkAlreadyExists(t *testing.T) {
	cli, _ := fakeCLI(`Error response from daemon: network with name proxy already exists`,
		errors.Errorf("exit status 1"))

	require.NoError(t, cli.CreateNetwork(context.Background(), "proxy"))
}
