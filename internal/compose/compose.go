// Package compose wraps the docker compose CLI used to control the managed
// stack. Everything goes through the Client interface so coordinators can be
// exercised without a container engine.
package compose

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/go-errors/errors"
	"github.com/rs/zerolog"
)

// ErrUnavailable marks a missing or non-functional compose CLI.
var ErrUnavailable = errors.Errorf("docker compose is not available")

// Client is the orchestration surface the coordinators depend on.
type Client interface {
	// Version reports the compose CLI version, or ErrUnavailable.
	Version(ctx context.Context) (string, error)
	Up(ctx context.Context) error
	Stop(ctx context.Context) error
	Pull(ctx context.Context) error
	// Status returns the human readable service listing (compose ps).
	Status(ctx context.Context) (string, error)
	// Running reports whether the named service has a running container.
	Running(ctx context.Context, service string) (bool, error)
	// Exec runs a command inside the named service container.
	Exec(ctx context.Context, service string, args ...string) ([]byte, error)
	// CopyFrom copies a file out of the named service container.
	CopyFrom(ctx context.Context, service, containerPath, hostPath string) error
	// CopyTo copies a file into the named service container.
	CopyTo(ctx context.Context, service, hostPath, containerPath string) error
	// CreateNetwork creates the shared docker network, tolerating an
	// already existing one.
	CreateNetwork(ctx context.Context, name string) error
	// PruneImages removes dangling images.
	PruneImages(ctx context.Context) error
}

// runFunc executes an external command and returns its combined output.
type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return out, errors.Errorf("%s %s: %v: %s",
			name, strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return out, nil
}

// CLI talks to the docker and docker compose binaries.
type CLI struct {
	File    string
	Project string

	logger zerolog.Logger
	run    runFunc
}

// NewCLI creates a compose client for the given compose file and optional
// project name.
func NewCLI(file, project string, logger zerolog.Logger) *CLI {
	return &CLI{
		File:    file,
		Project: project,
		logger:  logger,
		run:     runCommand,
	}
}

// composeArgs prefixes the subcommand with file and project selection.
func (c *CLI) composeArgs(args ...string) []string {
	full := []string{"compose", "-f", c.File}
	if c.Project != "" {
		full = append(full, "-p", c.Project)
	}
	return append(full, args...)
}

func (c *CLI) compose(ctx context.Context, args ...string) ([]byte, error) {
	c.logger.Debug().Strs("args", args).Msg("docker compose")
	return c.run(ctx, "docker", c.composeArgs(args...)...)
}

func (c *CLI) Version(ctx context.Context) (string, error) {
	out, err := c.run(ctx, "docker", "compose", "version", "--short")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return strings.TrimSpace(string(out)), nil
}

func (c *CLI) Up(ctx context.Context) error {
	_, err := c.compose(ctx, "up", "-d")
	return err
}

func (c *CLI) Stop(ctx context.Context) error {
	_, err := c.compose(ctx, "stop")
	return err
}

func (c *CLI) Pull(ctx context.Context) error {
	_, err := c.compose(ctx, "pull")
	return err
}

func (c *CLI) Status(ctx context.Context) (string, error) {
	out, err := c.compose(ctx, "ps")
	return string(out), err
}

func (c *CLI) Running(ctx context.Context, service string) (bool, error) {
	out, err := c.compose(ctx, "ps", "--status", "running", "--services")
	if err != nil {
		return false, err
	}
	for _, line := range strings.Split(string(out), "\n") {
		if strings.TrimSpace(line) == service {
			return true, nil
		}
	}
	return false, nil
}

func (c *CLI) Exec(ctx context.Context, service string, args ...string) ([]byte, error) {
	return c.compose(ctx, append([]string{"exec", "-T", service}, args...)...)
}

func (c *CLI) CopyFrom(ctx context.Context, service, containerPath, hostPath string) error {
	_, err := c.compose(ctx, "cp", service+":"+containerPath, hostPath)
	return err
}

func (c *CLI) CopyTo(ctx context.Context, service, hostPath, containerPath string) error {
	_, err := c.compose(ctx, "cp", hostPath, service+":"+containerPath)
	return err
}

func (c *CLI) CreateNetwork(ctx context.Context, name string) error {
	out, err := c.run(ctx, "docker", "network", "create", name)
	if err != nil && strings.Contains(string(out), "already exists") {
		c.logger.Debug().Str("network", name).Msg("network already exists")
		return nil
	}
	return err
}

func (c *CLI) PruneImages(ctx context.Context) error {
	_, err := c.run(ctx, "docker", "image", "prune", "-f")
	return err
}
