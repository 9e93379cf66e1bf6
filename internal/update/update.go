// Package update pulls newer images and recreates the managed services,
// with an optional safety backup up front. The run is an ordered list of
// named steps; per design only a missing orchestration CLI and a failed
// requested backup are fatal, everything after that is advisory.
package update

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"gitlab.com/tbuchert/flowkeeper/internal/compose"
	"gitlab.com/tbuchert/flowkeeper/internal/config"
	"gitlab.com/tbuchert/flowkeeper/internal/steps"
)

// ErrCancelled marks a declined confirmation. The CLI maps it to a clean
// exit.
var ErrCancelled = errors.New("update cancelled")

// Backuper runs the safety backup.
type Backuper interface {
	Run(ctx context.Context) (string, error)
}

// DatabaseWaiter blocks until the configured database accepts connections.
type DatabaseWaiter interface {
	WaitForConnection(duration time.Duration) error
}

type Coordinator struct {
	Config  config.Config
	Compose compose.Client
	Backup  Backuper

	// Database is nil when no database is configured.
	Database DatabaseWaiter

	// Confirm asks the operator before updating without a safety backup.
	Confirm func(prompt string) (bool, error)

	Logger zerolog.Logger

	// HTTPClient for endpoint reachability checks.
	HTTPClient *http.Client
}

func (c *Coordinator) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: 5 * time.Second}
}

// Run updates the stack. autoBackup runs the backup coordinator first and
// makes its failure fatal.
func (c *Coordinator) Run(ctx context.Context, autoBackup bool) (*steps.Report, error) {
	var before, after [2]string

	list := []steps.Step{
		{Name: "check orchestration CLI", Fatal: true, Run: func(ctx context.Context) error {
			version, err := c.Compose.Version(ctx)
			if err != nil {
				return err
			}
			c.Logger.Debug().Str("compose", version).Msg("orchestration CLI available")
			return nil
		}},
		{Name: "record current versions", Run: func(ctx context.Context) error {
			before = c.serviceVersions(ctx)
			c.Logger.Info().
				Str(c.Config.Compose.Service, before[0]).
				Str(c.Config.Compose.Proxy, before[1]).
				Msg("current versions")
			return nil
		}},
		{Name: "safety backup", Fatal: true, Run: func(ctx context.Context) error {
			return c.safetyBackup(ctx, autoBackup)
		}},
		{Name: "check local modifications", Run: func(ctx context.Context) error {
			return c.checkDrift()
		}},
		{Name: "pull images", Run: func(ctx context.Context) error {
			return c.Compose.Pull(ctx)
		}},
		{Name: "stop services", Run: func(ctx context.Context) error {
			return c.Compose.Stop(ctx)
		}},
		{Name: "start services", Run: func(ctx context.Context) error {
			return c.Compose.Up(ctx)
		}},
		{Name: "wait for database", Run: func(ctx context.Context) error {
			if c.Database == nil {
				return nil
			}
			return c.Database.WaitForConnection(time.Minute)
		}},
		{Name: "wait for healthy services", Run: func(ctx context.Context) error {
			return c.pollHealth(ctx)
		}},
		{Name: "record new versions", Run: func(ctx context.Context) error {
			after = c.serviceVersions(ctx)
			c.Logger.Info().
				Str(c.Config.Compose.Service, fmt.Sprintf("%s -> %s", before[0], after[0])).
				Str(c.Config.Compose.Proxy, fmt.Sprintf("%s -> %s", before[1], after[1])).
				Msg("version change")
			return nil
		}},
		{Name: "show service status", Run: func(ctx context.Context) error {
			status, err := c.Compose.Status(ctx)
			if err != nil {
				return err
			}
			c.Logger.Info().Msg(strings.TrimSpace(status))
			return nil
		}},
		{Name: "check endpoints", Run: func(ctx context.Context) error {
			return c.checkEndpoints()
		}},
		{Name: "prune dangling images", Run: func(ctx context.Context) error {
			return c.Compose.PruneImages(ctx)
		}},
	}

	report, err := steps.Run(ctx, c.Logger, list)
	if err != nil {
		return report, err
	}

	if report.Warnings() > 0 {
		c.Logger.Warn().Int("warnings", report.Warnings()).Msg("update finished with warnings")
	} else {
		c.Logger.Info().Msg("update finished")
	}
	return report, nil
}

func (c *Coordinator) safetyBackup(ctx context.Context, autoBackup bool) error {
	if autoBackup {
		archivePath, err := c.Backup.Run(ctx)
		if err != nil {
			return fmt.Errorf("safety backup failed: %w", err)
		}
		c.Logger.Info().Str("archive", archivePath).Msg("safety backup created")
		return nil
	}

	if c.Confirm == nil {
		return nil
	}
	ok, err := c.Confirm("Continue update without a safety backup?")
	if err != nil {
		return err
	}
	if !ok {
		return ErrCancelled
	}
	return nil
}

// serviceVersions queries the version command of both managed services. A
// stopped service yields "unavailable".
func (c *Coordinator) serviceVersions(ctx context.Context) [2]string {
	return [2]string{
		c.serviceVersion(ctx, c.Config.Compose.Service, "n8n", "--version"),
		c.serviceVersion(ctx, c.Config.Compose.Proxy, "traefik", "version"),
	}
}

func (c *Coordinator) serviceVersion(ctx context.Context, service string, args ...string) string {
	running, err := c.Compose.Running(ctx, service)
	if err != nil || !running {
		return "unavailable"
	}
	out, err := c.Compose.Exec(ctx, service, args...)
	if err != nil {
		return "unavailable"
	}
	version, _, _ := strings.Cut(strings.TrimSpace(string(out)), "\n")
	return version
}

// checkDrift warns about local edits to the orchestration definition and
// about keys differing between the env template and the active env file.
func (c *Coordinator) checkDrift() error {
	composeFile := c.Config.ComposeFile()
	if pristine, err := os.ReadFile(composeFile + ".orig"); err == nil {
		current, err := os.ReadFile(composeFile)
		if err == nil && !bytes.Equal(pristine, current) {
			c.Logger.Warn().Str("file", composeFile).Msg("orchestration definition differs from pristine copy")
		}
	}

	template, err := godotenv.Read(c.Config.EnvFile() + ".example")
	if err != nil {
		return nil // no template shipped, nothing to compare
	}
	active, err := godotenv.Read(c.Config.EnvFile())
	if err != nil {
		return fmt.Errorf("failed to read env file: %w", err)
	}

	for key := range template {
		if _, ok := active[key]; !ok {
			c.Logger.Warn().Str("key", key).Msg("env template key missing from active env file")
		}
	}
	for key := range active {
		if _, ok := template[key]; !ok {
			c.Logger.Warn().Str("key", key).Msg("active env key not present in template")
		}
	}
	return nil
}

// pollHealth waits for the service to report running, bounded by the
// configured attempt ceiling. Reaching the ceiling is an advisory failure.
func (c *Coordinator) pollHealth(ctx context.Context) error {
	attempts := c.Config.Update.HealthAttempts
	interval := time.Duration(c.Config.Update.HealthInterval) * time.Second

	for i := 0; i < attempts; i++ {
		running, err := c.Compose.Running(ctx, c.Config.Compose.Service)
		if err == nil && running {
			c.Logger.Info().Int("attempt", i+1).Msg("service is running")
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
	return fmt.Errorf("service not healthy after %d attempts, inspect the logs", attempts)
}

func (c *Coordinator) checkEndpoints() error {
	var failed []string
	for _, url := range []string{c.Config.Update.HealthURL, c.Config.Update.ProxyHealthURL} {
		if url == "" {
			continue
		}
		response, err := c.httpClient().Get(url)
		if err != nil {
			failed = append(failed, url)
			continue
		}
		response.Body.Close()
		if response.StatusCode >= http.StatusBadRequest {
			failed = append(failed, fmt.Sprintf("%s (%d)", url, response.StatusCode))
			continue
		}
		c.Logger.Info().Str("endpoint", url).Msg("endpoint reachable")
	}
	if len(failed) > 0 {
		return fmt.Errorf("endpoints not reachable: %s", strings.Join(failed, ", "))
	}
	return nil
}
