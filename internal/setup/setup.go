// Package setup performs the one-time host bootstrap for a fresh
// deployment: directories, the shared docker network, and a seeded env file.
package setup

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"gitlab.com/tbuchert/flowkeeper/internal/compose"
	"gitlab.com/tbuchert/flowkeeper/internal/config"
	"gitlab.com/tbuchert/flowkeeper/internal/steps"
)

type Coordinator struct {
	Config  config.Config
	Compose compose.Client
	Logger  zerolog.Logger
}

// Run bootstraps the host. Only a missing orchestration CLI is fatal; a
// partially prepared host can be fixed by hand and setup re-run.
func (c *Coordinator) Run(ctx context.Context) (*steps.Report, error) {
	list := []steps.Step{
		{Name: "check orchestration CLI", Fatal: true, Run: func(ctx context.Context) error {
			version, err := c.Compose.Version(ctx)
			if err != nil {
				return err
			}
			c.Logger.Info().Str("compose", version).Msg("orchestration CLI available")
			return nil
		}},
		{Name: "create directories", Fatal: true, Run: func(ctx context.Context) error {
			for _, dir := range []string{c.Config.DataDir(), c.Config.CertDir(), c.Config.BackupDir()} {
				if err := os.MkdirAll(dir, os.ModePerm); err != nil {
					return fmt.Errorf("failed to create %s: %w", dir, err)
				}
				c.Logger.Info().Str("dir", dir).Msg("directory ready")
			}
			return nil
		}},
		{Name: "create shared network", Run: func(ctx context.Context) error {
			return c.Compose.CreateNetwork(ctx, c.Config.Compose.Network)
		}},
		{Name: "seed env file", Run: func(ctx context.Context) error {
			return c.seedEnvFile()
		}},
		{Name: "pull images", Run: func(ctx context.Context) error {
			return c.Compose.Pull(ctx)
		}},
	}

	report, err := steps.Run(ctx, c.Logger, list)
	if err != nil {
		return report, err
	}
	c.Logger.Info().Msg("setup finished, review the env file and run 'docker compose up -d'")
	return report, nil
}

// seedEnvFile copies the shipped template to the active env file when none
// exists yet. An existing env file is never touched.
func (c *Coordinator) seedEnvFile() error {
	envFile := c.Config.EnvFile()
	if _, err := os.Stat(envFile); err == nil {
		c.Logger.Info().Str("file", envFile).Msg("env file already present")
		return nil
	}

	template := envFile + ".example"
	data, err := os.ReadFile(template)
	if err != nil {
		return fmt.Errorf("no env file and no template %s: %w", template, err)
	}
	if err := os.WriteFile(envFile, data, 0o600); err != nil {
		return fmt.Errorf("failed to seed env file: %w", err)
	}
	c.Logger.Info().Str("file", envFile).Msg("seeded env file from template")
	return nil
}
