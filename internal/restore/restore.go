// Package restore unpacks a backup archive and puts the deployment back into
// the captured state. Existing data and certificate directories are renamed
// aside instead of deleted, keeping a bounded rollback history.
package restore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"gitlab.com/tbuchert/flowkeeper/internal/archive"
	"gitlab.com/tbuchert/flowkeeper/internal/backup"
	"gitlab.com/tbuchert/flowkeeper/internal/compose"
	"gitlab.com/tbuchert/flowkeeper/internal/config"
)

var (
	// ErrNotFound marks a missing backup archive.
	ErrNotFound = errors.New("backup archive not found")
	// ErrInvalidFormat marks an archive without the expected single
	// backup directory inside.
	ErrInvalidFormat = errors.New("archive does not contain a backup directory")
	// ErrCancelled marks a declined confirmation. The CLI maps it to a
	// clean exit.
	ErrCancelled = errors.New("restore cancelled")
)

type Mode string

const (
	ModeFull       Mode = "full"
	ModeConfigOnly Mode = "config-only"
	ModeDataOnly   Mode = "data-only"
)

type Options struct {
	Archive string
	Mode    Mode
	Force   bool
	DryRun  bool
}

// Importer feeds exports back into the running service.
type Importer interface {
	ImportWorkflows(ctx context.Context, hostPath string) error
	ImportCredentials(ctx context.Context, hostPath, identityFile string) error
}

type Coordinator struct {
	Config  config.Config
	Compose compose.Client
	Porter  Importer

	// Confirm asks the operator before destructive changes. Required
	// unless Force or DryRun is set.
	Confirm func(prompt string) (bool, error)

	Logger zerolog.Logger

	// GracePeriod to wait after starting services before checking status.
	GracePeriod time.Duration

	Now func() time.Time
}

func (c *Coordinator) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// Run restores the deployment from the given archive.
func (c *Coordinator) Run(ctx context.Context, opts Options) error {
	if _, err := os.Stat(opts.Archive); err != nil {
		return fmt.Errorf("%w: %s", ErrNotFound, opts.Archive)
	}
	switch opts.Mode {
	case "":
		opts.Mode = ModeFull
	case ModeFull, ModeConfigOnly, ModeDataOnly:
	default:
		return fmt.Errorf("unknown restore mode %q", opts.Mode)
	}

	// extraction scratch space, removed on every exit path
	tempDir, err := os.MkdirTemp("", "flowkeeper-restore-*")
	if err != nil {
		return fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	c.Logger.Info().Str("archive", opts.Archive).Msg("extracting backup archive")
	if err := archive.ExtractFile(opts.Archive, tempDir); err != nil {
		return fmt.Errorf("failed to extract archive: %w", err)
	}
	inner, err := archive.SingleDir(tempDir)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}

	c.showManifest(inner)

	if opts.DryRun {
		c.narrate(inner, opts.Mode)
		return nil
	}

	if !opts.Force {
		if c.Confirm == nil {
			return fmt.Errorf("confirmation required but no prompt available, use --force")
		}
		ok, err := c.Confirm(fmt.Sprintf("Restore %s (%s)? This overwrites the current deployment.",
			filepath.Base(opts.Archive), opts.Mode))
		if err != nil {
			return err
		}
		if !ok {
			return ErrCancelled
		}
	}

	c.Logger.Info().Msg("stopping services")
	if err := c.Compose.Stop(ctx); err != nil {
		c.Logger.Warn().Err(err).Msg("could not stop services")
	}

	timestamp := c.now().Format("20060102_150405")

	if opts.Mode == ModeFull || opts.Mode == ModeConfigOnly {
		c.restoreConfigs(inner)
	}
	if opts.Mode == ModeFull || opts.Mode == ModeDataOnly {
		c.restoreDir(inner, "*_data.tar.gz", c.Config.DataDir(), timestamp)
		c.restoreDir(inner, "*_certs.tar.gz", c.Config.CertDir(), timestamp)
	}

	c.Logger.Info().Msg("starting services")
	if err := c.Compose.Up(ctx); err != nil {
		c.Logger.Warn().Err(err).Msg("could not start services")
	} else {
		c.reportStartup(ctx)
	}

	c.reimport(ctx, inner, opts.Mode)

	c.Logger.Info().Msg("restore finished")
	return nil
}

func (c *Coordinator) showManifest(inner string) {
	manifest, err := backup.ReadManifest(filepath.Join(inner, backup.ManifestName))
	if err != nil {
		c.Logger.Warn().Msg("backup has no readable manifest")
		return
	}
	c.Logger.Info().
		Time("created", manifest.Timestamp).
		Str("host", manifest.Host).
		Str("user", manifest.User).
		Strs("contents", manifest.Contents).
		Msg("backup manifest")
}

// narrate lists what a real run would do, touching nothing.
func (c *Coordinator) narrate(inner string, mode Mode) {
	c.Logger.Info().Msg("dry run, no changes will be made")

	if mode == ModeFull || mode == ModeConfigOnly {
		for _, name := range []string{filepath.Base(c.Config.EnvFile()), filepath.Base(c.Config.ComposeFile())} {
			if _, err := os.Stat(filepath.Join(inner, name)); err == nil {
				c.Logger.Info().Msgf("would restore config file %s", name)
			}
		}
	}
	if mode == ModeFull || mode == ModeDataOnly {
		if match := globOne(inner, "*_data.tar.gz"); match != "" {
			c.Logger.Info().Msgf("would restore data directory to %s", c.Config.DataDir())
		}
		if match := globOne(inner, "*_certs.tar.gz"); match != "" {
			c.Logger.Info().Msgf("would restore certificate store to %s", c.Config.CertDir())
		}
	}
	c.Logger.Info().Msg("would restart services and re-import workflow export")
}

func (c *Coordinator) restoreConfigs(inner string) {
	for _, dest := range []string{c.Config.EnvFile(), c.Config.ComposeFile()} {
		src := filepath.Join(inner, filepath.Base(dest))
		if _, err := os.Stat(src); err != nil {
			c.Logger.Warn().Str("file", filepath.Base(dest)).Msg("config file not in backup, skipping")
			continue
		}
		if err := copyFile(dest, src); err != nil {
			c.Logger.Warn().Err(err).Msg("config restore failed")
			continue
		}
		c.Logger.Info().Str("file", dest).Msg("restored config file")
	}
}

// restoreDir swaps target with the content of the matching sub-archive,
// keeping the previous directory as a timestamped rollback copy.
func (c *Coordinator) restoreDir(inner, pattern, target, timestamp string) {
	src := globOne(inner, pattern)
	if src == "" {
		c.Logger.Warn().Str("pattern", pattern).Msg("sub-archive not in backup, skipping")
		return
	}

	if _, err := os.Stat(target); err == nil {
		aside := fmt.Sprintf("%s.bak_%s", target, timestamp)
		if err := os.Rename(target, aside); err != nil {
			c.Logger.Warn().Err(err).Msg("could not move existing directory aside")
			return
		}
		c.Logger.Info().Str("rollback", aside).Msg("moved existing directory aside")
		c.pruneAside(target)
	}

	if err := os.MkdirAll(target, os.ModePerm); err != nil {
		c.Logger.Warn().Err(err).Msg("could not create target directory")
		return
	}
	if err := archive.ExtractFile(src, target); err != nil {
		c.Logger.Warn().Err(err).Msg("sub-archive extraction failed")
		return
	}
	c.Logger.Info().Str("dir", target).Msg("restored directory")
}

// pruneAside keeps the most recent rollback copies and removes the rest.
func (c *Coordinator) pruneAside(target string) {
	matches, err := filepath.Glob(target + ".bak_*")
	if err != nil || len(matches) <= c.Config.Backup.AsideKeep {
		return
	}
	sort.Sort(sort.Reverse(sort.StringSlice(matches)))
	for _, path := range matches[c.Config.Backup.AsideKeep:] {
		if err := os.RemoveAll(path); err != nil {
			c.Logger.Warn().Err(err).Str("dir", path).Msg("could not prune rollback copy")
			continue
		}
		c.Logger.Info().Str("dir", path).Msg("pruned old rollback copy")
	}
}

func (c *Coordinator) reportStartup(ctx context.Context) {
	if c.GracePeriod > 0 {
		time.Sleep(c.GracePeriod)
	}
	running, err := c.Compose.Running(ctx, c.Config.Compose.Service)
	if err != nil || !running {
		c.Logger.Warn().Msg("service does not report as running yet, check the logs")
		return
	}
	c.Logger.Info().Msg("services are running")
}

// reimport replays the workflow and credential exports. Failures are
// warnings: the restored data directory already carries the same state.
func (c *Coordinator) reimport(ctx context.Context, inner string, mode Mode) {
	if mode == ModeConfigOnly {
		return
	}

	if workflows := filepath.Join(inner, "workflows", "workflows.json"); exists(workflows) {
		if err := c.Porter.ImportWorkflows(ctx, workflows); err != nil {
			c.Logger.Warn().Err(err).Msg("workflow import failed")
		}
	} else {
		c.Logger.Warn().Msg("no workflow export in backup, skipping import")
	}

	credentials := filepath.Join(inner, "credentials", "credentials.json")
	if !exists(credentials) {
		credentials += ".age"
	}
	if exists(credentials) {
		if err := c.Porter.ImportCredentials(ctx, credentials, c.Config.Backup.AgeIdentity); err != nil {
			c.Logger.Warn().Err(err).Msg("credential import failed")
		}
	} else {
		c.Logger.Warn().Msg("no credentials export in backup, skipping import")
	}
}

func globOne(dir, pattern string) string {
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil || len(matches) == 0 {
		return ""
	}
	return matches[0]
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func copyFile(dest, src string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dest, data, info.Mode().Perm())
}
