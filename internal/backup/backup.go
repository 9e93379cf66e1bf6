// Package backup bundles the deployment state (data directory, config files,
// certificate store, database dump, workflow and credential exports) into one
// timestamped archive and maintains the retention set.
package backup

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"os/user"
	"path/filepath"
	"time"

	"filippo.io/age"
	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"gitlab.com/tbuchert/flowkeeper/internal/archive"
	"gitlab.com/tbuchert/flowkeeper/internal/compose"
	"gitlab.com/tbuchert/flowkeeper/internal/config"
)

const timestampFormat = "20060102_150405"

// manifestVersion of the backup layout
const manifestVersion = 1

// Exporter pulls workflow and credential exports out of the running service.
type Exporter interface {
	ExportWorkflows(ctx context.Context, hostPath string) error
	ExportCredentials(ctx context.Context, hostPath string, recipients []age.Recipient) (string, error)
}

// Dumper streams a database dump.
type Dumper interface {
	Dump(writer io.Writer) error
}

// Replicator copies a finished archive to offsite storage.
type Replicator interface {
	Upload(ctx context.Context, path string) error
}

// Coordinator runs one full backup. Only the environment check and the final
// compression are fatal; every other step degrades to a warning because the
// data snapshot is the authoritative artifact.
type Coordinator struct {
	Config  config.Config
	Compose compose.Client
	Porter  Exporter

	// Database is nil when no database is configured.
	Database Dumper
	// Remote is nil when no replication target is configured.
	Remote Replicator

	// Recipients encrypt the credentials export when non empty.
	Recipients []age.Recipient

	Logger zerolog.Logger

	// Now is replaceable for tests.
	Now func() time.Time
}

func (c *Coordinator) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// Run performs a full backup and returns the final archive path.
func (c *Coordinator) Run(ctx context.Context) (string, error) {
	// orchestration CLI must work, nothing else makes sense without it
	version, err := c.Compose.Version(ctx)
	if err != nil {
		return "", err
	}
	c.Logger.Debug().Str("compose", version).Msg("orchestration CLI available")

	backupDir := c.Config.BackupDir()
	if err := os.MkdirAll(backupDir, os.ModePerm); err != nil {
		return "", fmt.Errorf("failed to create backup dir %s: %w", backupDir, err)
	}

	staging, name, err := c.createStaging(backupDir)
	if err != nil {
		return "", err
	}
	c.Logger.Info().Str("backup", name).Msg("starting backup")

	manifest := &Manifest{
		Version:   manifestVersion,
		Timestamp: c.now(),
		Host:      hostName(),
		User:      userName(),
	}

	c.snapshotData(staging, name, manifest)
	c.copyConfigs(staging, manifest)
	c.snapshotCerts(staging, name, manifest)
	c.dumpDatabase(staging, manifest)
	c.exportFlows(ctx, staging, manifest)

	if status, err := c.Compose.Status(ctx); err == nil {
		manifest.ServiceStatus = status
	} else {
		c.Logger.Warn().Err(err).Msg("could not capture service status")
	}

	if err := WriteManifest(filepath.Join(staging, ManifestName), manifest); err != nil {
		c.Logger.Warn().Err(err).Msg("could not write manifest")
	}

	// compress staging into the final artifact; this one has to succeed
	archivePath := filepath.Join(backupDir, name+".tar.gz")
	if err := archive.TarDirAs(archivePath, staging, name); err != nil {
		return "", fmt.Errorf("failed to compress backup: %w", err)
	}
	if err := os.RemoveAll(staging); err != nil {
		c.Logger.Warn().Err(err).Msg("could not remove staging directory")
	}

	removed, err := PruneRetention(backupDir, c.Config.Backup.Prefix, c.Config.Backup.Keep)
	if err != nil {
		c.Logger.Warn().Err(err).Msg("retention pruning failed")
	}
	for _, path := range removed {
		c.Logger.Info().Str("archive", filepath.Base(path)).Msg("pruned old backup")
	}

	if info, err := os.Stat(archivePath); err == nil {
		c.Logger.Info().
			Str("archive", archivePath).
			Str("size", humanize.Bytes(uint64(info.Size()))).
			Msg("backup finished")
	}

	if c.Remote != nil {
		if err := c.Remote.Upload(ctx, archivePath); err != nil {
			c.Logger.Warn().Err(err).Msg("offsite replication failed")
		}
	}

	return archivePath, nil
}

// createStaging claims a fresh staging directory. A second backup within the
// same second gets a numeric suffix instead of clobbering the first.
func (c *Coordinator) createStaging(backupDir string) (string, string, error) {
	base := fmt.Sprintf("%s_%s", c.Config.Backup.Prefix, c.now().Format(timestampFormat))

	name := base
	for i := 2; ; i++ {
		staging := filepath.Join(backupDir, name)

		// a finished archive with this name also counts as a collision
		if _, err := os.Stat(staging + ".tar.gz"); err != nil {
			err := os.Mkdir(staging, os.ModePerm)
			if err == nil {
				return staging, name, nil
			}
			if !os.IsExist(err) {
				return "", "", fmt.Errorf("failed to create staging dir %s: %w", staging, err)
			}
		}
		name = fmt.Sprintf("%s_%d", base, i)
	}
}

func (c *Coordinator) snapshotData(staging, name string, manifest *Manifest) {
	dataDir := c.Config.DataDir()
	if _, err := os.Stat(dataDir); err != nil {
		c.Logger.Warn().Str("dir", dataDir).Msg("data directory missing, skipping")
		return
	}

	filename := name + "_data.tar.gz"
	c.Logger.Info().Str("dir", dataDir).Msg("archiving data directory")
	if err := archive.TarDirToFile(filepath.Join(staging, filename), dataDir); err != nil {
		c.Logger.Warn().Err(err).Msg("data directory snapshot failed")
		return
	}
	manifest.Contents = append(manifest.Contents, filename)
}

func (c *Coordinator) copyConfigs(staging string, manifest *Manifest) {
	for _, path := range []string{c.Config.EnvFile(), c.Config.ComposeFile()} {
		if _, err := os.Stat(path); err != nil {
			c.Logger.Warn().Str("file", path).Msg("config file missing, skipping")
			continue
		}
		target := filepath.Base(path)
		if err := copyFile(filepath.Join(staging, target), path); err != nil {
			c.Logger.Warn().Err(err).Msg("config copy failed")
			continue
		}
		manifest.Contents = append(manifest.Contents, target)
	}
}

func (c *Coordinator) snapshotCerts(staging, name string, manifest *Manifest) {
	certDir := c.Config.CertDir()
	if _, err := os.Stat(certDir); err != nil {
		return
	}

	filename := name + "_certs.tar.gz"
	c.Logger.Info().Str("dir", certDir).Msg("archiving certificate store")
	if err := archive.TarDirToFile(filepath.Join(staging, filename), certDir); err != nil {
		c.Logger.Warn().Err(err).Msg("certificate store snapshot failed")
		return
	}
	manifest.Contents = append(manifest.Contents, filename)
}

func (c *Coordinator) dumpDatabase(staging string, manifest *Manifest) {
	if c.Database == nil {
		return
	}
	c.Logger.Info().Msg("dumping database")

	path := filepath.Join(staging, "database.sql.gz")
	file, err := os.Create(path)
	if err != nil {
		c.Logger.Warn().Err(err).Msg("database dump failed")
		return
	}
	defer file.Close()

	gzipWriter := gzip.NewWriter(file)
	err = c.Database.Dump(gzipWriter)
	gzipWriter.Close()
	if err != nil {
		c.Logger.Warn().Err(err).Msg("database dump failed")
		os.Remove(path)
		return
	}
	manifest.Contents = append(manifest.Contents, "database.sql.gz")
}

// exportFlows asks the running service for workflow and credential exports.
// Failures stay warnings: the data snapshot already carries the same state.
func (c *Coordinator) exportFlows(ctx context.Context, staging string, manifest *Manifest) {
	running, err := c.Compose.Running(ctx, c.Config.Compose.Service)
	if err != nil || !running {
		c.Logger.Warn().Msg("service not running, skipping workflow and credential export")
		return
	}

	workflowDir := filepath.Join(staging, "workflows")
	if err := os.MkdirAll(workflowDir, os.ModePerm); err == nil {
		target := filepath.Join(workflowDir, "workflows.json")
		if err := c.Porter.ExportWorkflows(ctx, target); err != nil {
			c.Logger.Warn().Err(err).Msg("workflow export failed")
			os.RemoveAll(workflowDir)
		} else {
			manifest.Contents = append(manifest.Contents, "workflows/workflows.json")
		}
	}

	credentialDir := filepath.Join(staging, "credentials")
	if err := os.MkdirAll(credentialDir, os.ModePerm); err == nil {
		target := filepath.Join(credentialDir, "credentials.json")
		final, err := c.Porter.ExportCredentials(ctx, target, c.Recipients)
		if err != nil {
			c.Logger.Warn().Err(err).Msg("credential export failed")
			os.RemoveAll(credentialDir)
		} else {
			manifest.Contents = append(manifest.Contents, filepath.Join("credentials", filepath.Base(final)))
		}
	}
}

func copyFile(dest, src string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dest, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	return out.Close()
}

func hostName() string {
	host, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return host
}

func userName() string {
	if current, err := user.Current(); err == nil {
		return current.Username
	}
	return os.Getenv("USER")
}
