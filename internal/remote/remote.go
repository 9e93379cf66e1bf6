// Package remote replicates finished backup archives to an rclone remote.
package remote

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	_ "github.com/rclone/rclone/backend/all"
	"github.com/rclone/rclone/fs"
	"github.com/rclone/rclone/fs/config/configfile"
	"github.com/rclone/rclone/fs/operations"
	"github.com/rs/zerolog"
)

var installConfig sync.Once

// Uploader copies files to a configured rclone remote, e.g.
// "offsite:backups/flowkeeper". The remote itself comes from the usual
// rclone config file.
type Uploader struct {
	Target string

	logger zerolog.Logger
}

func NewUploader(target string, logger zerolog.Logger) *Uploader {
	return &Uploader{Target: target, logger: logger}
}

// Upload copies the file at path to the remote, keeping its base name.
func (u *Uploader) Upload(ctx context.Context, path string) error {
	installConfig.Do(configfile.Install)

	fsrc, err := fs.NewFs(ctx, filepath.Dir(path))
	if err != nil {
		return fmt.Errorf("failed to open source dir: %w", err)
	}
	fdst, err := fs.NewFs(ctx, u.Target)
	if err != nil {
		return fmt.Errorf("failed to open remote %s: %w", u.Target, err)
	}

	name := filepath.Base(path)
	u.logger.Info().Str("remote", u.Target).Str("file", name).Msg("replicating archive")

	if err := operations.CopyFile(ctx, fdst, fsrc, name, name); err != nil {
		return fmt.Errorf("failed to copy %s to %s: %w", name, u.Target, err)
	}
	return nil
}
