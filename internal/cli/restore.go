package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"gitlab.com/tbuchert/flowkeeper/internal/restore"
)

var restoreFlags struct {
	dryRun     bool
	configOnly bool
	dataOnly   bool
	force      bool
}

var restoreCmd = &cobra.Command{
	Use:   "restore BACKUP_FILE",
	Short: "Restore the deployment from a backup archive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if restoreFlags.configOnly && restoreFlags.dataOnly {
			return fmt.Errorf("--config-only and --data-only are mutually exclusive")
		}

		mode := restore.ModeFull
		if restoreFlags.configOnly {
			mode = restore.ModeConfigOnly
		}
		if restoreFlags.dataOnly {
			mode = restore.ModeDataOnly
		}

		app, err := newApp()
		if err != nil {
			return err
		}

		coord := &restore.Coordinator{
			Config:      app.conf,
			Compose:     app.compose,
			Porter:      app.porter(),
			Confirm:     confirmTyped,
			Logger:      app.logger,
			GracePeriod: 15 * time.Second,
		}

		err = coord.Run(cmd.Context(), restore.Options{
			Archive: args[0],
			Mode:    mode,
			Force:   restoreFlags.force,
			DryRun:  restoreFlags.dryRun,
		})
		if errors.Is(err, restore.ErrCancelled) {
			app.logger.Info().Msg("restore cancelled")
			return nil
		}
		return err
	},
}

func init() {
	restoreCmd.Flags().BoolVar(&restoreFlags.dryRun, "dry-run", false, "show what would be restored without changing anything")
	restoreCmd.Flags().BoolVar(&restoreFlags.configOnly, "config-only", false, "restore only the config files")
	restoreCmd.Flags().BoolVar(&restoreFlags.dataOnly, "data-only", false, "restore only the data and certificate directories")
	restoreCmd.Flags().BoolVar(&restoreFlags.force, "force", false, "skip the confirmation prompt")
	rootCmd.AddCommand(restoreCmd)
}
