package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"gitlab.com/tbuchert/flowkeeper/internal/postgres"
	"gitlab.com/tbuchert/flowkeeper/internal/update"
)

var updateWithBackup bool

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Pull newer images and recreate the services",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}

		backupCoord, err := app.backupCoordinator()
		if err != nil {
			return err
		}

		coord := &update.Coordinator{
			Config:  app.conf,
			Compose: app.compose,
			Backup:  backupCoord,
			Confirm: confirmYesNo,
			Logger:  app.logger,
		}
		if app.conf.Database.Host != "" {
			coord.Database = postgres.NewConnection(app.conf.Database)
		}

		_, err = coord.Run(cmd.Context(), updateWithBackup)
		if errors.Is(err, update.ErrCancelled) {
			app.logger.Info().Msg("update cancelled")
			return nil
		}
		return err
	},
}

func init() {
	updateCmd.Flags().BoolVarP(&updateWithBackup, "backup", "b", false, "create a safety backup before updating")
	rootCmd.AddCommand(updateCmd)
}
