package cli

import (
	"github.com/spf13/cobra"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Create a full backup archive of the deployment",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}

		coord, err := app.backupCoordinator()
		if err != nil {
			return err
		}

		_, err = coord.Run(cmd.Context())
		return err
	},
}

func init() {
	rootCmd.AddCommand(backupCmd)
}
