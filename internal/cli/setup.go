package cli

import (
	"github.com/spf13/cobra"

	"gitlab.com/tbuchert/flowkeeper/internal/setup"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Bootstrap the host for a fresh deployment",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}

		coord := &setup.Coordinator{
			Config:  app.conf,
			Compose: app.compose,
			Logger:  app.logger,
		}
		_, err = coord.Run(cmd.Context())
		return err
	},
}

func init() {
	rootCmd.AddCommand(setupCmd)
}
