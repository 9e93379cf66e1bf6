package cli

import (
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"gitlab.com/tbuchert/flowkeeper/internal/backup"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run backups on the configured cron schedule until interrupted",
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

		scheduler := &backup.Scheduler{
			Coordinator: coord,
			Schedule:    app.conf.Backup.Schedule,
			Logger:      app.logger,
		}
		if err := scheduler.StartSchedule(); err != nil {
			return err
		}

		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt)
		<-c

		// let a running backup drain before leaving
		scheduler.StopSchedule(time.Minute * 5)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(scheduleCmd)
}
