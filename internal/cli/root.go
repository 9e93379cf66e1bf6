// Package cli wires the coordinators to the flowkeeper command tree.
package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/AlecAivazis/survey/v2"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"gitlab.com/tbuchert/flowkeeper/internal/backup"
	"gitlab.com/tbuchert/flowkeeper/internal/compose"
	"gitlab.com/tbuchert/flowkeeper/internal/config"
	"gitlab.com/tbuchert/flowkeeper/internal/flow"
	"gitlab.com/tbuchert/flowkeeper/internal/postgres"
	"gitlab.com/tbuchert/flowkeeper/internal/remote"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "flowkeeper",
	Short: "Lifecycle tooling for a compose-managed workflow automation stack",
	Long: `Flowkeeper backs up, restores, and updates a docker compose deployment
of a workflow automation server and its reverse proxy.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// app bundles the shared wiring every command needs.
type app struct {
	conf    config.Config
	compose compose.Client
	logger  zerolog.Logger
}

func newApp() (*app, error) {
	conf, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().Timestamp().Logger()

	return &app{
		conf:    conf,
		compose: compose.NewCLI(conf.ComposeFile(), conf.Compose.Project, logger),
		logger:  logger,
	}, nil
}

func (a *app) porter() *flow.Porter {
	return flow.NewPorter(a.compose, a.conf.Compose.Service, a.logger)
}

func (a *app) backupCoordinator() (*backup.Coordinator, error) {
	recipients, err := flow.ParseRecipients(a.conf.Backup.AgeRecipients)
	if err != nil {
		return nil, err
	}

	coord := &backup.Coordinator{
		Config:     a.conf,
		Compose:    a.compose,
		Porter:     a.porter(),
		Recipients: recipients,
		Logger:     a.logger,
	}
	if a.conf.Database.Host != "" {
		coord.Database = postgres.NewConnection(a.conf.Database)
	}
	if a.conf.Backup.Remote != "" {
		coord.Remote = remote.NewUploader(a.conf.Backup.Remote, a.logger)
	}
	return coord, nil
}

// confirmTyped requires the operator to type "yes", anything else declines.
func confirmTyped(prompt string) (bool, error) {
	var answer string
	err := survey.AskOne(&survey.Input{
		Message: prompt + ` Type "yes" to continue:`,
	}, &answer)
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(strings.ToLower(answer)) == "yes", nil
}

// confirmYesNo asks a plain yes/no question, defaulting to no.
func confirmYesNo(prompt string) (bool, error) {
	var proceed bool
	err := survey.AskOne(&survey.Confirm{Message: prompt, Default: false}, &proceed)
	return proceed, err
}
