package main

import (
	"context"
	"io"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"github.com/isometry/ldap2json/internal/config"
	"github.com/isometry/ldap2json/internal/logging"
)

// globalFlags holds the flags shared by every command.
type globalFlags struct {
	configPath string
	debug      bool
}

func newRootCommand() *cobra.Command {
	flags := &globalFlags{}

	cmd := &cobra.Command{
		Use:   "ldap2json",
		Short: "Serve LDAP directory searches as JSON over HTTP",
		Long: `ldap2json turns HTTP GET query parameters into an LDAP search filter,
runs the search against one of several equivalent directory servers and
returns the matching entries as JSON (or JSONP).

Running ldap2json without a command starts the gateway.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, flags)
		},
	}

	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "f", "", "configuration file (default "+config.DefaultPath+" if present)")
	cmd.PersistentFlags().BoolVarP(&flags.debug, "debug", "d", false, "enable debug logging (overrides the configuration file)")

	cmd.AddCommand(
		newServeCommand(flags),
		newSearchCommand(flags),
		newVersionCommand(),
	)

	return cmd
}

// loadConfig reads the configuration and applies command-line overrides.
// --debug replaces the file's setting only when it was given.
func loadConfig(cmd *cobra.Command, flags *globalFlags) (*config.Config, hclog.Logger, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, nil, err
	}

	if cmd.Flags().Changed("debug") {
		cfg.Debug = flags.debug
	}

	logger := logging.New(cfg.Log, cfg.Debug, cmd.ErrOrStderr())
	return cfg, logger, nil
}

// background returns cmd's context, or context.Background when run outside Execute.
func background(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// closeApp releases the application's resources, logging any failure.
func closeApp(logger hclog.Logger, a io.Closer) {
	if err := a.Close(); err != nil {
		logger.Warn("Error releasing resources", "error", err)
	}
}
