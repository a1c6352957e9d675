// Package cli implements the hoodhub command line.
package cli

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"hoodhub.chat/hub/internal/config"
	"hoodhub.chat/hub/internal/logger"
)

// Version is stamped at build time with -ldflags "-X ...cli.Version=...".
var Version = "dev"

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Verbose    bool

	// Ring receives Info and above for the web status bar.
	Ring *logger.Logger
}

// NewRootCommand creates the root command for the hoodhub CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{Ring: logger.New(200)}

	cmd := &cobra.Command{
		Use:     "hoodhub",
		Short:   "HoodHub - chat on a message ledger",
		Long:    "A chat client that keeps a poll-refreshed view of an append-only message ledger and appends signed messages to it.",
		Version: Version,
	}

	// Global flags
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to JSON config file (default $CONFIG_FILE)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	// Add subcommands
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewReadCommand(opts))
	cmd.AddCommand(NewSendCommand(opts))
	cmd.AddCommand(NewKeygenCommand(opts))
	cmd.AddCommand(NewDevnetCommand(opts))
	cmd.AddCommand(NewConfigCommand(opts))

	return cmd
}

// loadConfig layers the configuration and sets up logging from it.
func (o *RootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	logger.Configure(cfg.LogLevel, o.Verbose, o.Ring)
	logrus.WithField("component", "cli").Debug("configuration loaded")
	return cfg, nil
}
