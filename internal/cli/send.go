package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"hoodhub.chat/hub/internal/composer"
	"hoodhub.chat/hub/internal/ledger"
)

// NewSendCommand creates the send command.
func NewSendCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send <text>...",
		Short: "Append a message and wait for confirmation",
		Long: `Sign the message with the configured key (PRIVATE_KEY or the key file),
append it to the ledger and wait until it is included.

Example:
  hoodhub send gm everyone`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return sendMessage(cmd, rootOpts, strings.Join(args, " "))
		},
	}
	return cmd
}

func sendMessage(cmd *cobra.Command, opts *RootOptions, text string) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	st, err := newStack(cfg, keySource(cfg, false))
	if err != nil {
		return err
	}

	id, err := st.wallet.Connect()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load signing key", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Sending as %s...\n", id.Address())

	if err := st.composer.Submit(cmd.Context(), text); err != nil {
		switch {
		case errors.Is(err, composer.ErrEmptyText):
			return WrapExitError(ExitCommandError, "nothing to send", err)
		case ledger.IsConfirmationTimeout(err):
			return WrapExitError(ExitFailure, "confirmation timed out; the message may still appear", err)
		default:
			return WrapExitError(ExitFailure, "send failed", err)
		}
	}
	fmt.Fprintf(out, "Message confirmed (tx %s)\n", st.composer.Status().TxHash)
	return nil
}
