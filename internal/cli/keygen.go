package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"hoodhub.chat/hub/internal/identity"
)

// KeygenOptions holds flags for the keygen command.
type KeygenOptions struct {
	*RootOptions
	Force bool
}

// NewKeygenCommand creates the keygen command.
func NewKeygenCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &KeygenOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "keygen <path>",
		Short:         "Create an ed25519 signing key file",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return generateKey(cmd, opts, args[0])
		},
	}

	cmd.Flags().BoolVarP(&opts.Force, "force", "f", false, "overwrite an existing key file")

	return cmd
}

func generateKey(cmd *cobra.Command, opts *KeygenOptions, path string) error {
	if _, err := os.Stat(path); err == nil && !opts.Force {
		return WrapExitError(ExitCommandError, fmt.Sprintf("%s already exists (use --force to overwrite)", path), nil)
	}

	priv, err := identity.GenerateKeyFile(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to write key file", err)
	}
	id := identity.NewIdentity(priv)
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\nAddress: %s\n", path, id.Address())
	return nil
}
