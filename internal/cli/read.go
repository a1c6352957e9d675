package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"hoodhub.chat/hub/internal/chat"
	"hoodhub.chat/hub/internal/ledger"
	"hoodhub.chat/hub/internal/names"
	"hoodhub.chat/hub/internal/syncer"
)

// ReadOptions holds flags for the read command.
type ReadOptions struct {
	*RootOptions
	JSON bool
}

// NewReadCommand creates the read command.
func NewReadCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReadOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "read",
		Short: "Print every message on the ledger",
		Long: `Fetch the message log once and print it oldest first. Authors are shown
by registered name when one exists.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return readMessages(cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.JSON, "json", false, "print messages as JSON")

	return cmd
}

func readMessages(cmd *cobra.Command, opts *ReadOptions) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	st, err := newStack(cfg, keySource(cfg, false))
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if err := st.engine.Refresh(ctx); err != nil {
		return WrapExitError(ExitFailure, "failed to read messages", err)
	}

	msgs := st.engine.Snapshot().Messages
	for _, author := range distinctAuthors(msgs) {
		// Lookup failures are cached as unresolved and fall back to the
		// short address.
		st.resolver.Resolve(ctx, author)
	}

	if opts.JSON {
		return printJSON(cmd.OutOrStdout(), msgs, st.resolver)
	}
	printMessages(cmd.OutOrStdout(), msgs, chat.CachedLabeler(st.resolver))
	return nil
}

func printMessages(w io.Writer, msgs []syncer.Message, label chat.Labeler) {
	if len(msgs) == 0 {
		fmt.Fprintln(w, chat.EmptyText)
		return
	}
	for _, m := range msgs {
		fmt.Fprintf(w, "Message #%d\n", m.Position)
		fmt.Fprintf(w, "User: %s\n", label(m.Author))
		if ts := chat.FormatTime(m.Timestamp); ts != "" {
			fmt.Fprintf(w, "Time: %s\n", ts)
		}
		fmt.Fprintf(w, "Text: %s\n\n", m.Text)
	}
}

func printJSON(w io.Writer, msgs []syncer.Message, resolver *names.Resolver) error {
	out := make([]syncer.Message, len(msgs))
	copy(out, msgs)
	for i := range out {
		if e, ok := resolver.Cached(out[i].Author); ok && e.Resolved {
			out[i].DisplayName, out[i].AvatarURL = e.DisplayName, e.AvatarURL
		}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func distinctAuthors(msgs []syncer.Message) []ledger.Address {
	seen := make(map[ledger.Address]bool)
	var out []ledger.Address
	for _, m := range msgs {
		key := m.Author.Normalize()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, m.Author)
	}
	return out
}
