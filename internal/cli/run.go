package cli

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"hoodhub.chat/hub/internal/api"
	"hoodhub.chat/hub/internal/chat"
	"hoodhub.chat/hub/internal/docs"
	"hoodhub.chat/hub/internal/web"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Port      int
	NoConnect bool
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the chat client and web UI",
		Long: `Connect the local signing identity, start polling the ledger and serve
the chat UI.

Example:
  hoodhub run
  HOODHUB_RPC_URL=http://localhost:8545 hoodhub run --port 9090`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClient(cmd, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.Port, "port", "p", 0, "web UI port (default from config, 8080)")
	cmd.Flags().BoolVar(&opts.NoConnect, "no-connect", false, "start disconnected; connect from the UI")

	return cmd
}

func runClient(cmd *cobra.Command, opts *RunOptions) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	if opts.Port > 0 {
		cfg.Port = opts.Port
	}
	if err := ensurePortAvailable(cfg.Port); err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("port %d unavailable", cfg.Port), err)
	}

	st, err := newStack(cfg, keySource(cfg, true))
	if err != nil {
		return err
	}
	log := logrus.WithField("component", "cli")

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	st.checkChain(ctx)

	session := chat.NewSession(ctx, st.wallet, st.engine, st.composer, st.presence, st.resolver)
	defer session.Close()

	if !opts.NoConnect {
		if id, err := session.Connect(); err != nil {
			log.WithError(err).Warn("could not connect identity; use Connect in the UI")
		} else {
			log.WithField("account", id.Address()).Info("identity connected")
		}
	}

	server, err := web.NewServer(web.Config{
		Port:    cfg.Port,
		Version: Version,
		Feed:    session,
		API:     api.NewService(session, st.engine, opts.Ring, Version),
		Docs:    docs.Bundled(),
		Logger:  opts.Ring,
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to initialize web server", err)
	}

	serverErrors := server.Start(ctx)
	select {
	case err := <-serverErrors:
		if err != nil {
			return WrapExitError(ExitFailure, "web server exited", err)
		}
	case <-ctx.Done():
		log.Info("shutting down")
		<-serverErrors
	}
	return nil
}

// signalContext is cancelled on SIGINT or SIGTERM, or when parent ends.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func ensurePortAvailable(port int) error {
	addr := fmt.Sprintf(":%d", port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return listener.Close()
}
