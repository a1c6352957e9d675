package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"hoodhub.chat/hub/internal/devnet"
	"hoodhub.chat/hub/internal/ledger"
)

// DevnetOptions holds flags for the devnet command.
type DevnetOptions struct {
	*RootOptions
	Listen     string
	Database   string
	Register   []string
	MaxBackups int
}

// NewDevnetCommand creates the devnet command.
func NewDevnetCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DevnetOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "devnet",
		Short: "Run a local development ledger node",
		Long: `Serve the message ledger JSON-RPC methods from a SQLite database.
With HOODHUB_DEVNET_BLOCK_INTERVAL set, transactions stay pending until the
next block.

Example:
  hoodhub devnet --listen :8545 --register 0xabc...=alice.hood`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDevnet(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Listen, "listen", "l", ":8545", "address to serve JSON-RPC on")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default from config)")
	cmd.Flags().StringArrayVar(&opts.Register, "register", nil, "seed a name as address=name[=avatar-url] (repeatable)")
	cmd.Flags().IntVar(&opts.MaxBackups, "max-backups", 5, "backups kept on shutdown")

	return cmd
}

func runDevnet(cmd *cobra.Command, opts *DevnetOptions) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	log := logrus.WithField("component", "devnet")

	dbPath := cfg.DevnetDB
	if opts.Database != "" {
		dbPath = opts.Database
	}
	store, err := devnet.NewStore(dbPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open devnet database", err)
	}
	defer func() {
		if path, err := store.BackupCurrent(opts.MaxBackups); err != nil {
			log.WithError(err).Warn("backup failed")
		} else if path != "" {
			log.WithField("path", path).Info("database backed up")
		}
		if err := store.Close(); err != nil {
			log.WithError(err).Error("error closing database")
		}
	}()

	for _, reg := range opts.Register {
		addr, name, avatar, err := parseRegistration(reg)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid --register", err)
		}
		if err := store.RegisterName(addr, name, avatar); err != nil {
			return WrapExitError(ExitCommandError, "failed to register name", err)
		}
	}

	ledgerAddr := cfg.LedgerAddress
	if !ledgerAddr.Valid() {
		ledgerAddr = devnet.DevLedgerAddress
	}
	node := devnet.NewNode(store, ledgerAddr,
		devnet.WithChainID(cfg.ChainID),
		devnet.WithBlockInterval(cfg.DevnetBlock.Std()),
	)

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()
	go node.Run(ctx)

	srv := &http.Server{Addr: opts.Listen, Handler: node.Handler(), ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	log.WithFields(logrus.Fields{"listen": opts.Listen, "ledger": ledgerAddr, "chain": cfg.ChainID}).Info("devnet serving")

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return WrapExitError(ExitCommandError, "devnet server exited", err)
		}
	case <-ctx.Done():
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("shutdown did not complete cleanly")
		}
	}
	return nil
}

// parseRegistration splits "address=name[=avatar]".
func parseRegistration(reg string) (ledger.Address, string, string, error) {
	parts := strings.SplitN(reg, "=", 3)
	if len(parts) < 2 || parts[1] == "" {
		return "", "", "", fmt.Errorf("%q: want address=name[=avatar-url]", reg)
	}
	addr := ledger.Address(strings.TrimSpace(parts[0]))
	if !addr.Valid() {
		return "", "", "", fmt.Errorf("%q: invalid address", reg)
	}
	var avatar string
	if len(parts) == 3 {
		avatar = parts[2]
	}
	return addr, strings.TrimSpace(parts[1]), avatar, nil
}
