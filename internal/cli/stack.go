package cli

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"hoodhub.chat/hub/internal/composer"
	"hoodhub.chat/hub/internal/config"
	"hoodhub.chat/hub/internal/identity"
	"hoodhub.chat/hub/internal/ledger"
	"hoodhub.chat/hub/internal/names"
	"hoodhub.chat/hub/internal/presence"
	"hoodhub.chat/hub/internal/syncer"
)

// stack is the client wired from configuration.
type stack struct {
	cfg      *config.Config
	client   *ledger.Client
	resolver *names.Resolver
	engine   *syncer.Engine
	composer *composer.Composer
	presence *presence.Tracker
	wallet   *identity.Wallet
}

// newStack validates cfg and builds every client component. Nothing is
// started and no identity is connected.
func newStack(cfg *config.Config, source identity.KeySource) (*stack, error) {
	if err := cfg.Validate(); err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	client := ledger.NewClient(cfg.RPCURL, cfg.LedgerAddress)
	resolver := names.NewResolver(names.NewRPCLookup(client), names.WithTimeout(cfg.LookupTimeout.Std()))
	engine := syncer.New(client, resolver, syncer.WithInterval(cfg.PollInterval.Std()))
	wallet := identity.NewWallet(source)

	return &stack{
		cfg:      cfg,
		client:   client,
		resolver: resolver,
		engine:   engine,
		composer: composer.New(client, wallet, engine, composer.WithConfirmTimeout(cfg.ConfirmTimeout.Std())),
		presence: presence.New(presence.WithTTL(cfg.TypingTTL.Std())),
		wallet:   wallet,
	}, nil
}

// checkChain warns when the endpoint serves a different chain than
// configured. An unreachable endpoint is only logged; polling retries.
func (s *stack) checkChain(ctx context.Context) {
	log := logrus.WithField("component", "cli")
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	id, err := s.client.ChainID(ctx)
	if err != nil {
		log.WithError(err).Warn("could not query chain id")
		return
	}
	if id != s.cfg.ChainID {
		log.WithFields(logrus.Fields{"expected": s.cfg.ChainID, "got": id}).Warn("endpoint serves a different chain")
	}
}

// keySource yields the configured signing identity: PRIVATE_KEY when set,
// otherwise the key file, created on first use when create is true.
func keySource(cfg *config.Config, create bool) identity.KeySource {
	return func() (*identity.Identity, error) {
		if cfg.PrivateKey != "" {
			return identity.FromSeedHex(cfg.PrivateKey)
		}
		if create {
			return identity.LoadOrCreateIdentity(cfg.KeyFile)
		}
		return identity.LoadIdentity(cfg.KeyFile)
	}
}
