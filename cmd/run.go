package cmd

import (
	"context"
	"errors"
	"fmt"

	"stakemesh/wallet-client/application"
	"stakemesh/wallet-client/config"
	"stakemesh/wallet-client/events"
	"stakemesh/wallet-client/infrastructure"
	"stakemesh/wallet-client/service"

	log "github.com/sirupsen/logrus"
)

// Run initializes and starts the wallet client engine.
func Run(ctx context.Context) error {
	log.Info("Starting wallet client...")

	// Load configuration
	cfg := config.Get()

	// Persisted client-side slots
	store, err := infrastructure.NewPrefStore(cfg.StateDir)
	if err != nil {
		return fmt.Errorf("failed to open preference store: %w", err)
	}

	// Local wallet
	signer, err := infrastructure.NewKeystoreSigner(cfg.KeystorePath, cfg.ChainID)
	if err != nil {
		return fmt.Errorf("failed to load wallet: %w", err)
	}
	log.WithField("identity", signer.Address()).Info("Wallet loaded")

	// Chain client
	chain, err := infrastructure.NewChainClient(cfg.ChainRPCURL, cfg.ChainID, cfg.SettlementContract, cfg.TokenContract, signer)
	if err != nil {
		return fmt.Errorf("failed to connect to chain: %w", err)
	}
	defer chain.Close()

	// Backend client
	backend := infrastructure.NewBackendClient(cfg.BackendBaseURL)

	// In-process event bus
	bus := events.NewBus()

	// Services
	governor := service.NewAuthGovernor(store, cfg.AuthMinInterval, cfg.CooldownWindow)
	sessions := service.NewSessionManager(backend, signer, store, governor, bus, cfg.ChainID, cfg.ReferralCode)
	reconciler := service.NewReconciler(backend, chain, bus, cfg.CorrectionThreshold, cfg.CorrectionMinInterval, cfg.ClaimDelay)
	switcher := service.NewWalletSwitchCoordinator(sessions, reconciler, store, bus)
	_ = switcher // driven by the interactive surface alongside the session manager

	// The reconciler surfaces unclaimed rounds without acting on them;
	// the daemon, as its own user agent, claims them explicitly here.
	bus.Subscribe(events.EventTypePendingSettlements, func(eventCtx context.Context, event events.Event) {
		if err := reconciler.ClaimPending(eventCtx); err != nil {
			log.WithError(err).Warn("Settlement claims incomplete, rounds stay pending")
		}
	})

	// Push channel and sync bridge
	natsClient := infrastructure.NewNATSClient(cfg.NATSServers)
	defer natsClient.Close()
	pushSubscriber := infrastructure.NewPushSubscriber(natsClient)
	bridge := application.NewSyncBridge(natsClient, reconciler, sessions)
	if err := application.RegisterPushSubscriptions(pushSubscriber, bus, bridge); err != nil {
		return fmt.Errorf("failed to register push subscriptions: %w", err)
	}

	// Reconcile poll loop
	worker := application.NewReconcileWorker(reconciler, cfg.PollInterval)
	stopWorker, err := worker.Start(ctx)
	if err != nil {
		return fmt.Errorf("failed to start reconcile worker: %w", err)
	}
	defer stopWorker()

	// Restore a persisted session, or run the handshake for the local
	// wallet identity. The daemon owns its key, so connect intent is
	// implicit here; interactive surfaces set it per user action.
	if restored := sessions.Restore(); restored == nil {
		sessions.SetConnectIntent(true)
		if _, err := sessions.BeginAuth(ctx, signer.Address(), service.AuthOptions{}); err != nil {
			var rateLimited *service.RateLimitedError
			switch {
			case errors.As(err, &rateLimited):
				log.WithField("until", rateLimited.Until).Warn("Authentication rate limited")
			case errors.Is(err, service.ErrUserRejected):
				log.Info("Signature request declined")
			default:
				log.WithError(err).Error("Authentication failed")
			}
		}
	}

	// Wait for context cancellation
	log.WithField("environment", cfg.Environment).Info("Wallet client is running")
	<-ctx.Done()

	// The deferred cleanups stop the worker and close the NATS and chain
	// connections on the way out.
	log.Info("Shutting down wallet client...")
	return nil
}
