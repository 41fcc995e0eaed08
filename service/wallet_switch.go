package service

import (
	"context"
	"time"

	"stakemesh/wallet-client/events"
	"stakemesh/wallet-client/models"

	log "github.com/sirupsen/logrus"
)

// WalletSwitchCoordinator tears down an active session and re-arms the
// session machine when the underlying wallet identity changes. The reset
// is always total: session, balances, pending settlements, and history go
// together, never piecemeal, so no reader can observe old-identity
// balances under a new identity.
type WalletSwitchCoordinator struct {
	sessions   *SessionManager
	reconciler BalanceReconciler
	store      PreferenceStore
	publisher  EventPublisher

	// graceWindow keeps the disconnecting guard raised long enough for
	// any in-flight auth continuation to observe it and no-op.
	graceWindow time.Duration
}

// NewWalletSwitchCoordinator creates a coordinator.
func NewWalletSwitchCoordinator(
	sessions *SessionManager,
	reconciler BalanceReconciler,
	store PreferenceStore,
	publisher EventPublisher,
) *WalletSwitchCoordinator {
	return &WalletSwitchCoordinator{
		sessions:    sessions,
		reconciler:  reconciler,
		store:       store,
		publisher:   publisher,
		graceWindow: 2 * time.Second,
	}
}

// SwitchWallet records the expected target identity (when the user picked
// one), fully resets local state, and leaves the session machine ready
// for the normal BeginAuth path to pick up the new identity.
func (c *WalletSwitchCoordinator) SwitchWallet(ctx context.Context, target models.Identity) error {
	if target != "" {
		target = models.NormalizeIdentity(target.String())
		if target == "" {
			return ErrSwitchTargetMismatch
		}
		if err := c.store.SaveSwitchTarget(target); err != nil {
			return err
		}
	}

	log.WithField("target", target).Info("Switching wallet")

	c.sessions.invalidate()
	if err := c.store.ClearSession(); err != nil {
		log.WithError(err).Warn("Failed to clear stored session on switch")
	}
	c.reconciler.Reset()
	return nil
}

// CompleteSwitch runs once the wallet layer reports the new identity. A
// recorded target that does not match aborts without authenticating.
func (c *WalletSwitchCoordinator) CompleteSwitch(ctx context.Context, identity models.Identity) (*models.Session, error) {
	identity = models.NormalizeIdentity(identity.String())

	target, err := c.store.LoadSwitchTarget()
	if err == nil && target != "" {
		if cerr := c.store.ClearSwitchTarget(); cerr != nil {
			log.WithError(cerr).Warn("Failed to clear switch target")
		}
		if target != identity {
			log.WithFields(log.Fields{
				"target":   target,
				"identity": identity,
			}).Warn("Wallet switch produced unexpected identity")
			return nil, ErrSwitchTargetMismatch
		}
	}

	return c.sessions.BeginAuth(ctx, identity, AuthOptions{WalletSwitch: true})
}

// Disconnect logs out. A disconnecting guard suppresses auth effects for
// a grace window so an in-flight continuation cannot re-authenticate
// right after the storage was cleared.
func (c *WalletSwitchCoordinator) Disconnect(ctx context.Context) error {
	identity := c.sessions.Identity()
	log.WithField("identity", identity).Info("Disconnecting wallet")

	c.sessions.setDisconnecting(true)
	c.sessions.invalidate()

	if err := c.store.ClearAll(); err != nil {
		log.WithError(err).Warn("Failed to clear persisted state on disconnect")
	}
	c.reconciler.Reset()

	if err := c.publisher.Publish(events.SessionChangedEvent{
		Identity:      identity,
		Authenticated: false,
	}); err != nil {
		log.WithError(err).Warn("Failed to publish logout event")
	}

	time.AfterFunc(c.graceWindow, func() {
		c.sessions.setDisconnecting(false)
	})
	return nil
}
