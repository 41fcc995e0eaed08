package service

import (
	"context"
	"time"

	"stakemesh/wallet-client/events"
	"stakemesh/wallet-client/models"
)

// BackendClient is the boundary to the authoritative ledger service.
type BackendClient interface {
	// Nonce requests a single-use challenge message for the identity. The
	// referral code is forwarded when one was captured earlier.
	Nonce(ctx context.Context, identity models.Identity, referralCode string) (string, error)

	// Verify submits the signed challenge and returns the session token
	// and the server-authoritative profile.
	Verify(ctx context.Context, identity models.Identity, signature string) (string, *models.UserProfile, error)

	// Profile fetches the current user profile for the bearer token.
	Profile(ctx context.Context, token string) (*models.UserProfile, error)

	// History returns one newest-first page of game history.
	History(ctx context.Context, token string, page, limit int) ([]*models.GameHistoryItem, *models.Pagination, error)

	// SyncDeposit issues a corrective ledger write pulling the backend
	// into agreement with the chain. The idempotency key dedupes retries.
	SyncDeposit(ctx context.Context, token string, amount float64, idempotencyKey string) error

	// Withdraw records a withdrawal against the named sub-ledger,
	// optionally referencing the on-chain transaction that moved funds.
	Withdraw(ctx context.Context, token string, walletType string, amount float64, onChainTx string) error
}

// ChainClient is the boundary to the settlement contract and the stable
// token. Writes are signed with the active wallet.
type ChainClient interface {
	ChainID(ctx context.Context) (int64, error)

	UserBalances(ctx context.Context, identity models.Identity) (*models.ChainBalances, error)
	UnclaimedRounds(ctx context.Context, identity models.Identity) ([]uint64, error)
	IsRegistered(ctx context.Context, identity models.Identity) (bool, error)

	Register(ctx context.Context) (string, error)
	Deposit(ctx context.Context, amount float64) (string, error)
	Withdraw(ctx context.Context, amount float64) (string, error)
	ClaimWin(ctx context.Context, roundID uint64) (string, error)
	ClaimLoss(ctx context.Context, roundID uint64) (string, error)
	PlaceBet(ctx context.Context, roundID uint64, prediction int, amount float64) (string, error)

	Allowance(ctx context.Context, identity models.Identity) (float64, error)
	Approve(ctx context.Context, amount float64) (string, error)
}

// WalletSigner is the boundary to the self-custodied wallet identity.
type WalletSigner interface {
	// Address returns the wallet's identity.
	Address() models.Identity

	// SignMessage signs a challenge message. Returns ErrUserRejected when
	// the user declines.
	SignMessage(ctx context.Context, message string) (string, error)

	// ChainID returns the chain the wallet currently acknowledges.
	ChainID() int64

	// SwitchChain asks the wallet to move to the expected chain.
	SwitchChain(ctx context.Context, chainID int64) error
}

// PreferenceStore is the single durable slot set for client-side state.
// Everything it holds is keyed under one fixed namespace and cleared in
// full on logout.
type PreferenceStore interface {
	SaveSession(session *models.Session) error
	LoadSession() (*models.Session, error)
	ClearSession() error

	SaveCooldownUntil(until time.Time) error
	LoadCooldownUntil() (time.Time, error)
	SaveLastAttemptAt(at time.Time) error
	LoadLastAttemptAt() (time.Time, error)

	SaveSwitchTarget(identity models.Identity) error
	LoadSwitchTarget() (models.Identity, error)
	ClearSwitchTarget() error

	RecordRecentIdentity(identity models.Identity) error
	RecentIdentities() ([]models.Identity, error)

	SaveGameMode(mode string) error
	GameMode() (string, error)

	ClearAll() error
}

// EventPublisher broadcasts typed events to the rest of the system.
type EventPublisher interface {
	Publish(event events.Event) error
}

// SessionService owns the authenticated/unauthenticated lifecycle and is
// the only writer of the session.
type SessionService interface {
	// BeginAuth drives the challenge/sign/verify protocol for the
	// identity, honoring the reuse check, throttle, and cooldown guards.
	BeginAuth(ctx context.Context, identity models.Identity, opts AuthOptions) (*models.Session, error)

	// SetConnectIntent records that the user explicitly requested a
	// connection. BeginAuth refuses non-switch attempts without it.
	SetConnectIntent(intent bool)

	Session() *models.Session
	State() models.SessionState
	Identity() models.Identity
	Role() string
}

// BalanceReconciler owns the merged balance view and is its only writer.
type BalanceReconciler interface {
	// SetSession scopes the reconciler to an authenticated identity.
	SetSession(identity models.Identity, token string)

	// Reset fully clears balances, pending settlements, and history.
	Reset()

	// Reconcile runs one merge pass over backend and chain balances.
	Reconcile(ctx context.Context) error

	// ApplyPushValue overlays a single pushed sub-ledger value on the
	// merged set. Field-level last-writer-wins; idempotent.
	ApplyPushValue(identity models.Identity, field string, value float64)

	Balances() models.RealBalanceSet
	Profile() *models.UserProfile
	TotalProfit() float64
	PendingSettlements() []uint64

	ClaimPending(ctx context.Context) error
	Deposit(ctx context.Context, amount float64) (string, error)
	Withdraw(ctx context.Context, walletType string, amount float64) (string, error)
	PlaceBet(ctx context.Context, roundID uint64, prediction int, amount float64) (*models.BetResult, error)

	History() []*models.GameHistoryItem
	LoadMoreHistory(ctx context.Context) (bool, error)
	PrependHistory(item *models.GameHistoryItem)
}
