package service

import (
	"errors"
	"fmt"
	"time"
)

// Failure taxonomy for the auth and balance paths. Auth and balance-write
// failures are recovered at the action boundary and surfaced as one of
// these; read-path failures degrade silently to stale data instead.
var (
	// ErrUserRejected is a normal, non-fatal outcome: the user declined
	// the signature request. No escalation, silent retry allowed.
	ErrUserRejected = errors.New("user rejected the signature request")

	// ErrVerificationFailed aborts the current attempt. Any pre-existing
	// valid session is preserved.
	ErrVerificationFailed = errors.New("signature verification failed")

	// ErrTransientNetwork marks retryable transport failures; callers may
	// offer a manual retry action.
	ErrTransientNetwork = errors.New("transient network error")

	// ErrAttemptThrottled rejects attempts inside the client-side
	// minimum-interval window between auth attempts.
	ErrAttemptThrottled = errors.New("auth attempt throttled")

	// ErrAuthInFlight rejects a second concurrent attempt for the same
	// identity.
	ErrAuthInFlight = errors.New("authentication already in flight")

	// ErrStaleEpoch marks a continuation that resumed after a wallet
	// switch or logout invalidated its identity. The result is discarded;
	// nothing is surfaced to the user.
	ErrStaleEpoch = errors.New("stale identity epoch")

	// ErrCorrectionInFlight is not an error condition: a corrective write
	// was silently deferred because one is already running.
	ErrCorrectionInFlight = errors.New("balance correction already in flight")

	// ErrSwitchTargetMismatch aborts a wallet switch when the identity
	// that appears is not the requested target.
	ErrSwitchTargetMismatch = errors.New("connected wallet does not match switch target")

	// ErrNoConnectIntent rejects auth attempts that were not explicitly
	// requested by the user and are not part of a wallet-switch flow.
	ErrNoConnectIntent = errors.New("no explicit connect intent")

	// ErrNotAuthenticated guards actions that require a session.
	ErrNotAuthenticated = errors.New("not authenticated")
)

// RateLimitedError is returned while the persisted cooldown is active.
// It is surfaced prominently with the remaining wait.
type RateLimitedError struct {
	Until time.Time
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited until %s", e.Until.Format(time.RFC3339))
}

// NetworkMismatchError is actionable: the wallet sits on the wrong chain
// and a switch should be offered.
type NetworkMismatchError struct {
	Have int64
	Want int64
}

func (e *NetworkMismatchError) Error() string {
	return fmt.Sprintf("wallet is on chain %d, expected %d", e.Have, e.Want)
}

// InsufficientBalanceError is raised by the local precondition check
// before any network call is made.
type InsufficientBalanceError struct {
	Have float64
	Need float64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: have %.2f, need %.2f", e.Have, e.Need)
}
