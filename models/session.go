package models

// Session is the authenticated client session. It is created on a
// successful verify, owned exclusively by the session service, and
// destroyed on logout, identity mismatch, or unrecoverable auth failure.
// Only one session exists client-side at a time.
type Session struct {
	Token    string       `json:"token"`
	Identity Identity     `json:"identity"`
	User     *UserProfile `json:"user"`
}

// SessionState is the lifecycle state of the session state machine.
type SessionState string

const (
	StateDisconnected       SessionState = "disconnected"
	StateChallengeRequested SessionState = "challenge_requested"
	StateAwaitingSignature  SessionState = "awaiting_signature"
	StateVerifying          SessionState = "verifying"
	StateAuthenticated      SessionState = "authenticated"
	StateCooldown           SessionState = "cooldown"
)

// UserProfile is the server-authoritative user record. The client never
// computes these fields itself; it only derives TotalUnified and profit
// figures during balance reconciliation.
type UserProfile struct {
	ID              int64          `json:"id"`
	Identity        Identity       `json:"identity"`
	Role            string         `json:"role"`
	ActivationTier  int            `json:"activationTier"`
	PracticeBalance float64        `json:"practiceBalance"`
	RealBalances    RealBalanceSet `json:"realBalances"`
	TotalDeposited  float64        `json:"totalDeposited"`
	Registered      bool           `json:"registered"`
}
