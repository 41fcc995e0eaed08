package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"stakemesh/wallet-client/events"
	"stakemesh/wallet-client/models"

	log "github.com/sirupsen/logrus"
)

// AuthOptions tunes a single BeginAuth call.
type AuthOptions struct {
	// Fresh forces a full re-verify even when a stored session already
	// binds this identity, refreshing role and permissions.
	Fresh bool

	// WalletSwitch marks the attempt as part of a wallet-switch flow,
	// which does not require a prior explicit connect intent.
	WalletSwitch bool
}

// SessionManager is the session state machine. It owns the session and
// is its only writer; everything else reads through accessors. All state
// transitions happen under one mutex, and every network suspension is
// followed by an epoch re-check so continuations from a superseded
// identity discard their results instead of applying them.
type SessionManager struct {
	backend   BackendClient
	signer    WalletSigner
	store     PreferenceStore
	governor  *AuthGovernor
	publisher EventPublisher

	expectedChainID int64
	referralCode    string

	mu            sync.Mutex
	epoch         uint64
	state         models.SessionState
	session       *models.Session
	intent        bool
	disconnecting bool
	authInFlight  bool
}

// NewSessionManager creates the session state machine.
func NewSessionManager(
	backend BackendClient,
	signer WalletSigner,
	store PreferenceStore,
	governor *AuthGovernor,
	publisher EventPublisher,
	expectedChainID int64,
	referralCode string,
) *SessionManager {
	return &SessionManager{
		backend:         backend,
		signer:          signer,
		store:           store,
		governor:        governor,
		publisher:       publisher,
		expectedChainID: expectedChainID,
		referralCode:    referralCode,
		state:           models.StateDisconnected,
	}
}

// SetConnectIntent records that the user explicitly requested a
// connection. Non-switch auth attempts are refused without it.
func (s *SessionManager) SetConnectIntent(intent bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.intent = intent
}

// Restore loads a persisted session, if any, without re-signing. Called
// once at startup so a reload does not force a new handshake.
func (s *SessionManager) Restore() *models.Session {
	stored, err := s.store.LoadSession()
	if err != nil || stored == nil {
		return nil
	}

	s.mu.Lock()
	s.session = stored
	s.state = models.StateAuthenticated
	s.mu.Unlock()

	log.WithField("identity", stored.Identity).Info("Restored persisted session")
	s.broadcastSession(stored)
	return stored
}

// BeginAuth drives the challenge -> sign -> verify protocol for the
// identity. User rejection and network mismatch are recoverable and
// never discard an existing valid session.
func (s *SessionManager) BeginAuth(ctx context.Context, identity models.Identity, opts AuthOptions) (*models.Session, error) {
	identity = models.NormalizeIdentity(identity.String())
	if identity == "" {
		return nil, fmt.Errorf("invalid identity")
	}

	s.mu.Lock()
	if s.disconnecting {
		s.mu.Unlock()
		return nil, ErrStaleEpoch
	}
	if !opts.WalletSwitch && !s.intent {
		s.mu.Unlock()
		return nil, ErrNoConnectIntent
	}
	if s.authInFlight {
		s.mu.Unlock()
		return nil, ErrAuthInFlight
	}

	now := time.Now()
	if err := s.governor.Allow(now); err != nil {
		var rateLimited *RateLimitedError
		if errors.As(err, &rateLimited) {
			s.state = models.StateCooldown
		}
		s.mu.Unlock()
		return nil, err
	}

	// Reuse check: a stored session bound to this identity short-circuits
	// to authenticated without re-signing, unless a fresh connect was
	// explicitly requested.
	if !opts.Fresh {
		if stored, err := s.store.LoadSession(); err == nil && stored != nil && stored.Identity == identity {
			s.session = stored
			s.state = models.StateAuthenticated
			s.mu.Unlock()

			log.WithField("identity", identity).Info("Reusing stored session")
			s.broadcastSession(stored)
			return stored, nil
		}
	}

	epoch := s.epoch
	s.authInFlight = true
	s.state = models.StateChallengeRequested
	s.mu.Unlock()

	s.governor.RecordAttempt(now)
	defer s.clearInFlight()

	session, err := s.runHandshake(ctx, identity, epoch)
	if err != nil {
		return nil, err
	}
	return session, nil
}

func (s *SessionManager) runHandshake(ctx context.Context, identity models.Identity, epoch uint64) (*models.Session, error) {
	// Step 2: challenge.
	message, err := s.backend.Nonce(ctx, identity, s.referralCode)
	if err != nil {
		s.setState(models.StateDisconnected)
		return nil, fmt.Errorf("handshake failed: %w", err)
	}
	if s.stale(epoch) {
		return nil, ErrStaleEpoch
	}

	// Step 3: network assertion. Failure aborts the attempt without
	// discarding any pre-existing valid session.
	if have := s.signer.ChainID(); have != s.expectedChainID {
		if err := s.signer.SwitchChain(ctx, s.expectedChainID); err != nil {
			s.restorePriorState()
			return nil, &NetworkMismatchError{Have: have, Want: s.expectedChainID}
		}
		if s.stale(epoch) {
			return nil, ErrStaleEpoch
		}
	}

	// Step 4: signature. Rejection is a normal outcome: clear the intent
	// flag, return to the prior state, keep any existing session.
	s.setState(models.StateAwaitingSignature)
	signature, err := s.signer.SignMessage(ctx, message)
	if err != nil {
		if errors.Is(err, ErrUserRejected) {
			s.mu.Lock()
			s.intent = false
			s.mu.Unlock()
			s.restorePriorState()
			return nil, ErrUserRejected
		}
		s.restorePriorState()
		return nil, fmt.Errorf("%w: %v", ErrTransientNetwork, err)
	}
	if s.stale(epoch) {
		return nil, ErrStaleEpoch
	}

	// Step 5: verify.
	s.setState(models.StateVerifying)
	token, user, err := s.backend.Verify(ctx, identity, signature)
	if err != nil {
		var rateLimited *RateLimitedError
		if errors.As(err, &rateLimited) {
			until := s.governor.RecordRateLimit(time.Now())
			s.setState(models.StateCooldown)
			return nil, &RateLimitedError{Until: until}
		}
		s.restorePriorState()
		if errors.Is(err, ErrTransientNetwork) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}

	session := &models.Session{Token: token, Identity: identity, User: user}

	s.mu.Lock()
	if s.epoch != epoch || s.disconnecting {
		s.mu.Unlock()
		return nil, ErrStaleEpoch
	}
	s.session = session
	s.state = models.StateAuthenticated
	s.mu.Unlock()

	if err := s.store.SaveSession(session); err != nil {
		log.WithError(err).Warn("Failed to persist session")
	}
	if err := s.store.RecordRecentIdentity(identity); err != nil {
		log.WithError(err).Warn("Failed to record recent identity")
	}
	s.governor.ClearCooldown()

	log.WithFields(log.Fields{
		"identity": identity,
		"role":     user.Role,
	}).Info("Authenticated")

	s.broadcastSession(session)
	return session, nil
}

// Session returns the current session, nil when disconnected.
func (s *SessionManager) Session() *models.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// State returns the current lifecycle state.
func (s *SessionManager) State() models.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Identity returns the active identity, empty when disconnected.
func (s *SessionManager) Identity() models.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return ""
	}
	return s.session.Identity
}

// Role returns the resolved role of the authenticated user. Routing on
// the role is the consuming surface's concern, not this machine's.
func (s *SessionManager) Role() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil || s.session.User == nil {
		return ""
	}
	return s.session.User.Role
}

// invalidate bumps the epoch and clears the in-memory session. Pending
// continuations from the previous identity observe the epoch change and
// no-op. Called by the wallet switch coordinator.
func (s *SessionManager) invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epoch++
	s.session = nil
	s.state = models.StateDisconnected
	s.authInFlight = false
}

// setDisconnecting raises or releases the guard that suppresses all
// auto-trigger auth effects during a logout grace window.
func (s *SessionManager) setDisconnecting(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disconnecting = v
	if v {
		s.intent = false
	}
}

func (s *SessionManager) stale(epoch uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch != epoch || s.disconnecting
}

func (s *SessionManager) setState(state models.SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

// restorePriorState returns the machine to authenticated when a valid
// session survived the failed attempt, disconnected otherwise.
func (s *SessionManager) restorePriorState() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session != nil {
		s.state = models.StateAuthenticated
	} else {
		s.state = models.StateDisconnected
	}
}

func (s *SessionManager) clearInFlight() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authInFlight = false
}

func (s *SessionManager) broadcastSession(session *models.Session) {
	ev := events.SessionChangedEvent{
		Identity:      session.Identity,
		Token:         session.Token,
		Authenticated: true,
	}
	if session.User != nil {
		ev.Role = session.User.Role
	}
	if err := s.publisher.Publish(ev); err != nil {
		log.WithError(err).Warn("Failed to publish session change")
	}
}
