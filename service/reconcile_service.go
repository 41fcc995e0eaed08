package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"stakemesh/wallet-client/events"
	"stakemesh/wallet-client/models"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

const historyPageSize = 20

// Reconciler merges backend-reported balances with live chain reads into
// one authoritative view per authenticated identity, and schedules
// corrective backend writes when the chain is ahead. It is the only
// writer of the merged balance set; all mutation goes through its action
// methods.
type Reconciler struct {
	backend   BackendClient
	chain     ChainClient
	publisher EventPublisher

	correctionThreshold   float64
	correctionMinInterval time.Duration
	claimDelay            time.Duration

	mu          sync.Mutex
	identity    models.Identity
	token       string
	profile     *models.UserProfile
	balances    models.RealBalanceSet
	lastChain   *models.ChainBalances
	totalProfit float64
	pending     []uint64

	correctionInFlight bool
	lastCorrectionAt   time.Time
	claimsInFlight     bool

	history     []*models.GameHistoryItem
	historyPage int
	historyDone bool
}

// NewReconciler creates a balance reconciliation engine.
func NewReconciler(
	backend BackendClient,
	chain ChainClient,
	publisher EventPublisher,
	correctionThreshold float64,
	correctionMinInterval time.Duration,
	claimDelay time.Duration,
) *Reconciler {
	return &Reconciler{
		backend:               backend,
		chain:                 chain,
		publisher:             publisher,
		correctionThreshold:   correctionThreshold,
		correctionMinInterval: correctionMinInterval,
		claimDelay:            claimDelay,
	}
}

// SetSession scopes the reconciler to an authenticated identity. Any
// state from a previous identity is dropped first.
func (r *Reconciler) SetSession(identity models.Identity, token string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.identity != identity {
		r.resetLocked()
	}
	r.identity = identity
	r.token = token
}

// Reset fully clears balances, pending settlements, and history. A
// half-reset that mixes old balances with a new identity is the bug
// class this engine exists to prevent, so everything goes at once.
func (r *Reconciler) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resetLocked()
	r.identity = ""
	r.token = ""
}

func (r *Reconciler) resetLocked() {
	r.profile = nil
	r.balances = models.RealBalanceSet{}
	r.lastChain = nil
	r.totalProfit = 0
	r.pending = nil
	r.correctionInFlight = false
	r.lastCorrectionAt = time.Time{}
	r.claimsInFlight = false
	r.history = nil
	r.historyPage = 0
	r.historyDone = false
}

// Reconcile runs one merge pass: re-read chain balances, re-fetch the
// backend profile, merge, and schedule a corrective write when the chain
// is ahead by at least the threshold. Read failures on either source
// degrade to the stale value instead of clearing state.
func (r *Reconciler) Reconcile(ctx context.Context) error {
	r.mu.Lock()
	identity, token := r.identity, r.token
	r.mu.Unlock()
	if identity == "" {
		return nil
	}

	chainBal, chainErr := r.chain.UserBalances(ctx, identity)
	if chainErr != nil {
		log.WithError(chainErr).Debug("Chain balance read failed, keeping stale value")
	}
	profile, profErr := r.backend.Profile(ctx, token)
	if profErr != nil {
		log.WithError(profErr).Debug("Profile refresh failed, keeping stale value")
	}
	if chainErr != nil && profErr != nil {
		return fmt.Errorf("reconcile pass failed: %w", profErr)
	}

	r.mu.Lock()
	if r.identity != identity {
		r.mu.Unlock()
		return ErrStaleEpoch
	}
	if profile != nil {
		r.profile = profile
	}
	if chainBal != nil {
		r.lastChain = chainBal
	}
	r.mergeLocked()

	needCorrection := false
	var diff float64
	if profile != nil && chainBal != nil {
		diff = chainBal.Game - profile.RealBalances.Game
		if diff >= r.correctionThreshold {
			if r.correctionInFlight || time.Since(r.lastCorrectionAt) < r.correctionMinInterval {
				log.WithField("diff", diff).Debug("Correction deferred, one already ran recently or is in flight")
			} else {
				needCorrection = true
				r.correctionInFlight = true
				r.lastCorrectionAt = time.Now()
			}
		} else if diff <= -r.correctionThreshold {
			// Backend ahead of chain: the max rule already prefers the
			// backend value, no reverse correction is issued.
			log.WithField("diff", diff).Debug("Backend ledger ahead of chain")
		}
	}
	r.mu.Unlock()

	if needCorrection {
		r.runCorrection(ctx, identity, token, diff)
	}

	r.scanPending(ctx, identity)
	return nil
}

// mergeLocked recomputes the merged set and derived profit. Caller holds
// the mutex.
func (r *Reconciler) mergeLocked() {
	if r.profile == nil {
		return
	}
	r.balances = MergeBalances(r.profile.RealBalances, r.lastChain)
	r.totalProfit = r.balances.TotalUnified - r.profile.TotalDeposited
}

// runCorrection issues exactly one sync-deposit for the difference, then
// refreshes the profile so the merged view reflects the corrected ledger.
func (r *Reconciler) runCorrection(ctx context.Context, identity models.Identity, token string, diff float64) {
	defer func() {
		r.mu.Lock()
		r.correctionInFlight = false
		r.mu.Unlock()
	}()

	key := uuid.New().String()
	log.WithFields(log.Fields{
		"identity": identity,
		"amount":   diff,
		"key":      key,
	}).Info("Issuing balance correction")

	if err := r.backend.SyncDeposit(ctx, token, diff, key); err != nil {
		log.WithError(err).Error("Balance correction failed")
		return
	}

	profile, err := r.backend.Profile(ctx, token)
	if err != nil {
		log.WithError(err).Debug("Profile refresh after correction failed")
		return
	}

	r.mu.Lock()
	if r.identity == identity {
		r.profile = profile
		r.mergeLocked()
	}
	r.mu.Unlock()
}

// scanPending reads the resolved-but-unclaimed rounds for the identity
// and surfaces them without auto-claiming.
func (r *Reconciler) scanPending(ctx context.Context, identity models.Identity) {
	rounds, err := r.chain.UnclaimedRounds(ctx, identity)
	if err != nil {
		log.WithError(err).Debug("Unclaimed round scan failed")
		return
	}

	r.mu.Lock()
	if r.identity != identity {
		r.mu.Unlock()
		return
	}
	r.pending = rounds
	r.mu.Unlock()

	if len(rounds) > 0 {
		if err := r.publisher.Publish(events.PendingSettlementsEvent{
			Identity: identity,
			Rounds:   rounds,
		}); err != nil {
			log.WithError(err).Warn("Failed to publish pending settlements")
		}
	}
}

// ClaimPending attempts the outstanding claims sequentially with a small
// delay between rounds. A failed win claim falls back to a loss claim
// for the same round: a round is either a win or eligible for loss
// compensation, never both. Rounds that fail both ways stay pending and
// retry on the next pass. At most one claim pass runs at a time: poll
// ticks keep re-surfacing rounds while a slow claim is still mined, and
// re-submitting a round mid-claim burns gas on a guaranteed revert.
func (r *Reconciler) ClaimPending(ctx context.Context) error {
	r.mu.Lock()
	if r.claimsInFlight {
		r.mu.Unlock()
		return nil
	}
	r.claimsInFlight = true
	identity := r.identity
	rounds := append([]uint64(nil), r.pending...)
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.claimsInFlight = false
		r.mu.Unlock()
	}()

	if identity == "" || len(rounds) == 0 {
		return nil
	}

	var firstErr error
	for i, round := range rounds {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.claimDelay):
			}
		}

		tx, err := r.chain.ClaimWin(ctx, round)
		if err != nil {
			log.WithFields(log.Fields{
				"round": round,
				"error": err,
			}).Debug("Win claim failed, attempting loss claim")
			tx, err = r.chain.ClaimLoss(ctx, round)
		}
		if err != nil {
			log.WithFields(log.Fields{
				"round": round,
				"error": err,
			}).Warn("Claim failed, round stays pending")
			if firstErr == nil {
				firstErr = fmt.Errorf("claim for round %d failed: %w", round, err)
			}
			continue
		}

		log.WithFields(log.Fields{
			"round": round,
			"tx":    tx,
		}).Info("Settlement claimed")
		r.removePending(identity, round)
	}
	return firstErr
}

func (r *Reconciler) removePending(identity models.Identity, round uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.identity != identity {
		return
	}
	kept := r.pending[:0]
	for _, p := range r.pending {
		if p != round {
			kept = append(kept, p)
		}
	}
	r.pending = kept
}

// ApplyPushValue overlays one pushed sub-ledger value on the merged set.
// Only the named field changes; a push never wholesale-replaces the set,
// so a stale payload cannot clobber fresher poll-derived fields.
func (r *Reconciler) ApplyPushValue(identity models.Identity, field string, value float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.identity != identity {
		return
	}

	switch field {
	case "cash":
		r.balances.Cash = value
	case "game":
		r.balances.Game = value
	case "cashback":
		r.balances.Cashback = value
	case "lucky":
		r.balances.Lucky = value
	case "directLevel":
		r.balances.DirectLevel = value
	case "winners":
		r.balances.Winners = value
	case "roiOnRoi":
		r.balances.RoiOnRoi = value
	case "club":
		r.balances.Club = value
	case "walletBalance":
		r.balances.WalletBalance = value
	default:
		log.WithField("field", field).Warn("Push named an unknown sub-ledger")
		return
	}

	r.balances.TotalUnified = r.balances.Game + r.balances.WalletBalance
	if r.profile != nil {
		r.totalProfit = r.balances.TotalUnified - r.profile.TotalDeposited
	}
}

// Balances returns the current merged set.
func (r *Reconciler) Balances() models.RealBalanceSet {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.balances
}

// Profile returns the last fetched profile, nil before the first pass.
func (r *Reconciler) Profile() *models.UserProfile {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.profile
}

// TotalProfit returns unified balance minus total deposited, recomputed
// on every merge and never stored independently of it.
func (r *Reconciler) TotalProfit() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.totalProfit
}

// PendingSettlements returns the unclaimed round identifiers.
func (r *Reconciler) PendingSettlements() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uint64(nil), r.pending...)
}

// Deposit moves funds into the settlement contract: register on first
// use, approve the token when the allowance is short, then deposit, then
// refresh the merged view.
func (r *Reconciler) Deposit(ctx context.Context, amount float64) (string, error) {
	r.mu.Lock()
	identity := r.identity
	r.mu.Unlock()
	if identity == "" {
		return "", ErrNotAuthenticated
	}
	if amount <= 0 {
		return "", fmt.Errorf("deposit amount must be positive")
	}

	registered, err := r.chain.IsRegistered(ctx, identity)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTransientNetwork, err)
	}
	if !registered {
		if _, err := r.chain.Register(ctx); err != nil {
			return "", fmt.Errorf("registration failed: %w", err)
		}
	}

	allowance, err := r.chain.Allowance(ctx, identity)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTransientNetwork, err)
	}
	if allowance < amount {
		if _, err := r.chain.Approve(ctx, amount); err != nil {
			return "", fmt.Errorf("token approval failed: %w", err)
		}
	}

	tx, err := r.chain.Deposit(ctx, amount)
	if err != nil {
		return "", fmt.Errorf("deposit failed: %w", err)
	}

	if err := r.Reconcile(ctx); err != nil {
		log.WithError(err).Debug("Post-deposit reconcile failed")
	}
	return tx, nil
}

// Withdraw debits the named sub-ledger. Game and wallet funds move on
// chain first; the backend is then notified with the transaction hash.
// The balance precondition is checked locally before any network call.
func (r *Reconciler) Withdraw(ctx context.Context, walletType string, amount float64) (string, error) {
	r.mu.Lock()
	identity, token := r.identity, r.token
	var have float64
	switch walletType {
	case "game":
		have = r.balances.Game
	case "walletBalance":
		have = r.balances.WalletBalance
	case "cash":
		have = r.balances.Cash
	default:
		r.mu.Unlock()
		return "", fmt.Errorf("unknown wallet type %q", walletType)
	}
	r.mu.Unlock()

	if identity == "" {
		return "", ErrNotAuthenticated
	}
	if amount <= 0 {
		return "", fmt.Errorf("withdrawal amount must be positive")
	}
	if have < amount {
		return "", &InsufficientBalanceError{Have: have, Need: amount}
	}

	var tx string
	if walletType == "game" || walletType == "walletBalance" {
		var err error
		tx, err = r.chain.Withdraw(ctx, amount)
		if err != nil {
			return "", fmt.Errorf("on-chain withdrawal failed: %w", err)
		}
	}

	if err := r.backend.Withdraw(ctx, token, walletType, amount, tx); err != nil {
		return tx, fmt.Errorf("withdrawal ledger update failed: %w", err)
	}

	if err := r.Reconcile(ctx); err != nil {
		log.WithError(err).Debug("Post-withdrawal reconcile failed")
	}
	return tx, nil
}

// PlaceBet places a direct bet for the round after a local balance
// precondition check, then refreshes the merged view.
func (r *Reconciler) PlaceBet(ctx context.Context, roundID uint64, prediction int, amount float64) (*models.BetResult, error) {
	r.mu.Lock()
	identity := r.identity
	have := r.balances.TotalUnified
	r.mu.Unlock()

	if identity == "" {
		return nil, ErrNotAuthenticated
	}
	if amount <= 0 {
		return nil, fmt.Errorf("bet amount must be positive")
	}
	if have < amount {
		return nil, &InsufficientBalanceError{Have: have, Need: amount}
	}

	tx, err := r.chain.PlaceBet(ctx, roundID, prediction, amount)
	if err != nil {
		return nil, fmt.Errorf("bet placement failed: %w", err)
	}

	if err := r.Reconcile(ctx); err != nil {
		log.WithError(err).Debug("Post-bet reconcile failed")
	}

	return &models.BetResult{
		RoundID:    roundID,
		Prediction: prediction,
		Amount:     amount,
		TxHash:     tx,
	}, nil
}

// History returns the loaded newest-first history pages.
func (r *Reconciler) History() []*models.GameHistoryItem {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*models.GameHistoryItem(nil), r.history...)
}

// LoadMoreHistory fetches the next page. It returns false when the
// backend reports no further pages.
func (r *Reconciler) LoadMoreHistory(ctx context.Context) (bool, error) {
	r.mu.Lock()
	identity, token := r.identity, r.token
	if identity == "" || r.historyDone {
		r.mu.Unlock()
		return false, nil
	}
	page := r.historyPage + 1
	r.mu.Unlock()

	items, pagination, err := r.backend.History(ctx, token, page, historyPageSize)
	if err != nil {
		return false, fmt.Errorf("history fetch failed: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.identity != identity {
		return false, ErrStaleEpoch
	}
	r.history = append(r.history, items...)
	r.historyPage = page
	r.historyDone = pagination == nil || !pagination.HasMore()
	return !r.historyDone, nil
}

// PrependHistory inserts a push-derived item at the head of the list.
func (r *Reconciler) PrependHistory(item *models.GameHistoryItem) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history = append([]*models.GameHistoryItem{item}, r.history...)
}
