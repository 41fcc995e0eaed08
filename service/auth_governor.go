package service

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// AuthGovernor gates how often authentication may be attempted. It is a
// pure guard consulted before every BeginAuth and the only component
// permitted to write the cooldown timestamp. Both timestamps are
// persisted so a cooldown survives reloads.
type AuthGovernor struct {
	mu            sync.Mutex
	store         PreferenceStore
	minInterval   time.Duration
	cooldown      time.Duration
	lastAttemptAt time.Time
	cooldownUntil time.Time
}

// NewAuthGovernor creates a governor, restoring persisted attempt and
// cooldown timestamps from the preference store.
func NewAuthGovernor(store PreferenceStore, minInterval, cooldown time.Duration) *AuthGovernor {
	g := &AuthGovernor{
		store:       store,
		minInterval: minInterval,
		cooldown:    cooldown,
	}
	if at, err := store.LoadLastAttemptAt(); err == nil {
		g.lastAttemptAt = at
	}
	if until, err := store.LoadCooldownUntil(); err == nil {
		g.cooldownUntil = until
	}
	return g
}

// Allow reports whether an attempt may start now. It rejects inside the
// minimum interval since the last attempt and while a cooldown is active.
func (g *AuthGovernor) Allow(now time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if now.Before(g.cooldownUntil) {
		return &RateLimitedError{Until: g.cooldownUntil}
	}
	if !g.lastAttemptAt.IsZero() && now.Sub(g.lastAttemptAt) < g.minInterval {
		return ErrAttemptThrottled
	}
	return nil
}

// RecordAttempt stamps the start of an attempt.
func (g *AuthGovernor) RecordAttempt(now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.lastAttemptAt = now
	if err := g.store.SaveLastAttemptAt(now); err != nil {
		log.WithError(err).Warn("Failed to persist last attempt timestamp")
	}
}

// RecordRateLimit opens a cooldown window after a rate-limited verify.
func (g *AuthGovernor) RecordRateLimit(now time.Time) time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.cooldownUntil = now.Add(g.cooldown)
	if err := g.store.SaveCooldownUntil(g.cooldownUntil); err != nil {
		log.WithError(err).Warn("Failed to persist cooldown timestamp")
	}
	log.WithField("until", g.cooldownUntil).Warn("Auth rate limited, cooldown armed")
	return g.cooldownUntil
}

// ClearCooldown lifts the cooldown after a successful verify.
func (g *AuthGovernor) ClearCooldown() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.cooldownUntil = time.Time{}
	if err := g.store.SaveCooldownUntil(time.Time{}); err != nil {
		log.WithError(err).Warn("Failed to clear persisted cooldown")
	}
}

// CooldownUntil returns the current cooldown deadline, zero if none.
func (g *AuthGovernor) CooldownUntil() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cooldownUntil
}
