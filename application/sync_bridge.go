package application

import (
	"context"
	"fmt"
	"sync"
	"time"

	"stakemesh/wallet-client/events"
	"stakemesh/wallet-client/models"
	"stakemesh/wallet-client/service"

	log "github.com/sirupsen/logrus"
)

// seenEventCap bounds the duplicate-suppression window.
const seenEventCap = 128

// PushChannel is the token-authenticated transport under the bridge.
type PushChannel interface {
	ReconnectWithToken(token string) error
	IsConnected() bool
}

// EventSubscriber registers handlers for decoded push events.
type EventSubscriber interface {
	Subscribe(eventType events.EventType, handler func(context.Context, events.Event) error) error
}

// SessionSource exposes the authoritative current session.
type SessionSource interface {
	Session() *models.Session
}

// SyncBridge applies server-pushed events to the merged state without
// waiting for the next poll tick. Application is idempotent: duplicate
// or out-of-order delivery cannot corrupt state, because balance events
// set the one field they name and settled bets trigger a refresh rather
// than being trusted as a snapshot. While the channel is down, the
// reconcile worker's poll loop is the fallback.
type SyncBridge struct {
	channel    PushChannel
	reconciler service.BalanceReconciler
	sessions   SessionSource

	mu        sync.Mutex
	identity  models.Identity
	seen      map[string]struct{}
	seenOrder []string
}

// NewSyncBridge creates the real-time sync bridge.
func NewSyncBridge(channel PushChannel, reconciler service.BalanceReconciler, sessions SessionSource) *SyncBridge {
	return &SyncBridge{
		channel:    channel,
		reconciler: reconciler,
		sessions:   sessions,
		seen:       make(map[string]struct{}),
	}
}

// HandleSessionChanged rebinds the push channel whenever the session
// token changes, in this tab or another: login reconnects with the new
// token, logout tears the channel down.
func (b *SyncBridge) HandleSessionChanged(ctx context.Context, event events.Event) error {
	ev, ok := event.(events.SessionChangedEvent)
	if !ok {
		return fmt.Errorf("unexpected event type %T", event)
	}

	// Session events are dispatched asynchronously and may arrive out of
	// order. The session manager is authoritative: an event that no
	// longer matches its current session is superseded and dropped, so a
	// late login event cannot rebind the channel after a logout.
	current := b.sessions.Session()
	if ev.Authenticated {
		if current == nil || current.Token != ev.Token {
			log.WithField("identity", ev.Identity).Debug("Dropping superseded login event")
			return nil
		}
	} else if current != nil {
		log.Debug("Dropping superseded logout event")
		return nil
	}

	b.mu.Lock()
	if ev.Authenticated {
		b.identity = ev.Identity
	} else {
		b.identity = ""
	}
	b.mu.Unlock()

	token := ""
	if ev.Authenticated {
		token = ev.Token
	}
	if err := b.channel.ReconnectWithToken(token); err != nil {
		log.WithError(err).Error("Failed to rebind push channel")
	}

	if ev.Authenticated {
		b.reconciler.SetSession(ev.Identity, ev.Token)
		go func() {
			if err := b.reconciler.Reconcile(context.Background()); err != nil {
				log.WithError(err).Debug("Initial reconcile after login failed")
			}
		}()
	}
	return nil
}

// HandleBalanceDelta overlays the named sub-ledger value on the merged
// set. Field-level last-writer-wins: the event never replaces the whole
// balance object, so a stale payload cannot clobber fresher fields.
func (b *SyncBridge) HandleBalanceDelta(ctx context.Context, event events.Event) error {
	ev, ok := event.(events.BalanceDeltaEvent)
	if !ok {
		return fmt.Errorf("unexpected event type %T", event)
	}
	if b.duplicate(ev.EventID) {
		return nil
	}
	if !b.forActiveIdentity(ev.Identity) {
		return nil
	}

	b.reconciler.ApplyPushValue(ev.Identity, ev.Field, ev.Value)
	return nil
}

// HandleBetResult records the settled bet and triggers an immediate
// out-of-band refresh. The event is a notification of change, not a
// consistent snapshot, so the balances come from the refresh.
func (b *SyncBridge) HandleBetResult(ctx context.Context, event events.Event) error {
	ev, ok := event.(events.BetResultEvent)
	if !ok {
		return fmt.Errorf("unexpected event type %T", event)
	}
	if b.duplicate(ev.EventID) {
		return nil
	}
	if !b.forActiveIdentity(ev.Identity) {
		return nil
	}

	b.reconciler.PrependHistory(&models.GameHistoryItem{
		ID:        ev.GameID,
		Amount:    ev.Amount,
		Won:       ev.Won,
		Payout:    ev.Payout,
		Timestamp: time.Now(),
		RoundID:   ev.RoundID,
	})

	go func() {
		if err := b.reconciler.Reconcile(context.Background()); err != nil {
			log.WithError(err).Debug("Bet-result refresh failed")
		}
	}()
	return nil
}

// HandleNotification logs pushed notifications; presentation is the
// consuming surface's concern.
func (b *SyncBridge) HandleNotification(ctx context.Context, event events.Event) error {
	ev, ok := event.(events.NotificationEvent)
	if !ok {
		return fmt.Errorf("unexpected event type %T", event)
	}
	if b.duplicate(ev.EventID) {
		return nil
	}

	log.WithFields(log.Fields{
		"title": ev.Title,
	}).Info("Notification received")
	return nil
}

// Connected reports whether the push channel is live.
func (b *SyncBridge) Connected() bool {
	return b.channel.IsConnected()
}

func (b *SyncBridge) forActiveIdentity(identity models.Identity) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.identity == "" || identity != b.identity {
		log.WithField("identity", identity).Debug("Dropping push event for inactive identity")
		return false
	}
	return true
}

// duplicate tracks recently seen event ids so redelivered messages are
// dropped instead of re-applied.
func (b *SyncBridge) duplicate(eventID string) bool {
	if eventID == "" {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.seen[eventID]; ok {
		return true
	}
	b.seen[eventID] = struct{}{}
	b.seenOrder = append(b.seenOrder, eventID)
	if len(b.seenOrder) > seenEventCap {
		oldest := b.seenOrder[0]
		b.seenOrder = b.seenOrder[1:]
		delete(b.seen, oldest)
	}
	return false
}
