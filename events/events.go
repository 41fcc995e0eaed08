package events

import "stakemesh/wallet-client/models"

// EventType represents different types of events in the system
type EventType string

const (
	EventTypeSessionChanged     EventType = "session_changed"
	EventTypeBalanceDelta       EventType = "balance_delta"
	EventTypeBetResult          EventType = "bet_result"
	EventTypeNotification       EventType = "notification"
	EventTypePendingSettlements EventType = "pending_settlements"
)

// Event is the base interface for all events
type Event interface {
	Type() EventType
}

// SessionChangedEvent fires whenever the session token changes: login,
// logout, or a refreshed verify. Subscribers that hold token-scoped
// resources (the push channel) must rebind on this event.
type SessionChangedEvent struct {
	Identity      models.Identity `json:"identity"`
	Token         string          `json:"token"`
	Role          string          `json:"role"`
	Authenticated bool            `json:"authenticated"`
}

func (e SessionChangedEvent) Type() EventType {
	return EventTypeSessionChanged
}

// BalanceDeltaEvent carries the new value of a single named sub-ledger.
// The push boundary translates legacy alias fields before this struct is
// built, so Field and Value are the only canonical names downstream.
type BalanceDeltaEvent struct {
	EventID  string          `json:"eventId"`
	Identity models.Identity `json:"identity"`
	Field    string          `json:"field"`
	Value    float64         `json:"value"`
}

func (e BalanceDeltaEvent) Type() EventType {
	return EventTypeBalanceDelta
}

// BetResultEvent signals that a bet settled. It is a notification of
// change, not a consistent snapshot: consumers must refresh rather than
// trust the payload as the new balance.
type BetResultEvent struct {
	EventID  string          `json:"eventId"`
	Identity models.Identity `json:"identity"`
	GameID   string          `json:"gameId"`
	RoundID  uint64          `json:"roundId"`
	Won      bool            `json:"won"`
	Amount   float64         `json:"amount"`
	Payout   float64         `json:"payout"`
}

func (e BetResultEvent) Type() EventType {
	return EventTypeBetResult
}

// NotificationEvent is a user-facing notification pushed by the backend.
type NotificationEvent struct {
	EventID  string          `json:"eventId"`
	Identity models.Identity `json:"identity"`
	Title    string          `json:"title"`
	Body     string          `json:"body"`
}

func (e NotificationEvent) Type() EventType {
	return EventTypeNotification
}

// PendingSettlementsEvent surfaces the unclaimed rounds found during a
// reconciliation pass so a consumer can trigger explicit claims.
type PendingSettlementsEvent struct {
	Identity models.Identity `json:"identity"`
	Rounds   []uint64        `json:"rounds"`
}

func (e PendingSettlementsEvent) Type() EventType {
	return EventTypePendingSettlements
}
