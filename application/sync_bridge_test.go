package application

import (
	"context"
	"sync"
	"testing"
	"time"

	"stakemesh/wallet-client/events"
	"stakemesh/wallet-client/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const bridgeIdentity models.Identity = "0x1111111111111111111111111111111111111111"

type fakeChannel struct {
	mu        sync.Mutex
	tokens    []string
	connected bool
}

func (c *fakeChannel) ReconnectWithToken(token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens = append(c.tokens, token)
	c.connected = token != ""
	return nil
}

func (c *fakeChannel) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeChannel) lastToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.tokens) == 0 {
		return ""
	}
	return c.tokens[len(c.tokens)-1]
}

type appliedValue struct {
	identity models.Identity
	field    string
	value    float64
}

// fakeReconciler records the calls the bridge makes; the merge logic
// itself is covered by the service package tests.
type fakeReconciler struct {
	mu         sync.Mutex
	identity   models.Identity
	token      string
	applied    []appliedValue
	history    []*models.GameHistoryItem
	reconciles chan struct{}
}

func newFakeReconciler() *fakeReconciler {
	return &fakeReconciler{reconciles: make(chan struct{}, 16)}
}

func (f *fakeReconciler) SetSession(identity models.Identity, token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.identity = identity
	f.token = token
}

func (f *fakeReconciler) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.identity = ""
	f.token = ""
	f.applied = nil
	f.history = nil
}

func (f *fakeReconciler) Reconcile(ctx context.Context) error {
	f.reconciles <- struct{}{}
	return nil
}

func (f *fakeReconciler) ApplyPushValue(identity models.Identity, field string, value float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied = append(f.applied, appliedValue{identity: identity, field: field, value: value})
}

func (f *fakeReconciler) Balances() models.RealBalanceSet  { return models.RealBalanceSet{} }
func (f *fakeReconciler) Profile() *models.UserProfile     { return nil }
func (f *fakeReconciler) TotalProfit() float64             { return 0 }
func (f *fakeReconciler) PendingSettlements() []uint64     { return nil }
func (f *fakeReconciler) ClaimPending(context.Context) error {
	return nil
}
func (f *fakeReconciler) Deposit(context.Context, float64) (string, error) { return "", nil }
func (f *fakeReconciler) Withdraw(context.Context, string, float64) (string, error) {
	return "", nil
}
func (f *fakeReconciler) PlaceBet(context.Context, uint64, int, float64) (*models.BetResult, error) {
	return nil, nil
}

func (f *fakeReconciler) History() []*models.GameHistoryItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*models.GameHistoryItem(nil), f.history...)
}

func (f *fakeReconciler) LoadMoreHistory(context.Context) (bool, error) { return false, nil }

func (f *fakeReconciler) PrependHistory(item *models.GameHistoryItem) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history = append([]*models.GameHistoryItem{item}, f.history...)
}

func (f *fakeReconciler) appliedValues() []appliedValue {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]appliedValue(nil), f.applied...)
}

type fakeSessions struct {
	mu      sync.Mutex
	session *models.Session
}

func (f *fakeSessions) Session() *models.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.session
}

func (f *fakeSessions) set(session *models.Session) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.session = session
}

type bridgeFixture struct {
	channel    *fakeChannel
	reconciler *fakeReconciler
	sessions   *fakeSessions
	bridge     *SyncBridge
}

func newBridgeFixture() *bridgeFixture {
	channel := &fakeChannel{}
	reconciler := newFakeReconciler()
	sessions := &fakeSessions{}
	return &bridgeFixture{
		channel:    channel,
		reconciler: reconciler,
		sessions:   sessions,
		bridge:     NewSyncBridge(channel, reconciler, sessions),
	}
}

func waitReconcile(t *testing.T, f *fakeReconciler) {
	t.Helper()
	select {
	case <-f.reconciles:
	case <-time.After(2 * time.Second):
		t.Fatal("expected a reconcile pass")
	}
}

func login(t *testing.T, fx *bridgeFixture) {
	t.Helper()
	fx.sessions.set(&models.Session{Token: "token-1", Identity: bridgeIdentity})
	err := fx.bridge.HandleSessionChanged(context.Background(), events.SessionChangedEvent{
		Identity:      bridgeIdentity,
		Token:         "token-1",
		Authenticated: true,
	})
	require.NoError(t, err)
}

func TestSyncBridge_HandleSessionChanged_Login(t *testing.T) {
	fx := newBridgeFixture()

	login(t, fx)

	assert.Equal(t, "token-1", fx.channel.lastToken())
	assert.True(t, fx.bridge.Connected())
	assert.Equal(t, bridgeIdentity, fx.reconciler.identity)
	waitReconcile(t, fx.reconciler)
}

func TestSyncBridge_HandleSessionChanged_LogoutTearsDownChannel(t *testing.T) {
	fx := newBridgeFixture()
	login(t, fx)
	waitReconcile(t, fx.reconciler)

	fx.sessions.set(nil)
	err := fx.bridge.HandleSessionChanged(context.Background(), events.SessionChangedEvent{
		Identity:      bridgeIdentity,
		Authenticated: false,
	})
	require.NoError(t, err)

	assert.Equal(t, "", fx.channel.lastToken())
	assert.False(t, fx.bridge.Connected())

	// Events arriving after logout are dropped.
	err = fx.bridge.HandleBalanceDelta(context.Background(), events.BalanceDeltaEvent{
		EventID:  "ev-1",
		Identity: bridgeIdentity,
		Field:    "game",
		Value:    25,
	})
	require.NoError(t, err)
	assert.Empty(t, fx.reconciler.appliedValues())
}

func TestSyncBridge_HandleSessionChanged_SupersededEventsDropped(t *testing.T) {
	fx := newBridgeFixture()
	login(t, fx)
	waitReconcile(t, fx.reconciler)

	// Logout wins the race: the session manager already cleared the
	// session, the logout event lands, then the login event arrives late.
	fx.sessions.set(nil)
	require.NoError(t, fx.bridge.HandleSessionChanged(context.Background(), events.SessionChangedEvent{
		Identity:      bridgeIdentity,
		Authenticated: false,
	}))
	require.NoError(t, fx.bridge.HandleSessionChanged(context.Background(), events.SessionChangedEvent{
		Identity:      bridgeIdentity,
		Token:         "token-1",
		Authenticated: true,
	}))

	// The stale login event must not rebind the channel.
	assert.Equal(t, "", fx.channel.lastToken())
	assert.False(t, fx.bridge.Connected())

	// And the mirror race: a stale logout event after a fresh login must
	// not tear the channel down.
	login(t, fx)
	waitReconcile(t, fx.reconciler)
	require.NoError(t, fx.bridge.HandleSessionChanged(context.Background(), events.SessionChangedEvent{
		Identity:      bridgeIdentity,
		Authenticated: false,
	}))
	assert.Equal(t, "token-1", fx.channel.lastToken())
	assert.True(t, fx.bridge.Connected())
}

func TestSyncBridge_HandleBalanceDelta(t *testing.T) {
	fx := newBridgeFixture()
	login(t, fx)
	waitReconcile(t, fx.reconciler)

	delta := events.BalanceDeltaEvent{
		EventID:  "ev-1",
		Identity: bridgeIdentity,
		Field:    "game",
		Value:    25,
	}
	require.NoError(t, fx.bridge.HandleBalanceDelta(context.Background(), delta))

	// Redelivery of the same event id is suppressed.
	require.NoError(t, fx.bridge.HandleBalanceDelta(context.Background(), delta))

	applied := fx.reconciler.appliedValues()
	require.Len(t, applied, 1)
	assert.Equal(t, appliedValue{identity: bridgeIdentity, field: "game", value: 25}, applied[0])
}

func TestSyncBridge_HandleBalanceDelta_OtherIdentityDropped(t *testing.T) {
	fx := newBridgeFixture()
	login(t, fx)
	waitReconcile(t, fx.reconciler)

	err := fx.bridge.HandleBalanceDelta(context.Background(), events.BalanceDeltaEvent{
		EventID:  "ev-2",
		Identity: "0x2222222222222222222222222222222222222222",
		Field:    "game",
		Value:    99,
	})

	require.NoError(t, err)
	assert.Empty(t, fx.reconciler.appliedValues())
}

func TestSyncBridge_HandleBetResult(t *testing.T) {
	fx := newBridgeFixture()
	login(t, fx)
	waitReconcile(t, fx.reconciler)

	result := events.BetResultEvent{
		EventID:  "ev-3",
		Identity: bridgeIdentity,
		GameID:   "game-9",
		RoundID:  9,
		Won:      true,
		Amount:   10,
		Payout:   19,
	}
	require.NoError(t, fx.bridge.HandleBetResult(context.Background(), result))

	// The settled bet lands at the head of history and triggers an
	// out-of-band refresh rather than being trusted as a snapshot.
	history := fx.reconciler.History()
	require.Len(t, history, 1)
	assert.Equal(t, "game-9", history[0].ID)
	assert.True(t, history[0].Won)
	waitReconcile(t, fx.reconciler)

	// Redelivery neither duplicates history nor refreshes again.
	require.NoError(t, fx.bridge.HandleBetResult(context.Background(), result))
	assert.Len(t, fx.reconciler.History(), 1)
}

func TestSyncBridge_RejectsUnexpectedEventShape(t *testing.T) {
	fx := newBridgeFixture()

	assert.Error(t, fx.bridge.HandleBalanceDelta(context.Background(), events.NotificationEvent{}))
	assert.Error(t, fx.bridge.HandleBetResult(context.Background(), events.BalanceDeltaEvent{}))
	assert.Error(t, fx.bridge.HandleSessionChanged(context.Background(), events.BetResultEvent{}))
}
