package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"stakemesh/wallet-client/events"
	"stakemesh/wallet-client/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type reconcileFixture struct {
	backend    *MockBackendClient
	chain      *MockChainClient
	publisher  *MockEventPublisher
	reconciler *Reconciler
}

func newReconcileFixture() *reconcileFixture {
	backend := new(MockBackendClient)
	chain := new(MockChainClient)
	publisher := new(MockEventPublisher)
	publisher.On("Publish", mock.Anything).Return(nil)

	reconciler := NewReconciler(backend, chain, publisher, 1.5, time.Minute, time.Millisecond)
	reconciler.SetSession(testIdentity, "token-1")

	return &reconcileFixture{
		backend:    backend,
		chain:      chain,
		publisher:  publisher,
		reconciler: reconciler,
	}
}

func (f *reconcileFixture) stubNoPending() {
	f.chain.On("UnclaimedRounds", mock.Anything, testIdentity).Return([]uint64{}, nil)
}

func TestMergeBalances(t *testing.T) {
	backend := models.RealBalanceSet{Cash: 2, Game: 10, Cashback: 1}

	t.Run("chain ahead wins", func(t *testing.T) {
		merged := MergeBalances(backend, &models.ChainBalances{Game: 12, WalletBalance: 3})
		assert.Equal(t, 12.0, merged.Game)
		assert.Equal(t, 3.0, merged.WalletBalance)
		assert.Equal(t, 15.0, merged.TotalUnified)
	})

	t.Run("backend ahead wins", func(t *testing.T) {
		merged := MergeBalances(backend, &models.ChainBalances{Game: 9, WalletBalance: 3})
		assert.Equal(t, 10.0, merged.Game)
		assert.Equal(t, 13.0, merged.TotalUnified)
	})

	t.Run("no chain read keeps backend view", func(t *testing.T) {
		merged := MergeBalances(backend, nil)
		assert.Equal(t, 10.0, merged.Game)
		assert.Equal(t, 10.0, merged.TotalUnified)
	})

	t.Run("other sub-ledgers pass through", func(t *testing.T) {
		merged := MergeBalances(backend, &models.ChainBalances{Game: 12})
		assert.Equal(t, 2.0, merged.Cash)
		assert.Equal(t, 1.0, merged.Cashback)
	})

	t.Run("idempotent", func(t *testing.T) {
		chain := &models.ChainBalances{Game: 12, WalletBalance: 3}
		once := MergeBalances(backend, chain)
		twice := MergeBalances(once, chain)
		assert.Equal(t, once, twice)
	})
}

func TestReconciler_Reconcile_NoCorrectionWhenBackendAhead(t *testing.T) {
	f := newReconcileFixture()
	f.backend.On("Profile", mock.Anything, "token-1").Return(testProfile(testIdentity), nil)
	f.chain.On("UserBalances", mock.Anything, testIdentity).
		Return(&models.ChainBalances{Game: 9, WalletBalance: 0}, nil)
	f.stubNoPending()

	require.NoError(t, f.reconciler.Reconcile(context.Background()))

	assert.Equal(t, 10.0, f.reconciler.Balances().Game)
	assert.Equal(t, 10.0, f.reconciler.Balances().TotalUnified)
	assert.Equal(t, 0.0, f.reconciler.TotalProfit())
	f.backend.AssertNotCalled(t, "SyncDeposit", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestReconciler_Reconcile_CorrectsWhenChainAhead(t *testing.T) {
	f := newReconcileFixture()
	f.backend.On("Profile", mock.Anything, "token-1").Return(testProfile(testIdentity), nil)
	f.chain.On("UserBalances", mock.Anything, testIdentity).
		Return(&models.ChainBalances{Game: 9, WalletBalance: 0}, nil).Once()
	f.chain.On("UserBalances", mock.Anything, testIdentity).
		Return(&models.ChainBalances{Game: 12, WalletBalance: 0}, nil)
	f.backend.On("SyncDeposit", mock.Anything, "token-1", 2.0, mock.Anything).Return(nil)
	f.stubNoPending()

	// First pass: chain behind, merge only.
	require.NoError(t, f.reconciler.Reconcile(context.Background()))
	assert.Equal(t, 10.0, f.reconciler.Balances().Game)
	f.backend.AssertNotCalled(t, "SyncDeposit", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	// Second pass: chain moved to 12, one corrective write for the 2.0
	// difference, merged view shows the chain value.
	require.NoError(t, f.reconciler.Reconcile(context.Background()))
	assert.Equal(t, 12.0, f.reconciler.Balances().Game)
	f.backend.AssertNumberOfCalls(t, "SyncDeposit", 1)
}

func TestReconciler_Reconcile_CorrectionAtMostOncePerWindow(t *testing.T) {
	f := newReconcileFixture()
	f.backend.On("Profile", mock.Anything, "token-1").Return(testProfile(testIdentity), nil)
	f.chain.On("UserBalances", mock.Anything, testIdentity).
		Return(&models.ChainBalances{Game: 15, WalletBalance: 0}, nil)
	f.backend.On("SyncDeposit", mock.Anything, "token-1", 5.0, mock.Anything).Return(nil)
	f.stubNoPending()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = f.reconciler.Reconcile(context.Background())
		}()
	}
	wg.Wait()

	f.backend.AssertNumberOfCalls(t, "SyncDeposit", 1)
}

func TestReconciler_Reconcile_SingleSourceFailureDegrades(t *testing.T) {
	f := newReconcileFixture()
	f.backend.On("Profile", mock.Anything, "token-1").Return(testProfile(testIdentity), nil)
	f.chain.On("UserBalances", mock.Anything, testIdentity).
		Return(nil, errors.New("rpc timeout"))
	f.stubNoPending()

	require.NoError(t, f.reconciler.Reconcile(context.Background()))
	assert.Equal(t, 10.0, f.reconciler.Balances().Game)
}

func TestReconciler_Reconcile_BothSourcesFailing(t *testing.T) {
	f := newReconcileFixture()
	f.backend.On("Profile", mock.Anything, "token-1").Return(nil, errors.New("backend down"))
	f.chain.On("UserBalances", mock.Anything, testIdentity).
		Return(nil, errors.New("rpc timeout"))

	assert.Error(t, f.reconciler.Reconcile(context.Background()))
}

func TestReconciler_Reconcile_IdentityChangeDiscardsPass(t *testing.T) {
	f := newReconcileFixture()
	f.chain.On("UserBalances", mock.Anything, testIdentity).
		Return(&models.ChainBalances{Game: 12, WalletBalance: 0}, nil)
	f.backend.On("Profile", mock.Anything, "token-1").
		Run(func(args mock.Arguments) {
			// Logout lands while the profile fetch is suspended.
			f.reconciler.Reset()
		}).
		Return(testProfile(testIdentity), nil)

	err := f.reconciler.Reconcile(context.Background())

	assert.ErrorIs(t, err, ErrStaleEpoch)
	assert.Equal(t, models.RealBalanceSet{}, f.reconciler.Balances())
}

func TestReconciler_SetSession_NewIdentityClearsState(t *testing.T) {
	f := newReconcileFixture()
	f.backend.On("Profile", mock.Anything, "token-1").Return(testProfile(testIdentity), nil)
	f.chain.On("UserBalances", mock.Anything, testIdentity).
		Return(&models.ChainBalances{Game: 12, WalletBalance: 3}, nil)
	f.chain.On("UnclaimedRounds", mock.Anything, testIdentity).Return([]uint64{5}, nil)
	f.backend.On("SyncDeposit", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	require.NoError(t, f.reconciler.Reconcile(context.Background()))
	require.NotEqual(t, models.RealBalanceSet{}, f.reconciler.Balances())
	require.NotEmpty(t, f.reconciler.PendingSettlements())

	f.reconciler.SetSession("0x2222222222222222222222222222222222222222", "token-2")

	assert.Equal(t, models.RealBalanceSet{}, f.reconciler.Balances())
	assert.Empty(t, f.reconciler.PendingSettlements())
	assert.Empty(t, f.reconciler.History())
	assert.Nil(t, f.reconciler.Profile())
}

func TestReconciler_Reconcile_SurfacesPendingSettlements(t *testing.T) {
	f := newReconcileFixture()
	f.backend.On("Profile", mock.Anything, "token-1").Return(testProfile(testIdentity), nil)
	f.chain.On("UserBalances", mock.Anything, testIdentity).
		Return(&models.ChainBalances{Game: 10, WalletBalance: 0}, nil)
	f.chain.On("UnclaimedRounds", mock.Anything, testIdentity).Return([]uint64{5, 7}, nil)

	require.NoError(t, f.reconciler.Reconcile(context.Background()))

	assert.Equal(t, []uint64{5, 7}, f.reconciler.PendingSettlements())
	f.publisher.AssertCalled(t, "Publish", mock.MatchedBy(func(event events.Event) bool {
		pending, ok := event.(events.PendingSettlementsEvent)
		return ok && len(pending.Rounds) == 2
	}))
	// Nothing is auto-claimed.
	f.chain.AssertNotCalled(t, "ClaimWin", mock.Anything, mock.Anything)
}

func TestReconciler_ClaimPending_WinThenLossFallback(t *testing.T) {
	f := newReconcileFixture()
	f.backend.On("Profile", mock.Anything, "token-1").Return(testProfile(testIdentity), nil)
	f.chain.On("UserBalances", mock.Anything, testIdentity).
		Return(&models.ChainBalances{Game: 10, WalletBalance: 0}, nil)
	f.chain.On("UnclaimedRounds", mock.Anything, testIdentity).Return([]uint64{5, 7}, nil)
	require.NoError(t, f.reconciler.Reconcile(context.Background()))

	f.chain.On("ClaimWin", mock.Anything, uint64(5)).Return("0xtx5", nil)
	f.chain.On("ClaimWin", mock.Anything, uint64(7)).Return("", errors.New("round was a loss"))
	f.chain.On("ClaimLoss", mock.Anything, uint64(7)).Return("0xtx7", nil)

	require.NoError(t, f.reconciler.ClaimPending(context.Background()))

	assert.Empty(t, f.reconciler.PendingSettlements())
	f.chain.AssertNumberOfCalls(t, "ClaimWin", 2)
	f.chain.AssertNumberOfCalls(t, "ClaimLoss", 1)
}

func TestReconciler_ClaimPending_FailedRoundStaysPending(t *testing.T) {
	f := newReconcileFixture()
	f.backend.On("Profile", mock.Anything, "token-1").Return(testProfile(testIdentity), nil)
	f.chain.On("UserBalances", mock.Anything, testIdentity).
		Return(&models.ChainBalances{Game: 10, WalletBalance: 0}, nil)
	f.chain.On("UnclaimedRounds", mock.Anything, testIdentity).Return([]uint64{5, 7}, nil)
	require.NoError(t, f.reconciler.Reconcile(context.Background()))

	f.chain.On("ClaimWin", mock.Anything, uint64(5)).Return("0xtx5", nil)
	f.chain.On("ClaimWin", mock.Anything, uint64(7)).Return("", errors.New("reverted"))
	f.chain.On("ClaimLoss", mock.Anything, uint64(7)).Return("", errors.New("reverted"))

	assert.Error(t, f.reconciler.ClaimPending(context.Background()))
	assert.Equal(t, []uint64{7}, f.reconciler.PendingSettlements())
}

func TestReconciler_ClaimPending_SingleFlight(t *testing.T) {
	f := newReconcileFixture()
	f.backend.On("Profile", mock.Anything, "token-1").Return(testProfile(testIdentity), nil)
	f.chain.On("UserBalances", mock.Anything, testIdentity).
		Return(&models.ChainBalances{Game: 10, WalletBalance: 0}, nil)
	f.chain.On("UnclaimedRounds", mock.Anything, testIdentity).Return([]uint64{5}, nil).Once()
	require.NoError(t, f.reconciler.Reconcile(context.Background()))

	claiming := make(chan struct{}, 2)
	release := make(chan struct{})
	f.chain.On("ClaimWin", mock.Anything, uint64(5)).
		Run(func(args mock.Arguments) {
			claiming <- struct{}{}
			<-release
		}).
		Return("0xtx5", nil)

	done := make(chan error, 1)
	go func() { done <- f.reconciler.ClaimPending(context.Background()) }()
	<-claiming

	// A second pass arriving while round 5 is still being mined must not
	// re-submit the claim.
	require.NoError(t, f.reconciler.ClaimPending(context.Background()))
	f.chain.AssertNumberOfCalls(t, "ClaimWin", 1)

	close(release)
	require.NoError(t, <-done)
	assert.Empty(t, f.reconciler.PendingSettlements())

	// With the first pass finished, claiming is allowed again.
	f.chain.On("UnclaimedRounds", mock.Anything, testIdentity).Return([]uint64{6}, nil)
	f.chain.On("ClaimWin", mock.Anything, uint64(6)).Return("0xtx6", nil)
	require.NoError(t, f.reconciler.Reconcile(context.Background()))
	require.NoError(t, f.reconciler.ClaimPending(context.Background()))
	f.chain.AssertCalled(t, "ClaimWin", mock.Anything, uint64(6))
}

func TestReconciler_PlaceBet_InsufficientBalance(t *testing.T) {
	f := newReconcileFixture()
	f.reconciler.ApplyPushValue(testIdentity, "game", 5)

	_, err := f.reconciler.PlaceBet(context.Background(), 3, 1, 10)

	var insufficient *InsufficientBalanceError
	require.True(t, errors.As(err, &insufficient))
	assert.Equal(t, 5.0, insufficient.Have)
	assert.Equal(t, 10.0, insufficient.Need)
	f.chain.AssertNotCalled(t, "PlaceBet", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestReconciler_PlaceBet(t *testing.T) {
	f := newReconcileFixture()
	f.reconciler.ApplyPushValue(testIdentity, "game", 20)
	f.chain.On("PlaceBet", mock.Anything, uint64(3), 1, 10.0).Return("0xbet", nil)
	f.backend.On("Profile", mock.Anything, "token-1").Return(testProfile(testIdentity), nil)
	f.chain.On("UserBalances", mock.Anything, testIdentity).
		Return(&models.ChainBalances{Game: 10, WalletBalance: 0}, nil)
	f.stubNoPending()

	result, err := f.reconciler.PlaceBet(context.Background(), 3, 1, 10)

	require.NoError(t, err)
	assert.Equal(t, "0xbet", result.TxHash)
	assert.Equal(t, uint64(3), result.RoundID)
}

func TestReconciler_Withdraw_GameFundsMoveOnChainFirst(t *testing.T) {
	f := newReconcileFixture()
	f.reconciler.ApplyPushValue(testIdentity, "game", 20)
	f.chain.On("Withdraw", mock.Anything, 8.0).Return("0xwd", nil)
	f.backend.On("Withdraw", mock.Anything, "token-1", "game", 8.0, "0xwd").Return(nil)
	f.backend.On("Profile", mock.Anything, "token-1").Return(testProfile(testIdentity), nil)
	f.chain.On("UserBalances", mock.Anything, testIdentity).
		Return(&models.ChainBalances{Game: 10, WalletBalance: 0}, nil)
	f.stubNoPending()

	tx, err := f.reconciler.Withdraw(context.Background(), "game", 8)

	require.NoError(t, err)
	assert.Equal(t, "0xwd", tx)
	f.backend.AssertCalled(t, "Withdraw", mock.Anything, "token-1", "game", 8.0, "0xwd")
}

func TestReconciler_Withdraw_CashSkipsChain(t *testing.T) {
	f := newReconcileFixture()
	f.reconciler.ApplyPushValue(testIdentity, "cash", 20)
	f.backend.On("Withdraw", mock.Anything, "token-1", "cash", 8.0, "").Return(nil)
	f.backend.On("Profile", mock.Anything, "token-1").Return(testProfile(testIdentity), nil)
	f.chain.On("UserBalances", mock.Anything, testIdentity).
		Return(&models.ChainBalances{Game: 10, WalletBalance: 0}, nil)
	f.stubNoPending()

	_, err := f.reconciler.Withdraw(context.Background(), "cash", 8)

	require.NoError(t, err)
	f.chain.AssertNotCalled(t, "Withdraw", mock.Anything, mock.Anything)
}

func TestReconciler_Withdraw_Preconditions(t *testing.T) {
	f := newReconcileFixture()
	f.reconciler.ApplyPushValue(testIdentity, "game", 5)

	_, err := f.reconciler.Withdraw(context.Background(), "game", 10)
	var insufficient *InsufficientBalanceError
	assert.True(t, errors.As(err, &insufficient))

	_, err = f.reconciler.Withdraw(context.Background(), "practice", 1)
	assert.Error(t, err)

	f.chain.AssertNotCalled(t, "Withdraw", mock.Anything, mock.Anything)
	f.backend.AssertNotCalled(t, "Withdraw", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestReconciler_Deposit_RegistersAndApprovesOnFirstUse(t *testing.T) {
	f := newReconcileFixture()
	f.chain.On("IsRegistered", mock.Anything, testIdentity).Return(false, nil)
	f.chain.On("Register", mock.Anything).Return("0xreg", nil)
	f.chain.On("Allowance", mock.Anything, testIdentity).Return(0.0, nil)
	f.chain.On("Approve", mock.Anything, 25.0).Return("0xappr", nil)
	f.chain.On("Deposit", mock.Anything, 25.0).Return("0xdep", nil)
	f.backend.On("Profile", mock.Anything, "token-1").Return(testProfile(testIdentity), nil)
	f.chain.On("UserBalances", mock.Anything, testIdentity).
		Return(&models.ChainBalances{Game: 35, WalletBalance: 0}, nil)
	f.backend.On("SyncDeposit", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.stubNoPending()

	tx, err := f.reconciler.Deposit(context.Background(), 25)

	require.NoError(t, err)
	assert.Equal(t, "0xdep", tx)
	f.chain.AssertCalled(t, "Register", mock.Anything)
	f.chain.AssertCalled(t, "Approve", mock.Anything, 25.0)
}

func TestReconciler_Deposit_SkipsRegistrationWhenKnown(t *testing.T) {
	f := newReconcileFixture()
	f.chain.On("IsRegistered", mock.Anything, testIdentity).Return(true, nil)
	f.chain.On("Allowance", mock.Anything, testIdentity).Return(100.0, nil)
	f.chain.On("Deposit", mock.Anything, 25.0).Return("0xdep", nil)
	f.backend.On("Profile", mock.Anything, "token-1").Return(testProfile(testIdentity), nil)
	f.chain.On("UserBalances", mock.Anything, testIdentity).
		Return(&models.ChainBalances{Game: 35, WalletBalance: 0}, nil)
	f.backend.On("SyncDeposit", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.stubNoPending()

	_, err := f.reconciler.Deposit(context.Background(), 25)

	require.NoError(t, err)
	f.chain.AssertNotCalled(t, "Register", mock.Anything)
	f.chain.AssertNotCalled(t, "Approve", mock.Anything, mock.Anything)
}

func TestReconciler_ApplyPushValue(t *testing.T) {
	f := newReconcileFixture()

	f.reconciler.ApplyPushValue(testIdentity, "game", 25)
	f.reconciler.ApplyPushValue(testIdentity, "walletBalance", 5)

	balances := f.reconciler.Balances()
	assert.Equal(t, 25.0, balances.Game)
	assert.Equal(t, 30.0, balances.TotalUnified)

	// Re-delivering the same value changes nothing.
	f.reconciler.ApplyPushValue(testIdentity, "game", 25)
	assert.Equal(t, balances, f.reconciler.Balances())

	// A push for a superseded identity is dropped.
	f.reconciler.ApplyPushValue("0x2222222222222222222222222222222222222222", "game", 99)
	assert.Equal(t, 25.0, f.reconciler.Balances().Game)

	// Unknown sub-ledgers are ignored rather than corrupting the set.
	f.reconciler.ApplyPushValue(testIdentity, "bogus", 99)
	assert.Equal(t, balances, f.reconciler.Balances())
}

func TestReconciler_LoadMoreHistory(t *testing.T) {
	f := newReconcileFixture()
	page1 := []*models.GameHistoryItem{{ID: "g2"}, {ID: "g1"}}
	page2 := []*models.GameHistoryItem{{ID: "g0"}}
	f.backend.On("History", mock.Anything, "token-1", 1, historyPageSize).
		Return(page1, &models.Pagination{Page: 1, TotalPages: 2}, nil)
	f.backend.On("History", mock.Anything, "token-1", 2, historyPageSize).
		Return(page2, &models.Pagination{Page: 2, TotalPages: 2}, nil)

	more, err := f.reconciler.LoadMoreHistory(context.Background())
	require.NoError(t, err)
	assert.True(t, more)
	assert.Len(t, f.reconciler.History(), 2)

	more, err = f.reconciler.LoadMoreHistory(context.Background())
	require.NoError(t, err)
	assert.False(t, more)
	assert.Len(t, f.reconciler.History(), 3)

	// Exhausted pagination short-circuits without another fetch.
	more, err = f.reconciler.LoadMoreHistory(context.Background())
	require.NoError(t, err)
	assert.False(t, more)
	f.backend.AssertNumberOfCalls(t, "History", 2)
}

func TestReconciler_PrependHistory(t *testing.T) {
	f := newReconcileFixture()
	f.reconciler.PrependHistory(&models.GameHistoryItem{ID: "g1"})
	f.reconciler.PrependHistory(&models.GameHistoryItem{ID: "g2"})

	history := f.reconciler.History()
	require.Len(t, history, 2)
	assert.Equal(t, "g2", history[0].ID)
}
