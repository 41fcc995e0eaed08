package service

import (
	"context"
	"time"

	"stakemesh/wallet-client/events"
	"stakemesh/wallet-client/models"

	"github.com/stretchr/testify/mock"
)

// MockBackendClient is a mock implementation of BackendClient
type MockBackendClient struct {
	mock.Mock
}

func (m *MockBackendClient) Nonce(ctx context.Context, identity models.Identity, referralCode string) (string, error) {
	args := m.Called(ctx, identity, referralCode)
	return args.String(0), args.Error(1)
}

func (m *MockBackendClient) Verify(ctx context.Context, identity models.Identity, signature string) (string, *models.UserProfile, error) {
	args := m.Called(ctx, identity, signature)
	if args.Get(1) == nil {
		return args.String(0), nil, args.Error(2)
	}
	return args.String(0), args.Get(1).(*models.UserProfile), args.Error(2)
}

func (m *MockBackendClient) Profile(ctx context.Context, token string) (*models.UserProfile, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.UserProfile), args.Error(1)
}

func (m *MockBackendClient) History(ctx context.Context, token string, page, limit int) ([]*models.GameHistoryItem, *models.Pagination, error) {
	args := m.Called(ctx, token, page, limit)
	var items []*models.GameHistoryItem
	if args.Get(0) != nil {
		items = args.Get(0).([]*models.GameHistoryItem)
	}
	var pagination *models.Pagination
	if args.Get(1) != nil {
		pagination = args.Get(1).(*models.Pagination)
	}
	return items, pagination, args.Error(2)
}

func (m *MockBackendClient) SyncDeposit(ctx context.Context, token string, amount float64, idempotencyKey string) error {
	args := m.Called(ctx, token, amount, idempotencyKey)
	return args.Error(0)
}

func (m *MockBackendClient) Withdraw(ctx context.Context, token string, walletType string, amount float64, onChainTx string) error {
	args := m.Called(ctx, token, walletType, amount, onChainTx)
	return args.Error(0)
}

// MockChainClient is a mock implementation of ChainClient
type MockChainClient struct {
	mock.Mock
}

func (m *MockChainClient) ChainID(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockChainClient) UserBalances(ctx context.Context, identity models.Identity) (*models.ChainBalances, error) {
	args := m.Called(ctx, identity)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ChainBalances), args.Error(1)
}

func (m *MockChainClient) UnclaimedRounds(ctx context.Context, identity models.Identity) ([]uint64, error) {
	args := m.Called(ctx, identity)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]uint64), args.Error(1)
}

func (m *MockChainClient) IsRegistered(ctx context.Context, identity models.Identity) (bool, error) {
	args := m.Called(ctx, identity)
	return args.Bool(0), args.Error(1)
}

func (m *MockChainClient) Register(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockChainClient) Deposit(ctx context.Context, amount float64) (string, error) {
	args := m.Called(ctx, amount)
	return args.String(0), args.Error(1)
}

func (m *MockChainClient) Withdraw(ctx context.Context, amount float64) (string, error) {
	args := m.Called(ctx, amount)
	return args.String(0), args.Error(1)
}

func (m *MockChainClient) ClaimWin(ctx context.Context, roundID uint64) (string, error) {
	args := m.Called(ctx, roundID)
	return args.String(0), args.Error(1)
}

func (m *MockChainClient) ClaimLoss(ctx context.Context, roundID uint64) (string, error) {
	args := m.Called(ctx, roundID)
	return args.String(0), args.Error(1)
}

func (m *MockChainClient) PlaceBet(ctx context.Context, roundID uint64, prediction int, amount float64) (string, error) {
	args := m.Called(ctx, roundID, prediction, amount)
	return args.String(0), args.Error(1)
}

func (m *MockChainClient) Allowance(ctx context.Context, identity models.Identity) (float64, error) {
	args := m.Called(ctx, identity)
	return args.Get(0).(float64), args.Error(1)
}

func (m *MockChainClient) Approve(ctx context.Context, amount float64) (string, error) {
	args := m.Called(ctx, amount)
	return args.String(0), args.Error(1)
}

// MockWalletSigner is a mock implementation of WalletSigner
type MockWalletSigner struct {
	mock.Mock
}

func (m *MockWalletSigner) Address() models.Identity {
	args := m.Called()
	return args.Get(0).(models.Identity)
}

func (m *MockWalletSigner) SignMessage(ctx context.Context, message string) (string, error) {
	args := m.Called(ctx, message)
	return args.String(0), args.Error(1)
}

func (m *MockWalletSigner) ChainID() int64 {
	args := m.Called()
	return args.Get(0).(int64)
}

func (m *MockWalletSigner) SwitchChain(ctx context.Context, chainID int64) error {
	args := m.Called(ctx, chainID)
	return args.Error(0)
}

// MockPreferenceStore is a mock implementation of PreferenceStore
type MockPreferenceStore struct {
	mock.Mock
}

func (m *MockPreferenceStore) SaveSession(session *models.Session) error {
	args := m.Called(session)
	return args.Error(0)
}

func (m *MockPreferenceStore) LoadSession() (*models.Session, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Session), args.Error(1)
}

func (m *MockPreferenceStore) ClearSession() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockPreferenceStore) SaveCooldownUntil(until time.Time) error {
	args := m.Called(until)
	return args.Error(0)
}

func (m *MockPreferenceStore) LoadCooldownUntil() (time.Time, error) {
	args := m.Called()
	return args.Get(0).(time.Time), args.Error(1)
}

func (m *MockPreferenceStore) SaveLastAttemptAt(at time.Time) error {
	args := m.Called(at)
	return args.Error(0)
}

func (m *MockPreferenceStore) LoadLastAttemptAt() (time.Time, error) {
	args := m.Called()
	return args.Get(0).(time.Time), args.Error(1)
}

func (m *MockPreferenceStore) SaveSwitchTarget(identity models.Identity) error {
	args := m.Called(identity)
	return args.Error(0)
}

func (m *MockPreferenceStore) LoadSwitchTarget() (models.Identity, error) {
	args := m.Called()
	return args.Get(0).(models.Identity), args.Error(1)
}

func (m *MockPreferenceStore) ClearSwitchTarget() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockPreferenceStore) RecordRecentIdentity(identity models.Identity) error {
	args := m.Called(identity)
	return args.Error(0)
}

func (m *MockPreferenceStore) RecentIdentities() ([]models.Identity, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Identity), args.Error(1)
}

func (m *MockPreferenceStore) SaveGameMode(mode string) error {
	args := m.Called(mode)
	return args.Error(0)
}

func (m *MockPreferenceStore) GameMode() (string, error) {
	args := m.Called()
	return args.String(0), args.Error(1)
}

func (m *MockPreferenceStore) ClearAll() error {
	args := m.Called()
	return args.Error(0)
}

// MockEventPublisher is a mock implementation of EventPublisher
type MockEventPublisher struct {
	mock.Mock
}

func (m *MockEventPublisher) Publish(event events.Event) error {
	args := m.Called(event)
	return args.Error(0)
}
