package infrastructure

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"stakemesh/wallet-client/models"
	"stakemesh/wallet-client/service"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

const settlementABI = `[
	{"name":"userBalances","type":"function","stateMutability":"view","inputs":[{"name":"user","type":"address"}],"outputs":[{"name":"gameBalance","type":"uint256"},{"name":"walletBalance","type":"uint256"}]},
	{"name":"unclaimedRounds","type":"function","stateMutability":"view","inputs":[{"name":"user","type":"address"}],"outputs":[{"name":"rounds","type":"uint256[]"}]},
	{"name":"isRegistered","type":"function","stateMutability":"view","inputs":[{"name":"user","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
	{"name":"register","type":"function","stateMutability":"nonpayable","inputs":[],"outputs":[]},
	{"name":"deposit","type":"function","stateMutability":"nonpayable","inputs":[{"name":"amount","type":"uint256"}],"outputs":[]},
	{"name":"withdraw","type":"function","stateMutability":"nonpayable","inputs":[{"name":"amount","type":"uint256"}],"outputs":[]},
	{"name":"claimWin","type":"function","stateMutability":"nonpayable","inputs":[{"name":"roundId","type":"uint256"}],"outputs":[]},
	{"name":"claimLoss","type":"function","stateMutability":"nonpayable","inputs":[{"name":"roundId","type":"uint256"}],"outputs":[]},
	{"name":"placeBetDirect","type":"function","stateMutability":"nonpayable","inputs":[{"name":"roundId","type":"uint256"},{"name":"prediction","type":"uint8"},{"name":"amount","type":"uint256"}],"outputs":[]}
]`

const erc20ABI = `[
	{"name":"allowance","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"approve","type":"function","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

// tokenDecimals is the stable token's fixed precision.
const tokenDecimals = 18

// ChainClient reads and writes the settlement contract and the stable
// token through an RPC node, signing transactions with the local wallet.
type ChainClient struct {
	eth        *ethclient.Client
	settlement *bind.BoundContract
	token      *bind.BoundContract

	settlementAddr common.Address
	chainID        *big.Int
	signer         *KeystoreSigner
}

// NewChainClient dials the RPC node and binds the contracts.
func NewChainClient(rpcURL string, chainID int64, settlementAddr, tokenAddr string, signer *KeystoreSigner) (*ChainClient, error) {
	eth, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial chain RPC: %w", err)
	}

	parsedSettlement, err := abi.JSON(strings.NewReader(settlementABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse settlement ABI: %w", err)
	}
	parsedToken, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse token ABI: %w", err)
	}

	settlement := common.HexToAddress(settlementAddr)
	token := common.HexToAddress(tokenAddr)

	return &ChainClient{
		eth:            eth,
		settlement:     bind.NewBoundContract(settlement, parsedSettlement, eth, eth, eth),
		token:          bind.NewBoundContract(token, parsedToken, eth, eth, eth),
		settlementAddr: settlement,
		chainID:        big.NewInt(chainID),
		signer:         signer,
	}, nil
}

// ChainID returns the chain the RPC node reports.
func (c *ChainClient) ChainID(ctx context.Context) (int64, error) {
	id, err := c.eth.ChainID(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", service.ErrTransientNetwork, err)
	}
	return id.Int64(), nil
}

// UserBalances reads the contract's unified balances for the identity.
func (c *ChainClient) UserBalances(ctx context.Context, identity models.Identity) (*models.ChainBalances, error) {
	var out []interface{}
	opts := &bind.CallOpts{Context: ctx}
	if err := c.settlement.Call(opts, &out, "userBalances", identity.Address()); err != nil {
		return nil, fmt.Errorf("%w: userBalances: %v", service.ErrTransientNetwork, err)
	}
	if len(out) != 2 {
		return nil, fmt.Errorf("userBalances returned %d values", len(out))
	}
	return &models.ChainBalances{
		Game:          fromWei(out[0].(*big.Int)),
		WalletBalance: fromWei(out[1].(*big.Int)),
	}, nil
}

// UnclaimedRounds lists resolved-but-unclaimed rounds for the identity.
func (c *ChainClient) UnclaimedRounds(ctx context.Context, identity models.Identity) ([]uint64, error) {
	var out []interface{}
	opts := &bind.CallOpts{Context: ctx}
	if err := c.settlement.Call(opts, &out, "unclaimedRounds", identity.Address()); err != nil {
		return nil, fmt.Errorf("%w: unclaimedRounds: %v", service.ErrTransientNetwork, err)
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("unclaimedRounds returned %d values", len(out))
	}

	raw := out[0].([]*big.Int)
	rounds := make([]uint64, 0, len(raw))
	for _, r := range raw {
		rounds = append(rounds, r.Uint64())
	}
	return rounds, nil
}

// IsRegistered reads the registration flag for the identity.
func (c *ChainClient) IsRegistered(ctx context.Context, identity models.Identity) (bool, error) {
	var out []interface{}
	opts := &bind.CallOpts{Context: ctx}
	if err := c.settlement.Call(opts, &out, "isRegistered", identity.Address()); err != nil {
		return false, fmt.Errorf("%w: isRegistered: %v", service.ErrTransientNetwork, err)
	}
	if len(out) != 1 {
		return false, fmt.Errorf("isRegistered returned %d values", len(out))
	}
	return out[0].(bool), nil
}

// Register enrolls the wallet with the settlement contract.
func (c *ChainClient) Register(ctx context.Context) (string, error) {
	return c.transactSettlement(ctx, "register")
}

// Deposit moves approved tokens into the settlement contract.
func (c *ChainClient) Deposit(ctx context.Context, amount float64) (string, error) {
	return c.transactSettlement(ctx, "deposit", toWei(amount))
}

// Withdraw moves funds out of the settlement contract.
func (c *ChainClient) Withdraw(ctx context.Context, amount float64) (string, error) {
	return c.transactSettlement(ctx, "withdraw", toWei(amount))
}

// ClaimWin claims a won round.
func (c *ChainClient) ClaimWin(ctx context.Context, roundID uint64) (string, error) {
	return c.transactSettlement(ctx, "claimWin", new(big.Int).SetUint64(roundID))
}

// ClaimLoss claims loss compensation for a round.
func (c *ChainClient) ClaimLoss(ctx context.Context, roundID uint64) (string, error) {
	return c.transactSettlement(ctx, "claimLoss", new(big.Int).SetUint64(roundID))
}

// PlaceBet places a direct bet on a round.
func (c *ChainClient) PlaceBet(ctx context.Context, roundID uint64, prediction int, amount float64) (string, error) {
	return c.transactSettlement(ctx, "placeBetDirect",
		new(big.Int).SetUint64(roundID), uint8(prediction), toWei(amount))
}

// Allowance reads the token allowance granted to the settlement contract.
func (c *ChainClient) Allowance(ctx context.Context, identity models.Identity) (float64, error) {
	var out []interface{}
	opts := &bind.CallOpts{Context: ctx}
	if err := c.token.Call(opts, &out, "allowance", identity.Address(), c.settlementAddr); err != nil {
		return 0, fmt.Errorf("%w: allowance: %v", service.ErrTransientNetwork, err)
	}
	if len(out) != 1 {
		return 0, fmt.Errorf("allowance returned %d values", len(out))
	}
	return fromWei(out[0].(*big.Int)), nil
}

// Approve grants the settlement contract a token allowance.
func (c *ChainClient) Approve(ctx context.Context, amount float64) (string, error) {
	opts, err := c.transactOpts(ctx)
	if err != nil {
		return "", err
	}
	tx, err := c.token.Transact(opts, "approve", c.settlementAddr, toWei(amount))
	if err != nil {
		return "", fmt.Errorf("approve: %w", err)
	}
	return c.waitMined(ctx, tx)
}

func (c *ChainClient) transactSettlement(ctx context.Context, method string, args ...interface{}) (string, error) {
	opts, err := c.transactOpts(ctx)
	if err != nil {
		return "", err
	}
	tx, err := c.settlement.Transact(opts, method, args...)
	if err != nil {
		return "", fmt.Errorf("%s: %w", method, err)
	}
	return c.waitMined(ctx, tx)
}

func (c *ChainClient) transactOpts(ctx context.Context) (*bind.TransactOpts, error) {
	opts, err := bind.NewKeyedTransactorWithChainID(c.signer.PrivateKey(), c.chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to build transactor: %w", err)
	}
	opts.Context = ctx
	return opts, nil
}

func (c *ChainClient) waitMined(ctx context.Context, tx *types.Transaction) (string, error) {
	receipt, err := bind.WaitMined(ctx, c.eth, tx)
	if err != nil {
		return tx.Hash().Hex(), fmt.Errorf("%w: waiting for tx %s: %v", service.ErrTransientNetwork, tx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return tx.Hash().Hex(), fmt.Errorf("transaction %s reverted", tx.Hash().Hex())
	}
	return tx.Hash().Hex(), nil
}

// Close releases the RPC connection.
func (c *ChainClient) Close() {
	c.eth.Close()
}

// toWei converts a display amount to the token's fixed precision.
func toWei(amount float64) *big.Int {
	scaled := new(big.Float).Mul(big.NewFloat(amount), decimalsFactor())
	wei, _ := scaled.Int(nil)
	return wei
}

// fromWei converts a fixed-precision amount to display units.
func fromWei(wei *big.Int) float64 {
	value := new(big.Float).Quo(new(big.Float).SetInt(wei), decimalsFactor())
	out, _ := value.Float64()
	return out
}

func decimalsFactor() *big.Float {
	factor := new(big.Int).Exp(big.NewInt(10), big.NewInt(tokenDecimals), nil)
	return new(big.Float).SetInt(factor)
}
