package service

import "stakemesh/wallet-client/models"

// MergeBalances reconciles the backend's stored balances with a live
// chain read into the one set shown to the user. The rule is
// deterministic and idempotent so out-of-order poll results cannot
// corrupt state:
//
//	game     = max(onChainGame, backendGame)
//	wallet   = onChainWalletBalance
//	unified  = game + wallet
//
// All other sub-ledgers pass through from the backend unmodified. When
// the backend is ahead of the chain the backend value wins by the max
// rule; no reverse correction is attempted.
func MergeBalances(backend models.RealBalanceSet, chain *models.ChainBalances) models.RealBalanceSet {
	merged := backend
	if chain != nil {
		if chain.Game > merged.Game {
			merged.Game = chain.Game
		}
		merged.WalletBalance = chain.WalletBalance
	}
	merged.TotalUnified = merged.Game + merged.WalletBalance
	return merged
}
