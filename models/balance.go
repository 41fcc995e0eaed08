package models

// RealBalanceSet maps the named sub-ledgers to non-negative amounts, all
// denominated in one stable unit. Cash and Game are the spendable pair:
// TotalUnified == Game + WalletBalance after reconciliation. The other
// sub-ledgers are informational and pass through from the backend.
type RealBalanceSet struct {
	Cash          float64 `json:"cash"`
	Game          float64 `json:"game"`
	Cashback      float64 `json:"cashback"`
	Lucky         float64 `json:"lucky"`
	DirectLevel   float64 `json:"directLevel"`
	Winners       float64 `json:"winners"`
	RoiOnRoi      float64 `json:"roiOnRoi"`
	Club          float64 `json:"club"`
	WalletBalance float64 `json:"walletBalance"`
	TotalUnified  float64 `json:"totalUnified"`
}

// ChainBalances is a live read of the settlement contract's view of a
// user's funds.
type ChainBalances struct {
	Game          float64
	WalletBalance float64
}

// BetResult is the outcome of a direct bet placement.
type BetResult struct {
	RoundID    uint64
	Prediction int
	Amount     float64
	TxHash     string
}
