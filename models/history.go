package models

import "time"

// GameHistoryItem is one entry of the backend's game history, ordered
// newest-first. Items are never recomputed locally.
type GameHistoryItem struct {
	ID         string    `json:"id"`
	Amount     float64   `json:"amount"`
	Prediction int       `json:"prediction"`
	Won        bool      `json:"won"`
	Payout     float64   `json:"payout"`
	Timestamp  time.Time `json:"timestamp"`
	GameType   string    `json:"gameType"`
	RoundID    uint64    `json:"roundId,omitempty"`
}

// Pagination describes a page of backend history results.
type Pagination struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"totalPages"`
}

// HasMore reports whether another page exists after the current one.
func (p Pagination) HasMore() bool {
	return p.Page < p.TotalPages
}
