package model

import "time"

// Balance is an account's prepaid credit. Reserved is the sum of unexpired
// holds placed by in-flight dispatches.
type Balance struct {
	AccountID      int64     `json:"accountId"`
	TotalAvailable int64     `json:"totalAvailable"`
	Reserved       int64     `json:"reserved"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

func (b Balance) Spendable() int64 {
	if s := b.TotalAvailable - b.Reserved; s > 0 {
		return s
	}
	return 0
}

type Reservation struct {
	ID        string
	AccountID int64
	Amount    int64
	ExpiresAt time.Time
}

type DebitPolicy string

const (
	DebitSuccess   DebitPolicy = "success"
	DebitAttempted DebitPolicy = "attempted"
)

func (p DebitPolicy) Valid() bool {
	return p == DebitSuccess || p == DebitAttempted
}
