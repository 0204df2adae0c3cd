package model

import "time"

type DeliveryState string

const (
	Sent   DeliveryState = "sent"
	Failed DeliveryState = "failed"
)

type Strategy string

const (
	PerRecipient Strategy = "per_recipient"
	Bulk         Strategy = "bulk"
)

func (s Strategy) Valid() bool {
	return s == PerRecipient || s == Bulk
}

type DispatchRequest struct {
	AccountID int64
	Message   string
	Selection Selection
}

type RecipientOutcome struct {
	RecipientID     int64         `json:"recipientId"`
	Phone           string        `json:"phone"`
	State           DeliveryState `json:"state"`
	Reason          string        `json:"reason,omitempty"`
	RemoteMessageID string        `json:"remoteMessageId,omitempty"`
}

// Outcome holds one entry per dispatched recipient, in input order.
type Outcome struct {
	Results []RecipientOutcome
}

func (o Outcome) Sent() int {
	n := 0
	for _, r := range o.Results {
		if r.State == Sent {
			n++
		}
	}
	return n
}

func (o Outcome) Failed() int {
	return len(o.Results) - o.Sent()
}

// Settlement is everything the ledger writes atomically once a dispatch
// has finished sending.
type Settlement struct {
	ReservationID string
	AccountID     int64
	Debit         int64
	Entry         HistoryEntry
}

type DispatchResult struct {
	DispatchID       string             `json:"dispatchId"`
	AccountID        int64              `json:"accountId"`
	Attempted        int                `json:"attempted"`
	Sent             int                `json:"sent"`
	Failed           int                `json:"failed"`
	Debited          int64              `json:"debited"`
	RemainingBalance int64              `json:"remainingBalance"`
	Status           HistoryStatus      `json:"status"`
	CompletedAt      time.Time          `json:"completedAt"`
	Details          []RecipientOutcome `json:"details"`
}
