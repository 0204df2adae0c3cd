package model

import "time"

type HistoryStatus string

const (
	HistorySent    HistoryStatus = "sent"
	HistoryFailed  HistoryStatus = "failed"
	HistoryPartial HistoryStatus = "partial"
)

// StatusFor collapses sent/failed counts into the audit status.
func StatusFor(sent, failed int) HistoryStatus {
	switch {
	case failed == 0:
		return HistorySent
	case sent == 0:
		return HistoryFailed
	default:
		return HistoryPartial
	}
}

type HistoryEntry struct {
	ID             int64         `json:"id"`
	DispatchID     string        `json:"dispatchId"`
	AccountID      int64         `json:"accountId"`
	Message        string        `json:"message"`
	RecipientCount int           `json:"recipientCount"`
	SMSUsed        int64         `json:"smsUsed"`
	SentCount      int           `json:"sentCount"`
	FailedCount    int           `json:"failedCount"`
	Status         HistoryStatus `json:"status"`
	CreatedAt      time.Time     `json:"createdAt"`
}

type HistoryPage struct {
	Entries    []HistoryEntry `json:"entries"`
	TotalCount int            `json:"totalCount"`
	Page       int            `json:"page"`
	PageSize   int            `json:"pageSize"`
}
