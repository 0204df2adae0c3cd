package model

type Recipient struct {
	ID        int64  `json:"id"`
	AccountID int64  `json:"accountId"`
	Name      string `json:"name"`
	Phone     string `json:"phone"`
}

type SelectionMode string

const (
	SelectExplicit SelectionMode = "explicit"
	SelectAll      SelectionMode = "all"
)

type Selection struct {
	Mode SelectionMode
	IDs  []int64
}

func AllRecipients() Selection {
	return Selection{Mode: SelectAll}
}

func ExplicitRecipients(ids ...int64) Selection {
	return Selection{Mode: SelectExplicit, IDs: ids}
}
