package order

import "time"

// Status enumerates the order payment lifecycle states.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Terminal reports whether the status is final and may not change again.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// Valid reports whether the status is a known lifecycle state.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusSuccess, StatusFailed:
		return true
	}
	return false
}

// Order is a single purchase attempt tracked from creation to a terminal
// payment outcome. PaymentRef is empty until the processor intent is opened;
// once attached it never changes.
type Order struct {
	ID         string    `json:"id"`
	OwnerID    string    `json:"ownerId"`
	ProductRef string    `json:"productRef"`
	Amount     int64     `json:"amount"`
	Status     Status    `json:"status"`
	PaymentRef string    `json:"paymentRef,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}
