package messages

import "time"

// ClaimUpdated публикуется при каждом переходе статуса заявки.
type ClaimUpdated struct {
	ClaimID    uint64 `json:"claim_id"`
	PurchaseID uint64 `json:"purchase_id"`
	UserID     uint64 `json:"user_id"`

	Status      string `json:"status"`
	Channel     string `json:"channel,omitempty"`
	Destination string `json:"destination,omitempty"`
	Note        string `json:"note,omitempty"`

	At time.Time `json:"at"`
}
