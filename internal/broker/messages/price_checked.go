package messages

import "time"

// PriceChecked публикуется воркером после каждой проверки цены.
type PriceChecked struct {
	PurchaseID uint64    `json:"purchase_id"`
	CheckedAt  time.Time `json:"checked_at"`

	Cents  int64  `json:"cents,omitempty"`
	Source string `json:"source,omitempty"`

	NextCheckAt time.Time `json:"next_check_at"`

	Error *string `json:"error,omitempty"`
}
