package model

import (
	"encoding/json"
	"math/big"
	"time"
)

// Payment is a derived, read-only projection of a state transition, used for
// history and audit. The channel state log stays authoritative.
type Payment struct {
	ID        int64                  `json:"-"`
	PaymentID string                 `json:"payment_id"`
	ChannelID string                 `json:"channel_id"`
	From      string                 `json:"from"`
	To        string                 `json:"to"`
	Amount    *big.Int               `json:"amount"`
	Memo      string                 `json:"memo,omitempty"`
	Reference string                 `json:"reference"`
	Sequence  int64                  `json:"sequence"`
	CreatedAt time.Time              `json:"created_at"`
	MetaData  map[string]interface{} `json:"meta_data,omitempty"`
}

func (p *Payment) ToJSON() ([]byte, error) {
	return json.Marshal(p)
}
