/*
Copyright 2026 Paychan Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package model

import (
	"math/big"
	"time"

	"github.com/paychanhq/paychan"
)

// CreateChannel is the request body for opening a channel. Deposits travel
// as decimal strings so arbitrary-precision amounts survive JSON.
type CreateChannel struct {
	PartyA         string                 `json:"party_a"`
	PartyB         string                 `json:"party_b"`
	DepositA       string                 `json:"deposit_a"`
	DepositB       string                 `json:"deposit_b"`
	TimeoutSeconds int64                  `json:"timeout_seconds"`
	MetaData       map[string]interface{} `json:"meta_data"`
}

// ToOpenRequest converts the DTO into the engine's open request. Malformed
// deposit strings surface as nil amounts, which the engine rejects.
func (ch *CreateChannel) ToOpenRequest() paychan.OpenChannelRequest {
	depositA, _ := new(big.Int).SetString(ch.DepositA, 10)
	depositB, _ := new(big.Int).SetString(ch.DepositB, 10)
	return paychan.OpenChannelRequest{
		PartyA:        ch.PartyA,
		PartyB:        ch.PartyB,
		DepositA:      depositA,
		DepositB:      depositB,
		TimeoutPeriod: time.Duration(ch.TimeoutSeconds) * time.Second,
		MetaData:      ch.MetaData,
	}
}

// ApplyPayment is the request body for applying (or queuing) a payment.
type ApplyPayment struct {
	From      string                 `json:"from"`
	To        string                 `json:"to"`
	Amount    string                 `json:"amount"`
	Reference string                 `json:"reference"`
	Memo      string                 `json:"memo"`
	MetaData  map[string]interface{} `json:"meta_data"`
}

// ToPaymentRequest converts the DTO into the engine's payment request.
func (p *ApplyPayment) ToPaymentRequest(channelID string) *paychan.PaymentRequest {
	amount, _ := new(big.Int).SetString(p.Amount, 10)
	return &paychan.PaymentRequest{
		ChannelID: channelID,
		From:      p.From,
		To:        p.To,
		Amount:    amount,
		Reference: p.Reference,
		Memo:      p.Memo,
		MetaData:  p.MetaData,
	}
}

// ForceClose is the request body for opening a dispute.
type ForceClose struct {
	InitiatedBy     string `json:"initiated_by"`
	ClaimedSequence int64  `json:"claimed_sequence"`
}

// CounterClaim is the request body for answering an open dispute.
type CounterClaim struct {
	Party           string `json:"party"`
	CounterSequence int64  `json:"counter_sequence"`
}
