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
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"
)

// ChannelState is a signed, sequence-numbered balance snapshot. States are
// immutable once appended; the per-channel set forms an append-only log with
// strictly increasing, gapless sequence numbers.
type ChannelState struct {
	ID             int64     `json:"-"`
	StateID        string    `json:"state_id"`
	ChannelID      string    `json:"channel_id"`
	Sequence       int64     `json:"sequence"`
	BalanceA       *big.Int  `json:"balance_a"`
	BalanceB       *big.Int  `json:"balance_b"`
	AuthorizationA string    `json:"authorization_a,omitempty"`
	AuthorizationB string    `json:"authorization_b,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// InitializeBalanceFields ensures balance fields hold valid *big.Int values.
func (s *ChannelState) InitializeBalanceFields() {
	if s.BalanceA == nil {
		s.BalanceA = big.NewInt(0)
	}
	if s.BalanceB == nil {
		s.BalanceB = big.NewInt(0)
	}
}

// Total returns balance_a + balance_b. The total is invariant across the
// whole state log of a channel (value conservation).
func (s *ChannelState) Total() *big.Int {
	s.InitializeBalanceFields()
	return new(big.Int).Add(s.BalanceA, s.BalanceB)
}

// Digest produces the SHA-256 digest the authorization tokens are bound to.
// It covers exactly the fields both parties agree on: channel, sequence and
// the two balances. Tokens over anything else do not verify.
func (s *ChannelState) Digest() string {
	s.InitializeBalanceFields()
	data := fmt.Sprintf("%s:%d:%s:%s", s.ChannelID, s.Sequence, s.BalanceA.String(), s.BalanceB.String())
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

// FullyAuthorized reports whether both parties' tokens are present.
func (s *ChannelState) FullyAuthorized() bool {
	return s.AuthorizationA != "" && s.AuthorizationB != ""
}

// NextState computes the successor snapshot for a payment of amount from one
// participant to the other. It validates the payment against the channel's
// participants and the sender's current position, and returns a candidate
// state at sequence+1 carrying no authorization tokens yet.
func NextState(channel *Channel, prev *ChannelState, from, to string, amount *big.Int) (*ChannelState, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if err := channel.ValidateParties(from, to); err != nil {
		return nil, err
	}
	prev.InitializeBalanceFields()

	balanceA := new(big.Int).Set(prev.BalanceA)
	balanceB := new(big.Int).Set(prev.BalanceB)
	if from == channel.PartyA {
		if balanceA.Cmp(amount) < 0 {
			return nil, ErrInsufficientBalance
		}
		balanceA.Sub(balanceA, amount)
		balanceB.Add(balanceB, amount)
	} else {
		if balanceB.Cmp(amount) < 0 {
			return nil, ErrInsufficientBalance
		}
		balanceB.Sub(balanceB, amount)
		balanceA.Add(balanceA, amount)
	}

	return &ChannelState{
		StateID:   GenerateUUIDWithSuffix("stt"),
		ChannelID: channel.ChannelID,
		Sequence:  prev.Sequence + 1,
		BalanceA:  balanceA,
		BalanceB:  balanceB,
		CreatedAt: time.Now(),
	}, nil
}
