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
	"errors"
	"time"
)

// ChannelStatus is the lifecycle status of a payment channel.
type ChannelStatus string

const (
	// StatusOpen means the channel exists but funding has not been
	// acknowledged by both parties yet.
	StatusOpen ChannelStatus = "OPEN"
	// StatusActive means payments may flow through the channel.
	StatusActive ChannelStatus = "ACTIVE"
	// StatusClosing means a close has been requested and a settlement
	// (possibly contested) is pending.
	StatusClosing ChannelStatus = "CLOSING"
	// StatusDisputed means a force-close was contested, or settlement
	// failed and the channel is parked for manual intervention.
	StatusDisputed ChannelStatus = "DISPUTED"
	// StatusClosed is terminal; the final state is anchored on the ledger.
	StatusClosed ChannelStatus = "CLOSED"
)

var (
	ErrInvalidParticipants = errors.New("channel parties must be distinct")
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrInvalidParties      = errors.New("parties do not match the channel participants")
	ErrInsufficientBalance = errors.New("insufficient balance in source position")
)

// Channel is the two-party off-ledger account. The channel row carries the
// current sequence pointer; the signed snapshots live in the state log.
type Channel struct {
	ID              int64                  `json:"-"`
	ChannelID       string                 `json:"channel_id"`
	PartyA          string                 `json:"party_a"`
	PartyB          string                 `json:"party_b"`
	TimeoutPeriod   time.Duration          `json:"timeout_period"`
	Status          ChannelStatus          `json:"status"`
	CurrentSequence int64                  `json:"current_sequence"`
	SettlementRef   string                 `json:"settlement_ref,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
	ClosedAt        *time.Time             `json:"closed_at,omitempty"`
	MetaData        map[string]interface{} `json:"meta_data,omitempty"`
}

// IsParticipant reports whether party is one of the channel's two parties.
func (c *Channel) IsParticipant(party string) bool {
	return party == c.PartyA || party == c.PartyB
}

// Counterparty returns the other participant, or "" if party is not a
// participant at all.
func (c *Channel) Counterparty(party string) string {
	switch party {
	case c.PartyA:
		return c.PartyB
	case c.PartyB:
		return c.PartyA
	default:
		return ""
	}
}

// ValidateParties checks that from and to are exactly the channel's two
// distinct participants.
func (c *Channel) ValidateParties(from, to string) error {
	if from == to {
		return ErrInvalidParties
	}
	if !c.IsParticipant(from) || !c.IsParticipant(to) {
		return ErrInvalidParties
	}
	return nil
}
