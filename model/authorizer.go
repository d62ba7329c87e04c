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
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

var (
	ErrAuthorizationMissing = errors.New("state is missing a party's authorization")
	ErrAuthorizationInvalid = errors.New("authorization token does not verify for this state")
	ErrUnknownParty         = errors.New("no signing authority registered for party")
)

// Authorizer is the signing-authority capability each party holds. The engine
// is deliberately agnostic of the underlying proof mechanism: anything that
// can produce a token over a state digest and later verify it works. A state
// is only appendable once both parties' tokens verify.
type Authorizer interface {
	// Authorize produces party's authorization token over the state.
	Authorize(party string, state *ChannelState) (string, error)
	// Verify checks that token is party's valid authorization of the state.
	Verify(party string, state *ChannelState, token string) error
}

// HMACAuthorizer authorizes states with per-party HMAC-SHA256 keys. It is the
// default scheme for deployments where the service custodies both parties'
// signing material; ledger-specific signature schemes plug in behind the same
// interface.
type HMACAuthorizer struct {
	keys map[string][]byte
}

// NewHMACAuthorizer builds an authorizer over a party -> secret key map.
func NewHMACAuthorizer(keys map[string][]byte) *HMACAuthorizer {
	cp := make(map[string][]byte, len(keys))
	for party, key := range keys {
		cp[party] = append([]byte(nil), key...)
	}
	return &HMACAuthorizer{keys: cp}
}

// RegisterParty installs (or replaces) the signing key for a party.
func (a *HMACAuthorizer) RegisterParty(party string, key []byte) {
	if a.keys == nil {
		a.keys = make(map[string][]byte)
	}
	a.keys[party] = append([]byte(nil), key...)
}

func (a *HMACAuthorizer) token(party string, state *ChannelState) (string, error) {
	key, ok := a.keys[party]
	if !ok {
		return "", ErrUnknownParty
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(state.Digest()))
	mac.Write([]byte(party))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

func (a *HMACAuthorizer) Authorize(party string, state *ChannelState) (string, error) {
	return a.token(party, state)
}

func (a *HMACAuthorizer) Verify(party string, state *ChannelState, token string) error {
	if token == "" {
		return ErrAuthorizationMissing
	}
	expected, err := a.token(party, state)
	if err != nil {
		return err
	}
	if !hmac.Equal([]byte(expected), []byte(token)) {
		return ErrAuthorizationInvalid
	}
	return nil
}

// DerivedHMACAuthorizer derives each party's HMAC key from a master secret
// on demand, so parties never need explicit registration. Used when the
// service custodies the signing material for every participant.
type DerivedHMACAuthorizer struct {
	master []byte
}

func NewDerivedHMACAuthorizer(master []byte) *DerivedHMACAuthorizer {
	return &DerivedHMACAuthorizer{master: append([]byte(nil), master...)}
}

func (a *DerivedHMACAuthorizer) partyKey(party string) []byte {
	mac := hmac.New(sha256.New, a.master)
	mac.Write([]byte("party-key:" + party))
	return mac.Sum(nil)
}

func (a *DerivedHMACAuthorizer) token(party string, state *ChannelState) string {
	mac := hmac.New(sha256.New, a.partyKey(party))
	mac.Write([]byte(state.Digest()))
	mac.Write([]byte(party))
	return hex.EncodeToString(mac.Sum(nil))
}

func (a *DerivedHMACAuthorizer) Authorize(party string, state *ChannelState) (string, error) {
	return a.token(party, state), nil
}

func (a *DerivedHMACAuthorizer) Verify(party string, state *ChannelState, token string) error {
	if token == "" {
		return ErrAuthorizationMissing
	}
	if !hmac.Equal([]byte(a.token(party, state)), []byte(token)) {
		return ErrAuthorizationInvalid
	}
	return nil
}

// VerifyState checks both parties' tokens on a state against the channel's
// participants. It is the dual-authorization gate used before any append and
// before accepting a counter-claim.
func VerifyState(auth Authorizer, channel *Channel, state *ChannelState) error {
	if !state.FullyAuthorized() {
		return ErrAuthorizationMissing
	}
	if err := auth.Verify(channel.PartyA, state, state.AuthorizationA); err != nil {
		return err
	}
	return auth.Verify(channel.PartyB, state, state.AuthorizationB)
}
