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
	"math/big"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// decimalString validates that a value parses as a non-negative base-10
// integer string.
func decimalString(value interface{}) error {
	s, _ := value.(string)
	amount, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return errors.New("must be a base-10 integer string")
	}
	if amount.Sign() < 0 {
		return errors.New("must not be negative")
	}
	return nil
}

func positiveDecimalString(value interface{}) error {
	s, _ := value.(string)
	amount, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return errors.New("must be a base-10 integer string")
	}
	if amount.Sign() <= 0 {
		return errors.New("must be positive")
	}
	return nil
}

func (ch *CreateChannel) ValidateCreateChannel() error {
	return validation.ValidateStruct(ch,
		validation.Field(&ch.PartyA, validation.Required),
		validation.Field(&ch.PartyB, validation.Required, validation.By(func(interface{}) error {
			if ch.PartyA != "" && ch.PartyA == ch.PartyB {
				return errors.New("must differ from party_a")
			}
			return nil
		})),
		validation.Field(&ch.DepositA, validation.Required, validation.By(decimalString)),
		validation.Field(&ch.DepositB, validation.Required, validation.By(decimalString)),
		validation.Field(&ch.TimeoutSeconds, validation.Required, validation.Min(1)),
	)
}

func (p *ApplyPayment) ValidateApplyPayment() error {
	return validation.ValidateStruct(p,
		validation.Field(&p.From, validation.Required),
		validation.Field(&p.To, validation.Required),
		validation.Field(&p.Amount, validation.Required, validation.By(positiveDecimalString)),
		validation.Field(&p.Reference, validation.Required),
	)
}

func (f *ForceClose) ValidateForceClose() error {
	return validation.ValidateStruct(f,
		validation.Field(&f.InitiatedBy, validation.Required),
		validation.Field(&f.ClaimedSequence, validation.Min(0)),
	)
}

func (cc *CounterClaim) ValidateCounterClaim() error {
	return validation.ValidateStruct(cc,
		validation.Field(&cc.Party, validation.Required),
		validation.Field(&cc.CounterSequence, validation.Required, validation.Min(1)),
	)
}
