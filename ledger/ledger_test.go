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

package ledger

import (
	"context"
	"math/big"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"

	"github.com/paychanhq/paychan/config"
	"github.com/paychanhq/paychan/model"
)

func settlementConfig() config.SettlementConfig {
	return config.SettlementConfig{
		SubmitterURL:      "http://settlement.example.com",
		VerifierURL:       "http://finality.example.com",
		Headers:           map[string]string{"Authorization": "Bearer test-token"},
		ConfirmationDepth: 6,
		TimeoutSec:        5,
	}
}

func finalState() *model.ChannelState {
	return &model.ChannelState{
		StateID:   model.GenerateUUIDWithSuffix("stt"),
		ChannelID: "chn_123",
		Sequence:  9,
		BalanceA:  big.NewInt(91000),
		BalanceB:  big.NewInt(9000),
	}
}

func TestSubmitSettlement_Success(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("POST", "http://settlement.example.com/settlements",
		httpmock.NewStringResponder(200, `{"settlement_ref": "setl_abc123"}`))

	submitter := NewHTTPSubmitter(settlementConfig())
	ref, err := submitter.SubmitSettlement(context.Background(), finalState())
	assert.NoError(t, err)
	assert.Equal(t, "setl_abc123", ref)
}

func TestSubmitSettlement_Rejected(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("POST", "http://settlement.example.com/settlements",
		httpmock.NewStringResponder(502, `{"error": "ledger unavailable"}`))

	submitter := NewHTTPSubmitter(settlementConfig())
	_, err := submitter.SubmitSettlement(context.Background(), finalState())
	assert.Error(t, err)
}

func TestSubmitSettlement_MissingReference(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("POST", "http://settlement.example.com/settlements",
		httpmock.NewStringResponder(200, `{}`))

	submitter := NewHTTPSubmitter(settlementConfig())
	_, err := submitter.SubmitSettlement(context.Background(), finalState())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "no settlement reference")
}

func TestConfirmations_Success(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("GET", "http://finality.example.com/settlements/setl_abc123/confirmations",
		httpmock.NewStringResponder(200, `{"settlement_ref": "setl_abc123", "confirmations": 4}`))

	verifier := NewHTTPVerifier(settlementConfig())
	status, err := verifier.Confirmations(context.Background(), "setl_abc123")
	assert.NoError(t, err)
	assert.Equal(t, 4, status.Confirmations)
	assert.False(t, status.Superseded)
}

func TestConfirmations_ReportsSupersededSettlement(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("GET", "http://finality.example.com/settlements/setl_abc123/confirmations",
		httpmock.NewStringResponder(200, `{"settlement_ref": "setl_abc123", "confirmations": 2, "superseded": true}`))

	verifier := NewHTTPVerifier(settlementConfig())
	status, err := verifier.Confirmations(context.Background(), "setl_abc123")
	assert.NoError(t, err)
	assert.True(t, status.Superseded)
}

func TestConfirmations_ServiceError(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("GET", "http://finality.example.com/settlements/setl_abc123/confirmations",
		httpmock.NewStringResponder(500, `{"error": "internal"}`))

	verifier := NewHTTPVerifier(settlementConfig())
	_, err := verifier.Confirmations(context.Background(), "setl_abc123")
	assert.Error(t, err)
}
