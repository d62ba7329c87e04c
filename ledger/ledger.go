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

// Package ledger holds the clients for the external settlement layer: a
// submitter that anchors a final channel state on the underlying ledger and
// a verifier that reports how deeply a settlement is confirmed.
package ledger

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/paychanhq/paychan/config"
	"github.com/paychanhq/paychan/internal/request"
	"github.com/paychanhq/paychan/model"
)

// Submitter anchors a final channel state on the settlement ledger. The
// returned reference identifies the settlement for finality checks.
type Submitter interface {
	SubmitSettlement(ctx context.Context, state *model.ChannelState) (string, error)
}

// Verifier reports the confirmation count of a submitted settlement and
// whether a conflicting ledger entry has superseded it. Finality is a
// policy decision made by the caller against a configured confirmation
// depth; a superseded settlement never becomes final.
type Verifier interface {
	Confirmations(ctx context.Context, settlementRef string) (*ConfirmationResponse, error)
}

// SubmissionRequest is the wire payload sent to the settlement service.
type SubmissionRequest struct {
	ChannelID string `json:"channel_id"`
	Sequence  int64  `json:"sequence"`
	BalanceA  string `json:"balance_a"`
	BalanceB  string `json:"balance_b"`
}

// SubmissionResponse is the settlement service's acknowledgement.
type SubmissionResponse struct {
	SettlementRef string `json:"settlement_ref"`
}

// ConfirmationResponse is the finality service's report.
type ConfirmationResponse struct {
	SettlementRef string `json:"settlement_ref"`
	Confirmations int    `json:"confirmations"`
	Superseded    bool   `json:"superseded"`
}

// HTTPSubmitter submits settlements to a remote ledger-settlement service
// over JSON/HTTP.
type HTTPSubmitter struct {
	baseURL string
	headers map[string]string
	timeout time.Duration
}

func NewHTTPSubmitter(cfg config.SettlementConfig) *HTTPSubmitter {
	return &HTTPSubmitter{
		baseURL: cfg.SubmitterURL,
		headers: cfg.Headers,
		timeout: time.Duration(cfg.TimeoutSec) * time.Second,
	}
}

func (s *HTTPSubmitter) SubmitSettlement(ctx context.Context, state *model.ChannelState) (string, error) {
	state.InitializeBalanceFields()

	payload, err := request.ToJsonReq(SubmissionRequest{
		ChannelID: state.ChannelID,
		Sequence:  state.Sequence,
		BalanceA:  state.BalanceA.String(),
		BalanceB:  state.BalanceB.String(),
	})
	if err != nil {
		return "", errors.Wrap(err, "failed to encode settlement submission")
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "POST", fmt.Sprintf("%s/settlements", s.baseURL), payload)
	if err != nil {
		return "", errors.Wrap(err, "failed to build settlement request")
	}
	for key, value := range s.headers {
		req.Header.Set(key, value)
	}

	var response SubmissionResponse
	resp, err := request.Call(req, &response)
	if err != nil {
		return "", errors.Wrap(err, "settlement submission failed")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", errors.Errorf("settlement submission rejected with status %d", resp.StatusCode)
	}
	if response.SettlementRef == "" {
		return "", errors.New("settlement service returned no settlement reference")
	}
	return response.SettlementRef, nil
}

// HTTPVerifier queries a remote finality-verification service.
type HTTPVerifier struct {
	baseURL string
	headers map[string]string
	timeout time.Duration
}

func NewHTTPVerifier(cfg config.SettlementConfig) *HTTPVerifier {
	return &HTTPVerifier{
		baseURL: cfg.VerifierURL,
		headers: cfg.Headers,
		timeout: time.Duration(cfg.TimeoutSec) * time.Second,
	}
}

func (v *HTTPVerifier) Confirmations(ctx context.Context, settlementRef string) (*ConfirmationResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", fmt.Sprintf("%s/settlements/%s/confirmations", v.baseURL, settlementRef), nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build confirmation request")
	}
	for key, value := range v.headers {
		req.Header.Set(key, value)
	}

	var response ConfirmationResponse
	resp, err := request.Call(req, &response)
	if err != nil {
		return nil, errors.Wrap(err, "confirmation check failed")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errors.Errorf("confirmation check rejected with status %d", resp.StatusCode)
	}
	return &response, nil
}
