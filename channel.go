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

package paychan

import (
	"context"
	"math/big"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/paychanhq/paychan/internal/apierror"
	"github.com/paychanhq/paychan/internal/notification"
	"github.com/paychanhq/paychan/model"
)

var channelTracer = otel.Tracer("paychan.channels")

// OpenChannelRequest carries everything needed to open a channel: the two
// participants, their initial deposits, and the dispute timeout both sides
// agreed to.
type OpenChannelRequest struct {
	PartyA        string
	PartyB        string
	DepositA      *big.Int
	DepositB      *big.Int
	TimeoutPeriod time.Duration
	MetaData      map[string]interface{}
}

// OpenChannel creates a channel in OPEN status together with its sequence-0
// opening state. The opening state carries both parties' authorization over
// the initial deposit split; a channel whose opening state does not verify
// is never persisted.
func (p *Paychan) OpenChannel(ctx context.Context, req OpenChannelRequest) (*model.Channel, error) {
	ctx, span := channelTracer.Start(ctx, "OpenChannel")
	defer span.End()

	if req.PartyA == "" || req.PartyB == "" || req.PartyA == req.PartyB {
		return nil, apierror.NewAPIError(apierror.ErrInvalidParticipants, "Channel requires two distinct parties", nil)
	}
	if req.DepositA == nil || req.DepositB == nil || req.DepositA.Sign() < 0 || req.DepositB.Sign() < 0 {
		return nil, apierror.NewAPIError(apierror.ErrInvalidAmount, "Deposits must be non-negative", nil)
	}
	if new(big.Int).Add(req.DepositA, req.DepositB).Sign() <= 0 {
		return nil, apierror.NewAPIError(apierror.ErrInvalidAmount, "Channel requires a positive total deposit", nil)
	}
	if req.TimeoutPeriod <= 0 {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "Timeout period must be positive", nil)
	}

	channel := model.Channel{
		ChannelID:       model.GenerateUUIDWithSuffix("chn"),
		PartyA:          req.PartyA,
		PartyB:          req.PartyB,
		Status:          model.StatusOpen,
		CurrentSequence: 0,
		TimeoutPeriod:   req.TimeoutPeriod,
		CreatedAt:       time.Now(),
		MetaData:        req.MetaData,
	}

	opening := &model.ChannelState{
		StateID:   model.GenerateUUIDWithSuffix("stt"),
		ChannelID: channel.ChannelID,
		Sequence:  0,
		BalanceA:  new(big.Int).Set(req.DepositA),
		BalanceB:  new(big.Int).Set(req.DepositB),
		CreatedAt: time.Now(),
	}
	if err := p.authorizeState(&channel, opening); err != nil {
		return nil, err
	}

	created, err := p.datasource.CreateChannel(ctx, channel, opening)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.AddEvent("Channel opened", trace.WithAttributes(attribute.String("channel.id", created.ChannelID)))

	go func() {
		if err := notification.SendWebhook(EventChannelOpened, created); err != nil {
			notification.NotifyError(err)
		}
	}()
	return &created, nil
}

// ActivateChannel moves an OPEN channel to ACTIVE once both parties have
// acknowledged funding. Payments are rejected until this transition runs.
func (p *Paychan) ActivateChannel(ctx context.Context, channelID string) (*model.Channel, error) {
	ctx, span := channelTracer.Start(ctx, "ActivateChannel")
	defer span.End()

	if err := p.datasource.TransitionChannelStatus(ctx, channelID, model.StatusOpen, model.StatusActive); err != nil {
		span.RecordError(err)
		return nil, err
	}

	channel, err := p.datasource.GetChannelByID(ctx, channelID)
	if err != nil {
		return nil, err
	}

	go func() {
		if err := notification.SendWebhook(EventChannelActive, channel); err != nil {
			notification.NotifyError(err)
		}
	}()
	return channel, nil
}

// GetChannel retrieves a channel by ID.
func (p *Paychan) GetChannel(ctx context.Context, channelID string) (*model.Channel, error) {
	return p.datasource.GetChannelByID(ctx, channelID)
}

// ListChannels retrieves channels in a paginated manner.
func (p *Paychan) ListChannels(ctx context.Context, limit, offset int) ([]model.Channel, error) {
	return p.datasource.GetAllChannels(ctx, limit, offset)
}

// ListChannelsByParticipant retrieves the channels a party is a member of,
// on either side.
func (p *Paychan) ListChannelsByParticipant(ctx context.Context, participant string, limit, offset int) ([]model.Channel, error) {
	return p.datasource.GetChannelsByParticipant(ctx, participant, limit, offset)
}

// GetCurrentState returns the latest signed snapshot of a channel.
func (p *Paychan) GetCurrentState(ctx context.Context, channelID string) (*model.ChannelState, error) {
	return p.datasource.GetCurrentState(ctx, channelID)
}

// GetBalance returns the two positions at the channel's current state.
func (p *Paychan) GetBalance(ctx context.Context, channelID string) (*model.ChannelState, error) {
	return p.GetCurrentState(ctx, channelID)
}

// GetStateHistory returns the channel's state log in ascending sequence
// order.
func (p *Paychan) GetStateHistory(ctx context.Context, channelID string, limit, offset int) ([]model.ChannelState, error) {
	return p.datasource.GetStateHistory(ctx, channelID, limit, offset)
}

// GetPaymentHistory returns the channel's payment records in ascending
// sequence order.
func (p *Paychan) GetPaymentHistory(ctx context.Context, channelID string, limit, offset int) ([]model.Payment, error) {
	return p.datasource.GetPaymentsByChannel(ctx, channelID, limit, offset)
}

// GetDispute retrieves a dispute record by ID.
func (p *Paychan) GetDispute(ctx context.Context, disputeID string) (*model.Dispute, error) {
	return p.datasource.GetDispute(ctx, disputeID)
}

// authorizeState collects both parties' tokens on a state and verifies the
// pair. Nothing reaches the log without passing this gate.
func (p *Paychan) authorizeState(channel *model.Channel, state *model.ChannelState) error {
	tokenA, err := p.authorizer.Authorize(channel.PartyA, state)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrAuthorizationInvalid, "Failed to authorize state for party A", err)
	}
	tokenB, err := p.authorizer.Authorize(channel.PartyB, state)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrAuthorizationInvalid, "Failed to authorize state for party B", err)
	}
	state.AuthorizationA = tokenA
	state.AuthorizationB = tokenB

	if err := model.VerifyState(p.authorizer, channel, state); err != nil {
		return apierror.NewAPIError(apierror.ErrAuthorizationInvalid, "State authorization does not verify", err)
	}
	return nil
}

