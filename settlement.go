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
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/paychanhq/paychan/config"
	"github.com/paychanhq/paychan/internal/apierror"
	redlock "github.com/paychanhq/paychan/internal/lock"
	"github.com/paychanhq/paychan/internal/notification"
	"github.com/paychanhq/paychan/model"
)

var settlementTracer = otel.Tracer("paychan.settlement")

// CloseChannel starts a cooperative close: the channel moves to CLOSING,
// the current state is submitted to the settlement layer with bounded
// retries, and a finality poll watches the submission until it reaches the
// confirmation depth. The channel stays CLOSING until finality confirms.
func (p *Paychan) CloseChannel(ctx context.Context, channelID string) (*model.Channel, error) {
	ctx, span := settlementTracer.Start(ctx, "Closing channel")
	defer span.End()

	// The per-channel lock covers only the transition and the state read;
	// the submitter call below can block through its whole backoff budget
	// and must never run under it.
	channel, state, err := p.markClosing(ctx, span, channelID)
	if err != nil {
		return nil, err
	}

	go func() {
		if err := notification.SendWebhook(EventChannelClosing, channel); err != nil {
			notification.NotifyError(err)
		}
	}()

	settlementRef, err := p.submitWithRetry(ctx, state)
	if err != nil {
		return nil, p.handleSettlementFailure(ctx, channel, nil, "settlement submission exhausted retries", err)
	}
	span.AddEvent("Settlement submitted", trace.WithAttributes(attribute.String("settlement.ref", settlementRef)))

	if err := p.queue.queueFinalityCheck(FinalityCheckPayload{
		ChannelID:       channelID,
		SettlementRef:   settlementRef,
		SettledSequence: state.Sequence,
	}, p.pollInterval()); err != nil {
		return nil, err
	}

	return channel, nil
}

// markClosing moves a channel from ACTIVE to CLOSING under the per-channel
// lock and reads the state that will be settled. The lock is released when
// this returns so no collaborator call ever runs while it is held.
func (p *Paychan) markClosing(ctx context.Context, span trace.Span, channelID string) (*model.Channel, *model.ChannelState, error) {
	locker, err := p.acquireLock(ctx, channelID)
	if err != nil {
		return nil, nil, logAndRecordError(span, "lock error", err)
	}
	defer func(locker *redlock.Locker, ctx context.Context) {
		err := locker.Unlock(ctx)
		if err != nil {
			logrus.Error("lock error", err)
		}
	}(locker, ctx)

	if err := p.datasource.TransitionChannelStatus(ctx, channelID, model.StatusActive, model.StatusClosing); err != nil {
		return nil, nil, err
	}

	channel, err := p.datasource.GetChannelByID(ctx, channelID)
	if err != nil {
		return nil, nil, err
	}

	state, err := p.datasource.GetCurrentState(ctx, channelID)
	if err != nil {
		return nil, nil, err
	}
	return channel, state, nil
}

// ForceClose opens a dispute: the initiating party submits the state it
// claims is latest, the channel moves to CLOSING and a timer equal to the
// channel's timeout period starts. The counterparty may supersede the claim
// with a strictly higher-sequence state before the timer fires.
func (p *Paychan) ForceClose(ctx context.Context, channelID, initiatedBy string, claimedSequence int64) (*model.Dispute, error) {
	ctx, span := settlementTracer.Start(ctx, "Force closing channel")
	defer span.End()

	locker, err := p.acquireLock(ctx, channelID)
	if err != nil {
		return nil, logAndRecordError(span, "lock error", err)
	}
	defer func(locker *redlock.Locker, ctx context.Context) {
		err := locker.Unlock(ctx)
		if err != nil {
			logrus.Error("lock error", err)
		}
	}(locker, ctx)

	channel, err := p.datasource.GetChannelByID(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if !channel.IsParticipant(initiatedBy) {
		return nil, apierror.NewAPIError(apierror.ErrInvalidParties,
			fmt.Sprintf("'%s' is not a participant of channel '%s'", initiatedBy, channelID), nil)
	}

	// The claimed state must exist in the log; the append gate already
	// guaranteed it carries both parties' authorization.
	if _, err := p.datasource.GetStateBySequence(ctx, channelID, claimedSequence); err != nil {
		return nil, err
	}

	if err := p.datasource.TransitionChannelStatus(ctx, channelID, model.StatusActive, model.StatusClosing); err != nil {
		return nil, err
	}

	dispute := &model.Dispute{
		DisputeID:       model.GenerateUUIDWithSuffix("dsp"),
		ChannelID:       channelID,
		InitiatedBy:     initiatedBy,
		ClaimedSequence: claimedSequence,
		Deadline:        time.Now().Add(channel.TimeoutPeriod),
		Status:          model.DisputeOpen,
		CreatedAt:       time.Now(),
	}
	if err := p.datasource.RecordDispute(ctx, dispute); err != nil {
		return nil, err
	}

	if err := p.queue.queueDisputeExpiry(dispute.DisputeID, channelID, dispute.Deadline); err != nil {
		return nil, logAndRecordError(span, "dispute timer error", err)
	}

	go func() {
		if err := notification.SendWebhook(EventDisputeOpened, dispute); err != nil {
			notification.NotifyError(err)
		}
	}()

	return dispute, nil
}

// CounterClaim lets the counterparty answer an open dispute with a higher
// state. A strictly higher sequence supersedes the original claim; a claim
// at the same sequence as the one currently winning is flagged for manual
// review, since two fully authorized states at one sequence should not
// exist.
func (p *Paychan) CounterClaim(ctx context.Context, channelID, party string, counterSequence int64) (*model.Dispute, error) {
	ctx, span := settlementTracer.Start(ctx, "Recording counter claim")
	defer span.End()

	locker, err := p.acquireLock(ctx, channelID)
	if err != nil {
		return nil, logAndRecordError(span, "lock error", err)
	}
	defer func(locker *redlock.Locker, ctx context.Context) {
		err := locker.Unlock(ctx)
		if err != nil {
			logrus.Error("lock error", err)
		}
	}(locker, ctx)

	dispute, err := p.datasource.GetOpenDisputeByChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if dispute.WindowExpired(time.Now()) {
		return nil, apierror.NewAPIError(apierror.ErrConflict,
			fmt.Sprintf("Dispute window for channel '%s' has already expired", channelID), nil)
	}

	channel, err := p.datasource.GetChannelByID(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if !channel.IsParticipant(party) {
		return nil, apierror.NewAPIError(apierror.ErrInvalidParties,
			fmt.Sprintf("'%s' is not a participant of channel '%s'", party, channelID), nil)
	}

	winning := dispute.ClaimedSequence
	if dispute.CounterSequence > winning {
		winning = dispute.CounterSequence
	}

	if counterSequence == winning {
		dispute.Status = model.DisputeManual
		dispute.ResolutionReason = fmt.Sprintf("competing claims at sequence %d", counterSequence)
		if err := p.datasource.UpdateDispute(ctx, dispute); err != nil {
			return nil, err
		}
		return dispute, apierror.NewAPIError(apierror.ErrConflict,
			fmt.Sprintf("Competing claims at sequence %d on channel '%s' require manual intervention", counterSequence, channelID), nil)
	}
	if counterSequence < winning {
		return nil, apierror.NewAPIError(apierror.ErrSequenceConflict,
			fmt.Sprintf("Counter claim at sequence %d does not supersede the claim at %d", counterSequence, winning), nil)
	}

	if _, err := p.datasource.GetStateBySequence(ctx, channelID, counterSequence); err != nil {
		return nil, err
	}

	dispute.CounterSequence = counterSequence
	dispute.Status = model.DisputeSuperseded
	if err := p.datasource.UpdateDispute(ctx, dispute); err != nil {
		return nil, err
	}
	if err := p.datasource.TransitionChannelStatus(ctx, channelID, model.StatusClosing, model.StatusDisputed); err != nil {
		// A later counter claim finds the channel already DISPUTED.
		if apierror.Code(err) != apierror.ErrConflict {
			return nil, err
		}
	}
	span.AddEvent("Claim superseded", trace.WithAttributes(attribute.Int64("dispute.counter_sequence", counterSequence)))

	return dispute, nil
}

// ProcessDisputeExpiry is the asynq handler that fires when a dispute
// window elapses. The highest valid claim wins and goes to settlement.
func (p *Paychan) ProcessDisputeExpiry(ctx context.Context, task *asynq.Task) error {
	ctx, span := settlementTracer.Start(ctx, "Processing dispute expiry")
	defer span.End()

	var payload DisputeExpiryPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return err
	}

	dispute, err := p.datasource.GetDispute(ctx, payload.DisputeID)
	if err != nil {
		return err
	}
	if dispute.Status != model.DisputeOpen && dispute.Status != model.DisputeSuperseded {
		// Already resolved or flagged for operators; nothing to settle.
		return nil
	}

	channel, err := p.datasource.GetChannelByID(ctx, dispute.ChannelID)
	if err != nil {
		return err
	}

	settledSequence := dispute.ClaimedSequence
	if dispute.CounterSequence > settledSequence {
		settledSequence = dispute.CounterSequence
	}
	state, err := p.datasource.GetStateBySequence(ctx, dispute.ChannelID, settledSequence)
	if err != nil {
		return err
	}

	settlementRef, err := p.submitWithRetry(ctx, state)
	if err != nil {
		return p.handleSettlementFailure(ctx, channel, dispute, "settlement submission exhausted retries", err)
	}

	if dispute.Status == model.DisputeOpen {
		dispute.Status = model.DisputeExpired
	}
	dispute.SettledSequence = settledSequence
	dispute.SettlementRef = settlementRef
	if err := p.datasource.UpdateDispute(ctx, dispute); err != nil {
		return err
	}

	go func() {
		if err := notification.SendWebhook(EventDisputeResolved, dispute); err != nil {
			notification.NotifyError(err)
		}
	}()

	return p.queue.queueFinalityCheck(FinalityCheckPayload{
		ChannelID:       dispute.ChannelID,
		DisputeID:       dispute.DisputeID,
		SettlementRef:   settlementRef,
		SettledSequence: settledSequence,
	}, p.pollInterval())
}

// ProcessFinalityCheck is the asynq handler that polls the verifier for a
// submitted settlement. Until the confirmation depth is reached it
// re-enqueues itself at the poll interval; once reached, the channel
// closes.
func (p *Paychan) ProcessFinalityCheck(ctx context.Context, task *asynq.Task) error {
	ctx, span := settlementTracer.Start(ctx, "Checking settlement finality")
	defer span.End()

	var payload FinalityCheckPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return err
	}

	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	status, err := p.verifier.Confirmations(ctx, payload.SettlementRef)
	if err != nil {
		logrus.Errorf("Error checking finality for %s: %v", payload.SettlementRef, err)
		return p.queue.queueFinalityCheck(payload, p.pollInterval())
	}
	span.AddEvent("Confirmations fetched", trace.WithAttributes(attribute.Int("settlement.confirmations", status.Confirmations)))

	if status.Superseded {
		// The ledger accepted a conflicting entry for this channel. The
		// submission will never reach finality, so stop polling and hand
		// the channel to operators.
		return p.parkSupersededSettlement(ctx, payload)
	}

	if status.Confirmations < cfg.Settlement.ConfirmationDepth {
		return p.queue.queueFinalityCheck(payload, p.pollInterval())
	}

	if err := p.datasource.CloseChannel(ctx, payload.ChannelID, payload.SettlementRef); err != nil {
		// A replayed finality task lands here once the channel is closed.
		if apierror.Code(err) == apierror.ErrConflict {
			return nil
		}
		return err
	}

	channel, err := p.datasource.GetChannelByID(ctx, payload.ChannelID)
	if err != nil {
		return err
	}
	go func() {
		if err := notification.SendWebhook(EventChannelClosed, channel); err != nil {
			notification.NotifyError(err)
		}
	}()

	return nil
}

// submitWithRetry pushes a state to the settlement submitter under an
// exponential backoff capped at the configured retry budget.
func (p *Paychan) submitWithRetry(ctx context.Context, state *model.ChannelState) (string, error) {
	cfg, err := config.Fetch()
	if err != nil {
		return "", err
	}

	var settlementRef string
	operation := func() error {
		ref, err := p.submitter.SubmitSettlement(ctx, state)
		if err != nil {
			logrus.Errorf("Settlement submission for %s failed: %v", state.ChannelID, err)
			return err
		}
		settlementRef = ref
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), cfg.Settlement.MaxRetries), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return "", apierror.NewAPIError(apierror.ErrSettlementFailed,
			fmt.Sprintf("Settlement submission for channel '%s' exhausted %d retries", state.ChannelID, cfg.Settlement.MaxRetries), err)
	}
	return settlementRef, nil
}

// parkSupersededSettlement handles a settlement that a conflicting ledger
// entry has displaced: the channel is parked DISPUTED and flagged for
// manual review. The finality task is terminal after this.
func (p *Paychan) parkSupersededSettlement(ctx context.Context, payload FinalityCheckPayload) error {
	channel, err := p.datasource.GetChannelByID(ctx, payload.ChannelID)
	if err != nil {
		return err
	}
	var dispute *model.Dispute
	if payload.DisputeID != "" {
		if dispute, err = p.datasource.GetDispute(ctx, payload.DisputeID); err != nil {
			return err
		}
	}
	cause := apierror.NewAPIError(apierror.ErrSettlementFailed,
		fmt.Sprintf("Settlement '%s' for channel '%s' was superseded by a conflicting ledger entry", payload.SettlementRef, payload.ChannelID), nil)
	p.handleSettlementFailure(ctx, channel, dispute, "settlement superseded by a conflicting ledger entry", cause)
	return nil
}

// handleSettlementFailure parks a channel whose settlement could not reach
// the ledger: the channel moves to DISPUTED, the dispute (created here if
// the close was cooperative) is flagged for manual review, and operators
// are notified.
func (p *Paychan) handleSettlementFailure(ctx context.Context, channel *model.Channel, dispute *model.Dispute, reason string, cause error) error {
	if err := p.datasource.TransitionChannelStatus(ctx, channel.ChannelID, model.StatusClosing, model.StatusDisputed); err != nil {
		logrus.Errorf("Error parking channel %s after settlement failure: %v", channel.ChannelID, err)
	}

	if dispute == nil {
		dispute = &model.Dispute{
			DisputeID:        model.GenerateUUIDWithSuffix("dsp"),
			ChannelID:        channel.ChannelID,
			InitiatedBy:      channel.PartyA,
			ClaimedSequence:  channel.CurrentSequence,
			Deadline:         time.Now(),
			Status:           model.DisputeManual,
			ResolutionReason: reason,
			CreatedAt:        time.Now(),
		}
		if err := p.datasource.RecordDispute(ctx, dispute); err != nil {
			logrus.Errorf("Error recording dispute for channel %s: %v", channel.ChannelID, err)
		}
	} else {
		dispute.Status = model.DisputeManual
		dispute.ResolutionReason = reason
		if err := p.datasource.UpdateDispute(ctx, dispute); err != nil {
			logrus.Errorf("Error updating dispute %s: %v", dispute.DisputeID, err)
		}
	}

	notification.NotifyError(cause)
	go func() {
		if err := notification.SendWebhook(EventSettlementFailed, dispute); err != nil {
			notification.NotifyError(err)
		}
	}()

	return cause
}

// RearmDisputeTimers re-enqueues expiry timers for disputes that were open
// when the process last stopped. Called on worker startup.
func (p *Paychan) RearmDisputeTimers(ctx context.Context) error {
	disputes, err := p.datasource.GetOpenDisputes(ctx, 100, 0)
	if err != nil {
		return err
	}
	for i := range disputes {
		dispute := disputes[i]
		if err := p.queue.queueDisputeExpiry(dispute.DisputeID, dispute.ChannelID, dispute.Deadline); err != nil {
			logrus.Errorf("Error re-arming dispute timer %s: %v", dispute.DisputeID, err)
		}
	}
	return nil
}

func (p *Paychan) pollInterval() time.Duration {
	cfg, err := config.Fetch()
	if err != nil {
		return 15 * time.Second
	}
	return cfg.Settlement.PollInterval()
}
