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
	"math/big"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/paychanhq/paychan/config"
	"github.com/paychanhq/paychan/internal/apierror"
	redlock "github.com/paychanhq/paychan/internal/lock"
	"github.com/paychanhq/paychan/internal/notification"
	"github.com/paychanhq/paychan/model"
)

var paymentTracer = otel.Tracer("paychan.payments")

// PaymentRequest describes one value transfer between the channel's two
// participants. Reference is the caller-supplied idempotency key.
type PaymentRequest struct {
	ChannelID string
	From      string
	To        string
	Amount    *big.Int
	Reference string
	Memo      string
	MetaData  map[string]interface{}
}

func logAndRecordError(span trace.Span, msg string, err error) error {
	span.RecordError(err)
	logrus.Error(msg, err)
	return err
}

// acquireLock takes the per-channel lock so that payments on one channel
// apply serially even when callers race across processes.
func (p *Paychan) acquireLock(ctx context.Context, channelID string) (*redlock.Locker, error) {
	locker := redlock.NewLocker(p.redis, channelID, model.GenerateUUIDWithSuffix("loc"))
	err := locker.Lock(ctx, time.Minute*30)
	if err != nil {
		return nil, err
	}
	return locker, nil
}

// ApplyPayment applies a payment to a channel: computes the successor state
// off the current snapshot, collects both parties' authorization, appends it
// behind the sequence guard and records the payment projection.
//
// Replays are resolved by reference: a payment whose reference was already
// applied returns the stored result without touching the state log.
func (p *Paychan) ApplyPayment(ctx context.Context, req *PaymentRequest) (*model.Payment, error) {
	ctx, span := paymentTracer.Start(ctx, "Applying payment")
	defer span.End()

	if req.Reference == "" {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "Payment reference is required", nil)
	}

	locker, err := p.acquireLock(ctx, req.ChannelID)
	if err != nil {
		return nil, logAndRecordError(span, "lock error", err)
	}
	defer func(locker *redlock.Locker, ctx context.Context) {
		err := locker.Unlock(ctx)
		if err != nil {
			logrus.Error("lock error", err)
		}
	}(locker, ctx)

	if existing, err := p.datasource.GetPaymentByRef(ctx, req.Reference); err == nil {
		span.AddEvent("Replayed payment resolved by reference")
		return &existing, nil
	} else if apierror.Code(err) != apierror.ErrNotFound {
		return nil, logAndRecordError(span, "reference lookup error", err)
	}

	channel, err := p.datasource.GetChannelByID(ctx, req.ChannelID)
	if err != nil {
		return nil, err
	}
	if channel.Status != model.StatusActive {
		return nil, apierror.NewAPIError(apierror.ErrChannelNotActive,
			fmt.Sprintf("Channel '%s' is %s, payments require an active channel", channel.ChannelID, channel.Status), nil)
	}

	prev, err := p.datasource.GetCurrentState(ctx, channel.ChannelID)
	if err != nil {
		return nil, err
	}

	next, err := model.NextState(channel, prev, req.From, req.To, req.Amount)
	if err != nil {
		return nil, mapStateError(err)
	}
	if err := p.authorizeState(channel, next); err != nil {
		return nil, err
	}

	if _, err := p.datasource.AppendState(ctx, next); err != nil {
		return nil, logAndRecordError(span, "append state error", err)
	}

	payment := &model.Payment{
		PaymentID: model.GenerateUUIDWithSuffix("pay"),
		ChannelID: channel.ChannelID,
		From:      req.From,
		To:        req.To,
		Amount:    new(big.Int).Set(req.Amount),
		Memo:      req.Memo,
		Reference: req.Reference,
		Sequence:  next.Sequence,
		CreatedAt: next.CreatedAt,
		MetaData:  req.MetaData,
	}
	payment, err = p.datasource.RecordPayment(ctx, payment)
	if err != nil {
		logrus.Errorf("ERROR saving payment to db. %s", err)
		return nil, err
	}

	p.postPaymentActions(ctx, payment)

	return payment, nil
}

func (p *Paychan) postPaymentActions(_ context.Context, payment *model.Payment) {
	go func() {
		err := notification.SendWebhook(EventPaymentApplied, payment)
		if err != nil {
			notification.NotifyError(err)
		}
	}()
}

// QueuePayment validates a payment request and places it on the sharded
// payment queue instead of applying it inline. The returned intent carries
// the generated payment ID the caller can poll with.
func (p *Paychan) QueuePayment(ctx context.Context, req *PaymentRequest) (*PaymentIntent, error) {
	ctx, span := paymentTracer.Start(ctx, "Queuing payment")
	defer span.End()

	if req.Reference == "" {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "Payment reference is required", nil)
	}
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return nil, apierror.NewAPIError(apierror.ErrInvalidAmount, "Payment amount must be positive", nil)
	}

	channel, err := p.datasource.GetChannelByID(ctx, req.ChannelID)
	if err != nil {
		return nil, err
	}
	if err := channel.ValidateParties(req.From, req.To); err != nil {
		return nil, mapStateError(err)
	}

	intent := &PaymentIntent{
		PaymentID: model.GenerateUUIDWithSuffix("pay"),
		ChannelID: req.ChannelID,
		From:      req.From,
		To:        req.To,
		Amount:    req.Amount.String(),
		Reference: req.Reference,
		Memo:      req.Memo,
		MetaData:  req.MetaData,
	}
	if err := p.queue.Enqueue(ctx, intent); err != nil {
		notification.NotifyError(err)
		logrus.Errorf("Error queuing payment: %v", err)
		return nil, err
	}
	return intent, nil
}

// ProcessPaymentFromQueue is the asynq handler for the payment queues. A
// sequence conflict here means a competing append won while the intent sat
// queued; the retry recomputes off the fresh current state. An uncovered
// payment is rejected outright unless the queue is configured to retry it,
// in which case it retries up to the queue's retry budget.
func (p *Paychan) ProcessPaymentFromQueue(ctx context.Context, task *asynq.Task) error {
	var intent PaymentIntent
	if err := json.Unmarshal(task.Payload(), &intent); err != nil {
		return err
	}

	amount, ok := new(big.Int).SetString(intent.Amount, 10)
	if !ok {
		return apierror.NewAPIError(apierror.ErrInvalidAmount,
			fmt.Sprintf("Queued payment '%s' carries a malformed amount", intent.PaymentID), nil)
	}

	_, err := p.ApplyPayment(ctx, &PaymentRequest{
		ChannelID: intent.ChannelID,
		From:      intent.From,
		To:        intent.To,
		Amount:    amount,
		Reference: intent.Reference,
		Memo:      intent.Memo,
		MetaData:  intent.MetaData,
	})
	if err != nil {
		if apierror.Code(err) == apierror.ErrInsufficientBalance {
			cfg, _ := config.Fetch()
			if !cfg.Queue.InsufficientFunds {
				return p.rejectQueuedPayment(&intent, err)
			}

			retryCount, _ := asynq.GetRetryCount(ctx)
			if retryCount >= cfg.Queue.MaxRetryAttempts {
				return p.rejectQueuedPayment(&intent, fmt.Errorf("max retry attempts reached with insufficient balance"))
			}

			logrus.Infof("Insufficient balance for payment %s, retry attempt %d/%d",
				intent.PaymentID, retryCount, cfg.Queue.MaxRetryAttempts)
			return err // This will trigger a retry
		}
		return err
	}
	return nil
}

// rejectQueuedPayment drops an intent that will never apply and tells the
// sender why over the webhook channel.
func (p *Paychan) rejectQueuedPayment(intent *PaymentIntent, cause error) error {
	logrus.Errorf("Rejecting payment %s: %v", intent.PaymentID, cause)
	return notification.SendWebhook(EventPaymentRejected, map[string]interface{}{
		"payment_id": intent.PaymentID,
		"channel_id": intent.ChannelID,
		"reference":  intent.Reference,
		"reason":     cause.Error(),
	})
}

// GetPaymentByRef retrieves an applied payment by its idempotency reference.
func (p *Paychan) GetPaymentByRef(ctx context.Context, reference string) (model.Payment, error) {
	return p.datasource.GetPaymentByRef(ctx, reference)
}

// mapStateError lifts the model package's sentinel errors into the API
// error taxonomy.
func mapStateError(err error) error {
	switch err {
	case model.ErrInvalidAmount:
		return apierror.NewAPIError(apierror.ErrInvalidAmount, "Payment amount must be positive", err)
	case model.ErrInvalidParties:
		return apierror.NewAPIError(apierror.ErrInvalidParties, "Payment parties do not match the channel participants", err)
	case model.ErrInsufficientBalance:
		return apierror.NewAPIError(apierror.ErrInsufficientBalance, "Sender position cannot cover the payment amount", err)
	case model.ErrInvalidParticipants:
		return apierror.NewAPIError(apierror.ErrInvalidParticipants, "Channel requires two distinct parties", err)
	default:
		return err
	}
}
