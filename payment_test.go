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
	"database/sql"
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"

	"github.com/paychanhq/paychan/config"
	"github.com/paychanhq/paychan/internal/apierror"
	"github.com/paychanhq/paychan/model"
)

func testPaymentRequest(channelID string) *PaymentRequest {
	return &PaymentRequest{
		ChannelID: channelID,
		From:      "alice",
		To:        "bob",
		Amount:    big.NewInt(100),
		Reference: gofakeit.UUID(),
	}
}

func TestApplyPayment(t *testing.T) {
	engine, mock := newTestEngine(t)
	channelID := "chn_" + gofakeit.UUID()
	req := testPaymentRequest(channelID)

	mock.ExpectQuery("SELECT payment_id").
		WithArgs(req.Reference).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("SELECT channel_id").
		WithArgs(channelID).
		WillReturnRows(channelRows(channelID, model.StatusActive, 0))
	mock.ExpectQuery("SELECT state_id").
		WithArgs(channelID).
		WillReturnRows(stateRows(channelID, 0, 600, 400))
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE paychan.channels").
		WithArgs(channelID, int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO paychan.channel_states").
		WithArgs(sqlmock.AnyArg(), channelID, int64(1), "500", "500", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
	mock.ExpectExec("INSERT INTO paychan.payments").
		WithArgs(sqlmock.AnyArg(), channelID, "alice", "bob", "100", "", req.Reference, int64(1), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	payment, err := engine.ApplyPayment(context.Background(), req)
	assert.NoError(t, err)
	assert.Contains(t, payment.PaymentID, "pay_")
	assert.Equal(t, int64(1), payment.Sequence)
	assert.Equal(t, req.Reference, payment.Reference)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestApplyPaymentReplayReturnsStoredResult(t *testing.T) {
	engine, mock := newTestEngine(t)
	channelID := "chn_" + gofakeit.UUID()
	req := testPaymentRequest(channelID)

	mock.ExpectQuery("SELECT payment_id").
		WithArgs(req.Reference).
		WillReturnRows(sqlmock.NewRows([]string{
			"payment_id", "channel_id", "sender", "recipient", "amount",
			"memo", "reference", "sequence", "created_at", "meta_data",
		}).AddRow("pay_stored", channelID, "alice", "bob", int64(100), nil, req.Reference, int64(1), time.Now(), []byte(`{}`)))

	payment, err := engine.ApplyPayment(context.Background(), req)
	assert.NoError(t, err)
	assert.Equal(t, "pay_stored", payment.PaymentID)
	assert.Equal(t, int64(1), payment.Sequence)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestApplyPaymentChannelNotActive(t *testing.T) {
	engine, mock := newTestEngine(t)
	channelID := "chn_" + gofakeit.UUID()
	req := testPaymentRequest(channelID)

	mock.ExpectQuery("SELECT payment_id").
		WithArgs(req.Reference).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("SELECT channel_id").
		WithArgs(channelID).
		WillReturnRows(channelRows(channelID, model.StatusOpen, 0))

	_, err := engine.ApplyPayment(context.Background(), req)
	assert.Error(t, err)
	assert.Equal(t, apierror.ErrChannelNotActive, apierror.Code(err))
}

func TestApplyPaymentInsufficientBalance(t *testing.T) {
	engine, mock := newTestEngine(t)
	channelID := "chn_" + gofakeit.UUID()
	req := testPaymentRequest(channelID)
	req.Amount = big.NewInt(700)

	mock.ExpectQuery("SELECT payment_id").
		WithArgs(req.Reference).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("SELECT channel_id").
		WithArgs(channelID).
		WillReturnRows(channelRows(channelID, model.StatusActive, 0))
	mock.ExpectQuery("SELECT state_id").
		WithArgs(channelID).
		WillReturnRows(stateRows(channelID, 0, 600, 400))

	_, err := engine.ApplyPayment(context.Background(), req)
	assert.Error(t, err)
	assert.Equal(t, apierror.ErrInsufficientBalance, apierror.Code(err))
}

func TestApplyPaymentStrangerRejected(t *testing.T) {
	engine, mock := newTestEngine(t)
	channelID := "chn_" + gofakeit.UUID()
	req := testPaymentRequest(channelID)
	req.From = "mallory"

	mock.ExpectQuery("SELECT payment_id").
		WithArgs(req.Reference).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("SELECT channel_id").
		WithArgs(channelID).
		WillReturnRows(channelRows(channelID, model.StatusActive, 0))
	mock.ExpectQuery("SELECT state_id").
		WithArgs(channelID).
		WillReturnRows(stateRows(channelID, 0, 600, 400))

	_, err := engine.ApplyPayment(context.Background(), req)
	assert.Error(t, err)
	assert.Equal(t, apierror.ErrInvalidParties, apierror.Code(err))
}

func TestApplyPaymentSequenceConflict(t *testing.T) {
	engine, mock := newTestEngine(t)
	channelID := "chn_" + gofakeit.UUID()
	req := testPaymentRequest(channelID)

	mock.ExpectQuery("SELECT payment_id").
		WithArgs(req.Reference).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("SELECT channel_id").
		WithArgs(channelID).
		WillReturnRows(channelRows(channelID, model.StatusActive, 0))
	mock.ExpectQuery("SELECT state_id").
		WithArgs(channelID).
		WillReturnRows(stateRows(channelID, 0, 600, 400))
	mock.ExpectBegin()
	// A competing append advanced the pointer first; the guard rejects.
	mock.ExpectExec("UPDATE paychan.channels").
		WithArgs(channelID, int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := engine.ApplyPayment(context.Background(), req)
	assert.Error(t, err)
	assert.Equal(t, apierror.ErrSequenceConflict, apierror.Code(err))
}

func TestApplyPaymentRequiresReference(t *testing.T) {
	engine, _ := newTestEngine(t)
	req := testPaymentRequest("chn_" + gofakeit.UUID())
	req.Reference = ""

	_, err := engine.ApplyPayment(context.Background(), req)
	assert.Error(t, err)
	assert.Equal(t, apierror.ErrInvalidInput, apierror.Code(err))
}

func TestQueuePayment(t *testing.T) {
	engine, mock := newTestEngine(t)
	channelID := "chn_" + gofakeit.UUID()
	req := testPaymentRequest(channelID)

	mock.ExpectQuery("SELECT channel_id").
		WithArgs(channelID).
		WillReturnRows(channelRows(channelID, model.StatusActive, 0))

	intent, err := engine.QueuePayment(context.Background(), req)
	assert.NoError(t, err)
	assert.Contains(t, intent.PaymentID, "pay_")
	assert.Equal(t, "100", intent.Amount)

	queued, err := engine.Queue().GetPaymentFromQueue(intent.PaymentID)
	assert.NoError(t, err)
	if queued != nil {
		assert.Equal(t, req.Reference, queued.Reference)
	}
}

func TestQueuePaymentRejectsNonPositiveAmount(t *testing.T) {
	engine, _ := newTestEngine(t)
	req := testPaymentRequest("chn_" + gofakeit.UUID())
	req.Amount = big.NewInt(0)

	_, err := engine.QueuePayment(context.Background(), req)
	assert.Error(t, err)
	assert.Equal(t, apierror.ErrInvalidAmount, apierror.Code(err))
}

func queuedIntentTask(t *testing.T, channelID string, amount string) *asynq.Task {
	t.Helper()
	intent := PaymentIntent{
		PaymentID: "pay_" + gofakeit.UUID(),
		ChannelID: channelID,
		From:      "alice",
		To:        "bob",
		Amount:    amount,
		Reference: gofakeit.UUID(),
	}
	payload, err := json.Marshal(intent)
	if err != nil {
		t.Fatalf("marshal intent: %v", err)
	}
	return asynq.NewTask("new:payment_1", payload)
}

// With insufficient-balance retries off (the default), an uncovered queued
// payment is dropped rather than pushed back for retry.
func TestProcessPaymentFromQueueRejectsUncoveredPayment(t *testing.T) {
	engine, mock := newTestEngine(t)
	channelID := "chn_" + gofakeit.UUID()
	task := queuedIntentTask(t, channelID, "700")

	mock.ExpectQuery("SELECT payment_id").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("SELECT channel_id").
		WithArgs(channelID).
		WillReturnRows(channelRows(channelID, model.StatusActive, 0))
	mock.ExpectQuery("SELECT state_id").
		WithArgs(channelID).
		WillReturnRows(stateRows(channelID, 0, 600, 400))

	err := engine.ProcessPaymentFromQueue(context.Background(), task)
	assert.NoError(t, err)
}

// With retries enabled the handler hands the error back to asynq so the
// payment gets another attempt against a fresher state.
func TestProcessPaymentFromQueueRetriesUncoveredPaymentWhenConfigured(t *testing.T) {
	engine, mock, mr := newTestEngineWithRedis(t)
	channelID := "chn_" + gofakeit.UUID()
	task := queuedIntentTask(t, channelID, "700")

	config.MockConfig(&config.Configuration{
		Server: config.ServerConfig{SecretKey: "test-secret"},
		Redis:  config.RedisConfig{Dns: mr.Addr()},
		Queue:  config.QueueConfig{InsufficientFunds: true},
	})

	mock.ExpectQuery("SELECT payment_id").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("SELECT channel_id").
		WithArgs(channelID).
		WillReturnRows(channelRows(channelID, model.StatusActive, 0))
	mock.ExpectQuery("SELECT state_id").
		WithArgs(channelID).
		WillReturnRows(stateRows(channelID, 0, 600, 400))

	err := engine.ProcessPaymentFromQueue(context.Background(), task)
	assert.Error(t, err)
	assert.Equal(t, apierror.ErrInsufficientBalance, apierror.Code(err))
}

func TestProcessPaymentFromQueueRejectsMalformedAmount(t *testing.T) {
	engine, _ := newTestEngine(t)
	task := queuedIntentTask(t, "chn_"+gofakeit.UUID(), "not-a-number")

	err := engine.ProcessPaymentFromQueue(context.Background(), task)
	assert.Error(t, err)
	assert.Equal(t, apierror.ErrInvalidAmount, apierror.Code(err))
}
