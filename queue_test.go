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
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"

	"github.com/paychanhq/paychan/config"
)

func newTestQueue(t *testing.T) (*Queue, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("an error '%s' occurred when starting miniredis", err)
	}
	t.Cleanup(mr.Close)

	conf := &config.Configuration{
		Redis: config.RedisConfig{Dns: mr.Addr()},
	}
	config.MockConfig(conf)
	return NewQueue(conf), mr
}

func testIntent(channelID string) *PaymentIntent {
	return &PaymentIntent{
		PaymentID: "pay_" + gofakeit.UUID(),
		ChannelID: channelID,
		From:      "alice",
		To:        "bob",
		Amount:    "100",
		Reference: gofakeit.UUID(),
	}
}

func TestEnqueuePayment(t *testing.T) {
	q, mr := newTestQueue(t)
	intent := testIntent("chn_" + gofakeit.UUID())

	err := q.Enqueue(context.Background(), intent)
	assert.NoError(t, err)
	assert.NotEmpty(t, mr.Keys())
}

func TestEnqueueSameChannelSameQueue(t *testing.T) {
	q, _ := newTestQueue(t)
	channelID := "chn_" + gofakeit.UUID()

	first := q.paymentTask(testIntent(channelID), []byte(`{}`))
	second := q.paymentTask(testIntent(channelID), []byte(`{}`))
	assert.Equal(t, first.Type(), second.Type())
}

func TestGetPaymentFromQueue(t *testing.T) {
	q, _ := newTestQueue(t)
	intent := testIntent("chn_" + gofakeit.UUID())

	err := q.Enqueue(context.Background(), intent)
	assert.NoError(t, err)

	queued, err := q.GetPaymentFromQueue(intent.PaymentID)
	assert.NoError(t, err)
	if queued != nil {
		assert.Equal(t, intent.Reference, queued.Reference)
		assert.Equal(t, intent.ChannelID, queued.ChannelID)
	}
}

func TestQueueDisputeExpiry(t *testing.T) {
	q, mr := newTestQueue(t)
	disputeID := "dsp_" + gofakeit.UUID()

	err := q.queueDisputeExpiry(disputeID, "chn_"+gofakeit.UUID(), time.Now().Add(time.Hour))
	assert.NoError(t, err)
	assert.NotEmpty(t, mr.Keys())
}

func TestQueueFinalityCheck(t *testing.T) {
	q, mr := newTestQueue(t)

	err := q.queueFinalityCheck(FinalityCheckPayload{
		ChannelID:       "chn_" + gofakeit.UUID(),
		SettlementRef:   "setl_" + gofakeit.UUID(),
		SettledSequence: 4,
	}, 15*time.Second)
	assert.NoError(t, err)
	assert.NotEmpty(t, mr.Keys())
}

func TestPaymentQueueSharding(t *testing.T) {
	cfg, err := config.Fetch()
	if err != nil {
		config.MockConfig(&config.Configuration{})
		cfg, _ = config.Fetch()
	}

	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		idx := hashChannelID(fmt.Sprintf("chn_%d", i)) % cfg.Queue.NumberOfQueues
		seen[fmt.Sprintf("%s_%d", cfg.Queue.PaymentQueue, idx+1)] = true
		assert.GreaterOrEqual(t, idx, 0)
		assert.Less(t, idx, cfg.Queue.NumberOfQueues)
	}
	// 50 channels across 4 shards should touch more than one queue.
	assert.Greater(t, len(seen), 1)
}
