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
	"hash/fnv"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"github.com/paychanhq/paychan/config"
	redis_db "github.com/paychanhq/paychan/internal/redis-db"
)

// Queue wraps the asynq client used for queued payments, dispute-window
// timers, webhook delivery and settlement finality polling.
type Queue struct {
	Client    *asynq.Client
	Inspector *asynq.Inspector
}

// PaymentIntent is the queued form of a payment: everything ApplyPayment
// needs, serialized onto the payment queue.
type PaymentIntent struct {
	PaymentID string                 `json:"payment_id"`
	ChannelID string                 `json:"channel_id"`
	From      string                 `json:"from"`
	To        string                 `json:"to"`
	Amount    string                 `json:"amount"`
	Reference string                 `json:"reference"`
	Memo      string                 `json:"memo,omitempty"`
	MetaData  map[string]interface{} `json:"meta_data,omitempty"`
}

// DisputeExpiryPayload is carried by the timer task that fires when a
// dispute window elapses.
type DisputeExpiryPayload struct {
	DisputeID string `json:"dispute_id"`
	ChannelID string `json:"channel_id"`
}

// FinalityCheckPayload is carried by the polling task that watches a
// submitted settlement until it reaches the confirmation depth.
type FinalityCheckPayload struct {
	ChannelID       string `json:"channel_id"`
	DisputeID       string `json:"dispute_id,omitempty"`
	SettlementRef   string `json:"settlement_ref"`
	SettledSequence int64  `json:"settled_sequence"`
}

// NewQueue initializes a new Queue instance with the provided configuration.
func NewQueue(conf *config.Configuration) *Queue {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		log.Fatalf("Error parsing Redis URL: %v", err)
	}

	queueOptions := asynq.RedisClientOpt{Addr: redisOption.Addr, Password: redisOption.Password, DB: redisOption.DB, TLSConfig: redisOption.TLSConfig}
	client := asynq.NewClient(queueOptions)
	inspector := asynq.NewInspector(queueOptions)
	return &Queue{
		Client:    client,
		Inspector: inspector,
	}
}

// Enqueue places a payment intent on one of the sharded payment queues.
// All intents for the same channel land on the same queue, so payments on a
// channel are processed serially and contention stays on distinct channels.
func (q *Queue) Enqueue(ctx context.Context, intent *PaymentIntent) error {
	ctx, span := paymentTracer.Start(ctx, "Adding payment to Redis queue")
	defer span.End()

	payload, err := json.Marshal(intent)
	if err != nil {
		return err
	}
	info, err := q.Client.EnqueueContext(ctx, q.paymentTask(intent, payload))
	if err != nil {
		log.Println(err, info)
		return err
	}
	log.Printf(" [*] Successfully enqueued payment: %+v", intent.Reference)

	return nil
}

// paymentTask builds a task for a payment intent and pins it to a queue
// chosen by hashing the channel ID. The asynq TaskID doubles as a
// queue-level dedupe on the payment ID.
func (q *Queue) paymentTask(intent *PaymentIntent, payload []byte) *asynq.Task {
	cnf, err := config.Fetch()
	if err != nil {
		log.Printf("Error fetching config: %v", err)
		return nil
	}
	queueIndex := hashChannelID(intent.ChannelID) % cnf.Queue.NumberOfQueues
	queueName := fmt.Sprintf("%s_%d", cnf.Queue.PaymentQueue, queueIndex+1)

	taskOptions := []asynq.Option{
		asynq.TaskID(intent.PaymentID),
		asynq.Queue(queueName),
		asynq.MaxRetry(cnf.Queue.MaxRetryAttempts),
	}
	return asynq.NewTask(queueName, payload, taskOptions...)
}

// queueDisputeExpiry schedules the dispute-window timer: the task becomes
// processable exactly when the window deadline passes.
func (q *Queue) queueDisputeExpiry(disputeID, channelID string, deadline time.Time) error {
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(DisputeExpiryPayload{DisputeID: disputeID, ChannelID: channelID})
	if err != nil {
		return err
	}
	taskOptions := []asynq.Option{
		asynq.TaskID(disputeID),
		asynq.Queue(cfg.Queue.DisputeQueue),
		asynq.ProcessIn(time.Until(deadline)),
	}
	task := asynq.NewTask(cfg.Queue.DisputeQueue, payload, taskOptions...)
	info, err := q.Client.Enqueue(task)
	if err != nil {
		log.Println(err, info)
		return err
	}
	log.Printf(" [*] Successfully enqueued dispute expiry: %+v", disputeID)
	return nil
}

// queueFinalityCheck schedules (or reschedules) a finality poll for a
// submitted settlement.
func (q *Queue) queueFinalityCheck(check FinalityCheckPayload, delay time.Duration) error {
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(check)
	if err != nil {
		return err
	}
	taskOptions := []asynq.Option{
		asynq.Queue(cfg.Queue.FinalityQueue),
		asynq.ProcessIn(delay),
	}
	task := asynq.NewTask(cfg.Queue.FinalityQueue, payload, taskOptions...)
	info, err := q.Client.Enqueue(task)
	if err != nil {
		log.Println(err, info)
		return err
	}
	log.Printf(" [*] Successfully enqueued finality check: %+v", check.SettlementRef)
	return nil
}

// hashChannelID returns a consistent hash value for a channel ID.
func hashChannelID(channelID string) int {
	hasher := fnv.New32a()
	_, _ = hasher.Write([]byte(channelID))
	return int(hasher.Sum32())
}

// GetPaymentFromQueue retrieves a queued payment intent by its payment ID,
// checking each sharded payment queue in turn.
func (q *Queue) GetPaymentFromQueue(paymentID string) (*PaymentIntent, error) {
	cfg, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	for i := 1; i <= cfg.Queue.NumberOfQueues; i++ {
		queueName := fmt.Sprintf("%s_%d", cfg.Queue.PaymentQueue, i)
		task, err := q.Inspector.GetTaskInfo(queueName, paymentID)
		if err == nil && task != nil {
			var intent PaymentIntent
			if err := json.Unmarshal(task.Payload, &intent); err != nil {
				return nil, err
			}
			return &intent, nil
		}
	}
	return nil, nil // Return nil if the payment is not found in any queue
}
