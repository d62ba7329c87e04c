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
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"

	"github.com/paychanhq/paychan/config"
)

func TestSendWebhook(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("an error '%s' occurred when starting miniredis", err)
	}
	defer mr.Close()

	mockConfig := &config.Configuration{
		Redis: config.RedisConfig{Dns: mr.Addr()},
	}
	mockConfig.Notification.Webhook.Url = "https://localhost:5001/webhook"
	config.MockConfig(mockConfig)

	testData := NewWebhook{
		Event:   EventChannelOpened,
		Payload: map[string]interface{}{"channel_id": "chn_123"},
	}

	err = SendWebhook(testData)
	assert.NoError(t, err)

	// Verify that the task was enqueued
	tasks := mr.Keys()
	assert.NotEmpty(t, tasks)
}

func TestSendWebhookNoURLConfigured(t *testing.T) {
	config.MockConfig(&config.Configuration{})

	err := SendWebhook(NewWebhook{Event: EventChannelClosed, Payload: nil})
	assert.NoError(t, err)
}

func TestProcessWebhook(t *testing.T) {
	received := make(chan NewWebhook, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var hook NewWebhook
		_ = json.NewDecoder(r.Body).Decode(&hook)
		received <- hook
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}))
	defer server.Close()

	mockConfig := &config.Configuration{}
	mockConfig.Notification.Webhook.Url = server.URL
	config.MockConfig(mockConfig)

	payload, err := json.Marshal(NewWebhook{
		Event:   EventPaymentApplied,
		Payload: map[string]interface{}{"payment_id": "pay_123"},
	})
	assert.NoError(t, err)

	err = ProcessWebhook(context.Background(), asynq.NewTask("new:webhook", payload))
	assert.NoError(t, err)

	hook := <-received
	assert.Equal(t, EventPaymentApplied, hook.Event)
}

func TestProcessWebhookNoURLConfigured(t *testing.T) {
	config.MockConfig(&config.Configuration{})

	err := ProcessWebhook(context.Background(), asynq.NewTask("new:webhook", []byte(`{}`)))
	assert.NoError(t, err)
}
