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
	"embed"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/paychanhq/paychan/config"
	"github.com/paychanhq/paychan/database"
	"github.com/paychanhq/paychan/internal/notification"
	redis_db "github.com/paychanhq/paychan/internal/redis-db"
	"github.com/paychanhq/paychan/ledger"
	"github.com/paychanhq/paychan/model"
)

// SQLFiles holds the managed schema migrations applied by the migrate
// command.
//
//go:embed sql/*.sql
var SQLFiles embed.FS

// Paychan is the payment-channel engine: the state-transition core, the
// settlement coordinator, and their supporting queue all hang off this
// struct.
type Paychan struct {
	queue      *Queue
	redis      redis.UniversalClient
	datasource database.IDataSource
	authorizer model.Authorizer
	submitter  ledger.Submitter
	verifier   ledger.Verifier
}

// NewPaychan initializes the engine with the provided datasource. The
// authorizer derives per-party signing keys from the server secret; the
// settlement collaborators are plain HTTP clients over the configured URLs.
func NewPaychan(db database.IDataSource) (*Paychan, error) {
	configuration, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	redisClient, err := redis_db.NewRedisClient([]string{fmt.Sprintf("redis://%s", configuration.Redis.Dns)}, configuration.Redis.SkipTLSVerify)
	if err != nil {
		return nil, err
	}
	newQueue := NewQueue(configuration)

	newPaychan := &Paychan{
		datasource: db,
		queue:      newQueue,
		redis:      redisClient.Client(),
		authorizer: model.NewDerivedHMACAuthorizer([]byte(configuration.Server.SecretKey)),
		submitter:  ledger.NewHTTPSubmitter(configuration.Settlement),
		verifier:   ledger.NewHTTPVerifier(configuration.Settlement),
	}
	notification.RegisterWebhookSender(func(event string, payload interface{}) error {
		return SendWebhook(NewWebhook{Event: event, Payload: payload})
	})
	return newPaychan, nil
}

// WithAuthorizer swaps the authorization scheme. Ledger-specific signature
// verifiers plug in here.
func (p *Paychan) WithAuthorizer(auth model.Authorizer) *Paychan {
	p.authorizer = auth
	return p
}

// WithSettlementLayer swaps the settlement collaborators.
func (p *Paychan) WithSettlementLayer(submitter ledger.Submitter, verifier ledger.Verifier) *Paychan {
	p.submitter = submitter
	p.verifier = verifier
	return p
}

// Queue exposes the task queue, used by the workers binary.
func (p *Paychan) Queue() *Queue {
	return p.queue
}

// PingRedis verifies the redis connection is alive. Used by the health
// endpoint alongside the database ping.
func (p *Paychan) PingRedis(ctx context.Context) error {
	return p.redis.Ping(ctx).Err()
}
