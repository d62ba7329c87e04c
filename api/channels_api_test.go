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

package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/paychanhq/paychan"
	model2 "github.com/paychanhq/paychan/api/model"
	"github.com/paychanhq/paychan/cache"
	"github.com/paychanhq/paychan/config"
	"github.com/paychanhq/paychan/database"
	"github.com/paychanhq/paychan/model"
)

type TestRequest struct {
	Payload  io.Reader
	Router   *gin.Engine
	Response interface{}
	Method   string
	Route    string
	Header   map[string]string
}

func SetUpTestRequest(s TestRequest) (*httptest.ResponseRecorder, error) {
	req := httptest.NewRequest(s.Method, s.Route, s.Payload)
	for key, value := range s.Header {
		req.Header.Set(key, value)
	}
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	s.Router.ServeHTTP(resp, req)

	err := json.NewDecoder(resp.Body).Decode(&s.Response)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func setupRouter(t *testing.T) (*gin.Engine, sqlmock.Sqlmock) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("an error '%s' occurred when starting miniredis", err)
	}
	t.Cleanup(mr.Close)

	config.MockConfig(&config.Configuration{
		Server: config.ServerConfig{SecretKey: "test-secret"},
		Redis:  config.RedisConfig{Dns: mr.Addr()},
	})

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database Connection", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	newCache, err := cache.NewCache()
	assert.NoError(t, err)

	datasource := &database.Datasource{Conn: db, Cache: newCache}
	engine, err := paychan.NewPaychan(datasource)
	if err != nil {
		t.Fatalf("Error creating Paychan instance: %s", err)
	}
	return NewAPI(engine, datasource).Router(), mock
}

func channelRows(channelID string, status model.ChannelStatus, sequence int64) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"channel_id", "party_a", "party_b", "status", "current_sequence",
		"timeout_period_seconds", "settlement_ref", "created_at", "closed_at", "meta_data",
	}).AddRow(channelID, "alice", "bob", status, sequence, int64(3600), nil, time.Now(), nil, []byte(`{}`))
}

func TestCreateChannelAPI(t *testing.T) {
	router, mock := setupRouter(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO paychan.channels").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO paychan.channel_states").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	body, _ := json.Marshal(model2.CreateChannel{
		PartyA:         "alice",
		PartyB:         "bob",
		DepositA:       "600",
		DepositB:       "400",
		TimeoutSeconds: 3600,
	})

	var response model.Channel
	resp, err := SetUpTestRequest(TestRequest{
		Payload:  bytes.NewBuffer(body),
		Router:   router,
		Response: &response,
		Method:   http.MethodPost,
		Route:    "/channels",
	})
	assert.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.Code)
	assert.Contains(t, response.ChannelID, "chn_")
	assert.Equal(t, model.StatusOpen, response.Status)
}

func TestCreateChannelAPIValidation(t *testing.T) {
	router, _ := setupRouter(t)

	body, _ := json.Marshal(model2.CreateChannel{
		PartyA:         "alice",
		PartyB:         "alice",
		DepositA:       "600",
		DepositB:       "400",
		TimeoutSeconds: 3600,
	})

	var response map[string]interface{}
	resp, err := SetUpTestRequest(TestRequest{
		Payload:  bytes.NewBuffer(body),
		Router:   router,
		Response: &response,
		Method:   http.MethodPost,
		Route:    "/channels",
	})
	assert.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestGetChannelAPINotFound(t *testing.T) {
	router, mock := setupRouter(t)
	channelID := "chn_" + gofakeit.UUID()

	mock.ExpectQuery("SELECT channel_id").
		WithArgs(channelID).
		WillReturnRows(sqlmock.NewRows([]string{
			"channel_id", "party_a", "party_b", "status", "current_sequence",
			"timeout_period_seconds", "settlement_ref", "created_at", "closed_at", "meta_data",
		}))

	var response map[string]interface{}
	resp, err := SetUpTestRequest(TestRequest{
		Router:   router,
		Response: &response,
		Method:   http.MethodGet,
		Route:    "/channels/" + channelID,
	})
	assert.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestApplyPaymentAPIChannelNotActive(t *testing.T) {
	router, mock := setupRouter(t)
	channelID := "chn_" + gofakeit.UUID()
	reference := gofakeit.UUID()

	mock.ExpectQuery("SELECT payment_id").
		WithArgs(reference).
		WillReturnRows(sqlmock.NewRows([]string{
			"payment_id", "channel_id", "sender", "recipient", "amount",
			"memo", "reference", "sequence", "created_at", "meta_data",
		}))
	mock.ExpectQuery("SELECT channel_id").
		WithArgs(channelID).
		WillReturnRows(channelRows(channelID, model.StatusOpen, 0))

	body, _ := json.Marshal(model2.ApplyPayment{
		From:      "alice",
		To:        "bob",
		Amount:    "100",
		Reference: reference,
	})

	var response map[string]interface{}
	resp, err := SetUpTestRequest(TestRequest{
		Payload:  bytes.NewBuffer(body),
		Router:   router,
		Response: &response,
		Method:   http.MethodPost,
		Route:    "/channels/" + channelID + "/payments",
	})
	assert.NoError(t, err)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
}

func TestApplyPaymentAPIValidation(t *testing.T) {
	router, _ := setupRouter(t)

	body, _ := json.Marshal(model2.ApplyPayment{
		From:   "alice",
		To:     "bob",
		Amount: "not-a-number",
	})

	var response map[string]interface{}
	resp, err := SetUpTestRequest(TestRequest{
		Payload:  bytes.NewBuffer(body),
		Router:   router,
		Response: &response,
		Method:   http.MethodPost,
		Route:    "/channels/chn_123/payments",
	})
	assert.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestForceCloseAPI(t *testing.T) {
	router, mock := setupRouter(t)
	channelID := "chn_" + gofakeit.UUID()

	mock.ExpectQuery("SELECT channel_id").
		WithArgs(channelID).
		WillReturnRows(channelRows(channelID, model.StatusActive, 3))
	mock.ExpectQuery("SELECT state_id").
		WithArgs(channelID, int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{
			"state_id", "channel_id", "sequence", "balance_a", "balance_b",
			"authorization_a", "authorization_b", "created_at",
		}).AddRow("stt_1", channelID, int64(3), int64(300), int64(700), "a", "b", time.Now()))
	mock.ExpectExec("UPDATE paychan.channels").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO paychan.disputes").
		WillReturnResult(sqlmock.NewResult(1, 1))

	body, _ := json.Marshal(model2.ForceClose{InitiatedBy: "alice", ClaimedSequence: 3})

	var response model.Dispute
	resp, err := SetUpTestRequest(TestRequest{
		Payload:  bytes.NewBuffer(body),
		Router:   router,
		Response: &response,
		Method:   http.MethodPost,
		Route:    "/channels/" + channelID + "/force-close",
	})
	assert.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.Code)
	assert.Equal(t, model.DisputeOpen, response.Status)
	assert.Contains(t, response.DisputeID, "dsp_")
}

func TestHealthEndpoint(t *testing.T) {
	router, _ := setupRouter(t)

	var response map[string]interface{}
	resp, err := SetUpTestRequest(TestRequest{
		Router:   router,
		Response: &response,
		Method:   http.MethodGet,
		Route:    "/health",
	})
	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "healthy", response["status"])
}
