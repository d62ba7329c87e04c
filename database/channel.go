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

package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/paychanhq/paychan/internal/apierror"
	"github.com/paychanhq/paychan/model"
)

// CreateChannel inserts a channel together with its fully authorized
// sequence-0 opening state in a single transaction. A channel without an
// opening state never exists.
func (d Datasource) CreateChannel(ctx context.Context, channel model.Channel, opening *model.ChannelState) (model.Channel, error) {
	metaDataJSON, err := json.Marshal(channel.MetaData)
	if err != nil {
		return model.Channel{}, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal metadata", err)
	}

	opening.InitializeBalanceFields()

	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return model.Channel{}, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO paychan.channels (channel_id, party_a, party_b, status, current_sequence, timeout_period_seconds, created_at, meta_data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, channel.ChannelID, channel.PartyA, channel.PartyB, channel.Status, channel.CurrentSequence, int64(channel.TimeoutPeriod.Seconds()), channel.CreatedAt, metaDataJSON)
	if err != nil {
		pqErr, ok := err.(*pq.Error)
		if ok {
			switch pqErr.Code.Name() {
			case "unique_violation":
				return model.Channel{}, apierror.NewAPIError(apierror.ErrConflict, "Channel with this ID already exists", err)
			default:
				return model.Channel{}, apierror.NewAPIError(apierror.ErrInternalServer, "Database error occurred", err)
			}
		}
		return model.Channel{}, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create channel", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO paychan.channel_states (state_id, channel_id, sequence, balance_a, balance_b, authorization_a, authorization_b, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, opening.StateID, opening.ChannelID, opening.Sequence, opening.BalanceA.String(), opening.BalanceB.String(), opening.AuthorizationA, opening.AuthorizationB, opening.CreatedAt)
	if err != nil {
		return model.Channel{}, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record opening state", err)
	}

	if err := tx.Commit(); err != nil {
		return model.Channel{}, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit transaction", err)
	}

	return channel, nil
}

// GetChannelByID retrieves a channel by its ID.
func (d Datasource) GetChannelByID(ctx context.Context, id string) (*model.Channel, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT channel_id, party_a, party_b, status, current_sequence, timeout_period_seconds, settlement_ref, created_at, closed_at, meta_data
		FROM paychan.channels
		WHERE channel_id = $1
	`, id)

	channel, err := scanChannel(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Channel with ID '%s' not found", id), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan channel data", err)
	}
	return channel, nil
}

// GetAllChannels retrieves channels in a paginated manner, newest first.
func (d Datasource) GetAllChannels(ctx context.Context, limit, offset int) ([]model.Channel, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT channel_id, party_a, party_b, status, current_sequence, timeout_period_seconds, settlement_ref, created_at, closed_at, meta_data
		FROM paychan.channels
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve channels", err)
	}
	defer rows.Close()

	return collectChannels(rows)
}

// GetChannelsByParticipant retrieves the channels a party is a member of,
// on either side.
func (d Datasource) GetChannelsByParticipant(ctx context.Context, participant string, limit, offset int) ([]model.Channel, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT channel_id, party_a, party_b, status, current_sequence, timeout_period_seconds, settlement_ref, created_at, closed_at, meta_data
		FROM paychan.channels
		WHERE party_a = $1 OR party_b = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, participant, limit, offset)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve channels", err)
	}
	defer rows.Close()

	return collectChannels(rows)
}

// GetChannelsByStatus retrieves channels filtered by lifecycle status.
func (d Datasource) GetChannelsByStatus(ctx context.Context, status model.ChannelStatus, limit, offset int) ([]model.Channel, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT channel_id, party_a, party_b, status, current_sequence, timeout_period_seconds, settlement_ref, created_at, closed_at, meta_data
		FROM paychan.channels
		WHERE status = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, status, limit, offset)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve channels", err)
	}
	defer rows.Close()

	return collectChannels(rows)
}

// TransitionChannelStatus moves a channel from one lifecycle status to
// another, guarded on the current status so concurrent transitions cannot
// race each other.
func (d Datasource) TransitionChannelStatus(ctx context.Context, id string, from, to model.ChannelStatus) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE paychan.channels
		SET status = $3
		WHERE channel_id = $1 AND status = $2
	`, id, from, to)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update channel status", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Channel '%s' is not in %s status", id, from), nil)
	}
	return nil
}

// CloseChannel marks a channel CLOSED and records the ledger settlement
// anchor. The guard excludes CLOSED so a replayed close cannot overwrite the
// original anchor.
func (d Datasource) CloseChannel(ctx context.Context, id string, settlementRef string) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE paychan.channels
		SET status = $2, settlement_ref = $3, closed_at = NOW()
		WHERE channel_id = $1 AND status != $2
	`, id, model.StatusClosed, settlementRef)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to close channel", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Channel '%s' is already closed", id), nil)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanChannel(row rowScanner) (*model.Channel, error) {
	var channel model.Channel
	var timeoutSeconds int64
	var settlementRef sql.NullString
	var closedAt sql.NullTime
	var metaDataJSON []byte

	err := row.Scan(
		&channel.ChannelID,
		&channel.PartyA,
		&channel.PartyB,
		&channel.Status,
		&channel.CurrentSequence,
		&timeoutSeconds,
		&settlementRef,
		&channel.CreatedAt,
		&closedAt,
		&metaDataJSON,
	)
	if err != nil {
		return nil, err
	}

	channel.TimeoutPeriod = time.Duration(timeoutSeconds) * time.Second
	if settlementRef.Valid {
		channel.SettlementRef = settlementRef.String
	}
	if closedAt.Valid {
		t := closedAt.Time
		channel.ClosedAt = &t
	}
	if len(metaDataJSON) > 0 {
		if err := json.Unmarshal(metaDataJSON, &channel.MetaData); err != nil {
			return nil, err
		}
	}
	return &channel, nil
}

func collectChannels(rows *sql.Rows) ([]model.Channel, error) {
	channels := []model.Channel{}
	for rows.Next() {
		channel, err := scanChannel(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan channel data", err)
		}
		channels = append(channels, *channel)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating channels", err)
	}
	return channels, nil
}
