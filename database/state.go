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
	"fmt"
	"log"
	"time"

	"github.com/lib/pq"

	"github.com/paychanhq/paychan/internal/apierror"
	"github.com/paychanhq/paychan/model"
)

func currentStateCacheKey(channelID string) string {
	return fmt.Sprintf("channel:state:%s", channelID)
}

// AppendState appends a signed state at state.Sequence using a
// compare-and-append guard: the channel's sequence pointer only advances
// when it still sits at state.Sequence-1. A concurrent append moves the
// pointer first and every loser observes a sequence conflict. The pointer
// update and the state insert commit in one transaction.
func (d Datasource) AppendState(ctx context.Context, state *model.ChannelState) (*model.ChannelState, error) {
	state.InitializeBalanceFields()

	tx, err := d.Conn.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelDefault})
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	result, err := tx.ExecContext(ctx, `
		UPDATE paychan.channels
		SET current_sequence = $2
		WHERE channel_id = $1 AND current_sequence = $2 - 1
	`, state.ChannelID, state.Sequence)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to advance sequence pointer", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return nil, apierror.NewAPIError(apierror.ErrSequenceConflict,
			fmt.Sprintf("Sequence conflict on channel '%s': state %d does not extend the current sequence", state.ChannelID, state.Sequence), nil)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO paychan.channel_states (state_id, channel_id, sequence, balance_a, balance_b, authorization_a, authorization_b, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, state.StateID, state.ChannelID, state.Sequence, state.BalanceA.String(), state.BalanceB.String(), state.AuthorizationA, state.AuthorizationB, state.CreatedAt)
	if err != nil {
		pqErr, ok := err.(*pq.Error)
		if ok && pqErr.Code.Name() == "unique_violation" {
			return nil, apierror.NewAPIError(apierror.ErrSequenceConflict,
				fmt.Sprintf("Sequence conflict on channel '%s': a state at sequence %d already exists", state.ChannelID, state.Sequence), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record channel state", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit transaction", err)
	}

	if d.Cache != nil {
		if err := d.Cache.Delete(ctx, currentStateCacheKey(state.ChannelID)); err != nil {
			log.Printf("Failed to invalidate state cache: %v", err)
		}
	}

	return state, nil
}

// GetCurrentState retrieves the highest-sequence state of a channel. Hot
// channels are served from cache; AppendState invalidates the entry when
// the sequence advances.
func (d Datasource) GetCurrentState(ctx context.Context, channelID string) (*model.ChannelState, error) {
	cacheKey := currentStateCacheKey(channelID)
	if d.Cache != nil {
		var cached model.ChannelState
		if err := d.Cache.Get(ctx, cacheKey, &cached); err == nil && cached.StateID != "" {
			cached.InitializeBalanceFields()
			return &cached, nil
		}
	}

	row := d.Conn.QueryRowContext(ctx, `
		SELECT state_id, channel_id, sequence, balance_a, balance_b, authorization_a, authorization_b, created_at
		FROM paychan.channel_states
		WHERE channel_id = $1
		ORDER BY sequence DESC
		LIMIT 1
	`, channelID)

	state, err := scanChannelState(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("No state found for channel '%s'", channelID), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan channel state", err)
	}

	if d.Cache != nil {
		if err := d.Cache.Set(ctx, cacheKey, state, 5*time.Minute); err != nil {
			// Log the error, but don't return it as the main operation succeeded
			log.Printf("Failed to cache channel state: %v", err)
		}
	}
	return state, nil
}

// GetStateBySequence retrieves one snapshot from the state log.
func (d Datasource) GetStateBySequence(ctx context.Context, channelID string, sequence int64) (*model.ChannelState, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT state_id, channel_id, sequence, balance_a, balance_b, authorization_a, authorization_b, created_at
		FROM paychan.channel_states
		WHERE channel_id = $1 AND sequence = $2
	`, channelID, sequence)

	state, err := scanChannelState(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound,
				fmt.Sprintf("State at sequence %d not found for channel '%s'", sequence, channelID), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan channel state", err)
	}
	return state, nil
}

// GetStateHistory retrieves states ordered by ascending sequence.
func (d Datasource) GetStateHistory(ctx context.Context, channelID string, limit, offset int) ([]model.ChannelState, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT state_id, channel_id, sequence, balance_a, balance_b, authorization_a, authorization_b, created_at
		FROM paychan.channel_states
		WHERE channel_id = $1
		ORDER BY sequence ASC
		LIMIT $2 OFFSET $3
	`, channelID, limit, offset)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve state history", err)
	}
	defer rows.Close()

	states := []model.ChannelState{}
	for rows.Next() {
		state, err := scanChannelState(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan channel state", err)
		}
		states = append(states, *state)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating states", err)
	}
	return states, nil
}

func scanChannelState(row rowScanner) (*model.ChannelState, error) {
	var state model.ChannelState
	var balanceAValue, balanceBValue string

	err := row.Scan(
		&state.StateID,
		&state.ChannelID,
		&state.Sequence,
		&balanceAValue,
		&balanceBValue,
		&state.AuthorizationA,
		&state.AuthorizationB,
		&state.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if state.BalanceA, err = model.StringToBigInt(balanceAValue); err != nil {
		return nil, err
	}
	if state.BalanceB, err = model.StringToBigInt(balanceBValue); err != nil {
		return nil, err
	}
	return &state, nil
}
