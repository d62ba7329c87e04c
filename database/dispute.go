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

	"github.com/lib/pq"

	"github.com/paychanhq/paychan/internal/apierror"
	"github.com/paychanhq/paychan/model"
)

// RecordDispute inserts a force-close dispute record.
func (d Datasource) RecordDispute(ctx context.Context, dsp *model.Dispute) error {
	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO paychan.disputes (dispute_id, channel_id, initiated_by, claimed_sequence, counter_sequence, deadline, status, settled_sequence, settlement_ref, resolution_reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, dsp.DisputeID, dsp.ChannelID, dsp.InitiatedBy, dsp.ClaimedSequence, nullableSequence(dsp.CounterSequence), dsp.Deadline, dsp.Status, nullableSequence(dsp.SettledSequence), dsp.SettlementRef, dsp.ResolutionReason, dsp.CreatedAt)
	if err != nil {
		pqErr, ok := err.(*pq.Error)
		if ok && pqErr.Code.Name() == "unique_violation" {
			return apierror.NewAPIError(apierror.ErrConflict, "Dispute with this ID already exists", err)
		}
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record dispute", err)
	}
	return nil
}

// GetDispute retrieves a dispute by its ID.
func (d Datasource) GetDispute(ctx context.Context, id string) (*model.Dispute, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT dispute_id, channel_id, initiated_by, claimed_sequence, counter_sequence, deadline, status, settled_sequence, settlement_ref, resolution_reason, created_at
		FROM paychan.disputes
		WHERE dispute_id = $1
	`, id)

	dsp, err := scanDispute(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Dispute with ID '%s' not found", id), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan dispute data", err)
	}
	return dsp, nil
}

// GetOpenDisputeByChannel retrieves the running dispute for a channel, if
// any. A channel carries at most one running dispute at a time; a
// superseded dispute still runs until its window expires, so it stays
// eligible for further counter claims.
func (d Datasource) GetOpenDisputeByChannel(ctx context.Context, channelID string) (*model.Dispute, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT dispute_id, channel_id, initiated_by, claimed_sequence, counter_sequence, deadline, status, settled_sequence, settlement_ref, resolution_reason, created_at
		FROM paychan.disputes
		WHERE channel_id = $1 AND status IN ($2, $3)
		ORDER BY created_at DESC
		LIMIT 1
	`, channelID, model.DisputeOpen, model.DisputeSuperseded)

	dsp, err := scanDispute(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("No open dispute for channel '%s'", channelID), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan dispute data", err)
	}
	return dsp, nil
}

// UpdateDispute persists the mutable resolution fields of a dispute.
func (d Datasource) UpdateDispute(ctx context.Context, dsp *model.Dispute) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE paychan.disputes
		SET counter_sequence = $2, status = $3, settled_sequence = $4, settlement_ref = $5, resolution_reason = $6
		WHERE dispute_id = $1
	`, dsp.DisputeID, nullableSequence(dsp.CounterSequence), dsp.Status, nullableSequence(dsp.SettledSequence), dsp.SettlementRef, dsp.ResolutionReason)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update dispute", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Dispute with ID '%s' not found", dsp.DisputeID), nil)
	}
	return nil
}

// GetOpenDisputes retrieves open disputes in a paginated manner. Used on
// startup to re-arm expiry timers for windows that were running when the
// process stopped.
func (d Datasource) GetOpenDisputes(ctx context.Context, limit, offset int) ([]model.Dispute, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT dispute_id, channel_id, initiated_by, claimed_sequence, counter_sequence, deadline, status, settled_sequence, settlement_ref, resolution_reason, created_at
		FROM paychan.disputes
		WHERE status = $1
		ORDER BY deadline ASC
		LIMIT $2 OFFSET $3
	`, model.DisputeOpen, limit, offset)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve disputes", err)
	}
	defer rows.Close()

	disputes := []model.Dispute{}
	for rows.Next() {
		dsp, err := scanDispute(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan dispute data", err)
		}
		disputes = append(disputes, *dsp)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating disputes", err)
	}
	return disputes, nil
}

func nullableSequence(seq int64) sql.NullInt64 {
	if seq == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: seq, Valid: true}
}

func scanDispute(row rowScanner) (*model.Dispute, error) {
	var dsp model.Dispute
	var counterSequence, settledSequence sql.NullInt64
	var settlementRef, resolutionReason sql.NullString

	err := row.Scan(
		&dsp.DisputeID,
		&dsp.ChannelID,
		&dsp.InitiatedBy,
		&dsp.ClaimedSequence,
		&counterSequence,
		&dsp.Deadline,
		&dsp.Status,
		&settledSequence,
		&settlementRef,
		&resolutionReason,
		&dsp.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if counterSequence.Valid {
		dsp.CounterSequence = counterSequence.Int64
	}
	if settledSequence.Valid {
		dsp.SettledSequence = settledSequence.Int64
	}
	if settlementRef.Valid {
		dsp.SettlementRef = settlementRef.String
	}
	if resolutionReason.Valid {
		dsp.ResolutionReason = resolutionReason.String
	}
	return &dsp, nil
}
