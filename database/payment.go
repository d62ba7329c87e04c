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

	"github.com/lib/pq"

	"github.com/paychanhq/paychan/internal/apierror"
	"github.com/paychanhq/paychan/model"
)

// RecordPayment inserts a payment history row. The unique reference column
// backs idempotent replay detection.
func (d Datasource) RecordPayment(ctx context.Context, pmt *model.Payment) (*model.Payment, error) {
	metaDataJSON, err := json.Marshal(pmt.MetaData)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal metadata", err)
	}

	if pmt.Amount == nil {
		return nil, apierror.NewAPIError(apierror.ErrInvalidAmount, "Payment amount is required", nil)
	}

	_, err = d.Conn.ExecContext(ctx, `
		INSERT INTO paychan.payments (payment_id, channel_id, sender, recipient, amount, memo, reference, sequence, created_at, meta_data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, pmt.PaymentID, pmt.ChannelID, pmt.From, pmt.To, pmt.Amount.String(), pmt.Memo, pmt.Reference, pmt.Sequence, pmt.CreatedAt, metaDataJSON)
	if err != nil {
		pqErr, ok := err.(*pq.Error)
		if ok && pqErr.Code.Name() == "unique_violation" {
			return nil, apierror.NewAPIError(apierror.ErrConflict, "Payment with this reference already exists", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record payment", err)
	}

	return pmt, nil
}

// GetPaymentByRef retrieves a payment by its client-supplied reference.
func (d Datasource) GetPaymentByRef(ctx context.Context, reference string) (model.Payment, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT payment_id, channel_id, sender, recipient, amount, memo, reference, sequence, created_at, meta_data
		FROM paychan.payments
		WHERE reference = $1
	`, reference)

	pmt, err := scanPayment(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return model.Payment{}, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Payment with reference '%s' not found", reference), err)
		}
		return model.Payment{}, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan payment data", err)
	}
	return *pmt, nil
}

// PaymentExistsByRef checks whether a payment with the given reference has
// already been applied.
func (d Datasource) PaymentExistsByRef(ctx context.Context, reference string) (bool, error) {
	var exists bool
	err := d.Conn.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM paychan.payments WHERE reference = $1)
	`, reference).Scan(&exists)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to check payment existence", err)
	}
	return exists, nil
}

// GetPaymentsByChannel retrieves a channel's payments ordered by ascending
// sequence.
func (d Datasource) GetPaymentsByChannel(ctx context.Context, channelID string, limit, offset int) ([]model.Payment, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT payment_id, channel_id, sender, recipient, amount, memo, reference, sequence, created_at, meta_data
		FROM paychan.payments
		WHERE channel_id = $1
		ORDER BY sequence ASC
		LIMIT $2 OFFSET $3
	`, channelID, limit, offset)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve payments", err)
	}
	defer rows.Close()

	payments := []model.Payment{}
	for rows.Next() {
		pmt, err := scanPayment(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan payment data", err)
		}
		payments = append(payments, *pmt)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating payments", err)
	}
	return payments, nil
}

func scanPayment(row rowScanner) (*model.Payment, error) {
	var pmt model.Payment
	var amountValue string
	var memo sql.NullString
	var metaDataJSON []byte

	err := row.Scan(
		&pmt.PaymentID,
		&pmt.ChannelID,
		&pmt.From,
		&pmt.To,
		&amountValue,
		&memo,
		&pmt.Reference,
		&pmt.Sequence,
		&pmt.CreatedAt,
		&metaDataJSON,
	)
	if err != nil {
		return nil, err
	}

	if pmt.Amount, err = model.StringToBigInt(amountValue); err != nil {
		return nil, err
	}
	if memo.Valid {
		pmt.Memo = memo.String
	}
	if len(metaDataJSON) > 0 {
		if err := json.Unmarshal(metaDataJSON, &pmt.MetaData); err != nil {
			return nil, err
		}
	}
	return &pmt, nil
}
