package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentRequest is one delivered payment link. All rows of a split share a
// BatchID.
type PaymentRequest struct {
	BatchID          uuid.UUID       `json:"batch_id"`
	SessionID        string          `json:"session_id"`
	ParticipantIndex int             `json:"participant_index"`
	ParticipantCount int             `json:"participant_count"`
	Merchant         string          `json:"merchant"`
	FiatAmount       decimal.Decimal `json:"fiat_amount"`
	Currency         string          `json:"currency"`
	CryptoAmount     decimal.Decimal `json:"crypto_amount"`
	Asset            string          `json:"asset"`
	Rate             decimal.Decimal `json:"rate"`
	QuotedAt         time.Time       `json:"quoted_at"`
	ChainID          int64           `json:"chain_id"`
	Address          string          `json:"address"`
	URI              string          `json:"uri"`
	CreatedAt        time.Time       `json:"created_at"`
}

// RecordPaymentRequests stores a whole split in one transaction.
func (db *DB) RecordPaymentRequests(ctx context.Context, reqs []PaymentRequest) error {
	if len(reqs) == 0 {
		return nil
	}
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, r := range reqs {
		if _, err := tx.Exec(ctx,
			`INSERT INTO payment_requests
			   (batch_id, session_id, participant_index, participant_count, merchant,
			    fiat_amount, currency, crypto_amount, asset, rate, quoted_at, chain_id, address, uri)
			 VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8::numeric, $9, $10::numeric, $11, $12, $13, $14)`,
			r.BatchID.String(), r.SessionID, r.ParticipantIndex, r.ParticipantCount, r.Merchant,
			r.FiatAmount.String(), r.Currency, r.CryptoAmount.String(), r.Asset, r.Rate.String(),
			r.QuotedAt, r.ChainID, r.Address, r.URI,
		); err != nil {
			return fmt.Errorf("insert participant %d: %w", r.ParticipantIndex, err)
		}
	}

	return tx.Commit(ctx)
}

// PaymentRequestsBySession returns the stored requests of a session, newest
// batch first.
func (db *DB) PaymentRequestsBySession(ctx context.Context, sessionID string) ([]PaymentRequest, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT batch_id::text, session_id, participant_index, participant_count, merchant,
		        fiat_amount::text, currency, crypto_amount::text, asset, rate::text,
		        quoted_at, chain_id, address, uri, created_at
		   FROM payment_requests
		  WHERE session_id = $1
		  ORDER BY created_at DESC, batch_id, participant_index`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PaymentRequest
	for rows.Next() {
		var (
			r                  PaymentRequest
			batch              string
			fiat, crypto, rate string
		)
		if err := rows.Scan(&batch, &r.SessionID, &r.ParticipantIndex, &r.ParticipantCount, &r.Merchant,
			&fiat, &r.Currency, &crypto, &r.Asset, &rate,
			&r.QuotedAt, &r.ChainID, &r.Address, &r.URI, &r.CreatedAt); err != nil {
			return nil, err
		}
		if r.BatchID, err = uuid.Parse(batch); err != nil {
			return nil, err
		}
		if r.FiatAmount, err = decimal.NewFromString(fiat); err != nil {
			return nil, err
		}
		if r.CryptoAmount, err = decimal.NewFromString(crypto); err != nil {
			return nil, err
		}
		if r.Rate, err = decimal.NewFromString(rate); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
