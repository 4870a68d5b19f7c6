package db

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Runs against a real Postgres when TEST_DATABASE_URL is set.
func testDB(t *testing.T) *DB {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	d, err := New(ctx, url)
	require.NoError(t, err)
	t.Cleanup(d.Close)
	require.NoError(t, d.RunMigrations(ctx))
	return d
}

func TestRecordAndListPaymentRequests(t *testing.T) {
	d := testDB(t)
	ctx := context.Background()
	session := "test:" + uuid.NewString()
	batch := uuid.New()
	quoted := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	var reqs []PaymentRequest
	for i, fiat := range []string{"3.33", "3.33", "3.34"} {
		reqs = append(reqs, PaymentRequest{
			BatchID:          batch,
			SessionID:        session,
			ParticipantIndex: i,
			ParticipantCount: 3,
			Merchant:         "Cafe Roma",
			FiatAmount:       decimal.RequireFromString(fiat),
			Currency:         "USD",
			CryptoAmount:     decimal.RequireFromString("0.001665"),
			Asset:            "ETH",
			Rate:             decimal.NewFromInt(2000),
			QuotedAt:         quoted,
			ChainID:          84532,
			Address:          "0xde709f2102306220921060314715629080e2fb77",
			URI:              "ethereum:0xde709f2102306220921060314715629080e2fb77@84532?value=1665000000000000",
		})
	}
	require.NoError(t, d.RecordPaymentRequests(ctx, reqs))

	got, err := d.PaymentRequestsBySession(ctx, session)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, batch, got[0].BatchID)
	assert.True(t, got[2].FiatAmount.Equal(decimal.RequireFromString("3.34")))
	assert.True(t, got[0].QuotedAt.Equal(quoted))

	// A duplicate row aborts the whole batch.
	err = d.RecordPaymentRequests(ctx, []PaymentRequest{
		{BatchID: uuid.New(), SessionID: session, ParticipantIndex: 0, ParticipantCount: 2, Currency: "USD", Asset: "ETH", QuotedAt: quoted, ChainID: 1, Address: "a", URI: "u"},
		reqs[0],
	})
	require.Error(t, err)
	got, err = d.PaymentRequestsBySession(ctx, session)
	require.NoError(t, err)
	assert.Len(t, got, 3)
}
