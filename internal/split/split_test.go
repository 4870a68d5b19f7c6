package split

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/susu3304/splitbot/internal/pricefeed"
	"github.com/susu3304/splitbot/internal/receipt"
)

func usdQuote(rate string) pricefeed.Quote {
	return pricefeed.Quote{
		Asset:    "ETH",
		Currency: "USD",
		Rate:     decimal.RequireFromString(rate),
		AsOf:     time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
	}
}

func record(total, currency string) receipt.Record {
	return receipt.Record{Merchant: "Cafe Roma", Total: decimal.RequireFromString(total), Currency: currency}
}

func amounts(shares []Share, crypto bool) []string {
	out := make([]string, len(shares))
	for i, s := range shares {
		if crypto {
			out[i] = s.Crypto.String()
		} else {
			out[i] = s.Fiat.StringFixed(2)
		}
	}
	return out
}

func TestEvenSplitCafeRoma(t *testing.T) {
	shares, err := Calculator{}.EvenSplit(record("30.00", "USD"), 3, usdQuote("2000.00"))
	require.NoError(t, err)

	assert.Equal(t, []string{"10.00", "10.00", "10.00"}, amounts(shares, false))
	assert.Equal(t, []string{"0.005", "0.005", "0.005"}, amounts(shares, true))
	for i, s := range shares {
		assert.Equal(t, i, s.Index)
	}
}

func TestEvenSplitRemainderGoesLast(t *testing.T) {
	shares, err := Calculator{}.EvenSplit(record("10.00", "USD"), 3, usdQuote("2000"))
	require.NoError(t, err)
	assert.Equal(t, []string{"3.33", "3.33", "3.34"}, amounts(shares, false))
}

func TestEvenSplitZeroDecimalCurrency(t *testing.T) {
	quote := usdQuote("300000")
	quote.Currency = "JPY"

	shares, err := Calculator{}.EvenSplit(record("1000", "JPY"), 3, quote)
	require.NoError(t, err)
	assert.Equal(t, "333", shares[0].Fiat.String())
	assert.Equal(t, "334", shares[2].Fiat.String())
}

func TestEvenSplitTruncatesCrypto(t *testing.T) {
	calc := Calculator{CryptoPlaces: 6}
	shares, err := calc.EvenSplit(record("10.00", "USD"), 1, usdQuote("3"))
	require.NoError(t, err)
	assert.Equal(t, "3.333333", shares[0].Crypto.String())
}

func TestEvenSplitErrors(t *testing.T) {
	calc := Calculator{MaxParticipants: 10}
	rec := record("30.00", "USD")

	_, err := calc.EvenSplit(rec, 0, usdQuote("2000"))
	assert.ErrorIs(t, err, ErrInvalidParticipantCount)

	_, err = calc.EvenSplit(rec, 11, usdQuote("2000"))
	assert.ErrorIs(t, err, ErrInvalidParticipantCount)

	eur := usdQuote("2000")
	eur.Currency = "EUR"
	_, err = calc.EvenSplit(rec, 2, eur)
	assert.ErrorIs(t, err, ErrCurrencyMismatch)

	_, err = calc.EvenSplit(rec, 2, usdQuote("0"))
	assert.ErrorIs(t, err, ErrInvalidQuote)

	_, err = calc.EvenSplit(rec, 2, usdQuote("-5"))
	assert.ErrorIs(t, err, ErrInvalidQuote)
}

func TestEvenSplitAcceptsLowercaseQuoteCurrency(t *testing.T) {
	q := usdQuote("2000")
	q.Currency = "usd"
	_, err := Calculator{}.EvenSplit(record("30.00", "USD"), 2, q)
	assert.NoError(t, err)
}
