// Package split divides a receipt total evenly between participants and
// converts each share into the quoted crypto asset.
package split

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/susu3304/splitbot/internal/pricefeed"
	"github.com/susu3304/splitbot/internal/receipt"
)

var (
	ErrInvalidParticipantCount = errors.New("invalid participant count")
	ErrCurrencyMismatch        = errors.New("quote currency does not match receipt")
	ErrInvalidQuote            = errors.New("invalid price quote")
)

const (
	DefaultCryptoPlaces    = 18
	DefaultMaxParticipants = 50
)

// Share is one participant's part of the bill. PaymentURI is filled in by
// the caller once an address is known.
type Share struct {
	Index      int             `json:"index"`
	Fiat       decimal.Decimal `json:"fiat"`
	Crypto     decimal.Decimal `json:"crypto"`
	PaymentURI string          `json:"payment_uri,omitempty"`
}

type Calculator struct {
	// CryptoPlaces is how many decimals a crypto amount keeps. Extra
	// digits are truncated.
	CryptoPlaces    int32
	MaxParticipants int
}

func (c Calculator) places() int32 {
	if c.CryptoPlaces <= 0 {
		return DefaultCryptoPlaces
	}
	return c.CryptoPlaces
}

func (c Calculator) maxParticipants() int {
	if c.MaxParticipants <= 0 {
		return DefaultMaxParticipants
	}
	return c.MaxParticipants
}

// MaxCount is the largest participant count EvenSplit accepts.
func (c Calculator) MaxCount() int { return c.maxParticipants() }

// EvenSplit returns n shares whose fiat amounts sum to rec.Total exactly.
// Every share is the total divided by n truncated to the currency's minor
// unit, and the last share absorbs the remainder.
func (c Calculator) EvenSplit(rec receipt.Record, n int, quote pricefeed.Quote) ([]Share, error) {
	if n < 1 || n > c.maxParticipants() {
		return nil, fmt.Errorf("%w: %d (allowed 1-%d)", ErrInvalidParticipantCount, n, c.maxParticipants())
	}
	if !strings.EqualFold(quote.Currency, rec.Currency) {
		return nil, fmt.Errorf("%w: receipt in %s, quote in %s", ErrCurrencyMismatch, rec.Currency, quote.Currency)
	}
	if !quote.Rate.IsPositive() {
		return nil, fmt.Errorf("%w: rate %s", ErrInvalidQuote, quote.Rate)
	}

	fiat := FiatShares(rec.Total, rec.Scale(), n)
	shares := make([]Share, n)
	for i, f := range fiat {
		shares[i] = Share{Index: i, Fiat: f, Crypto: c.ToCrypto(f, quote.Rate)}
	}
	return shares, nil
}

// FiatShares splits total into n parts at the given scale with the
// remainder on the last part.
func FiatShares(total decimal.Decimal, scale int32, n int) []decimal.Decimal {
	minor := total.Shift(scale).Truncate(0)
	base, rest := minor.QuoRem(decimal.NewFromInt(int64(n)), 0)

	out := make([]decimal.Decimal, n)
	for i := range out {
		units := base
		if i == n-1 {
			units = units.Add(rest)
		}
		out[i] = units.Shift(-scale)
	}
	return out
}

// ToCrypto converts a fiat amount at rate fiat-per-unit, truncated to the
// calculator's crypto precision.
func (c Calculator) ToCrypto(fiat, rate decimal.Decimal) decimal.Decimal {
	q, _ := fiat.QuoRem(rate, c.places())
	return q
}
