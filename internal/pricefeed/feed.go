// Package pricefeed supplies fiat-per-unit quotes for the crypto asset that
// payment requests are denominated in.
package pricefeed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ErrUnavailable wraps every failure to obtain a usable quote.
var ErrUnavailable = errors.New("price feed unavailable")

// Quote is the price of one unit of Asset expressed in Currency.
type Quote struct {
	Asset    string          `json:"asset"`
	Currency string          `json:"currency"`
	Rate     decimal.Decimal `json:"rate"`
	AsOf     time.Time       `json:"as_of"`
	Source   string          `json:"source"`
}

// Feed returns the current quote for a fiat currency.
type Feed interface {
	GetQuote(ctx context.Context, currency string) (Quote, error)
}

// Static serves fixed rates keyed by currency code. Useful for development
// and tests.
type Static struct {
	Asset string
	Rates map[string]decimal.Decimal
	Now   func() time.Time
}

func (s *Static) GetQuote(ctx context.Context, currency string) (Quote, error) {
	if err := ctx.Err(); err != nil {
		return Quote{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	code := strings.ToUpper(currency)
	rate, ok := s.Rates[code]
	if !ok {
		return Quote{}, fmt.Errorf("%w: no rate for %s", ErrUnavailable, code)
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	return Quote{Asset: s.Asset, Currency: code, Rate: rate, AsOf: now().UTC(), Source: "static"}, nil
}
