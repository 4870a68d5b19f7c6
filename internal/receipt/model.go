// Package receipt defines the parsed receipt model, its strict decoder and the
// rules that decide whether an extracted receipt is usable.
package receipt

import (
	"time"

	"github.com/shopspring/decimal"
)

// Raw is the schema-checked but not yet validated output of the extraction
// service. Pointer fields distinguish "absent" from zero.
type Raw struct {
	IsReceipt *bool            `json:"is_receipt"`
	Merchant  *string          `json:"merchant"`
	Date      *string          `json:"date"`
	Total     *decimal.Decimal `json:"total"`
	Tax       *decimal.Decimal `json:"tax"`
	Currency  *string          `json:"currency"`
	Items     []RawItem        `json:"items"`
}

type RawItem struct {
	Name     *string          `json:"name"`
	Price    *decimal.Decimal `json:"price"`
	Quantity *decimal.Decimal `json:"quantity"`
}

// Record is a validated receipt. Values are never modified after Validate
// returns them.
type Record struct {
	Merchant string          `json:"merchant,omitempty"`
	Date     time.Time       `json:"date,omitempty"`
	Total    decimal.Decimal `json:"total"`
	Tax      decimal.Decimal `json:"tax"`
	Currency string          `json:"currency"`
	Items    []Item          `json:"items,omitempty"`
	Warnings []Warning       `json:"warnings,omitempty"`
}

type Item struct {
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Quantity int64           `json:"quantity"`
}

// HasDate reports whether the transaction date is known.
func (r Record) HasDate() bool { return !r.Date.IsZero() }

// Scale is the number of minor-unit digits of the record's currency.
func (r Record) Scale() int32 {
	scale, ok := MinorUnits(r.Currency)
	if !ok {
		return 2
	}
	return scale
}

// Warning is a soft finding that does not block the dialogue.
type Warning string

const (
	WarnTotalMismatch Warning = "total_mismatch"
	WarnTotalRescaled Warning = "total_rescaled"
	WarnDateUnparsed  Warning = "date_unparsed"
)
