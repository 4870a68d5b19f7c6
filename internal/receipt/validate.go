package receipt

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// Code identifies why a field was rejected.
type Code string

const (
	MissingField      Code = "missing"
	NonPositiveTotal  Code = "non_positive_total"
	NegativeTax       Code = "negative_tax"
	NegativePrice     Code = "negative_price"
	InvalidQuantity   Code = "invalid_quantity"
	InvalidCurrency   Code = "invalid_currency"
	NoMerchantOrItems Code = "no_merchant_or_items"
)

// maxQuantity bounds a line-item quantity so it always fits an int64.
var maxQuantity = decimal.NewFromInt(math.MaxInt32)

type Problem struct {
	Field string
	Code  Code
}

// ValidationError lists every field that made a receipt unusable.
type ValidationError struct {
	Problems []Problem
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		parts = append(parts, fmt.Sprintf("%s: %s", p.Field, p.Code))
	}
	return "receipt validation failed: " + strings.Join(parts, ", ")
}

// Has reports whether any problem carries the given code.
func (e *ValidationError) Has(code Code) bool {
	for _, p := range e.Problems {
		if p.Code == code {
			return true
		}
	}
	return false
}

// Fields returns the distinct rejected field names in report order.
func (e *ValidationError) Fields() []string {
	seen := make(map[string]struct{}, len(e.Problems))
	var out []string
	for _, p := range e.Problems {
		if _, ok := seen[p.Field]; ok {
			continue
		}
		seen[p.Field] = struct{}{}
		out = append(out, p.Field)
	}
	return out
}

var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"02.01.2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 Jan 2006",
	time.RFC3339,
}

// MinorUnits returns the number of decimal digits of an ISO 4217 currency.
func MinorUnits(code string) (int32, bool) {
	unit, err := currency.ParseISO(code)
	if err != nil {
		return 0, false
	}
	scale, _ := currency.Standard.Rounding(unit)
	return int32(scale), true
}

// Validate turns raw extraction output into a Record, or reports every field
// that failed. raw is not modified.
func Validate(raw Raw) (Record, error) {
	var (
		problems []Problem
		rec      Record
	)
	fail := func(field string, code Code) {
		problems = append(problems, Problem{Field: field, Code: code})
	}

	scale := int32(2)
	code := strings.ToUpper(strings.TrimSpace(deref(raw.Currency)))
	switch {
	case code == "":
		fail("currency", MissingField)
	default:
		s, ok := MinorUnits(code)
		if !ok {
			fail("currency", InvalidCurrency)
		} else {
			scale = s
			rec.Currency = code
		}
	}

	switch {
	case raw.Total == nil:
		fail("total", MissingField)
	case !raw.Total.IsPositive():
		fail("total", NonPositiveTotal)
	default:
		rec.Total = raw.Total.Truncate(scale)
		if !rec.Total.Equal(*raw.Total) {
			rec.Warnings = append(rec.Warnings, WarnTotalRescaled)
		}
		if rec.Total.IsZero() {
			fail("total", NonPositiveTotal)
		}
	}

	if raw.Tax != nil {
		if raw.Tax.IsNegative() {
			fail("tax", NegativeTax)
		} else {
			rec.Tax = *raw.Tax
		}
	}

	rec.Merchant = strings.TrimSpace(deref(raw.Merchant))
	if len(raw.Items) > 0 {
		rec.Items = make([]Item, 0, len(raw.Items))
	}
	for i, it := range raw.Items {
		field := fmt.Sprintf("items[%d]", i)
		item := Item{Name: strings.TrimSpace(deref(it.Name)), Quantity: 1}
		if item.Name == "" {
			item.Name = fmt.Sprintf("item %d", i+1)
		}
		switch {
		case it.Price == nil:
			fail(field+".price", MissingField)
		case it.Price.IsNegative():
			fail(field+".price", NegativePrice)
		default:
			item.Price = *it.Price
		}
		if it.Quantity != nil {
			q := *it.Quantity
			if !q.IsInteger() || q.LessThan(decimal.NewFromInt(1)) || q.GreaterThan(maxQuantity) {
				fail(field+".quantity", InvalidQuantity)
			} else {
				item.Quantity = q.IntPart()
			}
		}
		rec.Items = append(rec.Items, item)
	}

	if rec.Merchant == "" && len(raw.Items) == 0 {
		fail("merchant", NoMerchantOrItems)
	}

	if d := strings.TrimSpace(deref(raw.Date)); d != "" {
		if t, ok := parseDate(d); ok {
			rec.Date = t
		} else {
			rec.Warnings = append(rec.Warnings, WarnDateUnparsed)
		}
	}

	if len(problems) > 0 {
		return Record{}, &ValidationError{Problems: problems}
	}

	if exceedsTotal(rec, scale) {
		rec.Warnings = append(rec.Warnings, WarnTotalMismatch)
	}
	return rec, nil
}

// exceedsTotal reports whether items plus tax are larger than the total by
// more than one minor unit per line.
func exceedsTotal(rec Record, scale int32) bool {
	if len(rec.Items) == 0 && rec.Tax.IsZero() {
		return false
	}
	sum := rec.Tax
	for _, it := range rec.Items {
		sum = sum.Add(it.Price.Mul(decimal.NewFromInt(it.Quantity)))
	}
	tolerance := decimal.New(int64(len(rec.Items)+1), -scale)
	return sum.Sub(rec.Total).GreaterThan(tolerance)
}

func parseDate(s string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), true
		}
	}
	return time.Time{}, false
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
