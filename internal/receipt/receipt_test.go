package receipt

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustDecode(t *testing.T, doc string) Raw {
	t.Helper()
	raw, err := Decode([]byte(doc))
	require.NoError(t, err)
	return raw
}

func TestDecodeAcceptsNumbersAndNumericStrings(t *testing.T) {
	raw := mustDecode(t, `{
		"merchant": "Cafe Roma",
		"date": "2024-05-01",
		"total": 30.00,
		"tax": "2.00",
		"currency": "usd",
		"items": [{"name": "Espresso", "price": 3.5, "quantity": 2}],
		"extra": "ignored"
	}`)

	require.NotNil(t, raw.Total)
	assert.Equal(t, "30", raw.Total.String())
	require.NotNil(t, raw.Tax)
	assert.True(t, raw.Tax.Equal(decimal.RequireFromString("2.00")))
	require.Len(t, raw.Items, 1)
	assert.Equal(t, "Espresso", *raw.Items[0].Name)
}

func TestDecodeRejectsSchemaViolations(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"not json", "the total is 30 dollars"},
		{"array", `[1, 2, 3]`},
		{"total as words", `{"total": "thirty", "currency": "USD"}`},
		{"total with symbol", `{"total": "$30.00", "currency": "USD"}`},
		{"merchant as number", `{"merchant": 12, "total": 1, "currency": "USD"}`},
		{"items as object", `{"merchant": "A", "total": 1, "currency": "USD", "items": {"name": "x"}}`},
		{"item price as bool", `{"total": 1, "currency": "USD", "items": [{"name": "x", "price": true}]}`},
		{"trailing data", `{"total": 1} {"total": 2}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.doc))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformed))
		})
	}
}

func TestValidateAcceptsMinimalRecord(t *testing.T) {
	raw := mustDecode(t, `{"merchant": "Cafe Roma", "total": 30.00, "currency": "USD"}`)

	rec, err := Validate(raw)
	require.NoError(t, err)
	assert.Equal(t, "Cafe Roma", rec.Merchant)
	assert.Equal(t, "USD", rec.Currency)
	assert.True(t, rec.Total.Equal(decimal.NewFromInt(30)))
	assert.True(t, rec.Tax.IsZero())
	assert.False(t, rec.HasDate())
	assert.Empty(t, rec.Warnings)
}

func TestValidateAcceptsItemsWithoutMerchant(t *testing.T) {
	raw := mustDecode(t, `{"total": 5, "currency": "EUR", "items": [{"name": "Bread", "price": 5}]}`)

	rec, err := Validate(raw)
	require.NoError(t, err)
	assert.Empty(t, rec.Merchant)
	require.Len(t, rec.Items, 1)
	assert.Equal(t, int64(1), rec.Items[0].Quantity)
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name  string
		doc   string
		field string
		code  Code
	}{
		{"missing total", `{"merchant": "A", "currency": "USD"}`, "total", MissingField},
		{"zero total", `{"merchant": "A", "total": 0, "currency": "USD"}`, "total", NonPositiveTotal},
		{"negative total", `{"merchant": "A", "total": -4.5, "currency": "USD"}`, "total", NonPositiveTotal},
		{"total below minor unit", `{"merchant": "A", "total": 0.001, "currency": "USD"}`, "total", NonPositiveTotal},
		{"missing currency", `{"merchant": "A", "total": 3}`, "currency", MissingField},
		{"blank currency", `{"merchant": "A", "total": 3, "currency": "  "}`, "currency", MissingField},
		{"unknown currency", `{"merchant": "A", "total": 3, "currency": "ZZQ"}`, "currency", InvalidCurrency},
		{"negative tax", `{"merchant": "A", "total": 3, "tax": -1, "currency": "USD"}`, "tax", NegativeTax},
		{"no merchant or items", `{"total": 3, "currency": "USD"}`, "merchant", NoMerchantOrItems},
		{"negative price", `{"total": 3, "currency": "USD", "items": [{"name": "x", "price": -1}]}`, "items[0].price", NegativePrice},
		{"missing price", `{"total": 3, "currency": "USD", "items": [{"name": "x"}]}`, "items[0].price", MissingField},
		{"fractional quantity", `{"total": 3, "currency": "USD", "items": [{"name": "x", "price": 1, "quantity": 1.5}]}`, "items[0].quantity", InvalidQuantity},
		{"huge quantity", `{"total": 3, "currency": "USD", "items": [{"name": "x", "price": 1, "quantity": 1e30}]}`, "items[0].quantity", InvalidQuantity},
		{"quantity as huge string", `{"total": 3, "currency": "USD", "items": [{"name": "x", "price": 1, "quantity": "99999999999999999999"}]}`, "items[0].quantity", InvalidQuantity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Validate(mustDecode(t, tt.doc))
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, verr.Problems, Problem{Field: tt.field, Code: tt.code})
		})
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	_, err := Validate(Raw{})

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"currency", "total", "merchant"}, verr.Fields())
	assert.True(t, verr.Has(NoMerchantOrItems))
}

func TestValidateDoesNotMutateInput(t *testing.T) {
	raw := mustDecode(t, `{"merchant": " A ", "total": 12.345, "currency": "usd", "items": [{"name": " x ", "price": 1}]}`)
	before := *raw.Total

	rec, err := Validate(raw)
	require.NoError(t, err)
	assert.True(t, raw.Total.Equal(before))
	assert.Equal(t, " A ", *raw.Merchant)
	assert.Equal(t, " x ", *raw.Items[0].Name)
	assert.Equal(t, "12.34", rec.Total.String())
	assert.Contains(t, rec.Warnings, WarnTotalRescaled)
}

func TestValidateUsesCurrencyMinorUnits(t *testing.T) {
	rec, err := Validate(mustDecode(t, `{"merchant": "Ramen", "total": 1200.7, "currency": "JPY"}`))
	require.NoError(t, err)
	assert.Equal(t, "1200", rec.Total.String())
	assert.Equal(t, int32(0), rec.Scale())
}

func TestValidateWarnsOnTotalMismatch(t *testing.T) {
	rec, err := Validate(mustDecode(t, `{
		"merchant": "Diner", "total": 10.00, "tax": 1.00, "currency": "USD",
		"items": [{"name": "Burger", "price": 6.00}, {"name": "Fries", "price": 2.00, "quantity": 2}]
	}`))
	require.NoError(t, err)
	assert.Contains(t, rec.Warnings, WarnTotalMismatch)

	rec, err = Validate(mustDecode(t, `{
		"merchant": "Diner", "total": 10.00, "tax": 1.00, "currency": "USD",
		"items": [{"name": "Burger", "price": 9.01}]
	}`))
	require.NoError(t, err)
	assert.NotContains(t, rec.Warnings, WarnTotalMismatch)
}

func TestValidateDates(t *testing.T) {
	rec, err := Validate(mustDecode(t, `{"merchant": "A", "total": 1, "currency": "USD", "date": "2024-05-01"}`))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, time.May, 1, 0, 0, 0, 0, time.UTC), rec.Date)

	rec, err = Validate(mustDecode(t, `{"merchant": "A", "total": 1, "currency": "USD", "date": "sometime last week"}`))
	require.NoError(t, err)
	assert.False(t, rec.HasDate())
	assert.Contains(t, rec.Warnings, WarnDateUnparsed)
}

func TestSummaryIsDeterministic(t *testing.T) {
	rec, err := Validate(mustDecode(t, `{
		"merchant": "Cafe Roma", "date": "2024-05-01", "total": 30, "tax": 2, "currency": "USD",
		"items": [{"name": "Pasta", "price": 14}, {"name": "Wine", "price": 7, "quantity": 2}]
	}`))
	require.NoError(t, err)

	want := "Receipt processed:\n" +
		"Merchant: Cafe Roma\n" +
		"Date: 2024-05-01\n" +
		"Total: 30.00 USD\n" +
		"Tax: 2.00 USD\n" +
		"Items: 2 listed\n" +
		"  - Pasta: 14.00\n" +
		"  - Wine x2: 7.00"
	assert.Equal(t, want, Summary(rec))
	assert.Equal(t, Summary(rec), Summary(rec))
}

func TestSummaryWithoutOptionalFields(t *testing.T) {
	rec, err := Validate(mustDecode(t, `{"merchant": "Kiosk", "total": 4.5, "currency": "USD"}`))
	require.NoError(t, err)

	s := Summary(rec)
	assert.Contains(t, s, "Date: unknown")
	assert.Contains(t, s, "Items: none listed")
	assert.Contains(t, s, "Total: 4.50 USD")
}
