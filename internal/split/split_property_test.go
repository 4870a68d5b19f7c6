package split

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
)

// Property: sum(FiatShares(T, n)) == T and only the last share differs.
func TestFiatSharesSumToTotal(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	properties.Property("shares reproduce the total exactly", prop.ForAll(
		func(cents int64, n int) bool {
			total := decimal.New(cents, -2)
			shares := FiatShares(total, 2, n)
			if len(shares) != n {
				return false
			}
			sum := decimal.Zero
			for _, s := range shares {
				sum = sum.Add(s)
			}
			return sum.Equal(total)
		},
		gen.Int64Range(1, 100_000_000),
		gen.IntRange(1, DefaultMaxParticipants),
	))

	properties.Property("remainder lands on the last participant", prop.ForAll(
		func(cents int64, n int) bool {
			shares := FiatShares(decimal.New(cents, -2), 2, n)
			for i := 0; i < n-1; i++ {
				if !shares[i].Equal(shares[0]) {
					return false
				}
			}
			last := shares[n-1]
			diff := last.Sub(shares[0])
			return !diff.IsNegative() && diff.LessThan(decimal.New(int64(n), -2))
		},
		gen.Int64Range(1, 100_000_000),
		gen.IntRange(1, DefaultMaxParticipants),
	))

	properties.TestingRun(t)
}
