package receipt

import (
	"fmt"
	"strings"
)

// Summary renders a record for the confirmation prompt. The output depends
// only on rec.
func Summary(rec Record) string {
	scale := rec.Scale()
	var b strings.Builder

	merchant := rec.Merchant
	if merchant == "" {
		merchant = "N/A"
	}
	date := "unknown"
	if rec.HasDate() {
		date = rec.Date.Format("2006-01-02")
	}

	b.WriteString("Receipt processed:\n")
	fmt.Fprintf(&b, "Merchant: %s\n", merchant)
	fmt.Fprintf(&b, "Date: %s\n", date)
	fmt.Fprintf(&b, "Total: %s %s\n", rec.Total.StringFixed(scale), rec.Currency)
	fmt.Fprintf(&b, "Tax: %s %s\n", rec.Tax.StringFixed(scale), rec.Currency)

	if len(rec.Items) == 0 {
		b.WriteString("Items: none listed\n")
	} else {
		fmt.Fprintf(&b, "Items: %d listed\n", len(rec.Items))
		for _, it := range rec.Items {
			if it.Quantity > 1 {
				fmt.Fprintf(&b, "  - %s x%d: %s\n", it.Name, it.Quantity, it.Price.StringFixed(scale))
			} else {
				fmt.Fprintf(&b, "  - %s: %s\n", it.Name, it.Price.StringFixed(scale))
			}
		}
	}

	for _, w := range rec.Warnings {
		switch w {
		case WarnTotalMismatch:
			b.WriteString("Note: item prices plus tax add up to more than the total.\n")
		case WarnTotalRescaled:
			fmt.Fprintf(&b, "Note: the total was cut to %d decimal places.\n", scale)
		case WarnDateUnparsed:
			b.WriteString("Note: the date on the receipt could not be read.\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
