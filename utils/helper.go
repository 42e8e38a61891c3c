package utils

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DayKey collapses a timestamp to the calendar day a business number is
// scoped to. Receipt numbering restarts per scope per day.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func SplitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// LineTotal is the only place a line amount is computed; qty and unit
// price multiply in decimal space, never float64.
func LineTotal(qty decimal.Decimal, unitPrice decimal.Decimal) decimal.Decimal {
	return qty.Mul(unitPrice)
}
