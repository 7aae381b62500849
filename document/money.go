package document

import (
	"fmt"
	"strings"
)

// FormatMoney renders an amount with its three-letter currency code as the
// prefix ("USD 2,240.00"). Currency symbols are avoided on purpose: the PDF
// core fonts cannot encode most of them.
func FormatMoney(code string, v float64) string {
	neg := v < 0
	if neg {
		v = -v
	}

	s := fmt.Sprintf("%.2f", v)
	whole, frac, _ := strings.Cut(s, ".")

	var b strings.Builder
	for i, c := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}

	out := fmt.Sprintf("%s %s.%s", strings.ToUpper(code), b.String(), frac)
	if neg {
		return fmt.Sprintf("%s -%s.%s", strings.ToUpper(code), b.String(), frac)
	}
	return out
}
