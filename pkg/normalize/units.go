package normalize

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

var caseUnit = regexp.MustCompile(`^c(\d+)$`)

const conversionPlaces = 4

func isBottle(unit string) bool {
	return unit == "bot" || unit == "bottle"
}

// caseSize returns N for units like C6 or C12.
func caseSize(unit string) (int64, bool) {
	m := caseUnit.FindStringSubmatch(unit)
	if m == nil {
		return 0, false
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil || n == 0 {
		return 0, false
	}
	return n, true
}

// ConvertQuantity expresses qty given in fromUnit in toUnit. Supported units are
// bottles (BOT, BOTTLE) and cases of N bottles (C<N>); anything else is returned unchanged.
func ConvertQuantity(qty decimal.Decimal, fromUnit, toUnit string) decimal.Decimal {
	from := strings.ToLower(strings.TrimSpace(fromUnit))
	to := strings.ToLower(strings.TrimSpace(toUnit))

	fromCase, fromIsCase := caseSize(from)
	toCase, toIsCase := caseSize(to)

	switch {
	case isBottle(from) && isBottle(to):
		return qty
	case isBottle(from) && toIsCase:
		return qty.DivRound(decimal.NewFromInt(toCase), conversionPlaces)
	case fromIsCase && isBottle(to):
		return qty.Mul(decimal.NewFromInt(fromCase))
	case fromIsCase && toIsCase:
		return qty.Mul(decimal.NewFromInt(fromCase)).DivRound(decimal.NewFromInt(toCase), conversionPlaces)
	default:
		return qty
	}
}
