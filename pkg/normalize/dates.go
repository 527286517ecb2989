package normalize

import (
	"strings"
	"time"
)

// DateLayout is the wire format for every date sent to the inventory API.
const DateLayout = "2006-01-02"

var dateKeywords = []string{"date", "shipment_date", "order_date", "purchaseorder_date", "delivery_date"}

// common input layouts, tried in order
var inputLayouts = []string{
	DateLayout,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006/01/02",
	"2006/1/2",
	"01/02/2006",
	"1/2/2006",
	"01-02-2006",
	"1-2-2006",
	"01/02/06",
	"1/2/06",
	"02-Jan-2006",
	"2-Jan-2006",
	"02 Jan 2006",
	"2 Jan 2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"Jan 2 2006",
	"Mon Jan 2 2006",
	time.RFC1123,
	time.UnixDate,
}

// IsDateField reports whether values of the canonical header should be treated as dates.
func IsDateField(header string) bool {
	for _, kw := range dateKeywords {
		if strings.Contains(header, kw) {
			return true
		}
	}
	return false
}

// ParseDate parses value using the known input layouts.
func ParseDate(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range inputLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// NormalizeDate reformats value as YYYY-MM-DD. Unparsable values are returned unchanged with ok=false.
func NormalizeDate(value string) (string, bool) {
	t, ok := ParseDate(value)
	if !ok {
		return value, false
	}
	return t.Format(DateLayout), true
}
