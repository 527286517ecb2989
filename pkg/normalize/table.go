package normalize

import (
	"context"
	"strings"

	"github.com/Gobusters/ectologger"
	"github.com/shopspring/decimal"
)

// Record is one canonical row: canonical field name to raw string value.
type Record map[string]string

// Get returns the trimmed value for field.
func (r Record) Get(field string) string {
	return strings.TrimSpace(r[field])
}

// Has reports whether field is present and non-blank.
func (r Record) Has(field string) bool {
	return r.Get(field) != ""
}

// Decimal parses field as a decimal, returning zero when blank or invalid.
func (r Record) Decimal(field string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.ReplaceAll(r.Get(field), ",", ""))
	if err != nil {
		return decimal.Zero
	}
	return d
}

// IsBlank reports whether every value in the record is blank.
func (r Record) IsBlank() bool {
	for _, v := range r {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// Table is a normalized file: canonical headers plus records.
type Table struct {
	Headers []string
	Records []Record
}

// HasHeaders reports whether every field is among the table headers.
func (t Table) HasHeaders(fields ...string) bool {
	for _, f := range fields {
		found := false
		for _, h := range t.Headers {
			if h == f {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Report carries the non-fatal findings of a normalization pass.
type Report struct {
	InvalidDates       []string
	DroppedRows        int
	WarehouseReplaced  int
	OriginalWarehouses []string
	StandardWarehouse  string
}

// Normalizer rewrites raw tables into canonical tables.
type Normalizer struct {
	headers          *HeaderMatcher
	defaultWarehouse string
	logger           ectologger.Logger
}

// NewNormalizer creates a normalizer. An empty defaultWarehouse disables warehouse standardization.
func NewNormalizer(headers *HeaderMatcher, defaultWarehouse string, logger ectologger.Logger) *Normalizer {
	if headers == nil {
		headers = defaultMatcher
	}
	return &Normalizer{
		headers:          headers,
		defaultWarehouse: strings.TrimSpace(defaultWarehouse),
		logger:           logger,
	}
}

// Header resolves a single raw header.
func (n *Normalizer) Header(raw string) string {
	return n.headers.Normalize(strings.TrimSpace(raw))
}

// Table normalizes headers, drops blank rows, reformats date columns and
// standardizes warehouse names.
func (n *Normalizer) Table(ctx context.Context, headers []string, rows [][]string) (Table, Report) {
	log := n.logger.WithContext(ctx)
	report := Report{}

	canonical := make([]string, len(headers))
	for i, h := range headers {
		canonical[i] = n.Header(h)
	}

	table := Table{Headers: canonical, Records: make([]Record, 0, len(rows))}
	seenWarehouses := map[string]bool{}

	for _, row := range rows {
		rec := make(Record, len(canonical))
		for i, h := range canonical {
			if i < len(row) {
				rec[h] = strings.TrimSpace(row[i])
			} else {
				rec[h] = ""
			}
		}
		if rec.IsBlank() {
			report.DroppedRows++
			continue
		}

		for _, h := range canonical {
			if !IsDateField(h) || rec[h] == "" {
				continue
			}
			formatted, ok := NormalizeDate(rec[h])
			if !ok {
				log.Warnf("Invalid date format in column %s: %s", h, rec[h])
				report.InvalidDates = append(report.InvalidDates, rec[h])
				continue
			}
			rec[h] = formatted
		}

		if n.defaultWarehouse != "" {
			if wh, ok := rec[FieldWarehouseName]; ok && wh != "" && wh != n.defaultWarehouse {
				if !seenWarehouses[wh] {
					seenWarehouses[wh] = true
					report.OriginalWarehouses = append(report.OriginalWarehouses, wh)
				}
				rec[FieldWarehouseName] = n.defaultWarehouse
				report.WarehouseReplaced++
			}
		}

		table.Records = append(table.Records, rec)
	}

	if report.WarehouseReplaced > 0 {
		report.StandardWarehouse = n.defaultWarehouse
		log.Warnf("Standardized %d warehouse names to %q", report.WarehouseReplaced, n.defaultWarehouse)
	}
	log.Debugf("Normalized headers: %s", strings.Join(canonical, ","))

	return table, report
}
