package normalize

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Alias maps one canonical field to the stripped spellings accepted for it.
type Alias struct {
	Field    string   `yaml:"field"`
	Variants []string `yaml:"variants"`
}

// Canonical field names.
const (
	FieldName                = "name"
	FieldSKU                 = "sku"
	FieldItemType            = "item_type"
	FieldProductType         = "product_type"
	FieldUnit                = "unit"
	FieldInitialStock        = "initial_stock"
	FieldInitialStockRate    = "initial_stock_rate"
	FieldWarehouseName       = "warehouse_name"
	FieldPurchaseOrderNumber = "purchaseorder_number"
	FieldPurchaseOrderDate   = "purchaseorder_date"
	FieldDeliveryDate        = "delivery_date"
	FieldVendorName          = "vendor_name"
	FieldVendorNumber        = "vendor_number"
	FieldItemName            = "item_name"
	FieldQuantityReceived    = "quantity_received"
	FieldQuantityBilled      = "quantity_billed"
	FieldItemTotal           = "item_total"
	FieldContactName         = "contact_name"
	FieldCompanyName         = "company_name"
	FieldCurrencyID          = "currency_id"
	FieldContactType         = "contact_type"
	FieldLanguageCode        = "language_code"
	FieldCountryCode         = "country_code"
	FieldIsTDSRegistered     = "is_tds_registered"
	FieldTaxID               = "tax_id"
	FieldIsTaxable           = "is_taxable"
	FieldGSTNo               = "gst_no"
	FieldGSTTreatment        = "gst_treatment"
	FieldCustomerName        = "customer_name"
	FieldSalesOrderNumber    = "salesorder_number"
	FieldDate                = "date"
	FieldShipmentDate        = "shipment_date"
	FieldItemRate            = "item_rate"
	FieldItemQuantity        = "item_quantity"
	FieldItemUnit            = "item_unit"
	FieldNotes               = "notes"
	FieldTerms               = "terms"
	FieldDiscount            = "discount"
	FieldIsDiscountBeforeTax = "is_discount_before_tax"
	FieldShippingCharge      = "shipping_charge"
	FieldDeliveryMethod      = "delivery_method"
)

var addressParts = []string{"attention", "address", "street2", "city", "state", "zip", "country"}

// DefaultAliases returns the built-in alias table in match order.
func DefaultAliases() []Alias {
	fields := []string{
		FieldName, FieldSKU, FieldItemType, FieldProductType, FieldUnit,
	}
	aliases := make([]Alias, 0, 64)
	for _, f := range fields {
		aliases = append(aliases, Alias{Field: f, Variants: []string{stripHeader(f)}})
	}
	aliases = append(aliases, Alias{Field: FieldInitialStock, Variants: []string{"openingstock", "initialstock"}})

	for _, f := range []string{
		FieldWarehouseName, FieldPurchaseOrderNumber, FieldPurchaseOrderDate, FieldDeliveryDate,
		FieldVendorName, FieldVendorNumber, FieldItemName, FieldQuantityReceived, FieldQuantityBilled,
		FieldItemTotal, FieldContactName, FieldCompanyName, FieldCurrencyID, FieldContactType,
	} {
		aliases = append(aliases, Alias{Field: f, Variants: []string{stripHeader(f)}})
	}
	for _, prefix := range []string{"billing", "shipping"} {
		for _, part := range addressParts {
			f := prefix + "_" + part
			aliases = append(aliases, Alias{Field: f, Variants: []string{stripHeader(f)}})
		}
	}
	for _, f := range []string{
		FieldLanguageCode, FieldCountryCode, FieldIsTDSRegistered, FieldTaxID, FieldIsTaxable,
		FieldGSTNo, FieldGSTTreatment, FieldCustomerName, FieldSalesOrderNumber, FieldDate,
		FieldShipmentDate, FieldItemRate, FieldItemQuantity, FieldItemUnit, FieldNotes, FieldTerms,
		FieldDiscount, FieldIsDiscountBeforeTax, FieldShippingCharge, FieldDeliveryMethod,
	} {
		aliases = append(aliases, Alias{Field: f, Variants: []string{stripHeader(f)}})
	}
	return aliases
}

// LoadAliases reads extra aliases from a YAML file of the form
//
//	- field: vendor_name
//	  variants: [supplier, suppliername]
func LoadAliases(path string) ([]Alias, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read alias file: %w", err)
	}

	var aliases []Alias
	if err := yaml.Unmarshal(data, &aliases); err != nil {
		return nil, fmt.Errorf("failed to parse alias file %s: %w", path, err)
	}

	for i := range aliases {
		if aliases[i].Field == "" {
			return nil, fmt.Errorf("alias %d in %s has no field", i, path)
		}
		for j, v := range aliases[i].Variants {
			aliases[i].Variants[j] = stripHeader(v)
		}
	}
	return aliases, nil
}

// HeaderMatcher resolves raw headers against an alias table.
type HeaderMatcher struct {
	aliases []aliasSignature
}

type aliasSignature struct {
	field     string
	signature letterCounts
}

// NewHeaderMatcher builds a matcher from the built-in table followed by extra.
func NewHeaderMatcher(extra ...Alias) *HeaderMatcher {
	table := append(DefaultAliases(), extra...)
	m := &HeaderMatcher{aliases: make([]aliasSignature, 0, len(table))}
	for _, a := range table {
		for _, v := range a.Variants {
			m.aliases = append(m.aliases, aliasSignature{field: a.Field, signature: countLetters(stripHeader(v))})
		}
	}
	return m
}

var defaultMatcher = NewHeaderMatcher()

// NormalizeHeader resolves raw against the built-in alias table.
func NormalizeHeader(raw string) string {
	return defaultMatcher.Normalize(raw)
}

// Normalize returns the canonical field for raw, or raw lower-cased when nothing matches.
// Two headers with the same multiset of letters resolve to the same field.
func (m *HeaderMatcher) Normalize(raw string) string {
	sig := countLetters(stripHeader(raw))
	if sig.total > 0 {
		for _, a := range m.aliases {
			if a.signature == sig {
				return a.field
			}
		}
	}
	return strings.ToLower(raw)
}

// stripHeader lower-cases and keeps only a-z.
func stripHeader(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if r >= 'a' && r <= 'z' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

type letterCounts struct {
	counts [26]int
	total  int
}

func countLetters(s string) letterCounts {
	var lc letterCounts
	for _, r := range s {
		lc.counts[r-'a']++
		lc.total++
	}
	return lc
}
