package zoho

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Response codes returned in the body of every API call.
const (
	CodeSuccess          = 0
	CodeItemDuplicate    = 1001
	CodeContactDuplicate = 3062
)

// Entity kinds, used for logging, metrics and duplicate-code lookups.
const (
	KindItem          = "item"
	KindContact       = "customer"
	KindPurchaseOrder = "purchase_order"
	KindSalesOrder    = "sales_order"
)

type UnitConversion struct {
	ID             string          `json:"unit_conversion_id"`
	TargetUnit     string          `json:"target_unit"`
	ConversionRate decimal.Decimal `json:"conversion_rate"`
}

type Item struct {
	ID              string           `json:"item_id"`
	Name            string           `json:"name"`
	SKU             string           `json:"sku"`
	Unit            string           `json:"unit"`
	StockOnHand     decimal.Decimal  `json:"stock_on_hand"`
	AvailableStock  decimal.Decimal  `json:"actual_available_stock"`
	UnitConversions []UnitConversion `json:"unit_conversions,omitempty"`
}

// ConversionFor returns the conversion whose target unit is unit, compared case-insensitively.
func (i Item) ConversionFor(unit string) (UnitConversion, bool) {
	for _, c := range i.UnitConversions {
		if c.TargetUnit != "" && strings.EqualFold(c.TargetUnit, unit) {
			return c, true
		}
	}
	return UnitConversion{}, false
}

type Address struct {
	ID        string `json:"address_id,omitempty"`
	Attention string `json:"attention,omitempty"`
	Address   string `json:"address,omitempty"`
	Street2   string `json:"street2,omitempty"`
	City      string `json:"city,omitempty"`
	State     string `json:"state,omitempty"`
	Zip       string `json:"zip,omitempty"`
	Country   string `json:"country,omitempty"`
}

type Contact struct {
	ID           string `json:"contact_id"`
	ContactName  string `json:"contact_name"`
	CompanyName  string `json:"company_name"`
	CustomerName string `json:"customer_name,omitempty"`
	VendorName   string `json:"vendor_name,omitempty"`
	ContactType  string `json:"contact_type,omitempty"`
}

// Company returns the company name, falling back to customer_name.
func (c Contact) Company() string {
	if c.CompanyName != "" {
		return c.CompanyName
	}
	return c.CustomerName
}

type Vendor struct {
	ID   string
	Name string
}

type Warehouse struct {
	ID   string `json:"warehouse_id"`
	Name string `json:"warehouse_name"`
}

type PurchaseOrder struct {
	ID     string `json:"purchaseorder_id"`
	Number string `json:"purchaseorder_number"`
	Status string `json:"status,omitempty"`
}

type SalesOrder struct {
	ID     string `json:"salesorder_id"`
	Number string `json:"salesorder_number"`
	Status string `json:"status,omitempty"`
}

// CreateResult is the envelope of a successful create call.
type CreateResult struct {
	Code    int
	Message string
	ID      string
}
