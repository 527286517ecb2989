// Package grouping folds flat order rows into order documents with resolved
// line items.
package grouping

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fartrucking/far-warehousing/pkg/zoho"
)

// Reasons recorded against an order number.
const (
	ReasonMissingWarehouse = "missing warehouse"
	ReasonMissingVendor    = "missing vendor"
	ReasonMissingCustomer  = "missing customer"
	ReasonMissingNumber    = "missing order number"
	ReasonPoisoned         = "order has failed rows"
)

// ItemLookup resolves items the run has not seen.
type ItemLookup interface {
	FindItemBySKU(ctx context.Context, sku string) (zoho.Item, bool, error)
	GetItem(ctx context.Context, id string) (zoho.Item, error)
}

// Clock returns the current time.
type Clock func() time.Time

// ItemRef is an item created or matched earlier in the run.
type ItemRef struct {
	ID   string
	SKU  string
	Name string
	Unit string
}

// CustomerRef is a customer created or matched earlier in the run.
type CustomerRef struct {
	ID          string
	ContactName string
	CompanyName string
}

// Catalog is everything a grouper resolves rows against.
type Catalog struct {
	Warehouses   []zoho.Warehouse
	Vendors      []zoho.Vendor
	Customers    []zoho.Contact
	RunItems     map[string]ItemRef
	RunCustomers []CustomerRef
}

type RowError struct {
	Key    string
	Reason string
}

type Result[T any] struct {
	Groups []T
	Errors []RowError
}

// AllFailed reports whether no order survived and at least one row failed.
func (r Result[T]) AllFailed() bool {
	return len(r.Groups) == 0 && len(r.Errors) > 0
}

type LineItem struct {
	ItemID           string
	SKU              string
	Name             string
	Quantity         decimal.Decimal
	Unit             string
	Rate             *decimal.Decimal
	ItemTotal        decimal.Decimal
	UnitConversionID string
	WarehouseID      string

	// BaseQuantity is Quantity expressed in BaseUnit, the item's own unit when
	// known. It is not sent to Zoho; it feeds the units metric.
	BaseQuantity decimal.Decimal
	BaseUnit     string
}

func (l LineItem) payload() zoho.LineItem {
	return zoho.LineItem{
		ItemID:           l.ItemID,
		SKU:              l.SKU,
		Name:             l.Name,
		Quantity:         l.Quantity,
		Unit:             l.Unit,
		Rate:             l.Rate,
		ItemTotal:        l.ItemTotal,
		UnitConversionID: l.UnitConversionID,
		WarehouseID:      l.WarehouseID,
	}
}

func linePayloads(lines []LineItem) []zoho.LineItem {
	out := make([]zoho.LineItem, len(lines))
	for i, l := range lines {
		out[i] = l.payload()
	}
	return out
}

type PurchaseOrder struct {
	Number        string
	Date          string
	DeliveryDate  string
	VendorID      string
	VendorName    string
	WarehouseID   string
	WarehouseName string
	Lines         []LineItem
}

// Payload builds the create request for the order.
func (po PurchaseOrder) Payload() zoho.PurchaseOrderPayload {
	return zoho.PurchaseOrderPayload{
		Number:               po.Number,
		Date:                 po.Date,
		DeliveryDate:         po.DeliveryDate,
		VendorID:             po.VendorID,
		Attention:            po.WarehouseName,
		DeliveryOrgAddressID: po.WarehouseID,
		LineItems:            linePayloads(po.Lines),
	}
}

type SalesOrder struct {
	Number              string
	CustomerID          string
	CustomerName        string
	Date                string
	ShipmentDate        string
	Notes               string
	Terms               string
	Discount            string
	IsDiscountBeforeTax bool
	ShippingCharge      decimal.Decimal
	DeliveryMethod      string
	Lines               []LineItem
}

// Payload builds the create request for the order.
func (so SalesOrder) Payload() zoho.SalesOrderPayload {
	return zoho.SalesOrderPayload{
		CustomerID:          so.CustomerID,
		Number:              so.Number,
		Date:                so.Date,
		ShipmentDate:        so.ShipmentDate,
		Notes:               so.Notes,
		Terms:               so.Terms,
		Discount:            so.Discount,
		IsDiscountBeforeTax: so.IsDiscountBeforeTax,
		ShippingCharge:      so.ShippingCharge,
		DeliveryMethod:      so.DeliveryMethod,
		LineItems:           linePayloads(so.Lines),
	}
}
