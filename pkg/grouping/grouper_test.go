package grouping

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fartrucking/far-warehousing/pkg/normalize"
	"github.com/fartrucking/far-warehousing/pkg/zoho"
)

type fakeItems struct {
	bySKU    map[string]zoho.Item
	byID     map[string]zoho.Item
	skuCalls int
	failSKU  bool
}

func (f *fakeItems) FindItemBySKU(_ context.Context, sku string) (zoho.Item, bool, error) {
	f.skuCalls++
	if f.failSKU {
		return zoho.Item{}, false, errors.New("boom")
	}
	item, ok := f.bySKU[normalize.SKUKey(sku)]
	return item, ok, nil
}

func (f *fakeItems) GetItem(_ context.Context, id string) (zoho.Item, error) {
	item, ok := f.byID[id]
	if !ok {
		return zoho.Item{}, errors.New("not found")
	}
	return item, nil
}

var fixedNow = time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)

func newTestGrouper(items *fakeItems) *Grouper {
	return newLoggedGrouper(items, ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {}))
}

func newLoggedGrouper(items *fakeItems, logger ectologger.Logger) *Grouper {
	catalog := Catalog{
		Warehouses: []zoho.Warehouse{{ID: "wh-1", Name: "Main Warehouse"}},
		Vendors:    []zoho.Vendor{{ID: "v-1", Name: "Acme Supplies"}},
		Customers:  []zoho.Contact{{ID: "c-remote", ContactName: "Remote Buyer", CompanyName: "Remote Co"}},
		RunItems: map[string]ItemRef{
			normalize.SKUKey("WINE-001"): {ID: "i-1", SKU: "WINE-001", Name: "House Red", Unit: "BOT"},
		},
		RunCustomers: []CustomerRef{{ID: "c-run", ContactName: "Jane Doe", CompanyName: "Globex"}},
	}
	return NewGrouper(catalog, items, logger).WithClock(func() time.Time { return fixedNow })
}

func poRow(number, sku, qty string) normalize.Record {
	return normalize.Record{
		normalize.FieldPurchaseOrderNumber: number,
		normalize.FieldPurchaseOrderDate:   "2024-06-20",
		normalize.FieldDeliveryDate:        "2024-06-25",
		normalize.FieldVendorName:          "acme  supplies",
		normalize.FieldWarehouseName:       "Main Warehouse",
		normalize.FieldSKU:                 sku,
		normalize.FieldQuantityReceived:    qty,
		normalize.FieldUnit:                "BOT",
		normalize.FieldItemTotal:           "120",
	}
}

func soRow(number, sku, customer string) normalize.Record {
	return normalize.Record{
		normalize.FieldSalesOrderNumber: number,
		normalize.FieldCustomerName:     customer,
		normalize.FieldDate:             "2024-06-20",
		normalize.FieldShipmentDate:     "2024-06-22",
		normalize.FieldWarehouseName:    "main warehouse",
		normalize.FieldSKU:              sku,
		normalize.FieldItemQuantity:     "2",
		normalize.FieldItemUnit:         "C6",
		normalize.FieldItemRate:         "15.5",
		normalize.FieldItemTotal:        "31",
	}
}

func TestGroupPurchaseOrders(t *testing.T) {
	t.Run("should fold rows of one order into one group in input order", func(t *testing.T) {
		items := &fakeItems{
			bySKU: map[string]zoho.Item{normalize.SKUKey("WINE-002"): {ID: "i-2", SKU: "WINE-002", Name: "House White", Unit: "BOT"}},
			byID:  map[string]zoho.Item{},
		}
		g := newTestGrouper(items)

		res := g.GroupPurchaseOrders(context.Background(), []normalize.Record{
			poRow("PO-100", "WINE-001", "12"),
			poRow("PO-100", "wine 002", "6"),
		})

		require.Empty(t, res.Errors)
		require.Len(t, res.Groups, 1)
		po := res.Groups[0]
		assert.Equal(t, "PO-100", po.Number)
		assert.Equal(t, "v-1", po.VendorID)
		require.Len(t, po.Lines, 2)
		assert.Equal(t, "i-1", po.Lines[0].ItemID)
		assert.Equal(t, "i-2", po.Lines[1].ItemID)
		assert.True(t, po.Lines[1].Quantity.Equal(decimal.NewFromInt(6)))

		payload := po.Payload()
		assert.Equal(t, "Main Warehouse", payload.Attention)
		assert.Equal(t, "wh-1", payload.DeliveryOrgAddressID)
		assert.NoError(t, zoho.Validate(payload))
	})

	t.Run("should attach the unit conversion matching the row unit", func(t *testing.T) {
		items := &fakeItems{byID: map[string]zoho.Item{
			"i-1": {ID: "i-1", Unit: "BOT", UnitConversions: []zoho.UnitConversion{
				{ID: "uc-6", TargetUnit: "C6", ConversionRate: decimal.NewFromInt(6)},
			}},
		}}
		g := newTestGrouper(items)

		row := poRow("PO-1", "WINE-001", "2")
		row[normalize.FieldUnit] = "c6"
		res := g.GroupPurchaseOrders(context.Background(), []normalize.Record{row})

		require.Len(t, res.Groups, 1)
		line := res.Groups[0].Lines[0]
		assert.Equal(t, "uc-6", line.UnitConversionID)
		require.NotNil(t, line.Rate)
		assert.True(t, line.Rate.Equal(decimal.NewFromInt(6)))
		assert.True(t, line.BaseQuantity.Equal(decimal.NewFromInt(12)))
	})

	t.Run("should clamp delivery dates", func(t *testing.T) {
		g := newTestGrouper(&fakeItems{})

		early := poRow("PO-1", "WINE-001", "1")
		early[normalize.FieldDeliveryDate] = "2024-06-18"
		past := poRow("PO-2", "WINE-001", "1")
		past[normalize.FieldPurchaseOrderDate] = "2024-05-01"
		past[normalize.FieldDeliveryDate] = "2024-05-10"

		res := g.GroupPurchaseOrders(context.Background(), []normalize.Record{early, past})
		require.Len(t, res.Groups, 2)
		assert.Equal(t, "2024-06-20", res.Groups[0].DeliveryDate)
		assert.Equal(t, "2024-06-15", res.Groups[1].DeliveryDate)
	})

	t.Run("should poison an order with a failing row", func(t *testing.T) {
		items := &fakeItems{bySKU: map[string]zoho.Item{}}
		g := newTestGrouper(items)

		missingVendor := poRow("PO-2", "WINE-001", "1")
		missingVendor[normalize.FieldVendorName] = "Unknown Vendor"

		res := g.GroupPurchaseOrders(context.Background(), []normalize.Record{
			poRow("PO-1", "WINE-001", "1"),
			poRow("PO-1", "NOPE-1", "1"),
			poRow("PO-1", "WINE-001", "1"),
			missingVendor,
			poRow("PO-3", "WINE-001", "1"),
		})

		require.Len(t, res.Groups, 1)
		assert.Equal(t, "PO-3", res.Groups[0].Number)
		require.Len(t, res.Errors, 3)
		assert.Equal(t, "PO-1", res.Errors[0].Key)
		assert.Contains(t, res.Errors[0].Reason, "item not found")
		assert.Equal(t, RowError{Key: "PO-1", Reason: ReasonPoisoned}, res.Errors[1])
		assert.Equal(t, RowError{Key: "PO-2", Reason: ReasonMissingVendor}, res.Errors[2])
		assert.False(t, res.AllFailed())
	})

	t.Run("should report a batch where every row failed", func(t *testing.T) {
		g := newTestGrouper(&fakeItems{})

		row := poRow("PO-1", "WINE-001", "1")
		row[normalize.FieldWarehouseName] = "Elsewhere"
		res := g.GroupPurchaseOrders(context.Background(), []normalize.Record{row})

		assert.Empty(t, res.Groups)
		assert.Equal(t, []RowError{{Key: "PO-1", Reason: ReasonMissingWarehouse}}, res.Errors)
		assert.True(t, res.AllFailed())
	})
}

func TestGroupSalesOrders(t *testing.T) {
	t.Run("should move an order with an unknown SKU into errors", func(t *testing.T) {
		items := &fakeItems{bySKU: map[string]zoho.Item{}}
		g := newTestGrouper(items)

		res := g.GroupSalesOrders(context.Background(), []normalize.Record{
			soRow("SO-1", "WINE-001", "Jane Doe"),
			soRow("SO-2", "MISSING-9", "Jane Doe"),
			soRow("SO-3", "WINE-001", "remote co"),
		})

		require.Len(t, res.Groups, 2)
		assert.Equal(t, "SO-1", res.Groups[0].Number)
		assert.Equal(t, "c-run", res.Groups[0].CustomerID)
		assert.Equal(t, "SO-3", res.Groups[1].Number)
		assert.Equal(t, "c-remote", res.Groups[1].CustomerID)
		require.Len(t, res.Errors, 1)
		assert.Equal(t, "SO-2", res.Errors[0].Key)
	})

	t.Run("should look up each unknown SKU remotely once", func(t *testing.T) {
		items := &fakeItems{bySKU: map[string]zoho.Item{}}
		g := newTestGrouper(items)

		g.GroupSalesOrders(context.Background(), []normalize.Record{
			soRow("SO-1", "MISSING-9", "Jane Doe"),
			soRow("SO-2", "missing 9", "Jane Doe"),
		})
		assert.Equal(t, 1, items.skuCalls)
	})

	t.Run("should report remote lookup failures per order", func(t *testing.T) {
		g := newTestGrouper(&fakeItems{failSKU: true})

		res := g.GroupSalesOrders(context.Background(), []normalize.Record{soRow("SO-1", "OTHER-1", "Jane Doe")})
		require.Len(t, res.Errors, 1)
		assert.Contains(t, res.Errors[0].Reason, "boom")
	})

	t.Run("should warn on lookup failures but not on unknown skus", func(t *testing.T) {
		var warnings []string
		logger := ectologger.NewEctoLogger(func(msg ectologger.EctoLogMessage) {
			if msg.Level == "warn" {
				warnings = append(warnings, msg.Message)
			}
		})

		newLoggedGrouper(&fakeItems{bySKU: map[string]zoho.Item{}}, logger).
			GroupSalesOrders(context.Background(), []normalize.Record{soRow("SO-1", "MISSING-9", "Jane Doe")})
		assert.Empty(t, warnings)

		newLoggedGrouper(&fakeItems{failSKU: true}, logger).
			GroupSalesOrders(context.Background(), []normalize.Record{soRow("SO-2", "OTHER-1", "Jane Doe")})
		assert.Equal(t, []string{"Item lookup failed for SKU OTHER-1"}, warnings)
	})

	t.Run("should resolve customers by company name", func(t *testing.T) {
		g := newTestGrouper(&fakeItems{})

		res := g.GroupSalesOrders(context.Background(), []normalize.Record{soRow("SO-1", "WINE-001", "GLOBEX")})
		require.Len(t, res.Groups, 1)
		assert.Equal(t, "c-run", res.Groups[0].CustomerID)
	})

	t.Run("should fail rows with an unknown customer", func(t *testing.T) {
		g := newTestGrouper(&fakeItems{})

		res := g.GroupSalesOrders(context.Background(), []normalize.Record{soRow("SO-1", "WINE-001", "Nobody")})
		assert.Equal(t, []RowError{{Key: "SO-1", Reason: ReasonMissingCustomer}}, res.Errors)
	})

	t.Run("should clamp shipment and order dates", func(t *testing.T) {
		g := newTestGrouper(&fakeItems{})

		pastShipment := soRow("SO-1", "WINE-001", "Jane Doe")
		pastShipment[normalize.FieldDate] = "2024-06-01"
		pastShipment[normalize.FieldShipmentDate] = "2024-06-10"
		lateOrder := soRow("SO-2", "WINE-001", "Jane Doe")
		lateOrder[normalize.FieldDate] = "2024-06-30"
		lateOrder[normalize.FieldShipmentDate] = "2024-06-28"

		res := g.GroupSalesOrders(context.Background(), []normalize.Record{pastShipment, lateOrder})
		require.Len(t, res.Groups, 2)
		assert.Equal(t, "2024-06-01", res.Groups[0].Date)
		assert.Equal(t, "2024-06-15", res.Groups[0].ShipmentDate)
		assert.Equal(t, "2024-06-27", res.Groups[1].Date)
		assert.Equal(t, "2024-06-28", res.Groups[1].ShipmentDate)
	})

	t.Run("should send the row rate without a conversion", func(t *testing.T) {
		g := newTestGrouper(&fakeItems{})

		res := g.GroupSalesOrders(context.Background(), []normalize.Record{soRow("SO-1", "WINE-001", "Jane Doe")})
		require.Len(t, res.Groups, 1)
		line := res.Groups[0].Lines[0]
		assert.Empty(t, line.UnitConversionID)
		require.NotNil(t, line.Rate)
		assert.True(t, line.Rate.Equal(decimal.RequireFromString("15.5")))
		assert.True(t, line.BaseQuantity.Equal(decimal.NewFromInt(12)))

		payload := res.Groups[0].Payload()
		assert.NoError(t, zoho.Validate(payload))
	})

	t.Run("should record rows without an order number", func(t *testing.T) {
		g := newTestGrouper(&fakeItems{})

		row := soRow("", "WINE-001", "Jane Doe")
		res := g.GroupSalesOrders(context.Background(), []normalize.Record{row})
		assert.Equal(t, []RowError{{Reason: ReasonMissingNumber}}, res.Errors)
	})
}
