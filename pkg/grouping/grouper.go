package grouping

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/shopspring/decimal"

	apperrors "github.com/fartrucking/far-warehousing/pkg/errors"
	"github.com/fartrucking/far-warehousing/pkg/matching"
	"github.com/fartrucking/far-warehousing/pkg/metrics"
	"github.com/fartrucking/far-warehousing/pkg/normalize"
	"github.com/fartrucking/far-warehousing/pkg/tracing"
	"github.com/fartrucking/far-warehousing/pkg/zoho"
)

// Grouper resolves order rows for one batch. It caches remote item lookups,
// so use a new Grouper per batch.
type Grouper struct {
	catalog Catalog
	items   ItemLookup
	now     Clock
	logger  ectologger.Logger

	bySKU   map[string]*zoho.Item
	details map[string]*zoho.Item
}

func NewGrouper(catalog Catalog, items ItemLookup, logger ectologger.Logger) *Grouper {
	return &Grouper{
		catalog: catalog,
		items:   items,
		now:     time.Now,
		logger:  logger,
		bySKU:   map[string]*zoho.Item{},
		details: map[string]*zoho.Item{},
	}
}

// WithClock overrides the clock used for date clamping.
func (g *Grouper) WithClock(clock Clock) *Grouper {
	g.now = clock
	return g
}

// line is the per-row input that differs between order kinds.
type line struct {
	sku       string
	name      string
	unit      string
	quantity  decimal.Decimal
	total     decimal.Decimal
	rawRate   *decimal.Decimal
	warehouse string
}

// fold accumulates groups in first-seen order and poisons orders with a failed row.
type fold[T any] struct {
	order    []string
	groups   map[string]*T
	poisoned map[string]bool
	errors   []RowError
}

func newFold[T any]() *fold[T] {
	return &fold[T]{groups: map[string]*T{}, poisoned: map[string]bool{}}
}

func (f *fold[T]) fail(key, reason string) {
	f.errors = append(f.errors, RowError{Key: key, Reason: reason})
	if key == "" {
		return
	}
	f.poisoned[key] = true
	delete(f.groups, key)
}

func (f *fold[T]) result() Result[T] {
	res := Result[T]{Errors: f.errors}
	for _, key := range f.order {
		if group, ok := f.groups[key]; ok {
			res.Groups = append(res.Groups, *group)
		}
	}
	return res
}

// GroupPurchaseOrders folds purchase order rows by purchase order number.
func (g *Grouper) GroupPurchaseOrders(ctx context.Context, rows []normalize.Record) Result[PurchaseOrder] {
	ctx, span := tracing.StartSpan(ctx, "Grouper.GroupPurchaseOrders")
	defer span.End()

	f := newFold[PurchaseOrder]()
	for _, row := range rows {
		number := row.Get(normalize.FieldPurchaseOrderNumber)
		if number == "" {
			f.fail("", ReasonMissingNumber)
			continue
		}
		if f.poisoned[number] {
			f.fail(number, ReasonPoisoned)
			continue
		}

		warehouse, ok := g.warehouse(row.Get(normalize.FieldWarehouseName))
		if !ok {
			f.fail(number, ReasonMissingWarehouse)
			continue
		}
		vendor, ok := matching.FindExisting(matching.NameIdentity(row.Get(normalize.FieldVendorName)), g.catalog.Vendors, func(v zoho.Vendor) matching.Identity {
			return matching.NameIdentity(v.Name)
		})
		if !ok {
			f.fail(number, ReasonMissingVendor)
			continue
		}

		item, err := g.resolveLine(ctx, line{
			sku:      row.Get(normalize.FieldSKU),
			name:     row.Get(normalize.FieldItemName),
			unit:     row.Get(normalize.FieldUnit),
			quantity: row.Decimal(normalize.FieldQuantityReceived),
			total:    row.Decimal(normalize.FieldItemTotal),
		}, warehouse.ID)
		if err != nil {
			f.fail(number, err.Error())
			continue
		}

		if po, ok := f.groups[number]; ok {
			po.Lines = append(po.Lines, item)
			continue
		}
		f.order = append(f.order, number)
		f.groups[number] = &PurchaseOrder{
			Number:        number,
			Date:          row.Get(normalize.FieldPurchaseOrderDate),
			DeliveryDate:  g.clampDelivery(row.Get(normalize.FieldDeliveryDate), row.Get(normalize.FieldPurchaseOrderDate)),
			VendorID:      vendor.ID,
			VendorName:    vendor.Name,
			WarehouseID:   warehouse.ID,
			WarehouseName: warehouse.Name,
			Lines:         []LineItem{item},
		}
	}

	res := f.result()
	g.report(ctx, zoho.KindPurchaseOrder, len(rows), len(res.Groups), res.Errors)
	return res
}

// GroupSalesOrders folds sales order rows by sales order number.
func (g *Grouper) GroupSalesOrders(ctx context.Context, rows []normalize.Record) Result[SalesOrder] {
	ctx, span := tracing.StartSpan(ctx, "Grouper.GroupSalesOrders")
	defer span.End()

	f := newFold[SalesOrder]()
	for _, row := range rows {
		number := row.Get(normalize.FieldSalesOrderNumber)
		if number == "" {
			f.fail("", ReasonMissingNumber)
			continue
		}
		if f.poisoned[number] {
			f.fail(number, ReasonPoisoned)
			continue
		}

		warehouse, ok := g.warehouse(row.Get(normalize.FieldWarehouseName))
		if !ok {
			f.fail(number, ReasonMissingWarehouse)
			continue
		}
		customerID, ok := g.customer(row.Get(normalize.FieldCustomerName))
		if !ok {
			f.fail(number, ReasonMissingCustomer)
			continue
		}

		var rawRate *decimal.Decimal
		if row.Has(normalize.FieldItemRate) {
			rate := row.Decimal(normalize.FieldItemRate)
			rawRate = &rate
		}
		item, err := g.resolveLine(ctx, line{
			sku:      row.Get(normalize.FieldSKU),
			name:     row.Get(normalize.FieldItemName),
			unit:     row.Get(normalize.FieldItemUnit),
			quantity: row.Decimal(normalize.FieldItemQuantity),
			total:    row.Decimal(normalize.FieldItemTotal),
			rawRate:  rawRate,
		}, warehouse.ID)
		if err != nil {
			f.fail(number, err.Error())
			continue
		}

		if so, ok := f.groups[number]; ok {
			so.Lines = append(so.Lines, item)
			continue
		}
		shipment := row.Get(normalize.FieldShipmentDate)
		f.order = append(f.order, number)
		f.groups[number] = &SalesOrder{
			Number:              number,
			CustomerID:          customerID,
			CustomerName:        row.Get(normalize.FieldCustomerName),
			Date:                g.clampOrderDate(row.Get(normalize.FieldDate), shipment),
			ShipmentDate:        g.clampToToday(shipment),
			Notes:               row.Get(normalize.FieldNotes),
			Terms:               row.Get(normalize.FieldTerms),
			Discount:            row.Get(normalize.FieldDiscount),
			IsDiscountBeforeTax: parseFlag(row.Get(normalize.FieldIsDiscountBeforeTax)),
			ShippingCharge:      row.Decimal(normalize.FieldShippingCharge),
			DeliveryMethod:      row.Get(normalize.FieldDeliveryMethod),
			Lines:               []LineItem{item},
		}
	}

	res := f.result()
	g.report(ctx, zoho.KindSalesOrder, len(rows), len(res.Groups), res.Errors)
	return res
}

func (g *Grouper) report(ctx context.Context, kind string, rows, groups int, errs []RowError) {
	metrics.RecordRowErrors(kind, len(errs))
	log := g.logger.WithContext(ctx).WithFields(map[string]any{
		"kind":   kind,
		"rows":   rows,
		"groups": groups,
		"errors": len(errs),
	})
	if len(errs) > 0 {
		log.Warn("Some order rows could not be resolved")
		return
	}
	log.Debug("Grouped order rows")
}

func (g *Grouper) warehouse(name string) (zoho.Warehouse, bool) {
	return matching.FindExisting(matching.NameIdentity(name), g.catalog.Warehouses, func(w zoho.Warehouse) matching.Identity {
		return matching.NameIdentity(w.Name)
	})
}

// customer looks in the run's customers first, then the remote snapshot.
func (g *Grouper) customer(name string) (string, bool) {
	candidate := matching.CustomerNameIdentity(name)

	if c, ok := matching.FindExisting(candidate, g.catalog.RunCustomers, func(c CustomerRef) matching.Identity {
		return matching.CustomerIdentity(c.ContactName, c.CompanyName)
	}); ok && c.ID != "" {
		return c.ID, true
	}
	if c, ok := matching.FindExisting(candidate, g.catalog.Customers, func(c zoho.Contact) matching.Identity {
		return matching.CustomerIdentity(c.ContactName, c.Company())
	}); ok && c.ID != "" {
		return c.ID, true
	}
	return "", false
}

func (g *Grouper) resolveLine(ctx context.Context, in line, warehouseID string) (LineItem, error) {
	ref, err := g.item(ctx, in.sku)
	if err != nil {
		if !apperrors.IsResolutionError(err) {
			g.logger.WithContext(ctx).WithError(err).Warnf("Item lookup failed for SKU %s", in.sku)
		}
		return LineItem{}, err
	}

	out := LineItem{
		ItemID:       ref.ID,
		SKU:          in.sku,
		Name:         ref.Name,
		Quantity:     in.quantity,
		Unit:         in.unit,
		Rate:         in.rawRate,
		ItemTotal:    in.total,
		WarehouseID:  warehouseID,
		BaseQuantity: in.quantity,
		BaseUnit:     in.unit,
	}
	if out.Name == "" {
		out.Name = in.name
	}

	detail := g.detail(ctx, ref.ID)
	if detail != nil {
		if conv, ok := detail.ConversionFor(in.unit); ok && conv.ID != "" {
			rate := conv.ConversionRate
			out.UnitConversionID = conv.ID
			out.Rate = &rate
		}
		if detail.Unit != "" {
			ref.Unit = detail.Unit
		}
	}
	if ref.Unit != "" && in.unit != "" {
		out.BaseQuantity = normalize.ConvertQuantity(in.quantity, in.unit, ref.Unit)
		out.BaseUnit = ref.Unit
	}
	return out, nil
}

// item resolves a SKU from the run's items, then remotely.
func (g *Grouper) item(ctx context.Context, sku string) (ItemRef, error) {
	key := normalize.SKUKey(sku)
	if key == "" {
		return ItemRef{}, apperrors.NewResolutionError("", "item not found: row has no SKU")
	}
	if ref, ok := g.catalog.RunItems[key]; ok && ref.ID != "" {
		return ref, nil
	}

	cached, seen := g.bySKU[key]
	if !seen {
		item, found, err := g.items.FindItemBySKU(ctx, sku)
		if err != nil {
			return ItemRef{}, fmt.Errorf("item lookup failed for SKU %s: %w", sku, err)
		}
		if found {
			cached = &item
		}
		g.bySKU[key] = cached
	}
	if cached == nil {
		return ItemRef{}, apperrors.NewResolutionError(sku, "item not found, check if the item exists in Zoho")
	}
	return ItemRef{ID: cached.ID, SKU: cached.SKU, Name: cached.Name, Unit: cached.Unit}, nil
}

// detail fetches the full item once per batch. Failures only cost the unit conversion.
func (g *Grouper) detail(ctx context.Context, id string) *zoho.Item {
	if cached, ok := g.details[id]; ok {
		return cached
	}
	item, err := g.items.GetItem(ctx, id)
	if err != nil {
		g.logger.WithContext(ctx).WithError(err).Warnf("Failed to fetch item %s, sending without unit conversion", id)
		g.details[id] = nil
		return nil
	}
	g.details[id] = &item
	return &item
}

func (g *Grouper) today() time.Time {
	now := g.now()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

// clampDelivery moves a delivery date before the order date onto the order
// date, and a past delivery date onto today.
func (g *Grouper) clampDelivery(delivery, orderDate string) string {
	d, ok := normalize.ParseDate(delivery)
	if !ok {
		return delivery
	}
	if o, ok := normalize.ParseDate(orderDate); ok && d.Before(o) {
		return orderDate
	}
	return g.clampToToday(delivery)
}

func (g *Grouper) clampToToday(date string) string {
	d, ok := normalize.ParseDate(date)
	if !ok {
		return date
	}
	if today := g.today(); d.Before(today) {
		return today.Format(normalize.DateLayout)
	}
	return date
}

// clampOrderDate moves an order date after the shipment date to the day before shipment.
func (g *Grouper) clampOrderDate(date, shipment string) string {
	d, ok := normalize.ParseDate(date)
	if !ok {
		return date
	}
	s, ok := normalize.ParseDate(shipment)
	if ok && d.After(s) {
		return s.AddDate(0, 0, -1).Format(normalize.DateLayout)
	}
	return date
}

func parseFlag(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "yes", "y", "1":
		return true
	}
	return false
}
