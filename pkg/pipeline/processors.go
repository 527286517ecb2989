package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/Gobusters/ectolinq"
	"github.com/shopspring/decimal"

	"github.com/fartrucking/far-warehousing/pkg/grouping"
	"github.com/fartrucking/far-warehousing/pkg/matching"
	"github.com/fartrucking/far-warehousing/pkg/metrics"
	"github.com/fartrucking/far-warehousing/pkg/normalize"
	"github.com/fartrucking/far-warehousing/pkg/upsert"
	"github.com/fartrucking/far-warehousing/pkg/zoho"
)

var minimumStockRate = decimal.RequireFromString("0.01")

// batch is what pushing one file settled to.
type batch struct {
	Results   []upsert.Result
	RowErrors []grouping.RowError
}

// AllFailed reports whether nothing in the file went through.
func (b batch) AllFailed() bool {
	if len(b.Results) == 0 {
		return len(b.RowErrors) > 0
	}
	for _, r := range b.Results {
		if !r.Failed() {
			return false
		}
	}
	return true
}

func (b batch) HasErrors() bool {
	return len(b.RowErrors) > 0 || len(upsert.Failures(b.Results)) > 0
}

// Counts tallies results by status plus dropped rows.
func (b batch) Counts() map[string]int {
	counts := map[string]int{}
	for _, r := range b.Results {
		counts[string(r.Status)]++
	}
	if len(b.RowErrors) > 0 {
		counts["row_errors"] = len(b.RowErrors)
	}
	return counts
}

// Summary lists every row and record failure, one per line.
func (b batch) Summary() string {
	var sb strings.Builder
	for _, e := range b.RowErrors {
		key := e.Key
		if key == "" {
			key = "(no key)"
		}
		fmt.Fprintf(&sb, "%s: %s\n", key, e.Reason)
	}
	sb.WriteString(upsert.Summarize(upsert.Failures(b.Results)))
	return strings.TrimSuffix(sb.String(), "\n")
}

// processor pushes the records of one file of a given kind.
type processor func(ctx context.Context, records []normalize.Record, snap Snapshot, state RunState) (batch, RunState, error)

func (o *Orchestrator) processorFor(kind string) processor {
	switch kind {
	case zoho.KindItem:
		return o.pushItems
	case zoho.KindPurchaseOrder:
		return o.pushPurchaseOrders
	case zoho.KindContact:
		return o.pushCustomers
	case zoho.KindSalesOrder:
		return o.pushSalesOrders
	}
	return nil
}

func (o *Orchestrator) engine(kind string) *upsert.Engine {
	return upsert.NewEngine(o.profiles[kind], o.logger)
}

func (o *Orchestrator) grouper(snap Snapshot, state RunState) *grouping.Grouper {
	g := grouping.NewGrouper(state.Catalog(snap), o.remote, o.logger)
	if o.clock != nil {
		g = g.WithClock(o.clock)
	}
	return g
}

// rowKey names a row in messages. Line 1 is the header.
func rowKey(key string, index int) string {
	if key != "" {
		return key
	}
	return fmt.Sprintf("row %d", index+2)
}

func (o *Orchestrator) pushItems(ctx context.Context, records []normalize.Record, _ Snapshot, state RunState) (batch, RunState, error) {
	var b batch
	known := state.Items()
	seen := map[string]bool{}

	var ops []upsert.Op
	var refs []grouping.ItemRef
	for i, rec := range records {
		sku, name := rec.Get(normalize.FieldSKU), rec.Get(normalize.FieldName)
		if sku == "" || name == "" {
			b.RowErrors = append(b.RowErrors, grouping.RowError{Key: rowKey(sku, i), Reason: "missing sku or name"})
			continue
		}
		key := normalize.SKUKey(sku)
		if seen[key] {
			b.RowErrors = append(b.RowErrors, grouping.RowError{Key: sku, Reason: "duplicate sku in file"})
			continue
		}
		seen[key] = true

		payload := itemPayload(rec)
		ops = append(ops, upsert.Op{
			Key: sku,
			Existing: func() (string, bool) {
				ref, ok := known[key]
				return ref.ID, ok && ref.ID != ""
			},
			Lookup: func(ctx context.Context) (string, bool, error) {
				item, found, err := o.remote.FindItemBySKU(ctx, sku)
				return item.ID, found, err
			},
			Create: func(ctx context.Context) (zoho.CreateResult, error) {
				return o.remote.CreateItem(ctx, payload)
			},
			Resolve: func(ctx context.Context) (string, error) {
				item, found, err := o.remote.FindItemBySKU(ctx, sku)
				if err != nil {
					return "", err
				}
				if !found {
					return "", fmt.Errorf("item %s reported as duplicate but not found", sku)
				}
				return item.ID, nil
			},
		})
		refs = append(refs, grouping.ItemRef{SKU: sku, Name: name, Unit: payload.Unit})
	}

	b.Results = o.engine(zoho.KindItem).Upsert(ctx, ops, o.dryRun)

	settled := make([]grouping.ItemRef, 0, len(refs))
	for i, r := range b.Results {
		if r.Failed() {
			continue
		}
		ref := refs[i]
		ref.ID = r.ID
		settled = append(settled, ref)
	}
	return b, state.WithItems(settled...), nil
}

func itemPayload(rec normalize.Record) zoho.ItemPayload {
	rate := rec.Decimal(normalize.FieldInitialStockRate)
	if !rate.IsPositive() {
		rate = minimumStockRate
	}
	return zoho.ItemPayload{
		SKU:              rec.Get(normalize.FieldSKU),
		Name:             rec.Get(normalize.FieldName),
		ItemType:         rec.Get(normalize.FieldItemType),
		ProductType:      rec.Get(normalize.FieldProductType),
		Unit:             rec.Get(normalize.FieldUnit),
		InitialStock:     rec.Decimal(normalize.FieldInitialStock),
		InitialStockRate: rate,
		WarehouseName:    rec.Get(normalize.FieldWarehouseName),
	}
}

func (o *Orchestrator) pushCustomers(ctx context.Context, records []normalize.Record, snap Snapshot, state RunState) (batch, RunState, error) {
	var b batch
	runCustomers := state.Customers()

	var ops []upsert.Op
	var refs []grouping.CustomerRef
	for i, rec := range records {
		contact, company := rec.Get(normalize.FieldContactName), rec.Get(normalize.FieldCompanyName)
		if contact == "" && company == "" {
			b.RowErrors = append(b.RowErrors, grouping.RowError{Key: rowKey("", i), Reason: "missing contact and company name"})
			continue
		}

		payload := contactPayload(rec)
		ops = append(ops, upsert.Op{
			Key: customerKey(contact, company),
			Existing: func() (string, bool) {
				if c, ok := matching.FindCustomer(contact, company, runCustomers, func(c grouping.CustomerRef) (string, string) {
					return c.ContactName, c.CompanyName
				}); ok && c.ID != "" {
					return c.ID, true
				}
				c, ok := matching.FindCustomer(contact, company, snap.Customers, func(c zoho.Contact) (string, string) {
					return c.ContactName, c.Company()
				})
				return c.ID, ok && c.ID != ""
			},
			Create: func(ctx context.Context) (zoho.CreateResult, error) {
				return o.remote.CreateContact(ctx, payload)
			},
			Resolve: func(ctx context.Context) (string, error) {
				return o.resolveContact(ctx, contact, company)
			},
		})
		refs = append(refs, grouping.CustomerRef{ContactName: contact, CompanyName: company})
	}

	b.Results = o.engine(zoho.KindContact).Upsert(ctx, ops, o.dryRun)

	settled := make([]grouping.CustomerRef, 0, len(refs))
	for i, r := range b.Results {
		if r.Failed() {
			continue
		}
		ref := refs[i]
		ref.ID = r.ID
		settled = append(settled, ref)
	}
	return b, state.WithCustomers(settled...), nil
}

// resolveContact finds a contact after a duplicate response: an exact name
// match wins, otherwise the first search hit.
func (o *Orchestrator) resolveContact(ctx context.Context, contact, company string) (string, error) {
	found, err := o.remote.SearchContacts(ctx, contact, company)
	if err != nil {
		return "", err
	}
	if len(found) == 0 {
		return "", fmt.Errorf("customer %s reported as duplicate but not found", customerKey(contact, company))
	}
	if match, ok := matching.FindCustomer(contact, company, found, func(c zoho.Contact) (string, string) {
		return c.ContactName, c.Company()
	}); ok {
		return match.ID, nil
	}
	return found[0].ID, nil
}

func customerKey(contact, company string) string {
	if contact != "" {
		return contact
	}
	return company
}

func contactPayload(rec normalize.Record) zoho.ContactPayload {
	contact := rec.Get(normalize.FieldContactName)
	contactType := strings.ToLower(rec.Get(normalize.FieldContactType))
	if contactType == "" {
		contactType = "customer"
	}
	return zoho.ContactPayload{
		ContactName:     contact,
		CompanyName:     rec.Get(normalize.FieldCompanyName),
		ContactType:     contactType,
		BillingAddress:  address(rec, "billing_", contact),
		ShippingAddress: address(rec, "shipping_", contact),
		LanguageCode:    rec.Get(normalize.FieldLanguageCode),
		CurrencyID:      rec.Get(normalize.FieldCurrencyID),
		TaxID:           rec.Get(normalize.FieldTaxID),
		GSTNo:           rec.Get(normalize.FieldGSTNo),
		GSTTreatment:    rec.Get(normalize.FieldGSTTreatment),
	}
}

func address(rec normalize.Record, prefix, contact string) zoho.Address {
	attention := rec.Get(prefix + "attention")
	if attention == "" {
		attention = contact
	}
	return zoho.Address{
		Attention: attention,
		Address:   rec.Get(prefix + "address"),
		Street2:   rec.Get(prefix + "street2"),
		City:      rec.Get(prefix + "city"),
		State:     rec.Get(prefix + "state"),
		Zip:       rec.Get(prefix + "zip"),
		Country:   rec.Get(prefix + "country"),
	}
}

func (o *Orchestrator) pushPurchaseOrders(ctx context.Context, records []normalize.Record, snap Snapshot, state RunState) (batch, RunState, error) {
	grouped := o.grouper(snap, state).GroupPurchaseOrders(ctx, records)

	ops := ectolinq.Map(grouped.Groups, func(po grouping.PurchaseOrder) upsert.OrderOp {
		payload := po.Payload()
		return upsert.OrderOp{Number: po.Number, Create: func(ctx context.Context) (zoho.CreateResult, error) {
			res, err := o.remote.CreatePurchaseOrder(ctx, payload)
			if err == nil {
				recordUnits(zoho.KindPurchaseOrder, po.Lines)
			}
			return res, err
		}}
	})
	return o.submitOrders(ctx, zoho.KindPurchaseOrder, ops, grouped.Errors, snap.PurchaseOrders, state)
}

func (o *Orchestrator) pushSalesOrders(ctx context.Context, records []normalize.Record, snap Snapshot, state RunState) (batch, RunState, error) {
	grouped := o.grouper(snap, state).GroupSalesOrders(ctx, records)

	ops := ectolinq.Map(grouped.Groups, func(so grouping.SalesOrder) upsert.OrderOp {
		payload := so.Payload()
		return upsert.OrderOp{Number: so.Number, Create: func(ctx context.Context) (zoho.CreateResult, error) {
			res, err := o.remote.CreateSalesOrder(ctx, payload)
			if err == nil {
				recordUnits(zoho.KindSalesOrder, so.Lines)
			}
			return res, err
		}}
	})
	return o.submitOrders(ctx, zoho.KindSalesOrder, ops, grouped.Errors, snap.SalesOrders, state)
}

func recordUnits(kind string, lines []grouping.LineItem) {
	for _, l := range lines {
		metrics.RecordUnits(kind, l.BaseUnit, l.BaseQuantity.InexactFloat64())
	}
}

func (o *Orchestrator) submitOrders(ctx context.Context, kind string, ops []upsert.OrderOp, rowErrors []grouping.RowError, remote []upsert.RemoteOrder, state RunState) (batch, RunState, error) {
	b := batch{RowErrors: rowErrors}
	if len(ops) == 0 {
		return b, state, nil
	}

	existing := append(append([]upsert.RemoteOrder(nil), remote...), state.Orders(kind)...)
	b.Results = o.engine(kind).SubmitOrders(ctx, ops, existing, o.dryRun)

	created := ectolinq.Map(ectolinq.Filter(b.Results, func(r upsert.Result) bool {
		return r.Status == upsert.StatusCreated
	}), func(r upsert.Result) upsert.RemoteOrder {
		return upsert.RemoteOrder{ID: r.ID, Number: r.Key}
	})
	return b, state.WithOrders(kind, created...), nil
}
