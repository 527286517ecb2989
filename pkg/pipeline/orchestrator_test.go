package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appcontext "github.com/fartrucking/far-warehousing/pkg/context"
	apperrors "github.com/fartrucking/far-warehousing/pkg/errors"
	"github.com/fartrucking/far-warehousing/pkg/events"
	"github.com/fartrucking/far-warehousing/pkg/metrics"
	"github.com/fartrucking/far-warehousing/pkg/normalize"
	"github.com/fartrucking/far-warehousing/pkg/storage"
	"github.com/fartrucking/far-warehousing/pkg/upsert"
	"github.com/fartrucking/far-warehousing/pkg/zoho"
)

var testLogger = ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})

type fakeRemote struct {
	mu sync.Mutex

	warehouses []zoho.Warehouse
	vendors    []zoho.Vendor
	customers  []zoho.Contact
	pos        []zoho.PurchaseOrder
	sos        []zoho.SalesOrder
	fetchErr   error

	items         map[string]zoho.Item
	failSKUs      map[string]bool
	duplicateSKUs map[string]bool

	createdItems    []zoho.ItemPayload
	createdContacts []zoho.ContactPayload
	createdPOs      []zoho.PurchaseOrderPayload
	createdSOs      []zoho.SalesOrderPayload
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		warehouses:    []zoho.Warehouse{{ID: "wh-1", Name: "Main Warehouse"}},
		vendors:       []zoho.Vendor{{ID: "v-1", Name: "Acme Supplies"}},
		pos:           []zoho.PurchaseOrder{{ID: "po-old", Number: "PO-OLD"}},
		items:         map[string]zoho.Item{},
		failSKUs:      map[string]bool{},
		duplicateSKUs: map[string]bool{},
	}
}

func (f *fakeRemote) FetchWarehouses(context.Context) ([]zoho.Warehouse, error) {
	return f.warehouses, f.fetchErr
}

func (f *fakeRemote) FetchVendors(context.Context) ([]zoho.Vendor, error) {
	return f.vendors, f.fetchErr
}

func (f *fakeRemote) FetchCustomers(context.Context) ([]zoho.Contact, error) {
	return f.customers, f.fetchErr
}

func (f *fakeRemote) FetchPurchaseOrders(context.Context) ([]zoho.PurchaseOrder, error) {
	return f.pos, f.fetchErr
}

func (f *fakeRemote) FetchSalesOrders(context.Context) ([]zoho.SalesOrder, error) {
	return f.sos, f.fetchErr
}

func (f *fakeRemote) FindItemBySKU(_ context.Context, sku string) (zoho.Item, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[normalize.SKUKey(sku)]
	return item, ok, nil
}

func (f *fakeRemote) GetItem(_ context.Context, id string) (zoho.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, item := range f.items {
		if item.ID == id {
			return item, nil
		}
	}
	return zoho.Item{}, errors.New("not found")
}

func (f *fakeRemote) SearchContacts(_ context.Context, contact, company string) ([]zoho.Contact, error) {
	return []zoho.Contact{
		{ID: "c-other", ContactName: "Someone Else"},
		{ID: "c-match", ContactName: contact, CompanyName: company},
	}, nil
}

func (f *fakeRemote) CreateItem(_ context.Context, payload zoho.ItemPayload) (zoho.CreateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSKUs[payload.SKU] {
		return zoho.CreateResult{}, apperrors.NewAPIError("CreateItem", 400, 2, "invalid item")
	}
	if f.duplicateSKUs[payload.SKU] {
		f.items[normalize.SKUKey(payload.SKU)] = zoho.Item{ID: "dup-" + payload.SKU, SKU: payload.SKU}
		return zoho.CreateResult{}, apperrors.NewAPIError("CreateItem", 400, zoho.CodeItemDuplicate, "item exists")
	}
	f.createdItems = append(f.createdItems, payload)
	item := zoho.Item{ID: "item-" + payload.SKU, SKU: payload.SKU, Name: payload.Name, Unit: payload.Unit}
	f.items[normalize.SKUKey(payload.SKU)] = item
	return zoho.CreateResult{ID: item.ID}, nil
}

func (f *fakeRemote) CreateContact(_ context.Context, payload zoho.ContactPayload) (zoho.CreateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createdContacts = append(f.createdContacts, payload)
	return zoho.CreateResult{ID: fmt.Sprintf("cust-%d", len(f.createdContacts))}, nil
}

func (f *fakeRemote) CreatePurchaseOrder(_ context.Context, payload zoho.PurchaseOrderPayload) (zoho.CreateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createdPOs = append(f.createdPOs, payload)
	return zoho.CreateResult{ID: "po-" + payload.Number}, nil
}

func (f *fakeRemote) CreateSalesOrder(_ context.Context, payload zoho.SalesOrderPayload) (zoho.CreateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createdSOs = append(f.createdSOs, payload)
	return zoho.CreateResult{ID: "so-" + payload.Number}, nil
}

type recorder struct {
	mu       sync.Mutex
	messages []string
}

func (r *recorder) Notify(_ context.Context, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, message)
}

func (r *recorder) contains(substr string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.messages {
		if strings.Contains(m, substr) {
			return true
		}
	}
	return false
}

type eventLog struct {
	mu     sync.Mutex
	events []events.Event
}

func (l *eventLog) Publish(_ context.Context, evt events.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, evt)
	return nil
}

type staticTokens struct{ err error }

func (s staticTokens) Token(context.Context) (string, error) { return "token", s.err }

func fastProfiles() map[string]upsert.Profile {
	profiles := upsert.DefaultProfiles()
	for kind, p := range profiles {
		p.Delay = 0
		profiles[kind] = p
	}
	return profiles
}

type harness struct {
	root     string
	store    *storage.Local
	remote   *fakeRemote
	notes    *recorder
	events   *eventLog
	errorLog *storage.ErrorLog
}

func newHarness(t *testing.T, files map[string]string) *harness {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	}
	store, err := storage.NewLocal(root, testLogger)
	require.NoError(t, err)

	return &harness{
		root:     root,
		store:    store,
		remote:   newFakeRemote(),
		notes:    &recorder{},
		events:   &eventLog{},
		errorLog: storage.NewErrorLog(store, testLogger).WithRetry(1, 0),
	}
}

func (h *harness) orchestrator(dryRun bool) *Orchestrator {
	return NewOrchestrator(Dependencies{
		Store:    h.store,
		Remote:   h.remote,
		Tokens:   staticTokens{},
		ErrorLog: h.errorLog,
		Notifier: h.notes,
		Events:   h.events,
	}, Options{
		DryRun:   dryRun,
		Profiles: fastProfiles(),
		Clock:    func() time.Time { return time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC) },
	}, testLogger)
}

func (h *harness) exists(name string) bool {
	_, err := os.Stat(filepath.Join(h.root, filepath.FromSlash(name)))
	return err == nil
}

func reportFor(t *testing.T, summary Summary, name string) FileReport {
	t.Helper()
	for _, f := range summary.Files {
		if f.Name == name {
			return f
		}
	}
	require.Failf(t, "missing report", "no report for %s", name)
	return FileReport{}
}

const (
	itemsCSV = "sku,name,unit,initial_stock,initial_stock_rate,warehouse_name\n" +
		"WINE-001,House Red,bottle,24,0,Main Warehouse\n" +
		"WINE-002,House White,bottle,12,9.5,Main Warehouse\n"
	purchaseOrdersCSV = "purchaseorder_number,purchaseorder_date,delivery_date,vendor_name,warehouse_name,sku,item_name,unit,quantity_received,item_total\n" +
		"PO-100,2024-06-10,2024-06-20,Acme Supplies,Main Warehouse,WINE-001,House Red,bottle,12,120\n" +
		"PO-100,2024-06-10,2024-06-20,Acme Supplies,Main Warehouse,WINE-002,House White,bottle,6,57\n" +
		"PO-OLD,2024-06-10,2024-06-20,Acme Supplies,Main Warehouse,WINE-001,House Red,bottle,1,10\n"
	customersCSV = "contact_name,company_name,billing_city\n" +
		"Jane Doe,Globex,Pune\n"
	salesOrdersCSV = "salesorder_number,customer_name,date,shipment_date,warehouse_name,sku,item_unit,item_quantity,item_rate\n" +
		"SO-1,Globex,2024-06-16,2024-06-18,Main Warehouse,WINE-002,bottle,2,15\n"
)

func TestOrchestratorRun(t *testing.T) {
	t.Run("should push every kind in dependency order and route files", func(t *testing.T) {
		h := newHarness(t, map[string]string{
			"a_sales.csv":            salesOrdersCSV,
			"b_customers.csv":        customersCSV,
			"c_orders.csv":           purchaseOrdersCSV,
			"d_items.csv":            itemsCSV,
			"notes.txt":              "ignored",
			"processed/DONE_old.csv": itemsCSV,
			"Documents/readme.csv":   itemsCSV,
		})

		summary, err := h.orchestrator(false).Run(context.Background())
		require.NoError(t, err)
		require.Len(t, summary.Files, 4)
		assert.Equal(t, 0, summary.Failed())
		assert.NotEmpty(t, summary.RunID)

		assert.Equal(t, "d_items.csv", summary.Files[0].Name)
		assert.Equal(t, "c_orders.csv", summary.Files[1].Name)
		assert.Equal(t, "b_customers.csv", summary.Files[2].Name)
		assert.Equal(t, "a_sales.csv", summary.Files[3].Name)

		for _, name := range []string{"a_sales.csv", "b_customers.csv", "c_orders.csv", "d_items.csv"} {
			assert.True(t, h.exists("processed/DONE_"+name), name)
			assert.False(t, h.exists(name), name)
			assert.True(t, h.notes.contains("File processed successfully: "+name))
		}
		assert.True(t, h.exists("notes.txt"))
		assert.True(t, h.exists("Documents/readme.csv"))

		require.Len(t, h.remote.createdItems, 2)
		rates := map[string]string{}
		for _, item := range h.remote.createdItems {
			rates[item.SKU] = item.InitialStockRate.String()
		}
		assert.Equal(t, map[string]string{"WINE-001": "0.01", "WINE-002": "9.5"}, rates)

		require.Len(t, h.remote.createdPOs, 1)
		po := h.remote.createdPOs[0]
		assert.Equal(t, "PO-100", po.Number)
		assert.Equal(t, "Main Warehouse", po.Attention)
		assert.Equal(t, "wh-1", po.DeliveryOrgAddressID)
		require.Len(t, po.LineItems, 2)
		assert.Equal(t, "item-WINE-001", po.LineItems[0].ItemID)
		assert.Equal(t, 1, reportFor(t, summary, "c_orders.csv").Counts[string(upsert.StatusExists)])

		require.Len(t, h.remote.createdContacts, 1)
		contact := h.remote.createdContacts[0]
		assert.Equal(t, "customer", contact.ContactType)
		assert.Equal(t, "Jane Doe", contact.BillingAddress.Attention)
		assert.Equal(t, "Pune", contact.BillingAddress.City)

		require.Len(t, h.remote.createdSOs, 1)
		so := h.remote.createdSOs[0]
		assert.Equal(t, "cust-1", so.CustomerID)
		assert.Equal(t, "item-WINE-002", so.LineItems[0].ItemID)
	})

	t.Run("should route unreadable files to not-processed", func(t *testing.T) {
		h := newHarness(t, map[string]string{
			"broken.csv":  "a,b\n1,2\n3,\"4\"x\n",
			"empty.csv":   "sku,name\n",
			"unknown.csv": "foo,bar\n1,2\n",
		})

		summary, err := h.orchestrator(false).Run(context.Background())
		require.NoError(t, err)
		require.Len(t, summary.Files, 3)
		assert.Equal(t, 3, summary.Failed())

		assert.Equal(t, OutcomeFailed, reportFor(t, summary, "broken.csv").Outcome)
		assert.True(t, h.exists("not-processed/FAILED_broken.csv"))
		assert.True(t, h.exists("not-processed/EMPTY_empty.csv"))
		assert.True(t, h.exists("not-processed/UNRECOGNIZED_unknown.csv"))

		assert.True(t, h.notes.contains("Error parsing CSV for file broken.csv"))
		assert.True(t, h.notes.contains("Empty CSV file: empty.csv"))
		assert.True(t, h.notes.contains(`must include "purchaseorder_number" and "vendor_name" headers`))

		logData, err := h.store.Download(context.Background(), h.errorLog.Path(time.Now()))
		require.NoError(t, err)
		assert.Contains(t, string(logData), "Operation: Parsing CSV\nFile Path: broken.csv")
	})

	t.Run("should keep a file with partial failures in processed", func(t *testing.T) {
		h := newHarness(t, map[string]string{"items.csv": itemsCSV})
		h.remote.failSKUs["WINE-002"] = true

		summary, err := h.orchestrator(false).Run(context.Background())
		require.NoError(t, err)

		report := reportFor(t, summary, "items.csv")
		assert.Equal(t, OutcomeDone, report.Outcome)
		assert.Equal(t, 1, report.Counts[string(upsert.StatusCreated)])
		assert.Equal(t, 1, report.Counts[string(upsert.StatusError)])
		assert.True(t, h.notes.contains("Some items had errors in items.csv:\nWINE-002: invalid item (code 2)"))
	})

	t.Run("should fail the kind when every record fails", func(t *testing.T) {
		h := newHarness(t, map[string]string{"items.csv": itemsCSV})
		h.remote.failSKUs["WINE-001"] = true
		h.remote.failSKUs["WINE-002"] = true

		summary, err := h.orchestrator(false).Run(context.Background())
		require.NoError(t, err)

		assert.Equal(t, OutcomeItemError, reportFor(t, summary, "items.csv").Outcome)
		assert.True(t, h.exists("not-processed/ERROR_ITEM_items.csv"))
		assert.True(t, h.notes.contains(`Error processing "item" file: items.csv`))
	})

	t.Run("should tag run events with what started the run", func(t *testing.T) {
		h := newHarness(t, map[string]string{"items.csv": itemsCSV})
		ctx := appcontext.SetTrigger(context.Background(), "http")

		summary, err := h.orchestrator(false).Run(ctx)
		require.NoError(t, err)

		require.NotEmpty(t, h.events.events)
		types := map[string]bool{}
		for _, evt := range h.events.events {
			types[evt.Type] = true
			assert.Equal(t, "http", evt.Trigger)
			assert.Equal(t, summary.RunID, evt.RunID)
		}
		assert.True(t, types[events.TypeRunStarted])
		assert.True(t, types[events.TypeFileProcessed])
		assert.True(t, types[events.TypeRunCompleted])
	})

	t.Run("should report a repeated sku as a row error", func(t *testing.T) {
		h := newHarness(t, map[string]string{"items.csv": "sku,name\nWINE-001,House Red\nwine 001,House Red Again\n"})

		summary, err := h.orchestrator(false).Run(context.Background())
		require.NoError(t, err)

		report := reportFor(t, summary, "items.csv")
		assert.Equal(t, OutcomeDone, report.Outcome)
		assert.Equal(t, 1, report.RowErrors)
		assert.Len(t, h.remote.createdItems, 1)
		assert.True(t, h.notes.contains("Some items had errors in items.csv:\nwine 001: duplicate sku in file"))
	})

	t.Run("should count created order quantities in each item's base unit", func(t *testing.T) {
		h := newHarness(t, map[string]string{"orders.csv": purchaseOrdersCSV})
		h.remote.items[normalize.SKUKey("WINE-001")] = zoho.Item{ID: "i-1", SKU: "WINE-001", Name: "House Red", Unit: "C12"}
		h.remote.items[normalize.SKUKey("WINE-002")] = zoho.Item{ID: "i-2", SKU: "WINE-002", Name: "House White", Unit: "BOT"}
		cases := metrics.UnitsTotal.WithLabelValues(zoho.KindPurchaseOrder, "C12")
		bottles := metrics.UnitsTotal.WithLabelValues(zoho.KindPurchaseOrder, "BOT")
		casesBefore, bottlesBefore := testutil.ToFloat64(cases), testutil.ToFloat64(bottles)

		summary, err := h.orchestrator(false).Run(context.Background())
		require.NoError(t, err)

		assert.Equal(t, 1, reportFor(t, summary, "orders.csv").Counts[string(upsert.StatusCreated)])
		assert.Equal(t, 1.0, testutil.ToFloat64(cases)-casesBefore)
		assert.Equal(t, 6.0, testutil.ToFloat64(bottles)-bottlesBefore)
	})

	t.Run("should count each upsert result once", func(t *testing.T) {
		h := newHarness(t, map[string]string{"items.csv": itemsCSV})
		created := metrics.UpsertsTotal.WithLabelValues(zoho.KindItem, string(upsert.StatusCreated))
		before := testutil.ToFloat64(created)

		summary, err := h.orchestrator(false).Run(context.Background())
		require.NoError(t, err)

		assert.Equal(t, 2, reportFor(t, summary, "items.csv").Counts[string(upsert.StatusCreated)])
		assert.Equal(t, 2.0, testutil.ToFloat64(created)-before)
	})

	t.Run("should resolve duplicate items instead of failing", func(t *testing.T) {
		h := newHarness(t, map[string]string{"items.csv": "sku,name\nWINE-009,Rose\n"})
		h.remote.duplicateSKUs["WINE-009"] = true

		summary, err := h.orchestrator(false).Run(context.Background())
		require.NoError(t, err)

		report := reportFor(t, summary, "items.csv")
		assert.Equal(t, OutcomeDone, report.Outcome)
		assert.Equal(t, 1, report.Counts[string(upsert.StatusExistingInZoho)])
	})

	t.Run("should fail the purchase order file when no order resolves", func(t *testing.T) {
		h := newHarness(t, map[string]string{
			"orders.csv": "purchaseorder_number,vendor_name,warehouse_name,sku,quantity_received\nPO-9,Unknown Vendor,Main Warehouse,WINE-001,1\n",
		})

		summary, err := h.orchestrator(false).Run(context.Background())
		require.NoError(t, err)

		assert.Equal(t, OutcomePOError, reportFor(t, summary, "orders.csv").Outcome)
		assert.True(t, h.notes.contains("PO-9: missing vendor"))
	})

	t.Run("should neither create nor move on a dry run", func(t *testing.T) {
		h := newHarness(t, map[string]string{"items.csv": itemsCSV, "unknown.csv": "foo\n1\n"})

		summary, err := h.orchestrator(true).Run(context.Background())
		require.NoError(t, err)
		assert.True(t, summary.DryRun)

		report := reportFor(t, summary, "items.csv")
		assert.Equal(t, OutcomeDone, report.Outcome)
		assert.Equal(t, "processed/DONE_items.csv", report.Destination)
		assert.Equal(t, 2, report.Counts[string(upsert.StatusPlanned)])

		assert.Empty(t, h.remote.createdItems)
		assert.True(t, h.exists("items.csv"))
		assert.True(t, h.exists("unknown.csv"))
		assert.True(t, h.notes.contains("[dry run] File processed successfully: items.csv"))
	})

	t.Run("should return early without files", func(t *testing.T) {
		h := newHarness(t, map[string]string{"processed/DONE_a.csv": itemsCSV})
		h.remote.fetchErr = errors.New("snapshot should not be fetched")

		summary, err := h.orchestrator(false).Run(context.Background())
		require.NoError(t, err)
		assert.Empty(t, summary.Files)
	})

	t.Run("should fail to start when the snapshot cannot be fetched", func(t *testing.T) {
		h := newHarness(t, map[string]string{"items.csv": itemsCSV})
		h.remote.fetchErr = errors.New("boom")

		_, err := h.orchestrator(false).Run(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "boom")
		assert.True(t, h.exists("items.csv"))
	})

	t.Run("should fail to start without a token", func(t *testing.T) {
		h := newHarness(t, map[string]string{"items.csv": itemsCSV})
		o := NewOrchestrator(Dependencies{Store: h.store, Remote: h.remote, Tokens: staticTokens{err: errors.New("expired")}}, Options{}, testLogger)

		_, err := o.Run(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "access token")
	})

	t.Run("should refuse overlapping runs", func(t *testing.T) {
		h := newHarness(t, nil)
		lock := NewRunLock(nil, time.Minute)
		release, err := lock.Acquire(context.Background())
		require.NoError(t, err)

		o := NewOrchestrator(Dependencies{Store: h.store, Remote: h.remote, Lock: lock}, Options{}, testLogger)
		_, err = o.Run(context.Background())
		assert.ErrorIs(t, err, ErrRunInProgress)

		require.NoError(t, release(context.Background()))
		_, err = o.Run(context.Background())
		assert.NoError(t, err)
	})
}
