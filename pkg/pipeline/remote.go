package pipeline

import (
	"context"

	"github.com/fartrucking/far-warehousing/pkg/grouping"
	"github.com/fartrucking/far-warehousing/pkg/zoho"
)

// Remote is the inventory API surface a run uses. *zoho.Client satisfies it.
type Remote interface {
	grouping.ItemLookup

	FetchWarehouses(ctx context.Context) ([]zoho.Warehouse, error)
	FetchVendors(ctx context.Context) ([]zoho.Vendor, error)
	FetchCustomers(ctx context.Context) ([]zoho.Contact, error)
	FetchPurchaseOrders(ctx context.Context) ([]zoho.PurchaseOrder, error)
	FetchSalesOrders(ctx context.Context) ([]zoho.SalesOrder, error)
	SearchContacts(ctx context.Context, contactName, companyName string) ([]zoho.Contact, error)

	CreateItem(ctx context.Context, payload zoho.ItemPayload) (zoho.CreateResult, error)
	CreateContact(ctx context.Context, payload zoho.ContactPayload) (zoho.CreateResult, error)
	CreatePurchaseOrder(ctx context.Context, payload zoho.PurchaseOrderPayload) (zoho.CreateResult, error)
	CreateSalesOrder(ctx context.Context, payload zoho.SalesOrderPayload) (zoho.CreateResult, error)
}

// TokenSource hands out access tokens. It is called once at the start of a run.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

var _ Remote = (*zoho.Client)(nil)
