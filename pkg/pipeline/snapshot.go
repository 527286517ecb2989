package pipeline

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectolinq"
	"golang.org/x/sync/errgroup"

	"github.com/fartrucking/far-warehousing/pkg/tracing"
	"github.com/fartrucking/far-warehousing/pkg/upsert"
	"github.com/fartrucking/far-warehousing/pkg/zoho"
)

// Snapshot is the remote state fetched once at the start of a run.
type Snapshot struct {
	Warehouses     []zoho.Warehouse
	Vendors        []zoho.Vendor
	Customers      []zoho.Contact
	PurchaseOrders []upsert.RemoteOrder
	SalesOrders    []upsert.RemoteOrder
}

// FetchSnapshot pages through every list endpoint concurrently. Any failure
// fails the whole snapshot.
func FetchSnapshot(ctx context.Context, remote Remote) (Snapshot, error) {
	ctx, span := tracing.StartSpan(ctx, "pipeline.FetchSnapshot")
	defer span.End()

	var snap Snapshot
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() (err error) {
		snap.Warehouses, err = remote.FetchWarehouses(ctx)
		return wrapFetch("warehouses", err)
	})
	g.Go(func() (err error) {
		snap.Vendors, err = remote.FetchVendors(ctx)
		return wrapFetch("vendors", err)
	})
	g.Go(func() (err error) {
		snap.Customers, err = remote.FetchCustomers(ctx)
		return wrapFetch("customers", err)
	})
	g.Go(func() error {
		orders, err := remote.FetchPurchaseOrders(ctx)
		snap.PurchaseOrders = ectolinq.Map(orders, func(o zoho.PurchaseOrder) upsert.RemoteOrder {
			return upsert.RemoteOrder{ID: o.ID, Number: o.Number}
		})
		return wrapFetch("purchase orders", err)
	})
	g.Go(func() error {
		orders, err := remote.FetchSalesOrders(ctx)
		snap.SalesOrders = ectolinq.Map(orders, func(o zoho.SalesOrder) upsert.RemoteOrder {
			return upsert.RemoteOrder{ID: o.ID, Number: o.Number}
		})
		return wrapFetch("sales orders", err)
	})

	if err := g.Wait(); err != nil {
		tracing.RecordError(ctx, err)
		return Snapshot{}, err
	}
	return snap, nil
}

func wrapFetch(what string, err error) error {
	if err != nil {
		return fmt.Errorf("failed to fetch %s: %w", what, err)
	}
	return nil
}
