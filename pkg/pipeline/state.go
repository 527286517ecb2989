package pipeline

import (
	"maps"

	"github.com/Gobusters/ectolinq"

	"github.com/fartrucking/far-warehousing/pkg/grouping"
	"github.com/fartrucking/far-warehousing/pkg/normalize"
	"github.com/fartrucking/far-warehousing/pkg/upsert"
)

// RunState is what earlier batches of a run produced for later batches.
// It is never mutated: every With method returns a merged copy.
type RunState struct {
	items     map[string]grouping.ItemRef
	customers map[string]grouping.CustomerRef
	order     []string
	orders    map[string][]upsert.RemoteOrder
}

func NewRunState() RunState {
	return RunState{
		items:     map[string]grouping.ItemRef{},
		customers: map[string]grouping.CustomerRef{},
		orders:    map[string][]upsert.RemoteOrder{},
	}
}

// WithItems merges items keyed by SKU. Later entries win.
func (s RunState) WithItems(items ...grouping.ItemRef) RunState {
	next := s.clone()
	for _, item := range items {
		key := normalize.SKUKey(item.SKU)
		if key == "" {
			continue
		}
		next.items[key] = item
	}
	return next
}

// WithCustomers merges customers keyed by id, or by company and contact name
// when the id is unknown.
func (s RunState) WithCustomers(customers ...grouping.CustomerRef) RunState {
	next := s.clone()
	for _, c := range customers {
		key := c.ID
		if key == "" {
			key = normalize.NameKey(c.CompanyName) + "_" + normalize.NameKey(c.ContactName)
		}
		if _, seen := next.customers[key]; !seen {
			next.order = append(next.order, key)
		}
		next.customers[key] = c
	}
	return next
}

// WithOrders records orders created during the run for kind.
func (s RunState) WithOrders(kind string, orders ...upsert.RemoteOrder) RunState {
	next := s.clone()
	next.orders[kind] = append(append([]upsert.RemoteOrder(nil), next.orders[kind]...), orders...)
	return next
}

func (s RunState) Items() map[string]grouping.ItemRef {
	return maps.Clone(s.items)
}

// Customers returns run customers in first-seen order.
func (s RunState) Customers() []grouping.CustomerRef {
	return ectolinq.Map(s.order, func(key string) grouping.CustomerRef {
		return s.customers[key]
	})
}

func (s RunState) Orders(kind string) []upsert.RemoteOrder {
	return s.orders[kind]
}

// Catalog combines the remote snapshot with the run state for a grouper.
func (s RunState) Catalog(snap Snapshot) grouping.Catalog {
	return grouping.Catalog{
		Warehouses:   snap.Warehouses,
		Vendors:      snap.Vendors,
		Customers:    snap.Customers,
		RunItems:     s.Items(),
		RunCustomers: s.Customers(),
	}
}

func (s RunState) clone() RunState {
	orders := make(map[string][]upsert.RemoteOrder, len(s.orders))
	for k, v := range s.orders {
		orders[k] = v
	}
	return RunState{
		items:     maps.Clone(s.items),
		customers: maps.Clone(s.customers),
		order:     append([]string(nil), s.order...),
		orders:    orders,
	}
}
