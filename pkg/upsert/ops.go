package upsert

import (
	"context"
	"fmt"

	apperrors "github.com/fartrucking/far-warehousing/pkg/errors"
	"github.com/fartrucking/far-warehousing/pkg/matching"
	"github.com/fartrucking/far-warehousing/pkg/zoho"
)

// Op describes a create-unless-present operation.
type Op struct {
	Key string

	// Existing returns the id of a matching record already known locally.
	Existing func() (string, bool)

	// Lookup checks remotely before creating.
	Lookup func(ctx context.Context) (string, bool, error)

	Create func(ctx context.Context) (zoho.CreateResult, error)

	// Resolve looks the record up remotely after a duplicate signal.
	Resolve func(ctx context.Context) (string, error)
}

// Upsert settles ops through the engine. When dryRun is set creates are
// reported as planned and never sent.
func (e *Engine) Upsert(ctx context.Context, ops []Op, dryRun bool) []Result {
	tasks := make([]Task, len(ops))
	for i, op := range ops {
		tasks[i] = Task{Key: op.Key, Run: e.opRunner(op, dryRun)}
	}
	return e.Submit(ctx, tasks)
}

func (e *Engine) opRunner(op Op, dryRun bool) func(ctx context.Context) (Result, error) {
	return func(ctx context.Context) (Result, error) {
		if op.Existing != nil {
			if id, ok := op.Existing(); ok {
				return Result{Key: op.Key, Status: StatusExists, ID: id}, nil
			}
		}
		if op.Lookup != nil {
			id, found, err := op.Lookup(ctx)
			if err != nil {
				return Result{}, err
			}
			if found {
				return Result{Key: op.Key, Status: StatusExists, ID: id}, nil
			}
		}
		if dryRun {
			return Result{Key: op.Key, Status: StatusPlanned}, nil
		}

		created, err := op.Create(ctx)
		if err == nil {
			return Result{Key: op.Key, Status: StatusCreated, ID: created.ID, Code: created.Code, Message: created.Message}, nil
		}

		apiErr, ok := apperrors.AsAPIError(err)
		if !ok || !e.profile.IsDuplicate(apiErr.Code) || op.Resolve == nil {
			return Result{}, err
		}

		e.logger.WithContext(ctx).Infof("%s %s already exists remotely, resolving", e.profile.Kind, op.Key)
		id, resolveErr := op.Resolve(ctx)
		if resolveErr != nil {
			return Result{}, fmt.Errorf("%s exists but could not be resolved: %w", op.Key, resolveErr)
		}
		return Result{Key: op.Key, Status: StatusExistingInZoho, ID: id, Code: apiErr.Code, Message: apiErr.Message}, nil
	}
}

// RemoteOrder is an order already present remotely.
type RemoteOrder struct {
	ID     string
	Number string
}

// OrderOp is one grouped order to push.
type OrderOp struct {
	Number  string
	Create  func(ctx context.Context) (zoho.CreateResult, error)
	Resolve func(ctx context.Context) (string, error)
}

// SubmitOrders pushes orders, treating any order whose number is already
// known remotely as exists. Existing orders are never updated.
func (e *Engine) SubmitOrders(ctx context.Context, orders []OrderOp, existing []RemoteOrder, dryRun bool) []Result {
	ops := make([]Op, len(orders))
	for i, o := range orders {
		number := o.Number
		ops[i] = Op{
			Key: number,
			Existing: func() (string, bool) {
				found, ok := matching.FindOrderByNumber(number, existing, func(r RemoteOrder) string { return r.Number })
				return found.ID, ok
			},
			Create:  o.Create,
			Resolve: o.Resolve,
		}
	}
	return e.Upsert(ctx, ops, dryRun)
}
