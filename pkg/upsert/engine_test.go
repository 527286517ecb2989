package upsert

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/fartrucking/far-warehousing/pkg/errors"
	"github.com/fartrucking/far-warehousing/pkg/zoho"
)

func newTestEngine(kind string, limit int) *Engine {
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	profile := DefaultProfiles()[kind]
	profile.Limit = limit
	profile.Delay = 0
	return NewEngine(profile, logger)
}

func TestEngineSubmit(t *testing.T) {
	t.Run("should settle every task within the limit", func(t *testing.T) {
		engine := newTestEngine(zoho.KindItem, 5)

		var inFlight, peak int32
		tasks := make([]Task, 12)
		for i := range tasks {
			key := fmt.Sprintf("SKU-%d", i)
			tasks[i] = Task{Key: key, Run: func(ctx context.Context) (Result, error) {
				n := atomic.AddInt32(&inFlight, 1)
				for {
					p := atomic.LoadInt32(&peak)
					if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&inFlight, -1)
				return Result{Status: StatusCreated, ID: "id-" + key}, nil
			}}
		}

		results := engine.Submit(context.Background(), tasks)
		require.Len(t, results, 12)
		for i, r := range results {
			assert.Equal(t, fmt.Sprintf("SKU-%d", i), r.Key)
			assert.Equal(t, StatusCreated, r.Status)
		}
		assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(5))
	})

	t.Run("should keep submission order when tasks finish out of order", func(t *testing.T) {
		engine := newTestEngine(zoho.KindPurchaseOrder, 3)

		tasks := make([]Task, 3)
		for i := range tasks {
			delay := time.Duration(3-i) * 5 * time.Millisecond
			tasks[i] = Task{Key: fmt.Sprintf("PO-%d", i), Run: func(ctx context.Context) (Result, error) {
				time.Sleep(delay)
				return Result{Status: StatusCreated}, nil
			}}
		}

		results := engine.Submit(context.Background(), tasks)
		assert.Equal(t, "PO-0", results[0].Key)
		assert.Equal(t, "PO-2", results[2].Key)
	})

	t.Run("should capture errors without cancelling siblings", func(t *testing.T) {
		engine := newTestEngine(zoho.KindSalesOrder, 1)

		tasks := []Task{
			{Key: "SO-1", Run: func(ctx context.Context) (Result, error) {
				return Result{}, apperrors.NewAPIError("CreateSalesOrder", 400, 36004, "invalid customer")
			}},
			{Key: "SO-2", Run: func(ctx context.Context) (Result, error) {
				return Result{Status: StatusCreated, ID: "2"}, nil
			}},
		}

		results := engine.Submit(context.Background(), tasks)
		assert.Equal(t, StatusError, results[0].Status)
		assert.Equal(t, 36004, results[0].Code)
		assert.Equal(t, "invalid customer", results[0].Message)
		assert.Equal(t, StatusCreated, results[1].Status)

		failures := Failures(results)
		require.Len(t, failures, 1)
		assert.Contains(t, Summarize(failures), "SO-1: invalid customer (code 36004)")
	})

	t.Run("should wait on extra limiters before every task", func(t *testing.T) {
		logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
		shared := &countingLimiter{}
		engine := NewEngine(Profile{Kind: zoho.KindItem, Limit: 2}, logger, shared)

		tasks := make([]Task, 4)
		for i := range tasks {
			tasks[i] = Task{Key: fmt.Sprintf("SKU-%d", i), Run: func(ctx context.Context) (Result, error) {
				return Result{Status: StatusCreated}, nil
			}}
		}

		engine.Submit(context.Background(), tasks)
		assert.Equal(t, int32(4), atomic.LoadInt32(&shared.waits))
	})

	t.Run("should fail a task when an extra limiter refuses", func(t *testing.T) {
		logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
		engine := NewEngine(Profile{Kind: zoho.KindItem, Limit: 1}, logger, &countingLimiter{err: errors.New("window exhausted")})

		results := engine.Submit(context.Background(), []Task{{Key: "a", Run: func(ctx context.Context) (Result, error) {
			return Result{Status: StatusCreated}, nil
		}}})
		assert.Equal(t, StatusError, results[0].Status)
		assert.Contains(t, results[0].Message, "window exhausted")
	})

	t.Run("should fail tasks once the context is cancelled", func(t *testing.T) {
		logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
		engine := NewEngine(Profile{Kind: zoho.KindItem, Limit: 1, Delay: time.Hour}, logger)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		var ran int32
		results := engine.Submit(ctx, []Task{{Key: "a", Run: func(ctx context.Context) (Result, error) {
			atomic.AddInt32(&ran, 1)
			return Result{Status: StatusCreated}, nil
		}}})
		assert.Equal(t, StatusError, results[0].Status)
		assert.Zero(t, atomic.LoadInt32(&ran))
	})
}

func TestEngineUpsert(t *testing.T) {
	t.Run("should re-resolve a duplicate contact as existing_in_zoho", func(t *testing.T) {
		engine := newTestEngine(zoho.KindContact, 5)

		ops := []Op{{
			Key: "Acme Corp",
			Create: func(ctx context.Context) (zoho.CreateResult, error) {
				return zoho.CreateResult{}, apperrors.NewAPIError("CreateContact", 400, zoho.CodeContactDuplicate, "contact exists")
			},
			Resolve: func(ctx context.Context) (string, error) {
				return "c-42", nil
			},
		}}

		results := engine.Upsert(context.Background(), ops, false)
		require.Len(t, results, 1)
		assert.Equal(t, StatusExistingInZoho, results[0].Status)
		assert.Equal(t, "c-42", results[0].ID)
		assert.NotEqual(t, StatusCreated, results[0].Status)
	})

	t.Run("should not re-resolve codes outside the duplicate set", func(t *testing.T) {
		engine := newTestEngine(zoho.KindContact, 5)

		var resolved int32
		ops := []Op{{
			Key: "Acme Corp",
			Create: func(ctx context.Context) (zoho.CreateResult, error) {
				return zoho.CreateResult{}, apperrors.NewAPIError("CreateContact", 400, zoho.CodeItemDuplicate, "nope")
			},
			Resolve: func(ctx context.Context) (string, error) {
				atomic.AddInt32(&resolved, 1)
				return "x", nil
			},
		}}

		results := engine.Upsert(context.Background(), ops, false)
		assert.Equal(t, StatusError, results[0].Status)
		assert.Zero(t, atomic.LoadInt32(&resolved))
	})

	t.Run("should report a failed resolution as an error", func(t *testing.T) {
		engine := newTestEngine(zoho.KindItem, 1)

		ops := []Op{{
			Key: "SKU-1",
			Create: func(ctx context.Context) (zoho.CreateResult, error) {
				return zoho.CreateResult{}, apperrors.NewAPIError("CreateItem", 400, zoho.CodeItemDuplicate, "duplicate")
			},
			Resolve: func(ctx context.Context) (string, error) {
				return "", errors.New("not found")
			},
		}}

		results := engine.Upsert(context.Background(), ops, false)
		assert.Equal(t, StatusError, results[0].Status)
		assert.Contains(t, results[0].Message, "not found")
	})

	t.Run("should skip the create for existing records", func(t *testing.T) {
		engine := newTestEngine(zoho.KindPurchaseOrder, 1)

		var created int32
		ops := []Op{{
			Key:      "PO-100",
			Existing: func() (string, bool) { return "po-1", true },
			Create: func(ctx context.Context) (zoho.CreateResult, error) {
				atomic.AddInt32(&created, 1)
				return zoho.CreateResult{}, nil
			},
		}}

		results := engine.Upsert(context.Background(), ops, false)
		assert.Equal(t, StatusExists, results[0].Status)
		assert.Equal(t, "po-1", results[0].ID)
		assert.Zero(t, atomic.LoadInt32(&created))
	})

	t.Run("should report records found by the remote lookup as existing", func(t *testing.T) {
		engine := newTestEngine(zoho.KindItem, 1)

		ops := []Op{{
			Key:    "SKU-1",
			Lookup: func(ctx context.Context) (string, bool, error) { return "item-9", true, nil },
			Create: func(ctx context.Context) (zoho.CreateResult, error) {
				assert.Fail(t, "create must not be called")
				return zoho.CreateResult{}, nil
			},
		}}

		results := engine.Upsert(context.Background(), ops, false)
		assert.Equal(t, StatusExists, results[0].Status)
		assert.Equal(t, "item-9", results[0].ID)
	})

	t.Run("should plan creates on a dry run", func(t *testing.T) {
		engine := newTestEngine(zoho.KindItem, 2)

		var created int32
		ops := []Op{{Key: "SKU-1", Create: func(ctx context.Context) (zoho.CreateResult, error) {
			atomic.AddInt32(&created, 1)
			return zoho.CreateResult{ID: "1"}, nil
		}}}

		results := engine.Upsert(context.Background(), ops, true)
		assert.Equal(t, StatusPlanned, results[0].Status)
		assert.Zero(t, atomic.LoadInt32(&created))
	})

	t.Run("should report created ids", func(t *testing.T) {
		engine := newTestEngine(zoho.KindItem, 2)

		ops := []Op{{Key: "SKU-1", Create: func(ctx context.Context) (zoho.CreateResult, error) {
			return zoho.CreateResult{ID: "item-1", Message: "The item has been added."}, nil
		}}}

		results := engine.Upsert(context.Background(), ops, false)
		assert.Equal(t, StatusCreated, results[0].Status)
		assert.Equal(t, "item-1", results[0].ID)
	})
}

func TestEngineSubmitOrders(t *testing.T) {
	t.Run("should short-circuit orders already known remotely", func(t *testing.T) {
		engine := newTestEngine(zoho.KindPurchaseOrder, 5)
		var creates int32
		create := func(context.Context) (zoho.CreateResult, error) {
			atomic.AddInt32(&creates, 1)
			return zoho.CreateResult{ID: "new"}, nil
		}

		results := engine.SubmitOrders(context.Background(), []OrderOp{
			{Number: "po-100", Create: create},
			{Number: "PO-200", Create: create},
		}, []RemoteOrder{{ID: "old", Number: "PO-100"}}, false)

		require.Len(t, results, 2)
		assert.Equal(t, StatusExists, results[0].Status)
		assert.Equal(t, "old", results[0].ID)
		assert.Equal(t, StatusCreated, results[1].Status)
		assert.Equal(t, int32(1), atomic.LoadInt32(&creates))
	})

	t.Run("should report a hard error for a failed create", func(t *testing.T) {
		engine := newTestEngine(zoho.KindSalesOrder, 1)

		results := engine.SubmitOrders(context.Background(), []OrderOp{{
			Number: "SO-1",
			Create: func(context.Context) (zoho.CreateResult, error) {
				return zoho.CreateResult{}, apperrors.NewAPIError("CreateSalesOrder", 400, 36004, "invalid customer")
			},
		}}, nil, false)

		require.Len(t, results, 1)
		assert.True(t, results[0].Failed())
		assert.Equal(t, 36004, results[0].Code)
	})
}

type countingLimiter struct {
	waits int32
	err   error
}

func (l *countingLimiter) Wait(context.Context) error {
	atomic.AddInt32(&l.waits, 1)
	return l.err
}
