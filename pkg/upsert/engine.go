// Package upsert issues create calls against the inventory API under bounded
// concurrency and pacing, settling every task into a Result.
package upsert

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/fartrucking/far-warehousing/pkg/errors"
	"github.com/fartrucking/far-warehousing/pkg/metrics"
	"github.com/fartrucking/far-warehousing/pkg/ratelimit"
	"github.com/fartrucking/far-warehousing/pkg/tracing"
)

// Status is the settled outcome of one task.
type Status string

const (
	StatusCreated        Status = "created"
	StatusExists         Status = "exists"
	StatusExistingInZoho Status = "existing_in_zoho"
	StatusPlanned        Status = "planned"
	StatusError          Status = "error"
)

// Result is what a task settled to.
type Result struct {
	Key     string
	Status  Status
	ID      string
	Code    int
	Message string
	Err     error
}

// Failed reports whether the task ended in error.
func (r Result) Failed() bool {
	return r.Status == StatusError
}

// Task is one unit of remote work.
type Task struct {
	Key string
	Run func(ctx context.Context) (Result, error)
}

// Engine runs tasks for one record kind.
type Engine struct {
	profile Profile
	pacer   ratelimit.Limiter
	logger  ectologger.Logger
}

// NewEngine builds an engine for profile. Extra limiters (for example the
// shared Redis window) are waited on after the local pacer.
func NewEngine(profile Profile, logger ectologger.Logger, extra ...ratelimit.Limiter) *Engine {
	if profile.Limit <= 0 {
		profile.Limit = 1
	}
	chain := ratelimit.Chain{ratelimit.NewInterval("upsert_"+profile.Kind, profile.Delay)}
	chain = append(chain, extra...)

	return &Engine{
		profile: profile,
		pacer:   chain,
		logger:  logger,
	}
}

func (e *Engine) Profile() Profile {
	return e.profile
}

// Submit runs tasks with at most Limit in flight and returns one Result per
// task in submission order. A failing task never cancels its siblings.
func (e *Engine) Submit(ctx context.Context, tasks []Task) []Result {
	ctx, span := tracing.StartSpan(ctx, "Upsert.Submit."+e.profile.Kind)
	defer span.End()

	log := e.logger.WithContext(ctx).WithField("kind", e.profile.Kind)
	log.Infof("Submitting %d %s tasks (limit %d, delay %s)", len(tasks), e.profile.Kind, e.profile.Limit, e.profile.Delay)

	results := make([]Result, len(tasks))
	start := time.Now()

	g := new(errgroup.Group)
	g.SetLimit(e.profile.Limit)

	for i, task := range tasks {
		g.Go(func() error {
			results[i] = e.run(ctx, task)
			metrics.RecordUpsert(e.profile.Kind, string(results[i].Status))
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, r := range results {
		if r.Failed() {
			failed++
		}
	}
	log.WithFields(map[string]any{
		"tasks":    len(tasks),
		"failed":   failed,
		"duration": time.Since(start).String(),
	}).Info("Upsert batch settled")

	return results
}

func (e *Engine) run(ctx context.Context, task Task) Result {
	if err := e.pacer.Wait(ctx); err != nil {
		return errorResult(task.Key, err)
	}

	res, err := task.Run(ctx)
	if err != nil {
		e.logger.WithContext(ctx).WithError(err).Warnf("%s task %s failed", e.profile.Kind, task.Key)
		return errorResult(task.Key, err)
	}
	if res.Key == "" {
		res.Key = task.Key
	}
	return res
}

func errorResult(key string, err error) Result {
	res := Result{
		Key:     key,
		Status:  StatusError,
		Message: err.Error(),
		Err:     err,
	}
	if apiErr, ok := apperrors.AsAPIError(err); ok {
		res.Code = apiErr.Code
		res.Message = apiErr.Message
	}
	return res
}

// Failures returns the failed results.
func Failures(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if r.Failed() {
			out = append(out, r)
		}
	}
	return out
}

// Summarize renders failures as one message line per record.
func Summarize(failures []Result) string {
	msg := ""
	for _, f := range failures {
		if f.Code != 0 {
			msg += fmt.Sprintf("%s: %s (code %d)\n", f.Key, f.Message, f.Code)
			continue
		}
		msg += fmt.Sprintf("%s: %s\n", f.Key, f.Message)
	}
	return msg
}
