// Package pipeline runs one sync pass over the bucket: it classifies every
// uploaded file, pushes items, purchase orders, customers and sales orders in
// that order, and routes each file by its outcome.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/Gobusters/ectolinq"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	appcontext "github.com/fartrucking/far-warehousing/pkg/context"
	apperrors "github.com/fartrucking/far-warehousing/pkg/errors"
	"github.com/fartrucking/far-warehousing/pkg/events"
	"github.com/fartrucking/far-warehousing/pkg/grouping"
	"github.com/fartrucking/far-warehousing/pkg/metrics"
	"github.com/fartrucking/far-warehousing/pkg/normalize"
	"github.com/fartrucking/far-warehousing/pkg/notify"
	"github.com/fartrucking/far-warehousing/pkg/storage"
	"github.com/fartrucking/far-warehousing/pkg/tabular"
	"github.com/fartrucking/far-warehousing/pkg/tracing"
	"github.com/fartrucking/far-warehousing/pkg/upsert"
)

const dryRunPrefix = "[dry run] "

// Error log operations.
const (
	opParsing    = "Parsing CSV"
	opProcessing = "Processing CSV"
	opMoving     = "Moving file"
)

type Dependencies struct {
	Store      storage.ObjectStore
	Remote     Remote
	Tokens     TokenSource
	Normalizer *normalize.Normalizer
	ErrorLog   *storage.ErrorLog
	Notifier   notify.Notifier
	Events     events.Publisher
	Lock       *RunLock
}

type Options struct {
	DryRun   bool
	Profiles map[string]upsert.Profile
	Clock    grouping.Clock
}

// FileReport is how one file was settled.
type FileReport struct {
	Name        string         `json:"name"`
	Kind        string         `json:"kind,omitempty"`
	Outcome     Outcome        `json:"outcome"`
	Destination string         `json:"destination"`
	Counts      map[string]int `json:"counts,omitempty"`
	RowErrors   int            `json:"row_errors,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// Summary describes a finished run.
type Summary struct {
	RunID     string        `json:"run_id"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	DryRun    bool          `json:"dry_run"`
	Files     []FileReport  `json:"files"`
}

// Failed counts files that did not end in processed/.
func (s Summary) Failed() int {
	return len(ectolinq.Filter(s.Files, func(f FileReport) bool {
		return f.Outcome != OutcomeDone
	}))
}

type Orchestrator struct {
	store      storage.ObjectStore
	remote     Remote
	tokens     TokenSource
	normalizer *normalize.Normalizer
	errorLog   *storage.ErrorLog
	notifier   notify.Notifier
	events     events.Publisher
	lock       *RunLock

	profiles map[string]upsert.Profile
	dryRun   bool
	clock    grouping.Clock
	logger   ectologger.Logger
}

func NewOrchestrator(deps Dependencies, opts Options, logger ectologger.Logger) *Orchestrator {
	profiles := upsert.DefaultProfiles()
	for kind, p := range opts.Profiles {
		profiles[kind] = p
	}
	if deps.Normalizer == nil {
		deps.Normalizer = normalize.NewNormalizer(nil, "", logger)
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.Log{Logger: logger}
	}
	if deps.Events == nil {
		deps.Events = events.Nop{}
	}
	if deps.Lock == nil {
		deps.Lock = NewRunLock(nil, 0)
	}

	return &Orchestrator{
		store:      deps.Store,
		remote:     deps.Remote,
		tokens:     deps.Tokens,
		normalizer: deps.Normalizer,
		errorLog:   deps.ErrorLog,
		notifier:   deps.Notifier,
		events:     deps.Events,
		lock:       deps.Lock,
		profiles:   profiles,
		dryRun:     opts.DryRun,
		clock:      opts.Clock,
		logger:     logger,
	}
}

// prepared is a file that was read, normalized and classified.
type prepared struct {
	name   string
	kind   string
	table  normalize.Table
	report normalize.Report
}

// Run processes every eligible file in the bucket. It only returns an error
// when the run could not start; file failures are settled into the summary.
func (o *Orchestrator) Run(ctx context.Context) (Summary, error) {
	summary := Summary{RunID: uuid.NewString(), StartedAt: time.Now().UTC(), DryRun: o.dryRun}
	ctx = appcontext.SetRunID(ctx, summary.RunID)
	ctx, span := tracing.StartSpan(ctx, "Orchestrator.Run")
	defer span.End()

	log := o.logger.WithContext(ctx).WithFields(map[string]any{
		"run_id":  summary.RunID,
		"trigger": appcontext.GetTrigger(ctx),
	})

	release, err := o.lock.Acquire(ctx)
	if err != nil {
		metrics.RecordRun("locked", 0)
		return summary, err
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			log.WithError(err).Warn("Failed to release run lock")
		}
	}()

	summary, err = o.run(ctx, summary)
	summary.Duration = time.Since(summary.StartedAt)

	status := "success"
	switch {
	case err != nil:
		status = "error"
		tracing.RecordError(ctx, err)
		log.WithError(err).Error("Run could not start")
	case summary.Failed() > 0:
		status = "partial"
	}
	metrics.RecordRun(status, summary.Duration.Seconds())

	o.publish(ctx, events.Event{
		Type:   events.TypeRunCompleted,
		RunID:  summary.RunID,
		Counts: map[string]int{"files": len(summary.Files), "failed": summary.Failed()},
	})
	log.Infof("Run finished with status %s: %d files, %d not processed", status, len(summary.Files), summary.Failed())
	return summary, err
}

func (o *Orchestrator) run(ctx context.Context, summary Summary) (Summary, error) {
	log := o.logger.WithContext(ctx)

	if o.tokens != nil {
		if _, err := o.tokens.Token(ctx); err != nil {
			return summary, fmt.Errorf("failed to obtain access token: %w", err)
		}
	}

	objects, err := o.store.List(ctx)
	if err != nil {
		o.logError(ctx, opProcessing, "", err.Error())
		return summary, fmt.Errorf("failed to list files: %w", err)
	}
	names := ectolinq.Map(ectolinq.Filter(objects, func(obj storage.Object) bool {
		return !Skip(obj.Name)
	}), func(obj storage.Object) string {
		return obj.Name
	})
	o.publish(ctx, events.Event{Type: events.TypeRunStarted, RunID: summary.RunID, Counts: map[string]int{"files": len(names)}})
	if len(names) == 0 {
		log.Info("No files to process")
		return summary, nil
	}
	log.Infof("Found %d files to process", len(names))

	snap, err := FetchSnapshot(ctx, o.remote)
	if err != nil {
		return summary, err
	}

	var ready []prepared
	for _, name := range names {
		p, report, ok := o.prepare(ctx, name)
		if !ok {
			summary.Files = append(summary.Files, report)
			continue
		}
		ready = append(ready, p)
	}

	sort.SliceStable(ready, func(i, j int) bool {
		return kindIndex(ready[i].kind) < kindIndex(ready[j].kind)
	})

	state := NewRunState()
	for _, p := range ready {
		if err := ctx.Err(); err != nil {
			log.WithError(err).Warn("Run cancelled, leaving remaining files in place")
			break
		}
		var report FileReport
		report, state = o.process(ctx, p, snap, state)
		summary.Files = append(summary.Files, report)
	}
	return summary, nil
}

func kindIndex(kind string) int {
	for i, k := range kinds {
		if k.Kind == kind {
			return i
		}
	}
	return len(kinds)
}

// prepare downloads, parses, normalizes and classifies a file. Files that
// cannot go further are settled here and ok is false.
func (o *Orchestrator) prepare(ctx context.Context, name string) (prepared, FileReport, bool) {
	log := o.logger.WithContext(ctx).WithField("file", name)

	data, err := o.store.Download(ctx, name)
	if err != nil {
		log.WithError(err).Error("Failed to download file")
		o.logError(ctx, opProcessing, name, err.Error())
		return prepared{}, o.settle(ctx, name, "", OutcomeFailed, nil, err), false
	}

	parsed, err := tabular.Parse(name, data)
	if errors.Is(err, tabular.ErrNoHeader) {
		parsed, err = tabular.Table{}, nil
	}
	if err != nil {
		if !apperrors.IsParseError(err) {
			return prepared{}, o.settle(ctx, name, "", OutcomeError, nil, err), false
		}
		log.WithError(err).Error("Failed to parse file")
		o.logError(ctx, opParsing, name, err.Error())
		o.notify(ctx, fmt.Sprintf("Error parsing CSV for file %s: %s", name, err))
		return prepared{}, o.settle(ctx, name, "", OutcomeFailed, nil, err), false
	}

	table, report := o.normalizer.Table(ctx, parsed.Headers, parsed.Rows)
	if len(table.Records) == 0 {
		log.Info("Empty file")
		o.notify(ctx, fmt.Sprintf("Empty CSV file: %s", name))
		return prepared{}, o.settle(ctx, name, "", OutcomeEmpty, nil, nil), false
	}
	if report.WarehouseReplaced > 0 {
		o.notify(ctx, fmt.Sprintf("Warning: Standardized %d warehouse names to %q", report.WarehouseReplaced, report.StandardWarehouse))
	}

	kind, ok := Classify(table)
	if !ok {
		err := apperrors.NewClassificationError(name, table.Headers)
		log.WithError(err).Warn("Unrecognized file structure")
		o.notify(ctx, UnrecognizedMessage(name))
		return prepared{}, o.settle(ctx, name, "", OutcomeUnrecognized, nil, err), false
	}

	log.Infof("Classified as %s file", ruleFor(kind).Label)
	return prepared{name: name, kind: kind, table: table, report: report}, FileReport{}, true
}

// process pushes one classified file and routes it. It returns the state
// later files should see.
func (o *Orchestrator) process(ctx context.Context, p prepared, snap Snapshot, state RunState) (report FileReport, next RunState) {
	rule := ruleFor(p.kind)
	ctx, span := tracing.StartSpan(ctx, "Orchestrator.process")
	defer span.End()
	log := o.logger.WithContext(ctx).WithFields(map[string]any{"file": p.name, "kind": p.kind})

	next = state
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("unexpected failure: %v", r)
			log.WithError(err).Error("Processing panicked")
			o.logError(ctx, opProcessing, p.name, err.Error())
			report, next = o.settle(ctx, p.name, p.kind, OutcomeError, nil, err), state
		}
	}()

	b, updated, err := o.processorFor(p.kind)(ctx, p.table.Records, snap, state)
	if err == nil && b.AllFailed() {
		err = fmt.Errorf("all records failed:\n%s", b.Summary())
	}
	if err != nil {
		log.WithError(err).Errorf("Error processing %q file", rule.Label)
		tracing.RecordError(ctx, err)
		o.notify(ctx, fmt.Sprintf("Error processing %q file: %s: %s", rule.Label, p.name, err))
		report = o.settle(ctx, p.name, p.kind, rule.Failure, b.Counts(), err)
		report.RowErrors = len(b.RowErrors)
		return report, state
	}

	if b.HasErrors() {
		o.notify(ctx, fmt.Sprintf("Some %ss had errors in %s:\n%s", rule.Label, p.name, b.Summary()))
	}
	o.notify(ctx, fmt.Sprintf("File processed successfully: %s", p.name))

	report = o.settle(ctx, p.name, p.kind, OutcomeDone, b.Counts(), nil)
	report.RowErrors = len(b.RowErrors)
	return report, updated
}

// settle moves the file to its outcome folder, records it and publishes the
// outcome. Nothing is moved on a dry run.
func (o *Orchestrator) settle(ctx context.Context, name, kind string, outcome Outcome, counts map[string]int, cause error) FileReport {
	report := FileReport{
		Name:        name,
		Kind:        kind,
		Outcome:     outcome,
		Destination: outcome.Destination(name),
		Counts:      counts,
	}
	if cause != nil {
		report.Error = cause.Error()
	}

	metrics.RecordFile(kind, string(outcome))
	if !o.dryRun {
		if err := o.store.Move(ctx, name, report.Destination); err != nil {
			o.logger.WithContext(ctx).WithError(err).Errorf("Failed to move %s to %s", name, report.Destination)
			o.logError(ctx, opMoving, name, err.Error())
			report.Error = errors.Join(cause, fmt.Errorf("move failed: %w", err)).Error()
		}
	}

	o.publish(ctx, events.Event{
		Type:        events.TypeFileProcessed,
		RunID:       appcontext.GetRunID(ctx),
		File:        name,
		Kind:        kind,
		Outcome:     string(outcome),
		Destination: report.Destination,
		Counts:      counts,
	})
	return report
}

func (o *Orchestrator) notify(ctx context.Context, message string) {
	if o.dryRun {
		message = dryRunPrefix + message
	}
	o.notifier.Notify(ctx, message)
}

func (o *Orchestrator) logError(ctx context.Context, operation, name, message string) {
	if o.errorLog == nil || o.dryRun {
		return
	}
	if err := o.errorLog.Append(ctx, operation, name, message); err != nil {
		o.logger.WithContext(ctx).WithError(err).Error("Failed to write error log")
	}
}

func (o *Orchestrator) publish(ctx context.Context, evt events.Event) {
	evt.Timestamp = time.Now().UTC()
	evt.TraceID = tracing.GetTraceID(ctx)
	evt.Trigger = appcontext.GetTrigger(ctx)
	if err := o.events.Publish(ctx, evt); err != nil {
		o.logger.WithContext(ctx).WithError(err).Warnf("Failed to publish %s event", evt.Type)
	}
}
