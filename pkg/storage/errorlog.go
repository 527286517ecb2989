package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
)

const (
	errorLogDir       = "Documents/ErrorLogs"
	errorLogFile      = "errorLog.txt"
	errorLogTimestamp = "02-01-2006 15:04:05"
)

// ErrorLog appends failure entries to a dated log object in the store.
type ErrorLog struct {
	store    ObjectStore
	zone     *time.Location
	now      func() time.Time
	attempts int
	backoff  time.Duration
	logger   ectologger.Logger
}

func NewErrorLog(store ObjectStore, logger ectologger.Logger) *ErrorLog {
	zone, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		zone = time.FixedZone("IST", 5*60*60+30*60)
	}
	return &ErrorLog{
		store:    store,
		zone:     zone,
		now:      time.Now,
		attempts: 3,
		backoff:  time.Second,
		logger:   logger,
	}
}

// WithClock overrides the clock.
func (e *ErrorLog) WithClock(now func() time.Time) *ErrorLog {
	e.now = now
	return e
}

// WithRetry overrides the attempt count and the pause between attempts.
func (e *ErrorLog) WithRetry(attempts int, backoff time.Duration) *ErrorLog {
	if attempts < 1 {
		attempts = 1
	}
	e.attempts = attempts
	e.backoff = backoff
	return e
}

// Path returns the log object for the day of t.
func (e *ErrorLog) Path(t time.Time) string {
	return fmt.Sprintf("%s/%s/%s", errorLogDir, t.Format("2006-01-02"), errorLogFile)
}

// Entry formats one log entry with the time in IST.
func (e *ErrorLog) Entry(t time.Time, operation, filePath, message string) string {
	return fmt.Sprintf("Date and Time (IST): %s\nOperation: %s\nFile Path: %s\nError Message: %s\n\n",
		t.In(e.zone).Format(errorLogTimestamp), operation, filePath, message)
}

// Append adds an entry, retrying the read-append-write cycle. Failures are
// logged and returned; callers usually ignore them.
func (e *ErrorLog) Append(ctx context.Context, operation, filePath, message string) error {
	now := e.now()
	name := e.Path(now)
	entry := e.Entry(now, operation, filePath, message)
	log := e.logger.WithContext(ctx).WithField("log_file", name)

	var err error
	for attempt := 1; attempt <= e.attempts; attempt++ {
		if err = e.append(ctx, name, entry); err == nil {
			log.Debugf("Error logged for %s", filePath)
			return nil
		}
		if attempt == e.attempts {
			break
		}
		log.WithError(err).Warnf("Retrying error log write, attempts left: %d", e.attempts-attempt)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(e.backoff):
		}
	}
	log.WithError(err).Error("Failed to write error log")
	return err
}

func (e *ErrorLog) append(ctx context.Context, name, entry string) error {
	existing, err := e.store.Download(ctx, name)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return e.store.Upload(ctx, name, append(existing, entry...))
}
