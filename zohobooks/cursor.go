package zohobooks

import (
	"context"
	"fmt"
	"time"

	"github.com/mmdatafocus/sales_backend/config"
	"github.com/mmdatafocus/sales_backend/models"
	"github.com/sirupsen/logrus"
)

// CursorStore persists SyncCursor rows. AcquireCursor must be a single atomic
// conditional write so that two processes sharing the database never both win.
type CursorStore interface {
	EnsureCursor(ctx context.Context, module string) (models.SyncCursor, error)
	// AcquireCursor flips running to true when it is false (or its holder started before
	// staleBefore) and clears last_error. ok is false when someone else holds it.
	AcquireCursor(ctx context.Context, module string, now time.Time, staleBefore *time.Time) (cursor models.SyncCursor, ok bool, err error)
	// ReleaseCursor clears running; runErr == nil also sets last_sync_at = finishedAt,
	// otherwise last_error = runErr.Error().
	ReleaseCursor(ctx context.Context, module string, finishedAt time.Time, runErr error) error
	ListCursors(ctx context.Context) ([]models.SyncCursor, error)
}

const releaseAttempts = 4

// Locker runs work under a module's persisted cursor flag.
type Locker struct {
	store      CursorStore
	staleAfter time.Duration
	now        func() time.Time
	logger     *logrus.Logger
	// releaseBackoff is the wait before the first release retry; it doubles per attempt.
	releaseBackoff time.Duration
}

// NewLocker returns a Locker; staleAfter <= 0 means a held cursor is never taken over.
func NewLocker(store CursorStore, staleAfter time.Duration, logger *logrus.Logger) *Locker {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Locker{store: store, staleAfter: staleAfter, now: time.Now, logger: logger, releaseBackoff: 500 * time.Millisecond}
}

// WithLock runs fn while holding module's cursor and returns fn's result (also on error).
// A held cursor is rejected immediately with *AlreadyRunningError; attempts never queue.
// The cursor is released whatever fn does, including panicking.
func WithLock[T any](ctx context.Context, l *Locker, module string, fn func(ctx context.Context, cursor models.SyncCursor) (T, error)) (T, error) {
	var zero T

	if _, err := l.store.EnsureCursor(ctx, module); err != nil {
		return zero, fmt.Errorf("load %s cursor: %w", module, err)
	}

	now := l.now().UTC()
	var staleBefore *time.Time
	if l.staleAfter > 0 {
		t := now.Add(-l.staleAfter)
		staleBefore = &t
	}
	cursor, ok, err := l.store.AcquireCursor(ctx, module, now, staleBefore)
	if err != nil {
		return zero, fmt.Errorf("acquire %s cursor: %w", module, err)
	}
	if !ok {
		return zero, &AlreadyRunningError{Module: module}
	}

	// Release must happen even when the caller's context is gone.
	releaseCtx := context.WithoutCancel(ctx)
	done := false
	defer func() {
		if done {
			return
		}
		if relErr := l.release(releaseCtx, module, fmt.Errorf("%s sync aborted", module)); relErr != nil {
			config.LogError(l.logger, "zohobooks", "WithLock", "release cursor after panic", module, relErr)
		}
	}()

	result, runErr := fn(ctx, cursor)
	done = true

	if relErr := l.release(releaseCtx, module, runErr); relErr != nil {
		config.LogError(l.logger, "zohobooks", "WithLock", "release cursor", module, relErr)
		if runErr == nil {
			return result, fmt.Errorf("release %s cursor: %w", module, relErr)
		}
	}
	return result, runErr
}

// release clears the running flag, retrying with backoff: a flag left set would block
// the module until stale takeover, which is off by default.
func (l *Locker) release(ctx context.Context, module string, runErr error) error {
	var err error
	wait := l.releaseBackoff
	for attempt := 1; attempt <= releaseAttempts; attempt++ {
		if err = l.store.ReleaseCursor(ctx, module, l.now().UTC(), runErr); err == nil {
			return nil
		}
		if attempt == releaseAttempts {
			break
		}
		l.logger.WithFields(logrus.Fields{
			"field":   "zohoLock",
			"module":  module,
			"attempt": attempt,
		}).Warn("release cursor failed, retrying: " + err.Error())
		time.Sleep(wait)
		wait *= 2
	}
	return err
}
