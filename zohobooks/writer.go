package zohobooks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
)

// RecordStore replaces (or inserts) one mirrored record by natural key.
type RecordStore interface {
	ReplaceByKey(ctx context.Context, table string, naturalKey string, payload []byte, fetchedAt time.Time) error
}

type UpsertResult struct {
	Applied int
	Failed  int
	Errors  []*WriteError
}

// Writer is the bulk upsert writer. Records are written independently: a record that
// fails is reported in UpsertResult and the rest of the batch still goes through.
type Writer struct {
	store  RecordStore
	now    func() time.Time
	logger *logrus.Logger
}

func NewWriter(store RecordStore, logger *logrus.Logger) *Writer {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Writer{store: store, now: time.Now, logger: logger}
}

// Upsert writes records into module's table, stamping all of them with one fetchedAt.
// It returns an error only when nothing was applied and every failure came from storage;
// records rejected for their own content (no natural key) never fail the batch.
func (w *Writer) Upsert(ctx context.Context, module Module, records []Record) (UpsertResult, error) {
	var res UpsertResult
	if len(records) == 0 {
		return res, nil
	}

	fetchedAt := w.now().UTC()
	for _, rec := range records {
		key, ok := rec.NaturalKey(module.NaturalKey)
		if !ok {
			res.fail(&WriteError{
				Module: module.Name,
				Code:   writeErrMissingKey,
				Err:    fmt.Errorf("field %q missing or empty", module.NaturalKey),
			})
			continue
		}
		payload, err := json.Marshal(rec)
		if err != nil {
			res.fail(&WriteError{Module: module.Name, NaturalKey: key, Code: writeErrStorage, Err: err})
			continue
		}
		if err := w.store.ReplaceByKey(ctx, module.Table, key, payload, fetchedAt); err != nil {
			res.fail(&WriteError{Module: module.Name, NaturalKey: key, Code: writeErrStorage, Err: err})
			continue
		}
		res.Applied++
	}

	SyncRecordsTotal.WithLabelValues(module.Name, "applied").Add(float64(res.Applied))
	SyncRecordsTotal.WithLabelValues(module.Name, "failed").Add(float64(res.Failed))

	if res.Failed > 0 {
		w.logger.WithFields(logrus.Fields{
			"field":   "zohoWriter",
			"module":  module.Name,
			"applied": res.Applied,
			"failed":  res.Failed,
		}).Warn("some records could not be written: " + res.Errors[0].Error())
	}
	if res.Applied == 0 && res.storageOnly() {
		return res, fmt.Errorf("upsert %s: none of %d records applied: %w", module.Name, len(records), errors.Join(firstErrors(res.Errors, 3)...))
	}
	return res, nil
}

func (r *UpsertResult) fail(err *WriteError) {
	r.Failed++
	r.Errors = append(r.Errors, err)
}

func (r *UpsertResult) storageOnly() bool {
	if len(r.Errors) == 0 {
		return false
	}
	for _, e := range r.Errors {
		if e.Code != writeErrStorage {
			return false
		}
	}
	return true
}

func firstErrors(errs []*WriteError, n int) []error {
	if len(errs) < n {
		n = len(errs)
	}
	out := make([]error, 0, n)
	for _, e := range errs[:n] {
		out = append(out, e)
	}
	return out
}
