package zohobooks

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/mmdatafocus/sales_backend/models"
	"github.com/sirupsen/logrus"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type storedRecord struct {
	Payload   []byte
	FetchedAt time.Time
}

// memStore is an in-memory CursorStore, RecordStore and RunStore.
type memStore struct {
	mu      sync.Mutex
	cursors map[string]*models.SyncCursor
	records map[string]map[string]storedRecord
	runs    []models.SyncRun
	runErrs []models.SyncRecordError

	replaceCalls int
	// failKeys makes ReplaceByKey fail for those natural keys.
	failKeys map[string]bool
	// failAll makes every ReplaceByKey fail.
	failAll error
	// failReleases makes the next n ReleaseCursor calls fail.
	failReleases int
	releaseCalls int
	// onAcquire runs after a successful acquire, while the cursor is held.
	onAcquire func(module string)
}

func newMemStore() *memStore {
	return &memStore{
		cursors:  map[string]*models.SyncCursor{},
		records:  map[string]map[string]storedRecord{},
		failKeys: map[string]bool{},
	}
}

func (s *memStore) EnsureCursor(_ context.Context, module string) (models.SyncCursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.cursors[module]
	if !ok {
		cur = &models.SyncCursor{ID: uint(len(s.cursors) + 1), Source: models.SyncSourceZohoBooks, Module: module}
		s.cursors[module] = cur
	}
	return *cur, nil
}

func (s *memStore) AcquireCursor(_ context.Context, module string, now time.Time, staleBefore *time.Time) (models.SyncCursor, bool, error) {
	s.mu.Lock()
	cur, ok := s.cursors[module]
	if !ok {
		s.mu.Unlock()
		return models.SyncCursor{}, false, errors.New("cursor not found")
	}
	takeover := staleBefore != nil && (cur.RunningSince == nil || cur.RunningSince.Before(*staleBefore))
	if cur.Running && !takeover {
		s.mu.Unlock()
		return models.SyncCursor{}, false, nil
	}
	cur.Running = true
	t := now
	cur.RunningSince = &t
	cur.LastError = nil
	out := *cur
	hook := s.onAcquire
	s.mu.Unlock()

	if hook != nil {
		hook(module)
	}
	return out, true, nil
}

func (s *memStore) ReleaseCursor(_ context.Context, module string, finishedAt time.Time, runErr error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseCalls++
	if s.failReleases > 0 {
		s.failReleases--
		return errors.New("driver: bad connection")
	}
	cur, ok := s.cursors[module]
	if !ok {
		return errors.New("cursor not found")
	}
	cur.Running = false
	cur.RunningSince = nil
	if runErr == nil {
		t := finishedAt
		cur.LastSyncAt = &t
		cur.LastError = nil
	} else {
		msg := runErr.Error()
		cur.LastError = &msg
	}
	return nil
}

func (s *memStore) ListCursors(context.Context) ([]models.SyncCursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.SyncCursor, 0, len(s.cursors))
	for _, c := range s.cursors {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Module < out[j].Module })
	return out, nil
}

func (s *memStore) cursor(module string) models.SyncCursor {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.cursors[module]; ok {
		return *c
	}
	return models.SyncCursor{}
}

func (s *memStore) ReplaceByKey(_ context.Context, table string, naturalKey string, payload []byte, fetchedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replaceCalls++
	if s.failAll != nil {
		return s.failAll
	}
	if s.failKeys[naturalKey] {
		return errors.New("duplicate entry")
	}
	if s.records[table] == nil {
		s.records[table] = map[string]storedRecord{}
	}
	s.records[table][naturalKey] = storedRecord{Payload: append([]byte(nil), payload...), FetchedAt: fetchedAt}
	return nil
}

func (s *memStore) count(table string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records[table])
}

func (s *memStore) RecordRun(_ context.Context, run *models.SyncRun, recordErrors []models.SyncRecordError) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run.ID = uint(len(s.runs) + 1)
	s.runs = append(s.runs, *run)
	for _, e := range recordErrors {
		e.SyncRunId = run.ID
		s.runErrs = append(s.runErrs, e)
	}
	return nil
}

func (s *memStore) ListRuns(_ context.Context, module string, limit int) ([]models.SyncRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.SyncRun
	for i := len(s.runs) - 1; i >= 0 && len(out) < limit; i-- {
		if module == "" || s.runs[i].Module == module {
			out = append(out, s.runs[i])
		}
	}
	return out, nil
}

// fixedClock is a settable time source.
type fixedClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fixedClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}
