package zohobooks

import (
	"context"
	"errors"
	"net/url"
	"time"

	"github.com/mmdatafocus/sales_backend/config"
	"github.com/mmdatafocus/sales_backend/models"
	"github.com/mmdatafocus/sales_backend/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	dateLayout = "2006-01-02"
	// Records whose upstream date lags their availability are picked up by looking
	// one day behind the last successful sync.
	deltaOverlapDays    = 1
	defaultLookbackDays = 90
	maxStoredRecordErrs = 50
)

var tracer = otel.Tracer("zohobooks")

// RunStore keeps per-run history. Optional.
type RunStore interface {
	RecordRun(ctx context.Context, run *models.SyncRun, recordErrors []models.SyncRecordError) error
	ListRuns(ctx context.Context, module string, limit int) ([]models.SyncRun, error)
}

// Window is a date filter sent to Zoho as date_start / date_end (inclusive, YYYY-MM-DD).
type Window struct {
	Start string `json:"date_start"`
	End   string `json:"date_end"`
}

func (w Window) Params() url.Values {
	return url.Values{
		"date_start": {w.Start},
		"date_end":   {w.End},
	}
}

// DeltaWindow is the window a delta run fetches: from one day before lastSyncAt (or
// lookbackDays before now when there was never a successful sync) through today,
// with dates taken in loc.
func DeltaWindow(lastSyncAt *time.Time, now time.Time, lookbackDays int, loc *time.Location) Window {
	if loc == nil {
		loc = time.UTC
	}
	if lookbackDays <= 0 {
		lookbackDays = defaultLookbackDays
	}
	today := now.In(loc)
	var start time.Time
	if lastSyncAt != nil && !lastSyncAt.IsZero() {
		start = lastSyncAt.In(loc).AddDate(0, 0, -deltaOverlapDays)
	} else {
		start = today.AddDate(0, 0, -lookbackDays)
	}
	return Window{Start: start.Format(dateLayout), End: today.Format(dateLayout)}
}

type SyncerConfig struct {
	Modules      []Module
	LookbackDays int
	Location     *time.Location
}

type SyncerDeps struct {
	Pager    *Pager
	Writer   *Writer
	Locker   *Locker
	Runs     RunStore
	Archiver Archiver
}

// Syncer is the orchestrator: for each module it walks Zoho and upserts the result
// while holding the module's cursor.
type Syncer struct {
	pager    *Pager
	writer   *Writer
	locker   *Locker
	runs     RunStore
	archiver Archiver
	cfg      SyncerConfig
	now      func() time.Time
	logger   *logrus.Logger
}

func NewSyncer(deps SyncerDeps, cfg SyncerConfig, logger *logrus.Logger) *Syncer {
	if len(cfg.Modules) == 0 {
		cfg.Modules = DefaultModules()
	}
	if cfg.LookbackDays <= 0 {
		cfg.LookbackDays = defaultLookbackDays
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Syncer{
		pager:    deps.Pager,
		writer:   deps.Writer,
		locker:   deps.Locker,
		runs:     deps.Runs,
		archiver: deps.Archiver,
		cfg:      cfg,
		now:      time.Now,
		logger:   logger,
	}
}

func (s *Syncer) Modules() []Module {
	return s.cfg.Modules
}

// RunDelta syncs every configured module over its delta window.
func (s *Syncer) RunDelta(ctx context.Context) Report {
	return s.Run(ctx, models.SyncModeDelta, s.cfg.Modules)
}

// RunFullBackfill syncs every configured module with no date filter.
func (s *Syncer) RunFullBackfill(ctx context.Context) Report {
	return s.Run(ctx, models.SyncModeFull, s.cfg.Modules)
}

// Run syncs modules one after another. A module's failure is recorded in its result
// and does not stop the next one. Runs are detached from ctx cancellation: once started,
// a module runs to completion or failure.
func (s *Syncer) Run(ctx context.Context, mode string, modules []Module) Report {
	ctx = utils.EnsureCorrelationId(context.WithoutCancel(ctx))
	report := Report{Mode: mode, Modules: make([]ModuleResult, 0, len(modules))}
	for _, m := range modules {
		res, _ := s.RunModule(ctx, m, mode)
		report.Modules = append(report.Modules, res)
	}
	return report
}

// RunModule performs one locked sync pass of module.
func (s *Syncer) RunModule(ctx context.Context, module Module, mode string) (ModuleResult, error) {
	ctx = utils.EnsureCorrelationId(ctx)
	ctx, span := tracer.Start(ctx, "zohobooks.RunModule", trace.WithAttributes(
		attribute.String("zoho.module", module.Name),
		attribute.String("zoho.mode", mode),
	))
	defer span.End()

	startedAt := s.now().UTC()
	res, err := WithLock(ctx, s.locker, module.Name, func(ctx context.Context, cursor models.SyncCursor) (ModuleResult, error) {
		r := ModuleResult{Module: module.Name, Mode: mode, StartedAt: startedAt}

		params := url.Values{}
		if mode == models.SyncModeDelta {
			w := DeltaWindow(cursor.LastSyncAt, s.now(), s.cfg.LookbackDays, s.cfg.Location)
			r.Window = &w
			params = w.Params()
		}

		items, err := s.pager.FetchAll(ctx, module.Path, params, module.ItemsKey)
		if err != nil {
			return r, err
		}
		r.Fetched = len(items)
		span.SetAttributes(attribute.Int("zoho.fetched", r.Fetched))

		s.archive(ctx, module, mode, startedAt, items)

		up, err := s.writer.Upsert(ctx, module, items)
		r.Applied = up.Applied
		r.Failed = up.Failed
		r.writeErrors = up.Errors
		return r, err
	})
	res.Module = module.Name
	res.Mode = mode
	res.StartedAt = startedAt
	res.FinishedAt = s.now().UTC()
	res.err = err

	fields := logrus.Fields{
		"field":          "zohoSync",
		"module":         module.Name,
		"mode":           mode,
		"fetched":        res.Fetched,
		"upserted":       res.Applied,
		"failed":         res.Failed,
		"correlation_id": correlationID(ctx),
	}
	var already *AlreadyRunningError
	switch {
	case errors.As(err, &already):
		res.Status = models.SyncRunStatusSkipped
		res.Error = err.Error()
		s.logger.WithFields(fields).Warn(err.Error())
	case err != nil:
		res.Status = models.SyncRunStatusFailed
		res.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		config.LogError(s.logger, "zohobooks", "RunModule", "sync "+module.Name, fields, err)
	case res.Failed > 0:
		res.Status = models.SyncRunStatusPartial
		s.logger.WithFields(fields).Warn("zoho sync finished with record errors")
	default:
		res.Status = models.SyncRunStatusSuccess
		LastSuccessTimestamp.WithLabelValues(module.Name).Set(float64(res.FinishedAt.Unix()))
		s.logger.WithFields(fields).Info("zoho sync done")
	}

	SyncRunsTotal.WithLabelValues(module.Name, mode, res.Status).Inc()
	if res.Status != models.SyncRunStatusSkipped {
		SyncRunDuration.WithLabelValues(module.Name, mode).Observe(res.FinishedAt.Sub(startedAt).Seconds())
	}
	s.recordRun(ctx, &res)
	return res, err
}

func (s *Syncer) archive(ctx context.Context, module Module, mode string, startedAt time.Time, items []Record) {
	if s.archiver == nil || len(items) == 0 {
		return
	}
	if err := s.archiver.Archive(ctx, module.Name, mode, startedAt, items); err != nil {
		s.logger.WithFields(logrus.Fields{
			"field":  "zohoSync",
			"module": module.Name,
		}).Warn("archive of fetched records failed: " + err.Error())
	}
}

func (s *Syncer) recordRun(ctx context.Context, res *ModuleResult) {
	if s.runs == nil {
		return
	}
	triggeredBy, _ := utils.GetTriggeredByFromContext(ctx)
	if triggeredBy == "" {
		triggeredBy = models.SyncTriggeredSystem
	}
	startedAt := res.StartedAt
	finishedAt := res.FinishedAt
	run := &models.SyncRun{
		Source:        models.SyncSourceZohoBooks,
		Module:        res.Module,
		Mode:          res.Mode,
		Status:        res.Status,
		TriggeredBy:   triggeredBy,
		CorrelationId: correlationID(ctx),
		Fetched:       res.Fetched,
		Applied:       res.Applied,
		Failed:        res.Failed,
		StartedAt:     &startedAt,
		FinishedAt:    &finishedAt,
		DurationMs:    finishedAt.Sub(startedAt).Milliseconds(),
	}
	if res.Window != nil {
		run.WindowStart = res.Window.Start
		run.WindowEnd = res.Window.End
	}
	if res.Error != "" {
		msg := res.Error
		run.Error = &msg
	}

	var recordErrors []models.SyncRecordError
	for i, we := range res.writeErrors {
		if i >= maxStoredRecordErrs {
			break
		}
		recordErrors = append(recordErrors, models.SyncRecordError{
			Module:     we.Module,
			ExternalId: we.NaturalKey,
			ErrorCode:  we.Code,
			Message:    we.Err.Error(),
		})
	}

	if err := s.runs.RecordRun(ctx, run, recordErrors); err != nil {
		config.LogError(s.logger, "zohobooks", "recordRun", "persist sync run", res.Module, err)
		return
	}
	res.RunId = run.ID
}

func correlationID(ctx context.Context) string {
	cid, _ := utils.GetCorrelationIdFromContext(ctx)
	return cid
}
