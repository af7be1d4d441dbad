package zohobooks

import (
	"context"
	"errors"
	"time"

	"github.com/bsm/redislock"
	"github.com/google/uuid"
	"github.com/mmdatafocus/sales_backend/models"
	"github.com/mmdatafocus/sales_backend/utils"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const (
	nightlyLockKey = "zoho-sync:nightly"
	// Held (never released) so that other instances firing the same schedule skip it.
	nightlyLockTTL = time.Hour
)

type SchedulerConfig struct {
	Spec        string
	Location    *time.Location
	FullRefresh bool
}

// Scheduler fires the nightly sync. With a redis locker, only one instance per
// schedule tick runs it; without one every instance tries and the cursor lock
// rejects the overlapping attempts.
type Scheduler struct {
	cron    *cron.Cron
	syncer  *Syncer
	cfg     SchedulerConfig
	locker  *redislock.Client
	baseCtx context.Context
	logger  *logrus.Logger
}

func NewScheduler(baseCtx context.Context, syncer *Syncer, cfg SchedulerConfig, locker *redislock.Client, logger *logrus.Logger) (*Scheduler, error) {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &Scheduler{
		cron:    cron.New(cron.WithLocation(cfg.Location)),
		syncer:  syncer,
		cfg:     cfg,
		locker:  locker,
		baseCtx: baseCtx,
		logger:  logger,
	}
	if _, err := s.cron.AddFunc(cfg.Spec, func() { s.RunNightly(s.baseCtx) }); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.logger.WithFields(logrus.Fields{
		"field":    "zohoScheduler",
		"spec":     s.cfg.Spec,
		"timezone": s.cfg.Location.String(),
		"full":     s.cfg.FullRefresh,
	}).Info("zoho sync scheduler started")
	s.cron.Start()
}

// Stop waits for a running job to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.WithFields(logrus.Fields{"field": "zohoScheduler"}).Info("zoho sync scheduler stopped")
}

// RunNightly is the scheduled job body. It returns the report, or nil when another
// instance already took this tick.
func (s *Scheduler) RunNightly(ctx context.Context) *Report {
	ctx = utils.SetCorrelationIdInContext(ctx, uuid.NewString())
	ctx = utils.SetTriggeredByInContext(ctx, models.SyncTriggeredSystem)
	fields := logrus.Fields{
		"field":          "zohoScheduler",
		"correlation_id": correlationID(ctx),
	}

	if s.locker != nil {
		_, err := s.locker.Obtain(ctx, nightlyLockKey, nightlyLockTTL, nil)
		if errors.Is(err, redislock.ErrNotObtained) {
			s.logger.WithFields(fields).Info("nightly zoho sync already taken by another instance")
			return nil
		}
		if err != nil {
			// Redis is only a de-duplication aid; the cursor lock still protects the run.
			s.logger.WithFields(fields).Warn("error obtaining redis lock; proceeding without it: " + err.Error())
		}
	}

	mode := models.SyncModeDelta
	if s.cfg.FullRefresh {
		mode = models.SyncModeFull
	}
	s.logger.WithFields(fields).Info("[ZohoBooks] sync start")
	report := s.syncer.Run(ctx, mode, s.syncer.Modules())
	if report.Failed() {
		s.logger.WithFields(fields).Error("[ZohoBooks] sync finished with failures")
	} else {
		s.logger.WithFields(fields).Info("[ZohoBooks] sync done")
	}
	return &report
}
