package zohobooks

import (
	"context"
	"errors"
	"time"

	mysqlDriver "github.com/go-sql-driver/mysql"
	"github.com/mmdatafocus/sales_backend/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore is the MySQL-backed CursorStore, RecordStore and RunStore.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

var (
	_ CursorStore = (*GormStore)(nil)
	_ RecordStore = (*GormStore)(nil)
	_ RunStore    = (*GormStore)(nil)
)

func isDuplicateKeyErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

func (s *GormStore) EnsureCursor(ctx context.Context, module string) (models.SyncCursor, error) {
	db := s.db.WithContext(ctx)

	var cur models.SyncCursor
	err := db.Where("module = ?", module).Take(&cur).Error
	if err == nil {
		return cur, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return cur, err
	}

	cur = models.SyncCursor{Source: models.SyncSourceZohoBooks, Module: module}
	if err := db.Create(&cur).Error; err != nil {
		if !isDuplicateKeyErr(err) {
			return cur, err
		}
		// Another process created it first.
		cur = models.SyncCursor{}
		if err := db.Where("module = ?", module).Take(&cur).Error; err != nil {
			return cur, err
		}
	}
	return cur, nil
}

func (s *GormStore) AcquireCursor(ctx context.Context, module string, now time.Time, staleBefore *time.Time) (models.SyncCursor, bool, error) {
	db := s.db.WithContext(ctx)

	q := db.Model(&models.SyncCursor{}).Where("module = ?", module)
	if staleBefore != nil {
		q = q.Where("(running = ? OR running_since IS NULL OR running_since < ?)", false, *staleBefore)
	} else {
		q = q.Where("running = ?", false)
	}
	res := q.Updates(map[string]interface{}{
		"running":       true,
		"running_since": now,
		"last_error":    nil,
	})
	if res.Error != nil {
		return models.SyncCursor{}, false, res.Error
	}
	if res.RowsAffected == 0 {
		return models.SyncCursor{}, false, nil
	}

	var cur models.SyncCursor
	if err := db.Where("module = ?", module).Take(&cur).Error; err != nil {
		return cur, true, err
	}
	return cur, true, nil
}

func (s *GormStore) ReleaseCursor(ctx context.Context, module string, finishedAt time.Time, runErr error) error {
	updates := map[string]interface{}{
		"running":       false,
		"running_since": nil,
	}
	if runErr == nil {
		updates["last_sync_at"] = finishedAt
		updates["last_error"] = nil
	} else {
		updates["last_error"] = runErr.Error()
	}
	return s.db.WithContext(ctx).
		Model(&models.SyncCursor{}).
		Where("module = ?", module).
		Updates(updates).Error
}

func (s *GormStore) ListCursors(ctx context.Context) ([]models.SyncCursor, error) {
	var out []models.SyncCursor
	err := s.db.WithContext(ctx).Order("module").Find(&out).Error
	return out, err
}

func (s *GormStore) ReplaceByKey(ctx context.Context, table string, naturalKey string, payload []byte, fetchedAt time.Time) error {
	row := models.ZohoRecord{
		NaturalKey: naturalKey,
		Payload:    datatypes.JSON(payload),
		FetchedAt:  fetchedAt,
	}
	return s.db.WithContext(ctx).Table(table).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "natural_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload", "fetched_at", "updated_at"}),
	}).Create(&row).Error
}

// CountRecords returns how many rows table holds.
func (s *GormStore) CountRecords(ctx context.Context, table string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Table(table).Count(&n).Error
	return n, err
}

func (s *GormStore) RecordRun(ctx context.Context, run *models.SyncRun, recordErrors []models.SyncRecordError) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(run).Error; err != nil {
			return err
		}
		if len(recordErrors) == 0 {
			return nil
		}
		for i := range recordErrors {
			recordErrors[i].SyncRunId = run.ID
		}
		return tx.CreateInBatches(recordErrors, 50).Error
	})
}

func (s *GormStore) ListRuns(ctx context.Context, module string, limit int) ([]models.SyncRun, error) {
	q := s.db.WithContext(ctx).Order("id DESC").Limit(limit)
	if module != "" {
		q = q.Where("module = ?", module)
	}
	var out []models.SyncRun
	err := q.Find(&out).Error
	return out, err
}

func (s *GormStore) GetRunErrors(ctx context.Context, runID uint) ([]models.SyncRecordError, error) {
	var out []models.SyncRecordError
	err := s.db.WithContext(ctx).Where("sync_run_id = ?", runID).Order("id").Find(&out).Error
	return out, err
}
