package models

import "time"

const (
	SyncModeDelta = "delta"
	SyncModeFull  = "full"
)

const (
	SyncRunStatusSuccess = "success"
	SyncRunStatusFailed  = "failed"
	SyncRunStatusPartial = "partial"
	SyncRunStatusSkipped = "skipped"
)

const (
	SyncTriggeredManual = "manual"
	SyncTriggeredSystem = "system"
	SyncTriggeredPubSub = "pubsub"
	SyncTriggeredCLI    = "cli"
)

// SyncRun is the history row written for every module run, including rejected ones.
type SyncRun struct {
	ID            uint       `gorm:"primary_key" json:"id"`
	Source        string     `gorm:"size:50;not null" json:"source"`
	Module        string     `gorm:"index;size:50;not null" json:"module"`
	Mode          string     `gorm:"size:10;not null" json:"mode"`
	Status        string     `gorm:"size:20;not null" json:"status"`
	TriggeredBy   string     `gorm:"size:20" json:"triggered_by"`
	CorrelationId string     `gorm:"size:64;index" json:"correlation_id"`
	WindowStart   string     `gorm:"size:10" json:"window_start"`
	WindowEnd     string     `gorm:"size:10" json:"window_end"`
	Fetched       int        `json:"fetched"`
	Applied       int        `json:"applied"`
	Failed        int        `json:"failed"`
	Error         *string    `gorm:"type:text" json:"error"`
	StartedAt     *time.Time `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at"`
	DurationMs    int64      `json:"duration_ms"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

func (SyncRun) TableName() string {
	return "zoho_sync_runs"
}

// SyncRecordError keeps a sample of the records a run could not write.
type SyncRecordError struct {
	ID         uint      `gorm:"primary_key" json:"id"`
	SyncRunId  uint      `gorm:"index;not null" json:"sync_run_id"`
	Module     string    `gorm:"size:50" json:"module"`
	ExternalId string    `gorm:"size:128" json:"external_id"`
	ErrorCode  string    `gorm:"size:64" json:"error_code"`
	Message    string    `gorm:"type:text" json:"message"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (SyncRecordError) TableName() string {
	return "zoho_sync_record_errors"
}
