package models

import "time"

const SyncSourceZohoBooks = "zoho-books"

// SyncCursor is the persisted per-module bookkeeping row. Running is the cross-process
// lock flag; LastSyncAt only advances after a fully successful pass.
type SyncCursor struct {
	ID           uint       `gorm:"primary_key" json:"id"`
	Source       string     `gorm:"size:50;not null;default:zoho-books" json:"source"`
	Module       string     `gorm:"size:50;not null;uniqueIndex" json:"module"`
	LastSyncAt   *time.Time `json:"lastSyncAt"`
	Running      bool       `gorm:"not null;default:false" json:"running"`
	RunningSince *time.Time `json:"runningSince"`
	LastError    *string    `gorm:"type:text" json:"lastError"`
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt    time.Time  `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (SyncCursor) TableName() string {
	return "zoho_sync_cursors"
}
