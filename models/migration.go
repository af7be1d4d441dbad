package models

import (
	"gorm.io/gorm"
)

// MigrateTable creates or updates every table owned by the sync service.
func MigrateTable(db *gorm.DB) error {
	return db.AutoMigrate(
		&SyncCursor{},
		&SyncRun{}, &SyncRecordError{},
		&ZohoInvoice{}, &ZohoPurchaseOrder{},
	)
}
