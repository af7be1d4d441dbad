package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	ZohoInvoicesTable       = "zoho_invoices"
	ZohoPurchaseOrdersTable = "zoho_purchaseorders"
)

// ZohoRecord is one mirrored Zoho Books document. Payload holds the upstream object
// untouched; NaturalKey is the Zoho id it is matched on.
type ZohoRecord struct {
	ID         uint           `gorm:"primary_key" json:"-"`
	NaturalKey string         `gorm:"size:64;not null;uniqueIndex" json:"natural_key"`
	Payload    datatypes.JSON `gorm:"type:json;not null" json:"payload"`
	FetchedAt  time.Time      `gorm:"not null;index" json:"fetchedAt"`
	CreatedAt  time.Time      `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt  time.Time      `gorm:"autoUpdateTime" json:"updatedAt"`
}

type ZohoInvoice struct {
	ZohoRecord
}

func (ZohoInvoice) TableName() string {
	return ZohoInvoicesTable
}

type ZohoPurchaseOrder struct {
	ZohoRecord
}

func (ZohoPurchaseOrder) TableName() string {
	return ZohoPurchaseOrdersTable
}
