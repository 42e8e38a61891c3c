package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type SaleStatus string

const (
	SaleStatusOpen    SaleStatus = "OPEN"
	SaleStatusKitchen SaleStatus = "KITCHEN"
	SaleStatusServed  SaleStatus = "SERVED"
	SaleStatusPaid    SaleStatus = "PAID"
	SaleStatusVoid    SaleStatus = "VOID"
)

// Terminal states. Sales are never physically deleted, only
// status-transitioned.
func (s SaleStatus) IsTerminal() bool {
	return s == SaleStatusPaid || s == SaleStatusVoid
}

// SaleRecord is the locally cached copy of a sale. ID is the
// client-generated local id; the remote store accepts it as the
// idempotency key, so a replayed create can never produce a duplicate.
type SaleRecord struct {
	ID              string          `gorm:"primaryKey;size:36" json:"id"`
	ScopeId         string          `gorm:"size:64;not null;index:idx_biz_no" json:"scope_id"`
	DayKey          string          `gorm:"size:10;not null;index:idx_biz_no" json:"day_key"`
	BusinessNumber  string          `gorm:"size:40;not null;index:idx_biz_no" json:"business_number"`
	Items           []SaleItem      `gorm:"foreignKey:SaleRecordId;references:ID" json:"items"`
	TotalAmount     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_amount"`
	PaymentMode     string          `gorm:"size:40;default:null" json:"payment_mode"`
	CurrentStatus   SaleStatus      `gorm:"size:20;not null;index" json:"current_status"`
	TableRef        string          `gorm:"size:40;default:null" json:"table_ref"`
	OfflineIssued   bool            `gorm:"not null;default:false" json:"offline_issued"`
	RemoteConfirmed bool            `gorm:"not null;default:false" json:"remote_confirmed"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	StatusChangedAt time.Time       `gorm:"not null" json:"status_changed_at"`
}

type SaleItem struct {
	ID           int             `gorm:"primary_key" json:"id"`
	SaleRecordId string          `gorm:"size:36;not null;index" json:"sale_record_id"`
	ItemId       string          `gorm:"size:64;not null" json:"item_id"`
	Name         string          `gorm:"size:255;not null" json:"name"`
	Quantity     decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"quantity"`
	UnitPrice    decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"unit_price"`
	LineTotal    decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"line_total"`
}

// Clone returns a deep copy. The optimistic reconciler snapshots sales
// with it; a rollback must restore the exact prior value, including the
// items slice, without sharing backing arrays.
func (s SaleRecord) Clone() SaleRecord {
	out := s
	out.Items = make([]SaleItem, len(s.Items))
	copy(out.Items, s.Items)
	return out
}
