package models

import "time"

type PendingWriteStatus string

const (
	PendingWriteStatusPending PendingWriteStatus = "PENDING"
	PendingWriteStatusFailed  PendingWriteStatus = "FAILED"
	PendingWriteStatusDead    PendingWriteStatus = "DEAD"
)

// PendingWrite is one unconfirmed sale waiting for replay. The
// auto-increment ID preserves enqueue order; drain walks it ascending.
// Unique constraint on LocalId: one entry per unconfirmed sale.
type PendingWrite struct {
	ID            int                `gorm:"primary_key" json:"id"`
	LocalId       string             `gorm:"size:36;not null;uniqueIndex" json:"local_id"`
	ScopeId       string             `gorm:"size:64;not null;index" json:"scope_id"`
	Payload       []byte             `gorm:"type:blob;not null" json:"payload"`
	Status        PendingWriteStatus `gorm:"size:20;not null;index" json:"status"`
	Attempts      int                `gorm:"not null;default:0" json:"attempts"`
	LastError     *string            `gorm:"type:text" json:"last_error"`
	NextAttemptAt *time.Time         `json:"next_attempt_at"`
	CreatedAt     time.Time          `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time          `gorm:"autoUpdateTime" json:"updated_at"`
}
