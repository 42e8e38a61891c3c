package models

import "time"

// SequenceCounter is the per-scope per-day high-water mark for issued
// business numbers. Unique constraint: (scope_id, day_key).
//
// The increment is atomic within one process only; two sibling
// processes incrementing while both offline can issue the same ordinal.
// Collisions are detected post-hoc and logged, never rolled back.
type SequenceCounter struct {
	ID          int       `gorm:"primary_key" json:"id"`
	ScopeId     string    `gorm:"size:64;not null;index:uniq_seq,unique" json:"scope_id"`
	DayKey      string    `gorm:"size:10;not null;index:uniq_seq,unique" json:"day_key"`
	LastOrdinal int64     `gorm:"not null;default:0" json:"last_ordinal"`
	Seeded      bool      `gorm:"not null;default:false" json:"seeded"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
