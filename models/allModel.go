package models

import "gorm.io/gorm"

// Migrate creates the local-store schema. Called from main() once the
// local DB is connected; each component owns its own tables.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&SaleRecord{},
		&SaleItem{},
		&PendingWrite{},
		&SequenceCounter{},
	)
}
