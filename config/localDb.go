package config

import (
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	db *gorm.DB
)

// GetLocalDB returns the durable local store. It is the only resource
// shared between the offline queue, the sequence generator and the sale
// cache; each owns disjoint tables, so per-row atomicity is enough.
func GetLocalDB() *gorm.DB {
	return db
}

func init() {
	// Load env from .env
	godotenv.Load()
	// Do NOT block startup in init() waiting for storage; the status
	// server must start listening first and gate on readiness.
}

// ConnectLocalDBWithRetry opens the SQLite store and sets the global DB.
// Call this from main() AFTER the status server is listening.
func ConnectLocalDBWithRetry() {
	dbPath := os.Getenv("LOCAL_DB_PATH")
	if dbPath == "" {
		dbPath = "pos_engine.db"
		log.Printf("LOCAL_DB_PATH not set; defaulting to %s", dbPath)
	}
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		_ = os.MkdirAll(dir, 0o755)
	}

	// WAL + busy_timeout: sibling processes on the same counter device
	// open the same file; writes must queue, not error.
	dsn := dbPath + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"

	var attempt int
	for {
		attempt++
		var err error
		db, err = gorm.Open(sqlite.Open(dsn), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err == nil {
			if sqlDB, derr := db.DB(); derr == nil && sqlDB != nil {
				// SQLite serializes writers anyway; a single open
				// connection avoids SQLITE_BUSY churn.
				sqlDB.SetMaxOpenConns(1)
				sqlDB.SetConnMaxIdleTime(time.Minute)
			}
			log.Printf("connected to local store (attempt=%d path=%s)", attempt, dbPath)
			return
		}
		sleep := time.Second * time.Duration(1<<min(attempt, 5))
		if sleep > 30*time.Second {
			sleep = 30 * time.Second
		}
		log.Printf("failed to open local store (attempt=%d path=%s): %v; retrying in %s", attempt, dbPath, err, sleep)
		time.Sleep(sleep)
	}
}

// SetLocalDB swaps the global store. Tests use an in-memory SQLite DB.
func SetLocalDB(d *gorm.DB) {
	db = d
}
