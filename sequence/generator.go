// Package sequence issues human-readable business numbers (receipt
// numbers) without a network round trip. Counters live in the durable
// local store, seeded from the remote high-water mark and never
// regressed.
package sequence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mmdatafocus/pos_engine/config"
	"github.com/mmdatafocus/pos_engine/metrics"
	"github.com/mmdatafocus/pos_engine/models"
	"github.com/mmdatafocus/pos_engine/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// OfflineSuffix marks a number issued before the counter was seeded or
// while unreachable; it is dropped once the sale is confirmed remotely.
const OfflineSuffix = "-L"

// Issued is one handed-out business number.
type Issued struct {
	Ordinal int64
	Number  string
	DayKey  string
	Offline bool
}

// RemoteSeeder is the slice of the remote contract seeding needs.
type RemoteSeeder interface {
	MaxBusinessOrdinal(ctx context.Context, scopeId string, dayKey string) (int64, error)
}

type Generator struct {
	DB     *gorm.DB
	Logger *logrus.Logger
	Remote RemoteSeeder
	Prefix string

	// The mutex makes the read-increment-write atomic within this
	// process. Sibling processes sharing the SQLite file are covered by
	// the CAS update below; sibling devices offline at the same time
	// are not — that collision is detected post-hoc, never prevented.
	mu sync.Mutex
}

func NewGenerator(db *gorm.DB, logger *logrus.Logger, rem RemoteSeeder, prefix string) *Generator {
	return &Generator{DB: db, Logger: logger, Remote: rem, Prefix: prefix}
}

// FormatBusinessNumber renders prefix + zero-padded ordinal, with the
// offline marker appended until reconciliation.
func FormatBusinessNumber(prefix string, ordinal int64, offline bool) string {
	s := fmt.Sprintf("%04d", ordinal)
	if prefix != "" {
		s = prefix + "-" + s
	}
	if offline {
		s += OfflineSuffix
	}
	return s
}

// CanonicalNumber strips the offline marker. Confirmation paths store
// the canonical form so a reconciled number matches its remote twin.
func CanonicalNumber(number string) string {
	return strings.TrimSuffix(number, OfflineSuffix)
}

// Seed raises today's counter to at least the remote's maximum
// confirmed ordinal. A counter already higher locally is left alone —
// unsynced local sales may sit above the remote high-water mark.
func (g *Generator) Seed(ctx context.Context, scopeId string) error {
	dayKey := utils.DayKey(time.Now())
	max, err := g.Remote.MaxBusinessOrdinal(ctx, scopeId, dayKey)
	if err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	return g.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		counter, err := g.loadOrCreate(tx, scopeId, dayKey)
		if err != nil {
			return err
		}
		updates := map[string]interface{}{"seeded": true}
		if counter.LastOrdinal < max {
			updates["last_ordinal"] = max
		}
		return tx.Model(&models.SequenceCounter{}).
			Where("id = ?", counter.ID).
			Updates(updates).Error
	})
}

// Next issues the next number for the scope's current day. Never blocks
// on the network: offline it returns a locally valid value immediately,
// marked until reconciled.
func (g *Generator) Next(ctx context.Context, scopeId string, offline bool) (Issued, error) {
	dayKey := utils.DayKey(time.Now())

	g.mu.Lock()
	defer g.mu.Unlock()

	for {
		counter, err := g.loadOrCreate(g.DB.WithContext(ctx), scopeId, dayKey)
		if err != nil {
			return Issued{}, err
		}
		ordinal := counter.LastOrdinal + 1

		// CAS on last_ordinal: a sibling process on the same device
		// shares the SQLite file, so a plain save could double-issue.
		res := g.DB.WithContext(ctx).Model(&models.SequenceCounter{}).
			Where("id = ? AND last_ordinal = ?", counter.ID, counter.LastOrdinal).
			Update("last_ordinal", ordinal)
		if res.Error != nil {
			return Issued{}, res.Error
		}
		if res.RowsAffected == 0 {
			continue // lost the race, re-read
		}

		marked := offline || !counter.Seeded
		return Issued{
			Ordinal: ordinal,
			Number:  FormatBusinessNumber(g.Prefix, ordinal, marked),
			DayKey:  dayKey,
			Offline: marked,
		}, nil
	}
}

// DetectCollisions scans the sale cache for duplicate business numbers
// within one scope and day. A hit is a data-quality warning, logged and
// counted, never rolled back.
func (g *Generator) DetectCollisions(ctx context.Context, scopeId string) error {
	dayKey := utils.DayKey(time.Now())
	var numbers []string
	err := g.DB.WithContext(ctx).Model(&models.SaleRecord{}).
		Where("scope_id = ? AND day_key = ?", scopeId, dayKey).
		Pluck("business_number", &numbers).Error
	if err != nil {
		return err
	}

	// Group on the canonical form: an unreconciled C1-0005-L collides
	// with a sibling device's confirmed C1-0005.
	counts := make(map[string]int64, len(numbers))
	for _, n := range numbers {
		counts[CanonicalNumber(n)]++
	}
	for number, n := range counts {
		if n < 2 {
			continue
		}
		metrics.SequenceCollisionsTotal.Inc()
		config.LogWarn(g.Logger, "generator.go", "DetectCollisions", "duplicate business number", number,
			fmt.Sprintf("sequence collision: %s issued %d times", number, n))
	}
	return nil
}

func (g *Generator) loadOrCreate(tx *gorm.DB, scopeId string, dayKey string) (models.SequenceCounter, error) {
	var counter models.SequenceCounter
	err := tx.Where("scope_id = ? AND day_key = ?", scopeId, dayKey).Take(&counter).Error
	if err == nil {
		return counter, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return counter, err
	}
	counter = models.SequenceCounter{ScopeId: scopeId, DayKey: dayKey}
	if err := tx.Create(&counter).Error; err != nil {
		return counter, err
	}
	return counter, nil
}
