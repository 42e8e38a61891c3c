// Package queue persists sale writes while the remote store is
// unreachable and replays them, in enqueue order, once reachability
// returns. Replay is idempotent by local id: the remote rejects a
// duplicate insert and the entry is discarded as success.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/bsm/redislock"
	"github.com/mmdatafocus/pos_engine/config"
	"github.com/mmdatafocus/pos_engine/metrics"
	"github.com/mmdatafocus/pos_engine/models"
	"github.com/mmdatafocus/pos_engine/remote"
	"github.com/mmdatafocus/pos_engine/sequence"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrQueueStalled is surfaced when entries have gone DEAD: sale
// persistence must never be silently lost, so the operator is told.
var ErrQueueStalled = errors.New("offline queue stalled: dead entries need attention")

// SaleWriter is the slice of the remote contract the queue needs.
// *remote.Client satisfies it; tests substitute a fake.
type SaleWriter interface {
	CreateSale(ctx context.Context, sale models.SaleRecord) error
}

type Queue struct {
	DB      *gorm.DB
	Logger  *logrus.Logger
	Remote  SaleWriter
	ScopeId string

	Retry       RetryStrategy
	MaxAttempts int
	LockTTL     time.Duration

	// OnReplayed fires after an entry is confirmed remotely (including
	// duplicate rejection). main() wires it to the bus and the cache.
	OnReplayed func(sale models.SaleRecord)

	draining atomic.Bool
}

func New(db *gorm.DB, logger *logrus.Logger, rem SaleWriter, scopeId string) *Queue {
	return &Queue{
		DB:          db,
		Logger:      logger,
		Remote:      rem,
		ScopeId:     scopeId,
		Retry:       CappedExponential{Initial: 5 * time.Second, Max: 10 * time.Minute},
		MaxAttempts: 20,
		LockTTL:     30 * time.Second,
	}
}

// Enqueue persists one unconfirmed sale. Called only when the remote is
// known unreachable; returns as soon as the local store has the row.
// Re-enqueueing the same local id is a no-op.
func (q *Queue) Enqueue(ctx context.Context, sale models.SaleRecord) error {
	payload, err := json.Marshal(sale)
	if err != nil {
		return err
	}
	entry := models.PendingWrite{
		LocalId: sale.ID,
		ScopeId: sale.ScopeId,
		Payload: payload,
		Status:  models.PendingWriteStatusPending,
	}
	err = q.DB.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "local_id"}}, DoNothing: true}).
		Create(&entry).Error
	if err != nil {
		return err
	}
	q.gaugeDepth(ctx)
	return nil
}

// Drain replays pending writes sequentially in creation order and stops
// the run on the first failure to avoid reordering. Safe to call from
// several places at once: single-flight within the process, plus a
// best-effort cross-process redis lock.
func (q *Queue) Drain(ctx context.Context) error {
	if !q.draining.CompareAndSwap(false, true) {
		return nil
	}
	defer q.draining.Store(false)

	// The lock is an optimization only; idempotency by local id keeps
	// concurrent drains from two processes correct, just wasteful.
	if locker := config.GetRedisLock(); locker != nil {
		lock, err := locker.Obtain(ctx, "pos:drain:"+q.ScopeId, q.LockTTL, nil)
		if err == nil {
			defer lock.Release(context.Background())
		} else if errors.Is(err, redislock.ErrNotObtained) {
			return nil
		}
	}

	var entries []models.PendingWrite
	err := q.DB.WithContext(ctx).
		Where("status <> ?", models.PendingWriteStatusDead).
		Order("id ASC").
		Find(&entries).Error
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		q.gaugeDepth(ctx)
		return q.stalledErr(ctx)
	}

	now := time.Now().UTC()
	for _, entry := range entries {
		// A head entry still inside its backoff window blocks the rest
		// of the run; skipping it would reorder the replay.
		if entry.NextAttemptAt != nil && entry.NextAttemptAt.After(now) {
			metrics.QueueDrainsTotal.WithLabelValues("deferred").Inc()
			break
		}

		var sale models.SaleRecord
		if err := json.Unmarshal(entry.Payload, &sale); err != nil {
			q.markDead(ctx, entry, fmt.Errorf("corrupt payload: %w", err))
			continue
		}

		writeErr := q.Remote.CreateSale(ctx, sale)
		switch {
		case writeErr == nil, errors.Is(writeErr, remote.ErrDuplicateWrite):
			// QueueReplayConflict counts as success.
			if err := q.DB.WithContext(ctx).Delete(&models.PendingWrite{}, entry.ID).Error; err != nil {
				config.LogError(q.Logger, "queue.go", "Drain", "DeleteReplayed", entry.LocalId, err)
				break
			}
			q.markReplayed(ctx, sale)
		case remote.IsTransient(writeErr):
			q.markFailed(ctx, entry, writeErr)
			metrics.QueueDrainsTotal.WithLabelValues("stopped").Inc()
			q.gaugeDepth(ctx)
			return q.stalledErr(ctx)
		default:
			// Permanent remote rejection can never succeed on retry;
			// it goes DEAD loudly and stops blocking the entries
			// behind it.
			q.markDead(ctx, entry, writeErr)
		}
	}

	metrics.QueueDrainsTotal.WithLabelValues("ok").Inc()
	q.gaugeDepth(ctx)
	return q.stalledErr(ctx)
}

// Depth counts entries still awaiting replay.
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	var n int64
	err := q.DB.WithContext(ctx).Model(&models.PendingWrite{}).
		Where("status <> ?", models.PendingWriteStatusDead).
		Count(&n).Error
	return n, err
}

// Dead returns the stalled entries for the status surface.
func (q *Queue) Dead(ctx context.Context) ([]models.PendingWrite, error) {
	var out []models.PendingWrite
	err := q.DB.WithContext(ctx).
		Where("status = ?", models.PendingWriteStatusDead).
		Order("id ASC").
		Find(&out).Error
	return out, err
}

func (q *Queue) markReplayed(ctx context.Context, sale models.SaleRecord) {
	// The sale is authoritative now; the number loses the offline
	// marker together with the flag.
	sale.BusinessNumber = sequence.CanonicalNumber(sale.BusinessNumber)
	sale.OfflineIssued = false
	sale.RemoteConfirmed = true
	_ = q.DB.WithContext(ctx).Model(&models.SaleRecord{}).
		Where("id = ?", sale.ID).
		Updates(map[string]interface{}{
			"remote_confirmed": true,
			"offline_issued":   false,
			"business_number":  sale.BusinessNumber,
		}).Error
	if q.OnReplayed != nil {
		q.OnReplayed(sale)
	}
}

func (q *Queue) markFailed(ctx context.Context, entry models.PendingWrite, writeErr error) {
	attempts := entry.Attempts + 1
	msg := writeErr.Error()
	if q.MaxAttempts > 0 && attempts >= q.MaxAttempts {
		q.markDead(ctx, entry, fmt.Errorf("max attempts exceeded (%d): %s", q.MaxAttempts, msg))
		return
	}
	next := time.Now().UTC().Add(q.Retry.NextDelay(attempts))
	_ = q.DB.WithContext(ctx).Model(&models.PendingWrite{}).
		Where("id = ?", entry.ID).
		Updates(map[string]interface{}{
			"status":          models.PendingWriteStatusFailed,
			"attempts":        attempts,
			"last_error":      &msg,
			"next_attempt_at": &next,
		}).Error
}

func (q *Queue) markDead(ctx context.Context, entry models.PendingWrite, cause error) {
	msg := cause.Error()
	_ = q.DB.WithContext(ctx).Model(&models.PendingWrite{}).
		Where("id = ?", entry.ID).
		Updates(map[string]interface{}{
			"status":          models.PendingWriteStatusDead,
			"attempts":        entry.Attempts + 1,
			"last_error":      &msg,
			"next_attempt_at": nil,
		}).Error
	if q.Logger != nil {
		q.Logger.WithFields(logrus.Fields{
			"module":   "queue",
			"local_id": entry.LocalId,
			"attempts": entry.Attempts + 1,
		}).Error("pending write moved to DEAD: " + msg)
	}
}

func (q *Queue) stalledErr(ctx context.Context) error {
	var n int64
	if err := q.DB.WithContext(ctx).Model(&models.PendingWrite{}).
		Where("status = ?", models.PendingWriteStatusDead).
		Count(&n).Error; err != nil {
		return err
	}
	if n > 0 {
		return fmt.Errorf("%w (%d entries)", ErrQueueStalled, n)
	}
	return nil
}

func (q *Queue) gaugeDepth(ctx context.Context) {
	if n, err := q.Depth(ctx); err == nil {
		metrics.QueueDepth.Set(float64(n))
	}
}
