// Package optimistic applies mutations to in-memory state immediately
// and restores the prior snapshot if the confirming write fails.
// Snapshots are explicit value types owned here — never closures over
// previous state — so rollback is testable in isolation.
package optimistic

import (
	"errors"
	"sync"
	"time"

	"github.com/mmdatafocus/pos_engine/models"
	"github.com/sirupsen/logrus"
)

var (
	// ErrSnapshotHeld: one snapshot per logical entity at a time.
	// Serializing concurrent mutations to the same entity is the
	// caller's job; this is the backstop.
	ErrSnapshotHeld = errors.New("mutation already in flight for entity")

	// ErrRolledBack tells the operator the action did not take effect.
	ErrRolledBack = errors.New("action did not take effect: state restored")
)

// Snapshot captures the exact pre-mutation state of one entity.
type Snapshot struct {
	EntityId string
	TakenAt  time.Time

	prior   models.SaleRecord
	existed bool
}

type Reconciler struct {
	Logger *logrus.Logger

	cache *Cache
	mu    sync.Mutex
	held  map[string]Snapshot
}

func NewReconciler(logger *logrus.Logger, cache *Cache) *Reconciler {
	return &Reconciler{Logger: logger, cache: cache, held: map[string]Snapshot{}}
}

func (r *Reconciler) Cache() *Cache { return r.cache }

// Holds reports whether a snapshot is in flight for the entity. The
// cache uses it to protect optimistic entries from refetch replacement.
func (r *Reconciler) Holds(entityId string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.held[entityId]
	return ok
}

// Handle resolves one optimistic mutation: Commit discards the
// snapshot, Rollback restores it exactly.
type Handle struct {
	r        *Reconciler
	snapshot Snapshot
	done     bool
	mu       sync.Mutex
}

// Apply snapshots the entity, runs mutate against a working copy and
// installs the result in the cache synchronously. The caller performs
// the real write afterwards and resolves the handle.
func (r *Reconciler) Apply(entityId string, mutate func(*models.SaleRecord)) (*Handle, error) {
	r.mu.Lock()
	if _, ok := r.held[entityId]; ok {
		r.mu.Unlock()
		return nil, ErrSnapshotHeld
	}
	prior, existed := r.cache.Get(entityId)
	snap := Snapshot{
		EntityId: entityId,
		TakenAt:  time.Now(),
		prior:    prior.Clone(),
		existed:  existed,
	}
	r.held[entityId] = snap
	r.mu.Unlock()

	working := prior.Clone()
	if !existed {
		working = models.SaleRecord{ID: entityId}
	}
	mutate(&working)
	working.ID = entityId
	r.cache.Put(working)

	return &Handle{r: r, snapshot: snap}, nil
}

// Commit confirms the write succeeded and discards the snapshot.
func (h *Handle) Commit() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.done {
		return
	}
	h.done = true
	h.r.release(h.snapshot.EntityId)
}

// Rollback restores the observable state to exactly what it was before
// Apply. Returns ErrRolledBack for the caller to surface.
func (h *Handle) Rollback() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.done {
		return nil
	}
	h.done = true
	if h.snapshot.existed {
		h.r.cache.Put(h.snapshot.prior)
	} else {
		h.r.cache.Delete(h.snapshot.EntityId)
	}
	h.r.release(h.snapshot.EntityId)
	if h.r.Logger != nil {
		h.r.Logger.WithFields(logrus.Fields{
			"module":    "optimistic",
			"entity_id": h.snapshot.EntityId,
		}).Warn("optimistic mutation rolled back")
	}
	return ErrRolledBack
}

func (r *Reconciler) release(entityId string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.held, entityId)
}
