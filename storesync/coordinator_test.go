package storesync

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type refetchRecorder struct {
	mu      sync.Mutex
	calls   int32
	louds   []bool
	block   chan struct{}
	failing atomic.Bool
}

func (r *refetchRecorder) fn(ctx context.Context, loud bool) error {
	atomic.AddInt32(&r.calls, 1)
	r.mu.Lock()
	r.louds = append(r.louds, loud)
	r.mu.Unlock()
	if r.block != nil {
		<-r.block
	}
	if r.failing.Load() {
		return errors.New("refetch failed")
	}
	return nil
}

func (r *refetchRecorder) count() int32 { return atomic.LoadInt32(&r.calls) }

func newTestCoordinator(rec *refetchRecorder) *Coordinator {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	c := NewCoordinator(logger, rec.fn)
	c.DebounceWindow = 10 * time.Millisecond
	c.MinSpacing = 50 * time.Millisecond
	return c
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestBurstCollapsesToOneRefetch(t *testing.T) {
	rec := &refetchRecorder{}
	c := newTestCoordinator(rec)

	for i := 0; i < 20; i++ {
		c.Notify(SyncSignal{Source: SourceLocalBus, EntityId: "s1", At: time.Now()})
	}

	waitFor(t, func() bool { return rec.count() == 1 })
	time.Sleep(3 * c.DebounceWindow)
	assert.Equal(t, int32(1), rec.count(), "a burst inside one window runs exactly one refetch")
	assert.False(t, rec.louds[0], "signal-driven refetches are silent")
}

func TestSignalDuringRefetchBooksExactlyOneFollowUp(t *testing.T) {
	rec := &refetchRecorder{block: make(chan struct{})}
	c := newTestCoordinator(rec)

	c.Notify(SyncSignal{Source: SourceRealtime, EntityId: "s1", At: time.Now()})
	waitFor(t, func() bool { return rec.count() == 1 })

	// Several signals land while the refetch is in flight.
	for i := 0; i < 5; i++ {
		c.Notify(SyncSignal{Source: SourceChangeFeed, EntityId: "s2", At: time.Now()})
	}
	close(rec.block) // closed channel: later refetches pass straight through

	waitFor(t, func() bool { return rec.count() == 2 })
	time.Sleep(3 * c.MinSpacing)
	assert.Equal(t, int32(2), rec.count(), "exactly one follow-up, not one per signal")
}

func TestForceRefetchIsLoudAndImmediate(t *testing.T) {
	rec := &refetchRecorder{}
	c := newTestCoordinator(rec)

	c.ForceRefetch()
	waitFor(t, func() bool { return rec.count() == 1 })

	rec.mu.Lock()
	loud := rec.louds[0]
	rec.mu.Unlock()
	assert.True(t, loud)
}

func TestForceRefetchDuringInFlightRunsLoudFollowUp(t *testing.T) {
	rec := &refetchRecorder{block: make(chan struct{})}
	c := newTestCoordinator(rec)

	c.Notify(SyncSignal{Source: SourcePoll, EntityId: WildcardEntity, At: time.Now()})
	waitFor(t, func() bool { return rec.count() == 1 })

	c.ForceRefetch()
	close(rec.block) // closed channel: later refetches pass straight through

	waitFor(t, func() bool { return rec.count() == 2 })
	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.True(t, rec.louds[1], "forced refetch stays loud when folded into a follow-up")
}

func TestMinSpacingFloorBetweenRefetches(t *testing.T) {
	rec := &refetchRecorder{}
	c := newTestCoordinator(rec)

	c.Notify(SyncSignal{Source: SourceLocalBus, EntityId: "s1", At: time.Now()})
	waitFor(t, func() bool { return rec.count() == 1 })
	started := time.Now()

	c.Notify(SyncSignal{Source: SourceLocalBus, EntityId: "s2", At: time.Now()})
	waitFor(t, func() bool { return rec.count() == 2 })

	elapsed := time.Since(started)
	assert.GreaterOrEqual(t, elapsed, c.MinSpacing-c.DebounceWindow,
		"second refetch must wait out the spacing floor")
}

func TestFailedRefetchSetsDegradedAndRecovers(t *testing.T) {
	rec := &refetchRecorder{}
	rec.failing.Store(true)
	c := newTestCoordinator(rec)

	c.Notify(SyncSignal{Source: SourcePoll, EntityId: WildcardEntity, At: time.Now()})
	waitFor(t, func() bool { return rec.count() == 1 })
	waitFor(t, c.ConnectivityDegraded)

	// The next signal retries naturally and clears the indicator.
	rec.failing.Store(false)
	time.Sleep(c.MinSpacing)
	c.Notify(SyncSignal{Source: SourcePoll, EntityId: WildcardEntity, At: time.Now()})
	waitFor(t, func() bool { return rec.count() == 2 })
	waitFor(t, func() bool { return !c.ConnectivityDegraded() })
}

func TestNoRefetchWithoutSignal(t *testing.T) {
	rec := &refetchRecorder{}
	newTestCoordinator(rec)

	time.Sleep(50 * time.Millisecond)
	require.Zero(t, rec.count())
}
