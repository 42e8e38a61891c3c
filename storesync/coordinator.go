// Package storesync converts change notifications from every available
// channel into at most one authoritative refetch per cooldown window.
package storesync

import (
	"context"
	"sync"
	"time"

	"github.com/mmdatafocus/pos_engine/config"
	"github.com/mmdatafocus/pos_engine/metrics"
	"github.com/sirupsen/logrus"
)

type Source string

const (
	SourceLocalBus   Source = "local_bus"
	SourceRealtime   Source = "realtime"
	SourceChangeFeed Source = "change_feed"
	SourcePoll       Source = "poll"
	SourceManual     Source = "manual"
)

// WildcardEntity signals "anything may have changed".
const WildcardEntity = "*"

// SyncSignal is ephemeral: sources create it, the coordinator consumes
// and discards it. Sources race; no ordering is guaranteed.
type SyncSignal struct {
	Source   Source
	EntityId string
	At       time.Time
}

// RefetchFunc pulls the authoritative state. loud refetches show a
// loading indicator on the status surface; background ones are silent.
type RefetchFunc func(ctx context.Context, loud bool) error

// Coordinator debounces signal bursts: one scheduled refetch per
// DebounceWindow, a MinSpacing hard floor between executed refetches,
// at most one in flight, and exactly one follow-up when a signal lands
// mid-refetch.
type Coordinator struct {
	Logger  *logrus.Logger
	Refetch RefetchFunc

	DebounceWindow time.Duration
	MinSpacing     time.Duration

	mu           sync.Mutex
	timer        *time.Timer
	scheduled    bool
	inFlight     bool
	followUp     bool
	followUpLoud bool
	lastStarted  time.Time
	degraded     bool
}

func NewCoordinator(logger *logrus.Logger, refetch RefetchFunc) *Coordinator {
	return &Coordinator{
		Logger:         logger,
		Refetch:        refetch,
		DebounceWindow: 50 * time.Millisecond,
		MinSpacing:     500 * time.Millisecond,
	}
}

// Notify schedules a silent refetch unless one is already scheduled in
// the active window. A signal arriving mid-refetch books exactly one
// follow-up instead.
func (c *Coordinator) Notify(sig SyncSignal) {
	metrics.SyncSignalsTotal.WithLabelValues(string(sig.Source)).Inc()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.inFlight {
		c.followUp = true
		return
	}
	if c.scheduled {
		return
	}
	c.scheduleLocked(c.delayLocked(), false)
}

// ForceRefetch bypasses the debounce window and the spacing floor. An
// in-flight refetch cannot be cancelled; the forced one runs
// immediately after it completes.
func (c *Coordinator) ForceRefetch() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.inFlight {
		c.followUp = true
		c.followUpLoud = true
		return
	}
	if c.timer != nil {
		c.timer.Stop()
	}
	c.scheduleLocked(0, true)
}

// ConnectivityDegraded reports whether the last refetch failed. The
// next signal or poll tick clears it naturally on success.
func (c *Coordinator) ConnectivityDegraded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.degraded
}

func (c *Coordinator) delayLocked() time.Duration {
	delay := c.DebounceWindow
	if !c.lastStarted.IsZero() {
		if until := time.Until(c.lastStarted.Add(c.MinSpacing)); until > delay {
			delay = until
		}
	}
	return delay
}

func (c *Coordinator) scheduleLocked(delay time.Duration, loud bool) {
	c.scheduled = true
	c.timer = time.AfterFunc(delay, func() { c.execute(loud) })
}

func (c *Coordinator) execute(loud bool) {
	c.mu.Lock()
	if c.inFlight {
		// Lost the race with a timer that fired before it was stopped;
		// fold into a follow-up instead of running two at once.
		c.followUp = true
		c.followUpLoud = c.followUpLoud || loud
		c.mu.Unlock()
		return
	}
	c.scheduled = false
	c.inFlight = true
	c.lastStarted = time.Now()
	c.mu.Unlock()

	ctx := context.Background()
	err := c.Refetch(ctx, loud)

	c.mu.Lock()
	c.inFlight = false
	if err != nil {
		// Surface a recoverable connectivity indicator; no synchronous
		// retry — the next tick or signal retries naturally.
		c.degraded = true
		metrics.RefetchesTotal.WithLabelValues("failed").Inc()
		config.LogError(c.Logger, "coordinator.go", "execute", "Refetch", loud, err)
	} else {
		c.degraded = false
		metrics.RefetchesTotal.WithLabelValues("ok").Inc()
	}
	if c.followUp {
		c.followUp = false
		followLoud := c.followUpLoud
		c.followUpLoud = false
		c.scheduleLocked(c.delayLocked(), followLoud)
	}
	c.mu.Unlock()
}
