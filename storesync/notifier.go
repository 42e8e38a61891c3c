package storesync

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/mmdatafocus/pos_engine/bus"
	"github.com/mmdatafocus/pos_engine/remote"
	"github.com/sirupsen/logrus"
)

// Notifier subscribes every notification source and funnels each event
// into the coordinator as one SyncSignal. No filtering happens here —
// deduplication is the coordinator's job. Sources, fastest first:
// local bus (~0), realtime channel (<1s), row-change feed (seconds),
// fixed-interval poll (fallback of last resort).
type Notifier struct {
	Logger  *logrus.Logger
	Coord   *Coordinator
	Bus     *bus.Registry
	Client  *remote.Client
	ScopeId string

	// PollInterval drives the fallback timer; it fires even when every
	// other channel is dead.
	PollInterval time.Duration

	unsubscribe func()
	scheduler   *gocron.Scheduler
	cancel      context.CancelFunc
}

func NewNotifier(logger *logrus.Logger, coord *Coordinator, reg *bus.Registry, client *remote.Client, scopeId string) *Notifier {
	return &Notifier{
		Logger:       logger,
		Coord:        coord,
		Bus:          reg,
		Client:       client,
		ScopeId:      scopeId,
		PollInterval: 30 * time.Second,
	}
}

func (n *Notifier) Start(ctx context.Context) error {
	ctx, n.cancel = context.WithCancel(ctx)

	n.unsubscribe = n.Bus.Subscribe(func(ev bus.Event) {
		n.Coord.Notify(SyncSignal{Source: SourceLocalBus, EntityId: ev.EntityId, At: ev.At})
	})

	listener := &remote.RealtimeListener{
		Logger:  n.Logger,
		ScopeId: n.ScopeId,
		OnEvent: func(ev remote.ChangeEvent) {
			n.Coord.Notify(SyncSignal{Source: SourceRealtime, EntityId: ev.EntityId, At: ev.At})
		},
	}
	go listener.Run(ctx)

	poller := remote.NewFeedPoller(n.Client, n.Logger, n.ScopeId, func(ch remote.Change) {
		n.Coord.Notify(SyncSignal{Source: SourceChangeFeed, EntityId: ch.EntityId, At: time.Now()})
	})
	go poller.Run(ctx)

	n.scheduler = gocron.NewScheduler(time.UTC)
	_, err := n.scheduler.Every(n.PollInterval).Do(func() {
		n.Coord.Notify(SyncSignal{Source: SourcePoll, EntityId: WildcardEntity, At: time.Now()})
	})
	if err != nil {
		return err
	}
	n.scheduler.StartAsync()
	return nil
}

func (n *Notifier) Stop() {
	if n.unsubscribe != nil {
		n.unsubscribe()
	}
	if n.scheduler != nil {
		n.scheduler.Stop()
	}
	if n.cancel != nil {
		n.cancel()
	}
}
