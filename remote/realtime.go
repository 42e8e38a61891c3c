package remote

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mmdatafocus/pos_engine/config"
	"github.com/sirupsen/logrus"
)

// ChangeEvent is the payload on the low-latency channel. The remote
// store publishes one per committed row change; sibling devices see it
// in well under a second.
type ChangeEvent struct {
	Event    string    `json:"event"`
	ScopeId  string    `json:"scope_id"`
	EntityId string    `json:"entity_id"`
	At       time.Time `json:"at"`
}

// ChannelFor names the realtime channel for one scope.
func ChannelFor(scopeId string) string {
	return "pos:changes:" + scopeId
}

// PublishChange mirrors a locally confirmed write onto the channel so
// sibling devices refetch without waiting for the row-change feed.
// Best-effort; the feed and the fallback poll cover a lost publish.
func PublishChange(ctx context.Context, ev ChangeEvent) error {
	rdb := config.GetRedisDB()
	if rdb == nil {
		return nil
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return rdb.Publish(ctx, ChannelFor(ev.ScopeId), raw).Err()
}

// RealtimeListener subscribes to the scope's channel and hands every
// event to OnEvent. It reconnects forever with capped backoff; while
// disconnected the slower channels keep the device converging.
type RealtimeListener struct {
	Logger  *logrus.Logger
	ScopeId string
	OnEvent func(ChangeEvent)
}

func (l *RealtimeListener) Run(ctx context.Context) {
	var attempt int
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		rdb := config.GetRedisDB()
		if rdb == nil {
			// Redis not connected yet; main() connects it async.
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		attempt++
		sub := rdb.Subscribe(ctx, ChannelFor(l.ScopeId))
		ch := sub.Channel()
	receive:
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break receive
				}
				attempt = 0
				var ev ChangeEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					config.LogError(l.Logger, "realtime.go", "Run", "Unmarshal", msg.Payload, err)
					continue
				}
				l.OnEvent(ev)
			}
		}
		_ = sub.Close()

		sleep := time.Second * time.Duration(1<<min(attempt, 5))
		if sleep > 30*time.Second {
			sleep = 30 * time.Second
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(sleep):
		}
	}
}
