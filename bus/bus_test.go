package bus

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry() *Registry {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	r := NewRegistry(logger)
	r.Open()
	return r
}

func TestPublishReachesAllSubscribers(t *testing.T) {
	r := newTestRegistry()

	var got []string
	r.Subscribe(func(ev Event) { got = append(got, "a:"+ev.EntityId) })
	r.Subscribe(func(ev Event) { got = append(got, "b:"+ev.EntityId) })

	r.Publish(Event{Channel: "sales", Type: "changed", EntityId: "s1", At: time.Now()})

	require.Len(t, got, 2)
	assert.Contains(t, got, "a:s1")
	assert.Contains(t, got, "b:s1")
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	r := newTestRegistry()

	count := 0
	unsubscribe := r.Subscribe(func(Event) { count++ })

	r.Publish(Event{Channel: "sales", Type: "changed", EntityId: "s1"})
	unsubscribe()
	r.Publish(Event{Channel: "sales", Type: "changed", EntityId: "s2"})

	assert.Equal(t, 1, count)
}

func TestPublishOnClosedRegistryIsNoOp(t *testing.T) {
	r := newTestRegistry()

	count := 0
	r.Subscribe(func(Event) { count++ })
	r.Close()

	r.Publish(Event{Channel: "sales", Type: "changed", EntityId: "s1"})
	assert.Zero(t, count)
}

func TestPanickingSubscriberIsIsolated(t *testing.T) {
	r := newTestRegistry()

	delivered := false
	r.Subscribe(func(Event) { panic("boom") })
	r.Subscribe(func(Event) { delivered = true })

	require.NotPanics(t, func() {
		r.Publish(Event{Channel: "sales", Type: "changed", EntityId: "s1"})
	})
	assert.True(t, delivered)
}

func TestSubscriberAddedAfterPublishMissesEvent(t *testing.T) {
	r := newTestRegistry()

	r.Publish(Event{Channel: "sales", Type: "changed", EntityId: "s1"})

	count := 0
	r.Subscribe(func(Event) { count++ })
	assert.Zero(t, count)
}
