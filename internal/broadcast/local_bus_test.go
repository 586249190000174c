package broadcast

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedmesh/internal/models"
)

type recorder struct {
	mu     sync.Mutex
	events []models.Event
}

func (r *recorder) handle(ev models.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) snapshot() []models.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Event(nil), r.events...)
}

func (r *recorder) len() int {
	return len(r.snapshot())
}

func TestLocalBusExcludesPublisher(t *testing.T) {
	bus := NewLocalBus(nil)
	a, b, c := bus.Join("a"), bus.Join("b"), bus.Join("c")
	defer a.Close()
	defer b.Close()
	defer c.Close()

	var ra, rb, rc recorder
	a.OnReceive(ra.handle)
	b.OnReceive(rb.handle)
	c.OnReceive(rc.handle)

	require.NoError(t, a.Publish(context.Background(), models.VoteEvent{PostID: "p1", Delta: 1}))

	assert.Eventually(t, func() bool { return rb.len() == 1 && rc.len() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, ra.len())
	assert.Equal(t, models.VoteEvent{PostID: "p1", Delta: 1}, rb.snapshot()[0])
}

func TestLocalBusPreservesSenderOrder(t *testing.T) {
	bus := NewLocalBus(nil)
	a, b := bus.Join("a"), bus.Join("b")
	defer a.Close()
	defer b.Close()

	var rb recorder
	b.OnReceive(rb.handle)

	for i := 0; i < 20; i++ {
		require.NoError(t, a.Publish(context.Background(), models.PingEvent{Count: i}))
	}

	require.Eventually(t, func() bool { return rb.len() == 20 }, time.Second, 5*time.Millisecond)
	for i, ev := range rb.snapshot() {
		assert.Equal(t, models.PingEvent{Count: i}, ev)
	}
}

func TestLocalBusDisconnectedMemberMissesEvents(t *testing.T) {
	bus := NewLocalBus(nil)
	a, b := bus.Join("a"), bus.Join("b")
	defer a.Close()
	defer b.Close()

	var rb recorder
	b.OnReceive(rb.handle)

	b.SetConnected(false)
	require.NoError(t, a.Publish(context.Background(), models.PingEvent{Count: 1}))
	time.Sleep(20 * time.Millisecond)
	b.SetConnected(true)

	require.NoError(t, a.Publish(context.Background(), models.PingEvent{Count: 2}))
	require.Eventually(t, func() bool { return rb.len() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, models.PingEvent{Count: 2}, rb.snapshot()[0])
}

func TestLocalBusClosedMember(t *testing.T) {
	bus := NewLocalBus(nil)
	a := bus.Join("a")
	b := bus.Join("b")
	defer b.Close()

	require.NoError(t, a.Close())
	assert.Equal(t, 1, bus.Size())
	assert.Error(t, a.Publish(context.Background(), models.PingEvent{Count: 1}))
	assert.NoError(t, a.Close())
}

func TestLocalBusWithoutHandlerDrops(t *testing.T) {
	bus := NewLocalBus(nil)
	a, b := bus.Join("a"), bus.Join("b")
	defer a.Close()
	defer b.Close()

	require.NoError(t, a.Publish(context.Background(), models.PingEvent{Count: 1}))
	assert.Eventually(t, func() bool { return b.Dropped() == 1 }, time.Second, 5*time.Millisecond)
}
