package broadcast

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"feedmesh/internal/logger"
	"feedmesh/internal/models"
	"feedmesh/internal/utils"
)

const memberInboxSize = 256

// LocalBus is an in-process broadcast scope. Every member runs its own
// delivery goroutine, so events from one sender reach a given receiver in
// publish order, and a slow receiver only drops its own messages.
type LocalBus struct {
	mu      sync.RWMutex
	members map[*BusMember]struct{}
	log     *logrus.Entry
}

func NewLocalBus(log *logrus.Entry) *LocalBus {
	return &LocalBus{
		members: make(map[*BusMember]struct{}),
		log:     logger.OrDefault(log),
	}
}

// Join adds a new member to the scope.
func (b *LocalBus) Join(name string) *BusMember {
	m := &BusMember{
		name:  name,
		bus:   b,
		inbox: make(chan []byte, memberInboxSize),
		done:  make(chan struct{}),
	}
	m.connected.Store(true)

	b.mu.Lock()
	b.members[m] = struct{}{}
	b.mu.Unlock()

	go m.deliver()
	return m
}

// Size is the number of members that have not closed.
func (b *LocalBus) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.members)
}

// send fills every inbox before the next publish starts, so an event a
// receiver reacts to is always queued ahead of the reaction everywhere.
func (b *LocalBus) send(from *BusMember, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for m := range b.members {
		if m == from || !m.connected.Load() {
			continue
		}
		select {
		case m.inbox <- data:
		default:
			m.dropped.Add(1)
			b.log.WithField("member", m.name).Warn("Bus inbox full, message dropped")
		}
	}
}

func (b *LocalBus) leave(m *BusMember) {
	b.mu.Lock()
	delete(b.members, m)
	b.mu.Unlock()
}

// BusMember is one replica's Channel on a LocalBus.
type BusMember struct {
	name string
	bus  *LocalBus

	inbox chan []byte
	done  chan struct{}
	once  sync.Once

	mu      sync.RWMutex
	handler Handler

	connected atomic.Bool
	dropped   atomic.Uint64
}

var _ Channel = (*BusMember)(nil)

func (m *BusMember) Name() string { return m.name }

func (m *BusMember) Publish(ctx context.Context, ev models.Event) error {
	select {
	case <-m.done:
		return utils.NewAppError(utils.ErrChannelClosed, "Bus member closed: "+m.name, nil)
	default:
	}
	if !m.connected.Load() {
		m.dropped.Add(1)
		return nil
	}

	data, err := Encode(ev)
	if err != nil {
		return err
	}
	m.bus.send(m, data)
	return nil
}

func (m *BusMember) OnReceive(h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = h
}

// SetConnected takes the member off the bus without closing it. While
// disconnected it neither sends nor receives, and missed events are gone.
func (m *BusMember) SetConnected(connected bool) {
	m.connected.Store(connected)
}

func (m *BusMember) Connected() bool {
	return m.connected.Load()
}

// Dropped counts events this member failed to send or receive.
func (m *BusMember) Dropped() uint64 {
	return m.dropped.Load()
}

func (m *BusMember) Close() error {
	m.once.Do(func() {
		m.bus.leave(m)
		close(m.done)
	})
	return nil
}

func (m *BusMember) deliver() {
	for {
		select {
		case <-m.done:
			return
		case data := <-m.inbox:
			ev, err := Decode(data)
			if err != nil {
				m.bus.log.WithError(err).WithField("member", m.name).Warn("Dropping undecodable message")
				continue
			}
			m.mu.RLock()
			h := m.handler
			m.mu.RUnlock()
			if h == nil {
				m.dropped.Add(1)
				continue
			}
			h(ev)
		}
	}
}
