// Package hub fans replica state out to presentation observers.
//
// Three observer classes are independent: feed observers receive the
// recomputed recent-posts window, log observers receive one LogEntry at a
// time, stats observers receive one NetworkStats snapshot at a time. Within a
// class observers run synchronously in registration order.
package hub

import (
	"sync"

	"github.com/emirpasic/gods/maps/linkedhashmap"
	"github.com/emirpasic/gods/queues/circularbuffer"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"feedmesh/internal/logger"
	"feedmesh/internal/models"
)

// FeedObserver receives the current window, newest first. The slice is
// shared between observers and must not be modified. An observer must not
// subscribe or publish feed updates from inside the call.
type FeedObserver func(posts []*models.Post)

type LogObserver func(entry models.LogEntry)

type StatsObserver func(stats models.NetworkStats)

// Hub owns the subscription registries and the bounded log ring.
type Hub struct {
	mu sync.Mutex

	// Held while a snapshot or an update is delivered, so an observer
	// never sees an older window after a newer one.
	feedDelivery  sync.Mutex
	statsDelivery sync.Mutex

	// subscription id -> observer, iterated in insertion order
	feed  *linkedhashmap.Map
	logs  *linkedhashmap.Map
	stats *linkedhashmap.Map

	ring      *circularbuffer.Queue
	lastFeed  []*models.Post
	lastStats *models.NetworkStats

	log *logrus.Entry
}

// New creates a hub whose log ring keeps the last logCapacity entries.
func New(logCapacity int, log *logrus.Entry) *Hub {
	if logCapacity <= 0 {
		logCapacity = 100
	}
	return &Hub{
		feed:     linkedhashmap.New(),
		logs:     linkedhashmap.New(),
		stats:    linkedhashmap.New(),
		ring:     circularbuffer.New(logCapacity),
		lastFeed: make([]*models.Post, 0),
		log:      logger.OrDefault(log),
	}
}

// SubscribeFeed registers fn and immediately hands it the current window.
func (h *Hub) SubscribeFeed(fn FeedObserver) (unsubscribe func()) {
	h.feedDelivery.Lock()
	defer h.feedDelivery.Unlock()

	h.mu.Lock()
	id := uuid.New()
	h.feed.Put(id, fn)
	snapshot := h.lastFeed
	h.mu.Unlock()

	h.safely("feed", func() { fn(snapshot) })
	return h.remover(h.feed, id)
}

// SubscribeLogs registers fn for entries produced from now on.
func (h *Hub) SubscribeLogs(fn LogObserver) (unsubscribe func()) {
	h.mu.Lock()
	id := uuid.New()
	h.logs.Put(id, fn)
	h.mu.Unlock()
	return h.remover(h.logs, id)
}

// SubscribeStats registers fn and hands it the last snapshot, if any.
func (h *Hub) SubscribeStats(fn StatsObserver) (unsubscribe func()) {
	h.statsDelivery.Lock()
	defer h.statsDelivery.Unlock()

	h.mu.Lock()
	id := uuid.New()
	h.stats.Put(id, fn)
	last := h.lastStats
	h.mu.Unlock()

	if last != nil {
		h.safely("stats", func() { fn(*last) })
	}
	return h.remover(h.stats, id)
}

// PublishFeed records posts as the current window and notifies feed observers.
func (h *Hub) PublishFeed(posts []*models.Post) {
	if posts == nil {
		posts = make([]*models.Post, 0)
	}
	h.feedDelivery.Lock()
	defer h.feedDelivery.Unlock()

	h.mu.Lock()
	h.lastFeed = posts
	observers := h.feed.Values()
	h.mu.Unlock()

	for _, o := range observers {
		fn := o.(FeedObserver)
		h.safely("feed", func() { fn(posts) })
	}
}

// PublishLog appends entry to the ring and notifies log observers.
func (h *Hub) PublishLog(entry models.LogEntry) {
	h.mu.Lock()
	h.ring.Enqueue(entry)
	observers := h.logs.Values()
	h.mu.Unlock()

	for _, o := range observers {
		fn := o.(LogObserver)
		h.safely("log", func() { fn(entry) })
	}
}

// PublishStats records stats as the latest snapshot and notifies observers.
func (h *Hub) PublishStats(stats models.NetworkStats) {
	h.statsDelivery.Lock()
	defer h.statsDelivery.Unlock()

	h.mu.Lock()
	h.lastStats = &stats
	observers := h.stats.Values()
	h.mu.Unlock()

	for _, o := range observers {
		fn := o.(StatsObserver)
		h.safely("stats", func() { fn(stats) })
	}
}

// RecentLogs returns the ring contents, oldest first.
func (h *Hub) RecentLogs() []models.LogEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	values := h.ring.Values()
	out := make([]models.LogEntry, 0, len(values))
	for _, v := range values {
		out = append(out, v.(models.LogEntry))
	}
	return out
}

// Feed returns the last published window.
func (h *Hub) Feed() []*models.Post {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastFeed
}

// Counts reports the number of feed, log and stats observers.
func (h *Hub) Counts() (feed, logs, stats int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.feed.Size(), h.logs.Size(), h.stats.Size()
}

// Close drops every subscription. Unsubscribe funcs stay safe to call.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.feed.Clear()
	h.logs.Clear()
	h.stats.Clear()
}

func (h *Hub) remover(m *linkedhashmap.Map, id uuid.UUID) func() {
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		m.Remove(id)
	}
}

// safely runs one observer; a panicking observer is logged and skipped.
func (h *Hub) safely(class string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			h.log.WithField("class", class).Errorf("Observer panicked: %v", r)
		}
	}()
	fn()
}
