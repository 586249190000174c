package actors

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedmesh/internal/broadcast"
	"feedmesh/internal/database"
	"feedmesh/internal/hub"
	"feedmesh/internal/models"
	"feedmesh/internal/stats"
	"feedmesh/internal/utils"
)

// memStore is a map-backed Store; saveErr makes every write fail.
type memStore struct {
	mu      sync.Mutex
	posts   map[string]*models.Post
	saveErr error
}

func newMemStore() *memStore {
	return &memStore{posts: map[string]*models.Post{}}
}

func (m *memStore) SavePost(ctx context.Context, post *models.Post) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.posts[post.ID] = post.Clone()
	return nil
}

func (m *memStore) GetPost(ctx context.Context, id string) (*models.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.posts[id]
	if !ok {
		return nil, utils.NewPostNotFoundError(id)
	}
	return p.Clone(), nil
}

func (m *memStore) UpdatePost(ctx context.Context, id string, mutate func(*models.Post) error) (*models.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.posts[id]
	if !ok {
		return nil, utils.NewPostNotFoundError(id)
	}
	if m.saveErr != nil {
		return nil, m.saveErr
	}
	next := p.Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}
	m.posts[id] = next
	return next.Clone(), nil
}

func (m *memStore) GetRecentPosts(ctx context.Context, limit int) ([]*models.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.Post, 0, len(m.posts))
	for _, p := range m.posts {
		out = append(out, p.Clone())
	}
	return out, nil
}

func (m *memStore) GetPostsByCommunity(ctx context.Context, community string, limit int) ([]*models.Post, error) {
	return m.GetRecentPosts(ctx, limit)
}

func (m *memStore) CountPosts(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.posts), nil
}

func (m *memStore) DeletePostsBefore(ctx context.Context, cutoff int64) (int, error) {
	return 0, nil
}

func (m *memStore) Close(ctx context.Context) error { return nil }

// countingChannel records published events.
type countingChannel struct {
	mu        sync.Mutex
	published []models.Event
}

func (c *countingChannel) Publish(ctx context.Context, ev models.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, ev)
	return nil
}

func (c *countingChannel) OnReceive(h broadcast.Handler) {}

func (c *countingChannel) Close() error { return nil }

func (c *countingChannel) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.published)
}

func spawnMerge(t *testing.T, open StoreOpener, ch broadcast.Channel) (*actor.ActorSystem, *actor.PID, *hub.Hub, chan struct{}) {
	t.Helper()
	system := actor.NewActorSystem()
	h := hub.New(100, nil)
	ready := make(chan struct{})
	var once sync.Once
	cfg := MergeConfig{
		ReplicaID:  "r1",
		Open:       open,
		Channel:    ch,
		Hub:        h,
		Aggregator: stats.NewAggregator(stats.NewPeerTracker(), 1024),
		Metrics:    utils.NewMetricsCollector(),
		Log:        logrus.NewEntry(logrus.New()),
		OnReady:    func() { once.Do(func() { close(ready) }) },
	}
	pid := system.Root.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return NewMergeActor(cfg)
	}))
	t.Cleanup(func() { system.Root.Stop(pid) })
	return system, pid, h, ready
}

func TestMergeActorReadsBeforeStoreReady(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	system, pid, _, _ := spawnMerge(t, func(ctx context.Context) (database.Store, error) {
		<-release
		return newMemStore(), nil
	}, nil)

	result, err := system.Root.RequestFuture(pid, &GetPostMsg{PostID: "p1"}, 2*time.Second).Result()
	require.NoError(t, err)
	assert.True(t, utils.IsErrorCode(result.(error), utils.ErrStoreNotReady))

	result, err = system.Root.RequestFuture(pid, &ApplyLocalMsg{Event: models.VoteEvent{PostID: "p1", Delta: 1}}, 2*time.Second).Result()
	require.NoError(t, err)
	assert.Equal(t, &ApplyResult{}, result)
}

func TestMergeActorAbsorbsStoreErrors(t *testing.T) {
	store := newMemStore()
	store.saveErr = errors.New("disk full")
	ch := &countingChannel{}
	system, pid, h, ready := spawnMerge(t, func(ctx context.Context) (database.Store, error) {
		return store, nil
	}, ch)
	<-ready

	result, err := system.Root.RequestFuture(pid, &ApplyLocalMsg{Event: models.NewPostEvent{Post: &models.Post{ID: "p1", Title: "t"}}}, 2*time.Second).Result()
	require.NoError(t, err)
	res := result.(*ApplyResult)
	assert.False(t, res.Applied)
	assert.False(t, res.Published, "a failed write must not reach other replicas")
	assert.Equal(t, 0, ch.Count())

	assert.Eventually(t, func() bool {
		for _, entry := range h.RecentLogs() {
			if entry.Type == models.LogWarn && strings.Contains(entry.Message, "disk full") {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
}

func TestMergeActorFailedOpenKeepsRejecting(t *testing.T) {
	system, pid, h, _ := spawnMerge(t, func(ctx context.Context) (database.Store, error) {
		return nil, errors.New("permission denied")
	}, nil)

	assert.Eventually(t, func() bool {
		logs := h.RecentLogs()
		return len(logs) > 0 && logs[len(logs)-1].Type == models.LogWarn
	}, time.Second, 10*time.Millisecond)

	result, err := system.Root.RequestFuture(pid, &GetStatsMsg{}, 2*time.Second).Result()
	require.NoError(t, err)
	assert.True(t, utils.IsErrorCode(result.(error), utils.ErrStoreNotReady))
}

func TestMergeActorPublishesMutationOnUnknownPost(t *testing.T) {
	ch := &countingChannel{}
	system, pid, _, ready := spawnMerge(t, func(ctx context.Context) (database.Store, error) {
		return newMemStore(), nil
	}, ch)
	<-ready

	result, err := system.Root.RequestFuture(pid, &ApplyLocalMsg{Event: models.VoteEvent{PostID: "missing", Delta: 1}}, 2*time.Second).Result()
	require.NoError(t, err)
	res := result.(*ApplyResult)
	assert.False(t, res.Applied)
	assert.True(t, res.Published)
	assert.Equal(t, 1, ch.Count())
}
