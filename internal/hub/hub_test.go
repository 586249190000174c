package hub

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedmesh/internal/models"
)

func TestFeedObserversRunInRegistrationOrder(t *testing.T) {
	h := New(10, nil)
	var calls []string

	h.SubscribeFeed(func([]*models.Post) { calls = append(calls, "first") })
	h.SubscribeFeed(func([]*models.Post) { calls = append(calls, "second") })
	h.SubscribeFeed(func([]*models.Post) { calls = append(calls, "third") })
	calls = nil

	h.PublishFeed([]*models.Post{{ID: "p1"}})
	assert.Equal(t, []string{"first", "second", "third"}, calls)
}

func TestLateFeedSubscriberGetsSnapshot(t *testing.T) {
	h := New(10, nil)

	var initial []*models.Post
	h.SubscribeFeed(func(posts []*models.Post) { initial = posts })
	require.NotNil(t, initial)
	assert.Empty(t, initial)

	h.PublishFeed([]*models.Post{{ID: "p1", Votes: 1}})

	var late []*models.Post
	h.SubscribeFeed(func(posts []*models.Post) { late = posts })
	require.Len(t, late, 1)
	assert.Equal(t, "p1", late[0].ID)
}

func TestSnapshotIsNeverDeliveredAfterNewerWindow(t *testing.T) {
	h := New(10, nil)
	h.PublishFeed([]*models.Post{{ID: "old"}})

	var (
		mu   sync.Mutex
		seen []string
	)
	entered := make(chan struct{})
	release := make(chan struct{})
	first := true
	go h.SubscribeFeed(func(posts []*models.Post) {
		if first {
			first = false
			close(entered)
			<-release
		}
		mu.Lock()
		seen = append(seen, posts[0].ID)
		mu.Unlock()
	})
	<-entered

	published := make(chan struct{})
	go func() {
		h.PublishFeed([]*models.Post{{ID: "new"}})
		close(published)
	}()

	select {
	case <-published:
		t.Fatal("update delivered while the snapshot was still in flight")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	<-published

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"old", "new"}, seen)
	assert.Equal(t, "new", h.Feed()[0].ID)
}

func TestStatsSnapshotIsNeverDeliveredAfterNewerOne(t *testing.T) {
	h := New(10, nil)
	h.PublishStats(models.NetworkStats{PeerCount: 1})

	var (
		mu   sync.Mutex
		seen []int
	)
	entered := make(chan struct{})
	release := make(chan struct{})
	first := true
	go h.SubscribeStats(func(stats models.NetworkStats) {
		if first {
			first = false
			close(entered)
			<-release
		}
		mu.Lock()
		seen = append(seen, stats.PeerCount)
		mu.Unlock()
	})
	<-entered

	published := make(chan struct{})
	go func() {
		h.PublishStats(models.NetworkStats{PeerCount: 3})
		close(published)
	}()
	time.Sleep(20 * time.Millisecond)
	close(release)
	<-published

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 3}, seen)
}

func TestLogSubscriberGetsNothingRetroactive(t *testing.T) {
	h := New(10, nil)
	h.PublishLog(models.NewLogEntry(models.LogInfo, "before"))

	var got []string
	h.SubscribeLogs(func(e models.LogEntry) { got = append(got, e.Message) })
	assert.Empty(t, got)

	h.PublishLog(models.NewLogEntry(models.LogSync, "after"))
	assert.Equal(t, []string{"after"}, got)
}

func TestStatsSubscriberGetsLastSnapshot(t *testing.T) {
	h := New(10, nil)

	calls := 0
	h.SubscribeStats(func(models.NetworkStats) { calls++ })
	assert.Equal(t, 0, calls, "no snapshot exists yet")

	h.PublishStats(models.NetworkStats{PeerCount: 3, TotalPosts: 2})

	var late models.NetworkStats
	h.SubscribeStats(func(s models.NetworkStats) { late = s })
	assert.Equal(t, 3, late.PeerCount)
	assert.Equal(t, 1, calls)
}

func TestUnsubscribe(t *testing.T) {
	h := New(10, nil)

	calls := 0
	unsubscribe := h.SubscribeLogs(func(models.LogEntry) { calls++ })
	h.PublishLog(models.NewLogEntry(models.LogInfo, "one"))
	unsubscribe()
	unsubscribe()
	h.PublishLog(models.NewLogEntry(models.LogInfo, "two"))

	assert.Equal(t, 1, calls)
	_, logs, _ := h.Counts()
	assert.Equal(t, 0, logs)
}

func TestLogRingKeepsMostRecent(t *testing.T) {
	h := New(3, nil)
	for i := 0; i < 5; i++ {
		h.PublishLog(models.NewLogEntry(models.LogInfo, fmt.Sprintf("m%d", i)))
	}

	entries := h.RecentLogs()
	require.Len(t, entries, 3)
	assert.Equal(t, "m2", entries[0].Message)
	assert.Equal(t, "m4", entries[2].Message)
}

func TestPanickingObserverDoesNotStopOthers(t *testing.T) {
	h := New(10, nil)

	reached := false
	h.SubscribeStats(func(models.NetworkStats) { panic("boom") })
	h.SubscribeStats(func(models.NetworkStats) { reached = true })

	assert.NotPanics(t, func() { h.PublishStats(models.NetworkStats{PeerCount: 1}) })
	assert.True(t, reached)
}

func TestClose(t *testing.T) {
	h := New(10, nil)
	unsubscribe := h.SubscribeFeed(func([]*models.Post) {})
	h.SubscribeLogs(func(models.LogEntry) {})
	h.SubscribeStats(func(models.NetworkStats) {})

	h.Close()
	feed, logs, stats := h.Counts()
	assert.Zero(t, feed+logs+stats)
	assert.NotPanics(t, unsubscribe)
}
