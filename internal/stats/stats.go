// Package stats derives NetworkStats from the durable store and the
// session's liveness pings.
package stats

import (
	"context"
	"sync/atomic"
	"time"

	"feedmesh/internal/models"
)

// PeerTracker estimates how many replicas are live. The estimate starts at 1
// (self) and only grows until the process restarts.
type PeerTracker struct {
	count    atomic.Int64
	lastSync atomic.Int64
}

func NewPeerTracker() *PeerTracker {
	t := &PeerTracker{}
	t.count.Store(1)
	return t
}

// Observe folds in a ping announcing count and returns the new estimate,
// max(current, count+1).
func (t *PeerTracker) Observe(count int) int {
	t.lastSync.Store(time.Now().UnixMilli())
	want := int64(count) + 1
	for {
		cur := t.count.Load()
		if want <= cur {
			return int(cur)
		}
		if t.count.CompareAndSwap(cur, want) {
			return int(want)
		}
	}
}

// MarkSync records that a remote event just arrived.
func (t *PeerTracker) MarkSync() {
	t.lastSync.Store(time.Now().UnixMilli())
}

func (t *PeerTracker) Count() int {
	return int(t.count.Load())
}

// LastSync is the Unix ms time of the last remote event, 0 if none.
func (t *PeerTracker) LastSync() int64 {
	return t.lastSync.Load()
}

// Counter is the part of the durable store the aggregator reads.
type Counter interface {
	CountPosts(ctx context.Context) (int, error)
}

// Aggregator computes NetworkStats. It never writes to the store.
type Aggregator struct {
	Peers          *PeerTracker
	BytesPerObject int64
}

func NewAggregator(peers *PeerTracker, bytesPerObject int64) *Aggregator {
	if bytesPerObject <= 0 {
		bytesPerObject = 1024
	}
	return &Aggregator{Peers: peers, BytesPerObject: bytesPerObject}
}

// Snapshot counts the stored posts and estimates storage from that count.
func (a *Aggregator) Snapshot(ctx context.Context, store Counter) (models.NetworkStats, error) {
	total, err := store.CountPosts(ctx)
	if err != nil {
		return models.NetworkStats{}, err
	}
	return models.NetworkStats{
		PeerCount:         a.Peers.Count(),
		StorageUsageBytes: int64(total) * a.BytesPerObject,
		TotalPosts:        total,
		LastSync:          a.Peers.LastSync(),
	}, nil
}
