// Package engine is the replica's entry point: mutation, read and
// subscription operations backed by the merge actor.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"feedmesh/internal/broadcast"
	"feedmesh/internal/engine/actors"
	"feedmesh/internal/hub"
	"feedmesh/internal/logger"
	"feedmesh/internal/models"
	"feedmesh/internal/stats"
	"feedmesh/internal/utils"
)

// Options tunes one replica. Zero values take the defaults noted per field.
type Options struct {
	ReplicaID      string
	FeedWindow     int           // 50
	LogCapacity    int           // 100
	PingInterval   time.Duration // 0 disables liveness pings
	RequestTimeout time.Duration // 5s
	Retention      time.Duration // 0 disables pruning
	PruneInterval  time.Duration // 1m
	BytesPerObject int64         // 1024
	Metrics        *utils.MetricsCollector
	Logger         *logrus.Entry
}

// ApplyResult reports what happened to a local mutation.
type ApplyResult = actors.ApplyResult

// Engine coordinates the merge actor, the subscription hub and the
// replication channel of one replica.
type Engine struct {
	system  *actor.ActorSystem
	context *actor.RootContext
	merge   *actor.PID

	hub     *hub.Hub
	peers   *stats.PeerTracker
	channel broadcast.Channel
	metrics *utils.MetricsCollector
	log     *logrus.Entry
	opts    Options

	ready     chan struct{}
	readyOnce sync.Once
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	stopOnce  sync.Once
}

// NewEngine spawns the merge actor, starts opening the store in the
// background and attaches to ch. Mutations requested before Ready closes
// are dropped.
func NewEngine(system *actor.ActorSystem, open actors.StoreOpener, ch broadcast.Channel, opts Options) *Engine {
	if opts.FeedWindow <= 0 {
		opts.FeedWindow = 50
	}
	if opts.LogCapacity <= 0 {
		opts.LogCapacity = 100
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 5 * time.Second
	}
	if opts.PruneInterval <= 0 {
		opts.PruneInterval = time.Minute
	}
	if opts.BytesPerObject <= 0 {
		opts.BytesPerObject = 1024
	}
	if opts.Metrics == nil {
		opts.Metrics = utils.NewMetricsCollector()
	}
	if opts.ReplicaID == "" {
		opts.ReplicaID = "replica-" + uuid.NewString()[:8]
	}
	log := logger.OrDefault(opts.Logger).WithField("replica", opts.ReplicaID)

	e := &Engine{
		system:  system,
		context: system.Root,
		hub:     hub.New(opts.LogCapacity, log.WithField("component", "hub")),
		peers:   stats.NewPeerTracker(),
		channel: ch,
		metrics: opts.Metrics,
		log:     log,
		opts:    opts,
		ready:   make(chan struct{}),
	}

	cfg := actors.MergeConfig{
		ReplicaID:      opts.ReplicaID,
		Open:           open,
		Channel:        ch,
		Hub:            e.hub,
		Aggregator:     stats.NewAggregator(e.peers, opts.BytesPerObject),
		FeedWindow:     opts.FeedWindow,
		PublishTimeout: opts.RequestTimeout,
		Metrics:        opts.Metrics,
		Log:            log.WithField("component", "merge"),
		OnReady:        func() { e.readyOnce.Do(func() { close(e.ready) }) },
	}
	props := actor.PropsFromProducer(func() actor.Actor {
		return actors.NewMergeActor(cfg)
	})
	e.merge = e.context.Spawn(props)

	if ch != nil {
		ch.OnReceive(e.ApplyRemote)
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.startTickers(ctx)
	return e
}

// Ready is closed once the durable store is open.
func (e *Engine) Ready() <-chan struct{} {
	return e.ready
}

func (e *Engine) ReplicaID() string {
	return e.opts.ReplicaID
}

func (e *Engine) Metrics() *utils.MetricsCollector {
	return e.metrics
}

// CreatePost writes post locally and publishes it. A missing id or
// timestamp is filled in.
func (e *Engine) CreatePost(ctx context.Context, post *models.Post) (*ApplyResult, error) {
	if post == nil {
		return nil, utils.NewInvalidInputError("post is required")
	}
	post = post.Clone()
	if post.ID == "" {
		post.ID = uuid.NewString()
	}
	if post.Timestamp == 0 {
		post.Timestamp = time.Now().UnixMilli()
	}
	return e.applyLocal(ctx, models.NewPostEvent{Post: post})
}

// VotePost adds delta, which must be +1 or -1, to the post's counter.
func (e *Engine) VotePost(ctx context.Context, postID string, delta int) (*ApplyResult, error) {
	if postID == "" {
		return nil, utils.NewInvalidInputError("post id is required")
	}
	if delta != 1 && delta != -1 {
		return nil, utils.NewInvalidInputError("vote delta must be +1 or -1, got %d", delta)
	}
	return e.applyLocal(ctx, models.VoteEvent{PostID: postID, Delta: delta})
}

// CommentPost appends comment to the post. A missing id or timestamp is
// filled in.
func (e *Engine) CommentPost(ctx context.Context, postID string, comment *models.Comment) (*ApplyResult, error) {
	if postID == "" {
		return nil, utils.NewInvalidInputError("post id is required")
	}
	if comment == nil {
		return nil, utils.NewInvalidInputError("comment is required")
	}
	comment = comment.Clone()
	if comment.ID == "" {
		comment.ID = uuid.NewString()
	}
	if comment.Timestamp == 0 {
		comment.Timestamp = time.Now().UnixMilli()
	}
	return e.applyLocal(ctx, models.CommentEvent{PostID: postID, Comment: comment})
}

func (e *Engine) applyLocal(ctx context.Context, ev models.Event) (*ApplyResult, error) {
	e.metrics.IncrementRequests()
	result, err := e.request(ctx, &actors.ApplyLocalMsg{Event: ev}, "merge")
	if err != nil {
		return nil, err
	}
	return result.(*ApplyResult), nil
}

// ApplyRemote queues an event received from the channel. It never
// republishes.
func (e *Engine) ApplyRemote(ev models.Event) {
	if ev == nil {
		return
	}
	e.context.Send(e.merge, &actors.ApplyRemoteMsg{Event: ev})
}

// GetRecentPosts returns up to limit posts, newest first. The limit is
// capped at the feed window; limit <= 0 means the whole window. Before the
// store is ready the result is empty.
func (e *Engine) GetRecentPosts(ctx context.Context, limit int) ([]*models.Post, error) {
	if limit <= 0 || limit > e.opts.FeedWindow {
		limit = e.opts.FeedWindow
	}
	result, err := e.request(ctx, &actors.GetRecentPostsMsg{Limit: limit}, "merge")
	if utils.IsErrorCode(err, utils.ErrStoreNotReady) {
		return []*models.Post{}, nil
	}
	if err != nil {
		return nil, err
	}
	return result.([]*models.Post), nil
}

// GetCommunityPosts lists one community newest first, capped like
// GetRecentPosts.
func (e *Engine) GetCommunityPosts(ctx context.Context, community string, limit int) ([]*models.Post, error) {
	if limit <= 0 || limit > e.opts.FeedWindow {
		limit = e.opts.FeedWindow
	}
	result, err := e.request(ctx, &actors.GetCommunityPostsMsg{Community: community, Limit: limit}, "merge")
	if utils.IsErrorCode(err, utils.ErrStoreNotReady) {
		return []*models.Post{}, nil
	}
	if err != nil {
		return nil, err
	}
	return result.([]*models.Post), nil
}

func (e *Engine) GetPost(ctx context.Context, postID string) (*models.Post, error) {
	result, err := e.request(ctx, &actors.GetPostMsg{PostID: postID}, "merge")
	if err != nil {
		return nil, err
	}
	return result.(*models.Post), nil
}

// Stats recomputes the network stats snapshot.
func (e *Engine) Stats(ctx context.Context) (models.NetworkStats, error) {
	result, err := e.request(ctx, &actors.GetStatsMsg{}, "merge")
	if err != nil {
		return models.NetworkStats{}, err
	}
	return *result.(*models.NetworkStats), nil
}

// SubscribeFeed registers fn for window updates; it is called at once with
// the current window. Observers run on the merge actor and must not wait
// on mutation entry points.
func (e *Engine) SubscribeFeed(fn hub.FeedObserver) (unsubscribe func()) {
	return e.hub.SubscribeFeed(fn)
}

func (e *Engine) SubscribeLogs(fn hub.LogObserver) (unsubscribe func()) {
	return e.hub.SubscribeLogs(fn)
}

func (e *Engine) SubscribeStats(fn hub.StatsObserver) (unsubscribe func()) {
	return e.hub.SubscribeStats(fn)
}

// RecentLogs returns the log ring, oldest first.
func (e *Engine) RecentLogs() []models.LogEntry {
	return e.hub.RecentLogs()
}

// EmitLog adds an entry to the log ring in order with the replica's own
// entries.
func (e *Engine) EmitLog(logType models.LogType, message string) {
	e.context.Send(e.merge, &actors.EmitLogMsg{Type: logType, Message: message})
}

// Stop detaches from the channel, stops the tickers and the actor, and
// closes the store. The channel itself is left open for its owner.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		if e.channel != nil {
			e.channel.OnReceive(nil)
		}
		e.cancel()
		e.wg.Wait()
		if err := e.context.StopFuture(e.merge).Wait(); err != nil {
			e.log.WithError(err).Warn("Merge actor did not stop cleanly")
		}
		e.hub.Close()
	})
}

func (e *Engine) request(ctx context.Context, msg interface{}, name string) (interface{}, error) {
	timeout := e.opts.RequestTimeout
	if deadline, ok := ctx.Deadline(); ok {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, utils.NewActorTimeoutError(name, ctx.Err())
		}
		if remaining < timeout {
			timeout = remaining
		}
	}

	future := e.context.RequestFuture(e.merge, msg, timeout)
	result, err := future.Result()
	if err != nil {
		e.metrics.IncrementErrors()
		return nil, utils.NewActorTimeoutError(name, err)
	}
	if err, ok := result.(error); ok {
		return nil, err
	}
	return result, nil
}

// startTickers drives liveness pings and retention pruning.
func (e *Engine) startTickers(ctx context.Context) {
	if e.opts.PingInterval > 0 {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			ticker := time.NewTicker(e.opts.PingInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					e.context.Send(e.merge, &actors.PingTickMsg{})
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	if e.opts.Retention > 0 {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			ticker := time.NewTicker(e.opts.PruneInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					cutoff := time.Now().Add(-e.opts.Retention).UnixMilli()
					e.context.Send(e.merge, &actors.PruneMsg{Cutoff: cutoff})
				case <-ctx.Done():
					return
				}
			}
		}()
	}
}
