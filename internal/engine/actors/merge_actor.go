package actors

import (
	"context"
	"fmt"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/sirupsen/logrus"

	"feedmesh/internal/broadcast"
	"feedmesh/internal/database"
	"feedmesh/internal/hub"
	"feedmesh/internal/models"
	"feedmesh/internal/stats"
	"feedmesh/internal/utils"
)

// Message types for merge operations
type (
	// ApplyLocalMsg carries a mutation made on this replica. It is written,
	// observers are refreshed, then it is published. The sender receives an
	// *ApplyResult.
	ApplyLocalMsg struct {
		Event models.Event
	}

	// ApplyRemoteMsg carries a mutation received from the channel. It is
	// written and observers are refreshed; it is never published again.
	ApplyRemoteMsg struct {
		Event models.Event
	}

	GetRecentPostsMsg struct {
		Limit int
	}

	GetCommunityPostsMsg struct {
		Community string
		Limit     int
	}

	GetPostMsg struct {
		PostID string
	}

	GetStatsMsg struct{}

	// EmitLogMsg appends an entry to the log ring from outside the actor.
	EmitLogMsg struct {
		Type    models.LogType
		Message string
	}

	// PingTickMsg makes the replica announce itself on the channel.
	PingTickMsg struct{}

	// PruneMsg removes posts created before Cutoff (Unix ms). Pruning is
	// local housekeeping and is never published.
	PruneMsg struct {
		Cutoff int64
	}

	storeReadyMsg struct {
		store database.Store
	}

	storeFailedMsg struct {
		err error
	}
)

// ApplyResult answers an ApplyLocalMsg. Applied is false when the write was
// absorbed: store not ready, unknown post or store failure.
type ApplyResult struct {
	Applied   bool         `json:"applied"`
	Published bool         `json:"published"`
	Post      *models.Post `json:"post,omitempty"`
}

// StoreOpener connects the durable store. It runs off the actor's thread.
type StoreOpener func(ctx context.Context) (database.Store, error)

// MergeConfig wires a MergeActor to the rest of the replica.
type MergeConfig struct {
	ReplicaID      string
	Open           StoreOpener
	Channel        broadcast.Channel
	Hub            *hub.Hub
	Aggregator     *stats.Aggregator
	FeedWindow     int
	PublishTimeout time.Duration
	Metrics        *utils.MetricsCollector
	Log            *logrus.Entry

	// OnReady runs on the actor once the store is open.
	OnReady func()
}

const (
	originLocal  = "local"
	originRemote = "remote"
)

// MergeActor is the only writer of the durable store. Its mailbox is the
// replica's single logical thread: every write, refresh and publish happens
// in message order.
type MergeActor struct {
	cfg   MergeConfig
	store database.Store
	peers *stats.PeerTracker

	ctx    context.Context
	cancel context.CancelFunc
}

func NewMergeActor(cfg MergeConfig) actor.Actor {
	if cfg.FeedWindow <= 0 {
		cfg.FeedWindow = 50
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &MergeActor{
		cfg:    cfg,
		peers:  cfg.Aggregator.Peers,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Receive handles incoming messages
func (a *MergeActor) Receive(context actor.Context) {
	switch msg := context.Message().(type) {
	case *actor.Started:
		a.cfg.Log.Debug("MergeActor started")
		a.openStore(context)

	case *actor.Stopping:
		a.cfg.Log.Debug("MergeActor stopping")
		a.cancel()

	case *actor.Stopped:
		a.closeStore()
		a.cfg.Log.Debug("MergeActor stopped")

	case *actor.Restarting:
		a.cfg.Log.Warn("MergeActor restarting")
		a.cancel()
		a.closeStore()

	case *storeReadyMsg:
		a.store = msg.store
		a.emit(models.LogInfo, fmt.Sprintf("Durable store ready on %s", a.cfg.ReplicaID))
		a.refresh()
		if a.cfg.OnReady != nil {
			a.cfg.OnReady()
		}

	case *storeFailedMsg:
		a.emit(models.LogWarn, "Durable store failed to open: "+msg.err.Error())

	case *ApplyLocalMsg:
		context.Respond(a.handleLocal(msg.Event))

	case *ApplyRemoteMsg:
		a.handleRemote(msg.Event)

	case *GetRecentPostsMsg:
		a.handleRead(context, "get_recent", func() (interface{}, error) {
			return a.store.GetRecentPosts(a.ctx, msg.Limit)
		})

	case *GetCommunityPostsMsg:
		a.handleRead(context, "get_community", func() (interface{}, error) {
			return a.store.GetPostsByCommunity(a.ctx, msg.Community, msg.Limit)
		})

	case *GetPostMsg:
		a.handleRead(context, "get_post", func() (interface{}, error) {
			return a.store.GetPost(a.ctx, msg.PostID)
		})

	case *GetStatsMsg:
		a.handleRead(context, "get_stats", func() (interface{}, error) {
			snap, err := a.cfg.Aggregator.Snapshot(a.ctx, a.store)
			if err != nil {
				return nil, err
			}
			return &snap, nil
		})

	case *EmitLogMsg:
		a.emit(msg.Type, msg.Message)

	case *PingTickMsg:
		a.publish(models.PingEvent{Count: 1})

	case *PruneMsg:
		a.handlePrune(msg.Cutoff)

	default:
		a.cfg.Log.Debugf("MergeActor: Unknown message type: %T", msg)
	}
}

func (a *MergeActor) openStore(ctx actor.Context) {
	self := ctx.Self()
	root := ctx.ActorSystem().Root
	open := a.cfg.Open
	opCtx := a.ctx
	go func() {
		store, err := open(opCtx)
		if err == nil && opCtx.Err() != nil {
			// Stopped while opening.
			store.Close(context.Background())
			return
		}
		if err != nil {
			root.Send(self, &storeFailedMsg{err: err})
			return
		}
		root.Send(self, &storeReadyMsg{store: store})
	}()
}

func (a *MergeActor) closeStore() {
	if a.store == nil {
		return
	}
	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.store.Close(closeCtx); err != nil {
		a.cfg.Log.WithError(err).Warn("Failed to close durable store")
	}
	a.store = nil
}

func (a *MergeActor) handleLocal(ev models.Event) *ApplyResult {
	startTime := time.Now()
	defer func() { a.cfg.Metrics.AddOperationLatency("apply_local", time.Since(startTime)) }()

	if a.store == nil {
		a.dropUninitialized(ev, originLocal)
		return &ApplyResult{}
	}

	post, err := a.write(ev, originLocal)
	if err == nil {
		a.refresh()
	}
	// A mutation on a post this replica lacks still goes out; a failed
	// write does not.
	if err != nil && !utils.IsErrorCode(err, utils.ErrNotFound) {
		return &ApplyResult{}
	}
	return &ApplyResult{
		Applied:   err == nil,
		Published: a.publish(ev),
		Post:      post,
	}
}

func (a *MergeActor) handleRemote(ev models.Event) {
	startTime := time.Now()
	defer func() { a.cfg.Metrics.AddOperationLatency("apply_remote", time.Since(startTime)) }()

	if ping, ok := ev.(models.PingEvent); ok {
		before := a.peers.Count()
		if after := a.peers.Observe(ping.Count); after != before {
			a.emit(models.LogSync, fmt.Sprintf("Peer estimate raised to %d", after))
		}
		if a.store != nil {
			a.refreshStats()
		}
		return
	}

	a.peers.MarkSync()
	if a.store == nil {
		a.dropUninitialized(ev, originRemote)
		return
	}

	if _, err := a.write(ev, originRemote); err != nil {
		return
	}
	if np, ok := ev.(models.NewPostEvent); ok {
		a.emit(models.LogSync, fmt.Sprintf("Received post %s in %s", np.Post.ID, np.Post.Community))
	}
	a.refresh()
}

// write applies one mutation to the store. Failures are reported through
// the log ring and metrics and returned so the caller can skip publishing.
func (a *MergeActor) write(ev models.Event, origin string) (*models.Post, error) {
	var (
		post *models.Post
		err  error
	)
	switch e := ev.(type) {
	case models.NewPostEvent:
		post = e.Post.Clone()
		err = a.store.SavePost(a.ctx, post)

	case models.VoteEvent:
		post, err = a.store.UpdatePost(a.ctx, e.PostID, func(p *models.Post) error {
			p.Votes += e.Delta
			return nil
		})

	case models.CommentEvent:
		post, err = a.store.UpdatePost(a.ctx, e.PostID, func(p *models.Post) error {
			p.AppendComment(e.Comment.Clone())
			return nil
		})

	default:
		// Pings carry no write.
		return nil, utils.NewAppError(utils.ErrInvalidInput, "event carries no write", nil)
	}

	kind := string(ev.Type())
	if utils.IsErrorCode(err, utils.ErrNotFound) {
		a.cfg.Metrics.EventDropped("unknown_post")
		a.cfg.Log.WithFields(logrus.Fields{"kind": kind, "origin": origin}).Debug("Mutation targets a post this replica does not hold")
		return nil, err
	}
	if err != nil {
		a.cfg.Metrics.EventDropped("store_error")
		a.cfg.Metrics.IncrementErrors()
		a.emit(models.LogWarn, fmt.Sprintf("Failed to apply %s from %s: %v", kind, origin, err))
		return nil, err
	}

	a.cfg.Metrics.EventApplied(kind, origin)
	return post, nil
}

// publish hands a local event to the channel. It reports whether the
// channel accepted it.
func (a *MergeActor) publish(ev models.Event) bool {
	if a.cfg.Channel == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(a.ctx, a.cfg.PublishTimeout)
	defer cancel()
	if err := a.cfg.Channel.Publish(ctx, ev); err != nil {
		a.cfg.Metrics.EventDropped("publish_failed")
		a.cfg.Log.WithError(err).WithField("kind", ev.Type()).Debug("Publish failed")
		return false
	}
	a.cfg.Metrics.EventPublished(string(ev.Type()))
	return true
}

func (a *MergeActor) refresh() {
	a.refreshFeed()
	a.refreshStats()
}

func (a *MergeActor) refreshFeed() {
	posts, err := a.store.GetRecentPosts(a.ctx, a.cfg.FeedWindow)
	if err != nil {
		a.cfg.Log.WithError(err).Warn("Failed to reload feed window")
		return
	}
	a.cfg.Hub.PublishFeed(posts)
}

func (a *MergeActor) refreshStats() {
	snap, err := a.cfg.Aggregator.Snapshot(a.ctx, a.store)
	if err != nil {
		a.cfg.Log.WithError(err).Warn("Failed to compute network stats")
		return
	}
	a.cfg.Hub.PublishStats(snap)
}

func (a *MergeActor) handleRead(context actor.Context, op string, read func() (interface{}, error)) {
	if a.store == nil {
		context.Respond(utils.NewAppError(utils.ErrStoreNotReady, "Durable store is not ready", nil))
		return
	}
	startTime := time.Now()
	result, err := read()
	a.cfg.Metrics.AddOperationLatency(op, time.Since(startTime))
	if err != nil {
		context.Respond(err)
		return
	}
	context.Respond(result)
}

func (a *MergeActor) handlePrune(cutoff int64) {
	if a.store == nil {
		return
	}
	removed, err := a.store.DeletePostsBefore(a.ctx, cutoff)
	if err != nil {
		a.cfg.Log.WithError(err).Warn("Retention pruning failed")
		return
	}
	if removed == 0 {
		return
	}
	a.emit(models.LogInfo, fmt.Sprintf("Pruned %d expired posts", removed))
	a.refresh()
}

func (a *MergeActor) dropUninitialized(ev models.Event, origin string) {
	a.cfg.Metrics.EventDropped("store_not_ready")
	a.cfg.Log.WithFields(logrus.Fields{
		"kind":   ev.Type(),
		"origin": origin,
	}).Warn("Dropping mutation, durable store not ready")
}

// emit appends to the log ring and mirrors the entry to the process log.
func (a *MergeActor) emit(logType models.LogType, message string) {
	entry := models.NewLogEntry(logType, message)
	fields := a.cfg.Log.WithField("type", logType)
	switch logType {
	case models.LogWarn:
		fields.Warn(message)
	case models.LogSync:
		fields.Debug(message)
	default:
		fields.Info(message)
	}
	a.cfg.Hub.PublishLog(entry)
}
