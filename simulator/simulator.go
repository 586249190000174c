// Package simulator runs several replicas in one process on a shared bus,
// drives each with an autonomous participant and flaps their connectivity.
package simulator

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/sirupsen/logrus"

	"feedmesh/internal/agent"
	"feedmesh/internal/broadcast"
	"feedmesh/internal/database"
	"feedmesh/internal/engine"
	"feedmesh/internal/logger"
	"feedmesh/internal/models"
)

type SimConfig struct {
	NumReplicas          int
	SimulationTime       time.Duration
	StepInterval         time.Duration // per-agent decision interval
	ConnectivityInterval time.Duration // 1s
	MetricsInterval      time.Duration // 10s
	DisconnectRate       float64
	ReconnectRate        float64
	PingInterval         time.Duration
	ZipfS                float64
	Seed                 int64
	DataDir              string // sqlite files; a temp dir when empty
	Logger               *logrus.Entry
}

type SimulationStats struct {
	mu          sync.RWMutex
	StartTime   time.Time
	Steps       int
	Posts       int
	Votes       int
	Comments    int
	Idles       int
	Disconnects int
	Reconnects  int
}

// SimulatedReplica is one replica and the participant driving it.
type SimulatedReplica struct {
	Name   string
	Engine *engine.Engine
	Member *broadcast.BusMember
	Runner *agent.Runner
}

type Simulator struct {
	config   SimConfig
	stats    *SimulationStats
	system   *actor.ActorSystem
	bus      *broadcast.LocalBus
	replicas []*SimulatedReplica
	rng      *rand.Rand
	dataDir  string
	ownsDir  bool
	log      *logrus.Entry
	mu       sync.RWMutex
}

func NewSimulator(config SimConfig) *Simulator {
	if config.NumReplicas <= 0 {
		config.NumReplicas = 3
	}
	if config.StepInterval <= 0 {
		config.StepInterval = 12 * time.Second
	}
	if config.ConnectivityInterval <= 0 {
		config.ConnectivityInterval = time.Second
	}
	if config.MetricsInterval <= 0 {
		config.MetricsInterval = 10 * time.Second
	}
	if config.ZipfS <= 1 {
		config.ZipfS = 1.07
	}
	if config.Seed == 0 {
		config.Seed = time.Now().UnixNano()
	}
	log := logger.OrDefault(config.Logger).WithField("component", "simulator")
	return &Simulator{
		config: config,
		stats:  &SimulationStats{StartTime: time.Now()},
		system: actor.NewActorSystem(),
		bus:    broadcast.NewLocalBus(log.WithField("component", "bus")),
		rng:    rand.New(rand.NewSource(config.Seed)),
		log:    log,
	}
}

// Run starts every replica, then drives activity, connectivity and metrics
// until ctx ends. Replicas stay up for inspection until Close.
func (s *Simulator) Run(ctx context.Context) error {
	s.log.Info("Starting simulation")

	if err := s.initialize(ctx); err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	var wg sync.WaitGroup

	for _, r := range s.replicas {
		wg.Add(1)
		go func(r *SimulatedReplica) {
			defer wg.Done()
			s.simulateActivities(ctx, r)
		}(r)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.simulateConnectivity(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.collectMetrics(ctx)
	}()

	wg.Wait()
	return nil
}

func (s *Simulator) initialize(ctx context.Context) error {
	dir := s.config.DataDir
	if dir == "" {
		tmp, err := os.MkdirTemp("", "feedmesh-sim-")
		if err != nil {
			return err
		}
		dir, s.ownsDir = tmp, true
	} else if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	s.dataDir = dir

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < s.config.NumReplicas; i++ {
		name := fmt.Sprintf("replica-%d", i)
		path := filepath.Join(dir, name+".sqlite3")
		member := s.bus.Join(name)

		eng := engine.NewEngine(s.system, func(ctx context.Context) (database.Store, error) {
			return database.NewSQLiteStore(ctx, path)
		}, member, engine.Options{
			ReplicaID:    name,
			PingInterval: s.config.PingInterval,
			Logger:       s.log.WithField("replica", name),
		})

		profile := agent.NewProfile(s.rng)
		decider := agent.NewRandomDecider(s.rng.Int63(), s.config.ZipfS)
		runner := agent.NewRunner(eng, decider, profile, agent.RunnerOptions{
			Interval: s.config.StepInterval,
			Logger:   s.log.WithField("replica", name),
		})

		s.replicas = append(s.replicas, &SimulatedReplica{Name: name, Engine: eng, Member: member, Runner: runner})
	}

	for _, r := range s.replicas {
		select {
		case <-r.Engine.Ready():
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Second):
			return fmt.Errorf("%s: store never became ready", r.Name)
		}
	}
	s.log.WithField("replicas", len(s.replicas)).Info("Initialization completed successfully")
	return nil
}

func (s *Simulator) simulateActivities(ctx context.Context, r *SimulatedReplica) {
	// Stagger the first steps so replicas do not act in lockstep.
	s.mu.Lock()
	jitter := time.Duration(s.rng.Int63n(int64(s.config.StepInterval)))
	s.mu.Unlock()

	select {
	case <-time.After(jitter):
	case <-ctx.Done():
		return
	}

	ticker := time.NewTicker(s.config.StepInterval)
	defer ticker.Stop()
	for {
		s.recordDecision(r.Runner.Step(ctx))
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

func (s *Simulator) recordDecision(d agent.Decision) {
	s.stats.mu.Lock()
	defer s.stats.mu.Unlock()
	s.stats.Steps++
	switch d.Action {
	case agent.ActionPost:
		s.stats.Posts++
	case agent.ActionVoteUp, agent.ActionVoteDown:
		s.stats.Votes++
	case agent.ActionComment:
		s.stats.Comments++
	default:
		s.stats.Idles++
	}
}

func (s *Simulator) simulateConnectivity(ctx context.Context) {
	if s.config.DisconnectRate <= 0 {
		return
	}
	ticker := time.NewTicker(s.config.ConnectivityInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			for _, r := range s.replicas {
				if r.Member.Connected() {
					if s.rng.Float64() < s.config.DisconnectRate {
						r.Member.SetConnected(false)
						r.Engine.EmitLog(models.LogWarn, "Link down, replication paused")
						s.stats.mu.Lock()
						s.stats.Disconnects++
						s.stats.mu.Unlock()
					}
				} else if s.rng.Float64() < s.config.ReconnectRate {
					r.Member.SetConnected(true)
					r.Engine.EmitLog(models.LogInfo, "Link restored")
					s.stats.mu.Lock()
					s.stats.Reconnects++
					s.stats.mu.Unlock()
				}
			}
			s.mu.Unlock()
		}
	}
}

func (s *Simulator) collectMetrics(ctx context.Context) {
	ticker := time.NewTicker(s.config.MetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m := s.GetMetrics()
			s.log.WithFields(logrus.Fields{
				"elapsed":   m.Elapsed.Round(time.Second),
				"connected": fmt.Sprintf("%d/%d", m.ConnectedReplicas, m.TotalReplicas),
				"steps":     m.Steps,
				"posts":     m.Posts,
				"votes":     m.Votes,
				"comments":  m.Comments,
				"idles":     m.Idles,
				"dropped":   m.Dropped,
			}).Info("Simulation metrics")
		}
	}
}

type SimulationMetrics struct {
	TotalReplicas     int
	ConnectedReplicas int
	Elapsed           time.Duration
	Steps             int
	Posts             int
	Votes             int
	Comments          int
	Idles             int
	Disconnects       int
	Reconnects        int
	Dropped           uint64 // events a disconnected or overloaded member never saw
}

func (s *Simulator) GetMetrics() SimulationMetrics {
	s.mu.RLock()
	connected := 0
	var dropped uint64
	for _, r := range s.replicas {
		if r.Member.Connected() {
			connected++
		}
		dropped += r.Member.Dropped()
	}
	total := len(s.replicas)
	s.mu.RUnlock()

	s.stats.mu.RLock()
	defer s.stats.mu.RUnlock()
	return SimulationMetrics{
		TotalReplicas:     total,
		ConnectedReplicas: connected,
		Elapsed:           time.Since(s.stats.StartTime),
		Steps:             s.stats.Steps,
		Posts:             s.stats.Posts,
		Votes:             s.stats.Votes,
		Comments:          s.stats.Comments,
		Idles:             s.stats.Idles,
		Disconnects:       s.stats.Disconnects,
		Reconnects:        s.stats.Reconnects,
		Dropped:           dropped,
	}
}

// Replicas returns the running replicas.
func (s *Simulator) Replicas() []*SimulatedReplica {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*SimulatedReplica(nil), s.replicas...)
}

// Divergent counts replicas whose recent window differs from the first
// replica's. Missed events are never recovered, so any disconnect during
// activity can leave replicas permanently apart.
func (s *Simulator) Divergent(ctx context.Context) (int, error) {
	replicas := s.Replicas()
	if len(replicas) == 0 {
		return 0, nil
	}
	base, err := fingerprint(ctx, replicas[0].Engine)
	if err != nil {
		return 0, err
	}
	divergent := 0
	for _, r := range replicas[1:] {
		fp, err := fingerprint(ctx, r.Engine)
		if err != nil {
			return 0, err
		}
		if fp != base {
			divergent++
		}
	}
	return divergent, nil
}

func fingerprint(ctx context.Context, e *engine.Engine) (string, error) {
	posts, err := e.GetRecentPosts(ctx, 0)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, p := range posts {
		fmt.Fprintf(&b, "%s:%d:%d;", p.ID, p.Votes, len(p.Comments))
	}
	return b.String(), nil
}

// Close stops every replica and removes a temporary data directory.
func (s *Simulator) Close() {
	s.mu.Lock()
	replicas := s.replicas
	s.replicas = nil
	s.mu.Unlock()

	for _, r := range replicas {
		r.Engine.Stop()
		r.Member.Close()
	}
	s.system.Shutdown()
	if s.ownsDir {
		os.RemoveAll(s.dataDir)
	}
}
