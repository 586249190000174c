package handlers

import (
	"encoding/json"
	"net/http"
	"sync"

	"feedmesh/internal/models"
	"feedmesh/internal/websocket"
)

// StreamFrame is one push to /stream clients. Kind is "feed", "log" or
// "stats".
type StreamFrame struct {
	Kind string      `json:"kind"`
	Data interface{} `json:"data"`
}

// streamState is the last feed and stats pushed to /stream clients. Its
// lock orders snapshots against live pushes.
type streamState struct {
	sync.Mutex
	feed  []*models.Post
	stats *models.NetworkStats
}

// StartStream forwards the replica's feed, log and stats updates to every
// /stream client. The returned func detaches it.
func (s *Server) StartStream() (stop func()) {
	if s.Hub == nil {
		return func() {}
	}
	unsubFeed := s.Engine.SubscribeFeed(func(posts []*models.Post) {
		s.stream.Lock()
		defer s.stream.Unlock()
		s.stream.feed = posts
		s.pushAll("feed", posts)
	})
	unsubLogs := s.Engine.SubscribeLogs(func(entry models.LogEntry) {
		s.stream.Lock()
		defer s.stream.Unlock()
		s.pushAll("log", entry)
	})
	unsubStats := s.Engine.SubscribeStats(func(stats models.NetworkStats) {
		s.stream.Lock()
		defer s.stream.Unlock()
		s.stream.stats = &stats
		s.pushAll("stats", stats)
	})
	return func() {
		unsubFeed()
		unsubLogs()
		unsubStats()
	}
}

// HandleStream upgrades to a push-only WebSocket. A new client first gets
// the last feed window, the last stats snapshot and the log ring. The
// snapshot is queued behind any update already fanned out, so the client's
// final view is never older than the replica's.
func (s *Server) HandleStream() http.HandlerFunc {
	return websocket.ServeStream(s.Hub, StreamScope, func(c *websocket.Client) {
		s.stream.Lock()
		defer s.stream.Unlock()

		posts := s.stream.feed
		if posts == nil {
			posts = []*models.Post{}
		}
		s.pushTo(c, "feed", posts)
		if s.stream.stats != nil {
			s.pushTo(c, "stats", *s.stream.stats)
		}
		for _, entry := range s.Engine.RecentLogs() {
			s.pushTo(c, "log", entry)
		}
	})
}

func (s *Server) pushAll(kind string, data interface{}) {
	payload, err := json.Marshal(StreamFrame{Kind: kind, Data: data})
	if err != nil {
		s.log.WithError(err).Warn("Failed to encode stream frame")
		return
	}
	s.Hub.Publish(StreamScope, payload)
}

func (s *Server) pushTo(c *websocket.Client, kind string, data interface{}) {
	payload, err := json.Marshal(StreamFrame{Kind: kind, Data: data})
	if err != nil {
		return
	}
	s.Hub.PublishTo(c, payload)
}
