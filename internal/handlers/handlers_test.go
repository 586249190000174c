package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedmesh/internal/broadcast"
	"feedmesh/internal/database"
	"feedmesh/internal/engine"
	"feedmesh/internal/middleware"
	"feedmesh/internal/models"
	"feedmesh/internal/render"
	"feedmesh/internal/websocket"
)

func newTestServer(t *testing.T) (*Server, http.Handler) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "feed.sqlite3")
	open := func(ctx context.Context) (database.Store, error) {
		return database.NewSQLiteStore(ctx, path)
	}

	bus := broadcast.NewLocalBus(nil)
	member := bus.Join("api")
	t.Cleanup(func() { member.Close() })

	eng := engine.NewEngine(actor.NewActorSystem(), open, member, engine.Options{ReplicaID: "api"})
	t.Cleanup(eng.Stop)
	select {
	case <-eng.Ready():
	case <-time.After(3 * time.Second):
		t.Fatal("store never became ready")
	}

	renderer, err := render.New(16)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	hub := websocket.NewHub(nil)
	go hub.Run(ctx)

	s := NewServer(eng, renderer, hub, nil)
	t.Cleanup(s.StartStream())
	return s, s.Router(middleware.DefaultCORSConfig(nil), true)
}

func do(t *testing.T, h http.Handler, method, target string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func createPost(t *testing.T, h http.Handler, req CreatePostRequest) *models.Post {
	t.Helper()
	rec := do(t, h, http.MethodPost, "/posts", req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var result engine.ApplyResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.NotNil(t, result.Post)
	return result.Post
}

func TestHealth(t *testing.T) {
	_, h := newTestServer(t)

	rec := do(t, h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "api", body["replicaId"])
}

func TestPostLifecycle(t *testing.T) {
	_, h := newTestServer(t)

	post := createPost(t, h, CreatePostRequest{Community: "r/memetics", Title: "hello", Content: "**hi**", AuthorName: "tester"})
	assert.NotEmpty(t, post.ID)
	assert.Equal(t, 1, post.Votes)

	rec := do(t, h, http.MethodPost, "/posts/"+post.ID+"/vote", VoteRequest{Delta: 1})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodPost, "/posts/"+post.ID+"/comments", CreateCommentRequest{AuthorName: "peer", Content: "LGTM"})
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, h, http.MethodGet, "/posts/"+post.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got models.Post
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 2, got.Votes)
	require.Len(t, got.Comments, 1)
	assert.Equal(t, "LGTM", got.Comments[0].Content)

	rec = do(t, h, http.MethodGet, "/communities/r/memetics/posts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var community []*models.Post
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &community))
	require.Len(t, community, 1)
	assert.Equal(t, post.ID, community[0].ID)

	rec = do(t, h, http.MethodGet, "/posts?format=html", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `<strong>hi</strong>`)
}

func TestListPostsLimit(t *testing.T) {
	_, h := newTestServer(t)
	for i := 0; i < 3; i++ {
		createPost(t, h, CreatePostRequest{Title: "p", Content: "c"})
	}

	rec := do(t, h, http.MethodGet, "/posts?limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var posts []*models.Post
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &posts))
	assert.Len(t, posts, 2)

	rec = do(t, h, http.MethodGet, "/posts?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestErrorStatuses(t *testing.T) {
	_, h := newTestServer(t)

	tests := []struct {
		name   string
		method string
		target string
		body   interface{}
		want   int
	}{
		{"missing post", http.MethodGet, "/posts/nope", nil, http.StatusNotFound},
		{"bad vote delta", http.MethodPost, "/posts/x/vote", VoteRequest{Delta: 3}, http.StatusBadRequest},
		{"empty post", http.MethodPost, "/posts", CreatePostRequest{}, http.StatusBadRequest},
		{"empty comment", http.MethodPost, "/posts/x/comments", CreateCommentRequest{}, http.StatusBadRequest},
		{"wrong method", http.MethodDelete, "/posts", nil, http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, tt.method, tt.target, tt.body)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestStatsLogsAndMetrics(t *testing.T) {
	_, h := newTestServer(t)
	createPost(t, h, CreatePostRequest{Title: "p", Content: "c"})

	rec := do(t, h, http.MethodGet, "/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats models.NetworkStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.TotalPosts)
	assert.Equal(t, int64(1024), stats.StorageUsageBytes)
	assert.Equal(t, 1, stats.PeerCount)

	rec = do(t, h, http.MethodGet, "/logs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var logs []models.LogEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &logs))
	assert.NotEmpty(t, logs)

	rec = do(t, h, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "feedmesh_")
}

func TestCORSPreflight(t *testing.T) {
	_, h := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/posts", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestStreamPushesSnapshotAndUpdates(t *testing.T) {
	_, h := newTestServer(t)
	createPost(t, h, CreatePostRequest{Title: "first", Content: "c"})

	srv := httptest.NewServer(h)
	defer srv.Close()

	conn, _, err := gws.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/stream", nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() StreamFrame {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var frame StreamFrame
		require.NoError(t, json.Unmarshal(data, &frame))
		return frame
	}

	gotSnapshot := false
	for i := 0; i < 20 && !gotSnapshot; i++ {
		gotSnapshot = read().Kind == "feed"
	}
	require.True(t, gotSnapshot)

	createPost(t, h, CreatePostRequest{Title: "second", Content: "c"})

	seenFeed := false
	for i := 0; i < 20 && !seenFeed; i++ {
		frame := read()
		if frame.Kind != "feed" {
			continue
		}
		posts := frame.Data.([]interface{})
		if len(posts) == 2 {
			seenFeed = true
		}
	}
	assert.True(t, seenFeed, "stream never carried the updated window")
}

func TestStreamClientEndsOnLatestWindow(t *testing.T) {
	_, h := newTestServer(t)
	createPost(t, h, CreatePostRequest{Title: "seed", Content: "c"})

	srv := httptest.NewServer(h)
	defer srv.Close()

	const burst = 8
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < burst; i++ {
			rec := do(t, h, http.MethodPost, "/posts", CreatePostRequest{Title: "burst", Content: "c"})
			assert.Equal(t, http.StatusCreated, rec.Code)
		}
	}()

	conn, _, err := gws.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/stream", nil)
	require.NoError(t, err)
	defer conn.Close()
	<-done

	// Drain until the stream goes quiet; the last feed frame is the view.
	last := -1
	for {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(500*time.Millisecond)))
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var frame StreamFrame
		require.NoError(t, json.Unmarshal(data, &frame))
		if frame.Kind == "feed" {
			last = len(frame.Data.([]interface{}))
		}
	}
	assert.Equal(t, burst+1, last)
}
