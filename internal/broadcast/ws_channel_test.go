package broadcast

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedmesh/internal/models"
	"feedmesh/internal/utils"
	relay "feedmesh/internal/websocket"
)

func startTestRelay(t *testing.T) (*relay.Hub, string) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	hub := relay.NewHub(nil)
	go hub.Run(ctx)
	srv := httptest.NewServer(relay.ServeRelay(hub))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func startChannel(t *testing.T, url, scope string) *WSChannel {
	t.Helper()
	ch, err := NewWSChannel(url, scope, nil)
	require.NoError(t, err)
	ch.Start(context.Background())
	t.Cleanup(func() { ch.Close() })
	require.Eventually(t, ch.Connected, 2*time.Second, 10*time.Millisecond)
	return ch
}

func TestWSChannelDeliversToOtherReplicas(t *testing.T) {
	hub, url := startTestRelay(t)
	a := startChannel(t, url, "feed")
	b := startChannel(t, url, "feed")
	require.Eventually(t, func() bool { return hub.ScopeSize("feed") == 2 }, 2*time.Second, 10*time.Millisecond)

	var ra, rb recorder
	a.OnReceive(ra.handle)
	b.OnReceive(rb.handle)

	post := &models.Post{ID: "p1", Community: "r/test", Votes: 1, Comments: []*models.Comment{}}
	require.NoError(t, a.Publish(context.Background(), models.NewPostEvent{Post: post}))

	require.Eventually(t, func() bool { return rb.len() == 1 }, 2*time.Second, 10*time.Millisecond)
	got := rb.snapshot()[0].(models.NewPostEvent)
	assert.Equal(t, "p1", got.Post.ID)
	assert.Equal(t, 1, got.Post.Votes)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, ra.len())
}

func TestWSChannelPublishWhileDisconnected(t *testing.T) {
	ch, err := NewWSChannel("ws://127.0.0.1:1/relay", "feed", nil)
	require.NoError(t, err)

	err = ch.Publish(context.Background(), models.PingEvent{Count: 1})
	assert.True(t, utils.IsErrorCode(err, utils.ErrChannelClosed))
	assert.NoError(t, ch.Close())
}
