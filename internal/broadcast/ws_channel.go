package broadcast

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"feedmesh/internal/logger"
	"feedmesh/internal/models"
	"feedmesh/internal/utils"
)

const (
	// Time allowed to write a message to the relay.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the relay.
	pongWait = 60 * time.Second

	// Send pings to the relay with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Delay between reconnect attempts.
	redialDelay = time.Second

	sendBufferSize = 256
)

// WSChannel reaches the other replicas of a scope through the host-local
// relay. It redials until closed; events published while disconnected are
// dropped.
type WSChannel struct {
	url string
	log *logrus.Entry

	mu      sync.RWMutex
	handler Handler
	send    chan []byte // outbound queue of the live connection, nil when down

	connected atomic.Bool
	cancel    context.CancelFunc
	done      chan struct{}
}

var _ Channel = (*WSChannel)(nil)

// NewWSChannel builds a channel for relayURL joined to scope. Nothing is
// dialed until Start.
func NewWSChannel(relayURL, scope string, log *logrus.Entry) (*WSChannel, error) {
	u, err := url.Parse(relayURL)
	if err != nil {
		return nil, fmt.Errorf("invalid relay url %q: %v", relayURL, err)
	}
	q := u.Query()
	q.Set("scope", scope)
	u.RawQuery = q.Encode()

	return &WSChannel{
		url:  u.String(),
		log:  logger.OrDefault(log).WithField("relay", u.Host),
		done: make(chan struct{}),
	}, nil
}

// Start runs the connect loop in the background until ctx ends or Close.
func (c *WSChannel) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	go func() {
		defer close(c.done)
		for {
			if err := c.connectAndPump(ctx); err != nil {
				c.log.WithError(err).Debug("Relay connection ended")
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(redialDelay):
			}
		}
	}()
}

func (c *WSChannel) Connected() bool {
	return c.connected.Load()
}

func (c *WSChannel) Publish(ctx context.Context, ev models.Event) error {
	data, err := Encode(ev)
	if err != nil {
		return err
	}

	c.mu.RLock()
	send := c.send
	c.mu.RUnlock()
	if send == nil {
		return utils.NewAppError(utils.ErrChannelClosed, "Relay not connected", nil)
	}

	select {
	case send <- data:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return utils.NewAppError(utils.ErrChannelClosed, "Relay send buffer full", nil)
	}
}

func (c *WSChannel) OnReceive(h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = h
}

func (c *WSChannel) Close() error {
	if c.cancel == nil {
		return nil
	}
	c.cancel()
	<-c.done
	return nil
}

func (c *WSChannel) connectAndPump(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("failed to dial: %w", err)
	}

	send := make(chan []byte, sendBufferSize)
	c.mu.Lock()
	c.send = send
	c.mu.Unlock()
	c.connected.Store(true)
	c.log.Info("Connected to relay")

	defer func() {
		c.connected.Store(false)
		c.mu.Lock()
		c.send = nil
		c.mu.Unlock()
		conn.Close()
	}()

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		c.readPump(conn)
	}()

	return c.writePump(ctx, conn, send, readDone)
}

// readPump decodes relay messages and hands them to the handler.
func (c *WSChannel) readPump(conn *websocket.Conn) {
	conn.SetReadLimit(maxFrameSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error { conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.WithError(err).Warn("Relay read error")
			}
			return
		}
		ev, err := Decode(message)
		if err != nil {
			c.log.WithError(err).Warn("Dropping undecodable relay message")
			continue
		}
		c.mu.RLock()
		h := c.handler
		c.mu.RUnlock()
		if h != nil {
			h(ev)
		}
	}
}

// writePump drains the outbound queue and keeps the connection alive.
func (c *WSChannel) writePump(ctx context.Context, conn *websocket.Conn, send <-chan []byte, readDone <-chan struct{}) error {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case message := <-send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return fmt.Errorf("write: %w", err)
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return fmt.Errorf("ping: %w", err)
			}
		case <-readDone:
			return fmt.Errorf("relay closed the connection")
		case <-ctx.Done():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return nil
		}
	}
}

// maxFrameSize matches the relay's read limit.
const maxFrameSize = 64 * 1024
