package realtime

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/tbourn/go-room-chat/internal/config"
)

// Client is one websocket connection. It owns a read pump that feeds frames
// to a handler in arrival order and a write pump that drains the send queue.
type Client struct {
	id      string
	conn    *websocket.Conn
	send    chan []byte
	done    chan struct{}
	once    sync.Once
	cfg     config.WSConfig
	limiter *rate.Limiter
	log     zerolog.Logger
}

func newClient(id string, conn *websocket.Conn, cfg config.WSConfig, log zerolog.Logger) *Client {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 256
	}
	c := &Client{
		id:   id,
		conn: conn,
		send: make(chan []byte, cfg.SendBuffer),
		done: make(chan struct{}),
		cfg:  cfg,
		log:  log.With().Str("conn_id", id).Logger(),
	}
	if cfg.MsgRPS > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.MsgRPS), max(cfg.MsgBurst, 1))
	}
	return c
}

// ID implements Participant.
func (c *Client) ID() string { return c.id }

// Deliver implements Participant. It never blocks: a closed connection or a
// full queue rejects the frame.
func (c *Client) Deliver(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// Close stops both pumps. Safe to call more than once.
func (c *Client) Close() {
	c.once.Do(func() { close(c.done) })
}

// readPump hands every frame to handle until the peer goes away, the
// connection errors, or ctx is cancelled.
func (c *Client) readPump(ctx context.Context, handle func(ctx context.Context, frame []byte), onRateLimited func()) {
	defer func() {
		c.Close()
		_ = c.conn.Close()
	}()

	if c.cfg.ReadLimit > 0 {
		c.conn.SetReadLimit(c.cfg.ReadLimit)
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(c.pongWait()))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.pongWait()))
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}
		if ctx.Err() != nil {
			return
		}
		if c.limiter != nil && !c.limiter.Allow() {
			onRateLimited()
			continue
		}
		handle(ctx, frame)
	}
}

// writePump writes queued frames, one websocket message each, and pings the
// peer. On Close it sends a close frame and returns.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.pingInterval())
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeWait()))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				if !isExpectedCloseError(err) {
					c.log.Debug().Err(err).Msg("write failed")
				}
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeWait()))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server closing connection")
			_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.writeWait()))
			return
		}
	}
}

func (c *Client) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Warn().Int64("limit", c.cfg.ReadLimit).Msg("frame exceeded read limit")
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		c.log.Debug().Msg("client disconnected")
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed), isExpectedCloseError(err):
		c.log.Debug().Err(err).Msg("connection closed")
	default:
		c.log.Warn().Err(err).Msg("websocket read error")
	}
}

func (c *Client) pongWait() time.Duration {
	if c.cfg.PongWait > 0 {
		return c.cfg.PongWait
	}
	return 60 * time.Second
}

func (c *Client) pingInterval() time.Duration {
	if c.cfg.PingInterval > 0 {
		return c.cfg.PingInterval
	}
	return (c.pongWait() * 9) / 10
}

func (c *Client) writeWait() time.Duration {
	if c.cfg.WriteWait > 0 {
		return c.cfg.WriteWait
	}
	return 10 * time.Second
}

func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, websocket.ErrCloseSent) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var ce *websocket.CloseError
	return errors.As(err, &ce)
}
