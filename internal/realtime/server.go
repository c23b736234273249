package realtime

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/tbourn/go-room-chat/internal/config"
)

// ErrServerClosed is returned by Upgrade after Shutdown has begun.
var ErrServerClosed = errors.New("realtime: server closed")

// Server accepts websocket connections and runs them against one Registry,
// Gateway and Dispatcher.
type Server struct {
	cfg      config.WSConfig
	reg      *Registry
	gw       *Gateway
	disp     *Dispatcher
	upgrader websocket.Upgrader
	log      zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	clients map[*Client]struct{}
	closing bool
	wg      sync.WaitGroup
}

// NewServer builds a realtime server. origins is the browser origin
// allowlist (empty admits all).
func NewServer(cfg config.WSConfig, origins []string, ingest Ingester, history HistoryReader, log zerolog.Logger) *Server {
	log = log.With().Str("component", "realtime").Logger()
	reg := NewRegistry()
	gw := NewGateway(reg, log)
	ctx, cancel := context.WithCancel(context.Background())
	policy := newOriginPolicy(origins, log)

	return &Server{
		cfg:  cfg,
		reg:  reg,
		gw:   gw,
		disp: NewDispatcher(reg, gw, ingest, history, log),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     policy.check,
		},
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
		clients: make(map[*Client]struct{}),
	}
}

// Registry exposes room membership.
func (s *Server) Registry() *Registry { return s.reg }

// Gateway exposes room broadcast, used by the HTTP send endpoint.
func (s *Server) Gateway() *Gateway { return s.gw }

// ServeHTTP upgrades the request and runs the connection in the background.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.isClosing() {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	_, _ = s.Upgrade(w, r)
}

func (s *Server) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

// Upgrade performs the websocket handshake and starts the connection's
// pumps. Upgrade failures have already been answered by the upgrader.
func (s *Server) Upgrade(w http.ResponseWriter, r *http.Request) (*Client, error) {
	if s.isClosing() {
		return nil, ErrServerClosed
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return nil, err
	}

	c := newClient(uuid.NewString(), conn, s.cfg, s.log)

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		_ = conn.Close()
		return nil, ErrServerClosed
	}
	s.clients[c] = struct{}{}
	s.wg.Add(2)
	s.mu.Unlock()

	wsConns.Inc()
	c.log.Info().Str("remote", r.RemoteAddr).Msg("websocket connected")

	go func() {
		defer s.wg.Done()
		c.writePump()
	}()
	go func() {
		defer s.wg.Done()
		c.readPump(s.ctx,
			func(ctx context.Context, frame []byte) { s.disp.Handle(ctx, c, frame) },
			func() { s.disp.fail(c, CodeRateLimited, "too many events, slow down") },
		)
		s.disconnect(c)
	}()
	return c, nil
}

// disconnect removes c from every room and from the server.
func (s *Server) disconnect(c *Client) {
	rooms := s.reg.LeaveAll(c)
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
	wsConns.Dec()
	c.log.Info().Strs("rooms", rooms).Msg("websocket disconnected")
}

// Connections returns the number of open connections.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Shutdown stops accepting connections, closes every open one and waits for
// their goroutines until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	open := make([]*Client, 0, len(s.clients))
	for c := range s.clients {
		open = append(open, c)
	}
	s.mu.Unlock()

	s.log.Info().Int("connections", len(open)).Msg("closing websocket connections")
	s.cancel()
	for _, c := range open {
		c.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
