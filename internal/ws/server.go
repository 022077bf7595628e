// Package ws is the relay's WebSocket transport. It upgrades HTTP requests,
// keeps one session per connection, routes client frames to the relay and
// pushes item updates back to subscribed connections.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
	"github.com/mdobak/go-xerrors"

	"github.com/whisper/chat-relay/internal/metrics"
	"github.com/whisper/chat-relay/internal/protocol"
)

// ServerConfig holds tunable parameters for the WebSocket server.
type ServerConfig struct {
	ListenAddr     string        // address to listen on, e.g. ":8080"
	TLSCertFile    string        // serve TLS when both files are set
	TLSKeyFile     string        // PEM private key for TLSCertFile
	WorkerPoolSize int           // max concurrent read-worker goroutines
	MaxConnections int           // hard cap on total connections
	ReadTimeout    time.Duration // timeout for WebSocket read operations
	WriteTimeout   time.Duration // timeout for WebSocket write operations
	MaxFrameSize   int64         // largest accepted frame and message, in bytes
	Heartbeat      HeartbeatConfig
}

// DefaultMaxFrameSize bounds client frames when ServerConfig leaves it unset.
const DefaultMaxFrameSize = 64 << 10

// DefaultServerConfig returns a ServerConfig with sensible production defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:     ":8080",
		WorkerPoolSize: 256,
		MaxConnections: 100000,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxFrameSize:   DefaultMaxFrameSize,
		Heartbeat:      DefaultHeartbeatConfig(),
	}
}

// HeartbeatConfig holds heartbeat tuning parameters.
type HeartbeatConfig struct {
	Interval time.Duration // how often to ping (default: 30s)
	Timeout  time.Duration // max time to wait for activity after ping (default: 10s)
}

// DefaultHeartbeatConfig returns sensible defaults for heartbeat monitoring.
func DefaultHeartbeatConfig() HeartbeatConfig {
	return HeartbeatConfig{
		Interval: 30 * time.Second,
		Timeout:  10 * time.Second,
	}
}

// Server upgrades HTTP connections to WebSocket and reads their frames.
// Plain TCP connections are multiplexed through epoll and a bounded worker
// pool; connections without a descriptor get a read goroutine each.
type Server struct {
	config       ServerConfig
	log          *slog.Logger
	epoll        *Epoll
	conns        *ConnectionManager
	workerPool   chan struct{}                       // semaphore limiting concurrent read workers
	onConnect    func(conn *Connection) error        // rejects the connection on error
	onMessage    func(conn *Connection, data []byte) // message handler callback
	onDisconnect func(conn *Connection)              // called once when a connection is removed
	startedAt    time.Time                           // server start time for uptime calculation
	done         chan struct{}
	stopOnce     sync.Once

	mu         sync.Mutex // guards httpServer
	httpServer *http.Server
}

// NewServer creates a Server. onMessage is called from a read goroutine for
// every complete text frame.
func NewServer(config ServerConfig, log *slog.Logger, onMessage func(conn *Connection, data []byte)) *Server {
	if config.MaxFrameSize <= 0 {
		config.MaxFrameSize = DefaultMaxFrameSize
	}
	return &Server{
		config:     config,
		log:        log,
		conns:      NewConnectionManager(),
		workerPool: make(chan struct{}, max(config.WorkerPoolSize, 1)),
		onMessage:  onMessage,
		done:       make(chan struct{}),
	}
}

// SetOnConnect registers a callback run after the upgrade and before the
// session_created frame. An error closes the connection.
func (s *Server) SetOnConnect(fn func(conn *Connection) error) {
	s.onConnect = fn
}

// SetOnDisconnect registers a callback invoked when a connection is removed
// (read error, heartbeat timeout, close frame or shutdown).
func (s *Server) SetOnDisconnect(fn func(conn *Connection)) {
	s.onDisconnect = fn
}

// Handler returns the HTTP routes: /ws for upgrades and /health.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Get("/ws", s.handleUpgrade)
	r.Get("/health", s.handleHealth)
	return r
}

// run creates the epoll instance and starts the background loops.
func (s *Server) run() error {
	var err error
	s.epoll, err = NewEpoll()
	if err != nil {
		return fmt.Errorf("ws: failed to create epoll: %w", err)
	}
	s.startedAt = time.Now()

	go s.startEventLoop()
	go s.heartbeat(s.config.Heartbeat)
	return nil
}

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start() error {
	l, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("ws: listen %s: %w", s.config.ListenAddr, err)
	}
	return s.Serve(l)
}

// Serve accepts WebSocket connections on l and blocks until the HTTP server
// stops.
func (s *Server) Serve(l net.Listener) error {
	if err := s.run(); err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.httpServer = srv
	s.mu.Unlock()

	s.log.Info("ws server listening",
		"addr", l.Addr().String(),
		"tls", s.tls(),
		"workers", s.config.WorkerPoolSize,
		"max_conns", s.config.MaxConnections)

	var err error
	if s.tls() {
		err = srv.ServeTLS(l, s.config.TLSCertFile, s.config.TLSKeyFile)
	} else {
		err = srv.Serve(l)
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("ws: http server error: %w", err)
	}
	return nil
}

func (s *Server) tls() bool {
	return s.config.TLSCertFile != "" && s.config.TLSKeyFile != ""
}

// handleUpgrade upgrades the request with the gobwas/ws zero-copy upgrader
// and registers the new session.
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if s.conns.Count() >= s.config.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.log.Warn("ws upgrade failed", "error", err)
		return
	}

	now := time.Now()
	c := &Connection{
		ID:            uuid.New().String(),
		Conn:          conn,
		Fd:            socketFD(conn),
		RemoteAddress: remoteAddress(r),
		Agent:         r.UserAgent(),
		CreatedAt:     now,
	}
	c.Touch()

	if s.onConnect != nil {
		if err := s.onConnect(c); err != nil {
			s.log.Error("session setup failed", "session", c.ID, "error", err)
			_ = conn.Close()
			return
		}
	}

	s.conns.Add(c)
	metrics.ConnectionsTotal.Set(float64(s.conns.Count()))

	if err := s.epoll.Add(conn); err != nil {
		if !errors.Is(err, errNoFD) {
			s.log.Error("epoll add failed", "session", c.ID, "error", err)
			s.RemoveConnection(c)
			return
		}
		go s.readLoop(c)
	}

	sessionMsg, err := protocol.NewServerMessage(protocol.TypeSessionCreated, protocol.SessionCreatedMsg{
		SessionID: c.ID,
	})
	if err != nil {
		s.log.Error("build session_created failed", "session", c.ID, "error", err)
	} else if err := s.write(c, sessionMsg); err != nil {
		s.log.Warn("send session_created failed", "session", c.ID, "error", err)
	}

	s.log.Debug("connection opened",
		"session", c.ID, "fd", c.Fd, "remote_address", c.RemoteAddress, "total", s.conns.Count())
}

// remoteAddress prefers the proxy headers set by the load balancer.
func remoteAddress(r *http.Request) string {
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// handleHealth responds with the server's health status as JSON, including
// the current connection count and uptime.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	resp := struct {
		Status      string `json:"status"`
		Connections int    `json:"connections"`
		Uptime      string `json:"uptime"`
	}{
		Status:      "ok",
		Connections: s.conns.Count(),
		Uptime:      time.Since(s.startedAt).Round(time.Second).String(),
	}

	_ = json.NewEncoder(w).Encode(resp)
}

// startEventLoop runs the epoll wait loop and hands each ready connection
// to a worker goroutine bounded by the worker pool.
func (s *Server) startEventLoop() {
	for {
		select {
		case <-s.done:
			return
		default:
		}

		conns, err := s.epoll.Wait()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			if isEINTR(err) {
				continue
			}
			s.log.Error("epoll wait failed", "error", err)
			continue
		}

		for _, conn := range conns {
			c := s.conns.GetByConn(conn)
			if c == nil {
				continue
			}

			// Acquire a worker slot (blocks if pool is full).
			s.workerPool <- struct{}{}
			go func() {
				defer func() { <-s.workerPool }()
				s.handleConn(c)
			}()
		}
	}
}

// handleConn reads one frame from an epoll-ready connection.
func (s *Server) handleConn(c *Connection) {
	// Guard against duplicate dispatch from level-triggered epoll.
	if !atomic.CompareAndSwapInt32(&c.processing, 0, 1) {
		return
	}
	defer atomic.StoreInt32(&c.processing, 0)

	if s.config.ReadTimeout > 0 {
		_ = c.Conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	}
	err := s.readFrame(c)
	_ = c.Conn.SetReadDeadline(time.Time{})

	if err != nil {
		// A read timeout before any header byte means no data was available
		// (stale epoll dispatch); the heartbeat handles dead connections.
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() && !errors.Is(err, errIncompleteFrame) {
			return
		}
		s.log.Debug("read failed", "session", c.ID, "error", err)
		s.RemoveConnection(c)
	}
}

// readLoop reads frames until the connection fails. Used for connections
// that cannot be registered with epoll.
func (s *Server) readLoop(c *Connection) {
	for {
		if err := s.readFrame(c); err != nil {
			s.RemoveConnection(c)
			return
		}
	}
}

var (
	// errClosed reports a close frame from the client.
	errClosed = errors.New("ws: closed by client")

	// errIncompleteFrame marks read failures that leave the stream out of
	// sync with frame boundaries. The connection is dropped.
	errIncompleteFrame = errors.New("ws: incomplete frame")

	// errMessageTooLarge reports a fragmented message above MaxFrameSize.
	errMessageTooLarge = errors.New("ws: message too large")
)

// readFrame reads the next message. Control frames are answered in place
// (ping gets a pong with the same payload) so their payload never leaks into
// the next header. Fragmented messages are reassembled up to MaxFrameSize.
func (s *Server) readFrame(c *Connection) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = xerrors.FromRecover(r)
			s.log.Error("read worker panic", "session", c.ID, "error", err)
		}
	}()

	control := wsutil.ControlFrameHandler(c.writer(), ws.StateServerSide)
	rd := &wsutil.Reader{
		Source:         c.Conn,
		State:          ws.StateServerSide,
		CheckUTF8:      true,
		MaxFrameSize:   s.config.MaxFrameSize,
		OnIntermediate: control,
	}

	header, err := rd.NextFrame()
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return err
		}
		return errors.Join(errIncompleteFrame, err)
	}

	// Any frame proves the connection is alive.
	c.Touch()

	if header.OpCode.IsControl() {
		if err := control(header, rd); err != nil {
			var closed wsutil.ClosedError
			if errors.As(err, &closed) {
				return errClosed
			}
			return errors.Join(errIncompleteFrame, err)
		}
		return nil
	}

	data, err := io.ReadAll(io.LimitReader(rd, s.config.MaxFrameSize+1))
	if err != nil {
		return errors.Join(errIncompleteFrame, err)
	}
	if int64(len(data)) > s.config.MaxFrameSize {
		return errMessageTooLarge
	}

	if len(data) > 0 && s.onMessage != nil {
		s.onMessage(c, data)
	}
	return nil
}

// RemoveConnection unregisters and closes a connection. Concurrent or
// repeated removals run the disconnect callback once.
func (s *Server) RemoveConnection(c *Connection) {
	if s.epoll != nil {
		_ = s.epoll.Remove(c.Conn)
	}

	if !s.conns.Remove(c.ID) {
		return
	}
	metrics.ConnectionsTotal.Set(float64(s.conns.Count()))

	if s.onDisconnect != nil {
		s.onDisconnect(c)
	}

	s.log.Debug("connection closed", "session", c.ID, "total", s.conns.Count())
}

// SendMessage writes a text frame to the connection identified by connID.
func (s *Server) SendMessage(connID string, data []byte) error {
	c := s.conns.Get(connID)
	if c == nil {
		return fmt.Errorf("ws: connection %s not found", connID)
	}
	return s.write(c, data)
}

func (s *Server) write(c *Connection, data []byte) error {
	if s.config.WriteTimeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
		// Cleared so it doesn't affect later writes such as heartbeat pings.
		defer c.Conn.SetWriteDeadline(time.Time{})
	}
	return c.WriteMessage(data)
}

// Connections returns the ConnectionManager.
func (s *Server) Connections() *ConnectionManager {
	return s.conns
}

// heartbeat pings every connection each Interval and evicts those with no
// activity within Interval + Timeout.
func (s *Server) heartbeat(config HeartbeatConfig) {
	if config.Interval <= 0 {
		return
	}
	ticker := time.NewTicker(config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.checkConnections(config, time.Now())
		}
	}
}

func (s *Server) checkConnections(config HeartbeatConfig, now time.Time) {
	deadline := config.Interval + config.Timeout

	for _, c := range s.conns.All() {
		if idle := now.Sub(c.LastSeen()); idle > deadline {
			s.log.Info("heartbeat timeout", "session", c.ID, "idle", idle.Round(time.Second))
			s.RemoveConnection(c)
			continue
		}

		if err := c.WritePing(); err != nil {
			s.log.Warn("heartbeat ping failed", "session", c.ID, "error", err)
			s.RemoveConnection(c)
		}
	}
}

// Shutdown stops the HTTP listener and the background loops, then removes
// every connection so each session is closed.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		close(s.done)

		s.mu.Lock()
		srv := s.httpServer
		s.mu.Unlock()
		if srv != nil {
			if shutdownErr := srv.Shutdown(ctx); shutdownErr != nil {
				err = fmt.Errorf("ws: http shutdown: %w", shutdownErr)
			}
		}

		for _, c := range s.conns.All() {
			s.RemoveConnection(c)
		}

		if s.epoll != nil {
			_ = s.epoll.Close()
		}
		s.log.Info("ws server stopped")
	})
	return err
}
