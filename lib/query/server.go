// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/bureau-foundation/statesync/lib/clock"
	"github.com/bureau-foundation/statesync/lib/schema/playerdata"
	"github.com/bureau-foundation/statesync/lib/syncmetrics"
)

const (
	DefaultHost         = "127.0.0.1"
	DefaultPortMin      = 37767
	DefaultPortMax      = 37776
	DefaultEnsurePeriod = 30 * time.Second

	// DefaultRequestRate and DefaultRequestBurst bound GetPlayer
	// requests per connection. Requests over the limit are dropped.
	DefaultRequestRate  = rate.Limit(5)
	DefaultRequestBurst = 10

	writeWait = 5 * time.Second
)

// DefaultAllowedOrigins are the Origin hosts accepted when the config
// names none.
var DefaultAllowedOrigins = []string{"localhost", "dps.osrs.wiki", "tools.runescape.wiki"}

// SnapshotFunc returns the current full snapshot in wire form. It is
// called from connection goroutines and must be safe for concurrent use.
type SnapshotFunc func() playerdata.Data

// Config configures a Server.
type Config struct {
	// Host is the listen address. Default: 127.0.0.1.
	Host string

	// PortMin and PortMax bound the ports tried in order.
	PortMin int
	PortMax int

	// AllowedOrigins lists the accepted Origin hosts.
	AllowedOrigins []string

	// EnsurePeriod is how often Run retries binding while unbound.
	EnsurePeriod time.Duration

	// Snapshot answers GetPlayer requests. Required.
	Snapshot SnapshotFunc

	// Username returns the identity announced on connect. May be nil,
	// in which case connections are told nobody is logged in.
	Username func() string

	RequestRate  rate.Limit
	RequestBurst int

	Clock   clock.Clock
	Metrics *syncmetrics.Metrics
	Logger  *slog.Logger
}

// Server is the local websocket query service.
type Server struct {
	host         string
	portMin      int
	portMax      int
	allowed      map[string]struct{}
	ensurePeriod time.Duration
	snapshot     SnapshotFunc
	username     func() string
	requestRate  rate.Limit
	requestBurst int
	clock        clock.Clock
	metrics      *syncmetrics.Metrics
	logger       *slog.Logger
	upgrader     websocket.Upgrader

	// onBind is called with the bound address each time a listener
	// starts. Tests use it to observe rebinding.
	onBind func(net.Addr)

	mu         sync.Mutex
	nextPort   int
	listener   net.Listener
	httpServer *http.Server
	clients    map[*client]struct{}
}

type client struct {
	conn    *websocket.Conn
	limiter *rate.Limiter

	writeMu sync.Mutex
}

// write sends one JSON message under the client's write lock and a
// write deadline.
func (c *client) write(message any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteJSON(message)
}

// NewServer validates config and returns an unbound Server. Call Run,
// or EnsureActive directly, to start listening.
func NewServer(config Config) (*Server, error) {
	if config.Snapshot == nil {
		return nil, fmt.Errorf("query: Snapshot is required")
	}
	if config.Host == "" {
		config.Host = DefaultHost
	}
	if config.PortMin == 0 && config.PortMax == 0 {
		config.PortMin, config.PortMax = DefaultPortMin, DefaultPortMax
	}
	if config.PortMin <= 0 || config.PortMax > 65535 || config.PortMin > config.PortMax {
		return nil, fmt.Errorf("query: invalid port range %d..%d", config.PortMin, config.PortMax)
	}
	if len(config.AllowedOrigins) == 0 {
		config.AllowedOrigins = DefaultAllowedOrigins
	}
	if config.EnsurePeriod <= 0 {
		config.EnsurePeriod = DefaultEnsurePeriod
	}
	if config.Username == nil {
		config.Username = func() string { return "" }
	}
	if config.RequestRate <= 0 {
		config.RequestRate = DefaultRequestRate
	}
	if config.RequestBurst <= 0 {
		config.RequestBurst = DefaultRequestBurst
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	allowed := make(map[string]struct{}, len(config.AllowedOrigins))
	for _, host := range config.AllowedOrigins {
		allowed[host] = struct{}{}
	}

	s := &Server{
		host:         config.Host,
		portMin:      config.PortMin,
		portMax:      config.PortMax,
		allowed:      allowed,
		ensurePeriod: config.EnsurePeriod,
		snapshot:     config.Snapshot,
		username:     config.Username,
		requestRate:  config.RequestRate,
		requestBurst: config.RequestBurst,
		clock:        config.Clock,
		metrics:      config.Metrics,
		logger:       logger.With("component", "query"),
		nextPort:     config.PortMin,
		clients:      make(map[*client]struct{}),
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}
	return s, nil
}

// Run binds immediately, then calls EnsureActive every EnsurePeriod
// until ctx is cancelled. The server is stopped before Run returns.
func (s *Server) Run(ctx context.Context) error {
	s.EnsureActive()

	ticker := s.clock.NewTicker(s.ensurePeriod)
	defer ticker.Stop()
	defer s.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.EnsureActive()
		}
	}
}

// EnsureActive starts a listener if none is running, trying each port
// in the range at most once beginning after the last one attempted.
// Returns true when a listener is running on return.
func (s *Server) EnsureActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return true
	}

	for attempt := 0; attempt <= s.portMax-s.portMin; attempt++ {
		port := s.nextPort
		s.nextPort++
		if s.nextPort > s.portMax {
			s.nextPort = s.portMin
		}

		address := net.JoinHostPort(s.host, strconv.Itoa(port))
		listener, err := net.Listen("tcp", address)
		if err != nil {
			s.logger.Debug("query port unavailable, trying next", "address", address, "error", err)
			continue
		}
		s.startLocked(listener)
		return true
	}

	s.logger.Warn("query server could not bind any port",
		"port_min", s.portMin,
		"port_max", s.portMax,
		"retry_in", s.ensurePeriod,
	)
	return false
}

func (s *Server) startLocked(listener net.Listener) {
	server := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.listener = listener
	s.httpServer = server
	s.logger.Info("query server listening", "address", listener.Addr().String())
	if s.onBind != nil {
		s.onBind(listener.Addr())
	}

	go func() {
		err := server.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Warn("query server stopped", "error", err)
		}
		s.mu.Lock()
		if s.httpServer == server {
			s.listener = nil
			s.httpServer = nil
		}
		s.mu.Unlock()
	}()
}

// Addr returns the bound address, or nil while unbound.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop closes the listener and every open connection. A later
// EnsureActive starts a fresh listener.
func (s *Server) Stop() {
	s.mu.Lock()
	server := s.httpServer
	s.httpServer = nil
	s.listener = nil
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	if server != nil {
		server.Close()
	}
	for _, c := range clients {
		c.conn.Close()
	}
}

// BroadcastUsername sends UsernameChanged to every open connection.
// Writes are bounded by a deadline per connection, so callers on a
// latency-sensitive path should invoke this in its own goroutine.
func (s *Server) BroadcastUsername(username string) {
	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	message := UsernameChanged{Type: TypeUsernameChanged, Username: username}
	for _, c := range clients {
		if err := c.write(message); err != nil {
			s.logger.Debug("username broadcast failed", "remote", c.conn.RemoteAddr().String(), "error", err)
		}
	}
}

// ServeHTTP accepts websocket upgrades on "/".
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		s.logger.Warn("query request for unknown path", "path", r.URL.Path)
		http.NotFound(w, r)
		return
	}

	// The upgrader writes the error response itself, including 403 for
	// a rejected Origin.
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("query upgrade failed", "error", err)
		return
	}
	s.serveConn(conn)
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Hostname() == "" {
		s.logger.Warn("query request with unparseable origin", "origin", origin)
		return false
	}
	if _, ok := s.allowed[parsed.Hostname()]; !ok {
		s.logger.Warn("query request from unauthorized origin", "origin_host", parsed.Hostname())
		return false
	}
	return true
}

func (s *Server) serveConn(conn *websocket.Conn) {
	c := &client{
		conn:    conn,
		limiter: rate.NewLimiter(s.requestRate, s.requestBurst),
	}

	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.clients, c)
		s.mu.Unlock()
		conn.Close()
	}()

	if err := c.write(UsernameChanged{Type: TypeUsernameChanged, Username: s.username()}); err != nil {
		s.logger.Debug("query greeting failed", "error", err)
		return
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !peerGone(err) {
				s.logger.Debug("query connection read failed", "error", err)
			}
			return
		}

		var request Request
		if err := json.Unmarshal(data, &request); err != nil {
			s.logger.Debug("malformed query request", "error", err)
			continue
		}

		switch request.Type {
		case TypeGetPlayer:
			if !c.limiter.Allow() {
				s.logger.Debug("query request throttled", "sequence_id", request.SequenceID)
				continue
			}
			s.metrics.QueryRequest("websocket")
			response := GetPlayerResponse{
				Type:       TypeGetPlayer,
				SequenceID: request.SequenceID,
				Payload:    s.snapshot(),
			}
			if err := c.write(response); err != nil {
				s.logger.Debug("query response failed", "error", err)
				return
			}
		default:
			s.logger.Debug("query request with no handler", "type", string(request.Type))
		}
	}
}
