package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/grandcat/zeroconf"
	"go.uber.org/zap"

	"github.com/muurk/emunwa/internal/backend"
	"github.com/muurk/emunwa/internal/config"
	"github.com/muurk/emunwa/internal/logging"
)

const (
	// ServiceType is the mDNS service type used for announcement
	ServiceType = "_usb2snes._tcp"
	// ServiceDomain is the mDNS domain
	ServiceDomain = "local."

	// Upper bound for draining sessions on shutdown
	shutdownTimeout = 10 * time.Second
)

// Backend is the part of *backend.Backend the dispatcher uses.
type Backend interface {
	Name() string
	Discover(ctx context.Context) ([]string, error)
	Attach(name string) (backend.Device, error)
	LastError(name string) (string, bool)
}

// Config holds the server configuration
type Config struct {
	Host     string
	Port     int
	Announce bool
	// InstanceName is the mDNS instance name (default "emunwa")
	InstanceName string
}

// ConfigFrom converts the server section of the config file.
func ConfigFrom(s *config.Server) *Config {
	return &Config{Host: s.Host, Port: s.Port, Announce: s.Announce}
}

// Server is the WebSocket dispatcher.
type Server struct {
	config   *Config
	backend  Backend
	upgrader websocket.Upgrader

	mu       sync.Mutex
	listener net.Listener
	sessions map[*session]struct{}
	wg       sync.WaitGroup
}

// New creates a Server dispatching to b.
func New(cfg *Config, b Backend) *Server {
	return &Server{
		config:  cfg,
		backend: b,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Local tools connect from arbitrary origins.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		sessions: make(map[*session]struct{}),
	}
}

// Handler returns the HTTP handler that upgrades requests to sessions.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.serveWS)
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn("WebSocket upgrade failed",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err),
		)
		return
	}

	sess := newSession(conn, s.backend)
	s.mu.Lock()
	s.sessions[sess] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.sessions, sess)
		s.mu.Unlock()
		s.wg.Done()
	}()

	sess.run(r.Context())
}

// Addr returns the listening address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// ActiveSessions returns the number of open sessions
func (s *Server) ActiveSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Start listens and serves until ctx is canceled.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	httpSrv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logging.Info("Server listening for connections",
		zap.String("addr", listener.Addr().String()),
		zap.String("backend", s.backend.Name()),
	)

	if s.config.Announce {
		stop, err := s.announce(listener.Addr())
		if err != nil {
			logging.Warn("mDNS announcement failed", zap.Error(err))
		} else {
			defer stop()
		}
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- httpSrv.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		logging.Info("Shutting down server...")
	case err := <-errChan:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server stopped: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.shutdown(shutdownCtx, httpSrv)
}

// shutdown stops accepting, closes every session and waits for them.
func (s *Server) shutdown(ctx context.Context, httpSrv *http.Server) error {
	// Hijacked connections are not tracked by http.Server.
	err := httpSrv.Shutdown(ctx)

	s.mu.Lock()
	for sess := range s.sessions {
		sess.close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logging.Info("All sessions closed gracefully")
	case <-ctx.Done():
		logging.Warn("Shutdown timeout, forcing close")
	}

	logging.Sync()
	return err
}

// announce registers the endpoint over mDNS. The returned function
// withdraws it.
func (s *Server) announce(addr net.Addr) (func(), error) {
	port := s.config.Port
	if tcp, ok := addr.(*net.TCPAddr); ok {
		port = tcp.Port
	}
	name := s.config.InstanceName
	if name == "" {
		name = "emunwa"
	}

	txt := []string{"backend=" + s.backend.Name()}
	svc, err := zeroconf.Register(name, ServiceType, ServiceDomain, port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to register mDNS service: %w", err)
	}

	logging.Info("Announcing endpoint over mDNS",
		zap.String("instance", name),
		zap.String("service", ServiceType),
		zap.Int("port", port),
	)
	return svc.Shutdown, nil
}
