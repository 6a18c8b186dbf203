package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/afero"

	"github.com/gonzalop/ftpd/internal/jail"
	"github.com/gonzalop/ftpd/internal/ratelimit"
)

// Server is the FTP server.
//
// It accepts control connections and runs one session goroutine per
// connection. Every session is jailed to the same root directory but keeps
// its own working directory, login state and pending data connection.
//
// Lifecycle:
//  1. Create server with NewServer()
//  2. Start with ListenAndServe() or Serve()
//  3. Cancel the context passed to Serve, or call Shutdown, to stop
//     accepting and signal every session
//  4. Serve returns once all sessions have finished
//
// Basic example:
//
//	s, err := server.NewServer(":2121", server.WithRoot("/srv/ftp"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer stop()
//	if err := s.ListenAndServe(ctx); err != nil && err != server.ErrServerClosed {
//	    log.Fatal(err)
//	}
type Server struct {
	// addr is the TCP address to listen on (e.g., ":2121").
	addr string

	// root is the canonical directory every session is jailed to.
	root string

	// fs performs file operations on paths produced by the jail.
	fs afero.Fs

	// logger is the logger instance.
	logger *slog.Logger

	// welcomeMessage is the text of the 220 greeting.
	welcomeMessage string

	// maxIdleTime is how long a session may wait for its next command.
	// Defaults to 5 minutes.
	maxIdleTime time.Duration

	// maxConnections is the maximum number of simultaneous sessions.
	// If 0, there is no limit.
	maxConnections int

	// maxConnectionsPerIP is the maximum number of simultaneous sessions per IP.
	// If 0, there is no per-IP limit.
	maxConnectionsPerIP int

	passive         PassiveSettings
	nextPassivePort atomic.Int32

	globalLimiter            *ratelimit.Limiter
	bandwidthLimitPerSession int64

	transferLog   io.Writer
	transferLogMu sync.Mutex

	metricsCollector MetricsCollector

	// disabledCommands are answered with 502.
	disabledCommands map[string]bool

	// activeConns tracks the number of running sessions.
	activeConns atomic.Int32

	// connsByIP tracks the number of running sessions per IP address.
	connsByIP   map[string]int32
	connsByIPMu sync.Mutex

	// Shutdown handling
	mu         sync.Mutex
	cancel     context.CancelFunc
	done       chan struct{}
	sessions   sync.WaitGroup
	inShutdown atomic.Bool
}

// ErrServerClosed is returned by Serve and ListenAndServe after the
// server's context is cancelled or Shutdown is called.
var ErrServerClosed = errors.New("ftp: Server closed")

// NewServer creates a new FTP server with the given address and options.
// The address should be in the form ":port" or "host:port".
// The root directory must be provided via the WithRoot option.
//
// Default values:
//   - Logger: slog.Default()
//   - Fs: afero.NewOsFs()
//   - MaxIdleTime: 5 minutes
//   - MaxConnections: 0 (unlimited)
//
// With connection limits:
//
//	s, _ := server.NewServer(":2121",
//	    server.WithRoot("/srv/ftp"),
//	    server.WithMaxConnections(100, 10),
//	    server.WithMaxIdleTime(10*time.Minute),
//	)
func NewServer(addr string, options ...Option) (*Server, error) {
	s := &Server{
		addr:           addr,
		fs:             afero.NewOsFs(),
		logger:         slog.Default(),
		welcomeMessage: "Service ready for new user",
		maxIdleTime:    5 * time.Minute,
		connsByIP:      make(map[string]int32),

		disabledCommands: make(map[string]bool),
	}

	for _, opt := range options {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	if s.root == "" {
		return nil, fmt.Errorf("root is required (use WithRoot option)")
	}
	j, err := jail.New(s.root)
	if err != nil {
		return nil, err
	}
	s.root = j.Root()

	return s, nil
}

// Root returns the canonical root directory.
func (s *Server) Root() string {
	return s.root
}

// ListenAndServe listens on the configured address and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}

	s.logger.Info("server_listening", "addr", ln.Addr().String(), "root", s.root)
	return s.Serve(ctx, ln)
}

// Serve accepts incoming connections on l until ctx is cancelled or
// Shutdown is called. Each connection is handled in its own goroutine.
//
// Cancellation is broadcast to every running session. Serve always waits
// for all of them to finish before returning ErrServerClosed.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	s.mu.Lock()
	if s.inShutdown.Load() {
		s.mu.Unlock()
		l.Close()
		return ErrServerClosed
	}
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("server is already serving")
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		s.inShutdown.Store(true)
		l.Close()
	})

	defer func() {
		stop()
		s.inShutdown.Store(true)
		cancel()
		l.Close()
		s.sessions.Wait()
		s.logger.Info("server_stopped")
		close(done)
	}()

	for {
		conn, err := l.Accept()
		if err != nil {
			if s.inShutdown.Load() || ctx.Err() != nil {
				return ErrServerClosed
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			s.logger.Error("accept_error", "error", err)
			continue
		}

		s.sessions.Add(1)
		go func() {
			defer s.sessions.Done()
			s.handleConnection(ctx, conn)
		}()
	}
}

// Shutdown stops accepting connections, signals every session to end and
// waits for Serve to finish draining them, or for ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.inShutdown.Store(true)

	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ActiveSessions returns the number of running sessions.
func (s *Server) ActiveSessions() int {
	return int(s.activeConns.Load())
}

func remoteHost(conn net.Conn) string {
	remoteAddr := conn.RemoteAddr().String()
	ip, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return ip
}

// handleConnection enforces connection limits and runs a session.
func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	ip := remoteHost(conn)

	// Claim a slot before checking the cap so concurrent accepts cannot
	// both pass it.
	if n := s.activeConns.Add(1); s.maxConnections > 0 && n > int32(s.maxConnections) {
		s.activeConns.Add(-1)
		s.reject(conn, ip, "global_limit_reached", s.maxConnections, "421 Too many users, sorry.")
		return
	}
	defer s.activeConns.Add(-1)

	if !s.trackIP(ip, true) {
		s.reject(conn, ip, "per_ip_limit_reached", s.maxConnectionsPerIP, "421 Too many connections from your IP address.")
		return
	}
	defer s.trackIP(ip, false)

	if s.metricsCollector != nil {
		s.metricsCollector.RecordConnection(true, "accepted")
		s.metricsCollector.RecordSessionStart()
		defer s.metricsCollector.RecordSessionEnd()
	}

	sess, err := newSession(s, conn)
	if err != nil {
		s.logger.Error("session_setup_failed", "remote_ip", ip, "error", err)
		fmt.Fprintf(conn, "421 Service not available, closing control connection.\r\n")
		conn.Close()
		return
	}
	sess.serve(ctx)
}

func (s *Server) reject(conn net.Conn, ip, reason string, limit int, reply string) {
	// Security audit: connection limit reached
	s.logger.Warn("connection_rejected",
		"remote_ip", ip,
		"reason", reason,
		"limit", limit,
	)
	if s.metricsCollector != nil {
		s.metricsCollector.RecordConnection(false, reason)
	}
	_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
	fmt.Fprintf(conn, "%s\r\n", reply)
	conn.Close()
}

// trackIP adjusts the per-IP session count. Adding fails without side
// effects when the IP is already at its limit.
func (s *Server) trackIP(ip string, add bool) bool {
	if s.maxConnectionsPerIP <= 0 {
		return true
	}

	s.connsByIPMu.Lock()
	defer s.connsByIPMu.Unlock()

	if add {
		if s.connsByIP[ip] >= int32(s.maxConnectionsPerIP) {
			return false
		}
		s.connsByIP[ip]++
		return true
	}

	s.connsByIP[ip]--
	if s.connsByIP[ip] <= 0 {
		delete(s.connsByIP, ip)
	}
	return true
}
