package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/gonzalop/ftpd/internal/ratelimit"
)

const (
	// dataAcceptTimeout bounds how long a passive listener waits for the
	// client to connect.
	dataAcceptTimeout = 10 * time.Second

	// dataDialTimeout bounds the outbound connection made by PORT.
	dataDialTimeout = 10 * time.Second
)

// dataMode is the pending data connection of a session: either a passive
// listener waiting for the client or an already connected active socket.
// A session holds at most one; a nil dataMode means none is pending.
type dataMode interface {
	// Open returns the data connection. It may be called once.
	Open(ctx context.Context) (net.Conn, error)
	Close() error
}

// passiveMode is created by PASV.
type passiveMode struct {
	ln net.Listener
}

// Open accepts exactly one connection and closes the listener.
func (m *passiveMode) Open(ctx context.Context) (net.Conn, error) {
	defer m.ln.Close()

	if tl, ok := m.ln.(*net.TCPListener); ok {
		_ = tl.SetDeadline(time.Now().Add(dataAcceptTimeout))
	}
	stop := context.AfterFunc(ctx, func() { m.ln.Close() })
	defer stop()

	conn, err := m.ln.Accept()
	if err != nil {
		return nil, fmt.Errorf("passive accept: %w", err)
	}
	return conn, nil
}

func (m *passiveMode) Close() error {
	err := m.ln.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// activeMode is created by PORT.
type activeMode struct {
	conn net.Conn
}

func (m *activeMode) Open(context.Context) (net.Conn, error) {
	return m.conn, nil
}

func (m *activeMode) Close() error {
	err := m.conn.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// setDataMode installs a new pending data connection, releasing any
// previous one.
func (s *session) setDataMode(m dataMode) {
	if s.data != nil {
		if err := s.data.Close(); err != nil {
			s.logger.Debug("data_mode_close_failed", "error", err)
		}
	}
	s.data = m
}

// takeDataMode moves the pending data connection out of the session.
// The session is left with none, whatever happens to the returned value.
func (s *session) takeDataMode() dataMode {
	m := s.data
	s.data = nil
	return m
}

// discardDataMode closes any pending data connection. Transfer commands
// that fail before the data bracket call it so the mode is still consumed.
func (s *session) discardDataMode() {
	if m := s.takeDataMode(); m != nil {
		if err := m.Close(); err != nil {
			s.logger.Debug("data_mode_close_failed", "error", err)
		}
	}
}

// dataOp moves bytes over an opened data connection. rw is the connection
// wrapped with the session's bandwidth limits.
type dataOp func(rw io.ReadWriter) (int64, error)

// limitedConn applies the bandwidth limiters to both directions of a
// data connection.
type limitedConn struct {
	io.Reader
	io.Writer
}

// transfer runs op inside a data-connection bracket.
//
// With no pending data connection the client gets 425 and op never runs.
// Otherwise 150 is sent, op runs, the data connection is closed and 226 is
// sent. An error from op is returned after 226 and ends the session.
// The returned error is nil only when both the control replies and the
// transfer itself succeeded.
func (s *session) transfer(ctx context.Context, cmd, path string, op dataOp) error {
	conn, err := s.openData(ctx, cmd)
	if conn == nil {
		return err
	}
	return s.bracket(ctx, cmd, path, conn, op)
}

// openData consumes the pending data mode and opens its connection.
// A nil conn means the command is over: 425 has been sent, and err is
// only set if that reply failed.
func (s *session) openData(ctx context.Context, cmd string) (net.Conn, error) {
	mode := s.takeDataMode()
	if mode == nil {
		return nil, s.reply(425, "Use PORT or PASV first.")
	}

	conn, err := mode.Open(ctx)
	if err != nil {
		s.logger.Debug("data_connection_failed", "cmd", cmd, "error", err)
		if cerr := mode.Close(); cerr != nil {
			s.logger.Debug("data_mode_close_failed", "error", cerr)
		}
		return nil, s.reply(425, "Can't open data connection.")
	}
	return conn, nil
}

// bracket sends 150, runs op over conn, closes conn and sends 226.
func (s *session) bracket(ctx context.Context, cmd, path string, conn net.Conn, op dataOp) error {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := s.reply(150, fmt.Sprintf("Opening data connection for %s.", cmd)); err != nil {
		conn.Close()
		return err
	}

	rw := limitedConn{
		Reader: ratelimit.NewReader(ctx, conn, s.server.globalLimiter, s.limiter),
		Writer: ratelimit.NewWriter(ctx, conn, s.server.globalLimiter, s.limiter),
	}

	start := time.Now()
	n, opErr := op(rw)
	if err := conn.Close(); err != nil && opErr == nil && !errors.Is(err, net.ErrClosed) {
		opErr = err
	}
	duration := time.Since(start)

	s.recordTransfer(cmd, path, n, duration, opErr)

	if err := s.reply(226, "Transfer complete."); err != nil {
		return err
	}
	if opErr != nil {
		return fmt.Errorf("%s transfer: %w", cmd, opErr)
	}
	return nil
}

func (s *session) recordTransfer(cmd, path string, n int64, duration time.Duration, err error) {
	if err != nil {
		s.logger.Warn("transfer_failed",
			"user", s.user,
			"operation", cmd,
			"path", path,
			"bytes", n,
			"error", err,
		)
	} else {
		throughputMBps := float64(0)
		if duration.Seconds() > 0 {
			throughputMBps = float64(n) / duration.Seconds() / 1024 / 1024
		}
		s.logger.Info("transfer_complete",
			"user", s.user,
			"operation", cmd,
			"path", path,
			"bytes", n,
			"duration_ms", duration.Milliseconds(),
			"throughput_mbps", fmt.Sprintf("%.2f", throughputMBps),
		)
	}

	if s.server.metricsCollector != nil {
		s.server.metricsCollector.RecordTransfer(cmd, n, duration, err == nil)
	}

	if cmd == "RETR" || cmd == "STOR" {
		s.logTransfer(cmd, path, n, duration, err == nil)
	}
}

// copyFile is a dataOp body shared by RETR and STOR.
func copyFile(dst io.Writer, src io.Reader) (int64, error) {
	n, err := io.Copy(dst, src)
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return n, fmt.Errorf("data connection timed out: %w", err)
	}
	return n, err
}
