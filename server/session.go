package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/gonzalop/ftpd/internal/jail"
	"github.com/gonzalop/ftpd/internal/ratelimit"
)

// MaxCommandLength is the maximum length of a command line.
const MaxCommandLength = 4096

// bestEffortTimeout bounds replies that are sent while the session is
// already going away.
const bestEffortTimeout = time.Second

var errCommandTooLong = errors.New("command too long")

// session represents one FTP control connection.
//
// A session is owned by a single goroutine: commands are read, dispatched
// and answered strictly in order, so its state needs no locking.
type session struct {
	server *Server
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer
	logger *slog.Logger

	// Session tracking
	sessionID string
	remoteIP  string

	// State
	isLoggedIn   bool
	user         string
	jail         *jail.Resolver
	renameFrom   string   // set by RNFR, consumed by RNTO
	data         dataMode // pending PASV/PORT connection, nil if none
	transferType string   // A or I

	limiter  *ratelimit.Limiter
	lastCode int
}

// commandHandler handles one verb. It must send exactly one reply (or the
// 150/226 pair) and return an error only if the control connection failed.
type commandHandler func(s *session, ctx context.Context, arg string) error

type commandSpec struct {
	handle     commandHandler
	needsLogin bool
}

// commandHandlers maps FTP verbs to their handlers.
// QUIT is handled in handleCommand since it ends the session.
var commandHandlers = map[string]commandSpec{
	// Access control
	"USER": {(*session).handleUSER, false},
	"PASS": {(*session).handlePASS, false},
	"ACCT": {(*session).handleACCT, false},

	// Navigation
	"CWD":  {(*session).handleCWD, true},
	"XCWD": {(*session).handleCWD, true},
	"CDUP": {(*session).handleCDUP, true},
	"XCUP": {(*session).handleCDUP, true},
	"PWD":  {(*session).handlePWD, false},
	"XPWD": {(*session).handlePWD, false},

	// File Management
	"LIST": {(*session).handleLIST, true},
	"NLST": {(*session).handleNLST, true},
	"MKD":  {(*session).handleMKD, true},
	"XMKD": {(*session).handleMKD, true},
	"RMD":  {(*session).handleRMD, true},
	"XRMD": {(*session).handleRMD, true},
	"DELE": {(*session).handleDELE, true},
	"RNFR": {(*session).handleRNFR, true},
	"RNTO": {(*session).handleRNTO, true},

	// File Transfer
	"RETR": {(*session).handleRETR, true},
	"STOR": {(*session).handleSTOR, true},

	// Transfer Parameters
	"TYPE": {(*session).handleTYPE, true},
	"PORT": {(*session).handlePORT, true},
	"PASV": {(*session).handlePASV, true},

	// RFC 1123 Compliance
	"STRU": {(*session).handleSTRU, false},
	"MODE": {(*session).handleMODE, false},
	"SYST": {(*session).handleSYST, false},
	"OPTS": {(*session).handleOPTS, false},
	"STAT": {(*session).handleSTAT, false},
	"HELP": {(*session).handleHELP, false},
	"NOOP": {(*session).handleNOOP, false},
}

// generateSessionID returns a short random identifier for log correlation.
func generateSessionID() string {
	id := uuid.New()
	return strings.ReplaceAll(id.String(), "-", "")[:8]
}

// newSession creates a new session rooted at the server's root directory.
func newSession(server *Server, conn net.Conn) (*session, error) {
	j, err := jail.New(server.root)
	if err != nil {
		return nil, err
	}

	sessionID := generateSessionID()
	remoteIP := remoteHost(conn)

	return &session{
		server:       server,
		conn:         conn,
		reader:       bufio.NewReader(newTelnetReader(conn)),
		writer:       bufio.NewWriter(conn),
		logger:       server.logger.With("session_id", sessionID, "remote_ip", remoteIP),
		sessionID:    sessionID,
		remoteIP:     remoteIP,
		jail:         j,
		transferType: "I",
		limiter:      ratelimit.New(server.bandwidthLimitPerSession),
	}, nil
}

// serve runs the command loop until the client quits, disconnects, the
// control connection fails, or ctx is cancelled.
//
// Cancellation is raced against the blocking read: when ctx is done the
// read deadline is pulled into the past, the pending read fails, and the
// loop notices ctx.Err() and leaves after a best-effort 421.
func (s *session) serve(ctx context.Context) {
	defer s.close()

	stop := context.AfterFunc(ctx, func() {
		_ = s.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	s.logger.Info("session_started")

	if err := s.reply(220, s.server.welcomeMessage); err != nil {
		s.logger.Warn("write_error", "error", err)
		return
	}

	for {
		line, err := s.readCommand(ctx)
		if err != nil {
			s.handleReadError(ctx, err)
			return
		}

		quit, err := s.handleCommand(ctx, line)
		if ctx.Err() != nil {
			s.replyShutdown()
			return
		}
		if err != nil {
			s.fail(err)
			return
		}
		if quit {
			return
		}
	}
}

// readCommand reads one command line, applying the idle deadline.
func (s *session) readCommand(ctx context.Context) (string, error) {
	if s.server.maxIdleTime > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.server.maxIdleTime))
	} else {
		_ = s.conn.SetReadDeadline(time.Time{})
	}
	// Checked after arming the deadline so a cancellation that raced with
	// it is not lost.
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var line []byte
	for {
		b, err := s.reader.ReadByte()
		if err != nil {
			if err == io.EOF && len(line) > 0 {
				return string(line), nil
			}
			return "", err
		}
		if b == '\n' {
			return string(line), nil
		}
		if len(line) >= MaxCommandLength {
			return "", errCommandTooLong
		}
		line = append(line, b)
	}
}

func (s *session) handleReadError(ctx context.Context, err error) {
	switch {
	case ctx.Err() != nil:
		s.replyShutdown()
	case errors.Is(err, io.EOF):
		s.logger.Debug("client_disconnected")
	case errors.Is(err, errCommandTooLong):
		_ = s.replyBestEffort(500, "Command line too long.")
		// Consume the rest of the line so closing does not reset the
		// connection before the client has read the reply.
		_ = s.conn.SetReadDeadline(time.Now().Add(bestEffortTimeout))
		_, _ = s.reader.ReadString('\n')
	default:
		s.fail(err)
	}
}

// fail logs an unrecoverable control-connection error and tries to tell
// the client before the connection is dropped.
func (s *session) fail(err error) {
	s.logger.Warn("session_aborted", "user", s.user, "error", err)
	_ = s.replyBestEffort(451, "Connection aborted.")
}

func (s *session) replyShutdown() {
	s.logger.Debug("session_cancelled", "user", s.user)
	_ = s.replyBestEffort(421, "Service not available, closing control connection.")
}

// parseCommand splits a raw line into an uppercased verb and its argument.
// The argument is passed through unmodified.
func parseCommand(line string) (cmd, arg string) {
	line = strings.ToValidUTF8(line, "�")
	line = strings.TrimRight(line, "\r\n")
	cmd, arg, _ = strings.Cut(line, " ")
	return strings.ToUpper(cmd), arg
}

// handleCommand parses and dispatches a command. It reports whether the
// session should end.
func (s *session) handleCommand(ctx context.Context, line string) (bool, error) {
	cmd, arg := parseCommand(line)

	logArg := arg
	if cmd == "PASS" {
		logArg = "***"
	}
	s.logger.Debug("command_received",
		"user", s.user,
		"cmd", cmd,
		"arg", logArg,
	)

	start := time.Now()
	s.lastCode = 0

	var err error
	quit := false
	spec, ok := commandHandlers[cmd]
	if s.server.disabledCommands[cmd] {
		ok = false
	}
	switch {
	case cmd == "QUIT":
		quit = true
		err = s.reply(221, "Connection shutting down.")
	case !ok:
		err = s.reply(502, "Command not implemented.")
	case spec.needsLogin && !s.isLoggedIn:
		err = s.requireLogin()
	default:
		err = spec.handle(s, ctx, arg)
	}
	if cmd != "RNFR" {
		s.renameFrom = ""
	}

	if s.server.metricsCollector != nil {
		label := cmd
		if !ok && cmd != "QUIT" {
			// Keeps metric cardinality bounded.
			label = "UNKNOWN"
		}
		success := err == nil && s.lastCode < 400
		s.server.metricsCollector.RecordCommand(label, success, time.Since(start))
	}

	return quit, err
}

// requireLogin answers a command that needs an authenticated session.
// It is the single place the 530 reply is produced, and runs before any
// path resolution or filesystem access.
func (s *session) requireLogin() error {
	return s.reply(530, "Not logged in.")
}

// reply sends a response to the client. A write failure means the control
// connection is gone and is returned to end the session.
func (s *session) reply(code int, message string) error {
	s.lastCode = code
	if _, err := fmt.Fprintf(s.writer, "%d %s\r\n", code, message); err != nil {
		return err
	}
	return s.writer.Flush()
}

// replyError answers a failed file action with 550. The text names the
// client's argument and the cause, never the server-side path.
func (s *session) replyError(arg string, err error) error {
	var msg string
	var pathErr *os.PathError
	var linkErr *os.LinkError
	switch {
	case errors.Is(err, jail.ErrOutsideRoot):
		msg = "Permission denied."
	case errors.Is(err, jail.ErrInvalidPath):
		msg = "Invalid path."
	case errors.As(err, &pathErr):
		msg = pathErr.Err.Error()
	case errors.As(err, &linkErr):
		msg = linkErr.Err.Error()
	default:
		msg = err.Error()
	}
	s.logger.Debug("file_action_failed", "user", s.user, "arg", arg, "error", err)
	if arg == "" {
		return s.reply(550, msg)
	}
	return s.reply(550, fmt.Sprintf("%s: %s", arg, msg))
}

// replyBestEffort sends a final reply without waiting long for a slow peer.
func (s *session) replyBestEffort(code int, message string) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(bestEffortTimeout))
	return s.reply(code, message)
}

// close releases the session's sockets.
func (s *session) close() {
	var result *multierror.Error
	if s.data != nil {
		if err := s.data.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("pending data connection: %w", err))
		}
		s.data = nil
	}
	if err := s.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		result = multierror.Append(result, fmt.Errorf("control connection: %w", err))
	}

	s.logger.Debug("session_closed",
		"user", s.user,
		"close_error", result.ErrorOrNil(),
	)
}
