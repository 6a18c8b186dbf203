// Package server implements a small FTP server that serves one directory
// tree to any client.
//
// # Overview
//
// Every control connection runs in its own goroutine and gets its own
// session: a login flag, a working directory, an optional pending rename
// and at most one pending data connection. Sessions share nothing but the
// filesystem.
//
// Login is a formality. USER accepts any name and PASS any password; the
// server exists to move files, not to guard them. What it does guard is the
// root directory: every client path is resolved through internal/jail, and
// no path, relative or absolute, through ".." or through symlinks, can name
// anything outside the root.
//
// # Getting Started
//
//	package main
//
//	import (
//	    "context"
//	    "errors"
//	    "log"
//	    "os"
//	    "os/signal"
//
//	    "github.com/gonzalop/ftpd/server"
//	)
//
//	func main() {
//	    s, err := server.NewServer(":2121", server.WithRoot("/srv/ftp"))
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//
//	    ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
//	    defer stop()
//
//	    if err := s.ListenAndServe(ctx); err != nil && !errors.Is(err, server.ErrServerClosed) {
//	        log.Fatal(err)
//	    }
//	}
//
// # Commands
//
// Access: USER, PASS, ACCT (always 500), QUIT.
//
// Navigation: CWD, XCWD, CDUP, XCUP, PWD, XPWD.
//
// Files: LIST, NLST, RETR, STOR, DELE, MKD, XMKD, RMD, XRMD, RNFR, RNTO.
//
// Parameters: TYPE, PORT, PASV, STRU, MODE, OPTS UTF8 ON.
//
// Information: SYST, STAT, HELP, NOOP.
//
// Anything else is answered with 502, as is any verb switched off with
// WithDisableCommands.
//
// # Data Connections
//
// PASV opens a listener and PORT dials the client immediately; either way
// the result is held until the next LIST, NLST, RETR or STOR, which uses it
// exactly once. A transfer command with nothing pending gets 425. Only
// stream mode with file structure is supported. TYPE I (the default) sends
// files as stored; TYPE A converts line endings to CRLF on the wire.
//
// PORT only connects back to the client's own address.
//
// # Shutdown
//
// Cancelling the context given to Serve (or calling Shutdown) closes the
// listener and signals every session. Blocked reads, accepts and copies
// are interrupted, sessions send a best-effort 421, and Serve returns
// ErrServerClosed once the last session goroutine has exited.
//
// # Limits and Accounting
//
//	s, _ := server.NewServer(":2121",
//	    server.WithRoot("/srv/ftp"),
//	    server.WithMaxConnections(100, 10),
//	    server.WithMaxIdleTime(10*time.Minute),
//	    server.WithBandwidthLimit(10<<20, 1<<20),
//	    server.WithTransferLog(xferlog),
//	    server.WithMetricsCollector(collector),
//	)
//
// The metrics collector interface is implemented for Prometheus by
// internal/metrics.
package server
