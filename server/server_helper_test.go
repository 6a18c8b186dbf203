package server

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/textproto"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jlaffaye/ftp"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testServer is a running server on a loopback port.
type testServer struct {
	*Server
	addr   string
	root   string
	cancel context.CancelFunc
	errCh  chan error
}

// startServer serves a fresh temporary directory. The server is stopped
// when the test ends.
func startServer(t *testing.T, opts ...Option) *testServer {
	t.Helper()
	root := t.TempDir()
	return startServerAt(t, root, opts...)
}

func startServerAt(t *testing.T, root string, opts ...Option) *testServer {
	t.Helper()

	opts = append([]Option{WithRoot(root), WithLogger(discardLogger())}, opts...)
	s, err := NewServer("127.0.0.1:0", opts...)
	fatalIfErr(t, err, "NewServer")

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	fatalIfErr(t, err, "Listen")

	ctx, cancel := context.WithCancel(context.Background())
	ts := &testServer{
		Server: s,
		addr:   ln.Addr().String(),
		root:   s.Root(),
		cancel: cancel,
		errCh:  make(chan error, 1),
	}
	go func() {
		ts.errCh <- s.Serve(ctx, ln)
	}()

	t.Cleanup(func() {
		cancel()
		select {
		case <-ts.errCh:
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})
	return ts
}

// stop cancels the server and returns the error from Serve.
func (ts *testServer) stop(t *testing.T) error {
	t.Helper()
	ts.cancel()
	select {
	case err := <-ts.errCh:
		// Put the result back for the cleanup.
		ts.errCh <- err
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
		return nil
	}
}

// dial connects an FTP client and logs in.
func (ts *testServer) dial(t *testing.T) *ftp.ServerConn {
	t.Helper()
	c, err := ftp.Dial(ts.addr,
		ftp.DialWithTimeout(5*time.Second),
		ftp.DialWithDisabledEPSV(true),
	)
	fatalIfErr(t, err, "Dial")
	t.Cleanup(func() { _ = c.Quit() })

	fatalIfErr(t, c.Login("anonymous", "anonymous"), "Login")
	return c
}

// writeFile creates a file below the server root.
func (ts *testServer) writeFile(t *testing.T, rel, content string) {
	t.Helper()
	p := filepath.Join(ts.root, filepath.FromSlash(rel))
	fatalIfErr(t, os.MkdirAll(filepath.Dir(p), 0o755), "MkdirAll")
	fatalIfErr(t, os.WriteFile(p, []byte(content), 0o644), "WriteFile")
}

// checkFile fails the test unless rel below the root holds want.
func (ts *testServer) checkFile(t *testing.T, rel, want string) {
	t.Helper()
	got, err := os.ReadFile(filepath.Join(ts.root, filepath.FromSlash(rel)))
	fatalIfErr(t, err, "ReadFile")
	if string(got) != want {
		t.Errorf("%s = %q, want %q", rel, got, want)
	}
}

// checkAbsent fails the test if rel exists below the root.
func (ts *testServer) checkAbsent(t *testing.T, rel string) {
	t.Helper()
	if _, err := os.Lstat(filepath.Join(ts.root, filepath.FromSlash(rel))); !os.IsNotExist(err) {
		t.Errorf("%s exists after a failed STOR (err %v)", rel, err)
	}
}

// rawConn is a control connection driven line by line.
type rawConn struct {
	t    *testing.T
	conn net.Conn
	text *textproto.Conn
}

// dialRaw connects and consumes the 220 greeting.
func (ts *testServer) dialRaw(t *testing.T) *rawConn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", ts.addr, 5*time.Second)
	fatalIfErr(t, err, "Dial")
	t.Cleanup(func() { conn.Close() })
	_ = conn.SetDeadline(time.Now().Add(10 * time.Second))

	rc := &rawConn{t: t, conn: conn, text: textproto.NewConn(conn)}
	rc.expect(220)
	return rc
}

// login sends USER and PASS.
func (rc *rawConn) login() {
	rc.t.Helper()
	rc.cmd(331, "USER tester")
	rc.cmd(230, "PASS secret")
}

// send writes one command line.
func (rc *rawConn) send(format string, args ...any) {
	rc.t.Helper()
	_, err := rc.text.Cmd(format, args...)
	fatalIfErr(rc.t, err, "send %q", format)
}

// read returns the next reply.
func (rc *rawConn) read() (int, string) {
	rc.t.Helper()
	code, msg, err := rc.text.ReadResponse(0)
	if err != nil {
		var protoErr *textproto.Error
		if !errors.As(err, &protoErr) {
			rc.t.Fatalf("ReadResponse: %v", err)
		}
	}
	return code, msg
}

// expect reads a reply and checks its code.
func (rc *rawConn) expect(want int) string {
	rc.t.Helper()
	code, msg := rc.read()
	if code != want {
		rc.t.Fatalf("expected %d, got %d %s", want, code, msg)
	}
	return msg
}

// cmd sends a command and checks the reply code.
func (rc *rawConn) cmd(want int, format string, args ...any) string {
	rc.t.Helper()
	rc.send(format, args...)
	return rc.expect(want)
}

// pasv sends PASV and connects to the advertised address.
func (rc *rawConn) pasv() net.Conn {
	rc.t.Helper()
	msg := rc.cmd(227, "PASV")
	start, end := strings.Index(msg, "("), strings.Index(msg, ")")
	if start < 0 || end < start {
		rc.t.Fatalf("bad PASV reply %q", msg)
	}
	ip, port, err := parseHostPort(msg[start+1 : end])
	fatalIfErr(rc.t, err, "parse PASV reply %q", msg)

	conn, err := net.DialTimeout("tcp", net.JoinHostPort(ip.String(), strconv.Itoa(port)), 5*time.Second)
	fatalIfErr(rc.t, err, "dial passive port")
	rc.t.Cleanup(func() { conn.Close() })
	_ = conn.SetDeadline(time.Now().Add(10 * time.Second))
	return conn
}

// expectClosed waits for the server to close the control connection.
func (rc *rawConn) expectClosed() {
	rc.t.Helper()
	for {
		_, err := rc.text.ReadLine()
		if err != nil {
			return
		}
	}
}

// safeBuffer is a bytes.Buffer that can be written by session goroutines
// while the test reads it.
type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *safeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// dialNoGreeting connects and reads whatever the server sends first.
func dialNoGreeting(addr string) (net.Conn, error) {
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return nil, err
	}
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
	buf := make([]byte, 256)
	_, _ = conn.Read(buf)
	return conn, nil
}
