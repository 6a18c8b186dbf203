package server

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
)

func (s *session) handleRETR(ctx context.Context, path string) error {
	p, err := s.jail.ResolveExisting(path)
	if err != nil {
		s.discardDataMode()
		return s.replyError(path, err)
	}
	info, err := s.server.fs.Stat(p)
	if err != nil {
		s.discardDataMode()
		return s.replyError(path, err)
	}
	if !info.Mode().IsRegular() {
		s.discardDataMode()
		return s.reply(550, "Not a file.")
	}

	file, err := s.server.fs.Open(p)
	if err != nil {
		s.discardDataMode()
		return s.replyError(path, err)
	}
	defer file.Close()

	var src io.Reader = file
	if s.transferType == "A" {
		src = newCRLFReader(file)
	}

	return s.transfer(ctx, "RETR", s.jail.ClientPath(p), func(rw io.ReadWriter) (int64, error) {
		return copyFile(rw, src)
	})
}

// handleSTOR creates or truncates the target and fills it from the data
// connection.
func (s *session) handleSTOR(ctx context.Context, path string) error {
	p, err := s.jail.ResolveNew(path)
	if err != nil {
		s.discardDataMode()
		return s.replyError(path, err)
	}
	if p == s.jail.Root() {
		s.discardDataMode()
		return s.reply(550, "Permission denied.")
	}

	// The file is only created once the data connection is up, so a 425
	// leaves an existing file untouched.
	conn, err := s.openData(ctx, "STOR")
	if conn == nil {
		return err
	}

	file, err := s.server.fs.Create(p)
	if err != nil {
		conn.Close()
		return s.replyError(path, err)
	}
	closed := false
	defer func() {
		if !closed {
			file.Close()
		}
	}()

	return s.bracket(ctx, "STOR", s.jail.ClientPath(p), conn, func(rw io.ReadWriter) (int64, error) {
		var src io.Reader = rw
		if s.transferType == "A" {
			src = newLFReader(rw)
		}
		n, err := copyFile(file, src)
		closed = true
		if cerr := file.Close(); err == nil {
			err = cerr
		}
		return n, err
	})
}

// handleTYPE accepts ASCII and Image. ASCII only changes line endings.
func (s *session) handleTYPE(_ context.Context, arg string) error {
	switch strings.ToUpper(strings.Join(strings.Fields(arg), " ")) {
	case "A", "A N":
		s.transferType = "A"
		return s.reply(200, "Type set to A.")
	case "I", "L 8":
		s.transferType = "I"
		return s.reply(200, "Type set to I.")
	default:
		return s.reply(550, "Type not supported.")
	}
}

// parseHostPort parses the h1,h2,h3,h4,p1,p2 argument of PORT.
func parseHostPort(arg string) (net.IP, int, error) {
	parts := strings.Split(strings.TrimSpace(arg), ",")
	if len(parts) != 6 {
		return nil, 0, fmt.Errorf("expected 6 fields, got %d", len(parts))
	}

	var b [6]byte
	for i, part := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || v < 0 || v > 255 {
			return nil, 0, fmt.Errorf("invalid field %q", part)
		}
		b[i] = byte(v)
	}

	ip := net.IPv4(b[0], b[1], b[2], b[3])
	port := int(b[4])<<8 | int(b[5])
	return ip, port, nil
}

// handlePORT connects to the client right away and keeps the socket as the
// pending data connection.
func (s *session) handlePORT(ctx context.Context, arg string) error {
	ip, port, err := parseHostPort(arg)
	if err != nil {
		return s.reply(501, "Syntax error in parameters or arguments.")
	}

	// Only allow connecting back to the client itself (no FTP bounce).
	if peer := net.ParseIP(s.remoteIP); peer == nil || !peer.Equal(ip) {
		// Security audit: bounce attempt
		s.logger.Warn("port_rejected",
			"user", s.user,
			"requested_ip", ip.String(),
		)
		return s.reply(500, "Illegal PORT command.")
	}

	dialer := net.Dialer{Timeout: dataDialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(ip.String(), strconv.Itoa(port)))
	if err != nil {
		s.logger.Debug("port_dial_failed", "user", s.user, "error", err)
		s.setDataMode(nil)
		return s.reply(425, "Can't open data connection.")
	}

	s.setDataMode(&activeMode{conn: conn})
	return s.reply(200, "PORT command successful.")
}

// listenPassive opens a listener on the control connection's local address,
// within the configured port range if there is one.
func (s *session) listenPassive() (net.Listener, error) {
	host, _, err := net.SplitHostPort(s.conn.LocalAddr().String())
	if err != nil {
		return nil, err
	}

	minPort, maxPort := s.server.passive.MinPort, s.server.passive.MaxPort
	if minPort <= 0 || maxPort < minPort {
		return net.Listen("tcp", net.JoinHostPort(host, "0"))
	}

	rangeLen := int32(maxPort - minPort + 1)
	// Round-robin starting offset so concurrent sessions spread out.
	start := s.server.nextPassivePort.Add(1)
	for i := int32(0); i < rangeLen; i++ {
		offset := (start + i) % rangeLen
		if offset < 0 {
			offset += rangeLen
		}
		port := minPort + int(offset)
		ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
		if err == nil {
			return ln, nil
		}
	}
	return nil, fmt.Errorf("no available ports in range [%d, %d]", minPort, maxPort)
}

// passiveIP returns the IPv4 address advertised in 227 replies.
func (s *session) passiveIP(ctx context.Context) net.IP {
	host := s.server.passive.PublicHost
	if host == "" {
		host, _, _ = net.SplitHostPort(s.conn.LocalAddr().String())
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.To4()
	}

	addrs, err := net.DefaultResolver.LookupIP(ctx, "ip4", host)
	if err != nil || len(addrs) == 0 {
		s.logger.Warn("public_host_lookup_failed", "host", host, "error", err)
		return nil
	}
	return addrs[0].To4()
}

func (s *session) handlePASV(ctx context.Context, _ string) error {
	// A new PASV replaces whatever was pending.
	s.setDataMode(nil)

	ip := s.passiveIP(ctx)
	if ip == nil {
		return s.reply(425, "Can't open passive connection.")
	}

	ln, err := s.listenPassive()
	if err != nil {
		s.logger.Warn("passive_listen_failed", "error", err)
		return s.reply(425, "Can't open passive connection.")
	}

	port := ln.Addr().(*net.TCPAddr).Port
	s.setDataMode(&passiveMode{ln: ln})

	return s.reply(227, fmt.Sprintf("Entering Passive Mode (%d,%d,%d,%d,%d,%d).",
		ip[0], ip[1], ip[2], ip[3], port>>8, port&0xFF))
}
