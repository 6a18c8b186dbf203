package server

import (
	"fmt"
	"strings"
	"time"
)

// xferlogTimeFormat is the ctime-like timestamp of an xferlog line.
const xferlogTimeFormat = "Mon Jan 02 15:04:05 2006"

// formatXferlog builds one line of the wu-ftpd xferlog format:
//
//	current-time transfer-time remote-host file-size filename transfer-type
//	special-action-flag direction access-mode username service-name
//	authentication-method authenticated-user-id completion-status
func formatXferlog(now time.Time, duration time.Duration, remoteHost string, bytes int64,
	filename, transferType, cmd, user string, complete bool) string {
	// Rounded up to one second as other servers do.
	seconds := int64(duration.Seconds())
	if seconds == 0 {
		seconds = 1
	}

	tType := "b"
	if transferType == "A" {
		tType = "a"
	}

	// o (outgoing/download), i (incoming/upload)
	direction := "o"
	if cmd == "STOR" {
		direction = "i"
	}

	// a (anonymous), r (real user)
	accessMode := "r"
	if user == "anonymous" || user == "ftp" {
		accessMode = "a"
	}
	if user == "" {
		user = "-"
	}

	status := "c"
	if !complete {
		status = "i"
	}

	// Fields are space separated, so spaces in names are escaped.
	filename = strings.ReplaceAll(filename, " ", "_")

	return fmt.Sprintf("%s %d %s %d %s %s _ %s %s %s ftp 0 * %s\n",
		now.Format(xferlogTimeFormat),
		seconds,
		remoteHost,
		bytes,
		filename,
		tType,
		direction,
		accessMode,
		user,
		status,
	)
}

// logTransfer appends a RETR or STOR to the transfer log, if one is set.
func (s *session) logTransfer(cmd, filename string, bytes int64, duration time.Duration, complete bool) {
	if s.server.transferLog == nil {
		return
	}

	line := formatXferlog(time.Now(), duration, s.remoteIP, bytes, filename, s.transferType, cmd, s.user, complete)

	s.server.transferLogMu.Lock()
	defer s.server.transferLogMu.Unlock()
	if _, err := s.server.transferLog.Write([]byte(line)); err != nil {
		s.logger.Warn("transfer_log_write_failed", "error", err)
	}
}
