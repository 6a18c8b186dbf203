package server

import (
	"context"
	"fmt"
	"strings"
)

// handleMODE handles the MODE command.
// RFC 1123 requires Stream mode support.
func (s *session) handleMODE(_ context.Context, arg string) error {
	switch strings.ToUpper(strings.TrimSpace(arg)) {
	case "S":
		// Stream mode (default and only supported mode)
		return s.reply(200, "Mode set to Stream.")
	case "B":
		return s.reply(504, "Block mode not implemented.")
	case "C":
		return s.reply(504, "Compressed mode not implemented.")
	default:
		return s.reply(501, "Unknown transfer mode.")
	}
}

// handleSTRU handles the STRU command.
// RFC 1123 requires File structure support.
func (s *session) handleSTRU(_ context.Context, arg string) error {
	switch strings.ToUpper(strings.TrimSpace(arg)) {
	case "F":
		// File structure (default and only supported structure)
		return s.reply(200, "Structure set to File.")
	case "R":
		return s.reply(504, "Record structure not implemented.")
	case "P":
		return s.reply(504, "Page structure not implemented.")
	default:
		return s.reply(501, "Unknown file structure.")
	}
}

// handleSYST handles the SYST command.
func (s *session) handleSYST(_ context.Context, _ string) error {
	return s.reply(215, "UNIX Type: L8")
}

func (s *session) handleOPTS(_ context.Context, arg string) error {
	if strings.EqualFold(strings.Join(strings.Fields(arg), " "), "UTF8 ON") {
		return s.reply(200, "Always in UTF8 mode.")
	}
	return s.reply(501, "Option not understood.")
}

func (s *session) handleNOOP(_ context.Context, _ string) error {
	return s.reply(200, "OK.")
}

// handleSTAT handles the STAT command.
// Returns connection status information.
func (s *session) handleSTAT(_ context.Context, arg string) error {
	if arg != "" {
		return s.reply(502, "STAT with path not implemented. Use LIST instead.")
	}

	// Return connection status using multi-line response
	fmt.Fprintf(s.writer, "211-Status:\r\n")
	if s.isLoggedIn {
		fmt.Fprintf(s.writer, " Logged in as: %s\r\n", s.user)
	} else {
		fmt.Fprintf(s.writer, " Not logged in\r\n")
	}
	fmt.Fprintf(s.writer, " TYPE: %s; STRUcture: File; transfer MODE: Stream\r\n", s.transferType)
	switch s.data.(type) {
	case *passiveMode:
		fmt.Fprintf(s.writer, " Passive mode enabled\r\n")
	case *activeMode:
		fmt.Fprintf(s.writer, " Active data connection open\r\n")
	}
	return s.reply(211, "End of status")
}

// helpText lists the verbs in the dispatch table, grouped for display.
var helpText = []string{
	" USER PASS ACCT QUIT",
	" CWD XCWD CDUP XCUP PWD XPWD",
	" LIST NLST MKD XMKD RMD XRMD DELE RNFR RNTO",
	" RETR STOR TYPE PORT PASV",
	" STRU MODE SYST OPTS STAT HELP NOOP",
}

// handleHELP handles the HELP command.
func (s *session) handleHELP(_ context.Context, arg string) error {
	if arg != "" {
		return s.reply(214, fmt.Sprintf("No help available for %s.", arg))
	}

	fmt.Fprintf(s.writer, "214-The following commands are supported:\r\n")
	for _, line := range helpText {
		fmt.Fprintf(s.writer, "%s\r\n", line)
	}
	return s.reply(214, "End of help")
}
