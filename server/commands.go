package server

// Verb groups for WithDisableCommands. A read-only server is
//
//	server.NewServer(":2121",
//	    server.WithRoot("/srv/ftp"),
//	    server.WithDisableCommands(server.WriteCommands...),
//	)
var (
	// WriteCommands modify the served tree.
	WriteCommands = []string{"STOR", "DELE", "MKD", "XMKD", "RMD", "XRMD", "RNFR", "RNTO"}

	// LegacyCommands are the RFC 775 X-aliases of CWD, CDUP, PWD, MKD and RMD.
	LegacyCommands = []string{"XCWD", "XCUP", "XPWD", "XMKD", "XRMD"}

	// ActiveModeCommands open data connections from the server to the
	// client. Disabling them leaves PASV as the only data mode.
	ActiveModeCommands = []string{"PORT"}

	// ListingCommands send directory contents over a data connection.
	ListingCommands = []string{"LIST", "NLST"}
)
