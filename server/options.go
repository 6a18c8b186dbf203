package server

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/gonzalop/ftpd/internal/ratelimit"
)

// Option is a functional option for configuring an FTP server.
type Option func(*Server) error

// PassiveSettings controls how PASV listeners are opened and advertised.
type PassiveSettings struct {
	// PublicHost is the IPv4 address (or hostname resolving to one) sent in
	// 227 replies. If empty, the control connection's local address is used.
	PublicHost string

	// MinPort and MaxPort bound the passive listening ports. If either is
	// zero an ephemeral port is used.
	MinPort int
	MaxPort int
}

// WithRoot sets the directory served to clients. This option is required.
// The directory must exist; it is canonicalized when the server is created.
//
// Example:
//
//	s, _ := server.NewServer(":2121", server.WithRoot("/srv/ftp"))
func WithRoot(path string) Option {
	return func(s *Server) error {
		if s.root != "" {
			return fmt.Errorf("root already set")
		}
		if path == "" {
			return fmt.Errorf("root path must not be empty")
		}
		s.root = path
		return nil
	}
}

// WithFs sets the filesystem used for file operations. It must present the
// real OS tree at the same paths, since containment checks run on the OS
// view. Defaults to afero.NewOsFs().
func WithFs(fs afero.Fs) Option {
	return func(s *Server) error {
		s.fs = fs
		return nil
	}
}

// WithLogger sets a custom logger for the server.
// If not specified, slog.Default() is used.
//
// Example with debug logging:
//
//	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	}))
//	s, _ := server.NewServer(":2121",
//	    server.WithRoot("/srv/ftp"),
//	    server.WithLogger(logger),
//	)
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) error {
		s.logger = logger
		return nil
	}
}

// WithWelcomeMessage sets the text of the 220 greeting.
func WithWelcomeMessage(msg string) Option {
	return func(s *Server) error {
		s.welcomeMessage = msg
		return nil
	}
}

// WithMaxIdleTime sets the maximum time to wait for the next command.
// If not specified, defaults to 5 minutes. Zero disables the limit.
func WithMaxIdleTime(duration time.Duration) Option {
	return func(s *Server) error {
		if duration < 0 {
			return fmt.Errorf("max idle time must not be negative")
		}
		s.maxIdleTime = duration
		return nil
	}
}

// WithMaxConnections sets the maximum number of simultaneous sessions, in
// total and per client IP. Zero means no limit.
//
// When a limit is reached, new connections receive a 421 reply and are
// closed.
//
// Example:
//
//	s, _ := server.NewServer(":2121",
//	    server.WithRoot("/srv/ftp"),
//	    server.WithMaxConnections(100, 10), // Max 100 total, 10 per IP
//	)
func WithMaxConnections(total, perIP int) Option {
	return func(s *Server) error {
		if total < 0 || perIP < 0 {
			return fmt.Errorf("connection limits must not be negative")
		}
		s.maxConnections = total
		s.maxConnectionsPerIP = perIP
		return nil
	}
}

// WithPassiveSettings configures PASV listeners.
func WithPassiveSettings(settings PassiveSettings) Option {
	return func(s *Server) error {
		if settings.MinPort < 0 || settings.MaxPort > 65535 || settings.MaxPort < settings.MinPort {
			return fmt.Errorf("invalid passive port range [%d, %d]", settings.MinPort, settings.MaxPort)
		}
		if settings.PublicHost != "" {
			if ip := net.ParseIP(settings.PublicHost); ip != nil && ip.To4() == nil {
				return fmt.Errorf("passive public host must be IPv4: %s", settings.PublicHost)
			}
		}
		s.passive = settings
		return nil
	}
}

// WithBandwidthLimit limits data transfers in bytes per second.
// global is shared by every session; perSession applies to each session
// separately. Zero means unlimited.
func WithBandwidthLimit(global, perSession int64) Option {
	return func(s *Server) error {
		s.globalLimiter = ratelimit.New(global)
		s.bandwidthLimitPerSession = perSession
		return nil
	}
}

// WithTransferLog appends a line in xferlog format to w for every completed
// RETR and STOR.
func WithTransferLog(w io.Writer) Option {
	return func(s *Server) error {
		s.transferLog = w
		return nil
	}
}

// WithMetricsCollector sets the collector notified of commands, transfers
// and connections.
func WithMetricsCollector(collector MetricsCollector) Option {
	return func(s *Server) error {
		s.metricsCollector = collector
		return nil
	}
}

// WithDisableCommands makes the server answer the given verbs with 502,
// as if they were not implemented. QUIT cannot be disabled.
//
// Example:
//
//	s, _ := server.NewServer(":2121",
//	    server.WithRoot("/srv/ftp"),
//	    server.WithDisableCommands(server.WriteCommands...),
//	)
func WithDisableCommands(cmds ...string) Option {
	return func(s *Server) error {
		for _, cmd := range cmds {
			cmd = strings.ToUpper(strings.TrimSpace(cmd))
			if cmd == "QUIT" {
				return fmt.Errorf("QUIT cannot be disabled")
			}
			if _, ok := commandHandlers[cmd]; !ok {
				return fmt.Errorf("unknown command %q", cmd)
			}
			s.disabledCommands[cmd] = true
		}
		return nil
	}
}
