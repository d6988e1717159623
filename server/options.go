package server

import (
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/goftpd/ftpd/internal/ratelimit"
	"github.com/goftpd/ftpd/internal/switchboard"
	"github.com/goftpd/ftpd/internal/throttle"
)

// Option is a functional option for configuring an FTP server.
type Option func(*Server) error

// WithDriver sets the backend driver for authentication and file operations.
// This option is required and can only be set once.
//
// Example:
//
//	driver, _ := server.NewFSDriver("/tmp/ftp")
//	s, _ := server.NewServer(":21", server.WithDriver(driver))
func WithDriver(driver Driver) Option {
	return func(s *Server) error {
		if s.driver != nil {
			return fmt.Errorf("driver already set")
		}
		s.driver = driver
		return nil
	}
}

// WithTLS enables TLS (FTPS) with the provided configuration.
// Supports both Explicit FTPS (AUTH TLS) and Implicit FTPS.
//
// For Explicit FTPS (recommended, port 21):
//
//	cert, _ := tls.LoadX509KeyPair("server.crt", "server.key")
//	s, _ := server.NewServer(":21",
//	    server.WithDriver(driver),
//	    server.WithTLS(&tls.Config{
//	        Certificates: []tls.Certificate{cert},
//	        MinVersion:   tls.VersionTLS12,
//	    }),
//	)
//
// For Implicit FTPS (legacy, port 990):
//
//	tlsConfig := &tls.Config{Certificates: []tls.Certificate{cert}}
//	ln, _ := tls.Listen("tcp", ":990", tlsConfig)
//	s.Serve(ln)
func WithTLS(config *tls.Config) Option {
	return func(s *Server) error {
		s.tlsConfig = config
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
//	s, _ := server.NewServer(":21",
//	    server.WithDriver(driver),
//	    server.WithLogger(logger),
//	)
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) error {
		s.logger = logger
		return nil
	}
}

// WithMaxIdleTime sets the maximum time a connection can be idle before being closed.
// If not specified, defaults to 5 minutes.
//
// Example:
//
//	s, _ := server.NewServer(":21",
//	    server.WithDriver(driver),
//	    server.WithMaxIdleTime(10*time.Minute),
//	)
func WithMaxIdleTime(duration time.Duration) Option {
	return func(s *Server) error {
		s.maxIdleTime = duration
		return nil
	}
}

// WithMaxConnections sets the maximum number of simultaneous connections
// (max) and the maximum simultaneous connections from a single remote
// address (maxPerIP). Either limit set to 0 disables that check. Both
// default to 0 (unlimited).
//
// When a limit is reached, new connections receive a "421 Too many users"
// response and are closed.
//
// Example:
//
//	s, _ := server.NewServer(":21",
//	    server.WithDriver(driver),
//	    server.WithMaxConnections(100, 5),
//	)
func WithMaxConnections(max, maxPerIP int) Option {
	return func(s *Server) error {
		s.maxConnections = max
		s.maxConnectionsPerIP = maxPerIP
		return nil
	}
}

// WithWelcomeMessage overrides the banner sent to clients on connection.
// Defaults to "220 FTP Server Ready".
func WithWelcomeMessage(message string) Option {
	return func(s *Server) error {
		s.welcomeMessage = message
		return nil
	}
}

// WithServerName overrides the system type string returned by the SYST
// command. Defaults to "UNIX Type: L8".
func WithServerName(name string) Option {
	return func(s *Server) error {
		s.serverName = name
		return nil
	}
}

// WithReadTimeout sets the deadline applied to reads on the control and
// data connections. If 0 (the default), no deadline is applied.
func WithReadTimeout(timeout time.Duration) Option {
	return func(s *Server) error {
		s.readTimeout = timeout
		return nil
	}
}

// WithWriteTimeout sets the deadline applied to writes on the control and
// data connections. If 0 (the default), no deadline is applied.
func WithWriteTimeout(timeout time.Duration) Option {
	return func(s *Server) error {
		s.writeTimeout = timeout
		return nil
	}
}

// WithDisableMLSD disables the MLSD command.
// This is primarily useful for compatibility testing with legacy clients.
//
// Most users should not need this option. MLSD is a modern, standardized
// directory listing command (RFC 3659) that provides more reliable parsing
// than the legacy LIST command.
func WithDisableMLSD(disable bool) Option {
	return func(s *Server) error {
		s.disableMLSD = disable
		return nil
	}
}

// WithBandwidthLimit caps aggregate throughput across every session on this
// server, in bytes per second. It stacks with WithPerUserBandwidthLimit:
// whichever limiter is more restrictive at a given moment wins.
func WithBandwidthLimit(bytesPerSecond int64) Option {
	return func(s *Server) error {
		if bytesPerSecond <= 0 {
			return fmt.Errorf("bandwidth limit must be positive")
		}
		s.globalLimiter = ratelimit.New(bytesPerSecond)
		return nil
	}
}

// WithPerUserBandwidthLimit caps each session's own throughput, in bytes
// per second.
func WithPerUserBandwidthLimit(bytesPerSecond int64) Option {
	return func(s *Server) error {
		if bytesPerSecond <= 0 {
			return fmt.Errorf("bandwidth limit must be positive")
		}
		s.bandwidthLimitPerUser = bytesPerSecond
		return nil
	}
}

// WithPathRedactor installs a function applied to file paths before they
// reach the server's logs.
func WithPathRedactor(redact PathRedactor) Option {
	return func(s *Server) error {
		s.pathRedactor = redact
		return nil
	}
}

// WithRedactIPs enables masking the last IPv4 octet or IPv6 group of
// remote addresses before they reach the server's logs.
func WithRedactIPs(enable bool) Option {
	return func(s *Server) error {
		s.redactIPs = enable
		return nil
	}
}

// WithTransferLog directs one xferlog-style line per completed transfer to
// w, in the wu-ftpd xferlog format.
func WithTransferLog(w io.Writer) Option {
	return func(s *Server) error {
		s.transferLog = w
		return nil
	}
}

// WithEnableDirMessage enables displaying a directory's .message file
// contents to the client after a successful CWD into it, in the style of
// wu-ftpd and vsftpd's message_file.
func WithEnableDirMessage(enable bool) Option {
	return func(s *Server) error {
		s.enableDirMessage = enable
		return nil
	}
}

// WithMetricsCollector installs a MetricsCollector that receives
// command/transfer/connection/authentication events.
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(s *Server) error {
		s.metricsCollector = mc
		return nil
	}
}

// WithLoginThrottle enables login lockout after maxAttempts failures
// within window, keyed according to policy, locking the key out for
// lockFor once tripped.
func WithLoginThrottle(policy throttle.Policy, maxAttempts int, window, lockFor time.Duration) Option {
	return func(s *Server) error {
		s.throttle = throttle.New(policy, maxAttempts, window, lockFor)
		return nil
	}
}

// WithEventSinks registers sinks to receive presence and data-transfer
// events published during the server's lifetime.
func WithEventSinks(sinks ...Sink) Option {
	return func(s *Server) error {
		s.eventBus = newEventBus(sinks)
		return nil
	}
}

// WithDisableCommands rejects the given command verbs outright with a 502
// reply, regardless of session state. Verbs are matched case-insensitively.
func WithDisableCommands(verbs ...string) Option {
	return func(s *Server) error {
		if s.disabledCommands == nil {
			s.disabledCommands = make(map[string]bool, len(verbs))
		}
		for _, v := range verbs {
			s.disabledCommands[normalizeVerb(v)] = true
		}
		return nil
	}
}

// WithListenerFactory overrides how the server binds passive-mode
// data-connection listeners, in place of the default net.Listen-backed
// DefaultListenerFactory. Useful for injecting a proxy-aware or otherwise
// instrumented net.Listener implementation.
// Only applies to the fallback per-session listener used when
// WithPassivePortRange is not set — a configured switchboard always binds
// with net.Listen directly, since its listeners are long-lived and shared
// across sessions.
func WithListenerFactory(factory ListenerFactory) Option {
	return func(s *Server) error {
		s.listenerFactory = factory
		return nil
	}
}

// WithPassivePortRange restricts passive-mode (PASV/EPSV) data connections
// to the given inclusive port range, using mode to select between binding a
// fresh listener per reservation (switchboard.OnDemand, the default) or
// pre-binding the whole range once (switchboard.Pooled).
func WithPassivePortRange(min, max int, mode switchboard.Mode) Option {
	return func(s *Server) error {
		if min <= 0 || max < min {
			return fmt.Errorf("invalid passive port range [%d, %d]", min, max)
		}
		s.passivePortMin = min
		s.passivePortMax = max
		s.passivePortMode = mode
		return nil
	}
}

// WithProxyProtocol reads a PROXY protocol v1 or v2 header from the start
// of each accepted control connection, substituting the header's source
// address as the connection's apparent remote address. A connection that
// does not begin with a PROXY signature keeps its own remote address, and
// one whose header is malformed is closed. Use when the
// server sits behind a TCP load balancer or NAT gateway that speaks PROXY
// protocol (e.g. HAProxy, many managed load balancers).
func WithProxyProtocol(enable bool) Option {
	return func(s *Server) error {
		s.proxyProtocol = enable
		return nil
	}
}

// WithPassiveAdvertisedAddress sets the external IP or hostname advertised
// in PASV/EPSV replies, overriding the address the control connection was
// accepted on. Needed when the server sits behind NAT.
func WithPassiveAdvertisedAddress(addr string) Option {
	return func(s *Server) error {
		s.passiveAdvertise = addr
		return nil
	}
}
