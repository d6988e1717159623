package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/goftpd/ftpd/internal/ratelimit"
	"github.com/goftpd/ftpd/internal/switchboard"
	"github.com/goftpd/ftpd/internal/throttle"
)

// Server is the FTP server.
//
// It handles listening for incoming connections and dispatching them to
// client sessions. Each connection runs in its own goroutine.
//
// Lifecycle:
//  1. Create server with NewServer()
//  2. Start with ListenAndServe() or Serve()
//  3. Server runs until an error occurs or the listener is closed
//  4. For graceful shutdown, close the listener from another goroutine
//
// Basic example:
//
//	driver, _ := server.NewFSDriver("/tmp/ftp")
//	s, err := server.NewServer(":21", server.WithDriver(driver))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(s.ListenAndServe())
//
// With graceful shutdown:
//
//	ln, _ := net.Listen("tcp", ":21")
//	go func() {
//	    <-shutdownChan
//	    ln.Close() // Stops accepting new connections
//	}()
//	s.Serve(ln)
type Server struct {
	// addr is the TCP address to listen on (e.g., ":21").
	addr string

	// driver is the backend driver for authentication and file operations.
	driver Driver

	// logger is the logger instance.
	logger *slog.Logger

	// tlsConfig is the TLS configuration for FTPS.
	// If nil, TLS is disabled.
	tlsConfig *tls.Config

	// disableMLSD disables the MLSD command (for compatibility testing).
	disableMLSD bool

	// proxyProtocol, if true, reads a PROXY protocol v1 or v2 header
	// (internal/proxyproto) from the start of each accepted control
	// connection, identifying the real client address behind a TCP load
	// balancer. A connection that does not begin with a PROXY signature
	// keeps its own remote address.
	proxyProtocol bool

	// welcomeMessage is the banner sent to clients on connection.
	// Defaults to "220 FTP Server Ready".
	welcomeMessage string

	// serverName is the system type returned by the SYST command.
	// Defaults to "UNIX Type: L8".
	serverName string

	// maxIdleTime is the maximum time a connection can be idle before being closed.
	// Defaults to 5 minutes.
	maxIdleTime time.Duration

	// readTimeout is the deadline for read operations on connections.
	// If 0, no timeout is applied.
	readTimeout time.Duration

	// writeTimeout is the deadline for write operations on connections.
	// If 0, no timeout is applied.
	writeTimeout time.Duration

	// maxConnections is the maximum number of simultaneous connections.
	// If 0, there is no limit.
	maxConnections int

	// maxConnectionsPerIP is the maximum number of simultaneous connections per IP.
	// If 0, there is no per-IP limit.
	maxConnectionsPerIP int

	// activeConns tracks the number of currently active connections.
	activeConns atomic.Int32

	// connsByIP tracks the number of active connections per IP address.
	connsByIP   map[string]int32
	connsByIPMu sync.Mutex

	// Shutdown handling
	mu         sync.Mutex
	listener   net.Listener
	conns      map[net.Conn]struct{}
	inShutdown atomic.Bool

	// throttle enforces login lockouts. Nil means throttling is disabled.
	throttle *throttle.Cache

	// eventBus fans presence/data events out to configured sinks. Nil is a
	// valid, no-op bus.
	eventBus *eventBus

	// metricsCollector receives command/transfer/connection/auth metrics.
	// If nil, metrics are not collected.
	metricsCollector MetricsCollector

	// pathRedactor, if set, transforms file paths before they are written
	// to logs.
	pathRedactor PathRedactor

	// redactIPs, if true, masks the last IPv4 octet or IPv6 group of
	// remote addresses before they are written to logs.
	redactIPs bool

	// transferLog, if set, receives one xferlog-style line per completed
	// transfer.
	transferLog   io.Writer
	transferLogMu sync.Mutex

	// bandwidthLimitPerUser caps bytes/sec for each session individually.
	// Zero means unlimited.
	bandwidthLimitPerUser int64

	// globalLimiter caps aggregate bytes/sec across every session sharing
	// this server, on top of any per-user limit.
	globalLimiter *ratelimit.Limiter

	// enableDirMessage causes CWD to display the target directory's
	// .message file contents, if present, after a successful change.
	enableDirMessage bool

	// switchboard allocates passive-mode data ports. Built from
	// passivePortRange/passivePortMode once, in NewServer.
	switchboard      *switchboard.Switchboard
	passivePortMin   int
	passivePortMax   int
	passivePortMode  switchboard.Mode
	passiveAdvertise string // external IP/hostname advertised in PASV/EPSV replies

	// nextPassivePort is unused when switchboard is set; retained only for
	// the pre-switchboard round-robin fallback in listenPassive.
	nextPassivePort int32

	// disabledCommands holds verbs rejected outright with 502, regardless
	// of session state.
	disabledCommands map[string]bool

	// listenerFactory binds passive-mode data-connection listeners when no
	// switchboard is configured. Defaults to DefaultListenerFactory
	// (net.Listen); callers can substitute a proxy-aware or otherwise
	// instrumented net.Listener implementation.
	listenerFactory ListenerFactory
}

// ListenerFactory binds a net.Listener for a passive-mode data connection,
// in place of calling net.Listen directly.
type ListenerFactory interface {
	Listen(network, address string) (net.Listener, error)
}

// DefaultListenerFactory is the ListenerFactory used when none is
// configured via WithListenerFactory; it delegates straight to net.Listen.
type DefaultListenerFactory struct{}

// Listen implements ListenerFactory.
func (DefaultListenerFactory) Listen(network, address string) (net.Listener, error) {
	return net.Listen(network, address)
}

// redactPath applies the configured PathRedactor, if any, else returns path
// unchanged.
func (s *Server) redactPath(path string) string {
	if s.pathRedactor == nil {
		return path
	}
	return s.pathRedactor(path)
}

// redactIP masks the last IPv4 octet or IPv6 group of ip when redactIPs is
// enabled, else returns ip unchanged.
func (s *Server) redactIP(ip string) string {
	if !s.redactIPs || ip == "" {
		return ip
	}
	sep := "."
	if strings.Contains(ip, ":") {
		sep = ":"
	}
	idx := strings.LastIndex(ip, sep)
	if idx < 0 {
		return ip
	}
	return ip[:idx+1] + "xxx"
}

// ErrServerClosed is returned by the Server's Serve and ListenAndServe
// methods after a call to Shutdown.
var ErrServerClosed = errors.New("ftp: Server closed")

// NewServer creates a new FTP server with the given address and options.
// The address should be in the form ":port" or "host:port".
// The driver must be provided via the WithDriver option.
//
// Default values:
//   - Logger: slog.Default()
//   - MaxIdleTime: 5 minutes
//   - MaxConnections: 0 (unlimited)
//   - TLS: disabled
//
// Basic example:
//
//	driver, _ := server.NewFSDriver("/tmp/ftp")
//	s, err := server.NewServer(":21", server.WithDriver(driver))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// With TLS (Explicit FTPS):
//
//	cert, _ := tls.LoadX509KeyPair("server.crt", "server.key")
//	tlsConfig := &tls.Config{
//	    Certificates: []tls.Certificate{cert},
//	    MinVersion:   tls.VersionTLS12,
//	}
//	s, _ := server.NewServer(":21",
//	    server.WithDriver(driver),
//	    server.WithTLS(tlsConfig),
//	)
//
// With connection limits:
//
//	s, _ := server.NewServer(":21",
//	    server.WithDriver(driver),
//	    server.WithMaxConnections(100, 10), // Max 100 total, 10 per IP
//	    server.WithMaxIdleTime(10*time.Minute),
//	)
func NewServer(addr string, options ...Option) (*Server, error) {
	s := &Server{
		addr:            addr,
		logger:          slog.Default(),
		welcomeMessage:  "220 FTP Server Ready",
		serverName:      "UNIX Type: L8",
		maxIdleTime:     5 * time.Minute,
		conns:           make(map[net.Conn]struct{}),
		connsByIP:       make(map[string]int32),
		listenerFactory: &DefaultListenerFactory{},
	}

	// Apply options
	for _, opt := range options {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	// Validate required fields
	if s.driver == nil {
		return nil, fmt.Errorf("driver is required (use WithDriver option)")
	}

	if s.passivePortMin > 0 && s.passivePortMax >= s.passivePortMin {
		sb, err := switchboard.New(s.passivePortMode, s.passivePortMin, s.passivePortMax)
		if err != nil {
			return nil, fmt.Errorf("building passive port switchboard: %w", err)
		}
		s.switchboard = sb
		s.switchboard.Start(switchboard.DefaultScavengeInterval, switchboard.DefaultReservationTimeout)
	}

	if s.throttle != nil {
		s.throttle.Start(throttle.DefaultSweepInterval)
	}

	return s, nil
}

// ListenAndServe is a package-level convenience wrapper that builds an
// anonymous, read-only FSDriver rooted at rootDir and serves addr with it.
// It is meant for quick starts and demos; production callers should build
// a Server with NewServer and the options they need.
func ListenAndServe(addr, rootDir string) error {
	driver, err := NewFSDriver(rootDir)
	if err != nil {
		return err
	}
	s, err := NewServer(addr, WithDriver(driver))
	if err != nil {
		return err
	}
	return s.ListenAndServe()
}

// ListenAndServe starts the FTP server on the configured address.
// It blocks until the server stops or an error occurs.
//
// This is a convenience method that creates a TCP listener and calls Serve().
// For more control (e.g., graceful shutdown), use net.Listen() and Serve() directly.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}

	s.logger.Info("FTP server listening", "addr", s.addr)
	return s.Serve(ln)
}

// Shutdown gracefully stops the server: it stops accepting new
// connections immediately, then waits for in-flight sessions to finish on
// their own until ctx is done, at which point any still-open connections
// are closed forcibly. Close errors from the listener and any forcibly
// closed connections are aggregated with go-multierror.
func (s *Server) Shutdown(ctx context.Context) error {
	s.inShutdown.Store(true)

	s.mu.Lock()
	ln := s.listener
	s.listener = nil
	s.mu.Unlock()

	var result *multierror.Error
	if ln != nil {
		if err := ln.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
drain:
	for s.activeConns.Load() > 0 {
		select {
		case <-ctx.Done():
			break drain
		case <-ticker.C:
		}
	}

	s.mu.Lock()
	conns := s.conns
	s.conns = make(map[net.Conn]struct{})
	s.mu.Unlock()

	for conn := range conns {
		if err := conn.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}

	if s.throttle != nil {
		s.throttle.Stop()
	}
	if s.switchboard != nil {
		s.switchboard.Stop()
	}

	if result == nil {
		if err := ctx.Err(); err != nil && len(conns) > 0 {
			return err
		}
		return nil
	}
	return result.ErrorOrNil()
}

// Serve accepts incoming connections on the listener l.
// It blocks until the listener is closed or an error occurs.
//
// Each connection is handled in a separate goroutine. The server enforces
// connection limits (if configured) and idle timeouts.
//
// For graceful shutdown, close the listener from another goroutine:
//
//	ln, _ := net.Listen("tcp", ":21")
//	go func() {
//	    <-ctx.Done()
//	    ln.Close()
//	}()
//	s.Serve(ln)
func (s *Server) Serve(l net.Listener) error {
	s.mu.Lock()
	if s.inShutdown.Load() {
		s.mu.Unlock()
		l.Close()
		return ErrServerClosed
	}
	s.listener = l
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.listener == l {
			s.listener = nil
		}
		s.mu.Unlock()
		l.Close()
	}()

	for {
		conn, err := l.Accept()
		if err != nil {
			if s.inShutdown.Load() {
				return ErrServerClosed
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			s.logger.Error("accept error", "error", err)
			continue
		}

		go s.handleConnection(conn)
	}
}

// handleConnection handles a new client connection.
func (s *Server) handleConnection(conn net.Conn) {
	if s.proxyProtocol {
		wrapped, err := wrapProxyProtocol(conn)
		if err != nil {
			s.logger.Warn("proxy_protocol_decode_failed", "error", err.Error())
			conn.Close()
			return
		}
		conn = wrapped
	}

	if !s.trackConnection(conn, true) {
		conn.Close()
		return
	}
	defer s.trackConnection(conn, false)

	// Create a new session for this connection
	s.handleSession(conn)
}

// trackConnection returns false if we're shutting down.
func (s *Server) trackConnection(conn net.Conn, add bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inShutdown.Load() {
		conn.Close()
		return false
	}

	if add {
		s.conns[conn] = struct{}{}

		// Track per-IP for data connections
		if s.maxConnectionsPerIP > 0 {
			remoteAddr := conn.RemoteAddr().String()
			ip, _, err := net.SplitHostPort(remoteAddr)
			if err != nil {
				ip = remoteAddr
			}

			s.connsByIPMu.Lock()
			s.connsByIP[ip]++
			s.connsByIPMu.Unlock()
		}
		return true
	}
	// remove
	delete(s.conns, conn)

	// Untrack per-IP for data connections
	if s.maxConnectionsPerIP > 0 {
		remoteAddr := conn.RemoteAddr().String()
		ip, _, err := net.SplitHostPort(remoteAddr)
		if err != nil {
			ip = remoteAddr
		}

		s.connsByIPMu.Lock()
		s.connsByIP[ip]--
		if s.connsByIP[ip] <= 0 {
			delete(s.connsByIP, ip)
		}
		s.connsByIPMu.Unlock()
	}
	return true
}

// trackingConn wraps a net.Conn to track its lifetime in the server.
type trackingConn struct {
	net.Conn
	server *Server
}

func (c *trackingConn) Close() error {
	c.server.trackConnection(c.Conn, false)
	return c.Conn.Close()
}

// handleSession handles a new client connection.
func (s *Server) handleSession(conn net.Conn) {
	// Check global connection limit
	if s.maxConnections > 0 && s.activeConns.Load() >= int32(s.maxConnections) {
		// Security audit: connection limit reached
		remoteAddr := conn.RemoteAddr().String()
		ip, _, _ := net.SplitHostPort(remoteAddr)
		s.logger.Warn("connection_rejected",
			"remote_ip", ip,
			"reason", "global_limit_reached",
			"limit", s.maxConnections,
		)
		// Send 421 service not available
		fmt.Fprintf(conn, "421 Too many users, sorry.\r\n")
		conn.Close()
		return
	}

	// Check per-IP connection limit
	if s.maxConnectionsPerIP > 0 {
		// Extract IP address (remove port)
		remoteAddr := conn.RemoteAddr().String()
		ip, _, err := net.SplitHostPort(remoteAddr)
		if err != nil {
			// If we can't parse the address, use the whole thing
			ip = remoteAddr
		}

		s.connsByIPMu.Lock()
		currentCount := s.connsByIP[ip]
		// trackConnection has already counted this connection.
		if currentCount > int32(s.maxConnectionsPerIP) {
			s.connsByIPMu.Unlock()
			// Security audit: per-IP connection limit reached
			s.logger.Warn("connection_rejected",
				"remote_ip", ip,
				"reason", "per_ip_limit_reached",
				"limit", s.maxConnectionsPerIP,
			)
			fmt.Fprintf(conn, "421 Too many connections from your IP address.\r\n")
			conn.Close()
			return
		}
		s.connsByIPMu.Unlock()
	}

	s.activeConns.Add(1)
	defer s.activeConns.Add(-1)

	session := newSession(s, conn)
	session.serve()
}
