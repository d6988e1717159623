package ftp

import (
	"bufio"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"
)

// Client is a control-channel connection to an FTP server plus whatever
// data connection its current command has open.
type Client struct {
	conn   net.Conn
	reader *bufio.Reader

	tlsConfig *tls.Config
	useTLS    bool

	timeout time.Duration
	logger  *slog.Logger
	dialer  *net.Dialer

	host string
	port string

	activeMode      bool
	epsvUnsupported bool
	currentType     string

	mu             sync.Mutex
	lastCommand    time.Time
	activeDataConn net.Conn
}

// Dial connects to addr ("host:port") and waits for the greeting. It does
// not log in — call Login once connected.
func Dial(addr string, options ...Option) (*Client, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("ftp: invalid address %q: %w", addr, err)
	}

	c := &Client{
		host:    host,
		port:    port,
		timeout: 30 * time.Second,
		dialer:  &net.Dialer{},
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, opt := range options {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("ftp: applying option: %w", err)
		}
	}
	c.dialer.Timeout = c.timeout

	if err := c.connect(); err != nil {
		return nil, err
	}
	c.lastCommand = time.Now()
	return c, nil
}

func (c *Client) connect() error {
	addr := net.JoinHostPort(c.host, c.port)
	conn, err := c.dialer.Dial("tcp", addr)
	if err != nil {
		return fmt.Errorf("ftp: dialing %s: %w", addr, err)
	}
	c.conn = conn
	c.reader = bufio.NewReader(conn)

	if c.timeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
			conn.Close()
			return err
		}
	}

	resp, err := readResponse(c.reader)
	if err != nil {
		conn.Close()
		return fmt.Errorf("ftp: reading greeting: %w", err)
	}
	c.logger.Debug("ftp greeting", "code", resp.Code, "message", resp.Message)
	if resp.Code != 220 {
		conn.Close()
		return &ProtocolError{Command: "CONNECT", Response: resp.Message, Code: resp.Code}
	}

	if c.useTLS {
		if err := c.upgradeToTLS(); err != nil {
			conn.Close()
			return err
		}
	}
	return nil
}

// upgradeToTLS runs AUTH TLS on the control channel and PBSZ 0 / PROT P to
// switch the data channel over to TLS too, per RFC 4217.
func (c *Client) upgradeToTLS() error {
	if _, err := c.expectCode(234, "AUTH", "TLS"); err != nil {
		return fmt.Errorf("ftp: AUTH TLS: %w", err)
	}

	tlsConn := tls.Client(c.conn, c.tlsConfig)
	if c.timeout > 0 {
		if err := c.conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
			return err
		}
	}
	if err := tlsConn.Handshake(); err != nil {
		return fmt.Errorf("ftp: TLS handshake: %w", err)
	}
	c.conn = tlsConn
	c.reader = bufio.NewReader(tlsConn)

	if _, err := c.expectCode(200, "PBSZ", "0"); err != nil {
		return fmt.Errorf("ftp: PBSZ 0: %w", err)
	}
	if _, err := c.expectCode(200, "PROT", "P"); err != nil {
		return fmt.Errorf("ftp: PROT P: %w", err)
	}
	return nil
}

// Login runs the USER/PASS exchange. A server that accepts USER alone
// (230 with no PASS challenge) is handled without sending PASS.
func (c *Client) Login(username, password string) error {
	resp, err := c.sendCommand("USER", username)
	if err != nil {
		return err
	}
	if resp.Code == 230 {
		return nil
	}
	if resp.Code != 331 {
		return &ProtocolError{Command: "USER", Response: resp.Message, Code: resp.Code}
	}
	_, err = c.expectCode(230, "PASS", password)
	return err
}

// Quit aborts any open data connection, sends QUIT, and closes the
// control channel. Errors from QUIT itself are ignored since the
// connection is going away regardless.
func (c *Client) Quit() error {
	if c.conn == nil {
		return nil
	}

	c.mu.Lock()
	if c.activeDataConn != nil {
		c.activeDataConn.Close()
		c.activeDataConn = nil
	}
	c.mu.Unlock()

	_, _ = c.sendCommand("QUIT")
	return c.conn.Close()
}

// Host sends the HOST command (RFC 7151), used to select a virtual host
// before authenticating.
func (c *Client) Host(host string) error {
	_, err := c.expect2xx("HOST", host)
	return err
}

// Type sets the transfer type ("A" for ASCII, "I" for binary). Redundant
// calls for the currently-set type are skipped.
func (c *Client) Type(transferType string) error {
	if c.currentType == transferType {
		return nil
	}
	if _, err := c.expectCode(200, "TYPE", transferType); err != nil {
		return err
	}
	c.currentType = transferType
	return nil
}

// Noop sends NOOP, useful as a liveness check.
func (c *Client) Noop() error {
	_, err := c.expect2xx("NOOP")
	return err
}

// Quote sends an arbitrary command verbatim and returns the raw reply,
// for commands this client has no dedicated method for.
func (c *Client) Quote(command string, args ...string) (*Response, error) {
	return c.sendCommand(command, args...)
}

// Hash requests a file's hash via the HASH command (draft-bryan-ftp-hash).
// The algorithm is whatever the server defaults to, or was last selected
// with SetHashAlgo.
func (c *Client) Hash(path string) (string, error) {
	resp, err := c.expectCode(213, "HASH", path)
	if err != nil {
		return "", err
	}
	// "213 <algorithm> <hash> <filename>"
	parts := strings.Fields(resp.Message)
	if len(parts) < 2 {
		return "", fmt.Errorf("ftp: malformed HASH reply %q", resp.Message)
	}
	return parts[1], nil
}

// SetHashAlgo selects the algorithm HASH should use, via OPTS HASH.
func (c *Client) SetHashAlgo(algo string) error {
	_, err := c.expect2xx("OPTS", "HASH", algo)
	return err
}
