package ftp

import (
	"crypto/tls"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"time"
)

var (
	pasvPattern = regexp.MustCompile(`\((\d+),(\d+),(\d+),(\d+),(\d+),(\d+)\)`)
	epsvPattern = regexp.MustCompile(`\(\|\|\|(\d+)\|\)`)
)

// parsePASV extracts "host:port" from a 227 reply, e.g.
// "227 Entering Passive Mode (127,0,0,1,195,149)".
func parsePASV(reply string) (string, error) {
	m := pasvPattern.FindStringSubmatch(reply)
	if len(m) != 7 {
		return "", fmt.Errorf("ftp: unparseable PASV reply %q", reply)
	}
	host := fmt.Sprintf("%s.%s.%s.%s", m[1], m[2], m[3], m[4])
	if ip := net.ParseIP(host); ip == nil || ip.To4() == nil {
		return "", fmt.Errorf("ftp: invalid PASV address %q", host)
	}
	p1, err1 := strconv.Atoi(m[5])
	p2, err2 := strconv.Atoi(m[6])
	if err1 != nil || err2 != nil || p1 < 0 || p1 > 255 || p2 < 0 || p2 > 255 {
		return "", fmt.Errorf("ftp: invalid PASV port in %q", reply)
	}
	return net.JoinHostPort(host, strconv.Itoa(p1*256+p2)), nil
}

// parseEPSV extracts the port from a 229 reply, e.g.
// "229 Entering Extended Passive Mode (|||6446|)".
func parseEPSV(reply string) (string, error) {
	m := epsvPattern.FindStringSubmatch(reply)
	if len(m) != 2 {
		return "", fmt.Errorf("ftp: unparseable EPSV reply %q", reply)
	}
	return m[1], nil
}

// formatPORT renders "host:port" as the PORT command's h1,h2,h3,h4,p1,p2.
func formatPORT(addr string) (string, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", err
	}
	ip := net.ParseIP(host).To4()
	if ip == nil {
		return "", fmt.Errorf("ftp: PORT requires an IPv4 address, got %q", host)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d,%d,%d,%d,%d,%d", ip[0], ip[1], ip[2], ip[3], port/256, port%256), nil
}

// formatEPRT renders "host:port" as the EPRT command's |proto|addr|port|.
func formatEPRT(addr string) (string, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "", err
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return "", fmt.Errorf("ftp: invalid address %q", host)
	}
	proto := 2
	if ip.To4() != nil {
		proto = 1
	}
	return fmt.Sprintf("|%d|%s|%s|", proto, host, port), nil
}

// resolveDataAddr rewrites a 0.0.0.0 PASV host to the control channel's
// own host — some servers behind NAT advertise the wildcard address.
func resolveDataAddr(pasvAddr, controlHost string) string {
	host, port, err := net.SplitHostPort(pasvAddr)
	if err != nil {
		return pasvAddr
	}
	if host == "0.0.0.0" {
		return net.JoinHostPort(controlHost, port)
	}
	return pasvAddr
}

// deadlineConn refreshes a read/write deadline before every operation, so
// a stalled data transfer times out instead of hanging forever.
type deadlineConn struct {
	net.Conn
	timeout time.Duration
}

func (c *deadlineConn) Read(b []byte) (int, error) {
	if c.timeout > 0 {
		if err := c.Conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Read(b)
}

func (c *deadlineConn) Write(b []byte) (int, error) {
	if c.timeout > 0 {
		if err := c.Conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Write(b)
}

// activeListener answers a PORT/EPRT data connection: it accepts the
// server's inbound dial lazily, on the first Read or Write.
type activeListener struct {
	listener  net.Listener
	conn      net.Conn
	tlsConfig *tls.Config
	timeout   time.Duration
}

func (a *activeListener) accept() error {
	if a.timeout > 0 {
		if tl, ok := a.listener.(*net.TCPListener); ok {
			_ = tl.SetDeadline(time.Now().Add(a.timeout))
		}
	}
	conn, err := a.listener.Accept()
	if err != nil {
		return err
	}
	if a.tlsConfig != nil {
		tlsConn := tls.Server(conn, a.tlsConfig)
		if a.timeout > 0 {
			_ = conn.SetDeadline(time.Now().Add(a.timeout))
		}
		if err := tlsConn.Handshake(); err != nil {
			conn.Close()
			return err
		}
		conn = tlsConn
	}
	a.conn = conn
	return nil
}

func (a *activeListener) Read(p []byte) (int, error) {
	if a.conn == nil {
		if err := a.accept(); err != nil {
			return 0, err
		}
	}
	if a.timeout > 0 {
		_ = a.conn.SetReadDeadline(time.Now().Add(a.timeout))
	}
	return a.conn.Read(p)
}

func (a *activeListener) Write(p []byte) (int, error) {
	if a.conn == nil {
		if err := a.accept(); err != nil {
			return 0, err
		}
	}
	if a.timeout > 0 {
		_ = a.conn.SetWriteDeadline(time.Now().Add(a.timeout))
	}
	return a.conn.Write(p)
}

func (a *activeListener) Close() error {
	var err error
	if a.conn != nil {
		err = a.conn.Close()
	}
	if a.listener != nil {
		if lerr := a.listener.Close(); err == nil {
			err = lerr
		}
	}
	return err
}

func (a *activeListener) LocalAddr() net.Addr {
	if a.conn != nil {
		return a.conn.LocalAddr()
	}
	return a.listener.Addr()
}

func (a *activeListener) RemoteAddr() net.Addr {
	if a.conn != nil {
		return a.conn.RemoteAddr()
	}
	return nil
}

func (a *activeListener) SetDeadline(t time.Time) error {
	if a.conn != nil {
		return a.conn.SetDeadline(t)
	}
	return nil
}

func (a *activeListener) SetReadDeadline(t time.Time) error {
	if a.conn != nil {
		return a.conn.SetReadDeadline(t)
	}
	return nil
}

func (a *activeListener) SetWriteDeadline(t time.Time) error {
	if a.conn != nil {
		return a.conn.SetWriteDeadline(t)
	}
	return nil
}

func (c *Client) openDataConn() (net.Conn, error) {
	if c.activeMode {
		return c.openActiveDataConn()
	}
	return c.openPassiveDataConn()
}

func (c *Client) openActiveDataConn() (net.Conn, error) {
	localHost, _, err := net.SplitHostPort(c.conn.LocalAddr().String())
	if err != nil {
		localHost = "127.0.0.1"
	}

	listener, err := net.Listen("tcp", net.JoinHostPort(localHost, "0"))
	if err != nil {
		listener, err = net.Listen("tcp", ":0")
		if err != nil {
			return nil, fmt.Errorf("ftp: listening for active data connection: %w", err)
		}
	}

	addr := listener.Addr().String()
	ip := net.ParseIP(addrHost(addr))

	var resp *Response
	var cmd string
	if ip != nil && ip.To4() == nil {
		cmd = "EPRT"
		arg, err := formatEPRT(addr)
		if err != nil {
			listener.Close()
			return nil, err
		}
		resp, err = c.sendCommand(cmd, arg)
	} else {
		cmd = "PORT"
		arg, err := formatPORT(addr)
		if err != nil {
			listener.Close()
			return nil, err
		}
		resp, err = c.sendCommand(cmd, arg)
	}
	if err != nil {
		listener.Close()
		return nil, fmt.Errorf("ftp: %s: %w", cmd, err)
	}
	if !resp.Is2xx() {
		listener.Close()
		return nil, &ProtocolError{Command: cmd, Response: resp.Message, Code: resp.Code}
	}

	return &activeListener{listener: listener, tlsConfig: c.tlsConfig, timeout: c.timeout}, nil
}

func addrHost(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

// openPassiveDataConn tries EPSV first, since it also covers IPv6, and
// falls back to PASV on the first 502 — a server that lacks EPSV won't
// suddenly grow it mid-connection, so the fallback is remembered.
func (c *Client) openPassiveDataConn() (net.Conn, error) {
	var addr string

	if !c.epsvUnsupported {
		resp, err := c.sendCommand("EPSV")
		if err == nil {
			switch {
			case resp.Code == 502:
				c.epsvUnsupported = true
			case resp.Is2xx():
				if port, err := parseEPSV(resp.String()); err == nil {
					addr = net.JoinHostPort(c.host, port)
				}
			}
		}
	}

	if addr == "" {
		resp, err := c.expect2xx("PASV")
		if err != nil {
			return nil, err
		}
		addr, err = parsePASV(resp.String())
		if err != nil {
			return nil, err
		}
		addr = resolveDataAddr(addr, c.host)
	}

	conn, err := c.dialer.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("ftp: dialing data port %s: %w", addr, err)
	}

	if c.tlsConfig != nil {
		tlsConn := tls.Client(conn, c.tlsConfig)
		if err := tlsConn.Handshake(); err != nil {
			conn.Close()
			return nil, fmt.Errorf("ftp: data connection TLS handshake: %w", err)
		}
		conn = tlsConn
	}

	if c.timeout > 0 {
		return &deadlineConn{Conn: conn, timeout: c.timeout}, nil
	}
	return conn, nil
}

// cmdDataConnFrom opens a data connection, then sends cmd — the pairing
// matters for PORT/EPRT, where the server dials back only once it sees
// the transfer command. The caller must eventually call finishDataConn.
func (c *Client) cmdDataConnFrom(cmd string, args ...string) (*Response, net.Conn, error) {
	dataConn, err := c.openDataConn()
	if err != nil {
		return nil, nil, err
	}

	c.mu.Lock()
	c.activeDataConn = dataConn
	c.mu.Unlock()

	resp, err := c.sendCommand(cmd, args...)
	if err != nil {
		dataConn.Close()
		c.mu.Lock()
		c.activeDataConn = nil
		c.mu.Unlock()
		return nil, nil, err
	}

	if resp.Code < 100 || resp.Code >= 400 {
		dataConn.Close()
		c.mu.Lock()
		c.activeDataConn = nil
		c.mu.Unlock()
		return resp, nil, &ProtocolError{Command: cmd, Response: resp.Message, Code: resp.Code}
	}

	return resp, dataConn, nil
}

// finishDataConn closes the data connection and reads the closing reply
// (226 on success), clearing the client's in-progress marker either way.
func (c *Client) finishDataConn(dataConn net.Conn) error {
	closeErr := dataConn.Close()

	if c.timeout > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
			return err
		}
	}
	resp, err := readResponse(c.reader)

	c.mu.Lock()
	c.activeDataConn = nil
	c.mu.Unlock()

	if err != nil {
		return fmt.Errorf("ftp: reading transfer-complete reply: %w", err)
	}
	if !resp.Is2xx() {
		return &ProtocolError{Command: "(transfer)", Response: resp.Message, Code: resp.Code}
	}
	return closeErr
}
