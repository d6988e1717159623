package server

import (
	"bufio"
	"net"

	"github.com/goftpd/ftpd/internal/proxyproto"
)

// proxyConn wraps a net.Conn accepted behind a PROXY-protocol-speaking load
// balancer, substituting the header's original client address for
// RemoteAddr() and replaying any bytes already buffered while detecting
// the header.
type proxyConn struct {
	net.Conn
	r      *bufio.Reader
	remote net.Addr
}

func (c *proxyConn) Read(p []byte) (int, error) { return c.r.Read(p) }

func (c *proxyConn) RemoteAddr() net.Addr { return c.remote }

// wrapProxyProtocol reads a PROXY protocol v1/v2 header off conn, if
// present, and returns a net.Conn whose RemoteAddr reflects the header's
// source address. If the stream does not begin with a PROXY signature,
// the returned conn keeps its own remote address and replays the bytes
// already buffered while looking for one, so no bytes are lost.
func wrapProxyProtocol(conn net.Conn) (net.Conn, error) {
	r := bufio.NewReader(conn)
	hdr, err := proxyproto.ReadHeader(r)
	if err == proxyproto.ErrNotProxyHeader {
		return &proxyConn{Conn: conn, r: r, remote: conn.RemoteAddr()}, nil
	}
	if err != nil {
		return nil, err
	}
	if hdr.SourceAddr == nil {
		// PROXY UNKNOWN, or a v2 LOCAL health check: keep the real
		// connection's own address.
		return &proxyConn{Conn: conn, r: r, remote: conn.RemoteAddr()}, nil
	}
	return &proxyConn{
		Conn:   conn,
		r:      r,
		remote: &net.TCPAddr{IP: hdr.SourceAddr, Port: int(hdr.SourcePort)},
	}, nil
}
