package ftp

import (
	"crypto/tls"
	"log/slog"
	"time"
)

// Option configures a Client at Dial time.
type Option func(*Client) error

// WithTimeout bounds both the initial connect and every subsequent
// command/response round trip. Zero disables deadlines entirely.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) error {
		c.timeout = timeout
		return nil
	}
}

// WithExplicitTLS upgrades the control channel with AUTH TLS immediately
// after the greeting, then protects the data channel with PBSZ 0 / PROT P.
// A ClientSessionCache is attached automatically so data connections can
// resume the control channel's TLS session, which strict servers require.
func WithExplicitTLS(config *tls.Config) Option {
	return func(c *Client) error {
		if config == nil {
			config = &tls.Config{}
		}
		if config.ClientSessionCache == nil {
			config.ClientSessionCache = tls.NewLRUClientSessionCache(0)
		}
		c.tlsConfig = config
		c.useTLS = true
		return nil
	}
}

// WithActiveMode makes the client issue PORT/EPRT and listen for the
// server to connect back, instead of the default passive PASV/EPSV mode.
func WithActiveMode() Option {
	return func(c *Client) error {
		c.activeMode = true
		return nil
	}
}

// WithLogger attaches a logger that receives every command sent and
// response received, at debug level.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) error {
		c.logger = logger
		return nil
	}
}
