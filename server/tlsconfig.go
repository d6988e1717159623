package server

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// TLSConfigOption configures a *tls.Config built by NewTLSConfig.
type TLSConfigOption func(*tls.Config) error

// NewTLSConfig builds a *tls.Config suitable for WithTLS from a certificate
// and key pair, floored at TLS 1.2 (RFC 4217 deployments predating that
// floor are treated as out of scope). Certificates and CA bundles are
// loaded once, here, rather than per-session — AUTH TLS upgrades reuse the
// same *tls.Config for the lifetime of the server.
func NewTLSConfig(certFile, keyFile string, opts ...TLSConfigOption) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("load certificate: %w", err)
	}

	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// WithSessionResumption enables or disables TLS session-ticket resumption.
// Enabled by default (Go's zero-value tls.Config already enables tickets);
// this option exists so a deployment that wants to force full handshakes
// per RFC 4217 session can say so explicitly. When enabled with a positive
// cacheSize it also sets ClientSessionCache, which Go consults only on the
// client side of a handshake; the server's control and data connections
// always act as the TLS server and do not use it.
func WithSessionResumption(enabled bool, cacheSize int) TLSConfigOption {
	return func(cfg *tls.Config) error {
		cfg.SessionTicketsDisabled = !enabled
		if enabled && cacheSize > 0 {
			cfg.ClientSessionCache = tls.NewLRUClientSessionCache(cacheSize)
		}
		return nil
	}
}

// WithClientCA enables mutual TLS: the server requires and verifies a
// client certificate signed by a CA in the given PEM bundle. When set, the
// AUTH TLS handshake's resulting tls.ConnectionState.PeerCertificates is
// available to session_security.go for handing to an Authenticator that
// wants certificate-based identity.
func WithClientCA(caBundleFile string) TLSConfigOption {
	return func(cfg *tls.Config) error {
		pem, err := os.ReadFile(caBundleFile)
		if err != nil {
			return fmt.Errorf("read client CA bundle: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return fmt.Errorf("no certificates found in %s", caBundleFile)
		}
		cfg.ClientCAs = pool
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
		return nil
	}
}

// WithMinTLSVersion overrides the TLS 1.2 floor NewTLSConfig applies by
// default. Rejects anything below TLS 1.2 — RFC 4217 deployments predating
// that floor are out of scope.
func WithMinTLSVersion(version uint16) TLSConfigOption {
	return func(cfg *tls.Config) error {
		if version < tls.VersionTLS12 {
			return fmt.Errorf("minimum TLS version must be at least TLS 1.2")
		}
		cfg.MinVersion = version
		return nil
	}
}
