package server

import (
	"crypto/x509"
	"io"
	"net"
	"os"
	"time"
)

// Driver is the interface that must be implemented by an FTP driver.
// It is responsible for authenticating users and providing a session-specific
// StorageBackend for file operations.
//
// Implementations should:
//   - Validate user credentials (user, pass)
//   - Use the host parameter for virtual hosting (optional)
//   - Return a StorageBackend that isolates the user's file operations
//   - Return one of the sentinel errors in apierrors.go (or an os.ErrPermission
//     equivalent) for authentication failures
//
// To implement a custom backend (e.g., S3, Database, Memory), implement this
// interface. Backends that want to keep identity resolution independent of
// storage-context construction can instead implement Authenticator and
// UserDetailProvider; FSDriver shows how a single backend can satisfy all
// three.
type Driver interface {
	// Authenticate validates the user and password.
	// The host parameter contains the value from the HOST command (RFC 7151),
	// which can be used for virtual hosting. It may be empty if not provided.
	// remoteIP is the client's address, available for IP-based access rules
	// or per-address audit logging; it may be nil if unavailable.
	Authenticate(user, pass, host string, remoteIP net.IP) (StorageBackend, error)
}

// PeerCertAuthenticator is implemented by a Driver that wants to see the
// client certificate chain from a completed mutual-TLS AUTH TLS handshake
// (session_security.go), in addition to the plain Authenticate call.
// certChain is nil unless the control connection upgraded to TLS with
// WithClientCA configured.
type PeerCertAuthenticator interface {
	AuthenticateWithCert(user, pass, host string, remoteIP net.IP, certChain []*x509.Certificate) (StorageBackend, error)
}

// Principal identifies an authenticated user, distinct from the raw username
// string a session carries pre-authentication. A StorageBackend or event
// hook consumer that only needs identity, not credentials, should deal in
// Principal.
type Principal struct {
	Name string
}

// Authenticator validates credentials independently of constructing a
// StorageBackend. certChain is non-nil only when the control connection
// completed a TLS handshake with client certificates (mutual TLS); an
// Authenticator that trusts certificate-only auth can accept an empty pass
// when certChain is populated.
type Authenticator interface {
	AuthenticateUser(user, pass, host string, certChain []*x509.Certificate) (Principal, error)
}

// UserDetail carries the settings a Driver needs to construct a
// StorageBackend for an already-authenticated Principal: which directory
// tree the principal is confined to, and whether writes are allowed.
type UserDetail struct {
	Root     string
	ReadOnly bool
}

// UserDetailProvider resolves the storage-construction parameters for an
// authenticated Principal, kept separate from Authenticator so a Driver can
// swap identity sources (LDAP, a database, static config) without touching
// how storage roots are picked.
type UserDetailProvider interface {
	UserDetail(p Principal) (UserDetail, error)
}

// StorageBackend is the interface a driver implements to handle file system
// operations for a specific client session. It isolates operations to the
// user's view of the filesystem (e.g., handling chroots). All paths are
// relative to the user's root directory and use forward slashes.
//
// Error handling: return one of the sentinel errors in apierrors.go
// (ErrNotFound, ErrPermissionDenied, ErrExists, ErrNotADirectory,
// ErrIsADirectory, ErrTransient, ErrPermanent) so the session can pick the
// correct FTP reply code; the os.ErrNotExist/ErrPermission/ErrExist family
// is still recognized as a fallback for backends written before the
// sentinel taxonomy existed.
//
// Implementations must be safe for concurrent use by a single session.
type StorageBackend interface {
	// ChangeDir changes the current working directory.
	ChangeDir(path string) error

	// GetWd returns the current working directory.
	GetWd() (string, error)

	// MakeDir creates a new directory.
	MakeDir(path string) error

	// RemoveDir removes a directory.
	RemoveDir(path string) error

	// DeleteFile removes a file.
	DeleteFile(path string) error

	// Rename moves or renames a file or directory.
	Rename(fromPath, toPath string) error

	// ListDir returns a list of files in the specified directory.
	ListDir(path string) ([]os.FileInfo, error)

	// OpenFile opens a file for reading or writing.
	// The flag parameter uses os.O_* constants (os.O_RDONLY, os.O_WRONLY|os.O_CREATE, etc.).
	OpenFile(path string, flag int) (io.ReadWriteCloser, error)

	// GetFileInfo returns file or directory metadata.
	GetFileInfo(path string) (os.FileInfo, error)

	// GetHash calculates the hash of a file using the specified algorithm.
	// Supported algorithms: "SHA-256", "SHA-512", "SHA-1", "MD5", "CRC32".
	GetHash(path string, algo string) (string, error)

	// SetTime sets the modification time of a file. Used by MFMT.
	SetTime(path string, t time.Time) error

	// Chmod changes the mode of the file. Used by SITE CHMOD.
	Chmod(path string, mode os.FileMode) error

	// Md5 returns the MD5 checksum of a file as a hex string. Used by the
	// optional SITE MD5 subcommand. A backend that doesn't want to support
	// it can return ErrPermanent.
	Md5(path string) (string, error)

	// Close releases any resources associated with this context.
	// Called when the client disconnects.
	Close() error

	// GetSettings returns the session settings for passive mode configuration.
	// May return nil if no special settings are needed.
	GetSettings() *Settings
}

// Settings defines server configuration for passive mode and other features.
//
// These settings are typically configured once and shared across all sessions,
// but can be customized per-user if needed.
type Settings struct {
	// PublicHost is the hostname or IP address advertised in PASV responses.
	// If set to a hostname, the server will resolve it once and use the first
	// IPv4 address found.
	// If empty, the server uses the control connection's local address.
	// Required when behind NAT or in containerized environments.
	PublicHost string

	// PasvMinPort is the minimum port number for passive data connections.
	// If 0, the OS assigns a random port.
	PasvMinPort int

	// PasvMaxPort is the maximum port number for passive data connections.
	// If 0, the OS assigns a random port.
	// Must be >= PasvMinPort if both are set.
	PasvMaxPort int

	// Umask is applied (via bitwise AND NOT) to the permission bits of
	// newly created files and directories, in the style of the POSIX
	// umask(2) call.
	Umask os.FileMode
}
