// Package sessionid generates sortable, collision-resistant identifiers
// for FTP control sessions, so log lines and event-hook payloads
// (server/events.go) can be correlated across a session's lifetime and,
// unlike a plain counter, remain unique across server restarts.
package sessionid

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	mu      sync.Mutex
	entropy = ulid.Monotonic(rand.Reader, 0)
)

// New returns a new session identifier, a ULID in its canonical 26-character
// uppercase base32 form.
// ulid.Monotonic is not safe for concurrent use, so calls are serialized;
// session creation is not hot enough for this to matter.
func New() string {
	mu.Lock()
	defer mu.Unlock()
	id := ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
	return id.String()
}
