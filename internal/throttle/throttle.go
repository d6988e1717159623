// Package throttle implements a login-attempt throttle keyed by client IP
// and/or username, grounded on libunftp's FailedLoginsCache
// (server/failedlogins.rs): an attempts counter and last-attempt timestamp
// per key, a lock window, and a periodic sweeper that expires stale
// entries.
package throttle

import (
	"net"
	"sync"
	"time"
)

// Policy selects which parts of a login attempt are used as the throttle
// key, mirroring libunftp's FailedLoginsPolicy enum.
type Policy int

const (
	// Off disables throttling; Allow always returns true.
	Off Policy = iota
	// ByIP locks out repeated failures from one source address regardless
	// of username.
	ByIP
	// ByUser locks out repeated failures against one username regardless
	// of source address.
	ByUser
	// ByIPAndUser locks out only the specific (ip, username) pair.
	ByIPAndUser
)

// DefaultSweepInterval matches the 10-second constant in the original
// FailedLoginsCache::sweeper.
const DefaultSweepInterval = 10 * time.Second

type key struct {
	ip   string
	user string
}

type entry struct {
	attempts    int
	lastAttempt time.Time
	lockedUntil time.Time
}

// Cache tracks failed login attempts and enforces a lockout window.
type Cache struct {
	policy      Policy
	maxAttempts int
	window      time.Duration
	lockFor     time.Duration

	mu      sync.Mutex
	entries map[key]*entry

	stop chan struct{}
}

// New creates a Cache. maxAttempts is the number of failures allowed within
// window before a key is locked out for lockFor.
func New(policy Policy, maxAttempts int, window, lockFor time.Duration) *Cache {
	return &Cache{
		policy:      policy,
		maxAttempts: maxAttempts,
		window:      window,
		lockFor:     lockFor,
		entries:     make(map[key]*entry),
		stop:        make(chan struct{}),
	}
}

func (c *Cache) keyFor(ip, user string) key {
	switch c.policy {
	case ByIP:
		return key{ip: normalizeIP(ip)}
	case ByUser:
		return key{user: user}
	default: // ByIPAndUser, Off (unused for Off)
		return key{ip: normalizeIP(ip), user: user}
	}
}

func normalizeIP(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// Allow reports whether a login attempt for (ip, user) may proceed. It
// returns false if the key is currently locked out.
func (c *Cache) Allow(ip, user string) bool {
	if c.policy == Off {
		return true
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[c.keyFor(ip, user)]
	if !ok {
		return true
	}
	if e.isExpired(c.window) {
		return true
	}
	return time.Now().After(e.lockedUntil)
}

// Fail records a failed login attempt, extending or starting the lockout
// window when the attempt count crosses maxAttempts.
func (c *Cache) Fail(ip, user string) {
	if c.policy == Off {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	k := c.keyFor(ip, user)
	e, ok := c.entries[k]
	if !ok || e.isExpired(c.window) {
		e = &entry{attempts: 0}
		c.entries[k] = e
	}
	e.attempts++
	e.lastAttempt = time.Now()
	if e.attempts >= c.maxAttempts {
		e.lockedUntil = time.Now().Add(c.lockFor)
	}
}

// Succeed clears any throttle entry for (ip, user) on a successful login.
func (c *Cache) Succeed(ip, user string) {
	if c.policy == Off {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, c.keyFor(ip, user))
}

func (e *entry) isExpired(window time.Duration) bool {
	return time.Since(e.lastAttempt) > window && time.Now().After(e.lockedUntil)
}

// Sweep removes expired entries. Run periodically by Start.
func (c *Cache) Sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.entries {
		if e.isExpired(c.window) {
			delete(c.entries, k)
		}
	}
}

// Start runs the sweeper goroutine on interval until Stop is called,
// mirroring FailedLoginsCache::sweeper's shutdown-signal select loop.
func (c *Cache) Start(interval time.Duration) {
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				c.Sweep()
			case <-c.stop:
				return
			}
		}
	}()
}

// Stop terminates the sweeper goroutine started by Start.
func (c *Cache) Stop() {
	close(c.stop)
}
