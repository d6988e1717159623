// Package ratelimit provides bandwidth throttling for FTP data transfers.
//
// It wraps golang.org/x/time/rate's token bucket in the Reader/Writer shape
// the transfer path needs, so a data channel can be limited without every
// call site knowing about rate.Limiter directly.
package ratelimit

import (
	"context"
	"io"
	"time"

	"golang.org/x/time/rate"
)

// chunkSize bounds how many bytes are requested from the limiter per burst,
// so a large Read/Write doesn't have to wait for its entire token grant
// before any byte moves.
const chunkSize = 32 * 1024

// Limiter wraps rate.Limiter with a byte-oriented New constructor matching
// the bytes-per-second knobs used throughout the server's options.
type Limiter struct {
	rl *rate.Limiter
}

// New creates a new rate limiter with the specified bytes per second limit.
// Burst capacity is one second's worth of data. The bucket starts empty, so
// the first second of a transfer is paced like every later one; a burst is
// only available after the limiter has sat idle. Returns nil if
// bytesPerSecond <= 0, and a nil *Limiter is a valid no-op limiter
// throughout this package.
func New(bytesPerSecond int64) *Limiter {
	if bytesPerSecond <= 0 {
		return nil
	}
	rl := rate.NewLimiter(rate.Limit(bytesPerSecond), int(bytesPerSecond))
	rl.AllowN(time.Now(), int(bytesPerSecond))
	return &Limiter{rl: rl}
}

func (l *Limiter) take(n int) {
	if l == nil || n <= 0 {
		return
	}
	// WaitN rejects a request larger than the burst without waiting, so
	// such a request is granted one burst at a time.
	burst := l.rl.Burst()
	for n > 0 {
		step := n
		if step > burst {
			step = burst
		}
		_ = l.rl.WaitN(context.Background(), step)
		n -= step
	}
}

// Stop releases any resources held by the limiter. rate.Limiter needs no
// teardown, so this is a nil-safe no-op kept for API stability with callers
// that pair New with a deferred Stop.
func (l *Limiter) Stop() {}

type reader struct {
	r       io.Reader
	limiter *Limiter
}

// NewReader creates a new rate-limited reader.
// If limiter is nil, returns the original reader unchanged.
func NewReader(r io.Reader, limiter *Limiter) io.Reader {
	if limiter == nil {
		return r
	}
	return &reader{r: r, limiter: limiter}
}

// Read implements io.Reader with rate limiting.
func (r *reader) Read(p []byte) (n int, err error) {
	if len(p) == 0 {
		return 0, nil
	}
	readSize := len(p)
	if readSize > chunkSize {
		readSize = chunkSize
	}
	n, err = r.r.Read(p[:readSize])
	r.limiter.take(n)
	return n, err
}

type writer struct {
	w       io.Writer
	limiter *Limiter
}

// NewWriter creates a new rate-limited writer.
// If limiter is nil, returns the original writer unchanged.
func NewWriter(w io.Writer, limiter *Limiter) io.Writer {
	if limiter == nil {
		return w
	}
	return &writer{w: w, limiter: limiter}
}

// Write implements io.Writer with rate limiting.
func (w *writer) Write(p []byte) (n int, err error) {
	totalWritten := 0
	for totalWritten < len(p) {
		remaining := len(p) - totalWritten
		n := remaining
		if n > chunkSize {
			n = chunkSize
		}
		w.limiter.take(n)
		written, err := w.w.Write(p[totalWritten : totalWritten+n])
		totalWritten += written
		if err != nil {
			return totalWritten, err
		}
	}
	return totalWritten, nil
}
