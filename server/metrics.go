package server

import "time"

// PathRedactor rewrites a path before it reaches a log line, so operators
// can keep usernames or other sensitive path components out of logs
// without losing the rest of the path for debugging.
//
//	redact := func(path string) string {
//	    return regexp.MustCompile(`/users/[^/]+/`).ReplaceAllString(path, "/users/*/")
//	}
type PathRedactor func(path string) string

// MetricsCollector receives counters and timings from the session
// lifecycle. A server checks for a nil collector before every call, so an
// implementation never has to guard against it, and every method must
// return quickly — dispatch slow work (a network call to a metrics
// backend) onto its own goroutine rather than blocking the session.
type MetricsCollector interface {
	// RecordCommand reports one command's outcome and latency, e.g.
	// RecordCommand("RETR", true, 12*time.Millisecond).
	RecordCommand(cmd string, success bool, duration time.Duration)

	// RecordTransfer reports a completed data transfer. operation is
	// "RETR", "STOR", "APPE" or "STOU"; bytes and duration describe the whole transfer,
	// not a single chunk.
	RecordTransfer(operation string, bytes int64, duration time.Duration)

	// RecordConnection reports whether an inbound control connection was
	// accepted, with reason explaining a rejection (e.g.
	// "global_limit_reached", "per_ip_limit_reached") or "accepted".
	RecordConnection(accepted bool, reason string)

	// RecordAuthentication reports the outcome of a USER/PASS attempt.
	RecordAuthentication(success bool, user string)
}
