package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

// errDataConnFailed wraps a connData failure so callers can tell "never
// established a data connection" (425) apart from "connection dropped
// mid-transfer" (426).
var errDataConnFailed = errors.New("data connection setup failed")

// dataDirection identifies which way bytes flow across a data connection.
type dataDirection int

const (
	dirDownload dataDirection = iota // server -> client (RETR)
	dirUpload                        // client -> server (STOR/APPE/STOU)
)

// dataConnectTimeout bounds how long the server waits for a passive accept
// or an active dial before giving up on a data connection.
const dataConnectTimeout = 10 * time.Second

// transferResult carries the outcome of a background transfer to onComplete.
type transferResult struct {
	bytes int64
	err   error
}

// runTransfer starts a copy between file and the session's data connection
// on a background goroutine tracked by transferWG and returns immediately —
// it never blocks the command loop that called it. onReady runs synchronously
// once the data connection is up (so the 150 reply for the transfer command
// stays ordered ahead of anything else); onComplete runs on the background
// goroutine once the copy finishes, closes over the file (closing it when
// done), and is where the caller sends its 226/425/426 reply.
//
// Returning to the command loop before the copy finishes is what makes ABOR
// out-of-band: the loop's "busy" guard (handleCommand) still lets ABOR/STAT
// through, and handleABOR interrupts the transfer by canceling transferCtx
// and closing the live data connection, which unblocks the select below.
func (s *session) runTransfer(dir dataDirection, operation, path string, file io.ReadWriteCloser, onReady func(), onComplete func(bytes int64, err error)) {
	conn, err := s.connData()
	if err != nil {
		file.Close()
		onComplete(0, fmt.Errorf("%w: %v", errDataConnFailed, err))
		return
	}
	onReady()

	ctx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	s.busy = true
	s.dataConn = conn
	s.transferCtx = ctx
	s.transferCancel = cancel
	s.mu.Unlock()

	s.server.eventBus.publish(DataEvent{Kind: DataTransferStarted, SessionID: s.sessionID, Operation: operation, Path: s.redactPath(path)})
	start := time.Now()

	s.transferWG.Add(1)
	go func() {
		defer s.transferWG.Done()
		defer file.Close()

		resultCh := make(chan transferResult, 1)
		go func() {
			n, err := s.copyDirection(dir, file, conn)
			resultCh <- transferResult{bytes: n, err: err}
		}()

		var result transferResult
		select {
		case result = <-resultCh:
		case <-ctx.Done():
			conn.Close()
			result = <-resultCh
			if result.err == nil {
				result.err = context.Canceled
			}
		}

		conn.Close()

		s.mu.Lock()
		s.busy = false
		s.dataConn = nil
		s.transferCtx = nil
		s.transferCancel = nil
		s.mu.Unlock()

		s.server.eventBus.publish(DataEvent{
			Kind: DataTransferCompleted, SessionID: s.sessionID, Operation: operation,
			Path: s.redactPath(path), Bytes: result.bytes, Duration: time.Since(start),
		})

		onComplete(result.bytes, result.err)
	}()
}

func (s *session) copyDirection(dir dataDirection, file io.ReadWriteCloser, conn net.Conn) (int64, error) {
	if dir == dirDownload {
		var src io.Reader = file
		if s.transferType == "A" {
			src = newASCIIReader(file)
		}
		return io.Copy(s.rateLimitWriter(conn), src)
	}

	var src io.Reader = conn
	if s.transferType == "A" {
		src = newASCIIWriter(conn)
	}
	return io.Copy(file, s.rateLimitReader(src))
}
