package server

import (
	"bufio"
	"bytes"
	"io"
)

// asciiReader sits between a file and the data connection during a RETR in
// ASCII mode, turning each bare LF into a CRLF pair as required by RFC 959
// §3.1.1.1. A source that already uses CRLF line endings passes through
// unchanged — the CR immediately before an LF is never doubled.
type asciiReader struct {
	src      *bufio.Reader
	sawCR    bool
	queued   byte
	hasQueue bool
}

func newASCIIReader(r io.Reader) *asciiReader {
	return &asciiReader{src: asBufioReader(r)}
}

func asBufioReader(r io.Reader) *bufio.Reader {
	if br, ok := r.(*bufio.Reader); ok {
		return br
	}
	return bufio.NewReader(r)
}

// peekBuffered returns the reader's currently buffered bytes, first forcing
// at least one byte to be buffered (or reporting the underlying error/EOF)
// if the buffer is empty.
func peekBuffered(br *bufio.Reader) ([]byte, error) {
	if peeked, _ := br.Peek(br.Buffered()); len(peeked) > 0 {
		return peeked, nil
	}
	if _, err := br.ReadByte(); err != nil {
		return nil, err
	}
	_ = br.UnreadByte()
	peeked, _ := br.Peek(br.Buffered())
	if len(peeked) == 0 {
		return nil, io.ErrUnexpectedEOF
	}
	return peeked, nil
}

func (r *asciiReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	n := 0
	if r.hasQueue {
		p[n] = r.queued
		n++
		r.hasQueue = false
		r.sawCR = false
	}

	for n < len(p) {
		chunk, err := peekBuffered(r.src)
		if err != nil {
			if n > 0 {
				return n, nil
			}
			return 0, err
		}

		lf := bytes.IndexByte(chunk, '\n')
		if lf == -1 {
			n += r.copyPlain(p[n:], chunk)
			continue
		}

		if lf > 0 {
			copied := r.copyPlain(p[n:], chunk[:lf])
			n += copied
			if copied < lf || n >= len(p) {
				continue
			}
		}

		// r.src is now positioned exactly at the LF.
		if r.sawCR {
			p[n] = '\n'
			n++
			_, _ = r.src.Discard(1)
			r.sawCR = false
			continue
		}

		p[n] = '\r'
		n++
		r.sawCR = true
		if n == len(p) {
			r.queued = '\n'
			r.hasQueue = true
			_, _ = r.src.Discard(1)
			return n, nil
		}
		p[n] = '\n'
		n++
		_, _ = r.src.Discard(1)
		r.sawCR = false
	}

	return n, nil
}

// copyPlain copies as much of chunk into dst as fits, discarding the copied
// bytes from the underlying reader and tracking whether the last byte
// copied was a CR so a following LF is recognized as already-CRLF.
func (r *asciiReader) copyPlain(dst, chunk []byte) int {
	toCopy := len(chunk)
	if toCopy > len(dst) {
		toCopy = len(dst)
	}
	copy(dst, chunk[:toCopy])
	if toCopy > 0 {
		r.sawCR = chunk[toCopy-1] == '\r'
		_, _ = r.src.Discard(toCopy)
	}
	return toCopy
}

// asciiWriter sits between the data connection and a file during a STOR in
// ASCII mode. It is a Reader, not a Writer: session_file.go copies from it
// into the destination file, and it strips the CR out of every CRLF pair it
// sees while leaving a lone CR (not followed by LF) untouched.
type asciiWriter struct {
	src *bufio.Reader
}

func newASCIIWriter(r io.Reader) *asciiWriter {
	return &asciiWriter{src: asBufioReader(r)}
}

func (aw *asciiWriter) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	n := 0
	for n < len(p) {
		chunk, err := peekBuffered(aw.src)
		if err != nil {
			if n > 0 {
				return n, nil
			}
			return 0, err
		}

		cr := bytes.IndexByte(chunk, '\r')
		if cr == -1 {
			toCopy := len(chunk)
			if n+toCopy > len(p) {
				toCopy = len(p) - n
			}
			copy(p[n:], chunk[:toCopy])
			_, _ = aw.src.Discard(toCopy)
			n += toCopy
			continue
		}

		if cr > 0 {
			toCopy := cr
			if n+toCopy > len(p) {
				toCopy = len(p) - n
			}
			copy(p[n:], chunk[:toCopy])
			_, _ = aw.src.Discard(toCopy)
			n += toCopy
			if n >= len(p) {
				return n, nil
			}
		}

		// aw.src is positioned at the CR; decide whether it starts a CRLF
		// pair by peeking one byte further without consuming anything yet.
		// Peek blocks until two bytes are buffered, so a short result means
		// the stream ended on this CR and it is passed through as a bare CR.
		lookahead, _ := aw.src.Peek(2)
		switch {
		case len(lookahead) >= 2 && lookahead[1] == '\n':
			_, _ = aw.src.Discard(1) // drop the CR, next pass copies the LF
		default:
			p[n] = '\r'
			n++
			_, _ = aw.src.Discard(1)
		}
	}

	return n, nil
}
