package server

import (
	"bufio"
	"fmt"
)

// replyWriter centralizes reply framing so every handler shares one
// implementation of "code SP text CRLF" instead of hand-formatting it with
// fmt.Fprintf at each call site.
type replyWriter struct {
	w *bufio.Writer
}

func (rw replyWriter) single(code int, text string) error {
	if _, err := fmt.Fprintf(rw.w, "%d %s\r\n", code, text); err != nil {
		return err
	}
	return rw.w.Flush()
}

// multiReply accumulates the lines of a multi-line reply (RFC 959 §4.2:
// "code-" for every line but the last, "code " for the last) and flushes
// them together under the writer's lock.
type multiReply struct {
	w     *bufio.Writer
	code  int
	lines []string
}

func newMultiReply(w *bufio.Writer, code int) *multiReply {
	return &multiReply{w: w, code: code}
}

func (m *multiReply) add(line string) {
	m.lines = append(m.lines, line)
}

func (m *multiReply) flush(finalText string) error {
	for _, line := range m.lines {
		if _, err := fmt.Fprintf(m.w, "%d-%s\r\n", m.code, line); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(m.w, "%d %s\r\n", m.code, finalText); err != nil {
		return err
	}
	return m.w.Flush()
}

// reply sends a response to the client, serialized against concurrent
// writers (the reader goroutine never writes, but transfer goroutines and
// the main loop both can).
func (s *session) reply(code int, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = replyWriter{w: s.writer}.single(code, message)
}

// replyMulti starts a multi-line reply under the session lock and flushes
// it before returning; the caller supplies every line up front since the
// lock must not be held across handler logic that could block.
func (s *session) replyMulti(code int, lines []string, finalText string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := newMultiReply(s.writer, code)
	for _, l := range lines {
		m.add(l)
	}
	_ = m.flush(finalText)
}
