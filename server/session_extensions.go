package server

import (
	"fmt"
	"strings"
	"time"
)

// mfmtTimeLayout is the YYYYMMDDHHMMSS layout MDTM/MFMT exchange, per
// RFC 3659 §2.3 and draft-somers-ftp-mfxx.
const mfmtTimeLayout = "20060102150405"

func (s *session) handleHOST(arg string) {
	if s.isLoggedIn {
		s.reply(503, "Cannot change host after login.")
		return
	}
	s.host = arg
	s.reply(220, "Host accepted.")
}

func (s *session) handleHASH(arg string) {
	if !s.isLoggedIn {
		s.reply(530, "Not logged in.")
		return
	}

	hash, err := s.fs.GetHash(arg, s.selectedHash)
	if err != nil {
		s.replyError(err)
		return
	}
	s.reply(213, fmt.Sprintf("%s %s %s", s.selectedHash, hash, arg))
}

func (s *session) handleMFMT(arg string) {
	if !s.isLoggedIn {
		s.reply(530, "Not logged in.")
		return
	}

	timeStr, path, ok := strings.Cut(arg, " ")
	if !ok {
		s.reply(501, "Syntax error in parameters or arguments.")
		return
	}

	t, err := time.Parse(mfmtTimeLayout, timeStr)
	if err != nil {
		s.reply(501, "Invalid time format.")
		return
	}

	if err := s.fs.SetTime(path, t); err != nil {
		s.replyError(err)
		return
	}

	s.reply(213, fmt.Sprintf("Modify=%s; %s", timeStr, path))
}
