package server

import (
	"fmt"
	"io"
	"os"
	"strings"
)

func (s *session) handlePWD(arg string) {
	if !s.isLoggedIn {
		s.reply(530, "Please login with USER and PASS.")
		return
	}
	cwd, err := s.fs.GetWd()
	if err != nil {
		s.replyError(err)
		return
	}
	s.reply(257, fmt.Sprintf("%q is the current directory.", cwd))
}

func (s *session) handleCWD(path string) {
	if !s.isLoggedIn {
		s.reply(530, "Please login with USER and PASS.")
		return
	}
	if err := s.fs.ChangeDir(path); err != nil {
		s.replyError(err)
		return
	}

	// Check for .message file if enabled
	if s.server.enableDirMessage {
		f, err := s.fs.OpenFile(".message", 0)
		if err == nil {
			// Read up to 2KB to avoid excessive memory usage
			lr := io.LimitReader(f, 2048)
			b, _ := io.ReadAll(lr)
			f.Close()
			if len(b) > 0 {
				fmt.Fprintf(s.writer, "250-Message:\r\n")
				// Trim trailing newlines to avoid an extra empty line at the end
				msg := strings.TrimRight(string(b), "\r\n")
				lines := strings.Split(msg, "\n")
				for _, line := range lines {
					line = strings.TrimRight(line, "\r")
					fmt.Fprintf(s.writer, "250-%s\r\n", line)
				}
			}
		}
	}
	s.reply(250, "Directory successfully changed.")
}

func (s *session) handleCDUP(arg string) {
	s.handleCWD("..")
}

func (s *session) handleLIST(arg string) {
	if !s.isLoggedIn {
		s.reply(530, "Not logged in.")
		return
	}

	path, recursive := parseListArg(arg)

	entries, err := s.fs.ListDir(path)
	if err != nil {
		s.replyError(err)
		return
	}

	conn, err := s.connData()
	if err != nil {
		s.reply(425, "Can't open data connection.")
		return
	}
	defer conn.Close()

	s.reply(150, "Here comes the directory listing.")

	writeListing(conn, entries)
	if recursive {
		s.listRecursive(conn, path, entries)
	}

	s.reply(226, "Directory send OK.")
}

// writeListing writes one Unix-style ls -l line per entry. This is a
// simplified format compatible with most clients, not a byte-exact
// reproduction of any particular ls implementation.
func writeListing(w io.Writer, entries []os.FileInfo) {
	for _, entry := range entries {
		fmt.Fprintf(w, "%s 1 owner group %d %s %s\r\n",
			entry.Mode().String(), entry.Size(), entry.ModTime().Format("Jan 02 15:04"), entry.Name())
	}
}

// listRecursive descends into every subdirectory of path, writing an
// "ls -R" style "name:" header followed by that directory's listing,
// depth-first in the order ListDir returned the entries.
func (s *session) listRecursive(w io.Writer, path string, entries []os.FileInfo) {
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		childPath := strings.TrimSuffix(path, "/") + "/" + entry.Name()
		childEntries, err := s.fs.ListDir(childPath)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "\r\n%s:\r\n", childPath)
		writeListing(w, childEntries)
		s.listRecursive(w, childPath, childEntries)
	}
}

// parseListArg splits a LIST argument into a path and a recursive flag,
// tolerating the common ls-style flag arguments (-l, -a, -R, and
// combinations like -la or -alR) that many clients send even though LIST
// itself has no formal option syntax.
func parseListArg(arg string) (path string, recursive bool) {
	fields := strings.Fields(arg)
	var pathParts []string
	for _, f := range fields {
		if strings.HasPrefix(f, "-") && len(f) > 1 {
			if strings.ContainsRune(f, 'R') {
				recursive = true
			}
			continue
		}
		pathParts = append(pathParts, f)
	}
	return strings.Join(pathParts, " "), recursive
}

func (s *session) handleNLST(arg string) {
	if !s.isLoggedIn {
		s.reply(530, "Not logged in.")
		return
	}

	path := arg
	entries, err := s.fs.ListDir(path)
	if err != nil {
		s.replyError(err)
		return
	}

	conn, err := s.connData()
	if err != nil {
		s.reply(425, "Can't open data connection.")
		return
	}
	defer conn.Close()

	s.reply(150, "Here comes the file list.")

	for _, entry := range entries {
		fmt.Fprintf(conn, "%s\r\n", entry.Name())
	}

	s.reply(226, "Transfer complete.")
}

func (s *session) handleMKD(path string) {
	if !s.isLoggedIn {
		s.reply(530, "Not logged in.")
		return
	}
	if err := s.fs.MakeDir(path); err != nil {
		s.replyError(err)
		return
	}
	// Security audit: directory created
	s.server.logger.Info("directory_created",
		"session_id", s.sessionID,
		"remote_ip", s.redactIP(s.remoteIP),
		"user", s.user,
		"host", s.host,
		"path", s.redactPath(path),
	)
	// RFC 959: 257 "PATHNAME" created.
	// Quote the path.
	s.reply(257, fmt.Sprintf("%q created.", path))
}

func (s *session) handleRMD(path string) {
	if !s.isLoggedIn {
		s.reply(530, "Not logged in.")
		return
	}
	if err := s.fs.RemoveDir(path); err != nil {
		s.replyError(err)
		return
	}
	// Security audit: directory removed
	s.server.logger.Info("directory_removed",
		"session_id", s.sessionID,
		"remote_ip", s.redactIP(s.remoteIP),
		"user", s.user,
		"host", s.host,
		"path", s.redactPath(path),
	)
	s.reply(250, "Directory removed.")
}

func (s *session) handleDELE(path string) {
	if !s.isLoggedIn {
		s.reply(530, "Not logged in.")
		return
	}
	if err := s.fs.DeleteFile(path); err != nil {
		s.replyError(err)
		return
	}
	// Security audit: file deleted
	s.server.logger.Info("file_deleted",
		"session_id", s.sessionID,
		"remote_ip", s.redactIP(s.remoteIP),
		"user", s.user,
		"host", s.host,
		"path", s.redactPath(path),
	)
	s.reply(250, "File deleted.")
}

func (s *session) handleRNFR(path string) {
	if !s.isLoggedIn {
		s.reply(530, "Not logged in.")
		return
	}

	// Verify file exists
	_, err := s.fs.GetFileInfo(path)
	if err != nil {
		s.reply(550, "File not found.")
		return
	}

	s.renameFrom = path
	s.reply(350, "Requested file action pending further information.")
}

func (s *session) handleRNTO(path string) {
	if !s.isLoggedIn {
		s.reply(530, "Not logged in.")
		return
	}

	if s.renameFrom == "" {
		s.reply(503, "Bad sequence of commands. Send RNFR first.")
		return
	}

	err := s.fs.Rename(s.renameFrom, path)
	if err != nil {
		s.replyError(err)
		s.renameFrom = ""
		return
	}

	s.renameFrom = ""
	s.reply(250, "Requested file action successful, file renamed.")
}
