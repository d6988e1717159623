package ftp

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Entry is one line of a LIST reply.
type Entry struct {
	Name   string
	Type   string // "file", "dir", or "link"
	Size   int64
	Target string // symlink target, empty otherwise
	Raw    string
}

// List runs LIST against path (or the working directory, if path is
// empty) and parses each line as a Unix-style long listing — the only
// format this driver's paired server ever emits.
func (c *Client) List(path string) ([]*Entry, error) {
	var args []string
	if path != "" {
		args = append(args, path)
	}
	_, dataConn, err := c.cmdDataConnFrom("LIST", args...)
	if err != nil {
		return nil, err
	}

	var entries []*Entry
	scanner := bufio.NewScanner(dataConn)
	for scanner.Scan() {
		if entry, ok := parseUnixListLine(scanner.Text()); ok {
			entries = append(entries, entry)
		}
	}
	if err := scanner.Err(); err != nil {
		dataConn.Close()
		return nil, fmt.Errorf("ftp: reading LIST output: %w", err)
	}

	if err := c.finishDataConn(dataConn); err != nil {
		return nil, err
	}
	return entries, nil
}

// parseUnixListLine parses one "ls -l"-style line:
//
//	drwxr-xr-x 2 owner group 4096 Jan 02 15:04 name
//	lrwxrwxrwx 1 owner group   11 Jan 02 15:04 name -> target
//
// It accepts both the 9-field (with group) and 8-field (without group)
// variants, since servers disagree on whether to report a group column.
func parseUnixListLine(line string) (*Entry, bool) {
	fields := strings.Fields(line)
	if len(fields) < 8 {
		return nil, false
	}

	perms := fields[0]
	if len(perms) == 0 {
		return nil, false
	}

	entry := &Entry{Raw: line}
	switch perms[0] {
	case 'd':
		entry.Type = "dir"
	case 'l':
		entry.Type = "link"
	default:
		entry.Type = "file"
	}

	sizeIdx, nameIdx := 4, 8
	if _, err := strconv.ParseInt(fields[sizeIdx], 10, 64); err != nil {
		sizeIdx, nameIdx = 3, 7
	}
	if nameIdx >= len(fields) {
		return nil, false
	}

	size, err := strconv.ParseInt(fields[sizeIdx], 10, 64)
	if err != nil {
		return nil, false
	}
	entry.Size = size

	name := strings.Join(fields[nameIdx:], " ")
	if entry.Type == "link" {
		if before, after, ok := strings.Cut(name, " -> "); ok {
			entry.Name, entry.Target = before, after
			return entry, true
		}
	}
	entry.Name = name
	return entry, true
}

// NameList runs NLST against path, returning bare names one per line.
func (c *Client) NameList(path string) ([]string, error) {
	var args []string
	if path != "" {
		args = append(args, path)
	}
	_, dataConn, err := c.cmdDataConnFrom("NLST", args...)
	if err != nil {
		return nil, err
	}

	var names []string
	scanner := bufio.NewScanner(dataConn)
	for scanner.Scan() {
		if name := strings.TrimSpace(scanner.Text()); name != "" {
			names = append(names, name)
		}
	}
	if err := scanner.Err(); err != nil {
		dataConn.Close()
		return nil, fmt.Errorf("ftp: reading NLST output: %w", err)
	}

	if err := c.finishDataConn(dataConn); err != nil {
		return nil, err
	}
	return names, nil
}

// CurrentDir returns the working directory via PWD, unquoting the
// RFC 959 §4.1.1 quoted-path reply ("257 "/home/user" is the...").
func (c *Client) CurrentDir() (string, error) {
	resp, err := c.expect2xx("PWD")
	if err != nil {
		return "", err
	}
	start := strings.IndexByte(resp.Message, '"')
	if start == -1 {
		return "", fmt.Errorf("ftp: malformed PWD reply %q", resp.Message)
	}
	end := strings.IndexByte(resp.Message[start+1:], '"')
	if end == -1 {
		return "", fmt.Errorf("ftp: malformed PWD reply %q", resp.Message)
	}
	return resp.Message[start+1 : start+1+end], nil
}

// MakeDir creates path via MKD.
func (c *Client) MakeDir(path string) error {
	_, err := c.expect2xx("MKD", path)
	return err
}

// RemoveDir removes path via RMD.
func (c *Client) RemoveDir(path string) error {
	_, err := c.expect2xx("RMD", path)
	return err
}

// Delete removes a file via DELE.
func (c *Client) Delete(path string) error {
	_, err := c.expect2xx("DELE", path)
	return err
}

// Rename moves from to to via the RNFR/RNTO pair.
func (c *Client) Rename(from, to string) error {
	if _, err := c.expectCode(350, "RNFR", from); err != nil {
		return err
	}
	_, err := c.expect2xx("RNTO", to)
	return err
}

// ModTime returns a file's modification time via MDTM (RFC 3659), which
// is always reported in UTC.
func (c *Client) ModTime(path string) (time.Time, error) {
	resp, err := c.expect2xx("MDTM", path)
	if err != nil {
		return time.Time{}, err
	}
	timestamp := strings.TrimSpace(resp.Message)
	if len(timestamp) != 14 {
		return time.Time{}, fmt.Errorf("ftp: malformed MDTM reply %q", resp.Message)
	}
	t, err := time.Parse("20060102150405", timestamp)
	if err != nil {
		return time.Time{}, fmt.Errorf("ftp: parsing MDTM timestamp: %w", err)
	}
	return t.UTC(), nil
}

// SetModTime sets a file's modification time via MFMT
// (draft-somers-ftp-mfxx), converting t to UTC first.
func (c *Client) SetModTime(path string, t time.Time) error {
	_, err := c.expect2xx("MFMT", t.UTC().Format("20060102150405"), path)
	return err
}

// Chmod changes a file's permission bits via SITE CHMOD.
func (c *Client) Chmod(path string, mode os.FileMode) error {
	octal := fmt.Sprintf("%04o", mode&os.ModePerm)
	_, err := c.expect2xx("SITE", "CHMOD", octal, path)
	return err
}
