package ftp

import (
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Store uploads r to remotePath via STOR, in binary mode.
func (c *Client) Store(remotePath string, r io.Reader) error {
	return c.upload("STOR", []string{remotePath}, r)
}

// Append uploads r onto the end of remotePath via APPE, creating the file
// if it doesn't already exist.
func (c *Client) Append(remotePath string, r io.Reader) error {
	return c.upload("APPE", []string{remotePath}, r)
}

// StoreUnique uploads r via STOU, letting the server pick a name that
// doesn't collide with an existing file, and returns that name. The name
// is only ever reported on the preliminary 150 reply, so it must be
// captured before the transfer completes.
func (c *Client) StoreUnique(r io.Reader) (string, error) {
	if err := c.Type("I"); err != nil {
		return "", fmt.Errorf("ftp: setting binary mode: %w", err)
	}

	resp, dataConn, err := c.cmdDataConnFrom("STOU")
	if err != nil {
		return "", err
	}

	name := parseUniqueName(resp.Message)

	_, copyErr := io.Copy(dataConn, r)
	finishErr := c.finishDataConn(dataConn)
	if copyErr != nil {
		return "", fmt.Errorf("ftp: STOU upload: %w", copyErr)
	}
	if finishErr != nil {
		return "", finishErr
	}
	return name, nil
}

// parseUniqueName pulls the generated filename out of a STOU preliminary
// reply. Servers vary in exact wording ("FILE: name", "name", etc.); the
// last whitespace-separated token is the name in every variant seen.
func parseUniqueName(message string) string {
	fields := strings.Fields(message)
	if len(fields) == 0 {
		return ""
	}
	return fields[len(fields)-1]
}

// Retrieve downloads remotePath into w via RETR, in binary mode.
func (c *Client) Retrieve(remotePath string, w io.Writer) error {
	return c.download("RETR", []string{remotePath}, w)
}

// RestartAt sets the byte offset the next RETR or STOR should resume
// from, per RFC 3659's REST command.
func (c *Client) RestartAt(offset int64) error {
	_, err := c.expectCode(350, "REST", strconv.FormatInt(offset, 10))
	return err
}

// RetrieveFrom downloads remotePath into w starting at offset, using REST
// to resume an interrupted transfer.
func (c *Client) RetrieveFrom(remotePath string, w io.Writer, offset int64) error {
	if err := c.Type("I"); err != nil {
		return fmt.Errorf("ftp: setting binary mode: %w", err)
	}
	if offset > 0 {
		if err := c.RestartAt(offset); err != nil {
			return fmt.Errorf("ftp: REST %d: %w", offset, err)
		}
	}
	return c.download("RETR", []string{remotePath}, w)
}

func (c *Client) upload(cmd string, args []string, r io.Reader) error {
	if err := c.Type("I"); err != nil {
		return fmt.Errorf("ftp: setting binary mode: %w", err)
	}
	_, dataConn, err := c.cmdDataConnFrom(cmd, args...)
	if err != nil {
		return err
	}
	_, copyErr := io.Copy(dataConn, r)
	finishErr := c.finishDataConn(dataConn)
	if copyErr != nil {
		return fmt.Errorf("ftp: %s: %w", cmd, copyErr)
	}
	return finishErr
}

func (c *Client) download(cmd string, args []string, w io.Writer) error {
	if err := c.Type("I"); err != nil {
		return fmt.Errorf("ftp: setting binary mode: %w", err)
	}
	_, dataConn, err := c.cmdDataConnFrom(cmd, args...)
	if err != nil {
		return err
	}
	_, copyErr := io.Copy(w, dataConn)
	finishErr := c.finishDataConn(dataConn)
	if copyErr != nil {
		return fmt.Errorf("ftp: %s: %w", cmd, copyErr)
	}
	return finishErr
}
