package server

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/goftpd/ftpd"
)

// parsePASVMessage extracts a dialable host:port from a PASV reply's
// message body ("Entering Passive Mode (h1,h2,h3,h4,p1,p2)").
func parsePASVMessage(msg string) (string, error) {
	start := strings.IndexByte(msg, '(')
	end := strings.LastIndexByte(msg, ')')
	if start == -1 || end == -1 || end < start {
		return "", fmt.Errorf("malformed PASV reply %q", msg)
	}
	parts := strings.Split(msg[start+1:end], ",")
	if len(parts) != 6 {
		return "", fmt.Errorf("malformed PASV octets %q", msg)
	}
	p1, err1 := strconv.Atoi(parts[4])
	p2, err2 := strconv.Atoi(parts[5])
	if err1 != nil || err2 != nil {
		return "", fmt.Errorf("malformed PASV port octets %q", msg)
	}
	return fmt.Sprintf("127.0.0.1:%d", p1*256+p2), nil
}

func TestDirectoryMessageAppearsOnCWD(t *testing.T) {
	t.Parallel()
	rootDir := t.TempDir()

	msgDir := filepath.Join(rootDir, "info")
	if err := os.Mkdir(msgDir, 0755); err != nil {
		t.Fatal(err)
	}
	const greeting = "Welcome to the info directory.\nPlease behave."
	if err := os.WriteFile(filepath.Join(msgDir, ".message"), []byte(greeting), 0644); err != nil {
		t.Fatal(err)
	}

	driver, err := NewFSDriver(rootDir, WithAuthenticator(anonAuth(rootDir)))
	if err != nil {
		t.Fatal(err)
	}
	addr := startServer(t, driver, WithEnableDirMessage(true))
	c := dialAndLogin(t, addr, "test", "test", ftp.WithTimeout(2*time.Second))

	// Quote gives back the raw reply text so the .message contents, folded
	// into CWD's multi-line 250, can be checked directly.
	resp, err := c.Quote("CWD info")
	if err != nil {
		t.Fatalf("CWD: %v", err)
	}
	if resp.Code != 250 {
		t.Errorf("code = %d, want 250", resp.Code)
	}
	if !strings.Contains(resp.Message, "Welcome to the info directory") {
		t.Errorf("reply missing first .message line: %q", resp.Message)
	}
	if !strings.Contains(resp.Message, "Please behave") {
		t.Errorf("reply missing second .message line: %q", resp.Message)
	}
}

// rawRetrieve issues RETR over a manually-opened PASV data connection,
// bypassing the driver client's Retrieve (which forces binary/TYPE I) so a
// caller can exercise ASCII-mode translation directly.
func rawRetrieve(c *ftp.Client, path string) ([]byte, error) {
	resp, err := c.Quote("PASV")
	if err != nil {
		return nil, err
	}
	if resp.Code != 227 {
		return nil, fmt.Errorf("PASV: code %d", resp.Code)
	}
	dataAddr, err := parsePASVMessage(resp.Message)
	if err != nil {
		return nil, err
	}

	dataConn, err := net.DialTimeout("tcp", dataAddr, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("dialing data connection: %w", err)
	}
	defer dataConn.Close()

	if _, err := c.Quote("RETR " + path); err != nil {
		return nil, fmt.Errorf("RETR: %w", err)
	}
	data, err := io.ReadAll(dataConn)
	if err != nil {
		return nil, fmt.Errorf("reading data connection: %w", err)
	}
	return data, nil
}

// rawStore is rawRetrieve's upload counterpart.
func rawStore(c *ftp.Client, path string, content []byte) error {
	resp, err := c.Quote("PASV")
	if err != nil {
		return err
	}
	dataAddr, err := parsePASVMessage(resp.Message)
	if err != nil {
		return err
	}

	dataConn, err := net.DialTimeout("tcp", dataAddr, 5*time.Second)
	if err != nil {
		return err
	}
	defer dataConn.Close()

	if _, err := c.Quote("STOR " + path); err != nil {
		return err
	}
	if _, err := dataConn.Write(content); err != nil {
		return err
	}
	return dataConn.Close()
}

func TestASCIITypeTranslatesLineEndings(t *testing.T) {
	t.Parallel()
	rootDir := t.TempDir()

	const unixName = "unix.txt"
	if err := os.WriteFile(filepath.Join(rootDir, unixName), []byte("line1\nline2\n"), 0644); err != nil {
		t.Fatal(err)
	}

	driver, err := NewFSDriver(rootDir, WithAuthenticator(anonAuth(rootDir)))
	if err != nil {
		t.Fatal(err)
	}
	addr := startServer(t, driver)

	c := dialAndLogin(t, addr, "test", "test", ftp.WithTimeout(2*time.Second))
	if err := c.Type("A"); err != nil {
		t.Fatalf("TYPE A: %v", err)
	}

	got, err := rawRetrieve(c, unixName)
	if err != nil {
		t.Fatalf("rawRetrieve: %v", err)
	}
	if want := "line1\r\nline2\r\n"; string(got) != want {
		t.Errorf("download got %q, want %q", got, want)
	}

	// The 226 that follows RETR was never drained on the connection above
	// (rawRetrieve reads only the data channel), so start a fresh session
	// for the upload half rather than resync the control channel.
	c2 := dialAndLogin(t, addr, "test", "test", ftp.WithTimeout(2*time.Second))
	if err := c2.Type("A"); err != nil {
		t.Fatalf("TYPE A: %v", err)
	}

	const uploadName = "upload.txt"
	if err := rawStore(c2, uploadName, []byte("foo\r\nbar\r\n")); err != nil {
		t.Fatalf("rawStore: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	onDisk, err := os.ReadFile(filepath.Join(rootDir, uploadName))
	if err != nil {
		t.Fatal(err)
	}
	if want := "foo\nbar\n"; string(onDisk) != want {
		t.Errorf("upload on disk = %q, want %q", onDisk, want)
	}
}

func TestABORClosesDataConnection(t *testing.T) {
	t.Parallel()
	rootDir := t.TempDir()
	const largeFile = "large.bin"
	if err := os.WriteFile(filepath.Join(rootDir, largeFile), make([]byte, 1024*1024), 0644); err != nil {
		t.Fatal(err)
	}

	driver, err := NewFSDriver(rootDir, WithAuthenticator(anonAuth(rootDir)))
	if err != nil {
		t.Fatal(err)
	}
	addr := startServer(t, driver)
	c := dialAndLogin(t, addr, "test", "test", ftp.WithTimeout(5*time.Second))

	resp, err := c.Quote("PASV")
	if err != nil {
		t.Fatal(err)
	}
	dataAddr, err := parsePASVMessage(resp.Message)
	if err != nil {
		t.Fatal(err)
	}
	dataConn, err := net.Dial("tcp", dataAddr)
	if err != nil {
		t.Fatal(err)
	}
	defer dataConn.Close()

	if _, err := c.Quote("RETR " + largeFile); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)

	aborResp, err := c.Quote("ABOR")
	if err != nil {
		t.Fatalf("ABOR: %v", err)
	}
	if aborResp.Code != 226 && aborResp.Code != 225 {
		t.Errorf("ABOR reply code = %d %s, want 225/226", aborResp.Code, aborResp.Message)
	}

	buf := make([]byte, 1024)
	_ = dataConn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
	n, err := dataConn.Read(buf)
	for err == nil && n > 0 {
		n, err = dataConn.Read(buf)
	}
	if err == nil {
		t.Error("data connection should have closed after ABOR")
	}
}

func TestServerMiscFeatures(t *testing.T) {
	t.Parallel()
	rootDir := t.TempDir()

	if err := os.WriteFile(filepath.Join(rootDir, "file1.txt"), []byte("content1"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(rootDir, "subdir"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(rootDir, "subdir", "file2.txt"), []byte("content2"), 0644); err != nil {
		t.Fatal(err)
	}

	var logBuf bytes.Buffer
	driver, err := NewFSDriver(rootDir, WithAnonWrite(true))
	if err != nil {
		t.Fatal(err)
	}
	addr := startServer(t, driver, WithTransferLog(&logBuf))

	t.Run("anon write is transfer-logged", func(t *testing.T) {
		checkAnonWriteLogged(t, addr, &logBuf)
	})
	t.Run("LIST -R descends into subdirectories", func(t *testing.T) {
		checkRecursiveListing(t, addr)
	})
	t.Run("umask narrows created file permissions", func(t *testing.T) {
		checkUmaskAppliesToUploads(t)
	})
}

func checkAnonWriteLogged(t *testing.T, addr string, logBuf *bytes.Buffer) {
	conn, err := rawFTPLogin(addr, "anonymous", "test@example.com")
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	dataAddr, err := rawEnterPassive(conn)
	if err != nil {
		t.Fatal(err)
	}
	dataConn, err := net.DialTimeout("tcp", dataAddr, 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer dataConn.Close()

	fmt.Fprintf(conn, "STOR upload.txt\r\n")
	fmt.Fprintf(dataConn, "uploaded content")
	dataConn.Close()

	code, _, err := rawReadReply(conn)
	if err != nil {
		t.Fatal(err)
	}
	if code == 150 {
		if code, _, err = rawReadReply(conn); err != nil {
			t.Fatal(err)
		}
	}
	if code != 226 {
		t.Errorf("code = %d, want 226", code)
	}
	conn.Close()

	time.Sleep(100 * time.Millisecond)
	log := logBuf.String()
	if !strings.Contains(log, "upload.txt") {
		t.Errorf("transfer log missing filename: %s", log)
	}
	if !strings.Contains(log, "i a anonymous") {
		t.Errorf("transfer log missing anonymous-incoming marker: %s", log)
	}
}

func checkRecursiveListing(t *testing.T, addr string) {
	conn, err := rawFTPLogin(addr, "anonymous", "test@example.com")
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	dataAddr, err := rawEnterPassive(conn)
	if err != nil {
		t.Fatal(err)
	}
	dataConn, err := net.DialTimeout("tcp", dataAddr, 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}

	fmt.Fprintf(conn, "LIST -R\r\n")

	var buf bytes.Buffer
	if err := dataConn.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
		t.Fatal(err)
	}
	_, err = buf.ReadFrom(dataConn)
	dataConn.Close()
	if err != nil {
		t.Fatal(err)
	}
	_, _, _ = rawReadReply(conn)
	_, _, _ = rawReadReply(conn)

	listing := buf.String()
	if !strings.Contains(listing, "file1.txt") {
		t.Errorf("listing missing root-level file:\n%s", listing)
	}
	if !strings.Contains(listing, "subdir:") {
		t.Error("listing missing subdir: header")
	}
	if !strings.Contains(listing, "file2.txt") {
		t.Error("listing missing nested file")
	}
}

func checkUmaskAppliesToUploads(t *testing.T) {
	rootDir := t.TempDir()
	driver, err := NewFSDriver(rootDir, WithAnonWrite(true), WithSettings(&Settings{Umask: 0077}))
	if err != nil {
		t.Fatal(err)
	}
	var logBuf bytes.Buffer
	addr := startServer(t, driver, WithTransferLog(&logBuf))

	conn, err := rawFTPLogin(addr, "anonymous", "test@example.com")
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	dataAddr, err := rawEnterPassive(conn)
	if err != nil {
		t.Fatal(err)
	}
	dataConn, err := net.DialTimeout("tcp", dataAddr, 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer dataConn.Close()

	fmt.Fprintf(conn, "STOR private.txt\r\n")
	fmt.Fprintf(dataConn, "secret")
	dataConn.Close()
	_, _, _ = rawReadReply(conn)
	_, _, _ = rawReadReply(conn)

	info, err := os.Stat(filepath.Join(rootDir, "private.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("perm = %v, want 0600 (umask 0077 applied)", perm)
	}
}

// rawFTPConn is a bare control-connection wrapper for tests that need to
// speak the wire protocol directly instead of through the driver client.
type rawFTPConn struct {
	net.Conn
}

func rawFTPLogin(addr, user, pass string) (*rawFTPConn, error) {
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return nil, err
	}
	rc := &rawFTPConn{conn}

	if _, _, err := rawReadReply(rc); err != nil {
		return nil, err
	}
	fmt.Fprintf(conn, "USER %s\r\n", user)
	if _, _, err := rawReadReply(rc); err != nil {
		return nil, err
	}
	fmt.Fprintf(conn, "PASS %s\r\n", pass)
	if code, _, err := rawReadReply(rc); err != nil || code != 230 {
		return nil, fmt.Errorf("login failed: code %d, err %v", code, err)
	}
	return rc, nil
}

func rawEnterPassive(c *rawFTPConn) (string, error) {
	fmt.Fprintf(c.Conn, "PASV\r\n")
	code, msg, err := rawReadReply(c)
	if err != nil {
		return "", err
	}
	if code != 227 {
		return "", fmt.Errorf("PASV: code %d", code)
	}
	return parsePASVMessage(msg)
}

func rawReadReply(c *rawFTPConn) (int, string, error) {
	if err := c.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
		return 0, "", err
	}
	buf := make([]byte, 1024)
	n, err := c.Read(buf)
	if err != nil {
		return 0, "", err
	}
	line := string(buf[:n])
	var code int
	_, _ = fmt.Sscanf(line, "%d", &code)
	return code, line, nil
}
