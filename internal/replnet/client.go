// Package replnet implements the Network collaborator the replication
// core consumes: a blocking TCP client for slaves connecting to a master,
// and a redcon-based listener for masters accepting slave connections.
// The wire framing for binlog push itself is out of scope (spec.md §1) —
// this package only provides connect/writeLine/readLine primitives.
package replnet

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"time"

	rawbytes "github.com/kvshard/replicore/pkg/bytes"
)

// BlockingClient is a synchronous line-oriented TCP client, grounded on
// internal/cluster/migration.Worker.migrateKey's hand-rolled dial/write/
// read pattern in the teacher.
type BlockingClient struct {
	conn   net.Conn
	reader *bufio.Reader
	bufLen int
}

// NewBlockingClient allocates a client with the given read buffer size; it
// is not yet connected.
func NewBlockingClient(bufLen int) *BlockingClient {
	return &BlockingClient{bufLen: bufLen}
}

// Connect dials host:port with the given timeout.
func (c *BlockingClient) Connect(host string, port uint32, timeout time.Duration) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return fmt.Errorf("connect %s: %w", addr, err)
	}
	c.conn = conn
	c.reader = bufio.NewReaderSize(conn, c.bufLen)
	return nil
}

// WriteLine writes a single CRLF-terminated line.
func (c *BlockingClient) WriteLine(line string) error {
	if c.conn == nil {
		return fmt.Errorf("replnet: not connected")
	}
	_, err := c.conn.Write(rawbytes.StringToBytes(line + "\r\n"))
	return err
}

// ReadLine reads a single line, blocking up to timeout.
func (c *BlockingClient) ReadLine(timeout time.Duration) (string, error) {
	if c.conn == nil {
		return "", fmt.Errorf("replnet: not connected")
	}
	if timeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	}
	line, err := c.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// SetDeadline forwards to the underlying connection.
func (c *BlockingClient) SetDeadline(t time.Time) error {
	if c.conn == nil {
		return nil
	}
	return c.conn.SetDeadline(t)
}

// RemoteAddr reports the peer address once connected, "???" otherwise —
// matching the original's fallback display value (spec.md §4.8 detail
// format's remote_host).
func (c *BlockingClient) RemoteAddr() string {
	if c.conn == nil {
		return "???"
	}
	return c.conn.RemoteAddr().String()
}

// Close closes the underlying connection, if any.
func (c *BlockingClient) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// Authenticate performs the single challenge/response auth line named in
// spec.md's Non-goals ("authentication handshake beyond a single
// challenge/response line"), grounded on the original's createClient: an
// "AUTH <password>" line followed by a one-line reply starting with '-' on
// failure.
func (c *BlockingClient) Authenticate(password string, timeout time.Duration) error {
	if password == "" {
		return nil
	}
	if err := c.WriteLine("AUTH " + password); err != nil {
		return fmt.Errorf("send auth: %w", err)
	}
	resp, err := c.ReadLine(timeout)
	if err != nil {
		return fmt.Errorf("read auth response: %w", err)
	}
	if resp == "" || resp[0] == '-' {
		return fmt.Errorf("auth failed: %s", resp)
	}
	return nil
}
