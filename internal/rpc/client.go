package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/robomonkey/robomonkey/internal/rmerr"
)

// Client talks to a running daemon over its Unix socket.
type Client struct {
	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
	nextID int
}

// Dial connects to the daemon socket.
func Dial(socketPath string) (*Client, error) {
	conn, err := net.DialTimeout("unix", socketPath, 3*time.Second)
	if err != nil {
		return nil, rmerr.Wrap(rmerr.KindTransientIO, err,
			"daemon not reachable at %s (is it running?)", socketPath)
	}
	return &Client{conn: conn, reader: bufio.NewReaderSize(conn, maxLineBytes)}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// RemoteError is a structured error returned by the daemon.
type RemoteError struct {
	Code    int
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Call performs one request and decodes the result into out when out is
// non-nil.
func (c *Client) Call(ctx context.Context, method string, params any, out any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	id, _ := json.Marshal(strconv.Itoa(c.nextID))

	req := Request{JSONRPC: "2.0", Method: method, ID: id}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return rmerr.Wrap(rmerr.KindValidation, err, "encode params")
		}
		req.Params = raw
	}
	line, err := json.Marshal(req)
	if err != nil {
		return rmerr.Wrap(rmerr.KindValidation, err, "encode request")
	}
	line = append(line, '\n')

	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetDeadline(deadline)
		defer c.conn.SetDeadline(time.Time{})
	}

	if _, err := c.conn.Write(line); err != nil {
		return rmerr.Wrap(rmerr.KindTransientIO, err, "send %s", method)
	}
	raw, err := c.reader.ReadBytes('\n')
	if err != nil {
		return rmerr.Wrap(rmerr.KindTransientIO, err, "read %s response", method)
	}

	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return rmerr.Wrap(rmerr.KindPermanentIO, err, "decode %s response", method)
	}
	if resp.Error != nil {
		return &RemoteError{Code: resp.Error.Code, Message: resp.Error.Message}
	}
	if out != nil {
		// Result round-trips through JSON to land in the caller's type.
		buf, err := json.Marshal(resp.Result)
		if err != nil {
			return rmerr.Wrap(rmerr.KindPermanentIO, err, "re-encode %s result", method)
		}
		if err := json.Unmarshal(buf, out); err != nil {
			return rmerr.Wrap(rmerr.KindPermanentIO, err, "decode %s result", method)
		}
	}
	return nil
}
