package rawhttp

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gabriel-vasile/mimetype"
)

// State represents the lifecycle of a Connection.
type State int

const (
	// StateStarted indicates the connection object exists but Open has not
	// been called yet.
	StateStarted State = iota
	// StateConnecting indicates a dial is in progress.
	StateConnecting
	// StateConnected indicates the socket is established.
	StateConnected
	// StateDisconnected indicates the socket was closed or lost.
	StateDisconnected
)

// String returns a human-readable string representation of the state.
func (s State) String() string {
	switch s {
	case StateStarted:
		return "started"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

const (
	// DefaultChunkSize is the unit of streaming for uploads and downloads.
	DefaultChunkSize = 64 * 1024

	// readPollInterval bounds how long a download read blocks before the
	// cancellation flag is re-checked.
	readPollInterval = 250 * time.Millisecond
)

// Connection is a persistent, optionally kept-alive, raw-socket HTTP/1.1
// client. It supports plain request/response exchange, streaming file upload
// and download with per-chunk progress and cooperative cancellation, and
// state-change observation. At most one logical operation may be in flight
// at a time because the underlying channel is single-stream.
//
// Observers must not call back into the Connection from their callback.
type Connection struct {
	mu        sync.Mutex
	conn      net.Conn
	host      string
	port      int
	timeout   time.Duration
	keepAlive bool
	state     State
	inFlight  bool

	cancelled atomic.Bool

	obsMu     sync.RWMutex
	observers map[string]func(State)
}

// NewConnection creates a connection in the started state. Call Open to
// establish the socket.
func NewConnection() *Connection {
	return &Connection{
		state:     StateStarted,
		observers: make(map[string]func(State)),
	}
}

// Open establishes the socket, failing with a ConnectionError after timeout.
// The parameters are remembered for reconnection attempts.
func (c *Connection) Open(host string, port int, timeout time.Duration, keepAlive bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inFlight {
		return ErrBusy
	}
	c.host = host
	c.port = port
	c.timeout = timeout
	c.keepAlive = keepAlive
	return c.dialLocked()
}

// dialLocked dials with the stored parameters. Callers hold c.mu.
func (c *Connection) dialLocked() error {
	c.setStateLocked(StateConnecting)
	addr := net.JoinHostPort(c.host, strconv.Itoa(c.port))
	conn, err := net.DialTimeout("tcp", addr, c.timeout)
	if err != nil {
		c.setStateLocked(StateDisconnected)
		return &ConnectionError{Op: "open", Err: err}
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.conn = conn
	c.setStateLocked(StateConnected)
	slog.Debug("connection established", "addr", addr, "keep_alive", c.keepAlive)
	return nil
}

// State returns the current connection state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subscribe registers a state observer under a unique id. The observer is
// notified with the new state on every transition.
func (c *Connection) Subscribe(id string, fn func(State)) {
	c.obsMu.Lock()
	defer c.obsMu.Unlock()
	c.observers[id] = fn
}

// Unsubscribe removes a previously registered observer.
func (c *Connection) Unsubscribe(id string) {
	c.obsMu.Lock()
	defer c.obsMu.Unlock()
	delete(c.observers, id)
}

func (c *Connection) setStateLocked(state State) {
	if c.state == state {
		return
	}
	c.state = state
	c.obsMu.RLock()
	observers := make([]func(State), 0, len(c.observers))
	for _, fn := range c.observers {
		observers = append(observers, fn)
	}
	c.obsMu.RUnlock()
	for _, fn := range observers {
		fn(state)
	}
}

// Terminate closes the socket and notifies observers of the disconnect.
// With tryRestart it immediately attempts to reopen with the original
// parameters, leaving the connection disconnected on failure.
func (c *Connection) Terminate(tryRestart bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.setStateLocked(StateDisconnected)
	if tryRestart && c.host != "" {
		if err := c.dialLocked(); err != nil {
			slog.Warn("reconnect failed", "host", c.host, "port", c.port, "error", err)
		}
	}
}

// Cancel requests cooperative cancellation of the in-flight upload or
// download. The operation fails with ErrCancelled at the next chunk
// boundary.
func (c *Connection) Cancel() {
	c.cancelled.Store(true)
}

// beginOp claims the single operation slot, reconnecting first when the
// connection was lost and keep-alive is configured.
func (c *Connection) beginOp() (net.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inFlight {
		return nil, ErrBusy
	}
	if c.state != StateConnected {
		if !c.keepAlive || c.host == "" {
			return nil, ErrNotConnected
		}
		if err := c.dialLocked(); err != nil {
			return nil, err
		}
	}
	c.inFlight = true
	c.cancelled.Store(false)
	return c.conn, nil
}

func (c *Connection) endOp() {
	c.mu.Lock()
	c.inFlight = false
	c.mu.Unlock()
}

func (c *Connection) markDisconnected() {
	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.setStateLocked(StateDisconnected)
	c.mu.Unlock()
}

// Send serializes the request, writes it to the socket and accumulates the
// response until the declared Content-Length is satisfied or the peer
// closes the connection. The raw bytes are returned for Parse.
func (c *Connection) Send(req *Request) ([]byte, error) {
	conn, err := c.beginOp()
	if err != nil {
		return nil, err
	}
	defer c.endOp()

	if _, err := conn.Write(req.Encode()); err != nil {
		c.markDisconnected()
		return nil, &ConnectionError{Op: "write", Err: err}
	}
	return c.readResponse(conn)
}

// readResponse reads until the header block plus Content-Length body bytes
// have arrived, or the peer closes the connection.
func (c *Connection) readResponse(conn net.Conn) ([]byte, error) {
	var acc bytes.Buffer
	buf := make([]byte, DefaultChunkSize)
	headerEnd := -1
	contentLength := -1

	for {
		if headerEnd >= 0 && contentLength >= 0 &&
			acc.Len() >= headerEnd+len(headerDelimiter)+contentLength {
			break
		}
		n, err := conn.Read(buf)
		if n > 0 {
			acc.Write(buf[:n])
			if headerEnd < 0 {
				if idx := bytes.Index(acc.Bytes(), []byte(headerDelimiter)); idx >= 0 {
					headerEnd = idx
					contentLength = contentLengthOf(acc.Bytes()[:idx])
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				c.markDisconnected()
				break
			}
			c.markDisconnected()
			return nil, &ConnectionError{Op: "read", Err: err}
		}
	}
	return acc.Bytes(), nil
}

// contentLengthOf scans a raw header block for Content-Length. Returns -1
// when absent or unparsable.
func contentLengthOf(header []byte) int {
	for _, line := range strings.Split(string(header), "\r\n") {
		sep := strings.Index(line, ":")
		if sep < 0 {
			continue
		}
		if !strings.EqualFold(strings.TrimSpace(line[:sep]), "Content-Length") {
			continue
		}
		length, err := strconv.Atoi(strings.TrimSpace(line[sep+1:]))
		if err != nil {
			return -1
		}
		return length
	}
	return -1
}

// SendFile streams a local file as the request body in fixed-size chunks.
// Content-Length is computed from the file size and Content-Type is
// detected from the file contents unless already set. onSent is invoked
// after each chunk with the number of bytes written. Cancellation is
// checked between chunks; a cancelled upload fails with ErrCancelled and
// terminates the connection because the peer still expects body bytes.
func (c *Connection) SendFile(req *Request, filePath string, onSent func(int)) ([]byte, error) {
	info, err := os.Stat(filePath)
	if err != nil {
		return nil, fmt.Errorf("file not found: %s", filePath)
	}

	conn, err := c.beginOp()
	if err != nil {
		return nil, err
	}
	defer c.endOp()

	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("file not found: %s", filePath)
	}
	defer file.Close()

	req.SetHeader("Content-Length", strconv.FormatInt(info.Size(), 10))
	if _, ok := req.Headers["Content-Type"]; !ok {
		if mtype, err := mimetype.DetectFile(filePath); err == nil {
			req.SetHeader("Content-Type", mtype.String())
		}
	}

	head := *req
	head.Body = nil
	if _, err := conn.Write(head.Encode()); err != nil {
		c.markDisconnected()
		return nil, &ConnectionError{Op: "write", Err: err}
	}

	buf := make([]byte, DefaultChunkSize)
	for {
		if c.cancelled.Load() {
			c.markDisconnected()
			return nil, ErrCancelled
		}
		n, readErr := file.Read(buf)
		if n > 0 {
			if _, err := conn.Write(buf[:n]); err != nil {
				c.markDisconnected()
				return nil, &ConnectionError{Op: "write", Err: err}
			}
			if onSent != nil {
				onSent(n)
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			return nil, fmt.Errorf("read %s: %w", filePath, readErr)
		}
	}
	return c.readResponse(conn)
}

// DownloadFile sends the request and streams the response body into
// destDir/destName, creating the directory if absent. Header bytes are
// split from body bytes at the blank-line boundary; onReceived fires per
// body chunk. The returned buffer holds the status line and headers only,
// so it parses uniformly with Send results. A cancelled download fails
// with ErrCancelled and leaves the partial file for the caller to remove.
func (c *Connection) DownloadFile(req *Request, destDir, destName string, onReceived func(int)) ([]byte, error) {
	conn, err := c.beginOp()
	if err != nil {
		return nil, err
	}
	defer c.endOp()

	if _, err := conn.Write(req.Encode()); err != nil {
		c.markDisconnected()
		return nil, &ConnectionError{Op: "write", Err: err}
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", destDir, err)
	}
	destPath := filepath.Join(destDir, destName)
	dest, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", destPath, err)
	}
	defer dest.Close()

	var header bytes.Buffer
	buf := make([]byte, DefaultChunkSize)
	headerDone := false
	contentLength := -1
	var received int64

	for {
		if headerDone && contentLength >= 0 && received >= int64(contentLength) {
			break
		}
		if c.cancelled.Load() {
			c.markDisconnected()
			return nil, ErrCancelled
		}
		_ = conn.SetReadDeadline(time.Now().Add(readPollInterval))
		n, readErr := conn.Read(buf)
		if n > 0 {
			if !headerDone {
				header.Write(buf[:n])
				if idx := bytes.Index(header.Bytes(), []byte(headerDelimiter)); idx >= 0 {
					headerDone = true
					contentLength = contentLengthOf(header.Bytes()[:idx])
					boundary := idx + len(headerDelimiter)
					body := header.Bytes()[boundary:]
					if len(body) > 0 {
						if _, err := dest.Write(body); err != nil {
							return nil, fmt.Errorf("write %s: %w", destPath, err)
						}
						received += int64(len(body))
						if onReceived != nil {
							onReceived(len(body))
						}
					}
					header.Truncate(boundary)
				}
			} else {
				if _, err := dest.Write(buf[:n]); err != nil {
					return nil, fmt.Errorf("write %s: %w", destPath, err)
				}
				received += int64(n)
				if onReceived != nil {
					onReceived(n)
				}
			}
		}
		if readErr != nil {
			var netErr net.Error
			if errors.As(readErr, &netErr) && netErr.Timeout() {
				continue
			}
			if errors.Is(readErr, io.EOF) {
				c.markDisconnected()
				break
			}
			c.markDisconnected()
			return nil, &ConnectionError{Op: "read", Err: readErr}
		}
	}
	_ = conn.SetReadDeadline(time.Time{})
	return header.Bytes(), nil
}
