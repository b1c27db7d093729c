// Package transport implements the Framed Transport (C1, §4.1): it owns
// the single TCP connection to the radio, the length-prefixed framing
// state machine, reconnect with bounded exponential backoff, and
// stale-connection detection. Grounded on the teacher's
// `public/transport/client.go` connect/read-loop shape and
// `public/emulated/emulated.go`'s `errgroup`-supervised `Run`,
// generalized from the teacher's generated-protobuf `StreamConn` to the
// spec's own resynchronizing `meshwire.FrameDecoder`.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dpaschal/meshcore-gateway/internal/meshwire"
)

// ErrClosed is returned by Send when the socket is not currently open; it
// is a transient condition (§7) and the caller decides whether to
// requeue.
var ErrClosed = errors.New("transport: connection is closed")

// Status is the connection lifecycle state emitted on every transition
// (§4.1: "Emit a connection-status event on every transition").
type Status uint8

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Options configures a Conn's timing behavior.
type Options struct {
	// StaleTimeout force-closes the link if no byte arrives within this
	// window (§4.1).
	StaleTimeout time.Duration
	// MinBackoff/MaxBackoff bound the reconnect backoff (§4.1, §9: "a
	// plain time-bounded loop, do not use arbitrary unbounded retries").
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

// DefaultOptions matches the spec's informal guidance: a couple of
// minutes of silence is stale, backoff from 1s up to 30s.
func DefaultOptions() Options {
	return Options{
		StaleTimeout: 2 * time.Minute,
		MinBackoff:   time.Second,
		MaxBackoff:   30 * time.Second,
	}
}

// Conn owns the TCP socket to a single radio and its framing.
type Conn struct {
	Host string
	Port int
	Opts Options

	Logger *log.Logger

	OnConnect    func()
	OnFrame      func(raw []byte)
	OnDisconnect func(reason error)
	OnStatus     func(Status)

	mu               sync.Mutex
	conn             net.Conn
	userDisconnected bool
	status           Status
}

// New builds a Conn targeting host:port.
func New(host string, port int, opts Options) *Conn {
	return &Conn{Host: host, Port: port, Opts: opts}
}

func (c *Conn) logger() *log.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return log.Default()
}

func (c *Conn) setStatus(s Status) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
	if c.OnStatus != nil {
		c.OnStatus(s)
	}
}

// Status reports the current connection status.
func (c *Conn) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Run connects and services the link until ctx is cancelled or the user
// calls Disconnect: reconnecting with bounded exponential backoff after
// any non-user-initiated disconnect (§4.1). It returns nil once ctx is
// cancelled or the user disconnects; connection errors are logged and
// retried, never returned.
func (c *Conn) Run(ctx context.Context) error {
	backoff := c.Opts.MinBackoff
	for {
		c.mu.Lock()
		c.userDisconnected = false
		c.mu.Unlock()

		err := c.runOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		c.mu.Lock()
		userQuit := c.userDisconnected
		c.mu.Unlock()
		if userQuit {
			return nil
		}
		c.logger().Warn("radio link lost, reconnecting", "err", err, "backoff", backoff)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > c.Opts.MaxBackoff {
			backoff = c.Opts.MaxBackoff
		}
	}
}

// runOnce connects once and services the link until it breaks.
func (c *Conn) runOnce(ctx context.Context) error {
	c.setStatus(StatusConnecting)
	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", c.Host, c.Port))
	if err != nil {
		c.setStatus(StatusDisconnected)
		return fmt.Errorf("transport: dial: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.setStatus(StatusConnected)
	if c.OnConnect != nil {
		c.OnConnect()
	}

	err = c.readLoop(ctx, conn)

	c.mu.Lock()
	c.conn = nil
	c.mu.Unlock()
	conn.Close()
	c.setStatus(StatusDisconnected)
	if c.OnDisconnect != nil {
		c.OnDisconnect(err)
	}
	return err
}

// readLoop drains conn, feeding bytes through the framing state machine
// and dispatching every complete frame to OnFrame. Staleness is enforced
// with a rolling read deadline: no bytes within StaleTimeout force-closes
// the link (§4.1).
func (c *Conn) readLoop(ctx context.Context, conn net.Conn) error {
	dec := meshwire.NewFrameDecoder()
	buf := make([]byte, 4096)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if c.Opts.StaleTimeout > 0 {
			if err := conn.SetReadDeadline(time.Now().Add(c.Opts.StaleTimeout)); err != nil {
				return fmt.Errorf("transport: set read deadline: %w", err)
			}
		}
		n, err := conn.Read(buf)
		if n > 0 {
			for _, frame := range dec.Feed(buf[:n]) {
				if c.OnFrame != nil {
					c.OnFrame(frame)
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("transport: radio closed connection: %w", err)
			}
			return fmt.Errorf("transport: read: %w", err)
		}
	}
}

// SendFrame frames body (magic header + length prefix) and writes it to
// the socket. It implements the FrameSender interface the delivery
// tracker and session controller depend on.
func (c *Conn) SendFrame(ctx context.Context, body []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrClosed
	}
	frame, err := meshwire.EncodeFrame(body)
	if err != nil {
		return err
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(dl)
	}
	if _, err := conn.Write(frame); err != nil {
		return fmt.Errorf("transport: write: %w", err)
	}
	return nil
}

// Disconnect is a user-initiated shutdown (§5 cancellation): it closes
// the socket and suppresses auto-reconnect until Run is called again.
func (c *Conn) Disconnect() {
	c.mu.Lock()
	c.userDisconnected = true
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}
