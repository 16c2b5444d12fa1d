package nwa

import (
	"bufio"
	"net"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/emunwa/internal/logging"
)

// Handlers receive client notifications. Any of them may be nil.
type Handlers struct {
	// Connected fires once the TCP connection is established.
	Connected func()
	// ConnectError fires when the connection attempt fails.
	ConnectError func(err error)
	// ReadyRead fires once per decoded reply, after it has been queued.
	ReadyRead func()
	// Disconnected fires when an established connection is lost without
	// a local Close.
	Disconnected func(err error)
}

// Client is a single TCP connection to an NWA emulator.
type Client struct {
	mu sync.Mutex

	conn       net.Conn
	reader     *bufio.Reader
	remoteAddr string
	dialing    bool
	connected  bool
	closed     bool
	err        error

	handlers Handlers

	// Decoded replies not yet consumed by ReadReply
	replies []Reply
	ready   chan struct{}

	// Commands sent whose reply has not arrived yet, and how many of those
	// replies Discard has given up on.
	owed int
	skip int

	// DialTimeout bounds the connection attempt (default DialTimeout)
	DialTimeout time.Duration
}

// NewClient creates an unconnected client.
func NewClient() *Client {
	return &Client{
		ready:       make(chan struct{}, 1),
		DialTimeout: DialTimeout,
	}
}

// SetHandlers installs the notification callbacks.
func (c *Client) SetHandlers(h Handlers) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = h
}

// IsConnected returns true while the connection is established.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Err returns the last connection error, or nil.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// ConnectToHost starts connecting in the background. The outcome is
// reported through Handlers.Connected or Handlers.ConnectError. Calls on a
// client that is closed, connecting or connected are ignored.
func (c *Client) ConnectToHost(host string, port int) {
	c.mu.Lock()
	if c.closed || c.dialing || c.conn != nil {
		c.mu.Unlock()
		return
	}
	c.dialing = true
	c.remoteAddr = net.JoinHostPort(host, strconv.Itoa(port))
	addr := c.remoteAddr
	timeout := c.DialTimeout
	c.mu.Unlock()

	go c.dial(addr, timeout)
}

func (c *Client) dial(addr string, timeout time.Duration) {
	conn, err := net.DialTimeout("tcp", addr, timeout)

	c.mu.Lock()
	c.dialing = false
	if c.closed {
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}

	if err != nil {
		c.err = NewConnectionError("failed to connect", err)
		handler := c.handlers.ConnectError
		c.mu.Unlock()

		logging.Debug("NWA connect failed", zap.String("remote_addr", addr), zap.Error(err))
		if handler != nil {
			handler(err)
		}
		return
	}

	c.conn = conn
	c.reader = bufio.NewReader(conn)
	c.connected = true
	c.err = nil
	handler := c.handlers.Connected
	reader := c.reader
	c.mu.Unlock()

	logging.LogConnection(addr, "connected")
	if handler != nil {
		handler()
	}
	go c.readerLoop(addr, reader)
}

// SendCommand writes one command line. The reply arrives asynchronously.
func (c *Client) SendCommand(name string, args ...string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if !c.connected {
		c.mu.Unlock()
		return ErrNotConnected
	}
	conn := c.conn
	addr := c.remoteAddr
	c.owed++
	c.mu.Unlock()

	logging.LogCommand(addr, name, args)

	if err := conn.SetWriteDeadline(time.Now().Add(WriteTimeout)); err != nil {
		c.unowe()
		return NewConnectionError("failed to set write deadline", err)
	}
	if _, err := conn.Write([]byte(FormatCommand(name, args...))); err != nil {
		c.unowe()
		return NewConnectionError("failed to send command", err)
	}
	return nil
}

func (c *Client) unowe() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.owed > 0 {
		c.owed--
	}
	if c.skip > c.owed {
		c.skip = c.owed
	}
}

// EmuInfo requests the emulator name, version and id.
func (c *Client) EmuInfo() error {
	return c.SendCommand(CmdEmulatorInfo)
}

// EmuStatus requests the emulation state.
func (c *Client) EmuStatus() error {
	return c.SendCommand(CmdEmulationStatus)
}

// CoresList requests the cores available for platform.
func (c *Client) CoresList(platform string) error {
	if platform == "" {
		return c.SendCommand(CmdCoresList)
	}
	return c.SendCommand(CmdCoresList, platform)
}

// CoreCurrentInfo requests information about the loaded core.
func (c *Client) CoreCurrentInfo() error {
	return c.SendCommand(CmdCoreCurrentInfo)
}

// ReadReply pops the oldest queued reply. It returns the zero (invalid)
// Reply when nothing is queued.
func (c *Client) ReadReply() Reply {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.replies) == 0 {
		return Reply{}
	}
	rep := c.replies[0]
	c.replies = c.replies[1:]
	return rep
}

// Discard drops every queued reply, and the replies still owed for
// commands already sent are dropped on arrival. The next reply read is the
// answer to the next command sent.
func (c *Client) Discard() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.replies)
	c.replies = nil
	c.skip = c.owed
	return n
}

// Pending returns the number of queued replies.
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.replies)
}

// WaitForReadyRead blocks until a reply is queued, the connection is lost,
// or timeout elapses. It reports whether a reply is available.
func (c *Client) WaitForReadyRead(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		c.mu.Lock()
		n := len(c.replies)
		connected := c.connected
		c.mu.Unlock()

		if n > 0 {
			return true
		}
		if !connected {
			return false
		}

		select {
		case <-c.ready:
		case <-timer.C:
			return c.Pending() > 0
		}
	}
}

// Close tears the connection down. Handlers are not invoked for a local
// close, and a dial still in flight is discarded when it completes.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.connected = false
	conn := c.conn
	addr := c.remoteAddr
	c.mu.Unlock()

	c.wake()
	if conn == nil {
		return nil
	}
	logging.LogConnection(addr, "closed")
	return conn.Close()
}

func (c *Client) readerLoop(addr string, reader *bufio.Reader) {
	for {
		rep, err := ReadReply(reader)
		if err != nil {
			c.handleDisconnect(err)
			return
		}

		logging.LogReply(addr, rep.Valid, rep.IsText, rep.Map())
		if !rep.IsText && rep.Valid {
			logging.LogRawBytes("NWA binary reply", rep.Data)
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		if c.owed > 0 {
			c.owed--
		}
		if c.skip > 0 {
			c.skip--
			c.mu.Unlock()
			logging.Debug("Dropped stale NWA reply", zap.String("remote_addr", addr))
			continue
		}
		if len(c.replies) >= MaxQueuedReplies {
			c.replies = c.replies[1:]
			logging.Debug("NWA reply queue full, dropped oldest reply", zap.String("remote_addr", addr))
		}
		c.replies = append(c.replies, rep)
		handler := c.handlers.ReadyRead
		c.mu.Unlock()

		c.wake()
		if handler != nil {
			handler()
		}
	}
}

func (c *Client) handleDisconnect(err error) {
	c.mu.Lock()
	if c.closed || !c.connected {
		c.mu.Unlock()
		return
	}
	c.connected = false
	c.err = NewConnectionError("disconnected", err)
	handler := c.handlers.Disconnected
	conn := c.conn
	addr := c.remoteAddr
	c.mu.Unlock()

	_ = conn.Close()
	c.wake()
	logging.LogConnection(addr, "lost")

	if handler != nil {
		handler(err)
	}
}

func (c *Client) wake() {
	select {
	case c.ready <- struct{}{}:
	default:
	}
}
