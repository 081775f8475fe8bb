// Package conn owns the physical duplex channel to a venue: the websocket
// dial, the read loop, outbound writes with rate limiting, and the bounded
// queue that buffers sends while the link is down.
package conn

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"marketmux/internal/metrics"
	"marketmux/internal/venue"
	"marketmux/logger"
)

// State is the lifecycle phase of a connection.
type State int

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ErrNotConnected is returned by Send when the link is down and the caller
// opted out of queueing.
var ErrNotConnected = fmt.Errorf("connection is not open")

// ErrClosed is returned by Open once a clean Close has been issued. A
// closed connection never dials again, even if Close raced a dial that was
// already in flight.
var ErrClosed = fmt.Errorf("connection is closed")

// Socket is the subset of the gorilla connection the read and write paths
// use. Tests substitute an in-memory implementation.
type Socket interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(string) error)
	Close() error
}

// Dialer opens the physical channel to an endpoint.
type Dialer interface {
	Dial(ctx context.Context, endpoint string) (Socket, error)
}

// WSDialer dials with the gorilla websocket dialer.
type WSDialer struct{}

func (WSDialer) Dial(ctx context.Context, endpoint string) (Socket, error) {
	sock, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, err
	}
	return sock, nil
}

// Options configures a connection. OnMessage receives every inbound frame;
// OnClose fires once per unclean close and never after a clean Close.
type Options struct {
	ID           string
	Endpoint     string
	Codec        venue.Codec
	Dialer       Dialer
	QueueSize    int
	WriteTimeout time.Duration
	Limiter      *rate.Limiter
	OnMessage    func(c *Conn, data []byte)
	OnClose      func(c *Conn, err error)
}

// Conn is one live channel to a venue.
type Conn struct {
	id       string
	endpoint string
	codec    venue.Codec
	dialer   Dialer
	queue    *Queue
	limiter  *rate.Limiter
	log      *logger.Entry

	writeTimeout time.Duration
	onMessage    func(c *Conn, data []byte)
	onClose      func(c *Conn, err error)

	mu          sync.Mutex
	state       State
	closed      bool
	sock        Socket
	connectedAt time.Time
	attempts    int

	writeMu sync.Mutex
	wg      sync.WaitGroup

	msgsIn       uint64
	msgsOut      uint64
	bytesIn      uint64
	bytesOut     uint64
	lastActivity int64
}

// New builds a connection in the Connecting state. Open performs the dial.
func New(opts Options) *Conn {
	dialer := opts.Dialer
	if dialer == nil {
		dialer = WSDialer{}
	}
	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	c := &Conn{
		id:           opts.ID,
		endpoint:     opts.Endpoint,
		codec:        opts.Codec,
		dialer:       dialer,
		queue:        NewQueue(opts.QueueSize),
		limiter:      opts.Limiter,
		writeTimeout: writeTimeout,
		onMessage:    opts.OnMessage,
		onClose:      opts.OnClose,
		state:        StateConnecting,
		log: logger.GetLogger().WithComponent("conn").WithFields(logger.Fields{
			"conn_id": opts.ID,
			"venue":   opts.Codec.Family(),
		}),
	}
	c.touch()
	return c
}

func (c *Conn) ID() string     { return c.id }
func (c *Conn) Family() string { return c.codec.Family() }

func (c *Conn) Codec() venue.Codec { return c.codec }

// State returns the current lifecycle phase.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Conn) touch() {
	atomic.StoreInt64(&c.lastActivity, time.Now().UnixNano())
}

// LastActivity is the time of the most recent inbound or outbound frame.
func (c *Conn) LastActivity() time.Time {
	return time.Unix(0, atomic.LoadInt64(&c.lastActivity))
}

// Attempts returns the consecutive failed reconnect count.
func (c *Conn) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// BumpAttempts increments the reconnect counter and returns the prior
// value, which indexes the backoff schedule.
func (c *Conn) BumpAttempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.attempts
	c.attempts++
	return n
}

// Open dials the endpoint, flushes any queued payloads and starts the read
// loop. The initial-attempt error is returned to the caller untouched by
// any retry machinery.
func (c *Conn) Open(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("open %s: %w", c.id, ErrClosed)
	}
	if c.state == StateOpen {
		c.mu.Unlock()
		return fmt.Errorf("connection %s already open", c.id)
	}
	c.state = StateConnecting
	c.mu.Unlock()

	sock, err := c.dialer.Dial(ctx, c.endpoint)
	if err != nil {
		c.mu.Lock()
		c.state = StateFailed
		c.mu.Unlock()
		return fmt.Errorf("dial %s: %w", c.endpoint, err)
	}

	sock.SetPongHandler(func(string) error {
		c.touch()
		return nil
	})

	c.mu.Lock()
	if c.closed {
		// Close raced the dial; the fresh socket must not outlive it.
		c.state = StateClosed
		c.mu.Unlock()
		sock.Close()
		return fmt.Errorf("open %s: %w", c.id, ErrClosed)
	}
	c.sock = sock
	c.state = StateOpen
	c.connectedAt = time.Now()
	c.attempts = 0
	c.mu.Unlock()
	c.touch()

	for _, payload := range c.queue.Drain() {
		if err := c.write(ctx, payload); err != nil {
			c.log.WithError(err).Warn("failed to flush queued payload")
			break
		}
	}

	c.wg.Add(1)
	go c.readLoop(sock)

	c.log.Info("connection open")
	return nil
}

// Send writes payload to the venue. When the link is not open the payload
// is queued for the flush on reconnect, unless queueIfDown is false.
func (c *Conn) Send(ctx context.Context, payload []byte, queueIfDown bool) error {
	c.mu.Lock()
	open := c.state == StateOpen
	c.mu.Unlock()

	if !open {
		if !queueIfDown {
			return ErrNotConnected
		}
		if c.queue.Push(payload) {
			metrics.IncDropped(c.Family())
			c.log.Warn("outbound queue full, dropping oldest payload")
		}
		return nil
	}
	return c.write(ctx, payload)
}

func (c *Conn) write(ctx context.Context, payload []byte) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	c.mu.Lock()
	sock := c.sock
	c.mu.Unlock()
	if sock == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := sock.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	if err := sock.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("write to %s: %w", c.id, err)
	}

	atomic.AddUint64(&c.msgsOut, 1)
	atomic.AddUint64(&c.bytesOut, uint64(len(payload)))
	logger.IncrementOutbound(c.Family(), len(payload))
	metrics.IncOutbound(c.Family(), len(payload))
	c.touch()
	return nil
}

// Ping nudges the venue to prove liveness. Families with an application
// ping frame send it; the rest get a websocket control ping.
func (c *Conn) Ping(ctx context.Context) error {
	if frame, ok := c.codec.EncodePing(); ok {
		return c.Send(ctx, frame, false)
	}

	c.mu.Lock()
	sock := c.sock
	c.mu.Unlock()
	if sock == nil {
		return ErrNotConnected
	}
	return sock.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
}

func (c *Conn) readLoop(sock Socket) {
	defer c.wg.Done()

	for {
		_, data, err := sock.ReadMessage()
		if err != nil {
			c.mu.Lock()
			closing := c.state == StateClosing || c.state == StateClosed
			if !closing {
				c.state = StateClosed
			}
			c.mu.Unlock()

			if closing {
				return
			}
			c.log.WithError(err).Warn("read loop terminated")
			if c.onClose != nil {
				c.onClose(c, err)
			}
			return
		}

		atomic.AddUint64(&c.msgsIn, 1)
		atomic.AddUint64(&c.bytesIn, uint64(len(data)))
		logger.IncrementInbound(c.Family(), len(data))
		metrics.IncInbound(c.Family(), len(data))
		c.touch()

		if c.onMessage != nil {
			c.onMessage(c, data)
		}
	}
}

// Close shuts the connection down cleanly and for good: the unclean-close
// callback is suppressed and any later Open returns ErrClosed. Close is
// idempotent.
func (c *Conn) Close() error {
	c.mu.Lock()
	c.closed = true
	if c.state == StateClosed || c.state == StateClosing {
		c.mu.Unlock()
		return nil
	}
	c.state = StateClosing
	sock := c.sock
	c.mu.Unlock()

	if sock != nil {
		deadline := time.Now().Add(c.writeTimeout)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if err := sock.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
			c.log.WithError(err).Debug("close handshake write failed")
		}
		sock.Close()
	}
	c.wg.Wait()

	c.mu.Lock()
	c.state = StateClosed
	c.mu.Unlock()

	c.log.Info("connection closed")
	return nil
}

// Drop severs the transport without the clean-close handshake, so the read
// loop fails and the unclean path runs. The liveness monitor uses this to
// recycle dead links.
func (c *Conn) Drop() {
	c.mu.Lock()
	sock := c.sock
	c.mu.Unlock()
	if sock != nil {
		sock.Close()
	}
}

// Wait blocks until the read loop has exited.
func (c *Conn) Wait() { c.wg.Wait() }

// Stats is a snapshot of connection counters.
type Stats struct {
	ID                string        `json:"id"`
	Venue             string        `json:"venue"`
	Endpoint          string        `json:"endpoint"`
	State             string        `json:"state"`
	MessagesIn        uint64        `json:"messages_in"`
	MessagesOut       uint64        `json:"messages_out"`
	BytesIn           uint64        `json:"bytes_in"`
	BytesOut          uint64        `json:"bytes_out"`
	QueuedOutbound    int           `json:"queued_outbound"`
	DroppedOutbound   uint64        `json:"dropped_outbound"`
	ReconnectAttempts int           `json:"reconnect_attempts"`
	ConnectedAt       time.Time     `json:"connected_at"`
	Uptime            time.Duration `json:"uptime"`
	LastActivity      time.Time     `json:"last_activity"`
}

// Stats returns a point-in-time copy of the connection counters.
func (c *Conn) Stats() Stats {
	c.mu.Lock()
	state := c.state
	connectedAt := c.connectedAt
	attempts := c.attempts
	c.mu.Unlock()

	var uptime time.Duration
	if state == StateOpen && !connectedAt.IsZero() {
		uptime = time.Since(connectedAt)
	}

	return Stats{
		ID:                c.id,
		Venue:             c.Family(),
		Endpoint:          c.endpoint,
		State:             state.String(),
		MessagesIn:        atomic.LoadUint64(&c.msgsIn),
		MessagesOut:       atomic.LoadUint64(&c.msgsOut),
		BytesIn:           atomic.LoadUint64(&c.bytesIn),
		BytesOut:          atomic.LoadUint64(&c.bytesOut),
		QueuedOutbound:    c.queue.Len(),
		DroppedOutbound:   c.queue.Dropped(),
		ReconnectAttempts: attempts,
		ConnectedAt:       connectedAt,
		Uptime:            uptime,
		LastActivity:      c.LastActivity(),
	}
}
