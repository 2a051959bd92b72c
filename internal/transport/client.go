// Package transport maintains the persistent connection to the coordination
// host and turns the byte stream into ordered packet events.
package transport

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	gerrors "github.com/mantonx/gstream/internal/errors"
	"github.com/mantonx/gstream/internal/packet"
	"google.golang.org/protobuf/types/known/structpb"
)

// EventKind identifies what happened on the connection
type EventKind int

const (
	EventConnected EventKind = iota + 1
	EventDisconnected
	EventConnectFailed
	EventPacket
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventConnectFailed:
		return "connect_failed"
	case EventPacket:
		return "packet"
	default:
		return "unknown"
	}
}

// Event is delivered on the channel returned by Client.Events, in the order
// things happened on the wire
type Event struct {
	Kind       EventKind
	Addr       string
	PacketType packet.Type
	Payload    *structpb.Value
	Err        error
}

// Observer receives connection statistics
type Observer interface {
	ConnectAttempt()
	ConnectionState(connected bool)
	FrameReceived(t packet.Type)
	FrameDropped(reason string)
}

type nopObserver struct{}

func (nopObserver) ConnectAttempt()           {}
func (nopObserver) ConnectionState(bool)      {}
func (nopObserver) FrameReceived(packet.Type) {}
func (nopObserver) FrameDropped(string)       {}

// Config holds connection tuning
type Config struct {
	DialTimeout       time.Duration
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	MaxFrameSize      int
	ReadBufferSize    int
	EventBuffer       int
}

// DefaultConfig returns the connection defaults
func DefaultConfig() Config {
	return Config{
		DialTimeout:       5 * time.Second,
		ReconnectDelay:    time.Second,
		MaxReconnectDelay: 30 * time.Second,
		MaxFrameSize:      packet.DefaultMaxFrameSize,
		ReadBufferSize:    32 * 1024,
		EventBuffer:       256,
	}
}

// Client owns at most one connection to the coordination host. A single
// supervisor goroutine dials, reads and reconnects; everything else only
// changes the desired state and wakes it up.
type Client struct {
	cfg      Config
	logger   hclog.Logger
	observer Observer
	events   chan Event
	kick     chan struct{}

	mu      sync.Mutex
	addr    string
	want    bool
	auto    bool
	gen     uint64
	conn    net.Conn
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewClient creates a client. Nothing happens until Start and Connect.
func NewClient(cfg Config, logger hclog.Logger, observer Observer) *Client {
	def := DefaultConfig()
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = def.DialTimeout
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = def.ReconnectDelay
	}
	if cfg.MaxReconnectDelay <= 0 {
		cfg.MaxReconnectDelay = def.MaxReconnectDelay
	}
	if cfg.MaxFrameSize <= 0 {
		cfg.MaxFrameSize = def.MaxFrameSize
	}
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = def.ReadBufferSize
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = def.EventBuffer
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if observer == nil {
		observer = nopObserver{}
	}

	return &Client{
		cfg:      cfg,
		logger:   logger.Named("transport"),
		observer: observer,
		events:   make(chan Event, cfg.EventBuffer),
		kick:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Events returns the ordered event stream. It is closed after Close.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Start launches the supervisor goroutine
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return fmt.Errorf("transport client already started")
	}
	c.started = true

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	go c.run(runCtx)
	return nil
}

// Connect targets host:port. An existing connection is torn down first.
func (c *Client) Connect(host string, port uint16) {
	addr := net.JoinHostPort(host, strconv.Itoa(int(port)))

	c.mu.Lock()
	c.addr = addr
	c.want = true
	c.gen++
	c.closeConnLocked()
	c.mu.Unlock()

	c.logger.Debug("connect requested", "addr", addr)
	c.wake()
}

// Disconnect closes the connection and stops reconnecting until the next
// Connect
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.want = false
	c.gen++
	c.closeConnLocked()
	c.mu.Unlock()

	c.logger.Debug("disconnect requested")
	c.wake()
}

// SetAutoReconnect controls whether lost or failed connections are retried
func (c *Client) SetAutoReconnect(enabled bool) {
	c.mu.Lock()
	c.auto = enabled
	c.mu.Unlock()
}

// Connected reports whether a connection is currently established
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Addr returns the current target address
func (c *Client) Addr() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.addr
}

// Close stops the supervisor, closes the connection and waits for the event
// channel to be closed
func (c *Client) Close() error {
	c.mu.Lock()
	started := c.started
	cancel := c.cancel
	c.want = false
	c.closeConnLocked()
	c.mu.Unlock()

	if !started {
		return nil
	}
	cancel()
	<-c.done
	return nil
}

func (c *Client) closeConnLocked() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) wake() {
	select {
	case c.kick <- struct{}{}:
	default:
	}
}

func (c *Client) autoReconnect() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.auto
}

// giveUp drops the desire to be connected unless a newer request arrived
func (c *Client) giveUp(gen uint64) {
	c.mu.Lock()
	if c.gen == gen {
		c.want = false
	}
	c.mu.Unlock()
}

func (c *Client) run(ctx context.Context) {
	defer close(c.done)
	defer close(c.events)

	retry := newBackoff(c.cfg.ReconnectDelay, c.cfg.MaxReconnectDelay)

	for ctx.Err() == nil {
		c.mu.Lock()
		want, addr, gen := c.want, c.addr, c.gen
		c.mu.Unlock()

		if !want {
			select {
			case <-ctx.Done():
				return
			case <-c.kick:
			}
			continue
		}

		// the state just read already reflects any pending request
		select {
		case <-c.kick:
		default:
		}

		c.observer.ConnectAttempt()
		dialer := net.Dialer{Timeout: c.cfg.DialTimeout}
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("connection attempt failed", "addr", addr, "error", err)
			c.emit(ctx, Event{
				Kind: EventConnectFailed,
				Addr: addr,
				Err:  gerrors.Transport("dial", gerrors.ErrConnectFailed, err).WithURL(addr),
			})
			if !c.autoReconnect() {
				c.giveUp(gen)
				continue
			}
			c.wait(ctx, retry.Next())
			continue
		}

		c.mu.Lock()
		if c.gen != gen || !c.want {
			c.mu.Unlock()
			conn.Close()
			continue
		}
		c.conn = conn
		c.mu.Unlock()

		retry.Reset()
		c.observer.ConnectionState(true)
		c.logger.Info("connected", "addr", addr)
		c.emit(ctx, Event{Kind: EventConnected, Addr: addr})

		readErr := c.readLoop(ctx, conn, addr)

		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		superseded := c.gen != gen
		c.mu.Unlock()
		conn.Close()

		c.observer.ConnectionState(false)
		c.logger.Info("disconnected", "addr", addr, "error", readErr)
		c.emit(ctx, Event{
			Kind: EventDisconnected,
			Addr: addr,
			Err:  gerrors.Transport("read", gerrors.ErrDisconnected, readErr).WithURL(addr),
		})

		if ctx.Err() != nil || superseded {
			continue
		}
		if !c.autoReconnect() {
			c.giveUp(gen)
			continue
		}
		c.wait(ctx, retry.Next())
	}
}

// wait sleeps for d, returning early on cancellation or an explicit request
func (c *Client) wait(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-c.kick:
	case <-timer.C:
	}
}

func (c *Client) emit(ctx context.Context, ev Event) {
	select {
	case c.events <- ev:
	case <-ctx.Done():
	}
}

func (c *Client) readLoop(ctx context.Context, conn net.Conn, addr string) error {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	dec := packet.NewDecoder(c.cfg.MaxFrameSize)
	buf := make([]byte, c.cfg.ReadBufferSize)

	for {
		n, err := conn.Read(buf)
		if n > 0 {
			dec.Feed(buf[:n])
			c.dispatchFrames(ctx, dec, addr)
		}
		if err != nil {
			return err
		}
	}
}

func (c *Client) dispatchFrames(ctx context.Context, dec *packet.Decoder, addr string) {
	for {
		frame, ok, err := dec.Next()
		if err != nil {
			c.logger.Warn("dropping malformed frame", "addr", addr, "error", err)
			c.observer.FrameDropped(gerrors.Kind(err))
			continue
		}
		if !ok {
			return
		}

		payload, err := packet.UnmarshalPayload(frame.Payload)
		if err != nil {
			c.logger.Warn("dropping frame with unreadable payload", "addr", addr, "type", frame.Type, "error", err)
			c.observer.FrameDropped(gerrors.Kind(err))
			continue
		}

		c.observer.FrameReceived(frame.Type)
		c.emit(ctx, Event{
			Kind:       EventPacket,
			Addr:       addr,
			PacketType: frame.Type,
			Payload:    payload,
		})
	}
}
