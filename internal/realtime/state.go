package realtime

import (
	"context"
	"fmt"
	"sync"

	"garthen-realtime/internal/logging"
	"garthen-realtime/internal/wire"
)

type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateAwaitingAuthAck
	StateAuthorized
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateAwaitingAuthAck:
		return "awaiting-auth-ack"
	case StateAuthorized:
		return "authorized"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Client owns one logical realtime connection. It re-dials after transient
// closes and replays remembered subscriptions once the server accepts the
// credential again.
type Client struct {
	opts     Options
	logger   *logging.Logger
	observer Observer
	registry *Registry

	handlersMu sync.RWMutex
	handlers   map[Event][]DispatchHandler
	resetters  []Resetter
	watchers   map[int]func(from, to State)
	nextWatch  int

	// sendMu orders transmissions: direct writes, subscription replay and
	// queue draining never interleave.
	sendMu sync.Mutex

	mu         sync.Mutex
	state      State
	conn       Conn
	connected  bool
	authorized bool
	nextID     int64
	queue      []outbound
	waiters    map[int64]*waiter
	ready      chan struct{}
	done       chan struct{}
	running    bool
	closing    bool
	cancel     context.CancelFunc
	stopErr    error
}

func New(opts Options, logger *logging.Logger) *Client {
	if logger == nil {
		panic("realtime.New: logger must not be nil")
	}
	if opts.Dialer == nil {
		panic("realtime.New: dialer must not be nil")
	}
	if opts.Tokens == nil {
		opts.Tokens = StaticToken("")
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	observer := opts.Observer
	if observer == nil {
		observer = nopObserver{}
	}
	return &Client{
		opts:     opts,
		logger:   logger,
		observer: observer,
		registry: NewRegistry(),
		handlers: map[Event][]DispatchHandler{},
		watchers: map[int]func(from, to State){},
		waiters:  map[int64]*waiter{},
		ready:    make(chan struct{}),
	}
}

// Open starts the connection loop. It fails with ErrAlreadyOpen while a
// previous loop is still running.
func (c *Client) Open(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return ErrAlreadyOpen
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.running = true
	c.closing = false
	c.connected = false
	c.authorized = false
	c.stopErr = nil
	c.cancel = cancel
	c.done = make(chan struct{})
	select {
	case <-c.ready:
		c.ready = make(chan struct{})
	default:
	}
	done := c.done
	c.mu.Unlock()

	c.logger.Info("opening realtime connection", logging.Field("endpoint", c.opts.Endpoint))
	go c.run(runCtx, done)
	return nil
}

// Close shuts the connection down without scheduling a reconnect. Pending
// waiters fail with ErrClientClosed. Use Wait to block until the loop exits.
func (c *Client) Close() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.closing = true
	conn := c.conn
	cancel := c.cancel
	c.mu.Unlock()

	c.logger.Debug("closing realtime connection")
	var err error
	if conn != nil {
		err = conn.Close(CloseNormal, "client closed")
	}
	cancel()
	return err
}

// Wait blocks until the connection loop stops and returns why it stopped.
func (c *Client) Wait() error {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done == nil {
		return nil
	}
	<-done
	return c.Err()
}

// Done is closed when the current connection loop stops.
func (c *Client) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopErr
}

// AwaitReady blocks until the next successful handshake, or returns at once
// when the session is already authorized.
func (c *Client) AwaitReady(ctx context.Context) error {
	c.mu.Lock()
	ready, done := c.ready, c.done
	c.mu.Unlock()
	select {
	case <-ready:
		return nil
	case <-done:
		if err := c.Err(); err != nil {
			return err
		}
		return ErrClientClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Client) IsAuthorized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authorized
}

func (c *Client) IsCodecReady() bool {
	return wire.Ready()
}

func (c *Client) Registry() *Registry {
	return c.registry
}

// AddResetter registers a sink cleared whenever the connection closes.
func (c *Client) AddResetter(r Resetter) {
	if r == nil {
		return
	}
	c.handlersMu.Lock()
	c.resetters = append(c.resetters, r)
	c.handlersMu.Unlock()
}

func (c *Client) takeID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	return id
}

func (c *Client) setState(next State) {
	c.mu.Lock()
	prev := c.state
	c.state = next
	c.mu.Unlock()
	if prev == next {
		return
	}
	c.logger.Debug("realtime state changed",
		logging.Field("from", prev.String()),
		logging.Field("to", next.String()),
	)
	if c.opts.OnStateChange != nil {
		c.opts.OnStateChange(prev, next)
	}
	c.handlersMu.RLock()
	watchers := make([]func(from, to State), 0, len(c.watchers))
	for _, fn := range c.watchers {
		watchers = append(watchers, fn)
	}
	c.handlersMu.RUnlock()
	for _, fn := range watchers {
		fn(prev, next)
	}
}

// WatchState registers fn for every state transition and returns a function
// that removes it. fn runs on the connection goroutine.
func (c *Client) WatchState(fn func(from, to State)) func() {
	if fn == nil {
		panic("realtime.Client.WatchState: callback must not be nil")
	}
	c.handlersMu.Lock()
	id := c.nextWatch
	c.nextWatch++
	c.watchers[id] = fn
	c.handlersMu.Unlock()
	return func() {
		c.handlersMu.Lock()
		delete(c.watchers, id)
		c.handlersMu.Unlock()
	}
}

func (c *Client) resetSinks() {
	c.handlersMu.RLock()
	resetters := append([]Resetter(nil), c.resetters...)
	c.handlersMu.RUnlock()
	for _, r := range resetters {
		r.Reset()
	}
}
