package realtime

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"garthen-realtime/internal/logging"
	"garthen-realtime/internal/wire"
)

const testTimeout = 2 * time.Second

func newTestLogger() *logging.Logger {
	logger := logging.New(false)
	logger.SetOutput(io.Discard)
	return logger
}

type fakeConn struct {
	in        chan inbound
	written   chan wire.Frame
	closed    chan struct{}
	closeOnce sync.Once
	closeCode atomic.Int64
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:      make(chan inbound, 64),
		written: make(chan wire.Frame, 256),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) ReadFrame() ([]byte, error) {
	select {
	case msg := <-c.in:
		return msg.payload, msg.err
	case <-c.closed:
		return nil, &CloseError{Code: int(c.closeCode.Load())}
	}
}

func (c *fakeConn) WriteFrame(frame []byte) error {
	select {
	case <-c.closed:
		return errors.New("write on closed connection")
	default:
	}
	decoded, err := wire.DecodeFrame(frame)
	if err != nil {
		return err
	}
	c.written <- decoded
	return nil
}

func (c *fakeConn) Close(code int, _ string) error {
	c.closeOnce.Do(func() {
		c.closeCode.Store(int64(code))
		close(c.closed)
	})
	return nil
}

// push delivers a server frame to the client.
func (c *fakeConn) push(t *testing.T, frame wire.Frame) {
	t.Helper()
	payload, err := wire.EncodeFrame(frame)
	if err != nil {
		t.Fatalf("EncodeFrame() error = %v", err)
	}
	c.in <- inbound{payload: payload}
}

func (c *fakeConn) serverClose(code int) {
	c.in <- inbound{err: &CloseError{Code: code, Reason: "server close"}}
}

func (c *fakeConn) next(t *testing.T) wire.Frame {
	t.Helper()
	select {
	case frame := <-c.written:
		return frame
	case <-time.After(testTimeout):
		t.Fatalf("timed out waiting for written frame")
		return wire.Frame{}
	}
}

// nextOp skips heartbeats and returns the next frame with opcode op.
func (c *fakeConn) nextOp(t *testing.T, op wire.Opcode) wire.Frame {
	t.Helper()
	for {
		frame := c.next(t)
		if frame.Opcode == wire.OpHeartbeat && op != wire.OpHeartbeat {
			continue
		}
		if frame.Opcode != op {
			t.Fatalf("written opcode = %s, want %s (frame %+v)", frame.Opcode, op, frame)
		}
		return frame
	}
}

// acceptAuthorize reads the authorize frame and answers it the way the
// server does.
func (c *fakeConn) acceptAuthorize(t *testing.T) wire.Frame {
	t.Helper()
	auth := c.nextOp(t, wire.OpAuthorize)
	reply := wire.Frame{Opcode: wire.OpResponse, Data: map[string]any{"code": int64(200), "message": "OK"}}
	reply.SetID(auth.ID)
	c.push(t, reply)
	return auth
}

type fakeDialer struct {
	mu       sync.Mutex
	failures int
	dials    int
	conns    chan *fakeConn
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{conns: make(chan *fakeConn, 16)}
}

func (d *fakeDialer) Dial(ctx context.Context, _ string) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.dials++
	if d.failures > 0 {
		d.failures--
		d.mu.Unlock()
		return nil, errors.New("connection refused")
	}
	d.mu.Unlock()
	conn := newFakeConn()
	d.conns <- conn
	return conn, nil
}

func (d *fakeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) next(t *testing.T) *fakeConn {
	t.Helper()
	select {
	case conn := <-d.conns:
		return conn
	case <-time.After(testTimeout):
		t.Fatalf("timed out waiting for dial")
		return nil
	}
}

func newTestClient(t *testing.T, dialer *fakeDialer, mutate func(*Options)) *Client {
	t.Helper()
	opts := Options{
		Endpoint:          "ws://garthen.test/ws",
		Dialer:            dialer,
		Tokens:            StaticToken("token-123"),
		HeartbeatInterval: time.Hour,
		ReconnectDelay:    5 * time.Millisecond,
	}
	if mutate != nil {
		mutate(&opts)
	}
	c := New(opts, newTestLogger())
	t.Cleanup(func() {
		_ = c.Close()
		_ = c.Wait()
	})
	return c
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(testTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func awaitReady(t *testing.T, c *Client) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	if err := c.AwaitReady(ctx); err != nil {
		t.Fatalf("AwaitReady() error = %v", err)
	}
}
