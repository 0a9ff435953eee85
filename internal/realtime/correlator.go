package realtime

import (
	"context"
	"fmt"
	"math/big"

	"garthen-realtime/internal/logging"
	"garthen-realtime/internal/wire"
)

// waiter receives either the reply for its id or the reason the connection
// loop stopped.
type waiter struct {
	reply chan wire.Frame
	fail  chan error
}

func newWaiter() *waiter {
	return &waiter{reply: make(chan wire.Frame, 1), fail: make(chan error, 1)}
}

// outbound is an encoded frame waiting for, or ready for, transmission.
type outbound struct {
	id      int64
	op      wire.Opcode
	payload []byte
}

// Send assigns the next correlation id to frame and transmits it. While the
// session is not authorized the encoded frame joins a FIFO queue drained
// once the server accepts the credential. Encoding failures are returned
// before anything is queued.
func (c *Client) Send(ctx context.Context, frame wire.Frame) (int64, error) {
	return c.send(ctx, frame, nil)
}

// SendAndWait sends frame and blocks until the first inbound frame carrying
// the same id arrives. There is no built-in timeout; bound ctx instead. A
// call made before Open stays queued and waits for the session; when the
// connection loop stops, the call fails with the loop's stop error.
func (c *Client) SendAndWait(ctx context.Context, frame wire.Frame) (wire.Frame, error) {
	w := newWaiter()
	id, err := c.send(ctx, frame, w)
	if err != nil {
		return wire.Frame{}, err
	}
	defer c.forget(id)

	select {
	case msg := <-w.reply:
		return msg, nil
	case err := <-w.fail:
		return wire.Frame{}, err
	case <-ctx.Done():
		return wire.Frame{}, ctx.Err()
	}
}

// Request issues a method call against topic and waits for its reply. Error
// frames, and responses carrying a failure code, come back as *ReplyError.
func (c *Client) Request(ctx context.Context, method wire.Method, topic string, data any) (any, error) {
	reply, err := c.SendAndWait(ctx, wire.Frame{
		Opcode: wire.OpRequest,
		Method: method,
		Topic:  topic,
		Data:   data,
	})
	if err != nil {
		return nil, err
	}
	if replyErr := replyError(reply); replyErr != nil {
		return nil, replyErr
	}
	return reply.Data, nil
}

func replyError(reply wire.Frame) *ReplyError {
	fields, _ := reply.Data.(map[string]any)
	code, hasCode := replyCode(fields["code"])
	if reply.Opcode != wire.OpError && (!hasCode || code < 400) {
		return nil
	}
	message, _ := fields["message"].(string)
	return &ReplyError{Code: code, Message: message}
}

func replyCode(v any) (int64, bool) {
	switch code := v.(type) {
	case int64:
		return code, true
	case float64:
		return int64(code), true
	case *big.Int:
		return code.Int64(), true
	default:
		return 0, false
	}
}

func (c *Client) send(ctx context.Context, frame wire.Frame, w *waiter) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	wire.Warm()
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.sendLocked(frame, w)
}

// sendLocked requires sendMu.
func (c *Client) sendLocked(frame wire.Frame, w *waiter) (int64, error) {
	id := c.takeID()
	frame.SetID(id)
	payload, err := wire.EncodeFrame(frame)
	if err != nil {
		return id, fmt.Errorf("encode %s frame: %w", frame.Opcode, err)
	}
	out := outbound{id: id, op: frame.Opcode, payload: payload}

	c.mu.Lock()
	if w != nil {
		c.waiters[id] = w
	}
	pending := len(c.waiters)
	conn := c.conn
	open := c.authorized && c.connected && conn != nil
	if !open {
		c.queue = append(c.queue, out)
	}
	c.mu.Unlock()
	c.observer.PendingRequests(pending)

	if !open {
		c.logger.Debug("queued frame until authorized",
			logging.Field("id", id),
			logging.Field("opcode", frame.Opcode.String()),
		)
		return id, nil
	}
	if err := c.write(conn, out); err != nil {
		if w != nil {
			c.forget(id)
		}
		return id, err
	}
	return id, nil
}

// write requires sendMu.
func (c *Client) write(conn Conn, out outbound) error {
	if err := conn.WriteFrame(out.payload); err != nil {
		return fmt.Errorf("%w: write %s frame %d: %w", ErrTransport, out.op, out.id, err)
	}
	c.observer.FrameSent(out.op)
	c.logger.Debug("sent frame",
		logging.Field("id", out.id),
		logging.Field("opcode", out.op.String()),
	)
	return nil
}

// resolve hands frame to the waiter registered for its id, if any.
func (c *Client) resolve(frame wire.Frame) bool {
	if !frame.HasID {
		return false
	}
	c.mu.Lock()
	w, ok := c.waiters[frame.ID]
	if ok {
		delete(c.waiters, frame.ID)
	}
	pending := len(c.waiters)
	c.mu.Unlock()
	if !ok {
		return false
	}
	c.observer.PendingRequests(pending)
	w.reply <- frame
	return true
}

// failWaiters ends every pending SendAndWait with err.
func (c *Client) failWaiters(err error) {
	if err == nil {
		err = ErrClientClosed
	}
	c.mu.Lock()
	waiters := c.waiters
	c.waiters = map[int64]*waiter{}
	c.mu.Unlock()
	if len(waiters) == 0 {
		return
	}
	for _, w := range waiters {
		w.fail <- err
	}
	c.observer.PendingRequests(0)
	c.logger.Debug("failed pending requests", logging.Field("count", len(waiters)), logging.Field("error", err))
}

func (c *Client) forget(id int64) {
	c.mu.Lock()
	_, ok := c.waiters[id]
	delete(c.waiters, id)
	pending := len(c.waiters)
	c.mu.Unlock()
	if ok {
		c.observer.PendingRequests(pending)
	}
}

// Pending reports how many SendAndWait calls are waiting for a reply.
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

// Queued reports how many frames wait for the session to be authorized.
func (c *Client) Queued() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}
