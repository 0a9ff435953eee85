package realtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"garthen-realtime/internal/logging"
	"garthen-realtime/internal/wire"
)

type inbound struct {
	payload []byte
	err     error
}

// runSession dials once, authorizes and serves frames until the connection
// closes. The returned error describes the close.
func (c *Client) runSession(ctx context.Context) error {
	c.setState(StateConnecting)
	conn, err := c.opts.Dialer.Dial(ctx, c.opts.Endpoint)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Warn("realtime dial failed",
			logging.Field("endpoint", c.opts.Endpoint),
			logging.Field("error", err),
		)
		return &CloseError{Code: CloseAbnormal, Reason: err.Error()}
	}

	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		_ = conn.Close(CloseNormal, "client closed")
		return &CloseError{Code: CloseNormal, Reason: "client closed"}
	}
	c.conn = conn
	c.mu.Unlock()
	defer func() { _ = conn.Close(CloseNormal, "") }()

	frames := make(chan inbound, 16)
	stop := make(chan struct{})
	defer close(stop)
	go readFrames(conn, frames, stop)

	authID, err := c.sendAuthorize(conn)
	if err != nil {
		c.logger.Warn("realtime authorize failed", logging.Field("error", err))
		return &CloseError{Code: CloseAbnormal, Reason: err.Error()}
	}
	c.setState(StateAwaitingAuthAck)

	var heartbeat <-chan time.Time
	var ticker *time.Ticker
	defer func() {
		if ticker != nil {
			ticker.Stop()
		}
	}()

	authorized := false
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-heartbeat:
			if _, err := c.Send(ctx, wire.Frame{Opcode: wire.OpHeartbeat}); err != nil {
				c.logger.Debug("heartbeat send failed", logging.Field("error", err))
			}
		case in := <-frames:
			if in.err != nil {
				var closeErr *CloseError
				if errors.As(in.err, &closeErr) {
					return closeErr
				}
				// A failed read is the transport's error event; the close
				// that follows is reported as abnormal.
				c.markUnauthorized()
				c.logger.Warn("realtime transport error", logging.Field("error", in.err))
				return &CloseError{Code: CloseAbnormal, Reason: in.err.Error()}
			}

			frame, err := wire.DecodeFrame(in.payload)
			if err != nil {
				c.logger.Warn("dropping undecodable frame",
					logging.Field("error", err),
					logging.Field("size", len(in.payload)),
				)
				continue
			}
			c.observer.FrameReceived(frame.Opcode)

			if !authorized {
				if frame.Opcode == wire.OpError && frame.HasID && frame.ID == authID {
					c.logger.Warn("realtime authorize rejected", logging.Field("reply", describeReply(frame)))
					return &CloseError{Code: CloseAuthenticationFailed, Reason: "authorize rejected"}
				}
				if err := c.authorize(); err != nil {
					c.logger.Warn("realtime session setup failed", logging.Field("error", err))
					return &CloseError{Code: CloseAbnormal, Reason: err.Error()}
				}
				authorized = true
				ticker = time.NewTicker(c.opts.HeartbeatInterval)
				heartbeat = ticker.C
			}
			c.route(ctx, frame)
		}
	}
}

func readFrames(conn Conn, out chan<- inbound, stop <-chan struct{}) {
	for {
		payload, err := conn.ReadFrame()
		select {
		case out <- inbound{payload: payload, err: err}:
		case <-stop:
			return
		}
		if err != nil {
			return
		}
	}
}

// sendAuthorize reads the current credential and writes the authorize frame
// ahead of anything queued.
func (c *Client) sendAuthorize(conn Conn) (int64, error) {
	wire.Warm()
	token, err := c.opts.Tokens.Token()
	if err != nil {
		return 0, fmt.Errorf("read token: %w", err)
	}
	id := c.takeID()
	frame := wire.Frame{Opcode: wire.OpAuthorize, Data: map[string]any{"token": token}}
	frame.SetID(id)
	payload, err := wire.EncodeFrame(frame)
	if err != nil {
		return id, fmt.Errorf("encode authorize frame: %w", err)
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if err := c.write(conn, outbound{id: id, op: wire.OpAuthorize, payload: payload}); err != nil {
		return id, err
	}
	return id, nil
}

// authorize runs once the server has answered the authorize frame: it
// replays remembered subscriptions, drains the queue and signals readiness.
func (c *Client) authorize() error {
	c.sendMu.Lock()
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	subs := c.registry.Snapshot()
	for _, sub := range subs {
		frame := subscribeFrame(sub.Topic, sub.Params)
		frame.SetID(c.takeID())
		payload, err := wire.EncodeFrame(frame)
		if err != nil {
			c.logger.Warn("skipping unencodable subscription",
				logging.Field("topic", sub.Topic),
				logging.Field("error", err),
			)
			continue
		}
		if err := c.write(conn, outbound{id: frame.ID, op: frame.Opcode, payload: payload}); err != nil {
			c.sendMu.Unlock()
			return err
		}
	}

	c.mu.Lock()
	queue := c.queue
	c.queue = nil
	c.mu.Unlock()
	for i, out := range queue {
		if err := c.write(conn, out); err != nil {
			c.mu.Lock()
			c.queue = append(queue[i:len(queue):len(queue)], c.queue...)
			c.mu.Unlock()
			c.sendMu.Unlock()
			return err
		}
	}

	c.mu.Lock()
	c.connected = true
	c.authorized = true
	ready := c.ready
	c.mu.Unlock()
	c.sendMu.Unlock()

	close(ready)
	c.setState(StateAuthorized)
	c.observer.Authorized(true)
	c.logger.Info("realtime session authorized",
		logging.Field("replayed", len(subs)),
		logging.Field("drained", len(queue)),
	)
	if c.opts.OnReady != nil {
		c.opts.OnReady()
	}
	return nil
}

func (c *Client) markUnauthorized() {
	c.mu.Lock()
	c.authorized = false
	c.mu.Unlock()
	c.observer.Authorized(false)
}

func describeReply(frame wire.Frame) string {
	if replyErr := replyError(frame); replyErr != nil {
		return replyErr.Error()
	}
	return frame.Opcode.String()
}
