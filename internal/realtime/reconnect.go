package realtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"garthen-realtime/internal/logging"
)

// CloseAction is what the client does after a connection closes.
type CloseAction int

const (
	ActionReconnect CloseAction = iota
	// ActionStop ends the loop and forgets remembered subscriptions.
	ActionStop
	// ActionAuthFailed ends the loop, forgets remembered subscriptions and
	// reports the rejected credential.
	ActionAuthFailed
)

func (a CloseAction) String() string {
	switch a {
	case ActionReconnect:
		return "reconnect"
	case ActionStop:
		return "stop"
	case ActionAuthFailed:
		return "auth-failed"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// ClassifyClose maps a close code to the next action. Only a rejected
// credential and a close without status end the loop; every other code,
// including the protocol violation codes, is retried.
func ClassifyClose(code int) CloseAction {
	switch code {
	case CloseAuthenticationFailed:
		return ActionAuthFailed
	case CloseNoStatus:
		return ActionStop
	default:
		return ActionReconnect
	}
}

// run drives sessions until one ends for good. The retry delay is constant
// and attempts are unbounded.
func (c *Client) run(ctx context.Context, done chan struct{}) {
	var stopErr error
	defer func() {
		c.mu.Lock()
		c.running = false
		c.conn = nil
		c.queue = nil
		c.stopErr = stopErr
		c.mu.Unlock()
		c.failWaiters(stopErr)
		c.setState(StateIdle)
		close(done)
	}()

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		sessionErr := c.runSession(ctx)
		switch c.finishSession(ctx, sessionErr) {
		case ActionAuthFailed:
			return struct{}{}, backoff.Permanent(fmt.Errorf("%w: %w", ErrAuthenticationFailed, sessionErr))
		case ActionStop:
			return struct{}{}, backoff.Permanent(fmt.Errorf("%w: %w", ErrSessionEnded, sessionErr))
		default:
			return struct{}{}, sessionErr
		}
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(c.opts.ReconnectDelay)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.observer.Reconnecting()
			c.logger.Info("reconnecting realtime connection",
				logging.Field("error", err),
				logging.Field("next_retry", next.String()),
			)
		}),
	)

	c.mu.Lock()
	closedByCaller := c.closing
	c.mu.Unlock()
	switch {
	case closedByCaller || ctx.Err() != nil:
		stopErr = ErrClientClosed
		c.logger.Debug("realtime connection loop stopped")
	default:
		stopErr = err
		c.logger.Warn("realtime connection loop stopped", logging.Field("error", err))
	}
}

// finishSession clears per-connection state after a close and decides what
// happens next.
func (c *Client) finishSession(ctx context.Context, sessionErr error) CloseAction {
	c.sendMu.Lock()
	c.mu.Lock()
	wasAuthorized := c.authorized
	c.connected = false
	c.authorized = false
	c.conn = nil
	if wasAuthorized {
		c.ready = make(chan struct{})
	}
	stopping := c.closing || ctx.Err() != nil
	c.mu.Unlock()
	c.sendMu.Unlock()

	c.setState(StateClosed)
	c.observer.Authorized(false)

	code := CloseCode(sessionErr)
	var closeErr *CloseError
	if stopping && !errors.As(sessionErr, &closeErr) {
		code = CloseNormal
	}
	c.observer.Closed(code)
	c.resetSinks()

	if stopping {
		c.logger.Info("realtime connection closed by client")
		return ActionStop
	}

	action := ClassifyClose(code)
	switch action {
	case ActionAuthFailed:
		c.registry.Clear()
		c.logger.Warn("realtime authentication failed", logging.Field("code", code))
		if c.opts.OnAuthFailed != nil {
			c.opts.OnAuthFailed()
		}
	case ActionStop:
		c.registry.Clear()
		c.logger.Info("realtime connection closed without resume", logging.Field("code", code))
	default:
		c.logger.Warn("realtime connection lost",
			logging.Field("code", code),
			logging.Field("error", sessionErr),
		)
	}
	return action
}
