package runtime

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"garthen-realtime/internal/app"
	"garthen-realtime/internal/config"
	"garthen-realtime/internal/logging"
	"garthen-realtime/internal/realtime"
)

// ErrAlreadyRunning is returned by Start while a session is still live.
var ErrAlreadyRunning = errors.New("realtime session is already running")

// Exit reasons reported in the session exit log.
const (
	ExitStopped      = "stopped"
	ExitAuthFailed   = "auth_failed"
	ExitMissingToken = "missing_token"
	ExitStartup      = "startup_timeout"
	ExitSessionEnded = "session_ended"
	ExitError        = "error"
)

// Controller owns at most one realtime session at a time and lets a
// caller stop it from outside the session goroutine.
type Controller struct {
	rootCtx context.Context
	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool
	wg      sync.WaitGroup
}

// StartHooks are called from the session goroutine.
type StartHooks struct {
	OnStatus func(string)
	OnExit   func(error)
}

func NewController(rootCtx context.Context) *Controller {
	if rootCtx == nil {
		rootCtx = context.Background()
	}
	return &Controller{rootCtx: rootCtx}
}

// Start builds a session from opts and runs it in the background. Invalid
// options fail here, before anything dials.
func (c *Controller) Start(opts config.Options, logger *logging.Logger, hooks StartHooks) error {
	if logger == nil {
		panic("runtime.Controller.Start: logger must not be nil")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return ErrAlreadyRunning
	}
	service, err := NewServiceWithHooks(opts, logger, hooks)
	if err != nil {
		return err
	}
	logger.Debug("realtime session starting",
		logging.Field("ws_uri", opts.WSURI),
		logging.Field("topics", len(opts.Subscribe)),
		logging.Field("heartbeat", opts.HeartbeatInterval),
		logging.Field("reconnect_delay", opts.ReconnectDelay),
	)

	ctx, cancel := context.WithCancel(c.rootCtx)
	c.cancel = cancel
	c.running = true
	started := time.Now()
	c.wg.Go(func() {
		defer cancel()
		runErr := service.RunContext(ctx)
		reason := ExitReason(runErr)
		fields := []slog.Attr{
			logging.Field("reason", reason),
			logging.Field("uptime", time.Since(started).Round(time.Millisecond)),
		}
		switch reason {
		case ExitStopped:
			logger.Info("realtime session ended", fields...)
		default:
			logger.Warn("realtime session ended", append(fields, logging.Field("error", runErr))...)
		}
		c.mu.Lock()
		c.running = false
		c.cancel = nil
		c.mu.Unlock()

		if hooks.OnExit != nil {
			hooks.OnExit(runErr)
		}
	})

	return nil
}

// ExitReason names why a session returned err.
func ExitReason(err error) string {
	switch {
	case err == nil, errors.Is(err, context.Canceled), errors.Is(err, realtime.ErrClientClosed):
		return ExitStopped
	case errors.Is(err, app.ErrMissingToken):
		return ExitMissingToken
	case errors.Is(err, app.ErrAuthenticationFailed), realtime.IsAuthenticationFailure(err):
		return ExitAuthFailed
	case errors.Is(err, app.ErrStartupTimeout):
		return ExitStartup
	case errors.Is(err, realtime.ErrSessionEnded):
		return ExitSessionEnded
	default:
		return ExitError
	}
}

// Stop cancels the running session, if any. It does not wait.
func (c *Controller) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Wait blocks until the session goroutine returns. A non-positive timeout
// waits forever; otherwise it reports whether the session finished in time.
func (c *Controller) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	if timeout <= 0 {
		<-done
		return true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}

func (c *Controller) StopAndWait(timeout time.Duration) bool {
	c.Stop()
	return c.Wait(timeout)
}

func (c *Controller) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}
