package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"garthen-realtime/internal/config"
	"garthen-realtime/internal/logging"
	"garthen-realtime/internal/realtime"
	"garthen-realtime/internal/runctx"
	"garthen-realtime/internal/runstatus"
	"garthen-realtime/internal/store"
)

const defaultStartupTimeout = 15 * time.Second

type GarthenApp struct {
	opts   config.Options
	client *realtime.Client
	stores Stores
	logger *logging.Logger
	hooks  Callbacks
	status runtimeStatusState

	// StartupTimeout bounds the wait for the first authorized session.
	StartupTimeout time.Duration
}

// Stores are the sinks fed by dispatch events.
type Stores struct {
	Credentials *config.CredentialStore
	Data        *store.Data
	User        *store.User
}

type Callbacks struct {
	OnStatusChange func(string)
}

func New(opts config.Options, client *realtime.Client, stores Stores, logger *logging.Logger, hooks Callbacks) *GarthenApp {
	if client == nil {
		panic("app.New: client must not be nil")
	}
	if logger == nil {
		panic("app.New: logger must not be nil")
	}
	if stores.Credentials == nil {
		panic("app.New: credential store must not be nil")
	}
	if stores.Data == nil {
		stores.Data = store.NewData()
	}
	if stores.User == nil {
		stores.User = store.NewUser(false)
	}
	a := &GarthenApp{
		opts:           opts,
		client:         client,
		stores:         stores,
		logger:         logger,
		hooks:          hooks,
		StartupTimeout: defaultStartupTimeout,
	}
	a.RegisterSinks()
	return a
}

func (a *GarthenApp) Stores() Stores {
	return a.stores
}

func (a *GarthenApp) Run() error {
	return a.RunContext(context.Background())
}

// RunContext connects, subscribes to the configured topics and keeps the
// session alive until ctx ends or the server ends it for good.
func (a *GarthenApp) RunContext(ctx context.Context) error {
	topics, err := config.ParseTopics(a.opts.Subscribe)
	if err != nil {
		return err
	}
	if _, err := a.stores.Credentials.Load(); err != nil {
		a.logger.Warn("failed to load credentials", logging.Field("path", a.stores.Credentials.Path()), logging.Field("error", err))
	}
	token, _ := a.stores.Credentials.Token()
	if token == "" {
		return ErrMissingToken
	}
	a.stores.User.SetLoggedIn(true)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	a.watchCredentials(runCtx)

	unwatch := a.client.WatchState(a.onStateChange)
	a.logger.Info("garthen client starting",
		logging.Field("topics", len(topics)),
		logging.Field("credentials", a.stores.Credentials.Path()),
	)
	if err := a.client.Open(runCtx); err != nil {
		unwatch()
		return err
	}

	if err := a.awaitStartup(runCtx); err != nil {
		a.stop(unwatch)
		return a.finish(ctx, err)
	}
	a.logger.Info("realtime session ready")

	for _, topic := range topics {
		err := a.client.Subscribe(runCtx, topic.Name, topic.Params, realtime.SubscribeOptions{
			CheckExistence: true,
			Remember:       true,
		})
		if err != nil {
			a.stop(unwatch)
			return a.finish(ctx, fmt.Errorf("subscribe %s: %w", topic.Name, err))
		}
		a.logger.Debug("subscribed", logging.Field("topic", topic.Name))
	}
	if len(topics) > 0 {
		a.setRuntimeStatus(runstatus.Subscribed)
	}
	if strings.TrimSpace(a.opts.DeleteGreenhouse) != "" {
		err := a.deleteRequested(runCtx)
		stopErr := a.stop(unwatch)
		if err != nil {
			return a.finish(ctx, err)
		}
		return a.finish(ctx, stopErr)
	}

	select {
	case <-runCtx.Done():
	case <-a.client.Done():
	}
	return a.finish(ctx, a.stop(unwatch))
}

// stop closes the client and waits for its loop, so no state transition
// lands after the final status.
func (a *GarthenApp) stop(unwatch func()) error {
	unwatch()
	if err := a.client.Close(); err != nil {
		a.logger.Debug("close realtime client", logging.Field("error", err))
	}
	return a.client.Wait()
}

func (a *GarthenApp) awaitStartup(ctx context.Context) error {
	timeout := a.StartupTimeout
	if timeout <= 0 {
		timeout = defaultStartupTimeout
	}
	waitCtx, waitCancel := context.WithTimeout(ctx, timeout)
	defer waitCancel()
	err := a.client.AwaitReady(waitCtx)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		a.logger.Debug("stopping startup handshake wait: context canceled", logging.Field("error", ctx.Err()))
		return ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrStartupTimeout, err)
	}
	return err
}

func (a *GarthenApp) finish(ctx context.Context, err error) error {
	switch {
	case realtime.IsAuthenticationFailure(err):
		a.logger.Warn("server rejected the credential; clearing login")
		if clearErr := a.stores.Credentials.ClearLogin(); clearErr != nil {
			a.logger.Warn("failed to clear credentials", logging.Field("error", clearErr))
		}
		a.stores.User.Logout()
		a.setRuntimeStatus(runstatus.DisconnectedAuth)
		return fmt.Errorf("%w: %w", ErrAuthenticationFailed, err)
	case err == nil, ctx.Err() != nil, errors.Is(err, realtime.ErrClientClosed), errors.Is(err, context.Canceled):
		a.setRuntimeStatus(runstatus.Disconnected)
		a.logger.Info("garthen client stopped")
		return nil
	default:
		a.setRuntimeStatus(runstatus.Disconnected)
		a.logger.Warn("garthen client stopped with error", logging.Field("error", err))
		return err
	}
}

// watchCredentials follows token refreshes on disk; the next handshake
// picks them up through the token source.
func (a *GarthenApp) watchCredentials(ctx context.Context) {
	updates, err := a.stores.Credentials.Watch(ctx)
	if err != nil {
		a.logger.Warn("credential watch unavailable", logging.Field("error", err))
		return
	}
	go func() {
		for {
			creds, ok := runctx.RecvOrDone(ctx, "credential watch", a.logger, updates)
			if !ok {
				return
			}
			a.stores.User.SetLoggedIn(creds.IsLoggedIn)
			a.logger.Info("credentials changed", logging.Field("logged_in", creds.IsLoggedIn))
		}
	}()
}

func (a *GarthenApp) onStateChange(from, to realtime.State) {
	switch to {
	case realtime.StateConnecting:
		if from == realtime.StateClosed {
			a.setRuntimeStatus(runstatus.Reconnecting)
			return
		}
		a.setRuntimeStatus(runstatus.Connecting)
	case realtime.StateAwaitingAuthAck:
		a.setRuntimeStatus(runstatus.Authorizing)
	case realtime.StateAuthorized:
		a.setRuntimeStatus(runstatus.Connected)
	case realtime.StateClosed:
		a.setRuntimeStatus(runstatus.Reconnecting)
	}
}

type runtimeStatusState struct {
	mu      sync.Mutex
	current string
}

func (s *runtimeStatusState) update(status string) (string, string, bool) {
	trimmed := strings.TrimSpace(status)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == trimmed {
		return s.current, trimmed, false
	}
	previous := s.current
	s.current = trimmed
	return previous, trimmed, true
}

func (s *runtimeStatusState) get() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (a *GarthenApp) Status() string {
	return a.status.get()
}

func (a *GarthenApp) notifyStatus(status string) {
	if a.hooks.OnStatusChange == nil {
		return
	}
	a.hooks.OnStatusChange(status)
}

func (a *GarthenApp) setRuntimeStatus(status string) {
	previous, next, changed := a.status.update(status)
	if !changed {
		return
	}
	a.logger.Debug("runtime status transition",
		logging.Field("from", previous),
		logging.Field("to", next),
	)
	a.notifyStatus(status)
}
