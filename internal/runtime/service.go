package runtime

import (
	"context"
	"strings"

	"garthen-realtime/internal/app"
	"garthen-realtime/internal/config"
	"garthen-realtime/internal/logging"
	"garthen-realtime/internal/metrics"
	"garthen-realtime/internal/realtime"
	"garthen-realtime/internal/transport"
)

type Service interface {
	RunContext(ctx context.Context) error
}

type service struct {
	app         *app.GarthenApp
	metrics     *metrics.Metrics
	metricsAddr string
	logger      *logging.Logger
}

func NewService(opts config.Options, logger *logging.Logger) (Service, error) {
	return NewServiceWithHooks(opts, logger, StartHooks{})
}

// NewServiceWithHooks wires the credential store, websocket transport,
// metrics and realtime client behind one app.
func NewServiceWithHooks(opts config.Options, logger *logging.Logger, hooks StartHooks) (Service, error) {
	if logger == nil {
		panic("runtime.NewServiceWithHooks: logger must not be nil")
	}
	if err := config.ValidateRequired(opts); err != nil {
		return nil, err
	}

	endpoint, err := config.BuildEndpoint(opts.WSURI)
	if err != nil {
		return nil, err
	}
	creds, err := config.NewCredentialStore(opts.CredentialsFile, logger)
	if err != nil {
		return nil, err
	}
	creds.SetOverride(opts.Token)
	logger.Debug("constructed realtime endpoint",
		logging.Field("endpoint", endpoint),
		logging.Field("credentials", creds.Path()),
		logging.Field("token_override", strings.TrimSpace(opts.Token) != ""),
	)

	telemetry := metrics.New(nil, metrics.DefaultNamespace)
	client := realtime.New(realtime.Options{
		Endpoint:          endpoint,
		Dialer:            transport.NewDialer(logger),
		Tokens:            creds,
		HeartbeatInterval: opts.HeartbeatInterval,
		ReconnectDelay:    opts.ReconnectDelay,
		Observer:          telemetry,
	}, logger)

	return &service{
		app: app.New(opts, client, app.Stores{Credentials: creds}, logger, app.Callbacks{
			OnStatusChange: hooks.OnStatus,
		}),
		metrics:     telemetry,
		metricsAddr: strings.TrimSpace(opts.MetricsAddr),
		logger:      logger,
	}, nil
}

func (s *service) RunContext(ctx context.Context) error {
	if s.metricsAddr != "" {
		metricsCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			if err := metrics.Serve(metricsCtx, s.metricsAddr, s.metrics.Handler(), s.logger); err != nil {
				s.logger.Warn("metrics server stopped", logging.Field("error", err))
			}
		}()
	}
	return s.app.RunContext(ctx)
}
