package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	flags "github.com/jessevdk/go-flags"

	"garthen-realtime/internal/app"
	"garthen-realtime/internal/config"
	"garthen-realtime/internal/logging"
	"garthen-realtime/internal/runtime"
)

var BuildVersion = "dev"

const (
	exitFailure = 1
	exitUsage   = 2
)

func main() {
	rootCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	opts, err := config.ParseOptions()
	if err != nil {
		var flagErr *flags.Error
		if errors.As(err, &flagErr) && flagErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitUsage)
	}
	if err := config.ValidateRequired(opts); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitUsage)
	}

	lock, lockedByOther, lockErr := acquireInstanceLock()
	if lockErr != nil {
		fmt.Fprintln(os.Stderr, "failed to initialize single-instance lock:", lockErr)
		os.Exit(exitUsage)
	}
	if lockedByOther {
		fmt.Fprintln(os.Stderr, "Garthen realtime client is already running.")
		os.Exit(exitFailure)
	}

	code := run(rootCtx, opts)
	_ = lock.Release()
	os.Exit(code)
}

func run(ctx context.Context, opts config.Options) int {
	logger := logging.New(opts.Debug)
	defer logger.Close()
	if opts.LogPersist {
		if err := logger.EnableFilePersistence(opts.LogDir, 0); err != nil {
			logger.Warn("failed to enable file log persistence", logging.Field("error", err))
		}
	}
	logger.Info("starting garthen realtime client", logging.Field("version", BuildVersion))

	exitErr := make(chan error, 1)
	controller := runtime.NewController(ctx)
	err := controller.Start(opts, logger, runtime.StartHooks{
		OnStatus: func(status string) {
			logger.Info("status: " + status)
		},
		OnExit: func(err error) {
			exitErr <- err
		},
	})
	if err != nil {
		logger.Error("failed to start", logging.Field("error", err))
		if errors.Is(err, app.ErrMissingToken) {
			return exitUsage
		}
		return exitFailure
	}
	controller.Wait(0)

	switch err := <-exitErr; {
	case err == nil:
		return 0
	case errors.Is(err, app.ErrMissingToken):
		return exitUsage
	default:
		return exitFailure
	}
}
