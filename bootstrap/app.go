package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"heritage/api"
	"heritage/config"
	"heritage/modules"
	"heritage/util/goroutine"

	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

// Options is the process environment, resolved once at entry and passed down
type Options struct {
	// ProfilesFile is an explicit profiles file; empty searches the defaults
	ProfilesFile string
	Primary      string
	Fallbacks    []string
	StubPort     int
	Debug        bool

	// Logger overrides the console logger built from Debug
	Logger *zap.Logger
}

// OptionsFromEnv reads HERITAGE_CONFIG, HERITAGE_FALLBACK_PROFILES and PORT
func OptionsFromEnv() Options {
	return Options{
		Primary:   config.ProfileFromEnv(),
		Fallbacks: config.FallbacksFromEnv(),
		StubPort:  config.PortFromEnv(),
	}
}

// Attempts returns the ordered attempt list, always ending with the stub
func (o Options) Attempts() []string {
	return config.AttemptChain(o.Primary, o.Fallbacks...)
}

// Boot runs the fallback chain once and returns the selected instance.
// Only a malformed stage graph is an error; failed attempts fall through to the stub.
func Boot(ctx context.Context, opts Options, logger *zap.SugaredLogger) (*api.Server, Report, error) {
	profiles, err := config.LoadProfiles(config.LoadOptions{File: opts.ProfilesFile})
	if err != nil {
		logger.Warnw("Failed to load profiles file, using built-in profiles",
			"file", opts.ProfilesFile,
			"error", err)
		profiles = config.DefaultProfiles()
	}

	reg, err := NewRegistry(StandardStages(modules.Default())...)
	if err != nil {
		return nil, Report{}, fmt.Errorf("invalid bootstrap stage graph: %w", err)
	}
	logger.Debugw("Stage order resolved", "stages", reg.Names())

	stubPort := opts.StubPort
	if stubPort == 0 {
		stubPort = config.DefaultPort
	}

	policy := NewPolicy(config.NewResolver(profiles), NewCascade(reg, logger), logger).WithStubPort(stubPort)
	srv, report := policy.BootstrapWithReport(ctx, opts.Attempts())
	return srv, report, nil
}

// App owns the bootstrapped instance for the life of the process
type App struct {
	Logger *zap.Logger
	Sugar  *zap.SugaredLogger
	Server *api.Server
	Report Report

	serviceWg *sync.WaitGroup
	serveErr  chan error
	stopOnce  sync.Once
}

// NewApp bootstraps the service instance described by opts.
func NewApp(ctx context.Context, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		l, _, err := InitLogger(opts.Debug)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize logger: %w", err)
		}
		logger = l
	}
	sugar := logger.Sugar()

	sugar.Infow("Starting heritage",
		"profile", opts.Primary,
		"attempts", opts.Attempts())

	srv, report, err := Boot(ctx, opts, sugar)
	if err != nil {
		return nil, err
	}

	return &App{
		Logger:    logger,
		Sugar:     sugar,
		Server:    srv,
		Report:    report,
		serviceWg: &sync.WaitGroup{},
		serveErr:  make(chan error, 1),
	}, nil
}

// Start serves the instance in the background on its profile address
func (a *App) Start() {
	goroutine.Go(a.serviceWg, "http-server", a.Sugar, func() {
		if err := a.Server.Start(""); err != nil {
			a.Sugar.Errorw("HTTP server stopped", "error", err)
			a.serveErr <- err
		}
	})
}

// WaitForShutdown blocks until a shutdown signal arrives or the listener fails.
func (a *App) WaitForShutdown() error {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(c)

	select {
	case sig := <-c:
		a.Sugar.Infow("Shutdown signal received", "signal", sig.String())
		return nil
	case err := <-a.serveErr:
		return err
	}
}

// Shutdown stops the listener and releases everything the stages opened.
func (a *App) Shutdown() error {
	var err error
	a.stopOnce.Do(func() {
		a.Sugar.Info("Shutting down...")

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err = a.Server.Stop(ctx)
		if err != nil {
			a.Sugar.Errorw("Failed to stop service instance", "error", err)
		}

		done := make(chan struct{})
		go func() {
			a.serviceWg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			a.Sugar.Warn("HTTP server shutdown timed out")
			err = errors.Join(err, ctx.Err())
		}

		a.Sugar.Info("Shutdown complete")
		_ = a.Logger.Sync()
	})
	return err
}
