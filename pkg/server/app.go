package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	domrepo "FxAlert/internal/domain/repository"
	"FxAlert/internal/middleware"
	"FxAlert/internal/service/gateway"
	"FxAlert/internal/service/ratelimit"
	"FxAlert/internal/usecase"
	"FxAlert/pkg/config"
	xhttp "FxAlert/pkg/http"
	applogger "FxAlert/pkg/logger"
	"FxAlert/pkg/queue"
)

// EventBus is a bus the app owns and must drain on shutdown.
type EventBus interface {
	domrepo.EventBus
	Close(ctx context.Context) error
}

// starter is implemented by buses that consume from a broker.
type starter interface {
	Start() error
}

// Closer releases one infrastructure client after the workers stopped.
type Closer struct {
	Name  string
	Close func() error
}

// Components are the wired parts the app runs. Optional parts are nil.
type Components struct {
	Detector   *usecase.Detector
	Dispatcher *usecase.Dispatcher
	Bus        EventBus
	Intake     *middleware.Intake
	Gateway    *gateway.Client
	Intents    *usecase.IntentRegistry
	Scheduler  *usecase.AsyncScheduler
	Queue      *queue.RedisQueue
	Limiter    *ratelimit.Limiter
	Server     *xhttp.Server
	Closers    []Closer
}

// App encapsulates the entire application lifecycle.
type App struct {
	cfg *config.Config
	log *applogger.Logger
	c   Components

	wg sync.WaitGroup
}

func New(cfg *config.Config, l *applogger.Logger, c Components) *App {
	if l == nil {
		l = applogger.Nop()
	}
	return &App{cfg: cfg, log: l, c: c}
}

// Run starts the application and blocks until SIGINT or SIGTERM.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.RunContext(ctx)
}

// RunContext starts every component and shuts down once ctx is done or the
// HTTP server fails.
func (a *App) RunContext(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := a.start(runCtx); err != nil {
		cancel()
		a.shutdown()
		return err
	}

	var serveErr error
	var httpErrs <-chan error
	if a.c.Server != nil {
		httpErrs = a.c.Server.Errors()
	}
	select {
	case <-ctx.Done():
		a.log.Info("shutdown signal received")
	case serveErr = <-httpErrs:
		a.log.Error("http server failed", applogger.Error(serveErr))
	}
	cancel()
	a.shutdown()
	return serveErr
}

func (a *App) start(ctx context.Context) error {
	c := a.c
	if c.Dispatcher != nil && c.Bus != nil {
		if _, err := c.Dispatcher.Subscribe(c.Bus); err != nil {
			return fmt.Errorf("subscribe dispatcher: %w", err)
		}
	}
	if s, ok := c.Bus.(starter); ok {
		if err := s.Start(); err != nil {
			return fmt.Errorf("start event bus: %w", err)
		}
	}
	if c.Queue != nil {
		if err := c.Queue.Start(); err != nil {
			return fmt.Errorf("start command queue: %w", err)
		}
	}
	if c.Server != nil {
		if err := c.Server.Start(); err != nil {
			return fmt.Errorf("start http server: %w", err)
		}
	}

	if c.Detector != nil {
		a.goRun("detector", func() error { return c.Detector.Run(ctx) })
	}
	if c.Gateway != nil && c.Intake != nil {
		a.goRun("gateway", func() error { return c.Gateway.Run(ctx, c.Intake.Accept) })
	}
	if c.Intents != nil {
		a.goRun("intent sweeper", func() error { c.Intents.RunSweeper(ctx, time.Minute); return nil })
	}
	if c.Limiter != nil {
		a.goRun("rate limit evictor", func() error {
			c.Limiter.RunEvictor(ctx, a.cfg.Dispatcher.SweepInterval, a.cfg.Dispatcher.RateLimitWindow)
			return nil
		})
	}

	a.log.Info("fxalert started",
		applogger.Int("pairs", len(a.cfg.Detector.Pairs)),
		applogger.Strings("timeframes", a.cfg.Detector.Timeframes),
		applogger.String("bus", a.cfg.Bus.Type),
		applogger.String("scheduler", a.cfg.Commands.Scheduler),
		applogger.Bool("interactions", c.Gateway != nil))
	return nil
}

func (a *App) goRun(name string, fn func() error) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := fn(); err != nil {
			a.log.Error(name+" stopped", applogger.Error(err))
		}
	}()
}

// shutdown stops intake first so that in-flight acknowledgments can still
// reply, then drains the event path and closes clients.
func (a *App) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	c := a.c

	if c.Gateway != nil {
		_ = c.Gateway.Close()
	}
	if c.Intake != nil {
		if err := c.Intake.Drain(ctx); err != nil {
			a.log.Warn("interaction drain incomplete", applogger.Int("in_flight", c.Intake.InFlight()), applogger.Error(err))
		}
	}
	if c.Scheduler != nil {
		if err := c.Scheduler.Close(ctx); err != nil {
			a.log.Warn("command scheduler drain incomplete", applogger.Error(err))
		}
	}
	if c.Queue != nil {
		if err := c.Queue.Stop(ctx); err != nil {
			a.log.Warn("command queue stop", applogger.Error(err))
		}
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.log.Warn("background workers did not stop in time")
	}

	if c.Bus != nil {
		if err := c.Bus.Close(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("event bus close", applogger.Error(err))
		}
	}
	if c.Server != nil {
		if err := c.Server.Stop(ctx); err != nil {
			a.log.Error("http shutdown error", applogger.Error(err))
		}
	}
	for i := len(c.Closers) - 1; i >= 0; i-- {
		cl := c.Closers[i]
		if err := cl.Close(); err != nil {
			a.log.Warn(cl.Name+" close error", applogger.Error(err))
		}
	}
	a.log.Info("shutdown complete")
}
