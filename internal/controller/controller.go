// Package controller owns the background worker that drives the behavior
// engine and exposes the start/stop/exit lifecycle.
package controller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nullvektor/warden/internal/config"
	"github.com/nullvektor/warden/internal/timing"
	"github.com/nullvektor/warden/internal/window"
)

// joinTimeout bounds how long Stop waits for the worker to come home.
const joinTimeout = 2 * time.Second

// ErrTerminated is returned by Start after Exit has been called.
var ErrTerminated = errors.New("controller has been terminated")

// errCyclePanic marks cycle failures that came from a recovered panic.
var errCyclePanic = errors.New("cycle panic")

// Runner is the behavior engine surface the controller drives.
type Runner interface {
	Cycle(ctx context.Context) error
	ResetTransient()
}

// Controller runs at most one worker goroutine at a time. Start while running
// is a no-op; Stop cancels the worker and joins it with a bounded timeout;
// Exit additionally closes the serial link and is terminal.
type Controller struct {
	runner    Runner
	link      io.Closer
	activator window.Activator
	cfg       config.LoopConfig
	sleeper   timing.Sleeper
	logger    *zap.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
	exited  bool
}

// New builds a stopped Controller.
func New(runner Runner, link io.Closer, activator window.Activator, cfg config.LoopConfig, sleeper timing.Sleeper, logger *zap.Logger) *Controller {
	return &Controller{
		runner:    runner,
		link:      link,
		activator: activator,
		cfg:       cfg,
		sleeper:   sleeper,
		logger:    logger.Named("controller"),
	}
}

// Start launches the worker. Calling Start on a running controller reports
// "already running" and changes nothing; after Exit it returns ErrTerminated.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.exited {
		return ErrTerminated
	}
	if c.running {
		c.logger.Info("Start requested but the worker is already running.")
		return nil
	}

	if c.activator != nil {
		if err := c.activator.Activate(); err != nil {
			c.logger.Warn("Window activation failed, continuing anyway.", zap.Error(err))
		}
	}

	runID := uuid.NewString()
	workerCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.running = true

	c.logger.Info("Worker starting.", zap.String("run_id", runID))
	go c.run(workerCtx, runID, c.done)
	return nil
}

// run drives engine cycles until the context is done. Each cycle is guarded
// against panics; a recovered panic resets transient state, while an ordinary
// cycle error is logged and the next cycle re-attempts from the current
// state.
func (c *Controller) run(ctx context.Context, runID string, done chan struct{}) {
	defer close(done)
	logger := c.logger.With(zap.String("run_id", runID))

	for {
		if ctx.Err() != nil {
			logger.Info("Worker stopping.")
			return
		}

		if err := c.runCycle(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				logger.Info("Worker stopping.")
				return
			}
			logger.Warn("Cycle failed, continuing on the next one.", zap.Error(err))
			if errors.Is(err, errCyclePanic) {
				c.runner.ResetTransient()
			}
		}

		if err := c.sleeper.Sleep(ctx, c.cfg.Delay); err != nil {
			logger.Info("Worker stopping.")
			return
		}
	}
}

func (c *Controller) runCycle(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", errCyclePanic, r)
		}
	}()
	return c.runner.Cycle(ctx)
}

// Stop cancels the worker and joins it. A worker that does not come home
// within the join timeout is logged and abandoned; transient engine state is
// reset either way so a later Start begins clean. Stopping a stopped
// controller is a no-op.
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopLocked()
}

func (c *Controller) stopLocked() error {
	if !c.running {
		return nil
	}
	c.cancel()

	select {
	case <-c.done:
	case <-time.After(joinTimeout):
		c.logger.Warn("Worker did not terminate within the join timeout.",
			zap.Duration("timeout", joinTimeout))
	}

	c.running = false
	c.runner.ResetTransient()
	c.logger.Info("Worker stopped.")
	return nil
}

// Exit stops the worker and releases the serial link. Irreversible; any later
// Start fails with ErrTerminated.
func (c *Controller) Exit() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.exited {
		return nil
	}
	if err := c.stopLocked(); err != nil {
		return err
	}
	c.exited = true

	if c.link != nil {
		if err := c.link.Close(); err != nil {
			c.logger.Warn("Closing serial link failed.", zap.Error(err))
			return err
		}
	}
	c.logger.Info("Controller exited.")
	return nil
}

// Running reports whether a worker is currently active.
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}
