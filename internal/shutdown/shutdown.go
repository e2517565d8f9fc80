// Package shutdown turns SIGINT/SIGTERM into context cancellation and runs
// cleanup steps in reverse registration order.
package shutdown

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/PentesterFlow/SiteAudit/internal/logger"
)

// Step is one cleanup action. It should return once ctx is done.
type Step func(ctx context.Context) error

// GracefulServer is anything with an http.Server style Shutdown.
type GracefulServer interface {
	Shutdown(ctx context.Context) error
}

// Config holds shutdown configuration.
type Config struct {
	Timeout time.Duration
	Signals []os.Signal
	Logger  *logger.Logger
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		Timeout: 30 * time.Second,
		Signals: []os.Signal{syscall.SIGINT, syscall.SIGTERM},
	}
}

// Handler cancels its context on the first signal and then runs the
// registered steps.
type Handler struct {
	mu    sync.Mutex
	steps []namedStep

	started atomic.Bool
	done    chan struct{}
	timeout time.Duration
	log     *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc

	sigChan chan os.Signal
	stop    func()

	errs []error
}

type namedStep struct {
	name string
	fn   Step
}

// TimeoutError is returned when a step outlives the shutdown timeout.
type TimeoutError struct {
	Step string
}

func (e *TimeoutError) Error() string {
	return "shutdown step timed out: " + e.Step
}

// New creates a handler listening for cfg.Signals. parent cancellation
// counts as a shutdown request too.
func New(parent context.Context, cfg Config) *Handler {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if len(cfg.Signals) == 0 {
		cfg.Signals = DefaultConfig().Signals
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Global()
	}

	ctx, cancel := context.WithCancel(parent)
	h := &Handler{
		done:    make(chan struct{}),
		timeout: cfg.Timeout,
		log:     cfg.Logger.WithComponent("shutdown"),
		ctx:     ctx,
		cancel:  cancel,
		sigChan: make(chan os.Signal, 1),
	}

	signal.Notify(h.sigChan, cfg.Signals...)
	h.stop = func() { signal.Stop(h.sigChan) }

	go h.watch()
	return h
}

func (h *Handler) watch() {
	select {
	case sig := <-h.sigChan:
		h.log.WithField("signal", sig.String()).Info("Shutdown requested")
		h.cancel()
	case <-h.ctx.Done():
	}
}

// Context is cancelled when shutdown is requested.
func (h *Handler) Context() context.Context {
	return h.ctx
}

// Register adds a cleanup step. Steps run last registered first.
func (h *Handler) Register(name string, fn Step) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.steps = append(h.steps, namedStep{name: name, fn: fn})
}

// RegisterFunc adds a step that cannot fail.
func (h *Handler) RegisterFunc(name string, fn func()) {
	h.Register(name, func(context.Context) error {
		fn()
		return nil
	})
}

// RegisterServer adds srv.Shutdown as a step.
func (h *Handler) RegisterServer(name string, srv GracefulServer) {
	h.Register(name, srv.Shutdown)
}

// Trigger requests shutdown without a signal.
func (h *Handler) Trigger() {
	h.cancel()
}

// IsShuttingDown reports whether shutdown was requested.
func (h *Handler) IsShuttingDown() bool {
	return h.ctx.Err() != nil
}

// Done is closed once every step has run.
func (h *Handler) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until shutdown is requested, runs the steps and returns
// their combined error.
func (h *Handler) Wait() error {
	<-h.ctx.Done()
	return h.Shutdown()
}

// Shutdown runs every step once, within the configured timeout. Later
// calls wait for the first one and return its result.
func (h *Handler) Shutdown() error {
	if !h.started.CompareAndSwap(false, true) {
		<-h.done
		return h.result()
	}
	defer close(h.done)

	h.cancel()
	h.stop()

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	h.mu.Lock()
	steps := make([]namedStep, len(h.steps))
	copy(steps, h.steps)
	h.mu.Unlock()

	var errs []error
	for i := len(steps) - 1; i >= 0; i-- {
		if err := h.run(ctx, steps[i]); err != nil {
			h.log.WithError(err).WithField("step", steps[i].name).Warn("Shutdown step failed")
			errs = append(errs, err)
		}
	}

	h.mu.Lock()
	h.errs = errs
	h.mu.Unlock()

	h.log.WithDuration(time.Since(start)).WithField("steps", len(steps)).Info("Shutdown complete")
	return h.result()
}

func (h *Handler) run(ctx context.Context, s namedStep) error {
	done := make(chan error, 1)
	go func() {
		done <- s.fn(ctx)
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
		return nil
	case <-ctx.Done():
		return &TimeoutError{Step: s.name}
	}
}

func (h *Handler) result() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch len(h.errs) {
	case 0:
		return nil
	case 1:
		return h.errs[0]
	default:
		return fmt.Errorf("%d shutdown steps failed, first: %w", len(h.errs), h.errs[0])
	}
}
