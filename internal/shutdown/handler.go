package shutdown

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"trackmeta/internal/logger"
)

// ErrTimeout is returned by Wait when work is still running at the deadline.
var ErrTimeout = errors.New("shutdown timed out waiting for work to finish")

type cleanup struct {
	name string
	fn   func() error
}

// Handler manages graceful shutdown. Cleanups run once, newest first.
type Handler struct {
	ctx      context.Context
	cancel   context.CancelFunc
	logger   *logger.Logger
	wg       sync.WaitGroup
	mu       sync.Mutex
	cleanups []cleanup
	once     sync.Once
}

// New creates a new shutdown handler
func New(log *logger.Logger) *Handler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Handler{
		ctx:    ctx,
		cancel: cancel,
		logger: log,
	}
}

// Context is cancelled when shutdown starts.
func (h *Handler) Context() context.Context {
	return h.ctx
}

// AddCleanup registers a named cleanup function to be called on shutdown
func (h *Handler) AddCleanup(name string, fn func() error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cleanups = append(h.cleanups, cleanup{name: name, fn: fn})
}

// Listen starts listening for SIGINT and SIGTERM. A second signal exits
// immediately.
func (h *Handler) Listen() {
	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		h.logger.Info("Received signal, shutting down", "signal", sig.String())
		go h.Shutdown()
		<-sigChan
		h.logger.Warn("Second signal received, exiting now")
		os.Exit(1)
	}()
}

// Shutdown cancels the context and runs cleanups. Safe to call repeatedly.
func (h *Handler) Shutdown() {
	h.once.Do(func() {
		h.cancel()

		h.mu.Lock()
		fns := h.cleanups
		h.mu.Unlock()

		for i := len(fns) - 1; i >= 0; i-- {
			c := fns[i]
			h.logger.Debug("Running cleanup", "name", c.name)
			if err := c.fn(); err != nil {
				h.logger.Error("Cleanup failed", err, "name", c.name)
			}
		}
	})
}

// Wait waits for tracked work to complete, up to timeout.
func (h *Handler) Wait(timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-done:
		return nil
	case <-t.C:
		return ErrTimeout
	}
}

// Go runs fn as tracked work.
func (h *Handler) Go(fn func(ctx context.Context)) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		fn(h.ctx)
	}()
}
