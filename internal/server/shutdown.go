// Package server owns process lifecycle: signal handling, request draining
// and the ordered release of the engine and the HTTP listener.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
)

// ShutdownConfig holds the timeouts of a ShutdownManager.
type ShutdownConfig struct {
	// ShutdownTimeout bounds the whole shutdown (default: 30s).
	ShutdownTimeout time.Duration
	// DrainTimeout bounds the wait for in-flight requests (default: 15s).
	DrainTimeout time.Duration
	Logger       *slog.Logger
}

// DefaultShutdownConfig returns the default timeouts.
func DefaultShutdownConfig() ShutdownConfig {
	return ShutdownConfig{
		ShutdownTimeout: 30 * time.Second,
		DrainTimeout:    15 * time.Second,
	}
}

// ShutdownManager stops accepting requests, waits for the ones in flight
// and then closes registered resources, most recently registered first.
type ShutdownManager struct {
	cfg    ShutdownConfig
	logger *slog.Logger

	mu      sync.Mutex
	active  int64
	closing bool
	idle    chan struct{} // closed when active drops to zero during shutdown
	closers []io.Closer

	done chan struct{}
	once sync.Once
	err  error
}

// NewShutdownManager creates a manager. Zero timeouts take the defaults.
func NewShutdownManager(cfg ShutdownConfig) *ShutdownManager {
	def := DefaultShutdownConfig()
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = def.DrainTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ShutdownManager{
		cfg:    cfg,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// RegisterCloser adds c to the resources released on shutdown.
func (sm *ShutdownManager) RegisterCloser(c io.Closer) {
	sm.mu.Lock()
	sm.closers = append(sm.closers, c)
	sm.mu.Unlock()
}

// ListenForSignals waits for SIGINT, SIGTERM or ctx, then shuts down. It
// returns nil straight away if someone else already started the shutdown.
func (sm *ShutdownManager) ListenForSignals(ctx context.Context) error {
	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case <-sm.done:
		return nil
	case <-sigCtx.Done():
	}

	reason := "context cancelled"
	if ctx.Err() == nil {
		reason = "signal received"
	}
	return sm.Shutdown(context.Background(), reason)
}

// Shutdown runs once; later calls wait for nothing and return the first
// call's error.
func (sm *ShutdownManager) Shutdown(ctx context.Context, reason string) error {
	sm.once.Do(func() {
		sm.logger.Info("shutting down", "reason", reason)
		ctx, cancel := context.WithTimeout(ctx, sm.cfg.ShutdownTimeout)
		defer cancel()

		idle, closers := sm.beginClosing()
		close(sm.done)

		var errs []error
		if err := sm.drain(ctx, idle); err != nil {
			errs = append(errs, err)
		}
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].Close(); err != nil {
				errs = append(errs, fmt.Errorf("close: %w", err))
			}
		}
		sm.err = errors.Join(errs...)
		if sm.err != nil {
			sm.logger.Warn("shutdown finished with errors", "error", sm.err)
		} else {
			sm.logger.Info("shutdown complete")
		}
	})
	return sm.err
}

func (sm *ShutdownManager) beginClosing() (<-chan struct{}, []io.Closer) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.closing = true
	sm.idle = make(chan struct{})
	if sm.active == 0 {
		close(sm.idle)
	}
	return sm.idle, append([]io.Closer(nil), sm.closers...)
}

func (sm *ShutdownManager) drain(ctx context.Context, idle <-chan struct{}) error {
	timer := time.NewTimer(sm.cfg.DrainTimeout)
	defer timer.Stop()

	select {
	case <-idle:
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}
	if n := sm.InFlightCount(); n > 0 {
		return fmt.Errorf("gave up waiting for %d in-flight requests", n)
	}
	return nil
}

// TrackRequest counts a request in. It returns false once shutdown has
// begun; the caller must then reject the request.
func (sm *ShutdownManager) TrackRequest() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.closing {
		return false
	}
	sm.active++
	return true
}

// UntrackRequest counts a tracked request out.
func (sm *ShutdownManager) UntrackRequest() {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.active--
	if sm.active == 0 && sm.closing {
		close(sm.idle)
	}
}

// IsShuttingDown reports whether Shutdown has been called.
func (sm *ShutdownManager) IsShuttingDown() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.closing
}

// InFlightCount returns the number of tracked requests.
func (sm *ShutdownManager) InFlightCount() int64 {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.active
}

// ShutdownCh is closed when shutdown begins.
func (sm *ShutdownManager) ShutdownCh() <-chan struct{} {
	return sm.done
}

// GracefulHTTPServer ties an http.Server to a ShutdownManager.
type GracefulHTTPServer struct {
	srv *http.Server
	sm  *ShutdownManager
}

// NewGracefulHTTPServer registers srv with sm right away, so a shutdown
// that comes before ListenAndServe still stops it.
func NewGracefulHTTPServer(srv *http.Server, sm *ShutdownManager) *GracefulHTTPServer {
	drain := sm.cfg.DrainTimeout
	sm.RegisterCloser(CloserFunc(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), drain)
		defer cancel()
		return srv.Shutdown(ctx)
	}))
	return &GracefulHTTPServer{srv: srv, sm: sm}
}

// ListenAndServe blocks until the listener fails or shutdown closes it.
// Being closed by shutdown is not an error.
func (gs *GracefulHTTPServer) ListenAndServe() error {
	err := gs.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// ShutdownMiddleware counts requests in and out of the manager and turns
// new requests away with 503 once shutdown has begun.
func ShutdownMiddleware(sm *ShutdownManager) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !sm.TrackRequest() {
				c.Response().Header().Set("Connection", "close")
				return echo.NewHTTPError(http.StatusServiceUnavailable, "shutting down")
			}
			defer sm.UntrackRequest()
			return next(c)
		}
	}
}

// CloserFunc adapts a function to io.Closer.
type CloserFunc func() error

func (f CloserFunc) Close() error { return f() }
