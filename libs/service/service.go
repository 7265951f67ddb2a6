// Package service provides the classical-inheritance-style Start/Stop
// lifecycle every long-running component in this daemon embeds, grounded
// on the teacher's libs/service.BaseService.
package service

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/lightanchor/anchord/internal/logging"
)

var (
	// ErrAlreadyStarted is returned when Start is called on an already
	// running service.
	ErrAlreadyStarted = errors.New("already started")
	// ErrAlreadyStopped is returned when Stop is called on an already
	// stopped service.
	ErrAlreadyStopped = errors.New("already stopped")
	// ErrNotStarted is returned when Stop is called before Start.
	ErrNotStarted = errors.New("not started")
)

// Service is something that can be started, stopped, and waited on.
type Service interface {
	Start(context.Context) error
	IsRunning() bool
	String() string
	Wait()
}

// Implementation is what BaseService wraps: a Service plus the two hooks
// BaseService calls into.
type Implementation interface {
	Service
	OnStart(context.Context) error
	OnStop()
}

// BaseService implements Start/Stop/IsRunning/Wait around an
// Implementation's OnStart/OnStop, guaranteeing each is called at most
// once. The caller must not call Start/Stop concurrently with each other.
type BaseService struct {
	logger  logging.Logger
	name    string
	started uint32
	stopped uint32
	quit    chan struct{}

	impl Implementation
}

// NewBaseService constructs a BaseService named name, delegating to impl.
func NewBaseService(logger logging.Logger, name string, impl Implementation) *BaseService {
	return &BaseService{
		logger: logger,
		name:   name,
		quit:   make(chan struct{}),
		impl:   impl,
	}
}

// Start calls impl.OnStart and, on success, arranges for Stop to run
// automatically when ctx is canceled.
func (bs *BaseService) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapUint32(&bs.started, 0, 1) {
		return ErrAlreadyStarted
	}
	if atomic.LoadUint32(&bs.stopped) == 1 {
		bs.logger.Error("not starting service; already stopped", "service", bs.name)
		atomic.StoreUint32(&bs.started, 0)
		return ErrAlreadyStopped
	}

	bs.logger.Info("starting service", "service", bs.name)
	if err := bs.impl.OnStart(ctx); err != nil {
		atomic.StoreUint32(&bs.started, 0)
		return err
	}

	go func() {
		select {
		case <-bs.quit:
		case <-ctx.Done():
			if !bs.impl.IsRunning() {
				return
			}
			if err := bs.Stop(); err != nil {
				bs.logger.Error("error stopping service", "service", bs.name, "err", err)
			}
		}
	}()

	return nil
}

// Stop calls impl.OnStop and closes the quit channel Wait blocks on.
func (bs *BaseService) Stop() error {
	if !atomic.CompareAndSwapUint32(&bs.stopped, 0, 1) {
		return ErrAlreadyStopped
	}
	if atomic.LoadUint32(&bs.started) == 0 {
		bs.logger.Error("not stopping service; not started yet", "service", bs.name)
		atomic.StoreUint32(&bs.stopped, 0)
		return ErrNotStarted
	}

	bs.logger.Info("stopping service", "service", bs.name)
	bs.impl.OnStop()
	close(bs.quit)
	return nil
}

// IsRunning reports whether the service is started and not yet stopped.
func (bs *BaseService) IsRunning() bool {
	return atomic.LoadUint32(&bs.started) == 1 && atomic.LoadUint32(&bs.stopped) == 0
}

// Wait blocks until Stop has run to completion.
func (bs *BaseService) Wait() { <-bs.quit }

// String returns the service's name.
func (bs *BaseService) String() string { return bs.name }
