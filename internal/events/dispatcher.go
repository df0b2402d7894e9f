package events

import (
	"context"

	"go.uber.org/zap"
)

// Dispatcher schedules handler execution for events registered in a
// Registry. Every Dispatch call returns immediately; matched handlers run
// on their own goroutines and their outcomes are only observable through
// logging.
//
// The zero value is not usable — create instances with NewDispatcher.
type Dispatcher struct {
	registry *Registry
	logger   *zap.Logger
}

// NewDispatcher returns a Dispatcher that delivers events registered on
// registry, logging handler failures via logger.
func NewDispatcher(registry *Registry, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		logger:   logger.Named("events"),
	}
}

// Dispatch schedules every handler registered for name as an independent
// background activity and returns without waiting for any of them. If a
// schema projector is registered for name, the payload is projected through
// it before delivery; a projection failure is logged and no handler runs.
//
// A handler invoked from Dispatch may itself call Dispatch to chain a
// follow-up event — that nested dispatch schedules its own independent
// activities and is never synchronous with the handler that triggered it.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, payload any) {
	if projector, ok := d.registry.projectorFor(name); ok {
		projected, err := projector(payload)
		if err != nil {
			d.logger.Error("payload projection failed",
				zap.String("event", name),
				zap.Error(err),
			)
			return
		}
		payload = projected
	}

	handlers := d.registry.Match(name)
	for _, h := range handlers {
		h := h
		go func() {
			if err := h(ctx, payload); err != nil {
				d.logger.Error("event handler failed",
					zap.String("event", name),
					zap.Error(err),
				)
			}
		}()
	}
}
