// Package events implements the fire-and-forget event dispatcher the task
// lifecycle is built on: handlers register against glob patterns, dispatch
// schedules every matching handler as an independent background activity,
// and chained dispatch from inside a handler is never synchronous with its
// parent.
package events

import (
	"context"
	"strings"
	"sync"
)

// Handler processes one event delivery. A non-nil error is logged by the
// Dispatcher; it is never surfaced to whoever called Dispatch, since
// dispatch is fire-and-forget by design.
type Handler func(ctx context.Context, payload any) error

// Projector reshapes a payload before delivery, e.g. dropping fields a
// handler's schema does not declare. Returning an error fails delivery to
// every handler matched for that event.
type Projector func(payload any) (any, error)

type registration struct {
	pattern string
	handler Handler
}

// Registry maps event-name glob patterns to handlers and optional payload
// projectors. It is safe for concurrent use.
//
// The zero value is not usable — create instances with NewRegistry.
type Registry struct {
	mu         sync.RWMutex
	registered []registration
	projectors map[string]Projector
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		projectors: make(map[string]Projector),
	}
}

// On registers handler against pattern. Pattern may be a literal event name
// or a glob: "*" matches any run of characters, "?" matches exactly one.
// Handlers are tried in registration order at dispatch time.
func (r *Registry) On(pattern string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.registered = append(r.registered, registration{pattern: pattern, handler: handler})
}

// OnSchema registers a Projector for the exact event name. Only one
// projector may be registered per name; a later call replaces an earlier
// one.
func (r *Registry) OnSchema(name string, projector Projector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.projectors[name] = projector
}

// Match returns every handler registered under a pattern that matches name,
// preserving registration order.
func (r *Registry) Match(name string) []Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []Handler
	for _, reg := range r.registered {
		if hasMeta(reg.pattern) {
			if globMatch(reg.pattern, name) {
				matched = append(matched, reg.handler)
			}
		} else if reg.pattern == name {
			matched = append(matched, reg.handler)
		}
	}
	return matched
}

// projectorFor returns the Projector registered for name, if any.
func (r *Registry) projectorFor(name string) (Projector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.projectors[name]
	return p, ok
}

// globMatch reports whether name matches pattern, where "*" in pattern
// matches any run of characters (including none) and "?" matches exactly
// one character. Matching is case-sensitive and anchored at both ends.
func globMatch(pattern, name string) bool {
	return globMatchFrom(pattern, name)
}

func globMatchFrom(pattern, name string) bool {
	for len(pattern) > 0 {
		switch pattern[0] {
		case '*':
			// Collapse consecutive '*' and try every possible split point.
			for len(pattern) > 0 && pattern[0] == '*' {
				pattern = pattern[1:]
			}
			if len(pattern) == 0 {
				return true
			}
			for i := 0; i <= len(name); i++ {
				if globMatchFrom(pattern, name[i:]) {
					return true
				}
			}
			return false
		case '?':
			if len(name) == 0 {
				return false
			}
			pattern, name = pattern[1:], name[1:]
		default:
			if len(name) == 0 || pattern[0] != name[0] {
				return false
			}
			pattern, name = pattern[1:], name[1:]
		}
	}
	return len(name) == 0
}

// hasMeta reports whether pattern contains any glob metacharacter, used by
// callers that want to special-case literal registrations.
func hasMeta(pattern string) bool {
	return strings.ContainsAny(pattern, "*?")
}
