package repository

import "errors"

// ErrDataLayer is wrapped around any underlying storage error before it
// leaves the repository, so callers only ever need to recognize this one
// sentinel rather than reason about gorm/driver-specific error types. The
// underlying error is attached via %w for logging, never surfaced to API
// clients.
var ErrDataLayer = errors.New("task repository: data layer error")
