package pulsar

import "errors"

// ErrConnection classifies a transport-level fault talking to Pulsar:
// connection refused, DNS failure, timeout, or a malformed HTTP response.
// This is the only Pulsar failure class the error classifier treats as
// possibly transient.
var ErrConnection = errors.New("pulsar: connection error")

// ErrOperation classifies every other unexpected Pulsar failure: a non-2xx
// status, a malformed or incomplete response body, or status-poll
// exhaustion in RunJob.
var ErrOperation = errors.New("pulsar: operations error")

// ErrNotImplemented is returned by the AMQP flavour, which is declared as
// part of the Operations capability set but has no implementation here.
var ErrNotImplemented = errors.New("pulsar: amqp operations not implemented")
