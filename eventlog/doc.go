// Package eventlog provides implementations of the durable append-only event
// log. The in-memory store here backs tests and demos; eventlog/sqlite is the
// durable implementation.
//
// The contract that matters is sequence reservation: callers obtain durable
// sequence numbers only through ReserveSequenceNumbers, which claims a
// contiguous, monotonic block atomically per session. There is no
// read-then-increment path to race on.
package eventlog
