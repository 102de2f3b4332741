// Package core provides the foundational domain types, interfaces and the
// per-turn execution context used by AgentPipe. It defines:
//
//   - NormalizedEvent (provider-agnostic decision engine output)
//   - ClientEvent (the ordered stream delivered to connected clients)
//   - PersistedEvent (durable log acknowledgement)
//   - ExecutionContext (exclusively owned per-turn mutable state)
//   - Pluggable contracts for the decision engine, normalizer, durable event
//     log, background job queue, citation extractor and session store
//
// The package intentionally keeps implementation concerns (persistence,
// sequencing, orchestration) out of scope, exposing small interfaces to
// enable custom backends and extensions.
package core
