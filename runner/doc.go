// Package runner implements the entry point of AgentPipe. The Runner creates
// the per-turn execution context, emits session bookkeeping events, delegates
// the turn to the pipeline, and translates failures into a stable error event
// for connected clients plus an error for the caller.
//
// A Runner holds no per-call mutable state: concurrent Run calls for
// different sessions never share anything mutable, because everything a turn
// touches lives in its own ExecutionContext.
package runner
