// Package pipeline implements the per-turn execution path of AgentPipe: it
// sequences, persists, converts and emits the events produced by one decision
// engine call.
//
// The components mirror the stages an event passes through:
//
//   - Sequencer reserves one contiguous block of durable sequence numbers per
//     batch and assigns them in emission order, so concurrent executions never
//     race on the store's counter.
//   - Converter is the pure mapping from normalized events to client events.
//   - Persister applies the dual persistence strategy: canonical reply events
//     (thinking, assistant_message) are written before emission; tool events
//     are written after emission off the hot path; transient events are never
//     written.
//   - Processor drives one event through persist → convert → emit → citation
//     extraction.
//   - Pipeline orchestrates a whole turn: context assembly, the engine call,
//     normalization, sequencing, the processing loop, orphan finalization and
//     the checkpoint advance.
//
// Ordering guarantee: the emit callback observes events in exactly the order
// the Sequencer assigned, even while some underlying writes are still in
// flight.
package pipeline
