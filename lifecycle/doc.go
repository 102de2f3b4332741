// Package lifecycle correlates asynchronous tool request/response pairs into
// single persistable records. A Manager is exclusively owned by one execution
// context, so no locking is required; its pending table lives only for the
// duration of the turn and is flushed at finalization so the audit trail never
// silently drops a started-but-unfinished call.
package lifecycle
