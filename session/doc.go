// Package session provides session store implementations. A session carries
// the turn checkpoint: the engine-visible message count at the end of the
// last completed turn, used to skip already-processed history on the next
// one. The SQLite-backed event log provides a durable alternative in
// eventlog/sqlite.
package session
