// Package jobs persists PrintJob records in SQLite and publishes every change
// to in-process observers.
//
// The store owns the lifecycle rules for a record: status only moves forward
// (pending, processing, printing, completed) or to error from any non-terminal
// state, progress never decreases while a job is active, and completion always
// reports 100. Updates are partial merges applied inside a transaction so
// independent writers (dispatch progress, status messages, the deduplicator)
// never clobber fields they did not set.
//
// The store does not enforce one active job per file name; the submission
// deduplicator serializes that decision per key before calling Create.
package jobs
