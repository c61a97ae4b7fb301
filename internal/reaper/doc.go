// Package reaper removes job records that should no longer be visible.
//
// Sweep applies its rules in a fixed order: malformed records, duplicates of
// one document, stuck jobs, ancient jobs and finally completed jobs past
// their retention window. Each document is handled under the same key lock
// the submission path uses, so a sweep never races a Submit for that file.
package reaper
