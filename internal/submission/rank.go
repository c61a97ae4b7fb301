package submission

import (
	"cmp"
	"slices"

	"printkiosk/internal/jobs"
)

func statusPriority(status jobs.Status) int {
	switch status {
	case jobs.StatusPrinting:
		return 3
	case jobs.StatusProcessing:
		return 2
	case jobs.StatusPending:
		return 1
	default:
		return 0
	}
}

// compareJobs orders a before b when a is the better survivor: higher status
// priority, then more progress, then newer.
func compareJobs(a, b *jobs.Job) int {
	if c := cmp.Compare(statusPriority(b.Status), statusPriority(a.Status)); c != 0 {
		return c
	}
	if c := cmp.Compare(b.Progress, a.Progress); c != 0 {
		return c
	}
	return b.CreatedAt.Compare(a.CreatedAt)
}

// Rank returns a copy of list ordered best survivor first.
func Rank(list []*jobs.Job) []*jobs.Job {
	ranked := slices.Clone(list)
	slices.SortStableFunc(ranked, compareJobs)
	return ranked
}

// StrictlyBetter reports whether a outranks b on at least one ranking key.
func StrictlyBetter(a, b *jobs.Job) bool {
	return compareJobs(a, b) < 0
}
