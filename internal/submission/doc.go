// Package submission turns print requests into job records while keeping at
// most one active job per logical document.
//
// Submit serialises on the document's file key, gathers every active or
// recently created job for that key, keeps the best ranked one and deletes
// the rest. Rank is shared with the reaper so both agree on which duplicate
// survives.
package submission
