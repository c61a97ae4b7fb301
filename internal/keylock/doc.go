// Package keylock serialises work on a logical document key.
//
// The Deduplicator and the Reaper both take the lock for a file key before
// reading and rewriting the jobs that share it. Local locks are refcounted
// channel semaphores; the Redis backend adds a SET NX PX lease for
// deployments where more than one process touches the same job store.
package keylock
