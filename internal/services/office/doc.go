// Package office wraps the headless office suite used as the primary
// conversion engine.
//
// The client runs one engine process at a time with an argument vector, a hard
// wall-clock timeout and its own process group, so a hung converter (and any
// helper it forked) can be killed by handle. The last engine pid is recorded on
// disk so a restarted service can reap a stray instance left behind by a crash.
package office
