// Package api exposes the kiosk HTTP surface and the wire-format types it
// returns. Handlers translate internal job, conversion and device models
// into transport-friendly DTOs that the kiosk front end can render without
// coupling to internal types.
//
// # Key Types
//
// Server: chi router wiring conversion, submission, job queries, live job
// subscriptions (long-poll and websocket), artifact downloads and the USB
// file listing.
//
// JobView: transport representation of a print job.
//
// JobService: read and cancel operations over the job store returning DTOs.
//
// # Design Notes
//
// Every response body carries status "success" or "error". DTOs use camelCase
// JSON tags and timestamps are RFC3339 with milliseconds. Malformed job
// records are filtered from every read. Subscribers receive full job
// snapshots so a dropped event never leaves a client with partial state.
package api
