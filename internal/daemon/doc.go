// Package daemon coordinates the long-running kiosk process.
//
// It wires configuration, the job store, the conversion coordinator, the
// submission deduplicator, the stale job reaper, the print dispatcher and the
// USB device feed into a single lifecycle, with flock-based locking to
// prevent a second instance from sharing the job database and workspace.
// The HTTP surface from package api is served from here.
//
// Keep orchestration logic here: conversion, deduplication and reaping live
// in their own packages while the daemon focuses on startup, shutdown, and
// high level coordination.
package daemon
