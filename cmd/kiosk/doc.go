// Package main hosts the kiosk CLI entrypoint and command graph.
//
// `kiosk serve` runs the daemon: the HTTP API, the print dispatcher, the
// stale-job reaper and the optional USB device feed. The remaining commands
// are operator tools. Job inspection and maintenance open the job database
// directly, while `jobs submit` goes through the running daemon so the
// dispatcher picks the new job up immediately.
//
// Keep this package lean: behaviour lives in the internal packages and is
// only surfaced here.
package main
