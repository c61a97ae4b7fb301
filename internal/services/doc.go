// Package services defines shared utilities consumed by the conversion pipeline,
// the job lifecycle code and the external tool adapters.
//
// Key responsibilities:
//   - Context helpers that stamp job IDs, stage names, and correlation
//     identifiers for logging.
//   - Structured error markers plus the Wrap helper so failures keep a single
//     classification from the subprocess boundary up to the HTTP response.
//   - Recoverable, which decides whether a primary conversion failure may be
//     absorbed by the fallback converter.
//
// Subpackages wrap individual external tools behind small Executor seams so
// they can be stubbed in tests.
package services
