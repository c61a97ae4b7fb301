// Package conversion turns an arbitrary kiosk document into a print-ready PDF.
//
// The Coordinator runs one conversion at a time against the shared workspace:
// it validates the request, clears any stray engine, places the input under a
// deterministic name and verifies the copy, then runs the office engine under a
// hard timeout. Recoverable engine failures (missing tool, timeout, non-zero
// exit, missing or empty output) drop to the Fallback, which lays extracted
// text out as a plain PDF and never dead-ends. Only a failure of both paths is
// reported to the caller as ErrConversionFailed.
//
// Finished artifacts are handed to a Publisher, which moves them out of the
// workspace and assigns the URL clients use to print them.
package conversion
