// Package dispatch hands queued print jobs to the print spooler and writes
// their progress back to the job store.
//
// The CUPS spooler submits with lp and follows the request with lpstat, so
// progress stages are only reported when the spooler confirms them. When lp
// is not installed a synthetic spooler walks the same stages on a timer.
package dispatch
