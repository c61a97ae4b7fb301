// Package workspace owns the scratch directory used by the conversion
// pipeline.
//
// A Manager hands out one Handle at a time. The handle holds a flock on the
// directory so a second kiosk process (or a CLI invocation) cannot interleave
// with a running conversion. Prepare purges prior run artifacts before giving
// the handle out, inputs are placed under content-derived names, and outputs
// are located by the same deterministic scheme rather than by scanning.
package workspace
