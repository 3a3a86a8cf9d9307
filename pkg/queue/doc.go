// Package queue scans the external issue source for ready work items and
// applies the label transitions that move an issue through the ready,
// in-progress, in-review, and needs-attention states.
//
// The GitHub implementation degrades transient source errors to an empty
// scan with a warning; the orchestrator never sees a scan failure. Label
// transitions are best-effort with a single retry.
package queue
