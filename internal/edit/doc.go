// Package edit is the channel post edit pipeline: an unbounded FIFO of edit
// jobs drained by one sequential worker that rewrites the content and applies
// it through a rate-limited remote editor.
//
// Only one remote edit is ever in flight. Failures are classified into an
// Outcome (success, retry after a delay, drop) and never escape the worker loop.
package edit
