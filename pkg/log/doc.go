// Package log wraps zerolog with a process-wide logger and child-logger
// helpers. Components take their own child via WithComponent so every line
// carries a component field; per-minion paths use WithMinion.
package log
