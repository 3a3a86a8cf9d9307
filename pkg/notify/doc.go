// Package notify routes chat messages as urgent one-offs or buffered
// digest items with per-category counters.
package notify
