// Package command parses chat messages into structured commands for the
// orchestrator. Parsing is pure and independent of the chat platform.
package command
