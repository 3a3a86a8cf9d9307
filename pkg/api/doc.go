// Package api serves the HTTP control plane: the minion reporter endpoint,
// pending-answer polling, and read-only status, queue, health and metrics
// routes. It talks to the orchestrator through the narrow Core interface.
package api
