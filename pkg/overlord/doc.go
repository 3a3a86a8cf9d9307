// Package overlord is the orchestrator core. It owns the dispatch pipeline,
// applies minion report events, answers chat commands, and runs the whole
// system lifecycle. The HTTP layer, watchdog and cron scheduler all talk to
// it through the small interfaces they declare.
package overlord
