/*
Package runtime spawns, inspects, kills, and cleans up minion containers.

The Docker implementation drives the Engine API: one container per minion,
named after the minion id, labelled overlord.minion, attached to the
overlord bridge network, with the repo target, issue number, and reporter
callback URL injected through the environment.

StubRuntime backs stub mode for tests: every operation succeeds without a
real engine and Status follows an in-memory state machine.
*/
package runtime
