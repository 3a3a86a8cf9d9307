// Package watchdog enforces minion liveness. One loop checks heartbeats and
// reconciles records against actual container state; a second, slower loop
// removes dead containers.
package watchdog
