// Package chat abstracts the operator chat surface. The Slack adapter runs
// over socket mode; the stub keeps everything in memory for tests.
package chat
