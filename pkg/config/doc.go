// Package config loads and validates the Overlord's configuration snapshot
// from environment variables, optionally overlaying a YAML file.
package config
