// Package cron schedules periodic queue sweeps from a standard cron
// expression, sleeping in short slices so shutdown stays responsive.
package cron
